package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/warden-dev/warden/pkg/client"
)

type command struct {
	global *GlobalFlags
}

// apiClient builds the daemon client from flags and WARDEN_API_URL.
func (c command) apiClient() (*client.Client, error) {
	apiURL := c.global.APIUrl
	if apiURL == "" {
		apiURL = os.Getenv("WARDEN_API_URL")
	}
	if apiURL == "" {
		apiURL = client.DefaultBaseURL
	}
	cl := client.New(client.Config{BaseURL: apiURL, Timeout: c.global.APITimeout})
	ctx, cancel := context.WithTimeout(context.Background(), c.global.APITimeout)
	defer cancel()
	if !cl.Reachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'warden serve'", apiURL)
	}
	return cl, nil
}

// resolve turns a name into a service ID. IDs pass through untouched; a
// name matching several services is ambiguous.
func resolve(ctx context.Context, cl *client.Client, ref string) (string, error) {
	if _, err := cl.Status(ctx, ref); err == nil {
		return ref, nil
	}
	all, err := cl.List(ctx)
	if err != nil {
		return "", err
	}
	var ids []string
	for _, st := range all {
		if st.Name == ref {
			ids = append(ids, st.ID)
		}
	}
	switch len(ids) {
	case 0:
		return "", &client.APIError{StatusCode: 404, Kind: "not-found", Message: "no service named " + ref}
	case 1:
		return ids[0], nil
	default:
		return "", usageErrorf("name %q matches %d services; use an ID: %s", ref, len(ids), strings.Join(ids, ", "))
	}
}

func (c command) Start(f StartFlags, name string, argv []string) error {
	if f.WorkDir != "" && !filepath.IsAbs(f.WorkDir) {
		return usageErrorf("--dir must be an absolute path, got %q", f.WorkDir)
	}
	for _, kv := range f.Env {
		if !strings.Contains(kv, "=") {
			return usageErrorf("--env entries must be KEY=VALUE, got %q", kv)
		}
	}

	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.global.APITimeout)
	defer cancel()

	st, err := cl.Start(ctx, client.StartSpec{
		Name:            name,
		Command:         argv,
		WorkDir:         f.WorkDir,
		Env:             f.Env,
		AutoRestart:     !f.NoRestart,
		RestartInterval: f.RestartInterval,
	})
	if err != nil {
		return err
	}
	fmt.Printf("started %s (id=%s pid=%d)\n", st.Name, st.ID, st.PID)
	return nil
}

func (c command) List() error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.global.APITimeout)
	defer cancel()

	all, err := cl.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATE\tPID\tUPTIME\tRESTARTS")
	for _, st := range all {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			st.ID, st.Name, st.State, formatPID(st), formatUptime(st), st.RestartCount)
	}
	return w.Flush()
}

func (c command) Status(ref string) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.global.APITimeout)
	defer cancel()

	id, err := resolve(ctx, cl, ref)
	if err != nil {
		return err
	}
	st, err := cl.Status(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("id:            %s\n", st.ID)
	fmt.Printf("name:          %s\n", st.Name)
	fmt.Printf("command:       %s\n", strings.Join(st.Command, " "))
	if st.WorkDir != "" {
		fmt.Printf("work dir:      %s\n", st.WorkDir)
	}
	fmt.Printf("state:         %s\n", st.State)
	if st.Alive {
		fmt.Printf("pid:           %d\n", st.PID)
		fmt.Printf("uptime:        %s\n", st.Uptime.Round(time.Second))
	}
	fmt.Printf("auto restart:  %t\n", st.AutoRestart)
	fmt.Printf("restarts:      %d\n", st.RestartCount)
	if st.LastExitCode >= 0 {
		fmt.Printf("last exit:     %d\n", st.LastExitCode)
	}
	return nil
}

func (c command) Stop(ref string, f StopFlags) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	// give the daemon room for the grace period plus escalation
	wait := c.global.APITimeout
	if f.Grace > 0 {
		wait += f.Grace
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait+10*time.Second)
	defer cancel()

	id, err := resolve(ctx, cl, ref)
	if err != nil {
		return err
	}
	if err := cl.Stop(ctx, id, f.Grace); err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", ref)
	return nil
}

func (c command) Pin(ref string) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.global.APITimeout)
	defer cancel()

	id, err := resolve(ctx, cl, ref)
	if err != nil {
		return err
	}
	if err := cl.Pin(ctx, id); err != nil {
		return err
	}
	fmt.Printf("pinned %s\n", ref)
	return nil
}

func (c command) Unpin(ref string) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.global.APITimeout)
	defer cancel()

	id, err := resolve(ctx, cl, ref)
	if err != nil {
		return err
	}
	if err := cl.Unpin(ctx, id); err != nil {
		return err
	}
	fmt.Printf("unpinned %s\n", ref)
	return nil
}

func (c command) Purge(ref string) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.global.APITimeout)
	defer cancel()

	id, err := resolve(ctx, cl, ref)
	if err != nil {
		return err
	}
	if err := cl.Purge(ctx, id); err != nil {
		return err
	}
	fmt.Printf("purged %s\n", ref)
	return nil
}

func (c command) Events(ref string, f EventsFlags) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.global.APITimeout)
	defer cancel()

	id, err := resolve(ctx, cl, ref)
	if err != nil {
		return err
	}
	evts, err := cl.Events(ctx, id, f.Limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AT\tKIND\tEXIT\tRESTART\tDETAIL")
	for _, e := range evts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			e.At.Local().Format(time.RFC3339), e.Kind, e.ExitCode, e.Restart, e.Detail)
	}
	return w.Flush()
}

func formatPID(st client.Status) string {
	if !st.Alive {
		return "-"
	}
	return fmt.Sprintf("%d", st.PID)
}

func formatUptime(st client.Status) string {
	if !st.Alive {
		return "-"
	}
	return st.Uptime.Round(time.Second).String()
}
