package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/warden-dev/warden/pkg/client"
)

// Exit codes reported by the CLI.
const (
	exitOK            = 0
	exitNotFound      = 1
	exitLaunchFailure = 2
	exitInvalidArgs   = 3
	exitError         = 4
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps daemon API errors onto the CLI's exit code contract.
func exitCodeFor(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case "not-found":
			return exitNotFound
		case "launch-error":
			return exitLaunchFailure
		case "invalid-arguments":
			return exitInvalidArgs
		}
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		return exitInvalidArgs
	}
	return exitError
}

// usageError marks locally detected argument problems so they exit with
// the invalid-arguments code rather than the generic one.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// GlobalFlags holds persistent flags shared by every client command.
type GlobalFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	WorkDir         string
	Env             []string
	NoRestart       bool
	RestartInterval time.Duration
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	Grace time.Duration
}

// EventsFlags holds flags for the events command.
type EventsFlags struct {
	Limit int
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Listen     string
	DataDir    string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	stopFlags := &StopFlags{}
	eventsFlags := &EventsFlags{}
	serveFlags := &ServeFlags{}

	wardenCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createStartCommand(wardenCommand, startFlags),
		createListCommand(wardenCommand),
		createStatusCommand(wardenCommand),
		createStopCommand(wardenCommand, stopFlags),
		createPinCommand(wardenCommand),
		createUnpinCommand(wardenCommand),
		createPurgeCommand(wardenCommand),
		createEventsCommand(wardenCommand, eventsFlags),
		createServeCommand(serveFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "warden",
		Short:         "Service supervision tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Warden launches, monitors and restarts long-running services,
locally or via a remote daemon connection.

Examples:
  warden serve                               # Start daemon
  warden start web -- python app.py
  warden status web
  warden stop web --grace=10s
  warden list --api-url=http://remote:7557/api`,
	}

	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default $WARDEN_API_URL or "+client.DefaultBaseURL+")")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return root
}

func createStartCommand(wardenCommand command, flags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <name> -- <command> [args...]",
		Short: "Register and launch a service",
		Long: `Register a named service and launch it under supervision.
Everything after -- is the command line to run.

Examples:
  warden start web -- python app.py
  warden start api --dir=/srv/api --env=PORT=9000 -- ./api-server
  warden start batch --no-restart -- ./run-batch.sh`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Start(*flags, args[0], args[1:])
		},
	}
	cmd.Flags().StringVar(&flags.WorkDir, "dir", "", "working directory (absolute path)")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "extra KEY=VALUE environment entries (repeatable)")
	cmd.Flags().BoolVar(&flags.NoRestart, "no-restart", false, "do not relaunch the service when it exits")
	cmd.Flags().DurationVar(&flags.RestartInterval, "restart-interval", 0, "delay before relaunch after an exit")
	return cmd
}

func createListCommand(wardenCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all supervised services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.List()
		},
	}
}

func createStatusCommand(wardenCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id|name>",
		Short: "Show one service's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Status(args[0])
		},
	}
}

func createStopCommand(wardenCommand command, flags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <id|name>",
		Short: "Stop a service",
		Long: `Stop a running service. The process group receives SIGTERM and,
after the grace period, SIGKILL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Stop(args[0], *flags)
		},
	}
	cmd.Flags().DurationVar(&flags.Grace, "grace", 0, "grace period before SIGKILL (default daemon setting)")
	return cmd
}

func createPinCommand(wardenCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <id|name>",
		Short: "Pin a service so it is never auto-restarted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Pin(args[0])
		},
	}
}

func createUnpinCommand(wardenCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <id|name>",
		Short: "Release a pinned service back to normal supervision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Unpin(args[0])
		},
	}
}

func createPurgeCommand(wardenCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <id|name>",
		Short: "Delete a stopped service's record and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Purge(args[0])
		},
	}
}

func createEventsCommand(wardenCommand command, flags *EventsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <id|name>",
		Short: "Show a service's lifecycle events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wardenCommand.Events(args[0], *flags)
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 0, "maximum number of events (default daemon setting)")
	return cmd
}

func createServeCommand(flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the warden daemon",
		Long: `Start the warden daemon: open the record store, reconcile stale
records, launch configured services and serve the control API.

Examples:
  warden serve
  warden serve /etc/warden/warden.toml
  warden serve --listen=0.0.0.0:7557 --data-dir=/var/lib/warden`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runServe(flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "control API listen address")
	cmd.Flags().StringVar(&flags.DataDir, "data-dir", "", "state directory (default $WARDEN_DATA_DIR)")
	return cmd
}
