package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a running warden daemon over its HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultBaseURL is where `warden serve` listens unless configured otherwise.
const DefaultBaseURL = "http://127.0.0.1:7557/api"

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a non-2xx response from the daemon. Kind is one of the
// caller-facing error kinds: not-found, already-running, launch-error,
// invalid-arguments, not-terminal, shutdown-timeout.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("daemon: %s (%s)", e.Message, e.Kind)
	}
	return fmt.Sprintf("daemon: %s (HTTP %d)", e.Message, e.StatusCode)
}

// Reachable reports whether the daemon answers at all.
func (c *Client) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/services", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// StartSpec mirrors service.Spec for wire use.
type StartSpec struct {
	Name            string        `json:"name"`
	Command         []string      `json:"command"`
	WorkDir         string        `json:"work_dir,omitempty"`
	Env             []string      `json:"env,omitempty"`
	AutoRestart     bool          `json:"auto_restart"`
	RestartInterval time.Duration `json:"restart_interval,omitempty"`
}

// Status mirrors the daemon's status payload.
type Status struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Command      []string      `json:"command"`
	WorkDir      string        `json:"work_dir,omitempty"`
	State        string        `json:"state"`
	PID          int           `json:"pid,omitempty"`
	StartedAt    time.Time     `json:"started_at,omitzero"`
	RestartCount int           `json:"restart_count"`
	AutoRestart  bool          `json:"auto_restart"`
	LastExitCode int           `json:"last_exit_code"`
	Alive        bool          `json:"alive"`
	Uptime       time.Duration `json:"uptime"`
}

// Event mirrors one event log entry.
type Event struct {
	ID        int64     `json:"id"`
	ServiceID string    `json:"service_id"`
	Kind      string    `json:"kind"`
	ExitCode  int       `json:"exit_code"`
	Restart   int       `json:"restart"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Start registers and launches a service; returns the created record.
func (c *Client) Start(ctx context.Context, spec StartSpec) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodPost, "/services", spec, &st)
	return st, err
}

// List returns all service statuses.
func (c *Client) List(ctx context.Context) ([]Status, error) {
	var out []Status
	err := c.do(ctx, http.MethodGet, "/services", nil, &out)
	return out, err
}

// Status returns a single service status.
func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(id), nil, &st)
	return st, err
}

// Events returns the most recent event log entries for a service.
func (c *Client) Events(ctx context.Context, id string, limit int) ([]Event, error) {
	p := "/services/" + url.PathEscape(id) + "/events"
	if limit > 0 {
		p += fmt.Sprintf("?limit=%d", limit)
	}
	var out []Event
	err := c.do(ctx, http.MethodGet, p, nil, &out)
	return out, err
}

// Stop stops a service; a zero grace uses the daemon's default.
func (c *Client) Stop(ctx context.Context, id string, grace time.Duration) error {
	p := "/services/" + url.PathEscape(id)
	if grace > 0 {
		p += "?grace=" + url.QueryEscape(grace.String())
	}
	return c.do(ctx, http.MethodDelete, p, nil, nil)
}

// Pin disables auto-restart without touching the process.
func (c *Client) Pin(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id)+"/pin", nil, nil)
}

// Unpin reverses a pin.
func (c *Client) Unpin(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id)+"/unpin", nil, nil)
}

// Purge deletes a terminal record and its events.
func (c *Client) Purge(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/services/"+url.PathEscape(id)+"/record", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(data)}
		var wire struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &wire) == nil && wire.Error != "" {
			apiErr.Message = wire.Error
			apiErr.Kind = wire.Kind
		}
		return apiErr
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
