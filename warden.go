package warden

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	cfg "github.com/warden-dev/warden/internal/config"
	"github.com/warden-dev/warden/internal/eventlog"
	ch "github.com/warden-dev/warden/internal/eventlog/clickhouse"
	"github.com/warden-dev/warden/internal/logger"
	"github.com/warden-dev/warden/internal/metrics"
	iapi "github.com/warden-dev/warden/internal/server"
	"github.com/warden-dev/warden/internal/service"
	"github.com/warden-dev/warden/internal/store"
	"github.com/warden-dev/warden/internal/store/factory"
	"github.com/warden-dev/warden/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = service.Spec

type Record = service.Record

type State = service.State

type Status = supervisor.Status

type Event = store.Event

type Store = store.Store

type EventSink = eventlog.Sink

type LogConfig = logger.Config

type ClickHouseConfig = ch.Config

// Exported sentinel errors so embedders can branch on outcomes.
var (
	ErrNotFound       = supervisor.ErrNotFound
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrIDInUse        = supervisor.ErrIDInUse
	ErrNotTerminal    = supervisor.ErrNotTerminal
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

// Options configures an embedded supervisor. A nil Store is replaced with
// an in-process SQLite database under DataDir.
type Options struct {
	Store           store.Store
	DataDir         string
	EventSinks      []eventlog.Sink
	GracePeriod     time.Duration
	RestartBackoff  time.Duration
	ShutdownTimeout time.Duration
}

func New(opts Options) (*Supervisor, error) {
	st := opts.Store
	if st == nil {
		dir := opts.DataDir
		if dir == "" {
			dir = cfg.DefaultDataDir()
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
		var err error
		st, err = factory.NewFromDSN(filepath.Join(dir, "warden.db"))
		if err != nil {
			return nil, err
		}
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	lg := logger.New(nil, "info", false)
	inner := supervisor.New(supervisor.Options{
		Store:           st,
		Launcher:        &service.Launcher{DefaultLogDir: opts.DataDir},
		Events:          eventlog.New(st, lg, opts.EventSinks...),
		GracePeriod:     opts.GracePeriod,
		RestartBackoff:  opts.RestartBackoff,
		ShutdownTimeout: opts.ShutdownTimeout,
		Logger:          lg,
	})
	return &Supervisor{inner: inner}, nil
}

func (s *Supervisor) Reconcile(ctx context.Context) error { return s.inner.Reconcile(ctx) }
func (s *Supervisor) Start(ctx context.Context, spec Spec) (Record, error) {
	return s.inner.Start(ctx, spec)
}
func (s *Supervisor) Stop(ctx context.Context, id string, grace time.Duration) error {
	return s.inner.Stop(ctx, id, grace)
}
func (s *Supervisor) Pin(ctx context.Context, id string) error   { return s.inner.Pin(ctx, id) }
func (s *Supervisor) Unpin(ctx context.Context, id string) error { return s.inner.Unpin(ctx, id) }
func (s *Supervisor) Status(ctx context.Context, id string) (Status, error) {
	return s.inner.Status(ctx, id)
}
func (s *Supervisor) List(ctx context.Context) []Status { return s.inner.List(ctx) }
func (s *Supervisor) Events(ctx context.Context, id string, limit int) ([]Event, error) {
	return s.inner.Events(ctx, id, limit)
}
func (s *Supervisor) Purge(ctx context.Context, id string) error { return s.inner.Purge(ctx, id) }
func (s *Supervisor) Shutdown(ctx context.Context) error         { return s.inner.Shutdown(ctx) }

// OpenStore opens a record store from a DSN. Bare paths and sqlite:// DSNs
// open SQLite; postgres:// DSNs open PostgreSQL.
func OpenStore(dsn string) (store.Store, error) { return factory.NewFromDSN(dsn) }

// NewClickHouseSink builds an event sink that mirrors the event log into
// a ClickHouse table.
func NewClickHouseSink(c ClickHouseConfig) (EventSink, error) { return ch.New(c) }

func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the control API backed
// by the given supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor) *http.Server {
	return iapi.NewServer(addr, basePath, s.inner)
}

// Handler returns the control API as an http.Handler for mounting into an
// existing mux or framework.
func (s *Supervisor) Handler(basePath string) http.Handler {
	return iapi.NewRouter(s.inner, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
