package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/warden-dev/warden/internal/eventlog"
	"github.com/warden-dev/warden/internal/metrics"
	"github.com/warden-dev/warden/internal/service"
	"github.com/warden-dev/warden/internal/store"
)

const (
	DefaultGracePeriod     = 5 * time.Second
	DefaultRestartBackoff  = 1 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	// killConfirmWait bounds how long a stop waits for the reaper after a
	// forced kill before giving up on that child.
	killConfirmWait = 2 * time.Second
)

// Options configures a Supervisor.
type Options struct {
	Store           store.Store
	Launcher        *service.Launcher
	Events          *eventlog.Log
	GracePeriod     time.Duration
	RestartBackoff  time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Supervisor owns the map of managed services. Each running service has
// exactly one monitor goroutine; control operations serialize on the
// per-entry mutex, so a record always has a single writer at a time.
type Supervisor struct {
	mu      sync.RWMutex
	entries map[string]*entry
	opts    Options
	logger  *slog.Logger
}

// entry pairs a persisted record with its live process handle.
type entry struct {
	mu            sync.Mutex
	rec           service.Record
	spec          service.Spec
	proc          *service.Proc
	stopRequested bool
	monitorDone   chan struct{} // closed when the monitor retires; nil when no monitor
}

// Status is a record snapshot merged with liveness for display.
type Status struct {
	service.Record
	Alive  bool          `json:"alive"`
	Uptime time.Duration `json:"uptime"`
}

func New(opts Options) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = DefaultRestartBackoff
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Launcher == nil {
		opts.Launcher = &service.Launcher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = eventlog.New(opts.Store, opts.Logger)
	}
	return &Supervisor{
		entries: make(map[string]*entry),
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Reconcile loads all persisted records and adopts them into the active
// map. Records left starting/running by a prior supervisor run are marked
// stopped: orphaned processes are never reattached. A failure to read the
// store is fatal and reported before any service is started.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	if s.opts.Store == nil {
		return nil
	}
	recs, err := s.opts.Store.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if rec.State.Active() {
			if rec.PID != 0 && service.Alive(rec.PID) {
				s.logger.Warn("orphaned process left running, not reattaching",
					"service", rec.Name, "id", rec.ID, "pid", rec.PID)
			}
			rec.State = service.StateStopped
			rec.PID = 0
			if err := s.opts.Store.PutRecord(ctx, rec); err != nil {
				s.logger.Warn("reconcile write failed", "id", rec.ID, "err", err)
			}
		}
		e := &entry{rec: rec, spec: rec.Spec()}
		s.entries[rec.ID] = e
		metrics.SetCurrentState(rec.Name, rec.State.String(), true)
	}
	return nil
}

// Start creates a new service record and launches its process. On launch
// success the record is running with a pid and a monitor goroutine owns it;
// on launch failure the record is parked in failing, no monitor is spawned
// and the *service.LaunchError is returned. There is no implicit retry for
// a launch-time failure.
func (s *Supervisor) Start(ctx context.Context, spec service.Spec) (service.Record, error) {
	if err := spec.Validate(); err != nil {
		return service.Record{}, err
	}
	if spec.ID != "" {
		if e := s.get(spec.ID); e != nil {
			e.mu.Lock()
			active := e.rec.State.Active()
			e.mu.Unlock()
			if active {
				return service.Record{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, spec.ID)
			}
			// Ids are never reused: replacing a terminal record here would
			// wipe its restart history. The caller purges first.
			return service.Record{}, fmt.Errorf("%w: %s", ErrIDInUse, spec.ID)
		}
	}

	rec := service.NewRecord(spec)
	if spec.ID != "" {
		rec.ID = spec.ID
	}
	e := &entry{rec: rec, spec: spec}

	s.mu.Lock()
	s.entries[rec.ID] = e
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	s.persistLocked(ctx, e)

	proc, err := s.opts.Launcher.Launch(spec)
	if err != nil {
		e.rec.State = service.StateFailing
		s.persistLocked(ctx, e)
		s.setStateMetric(e)
		metrics.IncLaunchFailure(spec.Name)
		s.logger.Error("launch failed", "service", spec.Name, "id", rec.ID, "err", err)
		return e.rec.Clone(), err
	}

	e.proc = proc
	e.rec.PID = proc.PID()
	e.rec.StartedAt = proc.StartedAt()
	e.rec.State = service.StateRunning
	e.monitorDone = make(chan struct{})
	s.persistLocked(ctx, e)
	s.setStateMetric(e)
	metrics.IncStart(spec.Name)
	s.opts.Events.Append(ctx, e.rec.ID, eventlog.KindStart, -1, e.rec.RestartCount, "")
	s.logger.Info("service started", "service", spec.Name, "id", rec.ID, "pid", proc.PID())

	go s.monitor(e, proc, e.monitorDone)
	return e.rec.Clone(), nil
}

// Stop terminates a service: auto-restart is disabled, the process group
// gets SIGTERM, then SIGKILL once the grace period elapses. Idempotent;
// stopping an already stopped service succeeds.
func (s *Supervisor) Stop(ctx context.Context, id string, grace time.Duration) error {
	e := s.get(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if grace <= 0 {
		grace = s.opts.GracePeriod
	}

	e.mu.Lock()
	e.stopRequested = true
	e.rec.AutoRestart = false
	proc := e.proc
	mon := e.monitorDone
	name := e.rec.Name
	if proc == nil || !proc.Alive() {
		if e.rec.State != service.StateStopped {
			e.rec.State = service.StateStopped
			e.rec.PID = 0
			s.persistLocked(ctx, e)
			s.setStateMetric(e)
		}
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := proc.Terminate(); err != nil {
		s.logger.Warn("terminate failed", "service", name, "id", id, "err", err)
	}
	killed := false
	select {
	case <-proc.Done():
	case <-time.After(grace):
		killed = true
		_ = proc.Kill()
		metrics.IncKillEscalation(name)
		s.opts.Events.Append(ctx, id, eventlog.KindKillEscalation, -1, 0, "grace period elapsed")
		s.logger.Warn("escalated to SIGKILL", "service", name, "id", id, "grace", grace)
		select {
		case <-proc.Done():
		case <-time.After(killConfirmWait):
			return fmt.Errorf("%w: %s", ErrShutdownTimeout, id)
		}
	}

	// The monitor owns the record; wait for it to observe the exit and
	// finalize the state before reporting success.
	if mon != nil {
		select {
		case <-mon:
		case <-time.After(killConfirmWait):
		}
	}
	detail := ""
	if killed {
		detail = "killed after grace period"
	}
	s.opts.Events.Append(ctx, id, eventlog.KindStop, proc.ExitCode(), 0, detail)
	metrics.IncStop(name)
	return nil
}

// Pin marks a service pinned: auto-restart is disabled but the process is
// left untouched. Only an explicit Unpin reverses it.
func (s *Supervisor) Pin(ctx context.Context, id string) error {
	e := s.get(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State == service.StatePinned {
		return nil
	}
	e.rec.State = service.StatePinned
	e.rec.AutoRestart = false
	s.persistLocked(ctx, e)
	s.setStateMetric(e)
	s.opts.Events.Append(ctx, id, eventlog.KindPin, -1, e.rec.RestartCount, "")
	s.logger.Info("service pinned", "service", e.rec.Name, "id", id)
	return nil
}

// Unpin reverses a pin: auto-restart is re-enabled and the state reflects
// whether the process is still alive.
func (s *Supervisor) Unpin(ctx context.Context, id string) error {
	e := s.get(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.State != service.StatePinned {
		return nil
	}
	e.rec.AutoRestart = true
	e.spec.AutoRestart = true
	if e.proc != nil && e.proc.Alive() {
		e.rec.State = service.StateRunning
	} else {
		e.rec.State = service.StateStopped
		e.rec.PID = 0
	}
	s.persistLocked(ctx, e)
	s.setStateMetric(e)
	s.opts.Events.Append(ctx, id, eventlog.KindUnpin, -1, e.rec.RestartCount, "")
	s.logger.Info("service unpinned", "service", e.rec.Name, "id", id)
	return nil
}

// Status returns a single record merged with a liveness probe and uptime.
func (s *Supervisor) Status(_ context.Context, id string) (Status, error) {
	e := s.get(id)
	if e == nil {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.status(), nil
}

// List returns a consistent per-record snapshot of all services. Different
// records may reflect different instants; order is stable (creation order).
func (s *Supervisor) List(_ context.Context) []Status {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Events returns the most recent event log entries for a service.
func (s *Supervisor) Events(ctx context.Context, id string, limit int) ([]store.Event, error) {
	if e := s.get(id); e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.opts.Events.Events(ctx, id, limit)
}

// Purge deletes a terminal record and its event history.
func (s *Supervisor) Purge(ctx context.Context, id string) error {
	e := s.get(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	terminal := e.rec.State.Terminal()
	name := e.rec.Name
	e.mu.Unlock()
	if !terminal {
		return fmt.Errorf("%w: %s", ErrNotTerminal, id)
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.DeleteEvents(ctx, id); err != nil {
			return fmt.Errorf("purge events: %w", err)
		}
		if err := s.opts.Store.DeleteRecord(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("purge record: %w", err)
		}
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	s.logger.Info("service purged", "service", name, "id", id)
	return nil
}

// Shutdown stops every active service concurrently, bounded by the global
// shutdown timeout. A misbehaving child never hangs the supervisor.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id, e := range s.entries {
		e.mu.Lock()
		active := e.rec.State.Active() || (e.proc != nil && e.proc.Alive())
		e.mu.Unlock()
		if active {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Stop(ctx, id, s.opts.GracePeriod); err != nil {
				s.logger.Warn("shutdown stop failed", "id", id, "err", err)
			}
		}(id)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-time.After(s.opts.ShutdownTimeout):
		return ErrShutdownTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) get(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// persistLocked writes the entry's record through the store. The caller
// holds e.mu. A write failure is logged, never propagated: in-memory state
// stays authoritative until the next successful write.
func (s *Supervisor) persistLocked(ctx context.Context, e *entry) {
	if s.opts.Store == nil {
		return
	}
	e.rec.UpdatedAt = time.Now().UTC()
	if err := s.opts.Store.PutRecord(ctx, e.rec); err != nil {
		s.logger.Warn("record write failed", "service", e.rec.Name, "id", e.rec.ID, "err", err)
	}
}

func (s *Supervisor) setStateMetric(e *entry) {
	for _, st := range []service.State{service.StateStarting, service.StateRunning, service.StateFailing, service.StateStopped, service.StatePinned} {
		metrics.SetCurrentState(e.rec.Name, st.String(), st == e.rec.State)
	}
}

func (e *entry) status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	alive := e.proc != nil && e.proc.Alive()
	return Status{
		Record: e.rec.Clone(),
		Alive:  alive,
		Uptime: e.rec.Uptime(time.Now().UTC()),
	}
}
