package service

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a managed service.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailing  State = "failing"
	StateStopped  State = "stopped"
	StatePinned   State = "pinned"
)

// Active reports whether the state implies a live (or imminently live) OS process.
func (s State) Active() bool {
	return s == StateStarting || s == StateRunning
}

// Terminal reports whether a record in this state may be purged.
func (s State) Terminal() bool {
	return s == StateStopped || s == StatePinned || s == StateFailing
}

func (s State) Valid() bool {
	switch s {
	case StateStarting, StateRunning, StateFailing, StateStopped, StatePinned:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// Record is the unit of supervision: one named service, its launch
// specification and its last-known state. The ID is assigned at creation
// and never reused; it is the key for every control operation and for the
// record store.
type Record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Command      []string  `json:"command"`
	WorkDir      string    `json:"work_dir,omitempty"`
	Env          []string  `json:"env,omitempty"`
	State        State     `json:"state"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	RestartCount int       `json:"restart_count"`
	AutoRestart  bool      `json:"auto_restart"`
	LastExitCode int       `json:"last_exit_code"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewRecord builds a Record for the given spec with a fresh ID, in state
// starting. The caller persists and launches it.
func NewRecord(spec Spec) Record {
	now := time.Now().UTC()
	return Record{
		ID:           uuid.NewString(),
		Name:         spec.Name,
		Command:      append([]string(nil), spec.Command...),
		WorkDir:      spec.WorkDir,
		Env:          append([]string(nil), spec.Env...),
		State:        StateStarting,
		AutoRestart:  spec.AutoRestart,
		LastExitCode: -1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Spec reconstructs the launch specification from the persisted record.
func (r *Record) Spec() Spec {
	return Spec{
		Name:        r.Name,
		Command:     append([]string(nil), r.Command...),
		WorkDir:     r.WorkDir,
		Env:         append([]string(nil), r.Env...),
		AutoRestart: r.AutoRestart,
	}
}

// Uptime returns how long the current instance has been running, zero when
// the service is not running.
func (r *Record) Uptime(now time.Time) time.Duration {
	if !r.State.Active() || r.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(r.StartedAt)
}

// Clone returns a deep copy so snapshots handed to callers cannot alias the
// supervisor's working copy.
func (r *Record) Clone() Record {
	c := *r
	c.Command = append([]string(nil), r.Command...)
	c.Env = append([]string(nil), r.Env...)
	return c
}
