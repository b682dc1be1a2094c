package store

import (
	"context"
	"errors"
	"time"

	"github.com/warden-dev/warden/internal/service"
)

// ErrNotFound is returned when an operation references an unknown service id.
var ErrNotFound = errors.New("record not found")

// Event is one append-only entry in a service's event log: a restart or an
// administrative action, kept for postmortem diagnosis.
type Event struct {
	ID        int64     `json:"id"`
	ServiceID string    `json:"service_id"`
	Kind      string    `json:"kind"`
	ExitCode  int       `json:"exit_code"`
	Restart   int       `json:"restart"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Store is the durable table of service records plus their event logs,
// keyed by id and surviving supervisor restarts. PutRecord must be atomic
// with respect to concurrent reads: a reader never observes a partially
// written record.
type Store interface {
	EnsureSchema(ctx context.Context) error
	PutRecord(ctx context.Context, rec service.Record) error
	GetRecord(ctx context.Context, id string) (service.Record, error)
	ListRecords(ctx context.Context) ([]service.Record, error)
	DeleteRecord(ctx context.Context, id string) error
	AppendEvent(ctx context.Context, e Event) error
	Events(ctx context.Context, serviceID string, limit int) ([]Event, error)
	DeleteEvents(ctx context.Context, serviceID string) error
	Close() error
}
