package eventlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/warden-dev/warden/internal/store"
)

// Event kinds recorded per service.
const (
	KindStart          = "start"
	KindExit           = "exit"
	KindRestart        = "restart"
	KindStop           = "stop"
	KindPin            = "pin"
	KindUnpin          = "unpin"
	KindKillEscalation = "kill-escalation"
	KindPurge          = "purge"
)

// Sink is an optional destination for lifecycle events beyond the record
// store (analytics/statistics systems). Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e store.Event) error
}

// Log appends events to the record store and fans them out to sinks.
// Append is best-effort: a failing store or sink is logged as a warning,
// never propagated, since the in-memory state stays authoritative.
type Log struct {
	st     store.Store
	sinks  []Sink
	logger *slog.Logger
}

func New(st store.Store, logger *slog.Logger, sinks ...Sink) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{st: st, sinks: sinks, logger: logger}
}

// Append records one event for a service.
func (l *Log) Append(ctx context.Context, serviceID, kind string, exitCode, restart int, detail string) {
	e := store.Event{
		ServiceID: serviceID,
		Kind:      kind,
		ExitCode:  exitCode,
		Restart:   restart,
		Detail:    detail,
		At:        time.Now().UTC(),
	}
	if l.st != nil {
		if err := l.st.AppendEvent(ctx, e); err != nil {
			l.logger.Warn("event append failed", "service", serviceID, "kind", kind, "err", err)
		}
	}
	for _, s := range l.sinks {
		if err := s.Send(ctx, e); err != nil {
			l.logger.Warn("event sink failed", "service", serviceID, "kind", kind, "err", err)
		}
	}
}

// Events returns the most recent events for a service, newest first.
func (l *Log) Events(ctx context.Context, serviceID string, limit int) ([]store.Event, error) {
	if l.st == nil {
		return nil, nil
	}
	return l.st.Events(ctx, serviceID, limit)
}
