package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/warden-dev/warden/internal/eventlog"
	"github.com/warden-dev/warden/internal/metrics"
	"github.com/warden-dev/warden/internal/service"
)

// monitor is the single owner of a running service's record. It blocks on
// process exit, applies the restart policy and retires on any terminal
// transition. The contract is one relaunch attempt per observed exit: a
// failed relaunch parks the record in failing and the loop retires, so a
// permanently broken command cannot spin the supervisor.
func (s *Supervisor) monitor(e *entry, proc *service.Proc, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		<-proc.Done()
		code := proc.ExitCode()

		e.mu.Lock()
		e.rec.LastExitCode = code
		detail := ""
		if err := proc.ExitErr(); err != nil {
			detail = err.Error()
		}
		s.opts.Events.Append(ctx, e.rec.ID, eventlog.KindExit, code, e.rec.RestartCount, detail)

		if e.stopRequested || e.rec.State == service.StatePinned || !e.rec.AutoRestart {
			s.finalizeLocked(ctx, e)
			e.mu.Unlock()
			return
		}

		e.rec.RestartCount++
		e.rec.State = service.StateStarting
		e.rec.PID = 0
		restart := e.rec.RestartCount
		s.persistLocked(ctx, e)
		s.setStateMetric(e)
		s.opts.Events.Append(ctx, e.rec.ID, eventlog.KindRestart, code, restart, "")
		backoff := e.spec.RestartInterval
		if backoff <= 0 {
			backoff = s.opts.RestartBackoff
		}
		spec := e.spec
		e.mu.Unlock()

		s.logger.Info("service exited, restarting",
			"service", spec.Name, "id", e.rec.ID, "exit_code", code, "restart", restart, "backoff", backoff)
		time.Sleep(backoff)

		e.mu.Lock()
		if e.stopRequested || e.rec.State == service.StatePinned {
			s.finalizeLocked(ctx, e)
			e.mu.Unlock()
			return
		}
		next, err := s.opts.Launcher.Launch(spec)
		if err != nil {
			// Launch failures during restart are not retried: leave the
			// record failing with the last exit code visible and retire.
			e.rec.State = service.StateFailing
			e.rec.PID = 0
			s.persistLocked(ctx, e)
			s.setStateMetric(e)
			metrics.IncLaunchFailure(spec.Name)
			s.opts.Events.Append(ctx, e.rec.ID, eventlog.KindExit, -1, restart, fmt.Sprintf("relaunch failed: %v", err))
			e.mu.Unlock()
			s.logger.Error("relaunch failed", "service", spec.Name, "id", e.rec.ID, "err", err)
			return
		}
		e.proc = next
		e.rec.PID = next.PID()
		e.rec.StartedAt = next.StartedAt()
		e.rec.State = service.StateRunning
		s.persistLocked(ctx, e)
		s.setStateMetric(e)
		metrics.IncRestart(spec.Name)
		e.mu.Unlock()

		s.logger.Info("service restarted", "service", spec.Name, "id", e.rec.ID, "pid", next.PID(), "restart", restart)
		proc = next
	}
}

// finalizeLocked moves the record to its terminal resting state after the
// last exit. A pinned record stays pinned only when the exit was unsolicited;
// an explicit stop always lands in stopped. Caller holds e.mu.
func (s *Supervisor) finalizeLocked(ctx context.Context, e *entry) {
	if e.stopRequested || e.rec.State != service.StatePinned {
		e.rec.State = service.StateStopped
	}
	e.rec.PID = 0
	e.monitorDone = nil
	s.persistLocked(ctx, e)
	s.setStateMetric(e)
	s.logger.Info("monitor retired", "service", e.rec.Name, "id", e.rec.ID, "state", e.rec.State)
}
