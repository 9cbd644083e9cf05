package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"drover.io/drover/internal/domain"
	"drover.io/drover/internal/pkg/logger"
	"drover.io/drover/internal/pkg/worker"
	"drover.io/drover/internal/registry"
)

// Outcome is the result type every action invocation produces. No failure
// raised by an action body crosses this boundary as an error or panic; it
// is converted here and recorded on the event.
type Outcome struct {
	Succeeded bool
	Err       string
}

// Dispatcher executes the pending actions attached to an event, isolating
// each one: a failing, panicking or hanging action is recorded as a failed
// outcome and never prevents sibling actions or subsequent events from
// being processed.
type Dispatcher struct {
	pool    *worker.Pool
	timeout time.Duration
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. Action bodies run on the given pool
// (nil runs them on plain goroutines, used by tests) bounded by timeout.
func NewDispatcher(pool *worker.Pool, timeout time.Duration) *Dispatcher {
	return &Dispatcher{pool: pool, timeout: timeout, now: time.Now}
}

// DispatchEvent executes all actions pending on e in subscription
// declaration order, updating the event's action records in place.
//
// Actions already marked succeeded are skipped (at-most-once), unless force
// is set: then they re-execute and the record is stamped with the forcing
// actor for audit. Failed actions stay pending-equivalent and are retried
// on every replay until they succeed.
func (d *Dispatcher) DispatchEvent(
	ctx context.Context,
	p *domain.Process,
	e *domain.Event,
	rc *domain.ReplayContext,
	subs []registry.Subscription,
	force bool,
	actor string,
) {
	for _, sub := range subs {
		rec := e.Action(sub.Action.Name)
		if rec == nil {
			// Conditions did not pass for this replay; nothing recorded.
			continue
		}
		forced := false
		if rec.Status == domain.ActionSucceeded {
			if !force {
				continue
			}
			forced = true
			logger.Warn("forcing re-execution of succeeded action",
				zap.String("process_id", p.ID),
				zap.String("event_id", e.ID),
				zap.String("action", sub.Action.Name),
				zap.String("actor", actor),
			)
		}

		out := d.Execute(ctx, sub.Action, p, e, rc)

		executedAt := d.now().UTC()
		rec.Attempts++
		rec.ExecutedAt = &executedAt
		if forced {
			rec.ForcedBy = actor
		}
		if out.Succeeded {
			rec.Status = domain.ActionSucceeded
			rec.Error = ""
			logger.Info("action succeeded",
				zap.String("process_id", p.ID),
				zap.String("event_id", e.ID),
				zap.String("action", sub.Action.Name),
				zap.Int("attempts", rec.Attempts),
			)
		} else {
			rec.Status = domain.ActionFailed
			rec.Error = out.Err
			logger.Error("action failed",
				zap.String("process_id", p.ID),
				zap.String("event_id", e.ID),
				zap.String("action", sub.Action.Name),
				zap.String("error", out.Err),
			)
		}
	}
}

// Execute runs one action with (process snapshot, event, context) under the
// configured timeout. The action receives a deep copy of the process and a
// frozen copy of the replay context: a misbehaving body cannot corrupt
// derived state, and one that outlives its timeout cannot race the mutators
// of later events.
func (d *Dispatcher) Execute(
	ctx context.Context,
	act registry.Action,
	p *domain.Process,
	e *domain.Event,
	rc *domain.ReplayContext,
) Outcome {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	snapshot := p.Clone()
	frozen := rc.Snapshot()
	done := make(chan error, 1)
	run := func(taskCtx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("action panicked: %v", r)
			}
		}()
		done <- act.Run(taskCtx, snapshot, e, frozen)
	}

	if d.pool != nil {
		if err := d.pool.Submit(runCtx, run); err != nil {
			return Outcome{Err: fmt.Sprintf("submit action: %v", err)}
		}
	} else {
		go run(runCtx)
	}

	select {
	case err := <-done:
		if err != nil {
			return Outcome{Err: err.Error()}
		}
		return Outcome{Succeeded: true}
	case <-runCtx.Done():
		// The body keeps the goroutine until it notices cancellation; the
		// replay pass moves on regardless.
		return Outcome{Err: fmt.Sprintf("action timed out after %s", d.timeout)}
	}
}
