// Package engine rebuilds process state by deterministic replay of the
// append-only event sequence, and dispatches the side-effecting actions
// subscribed to each event.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"drover.io/drover/internal/domain"
	apperrors "drover.io/drover/internal/pkg/errors"
	"drover.io/drover/internal/pkg/logger"
	"drover.io/drover/internal/registry"
	"drover.io/drover/internal/store"
)

// StatusDeriver computes the derived status from the final process state
// and replay context. It must be total: every combination of inputs yields
// a status.
type StatusDeriver func(p *domain.Process, rc *domain.ReplayContext) domain.Status

// ReplayOptions tune a single replay pass.
type ReplayOptions struct {
	// AsOf, when set, rebuilds the state as of that instant (events with
	// occurred_at <= AsOf). Point-in-time rebuilds are pure reconstructions:
	// they are returned to the caller but never persisted and execute no
	// actions, so stored state always equals a full replay.
	AsOf time.Time

	// Force re-executes actions already marked succeeded. This is the
	// explicit, audited override path: it requires Actor and is logged.
	Force  bool
	Actor  string
	Reason string
}

// Builder is the replay engine. Given a process and its ordered events it
// reconstructs all derived attributes, collects and dispatches actions, and
// derives the final status.
type Builder struct {
	registry   *registry.Registry
	repo       store.ProcessRepository
	dispatcher *Dispatcher
	derive     StatusDeriver
	locks      *processLocks
	cache      *store.SnapshotCache
}

// NewBuilder creates a replay engine. The registry must already be frozen;
// derive must be non-nil. Both are startup configuration errors, caught
// before any command is served.
func NewBuilder(reg *registry.Registry, repo store.ProcessRepository, dispatcher *Dispatcher, derive StatusDeriver) *Builder {
	if !reg.Frozen() {
		panic("engine: registry must be frozen before building the engine")
	}
	if derive == nil {
		panic("engine: status deriver is required")
	}
	return &Builder{
		registry:   reg,
		repo:       repo,
		dispatcher: dispatcher,
		derive:     derive,
		locks:      newProcessLocks(),
	}
}

// WithSnapshotCache sets the optional read-model cache, refreshed after
// every persisted replay.
func (b *Builder) WithSnapshotCache(c *store.SnapshotCache) *Builder {
	b.cache = c
	return b
}

// Serialize runs fn while holding the per-process lock. All engine entry
// points for one process id are mutually exclusive; different ids proceed
// in parallel.
func (b *Builder) Serialize(processID string, fn func() error) error {
	unlock := b.locks.acquire(processID)
	defer unlock()
	return fn()
}

// Replay loads a process, rebuilds it and persists the result. It is the
// entry point for reprocessing (jobs, operator requests).
func (b *Builder) Replay(ctx context.Context, processID string, opts ReplayOptions) (*domain.Process, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	var p *domain.Process
	err := b.Serialize(processID, func() error {
		loaded, err := b.repo.Load(ctx, processID)
		if err != nil {
			return err
		}
		p = loaded
		return b.ReplayLoaded(ctx, p, opts)
	})
	return p, err
}

// ReplayLoaded rebuilds an already-loaded process and persists the result
// (unless AsOf is set). The caller must hold the process lock, via
// Serialize or Replay.
func (b *Builder) ReplayLoaded(ctx context.Context, p *domain.Process, opts ReplayOptions) error {
	if err := validateOptions(opts); err != nil {
		return err
	}

	rebuildErr := b.rebuild(ctx, p, opts)

	if !opts.AsOf.IsZero() {
		// Transient point-in-time snapshot; never persisted.
		return rebuildErr
	}
	if err := b.repo.Save(ctx, p); err != nil {
		return err
	}
	if b.cache != nil {
		b.cache.Put(ctx, p)
	}
	return rebuildErr
}

// rebuild implements the replay algorithm: reset, fresh context, ordered
// pass over events (mutate → collect actions → dispatch), then status
// derivation. Running it twice over an unchanged sequence yields identical
// derived state and re-executes nothing already succeeded.
func (b *Builder) rebuild(ctx context.Context, p *domain.Process, opts ReplayOptions) error {
	p.ResetDerived()
	p.SortEvents()
	rc := domain.NewReplayContext()
	transient := !opts.AsOf.IsZero()

	for _, e := range p.EventsThrough(opts.AsOf) {
		reg, ok := b.registry.Lookup(e.Type)
		if !ok {
			if len(e.Actions) > 0 {
				// A stored outcome referencing an event type the current
				// registry does not know cannot be reconciled.
				return b.flagCorruption(p, e, fmt.Errorf(
					"event type %s has recorded action outcomes but no registration", e.Type))
			}
			// Retained for audit; no mutation, no actions.
			logger.Debug("no handler registered for event type, skipping",
				zap.String("process_id", p.ID),
				zap.String("event_type", string(e.Type)),
			)
			continue
		}

		if reg.Mutate != nil {
			if err := reg.Mutate(p, e, rc); err != nil {
				return b.flagCorruption(p, e, err)
			}
		}

		if err := checkRecordedActions(e, reg); err != nil {
			return b.flagCorruption(p, e, err)
		}

		if transient {
			// A point-in-time rebuild is never persisted, so nothing may
			// execute: a discarded outcome would break at-most-once on the
			// next full replay.
			continue
		}

		for _, sub := range reg.Subscriptions {
			if b.conditionsPass(p, e, rc, sub) {
				e.MarkPending(sub.Action.Name)
			}
		}

		b.dispatcher.DispatchEvent(ctx, p, e, rc, reg.Subscriptions, opts.Force, opts.Actor)
	}

	p.Status = b.derive(p, rc)
	return nil
}

// conditionsPass evaluates every condition of one subscription. A condition
// that itself fails counts as not met and is logged; one bad condition must
// never block an entire replay.
func (b *Builder) conditionsPass(p *domain.Process, e *domain.Event, rc *domain.ReplayContext, sub registry.Subscription) bool {
	for _, cond := range sub.Conditions {
		ok, err := cond(p, e, rc)
		if err != nil {
			logger.Warn("condition evaluation failed, treating as not met",
				zap.String("process_id", p.ID),
				zap.String("event_id", e.ID),
				zap.String("action", sub.Action.Name),
				zap.Error(err),
			)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// flagCorruption marks the process rather than silently skipping it, and
// surfaces the error to the operator.
func (b *Builder) flagCorruption(p *domain.Process, e *domain.Event, cause error) error {
	detail := fmt.Sprintf("event %s (%s, position %d): %v", e.ID, e.Type, e.Position, cause)
	p.Status = domain.StatusCorrupted
	p.CorruptionDetail = detail
	logger.Error("replay corruption detected",
		zap.String("process_id", p.ID),
		zap.String("event_id", e.ID),
		zap.String("detail", detail),
	)
	return apperrors.ErrReplayCorruptionf(p.ID, detail)
}

// checkRecordedActions verifies stored outcomes against the current
// registration: an outcome for an action no subscription declares means the
// registry and the stored sequence have diverged.
func checkRecordedActions(e *domain.Event, reg *registry.Registration) error {
	names := make(map[string]struct{}, len(reg.Subscriptions))
	for _, s := range reg.Subscriptions {
		names[s.Action.Name] = struct{}{}
	}
	for _, rec := range e.Actions {
		if _, ok := names[rec.Name]; !ok {
			return fmt.Errorf("recorded outcome for unknown action %q", rec.Name)
		}
	}
	return nil
}

func validateOptions(opts ReplayOptions) error {
	if opts.Force && opts.Actor == "" {
		return apperrors.BadRequest(apperrors.CodeForceUnaudited,
			"forced replay requires an actor for the audit trail")
	}
	return nil
}
