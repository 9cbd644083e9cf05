// Package registry maps event types to build-mutation handlers and their
// subscribed actions. The mapping is assembled once at startup, frozen, and
// then shared read-only across all workers.
package registry

import (
	"context"
	"fmt"

	"drover.io/drover/internal/domain"
	apperrors "drover.io/drover/internal/pkg/errors"
)

// Mutator updates process attributes and replay-context flags for one
// event. It must be a pure function of (prior state, event, context): no
// I/O, no external calls. Side effects belong exclusively to actions.
// A non-nil error means the stored event cannot be interpreted and flags
// the process as corrupted.
type Mutator func(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error

// Condition gates whether a subscribed action runs for an event. It must
// be side-effect-free. An error is treated as "condition not met" and
// logged, never propagated.
type Condition func(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) (bool, error)

// ActionFunc performs one external side effect for an event. Failures
// (returned or panicked) are contained at the dispatcher boundary.
type ActionFunc func(ctx context.Context, p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error

// Action is a named side-effecting operation.
type Action struct {
	Name string
	Run  ActionFunc
}

// Subscription attaches an action, gated by zero or more conditions, to an
// event type. Order of declaration is execution order.
type Subscription struct {
	Action     Action
	Conditions []Condition
}

// Registration is the full handler set for one event type.
type Registration struct {
	Type          domain.EventType
	Mutate        Mutator
	Subscriptions []Subscription
}

// ActionNames returns the subscribed action names in declaration order.
func (r *Registration) ActionNames() []string {
	names := make([]string, len(r.Subscriptions))
	for i, s := range r.Subscriptions {
		names[i] = s.Action.Name
	}
	return names
}

// Registry is the static event-type → handler table.
type Registry struct {
	regs   map[domain.EventType]*Registration
	frozen bool
}

// New creates an empty, mutable registry.
func New() *Registry {
	return &Registry{regs: make(map[domain.EventType]*Registration)}
}

// Register associates an event type with its mutation function and action
// subscriptions. Registering the same type twice, or registering after
// Freeze, is a configuration error and fails at startup, not at replay.
func (r *Registry) Register(t domain.EventType, mutate Mutator, subs ...Subscription) error {
	if r.frozen {
		return apperrors.New(apperrors.CodeRegistryFrozen,
			fmt.Sprintf("cannot register %s: registry is frozen", t), 0)
	}
	if _, exists := r.regs[t]; exists {
		return apperrors.New(apperrors.CodeDuplicateHandler,
			fmt.Sprintf("handler for %s already registered", t), 0)
	}
	seen := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		if s.Action.Name == "" || s.Action.Run == nil {
			return apperrors.New(apperrors.CodeDuplicateHandler,
				fmt.Sprintf("subscription on %s has an unnamed or nil action", t), 0)
		}
		if _, dup := seen[s.Action.Name]; dup {
			return apperrors.New(apperrors.CodeDuplicateHandler,
				fmt.Sprintf("action %s subscribed twice to %s", s.Action.Name, t), 0)
		}
		seen[s.Action.Name] = struct{}{}
	}
	r.regs[t] = &Registration{Type: t, Mutate: mutate, Subscriptions: subs}
	return nil
}

// Freeze makes the registry read-only. After Freeze it is safe to share
// across goroutines without locking.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Lookup returns the registration for an event type. A miss is not an
// error: unregistered events are retained for audit and replay skips them.
func (r *Registry) Lookup(t domain.EventType) (*Registration, bool) {
	reg, ok := r.regs[t]
	return reg, ok
}

// Types returns all registered event types.
func (r *Registry) Types() []domain.EventType {
	out := make([]domain.EventType, 0, len(r.regs))
	for t := range r.regs {
		out = append(out, t)
	}
	return out
}
