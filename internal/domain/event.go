package domain

import (
	"time"
)

// EventType tags an event with one member of the fixed, enumerated set a
// process kind understands. Concrete values live with the process domain
// (see internal/fulfillment).
type EventType string

// ActionStatus is the execution state of an action attached to an event.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
)

// ActionRecord is the persisted outcome of one action on one event.
// Records are the only part of an event that may be updated in place.
type ActionRecord struct {
	Name       string       `json:"name"`
	Status     ActionStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	Attempts   int          `json:"attempts,omitempty"`
	ExecutedAt *time.Time   `json:"executed_at,omitempty"`

	// ForcedBy records the actor of a forced re-execution of an action
	// that had already succeeded. Empty for normal executions.
	ForcedBy string `json:"forced_by,omitempty"`
}

// Event is an immutable fact recorded against exactly one process.
// Type, Payload, OccurredAt and Position never change after append; only
// the action records may be updated, idempotently, as actions execute.
type Event struct {
	ID         string         `json:"id"`
	ProcessID  string         `json:"process_id"`
	Type       EventType      `json:"event_type"`
	Payload    []byte         `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
	Position   int            `json:"position"`
	Actions    []ActionRecord `json:"actions,omitempty"`
}

// Action returns the record for the named action, or nil.
func (e *Event) Action(name string) *ActionRecord {
	for i := range e.Actions {
		if e.Actions[i].Name == name {
			return &e.Actions[i]
		}
	}
	return nil
}

// MarkPending attaches a pending action record if one does not exist yet.
// Already-pending and already-executed actions are left untouched, so
// repeated replays never duplicate a subscription. Reports whether a new
// record was added.
func (e *Event) MarkPending(name string) bool {
	if e.Action(name) != nil {
		return false
	}
	e.Actions = append(e.Actions, ActionRecord{Name: name, Status: ActionPending})
	return true
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append([]byte(nil), e.Payload...)
	}
	if e.Actions != nil {
		cp.Actions = append([]ActionRecord(nil), e.Actions...)
	}
	return &cp
}
