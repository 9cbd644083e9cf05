// Package domain holds the process engine's core data model: processes,
// their append-only event sequences, and the replay-scoped context.
package domain

import (
	"sort"
	"time"
)

// Status is a derived process state. It is recomputed on every replay and
// never hand-set outside the engine.
type Status string

// StatusCorrupted marks a process whose stored event sequence could not be
// replayed against the current handler registry. Flagged, never skipped.
const StatusCorrupted Status = "corrupted"

// Process is an aggregate root: one instance of a tracked workflow.
//
// Attributes and Status are derived exclusively by replaying Events from
// the initial state; readers must never observe attributes that diverge
// from what a full replay would produce.
type Process struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// Attributes are the derived domain fields (persisted as
	// attributes_json). Mutated only by registered handlers during replay.
	Attributes map[string]any `json:"attributes"`

	// CorruptionDetail is set when Status is StatusCorrupted.
	CorruptionDetail string `json:"corruption_detail,omitempty"`

	// Events is the ordered, exclusively-owned event sequence.
	Events []*Event `json:"events,omitempty"`
}

// NewProcess creates an empty process aggregate.
func NewProcess(id, kind string, createdAt time.Time) *Process {
	return &Process{
		ID:         id,
		Kind:       kind,
		CreatedAt:  createdAt,
		Attributes: make(map[string]any),
	}
}

// ResetDerived clears everything replay recomputes: attributes, status and
// the corruption flag. Events are untouched.
func (p *Process) ResetDerived() {
	p.Attributes = make(map[string]any)
	p.Status = ""
	p.CorruptionDetail = ""
}

// SortEvents orders the event sequence by append position.
func (p *Process) SortEvents() {
	sort.SliceStable(p.Events, func(i, j int) bool {
		return p.Events[i].Position < p.Events[j].Position
	})
}

// EventsThrough returns the prefix of events with occurred_at <= t, for
// point-in-time reconstruction. A zero t returns the full sequence.
func (p *Process) EventsThrough(t time.Time) []*Event {
	if t.IsZero() {
		return p.Events
	}
	out := make([]*Event, 0, len(p.Events))
	for _, e := range p.Events {
		if !e.OccurredAt.After(t) {
			out = append(out, e)
		}
	}
	return out
}

// NextPosition returns the append-order position for the next event.
func (p *Process) NextPosition() int {
	max := 0
	for _, e := range p.Events {
		if e.Position > max {
			max = e.Position
		}
	}
	return max + 1
}

// LastOccurredAt returns the newest event timestamp, or zero when empty.
func (p *Process) LastOccurredAt() time.Time {
	var last time.Time
	for _, e := range p.Events {
		if e.OccurredAt.After(last) {
			last = e.OccurredAt
		}
	}
	return last
}

// HasFailedActions reports whether any event carries a failed action
// outcome. Used by the reprocessing sweep.
func (p *Process) HasFailedActions() bool {
	for _, e := range p.Events {
		for _, a := range e.Actions {
			if a.Status == ActionFailed {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of the process and its events.
func (p *Process) Clone() *Process {
	cp := *p
	cp.Attributes = make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		cp.Attributes[k] = v
	}
	cp.Events = make([]*Event, len(p.Events))
	for i, e := range p.Events {
		cp.Events[i] = e.Clone()
	}
	return &cp
}
