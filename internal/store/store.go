// Package store persists processes and their append-only event sequences.
//
// Two backends implement the same contracts: a PostgreSQL store on pgx for
// production and an in-memory store for development and tests. An optional
// Redis snapshot cache fronts repository reads.
package store

import (
	"context"

	"drover.io/drover/internal/domain"
)

// EventStore is the append-only event log. Append assigns the next
// append-order position and a timestamp no earlier than any prior event of
// the process, and is durable before returning.
type EventStore interface {
	Append(ctx context.Context, processID string, t domain.EventType, payload []byte) (*domain.Event, error)
}

// ProcessRepository loads and saves process aggregates together with their
// ordered event sequences.
type ProcessRepository interface {
	// Create persists a new, empty process aggregate.
	Create(ctx context.Context, p *domain.Process) error

	// Load returns the process with its full, ordered event sequence.
	Load(ctx context.Context, id string) (*domain.Process, error)

	// Save persists derived attributes, status and any updated event
	// action outcomes, atomically per process.
	Save(ctx context.Context, p *domain.Process) error

	// DeleteEvent removes one event as an explicit, audited correction.
	// The caller is expected to re-run replay afterwards; that is the
	// documented recovery path.
	DeleteEvent(ctx context.Context, processID, eventID, actor, reason string) error

	// ListIDs returns all process ids.
	ListIDs(ctx context.Context) ([]string, error)

	// ListWithFailedActions returns ids of processes that have at least
	// one failed action outcome, for the reprocessing sweep.
	ListWithFailedActions(ctx context.Context) ([]string, error)
}

// Store combines the event log and the process repository; both concrete
// backends satisfy it.
type Store interface {
	EventStore
	ProcessRepository
}
