package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"drover.io/drover/internal/domain"
	apperrors "drover.io/drover/internal/pkg/errors"
	"drover.io/drover/internal/pkg/logger"
)

// PostgresStore persists processes and events in the layout
//
//	processes(id, kind, attributes_json, status, corruption_detail, created_at)
//	events(id, process_id, event_type, payload_json, occurred_at, position, action_outcomes_json)
//
// Append and Save take a per-process transaction-scoped advisory lock so
// concurrent writers against the same process serialize at the database,
// even across engine instances. Writers against different processes never
// contend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the shared pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the processes/events tables if missing.
// Only use in development; production schemas are migration-managed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS processes (
	id                text PRIMARY KEY,
	kind              text NOT NULL,
	attributes_json   jsonb NOT NULL DEFAULT '{}',
	status            text NOT NULL DEFAULT '',
	corruption_detail text NOT NULL DEFAULT '',
	created_at        timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id                   text PRIMARY KEY,
	process_id           text NOT NULL REFERENCES processes(id),
	event_type           text NOT NULL,
	payload_json         jsonb NOT NULL DEFAULT '{}',
	occurred_at          timestamptz NOT NULL,
	position             int NOT NULL,
	action_outcomes_json jsonb NOT NULL DEFAULT '[]',
	UNIQUE (process_id, position)
);
CREATE INDEX IF NOT EXISTS events_process_order ON events (process_id, position);
CREATE INDEX IF NOT EXISTS events_occurred_at ON events (process_id, occurred_at);
`)
	if err != nil {
		return fmt.Errorf("migrate store schema: %w", err)
	}
	logger.Info("store schema migrated")
	return nil
}

// Create persists a new process aggregate.
func (s *PostgresStore) Create(ctx context.Context, p *domain.Process) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO processes (id, kind, attributes_json, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Kind, attrs, string(p.Status), p.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict(apperrors.CodeProcessExists, "process already exists")
		}
		return apperrors.Wrap(err, apperrors.CodeStoreFailure, "create process", 500)
	}
	return nil
}

// Load returns the process with its full, ordered event sequence.
func (s *PostgresStore) Load(ctx context.Context, id string) (*domain.Process, error) {
	p := &domain.Process{ID: id}
	var attrs []byte
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT kind, attributes_json, status, corruption_detail, created_at FROM processes WHERE id = $1`,
		id,
	).Scan(&p.Kind, &attrs, &status, &p.CorruptionDetail, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrProcessNotFoundf(id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailure, "load process", 500)
	}
	p.Status = domain.Status(status)
	if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes for %s: %w", id, err)
	}
	if p.Attributes == nil {
		p.Attributes = make(map[string]any)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, event_type, payload_json, occurred_at, position, action_outcomes_json
		 FROM events WHERE process_id = $1 ORDER BY position ASC`,
		id,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailure, "load events", 500)
	}
	defer rows.Close()

	for rows.Next() {
		e := &domain.Event{ProcessID: id}
		var eventType string
		var outcomes []byte
		if err := rows.Scan(&e.ID, &eventType, &e.Payload, &e.OccurredAt, &e.Position, &outcomes); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = domain.EventType(eventType)
		if len(outcomes) > 0 {
			if err := json.Unmarshal(outcomes, &e.Actions); err != nil {
				return nil, fmt.Errorf("decode action outcomes for event %s: %w", e.ID, err)
			}
		}
		p.Events = append(p.Events, e)
	}
	return p, rows.Err()
}

// Save writes derived process state and all event action outcomes in one
// transaction. Either everything lands or the next load re-runs replay.
func (s *PostgresStore) Save(ctx context.Context, p *domain.Process) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreFailure, "begin save", 500)
	}
	defer tx.Rollback(ctx)

	if err := lockProcess(ctx, tx, p.ID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE processes SET attributes_json = $2, status = $3, corruption_detail = $4 WHERE id = $1`,
		p.ID, attrs, string(p.Status), p.CorruptionDetail,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreFailure, "save process", 500)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrProcessNotFoundf(p.ID)
	}

	for _, e := range p.Events {
		outcomes, err := json.Marshal(e.Actions)
		if err != nil {
			return fmt.Errorf("marshal action outcomes for event %s: %w", e.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE events SET action_outcomes_json = $2 WHERE id = $1`,
			e.ID, outcomes,
		); err != nil {
			return apperrors.Wrap(err, apperrors.CodeStoreFailure, "save action outcomes", 500)
		}
	}
	return tx.Commit(ctx)
}

// Append records a new event with the next position and a timestamp no
// earlier than any prior event of the process.
func (s *PostgresStore) Append(ctx context.Context, processID string, t domain.EventType, payload []byte) (*domain.Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailure, "begin append", 500)
	}
	defer tx.Rollback(ctx)

	if err := lockProcess(ctx, tx, processID); err != nil {
		return nil, err
	}

	e := &domain.Event{
		ID:        id.String(),
		ProcessID: processID,
		Type:      t,
		Payload:   append([]byte(nil), payload...),
	}
	err = tx.QueryRow(ctx, `
INSERT INTO events (id, process_id, event_type, payload_json, occurred_at, position)
SELECT $1, $2, $3, $4,
       GREATEST(now(), COALESCE(MAX(occurred_at), now())),
       COALESCE(MAX(position), 0) + 1
FROM events WHERE process_id = $2
RETURNING occurred_at, position`,
		e.ID, processID, string(t), payload,
	).Scan(&e.OccurredAt, &e.Position)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperrors.ErrProcessNotFoundf(processID)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailure, "append event", 500)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailure, "commit append", 500)
	}
	return e, nil
}

// DeleteEvent removes one event as an explicit, audited correction and
// renumbers nothing: positions keep their gaps so the removal stays visible
// in the record.
func (s *PostgresStore) DeleteEvent(ctx context.Context, processID, eventID, actor, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE id = $1 AND process_id = $2`,
		eventID, processID,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreFailure, "delete event", 500)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(apperrors.CodeEventNotFound, "event not found")
	}
	logger.Warn("event removed as audited correction",
		zap.String("process_id", processID),
		zap.String("event_id", eventID),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	return nil
}

// ListIDs returns all process ids.
func (s *PostgresStore) ListIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM processes ORDER BY created_at`)
}

// ListWithFailedActions returns ids of processes carrying failed outcomes.
func (s *PostgresStore) ListWithFailedActions(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `
SELECT DISTINCT process_id FROM events
WHERE action_outcomes_json @> '[{"status":"failed"}]'`)
}

func (s *PostgresStore) queryIDs(ctx context.Context, sql string) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailure, "list processes", 500)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// lockProcess serializes writers on one process id for the duration of the
// transaction. hashtext keeps the advisory key space dense.
func lockProcess(ctx context.Context, tx pgx.Tx, processID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, processID); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreFailure, "acquire process lock", 500)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return pgErrCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrCode(err) == "23503"
}

func pgErrCode(err error) string {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState()
	}
	return ""
}
