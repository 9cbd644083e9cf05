package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"drover.io/drover/internal/domain"
	apperrors "drover.io/drover/internal/pkg/errors"
	"drover.io/drover/internal/pkg/logger"
)

// MemoryStore is an in-process Store for development and tests. All loads
// return deep copies so callers can never mutate stored state except
// through Save.
type MemoryStore struct {
	mu        sync.RWMutex
	processes map[string]*domain.Process
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processes: make(map[string]*domain.Process),
		now:       time.Now,
	}
}

// WithClock overrides the store clock; tests use it for deterministic
// point-in-time scenarios.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Create persists a new process aggregate.
func (s *MemoryStore) Create(ctx context.Context, p *domain.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.processes[p.ID]; exists {
		return apperrors.Conflict(apperrors.CodeProcessExists, "process already exists")
	}
	s.processes[p.ID] = p.Clone()
	return nil
}

// Load returns a deep copy of the process with its ordered events.
func (s *MemoryStore) Load(ctx context.Context, id string) (*domain.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.processes[id]
	if !ok {
		return nil, apperrors.ErrProcessNotFoundf(id)
	}
	cp := p.Clone()
	cp.SortEvents()
	return cp, nil
}

// Save replaces the stored derived attributes and event action outcomes.
// Event type, payload and timestamp are taken from the stored copy, never
// from the caller: appended history is immutable.
func (s *MemoryStore) Save(ctx context.Context, p *domain.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.processes[p.ID]
	if !ok {
		return apperrors.ErrProcessNotFoundf(p.ID)
	}

	stored.Status = p.Status
	stored.CorruptionDetail = p.CorruptionDetail
	stored.Attributes = make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		stored.Attributes[k] = v
	}
	for _, e := range p.Events {
		se := eventByID(stored, e.ID)
		if se == nil {
			continue
		}
		se.Actions = append([]domain.ActionRecord(nil), e.Actions...)
	}
	return nil
}

// Append records a new event with the next position and a timestamp
// clamped to be monotonic within the process.
func (s *MemoryStore) Append(ctx context.Context, processID string, t domain.EventType, payload []byte) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[processID]
	if !ok {
		return nil, apperrors.ErrProcessNotFoundf(processID)
	}

	occurred := s.now().UTC()
	if last := p.LastOccurredAt(); occurred.Before(last) {
		occurred = last
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	e := &domain.Event{
		ID:         id.String(),
		ProcessID:  processID,
		Type:       t,
		Payload:    append([]byte(nil), payload...),
		OccurredAt: occurred,
		Position:   p.NextPosition(),
	}
	p.Events = append(p.Events, e)
	return e.Clone(), nil
}

// DeleteEvent removes one event as an audited correction.
func (s *MemoryStore) DeleteEvent(ctx context.Context, processID, eventID, actor, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[processID]
	if !ok {
		return apperrors.ErrProcessNotFoundf(processID)
	}
	for i, e := range p.Events {
		if e.ID == eventID {
			p.Events = append(p.Events[:i], p.Events[i+1:]...)
			logger.Warn("event removed as audited correction",
				zap.String("process_id", processID),
				zap.String("event_id", eventID),
				zap.String("actor", actor),
				zap.String("reason", reason),
			)
			return nil
		}
	}
	return apperrors.NotFound(apperrors.CodeEventNotFound, "event not found")
}

// ListIDs returns all process ids.
func (s *MemoryStore) ListIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.processes))
	for id := range s.processes {
		ids = append(ids, id)
	}
	return ids, nil
}

// ListWithFailedActions returns ids of processes carrying failed outcomes.
func (s *MemoryStore) ListWithFailedActions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, p := range s.processes {
		if p.HasFailedActions() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func eventByID(p *domain.Process, id string) *domain.Event {
	for _, e := range p.Events {
		if e.ID == id {
			return e
		}
	}
	return nil
}
