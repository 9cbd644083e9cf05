package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drover.io/drover/internal/domain"
	"drover.io/drover/internal/engine"
	apperrors "drover.io/drover/internal/pkg/errors"
	"drover.io/drover/internal/pkg/logger"
	"drover.io/drover/internal/registry"
	"drover.io/drover/internal/store"
)

func init() {
	_ = logger.Init("error", "json")
}

type harness struct {
	store   *store.MemoryStore
	handler *Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	reg := registry.New()
	require.NoError(t, reg.Register("OPENED",
		func(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
			rc.SetFlag("open")
			return nil
		},
	))
	require.NoError(t, reg.Register("NOTED",
		func(p *domain.Process, e *domain.Event, rc *domain.ReplayContext) error {
			var body struct {
				Note string `json:"note"`
			}
			if err := json.Unmarshal(e.Payload, &body); err != nil {
				return err
			}
			p.Attributes["note"] = body.Note
			return nil
		},
	))
	reg.Freeze()

	st := store.NewMemoryStore()
	eng := engine.NewBuilder(reg, st, engine.NewDispatcher(nil, time.Second),
		func(p *domain.Process, rc *domain.ReplayContext) domain.Status {
			if rc.Flag("open") {
				return "open"
			}
			return "new"
		})

	mux := NewMux()
	require.NoError(t, mux.Register(Definition{
		Name:           "open_case",
		EventType:      "OPENED",
		CreatesProcess: true,
		Kind:           "case",
	}))
	require.NoError(t, mux.Register(Definition{
		Name:      "add_note",
		EventType: "NOTED",
		Validate: func(params map[string]any) error {
			if note, _ := params["note"].(string); note == "" {
				return errors.New("note is required")
			}
			return nil
		},
		Payload: func(params map[string]any) ([]byte, error) {
			return json.Marshal(map[string]any{"note": params["note"]})
		},
		Precondition: func(p *domain.Process) error {
			if p.Status != "open" {
				return errors.New("case is not open")
			}
			return nil
		},
	}))

	return &harness{store: st, handler: NewHandler(mux, st, eng)}
}

func TestHandle_CreatesProcess(t *testing.T) {
	h := newHarness(t)

	res, err := h.handler.Handle(context.Background(), Request{Name: "open_case", Actor: "alice"})
	require.NoError(t, err)
	require.NotEmpty(t, res.ProcessID)
	require.NotEmpty(t, res.EventID)
	require.Equal(t, domain.Status("open"), res.Status)

	p, err := h.store.Load(context.Background(), res.ProcessID)
	require.NoError(t, err)
	require.Len(t, p.Events, 1)
	require.Equal(t, domain.EventType("OPENED"), p.Events[0].Type)
	require.Equal(t, domain.Status("open"), p.Status)
}

func TestHandle_AppendsToExisting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	opened, err := h.handler.Handle(ctx, Request{Name: "open_case"})
	require.NoError(t, err)

	res, err := h.handler.Handle(ctx, Request{
		Name:      "add_note",
		ProcessID: opened.ProcessID,
		Params:    map[string]any{"note": "called the customer"},
	})
	require.NoError(t, err)

	p, err := h.store.Load(ctx, res.ProcessID)
	require.NoError(t, err)
	require.Len(t, p.Events, 2)
	require.Equal(t, "called the customer", p.Attributes["note"])
}

func TestHandle_UnknownCommand(t *testing.T) {
	h := newHarness(t)

	_, err := h.handler.Handle(context.Background(), Request{Name: "no_such_command"})
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeUnknownCommand, appErr.Code)
}

func TestHandle_ValidationRejectsBeforeWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	opened, err := h.handler.Handle(ctx, Request{Name: "open_case"})
	require.NoError(t, err)

	_, err = h.handler.Handle(ctx, Request{
		Name:      "add_note",
		ProcessID: opened.ProcessID,
		Params:    map[string]any{"note": ""},
	})
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeValidationFailed, appErr.Code)

	// Nothing was appended.
	p, err := h.store.Load(ctx, opened.ProcessID)
	require.NoError(t, err)
	require.Len(t, p.Events, 1)
}

func TestHandle_PreconditionRejectsBeforeWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A process that exists but never opened: create it directly.
	require.NoError(t, h.store.Create(ctx, domain.NewProcess("case-1", "case", time.Now())))

	_, err := h.handler.Handle(ctx, Request{
		Name:      "add_note",
		ProcessID: "case-1",
		Params:    map[string]any{"note": "too early"},
	})
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeValidationFailed, appErr.Code)

	p, err := h.store.Load(ctx, "case-1")
	require.NoError(t, err)
	require.Empty(t, p.Events)
}

func TestHandle_MissingProcessID(t *testing.T) {
	h := newHarness(t)

	_, err := h.handler.Handle(context.Background(), Request{
		Name:   "add_note",
		Params: map[string]any{"note": "n"},
	})
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
}

func TestHandle_ProcessNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.handler.Handle(context.Background(), Request{
		Name:      "add_note",
		ProcessID: "missing",
		Params:    map[string]any{"note": "n"},
	})
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeProcessNotFound, appErr.Code)
}

func TestMux_DuplicateRegistration(t *testing.T) {
	mux := NewMux()
	def := Definition{Name: "open_case", EventType: "OPENED", CreatesProcess: true, Kind: "case"}
	require.NoError(t, mux.Register(def))

	err := mux.Register(def)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeDuplicateHandler, appErr.Code)
}
