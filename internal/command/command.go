// Package command is the thin write-side entry point: a command validates
// its input, appends exactly one event, and triggers a replay. All business
// logic lives in the registered handlers, none here.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"drover.io/drover/internal/domain"
	"drover.io/drover/internal/engine"
	apperrors "drover.io/drover/internal/pkg/errors"
	"drover.io/drover/internal/pkg/logger"
	"drover.io/drover/internal/store"
)

// Definition declares one command: its name, the single event type it
// appends, and the optional hooks that gate it.
type Definition struct {
	Name      string
	EventType domain.EventType

	// CreatesProcess makes the command start a new process of Kind instead
	// of targeting an existing one.
	CreatesProcess bool
	Kind           string

	// Validate rejects malformed parameters before anything is written.
	Validate func(params map[string]any) error

	// Payload builds the event payload from the validated parameters. Nil
	// appends an empty JSON object.
	Payload func(params map[string]any) ([]byte, error)

	// Precondition gates the command on current process state (for example
	// refusing a shipment command on an unpaid order). Evaluated under the
	// process lock, before the append.
	Precondition func(p *domain.Process) error
}

// Request is one incoming command invocation.
type Request struct {
	Name      string
	ProcessID string
	Actor     string
	Params    map[string]any
}

// Result reports the appended event and the state the replay derived.
type Result struct {
	ProcessID string        `json:"process_id"`
	EventID   string        `json:"event_id"`
	Status    domain.Status `json:"status"`
}

// Mux is the static command-name → definition table. Like the handler
// registry it is assembled at startup; duplicate names are configuration
// errors.
type Mux struct {
	defs map[string]Definition
}

// NewMux creates an empty command table.
func NewMux() *Mux {
	return &Mux{defs: make(map[string]Definition)}
}

// Register adds a command definition. Duplicate names and incomplete
// definitions fail at startup.
func (m *Mux) Register(def Definition) error {
	if def.Name == "" || def.EventType == "" {
		return apperrors.New(apperrors.CodeDuplicateHandler,
			"command definition needs a name and an event type", 0)
	}
	if def.CreatesProcess && def.Kind == "" {
		return apperrors.New(apperrors.CodeDuplicateHandler,
			fmt.Sprintf("creating command %s needs a process kind", def.Name), 0)
	}
	if _, exists := m.defs[def.Name]; exists {
		return apperrors.New(apperrors.CodeDuplicateHandler,
			fmt.Sprintf("command %s already registered", def.Name), 0)
	}
	m.defs[def.Name] = def
	return nil
}

// Lookup returns the definition for a command name.
func (m *Mux) Lookup(name string) (Definition, bool) {
	def, ok := m.defs[name]
	return def, ok
}

// Names returns all registered command names.
func (m *Mux) Names() []string {
	out := make([]string, 0, len(m.defs))
	for n := range m.defs {
		out = append(out, n)
	}
	return out
}

// Handler executes commands: validate, append one event, replay.
type Handler struct {
	mux    *Mux
	store  store.Store
	engine *engine.Builder
	now    func() time.Time
}

// NewHandler wires the command executor.
func NewHandler(mux *Mux, st store.Store, eng *engine.Builder) *Handler {
	return &Handler{mux: mux, store: st, engine: eng, now: time.Now}
}

// Handle executes one command end to end. Validation failures reject the
// request before any write; once the event is appended it stays appended
// even when the subsequent replay reports an error, so the returned error
// must be inspected alongside the result.
func (h *Handler) Handle(ctx context.Context, req Request) (*Result, error) {
	def, ok := h.mux.Lookup(req.Name)
	if !ok {
		return nil, apperrors.BadRequest(apperrors.CodeUnknownCommand,
			fmt.Sprintf("unknown command %q", req.Name)).
			WithParams(map[string]any{"command": req.Name})
	}

	if def.Validate != nil {
		if err := def.Validate(req.Params); err != nil {
			if _, isApp := apperrors.IsAppError(err); isApp {
				return nil, err
			}
			return nil, apperrors.ErrValidationf(err.Error())
		}
	}

	payload := []byte(`{}`)
	if def.Payload != nil {
		built, err := def.Payload(req.Params)
		if err != nil {
			return nil, apperrors.ErrValidationf(err.Error())
		}
		payload = built
	}

	processID := req.ProcessID
	if def.CreatesProcess && processID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}
		processID = id.String()
	}
	if processID == "" {
		return nil, apperrors.ErrValidationf("process_id is required")
	}

	var res *Result
	err := h.engine.Serialize(processID, func() error {
		var err error
		res, err = h.execute(ctx, def, req, processID, payload)
		return err
	})
	return res, err
}

// execute runs under the process lock.
func (h *Handler) execute(ctx context.Context, def Definition, req Request, processID string, payload []byte) (*Result, error) {
	var p *domain.Process
	if def.CreatesProcess {
		p = domain.NewProcess(processID, def.Kind, h.now().UTC())
		if err := h.store.Create(ctx, p); err != nil {
			return nil, err
		}
	} else {
		loaded, err := h.store.Load(ctx, processID)
		if err != nil {
			return nil, err
		}
		p = loaded
		if def.Precondition != nil {
			if err := def.Precondition(p); err != nil {
				if _, isApp := apperrors.IsAppError(err); isApp {
					return nil, err
				}
				return nil, apperrors.ErrValidationf(err.Error())
			}
		}
	}

	e, err := h.store.Append(ctx, processID, def.EventType, payload)
	if err != nil {
		return nil, err
	}
	p.Events = append(p.Events, e)

	logger.Info("command appended event",
		zap.String("command", def.Name),
		zap.String("process_id", processID),
		zap.String("event_id", e.ID),
		zap.String("event_type", string(def.EventType)),
		zap.String("actor", req.Actor),
	)

	// The event is durable at this point. A replay failure (corruption,
	// failed action) surfaces to the caller but never rolls the append back.
	replayErr := h.engine.ReplayLoaded(ctx, p, engine.ReplayOptions{})

	return &Result{ProcessID: processID, EventID: e.ID, Status: p.Status}, replayErr
}
