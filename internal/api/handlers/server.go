// Package handlers implements the Drover HTTP API: the command entrypoint,
// process inspection, and the operator replay surface.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"drover.io/drover/internal/api/middleware"
	"drover.io/drover/internal/command"
	"drover.io/drover/internal/domain"
	"drover.io/drover/internal/engine"
	"drover.io/drover/internal/jobs"
	apperrors "drover.io/drover/internal/pkg/errors"
	"drover.io/drover/internal/pkg/logger"
	"drover.io/drover/internal/store"
)

// Server holds the API handler dependencies.
type Server struct {
	commands *command.Handler
	engine   *engine.Builder
	store    store.Store
	cache    *store.SnapshotCache
	enqueuer jobs.ReplayEnqueuer
}

// ServerDeps holds all dependencies for creating a Server. Cache and
// Enqueuer are optional: without a cache reads always replay, without an
// enqueuer replay requests run synchronously.
type ServerDeps struct {
	Commands *command.Handler
	Engine   *engine.Builder
	Store    store.Store
	Cache    *store.SnapshotCache
	Enqueuer jobs.ReplayEnqueuer
}

// NewServer creates a Server.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		commands: deps.Commands,
		engine:   deps.Engine,
		store:    deps.Store,
		cache:    deps.Cache,
		enqueuer: deps.Enqueuer,
	}
}

type commandRequest struct {
	Command   string         `json:"command" binding:"required"`
	ProcessID string         `json:"process_id"`
	Params    map[string]any `json:"params"`
}

// PostCommand executes one command: validate, append one event, replay.
func (s *Server) PostCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ErrValidationf(err.Error()))
		return
	}

	res, err := s.commands.Handle(c.Request.Context(), command.Request{
		Name:      req.Command,
		ProcessID: req.ProcessID,
		Actor:     actorFromCtx(c),
		Params:    req.Params,
	})
	if err != nil {
		// The append may have happened; a corruption or action problem
		// surfaces with the result attached when there is one.
		if res != nil {
			body := gin.H{"result": res}
			if appErr, ok := apperrors.IsAppError(err); ok {
				body["error"] = appErr
			} else {
				body["error"] = gin.H{"message": err.Error()}
			}
			c.JSON(http.StatusAccepted, body)
			return
		}
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// GetProcess returns a process with its derived state. With ?as_of=RFC3339
// a transient point-in-time snapshot is rebuilt; otherwise the cache is
// consulted first.
func (s *Server) GetProcess(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if asOfRaw := c.Query("as_of"); asOfRaw != "" {
		asOf, err := time.Parse(time.RFC3339, asOfRaw)
		if err != nil {
			_ = c.Error(apperrors.ErrValidationf("as_of must be RFC3339: " + err.Error()))
			return
		}
		p, err := s.engine.Replay(ctx, id, engine.ReplayOptions{AsOf: asOf})
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"process": p, "as_of": asOf})
		return
	}

	if s.cache != nil {
		if snap, ok := s.cache.Get(ctx, id); ok {
			c.JSON(http.StatusOK, gin.H{"process": snap, "cached": true})
			return
		}
	}

	p, err := s.store.Load(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"process": p})
}

// ListProcesses returns process ids; ?failed=true restricts the listing to
// processes carrying failed action outcomes.
func (s *Server) ListProcesses(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		ids []string
		err error
	)
	if c.Query("failed") == "true" {
		ids, err = s.store.ListWithFailedActions(ctx)
	} else {
		ids, err = s.store.ListIDs(ctx)
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"process_ids": ids, "count": len(ids)})
}

type replayRequest struct {
	Force  bool   `json:"force"`
	Reason string `json:"reason"`
}

// PostReplay triggers a rebuild of one process. With an enqueuer configured
// the work goes through the job queue; otherwise it runs synchronously.
// Force requires an authenticated actor and is audited.
func (s *Server) PostReplay(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	var req replayRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		_ = c.Error(apperrors.ErrValidationf(err.Error()))
		return
	}

	actor := actorFromCtx(c)
	if req.Force && actor == "" {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeForceUnaudited,
			"forced replay requires an authenticated actor"))
		return
	}

	if s.enqueuer != nil {
		if _, err := s.enqueuer.Insert(ctx, jobs.ReplayArgs{
			ProcessID: id,
			Force:     req.Force,
			Actor:     actor,
			Reason:    req.Reason,
		}, nil); err != nil {
			_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure,
				"enqueue replay job", http.StatusInternalServerError))
			return
		}
		logger.Info("replay job enqueued",
			zap.String("process_id", id),
			zap.Bool("force", req.Force),
			zap.String("actor", actor),
		)
		c.JSON(http.StatusAccepted, gin.H{"process_id": id, "enqueued": true})
		return
	}

	p, err := s.engine.Replay(ctx, id, engine.ReplayOptions{
		Force:  req.Force,
		Actor:  actor,
		Reason: req.Reason,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"process": p})
}

type deleteEventRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DeleteEvent removes one event as an audited correction and rebuilds the
// process from the remaining sequence.
func (s *Server) DeleteEvent(c *gin.Context) {
	processID := c.Param("id")
	eventID := c.Param("event_id")
	ctx := c.Request.Context()

	var req deleteEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ErrValidationf("reason is required for event removal"))
		return
	}
	actor := actorFromCtx(c)
	if actor == "" {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeForceUnaudited,
			"event removal requires an authenticated actor"))
		return
	}

	var p *domain.Process
	err := s.engine.Serialize(processID, func() error {
		if err := s.store.DeleteEvent(ctx, processID, eventID, actor, req.Reason); err != nil {
			return err
		}
		loaded, err := s.store.Load(ctx, processID)
		if err != nil {
			return err
		}
		if err := s.engine.ReplayLoaded(ctx, loaded, engine.ReplayOptions{}); err != nil {
			return err
		}
		p = loaded
		return nil
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"process": p})
}

// GetHealth is the liveness probe.
func (s *Server) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// actorFromCtx extracts the authenticated actor from the request context,
// falling back to the X-Actor header for deployments without auth.
func actorFromCtx(c *gin.Context) string {
	if actor := middleware.GetActor(c.Request.Context()); actor != "" {
		return actor
	}
	return c.GetHeader("X-Actor")
}
