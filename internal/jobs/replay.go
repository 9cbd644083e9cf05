// Package jobs defines the River Queue job types for asynchronous replay
// work. Jobs carry identifiers only; the event sequence itself is always
// read back from the store at execution time.
package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"drover.io/drover/internal/engine"
	apperrors "drover.io/drover/internal/pkg/errors"
	"drover.io/drover/internal/pkg/logger"
)

// QueueReplay is the dedicated queue for replay jobs, kept separate from
// the default queue so maintenance sweeps cannot starve operator-requested
// replays.
const QueueReplay = "replay"

// ReplayArgs requests a full rebuild of one process.
type ReplayArgs struct {
	ProcessID string `json:"process_id"`

	// Force re-executes already-succeeded actions; requires Actor.
	Force  bool   `json:"force,omitempty"`
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Kind returns the job kind identifier for replay jobs.
func (ReplayArgs) Kind() string { return "process_replay" }

// InsertOpts deduplicates pending replays of the same process: replay is
// idempotent, so one queued run per (process, force, actor) is enough.
func (ReplayArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueReplay,
		MaxAttempts: 5,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// ReplayWorker rebuilds a process from its stored event sequence.
type ReplayWorker struct {
	river.WorkerDefaults[ReplayArgs]
	engine *engine.Builder
}

// NewReplayWorker creates a replay worker.
func NewReplayWorker(eng *engine.Builder) *ReplayWorker {
	return &ReplayWorker{engine: eng}
}

// Work runs one replay. A corrupted process is flagged and the job is
// cancelled rather than retried: re-running cannot fix a sequence the
// registry no longer understands.
func (w *ReplayWorker) Work(ctx context.Context, job *river.Job[ReplayArgs]) error {
	args := job.Args

	logger.Info("processing replay job",
		zap.String("process_id", args.ProcessID),
		zap.Bool("force", args.Force),
		zap.String("actor", args.Actor),
		zap.Int64("attempt", int64(job.Attempt)),
	)

	p, err := w.engine.Replay(ctx, args.ProcessID, engine.ReplayOptions{
		Force:  args.Force,
		Actor:  args.Actor,
		Reason: args.Reason,
	})
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok {
			switch appErr.Code {
			case apperrors.CodeReplayCorruption, apperrors.CodeProcessNotFound, apperrors.CodeForceUnaudited:
				return river.JobCancel(fmt.Errorf("replay %s: %w", args.ProcessID, err))
			}
		}
		return fmt.Errorf("replay %s: %w", args.ProcessID, err)
	}

	logger.Info("replay job completed",
		zap.String("process_id", args.ProcessID),
		zap.String("status", string(p.Status)),
	)
	return nil
}
