package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"drover.io/drover/internal/pkg/logger"
	"drover.io/drover/internal/pkg/worker"
	"drover.io/drover/internal/store"
)

// ReplayEnqueuer is the slice of the River client the sweep needs. Satisfied
// by *river.Client[pgx.Tx].
type ReplayEnqueuer interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// FailedActionSweepArgs is the periodic job that finds processes carrying
// failed action outcomes and re-enqueues their replay. This is the
// at-least-once recovery loop: failed actions retry on every sweep until
// they succeed.
type FailedActionSweepArgs struct{}

// Kind returns the job kind identifier for the sweep.
func (FailedActionSweepArgs) Kind() string { return "failed_action_sweep" }

// InsertOpts keeps at most one sweep queued per period.
func (FailedActionSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// FailedActionSweepWorker scans the repository and fans the replay inserts
// out across the general worker pool.
type FailedActionSweepWorker struct {
	river.WorkerDefaults[FailedActionSweepArgs]
	repo     store.ProcessRepository
	enqueuer ReplayEnqueuer
	pool     *worker.Pool
}

// NewFailedActionSweepWorker creates the sweep worker. A nil pool enqueues
// sequentially.
func NewFailedActionSweepWorker(repo store.ProcessRepository, enqueuer ReplayEnqueuer, pool *worker.Pool) *FailedActionSweepWorker {
	return &FailedActionSweepWorker{repo: repo, enqueuer: enqueuer, pool: pool}
}

// Work lists processes with failed outcomes and enqueues one replay each.
// Individual insert failures are logged and counted; the sweep itself only
// fails when the listing does.
func (w *FailedActionSweepWorker) Work(ctx context.Context, _ *river.Job[FailedActionSweepArgs]) error {
	ids, err := w.repo.ListWithFailedActions(ctx)
	if err != nil {
		return fmt.Errorf("list processes with failed actions: %w", err)
	}
	if len(ids) == 0 {
		logger.Debug("failed-action sweep found nothing to do")
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		enqueued int
	)
	for _, id := range ids {
		processID := id
		enqueue := func() {
			defer wg.Done()
			if _, err := w.enqueuer.Insert(ctx, ReplayArgs{ProcessID: processID}, nil); err != nil {
				logger.Warn("failed to enqueue replay for process with failed actions",
					zap.String("process_id", processID),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			enqueued++
			mu.Unlock()
		}

		wg.Add(1)
		if w.pool != nil {
			// Background context so a queued task always runs and releases
			// the wait group; the insert itself still honors ctx.
			if err := w.pool.Submit(context.Background(), func(context.Context) { enqueue() }); err != nil {
				wg.Done()
				logger.Warn("failed to submit sweep fan-out task",
					zap.String("process_id", processID),
					zap.Error(err),
				)
			}
			continue
		}
		enqueue()
	}
	wg.Wait()

	logger.Info("failed-action sweep completed",
		zap.Int("flagged", len(ids)),
		zap.Int("enqueued", enqueued),
	)
	return nil
}
