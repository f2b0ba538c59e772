package partition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ambientstack/noisecc/internal/utils"
)

// UnitFunc processes one work unit. A plain error is unit-local: the unit is
// recorded as failed and the stage continues. An error marked with
// utils.Fatal aborts the whole stage.
type UnitFunc func(ctx context.Context, unit string) error

// StageStats summarizes one stage run.
type StageStats struct {
	Processed int
	Skipped   int
	Failed    int
}

// Runner executes a stage's units across a fixed set of workers. Units are
// dealt out in the strided layout and the stage ends with a barrier: RunStage
// returns only after every worker has drained its share.
type Runner struct {
	logger      *slog.Logger
	workers     int
	checkpoints *Checkpoints
}

// NewRunner builds a stage runner. Checkpoints may be nil, in which case no
// units are skipped and no markers are written.
func NewRunner(logger *slog.Logger, workers int, checkpoints *Checkpoints) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Runner{logger: logger, workers: workers, checkpoints: checkpoints}
}

// RunStage runs fn over every unit not already checkpointed. The first fatal
// error cancels the remaining work and is returned after the barrier;
// unit-local failures are logged, counted and do not stop the stage.
func (r *Runner) RunStage(ctx context.Context, stage string, units []string, fn UnitFunc) (StageStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		stats    StageStats
		fatalErr error
	)
	timer := utils.NewUnitTimer()

	var wg sync.WaitGroup
	wg.Add(r.workers)
	for rank := 0; rank < r.workers; rank++ {
		go func(rank int) {
			defer wg.Done()
			for _, i := range Assign(rank, r.workers, len(units)) {
				if ctx.Err() != nil {
					return
				}
				unit := units[i]

				if r.checkpoints != nil && r.checkpoints.Done(stage, unit) {
					r.logger.Debug("skipping completed unit",
						slog.String("stage", stage),
						slog.String("unit", unit))
					mu.Lock()
					stats.Skipped++
					mu.Unlock()
					continue
				}

				unitStart := time.Now()
				err := fn(ctx, unit)
				timer.Observe(time.Since(unitStart))
				if err != nil {
					if utils.IsFatal(err) {
						r.logger.Error("fatal error, aborting stage",
							slog.String("stage", stage),
							slog.String("unit", unit),
							slog.String("error", err.Error()))
						mu.Lock()
						if fatalErr == nil {
							fatalErr = err
						}
						mu.Unlock()
						cancel()
						return
					}
					r.logger.Error("unit failed",
						slog.String("stage", stage),
						slog.String("unit", unit),
						slog.String("error", err.Error()))
					mu.Lock()
					stats.Failed++
					mu.Unlock()
					continue
				}

				if r.checkpoints != nil {
					if cerr := r.checkpoints.MarkDone(stage, unit); cerr != nil {
						// The work itself succeeded; a lost marker only costs
						// a redo on resume.
						r.logger.Warn("failed to write checkpoint marker",
							slog.String("stage", stage),
							slog.String("unit", unit),
							slog.String("error", cerr.Error()))
					}
				}
				mu.Lock()
				stats.Processed++
				mu.Unlock()
			}
		}(rank)
	}
	wg.Wait()

	if fatalErr != nil {
		return stats, fatalErr
	}
	median, max := timer.Summary()
	r.logger.Info("stage complete",
		slog.String("stage", stage),
		slog.Int("processed", stats.Processed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Duration("medianUnit", median),
		slog.Duration("maxUnit", max))
	return stats, nil
}
