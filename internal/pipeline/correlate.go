package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ambientstack/noisecc/internal/config"
	"github.com/ambientstack/noisecc/internal/metrics"
	"github.com/ambientstack/noisecc/internal/models"
	"github.com/ambientstack/noisecc/internal/partition"
	"github.com/ambientstack/noisecc/internal/spectral"
	"github.com/ambientstack/noisecc/internal/utils"
)

// runCorrelate executes stage 1: one unit per time chunk. The coordinator
// writes the stage snapshot before any worker starts, so stage 2 can recover
// the correlation parameters even on a later resume.
func (p *Pipeline) runCorrelate(ctx context.Context) error {
	chunks, err := p.source.Chunks(ctx)
	if err != nil {
		return utils.Fatal(err)
	}
	if len(chunks) == 0 {
		return utils.Fatalf("no spectrum chunks under %s", p.cfg.Paths.DataDir)
	}

	snap := config.NewSnapshot(StageCorrelate, p.cfg)
	if err := config.WriteSnapshot(p.cfg.Paths.CorrDir, snap); err != nil {
		return utils.Fatal(err)
	}
	checkpoints, err := partition.NewCheckpoints(p.logger,
		filepath.Join(p.cfg.Paths.CorrDir, "checkpoints"), snap.RunID)
	if err != nil {
		return utils.Fatal(err)
	}

	p.logger.Info("starting correlation stage",
		slog.String("runID", snap.RunID),
		slog.Int("chunks", len(chunks)),
		slog.Int("workers", p.cfg.Workers))

	runner := partition.NewRunner(p.logger, p.cfg.Workers, checkpoints)
	_, err = runner.RunStage(ctx, StageCorrelate, chunks, p.correlateChunk)
	return err
}

// correlateChunk processes one chunk: load, budget-gate, populate the store,
// correlate every source row and persist the records.
func (p *Pipeline) correlateChunk(ctx context.Context, chunkID string) error {
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() { metrics.ObserveChunk(time.Since(start), outcome) }()

	specs, err := p.source.LoadChunk(ctx, chunkID)
	if err != nil {
		return err
	}
	windows, nfreq := chunkShape(specs)
	if windows == 0 {
		p.logger.Info("chunk has no valid channels, skipping",
			slog.String("chunk", chunkID))
		outcome = metrics.OutcomeSkipped
		return nil
	}

	store, err := spectral.NewStore(p.logger, p.workerBudgetBytes(), len(specs), windows, nfreq)
	if err != nil {
		var budget *spectral.BudgetError
		if errors.As(err, &budget) {
			return utils.Fatal(err)
		}
		return err
	}
	for _, spec := range specs {
		if _, err := store.Add(spec); err != nil {
			return err
		}
	}
	store.Freeze()
	if store.Rows() == 0 {
		p.logger.Info("no channel survived validation, skipping chunk",
			slog.String("chunk", chunkID))
		outcome = metrics.OutcomeSkipped
		return nil
	}

	records, err := p.correlator.CorrelateStore(store, chunkID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		p.logger.Info("chunk produced no correlations, skipping",
			slog.String("chunk", chunkID))
		outcome = metrics.OutcomeSkipped
		return nil
	}

	if err := p.corrArchive.SaveCorrelations(ctx, records); err != nil {
		return err
	}
	metrics.AddCorrelationRecords(len(records))
	p.logger.Debug("chunk correlated",
		slog.String("chunk", chunkID),
		slog.Int("records", len(records)))
	outcome = metrics.OutcomeSuccess
	return nil
}

// chunkShape returns the window count and frequency-sample count of the first
// valid channel; all other channels must match it to enter the store.
func chunkShape(specs []models.ChannelSpectrum) (int, int) {
	for i := range specs {
		spec := &specs[i]
		if spec.Valid && spec.Windows() > 0 {
			return spec.Windows(), len(spec.Spectra[0])
		}
	}
	return 0, 0
}
