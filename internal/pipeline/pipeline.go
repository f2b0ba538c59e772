// Package pipeline drives the two processing stages over a spectrum source:
// correlation (per time chunk) and stacking with optional rotation (per
// station pair), with a full barrier in between.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ambientstack/noisecc/internal/archive"
	"github.com/ambientstack/noisecc/internal/config"
	"github.com/ambientstack/noisecc/internal/engine"
	"github.com/ambientstack/noisecc/internal/models"
	"github.com/ambientstack/noisecc/internal/utils"
)

// Stage names accepted by Run.
const (
	StageCorrelate = "correlate"
	StageStack     = "stack"
	StageAll       = "all"
)

// SpectrumSource hands the pipeline its input chunks. The production
// implementation reads specio chunk files; tests use in-memory sources.
type SpectrumSource interface {
	Chunks(ctx context.Context) ([]string, error)
	LoadChunk(ctx context.Context, chunkID string) ([]models.ChannelSpectrum, error)
}

// Pipeline wires the engines, archives and work partitioner together.
type Pipeline struct {
	logger *slog.Logger
	cfg    *config.Config
	source SpectrumSource

	correlator *engine.Correlator
	stacker    *engine.Stacker
	rotator    *engine.Rotator

	corrArchive  *archive.Archive
	stackArchive *archive.Archive

	// stackNpts is the lag-window length stage 2 expects in every archived
	// waveform, recovered from the stage-1 snapshot before workers start.
	stackNpts int
}

// New builds the pipeline: engines from config, one archive per output
// directory.
func New(logger *slog.Logger, cfg *config.Config, source SpectrumSource) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	correlator, err := engine.NewCorrelator(logger, cfg.Correlation)
	if err != nil {
		return nil, err
	}
	stacker, err := engine.NewStacker(logger, cfg.Stacking)
	if err != nil {
		return nil, err
	}
	var rotator *engine.Rotator
	if cfg.Rotation.Enabled {
		rotator, err = engine.NewRotator(logger, cfg.Rotation)
		if err != nil {
			return nil, err
		}
	}

	for _, dir := range []string{cfg.Paths.CorrDir, cfg.Paths.StackDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	corrArchive, err := archive.Open(filepath.Join(cfg.Paths.CorrDir, "correlations.db"))
	if err != nil {
		return nil, utils.NewAppError("pipeline.new", "open correlation archive", err)
	}
	stackArchive, err := archive.Open(filepath.Join(cfg.Paths.StackDir, "stacks.db"))
	if err != nil {
		corrArchive.Close()
		return nil, utils.NewAppError("pipeline.new", "open stack archive", err)
	}

	return &Pipeline{
		logger:       logger,
		cfg:          cfg,
		source:       source,
		correlator:   correlator,
		stacker:      stacker,
		rotator:      rotator,
		corrArchive:  corrArchive,
		stackArchive: stackArchive,
	}, nil
}

// Close releases the archive connections.
func (p *Pipeline) Close() error {
	err := p.corrArchive.Close()
	if serr := p.stackArchive.Close(); serr != nil && err == nil {
		err = serr
	}
	return err
}

// Run executes the requested stage, or both with a barrier between them.
func (p *Pipeline) Run(ctx context.Context, stage string) error {
	switch stage {
	case StageCorrelate:
		return p.runCorrelate(ctx)
	case StageStack:
		return p.runStack(ctx)
	case StageAll, "":
		if err := p.runCorrelate(ctx); err != nil {
			return err
		}
		return p.runStack(ctx)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

// workerBudgetBytes is the per-worker share of the configured memory ceiling.
// Every unit's working set is gated against it before allocation.
func (p *Pipeline) workerBudgetBytes() uint64 {
	return uint64(p.cfg.MaxMemGB * float64(uint64(1)<<30) / float64(p.cfg.Workers))
}
