package pipeline

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ambientstack/noisecc/internal/archive"
	"github.com/ambientstack/noisecc/internal/config"
	"github.com/ambientstack/noisecc/internal/models"
	"github.com/ambientstack/noisecc/internal/utils"
)

type memSource struct {
	ids    []string
	chunks map[string][]models.ChannelSpectrum
	loads  atomic.Int32
}

func (m *memSource) Chunks(context.Context) ([]string, error) {
	return m.ids, nil
}

func (m *memSource) LoadChunk(_ context.Context, chunkID string) ([]models.ChannelSpectrum, error) {
	m.loads.Add(1)
	specs, ok := m.chunks[chunkID]
	if !ok {
		return nil, fmt.Errorf("unknown chunk %s", chunkID)
	}
	return specs, nil
}

const (
	testWindows = 4
	testNFreq   = 65
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		Paths: config.PathsConfig{
			DataDir:  filepath.Join(base, "raw"),
			CorrDir:  filepath.Join(base, "ccf"),
			StackDir: filepath.Join(base, "stack"),
		},
		Correlation: config.CorrelationConfig{
			Method:       "xcorr",
			SampleRate:   2,
			WindowLenSec: 60,
			StepSec:      15,
			MaxLagSec:    10,
			SmoothN:      5,
			MaxOverStd:   10,
			Substack:     false,
			Selection:    "all",
			StationComps: 3,
		},
		Stacking: config.StackingConfig{
			Method:        "linear",
			PWSPower:      2,
			RobustEpsilon: 1e-6,
			RobustMaxIter: 10,
			NRootOrder:    2,
			SelectiveCC:   0.3,
		},
		Rotation: config.RotationConfig{Enabled: true},
		Workers:  2,
		MaxMemGB: 1,
		Metrics:  config.MetricsConfig{Address: ":0"},
		Logging:  config.LoggingConfig{Level: "error"},
	}
}

func testChannel(sta, comp string, lat, lon, seed float64, baseTime float64) models.ChannelSpectrum {
	spectra := make([][]complex128, testWindows)
	std := make([]float64, testWindows)
	times := make([]float64, testWindows)
	for w := range spectra {
		win := make([]complex128, testNFreq)
		for f := range win {
			phase := seed + float64(w)*0.7 + float64(f)*0.13
			win[f] = complex(math.Cos(phase), math.Sin(phase))
		}
		spectra[w] = win
		std[w] = 1.5
		times[w] = baseTime + float64(w)*15
	}
	return models.ChannelSpectrum{
		Meta: models.StationMeta{
			Network: "TO", Station: sta, Channel: "HH" + comp,
			Latitude: lat, Longitude: lon,
		},
		Spectra: spectra,
		Std:     std,
		Times:   times,
		Valid:   true,
	}
}

func twoStationSource() *memSource {
	ids := []string{"chunk_2016_07_01", "chunk_2016_07_02"}
	chunks := make(map[string][]models.ChannelSpectrum, len(ids))
	for c, id := range ids {
		baseTime := 1467331200 + float64(c)*86400
		var specs []models.ChannelSpectrum
		for si, sta := range []string{"PASC", "RPV"} {
			lat, lon := 34.17-float64(si)*0.4, -118.18-float64(si)*0.2
			for ci, comp := range []string{"E", "N", "Z"} {
				seed := float64(c*100+si*10+ci) + 0.31
				specs = append(specs, testChannel(sta, comp, lat, lon, seed, baseTime))
			}
		}
		chunks[id] = specs
	}
	return &memSource{ids: ids, chunks: chunks}
}

func TestPipelineEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	source := twoStationSource()

	p, err := New(nil, cfg, source)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	if err := p.Run(context.Background(), StageAll); err != nil {
		t.Fatalf("run pipeline: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	stacks, err := archive.Open(filepath.Join(cfg.Paths.StackDir, "stacks.db"))
	if err != nil {
		t.Fatalf("reopen stack archive: %v", err)
	}
	defer stacks.Close()

	// The cross pair carries the full sensor-axis set plus rotated output.
	results, err := stacks.LoadStacks(context.Background(), "TO.PASC_TO.RPV")
	if err != nil {
		t.Fatalf("load stacks: %v", err)
	}
	byComp := make(map[string]bool)
	for _, res := range results {
		if res.Label != models.StackLabel(models.StackLinear) {
			t.Fatalf("unexpected label %s", res.Label)
		}
		if res.Ngood < 2 {
			t.Fatalf("component %s stacked with ngood %d", res.Component, res.Ngood)
		}
		byComp[res.Component] = true
	}
	for _, comp := range models.ENZComponents {
		if !byComp[comp] {
			t.Fatalf("missing sensor-axis component %s in %v", comp, byComp)
		}
	}
	for _, comp := range models.RTZComponents {
		if !byComp[comp] {
			t.Fatalf("missing rotated component %s in %v", comp, byComp)
		}
	}

	// Autocorrelation pairs hold only the upper-triangle components and are
	// never rotated.
	results, err = stacks.LoadStacks(context.Background(), "TO.PASC_TO.PASC")
	if err != nil {
		t.Fatalf("load autocorr stacks: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("autocorr pair has %d components, want 6", len(results))
	}
	for _, res := range results {
		if res.Component == "RR" || res.Component == "TT" {
			t.Fatalf("autocorr pair must not be rotated, got %s", res.Component)
		}
	}
}

func TestPipelineResumeSkipsCheckpointedUnits(t *testing.T) {
	cfg := testConfig(t)
	source := twoStationSource()

	p, err := New(nil, cfg, source)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	defer p.Close()

	if err := p.Run(context.Background(), StageAll); err != nil {
		t.Fatalf("first run: %v", err)
	}
	loadsAfterFirst := source.loads.Load()

	if err := p.Run(context.Background(), StageAll); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := source.loads.Load(); got != loadsAfterFirst {
		t.Fatalf("resume reloaded chunks: %d loads, want %d", got, loadsAfterFirst)
	}
}

func TestPipelineFatalOnEmptyInput(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(nil, cfg, &memSource{})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	defer p.Close()

	err = p.Run(context.Background(), StageCorrelate)
	if err == nil || !utils.IsFatal(err) {
		t.Fatalf("zero chunks must be fatal, got %v", err)
	}
}

func TestPipelineFatalOnBudgetOverflow(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxMemGB = 1e-6
	p, err := New(nil, cfg, twoStationSource())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	defer p.Close()

	err = p.Run(context.Background(), StageCorrelate)
	if err == nil || !utils.IsFatal(err) {
		t.Fatalf("an oversized working set must be fatal, got %v", err)
	}
}

func TestPipelineRejectsUnknownStage(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(nil, cfg, twoStationSource())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	defer p.Close()

	if err := p.Run(context.Background(), "warmup"); err == nil {
		t.Fatal("expected an error for an unknown stage")
	}
}
