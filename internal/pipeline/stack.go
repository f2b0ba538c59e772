package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ambientstack/noisecc/internal/config"
	"github.com/ambientstack/noisecc/internal/engine"
	"github.com/ambientstack/noisecc/internal/metrics"
	"github.com/ambientstack/noisecc/internal/models"
	"github.com/ambientstack/noisecc/internal/partition"
	"github.com/ambientstack/noisecc/internal/spectral"
	"github.com/ambientstack/noisecc/internal/utils"
)

// runStack executes stage 2: one unit per station pair found in the
// correlation archive. The stage-1 snapshot supplies the correlation
// parameters, so a resume does not depend on the live config matching the
// run that produced the records.
func (p *Pipeline) runStack(ctx context.Context) error {
	corrSnap, err := config.ReadSnapshot(p.cfg.Paths.CorrDir, StageCorrelate)
	if err != nil {
		return utils.Fatal(err)
	}
	p.stackNpts = 2*int(corrSnap.Correlation.MaxLagSec*corrSnap.Correlation.SampleRate) + 1

	pairs, err := p.corrArchive.Pairs(ctx)
	if err != nil {
		return utils.Fatal(err)
	}
	if len(pairs) == 0 {
		return utils.Fatalf("correlation archive under %s holds no records", p.cfg.Paths.CorrDir)
	}

	snap := config.NewSnapshot(StageStack, p.cfg)
	if err := config.WriteSnapshot(p.cfg.Paths.StackDir, snap); err != nil {
		return utils.Fatal(err)
	}
	checkpoints, err := partition.NewCheckpoints(p.logger,
		filepath.Join(p.cfg.Paths.StackDir, "checkpoints"), snap.RunID)
	if err != nil {
		return utils.Fatal(err)
	}

	p.logger.Info("starting stacking stage",
		slog.String("runID", snap.RunID),
		slog.Int("pairs", len(pairs)),
		slog.Int("workers", p.cfg.Workers))

	runner := partition.NewRunner(p.logger, p.cfg.Workers, checkpoints)
	_, err = runner.RunStage(ctx, StageStack, pairs, p.stackPair)
	return err
}

// componentInput is one component's concatenated windows across every chunk.
type componentInput struct {
	input engine.StackInput
}

// stackPair processes one station pair: concatenate records per component,
// stack each component, rotate the full sensor-axis set when present, and
// persist everything.
func (p *Pipeline) stackPair(ctx context.Context, pair string) error {
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() { metrics.ObservePair(time.Since(start), outcome) }()

	records, err := p.corrArchive.LoadPair(ctx, pair)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		outcome = metrics.OutcomeSkipped
		return nil
	}

	if err := p.gateStackBudget(pair, records); err != nil {
		return err
	}

	byComp := make(map[string]*componentInput)
	for i := range records {
		rec := &records[i]
		for w, wave := range rec.Waveforms {
			if len(wave) != p.stackNpts {
				return fmt.Errorf("pair %s component %s: waveform has %d samples, expected %d",
					pair, rec.Component, len(wave), p.stackNpts)
			}
			ci := byComp[rec.Component]
			if ci == nil {
				ci = &componentInput{}
				byComp[rec.Component] = ci
			}
			ci.input.Waveforms = append(ci.input.Waveforms, wave)
			ci.input.Times = append(ci.input.Times, rec.Times[w])
			ci.input.Ngood = append(ci.input.Ngood, rec.Ngood[w])
		}
	}
	if len(byComp) > len(models.ENZComponents) {
		return utils.Fatalf("pair %s carries %d components; the sensor frame has at most %d",
			pair, len(byComp), len(models.ENZComponents))
	}

	source, receiver := pairStations(pair, records[0].Params)

	components := make([]string, 0, len(byComp))
	for comp := range byComp {
		components = append(components, comp)
	}
	sort.Strings(components)

	var results []models.StackResult
	// Stacked waveforms per method per component, for the rotation step.
	methodWaves := make(map[models.StackMethod]map[string][]float64)
	compMeta := make(map[string]*engine.StackOutput)

	for _, comp := range components {
		out := p.stacker.Stack(byComp[comp].input)
		if out == nil {
			p.logger.Debug("component lacks stackable windows",
				slog.String("pair", pair),
				slog.String("component", comp))
			continue
		}
		compMeta[comp] = out
		for _, st := range out.Stacks {
			results = append(results, models.StackResult{
				Pair:            pair,
				Component:       comp,
				Label:           models.StackLabel(st.Method),
				Waveform:        st.Waveform,
				Time:            out.Time,
				Ngood:           out.Ngood,
				StationSource:   source.StationKey(),
				StationReceiver: receiver.StationKey(),
			})
			if methodWaves[st.Method] == nil {
				methodWaves[st.Method] = make(map[string][]float64)
			}
			methodWaves[st.Method][comp] = st.Waveform
		}
		if out.Substacks != nil {
			for w, wave := range out.Substacks.Waveforms {
				results = append(results, models.StackResult{
					Pair:            pair,
					Component:       comp,
					Label:           fmt.Sprintf("T%d", int64(out.Substacks.Times[w])),
					Waveform:        wave,
					Time:            out.Substacks.Times[w],
					Ngood:           out.Substacks.Ngood[w],
					StationSource:   source.StationKey(),
					StationReceiver: receiver.StationKey(),
				})
			}
		}
	}

	if len(results) == 0 {
		p.logger.Info("pair produced no stacks, skipping",
			slog.String("pair", pair))
		outcome = metrics.OutcomeSkipped
		return nil
	}

	if p.rotator != nil {
		rotated, err := p.rotateStacks(pair, methodWaves, compMeta, source, receiver)
		if err != nil {
			return err
		}
		results = append(results, rotated...)
	}

	if err := p.stackArchive.SaveStacks(ctx, results); err != nil {
		return err
	}
	metrics.AddStacksWritten(len(results))
	p.logger.Debug("pair stacked",
		slog.String("pair", pair),
		slog.Int("results", len(results)))
	outcome = metrics.OutcomeSuccess
	return nil
}

// gateStackBudget estimates the pair's concatenated working set before any
// slice is assembled.
func (p *Pipeline) gateStackBudget(pair string, records []models.CorrelationRecord) error {
	var required uint64
	for i := range records {
		required += uint64(len(records[i].Waveforms)) * uint64(p.stackNpts) * 8
	}
	if budget := p.workerBudgetBytes(); required > budget {
		return utils.Fatal(&spectral.BudgetError{RequiredBytes: required, AvailableBytes: budget})
	}
	return nil
}

// rotateStacks maps every stacking method with a complete sensor-axis set
// into geographic components. An all-zero set is skipped; a station missing
// from the correction table aborts the run.
func (p *Pipeline) rotateStacks(pair string, methodWaves map[models.StackMethod]map[string][]float64,
	compMeta map[string]*engine.StackOutput, source, receiver models.StationMeta) ([]models.StackResult, error) {

	methods := make([]models.StackMethod, 0, len(methodWaves))
	for method := range methodWaves {
		methods = append(methods, method)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })

	var results []models.StackResult
	for _, method := range methods {
		byComp := methodWaves[method]
		waves := make([][]float64, len(models.ENZComponents))
		complete := true
		for i, comp := range models.ENZComponents {
			w, ok := byComp[comp]
			if !ok {
				complete = false
				break
			}
			waves[i] = w
		}
		if !complete {
			p.logger.Debug("incomplete sensor-axis set, skipping rotation",
				slog.String("pair", pair),
				slog.String("method", string(method)))
			continue
		}

		rotated, err := p.rotator.Rotate(waves, source, receiver)
		if err != nil {
			var missing *engine.MissingCorrectionError
			if errors.As(err, &missing) {
				return nil, utils.Fatal(err)
			}
			return nil, err
		}
		if rotated == nil {
			continue
		}

		// The vertical-vertical output carries the set's representative
		// timestamp and good-window count.
		meta := compMeta["ZZ"]
		for i, comp := range models.RTZComponents {
			results = append(results, models.StackResult{
				Pair:            pair,
				Component:       comp,
				Label:           models.StackLabel(method),
				Waveform:        rotated[i],
				Time:            meta.Time,
				Ngood:           meta.Ngood,
				StationSource:   source.StationKey(),
				StationReceiver: receiver.StationKey(),
			})
		}
	}
	return results, nil
}

// pairStations rebuilds the source and receiver station identities from the
// archive pair key and the persisted coordinates.
func pairStations(pair string, params models.CorrelationParams) (models.StationMeta, models.StationMeta) {
	source := models.StationMeta{Latitude: params.LatS, Longitude: params.LonS}
	receiver := models.StationMeta{Latitude: params.LatR, Longitude: params.LonR}
	if names := strings.SplitN(pair, "_", 2); len(names) == 2 {
		source.Network, source.Station = splitStationKey(names[0])
		receiver.Network, receiver.Station = splitStationKey(names[1])
	}
	return source, receiver
}

func splitStationKey(key string) (string, string) {
	if parts := strings.SplitN(key, ".", 2); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", key
}
