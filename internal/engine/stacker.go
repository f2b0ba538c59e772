package engine

import (
	"log/slog"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ambientstack/noisecc/internal/config"
	"github.com/ambientstack/noisecc/internal/models"
)

// Stacker reduces many correlation windows for one (pair, component) to one
// or more final waveforms under the configured stacking law.
type Stacker struct {
	logger *slog.Logger

	method        models.StackMethod
	keepSubstacks bool
	pwsPower      float64
	robustEps     float64
	robustMaxIter int
	nrootOrder    int
	selectiveCC   float64
}

// NewStacker validates the stacking configuration and builds an engine.
func NewStacker(logger *slog.Logger, cfg config.StackingConfig) (*Stacker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	method, err := models.ParseStackMethod(cfg.Method)
	if err != nil {
		return nil, err
	}
	return &Stacker{
		logger:        logger,
		method:        method,
		keepSubstacks: cfg.KeepSubstacks,
		pwsPower:      cfg.PWSPower,
		robustEps:     cfg.RobustEpsilon,
		robustMaxIter: cfg.RobustMaxIter,
		nrootOrder:    cfg.NRootOrder,
		selectiveCC:   cfg.SelectiveCC,
	}, nil
}

// StackInput is the concatenation of every correlation window for one
// (pair, component) across all time chunks.
type StackInput struct {
	Waveforms [][]float64
	Times     []float64
	Ngood     []int
}

// Stacked is one reduced waveform labelled by the law that produced it.
type Stacked struct {
	Method   models.StackMethod
	Waveform []float64
}

// StackOutput carries the reduced waveform(s), their representative
// timestamp and aggregate good-window count, and optionally the unreduced
// inputs for archival.
type StackOutput struct {
	Stacks []Stacked
	Time   float64
	Ngood  int

	Substacks *StackInput
}

// Stack reduces the input under the configured method. Fewer than two
// contributing windows (after dropping zero-good windows) is a coverage gap:
// the unit is skipped by returning nil, not an error. The "all" method
// returns linear, pws and robust stacks together.
func (s *Stacker) Stack(in StackInput) *StackOutput {
	kept := filterContributing(in)
	if len(kept.Waveforms) < 2 {
		s.logger.Debug("skipping stack with fewer than two contributing windows",
			slog.Int("windows", len(kept.Waveforms)))
		return nil
	}

	var stacks []Stacked
	switch s.method {
	case models.StackAll:
		stacks = []Stacked{
			{Method: models.StackLinear, Waveform: linearStack(kept.Waveforms)},
			{Method: models.StackPWS, Waveform: s.pwsStack(kept.Waveforms)},
			{Method: models.StackRobust, Waveform: s.robustStack(kept.Waveforms)},
		}
	case models.StackLinear:
		stacks = []Stacked{{Method: s.method, Waveform: linearStack(kept.Waveforms)}}
	case models.StackPWS:
		stacks = []Stacked{{Method: s.method, Waveform: s.pwsStack(kept.Waveforms)}}
	case models.StackRobust:
		stacks = []Stacked{{Method: s.method, Waveform: s.robustStack(kept.Waveforms)}}
	case models.StackNRoot:
		stacks = []Stacked{{Method: s.method, Waveform: s.nrootStack(kept.Waveforms)}}
	case models.StackSelective:
		stacks = []Stacked{{Method: s.method, Waveform: s.selectiveStack(kept.Waveforms)}}
	case models.StackAutoCov:
		stacks = []Stacked{{Method: s.method, Waveform: s.autoCovStack(kept.Waveforms)}}
	}

	out := &StackOutput{
		Stacks: stacks,
		Time:   kept.Times[0],
		Ngood:  sumInts(kept.Ngood),
	}
	if s.keepSubstacks {
		out.Substacks = &kept
	}
	return out
}

// filterContributing drops windows whose good count is zero; downstream
// treats zero-good as excludable, not as an error.
func filterContributing(in StackInput) StackInput {
	out := StackInput{
		Waveforms: make([][]float64, 0, len(in.Waveforms)),
		Times:     make([]float64, 0, len(in.Times)),
		Ngood:     make([]int, 0, len(in.Ngood)),
	}
	for i, w := range in.Waveforms {
		if in.Ngood[i] <= 0 {
			continue
		}
		out.Waveforms = append(out.Waveforms, w)
		out.Times = append(out.Times, in.Times[i])
		out.Ngood = append(out.Ngood, in.Ngood[i])
	}
	return out
}

func sumInts(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

// linearStack is the arithmetic mean of the waveforms.
func linearStack(waves [][]float64) []float64 {
	out := make([]float64, len(waves[0]))
	for _, w := range waves {
		floats.Add(out, w)
	}
	floats.Scale(1/float64(len(waves)), out)
	return out
}

// pwsStack weights the linear stack sample-wise by the phase coherence of the
// windows' analytic signals, raised to the configured power.
func (s *Stacker) pwsStack(waves [][]float64) []float64 {
	npts := len(waves[0])
	plan := fourier.NewCmplxFFT(npts)

	phaseSum := make([]complex128, npts)
	for _, w := range waves {
		analytic := analyticSignal(plan, w)
		for t, z := range analytic {
			if r := cmplx.Abs(z); r > 0 {
				phaseSum[t] += z / complex(r, 0)
			}
		}
	}

	out := linearStack(waves)
	n := float64(len(waves))
	for t := range out {
		coherence := cmplx.Abs(phaseSum[t]) / n
		out[t] *= math.Pow(coherence, s.pwsPower)
	}
	return out
}

// analyticSignal computes the analytic signal of x via the frequency domain:
// positive frequencies doubled, negative zeroed.
func analyticSignal(plan *fourier.CmplxFFT, x []float64) []complex128 {
	n := len(x)
	buf := make([]complex128, n)
	for i, v := range x {
		buf[i] = complex(v, 0)
	}
	coeff := plan.Coefficients(nil, buf)

	half := n / 2
	for k := 1; k < half; k++ {
		coeff[k] *= 2
	}
	if n%2 != 0 && half >= 1 {
		coeff[half] *= 2
	}
	for k := half + 1; k < n; k++ {
		coeff[k] = 0
	}

	analytic := plan.Sequence(nil, coeff)
	scale := complex(1/float64(n), 0)
	for i := range analytic {
		analytic[i] *= scale
	}
	return analytic
}

// robustStack iteratively re-weights windows by their normalized projection
// onto the current stack, starting from the sample-wise median, until the
// stack stops moving or the iteration cap is reached.
func (s *Stacker) robustStack(waves [][]float64) []float64 {
	stack := medianStack(waves)

	weights := make([]float64, len(waves))
	for iter := 0; iter < s.robustMaxIter; iter++ {
		stackNorm := floats.Norm(stack, 2)
		if stackNorm == 0 {
			return stack
		}
		for i, w := range waves {
			wNorm := floats.Norm(w, 2)
			if wNorm == 0 {
				weights[i] = 0
				continue
			}
			weights[i] = math.Abs(floats.Dot(stack, w)) / (stackNorm * wNorm)
		}

		next := make([]float64, len(stack))
		total := 0.0
		for i, w := range waves {
			floats.AddScaled(next, weights[i], w)
			total += weights[i]
		}
		if total == 0 {
			return stack
		}
		floats.Scale(1/total, next)

		diff := 0.0
		for t := range next {
			d := next[t] - stack[t]
			diff += d * d
		}
		res := math.Sqrt(diff) / floats.Norm(next, 2)
		stack = next
		if res < s.robustEps {
			break
		}
	}
	return stack
}

// medianStack returns the sample-wise median across windows.
func medianStack(waves [][]float64) []float64 {
	out := make([]float64, len(waves[0]))
	column := make([]float64, len(waves))
	for t := range out {
		for i, w := range waves {
			column[i] = w[t]
		}
		out[t] = median(column)
	}
	return out
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// nrootStack takes the sign-preserving n-th root of every sample, averages,
// and raises the mean back to the n-th power. Order 1 reduces to linear.
func (s *Stacker) nrootStack(waves [][]float64) []float64 {
	order := float64(s.nrootOrder)
	out := make([]float64, len(waves[0]))
	for _, w := range waves {
		for t, v := range w {
			out[t] += math.Copysign(math.Pow(math.Abs(v), 1/order), v)
		}
	}
	n := float64(len(waves))
	for t, v := range out {
		m := v / n
		out[t] = math.Copysign(math.Pow(math.Abs(m), order), m)
	}
	return out
}

// selectiveStack excludes windows whose correlation against a preliminary
// linear reference falls below the configured similarity threshold, then
// stacks the survivors linearly. When nothing survives, the reference stack
// is returned.
func (s *Stacker) selectiveStack(waves [][]float64) []float64 {
	ref := linearStack(waves)

	kept := make([][]float64, 0, len(waves))
	for _, w := range waves {
		if stat.Correlation(ref, w, nil) >= s.selectiveCC {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		s.logger.Debug("selective stack kept no windows; returning reference stack")
		return ref
	}
	if len(kept) < len(waves) {
		s.logger.Debug("selective stack excluded windows",
			slog.Int("excluded", len(waves)-len(kept)),
			slog.Int("total", len(waves)))
	}
	return linearStack(kept)
}

// autoCovStack weights every window by the absolute covariance between the
// window and the mean of its neighbouring windows, normalized to unit total
// weight, before averaging. Edge windows use their single neighbour.
func (s *Stacker) autoCovStack(waves [][]float64) []float64 {
	n := len(waves)
	weights := make([]float64, n)
	total := 0.0
	for i, w := range waves {
		neighbor := neighborMean(waves, i)
		weights[i] = math.Abs(stat.Covariance(w, neighbor, nil))
		total += weights[i]
	}

	if total == 0 {
		return linearStack(waves)
	}

	out := make([]float64, len(waves[0]))
	for i, w := range waves {
		floats.AddScaled(out, weights[i]/total, w)
	}
	return out
}

func neighborMean(waves [][]float64, i int) []float64 {
	out := make([]float64, len(waves[0]))
	count := 0
	if i > 0 {
		floats.Add(out, waves[i-1])
		count++
	}
	if i < len(waves)-1 {
		floats.Add(out, waves[i+1])
		count++
	}
	if count > 0 {
		floats.Scale(1/float64(count), out)
	}
	return out
}
