package engine

import (
	"math"
	"testing"

	"github.com/ambientstack/noisecc/internal/config"
	"github.com/ambientstack/noisecc/internal/models"
)

func testStackConfig(method string) config.StackingConfig {
	return config.StackingConfig{
		Method:        method,
		PWSPower:      2,
		RobustEpsilon: 1e-6,
		RobustMaxIter: 10,
		NRootOrder:    2,
		SelectiveCC:   0.3,
	}
}

func testWave(seed float64, npts int) []float64 {
	w := make([]float64, npts)
	for t := range w {
		w[t] = math.Sin(seed*float64(t+1)) + 0.2*math.Cos(2.3*seed*float64(t))
	}
	return w
}

func inputOf(waves ...[]float64) StackInput {
	in := StackInput{Waveforms: waves}
	for i := range waves {
		in.Times = append(in.Times, 1000+float64(i)*1800)
		in.Ngood = append(in.Ngood, 1)
	}
	return in
}

func approxEqual(t *testing.T, got, want []float64, tol float64, msg string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d != %d", msg, len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("%s: sample %d: %g != %g", msg, i, got[i], want[i])
		}
	}
}

func TestStackSingleWindowSkips(t *testing.T) {
	s, err := NewStacker(nil, testStackConfig("linear"))
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}
	if out := s.Stack(inputOf(testWave(0.7, 64))); out != nil {
		t.Fatal("a single contributing window must be skipped, not stacked")
	}

	// Two windows where one has ngood == 0 degrade to a single
	// contributing window, which is also a skip.
	in := inputOf(testWave(0.7, 64), testWave(1.1, 64))
	in.Ngood[1] = 0
	if out := s.Stack(in); out != nil {
		t.Fatal("zero-good windows must not count toward the two-window precondition")
	}
}

func TestLinearStackOfIdenticalWindows(t *testing.T) {
	s, err := NewStacker(nil, testStackConfig("linear"))
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}
	w := testWave(0.7, 64)
	out := s.Stack(inputOf(w, append([]float64(nil), w...)))
	if out == nil {
		t.Fatal("two windows must stack")
	}
	approxEqual(t, out.Stacks[0].Waveform, w, 1e-12, "linear stack of identical windows")
	if out.Ngood != 2 {
		t.Fatalf("aggregate ngood = %d, want 2", out.Ngood)
	}
	if out.Time != 1000 {
		t.Fatalf("representative time = %g, want the first contributing timestamp", out.Time)
	}
}

func TestNRootOrderOneEqualsLinear(t *testing.T) {
	waves := [][]float64{testWave(0.7, 64), testWave(1.1, 64), testWave(1.9, 64)}

	cfg := testStackConfig("nroot")
	cfg.NRootOrder = 1
	nroot, err := NewStacker(nil, cfg)
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}
	linear, err := NewStacker(nil, testStackConfig("linear"))
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}

	a := nroot.Stack(inputOf(waves[0], waves[1], waves[2]))
	b := linear.Stack(inputOf(waves[0], waves[1], waves[2]))
	approxEqual(t, a.Stacks[0].Waveform, b.Stacks[0].Waveform, 1e-12, "nroot order 1 vs linear")
}

func TestPWSIdenticalWindowsKeepWaveform(t *testing.T) {
	s, err := NewStacker(nil, testStackConfig("pws"))
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}
	w := testWave(0.9, 64)
	out := s.Stack(inputOf(w, append([]float64(nil), w...)))
	// Identical windows are perfectly phase coherent, so the weight is one
	// everywhere and the pws stack equals the linear stack.
	approxEqual(t, out.Stacks[0].Waveform, w, 1e-9, "pws stack of identical windows")
}

func TestRobustStackResistsOutlier(t *testing.T) {
	s, err := NewStacker(nil, testStackConfig("robust"))
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}
	w := testWave(0.9, 64)
	outlier := make([]float64, 64)
	for i := range outlier {
		outlier[i] = 50 * math.Sin(5.7*float64(i*i+1))
	}
	out := s.Stack(inputOf(w, append([]float64(nil), w...), append([]float64(nil), w...), outlier))

	linear := linearStack([][]float64{w, w, w, outlier})
	robustErr, linearErr := 0.0, 0.0
	for i := range w {
		robustErr += math.Abs(out.Stacks[0].Waveform[i] - w[i])
		linearErr += math.Abs(linear[i] - w[i])
	}
	if robustErr >= linearErr {
		t.Fatalf("robust stack (err %g) must beat linear (err %g) on outliers", robustErr, linearErr)
	}
}

func TestSelectiveStackExcludesDissimilar(t *testing.T) {
	s, err := NewStacker(nil, testStackConfig("selective"))
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}
	w := testWave(0.9, 64)
	flipped := make([]float64, len(w))
	for i, v := range w {
		flipped[i] = -v
	}
	out := s.Stack(inputOf(w, append([]float64(nil), w...), flipped))
	// The anti-correlated window is excluded, leaving the two identical ones.
	approxEqual(t, out.Stacks[0].Waveform, w, 1e-9, "selective stack")
}

func TestAutoCovarianceStackIsDeterministicMean(t *testing.T) {
	s, err := NewStacker(nil, testStackConfig("auto_covariance"))
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}
	w := testWave(0.9, 64)
	in := inputOf(w, append([]float64(nil), w...), append([]float64(nil), w...))
	out := s.Stack(in)
	// Identical windows get identical weights, so the result is the window.
	approxEqual(t, out.Stacks[0].Waveform, w, 1e-9, "auto-covariance stack of identical windows")

	again := s.Stack(in)
	approxEqual(t, out.Stacks[0].Waveform, again.Stacks[0].Waveform, 0, "auto-covariance determinism")
}

func TestStackAllRunsThreeMethods(t *testing.T) {
	s, err := NewStacker(nil, testStackConfig("all"))
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}
	out := s.Stack(inputOf(testWave(0.7, 64), testWave(1.1, 64), testWave(1.9, 64)))
	if len(out.Stacks) != 3 {
		t.Fatalf("method all must return 3 stacks, got %d", len(out.Stacks))
	}
	want := []models.StackMethod{models.StackLinear, models.StackPWS, models.StackRobust}
	for i, st := range out.Stacks {
		if st.Method != want[i] {
			t.Fatalf("stack %d method = %s, want %s", i, st.Method, want[i])
		}
	}
}

func TestKeepSubstacksReturnsInputsUnchanged(t *testing.T) {
	cfg := testStackConfig("linear")
	cfg.KeepSubstacks = true
	s, err := NewStacker(nil, cfg)
	if err != nil {
		t.Fatalf("new stacker: %v", err)
	}
	a, b := testWave(0.7, 64), testWave(1.1, 64)
	out := s.Stack(inputOf(a, b))
	if out.Substacks == nil {
		t.Fatal("keepSubstacks must return the unreduced inputs")
	}
	if len(out.Substacks.Waveforms) != 2 {
		t.Fatalf("expected 2 retained substacks, got %d", len(out.Substacks.Waveforms))
	}
	approxEqual(t, out.Substacks.Waveforms[0], a, 0, "retained substack 0")
	approxEqual(t, out.Substacks.Waveforms[1], b, 0, "retained substack 1")
}
