// Package engine implements the numeric core of the pipeline: the
// cross-correlation engine, the stacking engine and the component rotation.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/ambientstack/noisecc/internal/config"
	"github.com/ambientstack/noisecc/internal/geo"
	"github.com/ambientstack/noisecc/internal/models"
	"github.com/ambientstack/noisecc/internal/spectral"
)

// Correlator forms cross-spectra between channel rows of a spectral store
// and transforms them to bounded-lag correlation waveforms.
type Correlator struct {
	logger *slog.Logger

	method    models.CCMethod
	selection models.SelectionPolicy

	stationComps int
	sampleRate   float64
	windowLen    float64
	maxLag       float64
	smoothN      int
	maxOverStd   float64
	substack     bool
	substackLen  float64
}

// NewCorrelator validates the correlation configuration and builds an engine.
func NewCorrelator(logger *slog.Logger, cfg config.CorrelationConfig) (*Correlator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	method, err := models.ParseCCMethod(cfg.Method)
	if err != nil {
		return nil, err
	}
	selection, err := models.ParseSelectionPolicy(cfg.Selection)
	if err != nil {
		return nil, err
	}
	return &Correlator{
		logger:       logger,
		method:       method,
		selection:    selection,
		stationComps: cfg.StationComps,
		sampleRate:   cfg.SampleRate,
		windowLen:    cfg.WindowLenSec,
		maxLag:       cfg.MaxLagSec,
		smoothN:      cfg.SmoothN,
		maxOverStd:   cfg.MaxOverStd,
		substack:     cfg.Substack,
		substackLen:  cfg.SubstackLen,
	}, nil
}

// LagSamples returns the number of samples in one correlation waveform,
// 2*maxlag*fs + 1, centred at zero lag.
func (c *Correlator) LagSamples() int {
	return 2*int(c.maxLag*c.sampleRate) + 1
}

// qualityMask returns the window indices whose amplitude std is finite,
// strictly positive and below the configured threshold.
func (c *Correlator) qualityMask(std []float64) []int {
	mask := make([]int, 0, len(std))
	for i, v := range std {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v <= 0 || v >= c.maxOverStd {
			continue
		}
		mask = append(mask, i)
	}
	return mask
}

// intersect merges two sorted index sets.
func intersect(a, b []int) []int {
	out := make([]int, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// movingAve smooths x with a centred moving average of half-width n,
// clipping the window at the edges.
func movingAve(x []float64, n int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		lo := i - n
		if lo < 0 {
			lo = 0
		}
		hi := i + n
		if hi > len(x)-1 {
			hi = len(x) - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += x[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// prepareSource conjugates the source half-spectra and, for deconvolution and
// coherency, divides by the smoothed source spectral energy. The smoothing is
// local to the source: receivers are untouched here.
func (c *Correlator) prepareSource(spectra [][]complex128, mask []int) [][]complex128 {
	out := make([][]complex128, len(mask))
	amp := make([]float64, 0)
	for k, w := range mask {
		win := spectra[w]
		row := make([]complex128, len(win))

		switch c.method {
		case models.CCRaw:
			for f, v := range win {
				row[f] = cmplx.Conj(v)
			}
		case models.CCDeconv, models.CCCoherency:
			amp = amp[:0]
			for _, v := range win {
				amp = append(amp, cmplx.Abs(v))
			}
			smooth := movingAve(amp, c.smoothN)
			for f, v := range win {
				den := smooth[f]
				if c.method == models.CCDeconv {
					den *= den
				}
				if den == 0 {
					row[f] = 0
					continue
				}
				row[f] = cmplx.Conj(v) / complex(den, 0)
			}
		}
		out[k] = row
	}
	return out
}

// receiverRange applies the pair-selection policy to a source row index.
// Auto-only keeps receivers among the source's co-located components;
// cross-only starts past them.
func (c *Correlator) receiverRange(source, rows int) (int, int) {
	start, end := source, rows
	switch c.selection {
	case models.SelectAutoOnly:
		end = min(source+c.stationComps, rows)
	case models.SelectCrossOnly:
		start = min(source+c.stationComps, rows)
	}
	return start, end
}

// CorrelateStore correlates every source row of a frozen store against its
// eligible receivers, reusing one inverse-transform plan for the whole chunk.
func (c *Correlator) CorrelateStore(store *spectral.Store, chunkID string) ([]models.CorrelationRecord, error) {
	plan, lag, err := c.planFor(store)
	if err != nil {
		return nil, err
	}
	var records []models.CorrelationRecord
	for source := 0; source < store.Rows(); source++ {
		recs, err := c.correlateSource(plan, lag, store, chunkID, source)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

// CorrelateSource correlates one source row against every eligible receiver
// row of the store and returns the resulting records. A source with an empty
// quality mask is skipped entirely (no records, no error).
func (c *Correlator) CorrelateSource(store *spectral.Store, chunkID string, source int) ([]models.CorrelationRecord, error) {
	plan, lag, err := c.planFor(store)
	if err != nil {
		return nil, err
	}
	return c.correlateSource(plan, lag, store, chunkID, source)
}

// planFor sizes the inverse transform for the store's spectra and checks that
// the lag window fits inside it.
func (c *Correlator) planFor(store *spectral.Store) (*fourier.FFT, int, error) {
	nfft := 2 * (store.NFreq() - 1)
	lag := int(c.maxLag * c.sampleRate)
	if nfft < 2*lag+1 {
		return nil, 0, fmt.Errorf("maxlag %gs needs %d lag samples but the fft length is only %d",
			c.maxLag, 2*lag+1, nfft)
	}
	return fourier.NewFFT(nfft), lag, nil
}

func (c *Correlator) correlateSource(plan *fourier.FFT, lag int, store *spectral.Store, chunkID string, source int) ([]models.CorrelationRecord, error) {
	src := store.Row(source)
	srcMask := c.qualityMask(src.Std)
	if len(srcMask) == 0 {
		c.logger.Debug("skipping source with empty quality mask",
			slog.String("channel", src.Meta.ChannelKey()))
		return nil, nil
	}

	prepared := c.prepareSource(src.Spectra, srcMask)

	var records []models.CorrelationRecord
	start, end := c.receiverRange(source, store.Rows())
	for r := start; r < end; r++ {
		rcv := store.Row(r)
		shared := intersect(srcMask, c.qualityMask(rcv.Std))
		if len(shared) == 0 {
			c.logger.Debug("skipping pair with no shared good windows",
				slog.String("source", src.Meta.ChannelKey()),
				slog.String("receiver", rcv.Meta.ChannelKey()))
			continue
		}

		cross := c.crossSpectra(prepared, srcMask, rcv, shared)
		waves, times, ngood := c.reduceToLag(plan, cross, rcv, shared, lag)

		rec := models.CorrelationRecord{
			ChunkID:         chunkID,
			Pair:            models.PairKey(src.Meta, rcv.Meta),
			SourceChannel:   src.Meta.Channel,
			ReceiverChannel: rcv.Meta.Channel,
			Component:       models.ComponentPair(src.Meta, rcv.Meta),
			Waveforms:       waves,
			Times:           times,
			Ngood:           ngood,
			Params:          c.recordParams(src.Meta, rcv.Meta),
		}
		records = append(records, rec)
	}
	return records, nil
}

// crossSpectra multiplies the prepared source rows with the receiver spectra
// over the shared window set. Coherency additionally normalizes by the
// smoothed receiver amplitude.
func (c *Correlator) crossSpectra(prepared [][]complex128, srcMask []int, rcv *models.ChannelSpectrum, shared []int) [][]complex128 {
	// Map source window index to its prepared row.
	srcRow := make(map[int]int, len(srcMask))
	for k, w := range srcMask {
		srcRow[w] = k
	}

	out := make([][]complex128, len(shared))
	for k, w := range shared {
		s := prepared[srcRow[w]]
		rwin := rcv.Spectra[w]
		row := make([]complex128, len(rwin))
		for f := range rwin {
			row[f] = s[f] * rwin[f]
		}
		if c.method == models.CCCoherency {
			amp := make([]float64, len(rwin))
			for f, v := range rwin {
				amp[f] = cmplx.Abs(v)
			}
			smooth := movingAve(amp, c.smoothN)
			for f := range row {
				if smooth[f] == 0 {
					row[f] = 0
					continue
				}
				row[f] /= complex(smooth[f], 0)
			}
		}
		out[k] = row
	}
	return out
}

// reduceToLag groups the cross-spectra into substack windows (or one full
// window), inverts each group to the time domain and slices the centred
// +-maxlag waveform. Sub-windows with zero contributing windows keep a zero
// waveform and ngood 0.
func (c *Correlator) reduceToLag(plan *fourier.FFT, cross [][]complex128, rcv *models.ChannelSpectrum, shared []int, lag int) ([][]float64, []float64, []int) {
	nfreq := len(cross[0])

	type group struct {
		sum   []complex128
		time  float64
		ngood int
	}

	var groups []group
	switch {
	case !c.substack:
		g := group{sum: make([]complex128, nfreq), time: rcv.Times[shared[0]], ngood: len(shared)}
		for _, row := range cross {
			for f, v := range row {
				g.sum[f] += v
			}
		}
		groups = []group{g}

	case c.substackLen == c.windowLen:
		// One output waveform per time window.
		groups = make([]group, len(shared))
		for k, w := range shared {
			groups[k] = group{sum: cross[k], time: rcv.Times[w], ngood: 1}
		}

	default:
		// Group windows into substack intervals measured from the chunk's
		// first window. Empty intervals are still emitted.
		chunkStart := rcv.Times[0]
		last := rcv.Times[len(rcv.Times)-1]
		n := int((last-chunkStart)/c.substackLen) + 1
		groups = make([]group, n)
		for i := range groups {
			groups[i] = group{
				sum:  make([]complex128, nfreq),
				time: chunkStart + float64(i)*c.substackLen,
			}
		}
		for k, w := range shared {
			gi := int((rcv.Times[w] - chunkStart) / c.substackLen)
			if gi < 0 || gi >= n {
				continue
			}
			for f, v := range cross[k] {
				groups[gi].sum[f] += v
			}
			groups[gi].ngood++
		}
	}

	waves := make([][]float64, len(groups))
	times := make([]float64, len(groups))
	ngood := make([]int, len(groups))
	for i, g := range groups {
		times[i] = g.time
		ngood[i] = g.ngood
		if g.ngood == 0 {
			waves[i] = make([]float64, 2*lag+1)
			continue
		}
		waves[i] = c.invertToLag(plan, g.sum, lag)
	}
	return waves, times, ngood
}

// invertToLag removes the spectral mean, reconstructs the time series from
// the half-spectrum and extracts lags -maxlag..+maxlag centred on zero.
func (c *Correlator) invertToLag(plan *fourier.FFT, half []complex128, lag int) []float64 {
	coeff := make([]complex128, len(half))
	var mean complex128
	for _, v := range half {
		mean += v
	}
	mean /= complex(float64(len(half)), 0)
	for f, v := range half {
		coeff[f] = v - mean
	}
	coeff[0] = 0

	nfft := plan.Len()
	seq := plan.Sequence(nil, coeff)

	out := make([]float64, 2*lag+1)
	scale := 1 / float64(nfft)
	for j := range out {
		idx := j - lag
		if idx < 0 {
			idx += nfft
		}
		out[j] = seq[idx] * scale
	}
	return out
}

func (c *Correlator) recordParams(src, rcv models.StationMeta) models.CorrelationParams {
	return models.CorrelationParams{
		LonS:       src.Longitude,
		LatS:       src.Latitude,
		LonR:       rcv.Longitude,
		LatR:       rcv.Latitude,
		DistKM:     geo.DistanceKM(src.Latitude, src.Longitude, rcv.Latitude, rcv.Longitude),
		Azimuth:    geo.Azimuth(src.Latitude, src.Longitude, rcv.Latitude, rcv.Longitude),
		BackAzi:    geo.BackAzimuth(src.Latitude, src.Longitude, rcv.Latitude, rcv.Longitude),
		SampleRate: c.sampleRate,
		MaxLagSec:  c.maxLag,
		Method:     string(c.method),
	}
}
