// Package spectral holds the in-memory batch store for one time chunk's
// whitened half-spectra. All arrays are sized once, after the memory-budget
// gate, and never grown mid-chunk.
package spectral

import (
	"fmt"
	"log/slog"

	"github.com/ambientstack/noisecc/internal/models"
)

const (
	bytesPerComplex = 16 // complex128
	bytesPerFloat   = 8  // float64
)

// BudgetError reports that a chunk's working set would exceed the per-worker
// memory ceiling. It is fatal: the run must abort before any allocation.
type BudgetError struct {
	RequiredBytes  uint64
	AvailableBytes uint64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("spectral store needs %d bytes but only %d are budgeted; reduce the chunk length or channel count",
		e.RequiredBytes, e.AvailableBytes)
}

// EstimateBytes returns the memory needed to hold channels rows of windows
// half-spectra with nfreq samples each, plus the parallel std and timestamp
// sequences. Monotone in every argument.
func EstimateBytes(channels, windows, nfreq int) uint64 {
	perChannel := uint64(windows)*uint64(nfreq)*bytesPerComplex +
		2*uint64(windows)*bytesPerFloat
	return uint64(channels) * perChannel
}

// Store owns the spectra of every validated channel for one time chunk.
// Row order is assignment order and is fixed for the chunk's lifetime.
type Store struct {
	logger *slog.Logger

	expected int
	windows  int
	nfreq    int

	rows   []models.ChannelSpectrum
	frozen bool
}

// NewStore validates the memory budget and pre-sizes the row arena.
// expected is the number of channels the chunk should contain; windows and
// nfreq fix the per-channel array shape.
func NewStore(logger *slog.Logger, budgetBytes uint64, expected, windows, nfreq int) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if expected <= 0 || windows <= 0 || nfreq <= 0 {
		return nil, fmt.Errorf("spectral store shape must be positive, got channels=%d windows=%d nfreq=%d",
			expected, windows, nfreq)
	}

	required := EstimateBytes(expected, windows, nfreq)
	if required > budgetBytes {
		return nil, &BudgetError{RequiredBytes: required, AvailableBytes: budgetBytes}
	}

	return &Store{
		logger:   logger,
		expected: expected,
		windows:  windows,
		nfreq:    nfreq,
		rows:     make([]models.ChannelSpectrum, 0, expected),
	}, nil
}

// Add appends one channel's spectra to the next free row. Channels that
// failed upstream pre-processing are skipped and never consume a row index.
// Returns the assigned row, or -1 when the channel was skipped.
func (s *Store) Add(spec models.ChannelSpectrum) (int, error) {
	if s.frozen {
		return -1, fmt.Errorf("spectral store is frozen")
	}
	if len(s.rows) == s.expected {
		return -1, fmt.Errorf("spectral store full: %d rows already populated", s.expected)
	}

	if !spec.Valid || spec.Windows() == 0 {
		s.logger.Info("skipping channel with no usable data",
			slog.String("channel", spec.Meta.ChannelKey()))
		return -1, nil
	}
	if spec.Windows() != s.windows || !spec.Consistent(s.nfreq) {
		s.logger.Info("skipping channel with inconsistent window shape",
			slog.String("channel", spec.Meta.ChannelKey()),
			slog.Int("windows", spec.Windows()),
			slog.Int("expected", s.windows))
		return -1, nil
	}

	s.rows = append(s.rows, spec)
	return len(s.rows) - 1, nil
}

// Freeze closes the store for writes. Fewer populated rows than expected is
// not an error: some stations may legitimately lack data for the chunk.
func (s *Store) Freeze() {
	s.frozen = true
	if len(s.rows) < s.expected {
		s.logger.Info("some channels miss data in this chunk; continuing",
			slog.Int("populated", len(s.rows)),
			slog.Int("expected", s.expected))
	}
}

// Rows returns the number of populated rows.
func (s *Store) Rows() int { return len(s.rows) }

// Windows returns the number of time windows per channel.
func (s *Store) Windows() int { return s.windows }

// NFreq returns the number of frequency samples per half-spectrum.
func (s *Store) NFreq() int { return s.nfreq }

// Row returns the channel occupying row i. The returned value must be
// treated as immutable.
func (s *Store) Row(i int) *models.ChannelSpectrum {
	return &s.rows[i]
}
