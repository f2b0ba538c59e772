package utils

import (
	"sort"
	"sync"
	"time"
)

// UnitTimer collects per-work-unit processing durations across workers and
// summarises them when a stage finishes.
type UnitTimer struct {
	mu      sync.Mutex
	samples []time.Duration
}

// NewUnitTimer creates an empty timer.
func NewUnitTimer() *UnitTimer {
	return &UnitTimer{}
}

// Observe records one unit's processing duration. Safe for concurrent use.
func (t *UnitTimer) Observe(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, d)
}

// Count returns the number of units observed.
func (t *UnitTimer) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// Summary returns the median and maximum unit duration. Zeroes when empty.
func (t *UnitTimer) Summary() (median, max time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		return 0, 0
	}
	sorted := append([]time.Duration(nil), t.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2], sorted[len(sorted)-1]
}
