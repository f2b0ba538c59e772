package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels units that completed and were checkpointed.
	OutcomeSuccess = "success"
	// OutcomeSkipped labels units skipped by checkpoint or coverage gaps.
	OutcomeSkipped = "skipped"
	// OutcomeError labels units abandoned after a unit-local failure.
	OutcomeError = "error"
)

var (
	chunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noisecc",
			Name:      "chunks_total",
			Help:      "Total time chunks handled by the correlation stage, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	pairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noisecc",
			Name:      "pairs_total",
			Help:      "Total station pairs handled by the stacking stage, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	correlationRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "noisecc",
			Name:      "correlation_records_total",
			Help:      "Total correlation records written to the archive.",
		},
	)

	stacksWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "noisecc",
			Name:      "stacks_written_total",
			Help:      "Total stacked waveforms written to the archive.",
		},
	)

	unitDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "noisecc",
			Name:      "unit_seconds",
			Help:      "Per-unit processing latency in seconds, partitioned by stage.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)
)

// Register attaches the pipeline collectors to the supplied Prometheus
// registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		chunksTotal,
		pairsTotal,
		correlationRecordsTotal,
		stacksWrittenTotal,
		unitDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveChunk records one correlation-stage unit.
func ObserveChunk(duration time.Duration, outcome string) {
	chunksTotal.WithLabelValues(outcome).Inc()
	observeUnit("correlate", duration)
}

// ObservePair records one stacking-stage unit.
func ObservePair(duration time.Duration, outcome string) {
	pairsTotal.WithLabelValues(outcome).Inc()
	observeUnit("stack", duration)
}

// AddCorrelationRecords counts records persisted to the correlation archive.
func AddCorrelationRecords(n int) {
	correlationRecordsTotal.Add(float64(n))
}

// AddStacksWritten counts stacked waveforms persisted to the stack archive.
func AddStacksWritten(n int) {
	stacksWrittenTotal.Add(float64(n))
}

func observeUnit(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	unitDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}
