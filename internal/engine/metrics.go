package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wires execution counters/histograms (SPEC_FULL.md domain-stack
// §: prometheus/client_golang). Nil-safe: a nil *Metrics is silently
// skipped by every observe call, so engines that don't care about metrics
// pay nothing. Build a non-nil Metrics with NewMetrics; a zero-value
// Metrics has no collectors and is not usable.
type Metrics struct {
	attempts  *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	attemptMS prometheus.Histogram
	waveSize  prometheus.Histogram
}

// NewMetrics registers the engine's collectors on reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test binaries.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipper_package_attempts_total",
			Help: "Subprocess invocations per package, labeled by outcome class.",
		}, []string{"class"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipper_package_outcomes_total",
			Help: "Terminal package outcomes, labeled by final status.",
		}, []string{"status"}),
		attemptMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shipper_attempt_duration_seconds",
			Help:    "Wall-clock duration of a single subprocess attempt.",
			Buckets: prometheus.DefBuckets,
		}),
		waveSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shipper_wave_size",
			Help:    "Number of packages run concurrently per wave.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),
	}
	reg.MustRegister(m.attempts, m.outcomes, m.attemptMS, m.waveSize)
	return m
}

func (m *Metrics) observeAttempt(class string, seconds float64) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(class).Inc()
	m.attemptMS.Observe(seconds)
}

func (m *Metrics) observeOutcome(status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) observeWave(size int) {
	if m == nil {
		return
	}
	m.waveSize.Observe(float64(size))
}
