package biz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports pipeline state to Prometheus. A nil *Metrics is valid and
// records nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
	skipsTotal       *prometheus.CounterVec
	gateWait         prometheus.Histogram
	gateWaiting      prometheus.Gauge
	delayMultiplier  prometheus.Gauge
	windowUsage      prometheus.Gauge
	breakerState     prometheus.Gauge
	breakerTrips     prometheus.Counter
	degradationLevel prometheus.Gauge
	rotationsTotal   *prometheus.CounterVec
	warmupsTotal     *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trendgate_requests_total",
			Help: "Execute calls by final result",
		}, []string{"priority", "result"}),
		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trendgate_attempt_duration_seconds",
			Help:    "Duration of single upstream exchanges",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		retriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trendgate_retries_total",
			Help: "Retries by the outcome that caused them",
		}, []string{"outcome"}),
		skipsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trendgate_degradation_skips_total",
			Help: "Requests not executed due to degradation policy",
		}, []string{"priority", "level"}),
		gateWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendgate_gate_wait_seconds",
			Help:    "Time spent waiting for an admission permit",
			Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300, 900, 3600},
		}),
		gateWaiting: f.NewGauge(prometheus.GaugeOpts{
			Name: "trendgate_gate_waiting",
			Help: "Callers currently queued at the admission gate",
		}),
		delayMultiplier: f.NewGauge(prometheus.GaugeOpts{
			Name: "trendgate_gate_delay_multiplier",
			Help: "Current adaptive delay multiplier",
		}),
		windowUsage: f.NewGauge(prometheus.GaugeOpts{
			Name: "trendgate_gate_window_utilization_ratio",
			Help: "Grants in the sliding window divided by the hourly quota",
		}),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "trendgate_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		breakerTrips: f.NewCounter(prometheus.CounterOpts{
			Name: "trendgate_breaker_trips_total",
			Help: "Transitions into the open state",
		}),
		degradationLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "trendgate_degradation_level",
			Help: "Degradation level (0=healthy, 1=minor, 2=major, 3=recovery)",
		}),
		rotationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trendgate_identity_rotations_total",
			Help: "Forced identity rotations",
		}, []string{"reason"}),
		warmupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trendgate_identity_warmups_total",
			Help: "Warmup sequences by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) recordResult(p Priority, result string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(p.String(), result).Inc()
}

func (m *Metrics) observeAttempt(kind OutcomeKind, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *Metrics) recordRetry(kind OutcomeKind) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) recordSkip(p Priority, level Level) {
	if m == nil {
		return
	}
	m.skipsTotal.WithLabelValues(p.String(), level.String()).Inc()
}

func (m *Metrics) observeGateWait(d time.Duration) {
	if m == nil {
		return
	}
	m.gateWait.Observe(d.Seconds())
}

func (m *Metrics) setGateWaiting(n int) {
	if m == nil {
		return
	}
	m.gateWaiting.Set(float64(n))
}

func (m *Metrics) setMultiplier(v float64) {
	if m == nil {
		return
	}
	m.delayMultiplier.Set(v)
}

func (m *Metrics) setWindowUtilization(v float64) {
	if m == nil {
		return
	}
	m.windowUsage.Set(v)
}

func (m *Metrics) setBreakerState(s BreakerState) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(s))
	if s == BreakerOpen {
		m.breakerTrips.Inc()
	}
}

func (m *Metrics) setDegradationLevel(l Level) {
	if m == nil {
		return
	}
	m.degradationLevel.Set(float64(l))
}

func (m *Metrics) recordRotation(reason string) {
	if m == nil {
		return
	}
	m.rotationsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordWarmup(result string) {
	if m == nil {
		return
	}
	m.warmupsTotal.WithLabelValues(result).Inc()
}
