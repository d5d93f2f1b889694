package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "poolrewards"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	stakingRewardsOnce sync.Once
	stakingRewardsReg  *StakingRewardsMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record admin
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admin",
				Name:      "requests_total",
				Help:      "Total admin API requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admin",
				Name:      "errors_total",
				Help:      "Total admin API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "admin",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for admin API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admin",
				Name:      "throttles_total",
				Help:      "Count of admin requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records a completed admin request.
func (m *moduleMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if duration > 0 {
		m.latency.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// RecordThrottle increments the throttle counter for the supplied reason.
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(reason)).Inc()
}

// StakingRewardsMetrics wraps collectors tracking program distributions.
type StakingRewardsMetrics struct {
	distributions  *prometheus.CounterVec
	released       *prometheus.CounterVec
	sharesBurned   *prometheus.CounterVec
	remaining      *prometheus.GaugeVec
	events         *prometheus.CounterVec
	processErrors  *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	activePrograms prometheus.Gauge
}

// StakingRewards exposes the metrics registry for the rewards daemon.
func StakingRewards() *StakingRewardsMetrics {
	stakingRewardsOnce.Do(func() {
		stakingRewardsReg = &StakingRewardsMetrics{
			distributions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stakingrewards",
				Name:      "distributions_total",
				Help:      "Count of successful reward distributions per pool.",
			}, []string{"pool"}),
			released: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stakingrewards",
				Name:      "released_total",
				Help:      "Reward tokens released per pool in base units.",
			}, []string{"pool"}),
			sharesBurned: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stakingrewards",
				Name:      "shares_burned_total",
				Help:      "Pool shares burned from rewards vaults per pool.",
			}, []string{"pool"}),
			remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stakingrewards",
				Name:      "remaining_rewards",
				Help:      "Unreleased rewards per pool in base units.",
			}, []string{"pool"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stakingrewards",
				Name:      "events_total",
				Help:      "Count of registry events segmented by type.",
			}, []string{"type"}),
			processErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stakingrewards",
				Name:      "process_errors_total",
				Help:      "Count of failed ProcessRewards calls segmented by pool and reason.",
			}, []string{"pool", "reason"}),
			tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "stakingrewards",
				Name:      "tick_duration_seconds",
				Help:      "Duration of scheduler ticks.",
				Buckets:   prometheus.DefBuckets,
			}),
			activePrograms: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stakingrewards",
				Name:      "programs_active",
				Help:      "Number of programs currently active.",
			}),
		}
		prometheus.MustRegister(
			stakingRewardsReg.distributions,
			stakingRewardsReg.released,
			stakingRewardsReg.sharesBurned,
			stakingRewardsReg.remaining,
			stakingRewardsReg.events,
			stakingRewardsReg.processErrors,
			stakingRewardsReg.tickDuration,
			stakingRewardsReg.activePrograms,
		)
	})
	return stakingRewardsReg
}

// RecordDistribution records a successful release for pool.
func (m *StakingRewardsMetrics) RecordDistribution(pool string, amount, shares, remaining *big.Int) {
	if m == nil {
		return
	}
	pool = normalizeLabel(pool)
	m.distributions.WithLabelValues(pool).Inc()
	m.released.WithLabelValues(pool).Add(bigToFloat(amount))
	m.sharesBurned.WithLabelValues(pool).Add(bigToFloat(shares))
	m.remaining.WithLabelValues(pool).Set(bigToFloat(remaining))
}

// Remaining exposes the per-pool remaining rewards gauge.
func (m *StakingRewardsMetrics) Remaining() *prometheus.GaugeVec {
	return m.remaining
}

// SetRemaining updates the unreleased budget gauge for pool.
func (m *StakingRewardsMetrics) SetRemaining(pool string, remaining *big.Int) {
	if m == nil {
		return
	}
	m.remaining.WithLabelValues(normalizeLabel(pool)).Set(bigToFloat(remaining))
}

// RecordEvent counts an emitted registry event.
func (m *StakingRewardsMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// RecordProcessError counts a failed distribution attempt.
func (m *StakingRewardsMetrics) RecordProcessError(pool, reason string) {
	if m == nil {
		return
	}
	m.processErrors.WithLabelValues(normalizeLabel(pool), normalizeLabel(reason)).Inc()
}

// ObserveTick records the duration of one scheduler pass.
func (m *StakingRewardsMetrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

// SetActivePrograms sets the active program gauge.
func (m *StakingRewardsMetrics) SetActivePrograms(n int) {
	if m == nil {
		return
	}
	m.activePrograms.Set(float64(n))
}

func normalizeLabel(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
