package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every collector exported by the factory services.
const Namespace = "stablefactory"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	factoryOnce sync.Once
	factoryReg  *FactoryMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// handler activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
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

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// FactoryMetrics captures conversion engine activity.
type FactoryMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	capHits   *prometheus.CounterVec
	volume    *prometheus.CounterVec
	feeVolume *prometheus.CounterVec
}

// Factory returns the singleton metrics registry for the conversion engine.
func Factory() *FactoryMetrics {
	factoryOnce.Do(func() {
		factoryReg = &FactoryMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Count of engine failures segmented by operation and error code.",
			}, []string{"operation", "code"}),
			capHits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "engine",
				Name:      "limit_rejections_total",
				Help:      "Conversions rejected by lifetime or period caps, segmented by channel kind.",
			}, []string{"kind"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "engine",
				Name:      "stable_volume_total",
				Help:      "Stable units issued or redeemed, segmented by channel kind and channel.",
			}, []string{"kind", "channel"}),
			feeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "engine",
				Name:      "fee_volume_total",
				Help:      "Fees accrued in base units, segmented by channel kind and channel.",
			}, []string{"kind", "channel"}),
		}
		prometheus.MustRegister(
			factoryReg.requests,
			factoryReg.latency,
			factoryReg.errors,
			factoryReg.capHits,
			factoryReg.volume,
			factoryReg.feeVolume,
		)
	})
	return factoryReg
}

// Observe records the execution metrics for an engine operation. code is the
// stable error code of the failure, or empty on success.
func (m *FactoryMetrics) Observe(operation string, duration time.Duration, code string) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if code != "" {
		outcome = "error"
		m.errors.WithLabelValues(op, code).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordLimitRejection counts a conversion refused by a cap.
func (m *FactoryMetrics) RecordLimitRejection(kind string) {
	if m == nil {
		return
	}
	m.capHits.WithLabelValues(kind).Inc()
}

// RecordConversion adds the stable volume and fee of a completed conversion.
func (m *FactoryMetrics) RecordConversion(kind, channel string, stable, fee uint64) {
	if m == nil {
		return
	}
	m.volume.WithLabelValues(kind, channel).Add(float64(stable))
	if fee > 0 {
		m.feeVolume.WithLabelValues(kind, channel).Add(float64(fee))
	}
}
