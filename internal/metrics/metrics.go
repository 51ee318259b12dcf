// Package metrics publishes Prometheus telemetry for the resolution service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheLookupOutcome captures the result of a loader cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached loader decision.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached decision was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a loader cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for resolution activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	resolveRequests *prometheus.CounterVec
	resolveLatency  *prometheus.HistogramVec

	loaderOperations *prometheus.CounterVec
	loaderLatency    *prometheus.HistogramVec

	specifications prometheus.Gauge
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	resolveRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confctrl",
		Subsystem: "resolve",
		Name:      "requests_total",
		Help:      "Total resolve requests processed by the pipeline.",
	}, []string{"app", "outcome", "status_code"})

	resolveLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "confctrl",
		Subsystem: "resolve",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed resolve requests.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"app", "outcome"})

	loaderOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "confctrl",
		Subsystem: "loader",
		Name:      "cache_operations_total",
		Help:      "Conditional-loader cache operations executed by the pipeline.",
	}, []string{"app", "operation", "result"})

	loaderLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "confctrl",
		Subsystem: "loader",
		Name:      "cache_operation_duration_seconds",
		Help:      "Latency distribution for conditional-loader cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"app", "operation", "result"})

	specifications := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "confctrl",
		Subsystem: "store",
		Name:      "specifications",
		Help:      "Specifications currently registered in the store.",
	})

	reg.MustRegister(resolveRequests, resolveLatency, loaderOperations, loaderLatency, specifications)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		resolveRequests:  resolveRequests,
		resolveLatency:   resolveLatency,
		loaderOperations: loaderOperations,
		loaderLatency:    loaderLatency,
		specifications:   specifications,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveResolve records the outcome and latency for a completed resolve
// request.
func (r *Recorder) ObserveResolve(app, outcome string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	appLabel := normalizeLabel(app)
	outcomeLabel := normalizeLabel(outcome)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.resolveRequests.WithLabelValues(appLabel, outcomeLabel, statusLabel).Inc()
	r.resolveLatency.WithLabelValues(appLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveLoaderLookup records the result of a loader cache lookup.
func (r *Recorder) ObserveLoaderLookup(app string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeLoader(normalizeLabel(app), "lookup", resultLabel, duration)
}

// ObserveLoaderStore records the result of a loader cache store attempt.
func (r *Recorder) ObserveLoaderStore(app string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeLoader(normalizeLabel(app), "store", resultLabel, duration)
}

// SetSpecifications publishes the store size.
func (r *Recorder) SetSpecifications(count int) {
	if r == nil {
		return
	}
	r.specifications.Set(float64(count))
}

func (r *Recorder) observeLoader(app, operation, result string, duration time.Duration) {
	resLabel := normalizeLabel(result)
	r.loaderOperations.WithLabelValues(app, operation, resLabel).Inc()
	r.loaderLatency.WithLabelValues(app, operation, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
