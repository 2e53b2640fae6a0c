// Package metrics exposes Prometheus collectors for the fleet control plane.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scaling directions used as label values.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

var (
	fleetQueueDepth                prometheus.Gauge
	fleetDepthReadFallbacksTotal   prometheus.Counter
	fleetWorkers                   prometheus.Gauge
	fleetScalingEventsTotal        *prometheus.CounterVec
	fleetLifecycleFailuresTotal    *prometheus.CounterVec
	fleetSubtasksCompletedTotal    *prometheus.CounterVec
	fleetFinalizationsTotal        prometheus.Counter
	fleetFinalizeStepFailuresTotal *prometheus.CounterVec
	fleetActiveJobs                prometheus.Gauge
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	fleetSubtaskDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fleetQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_queue_depth",
			Help: "Most recently sampled length of the job queue.",
		})

		fleetDepthReadFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_depth_read_fallbacks_total",
			Help: "Queue depth reads that exhausted retries and fell back to the last known value.",
		})

		fleetWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_workers",
			Help: "Number of active worker containers seen by the autoscaler.",
		})

		fleetScalingEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_scaling_events_total",
				Help: "Scaling decisions acted on, labeled by direction.",
			},
			[]string{"direction"},
		)

		fleetLifecycleFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_lifecycle_failures_total",
				Help: "Per-worker lifecycle failures, labeled by operation.",
			},
			[]string{"operation"},
		)

		fleetSubtasksCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_subtasks_completed_total",
				Help: "Sub-tasks reported to the completion barrier, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fleetFinalizationsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "fleet_finalizations_total",
			Help: "Finalization chains fired.",
		})

		fleetFinalizeStepFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_finalize_step_failures_total",
				Help: "Finalization step failures, labeled by step.",
			},
			[]string{"step"},
		)

		fleetActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_active_jobs",
			Help: "Sub-tasks currently executing in this worker process.",
		})

		fleetSubtaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleet_subtask_duration_seconds",
				Help:    "Histogram of sub-task execution time, labeled by spider.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"spider"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetQueueDepth records the latest sampled queue length.
func SetQueueDepth(depth int64) {
	Init()
	fleetQueueDepth.Set(float64(depth))
}

// ObserveDepthFallback counts a depth read that fell back to the cached value.
func ObserveDepthFallback() {
	Init()
	fleetDepthReadFallbacksTotal.Inc()
}

// SetWorkers records the active worker count.
func SetWorkers(n int) {
	Init()
	fleetWorkers.Set(float64(n))
}

// ObserveScaling counts a scaling action in the given direction.
func ObserveScaling(direction string) {
	Init()
	fleetScalingEventsTotal.WithLabelValues(direction).Inc()
}

// ObserveLifecycleFailure counts a failed create/stop/remove.
func ObserveLifecycleFailure(operation string) {
	Init()
	fleetLifecycleFailuresTotal.WithLabelValues(operation).Inc()
}

// ObserveCompletion counts a sub-task reported to the barrier.
func ObserveCompletion(outcome string) {
	Init()
	fleetSubtasksCompletedTotal.WithLabelValues(outcome).Inc()
}

// ObserveFinalization counts a fired finalization chain.
func ObserveFinalization() {
	Init()
	fleetFinalizationsTotal.Inc()
}

// ObserveFinalizeStepFailure counts a failed finalization step.
func ObserveFinalizeStepFailure(step string) {
	Init()
	fleetFinalizeStepFailuresTotal.WithLabelValues(step).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	fleetActiveJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	fleetActiveJobs.Dec()
}

// ObserveSubtaskDuration records how long a sub-task ran.
func ObserveSubtaskDuration(spider string, duration time.Duration) {
	Init()
	fleetSubtaskDurationSeconds.WithLabelValues(spider).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
