package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmind",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskmind",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	ScanCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskmind",
			Name:      "scan_cycles_total",
			Help:      "Completed scheduler scan cycles.",
		},
	)

	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmind",
			Name:      "claims_total",
			Help:      "Claim attempts by outcome (won, lost).",
		},
		[]string{"outcome"},
	)

	TasksReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskmind",
			Name:      "tasks_reclaimed_total",
			Help:      "Stale tasks returned to pending.",
		},
	)

	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmind",
			Name:      "executions_total",
			Help:      "Task executions by terminal outcome.",
		},
		[]string{"task_type", "outcome"},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskmind",
			Name:      "execution_duration_seconds",
			Help:      "End-to-end task execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"task_type"},
	)

	ReasoningLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "taskmind",
			Name:      "reasoning_latency_seconds",
			Help:      "AI gateway call latency in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmind",
			Name:      "tool_calls_total",
			Help:      "Requested tool invocations by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmind",
			Name:      "evaluations_total",
			Help:      "Event evaluations by decision (task_created, skipped, below_threshold, error).",
		},
		[]string{"decision"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskmind",
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and outcome (delivered, deduped, failed).",
		},
		[]string{"channel", "outcome"},
	)
)

func RegisterMetrics() {
	// MustRegister is safe to call once; tests that need re-registration should
	// use Register and ignore duplicates.
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScanCyclesTotal,
		ClaimsTotal,
		TasksReclaimedTotal,
		ExecutionsTotal,
		ExecutionDuration,
		ReasoningLatency,
		ToolCallsTotal,
		EvaluationsTotal,
		NotificationsTotal,
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records basic HTTP request metrics.
func HTTPMetricsMiddleware(routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: 200}
			next.ServeHTTP(rec, r)

			route := routeName(r)
			method := r.Method
			status := strconv.Itoa(rec.status)

			HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
			HTTPRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
		})
	}
}
