package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartlib_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartlib_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	issueOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartlib_issue_operations_total",
		Help: "Count of book issue attempts by result",
	}, []string{"result"})

	returnOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartlib_return_operations_total",
		Help: "Count of book return attempts by result",
	}, []string{"result"})

	issueDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartlib_issue_duration_seconds",
		Help:    "Duration of issue transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	activeLoans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartlib_active_loans",
		Help: "Number of currently active loans",
	})

	overdueLoans = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartlib_overdue_loans",
		Help: "Number of active loans past their due date",
	})

	lockTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartlib_lock_timeouts_total",
		Help: "Count of per-key lock acquisitions that timed out",
	}, []string{"operation"})

	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartlib_chat_requests_total",
		Help: "Count of chat assistant requests by answer source",
	}, []string{"source"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveIssue records an issue attempt with a result label.
func ObserveIssue(result string, duration time.Duration) {
	issueOperations.WithLabelValues(result).Inc()
	issueDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveReturn records a return attempt with a result label.
func ObserveReturn(result string) {
	returnOperations.WithLabelValues(result).Inc()
}

// IncrementActiveLoans increments the active loan gauge.
func IncrementActiveLoans() {
	activeLoans.Inc()
}

// DecrementActiveLoans decrements the active loan gauge.
func DecrementActiveLoans() {
	activeLoans.Dec()
}

// SetActiveLoans sets the active loan gauge to a specific count.
func SetActiveLoans(count int) {
	if count < 0 {
		count = 0
	}
	activeLoans.Set(float64(count))
}

// SetOverdueLoans sets the overdue loan gauge.
func SetOverdueLoans(count int) {
	if count < 0 {
		count = 0
	}
	overdueLoans.Set(float64(count))
}

// ObserveLockTimeout records a per-key lock acquisition timeout.
func ObserveLockTimeout(operation string) {
	lockTimeouts.WithLabelValues(operation).Inc()
}

// ObserveChat records a chat request answered by the given source
// ("inference" or "fallback").
func ObserveChat(source string) {
	chatRequests.WithLabelValues(source).Inc()
}
