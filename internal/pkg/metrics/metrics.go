package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 包级指标，InitMetrics 之后可用。
var (
	HTTPRequestDuration *prometheus.HistogramVec

	RateLimitRejectedTotal prometheus.Counter
	AuthFailureTotal       prometheus.Counter
	UsersRegisteredTotal   prometheus.Counter
	TasksCreatedTotal      prometheus.Counter
	TasksCompletedTotal    prometheus.Counter
	TasksDeletedTotal      prometheus.Counter
)

var initOnce sync.Once

// InitMetrics 注册所有 Prometheus 指标，可重复调用（只生效一次）。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskhub_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"})

		RateLimitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter.",
		})
		AuthFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_auth_failure_total",
			Help: "Bearer token verifications that failed.",
		})
		UsersRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_users_registered_total",
			Help: "Users created via registration.",
		})
		TasksCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_tasks_created_total",
			Help: "Tasks created.",
		})
		TasksCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_tasks_completed_total",
			Help: "Tasks toggled into the completed status.",
		})
		TasksDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_tasks_deleted_total",
			Help: "Tasks deleted.",
		})

		prometheus.MustRegister(
			HTTPRequestDuration,
			RateLimitRejectedTotal,
			AuthFailureTotal,
			UsersRegisteredTotal,
			TasksCreatedTotal,
			TasksCompletedTotal,
			TasksDeletedTotal,
		)
	})
}
