package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 单次派发结果计数
	DispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_dispatch_total",
			Help: "Total number of reminder dispatch invocations",
		},
		[]string{"status"}, // status: done, failed, unauthorized, skipped
	)

	// 单次派发耗时（秒）
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_dispatch_duration_seconds",
			Help:    "Reminder dispatch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"occasion"},
	)

	// 每个端点的投递结果
	DeliveryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_delivery_total",
			Help: "Total number of per-endpoint delivery attempts",
		},
		[]string{"channel", "result"}, // result: sent, permanent, transient
	)

	// 被清理的失效端点
	EndpointPrunedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_endpoint_pruned_total",
			Help: "Total number of delivery endpoints removed after a permanent failure",
		},
		[]string{"channel"},
	)

	// 内容生成回退到静态模板
	ContentFallbackCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_fallback_total",
			Help: "Total number of notification contents served by the static fallback",
		},
		[]string{"occasion", "reason"},
	)

	// AI 调用延迟（毫秒）
	AICallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_ai_call_latency_ms",
			Help:    "AI content generation latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10), // 50ms to ~25s
		},
		[]string{"status"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of database queries over the slow threshold",
		},
	)
)

// IncrementDispatch 增加派发计数
func IncrementDispatch(status string) {
	DispatchCount.WithLabelValues(status).Inc()
}

// RecordDispatchDuration 记录派发耗时
func RecordDispatchDuration(occasion string, duration time.Duration) {
	DispatchDuration.WithLabelValues(occasion).Observe(duration.Seconds())
}

// IncrementDelivery 增加投递计数
func IncrementDelivery(channel, result string) {
	DeliveryCount.WithLabelValues(channel, result).Inc()
}

// IncrementEndpointPruned 增加端点清理计数
func IncrementEndpointPruned(channel string) {
	EndpointPrunedCount.WithLabelValues(channel).Inc()
}

// IncrementContentFallback 增加回退计数
func IncrementContentFallback(occasion, reason string) {
	ContentFallbackCount.WithLabelValues(occasion, reason).Inc()
}

// RecordAICallLatency 记录 AI 调用延迟
func RecordAICallLatency(status string, duration time.Duration) {
	AICallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
