package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation", "table"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 审批决策计数
	GateDecisionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_decision_count",
			Help: "Total number of proposal approval decisions",
		},
		[]string{"decision", "outcome"}, // outcome: pending / promoted / rejected
	)

	// 阶段完成计数
	StageCompletionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_completion_count",
			Help: "Total number of completed project stages",
		},
		[]string{"stage", "timeliness"},
	)

	// 通知扇出计数
	NotificationFanoutCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_fanout_count",
			Help: "Total number of notifications appended by the engine",
		},
		[]string{"type"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slow_query_count",
			Help: "Total number of slow database queries",
		},
		[]string{"sql"},
	)

	// 外部存储调用延迟（毫秒）
	StorageCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_call_latency_ms",
			Help:    "Artifact storage call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"operation", "status"},
	)
)

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementGateDecision 增加审批决策计数
func IncrementGateDecision(decision, outcome string) {
	GateDecisionCount.WithLabelValues(decision, outcome).Inc()
}

// IncrementStageCompletion 增加阶段完成计数
func IncrementStageCompletion(stage, timeliness string) {
	StageCompletionCount.WithLabelValues(stage, timeliness).Inc()
}

// IncrementNotificationFanout 增加通知扇出计数
func IncrementNotificationFanout(notificationType string) {
	NotificationFanoutCount.WithLabelValues(notificationType).Inc()
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(sql string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}

// RecordStorageCallLatency 记录外部存储调用延迟
func RecordStorageCallLatency(operation, status string, duration time.Duration) {
	StorageCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}
