// Package metrics 提供 Prometheus 监控指标.
//
// 指标变量在未调用 Init 时也可以安全使用，只是不会被暴露.
package metrics

import (
	"net/http"
	"pdf-ingest-go/internal/config"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 全局指标变量.
var (
	// RequestCounter HTTP请求计数器.
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration HTTP请求持续时间.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// IngestRuns 按终态统计的上传完成处理次数 (success/failed/skipped/superseded).
	IngestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdf_ingest_runs_total",
			Help: "Upload-completion runs by outcome",
		},
		[]string{"status"},
	)

	// StageFailures 按失败阶段统计.
	StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdf_ingest_stage_failures_total",
			Help: "Ingestion failures by pipeline stage",
		},
		[]string{"stage"},
	)

	// PagesPerFile 每个成功文件的页数分布.
	PagesPerFile = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdf_ingest_pages_per_file",
			Help:    "Number of pages indexed per file",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// StaleRecordsSwept 被清理任务置为 FAILED 的记录数.
	StaleRecordsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pdf_ingest_stale_records_swept_total",
			Help: "Records moved from PROCESSING to FAILED by the sweeper",
		},
	)

	// KafkaMessages 按处理结果统计的 Kafka 消息数 (ok/retry/dropped/malformed).
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdf_ingest_kafka_messages_total",
			Help: "Consumed upload-completion messages by result",
		},
		[]string{"result"},
	)

	// registry Prometheus注册表.
	registry = prometheus.NewRegistry()
	initOnce sync.Once
)

// Init 注册运行时收集器与自定义指标，重复调用无副作用.
func Init(cfg config.MetricsConfig) {
	if !cfg.Enabled {
		return
	}
	initOnce.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			RequestCounter, RequestDuration,
			IngestRuns, StageFailures, PagesPerFile,
			StaleRecordsSwept, KafkaMessages,
		)
	})
}

// Handler 返回暴露注册表的 HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// GetRegistry 获取Prometheus注册表.
func GetRegistry() *prometheus.Registry {
	return registry
}
