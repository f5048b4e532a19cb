// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リコンサイラとHTTP層から利用する。
type MetricsCollector interface {
	RecordLapUpdate(action string)
	RecordSaveRetry()
	RecordSaveFailure()
	RecordVerifyMismatch()
	RecordReconcileLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	lapUpdates       *prometheus.CounterVec
	saveRetries      prometheus.Counter
	saveFailures     prometheus.Counter
	verifyMismatches prometheus.Counter
	reconcileLatency prometheus.Histogram
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		lapUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runvibe_lap_updates_total",
			Help: "参加者更新操作の合計数（アクション別）",
		}, []string{"action"}),
		saveRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runvibe_save_retry_total",
			Help: "保存リトライの合計数",
		}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runvibe_save_failure_total",
			Help: "リトライを使い切った保存失敗の合計数",
		}),
		verifyMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runvibe_verify_mismatch_total",
			Help: "保存後検証で検出した不一致の合計数",
		}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "runvibe_reconcile_latency_seconds",
			Help:    "リコンサイル1操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runvibe_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.lapUpdates,
		c.saveRetries,
		c.saveFailures,
		c.verifyMismatches,
		c.reconcileLatency,
		c.httpStatus,
	)

	return c
}

// RecordLapUpdate は参加者更新操作を記録する。
func (c *Collector) RecordLapUpdate(action string) {
	c.lapUpdates.WithLabelValues(action).Inc()
}

// RecordSaveRetry は保存リトライを記録する。
func (c *Collector) RecordSaveRetry() {
	c.saveRetries.Inc()
}

// RecordSaveFailure はリトライを使い切った保存失敗を記録する。
func (c *Collector) RecordSaveFailure() {
	c.saveFailures.Inc()
}

// RecordVerifyMismatch は保存後検証の不一致を記録する。
func (c *Collector) RecordVerifyMismatch() {
	c.verifyMismatches.Inc()
}

// RecordReconcileLatency はリコンサイル操作のレイテンシを記録する。
func (c *Collector) RecordReconcileLatency(duration time.Duration) {
	c.reconcileLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
