// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/taskmanager/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordAuthEvent(event, outcome string)
	SetUserCount(count int64)
	SetTaskCounts(counts model.TaskCounts)
	RecordSnapshotFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	authEvents      *prometheus.CounterVec
	users           prometheus.Gauge
	tasks           *prometheus.GaugeVec
	snapshotFailure prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmanager_http_requests_total",
			Help: "ルート・メソッド・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmanager_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmanager_auth_events_total",
			Help: "認証イベント（登録・ログイン・Googleサインイン・トークン検証）の件数",
		}, []string{"event", "outcome"}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskmanager_users",
			Help: "登録ユーザー数（定期スナップショット）",
		}),
		tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskmanager_tasks",
			Help: "状態別のタスク数（定期スナップショット）",
		}, []string{"state"}),
		snapshotFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmanager_snapshot_failures_total",
			Help: "統計スナップショット取得の失敗数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.authEvents,
		c.users,
		c.tasks,
		c.snapshotFailure,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
// routeにはURLではなくルートパターンを渡し、ラベルの種類数を抑える。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event, outcome string) {
	c.authEvents.WithLabelValues(event, outcome).Inc()
}

// SetUserCount は登録ユーザー数を設定する。
func (c *Collector) SetUserCount(count int64) {
	c.users.Set(float64(count))
}

// SetTaskCounts は状態別のタスク数を設定する。
func (c *Collector) SetTaskCounts(counts model.TaskCounts) {
	c.tasks.WithLabelValues("total").Set(float64(counts.Total))
	c.tasks.WithLabelValues("completed").Set(float64(counts.Completed))
	c.tasks.WithLabelValues("pending").Set(float64(counts.Pending()))
	c.tasks.WithLabelValues("overdue").Set(float64(counts.Overdue))
}

// RecordSnapshotFailure はスナップショット取得の失敗を記録する。
func (c *Collector) RecordSnapshotFailure() {
	c.snapshotFailure.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
