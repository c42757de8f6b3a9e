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
// セッション管理、認可ゲート、ハンドラー層から利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordSessionIssued()
	RecordSessionValidation(result string)
	RecordSessionRevoked()
	RecordAuthzDecision(outcome string)
	RecordSweepRemoved(kind string, count int)
	RecordHTTPStatus(statusCode int)
	RecordIdentityExchangeLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins           *prometheus.CounterVec
	sessionsIssued   prometheus.Counter
	validations      *prometheus.CounterVec
	sessionsRevoked  prometheus.Counter
	authzDecisions   *prometheus.CounterVec
	sweepRemoved     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	exchangeDuration prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_logins_total",
			Help: "ログイン試行の結果別件数",
		}, []string{"result"}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_sessions_issued_total",
			Help: "発行したセッションの合計数",
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_session_validations_total",
			Help: "セッション検証の結果別件数",
		}, []string{"result"}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_sessions_revoked_total",
			Help: "失効させたセッションの合計数",
		}),
		authzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_authz_decisions_total",
			Help: "認可判定の結果別件数",
		}, []string{"outcome"}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_sweep_removed_total",
			Help: "掃除処理で削除したエントリ数",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		exchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_identity_exchange_seconds",
			Help:    "IdPとの認可コード交換にかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.sessionsIssued,
		c.validations,
		c.sessionsRevoked,
		c.authzDecisions,
		c.sweepRemoved,
		c.httpRequests,
		c.exchangeDuration,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

// RecordSessionValidation はセッション検証結果を記録する。
func (c *Collector) RecordSessionValidation(result string) {
	c.validations.WithLabelValues(result).Inc()
}

// RecordSessionRevoked はセッション失効を記録する。
func (c *Collector) RecordSessionRevoked() {
	c.sessionsRevoked.Inc()
}

// RecordAuthzDecision は認可判定結果を記録する。
func (c *Collector) RecordAuthzDecision(outcome string) {
	c.authzDecisions.WithLabelValues(outcome).Inc()
}

// RecordSweepRemoved は掃除処理で削除した件数を種類別に記録する。
func (c *Collector) RecordSweepRemoved(kind string, count int) {
	c.sweepRemoved.WithLabelValues(kind).Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordIdentityExchangeLatency は認可コード交換のレイテンシを記録する。
func (c *Collector) RecordIdentityExchangeLatency(duration time.Duration) {
	c.exchangeDuration.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordLogin(string)                          {}
func (Nop) RecordSessionIssued()                        {}
func (Nop) RecordSessionValidation(string)              {}
func (Nop) RecordSessionRevoked()                       {}
func (Nop) RecordAuthzDecision(string)                  {}
func (Nop) RecordSweepRemoved(string, int)              {}
func (Nop) RecordHTTPStatus(int)                        {}
func (Nop) RecordIdentityExchangeLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
