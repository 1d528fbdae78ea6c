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
// スキャンループ、欠席スイープ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordScan(outcome string)
	RecordScanLatency(duration time.Duration)
	RecordReaderFailure()
	RecordSweep(marked, skipped int, tooEarly bool)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	scans          *prometheus.CounterVec
	scanLatency    prometheus.Histogram
	readerFailures prometheus.Counter
	sweepRuns      *prometheus.CounterVec
	sweepMarked    prometheus.Counter
	sweepSkipped   prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_scans_total",
			Help: "判定結果別のカードスキャン数",
		}, []string{"outcome"}),
		scanLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_scan_latency_seconds",
			Help:    "カード読み取りから判定完了までの時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		readerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_reader_failures_total",
			Help: "カードリーダーの読み取り失敗の合計数",
		}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_sweep_runs_total",
			Help: "結果別の欠席スイープ実行回数",
		}, []string{"result"}),
		sweepMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sweep_marked_total",
			Help: "欠席スイープで欠席とされた学生数の合計",
		}),
		sweepSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_sweep_skipped_total",
			Help: "欠席スイープで既存レコードによりスキップされた学生数の合計",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.scans,
		c.scanLatency,
		c.readerFailures,
		c.sweepRuns,
		c.sweepMarked,
		c.sweepSkipped,
		c.httpStatus,
	)

	return c
}

// RecordScan はスキャンの判定結果を記録する。
func (c *Collector) RecordScan(outcome string) {
	c.scans.WithLabelValues(outcome).Inc()
}

// RecordScanLatency はスキャン1回分の処理時間を記録する。
func (c *Collector) RecordScanLatency(duration time.Duration) {
	c.scanLatency.Observe(duration.Seconds())
}

// RecordReaderFailure はリーダーの読み取り失敗を記録する。
func (c *Collector) RecordReaderFailure() {
	c.readerFailures.Inc()
}

// RecordSweep は欠席スイープの結果を記録する。
func (c *Collector) RecordSweep(marked, skipped int, tooEarly bool) {
	if tooEarly {
		c.sweepRuns.WithLabelValues("too_early").Inc()
		return
	}
	c.sweepRuns.WithLabelValues("completed").Inc()
	c.sweepMarked.Add(float64(marked))
	c.sweepSkipped.Add(float64(skipped))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// スキャナやワーカーなどAPIサーバーを持たないプロセスで使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordScan(string) {}
func (Nop) RecordScanLatency(time.Duration) {}
func (Nop) RecordReaderFailure() {}
func (Nop) RecordSweep(int, int, bool) {}
func (Nop) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
