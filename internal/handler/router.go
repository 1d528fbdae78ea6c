package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/rollcall/internal/handoff"
	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector

	// ヘルスチェックとメトリクス公開。nilの場合はDB疎通確認と/metricsを省略する。
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer

	// 学生レジストリ
	StudentService StudentServiceInterface

	// 出欠台帳
	AttendanceService AttendanceServiceInterface

	// 未登録カードの受け渡し
	Handoff handoff.Handoff
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// ヘルスチェックとメトリクスはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	studentHandler := NewStudentHandler(deps.StudentService)
	attendanceHandler := NewAttendanceHandler(deps.AttendanceService)
	scannerHandler := NewScannerHandler(deps.Handoff)

	// --- レート制限対象外のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- API ---
	r.Group(func(r chi.Router) {
		registration := func(next http.Handler) http.Handler { return next }
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			registration = deps.RateLimiter.RegistrationMiddleware()
		}

		r.Get("/", Root)

		// 学生レジストリ
		r.Route("/students", func(r chi.Router) {
			r.Get("/", studentHandler.ListStudents)
			// POST /students - 学生登録（登録専用レート制限を追加）
			r.With(registration).Post("/", studentHandler.RegisterStudent)

			r.Route("/{uid}", func(r chi.Router) {
				r.Get("/", studentHandler.GetStudent)
				r.Delete("/", studentHandler.DeleteStudent)
			})
		})

		// 出欠台帳
		r.Route("/attendance", func(r chi.Router) {
			r.Get("/", attendanceHandler.ListAttendance)
			r.Get("/today", attendanceHandler.ListToday)
			r.Get("/report", attendanceHandler.Report)
		})

		// スキャナー連携
		r.Get("/scanner/latest", scannerHandler.Latest)
	})

	return r
}
