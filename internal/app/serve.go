package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/hitoshi/rollcall/internal/attendance"
	"github.com/hitoshi/rollcall/internal/config"
	"github.com/hitoshi/rollcall/internal/handler"
	"github.com/hitoshi/rollcall/internal/handoff"
	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/middleware"
	"github.com/hitoshi/rollcall/internal/repository"
	"github.com/hitoshi/rollcall/internal/security"
	"github.com/hitoshi/rollcall/internal/student"
	"github.com/hitoshi/rollcall/internal/worker/scan"
)

// NewServeCommand はAPIサーバーを起動するコマンドを生成する。
func NewServeCommand(stdio *IO) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server",
		Long: `学生レジストリと出欠台帳のHTTP APIを起動する。

未登録カードのUIDはHANDOFF_BACKENDで指定したスロットから読み取る。
スキャナを別プロセスで動かす場合はHANDOFF_BACKEND=redisを指定する。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(stdio.Log)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

// NewRunCommand はAPIサーバーとスキャンループを1プロセスで起動するコマンドを生成する。
func NewRunCommand(stdio *IO) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandRun),
		Short: "Start the HTTP API and the scan loop in one process",
		Long: `HTTP APIとハンドオフモードのスキャンループを1プロセスで起動する。
未登録カードのUIDはプロセス内のメモリスロットで受け渡す。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(stdio.Log)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runAll(cmd.Context(), cfg, stdio)
		},
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// コンテキストがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	h, closeHandoff, err := openHandoff(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHandoff()

	router, _, stopRouter := buildRouter(cfg, db, h)
	defer stopRouter()

	slog.Info("starting API server",
		slog.String("port", cfg.ServerPort),
		slog.String("handoff_backend", cfg.HandoffBackend),
	)
	return serveHTTP(ctx, newHTTPServer(cfg.ServerPort, router))
}

// runAll はAPIサーバーとスキャンループを同じプロセスで起動する。
// どちらかが異常終了した場合はもう一方も停止する。
func runAll(ctx context.Context, cfg *config.Config, stdio *IO) error {
	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	dev, err := openDevice(cfg, stdio.In)
	if err != nil {
		return err
	}
	defer releaseDevice(dev)

	h := handoff.NewMemory()
	// スキャンループはAPIと同じメトリクスレジストリに記録する
	router, mc, stopRouter := buildRouter(cfg, db, h)
	defer stopRouter()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rec := scan.NewHandoffReconciler(repository.NewPostgresAttendanceRepo(db), h, dev, mc, slog.Default())
	rec.Tones = tones(cfg)
	loop := newLoop(cfg, dev, rec, mc)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- serveHTTP(ctx, newHTTPServer(cfg.ServerPort, router))
		cancel()
	}()

	slog.Info("starting API server and scan loop", slog.String("port", cfg.ServerPort))
	loopErr := loop.Run(ctx)
	cancel()

	return errors.Join(loopExitError(loopErr), <-serverErr)
}

// buildRouter はAPIの依存関係をワイヤリングしたルーターを生成する。
// 返される関数はレート制限のバックグラウンド処理を停止する。
func buildRouter(cfg *config.Config, db *sql.DB, h handoff.Handoff) (http.Handler, metrics.MetricsCollector, func()) {
	studentRepo := repository.NewPostgresStudentRepo(db)
	attendanceRepo := repository.NewPostgresAttendanceRepo(db)

	reg := newRegistry()
	mc := metrics.NewCollector(reg)

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitRegistration),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           mc,
		HealthChecker:     db,
		Gatherer:          reg,
		StudentService:    student.NewService(studentRepo, security.NewFieldSanitizer()),
		AttendanceService: attendance.NewService(attendanceRepo),
		Handoff:           h,
	})

	return router, mc, rateLimiter.Stop
}
