// Package app はrollcallの各サブコマンドの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/rollcall/internal/config"
	"github.com/hitoshi/rollcall/internal/database"
	"github.com/hitoshi/rollcall/internal/handoff"
	"github.com/hitoshi/rollcall/internal/hardware"
	"github.com/hitoshi/rollcall/internal/logger"
	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/worker/scan"
)

const (
	// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの猶予時間。
	shutdownTimeout = 30 * time.Second
	// handoffPingTimeout はハンドオフ接続確認のタイムアウト。
	handoffPingTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込み、LOG_LEVELを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	return initWith(w, config.Load)
}

// InitLocal はDBを使わないコマンド向けの初期化を行う。DATABASE_URLを要求しない。
func InitLocal(w io.Writer) (*config.Config, error) {
	return initWith(w, config.LoadLocal)
}

func initWith(w io.Writer, load func() (*config.Config, error)) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	level.Set(lvl)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。wはログ出力先、stdin/stdoutは対話入力とコマンド出力に使う。
// SIGINTまたはSIGTERMを受信するとコンテキストをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand(&IO{In: os.Stdin, Out: os.Stdout, Log: w})
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// connectDB はDBに接続し、疎通を確認する。
func connectDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// openHandoff は設定されたバックエンドのハンドオフスロットを開く。
// 返されるclose関数は常に呼び出してよい。
func openHandoff(ctx context.Context, cfg *config.Config) (handoff.Handoff, func(), error) {
	if cfg.HandoffBackend != config.HandoffBackendRedis {
		return handoff.NewMemory(), func() {}, nil
	}

	h, err := handoff.NewRedis(cfg.RedisURL, cfg.HandoffKey, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open handoff: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, handoffPingTimeout)
	defer cancel()
	if err := h.Ping(pingCtx); err != nil {
		_ = h.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("handoff backend connected", slog.String("backend", cfg.HandoffBackend))
	closeFn := func() {
		if err := h.Close(); err != nil {
			slog.Warn("failed to close handoff", slog.String("error", err.Error()))
		}
	}
	return h, closeFn, nil
}

// openDevice はカードリーダーとブザーを開く。lineドライバはinから読み取る。
func openDevice(cfg *config.Config, in io.Reader) (hardware.Device, error) {
	dev, err := hardware.Open(hardware.Options{
		Driver:     cfg.Hardware.Driver,
		SPIPort:    cfg.Hardware.SPIPort,
		BuzzerPin:  cfg.Hardware.BuzzerPin,
		ResetPin:   cfg.Hardware.ResetPin,
		IRQPin:     cfg.Hardware.IRQPin,
		PollPeriod: cfg.Hardware.PollPeriod,
		Input:      in,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to open hardware: %w", err)
	}
	slog.Info("hardware opened", slog.String("driver", cfg.Hardware.Driver))
	return dev, nil
}

// releaseDevice はデバイスを解放し、失敗した場合はログに記録する。
func releaseDevice(dev hardware.Device) {
	if err := dev.Release(); err != nil {
		slog.Warn("failed to release hardware", slog.String("error", err.Error()))
	}
}

// tones は設定からブザーの鳴動パターンを組み立てる。
func tones(cfg *config.Config) scan.Tones {
	return scan.Tones{
		Short:      cfg.Hardware.Tones.Short,
		Long:       cfg.Hardware.Tones.Long,
		Registered: cfg.Hardware.Tones.Registered,
	}
}

// newRegistry はGoランタイムとプロセスのコレクターを登録したレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// startMetricsServer はMETRICS_PORTが設定されている場合に/metricsを公開するサーバーを起動する。
// 設定されていない場合はメトリクスを収集しない。
// 返される関数はctxのキャンセル後にサーバーの停止を待つ。
func startMetricsServer(ctx context.Context, cfg *config.Config) (metrics.MetricsCollector, func()) {
	if cfg.MetricsPort == "" {
		return metrics.Nop{}, func() {}
	}

	reg := newRegistry()
	mc := metrics.NewCollector(reg)
	server := newHTTPServer(cfg.MetricsPort, metrics.SetupMetricsRoute(reg))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := serveHTTP(ctx, server); err != nil {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	return mc, func() { <-done }
}

// newHTTPServer はタイムアウトを設定したhttp.Serverを生成する。
func newHTTPServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serveHTTP はctxがキャンセルされるまでサーバーを起動し、キャンセル後にグレースフルシャットダウンする。
func serveHTTP(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...", slog.String("addr", server.Addr))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully", slog.String("addr", server.Addr))
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
