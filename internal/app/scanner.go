package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hitoshi/rollcall/internal/config"
	"github.com/hitoshi/rollcall/internal/handoff"
	"github.com/hitoshi/rollcall/internal/hardware"
	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/repository"
	"github.com/hitoshi/rollcall/internal/security"
	"github.com/hitoshi/rollcall/internal/student"
	"github.com/hitoshi/rollcall/internal/worker/scan"
)

// errStdinConflict はlineドライバと対話入力が標準入力を奪い合う組み合わせで返される。
var errStdinConflict = errors.New("the line driver reads card UIDs from stdin and cannot be combined with interactive prompts")

// ScannerOptions はscannerコマンドのフラグ。
type ScannerOptions struct {
	Mode string
}

// NewScannerCommand はスキャンループを起動するコマンドを生成する。
func NewScannerCommand(stdio *IO) *cobra.Command {
	opts := &ScannerOptions{}

	cmd := &cobra.Command{
		Use:   string(CommandScanner),
		Short: "Start the card scan loop",
		Long: `カードリーダーからの読み取りと出欠記録を繰り返す。

  handoff      未登録カードのUIDをハンドオフスロットへ書き込む（デフォルト）
  interactive  未登録カードをその場で端末から登録する

--modeを省略した場合はSCAN_MODEの値を使う。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(stdio.Log)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			mode := cfg.ScanMode
			if cmd.Flags().Changed("mode") {
				mode = opts.Mode
			}
			return runScanner(cmd.Context(), cfg, mode, stdio)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", string(scan.ModeHandoff), "unknown card handling (handoff|interactive)")

	return cmd
}

// runScanner はスキャンループを起動する。
// 読み取り失敗が規定回数連続した場合はExitHardwareUnavailableで終了する。
func runScanner(ctx context.Context, cfg *config.Config, modeName string, stdio *IO) error {
	mode, err := scan.ParseMode(modeName)
	if err != nil {
		return err
	}
	if mode == scan.ModeInteractive && cfg.Hardware.Driver == config.HardwareDriverLine {
		return errStdinConflict
	}

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	mc, waitMetrics := startMetricsServer(ctx, cfg)
	defer waitMetrics()

	dev, err := openDevice(cfg, stdio.In)
	if err != nil {
		return err
	}
	defer releaseDevice(dev)

	attendanceRepo := repository.NewPostgresAttendanceRepo(db)

	var rec *scan.Reconciler
	switch mode {
	case scan.ModeInteractive:
		svc := student.NewService(repository.NewPostgresStudentRepo(db), security.NewFieldSanitizer())
		prompter := scan.NewTerminalPrompter(stdio.In, stdio.Out)
		rec = scan.NewInteractiveReconciler(attendanceRepo, svc, prompter, dev, mc, slog.Default())
	default:
		h, closeHandoff, err := openScannerHandoff(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeHandoff()
		rec = scan.NewHandoffReconciler(attendanceRepo, h, dev, mc, slog.Default())
	}
	rec.Tones = tones(cfg)

	slog.Info("starting scanner", slog.String("mode", string(mode)))
	return loopExitError(newLoop(cfg, dev, rec, mc).Run(ctx))
}

// openScannerHandoff はハンドオフスロットを開き、前回の起動で残ったUIDを消去する。
// スロットはスキャナの起動時点で常に空になる。
func openScannerHandoff(ctx context.Context, cfg *config.Config) (handoff.Handoff, func(), error) {
	h, closeHandoff, err := openHandoff(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := h.Reset(ctx); err != nil {
		closeHandoff()
		return nil, nil, err
	}
	return h, closeHandoff, nil
}

// newLoop は設定のクールダウンと失敗回数でスキャンループを生成する。
func newLoop(cfg *config.Config, reader hardware.Reader, rec scan.ScanReconciler, mc metrics.MetricsCollector) *scan.Loop {
	loop := scan.NewLoop(reader, rec, mc, slog.Default())
	loop.Cooldown = cfg.ScanCooldown
	loop.MaxReadFailures = cfg.ScanMaxReadFailures
	return loop
}

// loopExitError はリーダーが利用できなくなった場合に専用の終了コードを付与する。
func loopExitError(err error) error {
	if errors.Is(err, scan.ErrHardwareUnavailable) {
		return WrapExitError(ExitHardwareUnavailable, "scanner stopped", err)
	}
	return err
}
