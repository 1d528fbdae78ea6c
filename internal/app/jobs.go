package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/rollcall/internal/attendance"
	"github.com/hitoshi/rollcall/internal/config"
	"github.com/hitoshi/rollcall/internal/database"
	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/report"
	"github.com/hitoshi/rollcall/internal/repository"
	"github.com/hitoshi/rollcall/internal/worker/absentee"
)

// NewSweepCommand は欠席スイープを1回実行するコマンドを生成する。
func NewSweepCommand(stdio *IO) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandSweep),
		Short: "Mark every student without a record today as absent",
		Long: `今日の出欠レコードがない学生を欠席として記録する。
ABSENT_CUTOFFより前に実行した場合は何も記録しない。同じ日に何度実行してもよい。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(stdio.Log)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runSweep(cmd.Context(), cfg, stdio.Out)
		},
	}
}

// NewWorkerCommand は欠席スイープのスケジューラを起動するコマンドを生成する。
func NewWorkerCommand(stdio *IO) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run the absentee sweep on a schedule",
		Long: `SWEEP_SCHEDULEのcron式に従って欠席スイープを定期実行する。
起動直後にも1回実行する。METRICS_PORTを指定すると/metricsを公開する。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(stdio.Log)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runWorker(cmd.Context(), cfg)
		},
	}
}

// NewMigrateCommand はデータベースマイグレーションを実行するコマンドを生成する。
func NewMigrateCommand(stdio *IO) *cobra.Command {
	return &cobra.Command{
		Use:           string(CommandMigrate),
		Short:         "Apply database migrations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(stdio.Log)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg)
		},
	}
}

// ReportOptions はreportコマンドのフラグ。
type ReportOptions struct {
	Date    string
	Section string
	RegNo   string
	CSV     bool
	Out     string
}

// NewReportCommand は出欠レポートを表示またはCSV出力するコマンドを生成する。
func NewReportCommand(stdio *IO) *cobra.Command {
	opts := &ReportOptions{}

	cmd := &cobra.Command{
		Use:   string(CommandReport),
		Short: "Show or export the attendance report",
		Long: `出欠レポートを表として表示する。--csvを指定するとCSVファイルに出力する。

Example:
  rollcall report --date 2024-01-15 --section A
  rollcall report --csv --out attendance.csv
  rollcall report --csv --out -`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(stdio.Log)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runReport(cmd.Context(), cfg, opts, stdio.Out)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "filter by date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Section, "section", "", "filter by section")
	cmd.Flags().StringVar(&opts.RegNo, "reg-no", "", "filter by registration number")
	cmd.Flags().BoolVar(&opts.CSV, "csv", false, "export as CSV instead of printing a table")
	cmd.Flags().StringVar(&opts.Out, "out", "", "CSV output file (default attendance_export_YYYYMMDD_HHMMSS.csv, - for stdout)")

	return cmd
}

// NewHealthcheckCommand はヘルスチェックを実行するコマンドを生成する。
// 軽量サブコマンドのため設定の読み込みを行わない。
func NewHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:           string(CommandHealthcheck),
		Short:         "Check the local API server's /health endpoint",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(port)
		},
	}
}

// runSweep は欠席スイープを1回実行し、結果を表示する。
func runSweep(ctx context.Context, cfg *config.Config, out io.Writer) error {
	job, closeDB, err := newSweepJob(ctx, cfg, metrics.Nop{})
	if err != nil {
		return err
	}
	defer closeDB()

	result, err := job.Run(ctx)
	if err != nil {
		return err
	}
	printSweepResult(out, result, job.Cutoff)
	return nil
}

// printSweepResult はスイープ結果をオペレーター向けに表示する。
func printSweepResult(out io.Writer, result absentee.SweepResult, cutoff absentee.Cutoff) {
	if result.TooEarly {
		fmt.Fprintf(out, "%s 締め切り（%s）前のため欠席を記録しませんでした\n", result.Date, cutoff)
		return
	}
	fmt.Fprintf(out, "%s 欠席を記録しました: %d件（記録済み %d件）\n", result.Date, result.Marked, result.Skipped)
}

// runWorker はワーカーモードで起動する。
// コンテキストがキャンセルされるまで欠席スイープを定期実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	mc, waitMetrics := startMetricsServer(ctx, cfg)
	defer waitMetrics()

	job, closeDB, err := newSweepJob(ctx, cfg, mc)
	if err != nil {
		return err
	}
	defer closeDB()

	scheduler, err := absentee.NewScheduler(job, cfg.SweepSchedule, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("worker starting",
		slog.String("schedule", cfg.SweepSchedule),
		slog.String("cutoff", job.Cutoff.String()),
	)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newSweepJob はDBに接続し、設定の締め切り時刻で欠席スイープジョブを生成する。
func newSweepJob(ctx context.Context, cfg *config.Config, mc metrics.MetricsCollector) (*absentee.Job, func(), error) {
	cutoff, err := absentee.ParseCutoff(cfg.AbsentCutoff)
	if err != nil {
		return nil, nil, err
	}

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	job := absentee.NewJob(repository.NewPostgresAttendanceRepo(db), mc, slog.Default())
	job.Cutoff = cutoff
	return job, func() { db.Close() }, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// reportService はレポート出力に必要な出欠台帳の操作。
type reportService interface {
	Report(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error)
}

// runReport はDBに接続してレポートを出力する。
func runReport(ctx context.Context, cfg *config.Config, opts *ReportOptions, out io.Writer) error {
	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := attendance.NewService(repository.NewPostgresAttendanceRepo(db))
	return writeReport(ctx, svc, opts, out, time.Now())
}

// writeReport は条件に一致するレポート行を表またはCSVで書き出す。
// CSVの出力先が指定されていない場合はnowから生成したファイル名を使う。
func writeReport(ctx context.Context, svc reportService, opts *ReportOptions, out io.Writer, now time.Time) error {
	rows, err := svc.Report(ctx, model.ReportFilter{
		Date:    opts.Date,
		Section: opts.Section,
		RegNo:   opts.RegNo,
	})
	if err != nil {
		return err
	}

	if !opts.CSV {
		if len(rows) == 0 {
			fmt.Fprintln(out, "該当する出欠記録はありません")
			return nil
		}
		return report.WriteTable(out, rows)
	}

	if opts.Out == "-" {
		return report.WriteCSV(out, rows)
	}

	path := opts.Out
	if path == "" {
		path = report.ExportFileName(now)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := report.WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	fmt.Fprintf(out, "%d件を %s に出力しました\n", len(rows), path)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
