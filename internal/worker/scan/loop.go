package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/rollcall/internal/hardware"
	"github.com/hitoshi/rollcall/internal/metrics"
)

const (
	// DefaultCooldown はスキャン後に次の読み取りまで待つ時間。
	// 同じカードをかざし続けた場合の連続読み取りを抑える。
	DefaultCooldown = 1500 * time.Millisecond
	// DefaultMaxReadFailures は致命的とみなす連続読み取り失敗回数。
	DefaultMaxReadFailures = 3
)

// ScanReconciler はスキャン1回分の照合インターフェース。
type ScanReconciler interface {
	Reconcile(ctx context.Context, raw string) (Result, error)
}

// Loop はリーダーからの読み取りと照合を繰り返すワーカー。
type Loop struct {
	reader     hardware.Reader
	reconciler ScanReconciler
	metrics    metrics.MetricsCollector
	logger     *slog.Logger

	Cooldown        time.Duration
	MaxReadFailures int
}

// NewLoop はLoopの新しいインスタンスを生成する。
func NewLoop(reader hardware.Reader, reconciler ScanReconciler, mc metrics.MetricsCollector, logger *slog.Logger) *Loop {
	return &Loop{
		reader:          reader,
		reconciler:      reconciler,
		metrics:         mc,
		logger:          logger,
		Cooldown:        DefaultCooldown,
		MaxReadFailures: DefaultMaxReadFailures,
	}
}

// Run はコンテキストがキャンセルされるまでスキャンを処理する。
// キャンセル時は処理中のスキャンを終えてからnilを返す。
// 読み取り失敗がMaxReadFailures回連続した場合はErrHardwareUnavailableを返す。
// 照合の失敗はログに記録して処理を継続する。
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("スキャンループを開始しました",
		slog.Duration("cooldown", l.Cooldown),
		slog.Int("max_read_failures", l.MaxReadFailures),
	)

	failures := 0
	for {
		if ctx.Err() != nil {
			l.logger.Info("スキャンループを停止しました")
			return nil
		}

		raw, err := l.reader.ReadCard(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("スキャンループを停止しました")
				return nil
			}
			failures++
			l.metrics.RecordReaderFailure()
			l.logger.Warn("カードの読み取りに失敗しました",
				slog.String("error", err.Error()),
				slog.Int("consecutive_failures", failures),
			)
			if failures >= l.MaxReadFailures {
				l.logger.Error("カードリーダーが利用できません",
					slog.Int("consecutive_failures", failures),
				)
				return fmt.Errorf("%w: %d consecutive read failures: %w", ErrHardwareUnavailable, failures, err)
			}
			sleep(ctx, readRetryDelay(failures))
			continue
		}
		failures = 0

		start := time.Now()
		result, err := l.reconciler.Reconcile(ctx, raw)
		l.metrics.RecordScanLatency(time.Since(start))
		l.logResult(result, err)

		sleep(ctx, l.Cooldown)
	}
}

func (l *Loop) logResult(result Result, err error) {
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, ErrEmptyUID) {
			level = slog.LevelWarn
		}
		l.logger.Log(context.Background(), level, "スキャンの処理に失敗しました",
			slog.String("uid", result.UID),
			slog.String("outcome", string(result.Outcome)),
			slog.String("error", err.Error()),
		)
		return
	}

	attrs := []any{
		slog.String("uid", result.UID),
		slog.String("outcome", string(result.Outcome)),
	}
	if result.Student != nil {
		attrs = append(attrs, slog.String("name", result.Student.Name))
	}
	if result.Record != nil {
		attrs = append(attrs, slog.String("date", result.Record.Date), slog.String("time", result.Record.Time))
	}

	switch result.Outcome {
	case OutcomePresent:
		l.logger.Info("出席を記録しました", attrs...)
	case OutcomeDuplicate:
		l.logger.Info("本日は記録済みです", attrs...)
	case OutcomeUnmatched:
		l.logger.Info("未登録のカードです", attrs...)
	case OutcomeRegistered:
		l.logger.Info("学生を登録し出席を記録しました", attrs...)
	case OutcomeSkipped:
		l.logger.Info("登録を見送りました", attrs...)
	}
}

// sleep はdの経過またはコンテキストのキャンセルまで待つ。
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
