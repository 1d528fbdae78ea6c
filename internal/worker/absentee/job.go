// Package absentee は締め切り時刻後に当日の欠席を確定する欠席スイープを提供する。
// 当日のレコードを持たない全学生に欠席レコードを挿入する。
// 既にレコードを持つ学生は (uid, date) の一意制約によりスキップされるため、
// 同日に何度実行しても結果は変わらない。
package absentee

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/model"
)

// Sweeper は欠席レコードの一括挿入を抽象化するインターフェース。
// repository.AttendanceRepository が満たす。
type Sweeper interface {
	MarkAbsent(ctx context.Context, date, timeOfDay string) (marked int, total int, err error)
}

// Cutoff は欠席確定の締め切り時刻（時:分）。
type Cutoff struct {
	Hour   int
	Minute int
}

// DefaultCutoff は8時30分。
var DefaultCutoff = Cutoff{Hour: 8, Minute: 30}

// ParseCutoff は"HH:MM"形式の文字列をCutoffに変換する。
func ParseCutoff(s string) (Cutoff, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Cutoff{}, fmt.Errorf("invalid cutoff %q: want HH:MM", s)
	}
	return Cutoff{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// String は"HH:MM"形式を返す。
func (c Cutoff) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// TimeOfDay は欠席レコードに記録する時刻（"HH:MM:00"）を返す。
func (c Cutoff) TimeOfDay() string {
	return fmt.Sprintf("%02d:%02d:00", c.Hour, c.Minute)
}

// before はtの時刻が締め切りより前かを判定する。
func (c Cutoff) before(t time.Time) bool {
	h, m, _ := t.Clock()
	if h != c.Hour {
		return h < c.Hour
	}
	return m < c.Minute
}

// SweepResult は欠席スイープ1回分の結果。
type SweepResult struct {
	Date     string
	TooEarly bool
	Marked   int
	Skipped  int
}

// Job は欠席スイープジョブ。
type Job struct {
	sweeper Sweeper
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	Cutoff Cutoff
	Now    func() time.Time
}

// NewJob は新しいJobを生成する。
// デフォルトの締め切りは8時30分。
func NewJob(sweeper Sweeper, mc metrics.MetricsCollector, logger *slog.Logger) *Job {
	return &Job{
		sweeper: sweeper,
		metrics: mc,
		logger:  logger,
		Cutoff:  DefaultCutoff,
		Now:     time.Now,
	}
}

// Run は欠席スイープを実行する。
// 締め切り前の場合は何も書き込まずTooEarlyを返す。
// 学生数の取得と欠席レコードの挿入は同一トランザクションで行われる。
func (j *Job) Run(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := j.Now()
	result := SweepResult{Date: now.Format(model.DateLayout)}

	if j.Cutoff.before(now) {
		result.TooEarly = true
		j.metrics.RecordSweep(0, 0, true)
		j.logger.Info("締め切り前のため欠席スイープを実行しません",
			slog.String("date", result.Date),
			slog.String("cutoff", j.Cutoff.String()),
		)
		return result, nil
	}

	marked, total, err := j.sweeper.MarkAbsent(ctx, result.Date, j.Cutoff.TimeOfDay())
	if err != nil {
		j.logger.Error("欠席スイープの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("date", result.Date),
		)
		return SweepResult{}, fmt.Errorf("欠席スイープの実行に失敗: %w", err)
	}

	result.Marked = marked
	result.Skipped = total - marked
	j.metrics.RecordSweep(result.Marked, result.Skipped, false)

	j.logger.Info("欠席スイープが完了しました",
		slog.String("date", result.Date),
		slog.Int("marked", result.Marked),
		slog.Int("skipped", result.Skipped),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result, nil
}
