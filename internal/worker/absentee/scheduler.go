package absentee

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule は毎日8時31分。締め切りの直後に実行する。
const DefaultSchedule = "31 8 * * *"

// runTimeout はスケジュール実行1回あたりの上限時間。
const runTimeout = 2 * time.Minute

// Scheduler はcron式に従って欠席スイープを定期実行する。
// 前回の実行が終わっていない場合、その回はスキップする。
type Scheduler struct {
	job      *Job
	schedule string
	logger   *slog.Logger
}

// NewScheduler はSchedulerを生成する。cron式が不正な場合はエラーを返す。
func NewScheduler(job *Job, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return &Scheduler{job: job, schedule: schedule, logger: logger}, nil
}

// Start は起動直後に1回実行した後、スケジュールに従って実行を続ける。
// コンテキストがキャンセルされると、実行中のスイープの終了を待って戻る。
func (s *Scheduler) Start(ctx context.Context) error {
	cronLogger := &slogCronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(time.Local),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if _, err := c.AddFunc(s.schedule, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to add sweep schedule: %w", err)
	}

	s.logger.Info("欠席スイープスケジューラを開始しました",
		slog.String("schedule", s.schedule),
		slog.String("cutoff", s.job.Cutoff.String()),
	)

	// 起動直後に1回実行
	s.runOnce(ctx)

	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	s.logger.Info("欠席スイープスケジューラを停止しました")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	// エラーはJob.Run内でログに記録済み
	_, _ = s.job.Run(runCtx)
}

// slogCronLogger はcron.Loggerをslogに適合させる。
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}

var _ cron.Logger = (*slogCronLogger)(nil)
