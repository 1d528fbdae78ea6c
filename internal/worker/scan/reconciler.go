package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/rollcall/internal/handoff"
	"github.com/hitoshi/rollcall/internal/hardware"
	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/repository"
	"github.com/hitoshi/rollcall/internal/student"
)

// storeTimeout はスキャン1回分の書き込みに許す最大時間。
// 停止要求を受けても開始済みの書き込みはこの時間まで継続する。
const storeTimeout = 10 * time.Second

// Registrar は学生登録と当日の出席記録をまとめて行う。
type Registrar interface {
	RegisterPresent(ctx context.Context, input student.RegisterInput, at time.Time) (*model.Student, *model.AttendanceRecord, error)
}

// RegistrationPrompter は未登録カードの学生情報をオペレーターに尋ねる。
// okがfalseの場合はオペレーターが登録を見送った。
type RegistrationPrompter interface {
	Prompt(ctx context.Context, uid string) (input student.RegisterInput, ok bool, err error)
}

// Reconciler はスキャンされたUIDを照合して結果を判定する。
type Reconciler struct {
	attendance repository.AttendanceRepository
	handoff    handoff.Handoff
	registrar  Registrar
	prompter   RegistrationPrompter
	signaler   hardware.Signaler
	metrics    metrics.MetricsCollector
	logger     *slog.Logger

	Tones Tones
	Now   func() time.Time
}

// NewHandoffReconciler は未登録カードをハンドオフスロットへ渡すReconcilerを生成する。
func NewHandoffReconciler(
	attendance repository.AttendanceRepository,
	h handoff.Handoff,
	signaler hardware.Signaler,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		attendance: attendance,
		handoff:    h,
		signaler:   signaler,
		metrics:    mc,
		logger:     logger,
		Tones:      DefaultTones(),
		Now:        time.Now,
	}
}

// NewInteractiveReconciler は未登録カードをその場で登録するReconcilerを生成する。
func NewInteractiveReconciler(
	attendance repository.AttendanceRepository,
	registrar Registrar,
	prompter RegistrationPrompter,
	signaler hardware.Signaler,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		attendance: attendance,
		registrar:  registrar,
		prompter:   prompter,
		signaler:   signaler,
		metrics:    mc,
		logger:     logger,
		Tones:      DefaultTones(),
		Now:        time.Now,
	}
}

// Mode はReconcilerの運用モードを返す。
func (r *Reconciler) Mode() Mode {
	if r.prompter != nil {
		return ModeInteractive
	}
	return ModeHandoff
}

// Reconcile はスキャン1回分を処理する。
// 時刻は1回だけ読み取り、日付と時刻の両方をそこから求める。
// ストレージ障害の場合は何も書き込まずにエラーを返す。
func (r *Reconciler) Reconcile(ctx context.Context, raw string) (Result, error) {
	uid, ok := hardware.NormalizeUID(raw)
	if !ok {
		return Result{}, ErrEmptyUID
	}
	now := r.Now()

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	presence, err := r.attendance.RecordPresence(storeCtx, uid, now)
	if err != nil {
		return Result{UID: uid}, fmt.Errorf("出席の記録に失敗しました: %w", err)
	}

	if presence.Student == nil {
		return r.unmatched(ctx, storeCtx, uid, now)
	}

	result := Result{UID: uid, Student: presence.Student, Record: presence.Record}
	if presence.Inserted {
		result.Outcome = OutcomePresent
		r.signaler.Signal(r.Tones.Long)
	} else {
		result.Outcome = OutcomeDuplicate
		r.signaler.Signal(r.Tones.Short)
	}
	r.metrics.RecordScan(string(result.Outcome))
	return result, nil
}

// unmatched は未登録カードを処理する。
// 対話モードの登録はオペレーターの入力後に新しい書き込み期限を設ける。
func (r *Reconciler) unmatched(ctx, storeCtx context.Context, uid string, now time.Time) (Result, error) {
	r.signaler.Signal(r.Tones.Short)

	if r.prompter == nil {
		r.metrics.RecordScan(string(OutcomeUnmatched))
		if err := r.handoff.SetLatest(storeCtx, uid); err != nil {
			return Result{Outcome: OutcomeUnmatched, UID: uid}, fmt.Errorf("未登録UIDの受け渡しに失敗しました: %w", err)
		}
		return Result{Outcome: OutcomeUnmatched, UID: uid}, nil
	}

	input, ok, err := r.prompter.Prompt(ctx, uid)
	if err != nil {
		r.metrics.RecordScan(string(OutcomeUnmatched))
		return Result{Outcome: OutcomeUnmatched, UID: uid}, fmt.Errorf("登録情報の入力に失敗しました: %w", err)
	}
	if !ok {
		r.metrics.RecordScan(string(OutcomeSkipped))
		return Result{Outcome: OutcomeSkipped, UID: uid}, nil
	}

	input.UID = uid
	regCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	st, record, err := r.registrar.RegisterPresent(regCtx, input, now)
	if err != nil {
		r.metrics.RecordScan(string(OutcomeUnmatched))
		return Result{Outcome: OutcomeUnmatched, UID: uid}, fmt.Errorf("学生の登録に失敗しました: %w", err)
	}

	r.signaler.Signal(r.Tones.Registered)
	r.metrics.RecordScan(string(OutcomeRegistered))
	return Result{Outcome: OutcomeRegistered, UID: uid, Student: st, Record: record}, nil
}
