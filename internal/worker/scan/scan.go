// Package scan はカードスキャンの照合ループを提供する。
// リーダーから読み取ったUIDを学生レジストリと照合し、
// 出席の記録、重複の判定、未登録カードの受け渡しを行う。
package scan

import (
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/rollcall/internal/model"
)

// ErrHardwareUnavailable はリーダーの読み取り失敗が規定回数連続した場合に返される。
// オペレーターによる対応が必要な致命的エラー。
var ErrHardwareUnavailable = errors.New("card reader unavailable")

// ErrEmptyUID は正規化後のUIDが空の場合に返される。
var ErrEmptyUID = errors.New("empty card uid")

// Outcome はスキャン1回分の判定結果。
type Outcome string

const (
	// OutcomePresent は当日初回のスキャンで出席を記録したことを表す。
	OutcomePresent Outcome = "present"
	// OutcomeDuplicate は当日のレコードが既にあり何も記録しなかったことを表す。
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeUnmatched は未登録のカードであることを表す。
	OutcomeUnmatched Outcome = "unmatched"
	// OutcomeRegistered は対話モードでその場で登録し出席を記録したことを表す。
	OutcomeRegistered Outcome = "registered"
	// OutcomeSkipped は対話モードでオペレーターが登録を見送ったことを表す。
	OutcomeSkipped Outcome = "skipped"
)

// Result はスキャン1回分の処理結果。
type Result struct {
	Outcome Outcome
	UID     string
	Student *model.Student
	Record  *model.AttendanceRecord
}

// Mode はスキャナの運用モード。2つのモードは排他。
type Mode string

const (
	// ModeHandoff は未登録カードのUIDをハンドオフスロットへ書き込むモード。
	// オペレーターの入力を待つことはない。
	ModeHandoff Mode = "handoff"
	// ModeInteractive は未登録カードをその場で端末から登録するモード。
	ModeInteractive Mode = "interactive"
)

// ParseMode は文字列をModeに変換する。
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeHandoff, ModeInteractive:
		return Mode(s), nil
	case "":
		return ModeHandoff, nil
	default:
		return "", fmt.Errorf("unknown scan mode: %q", s)
	}
}

// Tones は判定結果ごとのブザー鳴動時間。
type Tones struct {
	Short      time.Duration
	Long       time.Duration
	Registered time.Duration
}

// DefaultTones は重複・未登録で0.2秒、出席で0.5秒、登録で0.6秒。
func DefaultTones() Tones {
	return Tones{
		Short:      200 * time.Millisecond,
		Long:       500 * time.Millisecond,
		Registered: 600 * time.Millisecond,
	}
}
