// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/rollcall/internal/model"
)

var (
	// ErrNotFound は削除などの対象が存在しない場合に返される。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate は一意制約に違反した場合に返される。
	ErrDuplicate = errors.New("duplicate key")
	// ErrAttendanceExists は同じUIDと日付の出欠レコードが既に存在する場合に返される。
	ErrAttendanceExists = errors.New("attendance already recorded")
)

// StudentRepository は学生レジストリの永続化インターフェース。
type StudentRepository interface {
	// FindByUID は指定UIDの学生を取得する。見つからない場合はnilを返す。
	FindByUID(ctx context.Context, uid string) (*model.Student, error)

	// List は全学生をUID順で返す。
	List(ctx context.Context) ([]*model.Student, error)

	// Create は学生を登録する。UIDが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, student *model.Student) error

	// CreateWithAttendance は学生の登録と出欠レコードの挿入を同一トランザクションで行う。
	// 対話モードでの未登録カード登録に使用する。
	// UIDが既に存在する場合はErrDuplicate、当日の出欠レコードが既に存在する場合はErrAttendanceExistsを返す。
	CreateWithAttendance(ctx context.Context, student *model.Student, record *model.AttendanceRecord) error

	// DeleteWithAttendance は学生とそのUIDの出欠レコードを同一トランザクションで削除する。
	// 学生が存在しない場合はErrNotFoundを返す。
	DeleteWithAttendance(ctx context.Context, uid string) error
}

// PresenceResult はスキャン1回分の出席記録処理の結果。
type PresenceResult struct {
	// Student はUIDに一致した学生。未登録の場合はnil。
	Student *model.Student
	// Record はそのUIDの当日の出欠レコード。Insertedがfalseの場合は既存のレコード。
	// Studentがnilの場合はnil。
	Record *model.AttendanceRecord
	// Inserted は新規に出席レコードが挿入された場合にtrue。
	// 当日のレコードが既に存在した場合はfalse。
	Inserted bool
}

// AttendanceRepository は出欠台帳の永続化インターフェース。
type AttendanceRepository interface {
	// RecordPresence は学生の検索と当日の出席レコードの挿入を同一トランザクションで行う。
	// 日付と時刻はatから求める。(uid, date) の一意制約により、同日2件目以降は挿入されない。
	RecordPresence(ctx context.Context, uid string, at time.Time) (*PresenceResult, error)

	// MarkAbsent は指定日にレコードを持たない全学生に欠席レコードを挿入する。
	// 挿入件数と学生総数を返す。
	MarkAbsent(ctx context.Context, date, timeOfDay string) (marked int, total int, err error)

	// ListAll は全出欠レコードを日付・時刻の降順で返す。
	ListAll(ctx context.Context) ([]model.AttendanceRecord, error)

	// ListByDate は指定日の出欠レコードを時刻の降順で返す。
	ListByDate(ctx context.Context, date string) ([]model.AttendanceRecord, error)

	// Report は学生情報と出欠レコードを結合し、フィルタに一致する行を日付・時刻の降順で返す。
	Report(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// isUniqueViolation はエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
