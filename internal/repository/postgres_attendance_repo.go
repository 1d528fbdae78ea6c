package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rollcall/internal/model"
)

// PostgresAttendanceRepo はPostgreSQLを使用した出欠台帳リポジトリ。
type PostgresAttendanceRepo struct {
	db *sql.DB
}

// NewPostgresAttendanceRepo はPostgresAttendanceRepoを生成する。
func NewPostgresAttendanceRepo(db *sql.DB) *PostgresAttendanceRepo {
	return &PostgresAttendanceRepo{db: db}
}

const selectAttendanceColumns = `SELECT id, uid, name,
	to_char(attendance_date, 'YYYY-MM-DD'),
	to_char(attendance_time, 'HH24:MI:SS'),
	status
	FROM attendance`

const attendanceOrder = ` ORDER BY attendance_date DESC, attendance_time DESC`

// RecordPresence は学生の検索と当日の出席レコードの挿入を同一トランザクションで行う。
// 学生が未登録の場合は何も書き込まず、Studentがnilの結果を返す。
// 当日のレコードが既に存在した場合は、挿入を試みた値ではなく既存のレコードを返す。
func (r *PostgresAttendanceRepo) RecordPresence(ctx context.Context, uid string, at time.Time) (*PresenceResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	s := &model.Student{}
	err = tx.QueryRowContext(ctx,
		selectStudentColumns+` WHERE uid = $1 FOR SHARE`,
		uid,
	).Scan(&s.UID, &s.Name, &s.RegNo, &s.Department, &s.Year, &s.Section, &s.Image)
	if err == sql.ErrNoRows {
		return &PresenceResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find student for scan: %w", err)
	}

	record := model.NewAttendanceRecord(uuid.New().String(), uid, s.Name, at, model.AttendanceStatusPresent)
	inserted, err := insertAttendance(ctx, tx, &record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		var status string
		err = tx.QueryRowContext(ctx,
			selectAttendanceColumns+` WHERE uid = $1 AND attendance_date = $2::date`,
			uid, record.Date,
		).Scan(&record.ID, &record.UID, &record.Name, &record.Date, &record.Time, &status)
		if err != nil {
			return nil, fmt.Errorf("failed to find existing attendance: %w", err)
		}
		record.Status = model.AttendanceStatus(status)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &PresenceResult{
		Student:  s,
		Record:   &record,
		Inserted: inserted,
	}, nil
}

// MarkAbsent は指定日にレコードを持たない全学生に欠席レコードを挿入する。
// 学生数の取得と一括挿入を同一トランザクションで行う。
// 既にレコードを持つ学生は (uid, date) の一意制約によりスキップされる。
func (r *PostgresAttendanceRepo) MarkAbsent(ctx context.Context, date, timeOfDay string) (int, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM students`).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("failed to count students: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO attendance (id, uid, name, attendance_date, attendance_time, status)
		 SELECT gen_random_uuid(), s.uid, s.name, $1::date, $2::time, $3
		 FROM students s
		 ON CONFLICT (uid, attendance_date) DO NOTHING`,
		date, timeOfDay, string(model.AttendanceStatusAbsent),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to insert absences: %w", err)
	}
	marked, err := result.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return int(marked), total, nil
}

// ListAll は全出欠レコードを日付・時刻の降順で返す。
func (r *PostgresAttendanceRepo) ListAll(ctx context.Context) ([]model.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectAttendanceColumns+attendanceOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	defer rows.Close()

	return scanAttendanceRows(rows)
}

// ListByDate は指定日の出欠レコードを時刻の降順で返す。
func (r *PostgresAttendanceRepo) ListByDate(ctx context.Context, date string) ([]model.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectAttendanceColumns+` WHERE attendance_date = $1::date`+attendanceOrder,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance by date: %w", err)
	}
	defer rows.Close()

	return scanAttendanceRows(rows)
}

// Report は学生情報と出欠レコードを結合し、フィルタに一致する行を日付・時刻の降順で返す。
// 空のフィルタ項目は条件に含めない。
func (r *PostgresAttendanceRepo) Report(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT s.name, s.reg_no, s.section, s.department, s.year,
		to_char(a.attendance_date, 'YYYY-MM-DD'),
		to_char(a.attendance_time, 'HH24:MI:SS'),
		a.status
		FROM students s
		JOIN attendance a ON s.uid = a.uid
		WHERE 1=1`)

	var args []any
	if filter.Date != "" {
		args = append(args, filter.Date)
		fmt.Fprintf(&sb, " AND a.attendance_date = $%d::date", len(args))
	}
	if filter.Section != "" {
		args = append(args, filter.Section)
		fmt.Fprintf(&sb, " AND s.section = $%d", len(args))
	}
	if filter.RegNo != "" {
		args = append(args, filter.RegNo)
		fmt.Fprintf(&sb, " AND s.reg_no = $%d", len(args))
	}
	sb.WriteString(` ORDER BY a.attendance_date DESC, a.attendance_time DESC`)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	defer rows.Close()

	result := []model.ReportRow{}
	for rows.Next() {
		var row model.ReportRow
		var status string
		if err := rows.Scan(&row.Name, &row.RegNo, &row.Section, &row.Department, &row.Year, &row.Date, &row.Time, &status); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		row.Status = model.AttendanceStatus(status)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report rows: %w", err)
	}

	return result, nil
}

func scanAttendanceRows(rows *sql.Rows) ([]model.AttendanceRecord, error) {
	records := []model.AttendanceRecord{}
	for rows.Next() {
		var rec model.AttendanceRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.UID, &rec.Name, &rec.Date, &rec.Time, &status); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		rec.Status = model.AttendanceStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendance: %w", err)
	}
	return records, nil
}

// insertAttendance は出欠レコードを挿入する。
// 同一 (uid, date) のレコードが既にある場合は挿入せずfalseを返す。
func insertAttendance(ctx context.Context, db execer, record *model.AttendanceRecord) (bool, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO attendance (id, uid, name, attendance_date, attendance_time, status)
		 VALUES ($1, $2, $3, $4::date, $5::time, $6)
		 ON CONFLICT (uid, attendance_date) DO NOTHING`,
		record.ID, record.UID, record.Name, record.Date, record.Time, string(record.Status),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert attendance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ AttendanceRepository = (*PostgresAttendanceRepo)(nil)
