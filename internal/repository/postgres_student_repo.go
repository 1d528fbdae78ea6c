package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rollcall/internal/model"
)

// PostgresStudentRepo はPostgreSQLを使用した学生リポジトリ。
type PostgresStudentRepo struct {
	db *sql.DB
}

// NewPostgresStudentRepo はPostgresStudentRepoを生成する。
func NewPostgresStudentRepo(db *sql.DB) *PostgresStudentRepo {
	return &PostgresStudentRepo{db: db}
}

const selectStudentColumns = `SELECT uid, name, reg_no, department, year, section, image FROM students`

// FindByUID は指定UIDの学生を取得する。見つからない場合はnilを返す。
func (r *PostgresStudentRepo) FindByUID(ctx context.Context, uid string) (*model.Student, error) {
	s := &model.Student{}
	err := r.db.QueryRowContext(ctx,
		selectStudentColumns+` WHERE uid = $1`,
		uid,
	).Scan(&s.UID, &s.Name, &s.RegNo, &s.Department, &s.Year, &s.Section, &s.Image)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find student by uid: %w", err)
	}

	return s, nil
}

// List は全学生をUID順で返す。
func (r *PostgresStudentRepo) List(ctx context.Context) ([]*model.Student, error) {
	rows, err := r.db.QueryContext(ctx, selectStudentColumns+` ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	students := []*model.Student{}
	for rows.Next() {
		s := &model.Student{}
		if err := rows.Scan(&s.UID, &s.Name, &s.RegNo, &s.Department, &s.Year, &s.Section, &s.Image); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate students: %w", err)
	}

	return students, nil
}

// Create は学生を登録する。UIDが既に存在する場合はErrDuplicateを返す。
func (r *PostgresStudentRepo) Create(ctx context.Context, student *model.Student) error {
	return insertStudent(ctx, r.db, student)
}

// CreateWithAttendance は学生の登録と出欠レコードの挿入を同一トランザクションで行う。
func (r *PostgresStudentRepo) CreateWithAttendance(ctx context.Context, student *model.Student, record *model.AttendanceRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertStudent(ctx, tx, student); err != nil {
		return err
	}

	inserted, err := insertAttendance(ctx, tx, record)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("attendance for %s on %s: %w", record.UID, record.Date, ErrAttendanceExists)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteWithAttendance は学生とそのUIDの出欠レコードを同一トランザクションで削除する。
// 出欠レコードはソフト参照のため、CASCADEではなく明示的に削除する。
func (r *PostgresStudentRepo) DeleteWithAttendance(ctx context.Context, uid string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE uid = $1`, uid); err != nil {
		return fmt.Errorf("failed to delete attendance: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM students WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("student %s: %w", uid, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// execer は*sql.DBと*sql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStudent(ctx context.Context, db execer, student *model.Student) error {
	image := student.Image
	if image == "" {
		image = model.DefaultStudentImage
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO students (uid, name, reg_no, department, year, section, image)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		student.UID, student.Name, student.RegNo, student.Department, student.Year, student.Section, image,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("student %s: %w", student.UID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert student: %w", err)
	}

	student.Image = image
	return nil
}

// compile-time interface check
var _ StudentRepository = (*PostgresStudentRepo)(nil)
