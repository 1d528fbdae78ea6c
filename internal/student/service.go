// Package student は学生レジストリのドメインロジックを提供する。
package student

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/repository"
	"github.com/hitoshi/rollcall/internal/security"
)

// RegisterInput は学生登録の入力値。
type RegisterInput struct {
	UID        string `json:"uid" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=100"`
	RegNo      string `json:"reg_no" validate:"required,max=50"`
	Department string `json:"department" validate:"required,max=100"`
	Year       string `json:"year" validate:"required,max=20"`
	Section    string `json:"section" validate:"required,max=20"`
}

// Service は学生レジストリのサービス層。
// 一覧取得、取得、登録、削除のビジネスロジックを提供する。
type Service struct {
	repo      repository.StudentRepository
	sanitizer *security.FieldSanitizer
	validate  *validator.Validate
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.StudentRepository, sanitizer *security.FieldSanitizer) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラー説明にはJSONのフィールド名を使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})

	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		validate:  v,
	}
}

// List は全学生を返す。
func (s *Service) List(ctx context.Context) ([]*model.Student, error) {
	students, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("学生一覧の取得に失敗しました: %w", err)
	}
	return students, nil
}

// Get は指定UIDの学生を返す。存在しない場合はSTUDENT_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, uid string) (*model.Student, error) {
	st, err := s.repo.FindByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("学生の取得に失敗しました: %w", err)
	}
	if st == nil {
		return nil, model.NewStudentNotFoundError(uid)
	}
	return st, nil
}

// Register は学生を登録する。
// 入力値を検証・サニタイズし、UIDが登録済みの場合はSTUDENT_ALREADY_EXISTSを返す。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*model.Student, error) {
	st, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, st); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewStudentAlreadyExistsError(st.UID)
		}
		return nil, fmt.Errorf("学生の登録に失敗しました: %w", err)
	}
	return st, nil
}

// RegisterPresent は学生を登録し、同時にatの日付で出席を記録する。
// スキャン時にその場で登録する対話モードで使用する。
// 当日の出欠レコードが既に存在する場合は何も登録せずATTENDANCE_ALREADY_RECORDEDを返す。
func (s *Service) RegisterPresent(ctx context.Context, input RegisterInput, at time.Time) (*model.Student, *model.AttendanceRecord, error) {
	st, err := s.prepare(ctx, input)
	if err != nil {
		return nil, nil, err
	}

	record := model.NewAttendanceRecord(uuid.New().String(), st.UID, st.Name, at, model.AttendanceStatusPresent)
	if err := s.repo.CreateWithAttendance(ctx, st, &record); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, nil, model.NewStudentAlreadyExistsError(st.UID)
		case errors.Is(err, repository.ErrAttendanceExists):
			return nil, nil, model.NewAttendanceAlreadyRecordedError(st.UID, record.Date)
		}
		return nil, nil, fmt.Errorf("学生の登録に失敗しました: %w", err)
	}
	return st, &record, nil
}

// Delete は学生とその出欠レコードを削除する。存在しない場合はSTUDENT_NOT_FOUNDを返す。
func (s *Service) Delete(ctx context.Context, uid string) error {
	if err := s.repo.DeleteWithAttendance(ctx, uid); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewStudentNotFoundError(uid)
		}
		return fmt.Errorf("学生の削除に失敗しました: %w", err)
	}
	return nil
}

// prepare は入力値を検証・サニタイズし、UIDの重複を確認する。
func (s *Service) prepare(ctx context.Context, input RegisterInput) (*model.Student, error) {
	input = RegisterInput{
		UID:        strings.TrimSpace(input.UID),
		Name:       s.sanitizer.Sanitize(input.Name),
		RegNo:      s.sanitizer.Sanitize(input.RegNo),
		Department: s.sanitizer.Sanitize(input.Department),
		Year:       s.sanitizer.Sanitize(input.Year),
		Section:    s.sanitizer.Sanitize(input.Section),
	}

	if err := s.validate.Struct(input); err != nil {
		return nil, model.NewValidationError(describeValidationError(err))
	}

	existing, err := s.repo.FindByUID(ctx, input.UID)
	if err != nil {
		return nil, fmt.Errorf("学生の取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewStudentAlreadyExistsError(input.UID)
	}

	return &model.Student{
		UID:        input.UID,
		Name:       input.Name,
		RegNo:      input.RegNo,
		Department: input.Department,
		Year:       input.Year,
		Section:    input.Section,
		Image:      model.DefaultStudentImage,
	}, nil
}

// describeValidationError は検証エラーをフィールド名付きの短い説明に変換する。
func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
