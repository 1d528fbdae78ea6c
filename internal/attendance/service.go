// Package attendance は出欠台帳の参照系ドメインロジックを提供する。
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/repository"
)

// Service は出欠台帳の参照サービス。
type Service struct {
	repo repository.AttendanceRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.AttendanceRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ListAll は全出欠レコードを新しい順に返す。
func (s *Service) ListAll(ctx context.Context) ([]model.AttendanceRecord, error) {
	records, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("出欠履歴の取得に失敗しました: %w", err)
	}
	return records, nil
}

// ListToday はローカル日付で今日の出欠レコードを新しい順に返す。
func (s *Service) ListToday(ctx context.Context) ([]model.AttendanceRecord, error) {
	today := s.now().Format(model.DateLayout)
	records, err := s.repo.ListByDate(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("本日の出欠の取得に失敗しました: %w", err)
	}
	return records, nil
}

// Report は条件に一致するレポート行を新しい順に返す。
// 日付はYYYY-MM-DD形式でなければINVALID_DATEを返す。
func (s *Service) Report(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error) {
	if filter.Date != "" {
		if _, err := time.Parse(model.DateLayout, filter.Date); err != nil {
			return nil, model.NewInvalidDateError(filter.Date)
		}
	}

	rows, err := s.repo.Report(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("出欠レポートの取得に失敗しました: %w", err)
	}
	return rows, nil
}
