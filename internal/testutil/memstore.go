// Package testutil はテスト用のインメモリ実装を提供する。
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/repository"
)

// MemStore は学生レジストリと出欠台帳のインメモリ実装。
// PostgreSQL実装と同じく (uid, date) の組を1件に制限する。
type MemStore struct {
	mu       sync.Mutex
	students map[string]model.Student
	records  []model.AttendanceRecord

	// Err が設定されている場合、全ての操作はこのエラーを返す。
	Err error
}

// NewMemStore は空のMemStoreを生成する。
func NewMemStore() *MemStore {
	return &MemStore{students: make(map[string]model.Student)}
}

// Records は台帳の全レコードのコピーを挿入順で返す。
func (m *MemStore) Records() []model.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AttendanceRecord, len(m.records))
	copy(out, m.records)
	return out
}

// AddStudent は検証なしで学生を追加する。
func (m *MemStore) AddStudent(s model.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Image == "" {
		s.Image = model.DefaultStudentImage
	}
	m.students[s.UID] = s
}

// FindByUID は指定UIDの学生を返す。
func (m *MemStore) FindByUID(_ context.Context, uid string) (*model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.students[uid]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// List は全学生をUID順で返す。
func (m *MemStore) List(_ context.Context) ([]*model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*model.Student, 0, len(m.students))
	for _, s := range m.students {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// Create は学生を登録する。
func (m *MemStore) Create(_ context.Context, s *model.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	return m.insertStudent(s)
}

// CreateWithAttendance は学生と出欠レコードをまとめて登録する。どちらかが失敗した場合は何も書き込まない。
func (m *MemStore) CreateWithAttendance(_ context.Context, s *model.Student, record *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.students[s.UID]; ok {
		return fmt.Errorf("student %s: %w", s.UID, repository.ErrDuplicate)
	}
	if m.hasRecord(record.UID, record.Date) {
		return fmt.Errorf("attendance for %s on %s: %w", record.UID, record.Date, repository.ErrAttendanceExists)
	}
	if err := m.insertStudent(s); err != nil {
		return err
	}
	m.records = append(m.records, *record)
	return nil
}

// DeleteWithAttendance は学生とその出欠レコードを削除する。
func (m *MemStore) DeleteWithAttendance(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.students[uid]; !ok {
		return fmt.Errorf("student %s: %w", uid, repository.ErrNotFound)
	}
	delete(m.students, uid)
	kept := m.records[:0]
	for _, r := range m.records {
		if r.UID != uid {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

// RecordPresence は学生の検索と出席レコードの挿入を行う。
func (m *MemStore) RecordPresence(_ context.Context, uid string, at time.Time) (*repository.PresenceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.students[uid]
	if !ok {
		return &repository.PresenceResult{}, nil
	}
	record := model.NewAttendanceRecord(uuid.New().String(), uid, s.Name, at, model.AttendanceStatusPresent)
	if existing, ok := m.findRecord(uid, record.Date); ok {
		return &repository.PresenceResult{Student: &s, Record: &existing, Inserted: false}, nil
	}
	m.records = append(m.records, record)
	return &repository.PresenceResult{Student: &s, Record: &record, Inserted: true}, nil
}

// MarkAbsent は指定日にレコードを持たない全学生に欠席レコードを挿入する。
func (m *MemStore) MarkAbsent(_ context.Context, date, timeOfDay string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, 0, m.Err
	}
	marked := 0
	for _, s := range m.students {
		if m.hasRecord(s.UID, date) {
			continue
		}
		m.records = append(m.records, model.AttendanceRecord{
			ID:     uuid.New().String(),
			UID:    s.UID,
			Name:   s.Name,
			Date:   date,
			Time:   timeOfDay,
			Status: model.AttendanceStatusAbsent,
		})
		marked++
	}
	return marked, len(m.students), nil
}

// ListAll は全レコードを日付・時刻の降順で返す。
func (m *MemStore) ListAll(_ context.Context) ([]model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.sorted(func(model.AttendanceRecord) bool { return true }), nil
}

// ListByDate は指定日のレコードを時刻の降順で返す。
func (m *MemStore) ListByDate(_ context.Context, date string) ([]model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.sorted(func(r model.AttendanceRecord) bool { return r.Date == date }), nil
}

// Report は学生と出欠レコードを結合した行をフィルタして返す。
func (m *MemStore) Report(_ context.Context, filter model.ReportFilter) ([]model.ReportRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	rows := []model.ReportRow{}
	for _, r := range m.sorted(func(r model.AttendanceRecord) bool {
		return filter.Date == "" || r.Date == filter.Date
	}) {
		s, ok := m.students[r.UID]
		if !ok {
			continue
		}
		if filter.Section != "" && s.Section != filter.Section {
			continue
		}
		if filter.RegNo != "" && s.RegNo != filter.RegNo {
			continue
		}
		rows = append(rows, model.ReportRow{
			Name:       s.Name,
			RegNo:      s.RegNo,
			Section:    s.Section,
			Department: s.Department,
			Year:       s.Year,
			Date:       r.Date,
			Time:       r.Time,
			Status:     r.Status,
		})
	}
	return rows, nil
}

func (m *MemStore) insertStudent(s *model.Student) error {
	if _, ok := m.students[s.UID]; ok {
		return fmt.Errorf("student %s: %w", s.UID, repository.ErrDuplicate)
	}
	if s.Image == "" {
		s.Image = model.DefaultStudentImage
	}
	m.students[s.UID] = *s
	return nil
}

func (m *MemStore) hasRecord(uid, date string) bool {
	_, ok := m.findRecord(uid, date)
	return ok
}

func (m *MemStore) findRecord(uid, date string) (model.AttendanceRecord, bool) {
	for _, r := range m.records {
		if r.UID == uid && r.Date == date {
			return r, true
		}
	}
	return model.AttendanceRecord{}, false
}

func (m *MemStore) sorted(keep func(model.AttendanceRecord) bool) []model.AttendanceRecord {
	out := []model.AttendanceRecord{}
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Time > out[j].Time
	})
	return out
}

var (
	_ repository.StudentRepository    = (*MemStore)(nil)
	_ repository.AttendanceRepository = (*MemStore)(nil)
)
