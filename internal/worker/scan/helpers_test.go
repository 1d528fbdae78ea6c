package scan

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/student"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeSignaler は鳴動要求を記録する。
type fakeSignaler struct {
	mu    sync.Mutex
	tones []time.Duration
}

func (f *fakeSignaler) Signal(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tones = append(f.tones, d)
}

func (f *fakeSignaler) last() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tones) == 0 {
		return 0
	}
	return f.tones[len(f.tones)-1]
}

// fakeMetrics は判定結果の記録回数を数える。
type fakeMetrics struct {
	metrics.Nop
	mu             sync.Mutex
	scans          map[string]int
	readerFailures int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{scans: make(map[string]int)}
}

func (f *fakeMetrics) RecordScan(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans[outcome]++
}

func (f *fakeMetrics) RecordReaderFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readerFailures++
}

type mockPrompter struct {
	promptFn func(ctx context.Context, uid string) (student.RegisterInput, bool, error)
}

func (m *mockPrompter) Prompt(ctx context.Context, uid string) (student.RegisterInput, bool, error) {
	return m.promptFn(ctx, uid)
}

type mockRegistrar struct {
	registerFn func(ctx context.Context, input student.RegisterInput, at time.Time) (*model.Student, *model.AttendanceRecord, error)
}

func (m *mockRegistrar) RegisterPresent(ctx context.Context, input student.RegisterInput, at time.Time) (*model.Student, *model.AttendanceRecord, error) {
	return m.registerFn(ctx, input, at)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
