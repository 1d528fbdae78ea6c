package handoff

import (
	"context"
	"sync/atomic"
)

// Memory はプロセス内で完結するHandoff実装。
// スキャナとAPIを同一プロセスで動かす場合に使用する。
type Memory struct {
	latest atomic.Pointer[string]
}

// NewMemory は空のスロットを持つMemoryを生成する。
func NewMemory() *Memory {
	return &Memory{}
}

// SetLatest はスロットを上書きする。
func (m *Memory) SetLatest(_ context.Context, uid string) error {
	m.latest.Store(&uid)
	return nil
}

// GetLatest はスロットの値を返す。
func (m *Memory) GetLatest(_ context.Context) (string, bool) {
	p := m.latest.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Reset はスロットを空にする。
func (m *Memory) Reset(_ context.Context) error {
	m.latest.Store(nil)
	return nil
}

var _ Handoff = (*Memory)(nil)
