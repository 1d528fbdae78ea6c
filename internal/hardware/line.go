package hardware

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

type lineResult struct {
	line string
	err  error
}

// LineDevice は1行に1つのUIDを読み取るリーダー。
// USBキーボードウェッジ型リーダーや標準入力からの手入力に使う。
// ブザーを持たないため、Signalはログ出力のみ行う。
type LineDevice struct {
	lines  chan lineResult
	logger *slog.Logger

	once sync.Once
	done chan struct{}
}

// NewLineDevice はinから行を読み取るLineDeviceを生成する。
func NewLineDevice(in io.Reader, logger *slog.Logger) *LineDevice {
	d := &LineDevice{
		lines:  make(chan lineResult),
		logger: logger,
		done:   make(chan struct{}),
	}
	go d.pump(in)
	return d
}

// pump は入力を1行ずつ読み取りチャネルへ送る。
// 入力の終端に達した後は、読み取りのたびにエラーを返し続ける。
func (d *LineDevice) pump(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case d.lines <- lineResult{line: scanner.Text()}:
		case <-d.done:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	for {
		select {
		case d.lines <- lineResult{err: err}:
		case <-d.done:
			return
		}
	}
}

// ReadCard は次の空でない行を返す。
func (d *LineDevice) ReadCard(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-d.done:
			return "", fmt.Errorf("device released: %w", ErrReadFailed)
		case r := <-d.lines:
			if r.err != nil {
				return "", fmt.Errorf("%w: %w", ErrReadFailed, r.err)
			}
			if uid, ok := NormalizeUID(r.line); ok {
				return uid, nil
			}
		}
	}
}

// Signal は音を鳴らす代わりにデバッグログを出力する。
func (d *LineDevice) Signal(dur time.Duration) {
	d.logger.Debug("ブザー", slog.Duration("duration", dur))
}

// Release は読み取りを停止する。複数回呼び出しても安全。
func (d *LineDevice) Release() error {
	d.once.Do(func() { close(d.done) })
	return nil
}

var _ Device = (*LineDevice)(nil)
