// Package hardware はカードリーダーとブザーを抽象化する。
// ドライバはMFRC522（SPI + GPIOブザー）と、1行1UIDで入力を受け付ける
// キーボードウェッジ型リーダーの2種類。
package hardware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"
)

// ErrReadFailed はリーダーからの読み取りに失敗した場合に返される。
var ErrReadFailed = errors.New("card read failed")

// ドライバ名
const (
	DriverRC522 = "rc522"
	DriverLine  = "line"
)

// Reader はカードのUIDを読み取る。カードがかざされるまでブロックする。
type Reader interface {
	ReadCard(ctx context.Context) (string, error)
}

// Signaler はブザーを指定時間鳴らす。呼び出し側は完了を待たない。
type Signaler interface {
	Signal(d time.Duration)
}

// Device はプロセスが1つだけ保持するリーダーとブザーの組。
// Releaseは冪等で、ブザーを停止した状態で資源を解放する。
type Device interface {
	Reader
	Signaler
	Release() error
}

// Options はデバイスを開く際の設定。
type Options struct {
	Driver     string
	SPIPort    string
	BuzzerPin  string
	ResetPin   string
	IRQPin     string
	PollPeriod time.Duration

	// Input はlineドライバの入力元。nilの場合は標準入力を使う。
	Input io.Reader
}

// Open は設定されたドライバでデバイスを開く。
func Open(opts Options, logger *slog.Logger) (Device, error) {
	switch opts.Driver {
	case DriverRC522, "":
		dev, err := openRC522(opts, logger)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case DriverLine:
		in := opts.Input
		if in == nil {
			in = os.Stdin
		}
		return NewLineDevice(in, logger), nil
	default:
		return nil, fmt.Errorf("unknown hardware driver: %q", opts.Driver)
	}
}

// NormalizeUID は入力されたUID文字列の前後の空白を除去する。
// 空文字列の場合はfalseを返す。
func NormalizeUID(raw string) (string, bool) {
	uid := strings.TrimSpace(raw)
	return uid, uid != ""
}

// FormatUID はリーダーから得たUIDバイト列をビッグエンディアンの10進整数表記にする。
// 登録済みカードのUIDはこの表記で保存されている。
func FormatUID(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return new(big.Int).SetBytes(b).String()
}
