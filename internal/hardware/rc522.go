package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/mfrc522"
	"periph.io/x/host/v3"
)

const defaultPollPeriod = 500 * time.Millisecond

// RC522Device はSPI接続のMFRC522リーダーとGPIOブザーの組。
type RC522Device struct {
	port   spi.PortCloser
	dev    *mfrc522.Dev
	buzzer gpio.PinOut
	poll   time.Duration
	logger *slog.Logger

	// mu はリーダーとブザーへのアクセスを直列化する。
	mu       sync.Mutex
	released bool
	signal   sync.Mutex
}

func openRC522(opts Options, logger *slog.Logger) (*RC522Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(opts.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("failed to open spi port %q: %w", opts.SPIPort, err)
	}

	resetPin := gpioreg.ByName(opts.ResetPin)
	if resetPin == nil {
		port.Close()
		return nil, fmt.Errorf("reset pin %q not found", opts.ResetPin)
	}
	irqPin := gpioreg.ByName(opts.IRQPin)
	if irqPin == nil {
		port.Close()
		return nil, fmt.Errorf("irq pin %q not found", opts.IRQPin)
	}
	buzzer := gpioreg.ByName(opts.BuzzerPin)
	if buzzer == nil {
		port.Close()
		return nil, fmt.Errorf("buzzer pin %q not found", opts.BuzzerPin)
	}
	if err := buzzer.Out(gpio.Low); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set buzzer pin low: %w", err)
	}

	dev, err := mfrc522.NewSPI(port, resetPin, irqPin, mfrc522.WithSync())
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to initialize mfrc522: %w", err)
	}

	poll := opts.PollPeriod
	if poll <= 0 {
		poll = defaultPollPeriod
	}

	logger.Info("RFIDリーダーを初期化しました",
		slog.String("spi_port", opts.SPIPort),
		slog.String("buzzer_pin", opts.BuzzerPin),
	)

	return &RC522Device{
		port:   port,
		dev:    dev,
		buzzer: buzzer,
		poll:   poll,
		logger: logger,
	}, nil
}

// ReadCard はカードがかざされるまでポーリングし、UIDを10進表記で返す。
// ポーリング周期内にカードがない場合のタイムアウトは失敗として扱わない。
func (d *RC522Device) ReadCard(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		d.mu.Lock()
		if d.released {
			d.mu.Unlock()
			return "", fmt.Errorf("device released: %w", ErrReadFailed)
		}
		uid, err := d.dev.ReadUID(d.poll)
		d.mu.Unlock()

		if err != nil {
			if isNoCard(err) {
				continue
			}
			return "", fmt.Errorf("%w: %w", ErrReadFailed, err)
		}
		if s := FormatUID(uid); s != "" {
			return s, nil
		}
	}
}

// isNoCard はReadUIDのエラーがカード未検出によるタイムアウトかを判定する。
// mfrc522ドライバはタイムアウトを専用の型で返さないため、メッセージで判定する。
func isNoCard(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// Signal はブザーを指定時間鳴らす。呼び出し元はブロックしない。
// 鳴動中に次の呼び出しがあった場合は前の鳴動の終了後に鳴らす。
func (d *RC522Device) Signal(dur time.Duration) {
	go func() {
		d.signal.Lock()
		defer d.signal.Unlock()

		d.mu.Lock()
		if d.released {
			d.mu.Unlock()
			return
		}
		if err := d.buzzer.Out(gpio.High); err != nil {
			d.mu.Unlock()
			d.logger.Warn("ブザーの駆動に失敗しました", slog.String("error", err.Error()))
			return
		}
		d.mu.Unlock()

		time.Sleep(dur)

		d.mu.Lock()
		defer d.mu.Unlock()
		if !d.released {
			_ = d.buzzer.Out(gpio.Low)
		}
	}()
}

// Release はブザーを停止し、リーダーとSPIポートを解放する。複数回呼び出しても安全。
func (d *RC522Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true

	var errs []error
	if err := d.buzzer.Out(gpio.Low); err != nil {
		errs = append(errs, fmt.Errorf("buzzer off: %w", err))
	}
	if err := d.dev.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt reader: %w", err))
	}
	if err := d.port.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close spi port: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to release rfid device: %w", err)
	}
	d.logger.Info("RFIDリーダーを解放しました")
	return nil
}

var _ Device = (*RC522Device)(nil)
