package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/rollcall/internal/hardware"
)

const (
	buzzerTestBeeps = 3
	buzzerTestGap   = 500 * time.Millisecond
)

// NewBuzzerTestCommand はブザーを3回鳴らして配線を確認するコマンドを生成する。
// DBを使わないためDATABASE_URLは不要。
func NewBuzzerTestCommand(stdio *IO) *cobra.Command {
	return &cobra.Command{
		Use:           string(CommandBuzzerTest),
		Short:         "Beep the buzzer three times",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := InitLocal(stdio.Log)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}

			dev, err := openDevice(cfg, stdio.In)
			if err != nil {
				return err
			}
			defer releaseDevice(dev)

			return beep(cmd.Context(), dev, buzzerTestBeeps, cfg.Hardware.Tones.Long, buzzerTestGap, stdio.Out)
		},
	}
}

// beep はブザーをn回鳴らす。各回の鳴動が終わるまで待ってから次を鳴らす。
func beep(ctx context.Context, sig hardware.Signaler, n int, tone, gap time.Duration, out io.Writer) error {
	for i := 1; i <= n; i++ {
		fmt.Fprintf(out, "ブザー %d/%d\n", i, n)
		sig.Signal(tone)

		t := time.NewTimer(tone + gap)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	fmt.Fprintln(out, "ブザーテストが完了しました")
	return nil
}
