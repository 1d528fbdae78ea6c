package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/rollcall/internal/config"
	"github.com/hitoshi/rollcall/internal/hardware"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/repository"
	"github.com/hitoshi/rollcall/internal/security"
	"github.com/hitoshi/rollcall/internal/student"
	"github.com/hitoshi/rollcall/internal/worker/scan"
)

// StudentOptions はstudentサブコマンドのフラグ。
type StudentOptions struct {
	// UID が指定された場合はカードを読み取らずにこのUIDを使う。
	UID string
}

// studentService はカード操作コマンドが使う学生レジストリの操作。
type studentService interface {
	Get(ctx context.Context, uid string) (*model.Student, error)
	Register(ctx context.Context, input student.RegisterInput) (*model.Student, error)
	Delete(ctx context.Context, uid string) error
}

// NewStudentCommand はカードを使った学生の登録と削除のコマンドを生成する。
func NewStudentCommand(stdio *IO) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandStudent),
		Short: "Register or delete a student by card",
	}
	cmd.AddCommand(newStudentRegisterCommand(stdio))
	cmd.AddCommand(newStudentDeleteCommand(stdio))
	return cmd
}

func newStudentRegisterCommand(stdio *IO) *cobra.Command {
	opts := &StudentOptions{}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Scan a card and register its holder",
		Long: `カードを読み取り、学生情報を端末から入力して登録する。
--uidを指定した場合はカードを読み取らない。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCard(cmd.Context(), stdio, opts, func(ctx context.Context, env cardEnv) error {
				st, err := registerStudent(ctx, env.service, env.prompter, env.uid, stdio.Out)
				if err != nil {
					return err
				}
				env.beep(env.tones.Registered)
				slog.Info("student registered", slog.String("uid", st.UID))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.UID, "uid", "", "card UID to use instead of scanning")

	return cmd
}

func newStudentDeleteCommand(stdio *IO) *cobra.Command {
	opts := &StudentOptions{}

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Scan a card and delete its holder",
		Long: `カードを読み取り、登録内容を表示して確認のうえ学生と出欠レコードを削除する。
--uidを指定した場合はカードを読み取らない。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCard(cmd.Context(), stdio, opts, func(ctx context.Context, env cardEnv) error {
				deleted, err := deleteStudent(ctx, env.service, env.prompter, env.uid, stdio.Out)
				if err != nil {
					return err
				}
				if deleted {
					env.beep(env.tones.Long)
					slog.Info("student deleted", slog.String("uid", env.uid))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.UID, "uid", "", "card UID to use instead of scanning")

	return cmd
}

// cardEnv はカード操作コマンドの実行環境。
type cardEnv struct {
	uid      string
	service  studentService
	prompter *scan.TerminalPrompter
	tones    scan.Tones
	beep     func(d time.Duration)
}

// withCard は設定の読み込み、DB接続、カードの読み取りを行ってからfnを呼び出す。
// デバイスはfnの終了後に解放する。
func withCard(ctx context.Context, stdio *IO, opts *StudentOptions, fn func(ctx context.Context, env cardEnv) error) error {
	cfg, err := Init(stdio.Log)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if opts.UID == "" && cfg.Hardware.Driver == config.HardwareDriverLine {
		return fmt.Errorf("%w (use --uid)", errStdinConflict)
	}

	db, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	env := cardEnv{
		uid:      opts.UID,
		service:  student.NewService(repository.NewPostgresStudentRepo(db), security.NewFieldSanitizer()),
		prompter: scan.NewTerminalPrompter(stdio.In, stdio.Out),
		tones:    tones(cfg),
		beep:     func(time.Duration) {},
	}

	if env.uid == "" {
		dev, err := openDevice(cfg, stdio.In)
		if err != nil {
			return err
		}
		defer releaseDevice(dev)

		uid, err := scanCard(ctx, dev, cfg.ScanMaxReadFailures, stdio.Out)
		if err != nil {
			return err
		}
		env.uid = uid
		env.beep = func(d time.Duration) {
			dev.Signal(d)
			// 解放するとブザーが止まるため鳴り終わるまで待つ
			time.Sleep(d)
		}
	}

	return fn(ctx, env)
}

// scanCard はカードがかざされるまで待ち、正規化したUIDを返す。
// 読み取り失敗がmaxFailures回連続した場合はExitHardwareUnavailableで終了する。
func scanCard(ctx context.Context, reader hardware.Reader, maxFailures int, out io.Writer) (string, error) {
	fmt.Fprintln(out, "カードをリーダーにかざしてください...")

	failures := 0
	for {
		raw, err := reader.ReadCard(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			failures++
			if failures >= maxFailures {
				return "", WrapExitError(ExitHardwareUnavailable, "failed to read card",
					fmt.Errorf("%w: %w", scan.ErrHardwareUnavailable, err))
			}
			continue
		}
		if uid, ok := hardware.NormalizeUID(raw); ok {
			fmt.Fprintf(out, "カードを読み取りました (UID: %s)\n", uid)
			return uid, nil
		}
	}
}

// registerStudent はuidが未登録であることを確認してから学生情報を尋ね、登録する。
func registerStudent(ctx context.Context, svc studentService, prompter *scan.TerminalPrompter, uid string, out io.Writer) (*model.Student, error) {
	existing, err := svc.Get(ctx, uid)
	switch {
	case err == nil:
		fmt.Fprintf(out, "このカードは登録済みです: %s (%s)\n", existing.Name, existing.RegNo)
		return nil, model.NewStudentAlreadyExistsError(uid)
	case !isNotFound(err):
		return nil, err
	}

	input, err := prompter.AskStudent(ctx)
	if err != nil {
		return nil, err
	}
	input.UID = uid

	st, err := svc.Register(ctx, input)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "登録しました: %s (%s)\n", st.Name, st.UID)
	return st, nil
}

// deleteStudent は登録内容を表示し、オペレーターが確認した場合に削除する。
// 削除を見送った場合はfalseを返す。
func deleteStudent(ctx context.Context, svc studentService, prompter *scan.TerminalPrompter, uid string, out io.Writer) (bool, error) {
	st, err := svc.Get(ctx, uid)
	if err != nil {
		return false, err
	}

	fmt.Fprintf(out, "氏名: %s\n学籍番号: %s\n学科: %s\n学年: %s\nセクション: %s\n",
		st.Name, st.RegNo, st.Department, st.Year, st.Section)

	ok, err := prompter.Confirm(ctx, "この学生と出欠記録を削除しますか？")
	if err != nil {
		return false, err
	}
	if !ok {
		fmt.Fprintln(out, "削除を取り消しました")
		return false, nil
	}

	if err := svc.Delete(ctx, uid); err != nil {
		return false, err
	}
	fmt.Fprintf(out, "削除しました: %s (%s)\n", st.Name, uid)
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeStudentNotFound
}
