package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Command はサブコマンド名を表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandScanner はスキャンループを起動する。
	CommandScanner Command = "scanner"
	// CommandRun はAPIサーバーとスキャンループを1プロセスで起動する。
	CommandRun Command = "run"
	// CommandSweep は欠席スイープを1回実行する。
	CommandSweep Command = "sweep"
	// CommandWorker は欠席スイープのスケジューラを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandReport は出欠レポートを表示または出力する。
	CommandReport Command = "report"
	// CommandStudent はカードを使った学生の登録と削除をまとめる。
	CommandStudent Command = "student"
	// CommandBuzzerTest はブザーを3回鳴らす。
	CommandBuzzerTest Command = "buzzer-test"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// 終了コード
const (
	ExitSuccess             = 0
	ExitFailure             = 1
	ExitHardwareUnavailable = 3
)

// ExitError は終了コードを持つエラー。
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError はerrを終了コード付きでラップする。
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode はエラーから終了コードを取り出す。nilの場合はExitSuccess、
// ExitErrorでない場合はExitFailureを返す。
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IO はコマンドの入出力先。
type IO struct {
	// In は対話入力とlineドライバの入力元。
	In io.Reader
	// Out はレポートや確認メッセージの出力先。
	Out io.Writer
	// Log はJSON構造化ログの出力先。
	Log io.Writer
}

// NewRootCommand はrollcallのルートコマンドを生成する。
func NewRootCommand(stdio *IO) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rollcall",
		Short:         "RFID attendance tracker",
		Long:          "RFIDカードによる出欠管理システム。カードのスキャン、欠席スイープ、学生レジストリのAPIを提供する。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(stdio.In)
	cmd.SetOut(stdio.Out)

	cmd.AddCommand(NewServeCommand(stdio))
	cmd.AddCommand(NewScannerCommand(stdio))
	cmd.AddCommand(NewRunCommand(stdio))
	cmd.AddCommand(NewSweepCommand(stdio))
	cmd.AddCommand(NewWorkerCommand(stdio))
	cmd.AddCommand(NewMigrateCommand(stdio))
	cmd.AddCommand(NewReportCommand(stdio))
	cmd.AddCommand(NewStudentCommand(stdio))
	cmd.AddCommand(NewBuzzerTestCommand(stdio))
	cmd.AddCommand(NewHealthcheckCommand())

	return cmd
}
