package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hitoshi/rollcall/internal/student"
)

// TerminalPrompter は端末から学生情報を対話的に読み取る。
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter はinから回答を読み取り、outに質問を表示するTerminalPrompterを生成する。
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

// Prompt は登録するかを確認し、登録する場合は学生情報を順に尋ねる。
func (p *TerminalPrompter) Prompt(ctx context.Context, uid string) (student.RegisterInput, bool, error) {
	fmt.Fprintf(p.out, "未登録のカードです (UID: %s)\n", uid)
	ok, err := p.Confirm(ctx, "この学生を登録しますか？")
	if err != nil || !ok {
		return student.RegisterInput{}, false, err
	}

	input, err := p.AskStudent(ctx)
	if err != nil {
		return student.RegisterInput{}, false, err
	}
	input.UID = uid
	return input, true, nil
}

// AskStudent は学生情報の各項目を順に尋ねる。UIDは設定しない。
func (p *TerminalPrompter) AskStudent(ctx context.Context) (student.RegisterInput, error) {
	var input student.RegisterInput
	fields := []struct {
		label string
		dst   *string
	}{
		{"氏名", &input.Name},
		{"学籍番号", &input.RegNo},
		{"学科", &input.Department},
		{"学年", &input.Year},
		{"セクション", &input.Section},
	}
	for _, f := range fields {
		v, err := p.ask(ctx, f.label+": ")
		if err != nil {
			return student.RegisterInput{}, err
		}
		*f.dst = v
	}
	return input, nil
}

// Confirm はy/nで答える質問を表示し、yの場合にtrueを返す。
func (p *TerminalPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	answer, err := p.ask(ctx, question+" [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *TerminalPrompter) ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var _ RegistrationPrompter = (*TerminalPrompter)(nil)
