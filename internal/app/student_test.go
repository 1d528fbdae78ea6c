package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/rollcall/internal/hardware"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/security"
	"github.com/hitoshi/rollcall/internal/student"
	"github.com/hitoshi/rollcall/internal/testutil"
	"github.com/hitoshi/rollcall/internal/worker/scan"
)

func newStudentFixture(answers string) (*testutil.MemStore, *student.Service, *scan.TerminalPrompter, *bytes.Buffer) {
	store := testutil.NewMemStore()
	svc := student.NewService(store, security.NewFieldSanitizer())
	var out bytes.Buffer
	return store, svc, scan.NewTerminalPrompter(strings.NewReader(answers), &out), &out
}

func TestRegisterStudent_PromptsAndRegisters(t *testing.T) {
	_, svc, prompter, out := newStudentFixture("Alice\nR001\nCS\n2\nA\n")

	st, err := registerStudent(context.Background(), svc, prompter, "111", out)
	require.NoError(t, err)
	assert.Equal(t, "111", st.UID)
	assert.Equal(t, "Alice", st.Name)
	assert.Equal(t, "R001", st.RegNo)
	assert.Contains(t, out.String(), "登録しました: Alice (111)")

	got, err := svc.Get(context.Background(), "111")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Section)
}

// 登録済みのカードでは学生情報を尋ねないこと
func TestRegisterStudent_AlreadyRegistered(t *testing.T) {
	store, svc, prompter, out := newStudentFixture("")
	store.AddStudent(model.Student{UID: "111", Name: "Alice", RegNo: "R001"})

	_, err := registerStudent(context.Background(), svc, prompter, "111", out)
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.ErrCodeStudentAlreadyExists, apiErr.Code)
	assert.Contains(t, out.String(), "登録済み")
	assert.NotContains(t, out.String(), "氏名:")
}

func TestRegisterStudent_ValidationFailure(t *testing.T) {
	store, svc, prompter, out := newStudentFixture("\n\n\n\n\n")

	_, err := registerStudent(context.Background(), svc, prompter, "111", out)
	var apiErr *model.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.ErrCodeValidationFailed, apiErr.Code)

	students, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, students)
}

func TestRegisterStudent_StorageFailure(t *testing.T) {
	store, svc, prompter, out := newStudentFixture("")
	store.Err = errors.New("connection refused")

	_, err := registerStudent(context.Background(), svc, prompter, "111", out)
	require.Error(t, err)
	assert.False(t, isNotFound(err))
}

func TestDeleteStudent_Confirmed(t *testing.T) {
	store, svc, prompter, out := newStudentFixture("y\n")
	store.AddStudent(model.Student{UID: "111", Name: "Alice", RegNo: "R001", Section: "A"})

	deleted, err := deleteStudent(context.Background(), svc, prompter, "111", out)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Contains(t, out.String(), "学籍番号: R001")
	assert.Contains(t, out.String(), "削除しました")

	_, err = svc.Get(context.Background(), "111")
	assert.True(t, isNotFound(err))
}

func TestDeleteStudent_Declined(t *testing.T) {
	store, svc, prompter, out := newStudentFixture("n\n")
	store.AddStudent(model.Student{UID: "111", Name: "Alice"})

	deleted, err := deleteStudent(context.Background(), svc, prompter, "111", out)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Contains(t, out.String(), "削除を取り消しました")

	_, err = svc.Get(context.Background(), "111")
	assert.NoError(t, err)
}

func TestDeleteStudent_UnknownCard(t *testing.T) {
	_, svc, prompter, out := newStudentFixture("y\n")

	deleted, err := deleteStudent(context.Background(), svc, prompter, "999", out)
	assert.False(t, deleted)
	assert.True(t, isNotFound(err))
}

// scriptedReader は用意した結果を順に返すリーダー。
type scriptedReader struct {
	results []readResult
}

type readResult struct {
	uid string
	err error
}

func (r *scriptedReader) ReadCard(context.Context) (string, error) {
	if len(r.results) == 0 {
		return "", hardware.ErrReadFailed
	}
	next := r.results[0]
	r.results = r.results[1:]
	return next.uid, next.err
}

func TestScanCard(t *testing.T) {
	t.Run("空白を除いたUIDを返す", func(t *testing.T) {
		reader := &scriptedReader{results: []readResult{{uid: "   "}, {uid: " 584188566477 \n"}}}
		var out bytes.Buffer

		uid, err := scanCard(context.Background(), reader, 3, &out)
		require.NoError(t, err)
		assert.Equal(t, "584188566477", uid)
		assert.Contains(t, out.String(), "かざしてください")
	})

	t.Run("一時的な失敗から回復する", func(t *testing.T) {
		reader := &scriptedReader{results: []readResult{{err: hardware.ErrReadFailed}, {uid: "111"}}}

		uid, err := scanCard(context.Background(), reader, 3, &bytes.Buffer{})
		require.NoError(t, err)
		assert.Equal(t, "111", uid)
	})

	t.Run("連続失敗でリーダー障害として終了する", func(t *testing.T) {
		reader := &scriptedReader{}

		_, err := scanCard(context.Background(), reader, 3, &bytes.Buffer{})
		require.ErrorIs(t, err, scan.ErrHardwareUnavailable)
		assert.Equal(t, ExitHardwareUnavailable, GetExitCode(err))
	})

	t.Run("キャンセルされたら中断する", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := scanCard(ctx, &scriptedReader{}, 3, &bytes.Buffer{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
