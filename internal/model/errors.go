// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Codeは機械判定用のエラー種別、Messageは人が読むための説明。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: student, attendance, validation, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeStudentNotFound      = "STUDENT_NOT_FOUND"
	ErrCodeStudentAlreadyExists = "STUDENT_ALREADY_EXISTS"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeInvalidDate          = "INVALID_DATE"
	ErrCodeAttendanceRecorded   = "ATTENDANCE_ALREADY_RECORDED"
	ErrCodeStorageFailure       = "STORAGE_FAILURE"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// IsKnownErrorCode はcodeが定義済みエラーコードかどうかを返す。
func IsKnownErrorCode(code string) bool {
	switch code {
	case ErrCodeStudentNotFound,
		ErrCodeStudentAlreadyExists,
		ErrCodeInvalidRequest,
		ErrCodeValidationFailed,
		ErrCodeInvalidDate,
		ErrCodeAttendanceRecorded,
		ErrCodeStorageFailure,
		ErrCodeRateLimitExceeded,
		ErrCodeInternalError:
		return true
	}
	return false
}

// NewStudentNotFoundError は学生が見つからない場合のエラーを生成する。
func NewStudentNotFoundError(uid string) *APIError {
	return &APIError{
		Code:     ErrCodeStudentNotFound,
		Message:  fmt.Sprintf("指定されたUIDの学生が見つかりません: %s", uid),
		Category: "student",
		Action:   "カードのUIDを確認してください。",
	}
}

// NewStudentAlreadyExistsError は登録済みUIDで再登録しようとした場合のエラーを生成する。
func NewStudentAlreadyExistsError(uid string) *APIError {
	return &APIError{
		Code:     ErrCodeStudentAlreadyExists,
		Message:  fmt.Sprintf("このUIDは既に登録されています: %s", uid),
		Category: "student",
		Action:   "別のカードを使用するか、既存の登録を削除してから再登録してください。",
	}
}

// NewAttendanceAlreadyRecordedError は未登録カードの登録時に、
// そのUIDの当日の出欠レコードが既に存在した場合のエラーを生成する。
func NewAttendanceAlreadyRecordedError(uid, date string) *APIError {
	return &APIError{
		Code:     ErrCodeAttendanceRecorded,
		Message:  fmt.Sprintf("このUIDの出欠は既に記録されています: %s (%s)", uid, date),
		Category: "attendance",
		Action:   "出欠一覧を確認し、不要なレコードを削除してから再登録してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析に失敗した場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewValidationError は入力値の検証に失敗した場合のエラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "uid、name、reg_no、department、year、sectionをすべて指定してください。",
	}
}

// NewInvalidDateError は日付フィルタの形式が不正な場合のエラーを生成する。
func NewInvalidDateError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", date),
		Category: "validation",
		Action:   "日付はYYYY-MM-DD形式で指定してください。",
	}
}

// NewStorageFailureError はストレージ操作の失敗を表すエラーを生成する。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func NewStorageFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailure,
		Message:  "データの読み書きに失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限を超えた場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterで示された秒数を待ってから再度お試しください。",
	}
}

// NewInternalError はハンドラー内の想定外の障害を表すエラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternalError,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
