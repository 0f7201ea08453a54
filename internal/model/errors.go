package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類。HTTPステータスへの対応はハンドラー境界で行う。
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindConflict       ErrorKind = "conflict"
	KindNotFound       ErrorKind = "not_found"
	KindInternal       ErrorKind = "internal"
)

// FieldError はフィールド単位の入力エラー。
type FieldError struct {
	Field   string
	Message string
	Value   any
}

// AppError はサービス層が返す分類済みエラー。
type AppError struct {
	Kind    ErrorKind
	Message string
	Fields  []FieldError
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string, fields ...FieldError) *AppError {
	return &AppError{Kind: KindValidation, Message: message, Fields: fields}
}

// NewAuthenticationError は認証エラーを生成する。
func NewAuthenticationError(message string) *AppError {
	return &AppError{Kind: KindAuthentication, Message: message}
}

// NewConflictError は一意制約違反などの競合エラーを生成する。
func NewConflictError(message string) *AppError {
	return &AppError{Kind: KindConflict, Message: message}
}

// NewNotFoundError は所有レコードが見つからない場合のエラーを生成する。
// 他ユーザー所有のレコードもこのエラーとして扱う。
func NewNotFoundError(message string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message}
}

// NewInternalError は想定外のエラーを包む。
func NewInternalError(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}

// KindOf はエラーの分類を返す。AppError以外はKindInternal。
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// 定義済みエラー
var (
	ErrTaskNotFound         = NewNotFoundError("Task not found")
	ErrUserNotFound         = NewNotFoundError("User not found")
	ErrEmailTaken           = NewConflictError("User with this email already exists")
	ErrInvalidCredentials   = NewAuthenticationError("Invalid email or password")
	ErrAccountDeactivated   = NewAuthenticationError("Account is deactivated")
	ErrWrongPassword        = NewAuthenticationError("Current password is incorrect")
	ErrWrongAccountPassword = NewAuthenticationError("Password is incorrect")
	ErrInvalidToken         = NewAuthenticationError("Invalid or expired token")
)
