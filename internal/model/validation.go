package model

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// StringRule は文字列フィールド1つ分の制約。MinLen/MaxLenはUnicodeコードポイント数、
// MaxBytesはUTF-8のバイト数で数える。
type StringRule struct {
	Field       string
	Required    bool
	MinLen      int
	MaxLen      int
	MaxBytes    int
	RequiredMsg string
	MinMsg      string
	MaxMsg      string
}

// Check は値を制約に照らして検証し、違反があればFieldErrorを返す。
func (r StringRule) Check(value string) *FieldError {
	if value == "" {
		if r.Required {
			return &FieldError{Field: r.Field, Message: r.RequiredMsg, Value: value}
		}
		return nil
	}
	n := utf8.RuneCountInString(value)
	if r.MinLen > 0 && n < r.MinLen {
		return &FieldError{Field: r.Field, Message: r.MinMsg}
	}
	if r.MaxLen > 0 && n > r.MaxLen {
		return &FieldError{Field: r.Field, Message: r.MaxMsg, Value: value}
	}
	if r.MaxBytes > 0 && len(value) > r.MaxBytes {
		return &FieldError{Field: r.Field, Message: r.MaxMsg}
	}
	return nil
}

// TaskRules はタスクのフィールド制約表。
var TaskRules = struct {
	Title          StringRule
	Description    StringRule
	Category       StringRule
	Tag            StringRule
	Notes          StringRule
	AttachmentName StringRule
	AttachmentType StringRule
}{
	Title:          StringRule{Field: "title", Required: true, MaxLen: 100, RequiredMsg: "Task title is required", MaxMsg: "Title cannot exceed 100 characters"},
	Description:    StringRule{Field: "description", MaxLen: 500, MaxMsg: "Description cannot exceed 500 characters"},
	Category:       StringRule{Field: "category", MaxLen: 50, MaxMsg: "Category cannot exceed 50 characters"},
	Tag:            StringRule{Field: "tags", MaxLen: 20, MaxMsg: "Each tag cannot exceed 20 characters"},
	Notes:          StringRule{Field: "notes", MaxLen: 1000, MaxMsg: "Notes cannot exceed 1000 characters"},
	AttachmentName: StringRule{Field: "attachments", Required: true, MaxLen: 255, RequiredMsg: "Attachment name is required", MaxMsg: "Attachment name cannot exceed 255 characters"},
	AttachmentType: StringRule{Field: "attachments", MaxLen: 100, MaxMsg: "Attachment type cannot exceed 100 characters"},
}

// MaxPasswordBytes はbcryptが受け付けるパスワードの最大バイト数。
const MaxPasswordBytes = 72

// UserRules はユーザー関連入力のフィールド制約表。
var UserRules = struct {
	Password        StringRule
	LoginPassword   StringRule
	NewPassword     StringRule
	CurrentPassword StringRule
	AccountPassword StringRule
	DisplayName     StringRule
	GoogleID        StringRule
}{
	Password:        StringRule{Field: "password", Required: true, MinLen: 6, MaxBytes: MaxPasswordBytes, RequiredMsg: "Password must be at least 6 characters long", MinMsg: "Password must be at least 6 characters long", MaxMsg: "Password cannot exceed 72 bytes"},
	LoginPassword:   StringRule{Field: "password", Required: true, RequiredMsg: "Password is required"},
	NewPassword:     StringRule{Field: "newPassword", Required: true, MinLen: 6, MaxBytes: MaxPasswordBytes, RequiredMsg: "New password must be at least 6 characters long", MinMsg: "New password must be at least 6 characters long", MaxMsg: "New password cannot exceed 72 bytes"},
	CurrentPassword: StringRule{Field: "currentPassword", Required: true, RequiredMsg: "Current password is required"},
	AccountPassword: StringRule{Field: "password", Required: true, RequiredMsg: "Password is required"},
	DisplayName:     StringRule{Field: "displayName", MaxLen: 50, MaxMsg: "Display name cannot exceed 50 characters"},
	GoogleID:        StringRule{Field: "googleId", Required: true, RequiredMsg: "Google ID is required"},
}

// FieldErrors はフィールドエラーの集積。
type FieldErrors []FieldError

// Add はnilでないエラーを追加する。
func (fe *FieldErrors) Add(err *FieldError) {
	if err != nil {
		*fe = append(*fe, *err)
	}
}

// Addf はフィールドエラーを直接追加する。
func (fe *FieldErrors) Addf(field string, value any, format string, args ...any) {
	*fe = append(*fe, FieldError{Field: field, Message: fmt.Sprintf(format, args...), Value: value})
}

// Err はエラーが1件以上あればValidationErrorを返す。
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return NewValidationError("Validation failed", fe...)
}

// CheckEmail はメールアドレス形式を検証する。
func CheckEmail(field, email string) *FieldError {
	const msg = "Please enter a valid email address"
	if email == "" {
		return &FieldError{Field: field, Message: msg, Value: email}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return &FieldError{Field: field, Message: msg, Value: email}
	}
	return nil
}

// IsHTTPURL は値がhttp/httpsの絶対URLかどうかを返す。
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// dueDateLayouts は期限日時として受け付けるISO 8601の書式。
var dueDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp はISO 8601形式の日時文字列を解析する。タイムゾーン指定がない場合はUTCとみなす。
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %q", value)
}
