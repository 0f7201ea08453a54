// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// User はサービス利用ユーザーを表す。
// PasswordHashはbcryptハッシュのみを保持し、平文パスワードは保持しない。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	GoogleID     string
	DisplayName  string
	Avatar       string
	IsActive     bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicProfile はクライアントに返してよいユーザー情報の射影。
// パスワードハッシュは含まない。
type PublicProfile struct {
	ID          string
	Email       string
	DisplayName string
	Avatar      string
	IsActive    bool
	LastLogin   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PublicProfile はユーザーの公開プロフィールを返す。
func (u *User) PublicProfile() PublicProfile {
	return PublicProfile{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		IsActive:    u.IsActive,
		LastLogin:   u.LastLogin,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// ProfilePatch はプロフィールの部分更新内容。nilのフィールドは変更しない。
type ProfilePatch struct {
	DisplayName *string
	Avatar      *string
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p ProfilePatch) IsEmpty() bool {
	return p.DisplayName == nil && p.Avatar == nil
}

// GoogleLink はGoogleサインイン時に既存ユーザーへ補完するフィールド。空のフィールドは変更しない。
type GoogleLink struct {
	GoogleID    string
	DisplayName string
	Avatar      string
}

// IsEmpty は補完するフィールドが1つもない場合にtrueを返す。
func (l GoogleLink) IsEmpty() bool {
	return l.GoogleID == "" && l.DisplayName == "" && l.Avatar == ""
}

// NormalizeEmail はメールアドレスを前後空白除去・小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DefaultDisplayName はメールアドレスのローカル部を表示名として返す。
func DefaultDisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
