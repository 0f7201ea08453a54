// Package auth はパスワード認証、Googleアカウント連携、トークン発行とプロフィール管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/taskmanager/internal/model"
	"github.com/hitoshi/taskmanager/internal/repository"
)

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
	CompareDummy(password string)
	RandomHash() (string, error)
}

// TokenIssuer はトークンの発行と検証のインターフェース。
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
	Parse(token string) (string, error)
}

// GoogleVerifier はGoogleのIDトークンを検証するインターフェース。
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleIdentity, error)
}

// EventRecorder は認証イベントの記録先。
type EventRecorder interface {
	RecordAuthEvent(event, outcome string)
}

// 認証イベント名
const (
	EventRegister = "register"
	EventLogin    = "login"
	EventGoogle   = "google"
	EventToken    = "token"
)

// 認証イベントの結果
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// ErrNoToken はAuthorizationヘッダーにトークンがない場合のエラー。
	ErrNoToken = model.NewAuthenticationError("Access denied. No token provided")
	// ErrGoogleCredential はGoogleのIDトークンが検証できない場合のエラー。
	ErrGoogleCredential = model.NewAuthenticationError("Invalid Google credential")
)

// Result はトークンを発行した認証操作の結果。
type Result struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// GoogleSignInInput はGoogleサインインの入力。
// IDTokenはGoogleVerifierが設定されている場合に必須となる。
type GoogleSignInInput struct {
	GoogleID    string
	Email       string
	DisplayName string
	Avatar      string
	IDToken     string
}

// Service は認証とアカウントに関するビジネスロジックを提供する。
type Service struct {
	users  repository.UserRepository
	hasher PasswordHasher
	tokens TokenIssuer
	google GoogleVerifier
	events EventRecorder

	// Now は現在時刻の取得関数。テストで差し替える。
	Now func() time.Time
}

// NewService はServiceを生成する。googleとeventsはnilでもよい。
func NewService(
	users repository.UserRepository,
	hasher PasswordHasher,
	tokens TokenIssuer,
	google GoogleVerifier,
	events EventRecorder,
) *Service {
	return &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		google: google,
		events: events,
		Now:    model.Now,
	}
}

func (s *Service) record(event string, err error) {
	if s.events == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	s.events.RecordAuthEvent(event, outcome)
}

// Register はメールアドレスとパスワードでユーザーを登録し、トークンを発行する。
// 最終ログイン日時は作成時の書き込みで同時に記録する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (res *Result, err error) {
	defer func() { s.record(EventRegister, err) }()

	email := model.NormalizeEmail(in.Email)
	displayName := strings.TrimSpace(in.DisplayName)

	var fields model.FieldErrors
	fields.Add(model.CheckEmail("email", email))
	fields.Add(model.UserRules.Password.Check(in.Password))
	fields.Add(model.UserRules.DisplayName.Check(displayName))
	if err := fields.Err(); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.ErrEmailTaken
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	if displayName == "" {
		displayName = model.DefaultDisplayName(email)
	}
	now := s.Now()
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		IsActive:     true,
		LastLogin:    &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return s.issue(user)
}

// Login はメールアドレスとパスワードで認証し、トークンを発行する。
// ユーザーが存在しない場合もダミーハッシュと照合し、応答時間から存在を推測されないようにする。
// パスワードが一致した場合に限り、無効化されたアカウントであることを知らせる。
func (s *Service) Login(ctx context.Context, email, password string) (res *Result, err error) {
	defer func() { s.record(EventLogin, err) }()

	email = model.NormalizeEmail(email)

	var fields model.FieldErrors
	fields.Add(model.CheckEmail("email", email))
	fields.Add(model.UserRules.LoginPassword.Check(password))
	if err := fields.Err(); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		s.hasher.CompareDummy(password)
		return nil, model.ErrInvalidCredentials
	}
	if !s.hasher.Compare(user.PasswordHash, password) {
		return nil, model.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, model.ErrAccountDeactivated
	}

	res, err = s.issue(user)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	user.LastLogin = &now

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return res, nil
}

// GoogleSignIn はGoogleアカウントでサインインする。
// googleId、次にemailで既存ユーザーを検索し、未設定のgoogleId・表示名・アバターのみを補完する。
// 該当ユーザーがいない場合はランダムなパスワードハッシュを持つアカウントを作成する。
func (s *Service) GoogleSignIn(ctx context.Context, in GoogleSignInInput) (res *Result, err error) {
	defer func() { s.record(EventGoogle, err) }()

	googleID := strings.TrimSpace(in.GoogleID)
	email := model.NormalizeEmail(in.Email)
	displayName := strings.TrimSpace(in.DisplayName)
	avatar := strings.TrimSpace(in.Avatar)

	var fields model.FieldErrors
	fields.Add(model.UserRules.GoogleID.Check(googleID))
	fields.Add(model.CheckEmail("email", email))
	fields.Add(model.UserRules.DisplayName.Check(displayName))
	if avatar != "" && !model.IsHTTPURL(avatar) {
		fields.Addf("avatar", avatar, "Avatar must be a valid URL")
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	if err := s.verifyGoogle(ctx, in.IDToken, googleID, email); err != nil {
		return nil, err
	}

	user, err := s.users.FindByGoogleID(ctx, googleID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google id: %w", err)
	}
	if user == nil {
		user, err = s.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
	}

	now := s.Now()
	if user == nil {
		user, err = s.createGoogleUser(ctx, googleID, email, displayName, avatar, now)
		if err != nil {
			return nil, err
		}
		return s.issue(user)
	}

	if !user.IsActive {
		return nil, model.ErrAccountDeactivated
	}

	var link model.GoogleLink
	if user.GoogleID == "" {
		link.GoogleID = googleID
		user.GoogleID = googleID
	}
	if user.DisplayName == "" && displayName != "" {
		link.DisplayName = displayName
		user.DisplayName = displayName
	}
	if user.Avatar == "" && avatar != "" {
		link.Avatar = avatar
		user.Avatar = avatar
	}

	user.LastLogin = &now
	if !link.IsEmpty() {
		user.UpdatedAt = now
		if err := s.users.LinkGoogle(ctx, user.ID, link, now); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return nil, model.NewConflictError("Google account is already linked to another user")
			}
			return nil, fmt.Errorf("failed to link google account: %w", err)
		}
		slog.Info("google account linked", slog.String("user_id", user.ID))
	} else if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}

	return s.issue(user)
}

// verifyGoogle はGoogleVerifierが設定されている場合にIDトークンを検証し、
// トークンの本人情報がリクエストのgoogleId・emailと一致することを確認する。
func (s *Service) verifyGoogle(ctx context.Context, idToken, googleID, email string) error {
	if s.google == nil {
		return nil
	}
	if idToken == "" {
		return model.NewValidationError("Validation failed",
			model.FieldError{Field: "idToken", Message: "Google ID token is required"})
	}
	identity, err := s.google.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, ErrGoogleTokenRejected) {
			slog.Warn("google id token rejected", slog.String("error", err.Error()))
			return ErrGoogleCredential
		}
		return fmt.Errorf("failed to verify google id token: %w", err)
	}
	if identity.Subject != googleID {
		return ErrGoogleCredential
	}
	if identity.Email != "" && model.NormalizeEmail(identity.Email) != email {
		return ErrGoogleCredential
	}
	return nil
}

func (s *Service) createGoogleUser(ctx context.Context, googleID, email, displayName, avatar string, now time.Time) (*model.User, error) {
	hash, err := s.hasher.RandomHash()
	if err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = model.DefaultDisplayName(email)
	}
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		GoogleID:     googleID,
		DisplayName:  displayName,
		Avatar:       avatar,
		IsActive:     true,
		LastLogin:    &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create google user: %w", err)
	}
	slog.Info("google user created", slog.String("user_id", user.ID))
	return user, nil
}

func (s *Service) issue(user *model.User) (*Result, error) {
	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Authenticate はトークンを検証し、紐づく有効なユーザーを返す。
// 削除済みユーザーのトークンは無効なトークンとして扱う。
func (s *Service) Authenticate(ctx context.Context, token string) (user *model.User, err error) {
	defer func() {
		if err != nil {
			s.record(EventToken, err)
		}
	}()

	if token == "" {
		return nil, ErrNoToken
	}
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, model.ErrInvalidToken
	}
	user, err = s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrInvalidToken
	}
	if !user.IsActive {
		return nil, model.ErrAccountDeactivated
	}
	return user, nil
}

// GetProfile はユーザーを取得する。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile は表示名とアバターを部分更新する。
// アバターに空文字列を指定した場合はアバターを削除する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (*model.User, error) {
	var fields model.FieldErrors
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		patch.DisplayName = &name
		fields.Add(model.UserRules.DisplayName.Check(name))
	}
	if patch.Avatar != nil {
		avatar := strings.TrimSpace(*patch.Avatar)
		patch.Avatar = &avatar
		if avatar != "" && !model.IsHTTPURL(avatar) {
			fields.Addf("avatar", avatar, "Avatar must be a valid URL")
		}
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}

	if patch.IsEmpty() {
		return s.GetProfile(ctx, userID)
	}

	user, err := s.users.UpdateProfile(ctx, userID, patch, s.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if user == nil {
		return nil, model.ErrUserNotFound
	}
	return user, nil
}

// ChangePassword は現在のパスワードを確認した上でパスワードを変更する。
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	var fields model.FieldErrors
	fields.Add(model.UserRules.CurrentPassword.Check(currentPassword))
	fields.Add(model.UserRules.NewPassword.Check(newPassword))
	if err := fields.Err(); err != nil {
		return err
	}

	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(user.PasswordHash, currentPassword) {
		return model.ErrWrongPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, s.Now()); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	slog.Info("password changed", slog.String("user_id", userID))
	return nil
}
