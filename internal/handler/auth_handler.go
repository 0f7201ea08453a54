package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/taskmanager/internal/auth"
	"github.com/hitoshi/taskmanager/internal/middleware"
	"github.com/hitoshi/taskmanager/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Result, error)
	Login(ctx context.Context, email, password string) (*auth.Result, error)
	GoogleSignIn(ctx context.Context, in auth.GoogleSignInInput) (*auth.Result, error)
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (*model.User, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
}

// AuthHandler はアカウント認証とプロフィールのHTTPハンドラー。
// プロフィールとパスワード変更は/api/authと/api/usersの両方から使われる。
type AuthHandler struct {
	service     AuthServiceInterface
	development bool
}

// NewAuthHandler はAuthHandlerを生成する。developmentがtrueの場合、500レスポンスにエラー詳細を含める。
func NewAuthHandler(service AuthServiceInterface, development bool) *AuthHandler {
	return &AuthHandler{service: service, development: development}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleSignInRequest struct {
	GoogleID    string `json:"googleId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	IDToken     string `json:"idToken"`
}

type updateProfileRequest struct {
	DisplayName *string `json:"displayName"`
	Avatar      *string `json:"avatar"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type authResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

type profileResponse struct {
	User userResponse `json:"user"`
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err, h.development)
}

// Register はユーザーを登録してトークンを発行する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusCreated, "User registered successfully", authResponse{
		User:  toUserResponse(res.User),
		Token: res.Token,
	})
}

// Login はメールアドレスとパスワードで認証してトークンを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, "Login successful", authResponse{
		User:  toUserResponse(res.User),
		Token: res.Token,
	})
}

// GoogleSignIn はGoogleアカウントでサインインする。該当ユーザーがいなければ作成する。
// POST /api/auth/google
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req googleSignInRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.service.GoogleSignIn(r.Context(), auth.GoogleSignInInput{
		GoogleID:    req.GoogleID,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
		IDToken:     req.IDToken,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, "Google sign-in successful", authResponse{
		User:  toUserResponse(res.User),
		Token: res.Token,
	})
}

// Profile は認証済みユーザーのプロフィールを返す。
// GET /api/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r, "Profile retrieved successfully")
}

// UserProfile はProfileと同じ内容を/api/users向けのメッセージで返す。
// GET /api/users/profile
func (h *AuthHandler) UserProfile(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r, "User profile retrieved successfully")
}

func (h *AuthHandler) writeProfile(w http.ResponseWriter, r *http.Request, message string) {
	// 認証ミドルウェアが読み込んだユーザーをそのまま使う
	if user, err := middleware.UserFromContext(r.Context()); err == nil {
		middleware.WriteSuccess(w, http.StatusOK, message, profileResponse{User: toUserResponse(user)})
		return
	}

	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteSuccess(w, http.StatusOK, message, profileResponse{User: toUserResponse(user)})
}

// UpdateProfile は表示名とアバターを部分更新する。
// PUT /api/auth/profile, PUT /api/users/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, model.ProfilePatch{
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, "Profile updated successfully", profileResponse{User: toUserResponse(user)})
}

// ChangePassword は現在のパスワードを確認してから新しいパスワードに置き換える。
// PUT /api/auth/change-password, PUT /api/users/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}

	middleware.WriteSuccess(w, http.StatusOK, "Password changed successfully", nil)
}

// Logout はトークンを破棄するだけのクライアント側ログアウトを受け付ける。サーバー側の状態は持たない。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.WriteSuccess(w, http.StatusOK, "Logged out successfully", nil)
}
