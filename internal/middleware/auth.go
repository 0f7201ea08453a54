package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/taskmanager/internal/model"
)

// contextKey はコンテキストキーの型。他パッケージとの衝突を防ぐ。
type contextKey string

const (
	userContextKey   contextKey = "user"
	userIDContextKey contextKey = "user_id"
)

// ErrNoUserInContext はコンテキストに認証済みユーザーがない場合のエラー。
var ErrNoUserInContext = errors.New("user not found in context")

// Authenticator はBearerトークンを検証して有効なユーザーを返すインターフェース。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証に成功した場合、ユーザーとユーザーIDをコンテキストに設定する。
// 失敗時は401エンベロープを返し、後続のハンドラーは呼ばれない。
func NewAuthMiddleware(authn Authenticator, development bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authn.Authenticate(r.Context(), bearerToken(r))
			if err != nil {
				WriteError(w, r, err, development)
				return
			}

			if info := requestInfoFrom(r.Context()); info != nil {
				info.userID = user.ID
			}
			ctx := ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークンを取り出す。形式が違う場合は空文字列。
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ContextWithUser は認証済みユーザーとそのIDをコンテキストに設定する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return ContextWithUserID(ctx, user.ID)
}

// UserFromContext はコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, ErrNoUserInContext
	}
	return user, nil
}

// ContextWithUserID はユーザーIDをコンテキストに設定する。テスト用にも使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext はコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", ErrNoUserInContext
	}
	return userID, nil
}
