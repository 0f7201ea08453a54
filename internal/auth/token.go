package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL はトークンの既定の有効期間（7日）。
const DefaultTokenTTL = 7 * 24 * time.Hour

// ErrInvalidToken はトークンの署名・形式・有効期限のいずれかが不正な場合に返される。
var ErrInvalidToken = errors.New("invalid token")

// Claims はトークンに含めるクレーム。userIdとsubには同じユーザーIDを入れる。
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTManager はHS256署名のJWTを発行・検証する。
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTManager はJWTManagerを生成する。ttlが0以下の場合はDefaultTokenTTLを使う。
func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue はユーザーIDに紐づくトークンを発行し、トークンと有効期限を返す。
func (m *JWTManager) Issue(userID string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse はトークンを検証し、ユーザーIDを返す。
// HS256以外の署名方式、有効期限切れ、expクレーム欠落はErrInvalidTokenとなる。
func (m *JWTManager) Parse(tokenString string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" || (claims.Subject != "" && claims.Subject != claims.UserID) {
		return "", fmt.Errorf("%w: missing or inconsistent subject", ErrInvalidToken)
	}
	return claims.UserID, nil
}
