package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTManager_IssueAndParse(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, expiresAt, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if time.Until(expiresAt) <= 0 || time.Until(expiresAt) > time.Hour {
		t.Errorf("expiresAt = %v, want within an hour", expiresAt)
	}

	userID, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("Parse() = %q, want user-1", userID)
	}
}

func TestJWTManager_Parse_Expired(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	issuedAt := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issuedAt }

	token, _, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	m.now = time.Now
	if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Parse(expired) error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTManager_Parse_Rejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	valid, _, _ := m.Issue("user-1")

	otherKey, _, _ := NewJWTManager("other-secret", time.Hour).Issue("user-1")

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build none token: %v", err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "user-1"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to build token without exp: %v", err)
	}

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := map[string]string{
		"wrong key":   otherKey,
		"alg none":    noneToken,
		"missing exp": noExp,
		"tampered":    tampered,
		"empty":       "",
		"malformed":   "not.a.jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewJWTManager_DefaultTTL(t *testing.T) {
	m := NewJWTManager("secret", 0)
	if m.ttl != DefaultTokenTTL {
		t.Errorf("ttl = %v, want %v", m.ttl, DefaultTokenTTL)
	}
}
