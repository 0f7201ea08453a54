package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// ErrGoogleTokenRejected はGoogleのIDトークンが検証に失敗した場合に返される。
var ErrGoogleTokenRejected = errors.New("google id token rejected")

// GoogleIdentity はGoogleのIDトークンから得られる本人情報。
type GoogleIdentity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// GoogleVerifierConfig はGoogleIDトークン検証の設定。
type GoogleVerifierConfig struct {
	ClientID string

	// テスト用にオーバーライド可能なURLとHTTPクライアント
	TokenInfoURL string
	HTTPClient   *http.Client
}

// GoogleTokenVerifier はGoogleのtokeninfoエンドポイントでIDトークンを検証する。
type GoogleTokenVerifier struct {
	config GoogleVerifierConfig
}

// NewGoogleTokenVerifier はGoogleTokenVerifierを生成する。
func NewGoogleTokenVerifier(config GoogleVerifierConfig) *GoogleTokenVerifier {
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleTokenVerifier{config: config}
}

// googleTokenInfo はtokeninfoエンドポイントのレスポンス。数値・真偽値も文字列で返される。
type googleTokenInfo struct {
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Verify はIDトークンを検証し、発行先（aud）がクライアントIDと一致する場合に本人情報を返す。
func (v *GoogleTokenVerifier) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	if idToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrGoogleTokenRejected)
	}

	endpoint := v.config.TokenInfoURL + "?" + url.Values{"id_token": {idToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokeninfo request: %w", err)
	}

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read tokeninfo response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tokeninfo returned status %d", ErrGoogleTokenRejected, resp.StatusCode)
	}

	var info googleTokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse tokeninfo response: %w", err)
	}

	if info.Aud != v.config.ClientID {
		return nil, fmt.Errorf("%w: audience mismatch", ErrGoogleTokenRejected)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: empty sub", ErrGoogleTokenRejected)
	}
	if info.Email != "" && info.EmailVerified != "true" {
		return nil, fmt.Errorf("%w: email not verified", ErrGoogleTokenRejected)
	}

	return &GoogleIdentity{
		Subject: info.Sub,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}
