package kramerius

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
)

// tokenExpiryMargin renews tokens this long before they expire.
const tokenExpiryMargin = 30 * time.Second

// TokenSource provides the bearer token of the service account.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops a cached token after the server rejected it.
	Invalidate()
}

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }
func (s StaticToken) Invalidate()                           {}

// PasswordTokenSource obtains tokens from an OpenID token endpoint with the
// password grant, or client credentials when no username is configured, and
// caches them until shortly before they expire.
type PasswordTokenSource struct {
	cfg    config.KrameriusAuth
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewPasswordTokenSource creates a token source for the configured service account.
func NewPasswordTokenSource(cfg config.KrameriusAuth, client *http.Client) *PasswordTokenSource {
	return &PasswordTokenSource{cfg: cfg, client: client, now: time.Now}
}

func (s *PasswordTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry) {
		return s.token, nil
	}

	token, expiry, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token, s.expiry = token, expiry
	return token, nil
}

func (s *PasswordTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *PasswordTokenSource) fetch(ctx context.Context) (string, time.Time, error) {
	if s.cfg.TokenURL == "" {
		return "", time.Time{}, errors.New("kramerius token url is not configured")
	}

	form := url.Values{}
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}
	if s.cfg.Username != "" {
		form.Set("grant_type", "password")
		form.Set("username", s.cfg.Username)
		form.Set("password", s.cfg.Password)
	} else {
		form.Set("grant_type", "client_credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", time.Time{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload accessTokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", time.Time{}, errors.New("token endpoint returned no access token")
	}

	return payload.AccessToken, s.expiryOf(payload), nil
}

// expiryOf prefers the exp claim of the token and falls back to expires_in.
// The token signature is verified by Kramerius, not here.
func (s *PasswordTokenSource) expiryOf(payload accessTokenResponse) time.Time {
	now := s.now()
	expiry := now.Add(time.Duration(payload.ExpiresIn) * time.Second)

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(payload.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	return expiry.Add(-tokenExpiryMargin)
}
