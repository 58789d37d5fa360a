package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TokenSource yields the bearer token used for both channels.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", errors.New("no auth token configured")
	}
	return string(s), nil
}

// HTTPTokenSource exchanges a refresh token at the identity endpoint and caches
// the access token until shortly before it expires.
type HTTPTokenSource struct {
	url          string
	refreshToken string
	client       *http.Client
	now          func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewHTTPTokenSource(url, refreshToken string, client *http.Client) *HTTPTokenSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPTokenSource{url: url, refreshToken: refreshToken, client: client, now: time.Now}
}

type tokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

const expirySlack = 30 * time.Second

func (s *HTTPTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && (s.expires.IsZero() || s.now().Before(s.expires.Add(-expirySlack))) {
		return s.token, nil
	}

	bodyBytes, err := json.Marshal(tokenRequest{RefreshToken: s.refreshToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("token endpoint error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token endpoint returned no access_token")
	}

	s.token = tr.AccessToken
	s.expires = time.Time{}
	if tr.ExpiresIn > 0 {
		s.expires = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return s.token, nil
}
