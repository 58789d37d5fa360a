package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestStatic(t *testing.T) {
	t.Parallel()

	if _, err := Static("  ").Token(context.Background()); err == nil {
		t.Fatalf("expected error for empty token")
	}
	tok, err := Static("abc").Token(context.Background())
	if err != nil || tok != "abc" {
		t.Fatalf("unexpected result %q %v", tok, err)
	}
}

func tokenServer(t *testing.T, calls *atomic.Int32, expiresIn int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken != "refresh" {
			http.Error(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		n := calls.Add(1)
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "access-" + string(rune('0'+n)), ExpiresIn: expiresIn})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTokenSourceCachesUntilExpiry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls, 120)

	now := time.Unix(1000, 0)
	s := NewHTTPTokenSource(srv.URL, "refresh", srv.Client())
	s.now = func() time.Time { return now }

	tok, err := s.Token(context.Background())
	if err != nil || tok != "access-1" {
		t.Fatalf("unexpected first token %q %v", tok, err)
	}
	if tok, _ := s.Token(context.Background()); tok != "access-1" || calls.Load() != 1 {
		t.Fatalf("expected cached token, got %q after %d calls", tok, calls.Load())
	}

	now = now.Add(100 * time.Second)
	tok, err = s.Token(context.Background())
	if err != nil || tok != "access-2" {
		t.Fatalf("expected refreshed token, got %q %v", tok, err)
	}
}

func TestHTTPTokenSourceRejected(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls, 0)

	s := NewHTTPTokenSource(srv.URL, "wrong", srv.Client())
	if _, err := s.Token(context.Background()); err == nil {
		t.Fatalf("expected error for rejected refresh token")
	}
}
