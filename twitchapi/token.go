package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	// SafetyMargin is how long before expiry a cached token stops being handed out.
	SafetyMargin = 30 * time.Second
	// MinTokenTTL floors the lifetime reported by the token endpoint.
	MinTokenTTL = 10 * time.Second
)

// ErrNoToken is returned by Get when no valid app token could be obtained.
var ErrNoToken = errors.New("twitch app token unavailable")

// RefreshFunc obtains a fresh app access token and its lifetime.
type RefreshFunc func(ctx context.Context, clientID, clientSecret string) (token string, ttl time.Duration, err error)

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: This token CANNOT be used for IRC chat; chat requires a user (bot) OAuth token with chat:read/chat:edit scopes.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// Refresh defaults to ClientCredentials(HTTPClient).
	Refresh RefreshFunc

	now func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func (ts *TokenSource) clock() time.Time {
	if ts.now != nil {
		return ts.now()
	}
	return time.Now()
}

func (ts *TokenSource) refresher() RefreshFunc {
	if ts.Refresh != nil {
		return ts.Refresh
	}
	return ClientCredentials(ts.HTTPClient)
}

// validLocked reports whether the cached credential is usable. Callers hold mu.
func (ts *TokenSource) validLocked(now time.Time) bool {
	return ts.token != "" && now.Add(SafetyMargin).Before(ts.expiresAt)
}

// EnsureValid refreshes the token when it is absent or inside the safety
// margin. A failed refresh leaves the previous state untouched and returns false.
func (ts *TokenSource) EnsureValid(ctx context.Context) bool {
	_, err := ts.ensure(ctx)
	return err == nil
}

func (ts *TokenSource) ensure(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.validLocked(ts.clock()) {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.validLocked(ts.clock()) {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	tok, ttl, err := ts.refresher()(ctx, ts.ClientID, ts.ClientSecret)
	if err == nil && tok == "" {
		err = errors.New("empty access_token in twitch response")
	}
	if err != nil {
		slog.Warn("twitch app token refresh failed", slog.String("component", "twitch_token"), slog.Any("err", err))
		return "", err
	}
	if ttl < MinTokenTTL {
		ttl = MinTokenTTL
	}
	ts.token = tok
	ts.expiresAt = ts.clock().Add(ttl)
	slog.Debug("twitch app token refreshed", slog.String("component", "twitch_token"), slog.Duration("ttl", ttl))
	return tok, nil
}

// Token returns the cached credential, or "" if it is absent or expired.
func (ts *TokenSource) Token() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.token == "" || !ts.clock().Before(ts.expiresAt) {
		return ""
	}
	return ts.token
}

// Invalidate drops the cached credential so the next EnsureValid refreshes.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}

// ExpiresAt returns the expiry of the cached credential (zero when absent).
func (ts *TokenSource) ExpiresAt() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.expiresAt
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	tok, err := ts.ensure(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoToken, err)
	}
	return tok, nil
}
