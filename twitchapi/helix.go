// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for stream liveness and channel metadata, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultHelixBaseURL is the production Helix API root.
const DefaultHelixBaseURL = "https://api.twitch.tv/helix"

// ErrUnauthorized is returned when Helix rejects the app token.
var ErrUnauthorized = errors.New("twitch helix: unauthorized")

// HelixClient provides the Helix calls the bot needs.
type HelixClient struct {
	ClientID   string
	HTTPClient *http.Client
	// BaseURL defaults to DefaultHelixBaseURL.
	BaseURL string
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultHelixBaseURL
}

// Stream is the subset of a Helix stream object the bot reports.
type Stream struct {
	ID          string `json:"id"`
	UserLogin   string `json:"user_login"`
	GameName    string `json:"game_name"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	ViewerCount int    `json:"viewer_count"`
	StartedAt   string `json:"started_at"`
}

// GetStream returns the live stream of login, or nil when the channel is offline.
func (hc *HelixClient) GetStream(ctx context.Context, login, token string) (*Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+"/streams", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("user_login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("helix streams failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// IsLive reports whether login is currently broadcasting.
func (hc *HelixClient) IsLive(ctx context.Context, login, token string) (bool, error) {
	s, err := hc.GetStream(ctx, login, token)
	if err != nil {
		return false, err
	}
	return s != nil && (s.Type == "" || s.Type == "live"), nil
}
