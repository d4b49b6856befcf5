package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nicklaw5/helix/v2"
)

// ErrUserNotFound is returned when a login does not resolve to a Twitch user.
var ErrUserNotFound = errors.New("twitch user not found")

// ChannelInfo looks up channel metadata through the helix SDK, authenticating
// with the shared app token.
type ChannelInfo struct {
	tokens *TokenSource

	mu     sync.Mutex
	client *helix.Client
	ids    map[string]string
}

// NewChannelInfo builds a lookup client. baseURL may be empty for production.
func NewChannelInfo(clientID string, tokens *TokenSource, hc *http.Client, baseURL string) (*ChannelInfo, error) {
	opts := &helix.Options{ClientID: clientID, APIBaseURL: baseURL}
	if hc != nil {
		opts.HTTPClient = hc
	}
	client, err := helix.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("helix: NewClient: %w", err)
	}
	return &ChannelInfo{tokens: tokens, client: client, ids: make(map[string]string)}, nil
}

// CurrentGame returns the category name currently set on login's channel.
func (c *ChannelInfo) CurrentGame(ctx context.Context, login string) (string, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := c.tokens.Get(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.client.SetAppAccessToken(tok)

	id, err := c.userIDLocked(login)
	if err != nil {
		return "", err
	}
	resp, err := c.client.GetChannelInformation(&helix.GetChannelInformationParams{
		BroadcasterIDs: []string{id},
	})
	if err != nil {
		return "", fmt.Errorf("helix: GetChannelInformation: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("helix: GetChannelInformation failed (%d: %s) %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.Channels) == 0 {
		return "", nil
	}
	return resp.Data.Channels[0].GameName, nil
}

func (c *ChannelInfo) userIDLocked(login string) (string, error) {
	if id, ok := c.ids[login]; ok {
		return id, nil
	}
	resp, err := c.client.GetUsers(&helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return "", fmt.Errorf("helix: GetUsers: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("helix: GetUsers failed (%d: %s) %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	id := resp.Data.Users[0].ID
	c.ids[login] = id
	return id, nil
}
