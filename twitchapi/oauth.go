package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenURL is the Twitch OAuth2 token endpoint.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// ClientCredentials returns a RefreshFunc performing the client credentials
// grant against TokenURL. A nil hc uses the oauth2 default client.
func ClientCredentials(hc *http.Client) RefreshFunc {
	return func(ctx context.Context, clientID, clientSecret string) (string, time.Duration, error) {
		cfg := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		if hc != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		}
		tok, err := cfg.Token(ctx)
		if err != nil {
			return "", 0, fmt.Errorf("twitch token request failed: %w", err)
		}
		return tok.AccessToken, tokenTTL(tok), nil
	}
}

// tokenTTL prefers the raw expires_in and falls back to the computed expiry.
func tokenTTL(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return time.Until(tok.Expiry)
}
