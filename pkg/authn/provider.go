package authn

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/quietgrove/gatehouse/pkg/config"
)

// ProviderClient talks to the identity provider's authorization and token
// endpoints. Every outgoing request carries the configured audience; the
// provider silently issues unverifiable opaque tokens without it.
type ProviderClient struct {
	oauth2Config *oauth2.Config
	audience     string
}

// NewProviderClient creates a client bound to a discovered provider.
func NewProviderClient(provider *oidc.Provider, cfg config.ProviderConfig) *ProviderClient {
	return &ProviderClient{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email", "offline_access"},
		},
		audience: cfg.Audience,
	}
}

// AuthCodeURL builds the provider authorization URL for the given state,
// always including the audience parameter.
func (c *ProviderClient) AuthCodeURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", c.audience))
}

// Exchange trades an authorization code for an access/refresh token pair.
func (c *ProviderClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.oauth2Config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("audience", c.audience))
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange failed: %v", ErrProviderUnavailable, err)
	}
	return token, nil
}

// Refresh trades a refresh token for a new access token.
func (c *ProviderClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := c.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrProviderUnavailable, err)
	}
	return token, nil
}
