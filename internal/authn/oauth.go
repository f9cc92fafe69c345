package authn

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
)

// OAuthConfig holds the OAuth settings for one provider as registered with
// the auth backend.
type OAuthConfig struct {
	ClientID    string   `mapstructure:"client_id"`
	RedirectURL string   `mapstructure:"redirect_url"`
	Scopes      []string `mapstructure:"scopes"`
}

// oauthFlow builds authorization URLs and exchanges codes against the auth
// backend's OAuth endpoints for a single upstream provider. The backend
// brokers the actual handshake with the identity provider.
type oauthFlow struct {
	provider string
	config   *oauth2.Config
}

func newOAuthFlow(baseURL, provider string, cfg OAuthConfig) *oauthFlow {
	base := strings.TrimSuffix(baseURL, "/")

	return &oauthFlow{
		provider: provider,
		config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/authorize",
				TokenURL: base + "/token?grant_type=authorization_code",
			},
		},
	}
}

// AuthURL returns the authorization URL to open in the user's browser. The
// redirect target is fixed per flow; the state guards against CSRF.
func (f *oauthFlow) AuthURL(state, redirectTo string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("provider", f.provider),
	}
	if redirectTo != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_to", redirectTo))
	}
	return f.config.AuthCodeURL(state, opts...)
}

// Exchange exchanges an authorization code for a token at the backend.
func (f *oauthFlow) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return f.config.Exchange(ctx, code)
}
