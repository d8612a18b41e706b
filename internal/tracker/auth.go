package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Authenticator decorates an outgoing request with credentials.
type Authenticator interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// AuthError reports credentials the tracker refused. It is fatal: polling
// cannot make progress until the configuration is fixed.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("tracker authentication: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// Fatal marks the error as non-recoverable.
func (e *AuthError) Fatal() bool { return true }

// NoAuth sends requests as they are.
type NoAuth struct{}

func (NoAuth) Authorize(context.Context, *http.Request) error { return nil }

// BasicAuth sets an HTTP basic authorization header.
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Authorize(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

// OAuthClientCredentials authorizes with a bearer token obtained through the
// OAuth2 client-credentials grant. The token is cached and refreshed once it
// expires.
type OAuthClientCredentials struct {
	source oauth2.TokenSource
}

// OAuthConfig configures the client-credentials grant.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewOAuthClientCredentials returns an authenticator for cfg. The httpClient
// is used for token requests; nil uses http.DefaultClient.
func NewOAuthClientCredentials(cfg OAuthConfig, httpClient *http.Client) *OAuthClientCredentials {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	ctx := context.Background()
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return &OAuthClientCredentials{source: cc.TokenSource(ctx)}
}

func (a *OAuthClientCredentials) Authorize(_ context.Context, req *http.Request) error {
	tok, err := a.source.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return &AuthError{Err: err}
		}
		return fmt.Errorf("fetch oauth token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}
