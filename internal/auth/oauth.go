package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/coding-leaderboard/internal/model"
)

// DefaultOAuthURL is the WakaTime site root hosting /oauth/authorize and
// /oauth/token.
const DefaultOAuthURL = "https://wakatime.com"

// WakaTimeScope is requested on every authorization. WakaTime expects the
// scopes comma-separated in a single parameter, so it is one oauth2 scope.
const WakaTimeScope = "email,read_stats,read_logged_time"

// WakaTimeProvider wraps golang.org/x/oauth2 for the WakaTime Authorization
// Code flow and for refreshing stored credentials.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. The browser is redirected to /oauth/authorize with our client id,
//     redirect URI, scope and a signed state.
//  2. The user approves on WakaTime.
//  3. WakaTime redirects back to the callback with a short-lived code.
//  4. The server trades the code for an access/refresh pair (server-to-server,
//     using the client secret).
//
// FORM-ENCODED TOKEN RESPONSES:
// WakaTime's token endpoint answers with application/x-www-form-urlencoded,
// not JSON. x/oauth2 inspects the Content-Type and parses both, including
// expires_in, so no custom decoding is needed.
type WakaTimeProvider struct {
	config *oauth2.Config
}

// NewWakaTimeProvider creates a provider. baseURL overrides the WakaTime site
// root (tests point it at an httptest server); empty means DefaultOAuthURL.
func NewWakaTimeProvider(clientID, clientSecret, redirectURL, baseURL string) *WakaTimeProvider {
	if baseURL == "" {
		baseURL = DefaultOAuthURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &WakaTimeProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{WakaTimeScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + "/oauth/authorize",
				TokenURL: baseURL + "/oauth/token",
				// client_id and client_secret travel in the form body.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// AuthURL returns the authorization URL for the given state.
func (p *WakaTimeProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for credentials.
func (p *WakaTimeProvider) Exchange(ctx context.Context, code string) (*model.Credentials, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", describeTokenError(err))
	}
	return credentialsFromToken(tok, "")
}

// Refresh trades a refresh credential for a new pair.
//
// The token source is given an already-expired token holding only the
// refresh credential, which makes x/oauth2 go straight to the
// grant_type=refresh_token request. If WakaTime does not rotate the refresh
// credential, the old one is carried over.
func (p *WakaTimeProvider) Refresh(ctx context.Context, refreshToken string) (*model.Credentials, error) {
	if refreshToken == "" {
		return nil, errors.New("auth: no refresh token")
	}
	tok, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("auth: refreshing OAuth token: %w", describeTokenError(err))
	}
	return credentialsFromToken(tok, refreshToken)
}

func credentialsFromToken(tok *oauth2.Token, fallbackRefresh string) (*model.Credentials, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("auth: token response has no access_token")
	}
	creds := &model.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = fallbackRefresh
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC().Truncate(time.Second)
		creds.ExpiresAt = &expiry
	}
	return creds, nil
}

// describeTokenError shortens *oauth2.RetrieveError, whose Error() includes
// the whole response body.
func describeTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		if re.ErrorCode != "" {
			return fmt.Errorf("token endpoint returned %d (%s): %w", re.Response.StatusCode, re.ErrorCode, err)
		}
		return fmt.Errorf("token endpoint returned %d: %w", re.Response.StatusCode, err)
	}
	return err
}
