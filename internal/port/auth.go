package port

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dnswlt/cxsync/internal/authclient"
)

// clientCredentials exchanges a client id and secret for an access token.
type clientCredentials struct {
	tokenURL     string
	clientID     string
	clientSecret string
}

type accessTokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   *int64 `json:"expiresIn"` // seconds
}

// Authenticate reports the token as expiring after expiresIn seconds.
// A response without expiresIn is an error; expiresIn <= 0 expires the token immediately.
func (a *clientCredentials) Authenticate(ctx context.Context, hc *http.Client) (authclient.Grant, error) {
	body, err := json.Marshal(accessTokenRequest{ClientID: a.clientID, ClientSecret: a.clientSecret})
	if err != nil {
		return authclient.Grant{}, &authclient.AuthError{System: "port", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, bytes.NewReader(body))
	if err != nil {
		return authclient.Grant{}, &authclient.AuthError{System: "port", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return authclient.Grant{}, &authclient.AuthError{System: "port", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return authclient.Grant{}, &authclient.AuthError{
			System:     "port",
			StatusCode: resp.StatusCode,
			Body:       authclient.ReadErrorBody(resp.Body),
		}
	}
	var tok accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return authclient.Grant{}, &authclient.AuthError{System: "port", Err: fmt.Errorf("invalid access token response: %w", err)}
	}
	if tok.AccessToken == "" {
		return authclient.Grant{}, &authclient.AuthError{System: "port", Err: errors.New("access token response has no accessToken")}
	}
	if tok.ExpiresIn == nil {
		return authclient.Grant{}, &authclient.AuthError{System: "port", Err: errors.New("access token response has no expiresIn")}
	}
	ttl := time.Duration(max(*tok.ExpiresIn, 0)) * time.Second
	return authclient.Grant{Token: tok.AccessToken, TTL: ttl, Expires: true}, nil
}
