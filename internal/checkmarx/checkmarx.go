// Package checkmarx is a client for the Checkmarx One projects API.
package checkmarx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dnswlt/cxsync/internal/authclient"
	"golang.org/x/oauth2"
)

const (
	DefaultAuthURL = "https://deu.iam.checkmarx.net/auth/realms/port-nfr/protocol/openid-connect/token"
	// OAuth client id of the Checkmarx One application.
	ClientID = "ast-app"
)

// Project is a Checkmarx project. Fields other than the ones below are ignored.
type Project struct {
	// ID is the project id. HasID is false if the id was absent or null.
	ID           string
	HasID        bool
	Name         string
	Description  string
	LastScanDate string
}

func (p *Project) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID           json.RawMessage `json:"id"`
		Name         flexString      `json:"name"`
		Description  flexString      `json:"description"`
		LastScanDate flexString      `json:"lastScanDate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Project{
		Name:         string(raw.Name),
		Description:  string(raw.Description),
		LastScanDate: string(raw.LastScanDate),
	}
	if len(raw.ID) > 0 && !bytes.Equal(raw.ID, []byte("null")) {
		var id flexString
		if err := json.Unmarshal(raw.ID, &id); err != nil {
			return fmt.Errorf("invalid project id: %w", err)
		}
		p.ID = string(id)
		p.HasID = true
	}
	return nil
}

// flexString accepts JSON strings, numbers and booleans. null decodes to "".
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch v := v.(type) {
	case json.Number:
		*s = flexString(v.String())
	case bool:
		*s = flexString(fmt.Sprint(v))
	default:
		return fmt.Errorf("cannot use %s as a string", data)
	}
	return nil
}

// Options for creating a Client.
type Options struct {
	BaseURL    string
	AuthURL    string // DefaultAuthURL if empty.
	APIKey     string
	HTTPClient *http.Client
	Clock      func() time.Time
}

type Client struct {
	api *authclient.Client
}

func NewClient(opts Options) *Client {
	authURL := opts.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	auth := &refreshTokenAuth{
		config: oauth2.Config{
			ClientID: ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  authURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiKey: opts.APIKey,
	}
	return &Client{
		api: authclient.New(opts.BaseURL, auth,
			authclient.WithHTTPClient(opts.HTTPClient),
			authclient.WithClock(opts.Clock)),
	}
}

// API returns the underlying authenticating client.
func (c *Client) API() *authclient.Client {
	return c.api
}

// ListProjects returns all projects visible to the API key.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	items, err := c.api.List(ctx, "/api/projects", "projects")
	if err != nil {
		return nil, err
	}
	projects := make([]Project, 0, len(items))
	for i, item := range items {
		var p Project
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("invalid project at index %d: %w", i, err)
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// refreshTokenAuth uses the API key as an OAuth2 refresh token.
type refreshTokenAuth struct {
	config oauth2.Config
	apiKey string
}

// Authenticate never reports an expiry: the token is kept for the
// lifetime of the process even if the IAM server reports expires_in.
// TODO: honor expires_in once it is confirmed that tokens do expire mid-run.
func (a *refreshTokenAuth) Authenticate(ctx context.Context, hc *http.Client) (authclient.Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	tok, err := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: a.apiKey}).Token()
	if err != nil {
		authErr := &authclient.AuthError{System: "checkmarx", Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
			authErr.Body = string(retrieveErr.Body)
		}
		return authclient.Grant{}, authErr
	}
	return authclient.Grant{Token: tok.AccessToken}, nil
}
