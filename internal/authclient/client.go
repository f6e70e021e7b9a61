// Package authclient implements a JSON-over-HTTP client that manages the
// bearer token of a remote system on behalf of its callers.
//
// A Client obtains a credential lazily on the first authenticated call and reuses
// it until its expiry (if the remote system reports one). Callers never have to
// reason about token freshness.
//
// A Client is not safe for concurrent use.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// Response bodies kept in errors are truncated to this many bytes.
	maxErrorBody = 4096
)

// Grant is the result of a credential exchange.
// If Expires is false, the token is kept for the lifetime of the Client.
// Otherwise it expires TTL after the exchange; a zero TTL expires immediately.
type Grant struct {
	Token   string
	TTL     time.Duration
	Expires bool
}

// Authenticator performs the system-specific credential exchange.
type Authenticator interface {
	Authenticate(ctx context.Context, hc *http.Client) (Grant, error)
}

// Credential is a bearer token and its optional expiry.
// A nil Expiry means the token never expires.
type Credential struct {
	Token  string
	Expiry *time.Time
}

func (c *Credential) validAt(now time.Time) bool {
	if c == nil || c.Token == "" {
		return false
	}
	return c.Expiry == nil || now.Before(*c.Expiry)
}

// Outcome classifies the result of a read.
type Outcome int

const (
	Found Outcome = iota
	NotFound
	StatusFailure
	TransportFailure
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not found"
	case StatusFailure:
		return "status failure"
	case TransportFailure:
		return "transport failure"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ReadResult is the result of Lookup. Payload is only set if Outcome is Found.
// Err holds the cause for StatusFailure and TransportFailure.
type ReadResult struct {
	Outcome Outcome
	Payload json.RawMessage
	Err     error
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	now        func() time.Time

	cred *Credential
	// Number of credential exchanges performed so far.
	exchanges int
}

type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all requests, including the credential exchange.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock sets the clock used to compute and check credential expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func New(baseURL string, auth Authenticator, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		auth:       auth,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchanges returns the number of credential exchanges the client has performed.
func (c *Client) Exchanges() int {
	return c.exchanges
}

// Token returns the cached token if it is still valid and performs a new
// credential exchange otherwise. Errors are always of type *AuthError.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.cred.validAt(c.now()) {
		return c.cred.Token, nil
	}
	c.exchanges++
	grant, err := c.auth.Authenticate(ctx, c.httpClient)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return "", err
		}
		return "", &AuthError{Err: err}
	}
	cred := &Credential{Token: grant.Token}
	if grant.Expires {
		expiry := c.now().Add(grant.TTL)
		cred.Expiry = &expiry
	}
	c.cred = cred
	return grant.Token, nil
}

// Headers returns the headers of an authenticated JSON request.
func (c *Client) Headers(ctx context.Context) (http.Header, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	headers, err := c.Headers(ctx)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header = headers
	return req, nil
}

// Lookup issues an authenticated GET for path and classifies the result.
// The returned error is non-nil only if authentication failed.
func (c *Client) Lookup(ctx context.Context, path string) (ReadResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return ReadResult{}, err
		}
		return ReadResult{Outcome: TransportFailure, Err: err}, nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ReadResult{Outcome: TransportFailure, Err: err}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ReadResult{Outcome: NotFound}, nil
	}
	if !isSuccess(resp.StatusCode) {
		return ReadResult{Outcome: StatusFailure, Err: newHTTPError(req, resp)}, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ReadResult{Outcome: TransportFailure, Err: err}, nil
	}
	if !json.Valid(data) {
		return ReadResult{Outcome: TransportFailure, Err: fmt.Errorf("GET %s: response is not valid JSON", req.URL)}, nil
	}
	return ReadResult{Outcome: Found, Payload: data}, nil
}

// Get is like Lookup, but collapses every outcome other than Found into "absent".
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	res, err := c.Lookup(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if res.Outcome != Found {
		return nil, false, nil
	}
	return res.Payload, true, nil
}

// Post issues an authenticated POST with body encoded as JSON and returns the response payload.
// Non-2xx responses yield an *HTTPError.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body for %s: %w", path, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, data)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// List issues an authenticated GET for path and returns the elements of the
// array field of the JSON object in the response. A missing field yields an empty slice.
func (c *Client) List(ctx context.Context, path, field string) ([]json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	payload, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("GET %s: response is not a JSON object: %w", req.URL, err)
	}
	raw, ok := obj[field]
	if !ok {
		return []json.RawMessage{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("GET %s: field %q is not an array: %w", req.URL, field, err)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, newHTTPError(req, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", req.Method, req.URL, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return data, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// ReadErrorBody reads at most maxErrorBody bytes from r.
func ReadErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(data)
}

func newHTTPError(req *http.Request, resp *http.Response) *HTTPError {
	return &HTTPError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       ReadErrorBody(resp.Body),
	}
}
