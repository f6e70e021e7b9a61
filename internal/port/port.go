// Package port is a client for the Port developer catalog API.
package port

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dnswlt/cxsync/internal/authclient"
)

const (
	DefaultBaseURL = "https://api.getport.io/v1"
)

// Property is the definition of a single blueprint property.
type Property struct {
	Type        string `json:"type"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Relation is the definition of a blueprint relation.
type Relation struct {
	Title    string `json:"title,omitempty"`
	Target   string `json:"target"`
	Required bool   `json:"required"`
	Many     bool   `json:"many"`
}

type Blueprint struct {
	Identifier  string              `json:"identifier"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Schema      Schema              `json:"schema"`
	Relations   map[string]Relation `json:"relations"`
}

// Entity is a catalog record of a blueprint.
type Entity struct {
	Identifier string         `json:"identifier"`
	Title      string         `json:"title"`
	Properties map[string]any `json:"properties"`
	Relations  map[string]any `json:"relations"`
}

// Options for creating a Client.
type Options struct {
	BaseURL      string // DefaultBaseURL if empty.
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Clock        func() time.Time
	// Verbose enables logging of request payloads.
	Verbose bool
}

type Client struct {
	api     *authclient.Client
	verbose bool
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	auth := &clientCredentials{
		tokenURL:     baseURL + "/auth/access_token",
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
	}
	return &Client{
		api: authclient.New(baseURL, auth,
			authclient.WithHTTPClient(opts.HTTPClient),
			authclient.WithClock(opts.Clock)),
		verbose: opts.Verbose,
	}
}

// API returns the underlying authenticating client.
func (c *Client) API() *authclient.Client {
	return c.api
}

// LookupBlueprint returns the raw lookup result for the blueprint with the given identifier.
func (c *Client) LookupBlueprint(ctx context.Context, identifier string) (authclient.ReadResult, error) {
	return c.api.Lookup(ctx, "/blueprints/"+url.PathEscape(identifier))
}

// GetBlueprint returns the blueprint with the given identifier.
// Any failure to read the blueprint, not only a 404, is reported as (nil, false, nil).
// The error is non-nil only if authentication failed.
func (c *Client) GetBlueprint(ctx context.Context, identifier string) (*Blueprint, bool, error) {
	res, err := c.LookupBlueprint(ctx, identifier)
	if err != nil {
		return nil, false, err
	}
	switch res.Outcome {
	case authclient.Found:
	case authclient.NotFound:
		return nil, false, nil
	default:
		log.Printf("Could not read blueprint %s (%v), treating it as absent: %v", identifier, res.Outcome, res.Err)
		return nil, false, nil
	}
	var bp Blueprint
	if err := json.Unmarshal(unwrap(res.Payload, "blueprint"), &bp); err != nil {
		log.Printf("Could not decode blueprint %s, treating it as absent: %v", identifier, err)
		return nil, false, nil
	}
	return &bp, true, nil
}

func (c *Client) CreateBlueprint(ctx context.Context, bp Blueprint) (*Blueprint, error) {
	if bp.Schema.Properties == nil {
		bp.Schema.Properties = map[string]Property{}
	}
	if bp.Schema.Required == nil {
		bp.Schema.Required = []string{}
	}
	if bp.Relations == nil {
		bp.Relations = map[string]Relation{}
	}
	c.logPayload("Creating blueprint with data", bp)
	payload, err := c.api.Post(ctx, "/blueprints", bp)
	if err != nil {
		c.logErrorResponse(err)
		return nil, err
	}
	var created Blueprint
	if err := json.Unmarshal(unwrap(payload, "blueprint"), &created); err != nil {
		return nil, fmt.Errorf("invalid blueprint in create response: %w", err)
	}
	return &created, nil
}

// CreateEntity creates an entity of the given blueprint.
// Whether an existing entity with the same identifier is overwritten
// or rejected is up to the Port API.
func (c *Client) CreateEntity(ctx context.Context, blueprintID string, e Entity) (*Entity, error) {
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	if e.Relations == nil {
		e.Relations = map[string]any{}
	}
	c.logPayload("Creating entity with data", e)
	payload, err := c.api.Post(ctx, "/blueprints/"+url.PathEscape(blueprintID)+"/entities", e)
	if err != nil {
		return nil, err
	}
	var created Entity
	if err := json.Unmarshal(unwrap(payload, "entity"), &created); err != nil {
		return nil, fmt.Errorf("invalid entity in create response: %w", err)
	}
	return &created, nil
}

// unwrap returns the value of field if payload is an object that has it,
// and payload itself otherwise. Port wraps resources in {"ok": true, "<kind>": {...}}.
func unwrap(payload json.RawMessage, field string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return payload
	}
	if v, ok := obj[field]; ok {
		return v
	}
	return payload
}

func (c *Client) logPayload(msg string, v any) {
	if !c.verbose {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("%s: <unencodable: %v>", msg, err)
		return
	}
	log.Printf("%s: %s", msg, bytes.TrimSpace(data))
}

func (c *Client) logErrorResponse(err error) {
	if body := authclient.ErrorBody(err); body != "" {
		log.Printf("Error response: %s", body)
	}
}
