package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func recording(rec *Recorder, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		rec.Record(Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		})
		h.ServeHTTP(w, r)
	})
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// FakePort is an in-memory stand-in for the Port API.
// Blueprints and entities persist for the lifetime of the server,
// so successive sync runs observe each other's writes.
type FakePort struct {
	*Recorder
	Server       *httptest.Server
	ClientID     string
	ClientSecret string
	ExpiresIn    int

	// OmitExpiresIn drops expiresIn from token responses.
	OmitExpiresIn bool

	mu         sync.Mutex
	tokens     int
	blueprints map[string]json.RawMessage
	entities   map[string]map[string]json.RawMessage
	// Entity identifiers for which entity creation fails with the given status.
	entityStatus map[string]int
}

func NewFakePort(t testing.TB) *FakePort {
	t.Helper()
	f := &FakePort{
		Recorder:     &Recorder{},
		ClientID:     "port-client",
		ClientSecret: "port-secret",
		ExpiresIn:    3600,
		blueprints:   make(map[string]json.RawMessage),
		entities:     make(map[string]map[string]json.RawMessage),
		entityStatus: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/access_token", f.handleToken)
	mux.HandleFunc("GET /blueprints/{id}", f.authorized(f.handleGetBlueprint))
	mux.HandleFunc("POST /blueprints", f.authorized(f.handleCreateBlueprint))
	mux.HandleFunc("POST /blueprints/{id}/entities", f.authorized(f.handleCreateEntity))
	f.Server = httptest.NewServer(recording(f.Recorder, mux))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakePort) URL() string {
	return f.Server.URL
}

// FailEntity makes creation of the entity with the given identifier fail with status.
func (f *FakePort) FailEntity(identifier string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityStatus[identifier] = status
}

// AddBlueprint stores a blueprint as if it had been created earlier.
func (f *FakePort) AddBlueprint(identifier string, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blueprints[identifier] = json.RawMessage(raw)
}

func (f *FakePort) Blueprint(identifier string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bp, ok := f.blueprints[identifier]
	return bp, ok
}

// Entities returns the stored entities of a blueprint, keyed by identifier.
func (f *FakePort) Entities(blueprint string) map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]json.RawMessage)
	for k, v := range f.entities[blueprint] {
		out[k] = v
	}
	return out
}

func (f *FakePort) Tokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

func (f *FakePort) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.ClientID != f.ClientID || req.ClientSecret != f.ClientSecret {
		errorJSON(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	f.mu.Lock()
	f.tokens++
	n := f.tokens
	f.mu.Unlock()
	resp := map[string]any{
		"ok":          true,
		"accessToken": fmt.Sprintf("port-token-%d", n),
		"expiresIn":   f.ExpiresIn,
		"tokenType":   "Bearer",
	}
	if f.OmitExpiresIn {
		delete(resp, "expiresIn")
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (f *FakePort) authorized(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer port-token-") {
			errorJSON(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r)
	}
}

func (f *FakePort) handleGetBlueprint(w http.ResponseWriter, r *http.Request) {
	bp, ok := f.Blueprint(r.PathValue("id"))
	if !ok {
		errorJSON(w, http.StatusNotFound, "not_found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "blueprint": bp})
}

func (f *FakePort) handleCreateBlueprint(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid_body")
		return
	}
	var bp struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(raw, &bp); err != nil || bp.Identifier == "" {
		errorJSON(w, http.StatusUnprocessableEntity, "invalid_blueprint")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blueprints[bp.Identifier]; ok {
		errorJSON(w, http.StatusConflict, "identifier_taken")
		return
	}
	f.blueprints[bp.Identifier] = raw
	WriteJSON(w, http.StatusCreated, map[string]any{"ok": true, "blueprint": json.RawMessage(raw)})
}

func (f *FakePort) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	blueprint := r.PathValue("id")
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid_body")
		return
	}
	var e struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		errorJSON(w, http.StatusUnprocessableEntity, "invalid_entity")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blueprints[blueprint]; !ok {
		errorJSON(w, http.StatusNotFound, "blueprint_not_found")
		return
	}
	if status, ok := f.entityStatus[e.Identifier]; ok {
		errorJSON(w, status, "entity_rejected")
		return
	}
	if f.entities[blueprint] == nil {
		f.entities[blueprint] = make(map[string]json.RawMessage)
	}
	f.entities[blueprint][e.Identifier] = raw
	WriteJSON(w, http.StatusCreated, map[string]any{"ok": true, "entity": json.RawMessage(raw)})
}

// FakeCheckmarx is an in-memory stand-in for the Checkmarx IAM and projects API.
type FakeCheckmarx struct {
	*Recorder
	Server *httptest.Server
	APIKey string
	// Projects is served as-is in the "projects" field of GET /api/projects.
	Projects []map[string]any
	// ProjectsStatus, if non-zero, makes GET /api/projects fail with this status.
	ProjectsStatus int

	mu     sync.Mutex
	tokens int
}

func NewFakeCheckmarx(t testing.TB) *FakeCheckmarx {
	t.Helper()
	f := &FakeCheckmarx{
		Recorder: &Recorder{},
		APIKey:   "cx-api-key",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", f.handleToken)
	mux.HandleFunc("GET /api/projects", f.handleProjects)
	f.Server = httptest.NewServer(recording(f.Recorder, mux))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeCheckmarx) URL() string {
	return f.Server.URL
}

func (f *FakeCheckmarx) AuthURL() string {
	return f.Server.URL + "/auth/token"
}

func (f *FakeCheckmarx) Tokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

func (f *FakeCheckmarx) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("client_id") != "ast-app" {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if r.PostForm.Get("refresh_token") != f.APIKey {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	f.mu.Lock()
	f.tokens++
	n := f.tokens
	f.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]any{
		"access_token": fmt.Sprintf("cx-token-%d", n),
		"token_type":   "Bearer",
		"expires_in":   300,
	})
}

func (f *FakeCheckmarx) handleProjects(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer cx-token-") {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if f.ProjectsStatus != 0 {
		WriteJSON(w, f.ProjectsStatus, map[string]string{"error": "unavailable"})
		return
	}
	projects := f.Projects
	if projects == nil {
		projects = []map[string]any{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"projects": projects, "totalCount": len(projects)})
}
