package checkmarx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dnswlt/cxsync/internal/authclient"
	"github.com/dnswlt/cxsync/internal/testutil"
	"github.com/google/go-cmp/cmp"
)

func newTestClient(f *testutil.FakeCheckmarx, apiKey string, clock *testutil.Clock) *Client {
	opts := Options{
		BaseURL:    f.URL(),
		AuthURL:    f.AuthURL(),
		APIKey:     apiKey,
		HTTPClient: f.Server.Client(),
	}
	if clock != nil {
		opts.Clock = clock.Now
	}
	return NewClient(opts)
}

func TestProjectUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Project
	}{
		{
			name: "full",
			in:   `{"id": "p-1", "name": "web", "description": "Web app", "lastScanDate": "2024-03-01T10:00:00Z", "tags": {"a": "b"}}`,
			want: Project{ID: "p-1", HasID: true, Name: "web", Description: "Web app", LastScanDate: "2024-03-01T10:00:00Z"},
		},
		{
			name: "numeric id",
			in:   `{"id": 12345678901234567, "name": "api"}`,
			want: Project{ID: "12345678901234567", HasID: true, Name: "api"},
		},
		{
			name: "missing id",
			in:   `{"name": "batch"}`,
			want: Project{Name: "batch"},
		},
		{
			name: "null id and description",
			in:   `{"id": null, "name": "batch", "description": null}`,
			want: Project{Name: "batch"},
		},
		{
			name: "empty",
			in:   `{}`,
			want: Project{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got Project
			if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Project mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProjectUnmarshal_InvalidID(t *testing.T) {
	var p Project
	if err := json.Unmarshal([]byte(`{"id": {"nested": true}}`), &p); err == nil {
		t.Errorf("Unmarshal succeeded, want error for object id")
	}
}

func TestListProjects(t *testing.T) {
	f := testutil.NewFakeCheckmarx(t)
	f.Projects = []map[string]any{
		{"id": "p-1", "name": "web", "description": "Web app", "lastScanDate": "2024-03-01"},
		{"name": "no-id"},
	}
	c := newTestClient(f, f.APIKey, nil)

	got, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	want := []Project{
		{ID: "p-1", HasID: true, Name: "web", Description: "Web app", LastScanDate: "2024-03-01"},
		{Name: "no-id"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListProjects() mismatch (-want +got):\n%s", diff)
	}
}

func TestListProjects_Empty(t *testing.T) {
	f := testutil.NewFakeCheckmarx(t)
	c := newTestClient(f, f.APIKey, nil)

	got, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListProjects() = %v, want empty", got)
	}
}

func TestListProjects_HTTPError(t *testing.T) {
	f := testutil.NewFakeCheckmarx(t)
	f.ProjectsStatus = http.StatusServiceUnavailable
	c := newTestClient(f, f.APIKey, nil)

	_, err := c.ListProjects(context.Background())
	var httpErr *authclient.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ListProjects error = %v, want 503 *HTTPError", err)
	}
}

func TestRefreshTokenGrant(t *testing.T) {
	f := testutil.NewFakeCheckmarx(t)
	c := newTestClient(f, f.APIKey, nil)

	if _, err := c.ListProjects(context.Background()); err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	var tokenReq *testutil.Request
	for _, r := range f.Requests() {
		if r.Path == "/auth/token" {
			tokenReq = &r
			break
		}
	}
	if tokenReq == nil {
		t.Fatalf("no token request was made")
	}
	form, err := url.ParseQuery(tokenReq.Body)
	if err != nil {
		t.Fatalf("token request body is not form-encoded: %v", err)
	}
	want := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {ClientID},
		"refresh_token": {f.APIKey},
	}
	if diff := cmp.Diff(want, form); diff != "" {
		t.Errorf("token request form mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenCachedForever(t *testing.T) {
	f := testutil.NewFakeCheckmarx(t)
	clock := testutil.NewClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	c := newTestClient(f, f.APIKey, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.ListProjects(ctx); err != nil {
			t.Fatalf("ListProjects: %v", err)
		}
		// Well past the expires_in reported by the server.
		clock.Advance(time.Hour)
	}
	if got := f.Tokens(); got != 1 {
		t.Errorf("tokens issued = %d, want 1", got)
	}
}

func TestAuthFailure(t *testing.T) {
	f := testutil.NewFakeCheckmarx(t)
	c := newTestClient(f, "wrong-key", nil)

	_, err := c.ListProjects(context.Background())
	var authErr *authclient.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("ListProjects error = %v, want *AuthError", err)
	}
	if authErr.StatusCode != http.StatusBadRequest || authErr.System != "checkmarx" {
		t.Errorf("AuthError = %+v, want checkmarx/400", authErr)
	}
	if got := f.Count(http.MethodGet, "/api/projects"); got != 0 {
		t.Errorf("project requests = %d, want 0", got)
	}
}
