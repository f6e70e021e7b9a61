package main

import (
	"strings"
	"testing"
	"time"

	"github.com/dnswlt/cxsync/internal/checkmarx"
	"github.com/dnswlt/cxsync/internal/port"
	"github.com/google/go-cmp/cmp"
)

func TestSyncFlagsFromEnv(t *testing.T) {
	t.Setenv("PORT_CLIENT_ID", "env-client")
	t.Setenv("PORT_CLIENT_SECRET", "env-secret")
	t.Setenv("CHECKMARX_BASE_URL", "https://cx.example.com")
	t.Setenv("CHECKMARX_API_KEY", "env-api-key")
	t.Setenv("HTTP_TIMEOUT", "30s")

	var opts Options
	parse(syncFlags(&opts), nil)

	want := Options{
		PortBaseURL:      port.DefaultBaseURL,
		PortClientID:     "env-client",
		PortClientSecret: "env-secret",
		CheckmarxBaseURL: "https://cx.example.com",
		CheckmarxAuthURL: checkmarx.DefaultAuthURL,
		CheckmarxAPIKey:  "env-api-key",
		HTTPTimeout:      30 * time.Second,
	}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("Options mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PORT_CLIENT_ID", "env-client")

	var opts Options
	parse(syncFlags(&opts), []string{"-port-client-id", "flag-client", "-verbose"})

	if opts.PortClientID != "flag-client" {
		t.Errorf("PortClientID = %q, want flag value", opts.PortClientID)
	}
	if !opts.Verbose {
		t.Errorf("Verbose = false, want true")
	}
}

func TestOptionsStringOmitsSecrets(t *testing.T) {
	opts := Options{PortClientSecret: "s3cret", CheckmarxAPIKey: "k3y"}
	s := opts.String()
	for _, secret := range []string{"s3cret", "k3y"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() = %q leaks %q", s, secret)
		}
	}
}
