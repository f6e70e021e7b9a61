package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dnswlt/cxsync/internal/authclient"
	"github.com/dnswlt/cxsync/internal/checkmarx"
	"github.com/dnswlt/cxsync/internal/config"
	"github.com/dnswlt/cxsync/internal/port"
	"github.com/dnswlt/cxsync/internal/syncer"
	"github.com/peterbourgon/ff/v3"
)

var (
	// Version is the application version.
	// It is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
)

// Options contains program options that can be set via command-line flags or environment variables.
type Options struct {
	PortBaseURL      string
	PortClientID     string
	PortClientSecret string
	CheckmarxBaseURL string
	CheckmarxAuthURL string
	CheckmarxAPIKey  string
	BlueprintConfig  string
	HTTPTimeout      time.Duration
	Verbose          bool
}

// String omits secrets.
func (o Options) String() string {
	return fmt.Sprintf("{PortBaseURL:%s CheckmarxBaseURL:%s CheckmarxAuthURL:%s BlueprintConfig:%q HTTPTimeout:%v Verbose:%v}",
		o.PortBaseURL, o.CheckmarxBaseURL, o.CheckmarxAuthURL, o.BlueprintConfig, o.HTTPTimeout, o.Verbose)
}

func main() {
	if len(os.Args) < 2 {
		runSync(os.Args[1:])
		return
	}

	switch os.Args[1] {
	case "sync":
		runSync(os.Args[2:])
	case "print-blueprint":
		runPrintBlueprint(os.Args[2:])
	case "version":
		fmt.Println(Version)
	default:
		if strings.HasPrefix(os.Args[1], "-") {
			runSync(os.Args[1:])
			return
		}
		fmt.Fprintf(os.Stderr, "Unknown command %q. Available commands: sync, print-blueprint, version\n", os.Args[1])
		os.Exit(1)
	}
}

func registerBlueprintFlags(fs *flag.FlagSet, opts *Options) {
	fs.StringVar(&opts.BlueprintConfig, "blueprint-config", "", "Path to an optional YAML file that customizes the blueprint")
}

func parse(fs *flag.FlagSet, args []string) {
	// Flags map to env vars by upper-casing and replacing "-" with "_", e.g. PORT_CLIENT_ID.
	if err := ff.Parse(fs, args, ff.WithEnvVars()); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts Options) *config.Bundle {
	if opts.BlueprintConfig == "" {
		return config.Default()
	}
	bundle, err := config.Load(opts.BlueprintConfig)
	if err != nil {
		log.Fatalf("Failed to load blueprint config: %v", err)
	}
	return bundle
}

func syncFlags(opts *Options) *flag.FlagSet {
	fs := flag.NewFlagSet("cxsync sync", flag.ExitOnError)
	fs.StringVar(&opts.PortBaseURL, "port-base-url", port.DefaultBaseURL, "Base URL of the Port API")
	fs.StringVar(&opts.PortClientID, "port-client-id", "", "Port client ID")
	fs.StringVar(&opts.PortClientSecret, "port-client-secret", "", "Port client secret")
	fs.StringVar(&opts.CheckmarxBaseURL, "checkmarx-base-url", "", "Base URL of the Checkmarx One API")
	fs.StringVar(&opts.CheckmarxAuthURL, "checkmarx-auth-url", checkmarx.DefaultAuthURL, "Checkmarx IAM token endpoint")
	fs.StringVar(&opts.CheckmarxAPIKey, "checkmarx-api-key", "", "Checkmarx API key (used as refresh token)")
	fs.DurationVar(&opts.HTTPTimeout, "http-timeout", 0, "Timeout of each HTTP request (0 means no timeout)")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Log HTTP requests and request payloads")
	registerBlueprintFlags(fs, opts)
	return fs
}

func runSync(args []string) {
	var opts Options
	parse(syncFlags(&opts), args)
	log.Printf("cxsync %s using config from flags/env vars: %v", Version, opts)

	bundle := loadConfig(opts)

	hc := &http.Client{Timeout: opts.HTTPTimeout}
	if opts.Verbose {
		hc.Transport = &authclient.LoggingTransport{}
	}
	portClient := port.NewClient(port.Options{
		BaseURL:      opts.PortBaseURL,
		ClientID:     opts.PortClientID,
		ClientSecret: opts.PortClientSecret,
		HTTPClient:   hc,
		Verbose:      opts.Verbose,
	})
	cxClient := checkmarx.NewClient(checkmarx.Options{
		BaseURL:    opts.CheckmarxBaseURL,
		AuthURL:    opts.CheckmarxAuthURL,
		APIKey:     opts.CheckmarxAPIKey,
		HTTPClient: hc,
	})

	s := syncer.New(portClient, cxClient, syncer.ProjectBlueprint(bundle.Blueprint))
	report, err := s.Run(context.Background())
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}
	log.Printf("Synced %d of %d projects (%d failed)", report.Synced, report.Projects, len(report.Failures))
	log.Printf("Performed %d Port and %d Checkmarx token exchanges", portClient.API().Exchanges(), cxClient.API().Exchanges())
}

func runPrintBlueprint(args []string) {
	var opts Options
	fs := flag.NewFlagSet("cxsync print-blueprint", flag.ExitOnError)
	registerBlueprintFlags(fs, &opts)
	parse(fs, args)

	bundle := loadConfig(opts)
	data, err := json.MarshalIndent(syncer.ProjectBlueprint(bundle.Blueprint), "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode blueprint: %v", err)
	}
	fmt.Println(string(data))
}
