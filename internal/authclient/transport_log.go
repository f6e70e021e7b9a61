package authclient

import (
	"log"
	"net/http"
	"time"
)

// LoggingTransport logs every round trip of the wrapped transport.
// Headers are never logged since they carry bearer tokens.
type LoggingTransport struct {
	Base   http.RoundTripper // http.DefaultTransport if nil
	Logger *log.Logger       // log.Default() if nil
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	started := time.Now()
	resp, err := base.RoundTrip(req)
	elapsed := time.Since(started).Round(time.Millisecond)
	if err != nil {
		logger.Printf("%s %s failed after %v: %v", req.Method, req.URL.Redacted(), elapsed, err)
		return nil, err
	}
	logger.Printf("%s %s %d (%v)", req.Method, req.URL.Redacted(), resp.StatusCode, elapsed)
	return resp, nil
}
