package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// ErrConnectionRefused is returned by FailingTransport for matching requests.
var ErrConnectionRefused = errors.New("dial tcp: connection refused")

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FailingTransport fails every request whose method and path match
// with ErrConnectionRefused and delegates all others to Base.
type FailingTransport struct {
	Base   http.RoundTripper
	Method string
	Path   string
}

func (t *FailingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == t.Method && req.URL.Path == t.Path {
		return nil, ErrConnectionRefused
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Request is a request recorded by a Recorder.
type Request struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

// Recorder records requests received by a test server.
type Recorder struct {
	mu       sync.Mutex
	requests []Request
}

func (r *Recorder) Record(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// Count returns the number of recorded requests with the given method and path.
func (r *Recorder) Count(method, path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.requests {
		if req.Method == method && req.Path == path {
			n++
		}
	}
	return n
}
