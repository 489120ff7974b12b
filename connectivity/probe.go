package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Prober checks upstream reachability once. A nil error is a success; any
// error, including the context deadline, is a failure.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// ProbeError describes a failed reachability probe.
type ProbeError struct {
	URL    string
	Status int
	Cause  error
}

func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connectivity: probe %s: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("connectivity: probe %s: status %d", e.URL, e.Status)
}

func (e *ProbeError) Unwrap() error { return e.Cause }

// HTTPProber sends a cache-bypassing HEAD request to a small resource.
// Only a 2xx response counts as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
	now    func() time.Time
}

// NewHTTPProber returns a prober for url. The per-probe timeout comes from
// the context the monitor passes in.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{URL: url, Client: &http.Client{}, now: time.Now}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return &ProbeError{URL: p.URL, Cause: err}
	}
	q := req.URL.Query()
	q.Set("_", strconv.FormatInt(p.now().UnixMilli(), 10))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	resp, err := p.Client.Do(req)
	if err != nil {
		return &ProbeError{URL: p.URL, Cause: err}
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProbeError{URL: p.URL, Status: resp.StatusCode}
	}
	return nil
}
