// Package netmon tracks reachability of the backing API.
package netmon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultProbeTimeout is the hard cutoff for a single reachability probe.
const DefaultProbeTimeout = 3 * time.Second

// Prober performs a single bounded-time liveness check. A nil error means
// the backend answered.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// HTTPProber issues HEAD requests against the liveness endpoint.
type HTTPProber struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPProber creates a prober for baseURL+path. A zero timeout uses
// DefaultProbeTimeout.
func NewHTTPProber(baseURL, path string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{
		url:     strings.TrimRight(baseURL, "/") + path,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// Probe reports nil for any HTTP response, whatever its status, and an error
// for transport failures, timeouts, and cancellation.
func (p *HTTPProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Reachable runs one probe and reports whether it succeeded.
func Reachable(ctx context.Context, p Prober) bool {
	return p.Probe(ctx) == nil
}
