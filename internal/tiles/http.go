package tiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTPSource fetches tiles from a URL template containing {z}, {x} and {y}.
type HTTPSource struct {
	template  string
	client    *http.Client
	userAgent string
}

// NewHTTPSource creates a source for template with a per-request timeout.
func NewHTTPSource(template string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		template:  template,
		client:    &http.Client{Timeout: timeout},
		userAgent: "fieldsync-tiles/1.0",
	}
}

// URL expands the template for t.
func (s *HTTPSource) URL(t Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	).Replace(s.template)
}

// Fetch downloads t into dst.
func (s *HTTPSource) Fetch(ctx context.Context, t Tile, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(t), nil)
	if err != nil {
		return fmt.Errorf("build tile request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrTileNotFound, t)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: status %d", ErrTileRejected, t, resp.StatusCode)
	default:
		return fmt.Errorf("tile %s: status %d", t, resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("download tile %s: %w", t, classify(err))
	}
	return f.Close()
}
