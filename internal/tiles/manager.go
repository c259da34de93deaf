package tiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fieldwork/fieldsync/internal/types"
)

// Options tunes download pacing and retries. Zero values take the defaults.
type Options struct {
	BatchSize     int
	BatchPause    time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	// MaxTiles caps a single request. Zero means DefaultMaxTiles.
	MaxTiles int
}

// Defaults for Options.
const (
	DefaultBatchSize     = 50
	DefaultBatchPause    = 200 * time.Millisecond
	DefaultRetryAttempts = 2
	DefaultRetryBackoff  = time.Second
	DefaultMaxTiles      = 20000
)

// ErrTooManyTiles is returned by Check when a request exceeds MaxTiles.
var ErrTooManyTiles = errors.New("too many tiles")

// Manager keeps a directory of tiles at {dir}/{z}/{x}/{y}.png.
type Manager struct {
	dir    string
	source Source
	opts   Options
}

// NewManager creates a manager storing tiles under dir. A negative
// RetryAttempts disables retries; zero means the default.
func NewManager(dir string, source Source, opts Options) *Manager {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.MaxTiles <= 0 {
		opts.MaxTiles = DefaultMaxTiles
	}
	return &Manager{dir: dir, source: source, opts: opts}
}

// TilePath returns the local file for t.
func (m *Manager) TilePath(t Tile) string {
	return filepath.Join(m.dir, strconv.Itoa(t.Z), strconv.Itoa(t.X), strconv.Itoa(t.Y)+".png")
}

// Check returns the number of tiles a request covers, wrapping
// ErrTooManyTiles when that exceeds the configured cap.
func (m *Manager) Check(bbox BBox, zooms []int) (int, error) {
	n := CountTiles(bbox, zooms)
	if n > m.opts.MaxTiles {
		return n, fmt.Errorf("%w: %d tiles requested, limit is %d", ErrTooManyTiles, n, m.opts.MaxTiles)
	}
	return n, nil
}

// EnsureTilesForBounds downloads every missing tile covering bbox at each
// zoom level. Tiles already on disk are not fetched again. Requests over
// the tile cap download nothing. It never panics; unexpected failures yield
// Success=false with the counts so far.
func (m *Manager) EnsureTilesForBounds(ctx context.Context, bbox BBox, zooms []int) (result types.TileResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tile download aborted",
				"component", "tiles",
				"panic", r,
			)
			result.Success = false
		}
	}()

	total, err := m.Check(bbox, zooms)
	result.Total = total
	if err != nil {
		slog.Warn("tile request rejected",
			"component", "tiles",
			"error", err,
		)
		return result
	}

	i := 0
	for _, z := range zooms {
		for t := range RangeForBounds(bbox, z).All() {
			if !m.ensure(ctx, t, i, total, &result) {
				return result
			}
			i++
		}
	}

	result.Success = result.Failed == 0
	slog.Info("tile batch finished",
		"component", "tiles",
		"downloaded", result.Downloaded,
		"cached", result.Cached,
		"failed", result.Failed,
		"total", result.Total,
	)
	return result
}

// ensure handles the i-th tile of a request, reporting whether the batch
// should continue.
func (m *Manager) ensure(ctx context.Context, t Tile, i, total int, result *types.TileResult) bool {
	if i > 0 && i%m.opts.BatchSize == 0 && !pause(ctx, m.opts.BatchPause) {
		slog.Info("tile download cancelled",
			"component", "tiles",
			"done", i,
			"total", total,
		)
		return false
	}

	path := m.TilePath(t)
	if exists(path) {
		result.Cached++
		return true
	}

	err := m.download(ctx, t, path)
	switch {
	case err == nil:
		result.Downloaded++
	case errors.Is(err, ErrNetworkUnreachable):
		result.Failed++
		slog.Warn("network unreachable, aborting tile batch",
			"component", "tiles",
			"tile", t.String(),
			"done", i+1,
			"total", total,
			"error", err,
		)
		return false
	case ctx.Err() != nil:
		result.Failed++
		return false
	default:
		result.Failed++
		slog.Warn("tile download failed",
			"component", "tiles",
			"tile", t.String(),
			"error", err,
		)
	}
	return true
}

// download fetches t into a temporary file and renames it into place, so a
// partial download never looks like a cached tile.
func (m *Manager) download(ctx context.Context, t Tile, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tile dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	backoff := retry.WithMaxRetries(uint64(m.opts.RetryAttempts), retry.NewConstant(m.opts.RetryBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := m.source.Fetch(ctx, t, tmpPath)
		if err == nil || permanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("store tile %s: %w", t, err)
	}
	return nil
}

// Stats walks the tile directory. A missing directory is an empty cache.
func (m *Manager) Stats() (types.TileStats, error) {
	var st types.TileStats
	err := filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".png") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st.Tiles++
		st.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return types.TileStats{}, fmt.Errorf("walk tile dir: %w", err)
	}
	return st, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
