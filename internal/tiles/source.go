package tiles

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/fieldwork/fieldsync/internal/config"
)

var (
	// ErrNetworkUnreachable aborts a batch: every remaining tile would fail
	// the same way.
	ErrNetworkUnreachable = errors.New("network unreachable")

	// ErrTileNotFound means the source has no such tile. It is not retried.
	ErrTileNotFound = errors.New("tile not found")

	// ErrTileRejected covers other permanent source refusals (4xx).
	ErrTileRejected = errors.New("tile request rejected")
)

// Source writes the bytes of one tile to dst.
type Source interface {
	Fetch(ctx context.Context, t Tile, dst string) error
}

// NewSource returns an S3Source when a bucket is configured and an
// HTTPSource otherwise.
func NewSource(cfg config.TilesConfig, timeout time.Duration) (Source, error) {
	if cfg.S3.Bucket != "" {
		return NewS3Source(cfg.S3)
	}
	return NewHTTPSource(cfg.URLTemplate, timeout), nil
}

// classify wraps errors meaning the device cannot reach the network at all
// with ErrNetworkUnreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	return err
}

// permanent reports whether retrying err cannot help.
func permanent(err error) bool {
	return errors.Is(err, ErrNetworkUnreachable) ||
		errors.Is(err, ErrTileNotFound) ||
		errors.Is(err, ErrTileRejected) ||
		errors.Is(err, context.Canceled)
}
