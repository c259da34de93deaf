package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldwork/fieldsync/internal/types"
)

// Connectivity is the monitor surface the auto-sync worker listens to.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// QueueDrainer is implemented by *Drainer.
type QueueDrainer interface {
	Drain(ctx context.Context) types.DrainResult
}

// AutoSync drains the queue whenever connectivity comes back, and
// periodically while online.
type AutoSync struct {
	drainer  QueueDrainer
	monitor  Connectivity
	interval time.Duration
}

// NewAutoSync creates the worker. A non-positive interval disables the
// periodic drain; reconnect-triggered drains still run.
func NewAutoSync(d QueueDrainer, m Connectivity, interval time.Duration) *AutoSync {
	return &AutoSync{drainer: d, monitor: m, interval: interval}
}

// Run blocks until ctx is cancelled.
func (w *AutoSync) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "auto-sync",
		"action", "worker_started",
	)

	updates, unsubscribe := w.monitor.Subscribe()
	defer unsubscribe()

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	wasOnline := w.monitor.Online()
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "auto-sync",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case online := <-updates:
			if online && !wasOnline {
				w.drain(ctx, "reconnect")
			}
			wasOnline = online
		case <-tick:
			if w.monitor.Online() {
				w.drain(ctx, "periodic")
			}
		}
	}
}

func (w *AutoSync) drain(ctx context.Context, trigger string) {
	res := w.drainer.Drain(ctx)
	if res.Succeeded == 0 && res.Failed == 0 {
		return
	}
	slog.Info("auto sync drained queue",
		"component", "worker",
		"worker", "auto-sync",
		"action", "drain",
		"trigger", trigger,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
	)
}
