package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldwork/fieldsync/internal/types"
)

// DefaultDrainDelay spaces out replays so the backend is not flooded.
const DefaultDrainDelay = 500 * time.Millisecond

// Queue defines the queue operations needed by the drainer.
type Queue interface {
	List(ctx context.Context) []types.QueuedSubmission
	Remove(ctx context.Context, id string) error
	UpdateRetryCount(ctx context.Context, id string, n int, lastErr string)
}

// Sender replays one submission against the backend.
type Sender interface {
	Submit(ctx context.Context, typ types.SubmissionType, payload types.Payload, idempotencyKey string) (string, error)
}

// StatusRecorder receives sync progress. cache.Meta implements it.
type StatusRecorder interface {
	SetStatus(ctx context.Context, state types.SyncState, message string) error
	SetLastSync(ctx context.Context, t time.Time) error
}

// Drainer replays queued submissions one at a time, oldest first.
type Drainer struct {
	queue      Queue
	sender     Sender
	status     StatusRecorder
	delay      time.Duration
	maxRetries int

	// mu makes concurrent Drain calls run one after another; retry
	// bookkeeping is a read-modify-write per item.
	mu sync.Mutex
}

// NewDrainer creates a drainer. status may be nil.
func NewDrainer(q Queue, s Sender, status StatusRecorder, delay time.Duration) *Drainer {
	return &Drainer{
		queue:      q,
		sender:     s,
		status:     status,
		delay:      delay,
		maxRetries: types.MaxRetries,
	}
}

// Drain replays every queued submission once. Successful items are removed;
// failed items have their retry count bumped and are dropped once it
// reaches the retry ceiling. Drain never panics and never returns an error.
func (d *Drainer) Drain(ctx context.Context) types.DrainResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := types.DrainResult{Errors: []string{}}

	items := d.queue.List(ctx)
	if len(items) == 0 {
		return result
	}

	slog.Info("draining submission queue",
		"component", "worker",
		"worker", "drainer",
		"action", "drain_started",
		"count", len(items),
	)
	d.setStatus(ctx, types.SyncSyncing, fmt.Sprintf("Syncing %d submissions", len(items)))

	for i, item := range items {
		if i > 0 && !sleep(ctx, d.delay) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if err := d.replay(ctx, item); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, d.handleFailure(ctx, item, err))
			continue
		}

		if err := d.queue.Remove(ctx, item.ID); err != nil {
			// The backend accepted it; a later replay carries the same
			// idempotency key.
			slog.Error("failed to remove replayed submission",
				"component", "worker",
				"worker", "drainer",
				"id", item.ID,
				"error", err,
			)
		}
		result.Succeeded++
	}

	d.finish(ctx, len(items), result)
	return result
}

// replay sends one item, turning a panic in the transport into an error.
func (d *Drainer) replay(ctx context.Context, item types.QueuedSubmission) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay panicked: %v", r)
		}
	}()
	_, err = d.sender.Submit(ctx, item.Type, item.Payload, item.IdempotencyKey)
	return err
}

// handleFailure records a failed replay and returns the message to report.
func (d *Drainer) handleFailure(ctx context.Context, item types.QueuedSubmission, err error) string {
	attempts := item.RetryCount + 1

	if attempts >= d.maxRetries {
		if rmErr := d.queue.Remove(ctx, item.ID); rmErr != nil {
			slog.Error("failed to drop submission at retry limit",
				"component", "worker",
				"worker", "drainer",
				"id", item.ID,
				"error", rmErr,
			)
		}
		slog.Error("submission permanently failed",
			"component", "worker",
			"worker", "drainer",
			"action", "dropped",
			"id", item.ID,
			"type", item.Type,
			"attempts", attempts,
			"error", err,
		)
		return fmt.Sprintf("%s %s dropped after %d attempts: %v", item.Type, item.ID, attempts, err)
	}

	d.queue.UpdateRetryCount(ctx, item.ID, attempts, err.Error())
	slog.Warn("submission replay failed, will retry",
		"component", "worker",
		"worker", "drainer",
		"id", item.ID,
		"type", item.Type,
		"attempts", attempts,
		"error", err,
	)
	return fmt.Sprintf("%s %s: %v", item.Type, item.ID, err)
}

func (d *Drainer) finish(ctx context.Context, total int, result types.DrainResult) {
	processed := result.Succeeded + result.Failed

	switch {
	case result.Failed > 0:
		d.setStatus(ctx, types.SyncError, fmt.Sprintf("%d of %d submissions failed", result.Failed, processed))
	case processed < total:
		d.setStatus(ctx, types.SyncError, "Sync interrupted")
	default:
		d.setStatus(ctx, types.SyncSuccess, fmt.Sprintf("Synced %d submissions", result.Succeeded))
		if d.status != nil {
			if err := d.status.SetLastSync(ctx, time.Now()); err != nil {
				slog.Warn("failed to record last sync", "component", "worker", "error", err)
			}
		}
	}

	slog.Info("queue drain finished",
		"component", "worker",
		"worker", "drainer",
		"action", "drain_finished",
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", total-processed,
	)
}

func (d *Drainer) setStatus(ctx context.Context, state types.SyncState, message string) {
	if d.status == nil {
		return
	}
	if err := d.status.SetStatus(ctx, state, message); err != nil {
		slog.Warn("failed to record sync status", "component", "worker", "error", err)
	}
}

// sleep waits for d or until ctx is done. It reports whether the wait
// completed.
func sleep(ctx context.Context, d time.Duration) bool {
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
