// Package dispatch submits field forms immediately when the backend is
// reachable and falls back to the durable queue when it is not.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/fieldwork/fieldsync/internal/backend"
	"github.com/fieldwork/fieldsync/internal/netmon"
	"github.com/fieldwork/fieldsync/internal/types"
	"github.com/fieldwork/fieldsync/internal/validation"
)

// SendFunc performs the immediate submission. The idempotency key is the
// same one stored with the queued copy if the send fails.
type SendFunc func(ctx context.Context, payload types.Payload, idempotencyKey string) error

// Queue is the subset of the queue store the dispatcher needs.
type Queue interface {
	EnqueueWithKey(ctx context.Context, typ types.SubmissionType, endpoint string, payload types.Payload, idempotencyKey string) (string, error)
}

// Drainer flushes previously queued submissions.
type Drainer interface {
	Drain(ctx context.Context) types.DrainResult
}

// Dispatcher routes submissions to the network or the queue.
type Dispatcher struct {
	prober  netmon.Prober
	queue   Queue
	drainer Drainer

	wg sync.WaitGroup
}

// New creates a dispatcher. drainer may be nil, in which case successful
// sends do not trigger a background drain.
func New(prober netmon.Prober, queue Queue, drainer Drainer) *Dispatcher {
	return &Dispatcher{prober: prober, queue: queue, drainer: drainer}
}

// BackendSender returns a SendFunc that posts to the backend endpoint for typ.
func BackendSender(c *backend.Client, typ types.SubmissionType) SendFunc {
	return func(ctx context.Context, payload types.Payload, idempotencyKey string) error {
		_, err := c.Submit(ctx, typ, payload, idempotencyKey)
		return err
	}
}

// Submit validates payload, then sends it or queues it. It never returns
// an error; the outcome is described by the result.
func (d *Dispatcher) Submit(ctx context.Context, typ types.SubmissionType, endpoint string, payload types.Payload, send SendFunc) types.SubmitResult {
	if err := validation.ValidateSubmission(typ, payload); err != nil {
		return types.SubmitResult{Message: fmt.Sprintf("Invalid submission: %v", err)}
	}

	key := uuid.NewString()

	if !netmon.Reachable(ctx, d.prober) {
		if _, err := d.queue.EnqueueWithKey(ctx, typ, endpoint, payload, key); err != nil {
			slog.Error("failed to queue offline submission",
				"component", "dispatch",
				"type", typ,
				"error", err,
			)
			return types.SubmitResult{Message: fmt.Sprintf("%v. Failed to queue.", err)}
		}
		slog.Info("submission queued while offline", "component", "dispatch", "type", typ)
		return types.SubmitResult{Success: true, Queued: true}
	}

	sendErr := send(ctx, payload, key)
	if sendErr == nil {
		d.drainInBackground(ctx)
		return types.SubmitResult{Success: true}
	}

	slog.Warn("immediate submission failed",
		"component", "dispatch",
		"type", typ,
		"error", sendErr,
	)
	if _, err := d.queue.EnqueueWithKey(ctx, typ, endpoint, payload, key); err != nil {
		slog.Error("failed to queue submission after send failure",
			"component", "dispatch",
			"type", typ,
			"error", err,
		)
		return types.SubmitResult{Message: fmt.Sprintf("%v. Failed to queue.", sendErr)}
	}
	return types.SubmitResult{Queued: true, Message: fmt.Sprintf("%v. Queued for retry.", sendErr)}
}

// Wait blocks until background drains started by Submit have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drainInBackground(ctx context.Context) {
	if d.drainer == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background drain panicked",
					"component", "dispatch",
					"action", "drain",
					"panic", r,
				)
			}
		}()

		res := d.drainer.Drain(bg)
		if res.Failed > 0 {
			slog.Warn("background drain left failures",
				"component", "dispatch",
				"action", "drain",
				"succeeded", res.Succeeded,
				"failed", res.Failed,
			)
		}
	}()
}
