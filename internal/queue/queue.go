// Package queue persists pending form submissions so they survive restarts
// and can be replayed in insertion order once the backend is reachable.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldwork/fieldsync/internal/kv"
	"github.com/fieldwork/fieldsync/internal/types"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Key is the storage key holding the serialized queue.
const Key = "fieldsync:queue"

// Store is the durable submission queue. The whole queue is one JSON array;
// every mutation is a read-modify-write of that value run through
// kv.Storage.Update, so it stays atomic across goroutines and across
// processes sharing the database.
type Store struct {
	kv  kv.Storage
	now func() time.Time
}

// New creates a queue store over the given storage.
func New(storage kv.Storage) *Store {
	return &Store{
		kv:  storage,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue appends a submission with RetryCount 0 and returns its id.
// A returned error means the submission was NOT queued.
func (s *Store) Enqueue(ctx context.Context, typ types.SubmissionType, endpoint string, payload types.Payload) (string, error) {
	return s.EnqueueWithKey(ctx, typ, endpoint, payload, "")
}

// EnqueueWithKey is Enqueue with a caller-supplied idempotency key, so that a
// failed immediate send and its later replays share one key. An empty key
// gets a fresh one.
func (s *Store) EnqueueWithKey(ctx context.Context, typ types.SubmissionType, endpoint string, payload types.Payload, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	now := s.now()
	item := types.QueuedSubmission{
		ID:             ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:           typ,
		Endpoint:       endpoint,
		Payload:        payload,
		EnqueuedAt:     now,
		RetryCount:     0,
		IdempotencyKey: idempotencyKey,
	}

	var length int
	err := s.update(ctx, func(items []types.QueuedSubmission) ([]types.QueuedSubmission, error) {
		items = append(items, item)
		length = len(items)
		return items, nil
	})
	if err != nil {
		return "", err
	}

	slog.Info("submission queued",
		"component", "queue",
		"action", "enqueue",
		"id", item.ID,
		"type", item.Type,
		"queue_length", length,
	)
	return item.ID, nil
}

// List returns the queue in insertion order. Read failures are logged and
// produce an empty result.
func (s *Store) List(ctx context.Context) []types.QueuedSubmission {
	raw, ok, err := s.kv.Get(ctx, Key)
	if err == nil {
		var items []types.QueuedSubmission
		if items, err = decode(raw, ok); err == nil {
			return items
		}
	}
	slog.Error("failed to read submission queue",
		"component", "queue",
		"action", "list",
		"error", err,
	)
	return []types.QueuedSubmission{}
}

// Get returns the queued submission with the given id.
func (s *Store) Get(ctx context.Context, id string) (types.QueuedSubmission, bool) {
	for _, item := range s.List(ctx) {
		if item.ID == id {
			return item, true
		}
	}
	return types.QueuedSubmission{}, false
}

// Len returns the number of queued submissions.
func (s *Store) Len(ctx context.Context) int {
	return len(s.List(ctx))
}

// Remove deletes the entry with the given id. Unknown ids are a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.update(ctx, func(items []types.QueuedSubmission) ([]types.QueuedSubmission, error) {
		for i, item := range items {
			if item.ID == id {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, kv.ErrNoChange
	})
}

// UpdateRetryCount stores n (and the last replay error) for the matching
// entry. It is best-effort: failures are logged, never returned.
func (s *Store) UpdateRetryCount(ctx context.Context, id string, n int, lastErr string) {
	err := s.update(ctx, func(items []types.QueuedSubmission) ([]types.QueuedSubmission, error) {
		for i := range items {
			if items[i].ID == id {
				items[i].RetryCount = n
				items[i].LastError = lastErr
				return items, nil
			}
		}
		return nil, kv.ErrNoChange
	})
	if err != nil {
		slog.Warn("failed to persist retry count",
			"component", "queue",
			"action", "update_retry",
			"id", id,
			"retry_count", n,
			"error", err,
		)
	}
}

// Clear deletes the entire queue.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Remove(ctx, Key)
}

// update applies fn to the stored queue as one atomic read-modify-write.
func (s *Store) update(ctx context.Context, fn func([]types.QueuedSubmission) ([]types.QueuedSubmission, error)) error {
	return s.kv.Update(ctx, Key, func(raw string, ok bool) (string, error) {
		items, err := decode(raw, ok)
		if err != nil {
			return "", err
		}
		items, err = fn(items)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(items)
		if err != nil {
			return "", &kv.StorageError{Op: "encode", Key: Key, Err: fmt.Errorf("marshal queue: %w", err)}
		}
		return string(data), nil
	})
}

func decode(raw string, ok bool) ([]types.QueuedSubmission, error) {
	if !ok || raw == "" {
		return []types.QueuedSubmission{}, nil
	}
	var items []types.QueuedSubmission
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, &kv.StorageError{Op: "decode", Key: Key, Err: err}
	}
	if items == nil {
		items = []types.QueuedSubmission{}
	}
	return items, nil
}
