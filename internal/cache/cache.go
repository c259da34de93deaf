// Package cache persists the last known page of each resource plus sync
// metadata. Writes are whole-value overwrites; merging happens upstream.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fieldwork/fieldsync/internal/kv"
	"github.com/fieldwork/fieldsync/internal/types"
)

const (
	keyPrefix     = "fieldsync:cache:"
	keyLastSync   = "fieldsync:last_sync"
	keySyncStatus = "fieldsync:sync_status"
)

// Key returns the storage key for a resource's cache entry.
func Key(resource types.Resource) string {
	return keyPrefix + string(resource)
}

// Save overwrites the cached page for resource. Failures are returned as
// *kv.StorageError; the caller decides whether to continue uncached.
func Save[T any](ctx context.Context, store kv.Storage, resource types.Resource, page types.CachedPage[T]) error {
	if page.Data == nil {
		page.Data = []T{}
	}
	data, err := json.Marshal(page)
	if err != nil {
		return &kv.StorageError{Op: "encode", Key: Key(resource), Err: err}
	}
	return store.Set(ctx, Key(resource), string(data))
}

// SaveUnlessNewer overwrites the cached page for resource unless the stored
// entry was fetched after since, as one atomic step. It reports whether the
// page was written.
func SaveUnlessNewer[T any](ctx context.Context, store kv.Storage, resource types.Resource, page types.CachedPage[T], since time.Time) (bool, error) {
	if page.Data == nil {
		page.Data = []T{}
	}
	data, err := json.Marshal(page)
	if err != nil {
		return false, &kv.StorageError{Op: "encode", Key: Key(resource), Err: err}
	}

	written := false
	err = store.Update(ctx, Key(resource), func(old string, ok bool) (string, error) {
		if ok {
			var cur struct {
				FetchedAt time.Time `json:"fetched_at"`
			}
			if json.Unmarshal([]byte(old), &cur) == nil && cur.FetchedAt.After(since) {
				return "", kv.ErrNoChange
			}
		}
		written = true
		return string(data), nil
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

// Get returns the cached page for resource, or nil when nothing usable is
// stored. It never fails; read and decode errors are logged.
func Get[T any](ctx context.Context, store kv.Storage, resource types.Resource) *types.CachedPage[T] {
	raw, ok, err := store.Get(ctx, Key(resource))
	if err != nil {
		slog.Warn("cache read failed",
			"component", "cache",
			"resource", resource,
			"error", err,
		)
		return nil
	}
	if !ok {
		return nil
	}

	var page types.CachedPage[T]
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		slog.Warn("cache entry undecodable",
			"component", "cache",
			"resource", resource,
			"error", err,
		)
		return nil
	}
	return &page
}

// Meta stores sync metadata alongside the cache entries.
type Meta struct {
	store kv.Storage
}

// NewMeta creates a metadata accessor over store.
func NewMeta(store kv.Storage) *Meta {
	return &Meta{store: store}
}

// SetLastSync records the time of the last successful sync.
func (m *Meta) SetLastSync(ctx context.Context, t time.Time) error {
	return m.store.Set(ctx, keyLastSync, t.UTC().Format(time.RFC3339Nano))
}

// LastSync returns the last successful sync time, if any.
func (m *Meta) LastSync(ctx context.Context) (time.Time, bool) {
	raw, ok, err := m.store.Get(ctx, keyLastSync)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetStatus records the latest sync status. Last write wins.
func (m *Meta) SetStatus(ctx context.Context, state types.SyncState, message string) error {
	data, err := json.Marshal(types.SyncStatus{State: state, Message: message, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return m.store.Set(ctx, keySyncStatus, string(data))
}

// Status returns the latest sync status, if any.
func (m *Meta) Status(ctx context.Context) (types.SyncStatus, bool) {
	raw, ok, err := m.store.Get(ctx, keySyncStatus)
	if err != nil || !ok {
		return types.SyncStatus{}, false
	}
	var st types.SyncStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return types.SyncStatus{}, false
	}
	return st, true
}

// ClearAll removes every cached page and the sync metadata in one call.
func ClearAll(ctx context.Context, store kv.Storage) error {
	keys := make([]string, 0, len(types.Resources)+2)
	for _, r := range types.Resources {
		keys = append(keys, Key(r))
	}
	keys = append(keys, keyLastSync, keySyncStatus)
	return store.RemoveMany(ctx, keys)
}
