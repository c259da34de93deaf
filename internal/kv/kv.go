// Package kv provides the persistent key-value storage used by the durable
// submission queue and the local page cache.
package kv

import "context"

// Storage is a string-valued key-value store.
// Get reports ok=false for a missing key; that is not an error.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	RemoveMany(ctx context.Context, keys []string) error
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Update replaces the value under key with fn's result as one atomic
	// step, also against other processes sharing the database. fn sees
	// ok=false for a missing key and may return ErrNoChange to leave the
	// value untouched. fn must not call back into the store.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// UpdateFunc computes the next value of a key from its current one.
type UpdateFunc func(old string, ok bool) (string, error)
