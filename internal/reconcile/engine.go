// Package reconcile fetches paginated resources from the backend, caches
// page 1, and builds a complete local mirror in the background so that
// every page can be served while offline.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldwork/fieldsync/internal/cache"
	"github.com/fieldwork/fieldsync/internal/kv"
	"github.com/fieldwork/fieldsync/internal/types"
)

// DefaultPageSize is used when a caller passes a non-positive page size.
const DefaultPageSize = 20

// PageFunc fetches one page of a resource from the network.
type PageFunc[T any] func(ctx context.Context, page, pageSize int) (*types.PageResponse[T], error)

// OnlineFunc reports the current connectivity state.
type OnlineFunc func() bool

// Engine serves one resource, online first with cache fallback.
type Engine[T any] struct {
	resource types.Resource
	fetch    PageFunc[T]
	store    kv.Storage
	meta     *cache.Meta
	online   OnlineFunc
	now      func() time.Time

	// mu orders page-1 saves against merge commits; gen is bumped on each
	// page-1 save so a merge started from an older page 1 is discarded.
	mu  sync.Mutex
	gen uint64

	wg sync.WaitGroup
}

// NewEngine creates an engine for resource. meta may be nil.
func NewEngine[T any](resource types.Resource, fetch PageFunc[T], store kv.Storage, meta *cache.Meta, online OnlineFunc) *Engine[T] {
	return &Engine[T]{
		resource: resource,
		fetch:    fetch,
		store:    store,
		meta:     meta,
		online:   online,
		now:      time.Now,
	}
}

// Fetch returns the requested page. It never fails: network errors fall
// back to the cache and cache misses to an empty page.
func (e *Engine[T]) Fetch(ctx context.Context, page, pageSize int) types.CachedPage[T] {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	if !e.online() {
		return e.fallback(ctx, page, pageSize)
	}

	resp, err := e.fetch(ctx, page, pageSize)
	if err != nil {
		slog.Warn("fetch failed, serving from cache",
			"component", "reconcile",
			"resource", e.resource,
			"page", page,
			"error", err,
		)
		return e.fallback(ctx, page, pageSize)
	}

	result := e.fromResponse(resp, page, pageSize)
	if page == 1 {
		e.savePageOne(ctx, result)
	}
	return result
}

// Wait blocks until background merges have finished.
func (e *Engine[T]) Wait() {
	e.wg.Wait()
}

func (e *Engine[T]) fromResponse(resp *types.PageResponse[T], page, pageSize int) types.CachedPage[T] {
	data := resp.Data
	if data == nil {
		data = []T{}
	}
	pageCount := resp.PageCount
	if pageCount < 1 {
		pageCount = types.ComputePageCount(resp.Total, pageSize)
	}
	return types.CachedPage[T]{
		Data:      data,
		Total:     resp.Total,
		Page:      page,
		PageSize:  pageSize,
		PageCount: pageCount,
		FetchedAt: e.now().UTC(),
	}
}

func (e *Engine[T]) savePageOne(ctx context.Context, first types.CachedPage[T]) {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	err := cache.Save(ctx, e.store, e.resource, first)
	e.mu.Unlock()

	if err != nil {
		slog.Warn("failed to cache page 1",
			"component", "reconcile",
			"resource", e.resource,
			"error", err,
		)
	}

	if first.PageCount <= 1 {
		if err == nil {
			e.markSynced(ctx)
		}
		return
	}

	// The caller's context ends with its request; the merge must outlive it.
	bg := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.merge(bg, first, gen)
	}()
}

// merge fetches pages 2..N sequentially and overwrites the cache with the
// concatenation. Failed pages are recorded in MissingPages.
func (e *Engine[T]) merge(ctx context.Context, first types.CachedPage[T], gen uint64) {
	merged := first
	merged.Merged = true
	merged.Data = append(make([]T, 0, max(first.Total, len(first.Data))), first.Data...)

	for p := 2; p <= first.PageCount; p++ {
		resp, err := e.fetch(ctx, p, first.PageSize)
		if err != nil {
			slog.Warn("background page fetch failed",
				"component", "reconcile",
				"action", "merge",
				"resource", e.resource,
				"page", p,
				"error", err,
			)
			merged.MissingPages = append(merged.MissingPages, p)
			continue
		}
		merged.Data = append(merged.Data, resp.Data...)
	}
	merged.FetchedAt = e.now().UTC()

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		slog.Info("discarding stale merge",
			"component", "reconcile",
			"action", "merge",
			"resource", e.resource,
		)
		return
	}
	// Another process may have cached a newer page 1 since ours.
	written, err := cache.SaveUnlessNewer(ctx, e.store, e.resource, merged, first.FetchedAt)
	e.mu.Unlock()

	if err != nil {
		slog.Error("failed to save merged snapshot",
			"component", "reconcile",
			"action", "merge",
			"resource", e.resource,
			"error", err,
		)
		return
	}
	if !written {
		slog.Info("discarding merge superseded by a newer snapshot",
			"component", "reconcile",
			"action", "merge",
			"resource", e.resource,
		)
		return
	}

	slog.Info("merged snapshot saved",
		"component", "reconcile",
		"action", "merge",
		"resource", e.resource,
		"records", len(merged.Data),
		"total", merged.Total,
		"missing_pages", len(merged.MissingPages),
	)
	if len(merged.MissingPages) == 0 {
		e.markSynced(ctx)
	}
}

func (e *Engine[T]) markSynced(ctx context.Context) {
	if e.meta == nil {
		return
	}
	if err := e.meta.SetLastSync(ctx, e.now()); err != nil {
		slog.Warn("failed to record last sync", "component", "reconcile", "error", err)
	}
	if err := e.meta.SetStatus(ctx, types.SyncSuccess, string(e.resource)+" cached"); err != nil {
		slog.Warn("failed to record sync status", "component", "reconcile", "error", err)
	}
}

// fallback serves a page from the cache.
func (e *Engine[T]) fallback(ctx context.Context, page, pageSize int) types.CachedPage[T] {
	cached := cache.Get[T](ctx, e.store, e.resource)
	if cached == nil {
		return types.EmptyPage[T](page, pageSize, 0)
	}

	if cached.IsFull() {
		return slice(cached, page, pageSize, len(cached.Data))
	}

	if cached.Merged || len(cached.MissingPages) > 0 {
		// Records before the first gap sit at their true offsets. A merge
		// that came back short has its gap at the end of Data.
		prefix := len(cached.Data)
		if len(cached.MissingPages) > 0 {
			prefix = min((firstMissing(cached.MissingPages)-1)*cached.PageSize, prefix)
		}
		end := min(page*pageSize, cached.Total)
		if end <= prefix && (page-1)*pageSize < prefix {
			return slice(cached, page, pageSize, prefix)
		}
		return types.EmptyPage[T](page, pageSize, cached.Total)
	}

	if cached.Page == page && cached.PageSize == pageSize && len(cached.Data) <= cached.PageSize {
		out := *cached
		out.PageCount = types.ComputePageCount(cached.Total, pageSize)
		if out.Data == nil {
			out.Data = []T{}
		}
		return out
	}

	return types.EmptyPage[T](page, pageSize, cached.Total)
}

// slice cuts [(page-1)*pageSize, page*pageSize) out of the first limit
// records of a snapshot.
func slice[T any](snap *types.CachedPage[T], page, pageSize, limit int) types.CachedPage[T] {
	start := min((page-1)*pageSize, limit)
	end := min(start+pageSize, limit)

	data := make([]T, end-start)
	copy(data, snap.Data[start:end])

	return types.CachedPage[T]{
		Data:      data,
		Total:     snap.Total,
		Page:      page,
		PageSize:  pageSize,
		PageCount: types.ComputePageCount(snap.Total, pageSize),
		FetchedAt: snap.FetchedAt,
	}
}

func firstMissing(pages []int) int {
	first := pages[0]
	for _, p := range pages[1:] {
		if p < first {
			first = p
		}
	}
	return first
}
