package reconcile

import (
	"context"
	"fmt"

	"github.com/fieldwork/fieldsync/internal/backend"
	"github.com/fieldwork/fieldsync/internal/cache"
	"github.com/fieldwork/fieldsync/internal/kv"
	"github.com/fieldwork/fieldsync/internal/types"
)

// BackendPages adapts the backend list endpoint for resource to a PageFunc.
func BackendPages[T any](c *backend.Client, resource types.Resource) PageFunc[T] {
	return func(ctx context.Context, page, pageSize int) (*types.PageResponse[T], error) {
		return backend.List[T](ctx, c, resource, page, pageSize)
	}
}

// Registry holds one engine per cached resource.
type Registry struct {
	Tasks   *Engine[types.Task]
	Reports *Engine[types.Report]
	Trees   *Engine[types.Tree]
	Species *Engine[types.Species]
}

// NewRegistry wires an engine for every resource against the backend client.
func NewRegistry(c *backend.Client, store kv.Storage, meta *cache.Meta, online OnlineFunc) *Registry {
	return &Registry{
		Tasks:   NewEngine(types.ResourceTasks, BackendPages[types.Task](c, types.ResourceTasks), store, meta, online),
		Reports: NewEngine(types.ResourceReports, BackendPages[types.Report](c, types.ResourceReports), store, meta, online),
		Trees:   NewEngine(types.ResourceTrees, BackendPages[types.Tree](c, types.ResourceTrees), store, meta, online),
		Species: NewEngine(types.ResourceSpecies, BackendPages[types.Species](c, types.ResourceSpecies), store, meta, online),
	}
}

// Fetch dispatches to the engine for resource. The returned value is a
// types.CachedPage of the resource's record type.
func (r *Registry) Fetch(ctx context.Context, resource types.Resource, page, pageSize int) (any, error) {
	switch resource {
	case types.ResourceTasks:
		return r.Tasks.Fetch(ctx, page, pageSize), nil
	case types.ResourceReports:
		return r.Reports.Fetch(ctx, page, pageSize), nil
	case types.ResourceTrees:
		return r.Trees.Fetch(ctx, page, pageSize), nil
	case types.ResourceSpecies:
		return r.Species.Fetch(ctx, page, pageSize), nil
	default:
		return nil, fmt.Errorf("unknown resource %q", resource)
	}
}

// Wait blocks until every engine's background merges have finished.
func (r *Registry) Wait() {
	r.Tasks.Wait()
	r.Reports.Wait()
	r.Trees.Wait()
	r.Species.Wait()
}
