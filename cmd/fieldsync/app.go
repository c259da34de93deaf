package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fieldwork/fieldsync/internal/api"
	"github.com/fieldwork/fieldsync/internal/backend"
	"github.com/fieldwork/fieldsync/internal/cache"
	"github.com/fieldwork/fieldsync/internal/config"
	"github.com/fieldwork/fieldsync/internal/dispatch"
	"github.com/fieldwork/fieldsync/internal/kv"
	"github.com/fieldwork/fieldsync/internal/netmon"
	"github.com/fieldwork/fieldsync/internal/queue"
	"github.com/fieldwork/fieldsync/internal/reconcile"
	"github.com/fieldwork/fieldsync/internal/tiles"
	"github.com/fieldwork/fieldsync/internal/types"
	"github.com/fieldwork/fieldsync/internal/worker"
)

// app is the composition root shared by the agent and the one-shot commands.
type app struct {
	cfg        *config.Config
	store      *kv.SQLiteStore
	client     *backend.Client
	prober     netmon.Prober
	monitor    *netmon.Monitor
	queue      *queue.Store
	meta       *cache.Meta
	drainer    *worker.Drainer
	dispatcher *dispatch.Dispatcher
	registry   *reconcile.Registry
	tiles      *tiles.Manager

	// live switches connectivity checks from one-shot probes to the
	// running monitor.
	live atomic.Bool
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := kv.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	slog.Debug("storage opened", "component", "app", "path", store.Path())

	src, err := tiles.NewSource(cfg.Tiles, time.Duration(cfg.API.Timeout))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("tile source: %w", err)
	}

	a := &app{cfg: cfg, store: store}
	a.client = backend.New(cfg.API.BaseURL,
		backend.WithToken(cfg.API.Token),
		backend.WithTimeout(time.Duration(cfg.API.Timeout)),
		backend.WithSessionInvalidator(func() {
			slog.Warn("backend rejected the API token",
				"component", "backend",
				"action", "session_invalidated",
			)
		}),
	)
	a.prober = netmon.NewHTTPProber(cfg.API.BaseURL, cfg.API.LivenessPath, time.Duration(cfg.Monitor.ProbeTimeout))
	a.monitor = netmon.NewMonitor(a.prober, time.Duration(cfg.Monitor.Interval))
	a.queue = queue.New(store)
	a.meta = cache.NewMeta(store)
	a.drainer = worker.NewDrainer(a.queue, a.client, a.meta, time.Duration(cfg.Queue.DrainDelay))
	a.dispatcher = dispatch.New(a.prober, a.queue, a.drainer)
	a.registry = reconcile.NewRegistry(a.client, store, a.meta, a.online)

	retries := cfg.Tiles.RetryAttempts
	if retries == 0 {
		retries = -1
	}
	a.tiles = tiles.NewManager(cfg.Tiles.Dir, src, tiles.Options{
		BatchSize:     cfg.Tiles.BatchSize,
		BatchPause:    time.Duration(cfg.Tiles.BatchPause),
		RetryAttempts: retries,
		RetryBackoff:  time.Duration(cfg.Tiles.RetryBackoff),
		MaxTiles:      cfg.Tiles.MaxTiles,
	})
	return a, nil
}

// online reports the monitor's view while the agent runs, and probes once
// otherwise.
func (a *app) online() bool {
	if a.live.Load() {
		return a.monitor.Online()
	}
	return netmon.Reachable(context.Background(), a.prober)
}

func (a *app) sender(typ types.SubmissionType) dispatch.SendFunc {
	return dispatch.BackendSender(a.client, typ)
}

func (a *app) clearCache(ctx context.Context) error {
	return cache.ClearAll(ctx, a.store)
}

func (a *app) status(ctx context.Context, online bool) types.StatusResponse {
	resp := types.StatusResponse{Online: online, QueueLength: a.queue.Len(ctx)}
	if t, ok := a.meta.LastSync(ctx); ok {
		resp.LastSync = &t
	}
	if st, ok := a.meta.Status(ctx); ok {
		resp.SyncStatus = &st
	}
	if st, err := a.tiles.Stats(); err == nil {
		resp.Tiles = &st
	}
	if keys, size, err := a.store.Stats(ctx); err == nil {
		resp.Storage = &types.StorageStats{Keys: keys, Bytes: size}
	}
	return resp
}

func (a *app) handler() *api.Handler {
	return api.NewHandler(api.Deps{
		Queue:      a.queue,
		Dispatcher: a.dispatcher,
		Sender:     a.sender,
		Drainer:    a.drainer,
		Resources:  a.registry,
		Tiles:      a.tiles,
		Storage:    a.store,
		Monitor:    a.monitor,
		Meta:       a.meta,
		ClearCache: a.clearCache,
		Zooms:      a.cfg.Tiles.ZoomLevels,
		Token:      a.cfg.Server.AuthToken,
		Version:    Version,
	})
}

// close waits for background merges and drains, then closes storage.
func (a *app) close() {
	a.registry.Wait()
	a.dispatcher.Wait()
	if err := a.store.Close(); err != nil {
		slog.Error("store close error", "component", "app", "error", err)
	}
}
