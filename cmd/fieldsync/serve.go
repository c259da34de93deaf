package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fieldwork/fieldsync/internal/api"
	"github.com/fieldwork/fieldsync/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local sync agent",
	Long:  "Run the reachability monitor, the auto-sync worker, and the local HTTP API until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	a.live.Store(true)
	slog.Info("agent initialized",
		"component", "app",
		"api", cfg.API.BaseURL,
		"storage", cfg.Storage.Path,
		"tiles", cfg.Tiles.Dir,
	)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(a.handler()),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	g, gctx := errgroup.WithContext(ctx)

	startWorker(gctx, g, "monitor", a.monitor.Run)
	autoSync := worker.NewAutoSync(a.drainer, a.monitor, time.Duration(cfg.Queue.AutoSyncInterval))
	g.Go(func() error {
		autoSync.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("server starting", "component", "api", "address", addr)
		// ErrServerClosed is the expected result of Shutdown.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown initiated")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout))
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		slog.Error("agent stopped with error", "error", err)
	}
	slog.Info("shutdown complete")
	return err
}
