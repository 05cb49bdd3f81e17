package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/metrics"
	"github.com/fentz26/callqueue/internal/realtime"
	"github.com/fentz26/callqueue/internal/recordserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the record server",
	Long: `Serves the configured record store over HTTP for operators using the http
backend, and streams change events to their consoles on /events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default from server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format).WithComponent("serve")
	logger.Info("starting record server", "backend", cfg.Store.Backend)

	if cfg.Store.Backend == "http" {
		return errors.New("serve needs a local backend (sqlite, redis or memory), not http")
	}

	b, err := openBackend(cfg, "")
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	opts := []recordserver.Option{
		recordserver.WithHub(hub),
		recordserver.WithLogger(logger),
	}
	if cfg.Server.Metrics {
		opts = append(opts, recordserver.WithMetrics(metrics.New()))
	}
	// fan out to redis too, for consoles that talk to redis directly
	if cfg.Store.Backend == "redis" {
		pub, _ := b.realtimeFor(cfg, logger)
		opts = append(opts, recordserver.WithPublisher(pub))
	}
	server := recordserver.New(b.store, cfg.Server.Addr, opts...)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			b.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	if err := b.Close(); err != nil {
		logger.Warn("store close error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
