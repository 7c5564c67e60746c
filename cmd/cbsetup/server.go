package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
)

var bootstrapOnStart bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the cbsetup status API server",
	Long: `Start the status HTTP server on the configured port (default :8080).

The server exposes health, readiness, Prometheus metrics and an endpoint to
trigger or inspect a provisioning run. Unless --bootstrap-on-start=false, a
run starts in the background as soon as the server is up. The server shuts
down cleanly on SIGTERM or SIGINT.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().BoolVar(&bootstrapOnStart, "bootstrap-on-start", true, "run provisioning in the background at startup")
	addRunFlags(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if cmd.Flags().Changed("bootstrap-on-start") {
		cfg.Server.BootstrapOnStart = bootstrapOnStart
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start the server in a goroutine so we can listen for shutdown signals.
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("cbsetup server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// The orchestrator bounds the run with cfg.Bootstrap.Timeout, here and for
	// runs triggered over the API.
	if cfg.Server.BootstrapOnStart {
		if err := app.orchestrator.Start(ctx); err != nil {
			slog.Warn("background bootstrap not started", "err", err)
		}
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped cleanly")
	return nil
}
