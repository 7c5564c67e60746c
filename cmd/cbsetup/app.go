package main

import (
	"context"
	"log/slog"
	"time"

	"todowithcouchbase/cbsetup/internal/api"
	"todowithcouchbase/cbsetup/internal/clients"
	"todowithcouchbase/cbsetup/internal/config"
	"todowithcouchbase/cbsetup/internal/orchestrator"
	"todowithcouchbase/cbsetup/internal/poll"
	"todowithcouchbase/cbsetup/internal/telemetry"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	orchestrator *orchestrator.Orchestrator
	router       *api.Router
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates one circuit breaker per client
//  3. Creates the admin and query clients
//  4. Creates the orchestrator
//  5. Creates the HTTP router
func buildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	// OTEL is best-effort: a missing collector must never block provisioning.
	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Debug("OTEL telemetry disabled (no endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(
			ctx,
			cfg.Telemetry.OTLPEndpoint,
			cfg.Telemetry.ServiceName,
			version,
			cfg.Telemetry.OTLPInsecure,
		)
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		} else {
			app.otelProvider = tp
		}
	}

	// One circuit breaker per client so each service trips independently.
	adminCB := clients.NewCircuitBreaker("couchbase-admin")
	queryCB := clients.NewCircuitBreaker("couchbase-query")

	admin := clients.NewAdminClient(cfg.Couchbase, cfg.Bootstrap, adminCB)
	query := clients.NewQueryClient(cfg.Couchbase, cfg.Bootstrap, queryCB)

	app.orchestrator = orchestrator.New(admin, query, cfg.Couchbase.Bucket,
		poll.WithInterval(cfg.Bootstrap.PollInterval)).
		WithRunTimeout(cfg.Bootstrap.Timeout)
	app.router = api.NewRouter(ctx, app.orchestrator, cfg.Telemetry.ServiceName)

	slog.Debug("app context ready",
		"admin_url", cfg.Couchbase.BaseURL(),
		"query_url", cfg.Couchbase.QueryURL(),
		"bucket", cfg.Couchbase.Bucket,
	)

	return app, nil
}

// shutdown flushes telemetry. It is safe to call when OTEL is disabled.
func (a *AppContext) shutdown() {
	if a.otelProvider == nil {
		return
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otelProvider.Shutdown(shutCtx); err != nil {
		slog.Warn("OTEL shutdown error", "err", err)
	}
}
