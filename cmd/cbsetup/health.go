package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the admin and query services once",
	Long: `Health probes the Couchbase admin console and the query service
concurrently, prints the per-service result as JSON and exits 1 when either
is unreachable. Nothing is created.`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	probes := app.orchestrator.RunDeepHealth(cmd.Context())

	healthy := true
	for name, p := range probes {
		if !p.OK {
			healthy = false
			slog.Warn("dependency unhealthy", "dependency", name, "error", p.Error)
		}
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"status":       status,
		"dependencies": probes,
	}); err != nil {
		return fmt.Errorf("encoding health result: %w", err)
	}

	if !healthy {
		return fmt.Errorf("couchbase is unhealthy")
	}
	return nil
}
