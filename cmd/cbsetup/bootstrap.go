package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"todowithcouchbase/cbsetup/internal/config"
	"todowithcouchbase/cbsetup/internal/orchestrator"

	"github.com/spf13/cobra"
)

var (
	failOnError  bool
	runTimeout   time.Duration
	pollInterval time.Duration
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Provision the Couchbase node once and exit",
	Long: `Bootstrap runs the six provisioning steps in order:

  wait-for-admin      poll the admin console until it answers 200
  init-cluster        set credentials, services and storage mode, then wait
                      for the query service
  create-bucket       create the configured bucket
  create-scopes       one CREATE SCOPE per scope
  create-collections  one CREATE COLLECTION per scope/collection pair
  create-indexes      CREATE PRIMARY INDEX on the bucket

Failed create calls are logged and reported but do not stop the run. The
command prints a JSON result to stdout and exits 0, or 1 when
--fail-on-error is set and any step failed.`,
	RunE: runBootstrap,
}

// addRunFlags registers the flags that shape a provisioning run on commands
// that start one.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&runTimeout, "timeout", 0, "abort the run after this long (0 waits forever)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Second, "pause between readiness checks")
}

// addBootstrapFlags registers the run flags plus --fail-on-error. They are
// local flags, set on the root command and on bootstrap only, so that health
// never accepts them.
func addBootstrapFlags(cmd *cobra.Command) {
	addRunFlags(cmd)
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "exit 1 when any provisioning step failed")
}

// applyBootstrapFlags overlays explicitly set bootstrap flags onto cfg. Flags
// the command does not declare are never reported as changed.
func applyBootstrapFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("fail-on-error") {
		cfg.Bootstrap.FailOnError = failOnError
	}
	if flags.Changed("timeout") {
		if runTimeout < 0 {
			return fmt.Errorf("--timeout must not be negative, got %s", runTimeout)
		}
		cfg.Bootstrap.Timeout = runTimeout
	}
	if flags.Changed("poll-interval") {
		if pollInterval <= 0 {
			return fmt.Errorf("--poll-interval must be positive, got %s", pollInterval)
		}
		cfg.Bootstrap.PollInterval = pollInterval
	}
	return nil
}

// runBootstrap runs provisioning in the foreground. The configured timeout is
// applied by the orchestrator itself.
func runBootstrap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	slog.InfoContext(ctx, "starting bootstrap",
		"admin_url", cfg.Couchbase.BaseURL(),
		"query_url", cfg.Couchbase.QueryURL(),
		"bucket", cfg.Couchbase.Bucket,
		"timeout", cfg.Bootstrap.Timeout,
	)

	result, err := app.orchestrator.Run(ctx)
	if result != nil {
		printRunResult(cmd.OutOrStdout(), result)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("bootstrap interrupted or timed out", "err", err)
		}
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	if result.Status == orchestrator.StatusError {
		if cfg.Bootstrap.FailOnError {
			return fmt.Errorf("bootstrap completed with errors")
		}
		slog.Warn("bootstrap completed with errors, see the step report")
		return nil
	}

	slog.Info("bootstrap completed successfully")
	return nil
}

func printRunResult(w io.Writer, result *orchestrator.RunResult) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		// Fallback to plain text if JSON encoding somehow fails.
		fmt.Fprintf(w, `{"status":%q}`+"\n", result.Status)
	}
}
