package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"todowithcouchbase/cbsetup/internal/config"
	"todowithcouchbase/cbsetup/internal/telemetry"

	"github.com/spf13/cobra"
)

const defaultEnvFile = ".env"

var (
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
	logFile   string

	// cfg is populated by PersistentPreRunE and shared with all subcommands.
	cfg *config.Config

	// app holds all wired dependencies; populated by PersistentPreRunE.
	app *AppContext

	// logCloser releases the --log-file handle on exit.
	logCloser io.Closer = nopCloser{}
)

var rootCmd = &cobra.Command{
	Use:   "cbsetup",
	Short: "cbsetup: Couchbase provisioner for the todo service",
	Long: `cbsetup prepares a fresh Couchbase node for the todo service.

It waits for the admin console, initializes the cluster, creates the bucket,
its scopes and collections, and a primary index, then exits. Every step is
attempted even when an earlier create call failed; the JSON report on stdout
tells which calls succeeded.

Running cbsetup without a subcommand is the same as "cbsetup bootstrap".`,
	SilenceUsage: true,
	RunE:         runBootstrap,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file exported before the environment is read")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", telemetry.FormatJSON, "log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")

	addBootstrapFlags(rootCmd)
	addBootstrapFlags(bootstrapCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := initLogger(logLevel, logFormat, logFile); err != nil {
			return err
		}

		if err := loadEnvFile(cmd); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// Flags take precedence over the config file; otherwise re-init the
		// logger with whatever the file or environment asked for.
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.Telemetry.LogLevel = logLevel
		}
		if flags.Changed("log-format") {
			cfg.Telemetry.LogFormat = logFormat
		}
		if flags.Changed("log-file") {
			cfg.Telemetry.LogFile = logFile
		}
		if err := initLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat, cfg.Telemetry.LogFile); err != nil {
			return err
		}

		if err := applyBootstrapFlags(cmd, cfg); err != nil {
			return err
		}

		app, err = buildAppContext(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("building app context: %w", err)
		}

		return nil
	}

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(serverCmd)
}

// Execute is the entry point called by main. SIGINT and SIGTERM cancel the
// command context, which ends any readiness wait in progress.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()
	if app != nil {
		app.shutdown()
	}
	logCloser.Close() //nolint:errcheck

	if err != nil {
		os.Exit(1)
	}
}

// loadEnvFile exports the dotenv file. A missing default file is not an
// error; an explicitly requested one is.
func loadEnvFile(cmd *cobra.Command) error {
	if !cmd.Flags().Changed("env-file") && envFile == defaultEnvFile {
		if _, err := os.Stat(envFile); err != nil {
			slog.Debug("no env file found, using process environment", "path", envFile)
			return nil
		}
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	if envFile != "" {
		slog.Debug("env file loaded", "path", envFile)
	}
	return nil
}

func initLogger(level, format, file string) error {
	logger, closer, err := telemetry.NewLogger(telemetry.LogOptions{
		Level:  level,
		Format: format,
		File:   file,
	})
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}

	logCloser.Close() //nolint:errcheck
	logCloser = closer
	slog.SetDefault(logger)
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
