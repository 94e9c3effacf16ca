package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/repurpose/internal/config"
	"github.com/phrazzld/repurpose/internal/platform/logger"
	"github.com/phrazzld/repurpose/internal/platform/postgres"
	"github.com/phrazzld/repurpose/internal/task"
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigFile string
}

// newRootCommand creates the root command for the server binary.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "repurpose-server",
		Short: "Content repurposing API server",
		Long: `Serves the conversion API and runs generation for admitted conversions.

Configuration is read from config.yaml, a .env file and CONVERT_* environment
variables, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newReapCommand(opts))

	return cmd
}

// loadConfig loads configuration and sets up the default logger.
func loadConfig(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFrom(opts.ConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, log, nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			log.Info("server configuration loaded",
				"port", cfg.Server.Port,
				"log_level", cfg.Server.LogLevel)

			app, err := newApplication(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <up|down|status|reset>",
		Short: "Apply or inspect database migrations",
		Args:  cobra.ExactArgs(1),
		ValidArgs: []string{
			postgres.MigrateUp, postgres.MigrateDown, postgres.MigrateStatus, postgres.MigrateReset,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrations require the postgres driver, got %q", cfg.Database.Driver)
			}

			db, err := postgres.Open(cmd.Context(), cfg.Database, dbPingTimeout)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			return postgres.Migrate(cmd.Context(), db, args[0], log)
		},
	}
	return cmd
}

func newReapCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Run one sweep for stuck conversions and exit",
		Long: `Fails conversions stuck in processing and re-dispatches conversions whose
trigger was lost. Re-dispatched conversions run to completion before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.cleanup()

			return app.sweepOnce(cmd)
		},
	}
}

// sweepOnce runs a single reaper sweep and prints its result.
func (app *application) sweepOnce(cmd *cobra.Command) error {
	reaper, err := task.NewReaper(app.stores.Conversions, app.trigger, reaperConfig(app.config.Reaper), app.logger)
	if err != nil {
		return err
	}
	result, err := reaper.Sweep(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "failed %d stale, re-dispatched %d pending\n",
		len(result.Failed), len(result.Redispatched))
	return nil
}
