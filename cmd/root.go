// Package cmd defines the CLI commands of the wage-etl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/county-wage-etl/internal/api"
	"github.com/JakeFAU/county-wage-etl/internal/app"
	"github.com/JakeFAU/county-wage-etl/internal/cache"
	"github.com/JakeFAU/county-wage-etl/internal/census"
	"github.com/JakeFAU/county-wage-etl/internal/config"
	"github.com/JakeFAU/county-wage-etl/internal/logging"
	"github.com/JakeFAU/county-wage-etl/internal/pipeline"
	"github.com/JakeFAU/county-wage-etl/internal/storage/postgres"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands use. *app.App satisfies it.
type App interface {
	Close() error
	Logger() *zap.Logger
	Config() config.Config
	Census() *census.Extractor
	Caches() []*cache.FileCache
	DB() (*pgxpool.Pool, error)
	Runs() (*postgres.RunTracker, error)
	Pipeline() (*pipeline.Orchestrator, error)
	StatusServer() *api.Server
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "wage-etl",
		Short: "Loads county living-wage and expense tables into Postgres.",
		Long: `wage-etl pulls the county list of each target state from the Census API,
scrapes the living-wage page of every county, reshapes the wide tables into
one record per household configuration, validates them, and upserts the
result into staging tables. Every invocation is recorded in etl_runs.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newRunCmd(),
		newCountiesCmd(),
		newCacheCmd(),
		newSchemaCmd(),
		newServeCmd(),
		newRunsCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := run(context.Background(), newRootCmd()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes root and closes the App the command built, whether or not
// the command succeeded.
func run(ctx context.Context, root *cobra.Command) error {
	executed, err := root.ExecuteContextC(ctx)
	if executed != nil && executed.Context() != nil {
		if appInstance, ok := executed.Context().Value(appKey).(App); ok && appInstance != nil {
			if cerr := appInstance.Close(); cerr != nil {
				appInstance.Logger().Warn("close failed", zap.Error(cerr))
			}
			_ = appInstance.Logger().Sync()
		}
	}
	return err
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
