package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lei/actions-ledger/pkg/app"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "ingestor",
	Short:         "Collects GitHub Actions runs, artifacts and logs into a queryable store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the periodic collector and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		skipMigrate, _ := cmd.Flags().GetBool("skip-migrate")

		return withApp(cmd.Context(), !skipMigrate, func(ctx context.Context, a *app.App) error {
			// blocks until shutdown
			return a.Start(ctx)
		})
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a single collection cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
			report, err := a.CollectOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}

var processRunCmd = &cobra.Command{
	Use:   "process-run <run-id>",
	Short: "Ingest one workflow run immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || runID <= 0 {
			return fmt.Errorf("invalid run id %q", args[0])
		}

		return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
			res, err := a.ProcessRun(ctx, runID)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		down, _ := cmd.Flags().GetBool("down")

		return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
			if down {
				if err := a.MigrateDown(); err != nil {
					return err
				}
				fmt.Println("Migrations rolled back successfully")
				return nil
			}
			if err := a.Migrate(); err != nil {
				return err
			}
			fmt.Println("Migrations applied successfully")
			return nil
		})
	},
}

func withApp(ctx context.Context, migrate bool, fn func(context.Context, *app.App) error) error {
	a, err := app.NewFromFile(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := a.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return fn(ctx, a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	// Load .env file (ignore error if file doesn't exist - env vars might be set externally)
	_ = godotenv.Load()

	defaultConfig := os.Getenv("CONFIG_FILE")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to YAML config file (optional, env overrides apply)")
	serveCmd.Flags().Bool("skip-migrate", false, "do not apply migrations at startup")
	migrateCmd.Flags().Bool("down", false, "roll back all migrations")

	rootCmd.AddCommand(serveCmd, collectCmd, processRunCmd, migrateCmd)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}
