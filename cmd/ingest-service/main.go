package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sampleflow/internal/config"
	"sampleflow/internal/logger"
	"sampleflow/pkg/logging"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ingest-service",
		Short: "Sample ingestion service",
		Long:  "Ingest service consumes lab sample streams, deduplicates them, and writes them to the analytics store",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ingest service",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
				if configFile == "" {
					earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
					return fmt.Errorf("config file is required")
				}
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Ingest Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			log.InfowCtx(ctx, "Ingest service running")
			if err := app.Run(ctx); err != nil && err != context.Canceled {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", err)
				return err
			}

			shutdownCtx := context.Background()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.ErrorwCtx(shutdownCtx, "Shutdown finished with errors", "error", err)
				return err
			}
			log.InfowCtx(ctx, "Shutdown complete")
			return nil
		},
	}
}
