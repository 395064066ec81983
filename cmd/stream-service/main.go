package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wikirelay/internal/config"
	"wikirelay/internal/constants"
	"wikirelay/internal/logger"
	"wikirelay/pkg/logging"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceNameStream,
		Short: "Wikipedia recent-change stream relay",
		Long:  "Stream Service reads the Wikimedia recent-change SSE stream and publishes new main-namespace articles to Kafka",
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
		Short: "Start the stream service",
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

			log, err := logger.NewWithOptions(logger.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				ServiceName: constants.ServiceNameStream,
			})
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, constants.ServiceNameStream)

			log.InfowCtx(ctx, "Starting Stream Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				app.Warn(context.WithoutCancel(ctx), fmt.Sprintf("%s failed to start: %v", constants.ServiceNameStream, err))
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(context.WithoutCancel(ctx))
				return err
			}

			log.InfowCtx(ctx, "Stream service running")
			runErr := app.Run(ctx)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
				app.Warn(context.WithoutCancel(ctx), fmt.Sprintf("%s stopped: %v", constants.ServiceNameStream, runErr))
			}

			if err := app.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.ErrorwCtx(ctx, "Shutdown failed", "error", err)
				if runErr == nil {
					runErr = err
				}
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			log.InfowCtx(ctx, "Shutdown complete")
			return nil
		},
	}
}
