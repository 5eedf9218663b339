package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-narrate/internal/runtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the narration service over HTTP, websocket and the bus",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Telemetry.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt := runtime.New(cfg, logger)
		if err := rt.Start(ctx); err != nil {
			logger.Error("runtime exited with error", slog.String("error", err.Error()))
			return err
		}
		logger.Info("shutdown complete")
		return nil
	},
}
