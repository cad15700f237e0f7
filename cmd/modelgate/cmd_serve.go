package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/modelgate/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP completion gateway",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	st, err := buildStack(cfg, true)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.ListenPort, cfg.Default, st.complete, st.stream, st.registry, st.tracker)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("modelgate started",
		"listen_port", cfg.ListenPort,
		"log_level", cfg.LogLevel,
		"default_provider", cfg.Default,
		"providers", st.registry.Names(),
		"max_in_flight", cfg.MaxInFlight,
	)

	return srv.Run(ctx)
}
