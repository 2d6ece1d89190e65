package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caselight/caselight/api"
	"github.com/caselight/caselight/internal/app"
	"github.com/caselight/caselight/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server.

Runs pending database migrations, initializes the AI provider, and serves
the REST API until interrupted (SIGINT/SIGTERM).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides configured host:port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	a.Logger.Info("caselight starting", "version", AppVersion)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Addr()
	}

	server := api.NewServer(a.DBPool, a.Sessions, a.Chat, a.Tickets, a.Knowledge, a.Logger)
	return server.Run(ctx, addr)
}
