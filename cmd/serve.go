package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cinefetch/internal/server"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the resolver over HTTP and WebSocket",
	Args:  cobra.NoArgs,
	RunE:  serveRun,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Listen address (default from config)")
}

func serveRun(cmd *cobra.Command, args []string) error {
	if flagListen != "" {
		cfg.Listen = flagListen
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// warm the catalog so the first request does not pay for it
	if _, err := a.registry.Populate(ctx); err != nil {
		logger.WithError(err).Warn("source catalog unavailable, will retry on demand")
	}

	s := server.New(cfg.Listen, a.engine, a.registry, publicConfig(), logger)
	return s.Start(ctx)
}
