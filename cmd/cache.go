package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the stream cache of a running server",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached stream held by `cinefetch serve`",
	Args:  cobra.NoArgs,
	RunE:  cacheClearRun,
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}

// cacheClearRun talks to the local server over plain HTTP on the loopback
// listen address, so it does not go through the https-only client.
func cacheClearRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	url := "http://" + cfg.Listen + "/api/cache"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting server at %s: %w", cfg.Listen, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("server answered %s", resp.Status)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Stream cache cleared.")
	return nil
}
