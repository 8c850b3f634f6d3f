package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"cinefetch/internal/config"
	"cinefetch/internal/telemetry"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-source success rates from recorded attempts",
	Args:  cobra.NoArgs,
	RunE:  statsRun,
}

func statsRun(cmd *cobra.Command, args []string) error {
	path, err := config.TelemetryPath()
	if err != nil {
		return err
	}
	db, err := telemetry.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	if len(stats) == 0 {
		fmt.Fprintln(out, "No attempts recorded yet.")
		if cfg.Telemetry != config.TelemetrySQLite {
			fmt.Fprintf(out, "Local recording is off (telemetry = %q).\n", cfg.Telemetry)
		}
		return nil
	}

	fmt.Fprintf(out, "%-16s %8s %8s %8s %8s %7s\n", "SOURCE", "TOTAL", "SUCCESS", "NOTFOUND", "FAILURE", "RATE")
	for _, s := range stats {
		fmt.Fprintf(out, "%-16s %8d %8d %8d %8d %6.1f%%\n",
			s.ProviderID, s.Total(), s.Success, s.NotFound, s.Failure, s.SuccessRate()*100)
	}
	return nil
}
