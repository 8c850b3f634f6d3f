package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"cinefetch/internal/media"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the known streaming sources",
	Args:  cobra.NoArgs,
	RunE:  sourcesRun,
}

var flagOrderType string

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Show the order sources will be tried in",
	Args:  cobra.NoArgs,
	RunE:  orderRun,
}

func init() {
	orderCmd.Flags().StringVarP(&flagOrderType, "type", "t", "movie", "Media type: movie | show")
}

func sourcesRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	providers, err := a.registry.Populate(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading source catalog: %w", err)
	}
	p, err := a.prefs.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(providers)
	}

	if len(providers) == 0 {
		fmt.Fprintln(out, "No sources found.")
		return nil
	}
	for _, pr := range providers {
		types := "all"
		if len(pr.MediaTypes) > 0 {
			types = strings.Join(lo.Map(pr.MediaTypes, func(mt media.MediaType, _ int) string { return mt.String() }), ",")
		}
		mark := ""
		if p.IsDisabled(pr.ID) {
			mark = "  (disabled)"
		}
		if p.LastSuccessfulID == pr.ID {
			mark += "  (last successful)"
		}
		fmt.Fprintf(out, "%-16s %-24s %s%s\n", pr.ID, pr.Name, types, mark)
	}
	return nil
}

func orderRun(cmd *cobra.Command, args []string) error {
	mt, err := media.ParseMediaType(flagOrderType)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	providers, err := a.registry.Populate(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading source catalog: %w", err)
	}
	ids, err := a.engine.Plan(providers, media.MediaDescriptor{Type: mt})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		return json.NewEncoder(out).Encode(ids)
	}
	for i, id := range ids {
		fmt.Fprintf(out, "%2d. %s\n", i+1, id)
	}
	return nil
}
