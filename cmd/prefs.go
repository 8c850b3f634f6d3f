package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cinefetch/internal/config"
	"cinefetch/internal/httputil"
	"cinefetch/internal/prefs"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change source preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored preferences",
	Args:  cobra.NoArgs,
	RunE:  prefsShowRun,
}

var flagOrderOff bool

var prefsOrderCmd = &cobra.Command{
	Use:   "order [source-id...]",
	Short: "Set a custom source order (no ids or --off disables it)",
	RunE:  prefsOrderRun,
}

var prefsDisableCmd = &cobra.Command{
	Use:   "disable <source-id>",
	Short: "Never try a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(s *prefs.FileStore) error {
			warnUnknown(cmd, args[0])
			return s.Disable(args[0])
		})
	},
}

var prefsEnableCmd = &cobra.Command{
	Use:   "enable <source-id>",
	Short: "Allow a disabled source again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(s *prefs.FileStore) error { return s.Enable(args[0]) })
	},
}

var prefsPinCmd = &cobra.Command{
	Use:       "pin <on|off>",
	Short:     "Try the last successful source first",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch strings.ToLower(args[0]) {
		case "on", "true", "yes":
			on = true
		case "off", "false", "no":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return withPrefs(func(s *prefs.FileStore) error { return s.SetPin(on) })
	},
}

func init() {
	prefsOrderCmd.Flags().BoolVar(&flagOrderOff, "off", false, "Keep the stored order but stop using it")

	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsOrderCmd)
	prefsCmd.AddCommand(prefsDisableCmd)
	prefsCmd.AddCommand(prefsEnableCmd)
	prefsCmd.AddCommand(prefsPinCmd)
}

func prefsStore() (*prefs.FileStore, error) {
	path, err := config.PrefsPath()
	if err != nil {
		return nil, fmt.Errorf("locating preferences: %w", err)
	}
	return prefs.NewFileStore(path), nil
}

func withPrefs(fn func(*prefs.FileStore) error) error {
	s, err := prefsStore()
	if err != nil {
		return err
	}
	return fn(s)
}

// warnUnknown logs when id is not in the catalog. The change is still
// saved, since the catalog may be temporarily unreachable.
func warnUnknown(cmd *cobra.Command, id string) {
	a, err := newApp()
	if err != nil {
		return
	}
	defer a.Close()
	if _, err := a.registry.Populate(cmd.Context()); err != nil {
		return
	}
	if _, ok := a.registry.Get(id); !ok {
		logger.WithField("provider", id).Warn("source is not in the catalog")
	}
}

func prefsShowRun(cmd *cobra.Command, args []string) error {
	s, err := prefsStore()
	if err != nil {
		return err
	}
	p, err := s.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}

	fmt.Fprintf(out, "file:            %s\n", s.Path())
	fmt.Fprintf(out, "custom order:    %s (enabled: %t)\n", strings.Join(p.Order, ", "), p.OrderEnabled)
	fmt.Fprintf(out, "disabled:        %s\n", strings.Join(p.DisabledIDs, ", "))
	fmt.Fprintf(out, "pin last:        %t\n", p.PinLastSuccessful)
	fmt.Fprintf(out, "last successful: %s\n", p.LastSuccessfulID)
	return nil
}

func prefsOrderRun(cmd *cobra.Command, args []string) error {
	for _, id := range args {
		if err := httputil.ValidateID(id); err != nil {
			return fmt.Errorf("source %q: %w", id, err)
		}
	}
	return withPrefs(func(s *prefs.FileStore) error {
		if flagOrderOff {
			return s.SetOrderEnabled(false)
		}
		return s.SetOrder(args)
	})
}
