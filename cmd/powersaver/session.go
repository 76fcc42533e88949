package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srg/powersaver/pkg/config"
	"github.com/srg/powersaver/pkg/power"
	"github.com/srg/powersaver/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or clear the saved ride session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved session",
	RunE:  runSessionShow,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved session",
	RunE:  runSessionClear,
}

var sessionFormat string

func init() {
	sessionShowCmd.Flags().StringVarP(&sessionFormat, "format", "f", "text", "Output format (text, json, yaml)")
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}

func openStore(cmd *cobra.Command) (*session.Store, *config.Config, error) {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return nil, nil, err
	}
	path, err := cfg.SessionPath()
	if err != nil {
		return nil, nil, err
	}
	return session.NewStore(path, cfg.SessionMaxAge, nil, logger), cfg, nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	switch sessionFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid format '%s': must be one of [text json yaml]", sessionFormat)
	}

	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	d, err := store.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if d == nil {
		fmt.Fprintln(out, "No saved session")
		return nil
	}

	switch sessionFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(d)
	}
	return printSessionSummary(out, d)
}

func printSessionSummary(out io.Writer, d *session.Data) error {
	fmt.Fprintf(out, "Session:   %s\n", d.SessionID)
	fmt.Fprintf(out, "Started:   %s\n", d.StartTime.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Saved:     %s\n", d.SavedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Duration:  %s (%d samples)\n", formatDuration(d.Duration()), len(d.PowerData))
	fmt.Fprintf(out, "Last:      %d W  %d bpm  %d rpm\n", d.LastPowerValue, d.LastHeartRateValue, d.LastCadenceValue)

	if d.PowerAverages == nil {
		return nil
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "WINDOW\tBEST\t\n")
	for _, label := range power.Labels() {
		stats, ok := d.PowerAverages.Get(label)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t\n", label, stats.Best)
	}
	return w.Flush()
}

func runSessionClear(cmd *cobra.Command, args []string) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Session cleared")
	return nil
}
