package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/powersaver/internal/bledb"
	"github.com/srg/powersaver/internal/devicefactory"
	"github.com/srg/powersaver/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for fitness sensors",
	Long: `Scan for nearby power meters, heart rate monitors and cadence sensors.

Devices are listed strongest signal first with their address, which can be
passed to "powersaver ride --power <address>".`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (defaults to scan_timeout from the config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "Show every BLE device, not only fitness sensors")
}

func fitnessServices() []string {
	return []string{bledb.CyclingPowerService, bledb.HeartRateService, bledb.CyclingSpeedCadence}
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration := cfg.ScanTimeout
	if scanDuration > 0 {
		duration = scanDuration
	}

	stack, err := devicefactory.Open(duration, logger)
	if err != nil {
		return fmt.Errorf("failed to open Bluetooth adapter: %w", err)
	}
	defer stack.Close()

	opts := &scanner.ScanOptions{
		Duration:        duration,
		DuplicateFilter: true,
	}
	if !scanAll {
		opts.ServiceUUIDs = fitnessServices()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var progress *ProgressPrinter
	if scanFormat == "table" && isTerminal(out) {
		progress = NewCountdownProgressPrinter(out, "Scanning for sensors", "Scanning", duration, "Processing results")
		progress.Start()
		defer progress.Stop()
	}

	var callback scanner.ProgressCallback
	if progress != nil {
		callback = progress.Callback()
	}

	candidates, err := stack.Scanner.Scan(ctx, opts, callback)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if progress != nil {
		progress.Stop()
	}

	if scanFormat == "json" {
		return displayCandidatesJSON(out, candidates)
	}
	return displayCandidatesTable(out, candidates)
}

func displayCandidatesTable(out io.Writer, candidates []scanner.Candidate) error {
	if len(candidates) == 0 {
		fmt.Fprintln(out, "No sensors discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSENSOR")
	fmt.Fprintln(w, "----\t-------\t----\t------")

	for _, c := range candidates {
		name := c.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, c.Address, c.RSSI, sensorKinds(c.Services))
	}
	return w.Flush()
}

// sensorKinds names the advertised services, fitness services first.
func sensorKinds(services []string) string {
	var kinds []string
	for _, s := range services {
		if bledb.IsFitnessService(s) {
			kinds = append(kinds, bledb.LookupService(s))
		}
	}
	if len(kinds) == 0 {
		for _, s := range services {
			if name := bledb.LookupService(s); name != "" {
				kinds = append(kinds, name)
			} else {
				kinds = append(kinds, s)
			}
		}
	}
	if len(kinds) == 0 {
		return "-"
	}
	return strings.Join(kinds, ", ")
}

func displayCandidatesJSON(out io.Writer, candidates []scanner.Candidate) error {
	if candidates == nil {
		candidates = []scanner.Candidate{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(candidates)
}
