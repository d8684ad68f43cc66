package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanForce bool

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a full library rescan",
		RunE:  scanRun,
	}

	cmd.Flags().BoolVar(&scanForce, "force", false, "re-parse files that already have metadata")

	return cmd
}

func scanRun(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.store.Close()

	report, err := comps.scanner.FullRescan(cmd.Context(), scanForce)
	if err != nil {
		return err
	}

	fmt.Printf("scanned: %d  parsed: %d  skipped: %d  removed: %d  failed: %d  (%s)\n",
		report.Scanned, report.Parsed, report.Skipped, report.Removed, report.Failed, report.Duration)
	return nil
}
