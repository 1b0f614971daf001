// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/marker-runner/internal/stats"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the stats file of the last run",
	Long: `Report reads <output-dir>/marker_stats.json (or --stats), prints the
number of successful, skipped and failed files with their total duration,
and optionally exports the records as yaml or json.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().String("stats", "", "stats file (default: <output-dir>/marker_stats.json)")
	reportCmd.Flags().String("format", "", "also print the records: yaml or json")

	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("stats")
	if path == "" {
		outDir := viper.GetString(keyOutputDir)
		if outDir == "" {
			outDir = defaultOutputDir
		}
		path = filepath.Join(outDir, stats.FileName)
	}
	format, _ := cmd.Flags().GetString("format")

	records, err := stats.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := stats.Summarize(records)
	fmt.Fprintf(out, "%s: %d file(s)\n", path, s.Total())
	fmt.Fprintf(out, "  success: %d\n  skipped: %d\n  failure: %d\n", s.Success, s.Skipped, s.Failure)
	fmt.Fprintf(out, "  duration: %.1fs\n", s.Duration)

	if format == "" {
		return nil
	}
	fmt.Fprintln(out)
	return stats.Render(out, records, format)
}
