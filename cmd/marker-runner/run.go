// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/marker-runner/internal/convert"
	"github.com/pdiddy/marker-runner/internal/discover"
	"github.com/pdiddy/marker-runner/internal/marker"
	"github.com/pdiddy/marker-runner/internal/secrets"
	"github.com/pdiddy/marker-runner/internal/stats"
	"github.com/pdiddy/marker-runner/pkg/types"
)

var errNoAPIKey = fmt.Errorf("%w: set --gemini-key, GEMINI_API_KEY or .secrets/%s", marker.ErrNoAPIKey, secrets.GeminiAPIKey)

// resolveConfig collects the run settings from v. The credential falls back
// to the gemini-api-key secret file when no flag, env or config value is set.
func resolveConfig(v *viper.Viper, warn io.Writer) (types.RunConfig, error) {
	cfg := types.RunConfig{
		Input: types.InputConfig{
			InputDir:  v.GetString(keyInputDir),
			InputFile: v.GetString(keyInputFile),
		},
		Marker: types.MarkerConfig{
			Binary:       v.GetString(keyMarkerBin),
			APIKey:       v.GetString(keyGeminiKey),
			UseLLM:       !v.GetBool(keyNoLLM),
			OutputFormat: marker.DefaultOutputFormat,
		},
		OutputDir:  v.GetString(keyOutputDir),
		LogFile:    v.GetString(keyLogFile),
		JobTimeout: v.GetDuration(keyTimeout),
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = defaultOutputDir
	}
	if cfg.LogFile == "" {
		cfg.LogFile = defaultLogFile
	}
	if cfg.JobTimeout < 0 {
		return cfg, fmt.Errorf("--timeout must not be negative, got %v", cfg.JobTimeout)
	}

	if cfg.Marker.APIKey == "" {
		dir := v.GetString(keySecretsDir)
		if dir == "" {
			dir = secrets.DefaultDir
		}
		key, err := secrets.Lookup(dir, secrets.GeminiAPIKey, warn)
		if err != nil {
			return cfg, err
		}
		cfg.Marker.APIKey = key
	}
	return cfg, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	dryRun := viper.GetBool(keyDryRun)

	cfg, err := resolveConfig(viper.GetViper(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if cfg.Marker.APIKey == "" && !dryRun {
		return errNoAPIKey
	}

	d, err := discover.Discover(cfg.Input, cfg.OutputDir)
	if err != nil {
		return err
	}

	if dryRun {
		convert.DryRun(d.Jobs, out)
		return nil
	}

	if err := os.MkdirAll(d.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	statsPath := filepath.Join(d.OutputDir, stats.FileName)
	recorder := stats.NewRecorder(statsPath)
	if len(d.Jobs) == 0 {
		fmt.Fprintln(out, "No PDF files found to process.")
		// The stats file always describes the latest run.
		return recorder.Flush()
	}
	fmt.Fprintf(out, "Found %d PDF files to process.\n", len(d.Jobs))

	runLog, err := marker.OpenLog(cfg.LogFile)
	if err != nil {
		return err
	}
	defer runLog.Close()

	conv, err := marker.NewCLI(cfg.Marker, runLog)
	if err != nil {
		return err
	}
	if err := conv.Available(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := convert.NewRunner(conv, recorder, out, cfg.JobTimeout)

	result, err := runner.Run(ctx, d.Jobs)
	if err != nil {
		return fmt.Errorf("run %s: %w", runLog.RunID(), err)
	}

	fmt.Fprintf(out, "\nProcessing complete! Stats saved to %s\n", statsPath)
	fmt.Fprintf(out, "A detailed log of the marker process is in %s\n", runLog.Path())

	if viper.GetBool(keyStrict) && result.HasFailures() {
		return fmt.Errorf("%d file(s) failed conversion", result.Failed)
	}
	return nil
}
