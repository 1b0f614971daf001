// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the marker-runner CLI, a batch driver
// that converts PDFs to JSON with the external marker_single tool.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/marker-runner/internal/marker"
	"github.com/pdiddy/marker-runner/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// Configuration keys. Flag names double as viper keys.
const (
	keyGeminiKey  = "gemini-key"
	keyInputDir   = "input-dir"
	keyInputFile  = "input-file"
	keyOutputDir  = "output-dir"
	keyLogFile    = "log-file"
	keyMarkerBin  = "marker-bin"
	keyTimeout    = "timeout"
	keyNoLLM      = "no-llm"
	keyDryRun     = "dry-run"
	keyStrict     = "strict"
	keySecretsDir = "secrets-dir"

	defaultOutputDir = "marker_output"
	defaultLogFile   = "marker.log"
)

// rootCmd runs a conversion batch.
var rootCmd = &cobra.Command{
	Use:   "marker-runner",
	Short: "Convert a tree of PDFs to JSON with marker",
	Long: `marker-runner finds PDF files under --input-dir (or takes a single
--input-file), runs marker_single on each one, and writes the result wrapped
with its source path and processing time to a mirrored path under
--output-dir. Files whose output already exists are skipped, so an
interrupted batch can be rerun safely.

Per-file outcomes are written to <output-dir>/marker_stats.json and the
converter's combined output to the log file.`,
	SilenceUsage: true,
	RunE:         runBatch,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./marker-runner.yaml or ~/.config/marker-runner/config.yaml)")
	pf.String(keyOutputDir, defaultOutputDir, "output directory for marker results (env OUTPUT_DIR)")

	f := rootCmd.Flags()
	f.String(keyGeminiKey, "", "Gemini API key (env GEMINI_API_KEY)")
	f.String(keyInputDir, "", "input directory containing PDFs")
	f.String(keyInputFile, "", "path to a single PDF file to process")
	f.String(keyLogFile, defaultLogFile, "converter log file, truncated at the start of each run")
	f.String(keyMarkerBin, marker.DefaultBinary, "converter executable")
	f.Duration(keyTimeout, 0, "per-file converter timeout (0 disables)")
	f.Bool(keyNoLLM, false, "run marker without --use_llm")
	f.Bool(keyDryRun, false, "list the files that would be converted and exit")
	f.Bool(keyStrict, false, "exit non-zero when any file fails")
	f.String(keySecretsDir, secrets.DefaultDir, "directory of secret files; gemini-api-key is read when no key is set")

	_ = viper.BindPFlags(pf)
	_ = viper.BindPFlags(f)
	_ = viper.BindEnv(keyGeminiKey, "GEMINI_API_KEY")
	_ = viper.BindEnv(keyOutputDir, "OUTPUT_DIR")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("marker-runner")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "marker-runner"))
		}
	}

	viper.SetEnvPrefix("MARKER_RUNNER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
