// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package marker runs the external marker_single converter. Each call blocks
// until the subprocess exits; its combined output goes to the shared run log.
package marker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pdiddy/marker-runner/pkg/types"
)

const (
	// DefaultBinary is the converter executable looked up on PATH.
	DefaultBinary = "marker_single"
	// DefaultOutputFormat selects marker's JSON renderer.
	DefaultOutputFormat = "json"

	redacted = "[REDACTED]"

	// waitDelay bounds how long Run waits for output pipes to close after
	// the process group has been killed.
	waitDelay = 5 * time.Second
)

// ErrNoAPIKey is returned when the converter is configured without a credential.
var ErrNoAPIKey = errors.New("Gemini API key is required")

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args []string, out io.Writer) error
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (o *osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (o *osExecutor) Run(ctx context.Context, name string, args []string, out io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	// marker_single spawns workers that inherit the output pipe; the whole
	// group must die on cancel or Run blocks until they exit.
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	return cmd.Run()
}

var defaultExec = &osExecutor{}

// ExitError reports a converter invocation that could not start, exited
// non-zero, or was killed by its context.
type ExitError struct {
	// Command is the command line with the credential redacted.
	Command string
	// Log is the run log contents at the time of failure.
	Log string
	Err error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("running %s: %v", e.Command, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// CLI invokes marker_single once per PDF.
type CLI struct {
	cfg  types.MarkerConfig
	log  *Log
	exec executor
}

// NewCLI returns a converter writing subprocess output to log. Empty Binary
// and OutputFormat fall back to the defaults.
func NewCLI(cfg types.MarkerConfig, log *Log) (*CLI, error) {
	return newCLI(cfg, log, defaultExec)
}

func newCLI(cfg types.MarkerConfig, log *Log, exec executor) (*CLI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if log == nil {
		return nil, errors.New("marker: nil run log")
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = DefaultOutputFormat
	}
	return &CLI{cfg: cfg, log: log, exec: exec}, nil
}

// Available reports whether the converter binary can be found.
func (c *CLI) Available() error {
	if _, err := c.exec.LookPath(c.cfg.Binary); err != nil {
		return fmt.Errorf("converter %s not found: %w", c.cfg.Binary, err)
	}
	return nil
}

// Args returns the converter arguments for one PDF. marker writes its result
// to <outDir>/<stem>/<stem>.<format>.
func (c *CLI) Args(pdfPath, outDir string) []string {
	args := []string{pdfPath}
	if c.cfg.UseLLM {
		args = append(args, "--use_llm")
	}
	args = append(args,
		"--gemini_api_key", c.cfg.APIKey,
		"--output_format", c.cfg.OutputFormat,
		"--output_dir", outDir,
	)
	return args
}

// Convert runs the converter for pdfPath with outDir as its output
// directory. Success means exit code zero; it says nothing about whether the
// expected artifact exists.
func (c *CLI) Convert(ctx context.Context, pdfPath, outDir string) error {
	args := c.Args(pdfPath, outDir)
	fmt.Fprintf(c.log, "--- %s\n", pdfPath)

	err := c.exec.Run(ctx, c.cfg.Binary, args, c.log)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return &ExitError{
		Command: c.commandLine(args),
		Log:     c.log.Contents(),
		Err:     err,
	}
}

func (c *CLI) commandLine(args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, c.cfg.Binary)
	for _, a := range args {
		if a == c.cfg.APIKey {
			a = redacted
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
