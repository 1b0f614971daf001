// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert drives a batch of PDF conversions through an external
// converter, one job at a time, and records the outcome of every job.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pdiddy/marker-runner/internal/marker"
	"github.com/pdiddy/marker-runner/internal/stats"
	"github.com/pdiddy/marker-runner/pkg/types"
)

// artifactExt is the extension of the converter's intermediate JSON file.
const artifactExt = ".json"

// Converter runs the external conversion of one PDF. It writes its result to
// <outDir>/<stem>/<stem>.json and returns an error when the process could
// not be started or did not exit cleanly.
type Converter interface {
	Convert(ctx context.Context, pdfPath, outDir string) error
}

// BatchResult holds the outcome of a batch conversion run.
type BatchResult struct {
	Converted int
	Skipped   int
	Failed    int
}

// Total returns the total number of jobs processed.
func (r BatchResult) Total() int {
	return r.Converted + r.Skipped + r.Failed
}

// HasFailures reports whether any job failed conversion.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

func (r *BatchResult) add(status types.ConversionStatus) {
	switch status {
	case types.ConversionProcessed:
		r.Converted++
	case types.ConversionSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Runner executes jobs sequentially.
type Runner struct {
	conv     Converter
	recorder *stats.Recorder
	w        io.Writer

	// timeout bounds each converter call; zero disables it.
	timeout time.Duration

	now func() time.Time
}

// NewRunner returns a runner that converts with conv, records outcomes in
// recorder and prints progress to w.
func NewRunner(conv Converter, recorder *stats.Recorder, w io.Writer, timeout time.Duration) *Runner {
	return &Runner{
		conv:     conv,
		recorder: recorder,
		w:        w,
		timeout:  timeout,
		now:      time.Now,
	}
}

// ConvertJob converts a single job. An existing output file short-circuits
// the job as skipped without invoking the converter. Every failure is
// returned as a failed result; ConvertJob never aborts the caller.
func (r *Runner) ConvertJob(ctx context.Context, job types.Job) types.ConversionResult {
	start := r.now()
	done := func(status types.ConversionStatus, err error) types.ConversionResult {
		res := types.ConversionResult{
			Status:   status,
			Duration: r.now().Sub(start).Seconds(),
			Err:      err,
		}
		if status != types.ConversionFailed {
			res.OutputPath = job.OutputPath
		}
		return res
	}

	if _, err := os.Stat(job.OutputPath); err == nil {
		return done(types.ConversionSkipped, nil)
	}

	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return done(types.ConversionFailed, fmt.Errorf("creating work directory: %w", err))
	}
	defer r.cleanup(job)

	jobCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.conv.Convert(jobCtx, job.InputPath, job.WorkDir); err != nil {
		return done(types.ConversionFailed, err)
	}

	if err := r.assemble(job); err != nil {
		return done(types.ConversionFailed, err)
	}
	return done(types.ConversionProcessed, nil)
}

// artifactDir is where the converter leaves its output for job.
func artifactDir(job types.Job) string {
	return filepath.Join(job.WorkDir, job.Stem())
}

// assemble wraps the converter's intermediate file into the output document.
func (r *Runner) assemble(job types.Job) error {
	artifact := filepath.Join(artifactDir(job), job.Stem()+artifactExt)

	data, err := os.ReadFile(artifact)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("converter exited cleanly but produced no output at %s", artifact)
		}
		return fmt.Errorf("reading converter output: %w", err)
	}

	var content json.RawMessage
	if err := json.Unmarshal(data, &content); err != nil {
		return fmt.Errorf("parsing converter output %s: %w", artifact, err)
	}

	doc := types.WrappedDocument{
		SourcePDF:      job.RelPath,
		ProcessingDate: r.now().Format(types.ProcessingDateLayout),
		Content:        content,
	}
	return writeDocument(job.OutputPath, doc)
}

// cleanup removes the converter's intermediate directory for job, whatever
// the outcome.
func (r *Runner) cleanup(job types.Job) {
	dir := artifactDir(job)
	if err := os.RemoveAll(dir); err != nil {
		fmt.Fprintf(r.w, "warning: removing %s: %v\n", dir, err)
	}
	// Only succeeds once no other job's staging output remains.
	_ = os.Remove(job.WorkDir)
}

// writeDocument writes doc to path via a temporary file in the same
// directory, so the output only appears (and marks the job done) once it is
// complete. The temporary file never outlives the call.
func writeDocument(path string, doc types.WrappedDocument) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding output document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp output for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing output %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing output %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting output mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("writing output %s: %w", path, err)
	}
	return nil
}

// Run processes jobs in order, printing one status line per job and flushing
// the stats file after each one. When ctx is cancelled the run stops before
// the next job and returns ctx.Err() together with the partial result.
func (r *Runner) Run(ctx context.Context, jobs []types.Job) (BatchResult, error) {
	var result BatchResult
	n := len(jobs)

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			fmt.Fprintf(r.w, "\nRun interrupted after %d of %d file(s)\n", i, n)
			return result, errors.Join(err, r.recorder.Flush())
		}

		res := r.ConvertJob(ctx, job)
		r.recorder.Add(job, res)
		result.add(res.Status)
		r.report(i+1, n, job, res)

		if err := r.recorder.Flush(); err != nil {
			fmt.Fprintf(r.w, "warning: %v\n", err)
		}
	}

	fmt.Fprintf(r.w, "\nBatch summary: %d converted, %d skipped, %d failed (total: %d)\n",
		result.Converted, result.Skipped, result.Failed, result.Total())

	if err := r.recorder.Flush(); err != nil {
		return result, fmt.Errorf("writing stats: %w", err)
	}
	return result, nil
}

func (r *Runner) report(i, n int, job types.Job, res types.ConversionResult) {
	switch res.Status {
	case types.ConversionProcessed:
		fmt.Fprintf(r.w, "[%d/%d] converted: %s (%.1fs)\n", i, n, job.RelPath, res.Duration)
	case types.ConversionSkipped:
		fmt.Fprintf(r.w, "[%d/%d] skipped: %s (already exists)\n", i, n, job.RelPath)
	default:
		fmt.Fprintf(r.w, "[%d/%d] failed:  %s (%v)\n", i, n, job.RelPath, res.Err)
		var exitErr *marker.ExitError
		if errors.As(res.Err, &exitErr) {
			fmt.Fprintf(r.w, "Log:\n%s\n", exitErr.Log)
		}
	}
}
