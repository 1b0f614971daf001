// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stats accumulates per-job records for a run and persists them as
// the run-level stats file.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/marker-runner/pkg/types"
)

// FileName is the stats file name under the output root.
const FileName = "marker_stats.json"

// RecordFor maps a job outcome to its persisted record.
func RecordFor(job types.Job, res types.ConversionResult) types.StatsRecord {
	rec := types.StatsRecord{
		PDFPath:  job.RelPath,
		Duration: res.Duration,
	}
	switch res.Status {
	case types.ConversionProcessed:
		rec.Status = types.RecordSuccess
	case types.ConversionSkipped:
		rec.Status = types.RecordSkipped
	default:
		rec.Status = types.RecordFailure
		return rec
	}
	out := job.RelOutputPath
	rec.OutputPath = &out
	return rec
}

// Recorder keeps the ordered records of one run. Every Flush rewrites the
// whole file, so the file never holds records from an earlier run.
type Recorder struct {
	path    string
	records []types.StatsRecord
}

// NewRecorder returns a recorder that writes to path.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path, records: []types.StatsRecord{}}
}

// Path returns the stats file location.
func (r *Recorder) Path() string { return r.path }

// Add appends the record for job and returns it.
func (r *Recorder) Add(job types.Job, res types.ConversionResult) types.StatsRecord {
	rec := RecordFor(job, res)
	r.records = append(r.records, rec)
	return rec
}

// Records returns the records collected so far, in insertion order.
func (r *Recorder) Records() []types.StatsRecord {
	return r.records
}

// Flush writes all records to the stats file through a temporary file and
// rename, so a crash mid-write leaves the previous flush intact.
func (r *Recorder) Flush() error {
	data, err := encodeJSON(r.records)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating stats directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".marker_stats-*.json")
	if err != nil {
		return fmt.Errorf("creating temp stats file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing stats: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp stats file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting stats file mode: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replacing %s: %w", r.path, err)
	}
	return nil
}

// Load reads a stats file.
func Load(path string) ([]types.StatsRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stats %s: %w", path, err)
	}
	var records []types.StatsRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing stats %s: %w", path, err)
	}
	return records, nil
}

// Summary aggregates records by status.
type Summary struct {
	Success  int     `json:"success" yaml:"success"`
	Skipped  int     `json:"skipped" yaml:"skipped"`
	Failure  int     `json:"failure" yaml:"failure"`
	Duration float64 `json:"duration" yaml:"duration"`
}

// Total returns the number of records summarized.
func (s Summary) Total() int {
	return s.Success + s.Skipped + s.Failure
}

// Summarize counts records per status and sums their durations.
func Summarize(records []types.StatsRecord) Summary {
	var s Summary
	for _, r := range records {
		switch r.Status {
		case types.RecordSuccess:
			s.Success++
		case types.RecordSkipped:
			s.Skipped++
		default:
			s.Failure++
		}
		s.Duration += r.Duration
	}
	return s
}

// Render writes records to w as "json" or "yaml".
func Render(w io.Writer, records []types.StatsRecord, format string) error {
	switch format {
	case "json":
		data, err := encodeJSON(records)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
}

// encodeJSON renders v with two-space indentation and without HTML escaping.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
