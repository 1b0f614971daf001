// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"path"
	"strings"
)

// ConversionStatus is the runner-side outcome of one job.
type ConversionStatus string

const (
	ConversionProcessed ConversionStatus = "processed"
	ConversionSkipped   ConversionStatus = "skipped"
	ConversionFailed    ConversionStatus = "failed"
)

// RecordStatus is the status persisted in the stats file.
type RecordStatus string

const (
	RecordSuccess RecordStatus = "success"
	RecordSkipped RecordStatus = "skipped"
	RecordFailure RecordStatus = "failure"
)

// Job is one discovered PDF scheduled for conversion.
type Job struct {
	// InputPath is the absolute path to the PDF.
	InputPath string `json:"input_path" yaml:"input_path"`

	// RelPath is InputPath relative to the input root, slash-separated.
	RelPath string `json:"rel_path" yaml:"rel_path"`

	// WorkDir is the staging directory handed to the converter, under the
	// output root's mirror of the input's relative directory.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// OutputPath is the canonical wrapped-output location. Its existence
	// marks the job as done.
	OutputPath string `json:"output_path" yaml:"output_path"`

	// RelOutputPath is OutputPath relative to the output root, slash-separated.
	RelOutputPath string `json:"rel_output_path" yaml:"rel_output_path"`
}

// Stem returns the input file name without its extension.
func (j Job) Stem() string {
	base := path.Base(j.RelPath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// ConversionResult is the outcome of running one job.
type ConversionResult struct {
	Status ConversionStatus

	// OutputPath is set unless Status is ConversionFailed.
	OutputPath string

	// Duration is elapsed wall-clock seconds.
	Duration float64

	// Err describes why the job failed.
	Err error
}

// StatsRecord is the persisted summary for one job.
type StatsRecord struct {
	PDFPath    string       `json:"pdf_path" yaml:"pdf_path"`
	OutputPath *string      `json:"output_path" yaml:"output_path"`
	Duration   float64      `json:"duration" yaml:"duration"`
	Status     RecordStatus `json:"status" yaml:"status"`
}

// WrappedDocument is the per-job artifact written next to the input's
// relative location under the output root.
type WrappedDocument struct {
	SourcePDF      string          `json:"source_pdf"`
	ProcessingDate string          `json:"processing_date"`
	Content        json.RawMessage `json:"content"`
}

// ProcessingDateLayout formats WrappedDocument.ProcessingDate in local time.
const ProcessingDateLayout = "2006-01-02 15:04:05"
