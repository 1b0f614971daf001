// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/marker-runner/internal/discover"
	"github.com/pdiddy/marker-runner/internal/marker"
	"github.com/pdiddy/marker-runner/internal/stats"
	"github.com/pdiddy/marker-runner/pkg/types"
)

// fakeConverter mimics marker_single: it writes output to
// <outDir>/<stem>/<stem>.json unless configured to fail.
type fakeConverter struct {
	output string
	err    error
	// skipArtifact exits cleanly without writing anything.
	skipArtifact bool
	// block waits for the context to end and returns its error.
	block bool
	// failAfterWrite writes the artifact, then fails with this error.
	failAfterWrite error

	calls []string
}

func (f *fakeConverter) Convert(ctx context.Context, pdfPath, outDir string) error {
	f.calls = append(f.calls, pdfPath)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	if f.skipArtifact {
		return nil
	}
	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	dir := filepath.Join(outDir, stem)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "image_0.png"), []byte("png"), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, stem+".json"), []byte(f.output), 0o644); err != nil {
		return err
	}
	return f.failAfterWrite
}

// selectiveConverter delegates per file name.
type selectiveConverter struct {
	byName map[string]Converter
}

func (s *selectiveConverter) Convert(ctx context.Context, pdfPath, outDir string) error {
	if c, ok := s.byName[filepath.Base(pdfPath)]; ok {
		return c.Convert(ctx, pdfPath, outDir)
	}
	return errors.New("unexpected path: " + pdfPath)
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local)

type env struct {
	inDir, outDir string
	statsPath     string
}

func setup(t *testing.T, pdfs ...string) env {
	t.Helper()
	tmp := t.TempDir()
	e := env{
		inDir:  filepath.Join(tmp, "input"),
		outDir: filepath.Join(tmp, "marker_output"),
	}
	e.statsPath = filepath.Join(e.outDir, stats.FileName)
	for _, p := range pdfs {
		path := filepath.Join(e.inDir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))
	}
	require.NoError(t, os.MkdirAll(e.inDir, 0o755))
	return e
}

func (e env) jobs(t *testing.T) []types.Job {
	t.Helper()
	d, err := discover.Discover(types.InputConfig{InputDir: e.inDir}, e.outDir)
	require.NoError(t, err)
	return d.Jobs
}

func newTestRunner(conv Converter, e env, w *bytes.Buffer, timeout time.Duration) *Runner {
	r := NewRunner(conv, stats.NewRecorder(e.statsPath), w, timeout)
	r.now = func() time.Time { return fixedNow }
	return r
}

func readDoc(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestConvertJob(t *testing.T) {
	tests := []struct {
		name       string
		converter  *fakeConverter
		preCreate  bool
		timeout    time.Duration
		wantStatus types.ConversionStatus
		wantCalled bool
		wantOutput bool
		errMsg     string
	}{
		{
			name:       "successful conversion",
			converter:  &fakeConverter{output: `{"blocks": []}`},
			wantStatus: types.ConversionProcessed,
			wantCalled: true,
			wantOutput: true,
		},
		{
			name:       "skip existing output",
			converter:  &fakeConverter{output: `{"blocks": []}`},
			preCreate:  true,
			wantStatus: types.ConversionSkipped,
			wantOutput: true,
		},
		{
			name:       "converter failure",
			converter:  &fakeConverter{err: errors.New("exit status 1")},
			wantStatus: types.ConversionFailed,
			wantCalled: true,
			errMsg:     "exit status 1",
		},
		{
			name:       "clean exit without artifact",
			converter:  &fakeConverter{skipArtifact: true},
			wantStatus: types.ConversionFailed,
			wantCalled: true,
			errMsg:     "produced no output",
		},
		{
			name:       "malformed artifact",
			converter:  &fakeConverter{output: `{"blocks": [`},
			wantStatus: types.ConversionFailed,
			wantCalled: true,
			errMsg:     "parsing converter output",
		},
		{
			name:       "timeout",
			converter:  &fakeConverter{block: true},
			timeout:    20 * time.Millisecond,
			wantStatus: types.ConversionFailed,
			wantCalled: true,
			errMsg:     context.DeadlineExceeded.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, "sub/paper.pdf")
			job := e.jobs(t)[0]

			if tt.preCreate {
				require.NoError(t, os.MkdirAll(filepath.Dir(job.OutputPath), 0o755))
				require.NoError(t, os.WriteFile(job.OutputPath, []byte("existing"), 0o644))
			}

			var log bytes.Buffer
			res := newTestRunner(tt.converter, e, &log, tt.timeout).ConvertJob(context.Background(), job)

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantCalled, len(tt.converter.calls) == 1)
			if tt.errMsg != "" {
				require.Error(t, res.Err)
				assert.Contains(t, res.Err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, res.Err)
			}

			if tt.wantOutput {
				assert.Equal(t, job.OutputPath, res.OutputPath)
				assert.FileExists(t, job.OutputPath)
			} else {
				assert.Empty(t, res.OutputPath)
				assert.NoFileExists(t, job.OutputPath)
			}
		})
	}
}

func TestConvertJobWrapsOutput(t *testing.T) {
	e := setup(t, "sub/paper.pdf")
	job := e.jobs(t)[0]

	var log bytes.Buffer
	conv := &fakeConverter{output: `{"blocks": [{"html": "<p>a & b</p>"}]}`}
	res := newTestRunner(conv, e, &log, 0).ConvertJob(context.Background(), job)
	require.Equal(t, types.ConversionProcessed, res.Status)

	doc := readDoc(t, filepath.Join(e.outDir, "sub", "paper.json"))
	assert.Equal(t, "sub/paper.pdf", doc["source_pdf"])
	assert.Equal(t, "2026-03-14 09:26:53", doc["processing_date"])
	content := doc["content"].(map[string]any)
	blocks := content["blocks"].([]any)
	require.Len(t, blocks, 1)
	assert.Equal(t, "<p>a & b</p>", blocks[0].(map[string]any)["html"])

	raw, err := os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<p>a & b</p>", "HTML must not be escaped")

	assert.NoDirExists(t, job.WorkDir, "intermediate output must be removed")
	entries, err := os.ReadDir(filepath.Dir(job.OutputPath))
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the output document remains")
}

func TestConvertJobRemovesStagingOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		converter *fakeConverter
		timeout   time.Duration
	}{
		{"converter fails after partial output", &fakeConverter{output: `{}`, failAfterWrite: errors.New("exit status 1")}, 0},
		{"malformed artifact", &fakeConverter{output: `{"blocks": [`}, 0},
		{"clean exit without artifact", &fakeConverter{skipArtifact: true}, 0},
		{"timeout", &fakeConverter{block: true}, 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, "sub/paper.pdf")
			job := e.jobs(t)[0]

			var log bytes.Buffer
			res := newTestRunner(tt.converter, e, &log, tt.timeout).ConvertJob(context.Background(), job)

			assert.Equal(t, types.ConversionFailed, res.Status)
			assert.NoDirExists(t, filepath.Join(job.WorkDir, "paper"))
			assert.NoDirExists(t, job.WorkDir)
			assert.NoFileExists(t, job.OutputPath)
		})
	}
}

func TestWriteDocumentLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory at the target path makes the final rename fail.
	target := filepath.Join(dir, "paper.json")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "occupied"), 0o755))

	err := writeDocument(target, types.WrappedDocument{SourcePDF: "paper.pdf", Content: json.RawMessage(`{}`)})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "paper.json", entries[0].Name())
}

func TestWriteDocumentMissingDirectory(t *testing.T) {
	target := filepath.Join(t.TempDir(), "missing", "paper.json")
	err := writeDocument(target, types.WrappedDocument{Content: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Dir(target))
}

func TestConvertJobKeepsSiblingOutputDirectory(t *testing.T) {
	// sub/b.pdf and sub/b/c.pdf: removing b's intermediate directory must
	// leave c's output in place.
	e := setup(t, "sub/b/c.pdf", "sub/b.pdf")
	jobs := e.jobs(t)
	require.Len(t, jobs, 2)

	var log bytes.Buffer
	r := newTestRunner(&fakeConverter{output: `{}`}, e, &log, 0)
	for _, j := range jobs {
		require.Equal(t, types.ConversionProcessed, r.ConvertJob(context.Background(), j).Status)
	}

	assert.FileExists(t, filepath.Join(e.outDir, "sub", "b.json"))
	assert.FileExists(t, filepath.Join(e.outDir, "sub", "b", "c.json"))
}

func TestRunScenario(t *testing.T) {
	e := setup(t, "a.pdf", "sub/b.pdf")
	conv := &fakeConverter{output: `{"blocks": []}`}

	var log bytes.Buffer
	result, err := newTestRunner(conv, e, &log, 0).Run(context.Background(), e.jobs(t))
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Converted: 2}, result)

	for _, p := range []string{"a.json", "sub/b.json"} {
		doc := readDoc(t, filepath.Join(e.outDir, filepath.FromSlash(p)))
		content := doc["content"].(map[string]any)
		assert.Equal(t, []any{}, content["blocks"])
	}

	records, err := stats.Load(e.statsPath)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.pdf", records[0].PDFPath)
	assert.Equal(t, "sub/b.pdf", records[1].PDFPath)
	for _, rec := range records {
		assert.Equal(t, types.RecordSuccess, rec.Status)
		require.NotNil(t, rec.OutputPath)
	}
	assert.Equal(t, "sub/b.json", *records[1].OutputPath)
	assert.Contains(t, log.String(), "Batch summary: 2 converted, 0 skipped, 0 failed (total: 2)")
}

func TestRunTwiceSkipsEverything(t *testing.T) {
	e := setup(t, "a.pdf", "sub/b.pdf", "sub/deep/c.pdf")
	conv := &fakeConverter{output: `{"blocks": []}`}

	var log bytes.Buffer
	_, err := newTestRunner(conv, e, &log, 0).Run(context.Background(), e.jobs(t))
	require.NoError(t, err)

	before := snapshot(t, e.outDir)

	second := &fakeConverter{output: `{"changed": true}`}
	log.Reset()
	result, err := newTestRunner(second, e, &log, 0).Run(context.Background(), e.jobs(t))
	require.NoError(t, err)

	assert.Empty(t, second.calls)
	assert.Equal(t, BatchResult{Skipped: 3}, result)

	after := snapshot(t, e.outDir)
	delete(before, stats.FileName)
	delete(after, stats.FileName)
	assert.Equal(t, before, after)

	records, err := stats.Load(e.statsPath)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, types.RecordSkipped, rec.Status)
	}
}

func TestRunMixedOutcomes(t *testing.T) {
	e := setup(t, "a.pdf", "b.pdf", "c.pdf", "d.pdf")
	jobs := e.jobs(t)

	// Pre-create output for "b" to trigger skip.
	require.NoError(t, os.MkdirAll(e.outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.outDir, "b.json"), []byte("{}"), 0o644))

	conv := &selectiveConverter{byName: map[string]Converter{
		"a.pdf": &fakeConverter{output: `{"ok": 1}`},
		"b.pdf": &fakeConverter{output: `{"ok": 2}`},
		"c.pdf": &fakeConverter{err: &marker.ExitError{
			Command: "marker_single c.pdf",
			Log:     "Traceback: bad pdf",
			Err:     errors.New("exit status 1"),
		}},
		"d.pdf": &fakeConverter{output: "not json"},
	}}

	var log bytes.Buffer
	result, err := newTestRunner(conv, e, &log, 0).Run(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, BatchResult{Converted: 1, Skipped: 1, Failed: 2}, result)
	assert.True(t, result.HasFailures())
	assert.Equal(t, 4, result.Total())

	records, err := stats.Load(e.statsPath)
	require.NoError(t, err)
	require.Len(t, records, 4)

	want := []types.RecordStatus{types.RecordSuccess, types.RecordSkipped, types.RecordFailure, types.RecordFailure}
	for i, rec := range records {
		assert.Equal(t, want[i], rec.Status, rec.PDFPath)
	}
	assert.Nil(t, records[2].OutputPath)
	assert.Nil(t, records[3].OutputPath)
	assert.NoFileExists(t, filepath.Join(e.outDir, "c.json"))
	assert.NoFileExists(t, filepath.Join(e.outDir, "d.json"))

	out := log.String()
	assert.Contains(t, out, "failed:  c.pdf")
	assert.Contains(t, out, "Log:\nTraceback: bad pdf")
	assert.Contains(t, out, "skipped: b.pdf")
}

func TestRunCancelled(t *testing.T) {
	e := setup(t, "a.pdf", "b.pdf")
	conv := &fakeConverter{output: `{}`}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var log bytes.Buffer
	result, err := newTestRunner(conv, e, &log, 0).Run(ctx, e.jobs(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, result.Total())
	assert.Empty(t, conv.calls)

	records, err := stats.Load(e.statsPath)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Contains(t, log.String(), "Run interrupted after 0 of 2")
}

func TestRunEmpty(t *testing.T) {
	e := setup(t)
	var log bytes.Buffer
	result, err := newTestRunner(&fakeConverter{}, e, &log, 0).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total())

	data, err := os.ReadFile(e.statsPath)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestDryRun(t *testing.T) {
	e := setup(t, "a.pdf", "sub/b.pdf")
	require.NoError(t, os.MkdirAll(e.outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.outDir, "a.json"), []byte("{}"), 0o644))

	var log bytes.Buffer
	result := DryRun(e.jobs(t), &log)

	assert.Equal(t, BatchResult{Converted: 1, Skipped: 1}, result)
	out := log.String()
	assert.Contains(t, out, "exists:  a.pdf -> a.json")
	assert.Contains(t, out, "pending: sub/b.pdf -> sub/b.json (? pages)")
	assert.NoFileExists(t, e.statsPath)
	assert.NoDirExists(t, filepath.Join(e.outDir, "sub"))
}

// snapshot maps every file under dir (slash-relative) to its contents.
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}
