// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package discover finds the PDFs a run should convert and plans the
// output location of each one.
package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/marker-runner/pkg/types"
)

const (
	// pdfExt is the input extension matched during the directory walk.
	pdfExt = ".pdf"
	// outputExt is the extension of the wrapped output document.
	outputExt = ".json"
	// WorkDirName is the staging directory the converter writes into, next
	// to the wrapped output. Cleanup of <stem>/ inside it must never reach
	// an output directory that mirrors an input directory named <stem>.
	WorkDirName = ".marker-work"
)

// ErrNoInput is returned when neither an input directory nor an input file
// is configured.
var ErrNoInput = errors.New("either --input-dir or --input-file must be provided")

// Discovery is the result of resolving the configured input.
type Discovery struct {
	// Root is the absolute input root all relative paths are computed
	// against: the input directory, or the parent of the single input file.
	Root string

	// OutputDir is the absolute output root.
	OutputDir string

	// Jobs are in walk order.
	Jobs []types.Job
}

// Discover resolves in to an input root and a list of jobs whose outputs
// live under outputDir. A single input file takes precedence over an input
// directory.
func Discover(in types.InputConfig, outputDir string) (Discovery, error) {
	outAbs, err := filepath.Abs(outputDir)
	if err != nil {
		return Discovery{}, fmt.Errorf("resolving output directory %s: %w", outputDir, err)
	}

	var root string
	var pdfs []string

	switch {
	case in.InputFile != "":
		file, err := filepath.Abs(in.InputFile)
		if err != nil {
			return Discovery{}, fmt.Errorf("resolving input file %s: %w", in.InputFile, err)
		}
		info, err := os.Stat(file)
		if err != nil {
			return Discovery{}, fmt.Errorf("input file does not exist: %s", file)
		}
		if info.IsDir() {
			return Discovery{}, fmt.Errorf("input file is a directory: %s", file)
		}
		root = filepath.Dir(file)
		pdfs = []string{file}

	case in.InputDir != "":
		dir, err := filepath.Abs(in.InputDir)
		if err != nil {
			return Discovery{}, fmt.Errorf("resolving input directory %s: %w", in.InputDir, err)
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return Discovery{}, fmt.Errorf("input directory does not exist: %s", dir)
		}
		root = dir
		pdfs, err = FindPDFs(dir)
		if err != nil {
			return Discovery{}, err
		}

	default:
		return Discovery{}, ErrNoInput
	}

	jobs := make([]types.Job, 0, len(pdfs))
	for _, p := range pdfs {
		job, err := PlanJob(root, p, outAbs)
		if err != nil {
			return Discovery{}, err
		}
		jobs = append(jobs, job)
	}

	return Discovery{Root: root, OutputDir: outAbs, Jobs: jobs}, nil
}

// FindPDFs walks root recursively and returns every file with a lowercase
// .pdf extension, in lexical walk order. Symlinked directories are not
// followed. Matching is case-sensitive so that a.pdf and a.PDF never share
// the output a.json.
func FindPDFs(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == pdfExt {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking input directory %s: %w", root, err)
	}
	return files, nil
}

// PlanJob derives the job for pdfPath. The output mirrors the PDF's
// directory relative to root: <outputDir>/<rel dir>/<stem>.json, and the
// converter works in <outputDir>/<rel dir>/.marker-work.
func PlanJob(root, pdfPath, outputDir string) (types.Job, error) {
	rel, err := filepath.Rel(root, pdfPath)
	if err != nil {
		return types.Job{}, fmt.Errorf("relativizing %s against %s: %w", pdfPath, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return types.Job{}, fmt.Errorf("%s is outside input root %s", pdfPath, root)
	}

	stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	outDir := filepath.Join(outputDir, filepath.Dir(rel))
	outPath := filepath.Join(outDir, stem+outputExt)

	relOut, err := filepath.Rel(outputDir, outPath)
	if err != nil {
		return types.Job{}, fmt.Errorf("relativizing %s: %w", outPath, err)
	}

	return types.Job{
		InputPath:     pdfPath,
		RelPath:       filepath.ToSlash(rel),
		WorkDir:       filepath.Join(outDir, WorkDirName),
		OutputPath:    outPath,
		RelOutputPath: filepath.ToSlash(relOut),
	}, nil
}
