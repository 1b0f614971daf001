// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"fmt"
	"io"
	"os"

	"github.com/pdiddy/marker-runner/internal/discover"
	"github.com/pdiddy/marker-runner/pkg/types"
)

// DryRun prints what a run over jobs would do without invoking the converter
// or writing anything. Jobs with existing output count as skipped, the rest
// as converted.
func DryRun(jobs []types.Job, w io.Writer) BatchResult {
	var result BatchResult
	for i, job := range jobs {
		if _, err := os.Stat(job.OutputPath); err == nil {
			fmt.Fprintf(w, "[%d/%d] exists:  %s -> %s\n", i+1, len(jobs), job.RelPath, job.RelOutputPath)
			result.Skipped++
			continue
		}

		pages := "? pages"
		if n, err := discover.PageCount(job.InputPath); err == nil {
			pages = fmt.Sprintf("%d pages", n)
		}
		fmt.Fprintf(w, "[%d/%d] pending: %s -> %s (%s)\n", i+1, len(jobs), job.RelPath, job.RelOutputPath, pages)
		result.Converted++
	}

	fmt.Fprintf(w, "\nDry run: %d to convert, %d already converted (total: %d)\n",
		result.Converted, result.Skipped, result.Total())
	return result
}
