// Package exporter dumps current resource versions as NDJSON.
//
// Stored documents are written back byte-identical, one per line, so a
// dump round-trips through "fhird load" without re-encoding drift. Only
// current versions are exported; history and tombstones stay behind.
package exporter

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jpl-au/fhird/internal/progress"
	"github.com/jpl-au/fhird/internal/service"
	"github.com/jpl-au/fhird/internal/store"
)

// Options configures an export operation.
type Options struct {
	Type   string // Only export this resource type
	Output string // Destination file (empty writes the dump to w)
	Force  bool   // Overwrite an existing output file
}

// Result contains the outcome of an export operation.
type Result struct {
	Exported int    `json:"exported"`
	Output   string `json:"output,omitempty"`
}

// Run streams every current, non-deleted resource as one JSON document per
// line. With Output set the dump goes to that file and w receives a summary
// line; otherwise the dump itself goes to w and nothing else does, keeping
// the stream valid NDJSON for piping.
func Run(ctx context.Context, w io.Writer, svc service.Service, opts Options) (Result, error) {
	var result Result

	dst := w
	toFile := opts.Output != ""
	if toFile {
		if !opts.Force {
			if _, err := os.Stat(opts.Output); err == nil {
				return result, fmt.Errorf("file exists: %s (use --force to overwrite)", opts.Output)
			}
		}
		f, err := os.Create(opts.Output)
		if err != nil {
			return result, fmt.Errorf("creating %s: %w", opts.Output, err)
		}
		defer f.Close()
		dst = f
		result.Output = opts.Output
	}

	prog := progress.New("Exporting", exportTotal(ctx, svc, opts.Type))
	defer prog.Done()

	err := svc.Each(ctx, opts.Type, func(r *store.StoredResource) error {
		if _, err := dst.Write(r.Doc); err != nil {
			return err
		}
		if _, err := dst.Write([]byte("\n")); err != nil {
			return err
		}
		result.Exported++
		prog.Increment()
		prog.Print()
		return nil
	})
	if err != nil {
		return result, err
	}

	if toFile {
		fmt.Fprintf(w, "Exported %d resource(s) to %s\n", result.Exported, opts.Output)
	}
	return result, nil
}

// exportTotal sizes the progress bar. An error here only costs the bar, so
// it falls back to zero rather than failing the export.
func exportTotal(ctx context.Context, svc service.Service, resourceType string) int {
	st, err := svc.Stats(ctx)
	if err != nil {
		return 0
	}
	if resourceType != "" {
		return int(st.ByType[resourceType])
	}
	return int(st.Resources)
}
