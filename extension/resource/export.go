// export.go implements the "fhird export" command for NDJSON dumps.
//
// Exported lines are the stored documents byte for byte, so a dump loads
// back identically. Without --output the dump goes to stdout and nothing
// else is printed, keeping the stream pipeable.

package resource

import (
	"fmt"
	"io"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/exporter"
	"github.com/spf13/cobra"
)

func (e *Extension) newExportCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "export",
		Short: "Export resources as NDJSON",
		Long: `Export every current resource as NDJSON, one document per line.

  fhird export > backup.ndjson
  fhird export -t Patient -o patients.ndjson
  fhird export | fhird load /dev/stdin   # round trip`,
		Args: cobra.NoArgs,
		RunE: e.runExport,
	}
	c.Flags().StringP(extension.FlagType, "t", "", "Only export this resource type")
	c.Flags().StringP(extension.FlagOutput, "o", "", "Write to file instead of stdout")
	return c
}

func (e *Extension) runExport(c *cobra.Command, args []string) error {
	opts := exporter.Options{Force: cmd.Force()}
	opts.Type, _ = c.Flags().GetString(extension.FlagType)
	opts.Output, _ = c.Flags().GetString(extension.FlagOutput)

	// With --output the writer only carries the summary line, which JSON
	// mode replaces. Without it the writer carries the dump itself.
	out := cmd.Out()
	if cmd.JSON() && opts.Output != "" {
		out = io.Discard
	}

	result, err := exporter.Run(c.Context(), out, e.svc, opts)

	audit.Event("resource:export", "export").Actor(cmd.Actor()).
		Detail("type", opts.Type).
		Detail("output", opts.Output).
		Detail("exported", result.Exported).
		Write(err)

	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("export: %w", err))
	}
	if cmd.JSON() && opts.Output != "" {
		return cmd.PrintJSON(result)
	}
	return nil
}
