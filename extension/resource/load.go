// load.go implements the "fhird load" command for bulk import.
//
// Two input shapes: NDJSON (one resource per line, written independently)
// and a FHIR Bundle (executed through the transaction machinery, so a
// transaction bundle is all-or-nothing). The format is sniffed from the
// content unless --format forces it.

package resource

import (
	"fmt"
	"io"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/importer"
	"github.com/spf13/cobra"
)

func (e *Extension) newLoadCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "load <file>",
		Short: "Bulk import resources",
		Long: `Import resources from an NDJSON file or a FHIR Bundle.

  fhird load patients.ndjson
  fhird load transaction.json          # Bundle, honours its type
  fhird load export.ndjson --dry-run   # validate without writing`,
		Args: cobra.ExactArgs(1),
		RunE: e.runLoad,
	}
	c.Flags().String(extension.FlagFormat, "", "Input format: ndjson or bundle (default sniffs)")
	c.Flags().BoolP(extension.FlagDryRun, "n", false, "Validate without writing")
	return c
}

func (e *Extension) runLoad(c *cobra.Command, args []string) error {
	src := args[0]
	opts := importer.Options{}
	opts.Format, _ = c.Flags().GetString(extension.FlagFormat)
	opts.DryRun, _ = c.Flags().GetBool(extension.FlagDryRun)

	out := cmd.Out()
	if cmd.JSON() {
		out = io.Discard
	}

	result, err := importer.Run(c.Context(), out, e.svc, src, opts)

	audit.Event("resource:load", "import").Actor(cmd.Actor()).
		Detail("file", src).
		Detail("created", result.Created).
		Detail("updated", result.Updated).
		Detail("dry_run", opts.DryRun).
		Write(err)

	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("load %s: %w", src, err))
	}
	if cmd.JSON() {
		return cmd.PrintJSON(result)
	}
	return nil
}
