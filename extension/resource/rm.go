// rm.go implements the "fhird rm" command for deleting resources.
//
// Deletes are soft: the resource disappears from reads and searches but its
// version chain stays intact until vacuum. Conditional form takes a search
// query and refuses multi-resource deletes unless --multi is set.

package resource

import (
	"fmt"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/spf13/cobra"
)

func (e *Extension) newRmCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "rm <Type/id> | rm <Type> <query>",
		Short: "Delete a resource",
		Long: `Delete a resource, keeping its history readable until vacuum.

  fhird rm Patient/p1
  fhird rm Patient 'identifier=http://example.org|mrn-1'
  fhird rm Observation 'status=entered-in-error' --multi`,
		Args: cobra.RangeArgs(1, 2),
		RunE: e.runRm,
	}
	c.Flags().Bool(extension.FlagMulti, false, "Allow deleting multiple matches")
	return c
}

func (e *Extension) runRm(c *cobra.Command, args []string) error {
	if len(args) == 2 {
		return e.rmConditional(c, args[0], args[1])
	}

	typ, id, err := parseRef(args[0])
	if err != nil {
		return cmd.PrintJSONError(err)
	}

	l := audit.Event("resource:rm", "delete").Actor(cmd.Actor()).Resource(typ, id)
	wr, err := e.svc.Delete(c.Context(), typ, id)
	l.Write(err)
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("rm %s/%s: %w", typ, id, err))
	}

	if cmd.JSON() {
		return cmd.PrintJSON(map[string]any{
			"resourceType": typ,
			"id":           id,
			"versionId":    wr.VersionID,
			"noop":         wr.Noop,
		})
	}
	if wr.Noop {
		fmt.Fprintf(cmd.Out(), "%s/%s already deleted\n", typ, id)
		return nil
	}
	fmt.Fprintf(cmd.Out(), "Deleted %s/%s (version %d)\n", typ, id, wr.VersionID)
	return nil
}

func (e *Extension) rmConditional(c *cobra.Command, typ, query string) error {
	multi, _ := c.Flags().GetBool(extension.FlagMulti)

	l := audit.Event("resource:rm", "delete").Actor(cmd.Actor()).
		Detail("type", typ).
		Detail("query", query).
		Detail("multi", multi)

	n, err := e.svc.ConditionalDelete(c.Context(), typ, query, multi)
	l.Detail("count", n).Write(err)
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("rm %s?%s: %w", typ, query, err))
	}

	if cmd.JSON() {
		return cmd.PrintJSON(map[string]int64{"deleted": n})
	}
	fmt.Fprintf(cmd.Out(), "Deleted %d resource(s)\n", n)
	return nil
}
