// revert.go implements the "fhird revert" command.
//
// Revert is forward-moving: it writes the old version's content as a new
// version rather than rewinding the chain. History stays complete, the
// revert itself is visible, and a revert can be reverted.

package resource

import (
	"fmt"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/spf13/cobra"
)

func (e *Extension) newRevertCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "revert <Type/id> -v <version>",
		Short: "Restore an earlier version as a new version",
		Long: `Restore an earlier version by writing its content as a new version.

  fhird revert Patient/p1 -v 2`,
		Args: cobra.ExactArgs(1),
		RunE: e.runRevert,
	}
	c.Flags().IntP(extension.FlagVersion, "v", 0, "Version to restore")
	_ = c.MarkFlagRequired(extension.FlagVersion)
	return c
}

func (e *Extension) runRevert(c *cobra.Command, args []string) error {
	ctx := c.Context()
	ver, _ := c.Flags().GetInt(extension.FlagVersion)

	typ, id, err := parseRef(args[0])
	if err != nil {
		return cmd.PrintJSONError(err)
	}
	if ver < 1 {
		return cmd.PrintJSONError(fmt.Errorf("revert %s/%s: version must be >= 1", typ, id))
	}

	l := audit.Event("resource:revert", "update").Actor(cmd.Actor()).
		Resource(typ, id).
		Detail("revert_to", ver)

	old, err := e.readVersion(ctx, typ, id, ver)
	if err != nil {
		l.Write(err)
		return cmd.PrintJSONError(fmt.Errorf("revert %s/%s: %w", typ, id, err))
	}

	// Update validates the envelope and stamps fresh meta, so the restored
	// content gets its own versionId and lastUpdated.
	wr, err := e.svc.Update(ctx, typ, id, old, 0)
	if err != nil {
		l.Write(err)
		return cmd.PrintJSONError(fmt.Errorf("revert %s/%s: %w", typ, id, err))
	}
	l.Version(wr.VersionID).Write(nil)

	if cmd.JSON() {
		return cmd.PrintJSON(map[string]any{
			"resourceType": typ,
			"id":           id,
			"revertedTo":   ver,
			"versionId":    wr.VersionID,
		})
	}
	fmt.Fprintf(cmd.Out(), "Reverted %s/%s to v%d (now v%d)\n", typ, id, ver, wr.VersionID)
	return nil
}
