// get.go implements the "fhird get" command for reading resources.
//
// Separated from resource.go to isolate version selection and the rendering
// modes: full document, meta-only summary, and tombstone display.
//
// Design: Get mirrors the REST read/vread split. Without --version it reads
// the current version and fails with "gone" on deleted resources, exactly
// like GET over HTTP; --deleted turns that failure into a tombstone summary
// for forensic use, since the version chain stays readable until vacuum.

package resource

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/store"
	"github.com/spf13/cobra"
)

func (e *Extension) newGetCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "get <Type/id>",
		Short: "Read a resource",
		Long: `Output a resource as JSON.

  fhird get Patient/p1               # current version
  fhird get Patient/p1 -v 2          # a specific version
  fhird get Patient/p1 --summary     # id, version and meta only`,
		Args: cobra.ExactArgs(1),
		RunE: e.runGet,
	}
	c.Flags().IntP(extension.FlagVersion, "v", 0, "Read specific version")
	c.Flags().Bool(extension.FlagSummary, false, "Print id, version and meta only")
	c.Flags().BoolP(extension.FlagDeleted, "D", false, "Show the tombstone for a deleted resource")
	return c
}

func (e *Extension) runGet(c *cobra.Command, args []string) error {
	ctx := c.Context()
	ver, _ := c.Flags().GetInt(extension.FlagVersion)
	summary, _ := c.Flags().GetBool(extension.FlagSummary)
	deleted, _ := c.Flags().GetBool(extension.FlagDeleted)

	typ, id, err := parseRef(args[0])
	if err != nil {
		return cmd.PrintJSONError(err)
	}

	l := audit.Event("resource:get", "read").Actor(cmd.Actor()).Resource(typ, id)
	defer func() { l.Write(err) }()

	var row *store.StoredResource
	if ver > 0 {
		l.Version(int64(ver))
		row, err = e.svc.VRead(ctx, typ, id, int64(ver))
	} else {
		row, err = e.svc.Read(ctx, typ, id)
	}
	if err != nil {
		if deleted && errors.Is(err, fhir.ErrGone) {
			marker, merr := e.tombstone(c, typ, id)
			if merr == nil {
				err = nil
				return e.printDoc(marker)
			}
		}
		return cmd.PrintJSONError(fmt.Errorf("get %s/%s: %w", typ, id, err))
	}
	l.Version(row.VersionID)

	res, err := row.Resource()
	if err != nil {
		return cmd.PrintJSONError(err)
	}
	if summary {
		return e.printDoc(metaSummary(res, row))
	}
	return e.printDoc(res)
}

// tombstone fetches the newest history entry, which for a deleted resource
// is its delete marker.
func (e *Extension) tombstone(c *cobra.Command, typ, id string) (map[string]any, error) {
	page, err := e.svc.History(c.Context(), typ, id, store.HistoryOptions{Count: 1})
	if err != nil || len(page.Entries) == 0 || !page.Entries[0].Deleted {
		return nil, fmt.Errorf("no tombstone for %s/%s", typ, id)
	}
	m := page.Entries[0]
	return map[string]any{
		"resourceType": m.Type,
		"id":           m.ID,
		"deleted":      true,
		"versionId":    m.VersionID,
		"lastUpdated":  fhir.FormatInstant(m.Time()),
	}, nil
}

// metaSummary trims a resource to its identity and meta.
func metaSummary(res fhir.Resource, row *store.StoredResource) map[string]any {
	out := map[string]any{
		"resourceType": row.Type,
		"id":           row.ID,
	}
	if meta, ok := res["meta"]; ok {
		out["meta"] = meta
	}
	return out
}

// printDoc renders a document for the active output mode: compact through
// --json, indented otherwise.
func (e *Extension) printDoc(doc any) error {
	if cmd.JSON() {
		return cmd.PrintJSON(doc)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return cmd.PrintJSONError(err)
	}
	fmt.Fprintln(cmd.Out(), string(b))
	return nil
}
