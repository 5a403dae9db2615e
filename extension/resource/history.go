// history.go implements the "fhird history" command.
//
// Scope narrows with the argument: no argument is the whole store, a bare
// type is every resource of that type, and Type/id is one version chain.
// The same store call backs all three, matching the REST _history routes.

package resource

import (
	"fmt"
	"strings"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/format"
	"github.com/jpl-au/fhird/internal/store"
	"github.com/spf13/cobra"
)

func (e *Extension) newHistoryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "history [Type | Type/id]",
		Short: "Show version history",
		Long: `Show version history, newest first.

  fhird history                       # everything
  fhird history Patient               # one type
  fhird history Patient/p1            # one resource
  fhird history --since 2024-06-01    # changes after an instant`,
		Args: cobra.MaximumNArgs(1),
		RunE: e.runHistory,
	}
	c.Flags().IntP(extension.FlagCount, "n", 0, "Maximum entries to return")
	c.Flags().String(extension.FlagSince, "", "Only changes at or after this instant")
	c.Flags().String(extension.FlagAt, "", "Only changes at or before this instant")
	return c
}

func (e *Extension) runHistory(c *cobra.Command, args []string) error {
	ctx := c.Context()

	var typ, id string
	if len(args) == 1 {
		if strings.Contains(args[0], "/") {
			var err error
			if typ, id, err = parseRef(args[0]); err != nil {
				return cmd.PrintJSONError(err)
			}
		} else {
			typ = args[0]
			if !fhir.ValidTypeName(typ) {
				return cmd.PrintJSONError(fmt.Errorf("invalid resource type %q", typ))
			}
		}
	}

	opts := store.HistoryOptions{}
	opts.Count, _ = c.Flags().GetInt(extension.FlagCount)

	// Both flags take a date of any precision. --since bounds from the
	// interval's start, --at from its end, so "--at 2024-06" means
	// "as of the end of June".
	since, err := flagDate(c, extension.FlagSince)
	if err != nil {
		return cmd.PrintJSONError(err)
	}
	if since != nil {
		opts.Since = since.Start().UnixMilli()
	}
	at, err := flagDate(c, extension.FlagAt)
	if err != nil {
		return cmd.PrintJSONError(err)
	}
	if at != nil {
		opts.At = at.End().UnixMilli() - 1
	}

	l := audit.Event("resource:history", "history").Actor(cmd.Actor())
	if typ != "" {
		l.Resource(typ, id)
	}

	page, err := e.svc.History(ctx, typ, id, opts)
	l.Write(err)
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("history: %w", err))
	}

	if cmd.JSON() {
		return cmd.PrintJSON(e.svc.HistoryBundle(page, typ, id, ""))
	}
	if len(page.Entries) == 0 {
		fmt.Fprintln(cmd.Out(), "No history")
		return nil
	}
	if err := format.History(cmd.Out(), page.Entries); err != nil {
		return err
	}
	if page.HasMore {
		fmt.Fprintf(cmd.Out(), "Showing %d of %d (use -n to widen the page)\n",
			len(page.Entries), page.Total)
	}
	return nil
}

// flagDate reads a flag holding a FHIR date or instant of any precision.
// Nil means the flag was not set.
func flagDate(c *cobra.Command, flag string) (*fhir.Date, error) {
	s, _ := c.Flags().GetString(flag)
	if s == "" {
		return nil, nil
	}
	d, err := fhir.ParseDate(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &d, nil
}
