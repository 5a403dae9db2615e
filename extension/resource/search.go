// search.go implements the "fhird search" command.
//
// Design: the command is a thin shell over the same search engine the REST
// API uses. Arguments after the type are joined into a query string and fed
// to the shared parser, so every modifier, prefix and control parameter
// behaves identically in both places; the only difference is shell quoting.

package resource

import (
	"fmt"
	"os"
	"strings"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/format"
	"github.com/spf13/cobra"
)

func (e *Extension) newSearchCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "search <Type> [param=value ...]",
		Short: "Search resources of one type",
		Long: `Search resources using FHIR search parameters.

Each argument after the type is one param=value pair, written exactly as it
would appear in a REST query string:

  fhird search Patient name=smith
  fhird search Observation 'date=ge2024-01-01' 'code=http://loinc.org|8867-4'
  fhird search Patient '_has:Observation:patient:code=8867-4'`,
		Args: cobra.MinimumNArgs(1),
		RunE: e.runSearch,
	}
	c.Flags().String(extension.FlagSort, "", "Sort order (shorthand for _sort=)")
	c.Flags().IntP(extension.FlagCount, "n", 0, "Page size (shorthand for _count=)")
	return c
}

func (e *Extension) runSearch(c *cobra.Command, args []string) error {
	ctx := c.Context()
	typ := args[0]
	params := args[1:]

	// Flag shorthands append after the positional params, so an explicit
	// _sort/_count argument wins under the engine's first-value rule.
	if sortBy, _ := c.Flags().GetString(extension.FlagSort); sortBy != "" {
		params = append(params, "_sort="+sortBy)
	}
	if count, _ := c.Flags().GetInt(extension.FlagCount); count > 0 {
		params = append(params, fmt.Sprintf("_count=%d", count))
	}
	rawQuery := strings.Join(params, "&")

	l := audit.Event("resource:search", "search").Actor(cmd.Actor()).
		Detail("type", typ).
		Detail("query", rawQuery)

	res, err := e.svc.Search(ctx, typ, rawQuery, e.cfg.StrictSearch())
	if err != nil {
		l.Write(err)
		return cmd.PrintJSONError(fmt.Errorf("search %s: %w", typ, err))
	}
	l.Detail("matches", len(res.Matches)).Write(nil)

	if cmd.JSON() {
		bundle, err := e.svc.Searchset(res, typ, rawQuery)
		if err != nil {
			return cmd.PrintJSONError(err)
		}
		return cmd.PrintJSON(bundle)
	}

	for _, warn := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warn)
	}
	if res.CountOnly {
		var n int64
		if res.Total != nil {
			n = *res.Total
		}
		fmt.Fprintf(cmd.Out(), "%d match(es)\n", n)
		return nil
	}
	if len(res.Matches) == 0 {
		fmt.Fprintln(cmd.Out(), "No matches")
		return nil
	}
	if err := format.Resources(cmd.Out(), res.Matches); err != nil {
		return err
	}
	if len(res.Includes) > 0 {
		fmt.Fprintf(cmd.Out(), "+ %d included resource(s)\n", len(res.Includes))
	}
	if res.Total != nil && *res.Total > int64(len(res.Matches)) {
		fmt.Fprintf(cmd.Out(), "Showing %d of %d (use -n to widen the page)\n",
			len(res.Matches), *res.Total)
	}
	return nil
}
