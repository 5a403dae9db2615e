// vacuum.go implements the "fhird vacuum" command for permanent deletion.
//
// Separated from extension.go because vacuum is destructive and requires
// special handling including confirmation prompts and dry-run support.
//
// Design: Vacuum is a NoStoreCommand to support --dry-run mode which needs
// to work even when the database might be in an unusual state. It manages
// its own service lifecycle to ensure proper cleanup after potentially
// long-running operations.

package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/config"
	"github.com/jpl-au/fhird/internal/duration"
	"github.com/jpl-au/fhird/internal/resource"
	"github.com/spf13/cobra"
)

func newVacuumCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "vacuum",
		Short: "Permanently remove deleted resources",
		Long: `Permanently remove deleted resources and their version history.

Deleted resources are kept as tombstones so history and vread keep working.
Vacuum erases the whole version chain. This is irreversible. Use --force to
skip confirmation.

Duration formats: 720h, 7d (days), 4w (weeks), 3m (months)`,
		RunE: runVacuum,
	}
	c.Flags().String(extension.FlagOlderThan, "", "Only purge deletions older than duration (e.g., 7d, 4w, 3m)")
	c.Flags().StringP(extension.FlagType, "t", "", "Only purge resources of this type")
	c.Flags().BoolP(extension.FlagDryRun, "n", false, "Show what would be deleted")
	return c
}

func runVacuum(c *cobra.Command, _ []string) error {
	var ctx context.Context = c.Context()
	svc, err := resource.New(cmd.DB())
	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("open store: %w", err))
	}
	defer svc.Close()

	olderThanArg, _ := c.Flags().GetString(extension.FlagOlderThan)
	resourceType, _ := c.Flags().GetString(extension.FlagType)
	dryRun, _ := c.Flags().GetBool(extension.FlagDryRun)

	var olderThan *time.Duration
	if olderThanArg != "" {
		d, err := duration.Parse(olderThanArg)
		if err != nil {
			return cmd.PrintJSONError(fmt.Errorf("parse duration %q: %w", olderThanArg, err))
		}
		olderThan = &d
	}

	if dryRun {
		count, err := svc.VacuumEligible(ctx, olderThan, resourceType)

		audit.Event("core:vacuum", "vacuum").
			Actor(cmd.Actor()).
			Detail("type", resourceType).
			Detail("dry_run", true).
			Detail("count", count).
			Write(err)

		if err != nil {
			return cmd.PrintJSONError(fmt.Errorf("vacuum dry run: %w", err))
		}
		fmt.Fprintf(cmd.Out(), "Would vacuum %d resource(s)\n", count)
		return nil
	}

	if !cmd.Force() {
		fmt.Fprint(cmd.Out(), "Permanently remove deleted resources? This cannot be undone. [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return cmd.PrintJSONError(fmt.Errorf("reading confirmation: %w", err))
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(cmd.Out(), "Cancelled")
			return nil
		}
	}

	rows, err := svc.Vacuum(ctx, olderThan, resourceType)

	audit.Event("core:vacuum", "vacuum").
		Actor(cmd.Actor()).
		Detail("type", resourceType).
		Detail("rows", rows).
		Write(err)

	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("vacuum: %w", err))
	}
	fmt.Fprintf(cmd.Out(), "Vacuumed %d row(s)\n", rows)

	// Vacuum extension tables (extensions with custom tables implement Vacuumable)
	cfg, err := config.Load()
	if err != nil {
		return cmd.PrintJSONError(err)
	}
	extCtx := extension.NewContext(svc, svc.DB(), cfg)
	for _, ext := range extension.All() {
		if v, ok := ext.(extension.Vacuumable); ok {
			count, err := v.Vacuum(extCtx, olderThan)
			if err != nil {
				return cmd.PrintJSONError(fmt.Errorf("vacuum extension %s: %w", ext.Name(), err))
			}
			if count > 0 {
				fmt.Fprintf(cmd.Out(), "Vacuumed %d row(s) from %s\n", count, ext.Name())
			}
		}
	}

	return nil
}
