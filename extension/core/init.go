// init.go implements the "fhird init" command for store initialisation.
//
// Separated from extension.go to isolate init-specific logic. Init is special
// because it runs before a store exists and creates the initial database.
//
// Design: Init does NOT create config - that's managed separately via
// "fhird config". This follows git's model where init creates repository
// structure and config is separate. The --local flag controls whether the
// database is committed to git or gitignored.

package core

import (
	"fmt"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/repo"
	"github.com/jpl-au/fhird/internal/resource"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "init",
		Short: "Initialise a new FHIR store",
		Long: `Creates a .fhird/fhird.db database in the current directory.

Use --db to create additional databases:
  fhird init --db test    # creates .fhird/fhird-test.db

Use --dir to create in a different directory:
  fhird init --dir /path/to/project    # creates /path/to/project/.fhird/fhird.db

Use --local to exclude from git:
  fhird init --db scratch --local    # creates fhird-scratch.db, not committed

Note: init does not create config. Use "fhird config" to set up configuration.`,
		RunE: runInit,
	}
	c.Flags().BoolP(extension.FlagLocal, "l", false, "Mark database as local (gitignored)")
	return c
}

func runInit(c *cobra.Command, _ []string) error {
	local, _ := c.Flags().GetBool(extension.FlagLocal)
	db, dir := cmd.DB(), cmd.Dir()

	// Validate flag combinations.
	//
	// Why --local and --dir are incompatible: The --local flag adds the database
	// to the current project's .gitignore. When using --dir, you're creating a
	// database in an external directory - adding it to the current project's
	// gitignore makes no sense since the database isn't here. Users working with
	// external databases manage git exclusions in those projects directly.
	if local && dir != "" {
		return cmd.PrintJSONError(fmt.Errorf("cannot use --local with --dir: --local modifies the current project's .gitignore, but --dir creates the database elsewhere"))
	}

	err := resource.Init(cmd.Force(), db, local, dir)

	audit.Event("core:init", "init").
		Actor(cmd.Actor()).
		Detail("db", db).
		Detail("dir", dir).
		Detail("local", local).
		Write(err)

	if err != nil {
		return cmd.PrintJSONError(fmt.Errorf("init: %w", err))
	}

	dbFile := repo.DBFileName(db)
	loc := ".fhird/" + dbFile
	if dir != "" {
		loc = dir + "/.fhird/" + dbFile
	}
	fmt.Fprintf(cmd.Out(), "Initialised FHIR store in %s\n", loc)
	return nil
}
