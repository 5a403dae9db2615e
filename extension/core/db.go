// db.go implements the "fhird db" command for database management.
//
// Separated from extension.go to isolate database maintenance and the
// local/shared status toggling via gitignore manipulation.
//
// Design: DB is a NoStoreCommand. The stats and checkpoint subcommands open
// their own service so they control the connection lifecycle; list, local
// and share manage gitignore entries without opening the databases at all,
// which allows managing databases that might be locked or corrupted.

package core

import (
	"fmt"
	"path/filepath"

	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/format"
	"github.com/jpl-au/fhird/internal/repo"
	"github.com/jpl-au/fhird/internal/resource"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance and management",
		Long: `Inspect and manage the store's databases.

  fhird db stats           # resource counts, version counts, size
  fhird db checkpoint      # flush the WAL into the main database file
  fhird db list            # list databases with local/shared status
  fhird db local [name]    # mark a database as local (gitignored)
  fhird db share [name]    # mark a database as shared (committed)

Local databases are not committed. Shared databases are. If no name is given
with local or share, operates on the default database.`,
	}
	c.AddCommand(
		newDBStatsCmd(),
		newDBCheckpointCmd(),
		newDBListCmd(),
		newDBLocalCmd(),
		newDBShareCmd(),
	)
	return c
}

func newDBStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(c *cobra.Command, _ []string) error {
			svc, err := resource.New(cmd.DB())
			if err != nil {
				return cmd.PrintJSONError(fmt.Errorf("open store: %w", err))
			}
			defer svc.Close()

			st, err := svc.Stats(c.Context())

			audit.Event("core:db", "stats").Actor(cmd.Actor()).Write(err)

			if err != nil {
				return cmd.PrintJSONError(fmt.Errorf("db stats: %w", err))
			}
			if cmd.JSON() {
				return cmd.PrintJSON(st)
			}
			return format.Stats(cmd.Out(), st)
		},
	}
}

func newDBCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Flush the WAL to the main database file",
		Long: `Flush the write-ahead log into the main database file and remove the
-wal and -shm sidecars. Useful before backing up or copying the database.`,
		RunE: func(c *cobra.Command, _ []string) error {
			svc, err := resource.New(cmd.DB())
			if err != nil {
				return cmd.PrintJSONError(fmt.Errorf("open store: %w", err))
			}
			defer svc.Close()

			err = svc.Checkpoint(c.Context())

			audit.Event("core:db", "checkpoint").Actor(cmd.Actor()).Write(err)

			if err != nil {
				return cmd.PrintJSONError(fmt.Errorf("db checkpoint: %w", err))
			}
			fmt.Fprintf(cmd.Out(), "Checkpointed %s\n", repo.DBFileName(cmd.DB()))
			return nil
		},
	}
}

func newDBListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List databases",
		RunE: func(_ *cobra.Command, _ []string) error {
			err := listDBs(fhirdDir())

			audit.Event("core:db", "list").
				Actor(cmd.Actor()).
				Detail("dir", cmd.Dir()).
				Write(err)

			if err != nil {
				return cmd.PrintJSONError(fmt.Errorf("db list: %w", err))
			}
			return nil
		},
	}
}

func newDBLocalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "local [name]",
		Short: "Mark a database as local (gitignored)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := dbName(args)
			err := repo.IgnoreDB(name, fhirdDir())

			audit.Event("core:db", "ignore").
				Actor(cmd.Actor()).
				Detail("db", name).
				Detail("dir", cmd.Dir()).
				Write(err)

			if err != nil {
				return cmd.PrintJSONError(fmt.Errorf("db local %q: %w", name, err))
			}
			fmt.Fprintf(cmd.Out(), "%s marked as local\n", repo.DBFileName(name))
			return nil
		},
	}
}

func newDBShareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share [name]",
		Short: "Mark a database as shared (committed)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := dbName(args)
			err := repo.UnignoreDB(name, fhirdDir())

			audit.Event("core:db", "unignore").
				Actor(cmd.Actor()).
				Detail("db", name).
				Detail("dir", cmd.Dir()).
				Write(err)

			if err != nil {
				return cmd.PrintJSONError(fmt.Errorf("db share %q: %w", name, err))
			}
			fmt.Fprintf(cmd.Out(), "%s marked as shared\n", repo.DBFileName(name))
			return nil
		},
	}
}

// fhirdDir converts the --dir flag to the .fhird subdirectory path.
//
// Why pass dir through: the db command manages gitignore entries in the
// .fhird directory. Without --dir it discovers the nearest .fhird directory
// by walking up from the current directory. With --dir it uses that path
// directly, which allows managing databases in external projects. The repo
// functions expect the .fhird directory path, not the project root.
func fhirdDir() string {
	if dir := cmd.Dir(); dir != "" {
		return filepath.Join(dir, repo.Dir)
	}
	return ""
}

// dbName extracts the optional database name argument.
// Empty string means the default database.
func dbName(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// listDBs displays all databases in the target directory with their status.
// Each database shows as "shared" (committed) or "local" (gitignored).
func listDBs(dir string) error {
	dbs, err := repo.ListDBs(dir)
	if err != nil {
		return fmt.Errorf("list databases: %w", err)
	}

	if len(dbs) == 0 {
		fmt.Fprintln(cmd.Out(), "No databases found")
		return nil
	}

	for _, db := range dbs {
		status := "shared"
		if db.Local {
			status = "local"
		}
		fmt.Fprintf(cmd.Out(), "%s  %s\n", db.File, status)
	}
	return nil
}
