// Package core provides the core extension for fhird.
// It registers commands: init, config, serve, mcp, guide, vacuum, db, version.
package core

import (
	"github.com/jpl-au/fhird/extension"
	"github.com/spf13/cobra"
)

func init() {
	extension.Register(&Extension{})
}

// Extension implements the core extension.
type Extension struct{}

// Compile-time interface compliance. Catches missing methods at build time
// rather than runtime, making interface changes safer to refactor.
var (
	_ extension.Extension = (*Extension)(nil)
	_ extension.Storeless = (*Extension)(nil)
)

// Name returns "core" - this extension provides fundamental fhird commands.
func (e *Extension) Name() string { return "core" }

// Commands returns all core CLI commands for store management.
func (e *Extension) Commands() []*cobra.Command {
	return []*cobra.Command{
		newInitCmd(),
		newConfigCmd(),
		newServeCmd(),
		newMCPCmd(),
		newGuideCmd(),
		newVacuumCmd(),
		newDBCmd(),
		newVersionCmd(),
	}
}

// MCPTools returns nil - core commands have no MCP tool equivalents.
// MCP tools are provided by the internal/mcp package.
func (e *Extension) MCPTools() []extension.MCPTool {
	return nil
}

// NoStoreCommands returns commands that manage their own service lifecycle.
// serve: long-running HTTP server controls when the database opens and closes.
// mcp: long-running stdio server with the same lifecycle needs.
// vacuum: must work with --dry-run without the shared service.
// db: stats and checkpoint open their own service; the rest touch gitignore only.
// version: displays build info, doesn't need a database connection.
func (e *Extension) NoStoreCommands() []string {
	return []string{"serve", "mcp", "vacuum", "db", "version"}
}
