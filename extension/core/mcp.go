// mcp.go implements the "fhird mcp" command for MCP server operation.
//
// Separated from serve.go because the two servers share nothing but the
// store: serve speaks FHIR REST over HTTP, mcp speaks the Model Context
// Protocol over stdio. Keeping them apart keeps each command's lifecycle
// simple.
//
// Design: MCP is a NoStoreCommand - the server opens the database itself so
// it can also run against an uninitialised directory and offer fhir_init as
// a tool. Stdout carries the protocol; all logging goes to stderr.

package core

import (
	"github.com/jpl-au/fhird/cmd"
	"github.com/jpl-au/fhird/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server",
		Long: `Start an MCP (Model Context Protocol) server over stdio for LLM integration.

Use --db to serve a specific database:
  fhird mcp --db test    # serve fhird-test.db`,
		RunE: runMCP,
	}
}

func runMCP(_ *cobra.Command, _ []string) error {
	return mcp.Serve(cmd.DB())
}
