// Package resource provides the resource extension for FHIR CRUD operations.
// Registers commands: get, search, history, rm, revert, load, export, diff.
//
// These commands form the admin CLI over the service: everything the REST
// surface can do to a single resource is reachable from a shell. Each
// command file is separated to isolate its specific flag handling and
// output formatting logic.

package resource

import (
	"fmt"
	"strings"

	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/config"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/service"
	"github.com/spf13/cobra"
)

func init() {
	extension.Register(&Extension{})
}

// Extension implements the resource extension.
type Extension struct {
	svc service.Service
	cfg *config.Config
}

// Compile-time interface compliance. Catches missing methods at build time
// rather than runtime, making interface changes safer to refactor.
var (
	_ extension.Extension     = (*Extension)(nil)
	_ extension.Initializable = (*Extension)(nil)
)

// Name returns "resource" - this extension handles FHIR resource operations.
func (e *Extension) Name() string { return "resource" }

// Init connects to the shared service for resource operations.
func (e *Extension) Init(ctx extension.Context) error {
	e.svc = ctx.Service()
	e.cfg = ctx.Config()
	return nil
}

// Commands returns the FHIR resource manipulation commands.
func (e *Extension) Commands() []*cobra.Command {
	return []*cobra.Command{
		e.newGetCmd(),
		e.newSearchCmd(),
		e.newHistoryCmd(),
		e.newRmCmd(),
		e.newRevertCmd(),
		e.newLoadCmd(),
		e.newExportCmd(),
		e.newDiffCmd(),
	}
}

// MCPTools returns nil - resource MCP tools are provided by internal/mcp package.
func (e *Extension) MCPTools() []extension.MCPTool {
	return nil
}

// parseRef splits a "Type/id" argument and validates both halves.
func parseRef(arg string) (typ, id string, err error) {
	parts := strings.SplitN(arg, "/", 2)
	if len(parts) != 2 || !fhir.ValidTypeName(parts[0]) || !fhir.ValidID(parts[1]) {
		return "", "", fmt.Errorf("expected Type/id, got %q", arg)
	}
	return parts[0], parts[1], nil
}
