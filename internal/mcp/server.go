// Package mcp implements the Model Context Protocol server, exposing fhird
// operations to LLMs. This enables AI assistants to read, write, and search
// FHIR resources through a standardised protocol.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/config"
	"github.com/jpl-au/fhird/internal/repo"
	"github.com/jpl-au/fhird/internal/resource"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is advertised to clients for capability negotiation.
const Version = "1.0.0"

// ErrNotInitialised is returned by tools when the store has not been initialised.
// The LLM should call fhir_init to create a store before using other tools.
const ErrNotInitialised = "store not initialised - call fhir_init first"

// mimeFHIRJSON is the media type for FHIR JSON resource contents.
const mimeFHIRJSON = "application/fhir+json"

// Serve starts the MCP server over stdio, enabling LLM integration.
// Uses stdio transport for compatibility with Claude Desktop and other MCP clients.
//
// Design: The server starts successfully even if no store exists. This allows
// LLMs to call fhir_init to create a store, rather than failing with an opaque
// error. Tools that require a store return ErrNotInitialised with clear guidance.
func Serve(db string) error {
	// Log to stderr; stdout is reserved for MCP JSON-RPC messages
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	h := &handlers{db: db}

	// Try to open existing store; nil service is OK (uninitialised mode)
	svc, err := resource.New(db)
	if err != nil && !errors.Is(err, repo.ErrNotInitialised) {
		// Real error (not just uninitialised)
		slog.Error("failed to open store", "error", err)
		return err
	}
	if err == nil {
		h.svc = svc
		defer svc.Close()
		attachAudit(svc)
	} else {
		slog.Info("fhird not initialised, starting in uninitialised mode - call fhir_init to create store")
	}

	s := server.NewMCPServer(
		"fhird",
		Version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	registerResources(s, h)
	registerTools(s, h)

	slog.Info("fhird MCP server ready", "version", Version, "transport", "stdio")

	err = server.ServeStdio(s)
	if errors.Is(err, context.Canceled) {
		slog.Info("server stopped")
		return nil
	}
	return err
}

// handlers provides MCP request handlers with access to the resource store.
// The svc field may be nil if the store has not been initialised.
type handlers struct {
	db  string            // database name for init
	svc *resource.Service // nil if not initialised
}

// requireInit returns an error result if the store is not initialised.
// Tools that require a store should call this first.
func (h *handlers) requireInit() *mcp.CallToolResult {
	if h.svc == nil {
		return mcp.NewToolResultError(ErrNotInitialised)
	}
	return nil
}

// attachAudit binds the audit log to the opened store when enabled in config.
// Failure is logged, not fatal: an unavailable audit table should not stop
// the server from answering requests.
func attachAudit(svc *resource.Service) {
	cfg, err := config.Load()
	if err != nil || !cfg.AuditEnabled() {
		return
	}
	if err := audit.Attach(svc.DB(), svc.DBPath()); err != nil {
		slog.Warn("audit log unavailable", "error", err)
	}
}

// registerResources adds URI-based resource access for direct reads.
func registerResources(s *server.MCPServer, h *handlers) {
	// Current version by type and id
	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"fhir://{type}/{id}",
			"Resource",
			mcp.WithTemplateDescription("Read the current version of a FHIR resource"),
			mcp.WithTemplateMIMEType(mimeFHIRJSON),
		),
		h.readCurrentResource,
	)

	// Specific version by type, id and version number
	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"fhir://{type}/{id}/_history/{vid}",
			"Resource Version",
			mcp.WithTemplateDescription("Read a specific version of a FHIR resource"),
			mcp.WithTemplateMIMEType(mimeFHIRJSON),
		),
		h.readResourceVersion,
	)
}

// registerTools exposes fhird operations as MCP tools for LLM invocation.
func registerTools(s *server.MCPServer, h *handlers) {
	// Init - works without existing store
	s.AddTool(
		mcp.NewTool("fhir_init",
			mcp.WithDescription("Initialise a new fhird resource store. Call this first if other tools return 'store not initialised'."),
			mcp.WithBoolean("local", mcp.Description("If true, database is gitignored (not committed to version control)")),
		),
		h.initStore,
	)

	// Read
	s.AddTool(
		mcp.NewTool("fhir_read",
			mcp.WithDescription("Read the current version of a resource, or a specific historical version"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Resource type (e.g. Patient)")),
			mcp.WithString("id", mcp.Required(), mcp.Description("Logical id")),
			mcp.WithNumber("version", mcp.Description("Specific version to read (default: current)")),
		),
		h.readResourceTool,
	)

	// Search
	s.AddTool(
		mcp.NewTool("fhir_search",
			mcp.WithDescription("Search resources of one type; returns a searchset bundle"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Resource type to search")),
			mcp.WithString("query", mcp.Description("Search parameters in URL query form (e.g. family=smith&_count=10)")),
			mcp.WithBoolean("strict", mcp.Description("Reject unsupported parameters instead of ignoring them with a warning")),
		),
		h.searchResources,
	)

	// Create
	s.AddTool(
		mcp.NewTool("fhir_create",
			mcp.WithDescription("Create a resource under a server-assigned id"),
			mcp.WithString("resource", mcp.Required(), mcp.Description("Resource document as JSON")),
			mcp.WithString("if_none_exist", mcp.Description("Conditional create criteria (search query); returns the existing resource when one match exists")),
			mcp.WithString("actor", mcp.Description("Actor attribution for the audit log")),
		),
		h.createResource,
	)

	// Update
	s.AddTool(
		mcp.NewTool("fhir_update",
			mcp.WithDescription("Update a resource, or create it under a client-chosen id"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Resource type")),
			mcp.WithString("resource", mcp.Required(), mcp.Description("Resource document as JSON")),
			mcp.WithString("id", mcp.Description("Logical id (omit and pass query for a conditional update)")),
			mcp.WithString("query", mcp.Description("Conditional update criteria (search query)")),
			mcp.WithNumber("if_match", mcp.Description("Required current version; the update fails when the resource has moved on")),
			mcp.WithString("actor", mcp.Description("Actor attribution for the audit log")),
		),
		h.updateResource,
	)

	// Patch
	s.AddTool(
		mcp.NewTool("fhir_patch",
			mcp.WithDescription("Apply a JSON Patch document to a resource"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Resource type")),
			mcp.WithString("id", mcp.Required(), mcp.Description("Logical id")),
			mcp.WithString("patch", mcp.Required(), mcp.Description("JSON Patch operations array (RFC 6902)")),
			mcp.WithNumber("if_match", mcp.Description("Required current version")),
			mcp.WithString("actor", mcp.Description("Actor attribution for the audit log")),
		),
		h.patchResource,
	)

	// Delete
	s.AddTool(
		mcp.NewTool("fhir_delete",
			mcp.WithDescription("Soft delete a resource; history stays readable until vacuum"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Resource type")),
			mcp.WithString("id", mcp.Description("Logical id (omit and pass query for a conditional delete)")),
			mcp.WithString("query", mcp.Description("Conditional delete criteria (search query)")),
			mcp.WithBoolean("multi", mcp.Description("Allow a conditional delete to remove several matches")),
			mcp.WithString("actor", mcp.Description("Actor attribution for the audit log")),
		),
		h.deleteResource,
	)

	// History
	s.AddTool(
		mcp.NewTool("fhir_history",
			mcp.WithDescription("Version history, newest first: the whole system, one type, or one resource"),
			mcp.WithString("type", mcp.Description("Resource type (omit for system-wide history)")),
			mcp.WithString("id", mcp.Description("Logical id (requires type)")),
			mcp.WithNumber("count", mcp.Description("Maximum entries to return")),
			mcp.WithString("since", mcp.Description("Only entries at or after this instant (RFC 3339)")),
			mcp.WithString("at", mcp.Description("Only entries at or before this instant (RFC 3339)")),
		),
		h.historyResources,
	)

	// Transaction / batch
	s.AddTool(
		mcp.NewTool("fhir_transaction",
			mcp.WithDescription("Execute a transaction or batch bundle; returns the response bundle. Transactions are atomic, batch entries succeed or fail independently."),
			mcp.WithString("bundle", mcp.Required(), mcp.Description("Bundle document as JSON (type transaction or batch)")),
			mcp.WithString("actor", mcp.Description("Actor attribution for the audit log")),
		),
		h.executeBundle,
	)

	// Everything
	s.AddTool(
		mcp.NewTool("fhir_everything",
			mcp.WithDescription("Fetch a patient's compartment: the Patient plus every resource referring to it"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Patient logical id")),
			mcp.WithString("since", mcp.Description("Only resources changed at or after this instant (RFC 3339)")),
			mcp.WithString("types", mcp.Description("Comma-separated resource types to include")),
			mcp.WithNumber("count", mcp.Description("Page size")),
			mcp.WithNumber("offset", mcp.Description("Page offset")),
		),
		h.everythingPatient,
	)

	// Capabilities
	s.AddTool(
		mcp.NewTool("fhir_capabilities",
			mcp.WithDescription("The server's CapabilityStatement: resource types, interactions and search parameters"),
		),
		h.capabilities,
	)

	// Stats
	s.AddTool(
		mcp.NewTool("fhir_stats",
			mcp.WithDescription("Store statistics: resource counts per type, version rows, index rows, database size"),
		),
		h.statsTool,
	)
}

// readCurrentResource handles fhir://{type}/{id} resource requests.
func (h *handlers) readCurrentResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return h.readResourceContents(ctx, req.Params.URI)
}

// readResourceVersion handles fhir://{type}/{id}/_history/{vid} resource requests.
func (h *handlers) readResourceVersion(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return h.readResourceContents(ctx, req.Params.URI)
}
