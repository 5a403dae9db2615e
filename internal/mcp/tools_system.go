// tools_system.go implements MCP tools that operate on the store as a whole:
// bundle execution, the capability statement, and operational statistics.

package mcp

import (
	"context"
	"time"

	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/mark3labs/mcp-go/mcp"
)

// executeBundle handles fhir_transaction tool calls.
//
// Accepts both transaction and batch bundles; the bundle's own type decides
// the semantics. A failed transaction rolls back completely and the error
// names the entry that failed, which gives the LLM enough to repair the
// bundle and retry. Batch failures come back per entry inside the response
// bundle instead.
func (h *handlers) executeBundle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	doc, err := req.RequireString("bundle")
	if err != nil {
		return mcp.NewToolResultError("bundle is required"), nil
	}
	b, err := fhir.DecodeBundle([]byte(doc))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	actor := getString(req, "actor", "mcp")

	l := audit.Event("mcp:fhir_transaction", "transaction").Actor(actor).
		Detail("bundle_type", b.Type).
		Detail("entries", len(b.Entry))
	defer func() { l.Write(err) }()

	resp, err := h.svc.Transaction(ctx, b)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resp)
}

// capabilities handles fhir_capabilities tool calls.
//
// The CapabilityStatement is generated from the search parameter catalog, so
// it is the authoritative answer to "which parameters can I search on" -
// pointing an LLM here avoids trial-and-error search calls.
func (h *handlers) capabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}
	return jsonResult(h.svc.Capability())
}

// statsResult is the JSON shape returned by fhir_stats. Timestamps are
// rendered as instants rather than raw milliseconds for readability.
type statsResult struct {
	Resources     int64            `json:"resources"`
	Deleted       int64            `json:"deleted"`
	TotalVersions int64            `json:"total_versions"`
	ByType        map[string]int64 `json:"by_type,omitempty"`
	IndexRows     int64            `json:"index_rows"`
	Oldest        string           `json:"oldest,omitempty"`
	Newest        string           `json:"newest,omitempty"`
	SizeBytes     int64            `json:"size_bytes"`
}

// statsTool handles fhir_stats tool calls.
func (h *handlers) statsTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	st, err := h.svc.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := statsResult{
		Resources:     st.Resources,
		Deleted:       st.Deleted,
		TotalVersions: st.TotalVersions,
		ByType:        st.ByType,
		IndexRows:     st.IndexRows,
		SizeBytes:     st.SizeBytes,
	}
	if st.OldestMillis > 0 {
		out.Oldest = fhir.FormatInstant(time.UnixMilli(st.OldestMillis).UTC())
	}
	if st.NewestMillis > 0 {
		out.Newest = fhir.FormatInstant(time.UnixMilli(st.NewestMillis).UTC())
	}
	return jsonResult(out)
}
