// tools_resources.go implements MCP tools for single-resource interactions.
//
// Separated from server.go to isolate the CRUD tool implementations and keep
// file sizes manageable. These tools mirror the REST interactions (read,
// create, update, patch, delete) but return structured JSON for LLM
// consumption rather than HTTP responses.
//
// Design principles:
//
//  1. Actor attribution: tools accept an actor parameter recorded in the
//     audit log, defaulting to "mcp". This distinguishes between different
//     LLM agents and human CLI usage, which matters when reviewing who
//     changed a record and why.
//
//  2. Error handling: errors return MCP tool error results rather than Go
//     errors. This ensures the LLM receives actionable feedback it can parse
//     and potentially retry, rather than causing the entire tool call to fail
//     at the protocol level.
//
//  3. Conditional forms: update and delete accept a search query in place of
//     an id, giving LLMs the conditional interactions without a separate tool
//     per form.

package mcp

import (
	"context"
	"fmt"

	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// writeSummary is the JSON shape returned by tools that write. It carries the
// server-assigned coordinates the LLM needs for follow-up calls (id for reads,
// version_id for if_match) without echoing the whole document back.
type writeSummary struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	VersionID   int64  `json:"version_id"`
	LastUpdated string `json:"last_updated"`
	Created     bool   `json:"created"`
	Noop        bool   `json:"noop,omitempty"`
}

func summarise(out *store.WriteResult) writeSummary {
	return writeSummary{
		Type:        out.Type,
		ID:          out.ID,
		VersionID:   out.VersionID,
		LastUpdated: fhir.FormatInstant(out.LastUpdated),
		Created:     out.Created,
		Noop:        out.Noop,
	}
}

// readResourceTool handles fhir_read tool calls.
//
// Reads the current version by default, or a specific version when the
// version parameter is set. Deleted resources report a gone error so the LLM
// can distinguish "never existed" from "was deleted"; the delete marker's
// predecessors remain readable via the version parameter.
func (h *handlers) readResourceTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	version := int64(getInt(req, "version", 0))
	actor := getString(req, "actor", "mcp")

	l := audit.Event("mcp:fhir_read", "read").Actor(actor).Resource(typ, id)
	defer func() { l.Write(err) }()

	var row *store.StoredResource
	if version > 0 {
		l.Version(version)
		row, err = h.svc.VRead(ctx, typ, id, version)
	} else {
		row, err = h.svc.Read(ctx, typ, id)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := row.Resource()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// createResource handles fhir_create tool calls.
//
// The resource type comes from the document itself; the server assigns the
// id. When if_none_exist is given the create is conditional: an existing
// match is returned unchanged (noop: true in the summary), several matches
// are a conflict.
func (h *handlers) createResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	doc, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	res, err := fhir.Decode([]byte(doc))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	criteria := getString(req, "if_none_exist", "")
	actor := getString(req, "actor", "mcp")

	l := audit.Event("mcp:fhir_create", "create").Actor(actor).Resource(res.Type(), "")
	defer func() { l.Write(err) }()

	var out *store.WriteResult
	if criteria != "" {
		l.Detail("if_none_exist", criteria)
		out, err = h.svc.ConditionalCreate(ctx, res, criteria)
	} else {
		out, err = h.svc.Create(ctx, res)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	l.Resource(out.Type, out.ID).Version(out.VersionID)
	return jsonResult(summarise(out))
}

// updateResource handles fhir_update tool calls.
//
// With an id this is a plain update (creating under that id when permitted
// by the update_creates setting). With a query instead it becomes a
// conditional update: no match creates, one match updates, several matches
// are a conflict. The optional if_match version guards against lost updates.
func (h *handlers) updateResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}
	doc, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	res, err := fhir.Decode([]byte(doc))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id := getString(req, "id", "")
	query := getString(req, "query", "")
	if id == "" && query == "" {
		return mcp.NewToolResultError("either 'id' or 'query' is required"), nil
	}
	ifMatch := int64(getInt(req, "if_match", 0))
	actor := getString(req, "actor", "mcp")

	l := audit.Event("mcp:fhir_update", "update").Actor(actor).Resource(typ, id)
	defer func() { l.Write(err) }()

	var out *store.WriteResult
	if query != "" {
		l.Detail("query", query)
		out, err = h.svc.ConditionalUpdate(ctx, typ, query, res, ifMatch)
	} else {
		out, err = h.svc.Update(ctx, typ, id, res, ifMatch)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	l.Resource(out.Type, out.ID).Version(out.VersionID)
	return jsonResult(summarise(out))
}

// patchResource handles fhir_patch tool calls.
//
// Applies an RFC 6902 JSON Patch to the current version and stores the
// result as a new version. Patches are often cheaper than full updates for
// an LLM: only the change travels, and a patch against text that has moved
// on fails instead of silently overwriting concurrent edits (pass if_match
// to make that guarantee explicit).
func (h *handlers) patchResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	patchDoc, err := req.RequireString("patch")
	if err != nil {
		return mcp.NewToolResultError("patch is required"), nil
	}
	ifMatch := int64(getInt(req, "if_match", 0))
	actor := getString(req, "actor", "mcp")

	l := audit.Event("mcp:fhir_patch", "patch").Actor(actor).Resource(typ, id)
	defer func() { l.Write(err) }()

	out, err := h.svc.Patch(ctx, typ, id, []byte(patchDoc), ifMatch)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	l.Version(out.VersionID)
	return jsonResult(summarise(out))
}

// deleteResource handles fhir_delete tool calls.
//
// Deletes are soft: a delete marker ends the version chain and history stays
// readable until vacuum. With a query instead of an id this is a conditional
// delete; zero matches succeed (the desired state already holds), several
// matches need multi set.
func (h *handlers) deleteResource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}
	id := getString(req, "id", "")
	query := getString(req, "query", "")
	if id == "" && query == "" {
		return mcp.NewToolResultError("either 'id' or 'query' is required"), nil
	}
	multi := getBool(req, "multi", false)
	actor := getString(req, "actor", "mcp")

	l := audit.Event("mcp:fhir_delete", "delete").Actor(actor).Resource(typ, id)
	defer func() { l.Write(err) }()

	// Conditional delete by criteria
	if query != "" {
		l.Detail("query", query).Detail("multi", multi)

		var n int64
		n, err = h.svc.ConditionalDelete(ctx, typ, query, multi)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		l.Detail("deleted", n)

		type deleteSummary struct {
			Deleted int64 `json:"deleted"`
		}
		return jsonResult(deleteSummary{Deleted: n})
	}

	var out *store.WriteResult
	out, err = h.svc.Delete(ctx, typ, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	l.Version(out.VersionID)

	if out.Noop {
		return mcp.NewToolResultText(fmt.Sprintf("%s/%s already deleted", typ, id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %s/%s (version %d)", typ, id, out.VersionID)), nil
}
