// tools_search.go implements MCP tools for search, history and the patient
// compartment.
//
// Separated from tools_resources.go because these operations have different
// semantics - they return bundles of resources rather than a single document,
// and they accept the same query language the REST surface does.
//
// Design: Results are returned as FHIR bundles (searchset or history) rather
// than bare arrays. The bundle shape carries the information an LLM needs to
// iterate: match vs include mode, total counts, and per-entry version tags.

package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ops"
	"github.com/jpl-au/fhird/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// searchResources handles fhir_search tool calls.
//
// The query parameter takes the same URL query form the REST surface accepts,
// including modifiers, prefixes, chains and _include. Strictness defaults to
// the store's configured value; the strict parameter overrides it per call,
// which lets an LLM probe whether a parameter is supported without changing
// server config.
func (h *handlers) searchResources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}
	query := getString(req, "query", "")
	strict := getBool(req, "strict", h.svc.Strict())
	actor := getString(req, "actor", "mcp")

	l := audit.Event("mcp:fhir_search", "search").Actor(actor).Resource(typ, "").Detail("query", query)
	defer func() { l.Write(err) }()

	res, err := h.svc.Search(ctx, typ, query, strict)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	l.Detail("matches", len(res.Matches))

	b, err := h.svc.Searchset(res, typ, query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(b)
}

// historyResources handles fhir_history tool calls.
//
// Scope narrows with the arguments: no type for the whole system, type alone
// for one resource type, type and id for a single resource. Entries come back
// newest first inside a history bundle whose entries record the operation
// that produced each version.
func (h *handlers) historyResources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	typ := getString(req, "type", "")
	id := getString(req, "id", "")
	if id != "" && typ == "" {
		return mcp.NewToolResultError("id requires type"), nil
	}

	opts := store.HistoryOptions{Count: getInt(req, "count", 0)}
	if s := getString(req, "since", ""); s != "" {
		t, perr := fhir.ParseInstant(s)
		if perr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since %q: %v", s, perr)), nil
		}
		opts.Since = t.UnixMilli()
	}
	if s := getString(req, "at", ""); s != "" {
		t, perr := fhir.ParseInstant(s)
		if perr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid at %q: %v", s, perr)), nil
		}
		opts.At = t.UnixMilli()
	}
	actor := getString(req, "actor", "mcp")

	var err error
	l := audit.Event("mcp:fhir_history", "history").Actor(actor).Resource(typ, id)
	defer func() { l.Write(err) }()

	page, err := h.svc.History(ctx, typ, id, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	l.Detail("entries", len(page.Entries))

	return jsonResult(h.svc.HistoryBundle(page, typ, id, ""))
}

// everythingPatient handles fhir_everything tool calls.
//
// Returns one page of the patient compartment: the Patient itself, every
// resource referring to it through a compartment parameter, and the resources
// those refer to one hop out. The since filter applies to the members, never
// to the Patient, so the anchor of the compartment is always present.
func (h *handlers) everythingPatient(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if result := h.requireInit(); result != nil {
		return result, nil
	}

	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}

	opts := ops.EverythingOptions{
		Count:  getInt(req, "count", 0),
		Offset: getInt(req, "offset", 0),
	}
	if s := getString(req, "since", ""); s != "" {
		t, perr := fhir.ParseInstant(s)
		if perr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since %q: %v", s, perr)), nil
		}
		opts.Since = t
	}
	if s := getString(req, "types", ""); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				opts.Types = append(opts.Types, t)
			}
		}
	}
	actor := getString(req, "actor", "mcp")

	l := audit.Event("mcp:fhir_everything", "everything").Actor(actor).Resource("Patient", id)
	defer func() { l.Write(err) }()

	b, err := h.svc.Everything(ctx, id, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	l.Detail("entries", len(b.Entry))

	return jsonResult(b)
}
