// resources.go implements MCP resource handlers for direct resource access.
//
// MCP resources provide read-only access to stored resources via URI schemes,
// enabling LLM clients to reference them without using tools. This is useful
// for context loading where the LLM needs resource content but isn't
// performing an action.
//
// Design: Resource URIs follow the pattern fhir://{type}/{id}[/_history/{vid}],
// mirroring the REST read and vread paths. Version is optional; omitting it
// returns the current version.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	// ErrInvalidURI indicates a malformed resource URI, helping clients
	// debug URI construction issues.
	ErrInvalidURI = errors.New("invalid URI")
)

// readResourceContents reads a resource version and returns it as indented
// FHIR JSON resource contents.
func (h *handlers) readResourceContents(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	if h.svc == nil {
		return nil, errors.New(ErrNotInitialised)
	}

	typ, id, version, err := parseResourceURI(uri)
	if err != nil {
		return nil, err
	}

	var row *store.StoredResource
	if version > 0 {
		row, err = h.svc.VRead(ctx, typ, id, version)
	} else {
		row, err = h.svc.Read(ctx, typ, id)
	}
	if err != nil {
		return nil, err
	}

	res, err := row.Resource()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: mimeFHIRJSON,
			Text:     string(data),
		},
	}, nil
}

// parseResourceURI extracts type, id and version from a resource URI.
// Supports: fhir://{type}/{id} and fhir://{type}/{id}/_history/{vid}
func parseResourceURI(uri string) (typ, id string, version int64, err error) {
	const scheme = "fhir://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", 0, fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}

	parts := strings.Split(strings.TrimPrefix(uri, scheme), "/")
	switch len(parts) {
	case 2:
	case 4:
		if parts[2] != "_history" {
			return "", "", 0, fmt.Errorf("%w: %s", ErrInvalidURI, uri)
		}
		version, err = strconv.ParseInt(parts[3], 10, 64)
		if err != nil || version < 1 {
			return "", "", 0, fmt.Errorf("%w: invalid version %q", ErrInvalidURI, parts[3])
		}
	default:
		return "", "", 0, fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}

	if !fhir.ValidTypeName(parts[0]) || !fhir.ValidID(parts[1]) {
		return "", "", 0, fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	return parts[0], parts[1], version, nil
}
