// route.go maps FHIR URL shapes onto interactions.
//
// Routing is positional: the number of path segments plus a few literal
// markers (_history, _search, $-operations) identify the interaction, and
// the HTTP method selects within it. Anything that does not resolve is a
// malformed request, not a transport-level 405; the status list the engine
// promises has no method-specific codes.

package rest

import (
	"context"
	"net/http"

	"github.com/jpl-au/fhird/internal/fhir"
)

func (h *Handler) route(ctx context.Context, c *call) (*Response, error) {
	if err := checkFormat(c.req.RawQuery); err != nil {
		return nil, err
	}

	segs := c.segs
	switch len(segs) {
	case 0:
		return h.routeRoot(ctx, c)
	case 1:
		return h.routeOne(ctx, c, segs[0])
	case 2:
		return h.routeTwo(ctx, c, segs[0], segs[1])
	case 3:
		return h.routeThree(ctx, c, segs[0], segs[1], segs[2])
	case 4:
		if segs[2] == "_history" && c.req.Method == http.MethodGet {
			c.target(segs[0], segs[1])
			return h.vread(ctx, c, segs[3])
		}
	}
	return nil, fhir.Errorf(fhir.KindMalformed, "cannot route %s /%s", c.req.Method, c.req.Path)
}

func (h *Handler) routeRoot(ctx context.Context, c *call) (*Response, error) {
	if c.req.Method == http.MethodPost {
		c.name = "transaction"
		return h.transaction(ctx, c)
	}
	return nil, fhir.Errorf(fhir.KindMalformed, "the server root accepts POST with a transaction or batch bundle")
}

func (h *Handler) routeOne(ctx context.Context, c *call, seg string) (*Response, error) {
	get := c.req.Method == http.MethodGet

	switch seg {
	case "metadata":
		if get {
			c.name = "capabilities"
			return h.metadata(c)
		}
	case "_history":
		if get {
			c.name = "history-system"
			return h.history(ctx, c, "", "")
		}
	case "$meta":
		if get {
			c.name = "meta"
			return h.meta(ctx, c, "", "")
		}
	default:
		if err := checkType(seg); err != nil {
			return nil, err
		}
		c.target(seg, "")
		switch c.req.Method {
		case http.MethodGet:
			c.name = "search"
			return h.search(ctx, c, seg, c.req.RawQuery)
		case http.MethodPost:
			c.name = "create"
			return h.create(ctx, c)
		case http.MethodPut:
			c.name = "update-conditional"
			return h.conditionalUpdate(ctx, c)
		case http.MethodDelete:
			c.name = "delete-conditional"
			return h.conditionalDelete(ctx, c)
		}
	}
	return nil, fhir.Errorf(fhir.KindMalformed, "cannot route %s /%s", c.req.Method, c.req.Path)
}

func (h *Handler) routeTwo(ctx context.Context, c *call, typ, seg string) (*Response, error) {
	if err := checkType(typ); err != nil {
		return nil, err
	}

	switch seg {
	case "_search":
		if c.req.Method == http.MethodPost {
			c.target(typ, "")
			c.name = "search"
			return h.search(ctx, c, typ, mergedQuery(c.req))
		}
	case "_history":
		if c.req.Method == http.MethodGet {
			c.target(typ, "")
			c.name = "history-type"
			return h.history(ctx, c, typ, "")
		}
	case "$validate":
		if c.req.Method == http.MethodPost {
			c.target(typ, "")
			c.name = "validate"
			return h.validate(c, typ)
		}
	case "$meta":
		if c.req.Method == http.MethodGet {
			c.target(typ, "")
			c.name = "meta"
			return h.meta(ctx, c, typ, "")
		}
	case "$expand":
		if c.req.Method == http.MethodGet && typ == "ValueSet" {
			c.target(typ, "")
			c.name = "expand"
			return h.expand(ctx, c, "")
		}
	default:
		if err := checkID(seg); err != nil {
			return nil, err
		}
		c.target(typ, seg)
		switch c.req.Method {
		case http.MethodGet:
			c.name = "read"
			return h.read(ctx, c)
		case http.MethodPut:
			c.name = "update"
			return h.update(ctx, c)
		case http.MethodPatch:
			c.name = "patch"
			return h.patch(ctx, c)
		case http.MethodDelete:
			c.name = "delete"
			return h.delete(ctx, c)
		}
	}
	return nil, fhir.Errorf(fhir.KindMalformed, "cannot route %s /%s", c.req.Method, c.req.Path)
}

func (h *Handler) routeThree(ctx context.Context, c *call, typ, id, seg string) (*Response, error) {
	if err := checkType(typ); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	c.target(typ, id)
	get := c.req.Method == http.MethodGet

	switch seg {
	case "_history":
		if get {
			c.name = "history-instance"
			return h.history(ctx, c, typ, id)
		}
	case "$everything":
		if get {
			c.name = "everything"
			return h.everything(ctx, c)
		}
	case "$meta":
		if get {
			c.name = "meta"
			return h.meta(ctx, c, typ, id)
		}
	case "$meta-add":
		if c.req.Method == http.MethodPost {
			c.name = "meta-add"
			return h.metaChange(ctx, c, h.svc.MetaAdd)
		}
	case "$meta-delete":
		if c.req.Method == http.MethodPost {
			c.name = "meta-delete"
			return h.metaChange(ctx, c, h.svc.MetaDelete)
		}
	case "$expand":
		if get && typ == "ValueSet" {
			c.name = "expand"
			return h.expand(ctx, c, id)
		}
	case "$validate":
		if c.req.Method == http.MethodPost {
			c.name = "validate"
			return h.validate(c, typ)
		}
	}
	return nil, fhir.Errorf(fhir.KindMalformed, "cannot route %s /%s", c.req.Method, c.req.Path)
}

func (c *call) target(typ, id string) {
	c.typ, c.id = typ, id
}

func checkType(typ string) error {
	if !fhir.ValidTypeName(typ) {
		return fhir.Errorf(fhir.KindMalformed, "invalid resource type %q", typ)
	}
	return nil
}

func checkID(id string) error {
	if !fhir.ValidID(id) {
		return fhir.Errorf(fhir.KindMalformed, "invalid resource id %q", id)
	}
	return nil
}

// mergedQuery combines the URL query with a form-encoded POST body, the two
// places POST _search parameters may arrive.
func mergedQuery(req *Request) string {
	body := string(req.Body)
	switch {
	case body == "":
		return req.RawQuery
	case req.RawQuery == "":
		return body
	default:
		return req.RawQuery + "&" + body
	}
}
