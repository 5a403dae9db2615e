// write.go serves the write interactions: create, update, patch, delete,
// and their conditional forms.
//
// Status choice follows the stored outcome, not the request shape: an
// upsert that created reports 201 with a Location, a conditional create
// that matched an existing resource reports 200 and writes nothing.

package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/store"
)

func (h *Handler) create(ctx context.Context, c *call) (*Response, error) {
	res, err := decodeBody(c.req)
	if err != nil {
		return nil, err
	}
	if err := fhir.ValidateEnvelope(res, c.typ); err != nil {
		return nil, err
	}

	var wr *store.WriteResult
	if criteria := c.req.Header.Get("If-None-Exist"); criteria != "" {
		wr, err = h.svc.ConditionalCreate(ctx, res, criteria)
	} else {
		wr, err = h.svc.Create(ctx, res)
	}
	if err != nil {
		return nil, err
	}
	c.id = wr.ID
	return h.writeResponse(wr, parsePrefer(c.req.Header))
}

func (h *Handler) update(ctx context.Context, c *call) (*Response, error) {
	res, ifMatch, err := updateInputs(c.req)
	if err != nil {
		return nil, err
	}
	wr, err := h.svc.Update(ctx, c.typ, c.id, res, ifMatch)
	if err != nil {
		return nil, err
	}
	return h.writeResponse(wr, parsePrefer(c.req.Header))
}

func (h *Handler) conditionalUpdate(ctx context.Context, c *call) (*Response, error) {
	if c.req.RawQuery == "" {
		return nil, fhir.Errorf(fhir.KindMalformed, "update needs an id in the path or criteria in the query string")
	}
	res, ifMatch, err := updateInputs(c.req)
	if err != nil {
		return nil, err
	}
	wr, err := h.svc.ConditionalUpdate(ctx, c.typ, c.req.RawQuery, res, ifMatch)
	if err != nil {
		return nil, err
	}
	c.id = wr.ID
	return h.writeResponse(wr, parsePrefer(c.req.Header))
}

func (h *Handler) patch(ctx context.Context, c *call) (*Response, error) {
	if len(c.req.Body) == 0 {
		return nil, fhir.Errorf(fhir.KindMalformed, "request body is empty")
	}
	ifMatch, err := ifMatchVersion(c.req.Header)
	if err != nil {
		return nil, err
	}
	wr, err := h.svc.Patch(ctx, c.typ, c.id, c.req.Body, ifMatch)
	if err != nil {
		return nil, err
	}
	return h.writeResponse(wr, parsePrefer(c.req.Header))
}

func (h *Handler) delete(ctx context.Context, c *call) (*Response, error) {
	wr, err := h.svc.Delete(ctx, c.typ, c.id)
	if err != nil {
		return nil, err
	}
	resp := newResponse(http.StatusNoContent)
	resp.Header.Set("ETag", fhir.ETag(strconv.FormatInt(wr.VersionID, 10)))
	return resp, nil
}

func (h *Handler) conditionalDelete(ctx context.Context, c *call) (*Response, error) {
	if c.req.RawQuery == "" {
		return nil, fhir.Errorf(fhir.KindMalformed, "conditional delete needs criteria in the query string")
	}
	// Multi-delete stays an administrative operation; over REST the
	// criteria must select at most one resource.
	if _, err := h.svc.ConditionalDelete(ctx, c.typ, c.req.RawQuery, false); err != nil {
		return nil, err
	}
	return newResponse(http.StatusNoContent), nil
}

// updateInputs decodes the body and If-Match version shared by the two
// update forms.
func updateInputs(req *Request) (fhir.Resource, int64, error) {
	res, err := decodeBody(req)
	if err != nil {
		return nil, 0, err
	}
	ifMatch, err := ifMatchVersion(req.Header)
	if err != nil {
		return nil, 0, err
	}
	return res, ifMatch, nil
}

// writeResponse renders a completed write per the Prefer header. The default
// is the stored representation, which carries the server-stamped meta the
// client would otherwise have to read back.
func (h *Handler) writeResponse(wr *store.WriteResult, pref prefer) (*Response, error) {
	status := http.StatusOK
	if wr.Created {
		status = http.StatusCreated
	}
	resp := newResponse(status)
	versionHeaders(resp, wr.VersionID, fhir.FormatHTTPDate(wr.LastUpdated))
	if wr.Created {
		resp.Header.Set("Location", fmt.Sprintf("%s/%s/%s/_history/%d", h.base, wr.Type, wr.ID, wr.VersionID))
	}

	switch pref.ret {
	case "minimal":
	case "OperationOutcome":
		resp.Header.Set("Content-Type", ContentType)
		resp.Body = fhir.AllOK().Encode()
	default:
		if wr.Resource != nil {
			doc, err := wr.Resource.Encode()
			if err != nil {
				return nil, err
			}
			resp.Header.Set("Content-Type", ContentType)
			resp.Body = doc
		}
	}
	return resp, nil
}

func decodeBody(req *Request) (fhir.Resource, error) {
	if len(req.Body) == 0 {
		return nil, fhir.Errorf(fhir.KindMalformed, "request body is empty")
	}
	return fhir.Decode(req.Body)
}

// ifMatchVersion parses If-Match into the version it demands. Absent and
// the wildcard both mean unconditional; anything else must be a version
// ETag.
func ifMatchVersion(header http.Header) (int64, error) {
	raw := header.Get("If-Match")
	if raw == "" || raw == "*" {
		return 0, nil
	}
	v := fhir.ParseETag(raw)
	if v == "" {
		return 0, fhir.Errorf(fhir.KindMalformed, `invalid If-Match %q; expected W/"<versionId>"`, raw)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		return 0, fhir.Errorf(fhir.KindMalformed, `invalid If-Match version %q`, v)
	}
	return n, nil
}
