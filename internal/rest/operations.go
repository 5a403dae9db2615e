// operations.go serves search, transactions, and the extended operations:
// metadata, $everything, $validate, the $meta family, and $expand.

package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ops"
)

func (h *Handler) search(ctx context.Context, c *call, typ, rawQuery string) (*Response, error) {
	res, err := h.svc.Search(ctx, typ, rawQuery, h.strictFor(c.req))
	if err != nil {
		return nil, err
	}
	b, err := h.svc.Searchset(res, typ, rawQuery)
	if err != nil {
		return nil, err
	}
	doc, err := b.Encode()
	if err != nil {
		return nil, err
	}
	return docResponse(http.StatusOK, doc), nil
}

func (h *Handler) transaction(ctx context.Context, c *call) (*Response, error) {
	if len(c.req.Body) == 0 {
		return nil, fhir.Errorf(fhir.KindMalformed, "request body is empty")
	}
	b, err := fhir.DecodeBundle(c.req.Body)
	if err != nil {
		return nil, err
	}
	out, err := h.svc.Transaction(ctx, b)
	if err != nil {
		return nil, err
	}
	doc, err := out.Encode()
	if err != nil {
		return nil, err
	}
	return docResponse(http.StatusOK, doc), nil
}

func (h *Handler) metadata(c *call) (*Response, error) {
	doc, err := json.Marshal(h.svc.Capability())
	if err != nil {
		return nil, err
	}
	return docResponse(http.StatusOK, doc), nil
}

func (h *Handler) everything(ctx context.Context, c *call) (*Response, error) {
	if c.typ != "Patient" {
		return nil, fhir.Errorf(fhir.KindUnsupported, "$everything is defined on Patient, not %s", c.typ)
	}
	opts, err := everythingOptions(c.req.RawQuery)
	if err != nil {
		return nil, err
	}
	b, err := h.svc.Everything(ctx, c.id, opts)
	if err != nil {
		return nil, err
	}
	doc, err := b.Encode()
	if err != nil {
		return nil, err
	}
	return docResponse(http.StatusOK, doc), nil
}

// everythingOptions parses the compartment export controls.
func everythingOptions(rawQuery string) (ops.EverythingOptions, error) {
	var o ops.EverythingOptions
	vals, err := url.ParseQuery(rawQuery)
	if err != nil {
		return o, fhir.Errorf(fhir.KindMalformed, "invalid query string: %v", err)
	}

	if s := vals.Get("_since"); s != "" {
		d, err := fhir.ParseDate(s)
		if err != nil {
			return o, err
		}
		o.Since = d.Start()
	}
	if s := vals.Get("_type"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if err := checkType(t); err != nil {
				return o, err
			}
			o.Types = append(o.Types, t)
		}
	}
	if s := vals.Get("_count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return o, fhir.Errorf(fhir.KindMalformed, "invalid _count %q", s)
		}
		o.Count = n
	}
	if s := vals.Get("_offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return o, fhir.Errorf(fhir.KindMalformed, "invalid _offset %q", s)
		}
		o.Offset = n
	}
	return o, nil
}

// validate shape-checks the body without storing it. The outcome reports
// findings; the interaction itself succeeded, so the status is 200 either
// way.
func (h *Handler) validate(c *call, typ string) (*Response, error) {
	if len(c.req.Body) == 0 {
		return nil, fhir.Errorf(fhir.KindMalformed, "request body is empty")
	}
	return docResponse(http.StatusOK, h.svc.Validate(typ, c.req.Body).Encode()), nil
}

func (h *Handler) meta(ctx context.Context, c *call, typ, id string) (*Response, error) {
	res, err := h.svc.Meta(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	doc, err := res.Encode()
	if err != nil {
		return nil, err
	}
	return docResponse(http.StatusOK, doc), nil
}

// metaChange serves $meta-add and $meta-delete, which differ only in the
// service call they unwrap their Parameters input for.
func (h *Handler) metaChange(ctx context.Context, c *call, fn func(context.Context, string, string, map[string]any) (fhir.Resource, error)) (*Response, error) {
	res, err := decodeBody(c.req)
	if err != nil {
		return nil, err
	}
	meta, err := ops.MetaFromParameters(res)
	if err != nil {
		return nil, err
	}
	out, err := fn(ctx, c.typ, c.id, meta)
	if err != nil {
		return nil, err
	}
	doc, err := out.Encode()
	if err != nil {
		return nil, err
	}
	return docResponse(http.StatusOK, doc), nil
}

func (h *Handler) expand(ctx context.Context, c *call, id string) (*Response, error) {
	var canonical string
	if id == "" {
		vals, err := url.ParseQuery(c.req.RawQuery)
		if err != nil {
			return nil, fhir.Errorf(fhir.KindMalformed, "invalid query string: %v", err)
		}
		canonical = vals.Get("url")
		if canonical == "" {
			return nil, fhir.Errorf(fhir.KindMalformed, "$expand needs a ValueSet id in the path or a url parameter")
		}
	}
	res, err := h.svc.Expand(ctx, id, canonical)
	if err != nil {
		return nil, err
	}
	doc, err := res.Encode()
	if err != nil {
		return nil, err
	}
	return docResponse(http.StatusOK, doc), nil
}
