// Package rest implements the FHIR REST surface over the resource service:
// URL routing, conditional headers, Prefer handling, status mapping, and
// OperationOutcome rendering.
//
// The package is transport-agnostic. A host (serve.go provides one over
// echo) converts its native request into a Request, calls Handle, and writes
// the Response back; all FHIR semantics live here, none in the host.
package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/service"
)

// ContentType is the JSON media type served and accepted. The engine is
// JSON-only; _format values naming anything else are rejected.
const ContentType = "application/fhir+json"

// Request is one parsed FHIR request: the path is relative to the service
// base URL, without a leading slash.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Response is what the transport writes back.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Handler routes FHIR requests onto a service.
type Handler struct {
	svc    service.Service
	base   string
	strict bool // default search handling; Prefer: handling= overrides per request
}

// New builds a handler. strict sets the default search parameter handling.
func New(svc service.Service, strict bool) *Handler {
	return &Handler{svc: svc, base: svc.BaseURL(), strict: strict}
}

// call carries one request through routing, collecting what the route
// learned about its target for the audit trail.
type call struct {
	req  *Request
	segs []string
	name string // interaction, set once the route resolves
	typ  string
	id   string
}

// Handle routes and executes one request, always producing a response.
// Errors become OperationOutcome bodies with the status their kind maps to.
func (h *Handler) Handle(ctx context.Context, req *Request) *Response {
	c := &call{req: req, segs: segments(req.Path)}
	resp, err := h.route(ctx, c)
	if err != nil {
		resp = outcomeResponse(err)
	}
	h.log(c, err)
	return resp
}

// log records the interaction. The actor comes through as an opaque header;
// auth itself happens before the core sees the request.
func (h *Handler) log(c *call, err error) {
	name := c.name
	if name == "" {
		name = "request"
	}
	b := audit.Event("rest:"+name, name)
	if actor := c.req.Header.Get("X-Actor"); actor != "" {
		b.Actor(actor)
	}
	if c.typ != "" {
		b.Resource(c.typ, c.id)
	}
	b.Write(err)
}

// segments splits a request path. "Patient/p1/_history" becomes three
// segments; the root path becomes none.
func segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// --- responses ---

func newResponse(status int) *Response {
	return &Response{Status: status, Header: http.Header{}}
}

// docResponse wraps an encoded resource body.
func docResponse(status int, doc []byte) *Response {
	resp := newResponse(status)
	resp.Header.Set("Content-Type", ContentType)
	resp.Body = doc
	return resp
}

// outcomeResponse renders an error as its OperationOutcome and status.
// Transient failures carry a retry hint per the backpressure contract.
func outcomeResponse(err error) *Response {
	out, status := fhir.OutcomeFromError(err)
	resp := docResponse(status, out.Encode())
	if status == http.StatusTooManyRequests {
		resp.Header.Set("Retry-After", "1")
	}
	return resp
}

// versionHeaders stamps ETag and Last-Modified for a stored version.
func versionHeaders(resp *Response, versionID int64, lastMod string) {
	resp.Header.Set("ETag", fhir.ETag(strconv.FormatInt(versionID, 10)))
	resp.Header.Set("Last-Modified", lastMod)
}

// --- Prefer ---

// prefer is the parsed Prefer header. Empty fields mean not requested.
type prefer struct {
	ret      string // minimal | representation | OperationOutcome
	handling string // strict | lenient
}

func parsePrefer(header http.Header) prefer {
	var p prefer
	for _, part := range strings.Split(header.Get("Prefer"), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "return":
			p.ret = v
		case "handling":
			p.handling = strings.ToLower(v)
		}
	}
	return p
}

// strictFor resolves the search handling for one request: the Prefer header
// when present, the configured default otherwise.
func (h *Handler) strictFor(req *Request) bool {
	switch parsePrefer(req.Header).handling {
	case "strict":
		return true
	case "lenient":
		return false
	}
	return h.strict
}

// checkFormat rejects _format values the engine cannot produce. The engine
// is JSON-only, so json spellings pass and everything else is unsupported.
func checkFormat(rawQuery string) error {
	vals, err := url.ParseQuery(rawQuery)
	if err != nil {
		return fhir.Errorf(fhir.KindMalformed, "invalid query string: %v", err)
	}
	switch f := vals.Get("_format"); f {
	case "", "json", "application/json", "application/fhir+json":
		return nil
	default:
		return fhir.Errorf(fhir.KindUnsupported, "_format %q is not supported; the server produces %s", f, ContentType)
	}
}
