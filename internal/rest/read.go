// read.go serves the read-side interactions: read, vread, and the three
// history scopes.

package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/store"
)

func (h *Handler) read(ctx context.Context, c *call) (*Response, error) {
	row, err := h.svc.Read(ctx, c.typ, c.id)
	if err != nil {
		return nil, err
	}

	// If-None-Match against the current version turns the read into a 304.
	if v := fhir.ParseETag(c.req.Header.Get("If-None-Match")); v != "" && v == strconv.FormatInt(row.VersionID, 10) {
		resp := newResponse(http.StatusNotModified)
		versionHeaders(resp, row.VersionID, fhir.FormatHTTPDate(row.Time()))
		return resp, nil
	}

	resp := docResponse(http.StatusOK, row.Doc)
	versionHeaders(resp, row.VersionID, fhir.FormatHTTPDate(row.Time()))
	return resp, nil
}

func (h *Handler) vread(ctx context.Context, c *call, vidSeg string) (*Response, error) {
	vid, err := strconv.ParseInt(vidSeg, 10, 64)
	if err != nil || vid < 1 {
		return nil, fhir.Errorf(fhir.KindMalformed, "invalid version id %q", vidSeg)
	}

	row, err := h.svc.VRead(ctx, c.typ, c.id, vid)
	if err != nil {
		return nil, err
	}
	if row.Deleted {
		return nil, fhir.Errorf(fhir.KindGone, "%s/%s version %d is a delete marker", c.typ, c.id, vid)
	}

	resp := docResponse(http.StatusOK, row.Doc)
	versionHeaders(resp, row.VersionID, fhir.FormatHTTPDate(row.Time()))
	return resp, nil
}

func (h *Handler) history(ctx context.Context, c *call, typ, id string) (*Response, error) {
	opts, err := historyOptions(c.req.RawQuery)
	if err != nil {
		return nil, err
	}

	page, err := h.svc.History(ctx, typ, id, opts)
	if err != nil {
		return nil, err
	}

	doc, err := h.svc.HistoryBundle(page, typ, id, c.req.RawQuery).Encode()
	if err != nil {
		return nil, err
	}
	return docResponse(http.StatusOK, doc), nil
}

// historyOptions parses the history controls: _count, _since, _at, and the
// _before paging cursor the bundle's next link carries.
func historyOptions(rawQuery string) (store.HistoryOptions, error) {
	var o store.HistoryOptions
	vals, err := url.ParseQuery(rawQuery)
	if err != nil {
		return o, fhir.Errorf(fhir.KindMalformed, "invalid query string: %v", err)
	}

	if s := vals.Get("_count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return o, fhir.Errorf(fhir.KindMalformed, "invalid _count %q", s)
		}
		o.Count = n
	}
	if s := vals.Get("_since"); s != "" {
		t, err := fhir.ParseInstant(s)
		if err != nil {
			return o, err
		}
		o.Since = t.UnixMilli()
	}
	if s := vals.Get("_at"); s != "" {
		// _at takes a date of any precision; the implied interval's end
		// bounds the versions included.
		d, err := fhir.ParseDate(s)
		if err != nil {
			return o, err
		}
		o.At = d.End().UnixMilli() - 1
	}
	if s := vals.Get("_before"); s != "" {
		seq, err := strconv.ParseInt(s, 10, 64)
		if err != nil || seq < 1 {
			return o, fhir.Errorf(fhir.KindMalformed, "invalid _before cursor %q", s)
		}
		o.BeforeSeq = seq
	}
	return o, nil
}
