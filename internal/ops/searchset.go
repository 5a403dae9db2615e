// searchset.go renders executed searches and history pages as bundles.

package ops

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/search"
	"github.com/jpl-au/fhird/internal/store"
)

const subsettedSystem = "http://terminology.hl7.org/CodeSystem/v3-ObservationValue"

// Searchset renders an executed search as a searchset bundle with absolute
// paging links. rawQuery is the query string the result came from; paging
// links swap its _offset for the engine's continuation tokens.
func (p *Processor) Searchset(res *search.Result, resourceType, rawQuery string) (*fhir.Bundle, error) {
	b := fhir.NewBundle(fhir.BundleTypeSearchset, fhir.FormatInstant(time.Now().UTC()))
	if res.Total != nil {
		b.SetTotal(int(*res.Total))
	}
	b.AddLink("self", p.pageURL(resourceType, rawQuery, ""))
	b.AddLink("first", p.pageURL(resourceType, dropParam(rawQuery, "_offset"), ""))
	if res.Next != "" {
		b.AddLink("next", p.pageURL(resourceType, rawQuery, res.Next))
	}
	if res.Prev != "" {
		b.AddLink("previous", p.pageURL(resourceType, rawQuery, res.Prev))
	}

	for _, h := range res.Matches {
		doc, err := filterElements(h.Doc, res.Elements)
		if err != nil {
			return nil, err
		}
		b.Entry = append(b.Entry, fhir.BundleEntry{
			FullURL:  p.base + "/" + h.Type + "/" + h.ID,
			Resource: doc,
			Search:   &fhir.BundleSearch{Mode: fhir.SearchModeMatch},
		})
	}
	for _, h := range res.Includes {
		b.Entry = append(b.Entry, fhir.BundleEntry{
			FullURL:  p.base + "/" + h.Type + "/" + h.ID,
			Resource: h.Doc,
			Search:   &fhir.BundleSearch{Mode: fhir.SearchModeInclude},
		})
	}
	if e := warningsEntry(res.Warnings); e != nil {
		b.Entry = append(b.Entry, *e)
	}
	return b, nil
}

// HistoryBundle renders one history page, synthesising the request line each
// version was produced by. resourceType and id narrow the self link to the
// instance, type, or system scope.
func (p *Processor) HistoryBundle(page *store.HistoryPage, resourceType, id, rawQuery string) *fhir.Bundle {
	b := fhir.NewBundle(fhir.BundleTypeHistory, fhir.FormatInstant(time.Now().UTC()))
	b.SetTotal(int(page.Total))

	self := p.base
	if resourceType != "" {
		self += "/" + resourceType
	}
	if id != "" {
		self += "/" + id
	}
	self += "/_history"
	if rawQuery != "" {
		b.AddLink("self", self+"?"+rawQuery)
	} else {
		b.AddLink("self", self)
	}
	if page.HasMore && len(page.Entries) > 0 {
		lastSeq := page.Entries[len(page.Entries)-1].Seq
		b.AddLink("next", self+"?"+setParam(rawQuery, "_before", strconv.FormatInt(lastSeq, 10)))
	}

	for i := range page.Entries {
		e := &page.Entries[i]
		entry := fhir.BundleEntry{
			FullURL: p.base + "/" + e.Type + "/" + e.ID,
			Request: &fhir.BundleRequest{
				Method: e.Op.Method(),
				URL:    e.Op.HistoryURL(e.Type, e.ID),
			},
			Response: &fhir.BundleResponse{
				Status:       historyStatus(e),
				Etag:         e.ETag(),
				LastModified: fhir.FormatInstant(e.Time()),
			},
		}
		if !e.Deleted {
			entry.Resource = e.Doc
		}
		b.Entry = append(b.Entry, entry)
	}
	return b
}

func historyStatus(e *store.StoredResource) string {
	switch e.Op {
	case fhir.OpCreate:
		return statusLine(201)
	case fhir.OpDelete:
		return statusLine(204)
	default:
		return statusLine(200)
	}
}

func (p *Processor) pageURL(resourceType, rawQuery, cursor string) string {
	q := rawQuery
	if cursor != "" {
		q = setParam(rawQuery, "_offset", cursor)
	}
	u := p.base + "/" + resourceType
	if q != "" {
		u += "?" + q
	}
	return u
}

// setParam replaces or appends one parameter in a raw query string without
// disturbing the rest. Values the engine produces are url-safe already.
func setParam(rawQuery, name, value string) string {
	parts := otherParams(rawQuery, name)
	parts = append(parts, name+"="+value)
	return strings.Join(parts, "&")
}

// dropParam removes one parameter from a raw query string.
func dropParam(rawQuery, name string) string {
	return strings.Join(otherParams(rawQuery, name), "&")
}

func otherParams(rawQuery, name string) []string {
	var parts []string
	if rawQuery != "" {
		for _, kv := range strings.Split(rawQuery, "&") {
			if k, _, _ := strings.Cut(kv, "="); k != name {
				parts = append(parts, kv)
			}
		}
	}
	return parts
}

// filterElements applies an _elements selection: the envelope fields stay,
// everything else outside the requested set goes, and the result is tagged
// SUBSETTED. Include resources are never filtered; only matches pass
// through here.
func filterElements(doc []byte, elements []string) (json.RawMessage, error) {
	if len(elements) == 0 {
		return doc, nil
	}
	res, err := fhir.Decode(doc)
	if err != nil {
		return nil, err
	}
	keep := map[string]bool{"resourceType": true, "id": true, "meta": true}
	for _, e := range elements {
		keep[e] = true
	}
	out := make(fhir.Resource, len(keep))
	for k, v := range res {
		if keep[k] {
			out[k] = v
		}
	}
	meta := out.Meta()
	tags, _ := meta["tag"].([]any)
	meta["tag"] = append(tags, map[string]any{"system": subsettedSystem, "code": "SUBSETTED"})
	return out.Encode()
}

// warningsEntry wraps lenient-mode diagnostics as the bundle's outcome
// entry, or nil when there are none.
func warningsEntry(warnings []string) *fhir.BundleEntry {
	if len(warnings) == 0 {
		return nil
	}
	o := fhir.NewOutcome(fhir.SeverityWarning, "informational", warnings[0])
	for _, w := range warnings[1:] {
		o.AddIssue(fhir.SeverityWarning, "informational", w)
	}
	return &fhir.BundleEntry{
		Resource: o.Encode(),
		Search:   &fhir.BundleSearch{Mode: fhir.SearchModeOutcome},
	}
}
