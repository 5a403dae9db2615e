// Package ops is the operation layer: transaction and batch processing, the
// patient compartment export, and the extended operations, composed from the
// store and the search engine.
//
// Transactions are the involved part. Entry urls and bodies are validated
// and decoded up front, ids are assigned before anything executes so URN
// references between entries can be rewritten in the documents themselves,
// and every write runs through the store's caller-managed transaction
// variants under one set of sorted row locks. Stored documents therefore
// never contain a placeholder reference.
package ops

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/search"
	"github.com/jpl-au/fhird/internal/store"
)

// Options bounds the operation layer.
type Options struct {
	// DefaultCount is the $everything page size when the request has no
	// _count.
	DefaultCount int

	// MaxCount caps _count on $everything pages.
	MaxCount int

	// TypeCap bounds compartment members and referenced resources fetched
	// per type during $everything.
	TypeCap int

	// Notify, when set, is called once per committed write. Transaction
	// entries report after the whole bundle commits; batch entries report
	// as each one lands. Reads, searches and no-op conditionals stay
	// silent.
	Notify func(Change)
}

// Change describes one committed write, reported through Options.Notify.
type Change struct {
	Type      string
	ID        string
	VersionID int64
	Op        fhir.Op
}

func (o Options) withDefaults() Options {
	if o.DefaultCount <= 0 {
		o.DefaultCount = search.DefaultCount
	}
	if o.MaxCount <= 0 {
		o.MaxCount = search.DefaultMaxCount
	}
	if o.TypeCap <= 0 {
		o.TypeCap = search.DefaultTypeCap
	}
	return o
}

// Processor executes bundles and operations. Safe for concurrent use.
type Processor struct {
	st   store.Store
	eng  *search.Engine
	cat  *catalog.Catalog
	base string
	opts Options
}

// New builds a processor over the store and the search engine it already
// shares a database with.
func New(st store.Store, eng *search.Engine, opts Options) *Processor {
	return &Processor{
		st:   st,
		eng:  eng,
		cat:  st.Catalog(),
		base: strings.TrimSuffix(st.BaseURL(), "/"),
		opts: opts.withDefaults(),
	}
}

// Entry actions, in canonical transaction processing order.
const (
	actDelete = iota
	actCreate
	actUpdate // also patch
	actRead   // also vread and search
)

// entryPlan is one validated bundle entry, decoded and classified before
// anything executes.
type entryPlan struct {
	idx    int
	method string
	action int

	typ   string
	id    string
	vid   int64  // vread target
	query string // conditional criteria or search query

	res      fhir.Resource
	patchDoc []byte

	urn         string // fullUrl when it is a URN
	ifMatch     int64
	ifNoneExist string

	// Resolution state, filled in before execution.
	allowCreate bool // conditional update may create
	matched     bool // If-None-Exist found an existing resource
	noop        bool // conditional delete with zero matches
	isSearch    bool
	isVRead     bool
}

// conditional reports whether the entry's target comes from criteria rather
// than the url, which requires a type-level lock during resolution.
func (e *entryPlan) conditional() bool {
	if e.ifNoneExist != "" {
		return true
	}
	return e.id == "" && e.query != "" && (e.action == actDelete || e.action == actUpdate)
}

// plan validates every entry and decodes the bodies. Errors carry the entry
// position so diagnostics in the rejected response point at the input.
func (p *Processor) plan(b *fhir.Bundle) ([]*entryPlan, error) {
	if len(b.Entry) == 0 {
		return nil, fhir.Errorf(fhir.KindMalformed, "bundle has no entries")
	}
	plans := make([]*entryPlan, 0, len(b.Entry))
	for i := range b.Entry {
		pl, err := p.planEntry(i, &b.Entry[i])
		if err != nil {
			return nil, entryErr(i, err)
		}
		plans = append(plans, pl)
	}
	return plans, nil
}

func (p *Processor) planEntry(i int, e *fhir.BundleEntry) (*entryPlan, error) {
	if e.Request == nil {
		return nil, fhir.Errorf(fhir.KindMalformed, "entry has no request")
	}
	pl := &entryPlan{idx: i, method: strings.ToUpper(e.Request.Method)}
	if fhir.IsURN(e.FullURL) {
		pl.urn = e.FullURL
	}
	if e.Request.IfMatch != "" {
		v := fhir.ParseETag(e.Request.IfMatch)
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fhir.Errorf(fhir.KindMalformed, "unparseable If-Match %q", e.Request.IfMatch)
		}
		pl.ifMatch = n
	}
	pl.ifNoneExist = e.Request.IfNoneExist

	path, query, _ := strings.Cut(e.Request.URL, "?")
	segs := strings.Split(strings.Trim(path, "/"), "/")
	pl.query = query

	switch pl.method {
	case "POST":
		pl.action = actCreate
		if len(segs) != 1 || !p.cat.Supports(segs[0]) {
			return nil, fhir.Errorf(fhir.KindUnsupported, "cannot POST to %q", e.Request.URL)
		}
		pl.typ = segs[0]
		if err := p.decodeBody(pl, e, false); err != nil {
			return nil, err
		}

	case "PUT":
		pl.action = actUpdate
		if err := p.splitTarget(pl, segs, e.Request.URL); err != nil {
			return nil, err
		}
		if err := p.decodeBody(pl, e, false); err != nil {
			return nil, err
		}

	case "PATCH":
		pl.action = actUpdate
		if err := p.splitTarget(pl, segs, e.Request.URL); err != nil {
			return nil, err
		}
		if err := p.decodeBody(pl, e, true); err != nil {
			return nil, err
		}

	case "DELETE":
		pl.action = actDelete
		if err := p.splitTarget(pl, segs, e.Request.URL); err != nil {
			return nil, err
		}

	case "GET":
		pl.action = actRead
		switch {
		case len(segs) == 1 && p.cat.Supports(segs[0]):
			pl.typ = segs[0]
			pl.isSearch = true
		case len(segs) == 2 && p.cat.Supports(segs[0]) && fhir.ValidID(segs[1]):
			pl.typ, pl.id = segs[0], segs[1]
		case len(segs) == 4 && segs[2] == "_history" && p.cat.Supports(segs[0]) && fhir.ValidID(segs[1]):
			v, err := strconv.ParseInt(segs[3], 10, 64)
			if err != nil || v <= 0 {
				return nil, fhir.Errorf(fhir.KindMalformed, "invalid version %q", segs[3])
			}
			pl.typ, pl.id, pl.vid = segs[0], segs[1], v
			pl.isVRead = true
		default:
			return nil, fhir.Errorf(fhir.KindUnsupported, "cannot GET %q inside a bundle", e.Request.URL)
		}

	default:
		return nil, fhir.Errorf(fhir.KindMalformed, "unsupported method %q", e.Request.Method)
	}
	return pl, nil
}

// splitTarget classifies Type/id against conditional Type?criteria urls.
func (p *Processor) splitTarget(pl *entryPlan, segs []string, rawURL string) error {
	switch {
	case len(segs) == 2 && p.cat.Supports(segs[0]) && fhir.ValidID(segs[1]):
		pl.typ, pl.id = segs[0], segs[1]
		return nil
	case len(segs) == 1 && p.cat.Supports(segs[0]) && pl.query != "":
		pl.typ = segs[0]
		return nil
	}
	return fhir.Errorf(fhir.KindUnsupported, "cannot %s %q", pl.method, rawURL)
}

// decodeBody decodes the entry resource. PATCH entries carry a JSON Patch
// document: either the bare array, or a Binary resource wrapping it.
func (p *Processor) decodeBody(pl *entryPlan, e *fhir.BundleEntry, asPatch bool) error {
	if len(e.Resource) == 0 {
		return fhir.Errorf(fhir.KindMalformed, "%s entry has no resource", pl.method)
	}
	if asPatch {
		body := bytesTrimLeft(e.Resource)
		if len(body) > 0 && body[0] == '[' {
			pl.patchDoc = e.Resource
			return nil
		}
		res, err := fhir.Decode(e.Resource)
		if err != nil {
			return err
		}
		if res.Type() != "Binary" {
			return fhir.Errorf(fhir.KindMalformed, "PATCH entry must carry a JSON Patch array or a Binary holding one")
		}
		doc, err := decodeBinaryPatch(res)
		if err != nil {
			return err
		}
		pl.patchDoc = doc
		return nil
	}

	res, err := fhir.Decode(e.Resource)
	if err != nil {
		return err
	}
	if pl.typ != "" && res.Type() != pl.typ {
		return fhir.Errorf(fhir.KindMalformed, "body resourceType %q does not match url %q", res.Type(), pl.typ).At("resourceType")
	}
	if pl.id != "" {
		if rid := res.ID(); rid != "" && rid != pl.id {
			return fhir.Errorf(fhir.KindMalformed, "body id %q does not match url id %q", rid, pl.id).At("id")
		}
	}
	pl.res = res
	return nil
}

// assignIDs gives every POST entry its id before execution and returns the
// URN map other entries' references are rewritten through. PUT targets map
// their URN fullUrls too, so a transaction can reference an entry it
// updates. Conditional entries join the map once resolution names their
// target.
func assignIDs(plans []*entryPlan) map[string]string {
	urns := make(map[string]string)
	for _, pl := range plans {
		if pl.action == actCreate {
			pl.id = store.NewID()
		}
		if pl.urn != "" && pl.id != "" && (pl.action == actCreate || pl.action == actUpdate) {
			urns[pl.urn] = pl.typ + "/" + pl.id
		}
	}
	return urns
}

// rewriteRefs replaces URN reference values with their assigned Type/id
// form, wherever a reference field occurs in the document.
func rewriteRefs(v any, urns map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if k == "reference" {
				if s, ok := child.(string); ok {
					if target, ok := urns[s]; ok {
						t[k] = target
						continue
					}
				}
			}
			rewriteRefs(child, urns)
		}
	case []any:
		for _, c := range t {
			rewriteRefs(c, urns)
		}
	}
}

// ordered returns the plans in canonical processing order: DELETE, POST,
// PUT/PATCH, GET, preserving input order within each group.
func ordered(plans []*entryPlan) []*entryPlan {
	out := make([]*entryPlan, len(plans))
	copy(out, plans)
	sort.SliceStable(out, func(i, j int) bool { return out[i].action < out[j].action })
	return out
}

// lockKeys returns the sorted, deduplicated row locks a transaction needs.
// Entries whose target is still unresolved contribute nothing; resolution
// runs under the type-level lock before this is called.
func lockKeys(plans []*entryPlan) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, pl := range plans {
		if pl.action == actRead || pl.typ == "" || pl.id == "" {
			continue
		}
		k := store.LockKey(pl.typ, pl.id)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// conditionalTypes returns the sorted types needing a type-level lock.
func conditionalTypes(plans []*entryPlan) []string {
	seen := make(map[string]bool)
	var types []string
	for _, pl := range plans {
		if pl.conditional() && !seen[pl.typ] {
			seen[pl.typ] = true
			types = append(types, pl.typ)
		}
	}
	sort.Strings(types)
	return types
}

// entryErr tags an error with the entry it belongs to.
func entryErr(idx int, err error) error {
	return fhir.WrapKind(fhir.KindOf(err), err, fmt.Sprintf("entry %d failed", idx)).
		At(fmt.Sprintf("Bundle.entry[%d]", idx))
}

func bytesTrimLeft(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\n' || b[0] == '\r') {
		b = b[1:]
	}
	return b
}

// decodeBinaryPatch unwraps a Binary resource carrying a JSON Patch.
func decodeBinaryPatch(res fhir.Resource) ([]byte, error) {
	ct, _ := res["contentType"].(string)
	if ct != "application/json-patch+json" {
		return nil, fhir.Errorf(fhir.KindUnsupported, "Binary contentType %q is not a JSON Patch", ct)
	}
	data, _ := res["data"].(string)
	if data == "" {
		return nil, fhir.Errorf(fhir.KindMalformed, "Binary has no data")
	}
	doc, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fhir.Errorf(fhir.KindMalformed, "Binary data is not valid base64")
	}
	return doc, nil
}
