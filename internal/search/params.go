// params.go parses URL-shaped search parameters into the query AST.
//
// Parsing resolves every parameter name against the catalog and classifies
// each key as a direct condition, a forward chain, a _has reverse chain, or
// a result control (_sort, _count, _include, ...). Value strings stay raw
// here; lowering converts them per parameter type so that a malformed value
// reports the parameter it belongs to.
//
// Lenient versus strict handling follows the FHIR search contract: lenient
// drops what it does not understand and says so in a warning, strict fails
// the request.

package search

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
)

// Query is a parsed search request.
type Query struct {
	Type  string
	Conds []*Cond // combined with AND

	Sort        []SortKey
	Count       int
	Cursor      string
	Includes    []Include
	RevIncludes []Include
	Elements    []string
	Summary     string
	Total       string
	Warnings    []string

	strict bool
}

// Cond is one ANDed condition. Exactly one interpretation applies: a direct
// match (Param set, Chain and Has nil), a forward chain (Chain set), or a
// reverse chain (Has set). Values holds the comma-separated alternatives,
// combined with OR.
type Cond struct {
	Name     string
	Modifier string
	Values   []string

	Param *catalog.Parameter // resolved entry; nil inside chain tails and _has conds
	Chain *Chain
	Has   *Has
}

// Chain is a forward chain hop: the Cond's Param is a reference parameter on
// the current type, and Tail applies to the referenced resource. Tail names
// are resolved against each candidate target type during lowering.
type Chain struct {
	// TargetType restricts the hop to one target type; empty tries every
	// catalog-listed target that supports the tail.
	TargetType string
	Tail       *Cond
}

// Has is a reverse chain: match resources that a Type resource references
// via RefParam, where that referring resource matches Tail.
type Has struct {
	Type     string
	RefParam string
	Tail     *Cond
}

// Include is one _include or _revinclude directive.
type Include struct {
	Source  string // type the reference parameter lives on
	Param   string
	Target  string // optional target type restriction
	Iterate bool
}

// SortKey is one _sort component.
type SortKey struct {
	Name  string
	Desc  bool
	Param *catalog.Parameter
}

// Parse parses rawQuery (an RFC 3986 query string) for searches on
// resourceType. Key order is preserved so diagnostics and SQL are
// deterministic.
func (e *Engine) Parse(resourceType, rawQuery string, strict bool) (*Query, error) {
	q := &Query{Type: resourceType, Count: -1, strict: strict}

	pairs, err := splitQuery(rawQuery)
	if err != nil {
		return nil, err
	}

	for _, kv := range pairs {
		if err := e.parsePair(q, kv.key, kv.value); err != nil {
			return nil, err
		}
	}

	// _count=0 means "just tell me the total", same as _summary=count.
	if q.Count == 0 {
		q.Summary = "count"
	}
	if q.Count < 0 {
		q.Count = e.opts.DefaultCount
	}
	if q.Count > e.opts.MaxCount {
		q.Count = e.opts.MaxCount
	}
	if len(q.Sort) == 0 {
		q.Sort = defaultSort()
	}
	return q, nil
}

type kv struct{ key, value string }

// splitQuery decodes the query string preserving pair order, which
// url.Values would lose.
func splitQuery(rawQuery string) ([]kv, error) {
	var pairs []kv
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fhir.Errorf(fhir.KindMalformed, "undecodable parameter %q", k)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fhir.Errorf(fhir.KindMalformed, "undecodable value for %q", key)
		}
		pairs = append(pairs, kv{key, val})
	}
	return pairs, nil
}

func (e *Engine) parsePair(q *Query, key, value string) error {
	// Empty values are ignored entirely, per the search grammar.
	if value == "" {
		return nil
	}
	if strings.HasPrefix(key, "_has:") {
		cond, err := e.buildHas(q, key, value, 1)
		if err != nil || cond == nil {
			return err
		}
		q.Conds = append(q.Conds, cond)
		return nil
	}
	if handled, err := e.parseControl(q, key, value); handled {
		return err
	}
	if dot := strings.IndexByte(key, '.'); dot >= 0 {
		return e.parseChain(q, key[:dot], key[dot+1:], value)
	}
	return e.parseDirect(q, key, value)
}

// parseDirect handles plain `name[:modifier]=v1,v2` keys.
func (e *Engine) parseDirect(q *Query, key, value string) error {
	name, modifier := splitModifier(key)
	p, ok := e.cat.Lookup(q.Type, name)
	if !ok {
		return e.unknown(q, "search parameter %q is not supported on %s", name, q.Type)
	}

	// A capitalised modifier on a reference parameter is a target type
	// restriction: subject:Patient=x narrows and implies Patient/x.
	if p.Type == catalog.Reference && isTypeName(modifier) {
		if !targetAllowed(p, modifier) {
			return e.unknown(q, "%s does not reference %s", name, modifier)
		}
		vals := splitValues(value)
		for i, v := range vals {
			if !strings.Contains(v, "/") {
				vals[i] = modifier + "/" + v
			}
		}
		q.Conds = append(q.Conds, &Cond{Name: name, Param: p, Values: vals})
		return nil
	}

	if !p.AllowsModifier(modifier) {
		return e.unknown(q, "modifier :%s is not supported on %s.%s", modifier, q.Type, name)
	}
	q.Conds = append(q.Conds, &Cond{
		Name:     name,
		Modifier: modifier,
		Values:   splitValues(value),
		Param:    p,
	})
	return nil
}

// parseChain handles `ref[:Type].tail=v` keys. The head must be a reference
// parameter of the searched type; deeper hops resolve during lowering since
// their names depend on the hop's target type.
func (e *Engine) parseChain(q *Query, head, tail, value string) error {
	name, modifier := splitModifier(head)
	targetType := ""
	if isTypeName(modifier) {
		targetType, modifier = modifier, ""
	}
	if modifier != "" {
		return fhir.Errorf(fhir.KindUnsupported, "modifier :%s cannot start a chain", modifier)
	}

	p, ok := e.cat.Lookup(q.Type, name)
	if !ok || p.Type != catalog.Reference {
		return e.unknown(q, "%s has no reference parameter %q to chain through", q.Type, name)
	}
	if targetType != "" && !targetAllowed(p, targetType) {
		return e.unknown(q, "%s does not reference %s", name, targetType)
	}

	tailCond, err := e.buildTail(tail, value, 2)
	if err != nil {
		return err
	}
	q.Conds = append(q.Conds, &Cond{
		Name:  name,
		Param: p,
		Chain: &Chain{TargetType: targetType, Tail: tailCond},
	})
	return nil
}

// buildTail builds the rest of a chain. depth is the hop number the next
// reference hop would occupy.
func (e *Engine) buildTail(tail, value string, depth int) (*Cond, error) {
	if dot := strings.IndexByte(tail, '.'); dot >= 0 {
		if depth > e.opts.MaxChainDepth {
			return nil, fhir.Errorf(fhir.KindUnsupported, "chain deeper than %d is not supported", e.opts.MaxChainDepth)
		}
		name, modifier := splitModifier(tail[:dot])
		targetType := ""
		if isTypeName(modifier) {
			targetType, modifier = modifier, ""
		}
		if modifier != "" {
			return nil, fhir.Errorf(fhir.KindUnsupported, "modifier :%s cannot start a chain", modifier)
		}
		inner, err := e.buildTail(tail[dot+1:], value, depth+1)
		if err != nil {
			return nil, err
		}
		return &Cond{Name: name, Chain: &Chain{TargetType: targetType, Tail: inner}}, nil
	}
	tn, tm := splitModifier(tail)
	return &Cond{Name: tn, Modifier: tm, Values: splitValues(value)}, nil
}

// buildHas handles `_has:Type:refParam:rest=v`, including nested _has.
// Returns (nil, nil) when lenient mode drops the parameter.
func (e *Engine) buildHas(q *Query, key, value string, depth int) (*Cond, error) {
	if depth > e.opts.MaxChainDepth {
		return nil, fhir.Errorf(fhir.KindUnsupported, "_has nested deeper than %d is not supported", e.opts.MaxChainDepth)
	}
	rest := strings.TrimPrefix(key, "_has:")
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fhir.Errorf(fhir.KindMalformed, "_has needs the form _has:Type:refParam:parameter")
	}
	refType, refParam, tail := parts[0], parts[1], parts[2]

	if !e.cat.Supports(refType) {
		return nil, e.unknown(q, "unknown resource type %q in _has", refType)
	}
	rp, ok := e.cat.Lookup(refType, refParam)
	if !ok || rp.Type != catalog.Reference {
		return nil, e.unknown(q, "%s has no reference parameter %q", refType, refParam)
	}

	has := &Has{Type: refType, RefParam: refParam}
	if strings.HasPrefix(tail, "_has:") {
		inner, err := e.buildHas(q, tail, value, depth+1)
		if err != nil || inner == nil {
			return nil, err
		}
		has.Tail = inner
	} else {
		tn, tm := splitModifier(tail)
		has.Tail = &Cond{Name: tn, Modifier: tm, Values: splitValues(value)}
	}
	return &Cond{Name: key, Has: has}, nil
}

// parseControl handles the underscore result parameters. Catalog-backed
// underscore parameters (_id, _lastUpdated, _tag, _profile, _security) are
// not controls and fall through to parseDirect.
func (e *Engine) parseControl(q *Query, key, value string) (bool, error) {
	name, modifier := splitModifier(key)
	switch name {
	case "_sort":
		for _, part := range splitValues(value) {
			if part == "" {
				continue
			}
			desc := strings.HasPrefix(part, "-")
			pname := strings.TrimPrefix(part, "-")
			p, ok := e.cat.Lookup(q.Type, pname)
			if !ok || !sortable(p) {
				if err := e.unknown(q, "cannot sort %s by %q", q.Type, pname); err != nil {
					return true, err
				}
				continue
			}
			q.Sort = append(q.Sort, SortKey{Name: pname, Desc: desc, Param: p})
		}
		return true, nil

	case "_count":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return true, fhir.Errorf(fhir.KindMalformed, "invalid _count %q", value)
		}
		q.Count = n
		return true, nil

	case "_offset":
		q.Cursor = value
		return true, nil

	case "_include", "_revinclude":
		inc, err := parseInclude(value, modifier == "iterate")
		if err != nil {
			return true, err
		}
		if !e.cat.Supports(inc.Source) {
			return true, e.unknown(q, "unknown resource type %q in %s", inc.Source, name)
		}
		p, ok := e.cat.Lookup(inc.Source, inc.Param)
		if !ok || p.Type != catalog.Reference {
			return true, e.unknown(q, "%s has no reference parameter %q", inc.Source, inc.Param)
		}
		if name == "_include" {
			q.Includes = append(q.Includes, inc)
		} else {
			q.RevIncludes = append(q.RevIncludes, inc)
		}
		return true, nil

	case "_elements":
		for _, el := range splitValues(value) {
			if el != "" {
				q.Elements = append(q.Elements, el)
			}
		}
		return true, nil

	case "_summary":
		switch value {
		case "count", "false":
			q.Summary = value
		case "true", "text", "data":
			if err := e.unknown(q, "_summary=%s is not supported", value); err != nil {
				return true, err
			}
		default:
			return true, fhir.Errorf(fhir.KindMalformed, "invalid _summary %q", value)
		}
		return true, nil

	case "_total":
		switch value {
		case "none", "estimate", "accurate":
			q.Total = value
		default:
			return true, fhir.Errorf(fhir.KindMalformed, "invalid _total %q", value)
		}
		return true, nil

	case "_format", "_pretty":
		// Transport concerns; the engine returns documents either way.
		return true, nil
	}

	if strings.HasPrefix(name, "_") {
		if _, ok := e.cat.Lookup(q.Type, name); ok {
			return false, nil
		}
		return true, e.unknown(q, "parameter %q is not supported", name)
	}
	return false, nil
}

// parseInclude parses `Type:param[:targetType]`.
func parseInclude(value string, iterate bool) (Include, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Include{}, fhir.Errorf(fhir.KindMalformed, "include %q needs the form Type:parameter[:target]", value)
	}
	inc := Include{Source: parts[0], Param: parts[1], Iterate: iterate}
	if len(parts) == 3 {
		inc.Target = parts[2]
	}
	return inc, nil
}

// unknown applies lenient-vs-strict handling for unsupported inputs: strict
// errors, lenient records a warning and drops the parameter.
func (e *Engine) unknown(q *Query, format string, args ...any) error {
	err := fhir.Errorf(fhir.KindUnsupported, format, args...)
	if q.strict {
		return err
	}
	q.Warnings = append(q.Warnings, err.Diagnostics)
	return nil
}

// splitModifier splits `name:modifier`; name keeps any leading underscore.
func splitModifier(key string) (string, string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// splitValues splits comma-separated OR alternatives. Escapes other than
// the separator's survive intact so structural characters (| and $) can be
// split in later passes; unescape strips them at the point of use.
func splitValues(value string) []string {
	return splitEscaped(value, ',')
}

// splitEscaped splits s on unescaped sep. A backslash escaping the separator
// is consumed here; every other escape sequence is preserved.
func splitEscaped(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			if s[i+1] != sep {
				cur.WriteByte('\\')
			}
			cur.WriteByte(s[i+1])
			i++
			continue
		}
		if c == sep {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	out = append(out, cur.String())
	return out
}

// unescape removes the remaining backslash escapes from a fully split value.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// isTypeName reports whether s looks like a resource type restriction
// rather than a lowercase modifier.
func isTypeName(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

func targetAllowed(p *catalog.Parameter, target string) bool {
	if len(p.Targets) == 0 {
		return true
	}
	for _, t := range p.Targets {
		if t == target {
			return true
		}
	}
	return false
}

// sortable reports whether a parameter can drive _sort.
func sortable(p *catalog.Parameter) bool {
	switch p.Type {
	case catalog.Token, catalog.String, catalog.Date, catalog.Number, catalog.Quantity, catalog.URI:
		return true
	default:
		return false
	}
}

// defaultSort is the stable server order: newest first, id as tiebreak.
func defaultSort() []SortKey {
	return []SortKey{
		{Name: "_lastUpdated", Desc: true},
		{Name: "_id", Desc: false},
	}
}
