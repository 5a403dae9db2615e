// lower.go turns parsed conditions into SQL fragments over the index tables.
//
// Every condition lowers to a correlated EXISTS against the index table for
// its parameter type, keyed on the outer current-row alias. Alternatives
// within one condition OR together inside the subquery; distinct conditions
// AND at the top level. The alias counter keeps nested subqueries (chains,
// _has, composites) from colliding.
//
// Value strings arrive with structural escapes intact (see params.go);
// lowering splits on | and $ and unescapes last.

package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ucum"
)

// frag is a SQL fragment with its bound arguments.
type frag struct {
	sql  string
	args []any
}

func (f frag) empty() bool { return f.sql == "" }

// lowerer carries the alias counter for one query compilation.
type lowerer struct {
	e *Engine
	n int
}

func (l *lowerer) next(prefix string) string {
	l.n++
	return fmt.Sprintf("%s%d", prefix, l.n)
}

// lowerConds compiles q's conditions into one AND fragment correlated on
// alias, a current-table alias in the enclosing query.
func (e *Engine) lowerConds(q *Query, alias string) (frag, error) {
	l := &lowerer{e: e}
	return l.conds(q.Conds, q.Type, alias)
}

func (l *lowerer) conds(conds []*Cond, resType, alias string) (frag, error) {
	var parts []frag
	for _, c := range conds {
		f, err := l.cond(c, resType, alias)
		if err != nil {
			return frag{}, err
		}
		if !f.empty() {
			parts = append(parts, f)
		}
	}
	return andFrags(parts), nil
}

func (l *lowerer) cond(c *Cond, resType, alias string) (frag, error) {
	switch {
	case c.Has != nil:
		return l.has(c, alias)
	case c.Chain != nil:
		return l.chain(c, resType, alias)
	default:
		return l.direct(c, resType, alias)
	}
}

// direct lowers a plain condition. c.Param must be resolved.
func (l *lowerer) direct(c *Cond, resType, alias string) (frag, error) {
	p := c.Param
	if c.Modifier == "missing" {
		return l.missingFrag(p, c, alias)
	}
	if p.Virtual() {
		return l.virtual(p, c, alias)
	}
	switch p.Type {
	case catalog.Composite:
		return l.composite(p, c, resType, alias)
	case catalog.Special:
		return l.nearFrag(c, alias)
	}

	a := l.next("x")
	var ors []frag
	for _, raw := range c.Values {
		f, err := l.value(p, c.Modifier, raw, a)
		if err != nil {
			return frag{}, at(err, c.Name)
		}
		ors = append(ors, f)
	}
	inner := orFrags(ors)

	op := "EXISTS"
	if c.Modifier == "not" {
		op = "NOT EXISTS"
	}
	var sb strings.Builder
	args := []any{p.Name}
	fmt.Fprintf(&sb, "%s (SELECT 1 FROM %s %s WHERE %s.type = %s.type AND %s.id = %s.id AND %s.param = ?",
		op, tableFor(p.Type), a, a, alias, a, alias, a)
	if !inner.empty() {
		sb.WriteString(" AND (")
		sb.WriteString(inner.sql)
		sb.WriteString(")")
		args = append(args, inner.args...)
	}
	sb.WriteString(")")
	return frag{sql: sb.String(), args: args}, nil
}

// value lowers one OR alternative against index-table alias a.
func (l *lowerer) value(p *catalog.Parameter, modifier, raw, a string) (frag, error) {
	switch p.Type {
	case catalog.Token:
		return l.tokenValue(raw, modifier, a)
	case catalog.String:
		return l.stringValue(raw, modifier, a)
	case catalog.Date:
		return l.dateValue(raw, a)
	case catalog.Reference:
		return l.refValue(p, raw, modifier, a)
	case catalog.Quantity:
		return l.quantityValue(raw, a)
	case catalog.Number:
		return l.numberValue(raw, a)
	case catalog.URI:
		return l.uriValue(raw, modifier, a)
	}
	return frag{}, fhir.Errorf(fhir.KindUnsupported, "parameter type %q cannot be matched directly", p.Type)
}

// tokenValue handles code, system|code, |code and system| forms, plus :text.
func (l *lowerer) tokenValue(raw, modifier, a string) (frag, error) {
	if modifier == "text" {
		pat := escapeLike(strings.ToLower(unescape(raw))) + "%"
		return frag{sql: fmt.Sprintf(`LOWER(%s.text) LIKE ? ESCAPE '\'`, a), args: []any{pat}}, nil
	}
	parts := splitEscaped(raw, '|')
	switch len(parts) {
	case 1:
		code := unescape(parts[0])
		if code == "" {
			return frag{}, fhir.Errorf(fhir.KindMalformed, "empty token value")
		}
		return frag{sql: fmt.Sprintf("%s.code = ?", a), args: []any{code}}, nil
	case 2:
		sys, code := unescape(parts[0]), unescape(parts[1])
		switch {
		case sys == "" && code != "":
			return frag{sql: fmt.Sprintf("(IFNULL(%s.system, '') = '' AND %s.code = ?)", a, a), args: []any{code}}, nil
		case sys != "" && code == "":
			return frag{sql: fmt.Sprintf("%s.system = ?", a), args: []any{sys}}, nil
		case sys != "" && code != "":
			return frag{sql: fmt.Sprintf("(%s.system = ? AND %s.code = ?)", a, a), args: []any{sys, code}}, nil
		}
		return frag{}, fhir.Errorf(fhir.KindMalformed, "empty token value")
	}
	return frag{}, fhir.Errorf(fhir.KindMalformed, "token value %q has too many | segments", raw)
}

func (l *lowerer) stringValue(raw, modifier, a string) (frag, error) {
	v := unescape(raw)
	switch modifier {
	case "exact":
		return frag{sql: fmt.Sprintf("%s.original = ?", a), args: []any{v}}, nil
	case "contains":
		pat := "%" + escapeLike(strings.ToLower(v)) + "%"
		return frag{sql: fmt.Sprintf(`%s.value LIKE ? ESCAPE '\'`, a), args: []any{pat}}, nil
	default:
		pat := escapeLike(strings.ToLower(v)) + "%"
		return frag{sql: fmt.Sprintf(`%s.value LIKE ? ESCAPE '\'`, a), args: []any{pat}}, nil
	}
}

// dateValue compares the stored interval [start_ms, end_ms) against the
// interval the query value implies at its precision.
func (l *lowerer) dateValue(raw, a string) (frag, error) {
	prefix, rest := fhir.SplitPrefix(unescape(raw))
	d, err := fhir.ParseDate(rest)
	if err != nil {
		return frag{}, err
	}
	vs, ve := d.Start().UnixMilli(), d.End().UnixMilli()
	s, e := a+".start_ms", a+".end_ms"
	switch prefix {
	case fhir.PrefixEQ:
		return frag{sql: fmt.Sprintf("(%s >= ? AND %s <= ?)", s, e), args: []any{vs, ve}}, nil
	case fhir.PrefixNE:
		return frag{sql: fmt.Sprintf("(%s < ? OR %s > ?)", s, e), args: []any{vs, ve}}, nil
	case fhir.PrefixLT:
		return frag{sql: s + " < ?", args: []any{vs}}, nil
	case fhir.PrefixGT:
		return frag{sql: e + " > ?", args: []any{ve}}, nil
	case fhir.PrefixGE:
		return frag{sql: e + " > ?", args: []any{vs}}, nil
	case fhir.PrefixLE:
		return frag{sql: s + " < ?", args: []any{ve}}, nil
	case fhir.PrefixSA:
		return frag{sql: s + " >= ?", args: []any{ve}}, nil
	case fhir.PrefixEB:
		return frag{sql: e + " <= ?", args: []any{vs}}, nil
	case fhir.PrefixAP:
		return frag{sql: fmt.Sprintf("(%s < ? AND %s > ?)", s, e), args: []any{ve, vs}}, nil
	}
	return frag{}, fhir.Errorf(fhir.KindMalformed, "unsupported prefix on date %q", raw)
}

// refValue handles Type/id, bare id, absolute URL, urn: and :identifier forms.
func (l *lowerer) refValue(p *catalog.Parameter, raw, modifier, a string) (frag, error) {
	if modifier == "identifier" {
		return l.refIdentifier(raw, a)
	}
	v := unescape(raw)
	if v == "" {
		return frag{}, fhir.Errorf(fhir.KindMalformed, "empty reference value")
	}
	if fhir.IsURN(v) {
		return frag{sql: fmt.Sprintf("%s.urn = ?", a), args: []any{v}}, nil
	}
	if !strings.ContainsAny(v, "/:") {
		// Bare id matches any allowed target; a single-target parameter
		// pins the type.
		if len(p.Targets) == 1 {
			return frag{sql: fmt.Sprintf("(%s.target_type = ? AND %s.target_id = ?)", a, a), args: []any{p.Targets[0], v}}, nil
		}
		return frag{sql: fmt.Sprintf("%s.target_id = ?", a), args: []any{v}}, nil
	}
	ref := fhir.ParseReference(l.e.opts.BaseURL, v)
	switch {
	case ref.IsLocal():
		return frag{sql: fmt.Sprintf("(%s.target_type = ? AND %s.target_id = ?)", a, a), args: []any{ref.Type, ref.ID}}, nil
	case ref.URN != "":
		return frag{sql: fmt.Sprintf("%s.urn = ?", a), args: []any{ref.URN}}, nil
	case ref.URL != "":
		return frag{sql: fmt.Sprintf("%s.url = ?", a), args: []any{ref.URL}}, nil
	}
	return frag{}, fhir.Errorf(fhir.KindMalformed, "unusable reference value %q", raw)
}

// refIdentifier applies token semantics to the indexed identifier columns.
func (l *lowerer) refIdentifier(raw, a string) (frag, error) {
	parts := splitEscaped(raw, '|')
	switch len(parts) {
	case 1:
		return frag{sql: fmt.Sprintf("%s.ident_value = ?", a), args: []any{unescape(parts[0])}}, nil
	case 2:
		sys, val := unescape(parts[0]), unescape(parts[1])
		switch {
		case sys == "" && val != "":
			return frag{sql: fmt.Sprintf("(IFNULL(%s.ident_system, '') = '' AND %s.ident_value = ?)", a, a), args: []any{val}}, nil
		case sys != "" && val == "":
			return frag{sql: fmt.Sprintf("%s.ident_system = ?", a), args: []any{sys}}, nil
		case sys != "" && val != "":
			return frag{sql: fmt.Sprintf("(%s.ident_system = ? AND %s.ident_value = ?)", a, a), args: []any{sys, val}}, nil
		}
	}
	return frag{}, fhir.Errorf(fhir.KindMalformed, "invalid identifier value %q", raw)
}

// quantityValue compares canonical magnitudes when both sides canonicalise
// under UCUM, and falls back to unit-exact comparison otherwise.
func (l *lowerer) quantityValue(raw, a string) (frag, error) {
	parts := splitEscaped(raw, '|')
	if len(parts) > 3 {
		return frag{}, fhir.Errorf(fhir.KindMalformed, "quantity value %q has too many | segments", raw)
	}
	prefix, numStr := fhir.SplitPrefix(unescape(parts[0]))
	v, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return frag{}, fhir.Errorf(fhir.KindMalformed, "invalid quantity number %q", numStr)
	}
	var sys, code string
	if len(parts) >= 2 {
		sys = unescape(parts[1])
	}
	if len(parts) == 3 {
		code = unescape(parts[2])
	}

	if sys == "" && code == "" {
		cmp, args := numCompare(a+".value", prefix, v)
		return frag{sql: cmp, args: args}, nil
	}
	if sys == ucum.System && code != "" {
		if cu, cv, ok := ucum.Canonicalize(code, v); ok {
			cmp, args := numCompare(a+".canon_value", prefix, cv)
			return frag{
				sql:  fmt.Sprintf("(%s.has_canon = 1 AND %s.canon_unit = ? AND %s)", a, a, cmp),
				args: append([]any{cu}, args...),
			}, nil
		}
	}
	cmp, cargs := numCompare(a+".value", prefix, v)
	var unit frag
	switch {
	case sys != "" && code != "":
		unit = frag{sql: fmt.Sprintf("%s.system = ? AND %s.code = ?", a, a), args: []any{sys, code}}
	case sys != "":
		unit = frag{sql: fmt.Sprintf("%s.system = ?", a), args: []any{sys}}
	default:
		// |code form: match the coded unit or the human-readable one.
		unit = frag{sql: fmt.Sprintf("(%s.code = ? OR %s.unit = ?)", a, a), args: []any{code, code}}
	}
	return frag{sql: "(" + unit.sql + " AND " + cmp + ")", args: append(unit.args, cargs...)}, nil
}

func (l *lowerer) numberValue(raw, a string) (frag, error) {
	prefix, numStr := fhir.SplitPrefix(unescape(raw))
	v, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return frag{}, fhir.Errorf(fhir.KindMalformed, "invalid number %q", raw)
	}
	cmp, args := numCompare(a+".value", prefix, v)
	return frag{sql: cmp, args: args}, nil
}

func (l *lowerer) uriValue(raw, modifier, a string) (frag, error) {
	v := unescape(raw)
	switch modifier {
	case "below":
		return frag{sql: fmt.Sprintf(`%s.value LIKE ? ESCAPE '\'`, a), args: []any{escapeLike(v) + "%"}}, nil
	case "above":
		// The stored value must be a prefix of the query value.
		return frag{sql: fmt.Sprintf("instr(?, %s.value) = 1", a), args: []any{v}}, nil
	default:
		return frag{sql: fmt.Sprintf("%s.value = ?", a), args: []any{v}}, nil
	}
}

// numCompare builds an ordered comparison on col. ap widens to ten percent
// either side.
func numCompare(col string, prefix fhir.Prefix, v float64) (string, []any) {
	switch prefix {
	case fhir.PrefixNE:
		return col + " <> ?", []any{v}
	case fhir.PrefixGT, fhir.PrefixSA:
		return col + " > ?", []any{v}
	case fhir.PrefixLT, fhir.PrefixEB:
		return col + " < ?", []any{v}
	case fhir.PrefixGE:
		return col + " >= ?", []any{v}
	case fhir.PrefixLE:
		return col + " <= ?", []any{v}
	case fhir.PrefixAP:
		lo, hi := v*0.9, v*1.1
		if v < 0 {
			lo, hi = hi, lo
		}
		return "(" + col + " >= ? AND " + col + " <= ?)", []any{lo, hi}
	default:
		return col + " = ?", []any{v}
	}
}

// missingFrag lowers :missing=true|false. Virtual parameters are always
// present on a stored resource.
func (l *lowerer) missingFrag(p *catalog.Parameter, c *Cond, alias string) (frag, error) {
	if len(c.Values) != 1 || (c.Values[0] != "true" && c.Values[0] != "false") {
		return frag{}, fhir.Errorf(fhir.KindMalformed, "%s:missing takes true or false", c.Name)
	}
	want := c.Values[0] == "true"
	if p.Virtual() {
		if want {
			return frag{sql: "1 = 0"}, nil
		}
		return frag{sql: "1 = 1"}, nil
	}
	if p.Type == catalog.Composite {
		return frag{}, fhir.Errorf(fhir.KindUnsupported, "missing is not supported on composite parameter %s", p.Name)
	}
	op := "EXISTS"
	if want {
		op = "NOT EXISTS"
	}
	a := l.next("x")
	sql := fmt.Sprintf("%s (SELECT 1 FROM %s %s WHERE %s.type = %s.type AND %s.id = %s.id AND %s.param = ?)",
		op, tableFor(p.Type), a, a, alias, a, alias, a)
	return frag{sql: sql, args: []any{p.Name}}, nil
}

// virtual lowers _id and _lastUpdated against current-table columns.
func (l *lowerer) virtual(p *catalog.Parameter, c *Cond, alias string) (frag, error) {
	switch p.Name {
	case "_id":
		args := make([]any, 0, len(c.Values))
		for _, raw := range c.Values {
			args = append(args, unescape(raw))
		}
		return frag{sql: alias + ".id IN (" + placeholders(len(args)) + ")", args: args}, nil
	case "_lastUpdated":
		var ors []frag
		for _, raw := range c.Values {
			f, err := lastUpdatedValue(raw, alias)
			if err != nil {
				return frag{}, err
			}
			ors = append(ors, f)
		}
		return orFrags(ors), nil
	}
	return frag{}, fhir.Errorf(fhir.KindUnsupported, "parameter %q is not supported", p.Name)
}

// lastUpdatedValue compares the point-valued last_updated column against the
// query value's interval.
func lastUpdatedValue(raw, alias string) (frag, error) {
	prefix, rest := fhir.SplitPrefix(unescape(raw))
	d, err := fhir.ParseDate(rest)
	if err != nil {
		return frag{}, err
	}
	vs, ve := d.Start().UnixMilli(), d.End().UnixMilli()
	col := alias + ".last_updated"
	switch prefix {
	case fhir.PrefixEQ, fhir.PrefixAP:
		return frag{sql: fmt.Sprintf("(%s >= ? AND %s < ?)", col, col), args: []any{vs, ve}}, nil
	case fhir.PrefixNE:
		return frag{sql: fmt.Sprintf("(%s < ? OR %s >= ?)", col, col), args: []any{vs, ve}}, nil
	case fhir.PrefixLT, fhir.PrefixEB:
		return frag{sql: col + " < ?", args: []any{vs}}, nil
	case fhir.PrefixGT, fhir.PrefixSA:
		return frag{sql: col + " >= ?", args: []any{ve}}, nil
	case fhir.PrefixGE:
		return frag{sql: col + " >= ?", args: []any{vs}}, nil
	case fhir.PrefixLE:
		return frag{sql: col + " < ?", args: []any{ve}}, nil
	}
	return frag{}, fhir.Errorf(fhir.KindMalformed, "unsupported prefix on %q", raw)
}

// composite joins one index-table alias per component inside a single
// EXISTS; correlated composites additionally tie the occurrences together so
// all components come from the same repeating element.
func (l *lowerer) composite(p *catalog.Parameter, c *Cond, resType, alias string) (frag, error) {
	var ors []frag
	for _, raw := range c.Values {
		comps := splitEscaped(raw, '$')
		if len(comps) != len(p.Components) {
			return frag{}, fhir.Errorf(fhir.KindMalformed, "composite %s takes %d $-separated parts", p.Name, len(p.Components))
		}
		type compPart struct {
			param *catalog.Parameter
			alias string
			val   frag
		}
		parts := make([]compPart, 0, len(comps))
		for i, compName := range p.Components {
			cp, ok := l.e.cat.Lookup(resType, compName)
			if !ok || cp.Virtual() || cp.Type == catalog.Composite || cp.Type == catalog.Special {
				return frag{}, fhir.Errorf(fhir.KindUnsupported, "composite %s component %q is not searchable", p.Name, compName)
			}
			a := l.next("x")
			vf, err := l.value(cp, "", comps[i], a)
			if err != nil {
				return frag{}, err
			}
			parts = append(parts, compPart{cp, a, vf})
		}

		var sb strings.Builder
		var args []any
		sb.WriteString("EXISTS (SELECT 1 FROM ")
		for i, pt := range parts {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s %s", tableFor(pt.param.Type), pt.alias)
		}
		sb.WriteString(" WHERE ")
		for i, pt := range parts {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			fmt.Fprintf(&sb, "%s.type = %s.type AND %s.id = %s.id AND %s.param = ? AND (%s)",
				pt.alias, alias, pt.alias, alias, pt.alias, pt.val.sql)
			args = append(args, pt.param.Name)
			args = append(args, pt.val.args...)
		}
		if p.Correlated {
			for _, pt := range parts[1:] {
				fmt.Fprintf(&sb, " AND %s.occurrence = %s.occurrence", pt.alias, parts[0].alias)
			}
		}
		sb.WriteString(")")
		ors = append(ors, frag{sql: sb.String(), args: args})
	}
	return orFrags(ors), nil
}

func tableFor(t catalog.ParamType) string {
	switch t {
	case catalog.Token:
		return "token_index"
	case catalog.String:
		return "string_index"
	case catalog.Date:
		return "date_index"
	case catalog.Reference:
		return "ref_index"
	case catalog.Quantity:
		return "quantity_index"
	case catalog.Number:
		return "number_index"
	case catalog.URI:
		return "uri_index"
	case catalog.Special:
		return "geo_index"
	}
	return ""
}

// at tags an error with the parameter it belongs to so diagnostics point at
// the offending input.
func at(err error, param string) error {
	var fe *fhir.Error
	if errors.As(err, &fe) && fe.Expression == "" {
		return fe.At(param)
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes LIKE metacharacters; patterns carry ESCAPE '\'.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func andFrags(fs []frag) frag {
	return joinFrags(fs, " AND ", false)
}

func orFrags(fs []frag) frag {
	return joinFrags(fs, " OR ", true)
}

func joinFrags(fs []frag, sep string, wrap bool) frag {
	switch len(fs) {
	case 0:
		return frag{}
	case 1:
		return fs[0]
	}
	var sb strings.Builder
	var args []any
	if wrap {
		sb.WriteString("(")
	}
	for i, f := range fs {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(f.sql)
		args = append(args, f.args...)
	}
	if wrap {
		sb.WriteString(")")
	}
	return frag{sql: sb.String(), args: args}
}
