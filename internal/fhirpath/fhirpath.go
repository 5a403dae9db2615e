// Package fhirpath compiles and evaluates the restricted path expressions the
// parameter catalog uses to locate values inside resource documents.
//
// This is a small closed DSL, not a FHIRPath engine. An expression is a
// dot-separated chain of steps over decoded JSON:
//
//	name.family                       plain fields
//	Patient.name.family               optional resource-type anchor, skipped
//	value[x]                          polymorphic match (valueQuantity, …)
//	name[0]                           numeric array index
//	telecom.where(system='phone')     field-equality filter
//	subject.where(resolve() is Patient)  reference-type filter
//
// Arrays are flat-mapped at every step, missing keys yield nothing, and
// evaluation never fails. Compilation produces a typed AST shared by the
// index extractor and the query compiler's chain executor.
package fhirpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a compiled path expression.
type Expr struct {
	src   string
	steps []step
}

// step is one node of the compiled expression.
type step interface{ isStep() }

// fieldStep selects a named field, optionally a single array element.
type fieldStep struct {
	name  string
	index int // -1 when no index
}

// polyStep matches any key with the given prefix followed by an uppercase
// discriminator, e.g. prefix "value" matches valueQuantity and valueString.
type polyStep struct {
	prefix string
}

// whereResolveStep keeps reference fragments whose target is the given type.
type whereResolveStep struct {
	targetType string
}

// whereEqStep keeps object fragments whose field equals a literal.
type whereEqStep struct {
	field   string
	literal string
}

func (fieldStep) isStep()        {}
func (polyStep) isStep()         {}
func (whereResolveStep) isStep() {}
func (whereEqStep) isStep()      {}

// String returns the source expression.
func (e *Expr) String() string { return e.src }

// Compile parses a path expression. A leading segment starting with an
// uppercase letter is a resource-type anchor and is dropped (FHIR element
// names are lowerCamelCase, so the two cannot collide).
func Compile(src string) (*Expr, error) {
	segs, err := splitSegments(src)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path expression")
	}
	if isTypeAnchor(segs[0]) {
		segs = segs[1:]
		if len(segs) == 0 {
			return nil, fmt.Errorf("path %q has only a type anchor", src)
		}
	}

	steps := make([]step, 0, len(segs))
	for _, seg := range segs {
		st, err := parseStep(seg)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", src, err)
		}
		steps = append(steps, st)
	}
	return &Expr{src: src, steps: steps}, nil
}

// MustCompile is Compile for static catalog expressions; it panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// splitSegments splits on dots outside parentheses and quotes.
func splitSegments(src string) ([]string, error) {
	var segs []string
	var cur strings.Builder
	depth := 0
	inQuote := false

	for _, r := range src {
		switch {
		case r == '\'' && depth > 0:
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == '(' && !inQuote:
			depth++
			cur.WriteRune(r)
		case r == ')' && !inQuote:
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in %q", src)
			}
			cur.WriteRune(r)
		case r == '.' && depth == 0 && !inQuote:
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if depth != 0 || inQuote {
		return nil, fmt.Errorf("unterminated expression %q", src)
	}
	segs = append(segs, cur.String())

	for _, s := range segs {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("empty step in %q", src)
		}
	}
	return segs, nil
}

func isTypeAnchor(seg string) bool {
	return len(seg) > 0 && seg[0] >= 'A' && seg[0] <= 'Z' && !strings.ContainsAny(seg, "([")
}

func parseStep(seg string) (step, error) {
	seg = strings.TrimSpace(seg)

	if strings.HasPrefix(seg, "where(") {
		return parseWhere(seg)
	}

	if i := strings.IndexByte(seg, '['); i >= 0 {
		if !strings.HasSuffix(seg, "]") {
			return nil, fmt.Errorf("malformed step %q", seg)
		}
		name, idx := seg[:i], seg[i+1:len(seg)-1]
		if name == "" {
			return nil, fmt.Errorf("malformed step %q", seg)
		}
		if idx == "x" {
			return polyStep{prefix: name}, nil
		}
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad index in step %q", seg)
		}
		return fieldStep{name: name, index: n}, nil
	}

	if !validFieldName(seg) {
		return nil, fmt.Errorf("bad field name %q", seg)
	}
	return fieldStep{name: seg, index: -1}, nil
}

// parseWhere handles where(resolve() is T) and where(field='lit').
func parseWhere(seg string) (step, error) {
	if !strings.HasSuffix(seg, ")") {
		return nil, fmt.Errorf("malformed filter %q", seg)
	}
	inner := strings.TrimSpace(seg[len("where(") : len(seg)-1])

	if rest, ok := strings.CutPrefix(inner, "resolve()"); ok {
		rest = strings.TrimSpace(rest)
		target, ok := strings.CutPrefix(rest, "is ")
		if !ok {
			return nil, fmt.Errorf("malformed resolve filter %q", seg)
		}
		target = strings.TrimSpace(target)
		if target == "" {
			return nil, fmt.Errorf("resolve filter missing type in %q", seg)
		}
		return whereResolveStep{targetType: target}, nil
	}

	field, lit, ok := strings.Cut(inner, "=")
	if !ok {
		return nil, fmt.Errorf("unsupported filter %q", seg)
	}
	field = strings.TrimSpace(field)
	lit = strings.TrimSpace(lit)
	if !validFieldName(field) {
		return nil, fmt.Errorf("bad filter field in %q", seg)
	}
	if len(lit) < 2 || lit[0] != '\'' || lit[len(lit)-1] != '\'' {
		return nil, fmt.Errorf("filter literal must be quoted in %q", seg)
	}
	return whereEqStep{field: field, literal: lit[1 : len(lit)-1]}, nil
}

func validFieldName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
