// eval.go walks documents along compiled expressions.
//
// Evaluation is pure: it never mutates the document and never errors. Any
// mismatch between the expression and the document shape (missing key, wrong
// type, out-of-range index) yields the empty sequence.
package fhirpath

import (
	"iter"
	"sort"
	"strings"
)

// Fragment is one value yielded by evaluation. TypeHint carries the
// discriminator suffix when a polymorphic step chose the value (for
// value[x] matching valueQuantity, TypeHint is "Quantity"); otherwise "".
type Fragment struct {
	Value    any
	TypeHint string
}

// Eval returns a lazy sequence of fragments for the expression over doc.
func (e *Expr) Eval(doc map[string]any) iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		walk(doc, e.steps, "", yield)
	}
}

// Collect materialises Eval for callers that want a slice.
func (e *Expr) Collect(doc map[string]any) []Fragment {
	var out []Fragment
	for f := range e.Eval(doc) {
		out = append(out, f)
	}
	return out
}

// walk applies the remaining steps to v. It returns false when the consumer
// stopped iteration, so laziness propagates through the recursion.
func walk(v any, steps []step, hint string, yield func(Fragment) bool) bool {
	// Arrays flat-map before anything else. Indexed selection happens inside
	// fieldStep, on the freshly fetched value, so it is unaffected.
	if arr, ok := v.([]any); ok {
		for _, item := range arr {
			if !walk(item, steps, hint, yield) {
				return false
			}
		}
		return true
	}

	if len(steps) == 0 {
		return yield(Fragment{Value: v, TypeHint: hint})
	}

	switch s := steps[0].(type) {
	case fieldStep:
		m, ok := v.(map[string]any)
		if !ok {
			return true
		}
		next, ok := m[s.name]
		if !ok {
			return true
		}
		if s.index >= 0 {
			arr, ok := next.([]any)
			if !ok || s.index >= len(arr) {
				return true
			}
			next = arr[s.index]
		}
		return walk(next, steps[1:], hint, yield)

	case polyStep:
		m, ok := v.(map[string]any)
		if !ok {
			return true
		}
		for _, k := range polyKeys(m, s.prefix) {
			if !walk(m[k], steps[1:], k[len(s.prefix):], yield) {
				return false
			}
		}
		return true

	case whereResolveStep:
		ref := referenceString(v)
		if !strings.HasPrefix(ref, s.targetType+"/") && !strings.Contains(ref, "/"+s.targetType+"/") {
			return true
		}
		return walk2(v, steps[1:], hint, yield)

	case whereEqStep:
		m, ok := v.(map[string]any)
		if !ok {
			return true
		}
		if !literalEqual(m[s.field], s.literal) {
			return true
		}
		return walk2(v, steps[1:], hint, yield)

	default:
		return true
	}
}

// walk2 continues past a filter without re-entering array flat-mapping for
// the already-accepted value.
func walk2(v any, steps []step, hint string, yield func(Fragment) bool) bool {
	if len(steps) == 0 {
		return yield(Fragment{Value: v, TypeHint: hint})
	}
	return walk(v, steps, hint, yield)
}

// polyKeys returns the matching polymorphic keys in deterministic order.
// A key matches when it extends the prefix with an uppercase discriminator.
func polyKeys(m map[string]any, prefix string) []string {
	var keys []string
	for k := range m {
		if len(k) > len(prefix) && strings.HasPrefix(k, prefix) {
			c := k[len(prefix)]
			if c >= 'A' && c <= 'Z' {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// referenceString pulls the reference out of a Reference element or a bare
// string fragment.
func referenceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		s, _ := t["reference"].(string)
		return s
	default:
		return ""
	}
}

// literalEqual compares a document scalar with a filter literal.
func literalEqual(v any, lit string) bool {
	switch t := v.(type) {
	case string:
		return t == lit
	case interface{ String() string }: // json.Number
		return t.String() == lit
	case bool:
		return (lit == "true") == t
	default:
		return false
	}
}
