// Package patch applies RFC 6902 JSON Patch documents to decoded resources.
//
// The engine keeps resources as decoded JSON objects, so patching is
// structural rather than byte splicing. All six standard operations are
// supported. Apply never mutates its input; it works on a deep copy and
// returns the patched document.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jpl-au/fhird/internal/fhir"
)

// Op is one decoded patch operation. Value keeps json.Number scalars so
// patched documents re-encode with their lexical number forms intact.
type Op struct {
	Op    string
	Path  string
	From  string
	Value any
}

// Decode parses a JSON Patch body into operations. The body must be a JSON
// array of operation objects.
func Decode(data []byte) ([]Op, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fhir.Errorf(fhir.KindMalformed, "invalid JSON Patch body: %v", err)
	}
	if dec.More() {
		return nil, fhir.Errorf(fhir.KindMalformed, "unexpected content after patch array")
	}

	ops := make([]Op, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fhir.Errorf(fhir.KindMalformed, "patch operation %d is not an object", i)
		}
		op := Op{}
		op.Op, _ = m["op"].(string)
		op.Path, _ = m["path"].(string)
		op.From, _ = m["from"].(string)
		op.Value = m["value"]

		switch op.Op {
		case "add", "replace", "test":
			if _, ok := m["value"]; !ok {
				return nil, fhir.Errorf(fhir.KindMalformed, "patch operation %d (%s) is missing value", i, op.Op)
			}
		case "move", "copy":
			if _, ok := m["from"]; !ok {
				return nil, fhir.Errorf(fhir.KindMalformed, "patch operation %d (%s) is missing from", i, op.Op)
			}
		case "remove":
		default:
			return nil, fhir.Errorf(fhir.KindMalformed, "patch operation %d has unknown op %q", i, op.Op)
		}
		if _, ok := m["path"]; !ok {
			return nil, fhir.Errorf(fhir.KindMalformed, "patch operation %d is missing path", i)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Apply decodes body and applies it to a copy of doc. Operations apply in
// order; the first failure aborts the whole patch.
func Apply(doc fhir.Resource, body []byte) (fhir.Resource, error) {
	ops, err := Decode(body)
	if err != nil {
		return nil, err
	}

	root := any(map[string]any(doc.Clone()))
	for i, op := range ops {
		root, err = apply(root, op)
		if err != nil {
			return nil, fhir.Errorf(fhir.KindValidation, "patch operation %d (%s %s): %v", i, op.Op, op.Path, err)
		}
	}

	m, ok := root.(map[string]any)
	if !ok {
		return nil, fhir.Errorf(fhir.KindValidation, "patch replaced the document root with a non-object")
	}
	return fhir.Resource(m), nil
}

func apply(root any, op Op) (any, error) {
	path, err := parsePointer(op.Path)
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case "add":
		return add(root, path, op.Value)

	case "remove":
		return remove(root, path)

	case "replace":
		if _, err := get(root, path); err != nil {
			return nil, err
		}
		if len(path) == 0 {
			return op.Value, nil
		}
		root, err = remove(root, path)
		if err != nil {
			return nil, err
		}
		return add(root, path, op.Value)

	case "test":
		v, err := get(root, path)
		if err != nil {
			return nil, err
		}
		if !jsonEqual(v, op.Value) {
			return nil, fmt.Errorf("test failed")
		}
		return root, nil

	case "move":
		from, err := parsePointer(op.From)
		if err != nil {
			return nil, err
		}
		if from.prefixOf(path) {
			return nil, fmt.Errorf("cannot move a value into its own child")
		}
		v, err := get(root, from)
		if err != nil {
			return nil, err
		}
		root, err = remove(root, from)
		if err != nil {
			return nil, err
		}
		return add(root, path, v)

	case "copy":
		from, err := parsePointer(op.From)
		if err != nil {
			return nil, err
		}
		v, err := get(root, from)
		if err != nil {
			return nil, err
		}
		return add(root, path, cloneValue(v))

	default:
		return nil, fmt.Errorf("unknown op %q", op.Op)
	}
}

// --- RFC 6901 pointers ---

type pointer []string

func parsePointer(s string) (pointer, error) {
	if s == "" {
		return pointer{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("pointer %q does not start with /", s)
	}
	parts := strings.Split(s[1:], "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		p = strings.ReplaceAll(p, "~0", "~")
		parts[i] = p
	}
	return pointer(parts), nil
}

// prefixOf reports whether p is a proper prefix of other.
func (p pointer) prefixOf(other pointer) bool {
	if len(p) >= len(other) {
		return false
	}
	for i, tok := range p {
		if other[i] != tok {
			return false
		}
	}
	return true
}

// arrayIndex parses a pointer token as an array index. allowEnd accepts the
// "-" end marker, returned as len.
func arrayIndex(tok string, length int, allowEnd bool) (int, error) {
	if tok == "-" {
		if !allowEnd {
			return 0, fmt.Errorf("end marker not valid here")
		}
		return length, nil
	}
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, fmt.Errorf("invalid array index %q", tok)
	}
	i, err := strconv.Atoi(tok)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid array index %q", tok)
	}
	return i, nil
}

// --- navigation ---

func get(root any, path pointer) (any, error) {
	v := root
	for _, tok := range path {
		switch t := v.(type) {
		case map[string]any:
			next, ok := t[tok]
			if !ok {
				return nil, fmt.Errorf("path element %q not found", tok)
			}
			v = next
		case []any:
			i, err := arrayIndex(tok, len(t), false)
			if err != nil {
				return nil, err
			}
			if i >= len(t) {
				return nil, fmt.Errorf("array index %d out of range", i)
			}
			v = t[i]
		default:
			return nil, fmt.Errorf("path element %q addresses into a scalar", tok)
		}
	}
	return v, nil
}

// add inserts value at path and returns the possibly new root. Map keys are
// created or overwritten; array inserts shift later elements right.
func add(root any, path pointer, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	parent, err := get(root, path[:len(path)-1])
	if err != nil {
		return nil, err
	}
	tok := path[len(path)-1]

	switch t := parent.(type) {
	case map[string]any:
		t[tok] = value
		return root, nil
	case []any:
		i, err := arrayIndex(tok, len(t), true)
		if err != nil {
			return nil, err
		}
		if i > len(t) {
			return nil, fmt.Errorf("array index %d out of range", i)
		}
		t = append(t, nil)
		copy(t[i+1:], t[i:])
		t[i] = value
		return setChild(root, path[:len(path)-1], t)
	default:
		return nil, fmt.Errorf("parent of %q is a scalar", tok)
	}
}

// remove deletes the value at path and returns the possibly new root.
func remove(root any, path pointer) (any, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("cannot remove the document root")
	}
	parent, err := get(root, path[:len(path)-1])
	if err != nil {
		return nil, err
	}
	tok := path[len(path)-1]

	switch t := parent.(type) {
	case map[string]any:
		if _, ok := t[tok]; !ok {
			return nil, fmt.Errorf("path element %q not found", tok)
		}
		delete(t, tok)
		return root, nil
	case []any:
		i, err := arrayIndex(tok, len(t), false)
		if err != nil {
			return nil, err
		}
		if i >= len(t) {
			return nil, fmt.Errorf("array index %d out of range", i)
		}
		t = append(t[:i], t[i+1:]...)
		return setChild(root, path[:len(path)-1], t)
	default:
		return nil, fmt.Errorf("parent of %q is a scalar", tok)
	}
}

// setChild writes a rebuilt slice back into its own parent. Slices need this
// because append and splice can move the backing array; maps mutate in place.
func setChild(root any, path pointer, child any) (any, error) {
	if len(path) == 0 {
		return child, nil
	}
	parent, err := get(root, path[:len(path)-1])
	if err != nil {
		return nil, err
	}
	tok := path[len(path)-1]

	switch t := parent.(type) {
	case map[string]any:
		t[tok] = child
		return root, nil
	case []any:
		i, err := arrayIndex(tok, len(t), false)
		if err != nil {
			return nil, err
		}
		if i >= len(t) {
			return nil, fmt.Errorf("array index %d out of range", i)
		}
		t[i] = child
		return root, nil
	default:
		return nil, fmt.Errorf("parent of %q is a scalar", tok)
	}
}

// --- equality and cloning ---

// jsonEqual compares two decoded JSON values. Numbers compare numerically, so
// a test against 1.0 passes when the document holds 1.
func jsonEqual(a, b any) bool {
	switch ta := a.(type) {
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for k, va := range ta {
			vb, ok := tb[k]
			if !ok || !jsonEqual(va, vb) {
				return false
			}
		}
		return true
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !jsonEqual(ta[i], tb[i]) {
				return false
			}
		}
		return true
	case json.Number:
		tb, ok := b.(json.Number)
		if !ok {
			return false
		}
		if ta.String() == tb.String() {
			return true
		}
		fa, erra := ta.Float64()
		fb, errb := tb.Float64()
		return erra == nil && errb == nil && fa == fb
	default:
		return a == b
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
