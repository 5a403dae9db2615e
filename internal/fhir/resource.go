// Package fhir provides the resource envelope and wire types shared by every
// layer of the engine: parsed resource documents, references, instants,
// bundles, and the OperationOutcome error taxonomy.
//
// Resources are deliberately schemaless. The engine stores and searches
// arbitrary R4 content, so a resource is a decoded JSON object rather than a
// generated struct per type. Only the envelope fields the engine itself
// manages (resourceType, id, meta) get typed accessors.
package fhir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Resource is a parsed FHIR resource document. Numbers are decoded as
// json.Number so re-encoding preserves their lexical form.
type Resource map[string]any

// idPattern is the FHIR id grammar: letters, digits, hyphen, dot, max 64.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9\-\.]{1,64}$`)

// typePattern matches resource type names (PascalCase ASCII identifiers).
var typePattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]{0,63}$`)

// Decode parses a JSON document into a Resource. The document must be a JSON
// object; anything else is rejected. No schema validation happens here.
func Decode(data []byte) (Resource, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var r Resource
	if err := dec.Decode(&r); err != nil {
		return nil, Errorf(KindMalformed, "invalid JSON body: %v", err)
	}
	if r == nil {
		return nil, Errorf(KindMalformed, "body is JSON null, expected a resource object")
	}
	// Trailing content after the object means the body was not a single document.
	if dec.More() {
		return nil, Errorf(KindMalformed, "unexpected content after resource object")
	}
	return r, nil
}

// Encode serialises the resource back to JSON.
func (r Resource) Encode() ([]byte, error) {
	data, err := json.Marshal(map[string]any(r))
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	return data, nil
}

// Type returns the resourceType field, or "" when absent or not a string.
func (r Resource) Type() string {
	t, _ := r["resourceType"].(string)
	return t
}

// ID returns the id field, or "" when absent.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// SetID sets the id field.
func (r Resource) SetID(id string) {
	r["id"] = id
}

// Meta returns the meta object, creating it if absent.
func (r Resource) Meta() map[string]any {
	if m, ok := r["meta"].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	r["meta"] = m
	return m
}

// VersionID returns meta.versionId, or "" when absent.
func (r Resource) VersionID() string {
	m, ok := r["meta"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := m["versionId"].(string)
	return v
}

// Stamp writes the server-managed meta fields. versionID is the integer
// version rendered as a string per the FHIR wire form.
func (r Resource) Stamp(id string, version int64, lastUpdated time.Time) {
	r.SetID(id)
	m := r.Meta()
	m["versionId"] = fmt.Sprintf("%d", version)
	m["lastUpdated"] = FormatInstant(lastUpdated)
}

// Clone returns a deep copy of the resource. Used where a caller mutates a
// document (reference rewriting, patching) without touching the original.
func (r Resource) Clone() Resource {
	return Resource(cloneValue(map[string]any(r)).(map[string]any))
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
		// Scalars (string, json.Number, bool, nil) are immutable.
		return v
	}
}

// ValidTypeName reports whether s is a plausible resource type name. The
// engine is schemaless, so this guards URL parsing rather than content.
func ValidTypeName(s string) bool {
	return typePattern.MatchString(s)
}

// ValidID reports whether s satisfies the FHIR id grammar.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// ValidateEnvelope checks the fields the engine requires on any stored
// document: a well-formed resourceType, and, when present, a well-formed id.
// expectedType is enforced when non-empty.
func ValidateEnvelope(r Resource, expectedType string) error {
	t := r.Type()
	if t == "" {
		return Errorf(KindValidation, "resource is missing resourceType")
	}
	if !ValidTypeName(t) {
		return Errorf(KindValidation, "invalid resourceType %q", t)
	}
	if expectedType != "" && t != expectedType {
		return Errorf(KindValidation, "resourceType %q does not match %q", t, expectedType)
	}
	if id, ok := r["id"]; ok {
		s, isStr := id.(string)
		if !isStr || !ValidID(s) {
			return Errorf(KindValidation, "invalid resource id")
		}
	}
	return nil
}
