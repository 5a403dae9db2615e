// reference.go parses and formats FHIR reference strings.
package fhir

import "strings"

// Ref is a parsed reference target. Exactly one of the addressing forms is
// populated: Type/ID for resolvable references, URN for transaction
// placeholders, URL for absolute references outside this server.
type Ref struct {
	Type      string
	ID        string
	VersionID string
	URN       string
	URL       string
}

// IsLocal reports whether the reference resolves to a resource on this server.
func (r Ref) IsLocal() bool { return r.Type != "" && r.ID != "" }

// String renders the canonical relative form for local references, or the
// original URN/URL otherwise.
func (r Ref) String() string {
	switch {
	case r.IsLocal() && r.VersionID != "":
		return r.Type + "/" + r.ID + "/_history/" + r.VersionID
	case r.IsLocal():
		return r.Type + "/" + r.ID
	case r.URN != "":
		return r.URN
	default:
		return r.URL
	}
}

// FormatReference renders the canonical Type/id form.
func FormatReference(typ, id string) string {
	return typ + "/" + id
}

// IsURN reports whether s is a urn: reference (transaction placeholder).
func IsURN(s string) bool {
	return strings.HasPrefix(s, "urn:")
}

// ParseReference parses a reference string relative to baseURL. Handled forms:
//
//	Patient/123
//	Patient/123/_history/2
//	https://example.org/fhir/Patient/123   (local when baseURL matches)
//	urn:uuid:9d1c...                        (kept as URN)
//
// Absolute references under a different base stay as URL; relative strings
// that do not look like Type/id also stay as URL so nothing is lost.
func ParseReference(baseURL, s string) Ref {
	if s == "" {
		return Ref{}
	}
	if IsURN(s) {
		return Ref{URN: s}
	}
	rel := s
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		base := strings.TrimSuffix(baseURL, "/")
		if base != "" && strings.HasPrefix(s, base+"/") {
			rel = strings.TrimPrefix(s, base+"/")
		} else {
			return Ref{URL: s}
		}
	}
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	switch {
	case len(parts) == 2 && ValidTypeName(parts[0]) && ValidID(parts[1]):
		return Ref{Type: parts[0], ID: parts[1]}
	case len(parts) == 4 && parts[2] == "_history" && ValidTypeName(parts[0]) && ValidID(parts[1]):
		return Ref{Type: parts[0], ID: parts[1], VersionID: parts[3]}
	default:
		return Ref{URL: s}
	}
}

// ReferenceValue extracts the reference string from a Reference element
// fragment, which may be the object form {"reference": "..."} or, inside
// ad-hoc content, a bare string.
func ReferenceValue(fragment any) string {
	switch t := fragment.(type) {
	case string:
		return t
	case map[string]any:
		s, _ := t["reference"].(string)
		return s
	default:
		return ""
	}
}
