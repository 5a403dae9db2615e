// op.go names the write interactions. The store records one per version so
// history bundles can synthesise the original request line.
package fhir

// Op identifies the interaction that produced a version.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
)

// Method returns the HTTP method a history bundle reports for this op.
func (o Op) Method() string {
	switch o {
	case OpCreate:
		return "POST"
	case OpUpdate:
		return "PUT"
	case OpPatch:
		return "PATCH"
	case OpDelete:
		return "DELETE"
	default:
		return "PUT"
	}
}

// HistoryURL returns the request.url a history bundle reports for this op.
func (o Op) HistoryURL(typ, id string) string {
	if o == OpCreate {
		return typ
	}
	return typ + "/" + id
}
