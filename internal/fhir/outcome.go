// outcome.go renders errors as OperationOutcome resources.
//
// Every error that escapes the engine surfaces to callers as an
// OperationOutcome; transports serialise it directly. Warnings collected
// during lenient search parsing use the same shape with severity "warning".
package fhir

import (
	"encoding/json"
	"errors"
)

// Issue severities.
const (
	SeverityFatal       = "fatal"
	SeverityError       = "error"
	SeverityWarning     = "warning"
	SeverityInformation = "information"
)

// Issue is a single OperationOutcome.issue entry.
type Issue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
	Location    []string `json:"location,omitempty"`
}

// OperationOutcome is the engine's standard error resource.
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	Issue        []Issue `json:"issue"`
}

// NewOutcome builds an outcome with a single issue.
func NewOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue:        []Issue{{Severity: severity, Code: code, Diagnostics: diagnostics}},
	}
}

// AddIssue appends an issue and returns the outcome for chaining.
func (o *OperationOutcome) AddIssue(severity, code, diagnostics string) *OperationOutcome {
	o.Issue = append(o.Issue, Issue{Severity: severity, Code: code, Diagnostics: diagnostics})
	return o
}

// Encode serialises the outcome. Marshalling a struct of strings cannot fail,
// so the error is ignored.
func (o *OperationOutcome) Encode() []byte {
	data, _ := json.Marshal(o)
	return data
}

// Informational is true when the outcome carries no error-level issues.
func (o *OperationOutcome) Informational() bool {
	for _, is := range o.Issue {
		if is.Severity == SeverityFatal || is.Severity == SeverityError {
			return false
		}
	}
	return true
}

// AllOK builds the conventional success outcome used by $validate.
func AllOK() *OperationOutcome {
	return NewOutcome(SeverityInformation, "informational", "All OK")
}

// OutcomeFromError renders any error into an OperationOutcome plus the HTTP
// status it maps to.
func OutcomeFromError(err error) (*OperationOutcome, int) {
	kind := KindOf(err)
	issue := Issue{
		Severity:    SeverityError,
		Code:        IssueCodeFor(kind),
		Diagnostics: err.Error(),
	}
	var te *Error
	if errors.As(err, &te) && te.Expression != "" {
		issue.Expression = []string{te.Expression}
	}
	if kind == KindInternal {
		issue.Severity = SeverityFatal
	}
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue:        []Issue{issue},
	}, StatusFor(kind)
}
