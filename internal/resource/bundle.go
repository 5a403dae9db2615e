// bundle.go exposes transaction/batch processing and the extended
// operations through the Service layer. The processor fires change events
// itself (via the Notify hook), so nothing more happens here.

package resource

import (
	"context"
	"time"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ops"
	"github.com/jpl-au/fhird/internal/version"
)

// Transaction executes a transaction or batch bundle.
func (s *Service) Transaction(ctx context.Context, b *fhir.Bundle) (*fhir.Bundle, error) {
	return s.proc.Process(ctx, b)
}

// Everything returns one page of a patient's compartment.
func (s *Service) Everything(ctx context.Context, patientID string, opts ops.EverythingOptions) (*fhir.Bundle, error) {
	return s.proc.Everything(ctx, patientID, opts)
}

// Validate checks a document without storing anything.
func (s *Service) Validate(resourceType string, doc []byte) *fhir.OperationOutcome {
	return s.proc.Validate(resourceType, doc)
}

// Meta returns the current version's meta as a Parameters resource.
func (s *Service) Meta(ctx context.Context, resourceType, id string) (fhir.Resource, error) {
	return s.proc.Meta(ctx, resourceType, id)
}

// MetaAdd merges profiles, tags and security labels into the current meta.
func (s *Service) MetaAdd(ctx context.Context, resourceType, id string, meta map[string]any) (fhir.Resource, error) {
	return s.proc.MetaAdd(ctx, resourceType, id, meta)
}

// MetaDelete removes the named profiles, tags and security labels.
func (s *Service) MetaDelete(ctx context.Context, resourceType, id string, meta map[string]any) (fhir.Resource, error) {
	return s.proc.MetaDelete(ctx, resourceType, id, meta)
}

// Expand expands a stored ValueSet into its flat code list.
func (s *Service) Expand(ctx context.Context, id, canonical string) (fhir.Resource, error) {
	return s.proc.Expand(ctx, id, canonical)
}

// Capability returns the server's CapabilityStatement, dated now.
func (s *Service) Capability() *catalog.CapabilityStatement {
	date := fhir.FormatInstant(time.Now().UTC())
	return s.store.Catalog().Capability(s.BaseURL(), date, version.Short())
}
