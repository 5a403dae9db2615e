// search.go exposes query execution and bundle assembly for the Service layer.

package resource

import (
	"context"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/search"
	"github.com/jpl-au/fhird/internal/store"
)

// Search executes a query against one resource type. Strict handling
// rejects unsupported parameters; lenient handling ignores them and notes
// each in the result's warnings.
func (s *Service) Search(ctx context.Context, resourceType, rawQuery string, strict bool) (*search.Result, error) {
	return s.engine.Execute(ctx, resourceType, rawQuery, strict)
}

// Searchset assembles a search result into a searchset bundle.
func (s *Service) Searchset(res *search.Result, resourceType, rawQuery string) (*fhir.Bundle, error) {
	return s.proc.Searchset(res, resourceType, rawQuery)
}

// HistoryBundle assembles a history page into a history bundle.
func (s *Service) HistoryBundle(page *store.HistoryPage, resourceType, id, rawQuery string) *fhir.Bundle {
	return s.proc.HistoryBundle(page, resourceType, id, rawQuery)
}
