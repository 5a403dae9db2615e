// read.go implements resource retrieval operations for the Service layer.
//
// Separated from service.go to isolate read-only operations. These are thin
// delegations: the store already distinguishes missing from deleted and
// takes care of admission, so the service adds nothing on the read path.

package resource

import (
	"context"

	"github.com/jpl-au/fhird/internal/store"
)

// Read returns the current version of a resource.
func (s *Service) Read(ctx context.Context, resourceType, id string) (*store.StoredResource, error) {
	return s.store.Read(ctx, resourceType, id)
}

// VRead returns a specific version, including delete markers.
func (s *Service) VRead(ctx context.Context, resourceType, id string, versionID int64) (*store.StoredResource, error) {
	return s.store.VRead(ctx, resourceType, id, versionID)
}

// History returns version entries newest-first. Scope narrows with the
// arguments: both empty for the whole system, type only, or type and id.
func (s *Service) History(ctx context.Context, resourceType, id string, opts store.HistoryOptions) (*store.HistoryPage, error) {
	return s.store.History(ctx, resourceType, id, opts)
}

// Each streams every current, non-deleted resource to fn, optionally
// limited to one type.
func (s *Service) Each(ctx context.Context, resourceType string, fn func(*store.StoredResource) error) error {
	return s.store.Each(ctx, resourceType, fn)
}
