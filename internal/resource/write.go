// write.go implements resource creation, update, and deletion operations.
//
// Separated from service.go to isolate mutating operations. Each write
// delegates to the store, records index-extraction skips against the new
// version, and fires the extension event only after the store has committed.
//
// Design: conditional deletes resolve their targets inside the store's type
// lock, so the ids are not visible here; they report no per-resource events.

package resource

import (
	"context"

	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/store"
)

// Create stores a new resource under a server-assigned id.
func (s *Service) Create(ctx context.Context, res fhir.Resource) (*store.WriteResult, error) {
	wr, err := s.store.Create(ctx, res)
	if err != nil {
		return nil, err
	}
	logSkips("resource:create", wr)
	s.fireWrite(wr, fhir.OpCreate)
	return wr, nil
}

// Update writes a new version under a client-chosen id.
func (s *Service) Update(ctx context.Context, resourceType, id string, res fhir.Resource, ifMatch int64) (*store.WriteResult, error) {
	wr, err := s.store.Update(ctx, resourceType, id, res, ifMatch)
	if err != nil {
		return nil, err
	}
	logSkips("resource:update", wr)
	s.fireWrite(wr, upsertOp(wr))
	return wr, nil
}

// Upsert writes a new version under a client-chosen id, creating the
// resource when missing even if update-creates is off. Import paths use
// this; REST updates keep the configured policy.
func (s *Service) Upsert(ctx context.Context, resourceType, id string, res fhir.Resource) (*store.WriteResult, error) {
	wr, err := s.store.Upsert(ctx, resourceType, id, res)
	if err != nil {
		return nil, err
	}
	logSkips("resource:update", wr)
	s.fireWrite(wr, upsertOp(wr))
	return wr, nil
}

// Patch applies a JSON Patch document to the current version.
func (s *Service) Patch(ctx context.Context, resourceType, id string, patchDoc []byte, ifMatch int64) (*store.WriteResult, error) {
	wr, err := s.store.Patch(ctx, resourceType, id, patchDoc, ifMatch)
	if err != nil {
		return nil, err
	}
	logSkips("resource:patch", wr)
	s.fireWrite(wr, fhir.OpPatch)
	return wr, nil
}

// Delete writes a delete marker. Deleting an already-deleted resource
// succeeds without writing a new version.
func (s *Service) Delete(ctx context.Context, resourceType, id string) (*store.WriteResult, error) {
	wr, err := s.store.Delete(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}
	// A repeat delete writes nothing and fires nothing.
	if !wr.Noop {
		s.fireWrite(wr, fhir.OpDelete)
	}
	return wr, nil
}

// ConditionalCreate creates only when no resource matches the criteria.
func (s *Service) ConditionalCreate(ctx context.Context, res fhir.Resource, query string) (*store.WriteResult, error) {
	wr, err := s.store.ConditionalCreate(ctx, res, query)
	if err != nil {
		return nil, err
	}
	if !wr.Noop {
		logSkips("resource:create", wr)
		s.fireWrite(wr, fhir.OpCreate)
	}
	return wr, nil
}

// ConditionalUpdate updates the single match, or creates when there is none.
func (s *Service) ConditionalUpdate(ctx context.Context, resourceType, query string, res fhir.Resource, ifMatch int64) (*store.WriteResult, error) {
	wr, err := s.store.ConditionalUpdate(ctx, resourceType, query, res, ifMatch)
	if err != nil {
		return nil, err
	}
	logSkips("resource:update", wr)
	s.fireWrite(wr, upsertOp(wr))
	return wr, nil
}

// ConditionalDelete deletes matching resources and returns the count.
func (s *Service) ConditionalDelete(ctx context.Context, resourceType, query string, multi bool) (int64, error) {
	return s.store.ConditionalDelete(ctx, resourceType, query, multi)
}

func (s *Service) fireWrite(wr *store.WriteResult, op fhir.Op) {
	s.fireEvent(extension.ResourceEvent{
		Type:      wr.Type,
		ID:        wr.ID,
		VersionID: wr.VersionID,
		Op:        op,
	})
}

func upsertOp(wr *store.WriteResult) fhir.Op {
	if wr.Created {
		return fhir.OpCreate
	}
	return fhir.OpUpdate
}
