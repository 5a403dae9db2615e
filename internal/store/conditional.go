// conditional.go implements the conditional write operations.
//
// A conditional operation resolves its search criteria first, then acts on
// the match count: zero, one, or many. Resolution runs under a type-level
// lock, so two concurrent conditional creates with the same criteria cannot
// both create; repeated conditional creates with identical inputs return
// the same resource without a new version.
//
// Direct writes do not take the type lock. A conditional operation is
// therefore atomic against other conditional operations on the same type,
// while direct concurrent writes are ordered by the version chain as usual.

package store

import (
	"context"
	"database/sql"

	"github.com/jpl-au/fhird/internal/fhir"
)

// Resolver resolves search criteria to the ids of matching current
// resources. The search compiler implements this; it is injected after both
// sides are constructed.
type Resolver interface {
	ResolveIDs(ctx context.Context, resourceType, rawQuery string, limit int) ([]string, error)
}

// SetResolver attaches the search engine used for conditional criteria.
func (s *SQLiteStore) SetResolver(r Resolver) {
	s.resolver = r
}

// multiDeleteCap bounds how many resources one conditional multi-delete may
// remove.
const multiDeleteCap = 1000

func (s *SQLiteStore) resolve(ctx context.Context, resourceType, query string, limit int) ([]string, error) {
	if s.resolver == nil {
		return nil, fhir.Errorf(fhir.KindUnsupported, "conditional operations need a search engine")
	}
	return s.resolver.ResolveIDs(ctx, resourceType, query, limit)
}

// ConditionalCreate creates the resource unless the criteria already match
// exactly one, in which case the existing resource is returned unchanged
// with Created false. More than one match is a conflict.
func (s *SQLiteStore) ConditionalCreate(ctx context.Context, res fhir.Resource, query string) (*WriteResult, error) {
	if err := fhir.ValidateEnvelope(res, ""); err != nil {
		return nil, err
	}
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resourceType := res.Type()
	unlock := s.Guard(resourceType)
	defer unlock()

	ids, err := s.resolve(ctx, resourceType, query, 2)
	if err != nil {
		return nil, err
	}

	switch len(ids) {
	case 0:
		id := NewID()
		inner := s.Guard(LockKey(resourceType, id))
		defer inner()

		var out *WriteResult
		err = s.Tx(ctx, func(tx *sql.Tx) error {
			var txErr error
			out, txErr = s.writeVersion(ctx, tx, resourceType, id, res, fhir.OpCreate, 0, true)
			return txErr
		})
		return out, err

	case 1:
		existing, err := s.latest(ctx, resourceType, ids[0])
		if err != nil {
			return nil, err
		}
		doc, err := existing.Resource()
		if err != nil {
			return nil, err
		}
		return &WriteResult{
			Resource: doc,
			Type:     resourceType, ID: existing.ID,
			VersionID:   existing.VersionID,
			LastUpdated: existing.Time(),
			Noop:        true,
		}, nil

	default:
		return nil, fhir.Errorf(fhir.KindConflict, "criteria match multiple %s resources", resourceType)
	}
}

// ConditionalUpdate updates the single resource the criteria match. Zero
// matches create the resource, keeping a client-supplied id when the body
// carries one. More than one match is a conflict.
func (s *SQLiteStore) ConditionalUpdate(ctx context.Context, resourceType, query string, res fhir.Resource, ifMatch int64) (*WriteResult, error) {
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	unlock := s.Guard(resourceType)
	defer unlock()

	ids, err := s.resolve(ctx, resourceType, query, 2)
	if err != nil {
		return nil, err
	}

	var id string
	switch len(ids) {
	case 0:
		id = res.ID()
		if id == "" {
			id = NewID()
		}
	case 1:
		id = ids[0]
		if rid := res.ID(); rid != "" && rid != id {
			return nil, fhir.Errorf(fhir.KindMalformed, "body id %q does not match the resource the criteria selected", rid).At("id")
		}
	default:
		return nil, fhir.Errorf(fhir.KindConflict, "criteria match multiple %s resources", resourceType)
	}

	if err := checkIdentity(resourceType, id, res); err != nil {
		return nil, err
	}

	inner := s.Guard(LockKey(resourceType, id))
	defer inner()

	var out *WriteResult
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		var txErr error
		out, txErr = s.writeVersion(ctx, tx, resourceType, id, res, fhir.OpUpdate, ifMatch, true)
		return txErr
	})
	return out, err
}

// ConditionalDelete deletes what the criteria match. Zero matches is a
// successful no-op. Multiple matches fail unless multi is set, in which
// case all matches up to a fixed cap are deleted in one transaction.
// Returns the number of resources deleted.
func (s *SQLiteStore) ConditionalDelete(ctx context.Context, resourceType, query string, multi bool) (int64, error) {
	release, err := s.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	unlock := s.Guard(resourceType)
	defer unlock()

	limit := 2
	if multi {
		limit = multiDeleteCap
	}
	ids, err := s.resolve(ctx, resourceType, query, limit)
	if err != nil {
		return 0, err
	}

	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > 1 && !multi {
		return 0, fhir.Errorf(fhir.KindConflict, "criteria match multiple %s resources", resourceType)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = LockKey(resourceType, id)
	}
	inner := s.Guard(keys...)
	defer inner()

	var count int64
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := s.DeleteTx(ctx, tx, resourceType, id); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
