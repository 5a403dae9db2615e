// write.go implements the version-bump write path.
//
// Separated from the main store file to isolate mutating operations. All
// writes go through writeVersion, which computes version = MAX+1 inside the
// transaction, so concurrent writers to the same resource cannot mint the
// same version number.
//
// Design: meta.lastUpdated is clamped to at least one millisecond past the
// previous version, keeping timestamps strictly monotone along a version
// chain even when the wall clock stalls or steps backwards.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/index"
	"github.com/jpl-au/fhird/internal/patch"
)

// Create stores a new resource under a server-assigned id at version 1.
// Any client-supplied id in the body is discarded.
func (s *SQLiteStore) Create(ctx context.Context, res fhir.Resource) (*WriteResult, error) {
	if err := fhir.ValidateEnvelope(res, ""); err != nil {
		return nil, err
	}
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	id := NewID()
	unlock := s.Guard(LockKey(res.Type(), id))
	defer unlock()

	var out *WriteResult
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		var txErr error
		out, txErr = s.writeVersion(ctx, tx, res.Type(), id, res, fhir.OpCreate, 0, true)
		return txErr
	})
	return out, err
}

// CreateTx is Create inside a caller-managed transaction. The caller holds
// the relevant locks; bundle transactions use this. id may be empty, in
// which case a fresh one is assigned, or pre-allocated so URN references to
// this entry could be rewritten before execution.
func (s *SQLiteStore) CreateTx(ctx context.Context, tx *sql.Tx, res fhir.Resource, id string) (*WriteResult, error) {
	if err := fhir.ValidateEnvelope(res, ""); err != nil {
		return nil, err
	}
	if id == "" {
		id = NewID()
	}
	return s.writeVersion(ctx, tx, res.Type(), id, res, fhir.OpCreate, 0, true)
}

// Update writes the next version of resourceType/id. ifMatch, when non-zero,
// must equal the current version or the write fails with a precondition
// error. An unknown id creates the resource when the store allows
// client-supplied ids; updating a deleted resource revives it.
func (s *SQLiteStore) Update(ctx context.Context, resourceType, id string, res fhir.Resource, ifMatch int64) (*WriteResult, error) {
	if err := checkIdentity(resourceType, id, res); err != nil {
		return nil, err
	}
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	unlock := s.Guard(LockKey(resourceType, id))
	defer unlock()

	var out *WriteResult
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		var txErr error
		out, txErr = s.writeVersion(ctx, tx, resourceType, id, res, fhir.OpUpdate, ifMatch, s.updateCreates)
		return txErr
	})
	return out, err
}

// UpdateTx is Update inside a caller-managed transaction. allowCreate
// overrides the store-wide update-creates setting; conditional updates that
// resolved to zero matches always create.
func (s *SQLiteStore) UpdateTx(ctx context.Context, tx *sql.Tx, resourceType, id string, res fhir.Resource, ifMatch int64, allowCreate bool) (*WriteResult, error) {
	if err := checkIdentity(resourceType, id, res); err != nil {
		return nil, err
	}
	return s.writeVersion(ctx, tx, resourceType, id, res, fhir.OpUpdate, ifMatch, allowCreate)
}

// Upsert is Update that always creates a missing resource, regardless of
// the update-creates setting. Bulk import uses it so loading a dump into a
// fresh store succeeds under any configuration.
func (s *SQLiteStore) Upsert(ctx context.Context, resourceType, id string, res fhir.Resource) (*WriteResult, error) {
	if err := checkIdentity(resourceType, id, res); err != nil {
		return nil, err
	}
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	unlock := s.Guard(LockKey(resourceType, id))
	defer unlock()

	var out *WriteResult
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		var txErr error
		out, txErr = s.writeVersion(ctx, tx, resourceType, id, res, fhir.OpUpdate, 0, true)
		return txErr
	})
	return out, err
}

// Patch applies a JSON Patch to the current version and stores the result as
// the next version. The patch must not change the resource's type or id.
func (s *SQLiteStore) Patch(ctx context.Context, resourceType, id string, body []byte, ifMatch int64) (*WriteResult, error) {
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	unlock := s.Guard(LockKey(resourceType, id))
	defer unlock()

	var out *WriteResult
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		var txErr error
		out, txErr = s.PatchTx(ctx, tx, resourceType, id, body, ifMatch)
		return txErr
	})
	return out, err
}

// PatchTx is Patch inside a caller-managed transaction.
func (s *SQLiteStore) PatchTx(ctx context.Context, tx *sql.Tx, resourceType, id string, body []byte, ifMatch int64) (*WriteResult, error) {
	row, err := latestTx(ctx, tx, resourceType, id)
	if err != nil {
		return nil, err
	}
	if row.Deleted {
		return nil, fhir.Errorf(fhir.KindGone, "%s/%s has been deleted", resourceType, id)
	}
	if ifMatch > 0 && ifMatch != row.VersionID {
		return nil, fhir.Errorf(fhir.KindPrecondition, "version %d does not match current version %d", ifMatch, row.VersionID)
	}

	res, err := row.Resource()
	if err != nil {
		return nil, err
	}
	patched, err := patch.Apply(res, body)
	if err != nil {
		return nil, err
	}
	if err := checkIdentity(resourceType, id, patched); err != nil {
		return nil, fhir.WrapKind(fhir.KindValidation, err, "patch must not change the resource identity")
	}

	return s.writeVersion(ctx, tx, resourceType, id, patched, fhir.OpPatch, ifMatch, false)
}

// Delete appends a tombstone version and hides the resource from reads and
// searches. Deleting an already-deleted resource is a no-op that reports the
// existing tombstone. History survives; a later update revives the chain.
func (s *SQLiteStore) Delete(ctx context.Context, resourceType, id string) (*WriteResult, error) {
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	unlock := s.Guard(LockKey(resourceType, id))
	defer unlock()

	var out *WriteResult
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		var txErr error
		out, txErr = s.DeleteTx(ctx, tx, resourceType, id)
		return txErr
	})
	return out, err
}

// DeleteTx is Delete inside a caller-managed transaction.
func (s *SQLiteStore) DeleteTx(ctx context.Context, tx *sql.Tx, resourceType, id string) (*WriteResult, error) {
	var curVersion, curMillis int64
	var curDeleted bool
	err := tx.QueryRowContext(ctx, `SELECT version_id, last_updated, deleted FROM current WHERE type = ? AND id = ?`,
		resourceType, id).Scan(&curVersion, &curMillis, &curDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fhir.Errorf(fhir.KindNotFound, "%s/%s does not exist", resourceType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read current version: %w", err)
	}

	if curDeleted {
		return &WriteResult{
			Type: resourceType, ID: id,
			VersionID:   curVersion,
			LastUpdated: time.UnixMilli(curMillis).UTC(),
			Noop:        true,
		}, nil
	}

	version := curVersion + 1
	millis := clampMillis(time.Now().UnixMilli(), curMillis)

	_, err = tx.ExecContext(ctx, `INSERT INTO resources (type, id, version_id, op, doc, last_updated, deleted)
		VALUES (?, ?, ?, ?, NULL, ?, 1)`,
		resourceType, id, version, string(fhir.OpDelete), millis)
	if err != nil {
		return nil, fmt.Errorf("insert tombstone: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE current SET version_id = ?, last_updated = ?, deleted = 1 WHERE type = ? AND id = ?`,
		version, millis, resourceType, id)
	if err != nil {
		return nil, fmt.Errorf("update current: %w", err)
	}
	if err := deleteIndexRows(ctx, tx, resourceType, id); err != nil {
		return nil, err
	}

	return &WriteResult{
		Type: resourceType, ID: id,
		VersionID:   version,
		LastUpdated: time.UnixMilli(millis).UTC(),
	}, nil
}

// writeVersion is the shared write core: version bump, meta stamping, the
// version row, the current pointer, and full index row replacement, all
// inside the caller's transaction.
func (s *SQLiteStore) writeVersion(ctx context.Context, tx *sql.Tx, resourceType, id string, res fhir.Resource, op fhir.Op, ifMatch int64, allowCreate bool) (*WriteResult, error) {
	var maxVer, prevMillis int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version_id), 0), COALESCE(MAX(last_updated), 0)
		FROM resources WHERE type = ? AND id = ?`, resourceType, id).Scan(&maxVer, &prevMillis)
	if err != nil {
		return nil, fmt.Errorf("get max version: %w", err)
	}

	var prevDeleted bool
	if maxVer > 0 {
		err = tx.QueryRowContext(ctx, `SELECT deleted FROM current WHERE type = ? AND id = ?`,
			resourceType, id).Scan(&prevDeleted)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("read current state: %w", err)
		}
	}

	if ifMatch > 0 {
		if maxVer == 0 {
			return nil, fhir.Errorf(fhir.KindPrecondition, "no existing version of %s/%s to match", resourceType, id)
		}
		if ifMatch != maxVer {
			return nil, fhir.Errorf(fhir.KindPrecondition, "version %d does not match current version %d", ifMatch, maxVer)
		}
	}
	if maxVer == 0 && op != fhir.OpCreate && !allowCreate {
		return nil, fhir.Errorf(fhir.KindNotFound, "%s/%s does not exist", resourceType, id)
	}

	version := maxVer + 1
	millis := clampMillis(time.Now().UnixMilli(), prevMillis)
	ts := time.UnixMilli(millis).UTC()
	res.Stamp(id, version, ts)

	doc, err := res.Encode()
	if err != nil {
		return nil, err
	}
	set, skips := index.Extract(s.cat, res, s.base)

	_, err = tx.ExecContext(ctx, `INSERT INTO resources (type, id, version_id, op, doc, last_updated, deleted)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		resourceType, id, version, string(op), string(doc), millis)
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO current (type, id, version_id, last_updated, deleted)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT (type, id) DO UPDATE SET version_id = excluded.version_id, last_updated = excluded.last_updated, deleted = 0`,
		resourceType, id, version, millis)
	if err != nil {
		return nil, fmt.Errorf("update current: %w", err)
	}

	if err := deleteIndexRows(ctx, tx, resourceType, id); err != nil {
		return nil, err
	}
	if err := insertIndexRows(ctx, tx, resourceType, id, set); err != nil {
		return nil, err
	}

	return &WriteResult{
		Resource: res,
		Type:     resourceType, ID: id,
		VersionID:   version,
		LastUpdated: ts,
		Created:     maxVer == 0 || prevDeleted,
		Skips:       skips,
	}, nil
}

// checkIdentity enforces agreement between the url target and the body.
func checkIdentity(resourceType, id string, res fhir.Resource) error {
	if !fhir.ValidID(id) {
		return fhir.Errorf(fhir.KindMalformed, "invalid resource id %q", id)
	}
	if res.Type() != resourceType {
		return fhir.Errorf(fhir.KindMalformed, "body resourceType %q does not match %q", res.Type(), resourceType).At("resourceType")
	}
	if rid := res.ID(); rid != "" && rid != id {
		return fhir.Errorf(fhir.KindMalformed, "body id %q does not match url id %q", rid, id).At("id")
	}
	return nil
}

// clampMillis keeps version timestamps strictly increasing along a chain.
func clampMillis(now, prev int64) int64 {
	if now <= prev {
		return prev + 1
	}
	return now
}
