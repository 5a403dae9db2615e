// read.go implements resource retrieval for the SQLite store.
//
// Separated from the main store file to isolate read-only query logic.
// Reads take no locks and observe whatever version the last committed write
// left; WAL mode keeps them consistent under concurrent writers.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jpl-au/fhird/internal/fhir"
)

// Read returns the current version of resourceType/id. A deleted resource
// yields a gone error so the caller can answer 410 rather than 404.
func (s *SQLiteStore) Read(ctx context.Context, resourceType, id string) (*StoredResource, error) {
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.latest(ctx, resourceType, id)
}

// latest is Read without the in-flight slot, for callers already holding one.
func (s *SQLiteStore) latest(ctx context.Context, resourceType, id string) (*StoredResource, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources
		WHERE type = ? AND id = ? ORDER BY version_id DESC LIMIT 1`, resourceType, id)
	r, err := scanResource(row)
	if errors.Is(err, fhir.ErrNotFound) {
		return nil, fhir.Errorf(fhir.KindNotFound, "%s/%s does not exist", resourceType, id)
	}
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, fhir.Errorf(fhir.KindGone, "%s/%s has been deleted", resourceType, id)
	}
	return r, nil
}

// ReadTx is Read inside a caller-managed transaction, used by bundle
// processing so GET entries observe the transaction's own writes.
func (s *SQLiteStore) ReadTx(ctx context.Context, tx *sql.Tx, resourceType, id string) (*StoredResource, error) {
	r, err := latestTx(ctx, tx, resourceType, id)
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, fhir.Errorf(fhir.KindGone, "%s/%s has been deleted", resourceType, id)
	}
	return r, nil
}

// VRead returns one specific version. Requesting the tombstone version of a
// deleted resource yields a gone error; older versions stay readable.
func (s *SQLiteStore) VRead(ctx context.Context, resourceType, id string, versionID int64) (*StoredResource, error) {
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	row := s.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources
		WHERE type = ? AND id = ? AND version_id = ?`, resourceType, id, versionID)
	r, err := scanResource(row)
	if errors.Is(err, fhir.ErrNotFound) {
		return nil, fhir.Errorf(fhir.KindNotFound, "%s/%s version %d does not exist", resourceType, id, versionID)
	}
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, fhir.Errorf(fhir.KindGone, "%s/%s version %d is a delete marker", resourceType, id, versionID)
	}
	return r, nil
}

// VReadTx is VRead inside a caller-managed transaction, so bundle GET
// entries can address versions the same transaction wrote.
func (s *SQLiteStore) VReadTx(ctx context.Context, tx *sql.Tx, resourceType, id string, versionID int64) (*StoredResource, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources
		WHERE type = ? AND id = ? AND version_id = ?`, resourceType, id, versionID)
	r, err := scanResource(row)
	if errors.Is(err, fhir.ErrNotFound) {
		return nil, fhir.Errorf(fhir.KindNotFound, "%s/%s version %d does not exist", resourceType, id, versionID)
	}
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, fhir.Errorf(fhir.KindGone, "%s/%s version %d is a delete marker", resourceType, id, versionID)
	}
	return r, nil
}

// Each streams every current, non-deleted resource to fn in (type, id)
// order, optionally limited to one type. Iteration stops at the first error
// fn returns. Export uses this instead of loading the store into memory.
func (s *SQLiteStore) Each(ctx context.Context, resourceType string, fn func(*StoredResource) error) error {
	release, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	q := `SELECT r.seq, r.type, r.id, r.version_id, r.op, r.doc, r.last_updated, r.deleted
		FROM current c
		JOIN resources r ON r.type = c.type AND r.id = c.id AND r.version_id = c.version_id
		WHERE c.deleted = 0`
	var args []any
	if resourceType != "" {
		q += ` AND c.type = ?`
		args = append(args, resourceType)
	}
	q += ` ORDER BY c.type, c.id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("scan store: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRes(rows)
		if err != nil {
			return fmt.Errorf("scan resource: %w", err)
		}
		if err := fn(&r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Exists reports whether a current, non-deleted resource exists.
func (s *SQLiteStore) Exists(ctx context.Context, resourceType, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM current WHERE type = ? AND id = ? AND deleted = 0 LIMIT 1`,
		resourceType, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check exists %s/%s: %w", resourceType, id, err)
	}
	return true, nil
}

// latestTx fetches the newest version row inside a transaction.
func latestTx(ctx context.Context, tx *sql.Tx, resourceType, id string) (*StoredResource, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources
		WHERE type = ? AND id = ? ORDER BY version_id DESC LIMIT 1`, resourceType, id)
	r, err := scanResource(row)
	if errors.Is(err, fhir.ErrNotFound) {
		return nil, fhir.Errorf(fhir.KindNotFound, "%s/%s does not exist", resourceType, id)
	}
	return r, err
}
