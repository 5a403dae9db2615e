// vacuum.go implements permanent removal of deleted resources.
//
// Separated because vacuum is a destructive, irreversible operation with
// different semantics than the REST delete interaction. Delete writes a
// tombstone and keeps every prior version readable through vread and
// history; vacuum erases the whole chain. It should be called deliberately,
// from the CLI or an operator schedule, never as part of request handling.
//
// Design: the olderThan parameter keeps recent deletions recoverable while
// cleaning up old trash. A resource deleted and then recreated has a live
// current row, so its chain is never eligible even if it contains old
// tombstone versions.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// VacuumEligible counts the chains a Vacuum call with the same filters would
// remove, without removing anything. Backs the CLI dry run.
func (s *SQLiteStore) VacuumEligible(ctx context.Context, olderThan *time.Duration, resourceType string) (int64, error) {
	cond := `deleted = 1`
	var args []any
	if olderThan != nil {
		cond += ` AND last_updated < ?`
		args = append(args, time.Now().Add(-*olderThan).UnixMilli())
	}
	if resourceType != "" {
		cond += ` AND type = ?`
		args = append(args, resourceType)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM current WHERE `+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count eligible: %w", err)
	}
	return n, nil
}

// Vacuum permanently removes tombstoned resources and their version history.
// Parameters:
//   - olderThan: if non-nil, only purge resources deleted before this duration ago
//   - resourceType: if non-empty, only purge resources of this type
//
// Returns the total number of rows deleted across all tables.
func (s *SQLiteStore) Vacuum(ctx context.Context, olderThan *time.Duration, resourceType string) (int64, error) {
	var totalDeleted int64

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		var cutoff int64
		if olderThan != nil {
			cutoff = time.Now().Add(-*olderThan).UnixMilli()
		}

		// Eligible chains are those whose current version is a tombstone.
		cond := `c.deleted = 1`
		var args []any
		if olderThan != nil {
			cond += ` AND c.last_updated < ?`
			args = append(args, cutoff)
		}
		if resourceType != "" {
			cond += ` AND c.type = ?`
			args = append(args, resourceType)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE EXISTS (
			SELECT 1 FROM current c WHERE c.type = resources.type AND c.id = resources.id AND `+cond+`)`, args...)
		if err != nil {
			return fmt.Errorf("vacuum versions: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			totalDeleted += n
		}

		result, err = tx.ExecContext(ctx, `DELETE FROM current WHERE EXISTS (
			SELECT 1 FROM current c WHERE c.type = current.type AND c.id = current.id AND `+cond+`)`, args...)
		if err != nil {
			return fmt.Errorf("vacuum current: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			totalDeleted += n
		}

		// Index rows are removed when a resource is deleted, but clean up any
		// strays pointing at resources that no longer have a live current row.
		for _, table := range indexTables {
			result, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE NOT EXISTS (
				SELECT 1 FROM current c WHERE c.type = `+table+`.type AND c.id = `+table+`.id AND c.deleted = 0)`)
			if err != nil {
				return fmt.Errorf("vacuum orphan %s: %w", table, err)
			}
			if n, err := result.RowsAffected(); err == nil {
				totalDeleted += n
			}
		}

		return nil
	})

	if err != nil {
		return 0, err
	}
	return totalDeleted, nil
}
