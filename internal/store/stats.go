// stats.go implements statistics queries for operational visibility.
//
// Separated to collect read-only aggregate operations distinct from CRUD.
// These power the db command, the MCP stats tool, and vacuum planning
// without loading document content into memory.

package store

import (
	"context"
	"fmt"
)

// CountType returns the number of current, non-deleted resources of a type.
func (s *SQLiteStore) CountType(ctx context.Context, resourceType string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM current WHERE type = ? AND deleted = 0`,
		resourceType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", resourceType, err)
	}
	return n, nil
}

// Stats returns aggregate database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByType: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM current WHERE deleted = 0`).Scan(&st.Resources)
	if err != nil {
		return nil, fmt.Errorf("count resources: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM current WHERE deleted = 1`).Scan(&st.Deleted)
	if err != nil {
		return nil, fmt.Errorf("count deleted: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&st.TotalVersions)
	if err != nil {
		return nil, fmt.Errorf("count versions: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MIN(last_updated), 0), COALESCE(MAX(last_updated), 0) FROM resources`).
		Scan(&st.OldestMillis, &st.NewestMillis)
	if err != nil {
		return nil, fmt.Errorf("version timestamps: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM current WHERE deleted = 0 GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		st.ByType[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, table := range indexTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		st.IndexRows += n
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("page size: %w", err)
	}
	st.SizeBytes = pageCount * pageSize

	return st, nil
}
