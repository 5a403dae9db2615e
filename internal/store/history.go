// history.go implements the version history queries.
//
// History is served straight off the version rows: every write, including
// tombstones, is one entry. The global seq column orders entries newest
// first across all three scopes (instance, type, system) and doubles as the
// paging cursor, so pages stay stable while new writes land.

package store

import (
	"context"
	"fmt"
	"strings"
)

// History returns one page of version history, newest first. Scope narrows
// by argument: both empty for system history, id empty for type history,
// both set for instance history.
func (s *SQLiteStore) History(ctx context.Context, resourceType, id string, opts HistoryOptions) (*HistoryPage, error) {
	release, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if resourceType == "" && id != "" {
		return nil, fmt.Errorf("history: id without resource type")
	}

	count := opts.Count
	if count <= 0 {
		count = DefaultHistoryCount
	}

	var conds []string
	var args []any
	if resourceType != "" {
		conds = append(conds, `type = ?`)
		args = append(args, resourceType)
	}
	if id != "" {
		conds = append(conds, `id = ?`)
		args = append(args, id)
	}
	if opts.Since > 0 {
		conds = append(conds, `last_updated >= ?`)
		args = append(args, opts.Since)
	}
	if opts.At > 0 {
		conds = append(conds, `last_updated <= ?`)
		args = append(args, opts.At)
	}

	where := ""
	if len(conds) > 0 {
		where = ` WHERE ` + strings.Join(conds, ` AND `)
	}

	var total int64
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}

	// The cursor joins the filters after the count so total spans all pages.
	if opts.BeforeSeq > 0 {
		conds = append(conds, `seq < ?`)
		args = append(args, opts.BeforeSeq)
		where = ` WHERE ` + strings.Join(conds, ` AND `)
	}

	// One extra row tells us whether a next page exists.
	query := `SELECT ` + resourceColumns + ` FROM resources` + where + ` ORDER BY seq DESC LIMIT ?`
	args = append(args, count+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries, err := scanResources(rows)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Entries: entries, Total: total}
	if len(entries) > count {
		page.Entries = entries[:count]
		page.HasMore = true
	}
	return page, nil
}
