// exec.go assembles and runs the top-level search query.
//
// Matches come from current joined to resources for document hydration, so
// one round trip returns ids, versions and bodies together. The page fetch
// asks for one row beyond the page size; the spare row is the has-more
// signal and never leaves the engine.
//
// near queries cannot finish in SQL (the exact distance check runs in Go),
// so they fetch every bounding-box candidate up to TypeCap, filter, and
// page the filtered slice by offset.

package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jpl-au/fhird/internal/catalog"
)

const hitColumns = "c.type, c.id, c.version_id, c.last_updated, r.doc"

const hitSource = "FROM current c JOIN resources r ON r.type = c.type AND r.id = c.id AND r.version_id = c.version_id"

func (e *Engine) run(ctx context.Context, q *Query) (*Result, error) {
	f, err := e.lowerConds(q, "c")
	if err != nil {
		return nil, err
	}
	res := &Result{Warnings: q.Warnings, Elements: q.Elements}

	if nearCond(q) != nil {
		return e.runNear(ctx, q, f, res)
	}
	if q.Summary == "count" {
		n, err := e.countMatches(ctx, q, f)
		if err != nil {
			return nil, err
		}
		res.CountOnly = true
		res.Total = &n
		return res, nil
	}

	var cur cursor
	if q.Cursor != "" {
		cur, err = parseCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
	}
	keyset := defaultSortKeys(q.Sort)

	var sb strings.Builder
	sb.WriteString("SELECT " + hitColumns + " " + hitSource)
	sb.WriteString(" WHERE c.type = ? AND c.deleted = 0")
	args := []any{q.Type}
	if !f.empty() {
		sb.WriteString(" AND ")
		sb.WriteString(f.sql)
		args = append(args, f.args...)
	}
	offset := 0
	if keyset && cur.keyset() {
		sb.WriteString(" AND (c.last_updated < ? OR (c.last_updated = ? AND c.id > ?))")
		args = append(args, cur.LastUpdated, cur.LastUpdated, cur.ID)
	} else {
		offset = cur.Offset
	}
	orderSQL, orderArgs := e.orderBy(q)
	sb.WriteString(orderSQL)
	args = append(args, orderArgs...)
	sb.WriteString(" LIMIT ?")
	args = append(args, q.Count+1)
	if offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, offset)
	}

	hits, err := e.scanHits(ctx, sb.String(), args)
	if err != nil {
		return nil, err
	}
	hasMore := len(hits) > q.Count
	if hasMore {
		hits = hits[:q.Count]
	}
	res.Matches = hits

	if hasMore {
		if keyset {
			last := hits[len(hits)-1]
			res.Next = encodeCursor(cursor{LastUpdated: last.LastUpdated, ID: last.ID})
		} else {
			res.Next = encodeCursor(cursor{Offset: offset + q.Count})
		}
	}
	if !keyset && offset > 0 {
		prev := offset - q.Count
		if prev < 0 {
			prev = 0
		}
		res.Prev = encodeCursor(cursor{Offset: prev})
	}

	switch q.Total {
	case "none":
	case "accurate", "estimate":
		n, err := e.countMatches(ctx, q, f)
		if err != nil {
			return nil, err
		}
		res.Total = &n
	default:
		// Free when the first page already holds everything.
		if q.Cursor == "" && !hasMore {
			n := int64(len(hits))
			res.Total = &n
		}
	}

	if err := e.expandIncludes(ctx, q, res); err != nil {
		return nil, err
	}
	return res, nil
}

// runNear fetches bounding-box candidates, filters them by great-circle
// distance, and pages the survivors.
func (e *Engine) runNear(ctx context.Context, q *Query, f frag, res *Result) (*Result, error) {
	nc := nearCond(q)
	np, err := parseNear(nc.Values[0])
	if err != nil {
		return nil, at(err, nc.Name)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + hitColumns + " " + hitSource)
	sb.WriteString(" WHERE c.type = ? AND c.deleted = 0")
	args := []any{q.Type}
	if !f.empty() {
		sb.WriteString(" AND ")
		sb.WriteString(f.sql)
		args = append(args, f.args...)
	}
	orderSQL, orderArgs := e.orderBy(q)
	sb.WriteString(orderSQL)
	args = append(args, orderArgs...)
	sb.WriteString(" LIMIT ?")
	args = append(args, e.opts.TypeCap+1)

	candidates, err := e.scanHits(ctx, sb.String(), args)
	if err != nil {
		return nil, err
	}
	if len(candidates) > e.opts.TypeCap {
		candidates = candidates[:e.opts.TypeCap]
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("near search considered only the first %d candidates", e.opts.TypeCap))
	}

	within, err := e.withinRadius(ctx, q.Type, nc.Param.Name, np)
	if err != nil {
		return nil, err
	}
	filtered := candidates[:0]
	for _, h := range candidates {
		if within[h.ID] {
			filtered = append(filtered, h)
		}
	}

	if q.Summary == "count" {
		n := int64(len(filtered))
		res.CountOnly = true
		res.Total = &n
		return res, nil
	}

	var cur cursor
	if q.Cursor != "" {
		if cur, err = parseCursor(q.Cursor); err != nil {
			return nil, err
		}
	}
	offset := cur.Offset
	if offset > len(filtered) {
		offset = len(filtered)
	}
	end := offset + q.Count
	if end > len(filtered) {
		end = len(filtered)
	}
	res.Matches = filtered[offset:end]
	if end < len(filtered) {
		res.Next = encodeCursor(cursor{Offset: end})
	}
	if offset > 0 {
		prev := offset - q.Count
		if prev < 0 {
			prev = 0
		}
		res.Prev = encodeCursor(cursor{Offset: prev})
	}
	if q.Total != "none" {
		n := int64(len(filtered))
		res.Total = &n
	}

	if err := e.expandIncludes(ctx, q, res); err != nil {
		return nil, err
	}
	return res, nil
}

// withinRadius returns the ids whose indexed position lies inside the
// radius. The bounding box keeps the scan off rows that cannot qualify.
func (e *Engine) withinRadius(ctx context.Context, resType, param string, np nearPoint) (map[string]bool, error) {
	latMin, latMax, lonMin, lonMax := np.bounds()
	rows, err := e.db.QueryContext(ctx,
		"SELECT id, lat, lon FROM geo_index WHERE type = ? AND param = ? AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?",
		resType, param, latMin, latMax, lonMin, lonMax)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer rows.Close()

	within := make(map[string]bool)
	for rows.Next() {
		var id string
		var lat, lon float64
		if err := rows.Scan(&id, &lat, &lon); err != nil {
			return nil, fmt.Errorf("scanning position row: %w", err)
		}
		if haversineKm(np.lat, np.lon, lat, lon) <= np.km {
			within[id] = true
		}
	}
	return within, rows.Err()
}

// nearCond returns the query's near condition, if any.
func nearCond(q *Query) *Cond {
	for _, c := range q.Conds {
		if c.Param != nil && c.Param.Type == catalog.Special && c.Modifier != "missing" {
			return c
		}
	}
	return nil
}

func (e *Engine) countMatches(ctx context.Context, q *Query, f frag) (int64, error) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM current c WHERE c.type = ? AND c.deleted = 0")
	args := []any{q.Type}
	if !f.empty() {
		sb.WriteString(" AND ")
		sb.WriteString(f.sql)
		args = append(args, f.args...)
	}
	var n int64
	if err := e.db.QueryRowContext(ctx, sb.String(), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting matches: %w", err)
	}
	return n, nil
}

// orderBy lowers sort keys. Index-backed keys sort by the smallest of a
// resource's values, which is deterministic for multi-valued parameters.
func (e *Engine) orderBy(q *Query) (string, []any) {
	var sb strings.Builder
	var args []any
	sb.WriteString(" ORDER BY ")
	sawID := false
	for i, k := range q.Sort {
		if i > 0 {
			sb.WriteString(", ")
		}
		dir := " ASC"
		if k.Desc {
			dir = " DESC"
		}
		switch k.Name {
		case "_lastUpdated":
			sb.WriteString("c.last_updated" + dir)
		case "_id":
			sb.WriteString("c.id" + dir)
			sawID = true
		default:
			fmt.Fprintf(&sb, "(SELECT MIN(%s) FROM %s s WHERE s.type = c.type AND s.id = c.id AND s.param = ?)%s",
				sortColumn(k.Param.Type), tableFor(k.Param.Type), dir)
			args = append(args, k.Param.Name)
		}
	}
	if !sawID {
		sb.WriteString(", c.id ASC")
	}
	return sb.String(), args
}

func sortColumn(t catalog.ParamType) string {
	switch t {
	case catalog.Token:
		return "code"
	case catalog.Date:
		return "start_ms"
	default:
		return "value"
	}
}

// defaultSortKeys reports whether the sort is the server default, which is
// the only order the keyset cursor understands.
func defaultSortKeys(keys []SortKey) bool {
	return len(keys) == 2 &&
		keys[0].Name == "_lastUpdated" && keys[0].Desc &&
		keys[1].Name == "_id" && !keys[1].Desc
}

func (e *Engine) scanHits(ctx context.Context, query string, args []any) ([]Hit, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying resources: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var doc string
		if err := rows.Scan(&h.Type, &h.ID, &h.VersionID, &h.LastUpdated, &doc); err != nil {
			return nil, fmt.Errorf("scanning resource row: %w", err)
		}
		h.Doc = []byte(doc)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// groupByType buckets hits by resource type, with deterministic key order
// for the callers that issue one query per bucket.
func groupByType(hits []Hit) ([]string, map[string][]string) {
	byType := make(map[string][]string)
	for _, h := range hits {
		byType[h.Type] = append(byType[h.Type], h.ID)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, byType
}
