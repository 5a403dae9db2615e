// include.go expands _include and _revinclude over the reference index.
//
// Expansion is breadth-first: hop zero applies every directive to the
// matches, later hops re-apply only :iterate directives to the resources the
// previous hop added, until nothing new arrives or the hop bound is hit.
// Includes are deduplicated against matches and against each other, so a
// resource appears once no matter how many paths reach it.

package search

import (
	"context"
	"strings"
)

type refKey struct{ typ, id string }

func (e *Engine) expandIncludes(ctx context.Context, q *Query, res *Result) error {
	if len(q.Includes) == 0 && len(q.RevIncludes) == 0 || len(res.Matches) == 0 {
		return nil
	}

	seen := make(map[refKey]bool, len(res.Matches))
	for _, h := range res.Matches {
		seen[refKey{h.Type, h.ID}] = true
	}

	frontier := res.Matches
	for hop := 0; hop < e.opts.MaxIncludeHops; hop++ {
		var added []Hit
		for _, spec := range q.Includes {
			if hop > 0 && !spec.Iterate {
				continue
			}
			hits, err := e.forwardInclude(ctx, spec, frontier)
			if err != nil {
				return err
			}
			added = appendNew(added, hits, seen)
		}
		for _, spec := range q.RevIncludes {
			if hop > 0 && !spec.Iterate {
				continue
			}
			hits, err := e.reverseInclude(ctx, spec, frontier)
			if err != nil {
				return err
			}
			added = appendNew(added, hits, seen)
		}
		if len(added) == 0 {
			break
		}
		res.Includes = append(res.Includes, added...)
		frontier = added
	}
	return nil
}

func appendNew(dst, hits []Hit, seen map[refKey]bool) []Hit {
	for _, h := range hits {
		k := refKey{h.Type, h.ID}
		if seen[k] {
			continue
		}
		seen[k] = true
		dst = append(dst, h)
	}
	return dst
}

// forwardInclude fetches the resources the frontier references through the
// directive's parameter.
func (e *Engine) forwardInclude(ctx context.Context, spec Include, frontier []Hit) ([]Hit, error) {
	var ids []string
	for _, h := range frontier {
		if h.Type == spec.Source {
			ids = append(ids, h.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("SELECT DISTINCT " + hitColumns + " FROM ref_index f")
	sb.WriteString(" JOIN current c ON c.type = f.target_type AND c.id = f.target_id AND c.deleted = 0")
	sb.WriteString(" JOIN resources r ON r.type = c.type AND r.id = c.id AND r.version_id = c.version_id")
	sb.WriteString(" WHERE f.type = ? AND f.param = ? AND f.id IN (")
	sb.WriteString(placeholders(len(ids)))
	sb.WriteString(")")
	args := []any{spec.Source, spec.Param}
	for _, id := range ids {
		args = append(args, id)
	}
	if spec.Target != "" {
		sb.WriteString(" AND f.target_type = ?")
		args = append(args, spec.Target)
	}
	sb.WriteString(" LIMIT ?")
	args = append(args, e.opts.TypeCap)
	return e.scanHits(ctx, sb.String(), args)
}

// reverseInclude fetches the directive-source resources that reference the
// frontier. One query per frontier type keeps the id lists flat.
func (e *Engine) reverseInclude(ctx context.Context, spec Include, frontier []Hit) ([]Hit, error) {
	types, byType := groupByType(frontier)
	var out []Hit
	for _, typ := range types {
		if spec.Target != "" && typ != spec.Target {
			continue
		}
		ids := byType[typ]

		var sb strings.Builder
		sb.WriteString("SELECT DISTINCT " + hitColumns + " FROM ref_index f")
		sb.WriteString(" JOIN current c ON c.type = f.type AND c.id = f.id AND c.deleted = 0")
		sb.WriteString(" JOIN resources r ON r.type = c.type AND r.id = c.id AND r.version_id = c.version_id")
		sb.WriteString(" WHERE c.type = ? AND f.param = ? AND f.target_type = ? AND f.target_id IN (")
		sb.WriteString(placeholders(len(ids)))
		sb.WriteString(")")
		args := []any{spec.Source, spec.Param, typ}
		for _, id := range ids {
			args = append(args, id)
		}
		sb.WriteString(" LIMIT ?")
		args = append(args, e.opts.TypeCap)

		hits, err := e.scanHits(ctx, sb.String(), args)
		if err != nil {
			return nil, err
		}
		out = append(out, hits...)
	}
	return out, nil
}
