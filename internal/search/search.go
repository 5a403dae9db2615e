// Package search compiles the FHIR search grammar into SQL over the store's
// index tables and executes it.
//
// The pipeline is parse (params.go) → lower (lower.go, chain.go) → execute
// (exec.go) → include expansion (include.go). The catalog drives every stage:
// a parameter the catalog does not name is rejected in strict mode and
// ignored with a warning otherwise, so adding catalog entries is the only way
// search behavior grows.
//
// Searches run against current, non-deleted versions only. The engine never
// writes; it shares the store's database handle and observes whatever
// snapshot the connection provides.
package search

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
)

// Limit defaults. Options fields left zero fall back to these.
const (
	DefaultCount       = 10
	DefaultMaxCount    = 1000
	DefaultChainDepth  = 2
	DefaultIncludeHops = 3
	DefaultTypeCap     = 10000
)

// Options configures an Engine.
type Options struct {
	// BaseURL recognises absolute reference values as local and prefixes
	// paging links.
	BaseURL string

	// DefaultCount is the page size when the query has no _count.
	DefaultCount int

	// MaxCount caps _count; larger requests are clamped, not rejected.
	MaxCount int

	// MaxChainDepth bounds forward chains and _has nesting.
	MaxChainDepth int

	// MaxIncludeHops bounds _include:iterate / _revinclude:iterate rounds.
	MaxIncludeHops int

	// TypeCap bounds candidates for near queries and rows per include pass.
	TypeCap int
}

func (o Options) withDefaults() Options {
	if o.DefaultCount <= 0 {
		o.DefaultCount = DefaultCount
	}
	if o.MaxCount <= 0 {
		o.MaxCount = DefaultMaxCount
	}
	if o.MaxChainDepth <= 0 {
		o.MaxChainDepth = DefaultChainDepth
	}
	if o.MaxIncludeHops <= 0 {
		o.MaxIncludeHops = DefaultIncludeHops
	}
	if o.TypeCap <= 0 {
		o.TypeCap = DefaultTypeCap
	}
	return o
}

// Engine executes searches. Safe for concurrent use.
type Engine struct {
	db   *sql.DB
	cat  *catalog.Catalog
	opts Options
}

// New builds an engine over the store's database handle.
func New(db *sql.DB, cat *catalog.Catalog, opts Options) *Engine {
	return &Engine{db: db, cat: cat, opts: opts.withDefaults()}
}

// Hit is one resource in a result set.
type Hit struct {
	Type        string
	ID          string
	VersionID   int64
	LastUpdated int64  // unix millis
	Doc         []byte // encoded current version
}

// Result is an executed search, ready for bundle assembly.
type Result struct {
	Matches  []Hit
	Includes []Hit // _include/_revinclude resources, deduplicated against Matches

	// Total is the match count across all pages; nil when not computed
	// (_total=none, or an unbounded result where counting was not requested).
	Total *int64

	// Next and Prev are opaque continuation tokens; empty at the ends.
	Next string
	Prev string

	// CountOnly is set for _summary=count results: Total is populated and
	// Matches is empty by request, not because nothing matched.
	CountOnly bool

	// Warnings collects lenient-mode diagnostics (ignored parameters,
	// unsupported _summary values) for the bundle's outcome entry.
	Warnings []string

	// Elements, when non-nil, lists the top-level elements the client asked
	// for; the bundle assembler filters documents down to these.
	Elements []string
}

// Execute parses rawQuery against resourceType and runs it. strict rejects
// unknown parameters and modifiers instead of ignoring them.
func (e *Engine) Execute(ctx context.Context, resourceType, rawQuery string, strict bool) (*Result, error) {
	if !e.cat.Supports(resourceType) {
		return nil, fhir.Errorf(fhir.KindNotFound, "unknown resource type %q", resourceType)
	}
	q, err := e.Parse(resourceType, rawQuery, strict)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, q)
}

// ResolveIDs resolves conditional-operation criteria to matching ids. The
// criteria are parsed strictly: a conditional write must not fall back to
// "ignore the parameter and match everything".
func (e *Engine) ResolveIDs(ctx context.Context, resourceType, rawQuery string, limit int) ([]string, error) {
	if !e.cat.Supports(resourceType) {
		return nil, fhir.Errorf(fhir.KindNotFound, "unknown resource type %q", resourceType)
	}
	q, err := e.Parse(resourceType, rawQuery, true)
	if err != nil {
		return nil, fhir.WrapKind(fhir.KindMalformed, err, "invalid conditional criteria")
	}
	if len(q.Conds) == 0 {
		return nil, fhir.Errorf(fhir.KindMalformed, "conditional criteria must carry at least one search parameter")
	}
	for _, c := range q.Conds {
		// near only prefilters in SQL; its exact distance check runs in the
		// paged search path, so it cannot safely pick a write target.
		if c.Param != nil && c.Param.Type == catalog.Special && c.Modifier != "missing" {
			return nil, fhir.Errorf(fhir.KindUnsupported, "%s cannot be used in conditional criteria", c.Name)
		}
	}

	f, err := e.lowerConds(q, "c")
	if err != nil {
		return nil, err
	}
	sqlText := `SELECT c.id FROM current c WHERE c.type = ? AND c.deleted = 0`
	args := []any{resourceType}
	if !f.empty() {
		sqlText += ` AND ` + f.sql
		args = append(args, f.args...)
	}
	sqlText += ` ORDER BY c.id LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve criteria: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
