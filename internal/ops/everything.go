// everything.go implements the patient compartment export.
//
// Membership comes from the fixed compartment table: a resource belongs to
// the patient's record when one of its compartment parameters references the
// patient. The export adds one hop of directly referenced support resources
// (practitioners, organizations, medications) so the bundle stands alone,
// then filters, orders, and pages the flat set.

package ops

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/search"
)

// EverythingOptions narrows and pages the export.
type EverythingOptions struct {
	// Since keeps only resources last updated at or after this instant.
	// The Patient itself is always included. Zero means no filter.
	Since time.Time

	// Types keeps only the named resource types. Empty means all.
	Types []string

	Count  int
	Offset int
}

// Everything returns one page of the patient's compartment as a searchset
// bundle: the Patient, every compartment member referencing it, and the
// resources those members directly reference.
func (p *Processor) Everything(ctx context.Context, patientID string, opts EverythingOptions) (*fhir.Bundle, error) {
	patient, err := p.st.Read(ctx, "Patient", patientID)
	if err != nil {
		return nil, err
	}

	count := opts.Count
	if count <= 0 {
		count = p.opts.DefaultCount
	}
	if count > p.opts.MaxCount {
		count = p.opts.MaxCount
	}
	offset := opts.Offset
	if offset < 0 {
		return nil, fhir.Errorf(fhir.KindMalformed, "negative _offset")
	}

	release, err := p.st.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	members, truncated, err := p.compartmentMembers(ctx, patientID, opts)
	if err != nil {
		return nil, err
	}
	extras, err := p.oneHop(ctx, patientID, members, opts)
	if err != nil {
		return nil, err
	}

	type flatEntry struct {
		hit     search.Hit
		include bool
	}
	flat := make([]flatEntry, 0, 1+len(members)+len(extras))
	flat = append(flat, flatEntry{hit: search.Hit{
		Type: patient.Type, ID: patient.ID,
		VersionID: patient.VersionID, LastUpdated: patient.LastUpdated,
		Doc: patient.Doc,
	}})
	for _, h := range members {
		flat = append(flat, flatEntry{hit: h})
	}
	for _, h := range extras {
		flat = append(flat, flatEntry{hit: h, include: true})
	}

	total := len(flat)
	start := offset
	if start > total {
		start = total
	}
	end := start + count
	if end > total {
		end = total
	}

	b := fhir.NewBundle(fhir.BundleTypeSearchset, fhir.FormatInstant(time.Now().UTC()))
	b.SetTotal(total)
	b.AddLink("self", p.everythingURL(patientID, opts, count, offset))
	if end < total {
		b.AddLink("next", p.everythingURL(patientID, opts, count, end))
	}
	if start > 0 {
		prev := start - count
		if prev < 0 {
			prev = 0
		}
		b.AddLink("previous", p.everythingURL(patientID, opts, count, prev))
	}

	for _, fe := range flat[start:end] {
		mode := fhir.SearchModeMatch
		if fe.include {
			mode = fhir.SearchModeInclude
		}
		b.Entry = append(b.Entry, fhir.BundleEntry{
			FullURL:  p.base + "/" + fe.hit.Type + "/" + fe.hit.ID,
			Resource: fe.hit.Doc,
			Search:   &fhir.BundleSearch{Mode: mode},
		})
	}

	if len(truncated) > 0 {
		warnings := make([]string, len(truncated))
		for i, typ := range truncated {
			warnings[i] = fmt.Sprintf("compartment holds more than %d %s resources; the excess is not included", p.opts.TypeCap, typ)
		}
		if e := warningsEntry(warnings); e != nil {
			b.Entry = append(b.Entry, *e)
		}
	}
	return b, nil
}

// compartmentClause builds the EXISTS fragment tying alias rows to the
// patient through the type's compartment parameters.
func compartmentClause(alias string, params []string) string {
	return `EXISTS (SELECT 1 FROM ref_index m WHERE m.type = ` + alias + `.type AND m.id = ` + alias + `.id
		AND m.param IN (` + qMarks(len(params)) + `) AND m.target_type = 'Patient' AND m.target_id = ?)`
}

// compartmentMembers collects current compartment resources per member
// type, honouring the _since and _type filters, capped per type. Returns
// the hits ordered by (type, id) plus the types the cap truncated.
func (p *Processor) compartmentMembers(ctx context.Context, patientID string, opts EverythingOptions) ([]search.Hit, []string, error) {
	var hits []search.Hit
	var truncated []string
	for _, typ := range catalog.PatientCompartmentTypes() {
		if !typeAllowed(typ, opts.Types) || !p.cat.Supports(typ) {
			continue
		}
		params := catalog.PatientCompartmentParams(typ)

		var sb strings.Builder
		sb.WriteString(`SELECT c.type, c.id, c.version_id, c.last_updated, r.doc
			FROM current c JOIN resources r ON r.type = c.type AND r.id = c.id AND r.version_id = c.version_id
			WHERE c.type = ? AND c.deleted = 0 AND `)
		sb.WriteString(compartmentClause("c", params))
		args := []any{typ}
		for _, pm := range params {
			args = append(args, pm)
		}
		args = append(args, patientID)
		if !opts.Since.IsZero() {
			sb.WriteString(` AND c.last_updated >= ?`)
			args = append(args, opts.Since.UnixMilli())
		}
		sb.WriteString(` ORDER BY c.id LIMIT ?`)
		args = append(args, p.opts.TypeCap+1)

		rows, err := p.st.DB().QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return nil, nil, fmt.Errorf("collect %s compartment: %w", typ, err)
		}
		typeHits, err := scanFlat(rows)
		if err != nil {
			return nil, nil, err
		}
		if len(typeHits) > p.opts.TypeCap {
			typeHits = typeHits[:p.opts.TypeCap]
			truncated = append(truncated, typ)
		}
		hits = append(hits, typeHits...)
	}
	return hits, truncated, nil
}

// oneHop fetches the resources the collected set references directly,
// excluding anything already collected, capped per type.
func (p *Processor) oneHop(ctx context.Context, patientID string, members []search.Hit, opts EverythingOptions) ([]search.Hit, error) {
	seen := make(map[string]bool, len(members)+1)
	seen["Patient/"+patientID] = true
	for _, h := range members {
		seen[h.Type+"/"+h.ID] = true
	}

	// Distinct targets referenced by the patient itself.
	targets := make(map[string]map[string]bool)
	addTarget := func(typ, id string) {
		if seen[typ+"/"+id] || !p.cat.Supports(typ) || !typeAllowed(typ, opts.Types) {
			return
		}
		if targets[typ] == nil {
			targets[typ] = make(map[string]bool)
		}
		targets[typ][id] = true
	}

	rows, err := p.st.DB().QueryContext(ctx,
		`SELECT DISTINCT target_type, target_id FROM ref_index WHERE type = 'Patient' AND id = ? AND target_type <> ''`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("collect patient references: %w", err)
	}
	if err := scanTargets(rows, addTarget); err != nil {
		return nil, err
	}

	// Distinct targets referenced by compartment members, one query per
	// member type. The join keeps the sources on live, since-filtered rows
	// so an excluded member drags nothing in.
	memberTypes := make(map[string]bool)
	for _, h := range members {
		memberTypes[h.Type] = true
	}
	for typ := range memberTypes {
		params := catalog.PatientCompartmentParams(typ)
		var sb strings.Builder
		sb.WriteString(`SELECT DISTINCT x.target_type, x.target_id FROM ref_index x
			JOIN current sc ON sc.type = x.type AND sc.id = x.id AND sc.deleted = 0
			WHERE x.type = ? AND x.target_type <> '' AND `)
		sb.WriteString(compartmentClause("x", params))
		args := []any{typ}
		for _, pm := range params {
			args = append(args, pm)
		}
		args = append(args, patientID)
		if !opts.Since.IsZero() {
			sb.WriteString(` AND sc.last_updated >= ?`)
			args = append(args, opts.Since.UnixMilli())
		}
		rows, err := p.st.DB().QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return nil, fmt.Errorf("collect %s references: %w", typ, err)
		}
		if err := scanTargets(rows, addTarget); err != nil {
			return nil, err
		}
	}

	// Hydrate the targets, ordered by (type, id).
	types := make([]string, 0, len(targets))
	for typ := range targets {
		types = append(types, typ)
	}
	sort.Strings(types)

	var extras []search.Hit
	for _, typ := range types {
		ids := make([]string, 0, len(targets[typ]))
		for id := range targets[typ] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) > p.opts.TypeCap {
			ids = ids[:p.opts.TypeCap]
		}
		for start := 0; start < len(ids); start += hydrateChunk {
			end := start + hydrateChunk
			if end > len(ids) {
				end = len(ids)
			}
			chunk := ids[start:end]
			args := make([]any, 0, len(chunk)+1)
			args = append(args, typ)
			for _, id := range chunk {
				args = append(args, id)
			}
			rows, err := p.st.DB().QueryContext(ctx,
				`SELECT c.type, c.id, c.version_id, c.last_updated, r.doc
				FROM current c JOIN resources r ON r.type = c.type AND r.id = c.id AND r.version_id = c.version_id
				WHERE c.type = ? AND c.deleted = 0 AND c.id IN (`+qMarks(len(chunk))+`) ORDER BY c.id`,
				args...)
			if err != nil {
				return nil, fmt.Errorf("hydrate %s references: %w", typ, err)
			}
			hits, err := scanFlat(rows)
			if err != nil {
				return nil, err
			}
			extras = append(extras, hits...)
		}
	}
	return extras, nil
}

// hydrateChunk bounds IN-list size when fetching referenced resources.
const hydrateChunk = 500

func (p *Processor) everythingURL(patientID string, opts EverythingOptions, count, offset int) string {
	var parts []string
	if !opts.Since.IsZero() {
		parts = append(parts, "_since="+fhir.FormatInstant(opts.Since))
	}
	if len(opts.Types) > 0 {
		parts = append(parts, "_type="+strings.Join(opts.Types, ","))
	}
	parts = append(parts, "_count="+strconv.Itoa(count), "_offset="+strconv.Itoa(offset))
	return p.base + "/Patient/" + patientID + "/$everything?" + strings.Join(parts, "&")
}

func typeAllowed(typ string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range filter {
		if t == typ {
			return true
		}
	}
	return false
}

func scanFlat(rows *sql.Rows) ([]search.Hit, error) {
	defer rows.Close()
	var hits []search.Hit
	for rows.Next() {
		var h search.Hit
		if err := rows.Scan(&h.Type, &h.ID, &h.VersionID, &h.LastUpdated, &h.Doc); err != nil {
			return nil, fmt.Errorf("scan compartment row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func scanTargets(rows *sql.Rows, add func(typ, id string)) error {
	defer rows.Close()
	for rows.Next() {
		var typ, id string
		if err := rows.Scan(&typ, &id); err != nil {
			return fmt.Errorf("scan reference target: %w", err)
		}
		add(typ, id)
	}
	return rows.Err()
}

func qMarks(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
