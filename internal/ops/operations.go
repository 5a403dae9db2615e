// operations.go implements the extended operations: $validate, the $meta
// family, and ValueSet/$expand.

package ops

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/index"
)

// --- $validate ---

// Validate runs the shape checks a write would apply, without writing:
// envelope, meta structure, contained resources, and a dry run of search
// parameter extraction. Extraction failures come back as warnings since
// they never fail a write either. The outcome reports findings; only the
// transport layer turns it into a status code.
func (p *Processor) Validate(resourceType string, doc []byte) *fhir.OperationOutcome {
	res, err := fhir.Decode(doc)
	if err != nil {
		out, _ := fhir.OutcomeFromError(err)
		return out
	}

	out := &fhir.OperationOutcome{ResourceType: "OperationOutcome"}
	if err := fhir.ValidateEnvelope(res, resourceType); err != nil {
		out.AddIssue(fhir.SeverityError, fhir.IssueCodeFor(fhir.KindOf(err)), err.Error())
	}
	metaIssues(res, out)
	containedIssues(res, out)

	switch typ := res.Type(); {
	case typ == "":
		// Envelope check already reported it.
	case !p.cat.Supports(typ):
		out.AddIssue(fhir.SeverityWarning, "not-supported",
			fmt.Sprintf("no search parameters are registered for %s; instances are stored but only addressable by id", typ))
	default:
		_, skips := index.Extract(p.cat, res, p.base)
		for _, sk := range skips {
			out.AddIssue(fhir.SeverityWarning, "value",
				fmt.Sprintf("search parameter %q: %v", sk.Param, sk.Err))
		}
	}

	if len(out.Issue) == 0 {
		return fhir.AllOK()
	}
	return out
}

// metaIssues checks the structure of the server-managed meta element.
func metaIssues(res fhir.Resource, out *fhir.OperationOutcome) {
	raw, present := res["meta"]
	if !present {
		return
	}
	m, ok := raw.(map[string]any)
	if !ok {
		out.AddIssue(fhir.SeverityError, "structure", "meta must be an object")
		return
	}
	if v, ok := m["versionId"]; ok {
		if _, isStr := v.(string); !isStr {
			out.AddIssue(fhir.SeverityError, "structure", "meta.versionId must be a string")
		}
	}
	if v, ok := m["lastUpdated"]; ok {
		s, isStr := v.(string)
		if !isStr {
			out.AddIssue(fhir.SeverityError, "structure", "meta.lastUpdated must be a string")
		} else if _, err := fhir.ParseInstant(s); err != nil {
			out.AddIssue(fhir.SeverityError, "value", fmt.Sprintf("meta.lastUpdated: %v", err))
		}
	}
	if v, ok := m["profile"]; ok {
		l, isList := v.([]any)
		if !isList {
			out.AddIssue(fhir.SeverityError, "structure", "meta.profile must be an array")
		} else {
			for i, e := range l {
				if _, isStr := e.(string); !isStr {
					out.AddIssue(fhir.SeverityError, "structure", fmt.Sprintf("meta.profile[%d] must be a canonical uri string", i))
				}
			}
		}
	}
	for _, field := range []string{"tag", "security"} {
		v, ok := m[field]
		if !ok {
			continue
		}
		l, isList := v.([]any)
		if !isList {
			out.AddIssue(fhir.SeverityError, "structure", fmt.Sprintf("meta.%s must be an array", field))
			continue
		}
		for i, e := range l {
			if _, isObj := e.(map[string]any); !isObj {
				out.AddIssue(fhir.SeverityError, "structure", fmt.Sprintf("meta.%s[%d] must be a Coding object", field, i))
			}
		}
	}
}

// containedIssues checks that contained resources are objects carrying their
// own resourceType and an id to address them by.
func containedIssues(res fhir.Resource, out *fhir.OperationOutcome) {
	raw, present := res["contained"]
	if !present {
		return
	}
	l, ok := raw.([]any)
	if !ok {
		out.AddIssue(fhir.SeverityError, "structure", "contained must be an array")
		return
	}
	for i, e := range l {
		m, isObj := e.(map[string]any)
		if !isObj {
			out.AddIssue(fhir.SeverityError, "structure", fmt.Sprintf("contained[%d] must be a resource object", i))
			continue
		}
		c := fhir.Resource(m)
		if c.Type() == "" {
			out.AddIssue(fhir.SeverityError, "structure", fmt.Sprintf("contained[%d] is missing resourceType", i))
		}
		if c.ID() == "" {
			out.AddIssue(fhir.SeverityWarning, "invalid", fmt.Sprintf("contained[%d] has no id and cannot be referenced", i))
		}
	}
}

// --- $meta family ---

// Meta returns the meta of one resource, or the tags, security labels, and
// profiles in use across a type (or the whole system when resourceType is
// empty), wrapped as the conventional Parameters response. Aggregation reads
// the index tables, so it covers current, non-deleted resources.
func (p *Processor) Meta(ctx context.Context, resourceType, id string) (fhir.Resource, error) {
	if id != "" {
		cur, err := p.st.Read(ctx, resourceType, id)
		if err != nil {
			return nil, err
		}
		res, err := fhir.Decode(cur.Doc)
		if err != nil {
			return nil, fmt.Errorf("decode stored %s/%s: %w", resourceType, id, err)
		}
		m, _ := res["meta"].(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
		return metaParameters(m), nil
	}

	release, err := p.st.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	meta := map[string]any{}
	for _, agg := range []struct {
		param string
		field string
	}{{"_tag", "tag"}, {"_security", "security"}} {
		codings, err := p.aggregateCodings(ctx, resourceType, agg.param)
		if err != nil {
			return nil, err
		}
		if len(codings) > 0 {
			meta[agg.field] = codings
		}
	}
	profiles, err := p.aggregateProfiles(ctx, resourceType)
	if err != nil {
		return nil, err
	}
	if len(profiles) > 0 {
		meta["profile"] = profiles
	}
	return metaParameters(meta), nil
}

// MetaAdd merges tags, security labels, and profiles into a resource's meta
// and writes a new version, so the _tag/_security/_profile indexes stay in
// step. Entries already present (same system and code, or same profile uri)
// are left alone; versionId and lastUpdated in the input are ignored. The
// version check on the write catches a concurrent update between the read
// and the merge.
func (p *Processor) MetaAdd(ctx context.Context, resourceType, id string, meta map[string]any) (fhir.Resource, error) {
	cur, err := p.st.Read(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}
	res, err := fhir.Decode(cur.Doc)
	if err != nil {
		return nil, fmt.Errorf("decode stored %s/%s: %w", resourceType, id, err)
	}

	m := res.Meta()
	if add := asList(meta["tag"]); len(add) > 0 {
		m["tag"] = mergeCodings(asList(m["tag"]), add)
	}
	if add := asList(meta["security"]); len(add) > 0 {
		m["security"] = mergeCodings(asList(m["security"]), add)
	}
	if add := asList(meta["profile"]); len(add) > 0 {
		m["profile"] = mergeProfiles(asList(m["profile"]), add)
	}

	wr, err := p.st.Update(ctx, resourceType, id, res, cur.VersionID)
	if err != nil {
		return nil, err
	}
	return metaParameters(wr.Resource.Meta()), nil
}

// MetaDelete removes the given tags, security labels, and profiles from a
// resource's meta and writes a new version. Entries not present are ignored.
func (p *Processor) MetaDelete(ctx context.Context, resourceType, id string, meta map[string]any) (fhir.Resource, error) {
	cur, err := p.st.Read(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}
	res, err := fhir.Decode(cur.Doc)
	if err != nil {
		return nil, fmt.Errorf("decode stored %s/%s: %w", resourceType, id, err)
	}

	m := res.Meta()
	if del := asList(meta["tag"]); len(del) > 0 {
		setOrClear(m, "tag", removeCodings(asList(m["tag"]), del))
	}
	if del := asList(meta["security"]); len(del) > 0 {
		setOrClear(m, "security", removeCodings(asList(m["security"]), del))
	}
	if del := asList(meta["profile"]); len(del) > 0 {
		setOrClear(m, "profile", removeProfiles(asList(m["profile"]), del))
	}

	wr, err := p.st.Update(ctx, resourceType, id, res, cur.VersionID)
	if err != nil {
		return nil, err
	}
	return metaParameters(wr.Resource.Meta()), nil
}

// MetaFromParameters unwraps the Parameters input of $meta-add/$meta-delete.
func MetaFromParameters(res fhir.Resource) (map[string]any, error) {
	if res.Type() != "Parameters" {
		return nil, fhir.Errorf(fhir.KindMalformed, "expected a Parameters resource, got %q", res.Type())
	}
	for _, e := range asList(res["parameter"]) {
		pm, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if name, _ := pm["name"].(string); name != "meta" {
			continue
		}
		if v, ok := pm["valueMeta"].(map[string]any); ok {
			return v, nil
		}
		return nil, fhir.Errorf(fhir.KindMalformed, "parameter \"meta\" must carry a valueMeta object")
	}
	return nil, fhir.Errorf(fhir.KindMalformed, "Parameters is missing the \"meta\" parameter")
}

func metaParameters(meta map[string]any) fhir.Resource {
	return fhir.Resource{
		"resourceType": "Parameters",
		"parameter": []any{
			map[string]any{"name": "return", "valueMeta": meta},
		},
	}
}

func (p *Processor) aggregateCodings(ctx context.Context, resourceType, param string) ([]any, error) {
	q := `SELECT DISTINCT system, code FROM token_index WHERE param = ?`
	args := []any{param}
	if resourceType != "" {
		q += ` AND type = ?`
		args = append(args, resourceType)
	}
	q += ` ORDER BY system, code`

	rows, err := p.st.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", param, err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var system, code string
		if err := rows.Scan(&system, &code); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", param, err)
		}
		coding := map[string]any{}
		if system != "" {
			coding["system"] = system
		}
		if code != "" {
			coding["code"] = code
		}
		if len(coding) > 0 {
			out = append(out, coding)
		}
	}
	return out, rows.Err()
}

func (p *Processor) aggregateProfiles(ctx context.Context, resourceType string) ([]any, error) {
	q := `SELECT DISTINCT value FROM uri_index WHERE param = '_profile'`
	args := []any{}
	if resourceType != "" {
		q += ` AND type = ?`
		args = append(args, resourceType)
	}
	q += ` ORDER BY value`

	rows, err := p.st.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate _profile: %w", err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan _profile row: %w", err)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

// codingKey identifies a Coding by system and code for merge and remove.
// Display differences do not make two codings distinct.
func codingKey(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	system, _ := m["system"].(string)
	code, _ := m["code"].(string)
	if system == "" && code == "" {
		return "", false
	}
	return system + "|" + code, true
}

func mergeCodings(existing, add []any) []any {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		if k, ok := codingKey(e); ok {
			seen[k] = true
		}
	}
	out := existing
	for _, a := range add {
		k, ok := codingKey(a)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}

func removeCodings(existing, del []any) []any {
	drop := make(map[string]bool, len(del))
	for _, d := range del {
		if k, ok := codingKey(d); ok {
			drop[k] = true
		}
	}
	out := make([]any, 0, len(existing))
	for _, e := range existing {
		if k, ok := codingKey(e); ok && drop[k] {
			continue
		}
		out = append(out, e)
	}
	return out
}

func mergeProfiles(existing, add []any) []any {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		if s, ok := e.(string); ok {
			seen[s] = true
		}
	}
	out := existing
	for _, a := range add {
		s, ok := a.(string)
		if !ok || s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func removeProfiles(existing, del []any) []any {
	drop := make(map[string]bool, len(del))
	for _, d := range del {
		if s, ok := d.(string); ok {
			drop[s] = true
		}
	}
	out := make([]any, 0, len(existing))
	for _, e := range existing {
		if s, ok := e.(string); ok && drop[s] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// setOrClear writes the list under key, or drops the key when the list is
// empty so documents do not accumulate empty arrays.
func setOrClear(m map[string]any, key string, list []any) {
	if len(list) == 0 {
		delete(m, key)
		return
	}
	m[key] = list
}

// --- ValueSet/$expand ---

// Expand expands a ValueSet whose compose carries inline concept lists. One
// of id and canonical must be given; canonical resolves through the url
// search parameter. Anything that needs a terminology server (filters,
// nested value sets, whole code systems) is unsupported.
func (p *Processor) Expand(ctx context.Context, id, canonical string) (fhir.Resource, error) {
	switch {
	case id == "" && canonical == "":
		return nil, fhir.Errorf(fhir.KindMalformed, "$expand needs an id or a url parameter")
	case id == "":
		resolved, err := p.resolveValueSet(ctx, canonical)
		if err != nil {
			return nil, err
		}
		id = resolved
	}

	cur, err := p.st.Read(ctx, "ValueSet", id)
	if err != nil {
		return nil, err
	}
	res, err := fhir.Decode(cur.Doc)
	if err != nil {
		return nil, fmt.Errorf("decode stored ValueSet/%s: %w", id, err)
	}

	compose, ok := res["compose"].(map[string]any)
	if !ok {
		return nil, fhir.Errorf(fhir.KindUnsupported, "ValueSet/%s has no compose to expand", id)
	}

	excluded, err := excludedCodes(compose)
	if err != nil {
		return nil, err
	}

	var contains []any
	seen := map[string]bool{}
	for _, e := range asList(compose["include"]) {
		inc, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if len(asList(inc["filter"])) > 0 {
			return nil, fhir.Errorf(fhir.KindUnsupported, "compose.include.filter requires a terminology server")
		}
		if len(asList(inc["valueSet"])) > 0 {
			return nil, fhir.Errorf(fhir.KindUnsupported, "compose.include.valueSet requires a terminology server")
		}
		system, _ := inc["system"].(string)
		concepts := asList(inc["concept"])
		if len(concepts) == 0 {
			return nil, fhir.Errorf(fhir.KindUnsupported, "including all of code system %q requires a terminology server", system)
		}
		for _, ce := range concepts {
			cm, ok := ce.(map[string]any)
			if !ok {
				continue
			}
			code, _ := cm["code"].(string)
			if code == "" {
				continue
			}
			key := system + "|" + code
			if seen[key] || excluded[key] || excluded[system+"|*"] {
				continue
			}
			seen[key] = true
			entry := map[string]any{"code": code}
			if system != "" {
				entry["system"] = system
			}
			if display, _ := cm["display"].(string); display != "" {
				entry["display"] = display
			}
			contains = append(contains, entry)
		}
	}

	expansion := map[string]any{
		"identifier": "urn:uuid:" + uuid.NewString(),
		"timestamp":  fhir.FormatInstant(time.Now().UTC()),
		"total":      len(contains),
	}
	if len(contains) > 0 {
		expansion["contains"] = contains
	}
	out := res.Clone()
	out["expansion"] = expansion
	return out, nil
}

// resolveValueSet finds the ValueSet id for a canonical url via the url
// search parameter.
func (p *Processor) resolveValueSet(ctx context.Context, canonical string) (string, error) {
	release, err := p.st.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	ids, err := p.eng.ResolveIDs(ctx, "ValueSet", "url="+url.QueryEscape(canonical), 2)
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fhir.Errorf(fhir.KindNotFound, "no ValueSet has url %q", canonical)
	case 1:
		return ids[0], nil
	default:
		return "", fhir.Errorf(fhir.KindConflict, "multiple ValueSets have url %q", canonical)
	}
}

// excludedCodes flattens compose.exclude into a (system, code) set. Excludes
// carry the same terminology-server limitations as includes.
func excludedCodes(compose map[string]any) (map[string]bool, error) {
	out := map[string]bool{}
	for _, e := range asList(compose["exclude"]) {
		exc, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if len(asList(exc["filter"])) > 0 || len(asList(exc["valueSet"])) > 0 {
			return nil, fhir.Errorf(fhir.KindUnsupported, "compose.exclude beyond concept lists requires a terminology server")
		}
		system, _ := exc["system"].(string)
		concepts := asList(exc["concept"])
		if len(concepts) == 0 {
			// Excluding a whole system: drop every code carrying it.
			out[system+"|*"] = true
			continue
		}
		for _, ce := range concepts {
			cm, ok := ce.(map[string]any)
			if !ok {
				continue
			}
			if code, _ := cm["code"].(string); code != "" {
				out[system+"|"+code] = true
			}
		}
	}
	return out, nil
}
