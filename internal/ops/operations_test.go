package ops_test

import (
	"context"
	"strings"
	"testing"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- $validate ---

func TestValidateAllOK(t *testing.T) {
	_, _, proc, cleanup := setupOps(t)
	defer cleanup()

	out := proc.Validate("Patient", []byte(`{
		"resourceType": "Patient",
		"name": [{"family": "Valid"}],
		"birthDate": "1980-06-15"
	}`))
	require.Len(t, out.Issue, 1)
	assert.Equal(t, fhir.SeverityInformation, out.Issue[0].Severity)
	assert.Equal(t, "All OK", out.Issue[0].Diagnostics)
	assert.True(t, out.Informational())
}

func TestValidateEnvelopeErrors(t *testing.T) {
	_, _, proc, cleanup := setupOps(t)
	defer cleanup()

	tests := []struct {
		name string
		typ  string
		body string
		want string
	}{
		{"not json", "Patient", `{"resourceType": `, "invalid JSON"},
		{"missing resourceType", "Patient", `{"name": []}`, "resourceType"},
		{"type mismatch", "Patient", `{"resourceType": "Observation", "status": "final", "code": {}}`, "does not match"},
		{"bad id", "Patient", `{"resourceType": "Patient", "id": "no spaces!"}`, "id"},
		{"meta not object", "Patient", `{"resourceType": "Patient", "meta": "x"}`, "meta must be an object"},
		{"profile not array", "Patient", `{"resourceType": "Patient", "meta": {"profile": "x"}}`, "meta.profile"},
		{"tag not coding", "Patient", `{"resourceType": "Patient", "meta": {"tag": ["x"]}}`, "meta.tag[0]"},
		{"bad lastUpdated", "Patient", `{"resourceType": "Patient", "meta": {"lastUpdated": "yesterday"}}`, "lastUpdated"},
		{"contained not array", "Patient", `{"resourceType": "Patient", "contained": {}}`, "contained"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := proc.Validate(tc.typ, []byte(tc.body))
			assert.False(t, out.Informational(), "expected error issues")
			found := false
			for _, is := range out.Issue {
				if strings.Contains(is.Diagnostics, tc.want) {
					found = true
				}
			}
			assert.True(t, found, "no issue mentions %q: %+v", tc.want, out.Issue)
		})
	}
}

func TestValidateExtractionWarnings(t *testing.T) {
	_, _, proc, cleanup := setupOps(t)
	defer cleanup()

	out := proc.Validate("Patient", []byte(`{
		"resourceType": "Patient",
		"birthDate": "not-a-date"
	}`))
	// Bad fragment values warn the way a write would skip them.
	assert.True(t, out.Informational(), "extraction problems are warnings, not errors")
	found := false
	for _, is := range out.Issue {
		if is.Severity == fhir.SeverityWarning && strings.Contains(is.Diagnostics, "birthdate") {
			found = true
		}
	}
	assert.True(t, found, "expected a birthdate warning: %+v", out.Issue)
}

func TestValidateUnknownType(t *testing.T) {
	_, _, proc, cleanup := setupOps(t)
	defer cleanup()

	out := proc.Validate("", []byte(`{"resourceType": "Basic", "code": {}}`))
	assert.True(t, out.Informational())
	require.NotEmpty(t, out.Issue)
	assert.Equal(t, "not-supported", out.Issue[0].Code)
}

// --- $meta family ---

// returnMeta unwraps the valueMeta of a Parameters response.
func returnMeta(t *testing.T, params fhir.Resource) map[string]any {
	t.Helper()
	list, ok := params["parameter"].([]any)
	require.True(t, ok, "parameter list missing: %v", params)
	require.NotEmpty(t, list)
	p := list[0].(map[string]any)
	require.Equal(t, "return", p["name"])
	m, ok := p["valueMeta"].(map[string]any)
	require.True(t, ok, "valueMeta missing")
	return m
}

func TestMetaInstance(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "m1", `{
		"resourceType": "Patient",
		"meta": {"tag": [{"system": "http://example.org/tags", "code": "vip"}]}
	}`)

	params, err := proc.Meta(context.Background(), "Patient", "m1")
	require.NoError(t, err)
	m := returnMeta(t, params)
	assert.Equal(t, "1", m["versionId"])
	tags := m["tag"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "vip", tags[0].(map[string]any)["code"])
}

func TestMetaAggregation(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "m1", `{
		"resourceType": "Patient",
		"meta": {
			"tag": [{"system": "http://example.org/tags", "code": "vip"}],
			"profile": ["http://example.org/StructureDefinition/pat-a"]
		}
	}`)
	put(t, s, "Patient", "m2", `{
		"resourceType": "Patient",
		"meta": {"tag": [{"system": "http://example.org/tags", "code": "vip"}]}
	}`)
	put(t, s, "Patient", "m3", `{
		"resourceType": "Patient",
		"meta": {"security": [{"system": "http://example.org/sec", "code": "R"}]}
	}`)
	put(t, s, "Observation", "o1", `{
		"resourceType": "Observation", "status": "final",
		"code": {"coding": [{"code": "x"}]},
		"meta": {"tag": [{"system": "http://example.org/tags", "code": "lab"}]}
	}`)

	// Type level sees only the type's resources, deduplicated.
	params, err := proc.Meta(context.Background(), "Patient", "")
	require.NoError(t, err)
	m := returnMeta(t, params)
	tags := m["tag"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "vip", tags[0].(map[string]any)["code"])
	assert.Len(t, m["security"].([]any), 1)
	assert.Equal(t, []any{"http://example.org/StructureDefinition/pat-a"}, m["profile"])

	// System level sees everything.
	params, err = proc.Meta(context.Background(), "", "")
	require.NoError(t, err)
	m = returnMeta(t, params)
	codes := map[string]bool{}
	for _, tag := range m["tag"].([]any) {
		codes[tag.(map[string]any)["code"].(string)] = true
	}
	assert.True(t, codes["vip"] && codes["lab"])
}

func TestMetaAddAndDelete(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "m1", `{"resourceType": "Patient"}`)

	add := map[string]any{
		"tag":     []any{map[string]any{"system": "http://example.org/tags", "code": "vip"}},
		"profile": []any{"http://example.org/StructureDefinition/pat-a"},
	}
	params, err := proc.MetaAdd(context.Background(), "Patient", "m1", add)
	require.NoError(t, err)
	m := returnMeta(t, params)
	assert.Equal(t, "2", m["versionId"], "meta changes write a new version")
	assert.Len(t, m["tag"].([]any), 1)
	assert.Len(t, m["profile"].([]any), 1)

	// Adding the same coding again does not duplicate it.
	params, err = proc.MetaAdd(context.Background(), "Patient", "m1", add)
	require.NoError(t, err)
	m = returnMeta(t, params)
	assert.Len(t, m["tag"].([]any), 1)

	cur, err := s.Read(context.Background(), "Patient", "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur.VersionID)

	params, err = proc.MetaDelete(context.Background(), "Patient", "m1", add)
	require.NoError(t, err)
	m = returnMeta(t, params)
	_, hasTags := m["tag"]
	assert.False(t, hasTags, "deleted tags leave no empty array behind")
	_, hasProfiles := m["profile"]
	assert.False(t, hasProfiles)
}

func TestMetaFromParameters(t *testing.T) {
	res, err := fhir.Decode([]byte(`{
		"resourceType": "Parameters",
		"parameter": [{"name": "meta", "valueMeta": {"tag": [{"code": "x"}]}}]
	}`))
	require.NoError(t, err)

	meta, err := ops.MetaFromParameters(res)
	require.NoError(t, err)
	assert.NotNil(t, meta["tag"])

	bad, err := fhir.Decode([]byte(`{"resourceType": "Parameters", "parameter": []}`))
	require.NoError(t, err)
	_, err = ops.MetaFromParameters(bad)
	require.Error(t, err)
	assert.Equal(t, fhir.KindMalformed, fhir.KindOf(err))

	notParams, err := fhir.Decode([]byte(`{"resourceType": "Patient"}`))
	require.NoError(t, err)
	_, err = ops.MetaFromParameters(notParams)
	require.Error(t, err)
}

// --- ValueSet/$expand ---

const vitalsValueSet = `{
	"resourceType": "ValueSet",
	"url": "http://example.org/fhir/ValueSet/vitals",
	"status": "active",
	"compose": {
		"include": [
			{"system": "http://loinc.org", "concept": [
				{"code": "8867-4", "display": "Heart rate"},
				{"code": "9279-1", "display": "Respiratory rate"}
			]},
			{"system": "http://example.org/local", "concept": [{"code": "x1"}]}
		],
		"exclude": [
			{"system": "http://loinc.org", "concept": [{"code": "9279-1"}]}
		]
	}
}`

func TestExpandInlineCompose(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "ValueSet", "vitals", vitalsValueSet)

	out, err := proc.Expand(context.Background(), "vitals", "")
	require.NoError(t, err)

	exp := out["expansion"].(map[string]any)
	assert.True(t, strings.HasPrefix(exp["identifier"].(string), "urn:uuid:"))
	assert.NotEmpty(t, exp["timestamp"])
	assert.Equal(t, 2, exp["total"])

	var codes []string
	for _, c := range exp["contains"].([]any) {
		codes = append(codes, c.(map[string]any)["code"].(string))
	}
	assert.ElementsMatch(t, []string{"8867-4", "x1"}, codes, "excluded codes are dropped")
}

func TestExpandByURL(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "ValueSet", "vitals", vitalsValueSet)

	out, err := proc.Expand(context.Background(), "", "http://example.org/fhir/ValueSet/vitals")
	require.NoError(t, err)
	assert.NotNil(t, out["expansion"])

	_, err = proc.Expand(context.Background(), "", "http://example.org/fhir/ValueSet/unknown")
	require.Error(t, err)
	assert.Equal(t, fhir.KindNotFound, fhir.KindOf(err))

	// A second value set with the same url makes the reference ambiguous.
	put(t, s, "ValueSet", "vitals2", vitalsValueSet)
	_, err = proc.Expand(context.Background(), "", "http://example.org/fhir/ValueSet/vitals")
	require.Error(t, err)
	assert.Equal(t, fhir.KindConflict, fhir.KindOf(err))
}

func TestExpandUnsupported(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	tests := []struct {
		name string
		id   string
		body string
	}{
		{"no compose", "vs1", `{"resourceType": "ValueSet", "status": "active"}`},
		{"filter include", "vs2", `{
			"resourceType": "ValueSet", "status": "active",
			"compose": {"include": [{"system": "http://loinc.org", "filter": [{"property": "parent", "op": "=", "value": "LP29693-6"}]}]}
		}`},
		{"whole system", "vs3", `{
			"resourceType": "ValueSet", "status": "active",
			"compose": {"include": [{"system": "http://loinc.org"}]}
		}`},
		{"nested valueSet", "vs4", `{
			"resourceType": "ValueSet", "status": "active",
			"compose": {"include": [{"valueSet": ["http://example.org/fhir/ValueSet/other"]}]}
		}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			put(t, s, "ValueSet", tc.id, tc.body)
			_, err := proc.Expand(context.Background(), tc.id, "")
			require.Error(t, err)
			assert.Equal(t, fhir.KindUnsupported, fhir.KindOf(err))
		})
	}

	_, err := proc.Expand(context.Background(), "", "")
	require.Error(t, err)
	assert.Equal(t, fhir.KindMalformed, fhir.KindOf(err))
}
