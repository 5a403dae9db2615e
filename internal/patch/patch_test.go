package patch_test

import (
	"encoding/json"
	"testing"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/patch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, src string) fhir.Resource {
	t.Helper()
	r, err := fhir.Decode([]byte(src))
	require.NoError(t, err)
	return r
}

func mustApply(t *testing.T, r fhir.Resource, ops string) fhir.Resource {
	t.Helper()
	out, err := patch.Apply(r, []byte(ops))
	require.NoError(t, err)
	return out
}

// --- Operation Tests ---

func TestApply_AddAndReplace(t *testing.T) {
	r := doc(t, `{"resourceType": "Patient", "active": false}`)

	out := mustApply(t, r, `[
		{"op": "replace", "path": "/active", "value": true},
		{"op": "add", "path": "/gender", "value": "female"}
	]`)

	assert.Equal(t, true, out["active"])
	assert.Equal(t, "female", out["gender"])
	// The input document is untouched.
	assert.Equal(t, false, r["active"])
	assert.NotContains(t, r, "gender")
}

func TestApply_ArrayInsertAndAppend(t *testing.T) {
	r := doc(t, `{"resourceType": "Patient", "name": [{"family": "One"}, {"family": "Three"}]}`)

	out := mustApply(t, r, `[
		{"op": "add", "path": "/name/1", "value": {"family": "Two"}},
		{"op": "add", "path": "/name/-", "value": {"family": "Four"}}
	]`)

	names := out["name"].([]any)
	require.Len(t, names, 4)
	for i, want := range []string{"One", "Two", "Three", "Four"} {
		assert.Equal(t, want, names[i].(map[string]any)["family"])
	}
	assert.Len(t, r["name"].([]any), 2)
}

func TestApply_Remove(t *testing.T) {
	r := doc(t, `{"resourceType": "Patient", "gender": "other", "name": [{"family": "A"}, {"family": "B"}]}`)

	out := mustApply(t, r, `[
		{"op": "remove", "path": "/gender"},
		{"op": "remove", "path": "/name/0"}
	]`)

	assert.NotContains(t, out, "gender")
	names := out["name"].([]any)
	require.Len(t, names, 1)
	assert.Equal(t, "B", names[0].(map[string]any)["family"])
}

func TestApply_MoveAndCopy(t *testing.T) {
	r := doc(t, `{"resourceType": "Patient", "a": {"x": 1}, "b": {}}`)

	out := mustApply(t, r, `[
		{"op": "copy", "from": "/a", "path": "/b/copied"},
		{"op": "move", "from": "/a/x", "path": "/moved"}
	]`)

	assert.NotContains(t, out["a"].(map[string]any), "x")
	assert.Equal(t, json.Number("1"), out["moved"])
	copied := out["b"].(map[string]any)["copied"].(map[string]any)
	assert.Contains(t, copied, "x", "copy happened before the move removed /a/x")
}

func TestApply_MoveIntoOwnChildRejected(t *testing.T) {
	r := doc(t, `{"resourceType": "Patient", "a": {"b": {}}}`)
	_, err := patch.Apply(r, []byte(`[{"op": "move", "from": "/a", "path": "/a/b/c"}]`))
	require.Error(t, err)
	assert.Equal(t, fhir.KindValidation, fhir.KindOf(err))
}

func TestApply_TestOp(t *testing.T) {
	r := doc(t, `{"resourceType": "Observation", "valueQuantity": {"value": 1.0}}`)

	// Numeric equality: 1 matches a stored 1.0.
	_, err := patch.Apply(r, []byte(`[{"op": "test", "path": "/valueQuantity/value", "value": 1}]`))
	require.NoError(t, err)

	_, err = patch.Apply(r, []byte(`[{"op": "test", "path": "/valueQuantity/value", "value": 2}]`))
	require.Error(t, err)
	assert.Equal(t, fhir.KindValidation, fhir.KindOf(err))
}

func TestApply_PointerEscapes(t *testing.T) {
	r := doc(t, `{"resourceType": "Basic", "a/b": 1, "c~d": 2}`)

	out := mustApply(t, r, `[
		{"op": "remove", "path": "/a~1b"},
		{"op": "replace", "path": "/c~0d", "value": 3}
	]`)

	assert.NotContains(t, out, "a/b")
	assert.Equal(t, json.Number("3"), out["c~d"])
}

// --- Error Tests ---

func TestApply_ErrorTaxonomy(t *testing.T) {
	r := doc(t, `{"resourceType": "Patient"}`)

	// Structural problems with the patch body itself are malformed.
	for _, body := range []string{
		`{"op": "add"}`,
		`[{"op": "destroy", "path": "/x"}]`,
		`[{"op": "add", "path": "/x"}]`,
		`[{"op": "move", "path": "/x"}]`,
		`[{"op": "add", "value": 1}]`,
	} {
		_, err := patch.Apply(r, []byte(body))
		require.Error(t, err, body)
		assert.Equal(t, fhir.KindMalformed, fhir.KindOf(err), body)
	}

	// A well-formed patch that cannot apply is a processing failure.
	_, err := patch.Apply(r, []byte(`[{"op": "remove", "path": "/missing"}]`))
	require.Error(t, err)
	assert.Equal(t, fhir.KindValidation, fhir.KindOf(err))

	_, err = patch.Apply(r, []byte(`[{"op": "add", "path": "/name/5", "value": 1}]`))
	require.Error(t, err)
	assert.Equal(t, fhir.KindValidation, fhir.KindOf(err))
}

func TestApply_RootReplaceMustStayObject(t *testing.T) {
	r := doc(t, `{"resourceType": "Patient"}`)
	_, err := patch.Apply(r, []byte(`[{"op": "replace", "path": "", "value": [1, 2]}]`))
	require.Error(t, err)
	assert.Equal(t, fhir.KindValidation, fhir.KindOf(err))
}

func TestApply_FirstFailureAborts(t *testing.T) {
	r := doc(t, `{"resourceType": "Patient", "active": true}`)
	_, err := patch.Apply(r, []byte(`[
		{"op": "test", "path": "/active", "value": false},
		{"op": "remove", "path": "/active"}
	]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation 0")
	assert.Equal(t, true, r["active"])
}
