package fhirpath_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jpl-au/fhird/internal/fhirpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, src string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func values(t *testing.T, expr string, document map[string]any) []any {
	t.Helper()
	e, err := fhirpath.Compile(expr)
	require.NoError(t, err)
	var out []any
	for _, f := range e.Collect(document) {
		out = append(out, f.Value)
	}
	return out
}

// --- Traversal Tests ---

func TestEval_FlatMapsArrays(t *testing.T) {
	d := doc(t, `{"name":[{"given":["Jane","Q"]},{"given":["Janie"]}]}`)
	assert.Equal(t, []any{"Jane", "Q", "Janie"}, values(t, "name.given", d))
}

func TestEval_MissingKeysYieldNothing(t *testing.T) {
	d := doc(t, `{"name":[{"family":"Doe"}]}`)
	assert.Empty(t, values(t, "name.given", d))
	assert.Empty(t, values(t, "address.city", d))
}

func TestEval_TypeAnchorSkipped(t *testing.T) {
	d := doc(t, `{"name":[{"family":"Doe"}]}`)
	assert.Equal(t, []any{"Doe"}, values(t, "Patient.name.family", d))
}

func TestEval_NumericIndex(t *testing.T) {
	d := doc(t, `{"name":[{"family":"First"},{"family":"Second"}]}`)
	assert.Equal(t, []any{"First"}, values(t, "name[0].family", d))
	assert.Empty(t, values(t, "name[5].family", d))
}

func TestEval_ScalarMismatchYieldsNothing(t *testing.T) {
	d := doc(t, `{"active":true}`)
	assert.Empty(t, values(t, "active.code", d))
}

// --- Polymorphic Tests ---

func TestEval_Polymorphic(t *testing.T) {
	d := doc(t, `{"valueQuantity":{"value":5.4,"unit":"mg"}}`)
	e := fhirpath.MustCompile("value[x]")
	frags := e.Collect(d)

	require.Len(t, frags, 1)
	assert.Equal(t, "Quantity", frags[0].TypeHint)
	q := frags[0].Value.(map[string]any)
	assert.Equal(t, "mg", q["unit"])
}

func TestEval_PolymorphicDescends(t *testing.T) {
	d := doc(t, `{"effectiveDateTime":"2024-07-15"}`)
	e := fhirpath.MustCompile("effective[x]")
	frags := e.Collect(d)

	require.Len(t, frags, 1)
	assert.Equal(t, "DateTime", frags[0].TypeHint)
	assert.Equal(t, "2024-07-15", frags[0].Value)
}

func TestEval_PolymorphicDeterministicOrder(t *testing.T) {
	d := doc(t, `{"valueString":"b","valueBoolean":true}`)
	e := fhirpath.MustCompile("value[x]")
	frags := e.Collect(d)

	require.Len(t, frags, 2)
	assert.Equal(t, "Boolean", frags[0].TypeHint)
	assert.Equal(t, "String", frags[1].TypeHint)
}

func TestEval_PolymorphicIgnoresNonDiscriminator(t *testing.T) {
	// "valuest" does not continue with an uppercase letter.
	d := doc(t, `{"valuest":1,"value":2}`)
	e := fhirpath.MustCompile("value[x]")
	assert.Empty(t, e.Collect(d))
}

// --- Filter Tests ---

func TestEval_WhereEq(t *testing.T) {
	d := doc(t, `{"telecom":[
		{"system":"phone","value":"555-1"},
		{"system":"email","value":"j@example.org"}]}`)
	assert.Equal(t, []any{"j@example.org"}, values(t, "telecom.where(system='email').value", d))
}

func TestEval_WhereResolve(t *testing.T) {
	d := doc(t, `{"subject":{"reference":"Patient/p1"}}`)
	assert.Len(t, values(t, "subject.where(resolve() is Patient)", d), 1)
	assert.Empty(t, values(t, "subject.where(resolve() is Group)", d))
}

func TestEval_WhereResolveArray(t *testing.T) {
	d := doc(t, `{"participant":[
		{"individual":{"reference":"Practitioner/d1"}},
		{"individual":{"reference":"Patient/p1"}}]}`)
	got := values(t, "participant.individual.where(resolve() is Practitioner)", d)
	require.Len(t, got, 1)
	assert.Equal(t, "Practitioner/d1", got[0].(map[string]any)["reference"])
}

// --- Compile Tests ---

func TestCompile_Errors(t *testing.T) {
	for _, src := range []string{
		"",
		"name..family",
		"Patient",
		"name.where(system=phone)",
		"name.where(resolve() Patient)",
		"name.[x]",
		"name[x",
		"na me",
	} {
		_, err := fhirpath.Compile(src)
		assert.Error(t, err, src)
	}
}

func TestCompile_LazyStop(t *testing.T) {
	d := doc(t, `{"name":[{"given":["a","b","c","d"]}]}`)
	e := fhirpath.MustCompile("name.given")

	n := 0
	for range e.Eval(d) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}
