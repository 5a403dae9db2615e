package diff

import (
	"strings"
	"testing"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Canonical Rendering ---

func TestCanonicalSortsKeys(t *testing.T) {
	doc, err := Canonical(fhir.Resource{
		"resourceType": "Patient",
		"id":           "p1",
		"active":       true,
	})
	require.NoError(t, err)

	// Key order in the source map must not matter.
	again, err := Canonical(fhir.Resource{
		"active":       true,
		"resourceType": "Patient",
		"id":           "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, doc, again)

	assert.Less(t, strings.Index(doc, `"active"`), strings.Index(doc, `"id"`))
}

// --- Compute ---

func TestComputeChangedField(t *testing.T) {
	before := fhir.Resource{"resourceType": "Patient", "id": "p1", "active": false}
	after := fhir.Resource{"resourceType": "Patient", "id": "p1", "active": true}

	r, err := Compute(before, after, "Patient/p1 v1", "Patient/p1 v2")
	require.NoError(t, err)

	assert.False(t, r.Same())
	assert.Contains(t, r.Diff, "-")
	assert.Contains(t, r.Diff, "+")
	assert.Contains(t, r.Diff, "false")
	assert.Contains(t, r.Diff, "true")
	assert.Positive(t, r.Insertions)
	assert.Positive(t, r.Deletions)
}

func TestComputeIdentical(t *testing.T) {
	res := fhir.Resource{"resourceType": "Patient", "id": "p1"}
	r, err := Compute(res, res, "v1", "v2")
	require.NoError(t, err)
	assert.True(t, r.Same())
	assert.Zero(t, r.Insertions)
	assert.Zero(t, r.Deletions)
}

func TestComputeIgnoresKeyOrder(t *testing.T) {
	before := fhir.Resource{"resourceType": "Patient", "id": "p1", "active": true}
	after := fhir.Resource{"active": true, "id": "p1", "resourceType": "Patient"}
	r, err := Compute(before, after, "v1", "v2")
	require.NoError(t, err)
	assert.True(t, r.Same())
}

// --- Output ---

func TestFormatHeader(t *testing.T) {
	r := ComputeText("a\n", "b\n", "Patient/p1 v1", "Patient/p1 v2")
	out := r.Format(false)
	assert.True(t, strings.HasPrefix(out, "--- Patient/p1 v1\n+++ Patient/p1 v2\n"), out)
}

func TestStat(t *testing.T) {
	r := ComputeText("a\nb\n", "a\nc\nd\n", "v1", "v2")
	s := r.Stat()
	assert.Contains(t, s, "v1 -> v2")
	assert.Contains(t, s, "insertion")
	assert.Contains(t, s, "deletion")
}

func TestLongEqualRunsCollapse(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "same")
	}
	oldDoc := "start\n" + strings.Join(lines, "\n") + "\nend-old\n"
	newDoc := "start\n" + strings.Join(lines, "\n") + "\nend-new\n"

	r := ComputeText(oldDoc, newDoc, "v1", "v2")
	assert.Contains(t, r.Diff, "...")
}

func TestColourise(t *testing.T) {
	coloured := Colourise("- gone\n+ here\n  kept\n")
	assert.Contains(t, coloured, "\033[31m- gone\033[0m")
	assert.Contains(t, coloured, "\033[32m+ here\033[0m")
}
