package ops_test

import (
	"context"
	"testing"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullURLs collects entry fullUrls by search mode.
func fullURLs(b *fhir.Bundle, mode string) []string {
	var out []string
	for _, e := range b.Entry {
		if e.Search != nil && e.Search.Mode == mode {
			out = append(out, e.FullURL)
		}
	}
	return out
}

func TestEverythingCompartment(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "ev1", `{"resourceType": "Patient", "name": [{"family": "Everything"}]}`)
	put(t, s, "Patient", "ev2", `{"resourceType": "Patient", "name": [{"family": "Other"}]}`)
	put(t, s, "Practitioner", "prac1", `{"resourceType": "Practitioner", "name": [{"family": "Who"}]}`)
	put(t, s, "Observation", "obs1", `{
		"resourceType": "Observation",
		"status": "final",
		"code": {"coding": [{"code": "hr"}]},
		"subject": {"reference": "Patient/ev1"},
		"performer": [{"reference": "Practitioner/prac1"}]
	}`)
	put(t, s, "Encounter", "enc1", `{
		"resourceType": "Encounter",
		"status": "finished",
		"class": {"code": "AMB"},
		"subject": {"reference": "Patient/ev1"}
	}`)
	put(t, s, "Observation", "obs2", `{
		"resourceType": "Observation",
		"status": "final",
		"code": {"coding": [{"code": "hr"}]},
		"subject": {"reference": "Patient/ev2"}
	}`)

	b, err := proc.Everything(context.Background(), "ev1", ops.EverythingOptions{})
	require.NoError(t, err)
	assert.Equal(t, fhir.BundleTypeSearchset, b.Type)
	require.NotNil(t, b.Total)
	assert.Equal(t, 4, *b.Total)

	// The patient leads, compartment members follow, referenced support
	// resources come last as includes.
	require.NotEmpty(t, b.Entry)
	assert.Equal(t, baseURL+"/Patient/ev1", b.Entry[0].FullURL)

	matches := fullURLs(b, fhir.SearchModeMatch)
	assert.Contains(t, matches, baseURL+"/Observation/obs1")
	assert.Contains(t, matches, baseURL+"/Encounter/enc1")
	assert.NotContains(t, matches, baseURL+"/Observation/obs2")
	assert.NotContains(t, matches, baseURL+"/Patient/ev2")

	includes := fullURLs(b, fhir.SearchModeInclude)
	assert.Equal(t, []string{baseURL + "/Practitioner/prac1"}, includes)
}

func TestEverythingSince(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "ev1", `{"resourceType": "Patient"}`)
	put(t, s, "Observation", "old1", `{
		"resourceType": "Observation", "status": "final",
		"code": {"coding": [{"code": "a"}]},
		"subject": {"reference": "Patient/ev1"}
	}`)
	put(t, s, "Observation", "new1", `{
		"resourceType": "Observation", "status": "final",
		"code": {"coding": [{"code": "b"}]},
		"subject": {"reference": "Patient/ev1"}
	}`)
	// The version bump pushes new1 strictly past old1's timestamp.
	wr := put(t, s, "Observation", "new1", `{
		"resourceType": "Observation", "status": "amended",
		"code": {"coding": [{"code": "b"}]},
		"subject": {"reference": "Patient/ev1"}
	}`)

	b, err := proc.Everything(context.Background(), "ev1", ops.EverythingOptions{Since: wr.LastUpdated})
	require.NoError(t, err)

	matches := fullURLs(b, fhir.SearchModeMatch)
	assert.Contains(t, matches, baseURL+"/Patient/ev1", "the patient is always included")
	assert.Contains(t, matches, baseURL+"/Observation/new1")
	assert.NotContains(t, matches, baseURL+"/Observation/old1")
}

func TestEverythingTypeFilter(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "ev1", `{"resourceType": "Patient"}`)
	put(t, s, "Practitioner", "prac1", `{"resourceType": "Practitioner"}`)
	put(t, s, "Observation", "obs1", `{
		"resourceType": "Observation", "status": "final",
		"code": {"coding": [{"code": "a"}]},
		"subject": {"reference": "Patient/ev1"},
		"performer": [{"reference": "Practitioner/prac1"}]
	}`)
	put(t, s, "Encounter", "enc1", `{
		"resourceType": "Encounter", "status": "finished",
		"class": {"code": "AMB"},
		"subject": {"reference": "Patient/ev1"}
	}`)

	b, err := proc.Everything(context.Background(), "ev1", ops.EverythingOptions{Types: []string{"Observation"}})
	require.NoError(t, err)

	matches := fullURLs(b, fhir.SearchModeMatch)
	assert.Contains(t, matches, baseURL+"/Observation/obs1")
	assert.NotContains(t, matches, baseURL+"/Encounter/enc1")
	assert.Empty(t, fullURLs(b, fhir.SearchModeInclude), "type filter applies to referenced resources too")
}

func TestEverythingPaging(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "ev1", `{"resourceType": "Patient"}`)
	for _, id := range []string{"o1", "o2", "o3"} {
		put(t, s, "Observation", id, `{
			"resourceType": "Observation", "status": "final",
			"code": {"coding": [{"code": "a"}]},
			"subject": {"reference": "Patient/ev1"}
		}`)
	}

	first, err := proc.Everything(context.Background(), "ev1", ops.EverythingOptions{Count: 2})
	require.NoError(t, err)
	require.NotNil(t, first.Total)
	assert.Equal(t, 4, *first.Total)
	assert.Len(t, first.Entry, 2)

	var next string
	for _, l := range first.Link {
		if l.Relation == "next" {
			next = l.URL
		}
	}
	require.NotEmpty(t, next)
	assert.Contains(t, next, "_offset=2")

	second, err := proc.Everything(context.Background(), "ev1", ops.EverythingOptions{Count: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, second.Entry, 2)

	var prev bool
	for _, l := range second.Link {
		if l.Relation == "previous" {
			prev = true
		}
	}
	assert.True(t, prev)

	// Pages never overlap.
	seen := map[string]bool{}
	for _, e := range append(first.Entry, second.Entry...) {
		assert.False(t, seen[e.FullURL], "duplicate %s across pages", e.FullURL)
		seen[e.FullURL] = true
	}
}

func TestEverythingUnknownPatient(t *testing.T) {
	_, _, proc, cleanup := setupOps(t)
	defer cleanup()

	_, err := proc.Everything(context.Background(), "missing", ops.EverythingOptions{})
	require.Error(t, err)
	assert.Equal(t, fhir.KindNotFound, fhir.KindOf(err))
}

func TestEverythingDeletedPatient(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "gone1", `{"resourceType": "Patient"}`)
	_, err := s.Delete(context.Background(), "Patient", "gone1")
	require.NoError(t, err)

	_, err = proc.Everything(context.Background(), "gone1", ops.EverythingOptions{})
	require.Error(t, err)
	assert.Equal(t, fhir.KindGone, fhir.KindOf(err))
}
