package ops_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linkURL(b *fhir.Bundle, relation string) string {
	for _, l := range b.Link {
		if l.Relation == relation {
			return l.URL
		}
	}
	return ""
}

// --- Searchsets ---

func TestSearchsetAssembly(t *testing.T) {
	s, eng, proc, cleanup := setupOps(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		create(t, s, `{"resourceType": "Patient", "name": [{"family": "Page"}]}`)
	}

	query := "family=page&_count=2&_total=accurate"
	res, err := eng.Execute(context.Background(), "Patient", query, false)
	require.NoError(t, err)

	b, err := proc.Searchset(res, "Patient", query)
	require.NoError(t, err)
	assert.Equal(t, fhir.BundleTypeSearchset, b.Type)
	require.NotNil(t, b.Total)
	assert.Equal(t, 3, *b.Total)

	require.Len(t, b.Entry, 2)
	for _, e := range b.Entry {
		assert.Equal(t, fhir.SearchModeMatch, e.Search.Mode)
		assert.Contains(t, e.FullURL, baseURL+"/Patient/")
	}

	assert.Contains(t, linkURL(b, "self"), "family=page")
	next := linkURL(b, "next")
	require.NotEmpty(t, next)
	assert.Contains(t, next, "_offset=")
	assert.Contains(t, next, "family=page", "paging links keep the original query")

	// Following next and asking again must hand back a first link without
	// the cursor.
	_, nextQuery, ok := strings.Cut(next, "?")
	require.True(t, ok)
	res, err = eng.Execute(context.Background(), "Patient", nextQuery, false)
	require.NoError(t, err)
	b, err = proc.Searchset(res, "Patient", nextQuery)
	require.NoError(t, err)
	first := linkURL(b, "first")
	require.NotEmpty(t, first)
	assert.NotContains(t, first, "_offset=")
	assert.Contains(t, first, "family=page")
}

func TestSearchsetElements(t *testing.T) {
	s, eng, proc, cleanup := setupOps(t)
	defer cleanup()

	create(t, s, `{
		"resourceType": "Patient",
		"name": [{"family": "Elem"}],
		"gender": "female",
		"birthDate": "1990-01-01"
	}`)

	query := "family=elem&_elements=name"
	res, err := eng.Execute(context.Background(), "Patient", query, false)
	require.NoError(t, err)

	b, err := proc.Searchset(res, "Patient", query)
	require.NoError(t, err)
	require.Len(t, b.Entry, 1)

	doc, err := fhir.Decode(b.Entry[0].Resource)
	require.NoError(t, err)
	assert.NotNil(t, doc["name"])
	assert.NotNil(t, doc["id"])
	assert.Nil(t, doc["gender"], "unrequested elements are stripped")
	assert.Nil(t, doc["birthDate"])

	tags := doc.Meta()["tag"].([]any)
	last := tags[len(tags)-1].(map[string]any)
	assert.Equal(t, "SUBSETTED", last["code"])
}

func TestSearchsetWarningsEntry(t *testing.T) {
	s, eng, proc, cleanup := setupOps(t)
	defer cleanup()

	create(t, s, `{"resourceType": "Patient", "name": [{"family": "Warn"}]}`)

	query := "family=warn&bogus=1"
	res, err := eng.Execute(context.Background(), "Patient", query, false)
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings, "lenient mode reports the ignored parameter")

	b, err := proc.Searchset(res, "Patient", query)
	require.NoError(t, err)

	last := b.Entry[len(b.Entry)-1]
	require.NotNil(t, last.Search)
	assert.Equal(t, fhir.SearchModeOutcome, last.Search.Mode)

	var outcome fhir.OperationOutcome
	require.NoError(t, json.Unmarshal(last.Resource, &outcome))
	require.NotEmpty(t, outcome.Issue)
	assert.Equal(t, fhir.SeverityWarning, outcome.Issue[0].Severity)
}

// --- History bundles ---

func TestHistoryBundleSynthesis(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	wr := create(t, s, `{"resourceType": "Patient", "name": [{"family": "Hist"}]}`)
	put(t, s, "Patient", wr.ID, `{"resourceType": "Patient", "name": [{"family": "Hist"}], "active": true}`)
	_, err := s.Delete(context.Background(), "Patient", wr.ID)
	require.NoError(t, err)

	page, err := s.History(context.Background(), "Patient", wr.ID, store.HistoryOptions{})
	require.NoError(t, err)

	b := proc.HistoryBundle(page, "Patient", wr.ID, "")
	assert.Equal(t, fhir.BundleTypeHistory, b.Type)
	require.NotNil(t, b.Total)
	assert.Equal(t, 3, *b.Total)
	assert.Equal(t, baseURL+"/Patient/"+wr.ID+"/_history", linkURL(b, "self"))

	require.Len(t, b.Entry, 3)

	// Newest first: the tombstone, the update, then the create.
	del := b.Entry[0]
	assert.Equal(t, "DELETE", del.Request.Method)
	assert.Equal(t, "Patient/"+wr.ID, del.Request.URL)
	assert.Equal(t, "204 No Content", del.Response.Status)
	assert.Nil(t, del.Resource, "tombstones carry no document")

	upd := b.Entry[1]
	assert.Equal(t, "PUT", upd.Request.Method)
	assert.Equal(t, "200 OK", upd.Response.Status)
	assert.Equal(t, `W/"2"`, upd.Response.Etag)
	assert.NotNil(t, upd.Resource)

	crt := b.Entry[2]
	assert.Equal(t, "POST", crt.Request.Method)
	assert.Equal(t, "Patient", crt.Request.URL)
	assert.Equal(t, "201 Created", crt.Response.Status)
	assert.Equal(t, `W/"1"`, crt.Response.Etag)
	assert.NotEmpty(t, crt.Response.LastModified)
}

func TestHistoryBundlePaging(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	for i := 0; i < 5; i++ {
		put(t, s, "Patient", "hp1", `{"resourceType": "Patient", "name": [{"family": "Paged"}]}`)
	}

	page, err := s.History(context.Background(), "Patient", "hp1", store.HistoryOptions{Count: 2})
	require.NoError(t, err)
	require.True(t, page.HasMore)

	b := proc.HistoryBundle(page, "Patient", "hp1", "_count=2")
	next := linkURL(b, "next")
	require.NotEmpty(t, next)
	assert.Contains(t, next, "_before=")
	assert.Contains(t, next, "_count=2")
}
