package ops_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ops"
	"github.com/jpl-au/fhird/internal/search"
	"github.com/jpl-au/fhird/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://fhir.example.org/r4"

// setupOps creates a store, a search engine over the same database, and a
// processor composing them.
func setupOps(t *testing.T) (*store.SQLiteStore, *search.Engine, *ops.Processor, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fhird-ops-test-*")
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(tmpDir, "test.db"), store.Options{
		Catalog:       catalog.Default(),
		BaseURL:       baseURL,
		UpdateCreates: true,
	})
	require.NoError(t, err)
	require.NoError(t, s.Init())

	eng := search.New(s.DB(), s.Catalog(), search.Options{BaseURL: baseURL})
	s.SetResolver(eng)
	proc := ops.New(s, eng, ops.Options{})

	cleanup := func() {
		s.Close()
		os.RemoveAll(tmpDir)
	}
	return s, eng, proc, cleanup
}

// create stores a fixture and returns its write result.
func create(t *testing.T, s *store.SQLiteStore, src string) *store.WriteResult {
	t.Helper()
	res, err := fhir.Decode([]byte(src))
	require.NoError(t, err)
	wr, err := s.Create(context.Background(), res)
	require.NoError(t, err)
	return wr
}

// put stores a fixture under a chosen id.
func put(t *testing.T, s *store.SQLiteStore, typ, id, src string) *store.WriteResult {
	t.Helper()
	res, err := fhir.Decode([]byte(src))
	require.NoError(t, err)
	wr, err := s.Update(context.Background(), typ, id, res, 0)
	require.NoError(t, err)
	return wr
}

// readDoc reads the current version and decodes it.
func readDoc(t *testing.T, s *store.SQLiteStore, typ, id string) fhir.Resource {
	t.Helper()
	cur, err := s.Read(context.Background(), typ, id)
	require.NoError(t, err)
	res, err := fhir.Decode(cur.Doc)
	require.NoError(t, err)
	return res
}

func txEntry(method, url, body string) fhir.BundleEntry {
	e := fhir.BundleEntry{Request: &fhir.BundleRequest{Method: method, URL: url}}
	if body != "" {
		e.Resource = json.RawMessage(body)
	}
	return e
}

func bundleOf(bundleType string, entries ...fhir.BundleEntry) *fhir.Bundle {
	b := fhir.NewBundle(bundleType, "")
	b.Entry = entries
	return b
}

// idFromLocation extracts the logical id from {base}/{Type}/{id}/_history/{v}.
func idFromLocation(t *testing.T, loc string) string {
	t.Helper()
	parts := strings.Split(loc, "/")
	require.GreaterOrEqual(t, len(parts), 4, "location %q", loc)
	return parts[len(parts)-3]
}

// matchCount runs a search and returns the number of matches.
func matchCount(t *testing.T, eng *search.Engine, typ, query string) int {
	t.Helper()
	res, err := eng.Execute(context.Background(), typ, query, false)
	require.NoError(t, err)
	return len(res.Matches)
}

// --- Transactions ---

func TestTransactionURNRewrite(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	urn := "urn:uuid:3b9d0a9c-5f34-4b6e-9a27-c57a2e1f0001"
	patient := fhir.BundleEntry{
		FullURL:  urn,
		Resource: json.RawMessage(`{"resourceType": "Patient", "name": [{"family": "Ngata"}]}`),
		Request:  &fhir.BundleRequest{Method: "POST", URL: "Patient"},
	}
	obs := txEntry("POST", "Observation", `{
		"resourceType": "Observation",
		"status": "final",
		"code": {"coding": [{"system": "http://loinc.org", "code": "8867-4"}]},
		"subject": {"reference": "`+urn+`"}
	}`)

	resp, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, patient, obs))
	require.NoError(t, err)
	assert.Equal(t, fhir.BundleTypeTransactionResponse, resp.Type)
	require.Len(t, resp.Entry, 2)

	// Responses come back in request order regardless of execution order.
	require.NotNil(t, resp.Entry[0].Response)
	require.NotNil(t, resp.Entry[1].Response)
	assert.Equal(t, "201 Created", resp.Entry[0].Response.Status)
	assert.Equal(t, "201 Created", resp.Entry[1].Response.Status)
	assert.Contains(t, resp.Entry[0].Response.Location, baseURL+"/Patient/")
	assert.Equal(t, `W/"1"`, resp.Entry[0].Response.Etag)

	patID := idFromLocation(t, resp.Entry[0].Response.Location)
	obsID := idFromLocation(t, resp.Entry[1].Response.Location)

	// The stored observation carries the rewritten reference, never the URN.
	doc := readDoc(t, s, "Observation", obsID)
	subject := doc["subject"].(map[string]any)
	assert.Equal(t, "Patient/"+patID, subject["reference"])
}

func TestTransactionRollsBackOnEntryFailure(t *testing.T) {
	_, eng, proc, cleanup := setupOps(t)
	defer cleanup()

	good := txEntry("POST", "Patient", `{"resourceType": "Patient", "name": [{"family": "Rollback"}]}`)
	// If-Match against a resource that does not exist fails the precondition.
	bad := fhir.BundleEntry{
		Resource: json.RawMessage(`{"resourceType": "Patient", "id": "px"}`),
		Request:  &fhir.BundleRequest{Method: "PUT", URL: "Patient/px", IfMatch: `W/"7"`},
	}

	_, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, good, bad))
	require.Error(t, err)
	assert.Equal(t, fhir.KindPrecondition, fhir.KindOf(err))
	assert.Contains(t, err.Error(), "entry 1")

	// The first entry's write must not survive the rollback.
	assert.Zero(t, matchCount(t, eng, "Patient", "family=rollback"))
}

func TestTransactionProcessingOrder(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "p1", `{"resourceType": "Patient", "name": [{"family": "Old"}]}`)

	// Request order is PUT then DELETE; canonical processing order runs the
	// DELETE first, so the PUT recreates the resource and wins.
	update := txEntry("PUT", "Patient/p1", `{"resourceType": "Patient", "id": "p1", "name": [{"family": "New"}]}`)
	del := txEntry("DELETE", "Patient/p1", "")

	resp, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, update, del))
	require.NoError(t, err)
	require.Len(t, resp.Entry, 2)
	assert.Equal(t, "201 Created", resp.Entry[0].Response.Status)
	assert.Equal(t, "204 No Content", resp.Entry[1].Response.Status)

	doc := readDoc(t, s, "Patient", "p1")
	name := doc["name"].([]any)[0].(map[string]any)
	assert.Equal(t, "New", name["family"])
}

func TestTransactionConditionalCreate(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	existing := create(t, s, `{
		"resourceType": "Patient",
		"identifier": [{"system": "urn:mrn", "value": "42"}],
		"name": [{"family": "Keita"}]
	}`)

	match := fhir.BundleEntry{
		Resource: json.RawMessage(`{"resourceType": "Patient", "identifier": [{"system": "urn:mrn", "value": "42"}]}`),
		Request:  &fhir.BundleRequest{Method: "POST", URL: "Patient", IfNoneExist: "identifier=urn:mrn|42"},
	}
	fresh := fhir.BundleEntry{
		Resource: json.RawMessage(`{"resourceType": "Patient", "identifier": [{"system": "urn:mrn", "value": "43"}]}`),
		Request:  &fhir.BundleRequest{Method: "POST", URL: "Patient", IfNoneExist: "identifier=urn:mrn|43"},
	}

	resp, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, match, fresh))
	require.NoError(t, err)
	require.Len(t, resp.Entry, 2)

	// Matching criteria return the existing resource untouched.
	assert.Equal(t, "200 OK", resp.Entry[0].Response.Status)
	assert.Equal(t, existing.ID, idFromLocation(t, resp.Entry[0].Response.Location))
	cur, err := s.Read(context.Background(), "Patient", existing.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.VersionID)

	assert.Equal(t, "201 Created", resp.Entry[1].Response.Status)
	assert.NotEqual(t, existing.ID, idFromLocation(t, resp.Entry[1].Response.Location))
}

func TestTransactionConditionalReferenceResolution(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	existing := create(t, s, `{
		"resourceType": "Patient",
		"identifier": [{"system": "urn:mrn", "value": "77"}]
	}`)

	// A URN naming a conditional create that matches must resolve to the
	// existing resource in referencing entries.
	urn := "urn:uuid:3b9d0a9c-5f34-4b6e-9a27-c57a2e1f0002"
	cond := fhir.BundleEntry{
		FullURL:  urn,
		Resource: json.RawMessage(`{"resourceType": "Patient", "identifier": [{"system": "urn:mrn", "value": "77"}]}`),
		Request:  &fhir.BundleRequest{Method: "POST", URL: "Patient", IfNoneExist: "identifier=urn:mrn|77"},
	}
	obs := txEntry("POST", "Observation", `{
		"resourceType": "Observation",
		"status": "final",
		"code": {"coding": [{"code": "x"}]},
		"subject": {"reference": "`+urn+`"}
	}`)

	resp, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, cond, obs))
	require.NoError(t, err)

	obsID := idFromLocation(t, resp.Entry[1].Response.Location)
	doc := readDoc(t, s, "Observation", obsID)
	subject := doc["subject"].(map[string]any)
	assert.Equal(t, "Patient/"+existing.ID, subject["reference"])
}

func TestTransactionDuplicateTargetRejected(t *testing.T) {
	_, _, proc, cleanup := setupOps(t)
	defer cleanup()

	a := txEntry("PUT", "Patient/p9", `{"resourceType": "Patient", "id": "p9"}`)
	b := txEntry("PUT", "Patient/p9", `{"resourceType": "Patient", "id": "p9", "active": true}`)

	_, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, a, b))
	require.Error(t, err)
	assert.Equal(t, fhir.KindMalformed, fhir.KindOf(err))
	assert.Contains(t, err.Error(), "Patient/p9")
}

func TestTransactionPatchEntry(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "pp1", `{"resourceType": "Patient", "id": "pp1", "active": true}`)

	patch := txEntry("PATCH", "Patient/pp1", `[{"op": "replace", "path": "/active", "value": false}]`)
	resp, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, patch))
	require.NoError(t, err)
	assert.Equal(t, "200 OK", resp.Entry[0].Response.Status)

	doc := readDoc(t, s, "Patient", "pp1")
	assert.Equal(t, false, doc["active"])
}

func TestTransactionGETEntries(t *testing.T) {
	s, _, proc, cleanup := setupOps(t)
	defer cleanup()

	put(t, s, "Patient", "g1", `{"resourceType": "Patient", "id": "g1", "name": [{"family": "Getter"}]}`)
	put(t, s, "Patient", "g1", `{"resourceType": "Patient", "id": "g1", "name": [{"family": "Getter"}], "active": true}`)

	read := txEntry("GET", "Patient/g1", "")
	vread := txEntry("GET", "Patient/g1/_history/1", "")
	srch := txEntry("GET", "Patient?family=getter", "")

	resp, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, read, vread, srch))
	require.NoError(t, err)
	require.Len(t, resp.Entry, 3)

	assert.Equal(t, "200 OK", resp.Entry[0].Response.Status)
	assert.Equal(t, `W/"2"`, resp.Entry[0].Response.Etag)

	assert.Equal(t, "200 OK", resp.Entry[1].Response.Status)
	assert.Equal(t, `W/"1"`, resp.Entry[1].Response.Etag)

	var ss fhir.Bundle
	require.NoError(t, json.Unmarshal(resp.Entry[2].Resource, &ss))
	assert.Equal(t, fhir.BundleTypeSearchset, ss.Type)
	require.Len(t, ss.Entry, 1)
}

func TestTransactionGETFailureAborts(t *testing.T) {
	_, eng, proc, cleanup := setupOps(t)
	defer cleanup()

	good := txEntry("POST", "Patient", `{"resourceType": "Patient", "name": [{"family": "Aborted"}]}`)
	missing := txEntry("GET", "Patient/does-not-exist", "")

	_, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, good, missing))
	require.Error(t, err)
	assert.Equal(t, fhir.KindNotFound, fhir.KindOf(err))

	assert.Zero(t, matchCount(t, eng, "Patient", "family=aborted"))
}

func TestTransactionEntryValidation(t *testing.T) {
	_, _, proc, cleanup := setupOps(t)
	defer cleanup()

	tests := []struct {
		name  string
		entry fhir.BundleEntry
	}{
		{"missing request", fhir.BundleEntry{Resource: json.RawMessage(`{"resourceType": "Patient"}`)}},
		{"missing method", fhir.BundleEntry{Request: &fhir.BundleRequest{URL: "Patient"}}},
		{"post without body", txEntry("POST", "Patient", "")},
		{"body id mismatch", txEntry("PUT", "Patient/a", `{"resourceType": "Patient", "id": "b"}`)},
		{"body type mismatch", txEntry("POST", "Patient", `{"resourceType": "Observation", "status": "final", "code": {}}`)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeTransaction, tc.entry))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "entry 0")
		})
	}
}

func TestProcessRejectsOtherBundleTypes(t *testing.T) {
	_, _, proc, cleanup := setupOps(t)
	defer cleanup()

	_, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeCollection))
	require.Error(t, err)
	assert.Equal(t, fhir.KindMalformed, fhir.KindOf(err))
}

// --- Batches ---

func TestBatchIndependentEntries(t *testing.T) {
	_, eng, proc, cleanup := setupOps(t)
	defer cleanup()

	good := txEntry("POST", "Patient", `{"resourceType": "Patient", "name": [{"family": "Batch"}]}`)
	bad := txEntry("GET", "Patient/nope", "")

	resp, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeBatch, good, bad))
	require.NoError(t, err)
	assert.Equal(t, fhir.BundleTypeBatchResponse, resp.Type)
	require.Len(t, resp.Entry, 2)

	assert.Equal(t, "201 Created", resp.Entry[0].Response.Status)

	// The failed entry carries its own outcome; the good one still committed.
	assert.Equal(t, "404 Not Found", resp.Entry[1].Response.Status)
	var outcome fhir.OperationOutcome
	require.NoError(t, json.Unmarshal(resp.Entry[1].Response.Outcome, &outcome))
	require.NotEmpty(t, outcome.Issue)
	assert.Equal(t, fhir.SeverityError, outcome.Issue[0].Severity)

	assert.Equal(t, 1, matchCount(t, eng, "Patient", "family=batch"))
}

func TestBatchMalformedEntryDoesNotAbort(t *testing.T) {
	_, _, proc, cleanup := setupOps(t)
	defer cleanup()

	bad := txEntry("PUT", "Patient/a", `{"resourceType": "Patient", "id": "b"}`)
	good := txEntry("PUT", "Patient/batch2", `{"resourceType": "Patient", "id": "batch2"}`)

	resp, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeBatch, bad, good))
	require.NoError(t, err)
	require.Len(t, resp.Entry, 2)
	assert.Equal(t, "400 Bad Request", resp.Entry[0].Response.Status)
	assert.Equal(t, "201 Created", resp.Entry[1].Response.Status)
}

func TestBatchConditionalDelete(t *testing.T) {
	s, eng, proc, cleanup := setupOps(t)
	defer cleanup()

	create(t, s, `{"resourceType": "Patient", "identifier": [{"system": "urn:mrn", "value": "del-1"}]}`)

	del := txEntry("DELETE", "Patient?identifier=urn:mrn|del-1", "")
	resp, err := proc.Process(context.Background(), bundleOf(fhir.BundleTypeBatch, del))
	require.NoError(t, err)
	assert.Equal(t, "204 No Content", resp.Entry[0].Response.Status)

	assert.Zero(t, matchCount(t, eng, "Patient", "identifier=urn:mrn|del-1"))
}
