package resource_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/resource"
	"github.com/jpl-au/fhird/internal/service"
	"github.com/jpl-au/fhird/internal/store"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupService creates a temporary service and returns it along with a cleanup function.
func setupService(t *testing.T) (service.Service, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fhird-test-*")
	require.NoError(t, err, "creating temp dir")

	cwd, err := os.Getwd()
	require.NoError(t, err, "getting cwd")

	require.NoError(t, os.Chdir(tmpDir), "chdir to temp")

	require.NoError(t, resource.Init(true, "", false, ""), "init store")

	svc, err := resource.New("")
	require.NoError(t, err, "creating service")

	cleanup := func() {
		svc.Close()
		_ = os.Chdir(cwd)
		os.RemoveAll(tmpDir)
	}

	return svc, cleanup
}

func decode(t *testing.T, src string) fhir.Resource {
	t.Helper()
	res, err := fhir.Decode([]byte(src))
	require.NoError(t, err)
	return res
}

func TestService_CreateRead(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	out, err := svc.Create(ctx, decode(t, `{
		"resourceType": "Patient",
		"name": [{"family": "Wright"}]
	}`))
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, int64(1), out.VersionID)

	row, err := svc.Read(ctx, "Patient", out.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), row.VersionID)

	res, err := row.Resource()
	require.NoError(t, err)
	assert.Equal(t, out.ID, res.ID())
}

func TestService_UpdateHistory(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	out, err := svc.Create(ctx, decode(t, `{"resourceType": "Patient", "name": [{"family": "Ito"}]}`))
	require.NoError(t, err)

	res := decode(t, `{"resourceType": "Patient", "name": [{"family": "Ito"}], "active": true}`)
	res.SetID(out.ID)
	up, err := svc.Update(ctx, "Patient", out.ID, res, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), up.VersionID)
	assert.False(t, up.Created)

	page, err := svc.History(ctx, "Patient", out.ID, store.HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, int64(2), page.Entries[0].VersionID)
	assert.Equal(t, int64(1), page.Entries[1].VersionID)

	v1, err := svc.VRead(ctx, "Patient", out.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, fhir.OpCreate, v1.Op)
}

func TestService_SearchAndBundle(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	_, err := svc.Create(ctx, decode(t, `{"resourceType": "Patient", "name": [{"family": "Okafor"}]}`))
	require.NoError(t, err)
	_, err = svc.Create(ctx, decode(t, `{"resourceType": "Patient", "name": [{"family": "Beck"}]}`))
	require.NoError(t, err)

	res, err := svc.Search(ctx, "Patient", "family=okafor", false)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)

	b, err := svc.Searchset(res, "Patient", "family=okafor")
	require.NoError(t, err)
	assert.Equal(t, fhir.BundleTypeSearchset, b.Type)
	require.Len(t, b.Entry, 1)
}

func TestService_StrictSearchRejectsUnknownParam(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	_, err := svc.Search(ctx, "Patient", "nosuchparam=x", true)
	require.Error(t, err)
	assert.Equal(t, fhir.KindUnsupported, fhir.KindOf(err))

	res, err := svc.Search(ctx, "Patient", "nosuchparam=x", false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)
}

func TestService_Transaction(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	b, err := fhir.DecodeBundle([]byte(`{
		"resourceType": "Bundle",
		"type": "transaction",
		"entry": [{
			"fullUrl": "urn:uuid:11111111-1111-1111-1111-111111111111",
			"resource": {"resourceType": "Patient", "name": [{"family": "Vance"}]},
			"request": {"method": "POST", "url": "Patient"}
		}, {
			"resource": {
				"resourceType": "Observation", "status": "final",
				"code": {"coding": [{"system": "http://loinc.org", "code": "8867-4"}]},
				"subject": {"reference": "urn:uuid:11111111-1111-1111-1111-111111111111"}
			},
			"request": {"method": "POST", "url": "Observation"}
		}]
	}`))
	require.NoError(t, err)

	resp, err := svc.Transaction(ctx, b)
	require.NoError(t, err)
	require.Len(t, resp.Entry, 2)
	assert.Contains(t, resp.Entry[0].Response.Status, "201")
	assert.Contains(t, resp.Entry[1].Response.Status, "201")

	// The URN reference was rewritten to the assigned id.
	res, err := svc.Search(ctx, "Observation", "code=8867-4", false)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
}

func TestService_DeleteIsIdempotent(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	out, err := svc.Create(ctx, decode(t, `{"resourceType": "Patient"}`))
	require.NoError(t, err)

	first, err := svc.Delete(ctx, "Patient", out.ID)
	require.NoError(t, err)
	assert.False(t, first.Noop)
	assert.Equal(t, int64(2), first.VersionID)

	second, err := svc.Delete(ctx, "Patient", out.ID)
	require.NoError(t, err)
	assert.True(t, second.Noop)
	assert.Equal(t, int64(2), second.VersionID)

	_, err = svc.Read(ctx, "Patient", out.ID)
	assert.ErrorIs(t, err, fhir.ErrGone)
}

func TestService_Capability(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()

	cs := svc.Capability()
	assert.Equal(t, "CapabilityStatement", cs.ResourceType)
	require.NotEmpty(t, cs.Rest)
	assert.NotEmpty(t, cs.Rest[0].Resource)
}

// --- Event Tests ---

// eventRecorder is a minimal extension that records events it receives.
type eventRecorder struct {
	mu     sync.Mutex
	events []extension.Event
}

func (e *eventRecorder) Name() string                  { return "test-event-recorder" }
func (e *eventRecorder) Commands() []*cobra.Command    { return nil }
func (e *eventRecorder) MCPTools() []extension.MCPTool { return nil }

func (e *eventRecorder) HandleEvent(_ extension.Context, ev extension.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *eventRecorder) take() []extension.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.events
	e.events = nil
	return out
}

var recorder = &eventRecorder{}

var registerOnce sync.Once

func setupEventService(t *testing.T) (*resource.Service, func()) {
	t.Helper()
	registerOnce.Do(func() { extension.Register(recorder) })

	svcIface, cleanup := setupService(t)
	svc := svcIface.(*resource.Service)
	svc.SetExtensionContext(extension.NewContext(svc, svc.DB(), nil))
	recorder.take() // drop anything earlier tests left behind
	return svc, cleanup
}

func TestService_FiresResourceEvents(t *testing.T) {
	svc, cleanup := setupEventService(t)
	defer cleanup()
	ctx := context.Background()

	out, err := svc.Create(ctx, decode(t, `{"resourceType": "Patient", "name": [{"family": "Nunes"}]}`))
	require.NoError(t, err)

	_, err = svc.Delete(ctx, "Patient", out.ID)
	require.NoError(t, err)
	// Repeat delete writes nothing and must stay silent.
	_, err = svc.Delete(ctx, "Patient", out.ID)
	require.NoError(t, err)

	events := recorder.take()
	require.Len(t, events, 2)

	created, ok := events[0].(extension.ResourceEvent)
	require.True(t, ok)
	assert.Equal(t, extension.EventResourceCreate, created.EventType())
	assert.Equal(t, "Patient/"+out.ID, created.EventTarget())
	assert.Equal(t, int64(1), created.VersionID)

	deleted := events[1].(extension.ResourceEvent)
	assert.Equal(t, extension.EventResourceDelete, deleted.EventType())
	assert.Equal(t, int64(2), deleted.VersionID)
}

func TestService_TransactionFiresEventsAfterCommit(t *testing.T) {
	svc, cleanup := setupEventService(t)
	defer cleanup()
	ctx := context.Background()

	b, err := fhir.DecodeBundle([]byte(`{
		"resourceType": "Bundle",
		"type": "transaction",
		"entry": [{
			"resource": {"resourceType": "Patient", "name": [{"family": "Herzog"}]},
			"request": {"method": "POST", "url": "Patient"}
		}]
	}`))
	require.NoError(t, err)

	_, err = svc.Transaction(ctx, b)
	require.NoError(t, err)

	events := recorder.take()
	require.Len(t, events, 1)
	ev := events[0].(extension.ResourceEvent)
	assert.Equal(t, extension.EventResourceCreate, ev.EventType())
	assert.Equal(t, "Patient", ev.Type)

	// A failing transaction rolls back and fires nothing.
	bad, err := fhir.DecodeBundle([]byte(`{
		"resourceType": "Bundle",
		"type": "transaction",
		"entry": [{
			"resource": {"resourceType": "Patient"},
			"request": {"method": "POST", "url": "Patient"}
		}, {
			"request": {"method": "GET", "url": "Patient/no-such-id"}
		}]
	}`))
	require.NoError(t, err)

	_, err = svc.Transaction(ctx, bad)
	require.Error(t, err)
	assert.Empty(t, recorder.take())
}
