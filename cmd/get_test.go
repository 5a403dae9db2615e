package cmd

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	t.Run("current version", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)

		out := env.run("get", "Patient/p1")
		env.contains(out, `"Smith"`)
		env.contains(out, `"resourceType": "Patient"`)
	})

	t.Run("server meta applied", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)

		out := env.run("get", "Patient/p1")
		env.contains(out, `"versionId": "1"`)
		env.contains(out, `"lastUpdated"`)
	})

	t.Run("specific version", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.seed(strings.Replace(patientSmith, `"female"`, `"unknown"`, 1))

		out := env.run("get", "Patient/p1", "-v", "1")
		env.contains(out, `"female"`)

		out = env.run("get", "Patient/p1", "-v", "2")
		env.contains(out, `"unknown"`)
	})

	t.Run("summary", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)

		out := env.run("get", "Patient/p1", "--summary")
		env.contains(out, `"meta"`)
		env.notContains(out, "Smith")
	})

	t.Run("not found", func(t *testing.T) {
		env := newTestEnv(t)

		out, err := env.runErr("get", "Patient/nope")
		if err == nil {
			t.Error("get of missing resource should fail")
		}
		env.contains(out, "does not exist")
	})

	t.Run("deleted resource is gone", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.run("rm", "Patient/p1")

		out, err := env.runErr("get", "Patient/p1")
		if err == nil {
			t.Error("get of deleted resource should fail")
		}
		env.contains(out, "has been deleted")
	})

	t.Run("tombstone with deleted flag", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.run("rm", "Patient/p1")

		out := env.run("get", "Patient/p1", "-D")
		env.contains(out, `"deleted": true`)
		env.contains(out, `"id": "p1"`)
	})

	t.Run("invalid reference", func(t *testing.T) {
		env := newTestEnv(t)

		out, err := env.runErr("get", "not-a-ref")
		if err == nil {
			t.Error("malformed reference should fail")
		}
		env.contains(out, "expected Type/id")
	})

	t.Run("json output is compact", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)

		out := env.run("get", "Patient/p1", "--json")

		var doc map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &doc); err != nil {
			t.Fatalf("output is not a single JSON document: %v", err)
		}
		if doc["resourceType"] != "Patient" {
			t.Errorf("resourceType = %v", doc["resourceType"])
		}
	})
}
