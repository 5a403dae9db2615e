package cmd

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHistory(t *testing.T) {
	t.Run("instance chain", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.seed(strings.Replace(patientSmith, `"female"`, `"unknown"`, 1))
		env.run("rm", "Patient/p1")

		out := env.run("history", "Patient/p1")
		env.contains(out, "v1")
		env.contains(out, "v2")
		env.contains(out, "v3")
		env.contains(out, "delete")
	})

	t.Run("newest first", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.seed(strings.Replace(patientSmith, `"female"`, `"unknown"`, 1))

		out := env.run("history", "Patient/p1")
		v2 := strings.Index(out, "v2")
		v1 := strings.Index(out, "v1")
		if v2 == -1 || v1 == -1 || v2 > v1 {
			t.Errorf("expected v2 before v1\noutput: %s", out)
		}
	})

	t.Run("type scope", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, patientJones, obsHeartRate)

		out := env.run("history", "Patient")
		env.contains(out, "Patient/p1")
		env.contains(out, "Patient/p2")
		env.notContains(out, "Observation/o1")
	})

	t.Run("system scope", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, obsHeartRate)

		out := env.run("history")
		env.contains(out, "Patient/p1")
		env.contains(out, "Observation/o1")
	})

	t.Run("count limit", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.seed(strings.Replace(patientSmith, `"female"`, `"unknown"`, 1))
		env.seed(strings.Replace(patientSmith, `"female"`, `"other"`, 1))

		out := env.run("history", "Patient/p1", "-n", "2")
		env.contains(out, "v3")
		env.contains(out, "v2")
		env.notContains(out, "v1 ")
		env.contains(out, "Showing 2 of 3")
	})

	t.Run("empty store", func(t *testing.T) {
		env := newTestEnv(t)

		out := env.run("history")
		env.contains(out, "No history")
	})

	t.Run("json emits history bundle", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)

		out := env.run("history", "Patient/p1", "--json")

		var bundle map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &bundle); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if bundle["type"] != "history" {
			t.Errorf("bundle type = %v", bundle["type"])
		}
	})
}
