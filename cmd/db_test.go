package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDB_Stats(t *testing.T) {
	t.Run("counts", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, patientJones, obsHeartRate)
		env.seed(strings.Replace(patientSmith, `"female"`, `"unknown"`, 1))
		env.run("rm", "Observation/o1")

		out := env.run("db", "stats")
		env.contains(out, "Resources:   2")
		env.contains(out, "Deleted:     1")
		env.contains(out, "By type:")
		env.contains(out, "Patient")
	})

	t.Run("json", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)

		out := env.run("db", "stats", "--json")

		var st map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &st); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if st["resources"] != float64(1) {
			t.Errorf("resources = %v", st["resources"])
		}
	})
}

func TestDB_Checkpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(patientSmith)

	out := env.run("db", "checkpoint")
	env.contains(out, "Checkpointed fhird.db")
}

func TestDB_List(t *testing.T) {
	t.Run("lists databases with status", func(t *testing.T) {
		env := newTestEnv(t)
		env.run("init", "--db", "scratch")

		out := env.run("db", "list")
		env.contains(out, "fhird.db")
		env.contains(out, "fhird-scratch.db")
		env.contains(out, "shared")
	})

	t.Run("local and share toggle gitignore", func(t *testing.T) {
		env := newTestEnv(t)

		out := env.run("db", "local")
		env.contains(out, "fhird.db marked as local")

		data, err := os.ReadFile(filepath.Join(env.dir, ".fhird", ".gitignore"))
		if err != nil {
			t.Fatalf("expected .fhird/.gitignore: %v", err)
		}
		env.contains(string(data), "fhird.db")

		list := env.run("db", "list")
		env.contains(list, "local")

		out = env.run("db", "share")
		env.contains(out, "fhird.db marked as shared")

		list = env.run("db", "list")
		env.notContains(list, "local")
	})
}
