package cmd

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestExport(t *testing.T) {
	t.Run("stdout is pure ndjson", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, patientJones)

		out := env.run("export")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 NDJSON lines, got %d\noutput: %s", len(lines), out)
		}
		for _, l := range lines {
			if !strings.HasPrefix(l, `{"resourceType":"Patient"`) {
				t.Errorf("line is not a compact resource document: %s", l)
			}
		}
	})

	t.Run("to file", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, obsHeartRate)

		out := env.run("export", "-o", "dump.ndjson")
		env.contains(out, "Exported 2 resource(s) to dump.ndjson")

		data, err := os.ReadFile(filepath.Join(env.dir, "dump.ndjson"))
		if err != nil {
			t.Fatal(err)
		}
		env.contains(string(data), `"id":"p1"`)
		env.contains(string(data), `"id":"o1"`)
	})

	t.Run("type filter", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, obsHeartRate)

		out := env.run("export", "-t", "Patient")
		env.contains(out, `"id":"p1"`)
		env.notContains(out, "Observation")
	})

	t.Run("deleted resources excluded", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, patientJones)
		env.run("rm", "Patient/p1")

		out := env.run("export")
		env.notContains(out, `"id":"p1"`)
		env.contains(out, `"id":"p2"`)
	})

	t.Run("refuses overwrite without force", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.writeFile("dump.ndjson", "precious\n")

		out, err := env.runErr("export", "-o", "dump.ndjson")
		if err == nil {
			t.Error("export onto an existing file should fail")
		}
		env.contains(out, "use --force")

		env.run("export", "-o", "dump.ndjson", "--force")
	})
}

func TestExport_RoundTrip(t *testing.T) {
	// A dump loads back into an empty store and re-exports identically,
	// except for meta.lastUpdated which the server re-stamps on write.
	env := newTestEnv(t)
	env.seed(patientSmith, patientJones, obsHeartRate)

	first := env.run("export")

	env.run("init", "--force")
	path := env.writeFile("dump.ndjson", first)
	env.run("load", path)

	second := env.run("export")

	stamp := regexp.MustCompile(`"lastUpdated":"[^"]+"`)
	env.equals(
		stamp.ReplaceAllString(second, `"lastUpdated":"T"`),
		stamp.ReplaceAllString(first, `"lastUpdated":"T"`),
	)
}
