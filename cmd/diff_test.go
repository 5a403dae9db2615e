package cmd

import (
	"strings"
	"testing"
)

func TestDiff(t *testing.T) {
	t.Run("current vs previous by default", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.seed(strings.Replace(patientSmith, `"Smith"`, `"Smythe"`, 1))

		out := env.run("diff", "Patient/p1")
		env.contains(out, "--- Patient/p1 v1")
		env.contains(out, "+++ Patient/p1 v2")
		env.contains(out, "Smythe")
	})

	t.Run("explicit versions", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.seed(strings.Replace(patientSmith, `"Smith"`, `"Smythe"`, 1))
		env.seed(strings.Replace(patientSmith, `"Smith"`, `"Smithson"`, 1))

		out := env.run("diff", "Patient/p1", "--from", "1", "--to", "3")
		env.contains(out, "--- Patient/p1 v1")
		env.contains(out, "+++ Patient/p1 v3")
		env.contains(out, "Smithson")
	})

	t.Run("stat only", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.seed(strings.Replace(patientSmith, `"Smith"`, `"Smythe"`, 1))

		out := env.run("diff", "Patient/p1", "--stat")
		env.contains(out, "insertion(s)")
		env.contains(out, "deletion(s)")
		env.notContains(out, "+++")
	})

	t.Run("identical versions", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.run("revert", "Patient/p1", "-v", "1")

		out := env.run("diff", "Patient/p1", "--from", "1", "--to", "2")
		env.contains(out, "identical")
	})

	t.Run("single version has no base", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)

		out, err := env.runErr("diff", "Patient/p1")
		if err == nil {
			t.Error("diff of a single-version resource should fail")
		}
		env.contains(out, "nothing to compare")
	})
}
