package cmd

import "testing"

func TestRm(t *testing.T) {
	t.Run("delete by reference", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)

		out := env.run("rm", "Patient/p1")
		env.contains(out, "Deleted Patient/p1 (version 2)")
	})

	t.Run("history survives delete", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.run("rm", "Patient/p1")

		out := env.run("get", "Patient/p1", "-v", "1")
		env.contains(out, "Smith")
	})

	t.Run("repeat delete is noop", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.run("rm", "Patient/p1")

		out := env.run("rm", "Patient/p1")
		env.contains(out, "already deleted")

		// No extra version was written
		hist := env.run("history", "Patient/p1")
		env.notContains(hist, "v3")
	})

	t.Run("unknown id fails", func(t *testing.T) {
		env := newTestEnv(t)

		out, err := env.runErr("rm", "Patient/nope")
		if err == nil {
			t.Error("rm of missing resource should fail")
		}
		env.contains(out, "does not exist")
	})
}

func TestRm_Conditional(t *testing.T) {
	t.Run("single match", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, patientJones)

		out := env.run("rm", "Patient", "name=smith")
		env.contains(out, "Deleted 1 resource(s)")

		search := env.run("search", "Patient", "name=jones")
		env.contains(search, "Patient/p2")
	})

	t.Run("multiple matches need multi", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, patientJones)

		_, err := env.runErr("rm", "Patient", "active:missing=true")
		if err == nil {
			t.Error("multi-match delete without --multi should fail")
		}

		out := env.run("rm", "Patient", "active:missing=true", "--multi")
		env.contains(out, "Deleted 2 resource(s)")
	})

	t.Run("no matches deletes nothing", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)

		out := env.run("rm", "Patient", "name=nobody")
		env.contains(out, "Deleted 0 resource(s)")
	})
}
