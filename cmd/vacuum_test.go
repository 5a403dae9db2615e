package cmd

import "testing"

func TestVacuum(t *testing.T) {
	t.Run("dry run counts tombstones", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, patientJones)
		env.run("rm", "Patient/p1")

		out := env.run("vacuum", "--dry-run")
		env.contains(out, "Would vacuum 1 resource(s)")

		// Dry run leaves the tombstone readable
		tomb := env.run("get", "Patient/p1", "-D")
		env.contains(tomb, `"deleted": true`)
	})

	t.Run("purges the whole version chain", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.run("rm", "Patient/p1")

		// Two version rows plus the current row
		out := env.run("vacuum", "--force")
		env.contains(out, "Vacuumed 3 row(s)")

		_, err := env.runErr("get", "Patient/p1", "-v", "1")
		if err == nil {
			t.Error("vread of a vacuumed version should fail")
		}

		hist := env.run("history", "Patient/p1")
		env.contains(hist, "No history")
	})

	t.Run("live resources are untouched", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, patientJones)
		env.run("rm", "Patient/p1")
		env.run("vacuum", "--force")

		out := env.run("get", "Patient/p2")
		env.contains(out, "Jones")
	})

	t.Run("type filter", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith, obsHeartRate)
		env.run("rm", "Patient/p1")
		env.run("rm", "Observation/o1")

		out := env.run("vacuum", "-t", "Observation", "--force")
		env.contains(out, "Vacuumed 3 row(s)")

		// The Patient tombstone is still there
		tomb := env.run("get", "Patient/p1", "-D")
		env.contains(tomb, `"deleted": true`)

		_, err := env.runErr("get", "Observation/o1", "-v", "1")
		if err == nil {
			t.Error("vacuumed Observation chain should be gone")
		}
	})

	t.Run("older-than keeps recent deletions", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.run("rm", "Patient/p1")

		out := env.run("vacuum", "--older-than", "7d", "--force")
		env.contains(out, "Vacuumed 0 row(s)")

		tomb := env.run("get", "Patient/p1", "-D")
		env.contains(tomb, `"deleted": true`)
	})

	t.Run("bad duration fails", func(t *testing.T) {
		env := newTestEnv(t)

		out, err := env.runErr("vacuum", "--older-than", "soon", "--force")
		if err == nil {
			t.Error("unparseable duration should fail")
		}
		env.contains(out, "parse duration")
	})
}

func TestVacuum_Confirmation(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.run("rm", "Patient/p1")

		out := env.runStdin("n\n", "vacuum")
		env.contains(out, "Cancelled")

		tomb := env.run("get", "Patient/p1", "-D")
		env.contains(tomb, `"deleted": true`)
	})

	t.Run("accepted", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(patientSmith)
		env.run("rm", "Patient/p1")

		out := env.runStdin("y\n", "vacuum")
		env.contains(out, "Vacuumed 3 row(s)")
	})
}
