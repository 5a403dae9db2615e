package cmd

import "testing"

func TestGuide(t *testing.T) {
	t.Run("default page", func(t *testing.T) {
		env := newTestEnv(t)

		// Piped output skips glamour rendering and emits raw markdown
		out := env.run("guide")
		env.contains(out, "# fhird")
		env.contains(out, "FHIR R4")
	})

	t.Run("search topic", func(t *testing.T) {
		env := newTestEnv(t)

		out := env.run("guide", "search")
		env.contains(out, "# Search")
	})

	t.Run("rest topic", func(t *testing.T) {
		env := newTestEnv(t)

		out := env.run("guide", "rest")
		env.contains(out, "# REST API")
	})

	t.Run("unknown topic lists available", func(t *testing.T) {
		env := newTestEnv(t)

		out, err := env.runErr("guide", "nope")
		if err == nil {
			t.Error("unknown guide topic should fail")
		}
		env.contains(out, `guide "nope" not found`)
		env.contains(out, "Available: mcp, rest, search")
	})
}
