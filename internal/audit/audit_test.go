package audit

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit-test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestAudit(t *testing.T) {
	db, path := setupDB(t)

	t.Run("attach and detach", func(t *testing.T) {
		err := Attach(db, path)
		require.NoError(t, err)
		defer Detach()

		var n int
		err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'audit_log'`).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("log entry", func(t *testing.T) {
		require.NoError(t, Attach(db, path))
		defer Detach()

		Log(Entry{
			Source:       "resource:get",
			Actor:        "test-user",
			Action:       "read",
			ResourceType: "Patient",
			ResourceID:   "p1",
			VersionID:    3,
			Success:      true,
		})

		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		var source, action, typ, id string
		var version int64
		var success int
		err = db.QueryRow("SELECT source, action, resource_type, resource_id, version_id, success FROM audit_log WHERE id = 1").
			Scan(&source, &action, &typ, &id, &version, &success)
		require.NoError(t, err)
		assert.Equal(t, "resource:get", source)
		assert.Equal(t, "read", action)
		assert.Equal(t, "Patient", typ)
		assert.Equal(t, "p1", id)
		assert.Equal(t, int64(3), version)
		assert.Equal(t, 1, success)
	})

	t.Run("log error entry", func(t *testing.T) {
		require.NoError(t, Attach(db, path))
		defer Detach()

		Log(Entry{
			Source:       "resource:get",
			Action:       "read",
			ResourceType: "Patient",
			ResourceID:   "missing",
			Success:      false,
			Error:        "Patient/missing does not exist",
		})

		var success int
		var errMsg string
		err := db.QueryRow("SELECT success, error FROM audit_log ORDER BY id DESC LIMIT 1").
			Scan(&success, &errMsg)
		require.NoError(t, err)
		assert.Equal(t, 0, success)
		assert.Equal(t, "Patient/missing does not exist", errMsg)
	})

	t.Run("log with detail", func(t *testing.T) {
		require.NoError(t, Attach(db, path))
		defer Detach()

		Log(Entry{
			Source:  "resource:search",
			Action:  "search",
			Success: true,
			Detail:  map[string]any{"query": "name=smith", "matches": 42},
		})

		var detail string
		err := db.QueryRow("SELECT detail FROM audit_log ORDER BY id DESC LIMIT 1").Scan(&detail)
		require.NoError(t, err)
		assert.Contains(t, detail, `"query":"name=smith"`)
		assert.Contains(t, detail, `"matches":42`)
	})

	t.Run("detached is a no-op", func(t *testing.T) {
		Detach()

		var before int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&before))

		Log(Entry{Source: "resource:get", Action: "read", Success: true})

		var after int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&after))
		assert.Equal(t, before, after)
	})
}

// --- Builder Tests ---

func TestBuilder(t *testing.T) {
	db, path := setupDB(t)
	require.NoError(t, Attach(db, path))
	defer Detach()

	t.Run("success path", func(t *testing.T) {
		Event("rest:update", "update").
			Actor("alice").
			Resource("Observation", "obs-1").
			Version(2).
			Detail("interaction", "update").
			Write(nil)

		var actor, typ, id string
		var version int64
		var success int
		err := db.QueryRow(`SELECT actor, resource_type, resource_id, version_id, success
			FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&actor, &typ, &id, &version, &success)
		require.NoError(t, err)
		assert.Equal(t, "alice", actor)
		assert.Equal(t, "Observation", typ)
		assert.Equal(t, "obs-1", id)
		assert.Equal(t, int64(2), version)
		assert.Equal(t, 1, success)
	})

	t.Run("error path derives failure", func(t *testing.T) {
		Event("rest:delete", "delete").
			Resource("Patient", "p9").
			Write(errors.New("version conflict"))

		var success int
		var errMsg string
		err := db.QueryRow("SELECT success, error FROM audit_log ORDER BY id DESC LIMIT 1").
			Scan(&success, &errMsg)
		require.NoError(t, err)
		assert.Equal(t, 0, success)
		assert.Equal(t, "version conflict", errMsg)
	})

	t.Run("instance fingerprint is stable", func(t *testing.T) {
		assert.Equal(t, fingerprint("/a/b.db"), fingerprint("/a/b.db"))
		assert.NotEqual(t, fingerprint("/a/b.db"), fingerprint("/a/c.db"))
		assert.Len(t, fingerprint("/a/b.db"), 16)
	})
}
