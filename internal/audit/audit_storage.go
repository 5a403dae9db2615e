// audit_storage.go implements SQLite persistence for audit entries.
//
// Separated from audit.go to isolate database concerns. The main audit.go
// provides the fluent API for building entries, while this file handles
// persistence. Keeping the audit_log table in the resource database means a
// single file carries both the data and its history of access; the instance
// column uses a hash of the database path so logs exported from several
// servers remain attributable after merging.
//
// Design: Errors during logging are reported to stderr and otherwise ignored
// (best-effort). A resource write must succeed even when its audit row
// cannot be recorded.

package audit

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/jpl-au/fhird/internal/store"
)

//go:embed sql/*.sql
var schemas embed.FS

// Logger writes audit entries to the resource database.
type Logger struct {
	db       *sql.DB
	instance string
}

func (l *Logger) log(e Entry) {
	var detail *string
	if len(e.Detail) > 0 {
		if b, err := json.Marshal(e.Detail); err == nil {
			s := string(b)
			detail = &s
		}
	}

	success := 0
	if e.Success {
		success = 1
	}

	_, err := l.db.Exec(`
		INSERT INTO audit_log (start, end, instance, source, actor, action,
		                       resource_type, resource_id, version_id,
		                       success, error, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Start, e.End, l.instance, e.Source, nilIfEmpty(e.Actor), e.Action,
		nilIfEmpty(e.ResourceType), nilIfEmpty(e.ResourceID), nilIfZero(e.VersionID),
		success, nilIfEmpty(e.Error), detail,
	)
	if err != nil {
		// Best-effort logging: don't break the main operation, but report failure
		_, _ = fmt.Fprintf(os.Stderr, "fhird: audit log write failed: %v\n", err)
	}
}

// fingerprint creates an instance identifier from the database path,
// enabling cross-instance audit queries while keeping paths private.
func fingerprint(s string) string {
	h, err := blake2b.New(8, nil) // 64-bit = 16 hex chars
	if err != nil {
		// Should never happen with nil key, but don't silently ignore
		panic("blake2b.New failed: " + err.Error())
	}
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// migrate provisions the audit_log table. Idempotent.
func migrate(db *sql.DB) error {
	return store.ExecEmbedded(db, schemas, "sql")
}

// nilIfEmpty returns nil for empty strings, reducing NULL checks in queries.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nilIfZero returns nil for zero values, indicating "no version" in queries.
func nilIfZero(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}
