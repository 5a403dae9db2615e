// Package audit provides centralised audit logging for fhird operations.
// Entries are stored in an audit_log table inside the resource database
// itself, so the audit trail travels with the data it describes.
//
// # Fluent API
//
// Use the fluent builder API to construct and write audit entries:
//
//	audit.Event("rest:update", "update").
//		Actor(actor).
//		Resource("Patient", id).
//		Version(out.VersionID).
//		Write(err)
//
//	audit.Event("resource:search", "search").
//		Actor(actor).
//		Detail("query", rawQuery).
//		Detail("matches", len(res.Matches)).
//		Write(err)
//
// The source parameter follows the format "{extension}:{command}" for CLI
// commands, "mcp:{tool}" for MCP tools and "rest:{interaction}" for HTTP
// requests. Examples: "resource:rm", "mcp:fhir_create", "rest:transaction".
package audit

import (
	"database/sql"
	"sync"
	"time"
)

var (
	global *Logger
	mu     sync.Mutex
)

// Entry represents a single audit entry.
type Entry struct {
	Source string // e.g., "resource:get", "mcp:fhir_read", "rest:create"
	Actor  string // who performed the action
	Action string // verb: create, update, delete, read, search, etc.

	ResourceType string // target resource type, if any
	ResourceID   string // target resource id, if any
	VersionID    int64  // version created or accessed, if any

	// Timing
	Start int64 // unix timestamp when Event() called
	End   int64 // unix timestamp when Write() called

	Success bool           // whether operation succeeded
	Error   string         // error message if failed
	Detail  map[string]any // additional operation-specific data
}

// Builder constructs an audit entry using a fluent API.
// Create with [Event], chain methods to set fields, then call [Builder.Write]
// to persist the entry.
type Builder struct {
	entry Entry
}

// Event creates a new audit entry builder for an operation.
//
// The source identifies where the operation originated:
//   - CLI commands: "{extension}:{command}" (e.g., "resource:rm")
//   - MCP tools: "mcp:{tool}" (e.g., "mcp:fhir_create")
//   - HTTP requests: "rest:{interaction}" (e.g., "rest:update")
//
// The action describes what was performed: "create", "update", "patch",
// "delete", "read", "search", "transaction", "load", "export", etc.
func Event(source, action string) *Builder {
	return &Builder{
		entry: Entry{
			Source: source,
			Action: action,
			Start:  time.Now().Unix(),
		},
	}
}

// Actor sets who performed the operation.
//
// For CLI commands, use cmd.Actor() which returns the configured actor.
// For MCP tools, use "mcp". For HTTP, the authenticated principal if known.
func (b *Builder) Actor(actor string) *Builder {
	b.entry.Actor = actor
	return b
}

// Resource sets the resource this operation targets. Pass an empty id for
// type-level operations (search, conditional create).
func (b *Builder) Resource(resourceType, id string) *Builder {
	b.entry.ResourceType = resourceType
	b.entry.ResourceID = id
	return b
}

// Version sets the version created or accessed by the operation.
func (b *Builder) Version(version int64) *Builder {
	b.entry.VersionID = version
	return b
}

// Detail adds a key-value pair to the entry's detail map.
//
// Use for operation-specific data that doesn't fit standard fields:
// search queries, match counts, bundle entry totals, etc. Can be called
// multiple times to add multiple details.
func (b *Builder) Detail(key string, value any) *Builder {
	if b.entry.Detail == nil {
		b.entry.Detail = make(map[string]any)
	}
	b.entry.Detail[key] = value
	return b
}

// Write persists the audit entry, deriving success/failure from err.
//
// If err is nil, the entry is recorded as successful; otherwise as failed
// with the error message. This is the standard way to complete an entry:
//
//	out, err := svc.Create(ctx, res)
//	audit.Event("rest:create", "create").Resource(typ, "").Write(err)
func (b *Builder) Write(err error) {
	b.entry.End = time.Now().Unix()
	b.entry.Success = err == nil
	if err != nil {
		b.entry.Error = err.Error()
	}
	Log(b.entry)
}

// Attach binds the audit log to an already-open resource database and
// provisions the audit_log table. The dbPath is hashed into the instance
// fingerprint recorded on every row. Safe to call multiple times; later
// calls replace the binding.
func Attach(db *sql.DB, dbPath string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := migrate(db); err != nil {
		return err
	}
	global = &Logger{db: db, instance: fingerprint(dbPath)}
	return nil
}

// Log writes an entry. Safe to call if the audit log is not attached (no-op),
// which is how audit disablement works: commands simply never Attach.
func Log(e Entry) {
	mu.Lock()
	l := global
	mu.Unlock()

	if l == nil {
		return
	}
	l.log(e)
}

// Detach unbinds the audit log. The underlying database handle belongs to
// the store and is not closed here.
func Detach() {
	mu.Lock()
	defer mu.Unlock()
	global = nil
}
