// sqlite_ops.go provides SQLite connection management and low-level operations.
//
// Separated to isolate SQLite-specific concerns (pragmas, connection pooling,
// driver registration) from the write and read paths. This is the only file
// that imports the SQLite driver.
//
// Design: WAL mode with a busy timeout balances concurrency and durability.
// WAL allows concurrent readers during writes, which matters when long
// searches overlap bundle transactions. The 5-second busy timeout prevents
// "database is locked" errors without waiting forever on stuck connections.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"

	// Register sqlite driver
	_ "modernc.org/sqlite"
)

// Options configures an opened store.
type Options struct {
	// Catalog drives index extraction on every write. Required.
	Catalog *catalog.Catalog

	// BaseURL resolves absolute references from this server back to local
	// Type/id form during extraction.
	BaseURL string

	// UpdateCreates allows PUT to an unknown id to create the resource with
	// that client-supplied id.
	UpdateCreates bool

	// MaxInFlight bounds concurrent database operations. Excess callers wait
	// until a slot frees or their context is cancelled. 0 disables the bound.
	MaxInFlight int
}

// SQLiteStore implements the store interfaces over SQLite in WAL mode.
type SQLiteStore struct {
	db   *sql.DB
	cat  *catalog.Catalog
	base string

	updateCreates bool
	sem           *semaphore.Weighted
	locks         *keyedLocks
	resolver      Resolver
}

// Compile-time interface compliance check. A missing or mis-signed method
// fails the build here rather than at the call site.
var _ Store = (*SQLiteStore)(nil)

// Open opens the SQLite database file at path and returns a configured
// store. The caller should call Close on the returned store.
func Open(path string, opts Options) (*SQLiteStore, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("open database %s: no catalog", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// WAL allows concurrent readers while a write transaction is open.
	// Trade-off: -wal and -shm files alongside the database.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// How long to wait when another connection holds the write lock. Most
	// writes complete in milliseconds; 5 seconds covers bulk loads.
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// With WAL, NORMAL is safe against corruption; FULL would fsync every
	// commit for no added integrity.
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:            db,
		cat:           opts.Catalog,
		base:          opts.BaseURL,
		updateCreates: opts.UpdateCreates,
		locks:         newKeyedLocks(),
	}
	if opts.MaxInFlight > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxInFlight))
	}
	return s, nil
}

// Init creates tables and indexes if they don't exist. Safe to call multiple
// times.
func (s *SQLiteStore) Init() error {
	return execSchema(s.db)
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection. The search compiler runs its
// generated SQL through this, and extensions may keep custom tables.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Catalog returns the parameter catalog the store indexes with.
func (s *SQLiteStore) Catalog() *catalog.Catalog {
	return s.cat
}

// BaseURL returns the server base URL used for reference resolution.
func (s *SQLiteStore) BaseURL() string {
	return s.base
}

// UpdateCreates reports whether PUT to an unknown id creates the resource.
// Bundle processing honours the same policy as direct updates.
func (s *SQLiteStore) UpdateCreates() bool {
	return s.updateCreates
}

// Acquire takes one in-flight slot, blocking until one frees. The returned
// release function must be called exactly once. Cancellation while waiting
// surfaces as a transient error so clients retry.
func (s *SQLiteStore) Acquire(ctx context.Context) (func(), error) {
	if s.sem == nil {
		return func() {}, nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fhir.WrapKind(fhir.KindTransient, err, "store at capacity")
	}
	return func() { s.sem.Release(1) }, nil
}

// scanner abstracts sql.Row and sql.Rows, enabling a single scan function
// to handle both single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// resourceColumns is the column list every version-row query selects.
const resourceColumns = `seq, type, id, version_id, op, doc, last_updated, deleted`

// scanRes extracts a StoredResource from a row, handling the nullable doc.
func scanRes(sc scanner) (StoredResource, error) {
	var r StoredResource
	var op string
	var doc sql.NullString

	err := sc.Scan(&r.Seq, &r.Type, &r.ID, &r.VersionID, &op, &doc, &r.LastUpdated, &r.Deleted)
	if err != nil {
		return r, err
	}

	r.Op = fhir.Op(op)
	if doc.Valid {
		r.Doc = []byte(doc.String)
	}
	return r, nil
}

// scanResource converts sql.ErrNoRows to the not-found kind for consistent
// error handling.
func scanResource(row *sql.Row) (*StoredResource, error) {
	r, err := scanRes(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fhir.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan resource: %w", err)
	}
	return &r, nil
}

// scanResources iterates over query results, collecting version rows.
func scanResources(rows *sql.Rows) ([]StoredResource, error) {
	var out []StoredResource
	for rows.Next() {
		r, err := scanRes(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Tx executes fn within a database transaction, handling Begin, Commit, and
// Rollback. If fn returns an error the transaction rolls back; otherwise it
// commits. Rollback is deferred so panics and early returns cannot leak an
// open transaction. Context cancellation aborts at the next database call.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// NewID creates a logical resource id. UUIDv4 keeps ids collision-free
// across imports from other servers. Exported so bundle processing can
// assign ids up front when rewriting URN references.
func NewID() string {
	return uuid.NewString()
}
