// interfaces.go defines the storage abstraction for resource persistence.
//
// Separated from the SQLite implementation to enable testing and potential
// alternative backends. The interfaces are intentionally granular (Reader,
// Writer, Historian, etc.) to support interface segregation - consumers only
// depend on the capabilities they need.
//
// Design: All mutating operations use tombstone semantics. Versions are
// never removed by the REST interactions; a delete writes a marker and the
// chain stays readable via vread and history until Vacuum permanently
// purges it. This preserves the audit trail and enables recovery by update.

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
)

// Reader defines read-only operations for retrieving resources.
type Reader interface {
	// Read retrieves the current version of a resource. Returns a gone error
	// if the current version is a delete marker.
	Read(ctx context.Context, resourceType, id string) (*StoredResource, error)

	// VRead retrieves a specific historical version for audit or rollback.
	VRead(ctx context.Context, resourceType, id string, versionID int64) (*StoredResource, error)

	// Exists checks resource presence without loading content, enabling
	// fast reference validation before operations that need the target.
	Exists(ctx context.Context, resourceType, id string) (bool, error)

	// CountType returns the number of live resources of a type, useful for
	// statistics and capability reporting without loading resource data.
	CountType(ctx context.Context, resourceType string) (int64, error)
}

// Writer defines operations that modify resources.
type Writer interface {
	// Create stores a new resource under a server-assigned id.
	Create(ctx context.Context, res fhir.Resource) (*WriteResult, error)

	// Update creates a new version under a client-chosen id, preserving the
	// previous version for history. Pass ifMatch > 0 to require that version.
	Update(ctx context.Context, resourceType, id string, res fhir.Resource, ifMatch int64) (*WriteResult, error)

	// Patch applies a JSON Patch document to the current version and stores
	// the result as a new version.
	Patch(ctx context.Context, resourceType, id string, body []byte, ifMatch int64) (*WriteResult, error)

	// Delete marks a resource as deleted without removing data, allowing
	// recovery via Update until Vacuum permanently removes the chain.
	Delete(ctx context.Context, resourceType, id string) (*WriteResult, error)
}

// Historian defines access to version history.
type Historian interface {
	// History returns versions newest-first. Scope narrows with the
	// arguments: both empty for the whole system, type only, or type and id.
	History(ctx context.Context, resourceType, id string, opts HistoryOptions) (*HistoryPage, error)
}

// Conditional defines criteria-based write operations. These need a search
// engine wired in via SetResolver; without one they fail as unsupported.
type Conditional interface {
	// ConditionalCreate creates only when no resource matches the criteria.
	// One match returns the existing resource unchanged.
	ConditionalCreate(ctx context.Context, res fhir.Resource, query string) (*WriteResult, error)

	// ConditionalUpdate updates the single match, or creates when there is none.
	ConditionalUpdate(ctx context.Context, resourceType, query string, res fhir.Resource, ifMatch int64) (*WriteResult, error)

	// ConditionalDelete deletes matching resources. Multiple matches are an
	// error unless multi is set. Returns the number deleted.
	ConditionalDelete(ctx context.Context, resourceType, query string, multi bool) (int64, error)

	// SetResolver wires in the search engine used to resolve criteria.
	SetResolver(r Resolver)
}

// Transactor exposes the pieces the bundle processor composes into atomic
// multi-resource transactions: an explicit transaction, lock acquisition,
// and per-interaction variants that run inside a caller-managed transaction.
type Transactor interface {
	// Tx runs fn inside a transaction, committing on nil and rolling back
	// on error.
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error

	// Guard locks the given resource keys in sorted order and returns the
	// release function. See LockKey.
	Guard(keys ...string) func()

	// Acquire takes an in-flight slot, blocking when the store is at
	// capacity. The caller must invoke the returned release function.
	Acquire(ctx context.Context) (func(), error)

	CreateTx(ctx context.Context, tx *sql.Tx, res fhir.Resource, id string) (*WriteResult, error)
	UpdateTx(ctx context.Context, tx *sql.Tx, resourceType, id string, res fhir.Resource, ifMatch int64, allowCreate bool) (*WriteResult, error)
	PatchTx(ctx context.Context, tx *sql.Tx, resourceType, id string, body []byte, ifMatch int64) (*WriteResult, error)
	DeleteTx(ctx context.Context, tx *sql.Tx, resourceType, id string) (*WriteResult, error)
	ReadTx(ctx context.Context, tx *sql.Tx, resourceType, id string) (*StoredResource, error)
	VReadTx(ctx context.Context, tx *sql.Tx, resourceType, id string, versionID int64) (*StoredResource, error)
}

// Maintainer defines operations for database maintenance and lifecycle.
type Maintainer interface {
	// Close releases the database connection.
	Close() error

	// DB exposes the underlying connection for extensions needing custom tables.
	DB() *sql.DB

	// Catalog returns the search parameter catalog the store indexes against.
	Catalog() *catalog.Catalog

	// BaseURL returns the server base used to recognise local references.
	BaseURL() string

	// UpdateCreates reports whether PUT to an unknown id creates it.
	UpdateCreates() bool

	// Checkpoint flushes WAL to the main database file.
	Checkpoint(ctx context.Context) error

	// Vacuum permanently removes tombstoned resources and their history.
	Vacuum(ctx context.Context, olderThan *time.Duration, resourceType string) (int64, error)

	// Stats returns aggregate database statistics for capacity planning
	// and operational dashboards.
	Stats(ctx context.Context) (*Stats, error)
}

// Store defines the persistence interface for FHIR resources. Reads always
// see a consistent current version; writes append to immutable version
// chains and update the search index atomically.
type Store interface {
	Reader
	Writer
	Historian
	Conditional
	Transactor
	Maintainer
}
