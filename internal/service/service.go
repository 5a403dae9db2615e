// Package service defines the shared interface for resource operations.
// Commands and extensions depend on this interface rather than concrete
// implementations, enabling testing with mocks and future backend changes.
package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ops"
	"github.com/jpl-au/fhird/internal/search"
	"github.com/jpl-au/fhird/internal/store"
)

// Service defines all resource operations.
//
// Extensions should use resource.New() to obtain a Service implementation.
// Always call Close() when done (use defer).
//
// Example:
//
//	svc, err := resource.New("")
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	row, err := svc.Read(ctx, "Patient", "p1")
type Service interface {
	// Close checkpoints the WAL and releases database resources.
	// Always defer this after New().
	Close() error

	// Read returns the current version of a resource. Returns a not-found
	// error for unknown resources and a gone error for deleted ones, so
	// callers can distinguish 404 from 410.
	Read(ctx context.Context, resourceType, id string) (*store.StoredResource, error)

	// VRead returns a specific version, including delete markers and
	// versions preceding a delete.
	VRead(ctx context.Context, resourceType, id string, versionID int64) (*store.StoredResource, error)

	// History returns version entries newest-first. Scope narrows with the
	// arguments: both empty for the whole system, type only, or type and id.
	History(ctx context.Context, resourceType, id string, opts store.HistoryOptions) (*store.HistoryPage, error)

	// Each streams every current, non-deleted resource to fn in (type, id)
	// order, optionally limited to one type. Export uses this.
	Each(ctx context.Context, resourceType string, fn func(*store.StoredResource) error) error

	// Create stores a new resource under a server-assigned id.
	Create(ctx context.Context, res fhir.Resource) (*store.WriteResult, error)

	// Update writes a new version under a client-chosen id. Pass ifMatch > 0
	// to require that version (version-aware update). Whether an unknown id
	// creates the resource follows the update_creates setting.
	Update(ctx context.Context, resourceType, id string, res fhir.Resource, ifMatch int64) (*store.WriteResult, error)

	// Upsert is Update that always creates a missing resource, regardless of
	// the update_creates setting. Bulk import uses it.
	Upsert(ctx context.Context, resourceType, id string, res fhir.Resource) (*store.WriteResult, error)

	// Patch applies a JSON Patch document to the current version and stores
	// the result as a new version.
	Patch(ctx context.Context, resourceType, id string, patchDoc []byte, ifMatch int64) (*store.WriteResult, error)

	// Delete writes a delete marker. The version chain stays readable via
	// VRead and History until Vacuum purges it. Deleting an already-deleted
	// resource succeeds without a new version; an unknown id is not found.
	Delete(ctx context.Context, resourceType, id string) (*store.WriteResult, error)

	// ConditionalCreate creates only when no resource matches the criteria.
	// One match returns the existing resource unchanged; several are a
	// conflict.
	ConditionalCreate(ctx context.Context, res fhir.Resource, query string) (*store.WriteResult, error)

	// ConditionalUpdate updates the single match, or creates when there is
	// none. Several matches are a conflict.
	ConditionalUpdate(ctx context.Context, resourceType, query string, res fhir.Resource, ifMatch int64) (*store.WriteResult, error)

	// ConditionalDelete deletes matching resources. Multiple matches are an
	// error unless multi is set. Returns the number deleted.
	ConditionalDelete(ctx context.Context, resourceType, query string, multi bool) (int64, error)

	// Search executes a query against one resource type and returns the raw
	// result: matches, includes, paging cursors and any warnings. In strict
	// mode unsupported parameters reject the query instead of being ignored
	// with a warning; pass the configured default or a per-request override.
	Search(ctx context.Context, resourceType, rawQuery string, strict bool) (*search.Result, error)

	// Searchset assembles a search result into a searchset bundle with
	// match/include modes and paging links.
	Searchset(res *search.Result, resourceType, rawQuery string) (*fhir.Bundle, error)

	// HistoryBundle assembles a history page into a history bundle whose
	// entries carry the original request method and response status.
	HistoryBundle(page *store.HistoryPage, resourceType, id, rawQuery string) *fhir.Bundle

	// Transaction executes a transaction or batch bundle and returns the
	// response bundle. Transactions are atomic; batch entries commit
	// independently.
	Transaction(ctx context.Context, b *fhir.Bundle) (*fhir.Bundle, error)

	// Everything returns one page of a patient's compartment: the Patient,
	// every resource referring to it through a compartment parameter, and
	// the resources those refer to one hop out.
	Everything(ctx context.Context, patientID string, opts ops.EverythingOptions) (*fhir.Bundle, error)

	// Validate checks a document against the envelope rules and the search
	// parameter catalog without storing anything. The outcome is always
	// non-nil; AllOK reports whether it found problems.
	Validate(resourceType string, doc []byte) *fhir.OperationOutcome

	// Meta returns the current version's meta as a Parameters resource.
	Meta(ctx context.Context, resourceType, id string) (fhir.Resource, error)

	// MetaAdd merges profiles, tags and security labels into the current
	// version's meta, writing a new version when anything changed.
	MetaAdd(ctx context.Context, resourceType, id string, meta map[string]any) (fhir.Resource, error)

	// MetaDelete removes the named profiles, tags and security labels,
	// writing a new version when anything changed.
	MetaDelete(ctx context.Context, resourceType, id string, meta map[string]any) (fhir.Resource, error)

	// Expand expands a stored ValueSet (by id or canonical url) into its
	// flat code list.
	Expand(ctx context.Context, id, canonical string) (fhir.Resource, error)

	// Capability returns the server's CapabilityStatement, generated from
	// the search parameter catalog.
	Capability() *catalog.CapabilityStatement

	// Vacuum permanently removes tombstoned resources and their history,
	// optionally only those deleted before now-olderThan, optionally only
	// one resource type. Returns the number of rows removed.
	Vacuum(ctx context.Context, olderThan *time.Duration, resourceType string) (int64, error)

	// Checkpoint flushes the WAL into the main database file. Useful before
	// backups or when preparing the file for distribution.
	Checkpoint(ctx context.Context) error

	// Stats returns aggregate counts for dashboards and the stats tool.
	Stats(ctx context.Context) (*store.Stats, error)

	// Catalog returns the search parameter catalog the store indexes against.
	Catalog() *catalog.Catalog

	// BaseURL returns the configured server base URL.
	BaseURL() string

	// DB exposes the underlying connection for extensions needing custom
	// tables. Extensions should create their own tables, not modify core ones.
	DB() *sql.DB

	// DBPath returns the path to the database file.
	DBPath() string

	// Tx runs a function within a database transaction, committing on nil
	// and rolling back on error. For extension-owned tables.
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
}
