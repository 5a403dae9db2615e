// Package store persists FHIR resources as immutable version chains in
// SQLite, together with the typed index rows that search runs against.
//
// Every write appends a version row; nothing is updated in place. Deletes
// append a tombstone version, so history survives deletion and a later
// update revives the resource at the next version number. Within one write
// the version row, the current pointer, and the index rows become visible
// atomically; readers never observe a document without its indexes.
package store

import (
	"strconv"
	"time"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/index"
)

// StoredResource is one version row of one resource.
type StoredResource struct {
	Seq         int64   // global change sequence, assigned by the database
	Type        string  // resource type
	ID          string  // logical id
	VersionID   int64   // 1, 2, 3, ...
	Op          fhir.Op // the write that produced this version
	Doc         []byte  // encoded document; nil for delete markers
	LastUpdated int64   // unix milliseconds UTC
	Deleted     bool    // true on tombstone versions
}

// Resource decodes the stored document. Delete markers have none.
func (r *StoredResource) Resource() (fhir.Resource, error) {
	if r.Doc == nil {
		return nil, fhir.Errorf(fhir.KindGone, "%s/%s version %d is a delete marker", r.Type, r.ID, r.VersionID)
	}
	return fhir.Decode(r.Doc)
}

// Time returns the version timestamp.
func (r *StoredResource) Time() time.Time {
	return time.UnixMilli(r.LastUpdated).UTC()
}

// ETag returns the weak ETag for this version.
func (r *StoredResource) ETag() string {
	return fhir.ETag(strconv.FormatInt(r.VersionID, 10))
}

// WriteResult describes a completed write.
type WriteResult struct {
	Resource    fhir.Resource // the stored document with server-managed meta applied
	Type        string
	ID          string
	VersionID   int64
	LastUpdated time.Time
	Created     bool         // true when the id did not exist before this write
	Noop        bool         // true when no version was written (repeat delete, matched conditional create)
	Skips       []index.Skip // per-parameter extraction failures, logged by the caller
}

// HistoryOptions filters and pages a history query. The zero value returns
// the newest entries with the default page size.
type HistoryOptions struct {
	Count     int   // page size; 0 uses DefaultHistoryCount
	Since     int64 // unix millis; only entries with last_updated >= Since (0 disables)
	At        int64 // unix millis; only entries with last_updated <= At (0 disables)
	BeforeSeq int64 // paging cursor; only entries with seq < BeforeSeq (0 starts at newest)
}

// DefaultHistoryCount is the history page size when none is requested.
const DefaultHistoryCount = 100

// HistoryPage is one page of history entries, newest first.
type HistoryPage struct {
	Entries []StoredResource
	Total   int64 // entries matching the filters across all pages
	HasMore bool  // a further page exists beyond the last entry
}

// Stats summarises store contents for operational visibility.
type Stats struct {
	Resources     int64            `json:"resources"`      // current, non-deleted resources
	Deleted       int64            `json:"deleted"`        // resources whose current version is a tombstone
	TotalVersions int64            `json:"total_versions"` // all version rows including tombstones
	ByType        map[string]int64 `json:"by_type"`        // non-deleted resources per type
	IndexRows     int64            `json:"index_rows"`     // rows across all index tables
	OldestMillis  int64            `json:"oldest_millis"`  // earliest version timestamp
	NewestMillis  int64            `json:"newest_millis"`  // latest version timestamp
	SizeBytes     int64            `json:"size_bytes"`     // database size from page pragmas
}
