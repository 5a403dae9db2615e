// maint.go implements database maintenance operations for the Service layer.
//
// Separated because maintenance operations (vacuum, checkpoint) have different
// usage patterns and risk profiles than normal interactions. These are
// typically run on schedules or before backups, not during normal usage.
//
// Design: Vacuum is the only way to permanently delete data. This separation
// makes the destructive nature explicit - you have to consciously call a
// maintenance operation to lose a version chain permanently.

package resource

import (
	"context"
	"time"

	"github.com/jpl-au/fhird/internal/store"
)

// Vacuum permanently removes tombstoned resources and their version chains.
func (s *Service) Vacuum(ctx context.Context, olderThan *time.Duration, resourceType string) (int64, error) {
	return s.store.Vacuum(ctx, olderThan, resourceType)
}

// VacuumEligible counts the chains Vacuum would remove with the same filters.
func (s *Service) VacuumEligible(ctx context.Context, olderThan *time.Duration, resourceType string) (int64, error) {
	return s.store.VacuumEligible(ctx, olderThan, resourceType)
}

// Checkpoint flushes the WAL to the main database file. Removes the -wal and
// -shm files from the filesystem, useful before backup operations or when
// preparing the database for distribution.
func (s *Service) Checkpoint(ctx context.Context) error {
	return s.store.Checkpoint(ctx)
}

// Stats returns aggregate database statistics.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}
