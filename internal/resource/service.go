// Package resource provides higher-level FHIR operations backed by a
// Store implementation. It exposes a `Service` which wraps a `store.Store`
// together with the search engine and the bundle processor, and offers the
// full set of interactions: CRUD, search, history, transactions and the
// extended operations.
package resource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jpl-au/fhird/extension"
	"github.com/jpl-au/fhird/internal/audit"
	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/config"
	"github.com/jpl-au/fhird/internal/ops"
	"github.com/jpl-au/fhird/internal/repo"
	"github.com/jpl-au/fhird/internal/search"
	"github.com/jpl-au/fhird/internal/store"
)

// Service provides higher-level FHIR operations backed by a Store.
type Service struct {
	store  *store.SQLiteStore
	engine *search.Engine
	proc   *ops.Processor
	dbPath string
	strict bool
	extCtx extension.Context // for firing events to extensions
}

// New creates a new Service, discovering the DB by walking up the directory tree.
// The db parameter specifies which database to use (empty for default).
// Returns ErrNotInitialised if no matching database is found.
func New(db string) (*Service, error) {
	dbPath, err := repo.Discover(db)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err // config.Load provides detailed, actionable error messages
	}
	return Open(dbPath, cfg)
}

// Open builds a Service on a known database path. New resolves the path by
// discovery; servers that were handed an explicit path come in here.
func Open(dbPath string, cfg *config.Config) (*Service, error) {
	st, err := store.Open(dbPath, repo.StoreOptions(cfg))
	if err != nil {
		return nil, err
	}

	// The engine reads the same tables the store writes, and the store
	// resolves conditional criteria through the engine. One direction is a
	// constructor argument, the other an injected interface.
	eng := search.New(st.DB(), st.Catalog(), search.Options{
		BaseURL:        cfg.BaseURL(),
		DefaultCount:   cfg.DefaultCount(),
		MaxCount:       cfg.MaxCount(),
		MaxChainDepth:  cfg.ChainDepth(),
		MaxIncludeHops: cfg.IncludeHops(),
		TypeCap:        cfg.TypeCap(),
	})
	st.SetResolver(eng)

	s := &Service{
		store:  st,
		engine: eng,
		dbPath: dbPath,
		strict: cfg.StrictSearch(),
	}
	s.proc = ops.New(st, eng, ops.Options{
		DefaultCount: cfg.DefaultCount(),
		MaxCount:     cfg.MaxCount(),
		TypeCap:      cfg.TypeCap(),
		Notify:       s.notifyChange,
	})
	return s, nil
}

// Init initialises a new fhird store.
// If dir is empty, uses current directory; otherwise uses dir.
// The db parameter specifies which database to create (empty for default).
// If local is true, the database is added to .gitignore (not committed).
//
// Note: Init does not write config. Config is managed separately via "fhird config".
func Init(force bool, db string, local bool, dir string) error {
	return repo.Init(force, db, local, dir)
}

// Close checkpoints the WAL and closes the database connection.
func (s *Service) Close() error {
	if err := s.store.Checkpoint(context.Background()); err != nil {
		audit.Event("service:close", "checkpoint").
			Detail("error", err.Error()).
			Write(err)
	}
	audit.Detach()
	return s.store.Close()
}

// SetExtensionContext sets the extension context for firing events.
// Called from cmd/root.go after creating the context.
func (s *Service) SetExtensionContext(ctx extension.Context) {
	s.extCtx = ctx
}

// notifyChange translates a committed bundle write into an extension event.
// Wired into the processor so transaction entries report after commit.
func (s *Service) notifyChange(ch ops.Change) {
	s.fireEvent(extension.ResourceEvent{
		Type:      ch.Type,
		ID:        ch.ID,
		VersionID: ch.VersionID,
		Op:        ch.Op,
	})
}

// fireEvent notifies all registered extension event handlers.
//
// Design: Event handler errors are logged but not propagated. This is intentional:
// events are notifications, not veto points. Extensions observe operations but
// cannot block them. If critical operations need extension approval, use a
// different mechanism (e.g., pre-operation hooks that can return errors).
//
// Thread-safe: extension.All() returns a snapshot copy under read lock,
// and extensions are only registered during init() (never removed).
func (s *Service) fireEvent(e extension.Event) {
	if s.extCtx == nil {
		return
	}
	for _, ext := range extension.All() {
		if h, ok := ext.(extension.EventHandler); ok {
			if err := h.HandleEvent(s.extCtx, e); err != nil {
				audit.Event("event:error", "error").
					Detail("ext", ext.Name()).
					Detail("event", string(e.EventType())).
					Write(err)
			}
		}
	}
}

// logSkips records index extraction skips against the version they belong
// to. A skip means one search parameter could not be evaluated for this
// resource; the write itself succeeded.
func logSkips(source string, wr *store.WriteResult) {
	if len(wr.Skips) == 0 {
		return
	}
	b := audit.Event(source, "index-skip").
		Resource(wr.Type, wr.ID).
		Version(wr.VersionID)
	for _, sk := range wr.Skips {
		b.Detail(sk.Param, sk.Err.Error())
	}
	b.Write(nil)
}

// DB returns the underlying database connection for extensions.
func (s *Service) DB() *sql.DB {
	return s.store.DB()
}

// DBPath returns the path to the database file.
func (s *Service) DBPath() string {
	return s.dbPath
}

// Catalog returns the search parameter catalog the store indexes against.
func (s *Service) Catalog() *catalog.Catalog {
	return s.store.Catalog()
}

// BaseURL returns the configured server base URL.
func (s *Service) BaseURL() string {
	return s.store.BaseURL()
}

// Strict reports the configured default search handling.
func (s *Service) Strict() bool {
	return s.strict
}

// Tx runs a function within a database transaction.
//
// The defer Rollback pattern: We always defer Rollback(), then call Commit()
// at the end. This is safe because Rollback() on a committed transaction is
// a no-op. The pattern guarantees cleanup in all cases:
// - fn() returns error → Rollback() runs, undoing partial changes
// - fn() panics → Rollback() runs via defer
// - Commit() fails → Rollback() runs (already committed portions are safe)
// - Commit() succeeds → Rollback() is a no-op
//
// Why expose raw *sql.Tx: Extensions may need complex operations not covered
// by the Service API. Raw transactions let them do multi-step atomic operations
// while still benefiting from the service's connection management.
func (s *Service) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	if err := fn(tx); err != nil {
		return fmt.Errorf("transaction rolled back: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
