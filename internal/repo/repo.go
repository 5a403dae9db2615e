// Package repo provides store initialisation and discovery for fhird.
//
// A fhird store is a .fhird directory containing one or more SQLite databases.
// This package handles:
//   - Initialising new stores (creating .fhird/ and the database)
//   - Discovering existing stores by walking up the directory tree
//   - Managing multiple named databases (fhird.db, fhird-test.db, etc.)
//   - Controlling git visibility via .gitignore (local vs shared databases)
//
// The discovery algorithm mirrors git's approach: starting from the current
// directory, walk up until a .fhird directory containing the target database
// is found, or the filesystem root is reached.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/config"
	"github.com/jpl-au/fhird/internal/store"
)

const (
	// Dir is the directory name for the fhird store.
	Dir = ".fhird"
	// DBFile is the default database filename.
	DBFile = "fhird.db"
)

// DBFileName returns the database filename for a given name.
// Empty name returns the default "fhird.db".
// A name like "test" returns "fhird-test.db".
// A name already ending in ".db" is returned as-is.
func DBFileName(name string) string {
	if name == "" {
		return DBFile
	}
	if strings.HasSuffix(name, ".db") {
		return name
	}
	return "fhird-" + name + ".db"
}

// ErrNotInitialised is returned when no fhird store is found.
var ErrNotInitialised = errors.New("fhird not initialised (run 'fhird init')")

// StoreOptions builds store options from configuration. Init and the
// service layer both open databases, so the translation lives here.
func StoreOptions(cfg *config.Config) store.Options {
	return store.Options{
		Catalog:       catalog.Default(),
		BaseURL:       cfg.BaseURL(),
		UpdateCreates: cfg.UpdateCreates(),
		MaxInFlight:   cfg.PoolSize(),
	}
}

// Init initialises a new fhird store.
//
// Why init does not write config: Following the git model, init only creates
// the database. Config is a separate concern managed via "fhird config".
// This keeps responsibilities clear:
//   - init: create the database
//   - --local: mark database as gitignored
//   - config command: manage settings (global ~/.config/fhird/config.yaml
//     or local .fhird/config.yaml)
//
// Parameters:
//   - force: reinitialise existing store
//   - db: database name (empty for default "fhird.db")
//   - local: add database to .gitignore (not committed)
//   - dir: target directory (empty for current directory)
func Init(force bool, db string, local bool, dir string) error {
	if dir == "" {
		dir = "."
	}
	fhirdDir := filepath.Join(dir, Dir)
	dbPath := filepath.Join(fhirdDir, DBFileName(db))

	// Check if already exists
	if _, err := os.Stat(dbPath); err == nil {
		if !force {
			return fmt.Errorf("database %s already exists (use --force to reinitialise)", DBFileName(db))
		}
		// Remove existing DB for reinit
		if err := os.Remove(dbPath); err != nil {
			return fmt.Errorf("remove database: %w", err)
		}
	}

	// Create directory
	if err := os.MkdirAll(fhirdDir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err // config.Load provides detailed, actionable error messages
	}

	// Create and initialise DB
	s, err := store.Open(dbPath, StoreOptions(cfg))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	if err := s.Init(); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	// Create .gitignore if it doesn't exist.
	// Only create on first init - subsequent inits (for additional databases)
	// should not overwrite and lose custom entries like local database markers.
	gitignore := filepath.Join(fhirdDir, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		s := `# fhird - ignore WAL sidecars and local config
# Database files (*.db) are the source of truth and may be committed
*.db-wal
*.db-shm
config.yaml
`
		if err := os.WriteFile(gitignore, []byte(s), 0644); err != nil {
			return fmt.Errorf("write gitignore: %w", err)
		}
	}

	// Mark database as local if requested (add to gitignore).
	//
	// Why --local only affects gitignore: The --local flag controls whether
	// the database file is committed to git. It does not create config.
	// Config is managed separately via "fhird config".
	if local {
		if err := IgnoreDB(db, fhirdDir); err != nil {
			return fmt.Errorf("ignore database: %w", err)
		}
	}

	return nil
}

// Discover walks up the directory tree looking for a .fhird database.
// The db parameter specifies which database to find (empty for default).
// Returns the full path to the database if found.
func Discover(db string) (string, error) {
	dbFile := DBFileName(db)
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	for {
		dbPath := filepath.Join(dir, Dir, dbFile)
		if _, err := os.Stat(dbPath); err == nil {
			return dbPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotInitialised
		}
		dir = parent
	}
}

// DiscoverDir finds the .fhird directory, walking up the tree.
// Returns the full path to the .fhird directory.
func DiscoverDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	for {
		fhirdDir := filepath.Join(dir, Dir)
		if info, err := os.Stat(fhirdDir); err == nil && info.IsDir() {
			return fhirdDir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotInitialised
		}
		dir = parent
	}
}

// DBInfo holds database metadata.
type DBInfo struct {
	Name  string // Short name (empty for default, "test" for fhird-test.db)
	File  string // Filename (fhird.db, fhird-test.db)
	Path  string // Full path
	Local bool   // True if gitignored
}

// ListDBs returns all databases in the .fhird directory with their status.
// If dir is empty, discovers .fhird directory from current working directory.
func ListDBs(dir string) ([]DBInfo, error) {
	if dir == "" {
		var err error
		dir, err = DiscoverDir()
		if err != nil {
			return nil, fmt.Errorf("discover .fhird directory: %w", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read .fhird directory: %w", err)
	}

	var dbs []DBInfo
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".db") {
			continue
		}

		// Extract short name from filename
		name := ""
		if e.Name() == DBFile {
			name = ""
		} else if strings.HasPrefix(e.Name(), "fhird-") {
			name = strings.TrimSuffix(strings.TrimPrefix(e.Name(), "fhird-"), ".db")
		} else {
			continue // Not a fhird database
		}

		ignored, err := IsIgnored(name, dir)
		if err != nil {
			// If we can't determine ignored status, default to false (shared).
			// This can happen if .gitignore is malformed or unreadable.
			ignored = false
		}
		dbs = append(dbs, DBInfo{
			Name:  name,
			File:  e.Name(),
			Path:  filepath.Join(dir, e.Name()),
			Local: ignored,
		})
	}

	return dbs, nil
}
