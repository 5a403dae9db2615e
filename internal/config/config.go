// Package config provides reading and writing of fhird configuration.
// Supports both global (~/.config/fhird/config.yaml) and local
// (.fhird/config.yaml). Reading: uses local if it exists, otherwise global.
// Writing: defaults to global, use --local for local.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoConfigPath is returned when the config path cannot be determined.
	ErrNoConfigPath = errors.New("cannot determine config path")
	// ErrUnknownKey is returned when getting/setting an unknown config key.
	ErrUnknownKey = errors.New("unknown config key")
	// ErrInvalidValue is returned when a config value is invalid.
	ErrInvalidValue = errors.New("invalid config value")
)

// Scope represents the configuration scope (global or local).
type Scope int

const (
	// ScopeGlobal is user-wide config in ~/.config/fhird/config.yaml (default)
	ScopeGlobal Scope = iota
	// ScopeLocal is directory-specific config in .fhird/config.yaml
	ScopeLocal
)

// Server holds the HTTP-facing configuration options.
type Server struct {
	BaseURL string `yaml:"base_url,omitempty"`
	Listen  string `yaml:"listen,omitempty"`
}

// Search holds query execution limits. All fields are optional; accessors
// apply defaults when unset.
type Search struct {
	DefaultCount *int  `yaml:"default_count,omitempty"`
	MaxCount     *int  `yaml:"max_count,omitempty"`
	ChainDepth   *int  `yaml:"chain_depth,omitempty"`
	IncludeHops  *int  `yaml:"include_hops,omitempty"`
	TypeCap      *int  `yaml:"type_cap,omitempty"`
	Strict       *bool `yaml:"strict,omitempty"`
}

// Store holds database behaviour options.
type Store struct {
	PoolSize      *int  `yaml:"pool_size,omitempty"`
	UpdateCreates *bool `yaml:"update_creates,omitempty"`
}

// Audit holds audit-log options.
type Audit struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Defaults applied when not configured.
const (
	DefaultBaseURL      = "http://localhost:8095/fhir"
	DefaultListen       = "localhost:8095"
	DefaultDefaultCount = 10
	DefaultMaxCount     = 1000
	DefaultChainDepth   = 2
	DefaultIncludeHops  = 3
	DefaultTypeCap      = 10000
	DefaultPoolSize     = 64
)

// Validation bounds for configuration values.
const (
	MinDefaultCount = 1
	MaxDefaultCount = 10000
	MinMaxCount     = 1
	MaxMaxCount     = 100000
	MinChainDepth   = 0
	MaxChainDepth   = 8
	MinIncludeHops  = 1
	MaxIncludeHops  = 10
	MinTypeCap      = 1
	MaxTypeCap      = 10_000_000
	MinPoolSize     = 1
	MaxPoolSize     = 4096
)

// Config contains configuration for fhird.
type Config struct {
	Server Server `yaml:"server,omitempty"`
	Search Search `yaml:"search,omitempty"`
	Store  Store  `yaml:"store,omitempty"`
	Audit  Audit  `yaml:"audit,omitempty"`

	// path is the file this config was loaded from (for Save)
	path  string
	scope Scope
}

// Validate checks that all configured values are within acceptable bounds.
// Returns nil if all values are valid or not set (defaults will be used).
func (c *Config) Validate() error {
	checks := []struct {
		key      string
		val      *int
		min, max int
	}{
		{"search.default_count", c.Search.DefaultCount, MinDefaultCount, MaxDefaultCount},
		{"search.max_count", c.Search.MaxCount, MinMaxCount, MaxMaxCount},
		{"search.chain_depth", c.Search.ChainDepth, MinChainDepth, MaxChainDepth},
		{"search.include_hops", c.Search.IncludeHops, MinIncludeHops, MaxIncludeHops},
		{"search.type_cap", c.Search.TypeCap, MinTypeCap, MaxTypeCap},
		{"store.pool_size", c.Store.PoolSize, MinPoolSize, MaxPoolSize},
	}
	for _, ck := range checks {
		if ck.val == nil {
			continue
		}
		if v := *ck.val; v < ck.min || v > ck.max {
			return fmt.Errorf("%w: %s must be between %d and %d, got %d",
				ErrInvalidValue, ck.key, ck.min, ck.max, v)
		}
	}
	if c.Search.DefaultCount != nil && c.Search.MaxCount != nil &&
		*c.Search.DefaultCount > *c.Search.MaxCount {
		return fmt.Errorf("%w: search.default_count (%d) exceeds search.max_count (%d)",
			ErrInvalidValue, *c.Search.DefaultCount, *c.Search.MaxCount)
	}
	return nil
}

// BaseURL returns the server base URL used to absolutise references in
// bundles (defaults to http://localhost:8095/fhir).
func (c *Config) BaseURL() string {
	if c.Server.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.Server.BaseURL
}

// Listen returns the address the HTTP server binds (defaults to localhost:8095).
func (c *Config) Listen() string {
	if c.Server.Listen == "" {
		return DefaultListen
	}
	return c.Server.Listen
}

// DefaultCount returns the page size used when a search omits _count.
func (c *Config) DefaultCount() int {
	if c.Search.DefaultCount == nil {
		return DefaultDefaultCount
	}
	return *c.Search.DefaultCount
}

// MaxCount returns the ceiling a client-supplied _count is clamped to.
func (c *Config) MaxCount() int {
	if c.Search.MaxCount == nil {
		return DefaultMaxCount
	}
	return *c.Search.MaxCount
}

// ChainDepth returns the maximum number of dots allowed in a chained
// search parameter.
func (c *Config) ChainDepth() int {
	if c.Search.ChainDepth == nil {
		return DefaultChainDepth
	}
	return *c.Search.ChainDepth
}

// IncludeHops returns the iteration ceiling for _include:iterate and
// _revinclude:iterate expansion.
func (c *Config) IncludeHops() int {
	if c.Search.IncludeHops == nil {
		return DefaultIncludeHops
	}
	return *c.Search.IncludeHops
}

// TypeCap returns the per-resource-type cap on rows a single query phase
// may touch. Guards _has and reverse chaining against unbounded scans.
func (c *Config) TypeCap() int {
	if c.Search.TypeCap == nil {
		return DefaultTypeCap
	}
	return *c.Search.TypeCap
}

// StrictSearch returns whether unsupported search parameters are rejected
// rather than ignored-with-warning (defaults to false, the lenient mode).
func (c *Config) StrictSearch() bool {
	if c.Search.Strict == nil {
		return false
	}
	return *c.Search.Strict
}

// PoolSize returns the number of concurrently admitted store operations.
func (c *Config) PoolSize() int {
	if c.Store.PoolSize == nil {
		return DefaultPoolSize
	}
	return *c.Store.PoolSize
}

// UpdateCreates returns whether PUT to an unknown id creates the resource
// with the client-supplied id (defaults to true).
func (c *Config) UpdateCreates() bool {
	if c.Store.UpdateCreates == nil {
		return true
	}
	return *c.Store.UpdateCreates
}

// AuditEnabled returns whether write operations are recorded in the audit
// log (defaults to true).
func (c *Config) AuditEnabled() bool {
	if c.Audit.Enabled == nil {
		return true
	}
	return *c.Audit.Enabled
}

// LocalPath returns the path to the local (per-directory) config file.
func LocalPath() string {
	return filepath.Join(".fhird", "config.yaml")
}

// GlobalPath returns the path to the global (user) config file:
// ~/.config/fhird/config.yaml
func GlobalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "fhird", "config.yaml")
}

// Load reads configuration: uses local if it exists, otherwise global.
func Load() (*Config, error) {
	if _, err := os.Stat(LocalPath()); err == nil {
		return LoadScope(ScopeLocal)
	}
	return LoadScope(ScopeGlobal)
}

// LoadScope reads configuration from a specific scope.
func LoadScope(scope Scope) (*Config, error) {
	path := pathForScope(scope)
	if path == "" {
		return &Config{scope: scope}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{path: path, scope: scope}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("malformed config file %s: %w\n\nTo fix: edit the file to correct the YAML syntax, or delete it to use defaults", path, err)
	}
	cfg.path = path
	cfg.scope = scope

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Scope returns which scope this config was loaded from.
func (c *Config) Scope() Scope {
	return c.scope
}

// Save writes the configuration to its original location.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = pathForScope(c.scope)
	}
	if c.path == "" {
		return ErrNoConfigPath
	}
	return c.saveToPath(c.path)
}

// SaveScope writes the configuration to the specified scope.
func (c *Config) SaveScope(scope Scope) error {
	path := pathForScope(scope)
	if path == "" {
		return ErrNoConfigPath
	}
	return c.saveToPath(path)
}

// saveToPath writes configuration to a specific filesystem path.
// Creates parent directories as needed with mode 0755.
func (c *Config) saveToPath(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// pathForScope returns the filesystem path for a given scope.
func pathForScope(scope Scope) string {
	switch scope {
	case ScopeLocal:
		return LocalPath()
	case ScopeGlobal:
		return GlobalPath()
	default:
		return ""
	}
}
