// flags.go defines constants for all CLI flag names.
//
// Using constants instead of string literals prevents typos and enables
// compile-time checking when flag names are used in both Flags().Type()
// definitions and GetType() calls.
//
// Naming convention: Flag<PascalCaseName> where name matches the kebab-case
// CLI flag (e.g., "older-than" -> FlagOlderThan).

package extension

// Flag name constants for CLI commands.
// These are used with cobra's Flags().Type() and GetType() methods.
const (
	// Boolean flags

	FlagDeleted = "deleted" // Include delete markers
	FlagDryRun  = "dry-run" // Preview without making changes
	FlagLocal   = "local"   // Use local scope (gitignored)
	FlagMulti   = "multi"   // Allow conditional delete to remove several matches
	FlagStat    = "stat"    // Summary output instead of full diff
	FlagSummary = "summary" // Meta-only resource rendering

	// String flags

	FlagAt        = "at"         // Historical instant (state as of)
	FlagFormat    = "format"     // Import/export format (ndjson, bundle)
	FlagListen    = "listen"     // HTTP listen address override
	FlagOlderThan = "older-than" // Duration threshold
	FlagOutput    = "output"     // Destination file (default stdout)
	FlagSince     = "since"      // Lower bound instant filter
	FlagSort      = "sort"       // Sort specification (_sort syntax)
	FlagType      = "type"       // Resource type filter

	// Integer flags

	FlagCount   = "count"   // Page size
	FlagFrom    = "from"    // Diff base version
	FlagTo      = "to"      // Diff target version
	FlagVersion = "version" // Specific version number
)
