/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// flags.go defines global CLI flags and accessors for shared state.
//
// Separated from root.go to isolate flag definitions from command logic.
// Extensions access these via exported accessor functions rather than
// directly accessing the variables.
//
// Design: Flags are defined as package-level variables and bound to the
// root command. Accessors are provided so extensions can read flag values
// without coupling to cobra internals. The JSON() helper simplifies output
// format detection across all commands.

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

var (
	jsonOut bool
	actor   string
	baseURL string
	force   bool
	db      string
	dir     string
)

// out is the output writer for commands. Defaults to os.Stdout.
// Tests can replace this to capture output.
var out io.Writer = os.Stdout

// Exported accessors for extensions.
// Extensions use these to access shared CLI state.

// Out returns the output writer.
func Out() io.Writer { return out }

// Actor returns the actor recorded in the audit log for this invocation.
// Priority: --actor flag > FHIRD_ACTOR env var > "cli".
func Actor() string {
	if actor != "" {
		return actor
	}
	if a := os.Getenv("FHIRD_ACTOR"); a != "" {
		return a
	}
	return "cli"
}

// BaseURL returns the service base URL override, empty when not set.
// Commands fall back to the configured server.base_url.
func BaseURL() string { return baseURL }

// Force returns the force flag value.
func Force() bool { return force }

// DB returns the resolved database name.
// Priority: --db flag > FHIRD_DB env var > empty (default).
func DB() string {
	if db != "" {
		return db
	}
	return os.Getenv("FHIRD_DB")
}

// Dir returns the explicit database directory if set.
// Priority: --dir flag > FHIRD_DIR env var > empty (use discovery).
func Dir() string {
	if dir != "" {
		return dir
	}
	return os.Getenv("FHIRD_DIR")
}

// SetOut sets the output writer (for testing).
func SetOut(w io.Writer) { out = w }

// JSON returns true if JSON output is requested.
func JSON() bool { return jsonOut }

// PrintJSON marshals v to JSON and writes it to the output writer.
// Returns nil if JSON output is not requested.
func PrintJSON(v any) error {
	if !jsonOut {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(out, string(b))
	return nil
}

// PrintJSONError prints an error in JSON format if output is JSON.
// Returns nil if error was printed (suppressing Cobra error), or the original error if not.
func PrintJSONError(err error) error {
	if !jsonOut || err == nil {
		return err
	}
	// We ignore the error from PrintJSON here because if we can't print the error,
	// checking it is futile. We just return nil to suppress Cobra's duplicate printing.
	_ = PrintJSON(map[string]string{"error": err.Error()})
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "JSON output")
	rootCmd.PersistentFlags().StringVarP(&actor, "actor", "a", "", "Actor recorded in the audit log")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Service base URL (overrides config server.base_url)")
	rootCmd.PersistentFlags().BoolVar(&force, "force", false, "Skip confirmations")
	rootCmd.PersistentFlags().StringVar(&db, "db", "", "Database name (e.g., test for fhird-test.db)")
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "", "Database directory (skip discovery, use explicit path)")
}
