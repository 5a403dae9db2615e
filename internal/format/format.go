// Package format provides output formatting utilities for CLI display.
//
// Centralises formatting logic so that command implementations focus on
// business logic while this package handles presentation concerns like
// column alignment and human-readable sizes.
package format

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jpl-au/fhird/internal/search"
	"github.com/jpl-au/fhird/internal/store"
)

// HumanSize formats a byte count as human-readable (e.g., "1.2K", "3.4M").
func HumanSize(bytes int64) string {
	const (
		_        = iota
		KB int64 = 1 << (10 * iota)
		MB
		GB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1fG", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1fM", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1fK", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

// Resources prints search hits in long format.
//
// Column order is REF, VER, SIZE, UPDATED. The reference column is variable
// width so it is measured first; the fixed-width columns follow where their
// alignment cannot be disrupted.
func Resources(w io.Writer, hits []search.Hit) error {
	if len(hits) == 0 {
		return nil
	}

	// Find max reference length for alignment
	maxRef := 3 // minimum "REF"
	for _, h := range hits {
		if n := len(h.Type) + 1 + len(h.ID); n > maxRef {
			maxRef = n
		}
	}

	// Print header
	fmt.Fprintf(w, "%-*s  %4s  %6s  %s\n", maxRef, "REF", "VER", "SIZE", "UPDATED")

	for _, h := range hits {
		updated := time.UnixMilli(h.LastUpdated).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%-*s  %4d  %6s  %s\n",
			maxRef, h.Type+"/"+h.ID, h.VersionID, HumanSize(int64(len(h.Doc))), updated)
	}
	return nil
}

// History prints version history in list format, newest first.
func History(w io.Writer, entries []store.StoredResource) error {
	for _, e := range entries {
		t := time.UnixMilli(e.LastUpdated).UTC()
		fmt.Fprintf(w, "%s/%s  v%-3d  %-6s  %s\n",
			e.Type,
			e.ID,
			e.VersionID,
			e.Op,
			t.Format("2006-01-02 15:04"),
		)
	}
	return nil
}

// Stats prints database statistics in aligned rows. The by-type breakdown is
// sorted so output is stable across runs.
func Stats(w io.Writer, st *store.Stats) error {
	fmt.Fprintf(w, "%-12s %d\n", "Resources:", st.Resources)
	fmt.Fprintf(w, "%-12s %d\n", "Deleted:", st.Deleted)
	fmt.Fprintf(w, "%-12s %d\n", "Versions:", st.TotalVersions)
	fmt.Fprintf(w, "%-12s %d\n", "Index rows:", st.IndexRows)
	fmt.Fprintf(w, "%-12s %s\n", "Size:", HumanSize(st.SizeBytes))
	if st.OldestMillis > 0 {
		fmt.Fprintf(w, "%-12s %s\n", "Oldest:", time.UnixMilli(st.OldestMillis).UTC().Format("2006-01-02 15:04"))
	}
	if st.NewestMillis > 0 {
		fmt.Fprintf(w, "%-12s %s\n", "Newest:", time.UnixMilli(st.NewestMillis).UTC().Format("2006-01-02 15:04"))
	}

	if len(st.ByType) == 0 {
		return nil
	}
	types := make([]string, 0, len(st.ByType))
	maxType := 0
	for t := range st.ByType {
		types = append(types, t)
		if len(t) > maxType {
			maxType = len(t)
		}
	}
	sort.Strings(types)

	fmt.Fprintln(w, "By type:")
	for _, t := range types {
		fmt.Fprintf(w, "  %-*s  %d\n", maxType, t, st.ByType[t])
	}
	return nil
}
