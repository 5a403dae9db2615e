// Package diff renders the difference between two versions of a resource.
//
// Documents are compared in a canonical form: indented JSON with object keys
// sorted, so the diff reflects content changes rather than key order or
// whitespace accidents of the stored bytes.
package diff

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/jpl-au/fhird/internal/fhir"
)

// contextLines is the number of unchanged lines shown before/after changes.
// When equal sections exceed 2*contextLines, they're collapsed with "...".
const contextLines = 3

// Result holds a computed version diff.
type Result struct {
	Old  string // old label, e.g. "Patient/p1 v1"
	New  string // new label
	Diff string // plain line diff

	Insertions int
	Deletions  int
}

// Canonical renders a resource as indented JSON. encoding/json sorts map
// keys, which is exactly the canonical ordering the diff needs.
func Canonical(res fhir.Resource) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render canonical json: %w", err)
	}
	return string(data) + "\n", nil
}

// Compute diffs two resources in canonical form.
func Compute(oldRes, newRes fhir.Resource, oldLabel, newLabel string) (Result, error) {
	oldDoc, err := Canonical(oldRes)
	if err != nil {
		return Result{}, err
	}
	newDoc, err := Canonical(newRes)
	if err != nil {
		return Result{}, err
	}
	return ComputeText(oldDoc, newDoc, oldLabel, newLabel), nil
}

// ComputeText diffs two already-rendered documents.
func ComputeText(oldDoc, newDoc, oldLabel, newLabel string) Result {
	dmp := diffmatchpatch.New()
	d := dmp.DiffMain(oldDoc, newDoc, false)
	d = dmp.DiffCleanupSemantic(d)

	r := Result{Old: oldLabel, New: newLabel}
	r.Diff = r.format(d)
	return r
}

// format converts diffs to unified-style text and tallies the change counts.
func (r *Result) format(diffs []diffmatchpatch.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		// Trim trailing newline to avoid artefact empty string from Split
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" {
			continue
		}
		lines := strings.Split(text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			for _, l := range lines {
				b.WriteString("- " + l + "\n")
			}
			r.Deletions += len(lines)
		case diffmatchpatch.DiffInsert:
			for _, l := range lines {
				b.WriteString("+ " + l + "\n")
			}
			r.Insertions += len(lines)
		case diffmatchpatch.DiffEqual:
			if len(lines) > 2*contextLines {
				for i := range contextLines {
					b.WriteString("  " + lines[i] + "\n")
				}
				b.WriteString("  ...\n")
				for i := len(lines) - contextLines; i < len(lines); i++ {
					b.WriteString("  " + lines[i] + "\n")
				}
			} else {
				for _, l := range lines {
					b.WriteString("  " + l + "\n")
				}
			}
		}
	}
	return b.String()
}

// Same reports whether the two versions rendered identically.
func (r Result) Same() bool {
	return r.Insertions == 0 && r.Deletions == 0
}

// Format returns the full diff with header.
func (r Result) Format(colour bool) string {
	header := fmt.Sprintf("--- %s\n+++ %s\n", r.Old, r.New)
	if colour {
		return header + Colourise(r.Diff)
	}
	return header + r.Diff
}

// Stat returns a one-line change summary in the style of git --stat.
func (r Result) Stat() string {
	return fmt.Sprintf("%s -> %s: %d insertion(s), %d deletion(s)\n",
		r.Old, r.New, r.Insertions, r.Deletions)
}

// Colourise adds ANSI colours to diff output.
func Colourise(d string) string {
	const (
		red   = "\033[31m"
		green = "\033[32m"
		reset = "\033[0m"
	)

	var b strings.Builder
	for _, line := range strings.Split(d, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "- "):
			b.WriteString(red + line + reset + "\n")
		case strings.HasPrefix(line, "+ "):
			b.WriteString(green + line + reset + "\n")
		default:
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}
