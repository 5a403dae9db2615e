// Package index extracts typed search-index rows from resource documents.
//
// For each catalog parameter of the resource's type, the extractor evaluates
// the parameter's paths and converts every yielded fragment into rows of the
// matching value variant. The row kinds mirror the store's per-variant index
// tables one to one; the extractor only produces rows, the store owns writing
// them.
//
// Extraction is total: a fragment that cannot be converted (bad date, absent
// fields) is skipped and reported, never failing the write.
package index

// Set carries all rows extracted from one document, grouped by variant.
type Set struct {
	Tokens     []TokenRow
	Strings    []StringRow
	Dates      []DateRow
	Refs       []RefRow
	Quantities []QuantityRow
	Numbers    []NumberRow
	URIs       []URIRow
	Geos       []GeoRow
}

// Size returns the total row count across variants.
func (s *Set) Size() int {
	return len(s.Tokens) + len(s.Strings) + len(s.Dates) + len(s.Refs) +
		len(s.Quantities) + len(s.Numbers) + len(s.URIs) + len(s.Geos)
}

// Skip records one fragment that could not be converted.
type Skip struct {
	Param string
	Err   error
}

// TokenRow indexes coded values. Text is the lowercased display for the
// :text modifier; System is "" when the value carried no system.
type TokenRow struct {
	Param      string
	Occurrence int
	System     string
	Code       string
	Text       string
}

// StringRow indexes human-readable strings. Value is lowercased for default
// prefix matching; Original backs the :exact modifier.
type StringRow struct {
	Param      string
	Occurrence int
	Value      string
	Original   string
}

// Date range sentinels for open-ended periods, in unix milliseconds. Kept
// well inside int64 so interval arithmetic cannot overflow.
const (
	MinMilli int64 = -9e15
	MaxMilli int64 = 9e15
)

// DateRow indexes a date or period as a UTC [Start, End) interval in unix
// milliseconds. IsRange marks Period-derived rows for sa/eb semantics.
type DateRow struct {
	Param      string
	Occurrence int
	Start      int64
	End        int64
	Precision  string
	IsRange    bool
}

// RefRow indexes a reference target. Exactly one addressing form is set:
// (TargetType, TargetID) for local references, URN for transaction
// placeholders, URL for absolute external references. IdentSystem/IdentValue
// carry Reference.identifier for the :identifier modifier.
type RefRow struct {
	Param       string
	Occurrence  int
	TargetType  string
	TargetID    string
	URN         string
	URL         string
	IdentSystem string
	IdentValue  string
}

// QuantityRow indexes a quantity. CanonUnit/CanonValue are populated when the
// unit has a UCUM canonical form; comparisons fall back to unit-exact
// otherwise.
type QuantityRow struct {
	Param      string
	Occurrence int
	Value      float64
	System     string
	Code       string
	Unit       string
	CanonUnit  string
	CanonValue float64
	HasCanon   bool
}

// NumberRow indexes a plain decimal.
type NumberRow struct {
	Param      string
	Occurrence int
	Value      float64
}

// URIRow indexes a uri value verbatim.
type URIRow struct {
	Param      string
	Occurrence int
	Value      string
}

// GeoRow indexes a position for the near parameter.
type GeoRow struct {
	Param      string
	Occurrence int
	Lat        float64
	Lon        float64
}
