// Package ucum canonicalises a fixed set of UCUM unit codes so quantity
// searches can compare values written in different units of the same kind.
//
// The table is deliberately closed: mass, volume, time, length, temperature,
// pressure, frequency, amount of substance, and a handful of common clinical
// concentration units. Codes outside the table get no canonical form and
// quantity comparisons fall back to unit-exact matching. Full UCUM expression
// parsing is a terminology concern and out of scope.
package ucum

// System is the coding system URI that marks a quantity as UCUM-coded.
const System = "http://unitsofmeasure.org"

// Conversion maps a unit code into its canonical unit:
// canonical = value*Factor + Offset. Offset is only non-zero for temperature.
type Conversion struct {
	Canonical string
	Factor    float64
	Offset    float64
}

// UCUM Julian year and derived month, in seconds.
const (
	secondsPerYear  = 31557600 // 365.25 d
	secondsPerMonth = secondsPerYear / 12
)

var table = map[string]Conversion{
	// Mass, canonical g.
	"g":       {"g", 1, 0},
	"kg":      {"g", 1000, 0},
	"mg":      {"g", 1e-3, 0},
	"ug":      {"g", 1e-6, 0},
	"ng":      {"g", 1e-9, 0},
	"[lb_av]": {"g", 453.59237, 0},
	"[oz_av]": {"g", 28.349523125, 0},

	// Volume, canonical L.
	"L":  {"L", 1, 0},
	"l":  {"L", 1, 0},
	"dL": {"L", 0.1, 0},
	"cL": {"L", 0.01, 0},
	"mL": {"L", 1e-3, 0},
	"uL": {"L", 1e-6, 0},

	// Time, canonical s.
	"s":   {"s", 1, 0},
	"ms":  {"s", 1e-3, 0},
	"min": {"s", 60, 0},
	"h":   {"s", 3600, 0},
	"d":   {"s", 86400, 0},
	"wk":  {"s", 604800, 0},
	"mo":  {"s", secondsPerMonth, 0},
	"a":   {"s", secondsPerYear, 0},

	// Length, canonical m.
	"m":      {"m", 1, 0},
	"km":     {"m", 1000, 0},
	"cm":     {"m", 0.01, 0},
	"mm":     {"m", 1e-3, 0},
	"um":     {"m", 1e-6, 0},
	"[in_i]": {"m", 0.0254, 0},
	"[ft_i]": {"m", 0.3048, 0},
	"[mi_i]": {"m", 1609.344, 0},

	// Temperature, canonical K. Fahrenheit: K = v*5/9 + 255.3722…
	"K":      {"K", 1, 0},
	"Cel":    {"K", 1, 273.15},
	"[degF]": {"K", 5.0 / 9.0, 459.67 * 5.0 / 9.0},

	// Pressure, canonical Pa.
	"Pa":      {"Pa", 1, 0},
	"kPa":     {"Pa", 1000, 0},
	"bar":     {"Pa", 1e5, 0},
	"mbar":    {"Pa", 100, 0},
	"mm[Hg]":  {"Pa", 133.322387415, 0},
	"cm[H2O]": {"Pa", 98.0665, 0},

	// Frequency, canonical /s.
	"/s":   {"/s", 1, 0},
	"Hz":   {"/s", 1, 0},
	"/min": {"/s", 1.0 / 60.0, 0},
	"/h":   {"/s", 1.0 / 3600.0, 0},
	"/d":   {"/s", 1.0 / 86400.0, 0},

	// Amount of substance, canonical mol.
	"mol":  {"mol", 1, 0},
	"mmol": {"mol", 1e-3, 0},
	"umol": {"mol", 1e-6, 0},
	"nmol": {"mol", 1e-9, 0},

	// Common clinical concentrations, canonical g/L and mol/L.
	"g/L":    {"g/L", 1, 0},
	"g/dL":   {"g/L", 10, 0},
	"mg/dL":  {"g/L", 0.01, 0},
	"mg/L":   {"g/L", 1e-3, 0},
	"ug/L":   {"g/L", 1e-6, 0},
	"ng/mL":  {"g/L", 1e-6, 0},
	"ug/mL":  {"g/L", 1e-3, 0},
	"mg/mL":  {"g/L", 1, 0},
	"mol/L":  {"mol/L", 1, 0},
	"mmol/L": {"mol/L", 1e-3, 0},
	"umol/L": {"mol/L", 1e-6, 0},
}

// Lookup returns the conversion for a UCUM code.
func Lookup(code string) (Conversion, bool) {
	c, ok := table[code]
	return c, ok
}

// Canonicalize converts a value in the given unit code to its canonical unit.
// ok is false when the code has no registered conversion.
func Canonicalize(code string, value float64) (unit string, canonical float64, ok bool) {
	c, found := table[code]
	if !found {
		return "", 0, false
	}
	return c.Canonical, value*c.Factor + c.Offset, true
}

// Comparable reports whether two codes canonicalise into the same unit.
func Comparable(a, b string) bool {
	ca, okA := table[a]
	cb, okB := table[b]
	return okA && okB && ca.Canonical == cb.Canonical
}
