// instant.go parses and renders FHIR date/dateTime/instant values.
//
// Search comparisons work on intervals, not points: a stored or queried value
// like "2024-07" denotes the whole of July. Date therefore keeps the parsed
// moment together with its precision, and exposes the implied [Start, End)
// interval in UTC.
package fhir

import (
	"strings"
	"time"
)

// instantLayout is the wire form for meta.lastUpdated: UTC with milliseconds.
const instantLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatInstant renders a time as a FHIR instant in UTC.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

// ParseInstant parses a full FHIR instant (seconds precision or finer,
// timezone required).
func ParseInstant(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, Errorf(KindMalformed, "invalid instant %q", s)
}

// Precision records how much of a date/dateTime was supplied.
type Precision int

const (
	PrecYear Precision = iota
	PrecMonth
	PrecDay
	PrecMinute
	PrecSecond
)

func (p Precision) String() string {
	switch p {
	case PrecYear:
		return "year"
	case PrecMonth:
		return "month"
	case PrecDay:
		return "day"
	case PrecMinute:
		return "minute"
	default:
		return "second"
	}
}

// ParsePrecision is the inverse of Precision.String. Unknown values fall back
// to second precision, the narrowest interval.
func ParsePrecision(s string) Precision {
	switch s {
	case "year":
		return PrecYear
	case "month":
		return PrecMonth
	case "day":
		return PrecDay
	case "minute":
		return PrecMinute
	default:
		return PrecSecond
	}
}

// Date is a parsed date/dateTime with preserved precision.
type Date struct {
	Value     time.Time
	Precision Precision
}

// dateLayouts maps input shapes to layout and precision. Ordered from most to
// least specific so the first match wins.
var dateLayouts = []struct {
	layout string
	prec   Precision
}{
	{time.RFC3339Nano, PrecSecond},
	{time.RFC3339, PrecSecond},
	{"2006-01-02T15:04Z07:00", PrecMinute},
	{"2006-01-02T15:04:05", PrecSecond},
	{"2006-01-02T15:04", PrecMinute},
	{"2006-01-02", PrecDay},
	{"2006-01", PrecMonth},
	{"2006", PrecYear},
}

// ParseDate parses a FHIR date or dateTime of any declared precision.
// Values without a timezone are interpreted as UTC.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return Date{}, Errorf(KindMalformed, "empty date")
	}
	for _, dl := range dateLayouts {
		t, err := time.Parse(dl.layout, s)
		if err != nil {
			continue
		}
		// time.Parse is lenient about missing zone info only for layouts
		// that omit it; those come back in UTC already.
		return Date{Value: t, Precision: dl.prec}, nil
	}
	return Date{}, Errorf(KindMalformed, "invalid date %q", s)
}

// Start returns the inclusive lower bound of the implied interval, in UTC.
func (d Date) Start() time.Time {
	return d.Value.UTC()
}

// End returns the exclusive upper bound of the implied interval, in UTC.
func (d Date) End() time.Time {
	v := d.Value
	switch d.Precision {
	case PrecYear:
		return v.AddDate(1, 0, 0).UTC()
	case PrecMonth:
		return v.AddDate(0, 1, 0).UTC()
	case PrecDay:
		return v.AddDate(0, 0, 1).UTC()
	case PrecMinute:
		return v.Add(time.Minute).UTC()
	default:
		return v.Add(time.Second).UTC()
	}
}

// Prefix is a search comparison prefix for ordered values.
type Prefix string

const (
	PrefixEQ Prefix = "eq"
	PrefixNE Prefix = "ne"
	PrefixGT Prefix = "gt"
	PrefixLT Prefix = "lt"
	PrefixGE Prefix = "ge"
	PrefixLE Prefix = "le"
	PrefixSA Prefix = "sa"
	PrefixEB Prefix = "eb"
	PrefixAP Prefix = "ap"
)

// SplitPrefix strips a leading comparison prefix from a search value.
// Values without a recognised prefix default to eq. A prefix only counts when
// followed by a digit or sign, so token values like "eq" as codes survive.
func SplitPrefix(raw string) (Prefix, string) {
	if len(raw) < 3 {
		return PrefixEQ, raw
	}
	p := Prefix(raw[:2])
	switch p {
	case PrefixEQ, PrefixNE, PrefixGT, PrefixLT, PrefixGE, PrefixLE, PrefixSA, PrefixEB, PrefixAP:
		rest := raw[2:]
		if strings.IndexFunc(rest, func(r rune) bool { return r >= '0' && r <= '9' || r == '-' || r == '+' || r == '.' }) == 0 {
			return p, rest
		}
	}
	return PrefixEQ, raw
}

// FormatHTTPDate renders a time for Last-Modified headers.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05") + " GMT"
}
