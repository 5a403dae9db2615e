package index_test

import (
	"testing"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://fhir.example.org/r4"

func extract(t *testing.T, src string) (*index.Set, []index.Skip) {
	t.Helper()
	res, err := fhir.Decode([]byte(src))
	require.NoError(t, err)
	return index.Extract(catalog.Default(), res, base)
}

func rowsFor[T any](rows []T, match func(T) bool) []T {
	var out []T
	for _, r := range rows {
		if match(r) {
			out = append(out, r)
		}
	}
	return out
}

// --- Token Tests ---

func TestExtract_TokenFromCodeableConcept(t *testing.T) {
	set, skips := extract(t, `{
		"resourceType": "Observation",
		"status": "final",
		"code": {
			"coding": [
				{"system": "http://loinc.org", "code": "8480-6", "display": "Systolic BP"},
				{"system": "http://snomed.info/sct", "code": "271649006"}
			],
			"text": "Systolic blood pressure"
		}
	}`)
	require.Empty(t, skips)

	codes := rowsFor(set.Tokens, func(r index.TokenRow) bool { return r.Param == "code" })
	require.Len(t, codes, 3)
	assert.Equal(t, "http://loinc.org", codes[0].System)
	assert.Equal(t, "8480-6", codes[0].Code)
	assert.Equal(t, "systolic bp", codes[0].Text)
	assert.Equal(t, "271649006", codes[1].Code)
	// CodeableConcept.text becomes a text-only row.
	assert.Equal(t, "", codes[2].Code)
	assert.Equal(t, "systolic blood pressure", codes[2].Text)

	status := rowsFor(set.Tokens, func(r index.TokenRow) bool { return r.Param == "status" })
	require.Len(t, status, 1)
	assert.Equal(t, "final", status[0].Code)
	assert.Equal(t, "", status[0].System)
}

func TestExtract_TokenFromIdentifierAndBool(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Patient",
		"active": true,
		"identifier": [{"system": "urn:oid:1.2.36.146", "value": "MRN-1234"}]
	}`)

	idents := rowsFor(set.Tokens, func(r index.TokenRow) bool { return r.Param == "identifier" })
	require.Len(t, idents, 1)
	assert.Equal(t, "urn:oid:1.2.36.146", idents[0].System)
	assert.Equal(t, "MRN-1234", idents[0].Code)

	active := rowsFor(set.Tokens, func(r index.TokenRow) bool { return r.Param == "active" })
	require.Len(t, active, 1)
	assert.Equal(t, "true", active[0].Code)
}

func TestExtract_TokenFromContactPointFilter(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Patient",
		"telecom": [
			{"system": "phone", "value": "555-0100"},
			{"system": "email", "value": "jane@example.org"}
		]
	}`)

	emails := rowsFor(set.Tokens, func(r index.TokenRow) bool { return r.Param == "email" })
	require.Len(t, emails, 1)
	assert.Equal(t, "jane@example.org", emails[0].Code)

	all := rowsFor(set.Tokens, func(r index.TokenRow) bool { return r.Param == "telecom" })
	assert.Len(t, all, 2)
}

// --- String Tests ---

func TestExtract_HumanName(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Patient",
		"name": [{"family": "Doe", "given": ["Jane", "Q"]}]
	}`)

	names := rowsFor(set.Strings, func(r index.StringRow) bool { return r.Param == "name" })
	var values []string
	for _, r := range names {
		values = append(values, r.Value)
	}
	assert.ElementsMatch(t, []string{"jane", "q", "doe", "jane q doe"}, values)

	family := rowsFor(set.Strings, func(r index.StringRow) bool { return r.Param == "family" })
	require.Len(t, family, 1)
	assert.Equal(t, "doe", family[0].Value)
	assert.Equal(t, "Doe", family[0].Original)
}

func TestExtract_Address(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Patient",
		"address": [{"line": ["1 High St"], "city": "Hobart", "state": "TAS", "postalCode": "7000", "country": "AU"}]
	}`)

	cities := rowsFor(set.Strings, func(r index.StringRow) bool { return r.Param == "address-city" })
	require.Len(t, cities, 1)
	assert.Equal(t, "hobart", cities[0].Value)

	addr := rowsFor(set.Strings, func(r index.StringRow) bool { return r.Param == "address" })
	assert.Len(t, addr, 6) // 5 parts + concatenation
}

// --- Date Tests ---

func TestExtract_DateTimePrecision(t *testing.T) {
	set, skips := extract(t, `{
		"resourceType": "Observation",
		"effectiveDateTime": "2024-07-15T10:00:00Z"
	}`)
	require.Empty(t, skips)

	dates := rowsFor(set.Dates, func(r index.DateRow) bool { return r.Param == "date" })
	require.Len(t, dates, 1)
	assert.Equal(t, "second", dates[0].Precision)
	assert.False(t, dates[0].IsRange)
	assert.Equal(t, dates[0].Start+1000, dates[0].End)
}

func TestExtract_PeriodRange(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Encounter",
		"period": {"start": "2024-01-01", "end": "2024-01-03"}
	}`)

	dates := rowsFor(set.Dates, func(r index.DateRow) bool { return r.Param == "date" })
	require.Len(t, dates, 1)
	assert.True(t, dates[0].IsRange)
	// End is exclusive: day precision on the end pushes it to the start of Jan 4.
	assert.Equal(t, int64(3*24*3600*1000), dates[0].End-dates[0].Start)
}

func TestExtract_OpenPeriod(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Encounter",
		"period": {"start": "2024-01-01"}
	}`)
	dates := rowsFor(set.Dates, func(r index.DateRow) bool { return r.Param == "date" })
	require.Len(t, dates, 1)
	assert.Equal(t, index.MaxMilli, dates[0].End)
}

func TestExtract_BadDateSkippedNotFatal(t *testing.T) {
	set, skips := extract(t, `{
		"resourceType": "Observation",
		"status": "final",
		"effectiveDateTime": "not-a-date"
	}`)
	require.Len(t, skips, 1)
	assert.Equal(t, "date", skips[0].Param)
	// The rest of the document still indexed.
	assert.NotEmpty(t, rowsFor(set.Tokens, func(r index.TokenRow) bool { return r.Param == "status" }))
}

// --- Reference Tests ---

func TestExtract_References(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Observation",
		"subject": {"reference": "Patient/p1"},
		"performer": [{"reference": "`+base+`/Practitioner/d9"}],
		"device": {"reference": "urn:uuid:11111111-2222-3333-4444-555555555555"},
		"encounter": {"reference": "https://other.example.org/fhir/Encounter/e1"}
	}`)

	subj := rowsFor(set.Refs, func(r index.RefRow) bool { return r.Param == "subject" })
	require.Len(t, subj, 1)
	assert.Equal(t, "Patient", subj[0].TargetType)
	assert.Equal(t, "p1", subj[0].TargetID)

	// The patient parameter only fires for Patient subjects.
	pat := rowsFor(set.Refs, func(r index.RefRow) bool { return r.Param == "patient" })
	require.Len(t, pat, 1)
	assert.Equal(t, "p1", pat[0].TargetID)

	perf := rowsFor(set.Refs, func(r index.RefRow) bool { return r.Param == "performer" })
	require.Len(t, perf, 1)
	assert.Equal(t, "Practitioner", perf[0].TargetType, "server-absolute URL resolves locally")

	dev := rowsFor(set.Refs, func(r index.RefRow) bool { return r.Param == "device" })
	require.Len(t, dev, 1)
	assert.NotEmpty(t, dev[0].URN)
	assert.Empty(t, dev[0].TargetID)

	enc := rowsFor(set.Refs, func(r index.RefRow) bool { return r.Param == "encounter" })
	require.Len(t, enc, 1)
	assert.NotEmpty(t, enc[0].URL)
}

func TestExtract_ReferenceIdentifier(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Observation",
		"subject": {"identifier": {"system": "urn:mrn", "value": "123"}}
	}`)
	subj := rowsFor(set.Refs, func(r index.RefRow) bool { return r.Param == "subject" })
	require.Len(t, subj, 1)
	assert.Equal(t, "urn:mrn", subj[0].IdentSystem)
	assert.Equal(t, "123", subj[0].IdentValue)
}

func TestExtract_NonPatientSubjectSkipsPatientParam(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Observation",
		"subject": {"reference": "Group/g1"}
	}`)
	assert.Empty(t, rowsFor(set.Refs, func(r index.RefRow) bool { return r.Param == "patient" }))
	assert.Len(t, rowsFor(set.Refs, func(r index.RefRow) bool { return r.Param == "subject" }), 1)
}

// --- Quantity Tests ---

func TestExtract_QuantityUCUM(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Observation",
		"valueQuantity": {"value": 1.5, "unit": "kg", "system": "http://unitsofmeasure.org", "code": "kg"}
	}`)

	q := rowsFor(set.Quantities, func(r index.QuantityRow) bool { return r.Param == "value-quantity" })
	require.Len(t, q, 1)
	assert.Equal(t, 1.5, q[0].Value)
	assert.True(t, q[0].HasCanon)
	assert.Equal(t, "g", q[0].CanonUnit)
	assert.InDelta(t, 1500, q[0].CanonValue, 1e-9)

	// combo-value-quantity shares the same extraction.
	combo := rowsFor(set.Quantities, func(r index.QuantityRow) bool { return r.Param == "combo-value-quantity" })
	assert.Len(t, combo, 1)
}

func TestExtract_QuantityNonUCUM(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Observation",
		"valueQuantity": {"value": 2, "unit": "tablets", "system": "http://example.org/units", "code": "{tablets}"}
	}`)
	q := rowsFor(set.Quantities, func(r index.QuantityRow) bool { return r.Param == "value-quantity" })
	require.Len(t, q, 1)
	assert.False(t, q[0].HasCanon)
}

func TestExtract_ComponentOccurrencesCorrelate(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Observation",
		"component": [
			{"code": {"coding": [{"code": "8480-6"}]}, "valueQuantity": {"value": 140}},
			{"code": {"coding": [{"code": "8462-4"}]}, "valueQuantity": {"value": 90}}
		]
	}`)

	codes := rowsFor(set.Tokens, func(r index.TokenRow) bool { return r.Param == "component-code" })
	quants := rowsFor(set.Quantities, func(r index.QuantityRow) bool { return r.Param == "component-value-quantity" })
	require.Len(t, codes, 2)
	require.Len(t, quants, 2)
	assert.Equal(t, codes[0].Occurrence, quants[0].Occurrence)
	assert.Equal(t, codes[1].Occurrence, quants[1].Occurrence)
	assert.NotEqual(t, codes[0].Occurrence, codes[1].Occurrence)
}

// --- Number / URI / Geo Tests ---

func TestExtract_Number(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "RiskAssessment",
		"prediction": [{"probabilityDecimal": 0.8}]
	}`)
	n := rowsFor(set.Numbers, func(r index.NumberRow) bool { return r.Param == "probability" })
	require.Len(t, n, 1)
	assert.Equal(t, 0.8, n[0].Value)
}

func TestExtract_URIAndProfile(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Device",
		"url": "https://devices.example.org/d/1",
		"meta": {"profile": ["http://hl7.org/fhir/StructureDefinition/Device"]}
	}`)
	u := rowsFor(set.URIs, func(r index.URIRow) bool { return r.Param == "url" })
	require.Len(t, u, 1)

	p := rowsFor(set.URIs, func(r index.URIRow) bool { return r.Param == "_profile" })
	require.Len(t, p, 1)
	assert.Contains(t, p[0].Value, "StructureDefinition")
}

func TestExtract_Near(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Location",
		"position": {"latitude": -42.88, "longitude": 147.32}
	}`)
	g := set.Geos
	require.Len(t, g, 1)
	assert.Equal(t, "near", g[0].Param)
	assert.InDelta(t, -42.88, g[0].Lat, 1e-9)
}

func TestExtract_MetaTag(t *testing.T) {
	set, _ := extract(t, `{
		"resourceType": "Patient",
		"meta": {"tag": [{"system": "http://example.org/tags", "code": "test-data"}]}
	}`)
	tags := rowsFor(set.Tokens, func(r index.TokenRow) bool { return r.Param == "_tag" })
	require.Len(t, tags, 1)
	assert.Equal(t, "test-data", tags[0].Code)
}
