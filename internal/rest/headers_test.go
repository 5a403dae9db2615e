package rest

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Path Segments ---

func TestSegments(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"", nil},
		{"/", nil},
		{"Patient", []string{"Patient"}},
		{"Patient/", []string{"Patient"}},
		{"/Patient/p1", []string{"Patient", "p1"}},
		{"Patient/p1/_history/3", []string{"Patient", "p1", "_history", "3"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, segments(tt.path), tt.path)
	}
}

// --- Prefer ---

func TestParsePrefer(t *testing.T) {
	tests := []struct {
		header   string
		ret      string
		handling string
	}{
		{"", "", ""},
		{"return=minimal", "minimal", ""},
		{"return=OperationOutcome", "OperationOutcome", ""},
		{"return=representation, handling=strict", "representation", "strict"},
		{"handling=LENIENT", "", "lenient"},
		{"respond-async", "", ""},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.header != "" {
			h.Set("Prefer", tt.header)
		}
		p := parsePrefer(h)
		assert.Equal(t, tt.ret, p.ret, tt.header)
		assert.Equal(t, tt.handling, p.handling, tt.header)
	}
}

func TestStrictFor(t *testing.T) {
	h := &Handler{strict: true}

	req := &Request{Header: http.Header{}}
	assert.True(t, h.strictFor(req), "configured default applies")

	req.Header.Set("Prefer", "handling=lenient")
	assert.False(t, h.strictFor(req), "the header overrides the default")

	h.strict = false
	req.Header.Set("Prefer", "handling=strict")
	assert.True(t, h.strictFor(req))
}

// --- If-Match ---

func TestIfMatchVersion(t *testing.T) {
	tests := []struct {
		header  string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"*", 0, false},
		{`W/"3"`, 3, false},
		{`"5"`, 5, false},
		{`W/"0"`, 0, true},
		{`W/"abc"`, 0, true},
		{"garbage", 0, true},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.header != "" {
			h.Set("If-Match", tt.header)
		}
		got, err := ifMatchVersion(h)
		if tt.wantErr {
			require.Error(t, err, tt.header)
			assert.True(t, errors.Is(err, fhir.ErrMalformed), tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

// --- Format ---

func TestCheckFormat(t *testing.T) {
	for _, ok := range []string{"", "_format=json", "_format=application%2Ffhir%2Bjson", "family=doe"} {
		assert.NoError(t, checkFormat(ok), ok)
	}
	err := checkFormat("_format=xml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fhir.ErrUnsupported))
}

// --- Responses ---

func TestOutcomeResponse(t *testing.T) {
	resp := outcomeResponse(fhir.Errorf(fhir.KindNotFound, "Patient/p1"))
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, ContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, string(resp.Body), "OperationOutcome")
	assert.Empty(t, resp.Header.Get("Retry-After"))

	resp = outcomeResponse(fhir.Errorf(fhir.KindTransient, "busy"))
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

// --- Query Merging ---

func TestMergedQuery(t *testing.T) {
	tests := []struct {
		query string
		body  string
		want  string
	}{
		{"", "", ""},
		{"family=doe", "", "family=doe"},
		{"", "family=doe", "family=doe"},
		{"family=doe", "gender=female", "family=doe&gender=female"},
	}
	for _, tt := range tests {
		req := &Request{RawQuery: tt.query, Body: []byte(tt.body)}
		assert.Equal(t, tt.want, mergedQuery(req))
	}
}

// --- Option Parsing ---

func TestHistoryOptionsParsing(t *testing.T) {
	o, err := historyOptions("_count=10&_since=2024-01-01T00:00:00Z&_before=42")
	require.NoError(t, err)
	assert.Equal(t, 10, o.Count)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), o.Since)
	assert.Equal(t, int64(42), o.BeforeSeq)

	o, err = historyOptions("_at=2024")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()-1, o.At)

	for _, bad := range []string{"_count=0", "_count=x", "_before=-1", "_since=notadate"} {
		_, err := historyOptions(bad)
		assert.Error(t, err, bad)
	}
}

func TestEverythingOptionsParsing(t *testing.T) {
	o, err := everythingOptions("_since=2024-06-01&_type=Observation,Condition&_count=5&_offset=10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), o.Since)
	assert.Equal(t, []string{"Observation", "Condition"}, o.Types)
	assert.Equal(t, 5, o.Count)
	assert.Equal(t, 10, o.Offset)

	_, err = everythingOptions("_type=observation")
	assert.Error(t, err, "type names keep the resource grammar")

	_, err = everythingOptions("_offset=-1")
	assert.Error(t, err)
}

// --- Base Path ---

func TestBasePath(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", ""},
		{"http://localhost:8080/", ""},
		{"http://example.org/fhir", "/fhir"},
		{"http://example.org/fhir/", "/fhir"},
		{"http://example.org/deep/fhir", "/deep/fhir"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, basePath(tt.base), tt.base)
	}
}
