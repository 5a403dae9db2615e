// extract.go converts path fragments into typed index rows.
//
// Conversion is shape-driven: the extractor inspects each fragment for the
// FHIR datatype it resembles (Coding, CodeableConcept, Identifier,
// HumanName, Address, Period, Quantity, Reference) and emits the rows that
// datatype defines. Rows fanned out from one fragment share an occurrence
// number, which is what correlated composite search joins on.
package index

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jpl-au/fhird/internal/catalog"
	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ucum"
)

// Extract produces the index rows for one document. baseURL resolves
// absolute references from this server back to local Type/id form. The
// returned skips describe fragments that could not be converted.
func Extract(cat *catalog.Catalog, res fhir.Resource, baseURL string) (*Set, []Skip) {
	set := &Set{}
	var skips []Skip

	resType := res.Type()
	doc := map[string]any(res)

	for _, p := range cat.Parameters(resType) {
		if p.Virtual() || p.Type == catalog.Composite {
			continue
		}
		occ := 0
		for _, expr := range p.Exprs {
			for _, frag := range expr.Collect(doc) {
				if err := convert(set, p, occ, frag.Value, baseURL); err != nil {
					skips = append(skips, Skip{Param: p.Name, Err: err})
				}
				occ++
			}
		}
	}
	return set, skips
}

// convert dispatches one fragment by parameter type.
func convert(set *Set, p *catalog.Parameter, occ int, v any, baseURL string) error {
	switch p.Type {
	case catalog.Token:
		return convertToken(set, p.Name, occ, v)
	case catalog.String:
		return convertString(set, p.Name, occ, v)
	case catalog.Date:
		return convertDate(set, p.Name, occ, v)
	case catalog.Reference:
		return convertRef(set, p, occ, v, baseURL)
	case catalog.Quantity:
		return convertQuantity(set, p.Name, occ, v)
	case catalog.Number:
		return convertNumber(set, p.Name, occ, v)
	case catalog.URI:
		return convertURI(set, p.Name, occ, v)
	case catalog.Special:
		return convertGeo(set, p.Name, occ, v)
	default:
		return fmt.Errorf("parameter type %s not extractable", p.Type)
	}
}

// --- token ---

func convertToken(set *Set, param string, occ int, v any) error {
	switch t := v.(type) {
	case string:
		set.Tokens = append(set.Tokens, TokenRow{Param: param, Occurrence: occ, Code: t})
	case bool:
		set.Tokens = append(set.Tokens, TokenRow{Param: param, Occurrence: occ, Code: strconv.FormatBool(t)})
	case json.Number:
		set.Tokens = append(set.Tokens, TokenRow{Param: param, Occurrence: occ, Code: t.String()})
	case map[string]any:
		return convertTokenObject(set, param, occ, t)
	default:
		return fmt.Errorf("token fragment %T", v)
	}
	return nil
}

func convertTokenObject(set *Set, param string, occ int, m map[string]any) error {
	// CodeableConcept: one row per coding plus a text-only row.
	if codings, ok := m["coding"].([]any); ok {
		for _, c := range codings {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			set.Tokens = append(set.Tokens, TokenRow{
				Param:      param,
				Occurrence: occ,
				System:     stringField(cm, "system"),
				Code:       stringField(cm, "code"),
				Text:       strings.ToLower(stringField(cm, "display")),
			})
		}
		if text := stringField(m, "text"); text != "" {
			set.Tokens = append(set.Tokens, TokenRow{
				Param:      param,
				Occurrence: occ,
				Text:       strings.ToLower(text),
			})
		}
		return nil
	}

	// Coding: system+code, display as text.
	if code := stringField(m, "code"); code != "" || m["code"] != nil {
		set.Tokens = append(set.Tokens, TokenRow{
			Param:      param,
			Occurrence: occ,
			System:     stringField(m, "system"),
			Code:       code,
			Text:       strings.ToLower(stringField(m, "display")),
		})
		return nil
	}

	// Identifier and ContactPoint both index as (system, value).
	if value := stringField(m, "value"); value != "" {
		set.Tokens = append(set.Tokens, TokenRow{
			Param:      param,
			Occurrence: occ,
			System:     stringField(m, "system"),
			Code:       value,
		})
		return nil
	}
	return fmt.Errorf("token object has neither coding, code, nor value")
}

// --- string ---

func convertString(set *Set, param string, occ int, v any) error {
	switch t := v.(type) {
	case string:
		addString(set, param, occ, t)
	case map[string]any:
		if isHumanName(t) {
			convertHumanName(set, param, occ, t)
			return nil
		}
		if isAddress(t) {
			convertAddress(set, param, occ, t)
			return nil
		}
		return fmt.Errorf("string fragment is an unsupported object")
	default:
		return fmt.Errorf("string fragment %T", v)
	}
	return nil
}

func addString(set *Set, param string, occ int, s string) {
	if s == "" {
		return
	}
	set.Strings = append(set.Strings, StringRow{
		Param:      param,
		Occurrence: occ,
		Value:      strings.ToLower(s),
		Original:   s,
	})
}

func isHumanName(m map[string]any) bool {
	_, hasFamily := m["family"]
	_, hasGiven := m["given"]
	return hasFamily || hasGiven
}

func isAddress(m map[string]any) bool {
	for _, k := range []string{"line", "city", "state", "postalCode", "country"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// convertHumanName emits family, each given, text, and the full
// "given… family" concatenation, all under the same occurrence.
func convertHumanName(set *Set, param string, occ int, m map[string]any) {
	var parts []string
	for _, g := range stringList(m, "given") {
		addString(set, param, occ, g)
		parts = append(parts, g)
	}
	if family := stringField(m, "family"); family != "" {
		addString(set, param, occ, family)
		parts = append(parts, family)
	}
	if text := stringField(m, "text"); text != "" {
		addString(set, param, occ, text)
	}
	if len(parts) > 1 {
		addString(set, param, occ, strings.Join(parts, " "))
	}
}

// convertAddress emits each addressable part and a concatenation.
func convertAddress(set *Set, param string, occ int, m map[string]any) {
	var parts []string
	for _, line := range stringList(m, "line") {
		addString(set, param, occ, line)
		parts = append(parts, line)
	}
	for _, k := range []string{"city", "district", "state", "postalCode", "country"} {
		if v := stringField(m, k); v != "" {
			addString(set, param, occ, v)
			parts = append(parts, v)
		}
	}
	if text := stringField(m, "text"); text != "" {
		addString(set, param, occ, text)
	}
	if len(parts) > 1 {
		addString(set, param, occ, strings.Join(parts, " "))
	}
}

// --- date ---

func convertDate(set *Set, param string, occ int, v any) error {
	switch t := v.(type) {
	case string:
		d, err := fhir.ParseDate(t)
		if err != nil {
			return err
		}
		set.Dates = append(set.Dates, DateRow{
			Param:      param,
			Occurrence: occ,
			Start:      d.Start().UnixMilli(),
			End:        d.End().UnixMilli(),
			Precision:  d.Precision.String(),
		})
		return nil
	case map[string]any:
		return convertPeriod(set, param, occ, t)
	default:
		return fmt.Errorf("date fragment %T", v)
	}
}

// convertPeriod indexes a Period as one range row; missing endpoints become
// open-ended sentinels.
func convertPeriod(set *Set, param string, occ int, m map[string]any) error {
	start, end := MinMilli, MaxMilli
	prec := fhir.PrecSecond.String()

	if s := stringField(m, "start"); s != "" {
		d, err := fhir.ParseDate(s)
		if err != nil {
			return err
		}
		start = d.Start().UnixMilli()
		prec = d.Precision.String()
	}
	if e := stringField(m, "end"); e != "" {
		d, err := fhir.ParseDate(e)
		if err != nil {
			return err
		}
		end = d.End().UnixMilli()
	}
	if start == MinMilli && end == MaxMilli {
		return fmt.Errorf("period has neither start nor end")
	}
	set.Dates = append(set.Dates, DateRow{
		Param:      param,
		Occurrence: occ,
		Start:      start,
		End:        end,
		Precision:  prec,
		IsRange:    true,
	})
	return nil
}

// --- reference ---

func convertRef(set *Set, p *catalog.Parameter, occ int, v any, baseURL string) error {
	row := RefRow{Param: p.Name, Occurrence: occ}

	if m, ok := v.(map[string]any); ok {
		if ident, ok := m["identifier"].(map[string]any); ok {
			row.IdentSystem = stringField(ident, "system")
			row.IdentValue = stringField(ident, "value")
		}
	}

	s := fhir.ReferenceValue(v)
	if s == "" {
		if row.IdentValue == "" {
			return fmt.Errorf("reference fragment has neither reference nor identifier")
		}
		set.Refs = append(set.Refs, row)
		return nil
	}

	// A bare id with a single allowed target resolves to that type.
	if !strings.Contains(s, "/") && !strings.Contains(s, ":") && fhir.ValidID(s) && len(p.Targets) == 1 {
		row.TargetType, row.TargetID = p.Targets[0], s
		set.Refs = append(set.Refs, row)
		return nil
	}

	ref := fhir.ParseReference(baseURL, s)
	switch {
	case ref.IsLocal():
		row.TargetType, row.TargetID = ref.Type, ref.ID
	case ref.URN != "":
		row.URN = ref.URN
	default:
		row.URL = ref.URL
	}
	set.Refs = append(set.Refs, row)
	return nil
}

// --- quantity ---

func convertQuantity(set *Set, param string, occ int, v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("quantity fragment %T", v)
	}
	value, err := numberField(m, "value")
	if err != nil {
		return err
	}
	row := QuantityRow{
		Param:      param,
		Occurrence: occ,
		Value:      value,
		System:     stringField(m, "system"),
		Code:       stringField(m, "code"),
		Unit:       stringField(m, "unit"),
	}
	if row.System == ucum.System {
		if unit, canon, ok := ucum.Canonicalize(row.Code, value); ok {
			row.CanonUnit, row.CanonValue, row.HasCanon = unit, canon, true
		}
	}
	set.Quantities = append(set.Quantities, row)
	return nil
}

// --- number ---

func convertNumber(set *Set, param string, occ int, v any) error {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return err
		}
		set.Numbers = append(set.Numbers, NumberRow{Param: param, Occurrence: occ, Value: f})
		return nil
	case float64:
		set.Numbers = append(set.Numbers, NumberRow{Param: param, Occurrence: occ, Value: t})
		return nil
	default:
		return fmt.Errorf("number fragment %T", v)
	}
}

// --- uri ---

func convertURI(set *Set, param string, occ int, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("uri fragment %T", v)
	}
	if s == "" {
		return nil
	}
	set.URIs = append(set.URIs, URIRow{Param: param, Occurrence: occ, Value: s})
	return nil
}

// --- special (near) ---

func convertGeo(set *Set, param string, occ int, v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("position fragment %T", v)
	}
	lat, err := numberField(m, "latitude")
	if err != nil {
		return err
	}
	lon, err := numberField(m, "longitude")
	if err != nil {
		return err
	}
	set.Geos = append(set.Geos, GeoRow{Param: param, Occurrence: occ, Lat: lat, Lon: lon})
	return nil
}

// --- field helpers ---

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringList(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func numberField(m map[string]any, key string) (float64, error) {
	switch t := m[key].(type) {
	case json.Number:
		return t.Float64()
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("field %q is not a number", key)
	}
}
