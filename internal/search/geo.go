// geo.go implements the near parameter: a SQL bounding-box prefilter over
// indexed (lat, lon) pairs, with exact Haversine filtering applied in Go
// after the candidate fetch since the driver registers no SQL functions.

package search

import (
	"fmt"
	"math"
	"strconv"

	"github.com/jpl-au/fhird/internal/fhir"
	"github.com/jpl-au/fhird/internal/ucum"
)

const (
	earthRadiusKm  = 6371.0
	kmPerDegreeLat = 111.195 // mean meridian arc
)

// nearPoint is a parsed near value: centre plus radius in kilometres.
type nearPoint struct {
	lat, lon float64
	km       float64
}

// parseNear parses latitude|longitude|distance[|unit]. The unit is a UCUM
// length code, defaulting to kilometres.
func parseNear(raw string) (nearPoint, error) {
	parts := splitEscaped(raw, '|')
	if len(parts) < 3 || len(parts) > 4 {
		return nearPoint{}, fhir.Errorf(fhir.KindMalformed, "near takes latitude|longitude|distance[|unit]")
	}
	lat, err := strconv.ParseFloat(unescape(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return nearPoint{}, fhir.Errorf(fhir.KindMalformed, "invalid latitude %q", parts[0])
	}
	lon, err := strconv.ParseFloat(unescape(parts[1]), 64)
	if err != nil || lon < -180 || lon > 180 {
		return nearPoint{}, fhir.Errorf(fhir.KindMalformed, "invalid longitude %q", parts[1])
	}
	dist, err := strconv.ParseFloat(unescape(parts[2]), 64)
	if err != nil || dist < 0 {
		return nearPoint{}, fhir.Errorf(fhir.KindMalformed, "invalid distance %q", parts[2])
	}
	km := dist
	if len(parts) == 4 && unescape(parts[3]) != "km" {
		unit := unescape(parts[3])
		cu, metres, ok := ucum.Canonicalize(unit, dist)
		if !ok || cu != "m" {
			return nearPoint{}, fhir.Errorf(fhir.KindMalformed, "unsupported distance unit %q", unit)
		}
		km = metres / 1000
	}
	return nearPoint{lat: lat, lon: lon, km: km}, nil
}

// bounds returns the bounding box enclosing the radius. Near the poles or
// across the antimeridian the longitude range widens to the full circle
// instead of wrapping.
func (p nearPoint) bounds() (latMin, latMax, lonMin, lonMax float64) {
	latDelta := p.km / kmPerDegreeLat
	latMin, latMax = p.lat-latDelta, p.lat+latDelta
	cos := math.Cos(p.lat * math.Pi / 180)
	if cos < 0.01 {
		return latMin, latMax, -180, 180
	}
	lonDelta := p.km / (kmPerDegreeLat * cos)
	lonMin, lonMax = p.lon-lonDelta, p.lon+lonDelta
	if lonMin < -180 || lonMax > 180 {
		lonMin, lonMax = -180, 180
	}
	return latMin, latMax, lonMin, lonMax
}

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// nearFrag lowers a near condition to its bounding-box prefilter.
func (l *lowerer) nearFrag(c *Cond, alias string) (frag, error) {
	if len(c.Values) != 1 {
		return frag{}, fhir.Errorf(fhir.KindUnsupported, "near takes exactly one value")
	}
	np, err := parseNear(c.Values[0])
	if err != nil {
		return frag{}, at(err, c.Name)
	}
	latMin, latMax, lonMin, lonMax := np.bounds()
	a := l.next("g")
	sql := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM geo_index %s WHERE %s.type = %s.type AND %s.id = %s.id AND %s.param = ? AND %s.lat BETWEEN ? AND ? AND %s.lon BETWEEN ? AND ?)",
		a, a, alias, a, alias, a, a, a)
	return frag{sql: sql, args: []any{c.Param.Name, latMin, latMax, lonMin, lonMax}}, nil
}
