package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Constants for position calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's mean radius in kilometers
	EarthRadiusKm = 6371.0

	// EarthRadiusMi is the Earth's mean radius in statute miles
	EarthRadiusMi = 3958.8

	// EarthRadiusNm is the Earth's mean radius in nautical miles
	EarthRadiusNm = 3440.1

	// MetersToFeet converts meters to feet
	MetersToFeet = 3.28084

	// MPSToMPH converts meters per second to statute miles per hour
	MPSToMPH = 2.23694

	// MPSToKnots converts meters per second to knots
	MPSToKnots = 1.94384
)

// ErrUnknownUnit is returned when a distance unit is not one of km, mi, nm.
var ErrUnknownUnit = errors.New("unknown distance unit")

// Unit identifies a supported distance unit.
type Unit string

const (
	// Kilometers is the metric distance unit.
	Kilometers Unit = "km"

	// Miles is the statute-mile distance unit.
	Miles Unit = "mi"

	// NauticalMiles is the nautical-mile distance unit.
	NauticalMiles Unit = "nm"
)

// Units lists the supported distance units in display order.
var Units = []Unit{Miles, Kilometers, NauticalMiles}

// kilometersPer gives the length of one unit in kilometers. Conversions
// pivot through kilometers so that converting a value out and back
// reproduces it to within floating-point rounding.
var kilometersPer = map[Unit]float64{
	Kilometers:    1.0,
	Miles:         1.609344,
	NauticalMiles: 1.852,
}

// earthRadius gives the Earth's mean radius expressed in each unit, so
// great-circle distances come out directly in the caller's unit.
var earthRadius = map[Unit]float64{
	Kilometers:    EarthRadiusKm,
	Miles:         EarthRadiusMi,
	NauticalMiles: EarthRadiusNm,
}

// Valid reports whether u is a supported distance unit.
func (u Unit) Valid() bool {
	_, ok := kilometersPer[u]
	return ok
}

// Label returns the human-readable name of the unit ("miles", "kilometers",
// "nautical miles"). Unknown units return the raw unit string.
func (u Unit) Label() string {
	switch u {
	case Kilometers:
		return "kilometers"
	case Miles:
		return "miles"
	case NauticalMiles:
		return "nautical miles"
	}
	return string(u)
}

// ParseUnit normalizes a user-supplied unit string ("km", "MI", " nm ")
// to a Unit. Common long forms are accepted as well.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "km", "kilometer", "kilometers":
		return Kilometers, nil
	case "mi", "mile", "miles":
		return Miles, nil
	case "nm", "nmi", "nautical", "nautical miles":
		return NauticalMiles, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
}

// Point represents a position on Earth's surface.
// Uses the WGS84 coordinate system (same as GPS).
type Point struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64
}

// Distance calculates the great-circle distance between two points in the
// requested unit. Uses the Haversine formula, which is accurate over both
// short and long distances. The distance from a point to itself is 0.
func Distance(from, to Point, unit Unit) (float64, error) {
	radius, ok := earthRadius[unit]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}

	lat1Rad := from.Latitude * DegreesToRadians
	lon1Rad := from.Longitude * DegreesToRadians
	lat2Rad := to.Latitude * DegreesToRadians
	lon2Rad := to.Longitude * DegreesToRadians

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	// Haversine formula
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return radius * c, nil
}

// ConvertDistance converts a distance value between units, pivoting through
// kilometers. Same-unit conversion is exact identity; converting a value
// from A to B and back to A reproduces the original to within a few ULPs.
func ConvertDistance(value float64, from, to Unit) (float64, error) {
	fromKm, ok := kilometersPer[from]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, from)
	}
	toKm, ok := kilometersPer[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, to)
	}
	if from == to {
		return value, nil
	}
	return value * fromKm / toKm, nil
}

// Bearing calculates the initial bearing (forward azimuth) from one point to
// another along the great circle between them. Returns degrees in [0, 360),
// where 0 = North, 90 = East, 180 = South, 270 = West. For coincident points
// the bearing is 0 by convention.
func Bearing(from, to Point) float64 {
	lat1 := from.Latitude * DegreesToRadians
	lon1 := from.Longitude * DegreesToRadians
	lat2 := to.Latitude * DegreesToRadians
	lon2 := to.Longitude * DegreesToRadians

	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	bearing := math.Atan2(y, x) * RadiansToDegrees

	return NormalizeBearing(bearing)
}

// NormalizeBearing ensures a bearing is in the range [0, 360).
func NormalizeBearing(bearing float64) float64 {
	b := math.Mod(bearing, 360.0)
	if b < 0 {
		b += 360.0
	}
	return b
}

// cardinals holds the 16-wind compass rose, clockwise from north.
var cardinals = [16]string{
	"N", "NNE", "NE", "ENE",
	"E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW",
	"W", "WNW", "NW", "NNW",
}

// Cardinal maps a bearing in degrees to its 16-wind compass point.
// Each point covers a 22.5 degree arc centered on its nominal bearing,
// so bearings from 348.75 up to (but not including) 11.25 map to "N".
func Cardinal(bearing float64) string {
	b := NormalizeBearing(bearing)
	idx := int((b+11.25)/22.5) % 16
	return cardinals[idx]
}
