package geo

import (
	"errors"
	"math"
)

var (
	// ErrLocationRequired is returned when a token carries an anchor but the
	// scan did not report a location.
	ErrLocationRequired = errors.New("location required")

	// ErrOutsideRadius is returned when the reported location falls outside
	// the allowed radius around the anchor.
	ErrOutsideRadius = errors.New("outside geofence radius")
)

const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate. AccuracyMeters is the reporting device's
// claimed accuracy; it is carried for auditing but does not influence the
// radius check.
type Point struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_m,omitempty"`
}

// Distance returns the great-circle distance between two points in meters,
// using the haversine formula.
func Distance(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// IsWithinRadius reports whether reported lies within radiusMeters of anchor.
func IsWithinRadius(anchor, reported Point, radiusMeters int) bool {
	return Distance(anchor, reported) <= float64(radiusMeters)
}

// Check evaluates a reported location against a token's anchor.
//
// A nil anchor means geofencing is disabled for the token and every location
// (including none) is acceptable; callers log the opt-out. A nil reported
// location with a non-nil anchor fails with ErrLocationRequired rather than
// silently passing.
func Check(anchor, reported *Point, radiusMeters int) error {
	if anchor == nil {
		return nil
	}
	if reported == nil {
		return ErrLocationRequired
	}
	if !IsWithinRadius(*anchor, *reported, radiusMeters) {
		return ErrOutsideRadius
	}
	return nil
}
