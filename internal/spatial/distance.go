// Package spatial provides great-circle geometry on WGS84 coordinates.
package spatial

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used for all distances
const EarthRadiusMeters = 6371000.0

// Point is a latitude/longitude pair in degrees
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}

// HaversineDistance returns the great-circle distance in meters between two coordinates
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return Distance(Point{Lat: lat1, Lon: lon1}, Point{Lat: lat2, Lon: lon2})
}

// Distance returns the great-circle distance between two points in meters
func Distance(a, b Point) float64 {
	return a.latLng().Distance(b.latLng()).Radians() * EarthRadiusMeters
}

// WithinRadius reports whether p lies within radiusMeters of center (inclusive)
func WithinRadius(center, p Point, radiusMeters float64) bool {
	return Distance(center, p) <= radiusMeters
}

// DestinationPoint projects a point distanceMeters away from (lat, lon) along an
// initial bearing in degrees clockwise from north. Returns latitude and longitude in degrees.
func DestinationPoint(lat, lon, bearing, distanceMeters float64) (float64, float64) {
	origin := Point{Lat: lat, Lon: lon}.latLng()
	theta := (s1.Angle(bearing) * s1.Degree).Radians()
	delta := distanceMeters / EarthRadiusMeters

	phi1, lambda1 := origin.Lat.Radians(), origin.Lng.Radians()
	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2))

	dest := s2.LatLngFromPoint(s2.PointFromLatLng(s2.LatLng{Lat: s1.Angle(phi2), Lng: s1.Angle(lambda2)}))
	return dest.Lat.Degrees(), dest.Lng.Degrees()
}
