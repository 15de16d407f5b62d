// Package geo provides great-circle distance math and the unit conversions
// used by the detection engine. Distances are stored in kilometres; anchor
// radii are configured in metres.
package geo

import "math"

// EarthRadiusKm is the mean earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two
// WGS84 coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// MetersToKm converts metres to kilometres.
func MetersToKm(m float64) float64 {
	return m / 1000.0
}

// KmToMeters converts kilometres to metres.
func KmToMeters(km float64) float64 {
	return km * 1000.0
}

// ValidCoordinate reports whether lat/lon are in range and not null island.
// Mirrors the validity filter applied to backup imports.
func ValidCoordinate(lat, lon float64) bool {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	if lat == 0 && lon == 0 {
		return false
	}
	return true
}
