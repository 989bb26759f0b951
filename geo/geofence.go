// Package geo implements the geofence calculator: great-circle distance
// on a spherical Earth approximation and point-in-zone classification.
package geo

import "math"

// earthRadiusKM is the mean Earth radius used by the haversine formula.
const earthRadiusKM = 6371.0

// DefaultFenceRadiusKM is used when a zone does not configure its own radius.
const DefaultFenceRadiusKM = 2.0

// Distance returns the great-circle distance in kilometers between two
// points given in decimal degrees, using the haversine formula.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dlat := radians(lat2 - lat1)
	dlng := radians(lng2 - lng1)

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dlng/2)*math.Sin(dlng/2)

	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// OutsideFence reports whether a point lies outside a circular zone.
// The outside condition is strictly distance > radius: a point exactly
// on the boundary is classified as inside.
func OutsideFence(lat, lng, centerLat, centerLng, radiusKM float64) bool {
	return Distance(lat, lng, centerLat, centerLng) > radiusKM
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
