// Package geo holds the pure geospatial and kinematic math used by the
// tracking pipeline. Everything here is stateless and deterministic.
package geo

import "math"

const (
	earthRadiusKM = 6371

	// HarshAccelThreshold is the |m/s²| at or above which a speed change
	// between two consecutive samples counts as harsh.
	HarshAccelThreshold = 5.0

	// minElapsedSeconds guards the division when two samples share a
	// timestamp.
	minElapsedSeconds = 0.001
)

// Distance returns the great-circle distance in kilometers between two
// points, using the haversine formula on a spherical Earth.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLon*sinLon

	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}

// WithinRadius reports whether the two points are at most meters apart.
func WithinRadius(lat1, lon1, lat2, lon2, meters float64) bool {
	return Distance(lat1, lon1, lat2, lon2)*1000 <= meters
}

// Acceleration computes instantaneous acceleration in m/s² from two
// consecutive speed samples. elapsedMS is the gap between their
// timestamps; anything under 1ms (including samples sharing a timestamp)
// is clamped to avoid blowing up the division.
func Acceleration(prevSpeedMS, currSpeedMS float64, elapsedMS int64) float64 {
	elapsed := float64(elapsedMS) / 1000
	if elapsed < minElapsedSeconds {
		elapsed = minElapsedSeconds
	}
	return (currSpeedMS - prevSpeedMS) / elapsed
}

// IsHarsh classifies an acceleration magnitude against the harsh threshold.
func IsHarsh(accelMS2 float64) bool {
	return math.Abs(accelMS2) >= HarshAccelThreshold
}

// ValidCoordinates reports whether lat/lon form a usable position. NaN
// fails every comparison, so it is rejected by the range checks alone.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
