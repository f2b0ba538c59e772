// Package geo provides the great-circle geometry needed to rotate
// station-pair correlations into geographic components.
package geo

import "math"

// earthRadiusKM is the mean Earth radius used for distances.
const earthRadiusKM = 6371.0

// Azimuth returns the great-circle bearing in degrees [0, 360) from point 1
// to point 2, measured clockwise from north.
func Azimuth(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dl) * math.Cos(p2)
	x := math.Cos(p1)*math.Sin(p2) - math.Sin(p1)*math.Cos(p2)*math.Cos(dl)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// BackAzimuth returns the bearing from point 2 back to point 1.
func BackAzimuth(lat1, lon1, lat2, lon2 float64) float64 {
	return Azimuth(lat2, lon2, lat1, lon1)
}

// DistanceKM returns the great-circle distance between two points using the
// haversine formula.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := p2 - p1
	dl := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dp/2)*math.Sin(dp/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(a)))
}
