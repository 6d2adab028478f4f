// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geodesy implements the spherical earth math used to place points of interest
// relative to an observer.
package geodesy

import (
	"fmt"
	"math"
)

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371000.0

// GeoPoint represents a WGS84 latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Valid checks if the point is a valid coordinate according to the EPSG:4326 bounds.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// String implements fmt.Stringer.
func (p GeoPoint) String() string {
	return fmt.Sprintf("%.7f,%.7f", p.Lat, p.Lon)
}

// Distance returns the great-circle distance in meters between a and b using the
// haversine formula.
func Distance(a, b GeoPoint) float64 {
	lat1 := Radians(a.Lat)
	lat2 := Radians(b.Lat)
	dLat := Radians(b.Lat - a.Lat)
	dLon := Radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial compass bearing in degrees [0, 360) along the great-circle
// path from one point to another.
func Bearing(from, to GeoPoint) float64 {
	lat1 := Radians(from.Lat)
	lat2 := Radians(to.Lat)
	dLon := Radians(to.Lon - from.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return Normalize360(Degrees(math.Atan2(y, x)))
}

// Normalize360 maps any angle into [0, 360). The modulo is applied before and after
// adding a full turn, so negative inputs wrap correctly.
func Normalize360(deg float64) float64 {
	return math.Mod(math.Mod(deg, 360)+360, 360)
}

// Normalize180 maps any angle into [-180, 180), i.e. the signed shortest angular
// difference for an angle difference.
func Normalize180(deg float64) float64 {
	return Normalize360(deg+180) - 180
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
