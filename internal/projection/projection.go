// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package projection maps points of interest into screen space, based on the observer's
// position, compass heading and device pitch.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/wneessen/oncf-ar/internal/geodesy"
	"github.com/wneessen/oncf-ar/internal/poi"
	"github.com/wneessen/oncf-ar/internal/vartype"
)

const (
	DefaultHorizontalFOV      = 60.0  // degrees
	DefaultVerticalFOV        = 45.0  // degrees
	DefaultMaxDisplayDistance = 500.0 // meters

	// MinScale keeps distant markers legible.
	MinScale = 0.4
)

// Camera holds the static camera and viewport parameters of the overlay.
type Camera struct {
	HorizontalFOV      float64
	VerticalFOV        float64
	MaxDisplayDistance float64
	ViewportWidth      float64
	ViewportHeight     float64
}

// Observer is the latest known state of the device. Each field is written independently
// by its sensor stream. An unset Position means no fix has been received yet, unset
// angles read as 0.
type Observer struct {
	Position vartype.Variable[geodesy.GeoPoint]
	Heading  vartype.VarFloat64
	Pitch    vartype.VarFloat64
	Roll     vartype.VarFloat64
}

// Result is the screen space placement of a visible point of interest.
type Result struct {
	ScreenX          float64
	ScreenY          float64
	Distance         float64
	Bearing          float64
	HorizontalOffset float64
	VerticalOffset   float64
	Scale            float64
}

// Marker pairs a point of interest with its projection. Projection is only meaningful
// if Visible is true.
type Marker struct {
	POI        poi.PointOfInterest
	Visible    bool
	Projection Result
}

// DefaultCamera returns a Camera with the default field of view and display distance for
// the given viewport size in pixels.
func DefaultCamera(width, height float64) Camera {
	return Camera{
		HorizontalFOV:      DefaultHorizontalFOV,
		VerticalFOV:        DefaultVerticalFOV,
		MaxDisplayDistance: DefaultMaxDisplayDistance,
		ViewportWidth:      width,
		ViewportHeight:     height,
	}
}

// Validate checks the camera parameters for sanity.
func (c Camera) Validate() error {
	if c.HorizontalFOV <= 0 || c.HorizontalFOV > 180 {
		return fmt.Errorf("invalid horizontal field of view: %f", c.HorizontalFOV)
	}
	if c.VerticalFOV <= 0 || c.VerticalFOV > 180 {
		return fmt.Errorf("invalid vertical field of view: %f", c.VerticalFOV)
	}
	if c.MaxDisplayDistance <= 0 {
		return fmt.Errorf("invalid max display distance: %f", c.MaxDisplayDistance)
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return errors.New("viewport width and height must be positive")
	}
	return nil
}

// Project computes the screen placement of target for the given observer. The second
// return value is false if the target is not visible: no position fix, outside of the
// field of view, or farther away than the max display distance.
//
// All points of interest are assumed to be at the observer's altitude, so the vertical
// offset depends on the device pitch only. The angular offsets map linearly onto the
// viewport, half the field of view spanning half the viewport.
func Project(target geodesy.GeoPoint, obs Observer, cam Camera) (Result, bool) {
	pos, ok := obs.Position.Get()
	if !ok {
		return Result{}, false
	}

	bearing := geodesy.Bearing(pos, target)
	hOffset := geodesy.Normalize180(bearing - obs.Heading.Value())
	vOffset := 0 - obs.Pitch.Value()

	halfH, halfV := cam.HorizontalFOV/2, cam.VerticalFOV/2
	if math.Abs(hOffset) > halfH || math.Abs(vOffset) > halfV {
		return Result{}, false
	}

	centerX, centerY := cam.ViewportWidth/2, cam.ViewportHeight/2
	distance := geodesy.Distance(pos, target)
	if distance > cam.MaxDisplayDistance {
		return Result{}, false
	}

	return Result{
		ScreenX:          centerX + (hOffset/halfH)*centerX,
		ScreenY:          centerY - (vOffset/halfV)*centerY,
		Distance:         distance,
		Bearing:          bearing,
		HorizontalOffset: hOffset,
		VerticalOffset:   vOffset,
		Scale:            Scale(distance, cam.MaxDisplayDistance),
	}, true
}

// ProjectAll projects every point of interest of the catalogue, in catalogue order.
func ProjectAll(cat *poi.Catalogue, obs Observer, cam Camera) []Marker {
	points := cat.All()
	markers := make([]Marker, len(points))
	for i, p := range points {
		res, ok := Project(p.Position, obs, cam)
		markers[i] = Marker{POI: p, Visible: ok, Projection: res}
	}
	return markers
}

// Scale returns the marker size hint for the given distance, 1 at the observer and
// MinScale at or beyond maxDistance.
func Scale(distance, maxDistance float64) float64 {
	if maxDistance <= 0 {
		return MinScale
	}
	return math.Max(MinScale, 1-distance/maxDistance)
}

// Guidance returns the relative bearing in [-180, 180) and the distance from the observer
// to target, independent of the field of view. It is used to point towards a selected
// point of interest that is off-screen.
func Guidance(target geodesy.GeoPoint, obs Observer) (relBearing, distance float64, ok bool) {
	pos, ok := obs.Position.Get()
	if !ok {
		return 0, 0, false
	}
	relBearing = geodesy.Normalize180(geodesy.Bearing(pos, target) - obs.Heading.Value())
	return relBearing, geodesy.Distance(pos, target), true
}
