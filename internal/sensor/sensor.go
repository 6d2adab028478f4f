// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package sensor defines the sample types and source interfaces of the position, compass
// heading and device orientation streams.
package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/wneessen/oncf-ar/internal/geodesy"
)

// HeadingUnavailable is the sentinel value reported for a true heading that the
// platform could not determine.
const HeadingUnavailable = -1

const (
	DefaultPositionInterval    = time.Second
	DefaultPositionDistance    = 1.0 // meters
	DefaultOrientationInterval = time.Millisecond * 100
)

var (
	// ErrPermissionDenied is returned if the user refused location or camera access.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSensorUnavailable is returned if the hardware or service behind a stream is missing.
	ErrSensorUnavailable = errors.New("sensor unavailable")
)

// PositionSample is a single position fix.
type PositionSample struct {
	Lat       float64
	Lon       float64
	Accuracy  float64 // meters
	Timestamp time.Time
	Source    string
}

// Point returns the position of the sample.
func (s PositionSample) Point() geodesy.GeoPoint {
	return geodesy.GeoPoint{Lat: s.Lat, Lon: s.Lon}
}

// HeadingSample is a single compass reading in degrees.
type HeadingSample struct {
	TrueHeading float64
	MagHeading  float64
}

// Degrees returns the true heading, or the magnetic heading if the true heading is
// unavailable, normalized into [0, 360).
func (s HeadingSample) Degrees() float64 {
	if s.TrueHeading != HeadingUnavailable {
		return geodesy.Normalize360(s.TrueHeading)
	}
	return geodesy.Normalize360(s.MagHeading)
}

// OrientationSample is a device rotation reading. Beta is the rotation about the x axis
// (pitch), Gamma about the y axis (roll), both in radians.
type OrientationSample struct {
	Beta  float64
	Gamma float64
}

// PitchDegrees returns the pitch in degrees.
func (s OrientationSample) PitchDegrees() float64 {
	return geodesy.Degrees(s.Beta)
}

// RollDegrees returns the roll in degrees.
func (s OrientationSample) RollDegrees() float64 {
	return geodesy.Degrees(s.Gamma)
}

// WatchOptions configures a position subscription. Sources honor whichever of the two
// thresholds their platform supports.
type WatchOptions struct {
	MinDistance float64
	MinInterval time.Duration
}

// DefaultWatchOptions returns the default position subscription thresholds.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		MinDistance: DefaultPositionDistance,
		MinInterval: DefaultPositionInterval,
	}
}

// Significant reports whether next should be emitted after last. A fix passes if the
// interval elapsed or the observer moved at least the minimum distance.
func (o WatchOptions) Significant(last, next PositionSample) bool {
	if o.MinInterval > 0 && next.Timestamp.Sub(last.Timestamp) >= o.MinInterval {
		return true
	}
	return geodesy.Distance(last.Point(), next.Point()) >= o.MinDistance
}

// PermissionRequester asks the platform for location and camera access. A refusal is
// reported as ErrPermissionDenied.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) error
}

// PositionSource provides position fixes. WatchPosition streams fixes until ctx is done,
// at which point the channel is closed.
type PositionSource interface {
	Name() string
	CurrentPosition(ctx context.Context) (PositionSample, error)
	WatchPosition(ctx context.Context, opts WatchOptions) (<-chan PositionSample, error)
}

// HeadingSource streams compass headings until ctx is done.
type HeadingSource interface {
	Name() string
	WatchHeading(ctx context.Context) (<-chan HeadingSample, error)
}

// OrientationSource streams device orientation readings, sampled at the given interval,
// until ctx is done.
type OrientationSource interface {
	Name() string
	WatchOrientation(ctx context.Context, interval time.Duration) (<-chan OrientationSample, error)
}

// Granted is a PermissionRequester for sensors without a permission model.
type Granted struct{}

// RequestPermission always succeeds.
func (Granted) RequestPermission(context.Context) error {
	return nil
}
