// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package session implements the AR session: it subscribes to the position, heading and
// orientation streams, keeps the latest sample of each and re-projects all points of
// interest whenever one of them changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/metrics"
	"github.com/wneessen/oncf-ar/internal/poi"
	"github.com/wneessen/oncf-ar/internal/projection"
	"github.com/wneessen/oncf-ar/internal/sensor"
)

const (
	streamPosition    = "position"
	streamHeading     = "heading"
	streamOrientation = "orientation"
)

// ErrAlreadyStarted is returned by Start if the session is running.
var ErrAlreadyStarted = errors.New("session already started")

// State is the lifecycle state of a Session.
type State int

const (
	// StateInactive means no subscriptions are open.
	StateInactive State = iota
	// StateAcquiring means permission was granted and the session waits for a first fix.
	StateAcquiring
	// StateActive means a position fix is available and projections are produced.
	StateActive
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Sensors bundles the platform collaborators of a Session. Heading and Orientation may
// be nil on hardware without those sensors. A nil Permissions grants access.
type Sensors struct {
	Permissions         sensor.PermissionRequester
	Position            sensor.PositionSource
	Heading             sensor.HeadingSource
	Orientation         sensor.OrientationSource
	WatchOptions        sensor.WatchOptions
	OrientationInterval time.Duration
}

// Frame is the output of a projection pass, handed to the Presenter.
type Frame struct {
	SessionID          string
	State              State
	PermissionRequired bool
	Observer           projection.Observer
	Markers            []projection.Marker
	At                 time.Time
}

// Visible returns the markers of the frame that are on screen.
func (f Frame) Visible() []projection.Marker {
	var visible []projection.Marker
	for _, m := range f.Markers {
		if m.Visible {
			visible = append(visible, m)
		}
	}
	return visible
}

// Presenter consumes frames to place, hide and scale the visual markers. Present is
// called from the session's event loop and must not block for long.
type Presenter interface {
	Present(Frame)
}

// PresenterFunc adapts a function to the Presenter interface.
type PresenterFunc func(Frame)

// Present calls f(frame).
func (f PresenterFunc) Present(frame Frame) {
	f(frame)
}

// Session is a single AR session. All observer writes happen on the event loop goroutine
// started by Start; the mutex only guards snapshot reads from other goroutines.
type Session struct {
	catalogue *poi.Catalogue
	camera    projection.Camera
	sensors   Sensors
	presenter Presenter
	logger    *logger.Logger

	mu         sync.RWMutex
	id         string
	state      State
	generation uint64
	observer   projection.Observer
	markers    []projection.Marker

	ctrlMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an inactive Session for the given catalogue, camera and sensors.
func New(cat *poi.Catalogue, cam projection.Camera, sensors Sensors, presenter Presenter,
	log *logger.Logger,
) *Session {
	if sensors.Permissions == nil {
		sensors.Permissions = sensor.Granted{}
	}
	if sensors.WatchOptions == (sensor.WatchOptions{}) {
		sensors.WatchOptions = sensor.DefaultWatchOptions()
	}
	if sensors.OrientationInterval <= 0 {
		sensors.OrientationInterval = sensor.DefaultOrientationInterval
	}
	if presenter == nil {
		presenter = PresenterFunc(func(Frame) {})
	}
	return &Session{
		catalogue: cat,
		camera:    cam,
		sensors:   sensors,
		presenter: presenter,
		logger:    log,
	}
}

// Start begins a new session cycle: the permission request, an immediate position
// request and the three subscriptions run on a fresh event loop. Start does not block.
// It fails with ErrAlreadyStarted while a previous cycle is still running; a cycle that
// ended on its own, e.g. because permission was denied, can be restarted.
func (s *Session) Start(ctx context.Context) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
			s.cancel()
			s.done, s.cancel = nil, nil
		default:
			return ErrAlreadyStarted
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.id = uuid.NewString()
	s.state = StateInactive
	s.observer = projection.Observer{}
	s.markers = nil
	id := s.id
	s.mu.Unlock()

	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, gen, s.logger.With(slog.String("session", id)), s.done)
	return nil
}

// Stop ends the session. It invalidates the running cycle, closes all subscriptions and
// waits for the event loop to exit. Results arriving afterwards are discarded. The last
// observer state stays readable until the next Start.
func (s *Session) Stop() {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	if s.done == nil {
		return
	}

	s.mu.Lock()
	s.generation++
	wasActive := s.state != StateInactive
	s.state = StateInactive
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.done, s.cancel = nil, nil
	if wasActive {
		metrics.SessionTransitions.WithLabelValues(StateInactive.String()).Inc()
	}
	s.logger.Debug("AR session stopped")
}

// ID returns the ID of the current or last session cycle.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Observer returns a snapshot of the observer state.
func (s *Session) Observer() projection.Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observer
}

// Markers returns a copy of the markers of the last projection pass.
func (s *Session) Markers() []projection.Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]projection.Marker, len(s.markers))
	copy(out, s.markers)
	return out
}

// Catalogue returns the points of interest projected by the session.
func (s *Session) Catalogue() *poi.Catalogue {
	return s.catalogue
}

// Camera returns the camera parameters used for projection.
func (s *Session) Camera() projection.Camera {
	return s.camera
}
