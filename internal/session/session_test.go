// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/oncf-ar/internal/geodesy"
	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/poi"
	"github.com/wneessen/oncf-ar/internal/projection"
	"github.com/wneessen/oncf-ar/internal/sensor"
)

var (
	testStation = sensor.PositionSample{Lat: 34.0470, Lon: -5.0052, Accuracy: 5, Source: "test"}
	testTicket  = geodesy.GeoPoint{Lat: 34.047263, Lon: -5.0049376}
)

type permissions struct {
	err   error
	block bool
	calls int
	mu    sync.Mutex
}

func (p *permissions) RequestPermission(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func (p *permissions) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type positions struct {
	ch      chan sensor.PositionSample
	current *sensor.PositionSample
	err     error
	release chan struct{}
}

func (p *positions) Name() string { return "test" }

func (p *positions) CurrentPosition(ctx context.Context) (sensor.PositionSample, error) {
	if p.release != nil {
		<-p.release
	}
	if p.current == nil {
		return sensor.PositionSample{}, errors.New("no fix")
	}
	return *p.current, nil
}

func (p *positions) WatchPosition(context.Context, sensor.WatchOptions) (<-chan sensor.PositionSample, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.ch, nil
}

type headings struct {
	ch  chan sensor.HeadingSample
	err error
}

func (h *headings) Name() string { return "test" }

func (h *headings) WatchHeading(context.Context) (<-chan sensor.HeadingSample, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.ch, nil
}

type orientations struct {
	ch chan sensor.OrientationSample
}

func (o *orientations) Name() string { return "test" }

func (o *orientations) WatchOrientation(context.Context, time.Duration) (<-chan sensor.OrientationSample, error) {
	return o.ch, nil
}

type panicking struct{}

func (panicking) Name() string { return "panic" }

func (panicking) WatchHeading(context.Context) (<-chan sensor.HeadingSample, error) {
	panic("compass exploded")
}

type recorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recorder) Present(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) Last() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func testCatalogue(t *testing.T) *poi.Catalogue {
	t.Helper()
	cat, err := poi.NewCatalogue(poi.PointOfInterest{ID: "ticket", Position: testTicket, Name: "Ticket office"})
	if err != nil {
		t.Fatalf("failed to create catalogue: %s", err)
	}
	return cat
}

func testLogger() *logger.Logger {
	return logger.NewLogger(slog.LevelDebug, io.Discard)
}

type fixture struct {
	perms       *permissions
	position    *positions
	heading     *headings
	orientation *orientations
	presenter   *recorder
	session     *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		perms:       &permissions{},
		position:    &positions{ch: make(chan sensor.PositionSample)},
		heading:     &headings{ch: make(chan sensor.HeadingSample)},
		orientation: &orientations{ch: make(chan sensor.OrientationSample)},
		presenter:   &recorder{},
	}
	return f
}

func (f *fixture) build(t *testing.T) *Session {
	t.Helper()
	sensors := Sensors{Permissions: f.perms, Position: f.position, Heading: f.heading, Orientation: f.orientation}
	f.session = New(testCatalogue(t), projection.DefaultCamera(400, 800), sensors, f.presenter, testLogger())
	return f.session
}

func TestNew(t *testing.T) {
	t.Run("defaults are applied", func(t *testing.T) {
		s := New(testCatalogue(t), projection.DefaultCamera(400, 800), Sensors{}, nil, testLogger())
		if s.State() != StateInactive {
			t.Errorf("expected new session to be inactive, got %s", s.State())
		}
		if s.sensors.WatchOptions != sensor.DefaultWatchOptions() {
			t.Errorf("expected default watch options, got %+v", s.sensors.WatchOptions)
		}
		if s.sensors.OrientationInterval != sensor.DefaultOrientationInterval {
			t.Errorf("expected default orientation interval, got %s", s.sensors.OrientationInterval)
		}
		if _, ok := s.sensors.Permissions.(sensor.Granted); !ok {
			t.Error("expected nil permissions to be granted")
		}
	})
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInactive, "inactive"},
		{StateAcquiring, "acquiring"},
		{StateActive, "active"},
		{State(42), "unknown(42)"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.state.String(); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSession_Lifecycle(t *testing.T) {
	t.Run("first fix moves the session to active", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			if s.State() != StateAcquiring {
				t.Fatalf("expected session to be acquiring, got %s", s.State())
			}
			if s.ID() == "" {
				t.Error("expected session to have an ID")
			}

			f.position.ch <- testStation
			synctest.Wait()
			if s.State() != StateActive {
				t.Fatalf("expected session to be active, got %s", s.State())
			}
			pos, ok := s.Observer().Position.Get()
			if !ok || pos != testStation.Point() {
				t.Errorf("expected observer position %s, got %s", testStation.Point(), pos)
			}

			s.Stop()
			if s.State() != StateInactive {
				t.Errorf("expected session to be inactive after stop, got %s", s.State())
			}
		})
	})
	t.Run("start twice fails", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			s := newFixture(t).build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			if err := s.Start(t.Context()); !errors.Is(err, ErrAlreadyStarted) {
				t.Errorf("expected ErrAlreadyStarted, got %v", err)
			}
			s.Stop()
		})
	})
	t.Run("stop on an inactive session is a no-op", func(t *testing.T) {
		s := newFixture(t).build(t)
		s.Stop()
		if s.State() != StateInactive {
			t.Errorf("expected session to be inactive, got %s", s.State())
		}
	})
	t.Run("stop does not wait for a pending permission request", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			f.perms.block = true
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			s.Stop()
			if s.State() != StateInactive {
				t.Errorf("expected session to be inactive, got %s", s.State())
			}
			if f.presenter.Len() != 0 {
				t.Errorf("expected no frames to be presented, got %d", f.presenter.Len())
			}
		})
	})
}

func TestSession_PermissionDenied(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t)
		f.perms.err = sensor.ErrPermissionDenied
		s := f.build(t)
		if err := s.Start(t.Context()); err != nil {
			t.Fatalf("failed to start session: %s", err)
		}
		synctest.Wait()

		if s.State() != StateInactive {
			t.Errorf("expected session to stay inactive, got %s", s.State())
		}
		frame, ok := f.presenter.Last()
		if !ok {
			t.Fatal("expected a frame to be presented")
		}
		if !frame.PermissionRequired {
			t.Error("expected frame to require permission")
		}
		if len(frame.Visible()) != 0 {
			t.Errorf("expected no visible markers, got %d", len(frame.Visible()))
		}
		if f.perms.Calls() != 1 {
			t.Errorf("expected exactly one permission request, got %d", f.perms.Calls())
		}

		// A fresh Start re-requests permission.
		f.perms.mu.Lock()
		f.perms.err = nil
		f.perms.mu.Unlock()
		if err := s.Start(t.Context()); err != nil {
			t.Fatalf("failed to restart session: %s", err)
		}
		synctest.Wait()
		if s.State() != StateAcquiring {
			t.Errorf("expected session to be acquiring after restart, got %s", s.State())
		}
		if f.perms.Calls() != 2 {
			t.Errorf("expected two permission requests, got %d", f.perms.Calls())
		}
		s.Stop()
	})
}

func TestSession_Projection(t *testing.T) {
	t.Run("heading change moves the marker", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()

			f.position.ch <- testStation
			synctest.Wait()
			if markers := s.Markers(); len(markers) != 1 || markers[0].Visible {
				t.Fatalf("expected ticket office to be invisible at heading 0, got %+v", markers)
			}

			bearing := geodesy.Bearing(testStation.Point(), testTicket)
			f.heading.ch <- sensor.HeadingSample{TrueHeading: bearing, MagHeading: 0}
			synctest.Wait()
			markers := s.Markers()
			if !markers[0].Visible {
				t.Fatal("expected ticket office to be visible when facing it")
			}
			if math.Abs(markers[0].Projection.ScreenX-200) > 1e-6 {
				t.Errorf("expected marker at screen center, got %f", markers[0].Projection.ScreenX)
			}
			frame, _ := f.presenter.Last()
			if frame.State != StateActive || len(frame.Visible()) != 1 {
				t.Errorf("expected active frame with one visible marker, got %s/%d", frame.State,
					len(frame.Visible()))
			}
			s.Stop()
		})
	})
	t.Run("heading defaults to 0 when the compass never reports", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			f.position.ch <- testStation
			synctest.Wait()

			obs := s.Observer()
			if obs.Heading.IsSet() {
				t.Error("expected heading to be unset")
			}
			if obs.Heading.Value() != 0 {
				t.Errorf("expected heading to default to 0, got %f", obs.Heading.Value())
			}
			if s.State() != StateActive {
				t.Errorf("expected session to be active, got %s", s.State())
			}
			s.Stop()
		})
	})
	t.Run("magnetic heading is used when true heading is unavailable", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			f.heading.ch <- sensor.HeadingSample{TrueHeading: sensor.HeadingUnavailable, MagHeading: 123}
			synctest.Wait()
			if got := s.Observer().Heading.Value(); got != 123 {
				t.Errorf("expected heading 123, got %f", got)
			}
			if s.State() != StateAcquiring {
				t.Errorf("expected session to stay acquiring without a fix, got %s", s.State())
			}
			s.Stop()
		})
	})
	t.Run("orientation is converted to degrees", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			f.orientation.ch <- sensor.OrientationSample{Beta: math.Pi / 8, Gamma: -math.Pi / 4}
			synctest.Wait()
			obs := s.Observer()
			if math.Abs(obs.Pitch.Value()-22.5) > 1e-9 {
				t.Errorf("expected pitch 22.5, got %f", obs.Pitch.Value())
			}
			if math.Abs(obs.Roll.Value()+45) > 1e-9 {
				t.Errorf("expected roll -45, got %f", obs.Roll.Value())
			}
			s.Stop()
		})
	})
	t.Run("invalid positions are ignored", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			f.position.ch <- sensor.PositionSample{Lat: 123, Lon: 0}
			synctest.Wait()
			if s.Observer().Position.IsSet() {
				t.Error("expected invalid position to be ignored")
			}
			if s.State() != StateAcquiring {
				t.Errorf("expected session to stay acquiring, got %s", s.State())
			}
			s.Stop()
		})
	})
}

func TestSession_ImmediateFix(t *testing.T) {
	t.Run("immediate fix activates the session", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			f.position.current = &testStation
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			if s.State() != StateActive {
				t.Errorf("expected session to be active, got %s", s.State())
			}
			s.Stop()
		})
	})
	t.Run("immediate fix does not overwrite a newer watch sample", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			stale := sensor.PositionSample{Lat: 34.1, Lon: -5.1}
			f.position.current = &stale
			f.position.release = make(chan struct{})
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			f.position.ch <- testStation
			synctest.Wait()
			close(f.position.release)
			synctest.Wait()
			if pos := s.Observer().Position.Value(); pos != testStation.Point() {
				t.Errorf("expected position %s, got %s", testStation.Point(), pos)
			}
			s.Stop()
		})
	})
	t.Run("immediate fix arriving after stop is discarded", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			f.position.current = &testStation
			f.position.release = make(chan struct{})
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			s.Stop()
			frames := f.presenter.Len()
			close(f.position.release)
			synctest.Wait()
			if s.Observer().Position.IsSet() {
				t.Error("expected late fix to be discarded")
			}
			if f.presenter.Len() != frames {
				t.Errorf("expected no frames after stop, got %d new", f.presenter.Len()-frames)
			}
		})
	})
}

func TestSession_Restart(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t)
		s := f.build(t)
		if err := s.Start(t.Context()); err != nil {
			t.Fatalf("failed to start session: %s", err)
		}
		synctest.Wait()
		f.position.ch <- testStation
		f.heading.ch <- sensor.HeadingSample{TrueHeading: 90}
		synctest.Wait()
		firstID := s.ID()
		s.Stop()

		if err := s.Start(t.Context()); err != nil {
			t.Fatalf("failed to restart session: %s", err)
		}
		synctest.Wait()
		if s.ID() == firstID {
			t.Error("expected a new session ID on restart")
		}
		obs := s.Observer()
		if obs.Position.IsSet() || obs.Heading.IsSet() {
			t.Error("expected observer state to be reset on restart")
		}
		if s.State() != StateAcquiring {
			t.Errorf("expected session to be acquiring, got %s", s.State())
		}
		if f.perms.Calls() != 2 {
			t.Errorf("expected permission to be requested again, got %d calls", f.perms.Calls())
		}
		s.Stop()
	})
}

func TestSession_UnavailableSensors(t *testing.T) {
	t.Run("failing heading subscription keeps the other streams", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			f.heading.err = sensor.ErrSensorUnavailable
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			f.position.ch <- testStation
			synctest.Wait()
			if s.State() != StateActive {
				t.Errorf("expected session to be active, got %s", s.State())
			}
			s.Stop()
		})
	})
	t.Run("panicking source is recovered", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			sensors := Sensors{Permissions: f.perms, Position: f.position, Heading: panicking{}}
			s := New(testCatalogue(t), projection.DefaultCamera(400, 800), sensors, f.presenter, testLogger())
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			f.position.ch <- testStation
			synctest.Wait()
			if s.State() != StateActive {
				t.Errorf("expected session to be active, got %s", s.State())
			}
			s.Stop()
		})
	})
	t.Run("closed stream does not end the session", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			f := newFixture(t)
			s := f.build(t)
			if err := s.Start(t.Context()); err != nil {
				t.Fatalf("failed to start session: %s", err)
			}
			synctest.Wait()
			close(f.orientation.ch)
			synctest.Wait()
			f.position.ch <- testStation
			synctest.Wait()
			if s.State() != StateActive {
				t.Errorf("expected session to be active, got %s", s.State())
			}
			s.Stop()
		})
	})
}

func TestPresenterFunc(t *testing.T) {
	var got Frame
	fn := PresenterFunc(func(f Frame) { got = f })
	fn.Present(Frame{SessionID: "abc"})
	if got.SessionID != "abc" {
		t.Errorf("expected presenter func to receive the frame, got %q", got.SessionID)
	}
}
