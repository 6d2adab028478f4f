// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/metrics"
	"github.com/wneessen/oncf-ar/internal/projection"
	"github.com/wneessen/oncf-ar/internal/sensor"
)

// run is the event loop of one session cycle. It is the only goroutine writing the
// observer state of the cycle identified by gen.
func (s *Session) run(ctx context.Context, gen uint64, log *logger.Logger, done chan struct{}) {
	defer close(done)

	// The permission request runs detached so that a teardown never waits for it. A
	// result arriving after the teardown lands in the buffered channel and is dropped.
	permission := make(chan error, 1)
	go func() {
		permission <- safeCall(func() error { return s.sensors.Permissions.RequestPermission(ctx) })
	}()

	var err error
	select {
	case <-ctx.Done():
		return
	case err = <-permission:
	}
	if err != nil {
		if !errors.Is(err, sensor.ErrPermissionDenied) {
			log.Error("permission request failed", logger.Err(err))
		}
		log.Warn("location permission not granted, AR session stays inactive")
		s.present(gen, true)
		return
	}

	if !s.transition(gen, StateAcquiring) {
		return
	}
	log.Debug("permission granted, acquiring sensors")

	fix := s.requestCurrentPosition(ctx, log)
	positions := openStream(log, streamPosition, s.sensors.Position != nil, func() (<-chan sensor.PositionSample, error) {
		return s.sensors.Position.WatchPosition(ctx, s.sensors.WatchOptions)
	})
	headings := openStream(log, streamHeading, s.sensors.Heading != nil, func() (<-chan sensor.HeadingSample, error) {
		return s.sensors.Heading.WatchHeading(ctx)
	})
	orientations := openStream(log, streamOrientation, s.sensors.Orientation != nil,
		func() (<-chan sensor.OrientationSample, error) {
			return s.sensors.Orientation.WatchOrientation(ctx, s.sensors.OrientationInterval)
		})

	// Present the empty overlay of the acquiring state.
	s.apply(gen, "", func(*projection.Observer) bool { return true })

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-fix:
			fix = nil
			if !ok {
				continue
			}
			// A fix from the subscription is at least as recent as the immediate request.
			s.apply(gen, streamPosition, func(obs *projection.Observer) bool {
				if obs.Position.IsSet() {
					return false
				}
				return setPosition(log, obs, sample)
			})
		case sample, ok := <-positions:
			if !ok {
				positions = nil
				streamClosed(log, streamPosition)
				continue
			}
			s.apply(gen, streamPosition, func(obs *projection.Observer) bool {
				return setPosition(log, obs, sample)
			})
		case sample, ok := <-headings:
			if !ok {
				headings = nil
				streamClosed(log, streamHeading)
				continue
			}
			s.apply(gen, streamHeading, func(obs *projection.Observer) bool {
				obs.Heading.Set(sample.Degrees())
				return true
			})
		case sample, ok := <-orientations:
			if !ok {
				orientations = nil
				streamClosed(log, streamOrientation)
				continue
			}
			s.apply(gen, streamOrientation, func(obs *projection.Observer) bool {
				obs.Pitch.Set(sample.PitchDegrees())
				obs.Roll.Set(sample.RollDegrees())
				return true
			})
		}
	}
}

// apply writes one observer field through fn and re-projects all points of interest if
// fn reports a change. Writes for a torn down cycle are discarded.
func (s *Session) apply(gen uint64, stream string, fn func(*projection.Observer) bool) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		if stream != "" {
			metrics.SensorErrors.WithLabelValues(stream, "stale").Inc()
		}
		return
	}
	if !fn(&s.observer) {
		s.mu.Unlock()
		return
	}
	if stream != "" {
		metrics.SamplesReceived.WithLabelValues(stream).Inc()
	}

	transitioned := false
	if s.state == StateAcquiring && s.observer.Position.IsSet() {
		s.state = StateActive
		transitioned = true
	}
	s.markers = projection.ProjectAll(s.catalogue, s.observer, s.camera)
	frame := s.frameLocked(false)
	s.mu.Unlock()

	if transitioned {
		metrics.SessionTransitions.WithLabelValues(StateActive.String()).Inc()
		s.logger.Debug("first position fix received, AR session active", slog.String("session", frame.SessionID))
	}
	metrics.ProjectionPasses.Inc()
	metrics.VisibleMarkers.Observe(float64(len(frame.Visible())))
	s.presenter.Present(frame)
}

// transition moves the cycle identified by gen into the target state.
func (s *Session) transition(gen uint64, target State) bool {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false
	}
	s.state = target
	s.mu.Unlock()
	metrics.SessionTransitions.WithLabelValues(target.String()).Inc()
	return true
}

// present hands the current state to the presenter without a projection pass.
func (s *Session) present(gen uint64, permissionRequired bool) {
	s.mu.RLock()
	if s.generation != gen {
		s.mu.RUnlock()
		return
	}
	frame := s.frameLocked(permissionRequired)
	s.mu.RUnlock()
	s.presenter.Present(frame)
}

func (s *Session) frameLocked(permissionRequired bool) Frame {
	markers := s.markers
	if markers == nil {
		markers = projection.ProjectAll(s.catalogue, projection.Observer{}, s.camera)
	}
	return Frame{
		SessionID:          s.id,
		State:              s.state,
		PermissionRequired: permissionRequired,
		Observer:           s.observer,
		Markers:            markers,
		At:                 time.Now(),
	}
}

// requestCurrentPosition issues the one-off position request of a session cycle. The
// returned channel yields at most one sample and is closed on failure.
func (s *Session) requestCurrentPosition(ctx context.Context, log *logger.Logger) <-chan sensor.PositionSample {
	if s.sensors.Position == nil {
		return nil
	}
	out := make(chan sensor.PositionSample, 1)
	go func() {
		var sample sensor.PositionSample
		err := safeCall(func() (err error) {
			sample, err = s.sensors.Position.CurrentPosition(ctx)
			return err
		})
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("immediate position request failed", logger.Err(err))
				metrics.SensorErrors.WithLabelValues(streamPosition, "current").Inc()
			}
			close(out)
			return
		}
		out <- sample
	}()
	return out
}

// setPosition stores a position sample. Invalid coordinates are logged and ignored.
func setPosition(log *logger.Logger, obs *projection.Observer, sample sensor.PositionSample) bool {
	pos := sample.Point()
	if !pos.Valid() {
		log.Warn("ignoring invalid position sample", slog.String("position", pos.String()),
			slog.String("source", sample.Source))
		metrics.SensorErrors.WithLabelValues(streamPosition, "invalid").Inc()
		return false
	}
	obs.Position.Set(pos)
	return true
}

// openStream opens a subscription. A failing or missing stream is logged and yields a
// nil channel, which never fires, so the field keeps its default value.
func openStream[T any](log *logger.Logger, stream string, available bool, open func() (<-chan T, error)) <-chan T {
	if !available {
		log.Warn("sensor stream not configured, using defaults", slog.String("stream", stream))
		metrics.SensorErrors.WithLabelValues(stream, "unavailable").Inc()
		return nil
	}
	var ch <-chan T
	err := safeCall(func() (err error) {
		ch, err = open()
		return err
	})
	if err == nil && ch == nil {
		err = sensor.ErrSensorUnavailable
	}
	if err != nil {
		kind := "subscribe"
		if errors.Is(err, sensor.ErrSensorUnavailable) {
			kind = "unavailable"
		}
		log.Warn("failed to subscribe to sensor stream, using defaults", slog.String("stream", stream),
			logger.Err(err))
		metrics.SensorErrors.WithLabelValues(stream, kind).Inc()
		return nil
	}
	return ch
}

func streamClosed(log *logger.Logger, stream string) {
	log.Warn("sensor stream closed", slog.String("stream", stream))
	metrics.SensorErrors.WithLabelValues(stream, "closed").Inc()
}

// safeCall invokes fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic in sensor call: %v", r)
		}
	}()
	return fn()
}
