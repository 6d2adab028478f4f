// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package replay plays back a recorded sensor trace. It stands in for real hardware
// during development and in demos.
//
// A trace is a text file with one event per line:
//
//	# offset_ms,kind,v1,v2[,v3]
//	0,pos,34.0470,-5.0052,5
//	250,hdg,39.5,37.2
//	300,ori,0.0,0.0
//
// pos events carry latitude, longitude and an optional accuracy in meters, hdg events the
// true and magnetic heading in degrees (-1 for an unavailable true heading) and ori
// events the device's beta and gamma rotation in radians.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/oncf-ar/internal/sensor"
)

const (
	name = "replay"

	// Accuracy is used for pos events without an accuracy value.
	Accuracy = 5
)

var ErrNoEvents = errors.New("no valid events found in replay trace")

// Kind is the stream an event belongs to.
type Kind string

const (
	KindPosition    Kind = "pos"
	KindHeading     Kind = "hdg"
	KindOrientation Kind = "ori"
)

// Event is a single recorded sample.
type Event struct {
	Offset      time.Duration
	Kind        Kind
	Position    sensor.PositionSample
	Heading     sensor.HeadingSample
	Orientation sensor.OrientationSample
}

// Provider replays a trace. It implements sensor.PositionSource, sensor.HeadingSource
// and sensor.OrientationSource. Every subscription plays the trace from its start.
type Provider struct {
	name   string
	events []Event
	loop   bool
}

// Load reads the trace at path.
func Load(path string, loop bool) (*Provider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay trace %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	events, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse replay trace %q: %w", path, err)
	}
	return New(events, loop), nil
}

// New returns a Provider for the given events. With loop set, the trace restarts after
// its last event, otherwise the streams stay open and silent.
func New(events []Event, loop bool) *Provider {
	return &Provider{
		name:   name,
		events: events,
		loop:   loop,
	}
}

// Parse reads trace events from r. Comments, blank lines and malformed lines are
// skipped; events must be ordered by offset.
func Parse(r io.Reader) ([]Event, error) {
	var events []Event
	var last time.Duration
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		event, err := parseEvent(line)
		if err != nil {
			continue
		}
		if event.Offset < last {
			return nil, fmt.Errorf("event at %s is out of order", event.Offset)
		}
		last = event.Offset
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay trace: %w", err)
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	return events, nil
}

func parseEvent(line string) (Event, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 4 || len(fields) > 5 {
		return Event{}, fmt.Errorf("invalid number of fields: %d", len(fields))
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil || offset < 0 {
		return Event{}, fmt.Errorf("invalid offset %q", fields[0])
	}
	values := make([]float64, 0, 3)
	for _, field := range fields[2:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Event{}, fmt.Errorf("invalid value %q: %w", field, err)
		}
		values = append(values, v)
	}

	event := Event{Offset: time.Duration(offset) * time.Millisecond, Kind: Kind(strings.TrimSpace(fields[1]))}
	switch event.Kind {
	case KindPosition:
		acc := float64(Accuracy)
		if len(values) == 3 {
			acc = values[2]
		}
		event.Position = sensor.PositionSample{Lat: values[0], Lon: values[1], Accuracy: acc, Source: name}
		if !event.Position.Point().Valid() {
			return Event{}, fmt.Errorf("invalid position %s", event.Position.Point())
		}
	case KindHeading:
		event.Heading = sensor.HeadingSample{TrueHeading: values[0], MagHeading: values[1]}
	case KindOrientation:
		event.Orientation = sensor.OrientationSample{Beta: values[0], Gamma: values[1]}
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", event.Kind)
	}
	return event, nil
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return p.name
}

// CurrentPosition returns the first position of the trace.
func (p *Provider) CurrentPosition(context.Context) (sensor.PositionSample, error) {
	for _, event := range p.events {
		if event.Kind == KindPosition {
			sample := event.Position
			sample.Timestamp = time.Now()
			return sample, nil
		}
	}
	return sensor.PositionSample{}, sensor.ErrSensorUnavailable
}

// WatchPosition plays the position events of the trace.
func (p *Provider) WatchPosition(ctx context.Context, _ sensor.WatchOptions) (<-chan sensor.PositionSample, error) {
	return play(ctx, p, KindPosition, func(e Event) sensor.PositionSample {
		sample := e.Position
		sample.Timestamp = time.Now()
		return sample
	})
}

// WatchHeading plays the heading events of the trace.
func (p *Provider) WatchHeading(ctx context.Context) (<-chan sensor.HeadingSample, error) {
	return play(ctx, p, KindHeading, func(e Event) sensor.HeadingSample { return e.Heading })
}

// WatchOrientation plays the orientation events of the trace. The recorded rate is kept.
func (p *Provider) WatchOrientation(ctx context.Context, _ time.Duration) (<-chan sensor.OrientationSample, error) {
	return play(ctx, p, KindOrientation, func(e Event) sensor.OrientationSample { return e.Orientation })
}

// play emits the events of one kind at their offsets until ctx is done.
func play[T any](ctx context.Context, p *Provider, kind Kind, sample func(Event) T) (<-chan T, error) {
	var events []Event
	for _, event := range p.events {
		if event.Kind == kind {
			events = append(events, event)
		}
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: trace has no %s events", sensor.ErrSensorUnavailable, kind)
	}
	length := p.events[len(p.events)-1].Offset

	out := make(chan T)
	go func() {
		defer close(out)
		for {
			start := time.Now()
			for _, event := range events {
				if !sleepUntil(ctx, start.Add(event.Offset)) {
					return
				}
				select {
				case out <- sample(event):
				case <-ctx.Done():
					return
				}
			}
			if !p.loop {
				<-ctx.Done()
				return
			}
			// Restart one tick after the end so looping traces keep their rhythm.
			if !sleepUntil(ctx, start.Add(length+time.Millisecond)) {
				return
			}
		}
	}()
	return out, nil
}

func sleepUntil(ctx context.Context, at time.Time) bool {
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
