// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/wneessen/oncf-ar/internal/sensor"
)

const (
	deviceName = "bridge"
	feedBuffer = 8
)

var (
	_ sensor.PermissionRequester = (*device)(nil)
	_ sensor.PositionSource      = (*device)(nil)
	_ sensor.HeadingSource       = (*device)(nil)
	_ sensor.OrientationSource   = (*device)(nil)
)

// feed fans samples pushed by the connection out to the subscriptions of a session.
// Subscribers that fall behind lose their oldest samples.
type feed[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]chan T
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{subs: make(map[int]chan T)}
}

// subscribe returns a channel receiving every published sample until ctx is done.
func (f *feed[T]) subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, feedBuffer)
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()
	return ch
}

func (f *feed[T]) publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// device is the sensor side of a bridge connection. The remote client answers permission
// requests and pushes its position, compass and orientation readings, which the device
// hands to the session through the sensor interfaces.
type device struct {
	request func()

	// pending receives the client's answer while a permission request is waiting.
	permLock sync.Mutex
	pending  chan bool

	positions    *feed[sensor.PositionSample]
	headings     *feed[sensor.HeadingSample]
	orientations *feed[sensor.OrientationSample]

	mu      sync.RWMutex
	last    sensor.PositionSample
	hasLast bool
}

// newDevice returns a device that calls request whenever the session asks for permission.
func newDevice(request func()) *device {
	if request == nil {
		request = func() {}
	}
	return &device{
		request:      request,
		positions:    newFeed[sensor.PositionSample](),
		headings:     newFeed[sensor.HeadingSample](),
		orientations: newFeed[sensor.OrientationSample](),
	}
}

func (d *device) Name() string {
	return deviceName
}

// RequestPermission asks the client for camera and location access and waits for its
// answer. Only an answer to this request counts.
func (d *device) RequestPermission(ctx context.Context) error {
	answer := make(chan bool, 1)
	d.permLock.Lock()
	d.pending = answer
	d.permLock.Unlock()
	defer func() {
		d.permLock.Lock()
		if d.pending == answer {
			d.pending = nil
		}
		d.permLock.Unlock()
	}()

	d.request()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case granted := <-answer:
		if !granted {
			return sensor.ErrPermissionDenied
		}
		return nil
	}
}

// answer hands the client's permission decision to the waiting request. Answers without
// a pending request are dropped, so a late answer never decides a later session.
func (d *device) answer(granted bool) bool {
	d.permLock.Lock()
	defer d.permLock.Unlock()
	if d.pending == nil {
		return false
	}
	d.pending <- granted
	d.pending = nil
	return true
}

// CurrentPosition returns the last fix the client reported, or waits for the next one.
func (d *device) CurrentPosition(ctx context.Context) (sensor.PositionSample, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates := d.positions.subscribe(ctx)

	d.mu.RLock()
	last, ok := d.last, d.hasLast
	d.mu.RUnlock()
	if ok {
		return last, nil
	}

	select {
	case <-ctx.Done():
		return sensor.PositionSample{}, ctx.Err()
	case sample, ok := <-updates:
		if !ok {
			return sensor.PositionSample{}, ctx.Err()
		}
		return sample, nil
	}
}

// WatchPosition streams the client's fixes that pass the watch thresholds.
func (d *device) WatchPosition(ctx context.Context, opts sensor.WatchOptions) (<-chan sensor.PositionSample, error) {
	updates := d.positions.subscribe(ctx)
	out := make(chan sensor.PositionSample, feedBuffer)
	go func() {
		defer close(out)
		var last sensor.PositionSample
		have := false
		for sample := range updates {
			if have && !opts.Significant(last, sample) {
				continue
			}
			last, have = sample, true
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (d *device) WatchHeading(ctx context.Context) (<-chan sensor.HeadingSample, error) {
	return d.headings.subscribe(ctx), nil
}

// WatchOrientation streams the client's orientation readings, at most one per interval.
func (d *device) WatchOrientation(ctx context.Context, interval time.Duration) (<-chan sensor.OrientationSample, error) {
	return sensor.Throttle(ctx, d.orientations.subscribe(ctx), interval), nil
}

func (d *device) pushPosition(sample sensor.PositionSample) {
	d.mu.Lock()
	d.last, d.hasLast = sample, true
	d.mu.Unlock()
	d.positions.publish(sample)
}

func (d *device) pushHeading(sample sensor.HeadingSample) {
	d.headings.publish(sample)
}

func (d *device) pushOrientation(sample sensor.OrientationSample) {
	d.orientations.publish(sample)
}

// reset forgets the last fix and any pending permission request, so a new session does
// not start from stale state.
func (d *device) reset() {
	d.mu.Lock()
	d.last, d.hasLast = sensor.PositionSample{}, false
	d.mu.Unlock()
	d.permLock.Lock()
	d.pending = nil
	d.permLock.Unlock()
}
