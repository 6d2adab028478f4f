// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd provides position, heading and orientation streams from a local gpsd.
// Positions are read from TPV reports, heading, pitch and roll from ATT reports of
// devices with a compass or IMU.
package gpsd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/oncf-ar/internal/geodesy"
	"github.com/wneessen/oncf-ar/internal/gpspoll"
	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/sensor"
)

const (
	name         = "gpsd"
	DefaultHost  = "localhost"
	DefaultPort  = "2947"
	pollTimeout  = time.Second * 5
	reportBuffer = 4
)

// Provider implements sensor.PositionSource, sensor.HeadingSource and
// sensor.OrientationSource on top of gpsd.
type Provider struct {
	name     string
	addr     string
	period   time.Duration
	logger   *logger.Logger
	locateFn func(ctx context.Context) (gpspoll.Fix, error)
	dialFn   func(addr string) (*gpsd.Session, error)
}

// New returns a gpsd provider for the given host and port.
func New(log *logger.Logger, host, port string) *Provider {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	client := gpspoll.New(host, port)
	return &Provider{
		name:     name,
		addr:     client.Addr,
		period:   time.Second * 5,
		logger:   log.With(slog.String("provider", name)),
		locateFn: client.Poll,
		dialFn:   gpsd.Dial,
	}
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return p.name
}

// CurrentPosition polls gpsd once for the next TPV report with at least a 2D fix.
func (p *Provider) CurrentPosition(ctx context.Context) (sensor.PositionSample, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	fix, err := p.locateFn(ctx)
	if err != nil {
		return sensor.PositionSample{}, fmt.Errorf("failed to poll gpsd: %w", err)
	}
	if !fix.Has2DFix() {
		return sensor.PositionSample{}, fmt.Errorf("gpsd reported no 2D fix (mode %d)", fix.Mode)
	}
	return p.positionSample(fix.Lat, fix.Lon, fix.Acc, fix.Time), nil
}

// WatchPosition streams TPV fixes that moved at least opts.MinDistance meters or are at
// least opts.MinInterval apart.
func (p *Provider) WatchPosition(ctx context.Context, opts sensor.WatchOptions) (<-chan sensor.PositionSample, error) {
	em := newEmitter[sensor.PositionSample](ctx)
	var last sensor.PositionSample
	var have bool
	var mu sync.Mutex

	go p.watch(ctx, "TPV", em.close, func(report any) {
		tpv, ok := report.(*gpsd.TPVReport)
		if !ok || int(tpv.Mode) < int(gpsd.Mode2D) {
			return
		}
		sample := p.positionSample(tpv.Lat, tpv.Lon, gpspoll.Accuracy(int(tpv.Mode), 0, tpv.Epx, tpv.Epy),
			time.Now())

		mu.Lock()
		if have && !opts.Significant(last, sample) {
			mu.Unlock()
			return
		}
		last, have = sample, true
		mu.Unlock()
		em.emit(sample)
	})
	return em.ch, nil
}

// WatchHeading streams the true heading of ATT reports.
func (p *Provider) WatchHeading(ctx context.Context) (<-chan sensor.HeadingSample, error) {
	em := newEmitter[sensor.HeadingSample](ctx)
	go p.watch(ctx, "ATT", em.close, func(report any) {
		att, ok := report.(*gpsd.ATTReport)
		if !ok {
			return
		}
		em.emit(sensor.HeadingSample{TrueHeading: att.Heading, MagHeading: att.Heading})
	})
	return em.ch, nil
}

// WatchOrientation streams pitch and roll of ATT reports, at most once per interval with
// the latest report winning. gpsd reports degrees; the samples carry radians like any
// other orientation source.
func (p *Provider) WatchOrientation(ctx context.Context, interval time.Duration) (<-chan sensor.OrientationSample, error) {
	em := newEmitter[sensor.OrientationSample](ctx)
	go p.watch(ctx, "ATT", em.close, func(report any) {
		att, ok := report.(*gpsd.ATTReport)
		if !ok {
			return
		}
		em.emit(sensor.OrientationSample{Beta: geodesy.Radians(att.Pitch), Gamma: geodesy.Radians(att.Roll)})
	})
	return sensor.Throttle(ctx, em.ch, interval), nil
}

// watch keeps a gpsd session with a filter for the given report class open until ctx is
// done, reconnecting after p.period whenever the connection is lost.
func (p *Provider) watch(ctx context.Context, class string, done func(), filter func(any)) {
	defer done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		session, err := p.dialFn(p.addr)
		if err != nil {
			p.logger.Debug("failed to connect to gpsd", slog.String("addr", p.addr), logger.Err(err))
			if !sleepOrDone(ctx, p.period) {
				return
			}
			continue
		}

		session.AddFilter(class, filter)

		// go-gpsd has no way to stop a watch; the connection is dropped once the filter
		// stops consuming after ctx is done.
		ended := session.Watch()
		select {
		case <-ctx.Done():
			return
		case <-ended:
			p.logger.Debug("gpsd connection ended, reconnecting", slog.String("class", class))
		}
		if !sleepOrDone(ctx, p.period) {
			return
		}
	}
}

func (p *Provider) positionSample(lat, lon, acc float64, at time.Time) sensor.PositionSample {
	return sensor.PositionSample{
		Lat:       lat,
		Lon:       lon,
		Accuracy:  acc,
		Timestamp: at,
		Source:    p.name,
	}
}

// emitter is a channel that can be written from gpsd's filter goroutine after the
// watch ended without sending on a closed channel.
type emitter[T any] struct {
	ctx    context.Context
	ch     chan T
	mu     sync.Mutex
	closed bool
}

func newEmitter[T any](ctx context.Context) *emitter[T] {
	return &emitter[T]{ctx: ctx, ch: make(chan T, reportBuffer)}
}

func (e *emitter[T]) emit(v T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- v:
	case <-e.ctx.Done():
	}
}

func (e *emitter[T]) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
