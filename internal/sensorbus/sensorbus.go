// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package sensorbus merges the position fixes of several providers into a single
// position stream, preferring the most accurate provider that is currently reporting.
package sensorbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/wneessen/oncf-ar/internal/geodesy"
	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/sensor"
)

const (
	accuracyEpsilon  = 1e-6
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	DefaultFreshness = 10 * time.Second
	busBuffer        = 8
)

// ErrNoProviders is returned if the bus has no position providers configured.
var ErrNoProviders = errors.New("no position providers configured")

// Bus fans in the position streams of multiple providers. It implements
// sensor.PositionSource.
type Bus struct {
	logger    *logger.Logger
	providers []sensor.PositionSource
	freshness time.Duration
}

// New returns a Bus over the given providers. A fix from a less accurate provider is
// dropped while a more accurate provider reported within the freshness window.
func New(log *logger.Logger, freshness time.Duration, providers ...sensor.PositionSource) *Bus {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Bus{
		logger:    log,
		providers: providers,
		freshness: freshness,
	}
}

// Name implements sensor.PositionSource.
func (b *Bus) Name() string {
	return "sensorbus"
}

// Providers returns the names of the providers of the bus.
func (b *Bus) Providers() []string {
	names := make([]string, 0, len(b.providers))
	for _, p := range b.providers {
		names = append(names, p.Name())
	}
	return names
}

// CurrentPosition asks all providers concurrently and returns the most accurate fix.
func (b *Bus) CurrentPosition(ctx context.Context) (sensor.PositionSample, error) {
	if len(b.providers) == 0 {
		return sensor.PositionSample{}, ErrNoProviders
	}

	type result struct {
		sample sensor.PositionSample
		err    error
	}
	results := make(chan result, len(b.providers))
	for _, p := range b.providers {
		go func(p sensor.PositionSource) {
			var res result
			res.err = safeCall(func() (err error) {
				res.sample, err = p.CurrentPosition(ctx)
				return err
			})
			if res.err != nil {
				res.err = fmt.Errorf("%s: %w", p.Name(), res.err)
			}
			if res.err == nil && res.sample.Source == "" {
				res.sample.Source = p.Name()
			}
			results <- res
		}(p)
	}

	var best sensor.PositionSample
	var found bool
	var errs []error
	for range b.providers {
		res := <-results
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		if !res.sample.Point().Valid() {
			errs = append(errs, fmt.Errorf("%s: invalid position %s", res.sample.Source, res.sample.Point()))
			continue
		}
		if !found || moreAccurate(res.sample.Accuracy, best.Accuracy) {
			best, found = res.sample, true
		}
	}
	if !found {
		return sensor.PositionSample{}, fmt.Errorf("no provider returned a position: %w", errors.Join(errs...))
	}
	return best, nil
}

// WatchPosition subscribes to all providers and returns the merged stream. Providers
// whose subscription fails or ends are resubscribed with exponential backoff. The
// stream is closed once ctx is done.
func (b *Bus) WatchPosition(ctx context.Context, opts sensor.WatchOptions) (<-chan sensor.PositionSample, error) {
	if len(b.providers) == 0 {
		return nil, ErrNoProviders
	}

	in := make(chan sensor.PositionSample, busBuffer)
	out := make(chan sensor.PositionSample, busBuffer)
	var wg sync.WaitGroup
	for _, p := range b.providers {
		wg.Add(1)
		go func(p sensor.PositionSource) {
			defer wg.Done()
			b.trackProvider(ctx, p, opts, in)
		}(p)
	}
	go func() {
		wg.Wait()
		close(in)
	}()
	go b.merge(ctx, opts, in, out)
	return out, nil
}

// merge forwards the samples that win the accuracy preference.
func (b *Bus) merge(ctx context.Context, opts sensor.WatchOptions, in <-chan sensor.PositionSample,
	out chan<- sensor.PositionSample,
) {
	defer close(out)
	sel := newSelector(b.freshness, opts.MinDistance)
	for sample := range in {
		if !sel.accept(sample, time.Now()) {
			continue
		}
		select {
		case out <- sample:
		case <-ctx.Done():
			// Drain so the trackers never block on a full buffer.
			for range in {
			}
			return
		}
	}
}

// trackProvider keeps a subscription to a provider open until ctx is done.
func (b *Bus) trackProvider(ctx context.Context, p sensor.PositionSource, opts sensor.WatchOptions,
	in chan<- sensor.PositionSample,
) {
	log := b.logger.With(slog.String("provider", p.Name()))
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stream, err := b.safeWatch(ctx, p, opts)
		if err != nil {
			log.Debug("position provider unavailable, retrying", logger.Err(err),
				slog.Duration("backoff", backoff))
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		for open := true; open; {
			select {
			case <-ctx.Done():
				return
			case sample, ok := <-stream:
				if !ok {
					open = false
					log.Debug("position provider stream ended, resubscribing", slog.Duration("backoff", backoff))
					if !sleepOrDone(ctx, backoff) {
						return
					}
					backoff = nextBackoff(backoff)
					break
				}
				if sample.Source == "" {
					sample.Source = p.Name()
				}
				select {
				case in <- sample:
				case <-ctx.Done():
					return
				}
				backoff = initialBackoff
			}
		}
	}
}

// safeWatch invokes WatchPosition on a provider and recovers from potential panics.
func (b *Bus) safeWatch(ctx context.Context, p sensor.PositionSource, opts sensor.WatchOptions) (
	ch <-chan sensor.PositionSample, err error,
) {
	err = safeCall(func() (err error) {
		ch, err = p.WatchPosition(ctx, opts)
		return err
	})
	if err == nil && ch == nil {
		err = sensor.ErrSensorUnavailable
	}
	return ch, err
}

// selector decides which samples of the merged stream are forwarded.
type selector struct {
	freshness   time.Duration
	minDistance float64
	last        map[string]seen
	forwarded   sensor.PositionSample
	haveFwd     bool
}

type seen struct {
	accuracy float64
	at       time.Time
}

func newSelector(freshness time.Duration, minDistance float64) *selector {
	return &selector{
		freshness:   freshness,
		minDistance: minDistance,
		last:        make(map[string]seen),
	}
}

// accept records the sample and reports whether it should be forwarded. Samples with
// invalid coordinates are never forwarded.
func (s *selector) accept(sample sensor.PositionSample, now time.Time) bool {
	if !sample.Point().Valid() {
		return false
	}
	s.last[sample.Source] = seen{accuracy: sample.Accuracy, at: now}

	for source, other := range s.last {
		if source == sample.Source || now.Sub(other.at) > s.freshness {
			continue
		}
		if moreAccurate(other.accuracy, sample.Accuracy) {
			return false
		}
	}

	if s.haveFwd && s.forwarded.Source == sample.Source && s.minDistance > 0 {
		moved := geodesy.Distance(s.forwarded.Point(), sample.Point())
		improved := moreAccurate(sample.Accuracy, s.forwarded.Accuracy)
		if moved < s.minDistance && !improved {
			return false
		}
	}
	s.forwarded, s.haveFwd = sample, true
	return true
}

// moreAccurate reports whether accuracy a is meaningfully better than b. Accuracies of
// zero or below mean the source did not report one and rank last.
func moreAccurate(a, b float64) bool {
	return rankAccuracy(a) < rankAccuracy(b)-accuracyEpsilon
}

func rankAccuracy(acc float64) float64 {
	if acc <= 0 || math.IsNaN(acc) {
		return math.Inf(1)
	}
	return acc
}

// safeCall invokes fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic in provider: %v", r)
		}
	}()
	return fn()
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

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
