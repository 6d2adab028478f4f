// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/oncf-ar/internal/gpspoll"
	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/sensor"
)

const (
	testLat = 34.0470
	testLon = -5.0052
)

func testProvider() *Provider {
	return New(logger.NewLogger(slog.LevelDebug, io.Discard), "", "")
}

func TestNew(t *testing.T) {
	t.Run("new GPSd provider uses default address", func(t *testing.T) {
		provider := testProvider()
		if provider == nil {
			t.Fatal("expected provider to be non-nil")
		}
		if provider.addr != "localhost:2947" {
			t.Errorf("expected default address localhost:2947, got %s", provider.addr)
		}
	})
	t.Run("custom address", func(t *testing.T) {
		provider := New(logger.NewLogger(slog.LevelDebug, io.Discard), "gps.local", "3000")
		if provider.addr != "gps.local:3000" {
			t.Errorf("expected address gps.local:3000, got %s", provider.addr)
		}
	})
}

func TestProvider_Name(t *testing.T) {
	provider := testProvider()
	if !strings.EqualFold(provider.Name(), name) {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
}

func TestProvider_CurrentPosition(t *testing.T) {
	t.Run("2D fix is returned", func(t *testing.T) {
		provider := testProvider()
		at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		provider.locateFn = func(context.Context) (gpspoll.Fix, error) {
			return gpspoll.Fix{Lat: testLat, Lon: testLon, Acc: 8, Mode: 2, Time: at}, nil
		}
		sample, err := provider.CurrentPosition(t.Context())
		if err != nil {
			t.Fatalf("failed to get current position: %s", err)
		}
		if sample.Lat != testLat || sample.Lon != testLon {
			t.Errorf("expected position %f,%f, got %f,%f", testLat, testLon, sample.Lat, sample.Lon)
		}
		if sample.Accuracy != 8 {
			t.Errorf("expected accuracy to be 8, got %f", sample.Accuracy)
		}
		if !sample.Timestamp.Equal(at) {
			t.Errorf("expected timestamp %s, got %s", at, sample.Timestamp)
		}
		if sample.Source != name {
			t.Errorf("expected source %s, got %s", name, sample.Source)
		}
	})
	t.Run("no fix fails", func(t *testing.T) {
		provider := testProvider()
		provider.locateFn = func(context.Context) (gpspoll.Fix, error) {
			return gpspoll.Fix{Lat: testLat, Lon: testLon, Mode: 1}, nil
		}
		if _, err := provider.CurrentPosition(t.Context()); err == nil {
			t.Error("expected current position to fail without a 2D fix")
		}
	})
	t.Run("poll error is returned", func(t *testing.T) {
		provider := testProvider()
		provider.locateFn = func(context.Context) (gpspoll.Fix, error) {
			return gpspoll.Fix{}, errors.New("intentionally failing")
		}
		if _, err := provider.CurrentPosition(t.Context()); err == nil {
			t.Error("expected current position to fail")
		}
	})
}

func TestProvider_watch(t *testing.T) {
	t.Run("unreachable gpsd is retried until the context ends", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			provider := testProvider()
			provider.period = time.Second
			dials := 0
			provider.dialFn = func(string) (*gpsd.Session, error) {
				dials++
				return nil, errors.New("connection refused")
			}

			stream, err := provider.WatchHeading(ctx)
			if err != nil {
				t.Fatalf("failed to watch heading: %s", err)
			}
			time.Sleep(time.Second*2 + time.Millisecond)
			synctest.Wait()
			if dials != 3 {
				t.Errorf("expected 3 dial attempts, got %d", dials)
			}
			cancel()
			synctest.Wait()
			if _, ok := <-stream; ok {
				t.Error("expected stream to be closed after cancel")
			}
		})
	})
}

func TestEmitter(t *testing.T) {
	t.Run("emit after close is dropped", func(t *testing.T) {
		em := newEmitter[sensor.HeadingSample](t.Context())
		em.emit(sensor.HeadingSample{TrueHeading: 10})
		em.close()
		em.close()
		em.emit(sensor.HeadingSample{TrueHeading: 20})

		got := <-em.ch
		if math.Abs(got.TrueHeading-10) > 1e-9 {
			t.Errorf("expected first heading to be 10, got %f", got.TrueHeading)
		}
		if _, ok := <-em.ch; ok {
			t.Error("expected channel to be closed")
		}
	})
	t.Run("emit does not block after context end", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		em := newEmitter[int](ctx)
		for i := 0; i < reportBuffer; i++ {
			em.emit(i)
		}
		cancel()
		em.emit(99)
	})
}
