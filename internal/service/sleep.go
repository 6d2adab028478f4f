// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/oncf-ar/internal/logger"
)

const (
	login1Interface = "org.freedesktop.login1.Manager"
	login1Member    = "PrepareForSleep"

	resumeDebounce  = 2 * time.Second
	sensorWakeDelay = 5 * time.Second
	busRetryDelay   = 5 * time.Second
	sleepSignalBuf  = 8
)

// sleepState tracks the suspend cycle of the session between PrepareForSleep signals.
type sleepState struct {
	suspended  bool
	lastResume time.Time
}

// monitorSleepResume releases the sensors when the system suspends and restarts the AR
// session once it resumed. Lost bus connections are re-established until ctx is done.
func (s *Service) monitorSleepResume(ctx context.Context) {
	state := &sleepState{}
	for {
		if err := s.watchSleepSignals(ctx, state); err != nil {
			s.logger.Warn("sleep monitor interrupted", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(busRetryDelay):
		}
	}
}

// watchSleepSignals subscribes to logind's PrepareForSleep signal on the system bus and
// handles it until the connection drops or ctx is done.
func (s *Service) watchSleepSignals(ctx context.Context, state *sleepState) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("failed to close system bus connection", logger.Err(err))
		}
	}()

	if err = conn.AddMatchSignal(dbus.WithMatchInterface(login1Interface),
		dbus.WithMatchMember(login1Member)); err != nil {
		return err
	}
	signals := make(chan *dbus.Signal, sleepSignalBuf)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)
	s.logger.Debug("watching for system sleep", slog.String("interface", login1Interface))

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if len(sig.Body) != 1 {
				continue
			}
			if sleeping, ok := sig.Body[0].(bool); ok {
				s.handleSleepSignal(ctx, state, sleeping)
			}
		}
	}
}

// handleSleepSignal stops the session before the system sleeps and restarts it after
// resume. Repeated resume signals within resumeDebounce are ignored.
func (s *Service) handleSleepSignal(ctx context.Context, state *sleepState, sleeping bool) {
	if s.session == nil {
		return
	}
	if sleeping {
		if !state.suspended {
			s.logger.Debug("system going to sleep, suspending AR session")
			s.session.Stop()
			state.suspended = true
		}
		return
	}

	now := time.Now()
	if !state.lastResume.IsZero() && now.Sub(state.lastResume) < resumeDebounce {
		return
	}
	state.lastResume = now
	state.suspended = false

	// gpsd and GeoClue need a moment to reattach to their devices
	select {
	case <-ctx.Done():
		return
	case <-time.After(sensorWakeDelay):
	}

	s.logger.Debug("system resumed, restarting AR session")
	s.restartSession(ctx)
}

func (s *Service) restartSession(ctx context.Context) {
	if s.session == nil {
		return
	}
	s.session.Stop()
	if err := s.session.Start(ctx); err != nil {
		s.logger.Error("failed to restart AR session", logger.Err(err))
	}
}
