// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// signalSource delivers process signals. Tests replace it to keep signals out of the
// test binary.
type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osSignalSource struct{}

func (osSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osSignalSource) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

// watchSignals subscribes to the control signals of the local mode and handles them until
// ctx is done.
func (s *Service) watchSignals(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer s.SignalSrc.Stop(sigChan)
	s.handleSignals(ctx, sigChan)
}

// handleSignals dispatches control signals:
//
//	SIGUSR1  focus the next point of interest and print the overlay
//	SIGUSR2  log the session status
//	SIGHUP   restart the AR session with a fresh permission request
func (s *Service) handleSignals(ctx context.Context, sigChan <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				s.logger.Debug("focus changed", slog.String("focus", s.cycleFocus()))
				s.printFrame(ctx)
			case syscall.SIGUSR2:
				s.logStatus(ctx)
			case syscall.SIGHUP:
				s.logger.Info("restarting AR session on request")
				s.restartSession(ctx)
			}
		}
	}
}
