// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package bridge serves AR sessions to remote devices over WebSocket. A connected client
// streams its permission decision and sensor readings, the server runs the session and
// sends the rendered overlay frames back.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wneessen/oncf-ar/internal/config"
	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/metrics"
	"github.com/wneessen/oncf-ar/internal/poi"
	"github.com/wneessen/oncf-ar/internal/presenter"
	"github.com/wneessen/oncf-ar/internal/projection"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second

	// Number of pending server messages per connection.
	sendBuffer = 16

	PathSocket  = "/ws"
	PathMetrics = "/metrics"
	PathHealth  = "/healthz"
)

// Server accepts device connections and runs one AR session per connection.
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	catalogue *poi.Catalogue
	camera    projection.Camera
	presenter *presenter.Presenter
	upgrader  websocket.Upgrader

	connections atomic.Int64
}

// New returns a Server projecting the given catalogue. cam is the default camera, which
// clients adjust to their viewport when they focus.
func New(conf *config.Config, log *logger.Logger, cat *poi.Catalogue, cam projection.Camera,
	pres *presenter.Presenter,
) (*Server, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cat == nil || pres == nil {
		return nil, errors.New("catalogue and presenter are required")
	}
	if err := cam.Validate(); err != nil {
		return nil, fmt.Errorf("invalid camera configuration: %w", err)
	}
	return &Server{
		config:    conf,
		logger:    log,
		catalogue: cat,
		camera:    cam,
		presenter: pres,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP handler serving the device socket, the metrics and the health
// endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathSocket, s.serveSocket)
	mux.Handle(PathMetrics, metrics.Handler())
	mux.HandleFunc(PathHealth, s.serveHealth)
	return mux
}

// ListenAndServe serves the bridge on the configured address until ctx is done. Open
// connections end with ctx.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Bridge.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve bridge: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down bridge: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve bridge: %w", err)
	}
	return nil
}

// Connections returns the number of connected devices.
func (s *Server) Connections() int64 {
	return s.connections.Load()
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("failed to upgrade bridge connection", logger.Err(err))
		return
	}

	s.connections.Add(1)
	metrics.BridgeConnections.Inc()
	defer func() {
		s.connections.Add(-1)
		metrics.BridgeConnections.Dec()
	}()

	c := newConn(s, ws, s.logger.With(slog.String("mode", config.ModeBridge),
		slog.String("remote", r.RemoteAddr)))
	c.logger.Debug("device connected")
	c.run(r.Context())
	c.logger.Debug("device disconnected")
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ok %d\n", s.Connections())
}
