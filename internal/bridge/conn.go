// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/presenter"
	"github.com/wneessen/oncf-ar/internal/sensor"
	"github.com/wneessen/oncf-ar/internal/session"
)

// Client message types.
const (
	MsgPermission  = "permission"
	MsgPosition    = "position"
	MsgHeading     = "heading"
	MsgOrientation = "orientation"
	MsgFocus       = "focus"
	MsgBlur        = "blur"
	MsgSelect      = "select"
)

// Server message types. The server reuses MsgPermission to ask the client for access.
const (
	MsgFrame = "frame"
	MsgState = "state"
	MsgError = "error"
)

// ClientMessage is sent by the device. Which fields are used depends on Type.
type ClientMessage struct {
	Type string `json:"type"`

	// permission
	Granted bool `json:"granted,omitempty"`

	// position, timestamp in milliseconds since the epoch
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`

	// heading in degrees, a missing true heading falls back to the magnetic one
	TrueHeading *float64 `json:"trueHeading,omitempty"`
	MagHeading  float64  `json:"magHeading,omitempty"`

	// orientation in radians
	Beta  float64 `json:"beta,omitempty"`
	Gamma float64 `json:"gamma,omitempty"`

	// focus
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// select
	ID string `json:"id,omitempty"`
}

// ServerMessage is sent to the device.
type ServerMessage struct {
	Type    string                     `json:"type"`
	State   string                     `json:"state,omitempty"`
	Frame   *presenter.TemplateContext `json:"frame,omitempty"`
	Text    string                     `json:"text,omitempty"`
	Tooltip string                     `json:"tooltip,omitempty"`
	Error   string                     `json:"error,omitempty"`
}

// conn is a single device connection. Client messages are handled on the read loop,
// which is the only goroutine touching the session. Frames are queued by the session's
// event loop and written by the write loop.
type conn struct {
	server *Server
	ws     *websocket.Conn
	logger *logger.Logger
	device *device
	send   chan []byte

	ctx     context.Context
	session *session.Session

	frameLock sync.Mutex
	frame     session.Frame
	frameSet  bool
	focusID   string
}

func newConn(server *Server, ws *websocket.Conn, log *logger.Logger) *conn {
	c := &conn{
		server: server,
		ws:     ws,
		logger: log,
		send:   make(chan []byte, sendBuffer),
	}
	c.device = newDevice(func() {
		c.enqueue(ServerMessage{Type: MsgPermission})
	})
	return c
}

// run serves the connection until the client disconnects or ctx is done.
func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.ctx = ctx

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.readLoop()
	}()

	<-ctx.Done()
	if err := c.ws.Close(); err != nil {
		c.logger.Debug("failed to close bridge connection", logger.Err(err))
	}
	wg.Wait()
	c.stopSession()
}

func (c *conn) readLoop() {
	pongWait := c.server.config.Bridge.PingInterval * 2
	c.ws.SetReadLimit(c.server.config.Bridge.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				c.logger.Debug("bridge connection closed unexpectedly", logger.Err(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err = json.Unmarshal(data, &msg); err != nil {
			c.fail(fmt.Errorf("failed to decode client message: %w", err))
			continue
		}
		if err = c.handle(msg); err != nil {
			c.fail(err)
		}
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.server.config.Bridge.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("failed to write bridge message", logger.Err(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle applies a single client message.
func (c *conn) handle(msg ClientMessage) error {
	switch msg.Type {
	case MsgPermission:
		if !c.device.answer(msg.Granted) {
			c.logger.Debug("dropped permission answer without pending request")
		}
	case MsgPosition:
		sample := sensor.PositionSample{
			Lat:       msg.Lat,
			Lon:       msg.Lon,
			Accuracy:  msg.Accuracy,
			Timestamp: time.Now(),
			Source:    deviceName,
		}
		if !sample.Point().Valid() {
			return fmt.Errorf("invalid position: %s", sample.Point())
		}
		if msg.Timestamp > 0 {
			sample.Timestamp = time.UnixMilli(msg.Timestamp)
		}
		c.device.pushPosition(sample)
	case MsgHeading:
		sample := sensor.HeadingSample{TrueHeading: sensor.HeadingUnavailable, MagHeading: msg.MagHeading}
		if msg.TrueHeading != nil {
			sample.TrueHeading = *msg.TrueHeading
		}
		c.device.pushHeading(sample)
	case MsgOrientation:
		c.device.pushOrientation(sensor.OrientationSample{Beta: msg.Beta, Gamma: msg.Gamma})
	case MsgFocus:
		return c.focus(msg.Width, msg.Height)
	case MsgBlur:
		c.stopSession()
		c.enqueue(ServerMessage{Type: MsgState, State: session.StateInactive.String()})
	case MsgSelect:
		c.selectFocus(msg.ID)
	default:
		return fmt.Errorf("unknown message type: %q", msg.Type)
	}
	return nil
}

// focus starts a session for the client's viewport. A running session with the same
// viewport is kept.
func (c *conn) focus(width, height float64) error {
	cam := c.server.camera
	if width > 0 && height > 0 {
		cam.ViewportWidth, cam.ViewportHeight = width, height
	}
	if err := cam.Validate(); err != nil {
		return fmt.Errorf("invalid viewport: %w", err)
	}

	if c.session != nil && c.session.Camera() != cam {
		c.stopSession()
		c.session = nil
	}
	if c.session != nil && c.denied() {
		// wait for the denied cycle to wind down before restarting it
		c.session.Stop()
	}
	if c.session == nil {
		c.session = session.New(c.server.catalogue, cam, c.sensors(), session.PresenterFunc(c.present),
			c.logger)
	}
	if err := c.session.Start(c.ctx); err != nil && !errors.Is(err, session.ErrAlreadyStarted) {
		return fmt.Errorf("failed to start AR session: %w", err)
	}
	return nil
}

// denied reports whether the current session cycle ended with a permission denial.
func (c *conn) denied() bool {
	c.frameLock.Lock()
	defer c.frameLock.Unlock()
	return c.frameSet && c.frame.PermissionRequired && c.frame.SessionID == c.session.ID()
}

func (c *conn) sensors() session.Sensors {
	conf := c.server.config.Sensors
	return session.Sensors{
		Permissions: c.device,
		Position:    c.device,
		Heading:     c.device,
		Orientation: c.device,
		WatchOptions: sensor.WatchOptions{
			MinDistance: conf.PositionDistance,
			MinInterval: conf.PositionInterval,
		},
		OrientationInterval: conf.OrientationInterval,
	}
}

func (c *conn) stopSession() {
	if c.session == nil {
		return
	}
	c.session.Stop()
	c.device.reset()
}

// selectFocus sets the point of interest to guide towards and resends the last frame.
func (c *conn) selectFocus(id string) {
	c.frameLock.Lock()
	c.focusID = id
	frame, ok := c.frame, c.frameSet
	c.frameLock.Unlock()
	if ok {
		c.sendFrame(frame, id)
	}
}

// present is the session presenter of a bridge connection.
func (c *conn) present(frame session.Frame) {
	c.frameLock.Lock()
	c.frame, c.frameSet = frame, true
	focusID := c.focusID
	c.frameLock.Unlock()
	c.sendFrame(frame, focusID)
}

func (c *conn) sendFrame(frame session.Frame, focusID string) {
	tplCtx := c.server.presenter.BuildContext(frame, focusID)
	outputs, err := c.server.presenter.Render(tplCtx)
	if err != nil {
		c.logger.Error("failed to render overlay template", logger.Err(err))
		return
	}
	c.enqueue(ServerMessage{
		Type:    MsgFrame,
		State:   tplCtx.State,
		Frame:   &tplCtx,
		Text:    outputs["text"],
		Tooltip: outputs["tooltip"],
	})
}

func (c *conn) fail(err error) {
	c.logger.Warn("rejected client message", logger.Err(err))
	c.enqueue(ServerMessage{Type: MsgError, Error: err.Error()})
}

// enqueue queues msg for the write loop. If the client falls behind, the oldest pending
// message is dropped.
func (c *conn) enqueue(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode bridge message", logger.Err(err), slog.String("type", msg.Type))
		return
	}
	select {
	case c.send <- data:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("dropped bridge message", slog.String("type", msg.Type))
	}
}
