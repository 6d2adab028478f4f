// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/vorlif/spreak"

	"github.com/wneessen/oncf-ar/internal/config"
	"github.com/wneessen/oncf-ar/internal/job"
	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/poi"
	"github.com/wneessen/oncf-ar/internal/presenter"
	"github.com/wneessen/oncf-ar/internal/projection"
	"github.com/wneessen/oncf-ar/internal/session"
)

const (
	OutputClass = "oncf-ar"
	DesktopID   = "oncf-ar"
)

type outputData struct {
	Text    string                 `json:"text"`
	Tooltip string                 `json:"tooltip"`
	Classes []string               `json:"class"`
	Markers []presenter.MarkerView `json:"markers,omitempty"`
}

type Service struct {
	config    *config.Config
	logger    *logger.Logger
	t         *spreak.Localizer
	catalogue *poi.Catalogue
	camera    projection.Camera
	presenter *presenter.Presenter
	scheduler gocron.Scheduler
	session   *session.Session
	jobs      []*job.Job
	closers   []io.Closer
	output    io.Writer
	SignalSrc signalSource

	// sleepMonitor restarts the session after system resume. Nil disables it.
	sleepMonitor func(context.Context)

	frameLock sync.RWMutex
	frameSet  bool
	frame     session.Frame

	focusLock sync.RWMutex
	focusID   string
}

func New(conf *config.Config, log *logger.Logger, t *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}

	camera := projection.Camera{
		HorizontalFOV:      conf.Camera.HorizontalFOV,
		VerticalFOV:        conf.Camera.VerticalFOV,
		MaxDisplayDistance: conf.Camera.MaxDistance,
		ViewportWidth:      conf.Camera.ViewportWidth,
		ViewportHeight:     conf.Camera.ViewportHeight,
	}
	if err := camera.Validate(); err != nil {
		return nil, fmt.Errorf("invalid camera configuration: %w", err)
	}

	catalogue := poi.Default()
	if conf.Catalogue.File != "" {
		cat, err := poi.Load(filepath.Dir(conf.Catalogue.File), filepath.Base(conf.Catalogue.File))
		if err != nil {
			return nil, fmt.Errorf("failed to load point of interest catalogue: %w", err)
		}
		catalogue = cat
	}

	pres, err := presenter.New(conf, t)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	service := &Service{
		config:    conf,
		logger:    log,
		t:         t,
		catalogue: catalogue,
		camera:    camera,
		presenter: pres,
		scheduler: scheduler,
		output:    os.Stdout,
		SignalSrc: osSignalSource{},
	}
	service.sleepMonitor = service.monitorSleepResume
	service.jobs = append(service.jobs, job.New("status", conf.Intervals.Status, service.logStatus))

	return service, nil
}

// Catalogue returns the points of interest the service annotates.
func (s *Service) Catalogue() *poi.Catalogue {
	return s.catalogue
}

// Camera returns the configured camera parameters.
func (s *Service) Camera() projection.Camera {
	return s.camera
}

// Presenter returns the overlay presenter of the service.
func (s *Service) Presenter() *presenter.Presenter {
	return s.presenter
}

// Run starts a local AR session on the configured sensors and prints the overlay to the
// output on the configured interval until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.config.Mode == config.ModeBridge {
		return s.runBridge(ctx)
	}

	sensors, err := s.selectSensors()
	if err != nil {
		return fmt.Errorf("failed to select sensors: %w", err)
	}
	defer s.closeSensors()

	if err = s.createScheduledJob(ctx, s.config.Intervals.Output, s.printFrame, "overlay_output_job"); err != nil {
		return err
	}
	s.scheduler.Start()

	for _, j := range s.jobs {
		if j == nil {
			continue
		}
		go j.Start(ctx)
	}

	s.session = session.New(s.catalogue, s.camera, sensors, session.PresenterFunc(s.receiveFrame),
		s.logger.With(slog.String("mode", config.ModeLocal)))
	if err = s.session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start AR session: %w", err)
	}

	if s.sleepMonitor != nil {
		go s.sleepMonitor(ctx)
	}

	go s.watchSignals(ctx)

	<-ctx.Done()
	s.session.Stop()
	return s.scheduler.Shutdown()
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// receiveFrame is the session presenter of the local mode. It keeps the latest frame for
// the output job and prints state changes right away.
func (s *Service) receiveFrame(frame session.Frame) {
	s.frameLock.Lock()
	changed := !s.frameSet || s.frame.State != frame.State ||
		s.frame.PermissionRequired != frame.PermissionRequired
	s.frame = frame
	s.frameSet = true
	s.frameLock.Unlock()

	if changed {
		s.printFrame(context.Background())
	}
}

// printFrame renders the latest frame with the configured templates and writes it as a
// JSON line to the output.
func (s *Service) printFrame(context.Context) {
	s.frameLock.RLock()
	frame, ok := s.frame, s.frameSet
	s.frameLock.RUnlock()
	if !ok {
		return
	}

	tplCtx := s.presenter.BuildContext(frame, s.focus())
	outputs, err := s.presenter.Render(tplCtx)
	if err != nil {
		s.logger.Error("failed to render overlay template", logger.Err(err))
		return
	}

	output := outputData{
		Text:    outputs["text"],
		Tooltip: outputs["tooltip"],
		Classes: []string{OutputClass, tplCtx.Class},
		Markers: tplCtx.Visible,
	}
	if err = json.NewEncoder(s.output).Encode(output); err != nil {
		s.logger.Error("failed to encode overlay data", logger.Err(err))
	}
}

// logStatus logs a summary of the running session.
func (s *Service) logStatus(context.Context) {
	s.frameLock.RLock()
	frame, ok := s.frame, s.frameSet
	s.frameLock.RUnlock()

	attrs := []any{
		slog.String("state", session.StateInactive.String()),
		slog.Bool("permission_required", false),
	}
	if ok {
		pos := frame.Observer.Position
		attrs = []any{
			slog.String("session", frame.SessionID),
			slog.String("state", frame.State.String()),
			slog.Bool("permission_required", frame.PermissionRequired),
			slog.String("position", pos.String()),
			slog.Float64("heading", frame.Observer.Heading.Value()),
			slog.Float64("pitch", frame.Observer.Pitch.Value()),
			slog.Int("visible", len(frame.Visible())),
			slog.String("focus", s.focus()),
		}
	}
	s.logger.Info("current AR session status", attrs...)
}

func (s *Service) focus() string {
	s.focusLock.RLock()
	defer s.focusLock.RUnlock()
	return s.focusID
}

// cycleFocus moves the focus to the next point of interest in catalogue order. After the
// last one the focus falls back to the nearest point of interest.
func (s *Service) cycleFocus() string {
	s.focusLock.Lock()
	defer s.focusLock.Unlock()

	points := s.catalogue.All()
	next := 0
	if s.focusID != "" {
		for i, p := range points {
			if p.ID == s.focusID {
				next = i + 1
				break
			}
		}
	}
	s.focusID = ""
	if next < len(points) {
		s.focusID = points[next].ID
	}
	return s.focusID
}

func (s *Service) closeSensors() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Error("failed to close sensor", logger.Err(err))
		}
	}
	s.closers = nil
}
