// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/oncf-ar/internal/config"
	"github.com/wneessen/oncf-ar/internal/http"
	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/sensor"
	"github.com/wneessen/oncf-ar/internal/sensor/provider/geoclue"
	"github.com/wneessen/oncf-ar/internal/sensor/provider/gpsd"
	"github.com/wneessen/oncf-ar/internal/sensor/provider/ichnaea"
	"github.com/wneessen/oncf-ar/internal/sensor/provider/replay"
	"github.com/wneessen/oncf-ar/internal/sensorbus"
	"github.com/wneessen/oncf-ar/internal/session"
)

// sensorSet lazily creates each provider once, so streams configured for the same
// provider share its connection.
type sensorSet struct {
	conf   *config.Config
	logger *logger.Logger

	gpsd    *gpsd.Provider
	geoclue *geoclue.Provider
	replay  *replay.Provider
}

func (s *Service) selectSensors() (session.Sensors, error) {
	set := &sensorSet{conf: s.config, logger: s.logger}
	sensors := session.Sensors{
		Permissions: sensor.Granted{},
		WatchOptions: sensor.WatchOptions{
			MinDistance: s.config.Sensors.PositionDistance,
			MinInterval: s.config.Sensors.PositionInterval,
		},
		OrientationInterval: s.config.Sensors.OrientationInterval,
	}

	position, err := set.position()
	if err != nil {
		return sensors, err
	}
	sensors.Position = position

	if sensors.Heading, err = set.heading(); err != nil {
		return sensors, err
	}
	if sensors.Orientation, err = set.orientation(); err != nil {
		return sensors, err
	}

	// GeoClue is the only provider with an access control model.
	if set.geoclue != nil {
		sensors.Permissions = set.geoclue
		s.closers = append(s.closers, set.geoclue)
	}

	s.logger.Debug("sensors selected", slog.String("position", position.Name()),
		slog.String("heading", sourceName(sensors.Heading)),
		slog.String("orientation", sourceName(sensors.Orientation)))
	return sensors, nil
}

func (set *sensorSet) position() (sensor.PositionSource, error) {
	switch set.conf.Sensors.Position {
	case config.SensorGPSD:
		return set.gpsdProvider(), nil
	case config.SensorGeoClue:
		return set.geoclueProvider(), nil
	case config.SensorICHNAEA:
		return set.ichnaeaProvider()
	case config.SensorReplay:
		return set.replayProvider()
	case config.SensorAuto:
		providers := []sensor.PositionSource{set.gpsdProvider(), set.geoclueProvider()}
		if !set.conf.Sensors.DisableICHNAEA {
			mls, err := set.ichnaeaProvider()
			if err != nil {
				set.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
			} else {
				providers = append(providers, mls)
			}
		}
		return sensorbus.New(set.logger, set.conf.Sensors.Freshness, providers...), nil
	default:
		return nil, fmt.Errorf("unsupported position sensor: %s", set.conf.Sensors.Position)
	}
}

func (set *sensorSet) heading() (sensor.HeadingSource, error) {
	switch set.conf.Sensors.Heading {
	case config.SensorNone:
		return nil, nil
	case config.SensorAuto, config.SensorGPSD:
		return set.gpsdProvider(), nil
	case config.SensorGeoClue:
		return set.geoclueProvider(), nil
	case config.SensorReplay:
		return set.replayProvider()
	default:
		return nil, fmt.Errorf("unsupported heading sensor: %s", set.conf.Sensors.Heading)
	}
}

func (set *sensorSet) orientation() (sensor.OrientationSource, error) {
	switch set.conf.Sensors.Orientation {
	case config.SensorNone:
		return nil, nil
	case config.SensorAuto, config.SensorGPSD:
		return set.gpsdProvider(), nil
	case config.SensorReplay:
		return set.replayProvider()
	default:
		return nil, fmt.Errorf("unsupported orientation sensor: %s", set.conf.Sensors.Orientation)
	}
}

func (set *sensorSet) gpsdProvider() *gpsd.Provider {
	if set.gpsd == nil {
		set.gpsd = gpsd.New(set.logger, set.conf.Sensors.GPSDHost, set.conf.Sensors.GPSDPort)
	}
	return set.gpsd
}

func (set *sensorSet) geoclueProvider() *geoclue.Provider {
	if set.geoclue == nil {
		set.geoclue = geoclue.New(set.logger, DesktopID)
	}
	return set.geoclue
}

func (set *sensorSet) replayProvider() (*replay.Provider, error) {
	if set.replay != nil {
		return set.replay, nil
	}
	if set.conf.Sensors.ReplayFile == "" {
		return nil, errors.New("no replay file configured")
	}
	provider, err := replay.Load(set.conf.Sensors.ReplayFile, set.conf.Sensors.ReplayLoop)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay provider: %w", err)
	}
	set.replay = provider
	return provider, nil
}

func (set *sensorSet) ichnaeaProvider() (*ichnaea.Provider, error) {
	return ichnaea.New(set.logger, http.New(set.logger), set.conf.Sensors.ICHNAEAEndpoint)
}

func sourceName(src interface{ Name() string }) string {
	if src == nil {
		return "none"
	}
	return src.Name()
}
