// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	const (
		expectMode                = ModeLocal
		expectLogLevel            = slog.LevelInfo
		expectHorizontalFOV       = 60
		expectMaxDistance         = 500
		expectPositionInterval    = time.Second
		expectOrientationInterval = time.Millisecond * 100
		expectIntervalOutput      = time.Second
	)
	t.Run("new config with all defaults set", func(t *testing.T) {
		conf, err := New()
		if err != nil {
			t.Errorf("failed to load config: %s", err)
		}
		if conf.Mode != expectMode {
			t.Errorf("expected mode to be: %s, got %s", expectMode, conf.Mode)
		}
		if conf.LogLevel != expectLogLevel {
			t.Errorf("expected log level to be: %s, got %s", expectLogLevel, conf.LogLevel)
		}
		if conf.Camera.HorizontalFOV != expectHorizontalFOV {
			t.Errorf("expected horizontal FOV to be: %d, got %f", expectHorizontalFOV, conf.Camera.HorizontalFOV)
		}
		if conf.Camera.MaxDistance != expectMaxDistance {
			t.Errorf("expected max distance to be: %d, got %f", expectMaxDistance, conf.Camera.MaxDistance)
		}
		if conf.Sensors.PositionInterval != expectPositionInterval {
			t.Errorf("expected position interval to be: %s, got %s", expectPositionInterval,
				conf.Sensors.PositionInterval)
		}
		if conf.Sensors.OrientationInterval != expectOrientationInterval {
			t.Errorf("expected orientation interval to be: %s, got %s", expectOrientationInterval,
				conf.Sensors.OrientationInterval)
		}
		if conf.Intervals.Output != expectIntervalOutput {
			t.Errorf("expected output interval to be: %s, got %s", expectIntervalOutput, conf.Intervals.Output)
		}
		if conf.Templates.Text != DefaultTextTpl {
			t.Errorf("expected default text template, got %q", conf.Templates.Text)
		}
		if conf.Templates.Tooltip != DefaultTooltipTpl {
			t.Errorf("expected default tooltip template, got %q", conf.Templates.Tooltip)
		}
	})
	t.Run("new config with invalid values from env", func(t *testing.T) {
		t.Setenv("ONCFAR_LOGLEVEL", "invalid")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("config validate mode", func(t *testing.T) {
		t.Setenv("ONCFAR_MODE", "remote")
		_, err := New()
		if err == nil {
			t.Error("expected config to fail, but didn't")
		}
		t.Setenv("ONCFAR_MODE", ModeBridge)
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.Mode != ModeBridge {
			t.Errorf("expected mode to be: %s, got %s", ModeBridge, conf.Mode)
		}
	})
	t.Run("config validate bridge", func(t *testing.T) {
		t.Setenv("ONCFAR_MODE", ModeBridge)
		t.Setenv("ONCFAR_BRIDGE_PING_INTERVAL", "-1s")
		if _, err := New(); err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
	t.Run("config validate camera", func(t *testing.T) {
		tests := []struct {
			env   string
			value string
		}{
			{"ONCFAR_CAMERA_HORIZONTAL_FOV", "-5"},
			{"ONCFAR_CAMERA_HORIZONTAL_FOV", "181"},
			{"ONCFAR_CAMERA_VERTICAL_FOV", "-1"},
			{"ONCFAR_CAMERA_MAX_DISTANCE", "-1"},
			{"ONCFAR_CAMERA_VIEWPORT_WIDTH", "-100"},
		}
		for _, tc := range tests {
			t.Run(tc.env+"="+tc.value, func(t *testing.T) {
				t.Setenv(tc.env, tc.value)
				if _, err := New(); err == nil {
					t.Error("expected config to fail, but didn't")
				}
			})
		}
	})
	t.Run("config validate sensors", func(t *testing.T) {
		tests := []struct {
			env   string
			value string
		}{
			{"ONCFAR_SENSORS_POSITION", "none"},
			{"ONCFAR_SENSORS_HEADING", "ichnaea"},
			{"ONCFAR_SENSORS_ORIENTATION", "geoclue"},
			{"ONCFAR_SENSORS_POSITION_DISTANCE", "-1"},
		}
		for _, tc := range tests {
			t.Run(tc.env+"="+tc.value, func(t *testing.T) {
				t.Setenv(tc.env, tc.value)
				if _, err := New(); err == nil {
					t.Error("expected config to fail, but didn't")
				}
			})
		}
	})
	t.Run("replay sensor requires a trace file", func(t *testing.T) {
		t.Setenv("ONCFAR_SENSORS_POSITION", SensorReplay)
		if _, err := New(); err == nil {
			t.Error("expected config to fail, but didn't")
		}
		t.Setenv("ONCFAR_SENSORS_REPLAY_FILE", "../../testdata/replay.trace")
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if !conf.UsesSensor(SensorReplay) {
			t.Error("expected replay sensor to be in use")
		}
		if conf.UsesSensor(SensorGeoClue) {
			t.Error("did not expect geoclue sensor to be in use")
		}
	})
	t.Run("locale from environment", func(t *testing.T) {
		t.Setenv("LC_MESSAGES", "fr_MA.UTF-8")
		conf, err := New()
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.Locale != "fr-MA" {
			t.Errorf("expected locale to be: fr-MA, got %s", conf.Locale)
		}
	})
}

func TestNewFromFile(t *testing.T) {
	t.Run("reading config from valid file succeeds", func(t *testing.T) {
		conf, err := NewFromFile("../../etc", "config.toml")
		if err != nil {
			t.Fatalf("failed to load config: %s", err)
		}
		if conf.Mode != ModeLocal {
			t.Errorf("expected mode to be: %s, got %s", ModeLocal, conf.Mode)
		}
		if conf.LogLevel != slog.LevelInfo {
			t.Errorf("expected log level to be: %s, got %s", slog.LevelInfo, conf.LogLevel)
		}
		if conf.Camera.ViewportWidth != 1080 {
			t.Errorf("expected viewport width to be: 1080, got %f", conf.Camera.ViewportWidth)
		}
		if conf.Bridge.Listen != "127.0.0.1:8080" {
			t.Errorf("expected bridge listen address to be: 127.0.0.1:8080, got %s", conf.Bridge.Listen)
		}
	})
	t.Run("reading config from non-existent file fails", func(t *testing.T) {
		if _, err := NewFromFile("../../etc", "non-existent.toml"); err == nil {
			t.Error("expected config to fail, but didn't")
		}
	})
}
