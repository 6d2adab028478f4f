// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

const (
	configEnv = "ONCFAR"

	ModeLocal  = "local"
	ModeBridge = "bridge"

	SensorAuto    = "auto"
	SensorNone    = "none"
	SensorGPSD    = "gpsd"
	SensorGeoClue = "geoclue"
	SensorICHNAEA = "ichnaea"
	SensorReplay  = "replay"

	DefaultTextTpl = `{{if .PermissionRequired}}📍 {{loc "permreq"}}` +
		`{{else if not .Active}}📡 {{loc "acquiring"}}` +
		`{{else}}🚉 {{len .Visible}}/{{.Total}}{{with .Focus}} {{.Marker.Icon}} {{.Arrow}} {{.Marker.DistanceLabel}}{{end}}{{end}}`
	DefaultTooltipTpl = `{{loc "office"}}` +
		`{{if .PermissionRequired}}
{{loc "permhint"}}{{else if .Active}}
{{loc "position"}}: {{.Position}}
{{loc "heading"}}: {{floatFormat .Heading 0}}° {{.HeadingIcon}}
{{loc "updated"}}: {{naturalTime .UpdateTime}}{{range .Visible}}
{{.IconWithSpace}}{{.Name}}: {{.DistanceLabel}}{{end}}{{end}}`
)

var (
	positionSensors    = []string{SensorAuto, SensorGPSD, SensorGeoClue, SensorICHNAEA, SensorReplay}
	headingSensors     = []string{SensorAuto, SensorNone, SensorGPSD, SensorGeoClue, SensorReplay}
	orientationSensors = []string{SensorAuto, SensorNone, SensorGPSD, SensorReplay}
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`
	// Allowed values: local, bridge
	Mode string `fig:"mode" default:"local"`

	Camera struct {
		HorizontalFOV  float64 `fig:"horizontal_fov" default:"60"`
		VerticalFOV    float64 `fig:"vertical_fov" default:"45"`
		MaxDistance    float64 `fig:"max_distance" default:"500"`
		ViewportWidth  float64 `fig:"viewport_width" default:"1080"`
		ViewportHeight float64 `fig:"viewport_height" default:"1920"`
	} `fig:"camera"`

	Sensors struct {
		PositionInterval    time.Duration `fig:"position_interval" default:"1s"`
		PositionDistance    float64       `fig:"position_distance" default:"1"`
		OrientationInterval time.Duration `fig:"orientation_interval" default:"100ms"`
		// Freshness is how long a more accurate position source is preferred after its last fix.
		Freshness time.Duration `fig:"freshness" default:"10s"`

		// Allowed values: auto, gpsd, geoclue, ichnaea, replay
		Position string `fig:"position" default:"auto"`
		// Allowed values: auto, none, gpsd, geoclue, replay
		Heading string `fig:"heading" default:"auto"`
		// Allowed values: auto, none, gpsd, replay
		Orientation string `fig:"orientation" default:"auto"`

		GPSDHost        string `fig:"gpsd_host" default:"localhost"`
		GPSDPort        string `fig:"gpsd_port" default:"2947"`
		ReplayFile      string `fig:"replay_file"`
		ReplayLoop      bool   `fig:"replay_loop"`
		DisableICHNAEA  bool   `fig:"disable_ichnaea"`
		ICHNAEAEndpoint string `fig:"ichnaea_endpoint" default:"https://api.beacondb.net/v1/geolocate"`
	} `fig:"sensors"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"1s"`
		Status time.Duration `fig:"status" default:"5m"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`

	Catalogue struct {
		File string `fig:"file"`
	} `fig:"catalogue"`

	Bridge struct {
		Listen       string        `fig:"listen" default:"127.0.0.1:8080"`
		ReadLimit    int64         `fig:"read_limit" default:"4096"`
		PingInterval time.Duration `fig:"ping_interval" default:"30s"`
	} `fig:"bridge"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Mode != ModeLocal && c.Mode != ModeBridge {
		return fmt.Errorf("invalid mode: %s", c.Mode)
	}
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.Camera.HorizontalFOV <= 0 || c.Camera.HorizontalFOV > 180 {
		return fmt.Errorf("invalid horizontal field of view: %g", c.Camera.HorizontalFOV)
	}
	if c.Camera.VerticalFOV <= 0 || c.Camera.VerticalFOV > 180 {
		return fmt.Errorf("invalid vertical field of view: %g", c.Camera.VerticalFOV)
	}
	if c.Camera.MaxDistance <= 0 {
		return fmt.Errorf("invalid max display distance: %g", c.Camera.MaxDistance)
	}
	if c.Camera.ViewportWidth <= 0 || c.Camera.ViewportHeight <= 0 {
		return fmt.Errorf("invalid viewport: %gx%g", c.Camera.ViewportWidth, c.Camera.ViewportHeight)
	}
	if c.Sensors.PositionInterval <= 0 || c.Sensors.OrientationInterval <= 0 {
		return fmt.Errorf("sensor intervals must be positive")
	}
	if c.Sensors.PositionDistance < 0 {
		return fmt.Errorf("invalid position distance: %g", c.Sensors.PositionDistance)
	}
	if !slices.Contains(positionSensors, c.Sensors.Position) {
		return fmt.Errorf("invalid position sensor: %s", c.Sensors.Position)
	}
	if !slices.Contains(headingSensors, c.Sensors.Heading) {
		return fmt.Errorf("invalid heading sensor: %s", c.Sensors.Heading)
	}
	if !slices.Contains(orientationSensors, c.Sensors.Orientation) {
		return fmt.Errorf("invalid orientation sensor: %s", c.Sensors.Orientation)
	}
	if c.UsesSensor(SensorReplay) && c.Sensors.ReplayFile == "" {
		return fmt.Errorf("replay sensor requires a replay file")
	}
	if c.Intervals.Output <= 0 || c.Intervals.Status <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}
	if c.Mode == ModeBridge && c.Bridge.Listen == "" {
		return fmt.Errorf("bridge mode requires a listen address")
	}
	if c.Mode == ModeBridge && (c.Bridge.PingInterval <= 0 || c.Bridge.ReadLimit <= 0) {
		return fmt.Errorf("bridge ping interval and read limit must be positive")
	}

	return nil
}

// UsesSensor reports whether any stream is explicitly configured to use the named sensor.
func (c *Config) UsesSensor(name string) bool {
	return c.Sensors.Position == name || c.Sensors.Heading == name || c.Sensors.Orientation == name
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
