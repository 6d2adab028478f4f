// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoclue provides position and course streams from GeoClue2 over D-Bus. GeoClue
// asks its agent for the user's consent, so the provider doubles as the permission
// requester of a session.
package geoclue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/sensor"
)

const (
	name = "geoclue"

	DBusListNamesAddress = "org.freedesktop.DBus.ListNames"
	GeoclueAgentDBusName = "org.freedesktop.GeoClue2.DemoAgent"
	GeoClueDesktopID     = "oncf-ar"

	geoclueService       = "org.freedesktop.GeoClue2"
	geoclueManagerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	geoclueManagerIface  = "org.freedesktop.GeoClue2.Manager"
	geoclueClientIface   = "org.freedesktop.GeoClue2.Client"
	geoclueLocationIface = "org.freedesktop.GeoClue2.Location"
	propertiesGet        = "org.freedesktop.DBus.Properties.Get"
	propertiesGetAll     = "org.freedesktop.DBus.Properties.GetAll"
	propertiesSet        = "org.freedesktop.DBus.Properties.Set"
	dbusAccessDenied     = "org.freedesktop.DBus.Error.AccessDenied"
	locationUpdated      = "LocationUpdated"

	// AccuracyLevelExact is GClueAccuracyLevel GCLUE_ACCURACY_LEVEL_EXACT.
	AccuracyLevelExact uint32 = 8

	headingUnknown   = -1
	signalBufferSize = 8
	firstFixTimeout  = time.Second * 10
)

// ErrAgentNotRunning is returned if no GeoClue agent is available to ask for consent.
var ErrAgentNotRunning = errors.New("geoclue agent is not running")

// Provider implements sensor.PermissionRequester, sensor.PositionSource and
// sensor.HeadingSource. The heading is GeoClue's course over ground, which is only
// reported while the device is moving.
type Provider struct {
	name      string
	desktopID string
	logger    *logger.Logger

	systemBusFn  func(ctx context.Context) (*dbus.Conn, error)
	listNamesFn  func(ctx context.Context) ([]string, error)
	readLocation func(path dbus.ObjectPath) (map[string]dbus.Variant, error)

	mu      sync.Mutex
	conn    *dbus.Conn
	client  dbus.ObjectPath
	started bool
}

// New returns a GeoClue provider registering with the given desktop ID.
func New(log *logger.Logger, desktopID string) *Provider {
	if desktopID == "" {
		desktopID = GeoClueDesktopID
	}
	p := &Provider{
		name:      name,
		desktopID: desktopID,
		logger:    log.With(slog.String("provider", name)),
		systemBusFn: func(ctx context.Context) (*dbus.Conn, error) {
			return dbus.ConnectSystemBus(dbus.WithContext(ctx))
		},
		listNamesFn: sessionBusNames,
	}
	p.readLocation = p.locationProperties
	return p
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return p.name
}

// RequestPermission makes sure a GeoClue agent is running and starts a GeoClue client,
// which makes the agent ask the user for consent. A refusal or a missing agent is
// reported as sensor.ErrPermissionDenied.
func (p *Provider) RequestPermission(ctx context.Context) error {
	names, err := p.listNamesFn(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for geoclue agent: %w", err)
	}
	if !agentRunning(names) {
		return fmt.Errorf("%w: %w", sensor.ErrPermissionDenied, ErrAgentNotRunning)
	}
	if _, err = p.ensureClient(ctx); err != nil {
		return permissionError(err)
	}
	return nil
}

// CurrentPosition returns the client's current location, or waits for the first
// location update if GeoClue has none yet.
func (p *Provider) CurrentPosition(ctx context.Context) (sensor.PositionSample, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return sensor.PositionSample{}, permissionError(err)
	}

	var current dbus.ObjectPath
	if err = p.conn.Object(geoclueService, client).CallWithContext(ctx, propertiesGet, 0,
		geoclueClientIface, "Location").Store(&current); err != nil {
		return sensor.PositionSample{}, fmt.Errorf("failed to read current geoclue location: %w", err)
	}
	if current.IsValid() && current != "/" {
		sample, _, err := p.sample(current)
		return sample, err
	}

	ctx, cancel := context.WithTimeout(ctx, firstFixTimeout)
	defer cancel()
	updates, stop, err := p.subscribe(client)
	if err != nil {
		return sensor.PositionSample{}, err
	}
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return sensor.PositionSample{}, fmt.Errorf("no geoclue location received: %w", ctx.Err())
		case sgn, ok := <-updates:
			if !ok {
				return sensor.PositionSample{}, errors.New("geoclue connection closed")
			}
			path, ok := updatedLocation(sgn)
			if !ok {
				continue
			}
			sample, _, err := p.sample(path)
			return sample, err
		}
	}
}

// WatchPosition streams the locations reported with LocationUpdated signals. The
// thresholds are applied by GeoClue itself.
func (p *Provider) WatchPosition(ctx context.Context, opts sensor.WatchOptions) (<-chan sensor.PositionSample, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return nil, permissionError(err)
	}
	obj := p.conn.Object(geoclueService, client)
	if err = obj.SetProperty(geoclueClientIface+".DistanceThreshold", dbus.MakeVariant(uint32(opts.MinDistance))); err != nil {
		p.logger.Warn("failed to set geoclue distance threshold", logger.Err(err))
	}
	if err = obj.SetProperty(geoclueClientIface+".TimeThreshold", dbus.MakeVariant(uint32(opts.MinInterval.Seconds()))); err != nil {
		p.logger.Warn("failed to set geoclue time threshold", logger.Err(err))
	}

	updates, stop, err := p.subscribe(client)
	if err != nil {
		return nil, err
	}
	out := make(chan sensor.PositionSample)
	go p.forward(ctx, updates, stop, func(path dbus.ObjectPath) bool {
		sample, _, err := p.sample(path)
		if err != nil {
			p.logger.Warn("failed to read geoclue location", logger.Err(err))
			return true
		}
		select {
		case out <- sample:
			return true
		case <-ctx.Done():
			return false
		}
	}, func() { close(out) })
	return out, nil
}

// WatchHeading streams the course reported with LocationUpdated signals. Locations
// without a known course are skipped.
func (p *Provider) WatchHeading(ctx context.Context) (<-chan sensor.HeadingSample, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return nil, permissionError(err)
	}
	updates, stop, err := p.subscribe(client)
	if err != nil {
		return nil, err
	}
	out := make(chan sensor.HeadingSample)
	go p.forward(ctx, updates, stop, func(path dbus.ObjectPath) bool {
		_, heading, err := p.sample(path)
		if err != nil || heading == headingUnknown {
			return true
		}
		select {
		case out <- sensor.HeadingSample{TrueHeading: heading, MagHeading: heading}:
			return true
		case <-ctx.Done():
			return false
		}
	}, func() { close(out) })
	return out, nil
}

// Close stops the GeoClue client and closes the system bus connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	var err error
	if p.started {
		if call := p.conn.Object(geoclueService, p.client).Call(geoclueClientIface+".Stop", 0); call.Err != nil {
			err = fmt.Errorf("failed to stop geoclue client: %w", call.Err)
		}
	}
	if closeErr := p.conn.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close system bus: %w", closeErr))
	}
	p.conn, p.client, p.started = nil, "", false
	return err
}

// ensureClient connects to the system bus, creates and configures a GeoClue client and
// starts it. It is a no-op once the client runs.
func (p *Provider) ensureClient(ctx context.Context) (dbus.ObjectPath, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return p.client, nil
	}

	if p.conn == nil {
		conn, err := p.systemBusFn(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to connect to system bus: %w", err)
		}
		p.conn = conn
	}

	if p.client == "" {
		manager := p.conn.Object(geoclueService, geoclueManagerPath)
		if err := manager.CallWithContext(ctx, geoclueManagerIface+".GetClient", 0).Store(&p.client); err != nil {
			return "", fmt.Errorf("failed to get geoclue client: %w", err)
		}
	}

	client := p.conn.Object(geoclueService, p.client)
	if err := client.CallWithContext(ctx, propertiesSet, 0, geoclueClientIface, "DesktopId",
		dbus.MakeVariant(p.desktopID)).Err; err != nil {
		return "", fmt.Errorf("failed to set desktop id: %w", err)
	}
	if err := client.CallWithContext(ctx, propertiesSet, 0, geoclueClientIface, "RequestedAccuracyLevel",
		dbus.MakeVariant(AccuracyLevelExact)).Err; err != nil {
		return "", fmt.Errorf("failed to set requested accuracy level: %w", err)
	}
	if err := client.CallWithContext(ctx, geoclueClientIface+".Start", 0).Err; err != nil {
		return "", fmt.Errorf("failed to start geoclue client: %w", err)
	}
	p.started = true
	p.logger.Debug("geoclue client started", slog.String("client", string(p.client)))
	return p.client, nil
}

// subscribe registers for the LocationUpdated signals of the client.
func (p *Provider) subscribe(client dbus.ObjectPath) (<-chan *dbus.Signal, func(), error) {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(client),
		dbus.WithMatchInterface(geoclueClientIface),
		dbus.WithMatchMember(locationUpdated),
	}
	if err := p.conn.AddMatchSignal(match...); err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to geoclue location updates: %w", err)
	}
	sigCh := make(chan *dbus.Signal, signalBufferSize)
	p.conn.Signal(sigCh)
	stop := func() {
		p.conn.RemoveSignal(sigCh)
		if err := p.conn.RemoveMatchSignal(match...); err != nil {
			p.logger.Debug("failed to remove geoclue signal match", logger.Err(err))
		}
	}
	return sigCh, stop, nil
}

// forward calls handle for every location update until ctx is done or handle returns
// false.
func (p *Provider) forward(ctx context.Context, updates <-chan *dbus.Signal, stop func(),
	handle func(dbus.ObjectPath) bool, done func(),
) {
	defer done()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case sgn, ok := <-updates:
			if !ok {
				return
			}
			path, ok := updatedLocation(sgn)
			if !ok {
				continue
			}
			if !handle(path) {
				return
			}
		}
	}
}

// sample reads the location object at path.
func (p *Provider) sample(path dbus.ObjectPath) (sensor.PositionSample, float64, error) {
	props, err := p.readLocation(path)
	if err != nil {
		return sensor.PositionSample{}, headingUnknown, err
	}
	return locationSample(props)
}

func (p *Provider) locationProperties(path dbus.ObjectPath) (map[string]dbus.Variant, error) {
	props := make(map[string]dbus.Variant)
	if err := p.conn.Object(geoclueService, path).Call(propertiesGetAll, 0, geoclueLocationIface).
		Store(&props); err != nil {
		return nil, fmt.Errorf("failed to read geoclue location properties: %w", err)
	}
	return props, nil
}

// locationSample converts the properties of a GeoClue location object into a position
// sample and the course in degrees, -1 if unknown.
func locationSample(props map[string]dbus.Variant) (sensor.PositionSample, float64, error) {
	lat, okLat := floatProperty(props, "Latitude")
	lon, okLon := floatProperty(props, "Longitude")
	if !okLat || !okLon {
		return sensor.PositionSample{}, headingUnknown, errors.New("geoclue location without coordinates")
	}
	acc, _ := floatProperty(props, "Accuracy")
	heading, ok := floatProperty(props, "Heading")
	if !ok || heading < 0 {
		heading = headingUnknown
	}

	sample := sensor.PositionSample{
		Lat:       lat,
		Lon:       lon,
		Accuracy:  acc,
		Timestamp: time.Now(),
		Source:    name,
	}
	if v, ok := props["Timestamp"]; ok {
		if ts, ok := v.Value().([]any); ok && len(ts) == 2 {
			sec, okSec := ts[0].(uint64)
			usec, okUsec := ts[1].(uint64)
			if okSec && okUsec && sec > 0 {
				sample.Timestamp = time.Unix(int64(sec), int64(usec)*int64(time.Microsecond))
			}
		}
	}
	return sample, heading, nil
}

func floatProperty(props map[string]dbus.Variant, key string) (float64, bool) {
	v, ok := props[key]
	if !ok {
		return 0, false
	}
	f, ok := v.Value().(float64)
	return f, ok
}

// updatedLocation returns the new location path of a LocationUpdated signal.
func updatedLocation(sgn *dbus.Signal) (dbus.ObjectPath, bool) {
	if sgn == nil || !strings.HasSuffix(sgn.Name, "."+locationUpdated) || len(sgn.Body) != 2 {
		return "", false
	}
	path, ok := sgn.Body[1].(dbus.ObjectPath)
	return path, ok && path.IsValid() && path != "/"
}

// permissionError maps a D-Bus access denial to sensor.ErrPermissionDenied.
func permissionError(err error) error {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) && dbusErr.Name == dbusAccessDenied {
		return fmt.Errorf("%w: %w", sensor.ErrPermissionDenied, err)
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr.Name == dbusAccessDenied {
		return fmt.Errorf("%w: %w", sensor.ErrPermissionDenied, err)
	}
	return err
}

func agentRunning(names []string) bool {
	for _, v := range names {
		if strings.EqualFold(v, GeoclueAgentDBusName) {
			return true
		}
	}
	return false
}

// sessionBusNames lists the names on the session bus.
func sessionBusNames(ctx context.Context) (list []string, err error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close session bus: %w", closeErr))
		}
	}()

	if err = conn.BusObject().CallWithContext(ctx, DBusListNamesAddress, 0).Store(&list); err != nil {
		return nil, fmt.Errorf("failed to call DBus ListNames: %w", err)
	}
	return list, nil
}
