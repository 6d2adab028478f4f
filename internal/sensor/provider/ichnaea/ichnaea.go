// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ichnaea provides WiFi based positions for indoor use, where GPS reception inside
// a station hall is poor. Nearby access points are looked up with an ICHNAEA compatible
// geolocation API such as BeaconDB.
package ichnaea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/oncf-ar/internal/geodesy"
	"github.com/wneessen/oncf-ar/internal/http"
	"github.com/wneessen/oncf-ar/internal/logger"
	"github.com/wneessen/oncf-ar/internal/sensor"
)

const (
	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout   = time.Second * 5
	wifiScanTime    = time.Second * 30
	name            = "ichnaea"
)

// ErrNoAccessPoints is returned if no usable access point is in range.
var ErrNoAccessPoints = errors.New("no WiFi access points in range")

// ErrUnknownAccessPoints is returned if the geolocation API knows none of the access points.
var ErrUnknownAccessPoints = errors.New("WiFi access points unknown to the geolocation API")

// wlan is the subset of the wifi client used for scanning.
type wlan interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(ifi *wifi.Interface) ([]*wifi.BSS, error)
}

// Provider implements sensor.PositionSource using WiFi access points.
type Provider struct {
	name     string
	endpoint string
	http     *http.Client
	wlan     wlan
	logger   *logger.Logger
	period   time.Duration
	locateFn func(ctx context.Context) (sensor.PositionSample, error)
	cache    *lookupCache

	apLock sync.RWMutex
	aps    []WirelessNetwork
}

// APIResult is the response of the geolocate API.
type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

// WirelessNetwork is an access point as sent to the geolocate API.
type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

// New returns a WiFi provider querying the given endpoint. It fails if the system has no
// WiFi support.
func New(log *logger.Logger, client *http.Client, endpoint string) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	wlanClient, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi client: %w", err)
	}
	return newProvider(log, client, wlanClient, endpoint), nil
}

func newProvider(log *logger.Logger, client *http.Client, wlanClient wlan, endpoint string) *Provider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	provider := &Provider{
		name:     name,
		endpoint: endpoint,
		http:     client,
		wlan:     wlanClient,
		logger:   log.With(slog.String("provider", name)),
		period:   time.Second * 15,
		cache:    newLookupCache(DefaultCacheTTL),
	}
	provider.locateFn = provider.locate
	return provider
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return p.name
}

// CurrentPosition scans for access points and looks them up once.
func (p *Provider) CurrentPosition(ctx context.Context) (sensor.PositionSample, error) {
	p.scan()
	return p.locateFn(ctx)
}

// WatchPosition periodically looks up the access points in range and emits fixes that
// moved at least opts.MinDistance meters.
func (p *Provider) WatchPosition(ctx context.Context, opts sensor.WatchOptions) (<-chan sensor.PositionSample, error) {
	out := make(chan sensor.PositionSample)
	go p.monitorWifiAccessPoints(ctx)
	go func() {
		defer close(out)
		var last sensor.PositionSample
		var have bool
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.period):
				}
			}
			firstRun = false

			sample, err := p.locateFn(ctx)
			if err != nil {
				p.logger.Debug("WiFi lookup failed", logger.Err(err))
				continue
			}
			if have && geodesy.Distance(last.Point(), sample.Point()) < opts.MinDistance &&
				sample.Accuracy >= last.Accuracy {
				continue
			}
			last, have = sample, true

			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
		}
	}()
	return out, nil
}

func (p *Provider) monitorWifiAccessPoints(ctx context.Context) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wifiScanTime):
			}
		}
		firstRun = false
		p.scan()
	}
}

// scan refreshes the list of access points in range.
func (p *Provider) scan() {
	list, err := p.wifiAccessPoints()
	if err != nil {
		p.logger.Debug("WiFi scan failed", logger.Err(err))
		return
	}
	p.apLock.Lock()
	p.aps = list
	p.apLock.Unlock()
}

func (p *Provider) wifiAccessPoints() ([]WirelessNetwork, error) {
	var checkIfaces []*wifi.Interface
	var list []WirelessNetwork

	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		checkIfaces = append(checkIfaces, iface)
	}

	for _, iface := range checkIfaces {
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			// Networks ending in _nomap opted out of location services.
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

// locate looks up the last scanned access points. IP based fallback is disabled since a
// city level fix is useless inside a station.
func (p *Provider) locate(ctx context.Context) (sensor.PositionSample, error) {
	p.apLock.RLock()
	wifiList := p.aps
	p.apLock.RUnlock()
	if len(wifiList) == 0 {
		return sensor.PositionSample{}, ErrNoAccessPoints
	}
	if sample, ok := p.cache.get(wifiList); ok {
		p.logger.Debug("using cached WiFi position", slog.Int("access_points", len(wifiList)))
		return sample, nil
	}

	req := struct {
		ConsiderIP   bool              `json:"considerIp"`
		Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
	}{
		ConsiderIP:   false,
		Accesspoints: wifiList,
	}
	result := new(APIResult)
	if _, err := p.http.PostJSON(ctx, p.endpoint, req, result, lookupTimeout); err != nil {
		var statusErr *http.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == stdhttp.StatusNotFound {
			return sensor.PositionSample{}, ErrUnknownAccessPoints
		}
		return sensor.PositionSample{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	sample := sensor.PositionSample{
		Lat:       result.Location.Latitude,
		Lon:       result.Location.Longitude,
		Accuracy:  result.Accuracy,
		Timestamp: time.Now(),
		Source:    p.name,
	}
	if !sample.Point().Valid() {
		return sensor.PositionSample{}, fmt.Errorf("geolocation API returned an invalid position %s", sample.Point())
	}
	p.cache.put(wifiList, sample)
	return sample, nil
}
