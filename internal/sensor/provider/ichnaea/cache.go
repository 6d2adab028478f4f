// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/oncf-ar/internal/sensor"
)

// DefaultCacheTTL is how long a lookup result is reused for an unchanged set of access points.
const DefaultCacheTTL = time.Minute * 2

type cacheEntry struct {
	Sample sensor.PositionSample
	Expiry time.Time
}

// lookupCache keeps geolocate API results per set of access points in range. Standing
// still in a station hall keeps the same access points visible, so repeated lookups are
// answered locally.
type lookupCache struct {
	ttl time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func newLookupCache(ttl time.Duration) *lookupCache {
	return &lookupCache{
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// get returns the cached sample for the access points, timestamped now.
func (c *lookupCache) get(aps []WirelessNetwork) (sensor.PositionSample, bool) {
	if c.ttl <= 0 {
		return sensor.PositionSample{}, false
	}
	key := cacheKey(aps)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok || !time.Now().Before(entry.Expiry) {
		return sensor.PositionSample{}, false
	}
	sample := entry.Sample
	sample.Timestamp = time.Now()
	return sample, true
}

func (c *lookupCache) put(aps []WirelessNetwork, sample sensor.PositionSample) {
	if c.ttl <= 0 {
		return
	}
	key := cacheKey(aps)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, entry := range c.cache {
		if !now.Before(entry.Expiry) {
			delete(c.cache, k)
		}
	}
	c.cache[key] = cacheEntry{Sample: sample, Expiry: now.Add(c.ttl)}
}

// cacheKey identifies a set of access points by their MAC addresses. Signal strength and
// order are ignored.
func cacheKey(aps []WirelessNetwork) string {
	macs := make([]string, 0, len(aps))
	for _, ap := range aps {
		macs = append(macs, strings.ToLower(ap.MACAddress))
	}
	slices.Sort(macs)
	macs = slices.Compact(macs)
	return strings.Join(macs, ",")
}
