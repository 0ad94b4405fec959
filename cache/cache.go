package cache

import (
	"sync"
	"time"

	"signage-fleet/entities"
)

type cachedDevice struct {
	device   entities.Device
	cachedAt time.Time
}

// DeviceCache holds device records read from the store. Writers must call Put
// with the committed record (or Invalidate) after every write so a caller
// always reads its own writes. Entries older than ttl are treated as misses,
// which bounds cross-process staleness.
type DeviceCache struct {
	mu      sync.RWMutex
	devices map[string]cachedDevice // map[deviceID]record
	ttl     time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64
}

func NewDeviceCache(ttl time.Duration) *DeviceCache {
	return &DeviceCache{
		devices: make(map[string]cachedDevice),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the cached record.
func (dc *DeviceCache) Get(deviceID string) (entities.Device, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entry, ok := dc.devices[deviceID]
	if !ok || (dc.ttl > 0 && dc.now().Sub(entry.cachedAt) > dc.ttl) {
		dc.misses++
		return entities.Device{}, false
	}
	dc.hits++
	return entry.device, true
}

// Put stores d unless the cache already holds a newer revision.
func (dc *DeviceCache) Put(d entities.Device) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if cur, ok := dc.devices[d.DeviceID]; ok && cur.device.Revision > d.Revision {
		return
	}
	dc.devices[d.DeviceID] = cachedDevice{device: d, cachedAt: dc.now()}
}

func (dc *DeviceCache) Invalidate(deviceID string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	delete(dc.devices, deviceID)
}

// GetCacheStats returns statistics about the current cache
func (dc *DeviceCache) GetCacheStats() map[string]interface{} {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	return map[string]interface{}{
		"entries": len(dc.devices),
		"hits":    dc.hits,
		"misses":  dc.misses,
		"ttl":     dc.ttl.String(),
	}
}

// ClearCache drops every entry.
func (dc *DeviceCache) ClearCache() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.devices = make(map[string]cachedDevice)
}
