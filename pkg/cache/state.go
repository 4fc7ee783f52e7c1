package cache

import (
	"sync"

	"github.com/illmade-knight/go-irrigation/pkg/types"
)

// StateCache holds the most recent Reading of every device. Entries are
// replaced whole, last writer by arrival order wins, and never expire.
// Reads never observe a partially written Reading.
type StateCache struct {
	mu     sync.RWMutex
	latest map[string]types.Reading
}

// NewStateCache creates an empty StateCache.
func NewStateCache() *StateCache {
	return &StateCache{
		latest: make(map[string]types.Reading),
	}
}

// Replace stores r as the latest Reading of r.DeviceID. Only the ingestion
// dispatcher calls this.
func (c *StateCache) Replace(r types.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[r.DeviceID] = r
}

// Latest returns a copy of the device's latest Reading. ok is false if no
// reading has arrived for the device.
func (c *StateCache) Latest(deviceID string) (types.Reading, bool) {
	c.mu.RLock()
	r, ok := c.latest[deviceID]
	c.mu.RUnlock()
	if !ok {
		return types.Reading{}, false
	}
	return r.Clone(), true
}

// Devices returns the number of devices with a cached Reading.
func (c *StateCache) Devices() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.latest)
}
