package dispatch

import (
	"sync"
	"time"

	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/types"
)

// VTCache is the in-memory view of the VT metadata bucket. Dispatchers
// read it on every ingested result, so lookups must not touch the
// store; the scheduler refreshes it once per tick and after feed syncs.
type VTCache struct {
	mu        sync.RWMutex
	byOID     map[string]types.VT
	refreshed time.Time
}

// NewVTCache returns an empty cache. Get misses until Refresh runs.
func NewVTCache() *VTCache {
	return &VTCache{byOID: make(map[string]types.VT)}
}

// Refresh reloads the cache from the store.
func (c *VTCache) Refresh(store storage.Store) error {
	next := make(map[string]types.VT)
	err := store.ForEachVT(func(vt *types.VT) error {
		next[vt.OID] = *vt
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.byOID = next
	c.refreshed = time.Now()
	c.mu.Unlock()
	return nil
}

// Get looks up one VT by OID.
func (c *VTCache) Get(oid string) (types.VT, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vt, ok := c.byOID[oid]
	return vt, ok
}

// Len returns the number of cached VTs.
func (c *VTCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byOID)
}

// RefreshedAt returns when the cache last loaded, zero if never.
func (c *VTCache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}
