// Package cache holds the most recent status snapshot per vehicle.
//
// The vendor backends serve status from their own server-side cache; this package only mirrors
// the latest document the client has seen. It never reaches the network: staleness is the
// caller's concern, surfaced through RetrievedAt.
package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Snapshot is one cached status document for a vehicle. Raw preserves the vendor shape.
type Snapshot struct {
	VIN         string
	RetrievedAt time.Time
	Raw         json.RawMessage
}

// StatusCache stores at most one Snapshot per VIN. Writes replace wholesale; last write wins.
type StatusCache struct {
	lock      sync.Mutex
	snapshots map[string]*Snapshot
}

func New() *StatusCache {
	return &StatusCache{snapshots: map[string]*Snapshot{}}
}

// Get returns the snapshot for vin, or false if the vehicle has never been synced.
func (c *StatusCache) Get(vin string) (*Snapshot, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	snapshot, ok := c.snapshots[vin]
	return snapshot, ok
}

// Put replaces the snapshot for its VIN.
func (c *StatusCache) Put(snapshot *Snapshot) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.snapshots[snapshot.VIN] = snapshot
}

// Drop removes the snapshot for vin, if any.
func (c *StatusCache) Drop(vin string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.snapshots, vin)
}
