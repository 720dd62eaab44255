package store

import (
	"sync"
	"time"

	"school-transit/pkg/geo"
)

// DriverLocation is the last known driver position for one watched trip.
// Created or overwritten on every accepted sample; never persisted.
type DriverLocation struct {
	TripID    string    `json:"tripId"`
	UserID    string    `json:"userId,omitempty"`
	Location  geo.Point `json:"location"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LocationCache holds the latest driver location per trip. Writes are
// last-value-wins; no history is retained.
type LocationCache struct {
	mu   sync.RWMutex
	byID map[string]DriverLocation
}

func NewLocationCache() *LocationCache {
	return &LocationCache{byID: make(map[string]DriverLocation)}
}

// Set overwrites the cached location for the trip.
func (c *LocationCache) Set(loc DriverLocation) {
	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[loc.TripID] = loc
}

// Get returns the cached location for the trip, if any.
func (c *LocationCache) Get(tripID string) (DriverLocation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.byID[tripID]
	return loc, ok
}

// Forget drops the cached location for a trip that is no longer watched.
func (c *LocationCache) Forget(tripID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, tripID)
}
