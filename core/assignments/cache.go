// Package assignments caches the vehicle assignment list shown next to the
// live map. The reconciler refreshes it after every dispatch it ends.
package assignments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/fleetlive/core/model"
)

// Lister fetches the assignment list from the backend.
type Lister interface {
	ListAssignments(ctx context.Context) ([]model.Assignment, error)
}

// Cache holds the last fetched assignment list.
type Cache struct {
	lister Lister
	now    func() time.Time

	mu        sync.RWMutex
	items     []model.Assignment
	refreshed time.Time
}

func NewCache(l Lister) *Cache {
	return &Cache{lister: l, now: time.Now}
}

// RefreshAssignments replaces the cached list. The previous list is kept on error.
func (c *Cache) RefreshAssignments(ctx context.Context) error {
	items, err := c.lister.ListAssignments(ctx)
	if err != nil {
		return fmt.Errorf("refresh assignments: %w", err)
	}
	c.mu.Lock()
	c.items = items
	c.refreshed = c.now()
	c.mu.Unlock()
	return nil
}

// List returns a copy of the cached assignments and the time they were fetched.
func (c *Cache) List() ([]model.Assignment, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Assignment, len(c.items))
	for i, a := range c.items {
		a.UserProfiles = append([]model.UserProfile(nil), a.UserProfiles...)
		out[i] = a
	}
	return out, c.refreshed
}

// ForVehicle returns the assignment of a vehicle, if cached.
func (c *Cache) ForVehicle(id string) (model.Assignment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.items {
		if string(a.VehicleID) == id {
			a.UserProfiles = append([]model.UserProfile(nil), a.UserProfiles...)
			return a, true
		}
	}
	return model.Assignment{}, false
}
