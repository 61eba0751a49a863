// Package cache provides the bounded availability cache used by the store-backed resolver path.
//
// Entries map (user_id, execution_id) to the sensor -> feature sets found in the time-series
// store. Entries expire after a short TTL because the drain worker keeps persisting data for an
// execution after it was first looked up, possibly from another process. Callers invalidate an
// entry whenever they write or purge the data behind it.
package cache

import (
	"time"

	"senseflow/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultSize is used when a non-positive size is configured
	DefaultSize = 256
	// DefaultTTL is used when a non-positive ttl is configured
	DefaultTTL = 5 * time.Second
)

// Key cache key
type Key struct {
	UserID      string
	ExecutionID string
}

// String returns "user/execution"
func (k Key) String() string {
	return k.UserID + "/" + k.ExecutionID
}

// AvailabilityCache bounded, expiring LRU of availability maps, safe for concurrent use
type AvailabilityCache struct {
	entries *expirable.LRU[Key, model.Availability]
}

// NewAvailabilityCache creates a cache holding at most size entries, each for at most ttl
func NewAvailabilityCache(size int, ttl time.Duration) *AvailabilityCache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AvailabilityCache{entries: expirable.NewLRU[Key, model.Availability](size, nil, ttl)}
}

// Get returns a copy of the cached availability
func (c *AvailabilityCache) Get(userID, executionID string) (model.Availability, bool) {
	if c == nil {
		return nil, false
	}
	a, ok := c.entries.Get(Key{UserID: userID, ExecutionID: executionID})
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Add stores a copy of a; empty maps are not cached so late-arriving data is picked up
func (c *AvailabilityCache) Add(userID, executionID string, a model.Availability) {
	if c == nil || len(a) == 0 {
		return
	}
	c.entries.Add(Key{UserID: userID, ExecutionID: executionID}, a.Clone())
}

// Invalidate drops the entry for (userID, executionID)
func (c *AvailabilityCache) Invalidate(userID, executionID string) {
	if c == nil {
		return
	}
	c.entries.Remove(Key{UserID: userID, ExecutionID: executionID})
}

// Purge drops every entry
func (c *AvailabilityCache) Purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

// Len returns the number of cached entries
func (c *AvailabilityCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
