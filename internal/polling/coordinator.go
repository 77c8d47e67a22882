// Package polling arbitrates how often clients may re-trigger expensive
// status computation for an in-flight import, and tells rate-limited
// clients exactly how long to wait.
package polling

import (
	"math"
	"sync"
	"time"

	"github.com/your-org/medflow/internal/media"
)

// DefaultCooldown is the minimum interval between allowed status checks
// for one (resource, media type) key.
const DefaultCooldown = 10 * time.Second

type key struct {
	resourceID string
	mediaType  media.Type
}

// Coordinator tracks last-checked timestamps per (resource id, media
// type). It is constructed per service instance and shared by reference
// with the HTTP handlers; the mutex is the only synchronization.
type Coordinator struct {
	cooldown time.Duration
	now      func() time.Time

	mu          sync.Mutex
	lastChecked map[key]time.Time
}

// NewCoordinator builds a Coordinator with the given cooldown; zero or
// negative falls back to DefaultCooldown.
func NewCoordinator(cooldown time.Duration) *Coordinator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Coordinator{
		cooldown:    cooldown,
		now:         time.Now,
		lastChecked: make(map[key]time.Time),
	}
}

// Cooldown returns the configured cooldown window.
func (c *Coordinator) Cooldown() time.Duration {
	return c.cooldown
}

// CanCheckStatus reports whether a status check is currently allowed for
// the key. Video and document buckets are independent even when ids
// collide.
func (c *Coordinator) CanCheckStatus(resourceID string, mediaType media.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastChecked[key{resourceID, mediaType}]
	if !ok {
		return true
	}
	return c.now().Sub(last) >= c.cooldown
}

// RecordStatusCheck stamps the key with the current time. Call exactly
// once per allowed check, not per request attempt.
func (c *Coordinator) RecordStatusCheck(resourceID string, mediaType media.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChecked[key{resourceID, mediaType}] = c.now()
}

// RemainingCooldownSeconds returns 0 when a check is allowed, otherwise
// the ceiling of the remaining wait clamped to [1, cooldown]. The value is
// used verbatim as the Retry-After header.
func (c *Coordinator) RemainingCooldownSeconds(resourceID string, mediaType media.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastChecked[key{resourceID, mediaType}]
	if !ok {
		return 0
	}

	remaining := c.cooldown - c.now().Sub(last)
	if remaining <= 0 {
		return 0
	}

	secs := int(math.Ceil(remaining.Seconds()))
	max := int(math.Ceil(c.cooldown.Seconds()))
	if secs < 1 {
		secs = 1
	}
	if secs > max {
		secs = max
	}
	return secs
}

// Sweep drops entries older than several cooldown windows so the map stays
// bounded by the number of recently polled resources. Returns the number
// of entries removed.
func (c *Coordinator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-6 * c.cooldown)
	removed := 0
	for k, last := range c.lastChecked {
		if last.Before(cutoff) {
			delete(c.lastChecked, k)
			removed++
		}
	}
	return removed
}
