// Package activeusers maintains a cached count of recently active users.
// The count is the divisor that turns global model caps into per-user shares,
// so it sits on the hot path of every completion; reads hit an RWMutex-guarded
// snapshot and at most one recomputation runs per TTL window.
package activeusers

import (
	"context"
	"sync"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// CacheDuration is how long a snapshot is served before recomputation.
const CacheDuration = 30 * time.Second

// CountSource recomputes the distinct-user counts from the usage store.
type CountSource interface {
	ActiveUserCounts(ctx context.Context, now time.Time) (gateway.ActiveUserCount, error)
}

// Counter caches active-user snapshots with a short TTL.
type Counter struct {
	source CountSource
	now    func() time.Time

	mu         sync.RWMutex
	capturedAt time.Time
	snapshot   gateway.ActiveUserCount
	valid      bool
}

// NewCounter returns a Counter backed by source.
func NewCounter(source CountSource) *Counter {
	return &Counter{source: source, now: time.Now}
}

// Get returns the cached snapshot if fresh, otherwise recomputes it. Callers
// that race a recomputation serialize on the write lock and re-check the
// snapshot, so a burst triggers a single store query.
func (c *Counter) Get(ctx context.Context) (gateway.ActiveUserCount, error) {
	now := c.now()

	c.mu.RLock()
	if c.valid && now.Sub(c.capturedAt) < CacheDuration {
		snap := c.snapshot
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have refreshed while we waited for the lock.
	if c.valid && now.Sub(c.capturedAt) < CacheDuration {
		return c.snapshot, nil
	}

	snap, err := c.source.ActiveUserCounts(ctx, now)
	if err != nil {
		return gateway.ActiveUserCount{}, err
	}
	c.snapshot = snap
	c.capturedAt = now
	c.valid = true
	return snap, nil
}
