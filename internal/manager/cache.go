package manager

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loykin/lokivisor/internal/metrics"
	"github.com/loykin/lokivisor/internal/process"
)

// statusSnapshot is replaced whole, never field by field.
type statusSnapshot struct {
	status     process.Status
	observedAt time.Time
}

// statusCache bounds how often the driver is asked for the process state.
// Concurrent stale readers share one query. A snapshot is only replaced by
// one observed at the same time or later.
type statusCache struct {
	freshness time.Duration
	now       func() time.Time

	group singleflight.Group

	mu            sync.Mutex
	snap          statusSnapshot
	valid         bool
	generation    uint64    // bumped by invalidate so new readers don't join older queries
	invalidatedAt time.Time // queries started before this are not stored
}

func newStatusCache(freshness time.Duration, now func() time.Time) *statusCache {
	return &statusCache{freshness: freshness, now: now}
}

// get returns the cached status while it is fresh, otherwise runs query.
// A failed query is recorded as StatusUnknown.
func (c *statusCache) get(query func() (process.Status, error)) process.Status {
	c.mu.Lock()
	if c.valid && c.now().Sub(c.snap.observedAt) < c.freshness {
		st := c.snap.status
		c.mu.Unlock()
		metrics.IncStatusQuery("cache")
		return st
	}
	key := strconv.FormatUint(c.generation, 10)
	c.mu.Unlock()

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		startedAt := c.now()
		st, err := query()
		metrics.ObserveStatusQueryDuration(c.now().Sub(startedAt).Seconds())
		metrics.IncStatusQuery("driver")
		if err != nil {
			st = process.StatusUnknown
		}
		return c.store(statusSnapshot{status: st, observedAt: startedAt}), nil
	})
	return v.(process.Status)
}

// set records a transition the manager caused itself.
func (c *statusCache) set(st process.Status) {
	c.store(statusSnapshot{status: st, observedAt: c.now()})
}

// invalidate forces the next get to query the driver.
func (c *statusCache) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.generation++
	c.invalidatedAt = c.now()
	c.mu.Unlock()
}

// store replaces the snapshot unless next is older than what is held, and
// returns the status that is current afterwards.
func (c *statusCache) store(next statusSnapshot) process.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if next.observedAt.Before(c.snap.observedAt) || next.observedAt.Before(c.invalidatedAt) {
		if c.valid {
			return c.snap.status
		}
		// nothing newer is held; answer the caller without storing
		return next.status
	}
	prev := c.snap.status
	c.snap = next
	c.valid = true
	metrics.RecordStateTransition(prev.String(), next.status.String())
	return next.status
}

// snapshot returns the held snapshot and whether it is usable.
func (c *statusCache) snapshot() (statusSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, c.valid
}
