package usecase

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultDedupTTL is how long a message id suppresses re-processing.
const DefaultDedupTTL = 300 * time.Second

// DedupCache is a time-bounded set of seen message ids. Entries are purged
// once they are older than the TTL; nothing is persisted across restarts.
type DedupCache struct {
	ttl  time.Duration
	now  func() time.Time
	seen *xsync.Map[string, time.Time]
}

// NewDedupCache creates an empty cache. A non-positive ttl selects
// DefaultDedupTTL.
func NewDedupCache(ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupCache{
		ttl:  ttl,
		now:  time.Now,
		seen: xsync.NewMap[string, time.Time](),
	}
}

// SeenOrMark atomically checks and marks id. It returns false the first
// time an id is seen within the TTL and true for every later call, without
// touching the original first-seen time.
func (c *DedupCache) SeenOrMark(id string) bool {
	now := c.now()
	duplicate := false
	c.seen.Compute(id, func(firstSeen time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
		if loaded && !c.expired(firstSeen, now) {
			duplicate = true
			return firstSeen, xsync.CancelOp
		}
		return now, xsync.UpdateOp
	})
	return duplicate
}

// Sweep removes expired entries and reports how many were removed and how
// many remain.
func (c *DedupCache) Sweep() (removed, remaining int) {
	now := c.now()

	var stale []string
	c.seen.Range(func(id string, firstSeen time.Time) bool {
		if c.expired(firstSeen, now) {
			stale = append(stale, id)
		}
		return true
	})

	for _, id := range stale {
		// Re-check under the bucket lock: the id may have been re-marked
		// since Range saw it.
		c.seen.Compute(id, func(firstSeen time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
			if loaded && c.expired(firstSeen, now) {
				removed++
				return firstSeen, xsync.DeleteOp
			}
			return firstSeen, xsync.CancelOp
		})
	}
	return removed, c.seen.Size()
}

// Run sweeps every interval until ctx is done. onSweep, when set, observes
// each sweep.
func (c *DedupCache) Run(ctx context.Context, interval time.Duration, onSweep func(removed, remaining int)) {
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, remaining := c.Sweep()
			if onSweep != nil {
				onSweep(removed, remaining)
			}
		}
	}
}

// Len returns the number of entries, expired or not.
func (c *DedupCache) Len() int {
	return c.seen.Size()
}

// Reset drops every entry.
func (c *DedupCache) Reset() {
	c.seen.Clear()
}

func (c *DedupCache) expired(firstSeen, now time.Time) bool {
	return now.Sub(firstSeen) > c.ttl
}
