package session

import (
	"sync"
	"time"
)

// listingCache keeps per-tenant group listings so repeat reads inside
// the freshness window never touch the upstream service.
type listingCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]listingEntry

	now func() time.Time
}

type listingEntry struct {
	groups    []GroupInfo
	fetchedAt time.Time
}

func newListingCache(ttl time.Duration) *listingCache {
	return &listingCache{
		ttl:     ttl,
		entries: make(map[string]listingEntry),
		now:     time.Now,
	}
}

// get serves the tenant's listing while younger than the ttl. The ttl
// is a hard cutoff, an entry exactly at the boundary misses.
func (c *listingCache) get(tenant string) ([]GroupInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[tenant]
	if !ok || c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.groups, true
}

func (c *listingCache) put(tenant string, groups []GroupInfo) {
	c.mu.Lock()
	c.entries[tenant] = listingEntry{groups: groups, fetchedAt: c.now()}
	c.mu.Unlock()
}

func (c *listingCache) invalidate(tenant string) {
	c.mu.Lock()
	delete(c.entries, tenant)
	c.mu.Unlock()
}

// sweep drops every expired entry and reports how many went.
func (c *listingCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for tenant, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, tenant)
			removed++
		}
	}
	return removed
}
