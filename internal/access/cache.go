package access

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheWindow bounds how long a decision may be served without
// re-deriving it. Reconciliation invalidates entries early, so the window
// only matters for accounts with no billing activity.
const DefaultCacheWindow = 30 * time.Minute

type cacheEntry struct {
	decision  Decision
	expiresAt time.Time
}

// Cache is a per-process, per-account decision cache. Concurrent misses
// for the same account collapse into a single recompute. An entry is never
// served past its expiry or past an explicit Invalidate.
type Cache struct {
	mu      sync.Mutex
	entries map[int64]cacheEntry
	gens    map[int64]uint64
	flights map[int64]int
	group   singleflight.Group

	window time.Duration
	now    func() time.Time
}

func NewCache(window time.Duration) *Cache {
	if window <= 0 {
		window = DefaultCacheWindow
	}
	return &Cache{
		entries: make(map[int64]cacheEntry),
		gens:    make(map[int64]uint64),
		flights: make(map[int64]int),
		window:  window,
		now:     time.Now,
	}
}

// GetOrCompute returns the cached decision for accountID, computing and
// storing it on a miss. Flights are keyed by the account's invalidation
// generation, so a caller arriving after an Invalidate never joins a
// compute that started before it; its result is neither stored nor served
// across the invalidation.
func (c *Cache) GetOrCompute(accountID int64, compute func() (Decision, error)) (Decision, error) {
	c.mu.Lock()
	now := c.now()
	if e, ok := c.entries[accountID]; ok && now.Before(e.expiresAt) {
		c.mu.Unlock()
		return e.decision, nil
	}
	gen := c.gens[accountID]
	c.flights[accountID]++
	c.mu.Unlock()

	key := strconv.FormatInt(accountID, 10) + ":" + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		d, err := compute()
		if err != nil {
			return Decision{}, err
		}
		d.ExpiresAt = d.EvaluatedAt.Add(c.window)

		c.mu.Lock()
		if c.gens[accountID] == gen {
			c.entries[accountID] = cacheEntry{decision: d, expiresAt: d.ExpiresAt}
		}
		c.mu.Unlock()
		return d, nil
	})

	c.mu.Lock()
	c.flights[accountID]--
	if c.flights[accountID] <= 0 {
		delete(c.flights, accountID)
	}
	c.mu.Unlock()

	if err != nil {
		return Decision{}, err
	}
	return v.(Decision), nil
}

// Invalidate drops the account's entry. Called synchronously after every
// successful reconciliation touching the account.
func (c *Cache) Invalidate(accountID int64) {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.gens[accountID]++
	c.mu.Unlock()
}

// Sweep removes expired entries and reports how many were dropped; run
// periodically so idle accounts do not pin memory.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			n++
		}
	}
	// A generation is only needed while a compute that captured it is in
	// flight or a live entry could be invalidated; the rest are garbage.
	for id := range c.gens {
		if _, live := c.entries[id]; !live && c.flights[id] == 0 {
			delete(c.gens, id)
		}
	}
	return n
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
