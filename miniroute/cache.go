package miniroute

import (
	"sync"

	"github.com/joeycumines/minikernel/netaddr"
	"github.com/joeycumines/minikernel/queue"
)

// The source's miniroute_cache_put_item aliases the hash-bucket linkage
// between discovery-history and route entries, which only worked in C
// because both structs shared a common pointer prefix (Open Questions,
// spec §9). These are kept as two separate, independently typed caches.
//
// Each is a capacity-bounded map plus a queue.Queue used purely for LRU
// order: the same arena-of-stable-indices structure that backs every other
// kernel queue, standing in for the source's "hash table with an overlaid
// LRU doubly-linked list" (spec §4.8).

// routeEntry is one resolved path, keyed by destination.
type routeEntry struct {
	dest    netaddr.Address
	path    []netaddr.Address
	expiry  uint64
	lru     queue.Ref
}

// routeCache caches resolved destination -> path mappings with a 3-second
// absolute tick expiry and a 20-entry LRU capacity (spec §4.8).
type routeCache struct {
	mu       sync.Mutex
	capacity int
	lifetime uint64 // in ticks
	byDest   map[netaddr.Address]*routeEntry
	lru      *queue.Queue[*routeEntry]
}

func newRouteCache(capacity int, lifetimeTicks uint64) *routeCache {
	return &routeCache{
		capacity: capacity,
		lifetime: lifetimeTicks,
		byDest:   make(map[netaddr.Address]*routeEntry),
		lru:      queue.New[*routeEntry](),
	}
}

func (c *routeCache) lookup(dest netaddr.Address, now uint64) ([]netaddr.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byDest[dest]
	if !ok {
		return nil, false
	}
	if now >= e.expiry {
		c.evictLocked(e)
		return nil, false
	}
	c.touchLocked(e)
	return append([]netaddr.Address(nil), e.path...), true
}

func (c *routeCache) put(dest netaddr.Address, path []netaddr.Address, now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byDest[dest]; ok {
		e.path = append([]netaddr.Address(nil), path...)
		e.expiry = now + c.lifetime
		c.touchLocked(e)
		return
	}
	for len(c.byDest) >= c.capacity {
		oldest, ok := c.lru.PopFront()
		if !ok {
			break
		}
		delete(c.byDest, oldest.dest)
	}
	e := &routeEntry{dest: dest, path: append([]netaddr.Address(nil), path...), expiry: now + c.lifetime}
	e.lru = c.lru.Append(e)
	c.byDest[dest] = e
}

func (c *routeCache) invalidate(dest netaddr.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byDest[dest]; ok {
		c.evictLocked(e)
	}
}

func (c *routeCache) evictLocked(e *routeEntry) {
	c.lru.Remove(e.lru)
	delete(c.byDest, e.dest)
}

func (c *routeCache) touchLocked(e *routeEntry) {
	c.lru.Remove(e.lru)
	e.lru = c.lru.Append(e)
}

// discoveryEntry suppresses re-broadcast of a discovery this node has
// already forwarded, keyed by (origin, id).
type discoveryEntry struct {
	key    discoveryKey
	expiry uint64
	lru    queue.Ref
}

type discoveryKey struct {
	origin netaddr.Address
	id     uint32
}

// discoveryCache remembers recently-seen discovery ids per origin, with a
// longer (30-second) expiry than the route cache (spec §4.8, §3).
type discoveryCache struct {
	mu       sync.Mutex
	capacity int
	lifetime uint64
	byKey    map[discoveryKey]*discoveryEntry
	lru      *queue.Queue[*discoveryEntry]
}

func newDiscoveryCache(capacity int, lifetimeTicks uint64) *discoveryCache {
	return &discoveryCache{
		capacity: capacity,
		lifetime: lifetimeTicks,
		byKey:    make(map[discoveryKey]*discoveryEntry),
		lru:      queue.New[*discoveryEntry](),
	}
}

// seen reports whether (origin, id) was already recorded and unexpired; if
// not, it records it now.
func (c *discoveryCache) seen(origin netaddr.Address, id uint32, now uint64) bool {
	key := discoveryKey{origin: origin, id: id}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byKey[key]; ok {
		if now < e.expiry {
			return true
		}
		c.evictLocked(e)
	}
	for len(c.byKey) >= c.capacity {
		oldest, ok := c.lru.PopFront()
		if !ok {
			break
		}
		delete(c.byKey, oldest.key)
	}
	e := &discoveryEntry{key: key, expiry: now + c.lifetime}
	e.lru = c.lru.Append(e)
	c.byKey[key] = e
	return false
}

func (c *discoveryCache) evictLocked(e *discoveryEntry) {
	c.lru.Remove(e.lru)
	delete(c.byKey, e.key)
}
