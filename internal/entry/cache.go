package entry

import (
	"container/list"
	"sync"
	"time"
)

// Cache is the entity cache contract. Implementations index the same
// Entry under both its id and its name; an entry present in one index
// is present in the other, or absent from both.
type Cache interface {
	GetByID(id string) (*Entry, bool)
	GetByName(name string) (*Entry, bool)
	Put(e *Entry)
	Remove(e *Entry)
	Clear()
	Len() int
}

// lruCache is the standard Cache implementation: LRU-bounded at a
// maximum item count, with a TTL evaluated lazily at lookup time. All
// methods hold a single mutex; the workload is read-mostly and coarse
// locking is deliberate.
type lruCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration

	byID   map[string]*list.Element
	byName map[string]*list.Element
	lru    *list.List // front = most recently used

	now func() time.Time
}

type cacheSlot struct {
	entry *Entry
	putAt time.Time
}

// NewCache returns a Cache bounded at maxSize entries with the given
// TTL. A ttl of zero disables age-based invalidation; a maxSize of
// zero or less disables caching entirely (a no-op cache is returned).
func NewCache(maxSize int, ttl time.Duration) Cache {
	if maxSize <= 0 {
		return NopCache{}
	}
	return &lruCache{
		maxSize: maxSize,
		ttl:     ttl,
		byID:    make(map[string]*list.Element),
		byName:  make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

func (c *lruCache) GetByID(id string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(c.byID[id])
}

func (c *lruCache) GetByName(name string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(c.byName[name])
}

// get implements lazy TTL: a stale hit is removed from both indices
// and reported as a miss.
func (c *lruCache) get(el *list.Element) (*Entry, bool) {
	if el == nil {
		return nil, false
	}
	slot := el.Value.(*cacheSlot)
	if c.ttl > 0 && c.now().Sub(slot.putAt) >= c.ttl {
		c.removeElement(el)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return slot.entry, true
}

func (c *lruCache) Put(e *Entry) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Last write wins: displace any existing mappings for this id or
	// name before inserting, so the two indices stay in lockstep.
	if el, ok := c.byID[e.ID()]; ok {
		c.removeElement(el)
	}
	if el, ok := c.byName[e.Name()]; ok {
		c.removeElement(el)
	}

	el := c.lru.PushFront(&cacheSlot{entry: e, putAt: c.now()})
	c.byID[e.ID()] = el
	c.byName[e.Name()] = el

	for c.lru.Len() > c.maxSize {
		c.removeElement(c.lru.Back())
	}
}

// Remove clears both index keys, read from the entry being removed.
func (c *lruCache) Remove(e *Entry) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byID[e.ID()]; ok {
		c.removeElement(el)
	}
	if el, ok := c.byName[e.Name()]; ok {
		c.removeElement(el)
	}
}

func (c *lruCache) removeElement(el *list.Element) {
	slot := el.Value.(*cacheSlot)
	delete(c.byID, slot.entry.ID())
	delete(c.byName, slot.entry.Name())
	c.lru.Remove(el)
}

func (c *lruCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = make(map[string]*list.Element)
	c.byName = make(map[string]*list.Element)
	c.lru.Init()
}

func (c *lruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// NopCache disables caching without branching at call sites: every
// lookup misses and every mutation is discarded.
type NopCache struct{}

func (NopCache) GetByID(string) (*Entry, bool)   { return nil, false }
func (NopCache) GetByName(string) (*Entry, bool) { return nil, false }
func (NopCache) Put(*Entry)                      {}
func (NopCache) Remove(*Entry)                   {}
func (NopCache) Clear()                          {}
func (NopCache) Len() int                        { return 0 }
