package cascade

import (
	"sync"
	"sync/atomic"
)

// lruEntry is a doubly-linked list node holding one resident tile.
type lruEntry struct {
	tile *Tile
	size int64
	used bool // marked used during the current frame
	prev *lruEntry
	next *lruEntry
}

// LRUCache is the provided ContentCache implementation: a bounded residency
// store over tiles, with least-recently-used eviction of content that was
// not marked used this frame.
//
// Capacity is a band, not a single number. IsFull reports true at MaxItems
// (or MaxBytes), which is what suppresses new content requests; UnloadUnused
// trims unused tiles back down to MinItems, so recently-retired content
// lingers as long as there is room. Tiles enter the cache when a content
// request is issued (so in-flight loads count against capacity) and a tile
// marked used in the current frame is never evicted, even while the cache is
// over capacity — saturation suppresses requests instead of raising errors.
//
// All methods are safe for concurrent use; loaders touch the cache from
// worker goroutines while the traversal marks tiles on the frame goroutine.
type LRUCache struct {
	mu       sync.Mutex
	entries  map[*Tile]*lruEntry
	head     *lruEntry // most recently used
	tail     *lruEntry // least recently used
	minItems int
	maxItems int
	maxBytes int64
	curBytes int64

	unload func(*Tile)

	evictions atomic.Uint64
}

// NewLRUCache creates a cache that reports full at maxItems tiles (or, when
// maxBytes > 0, at maxBytes of content) and trims unused tiles down to
// minItems on UnloadUnused. unload is called outside the cache lock for each
// evicted tile and must not reenter the cache; pass nil to only track
// residency. Panics unless 0 <= minItems <= maxItems and maxItems > 0.
func NewLRUCache(minItems, maxItems int, maxBytes int64, unload func(*Tile)) *LRUCache {
	if maxItems <= 0 || minItems < 0 || minItems > maxItems {
		panic("cascade: LRUCache needs 0 <= minItems <= maxItems and maxItems > 0")
	}
	return &LRUCache{
		entries:  make(map[*Tile]*lruEntry),
		minItems: minItems,
		maxItems: maxItems,
		maxBytes: maxBytes,
		unload:   unload,
	}
}

// Add inserts a tile into the cache with zero size, making it the most
// recently used entry and marking it used for the current frame. Returns
// false if the tile is already resident. Loaders call Add when a request is
// issued and SetSize once the content arrives.
func (c *LRUCache) Add(t *Tile) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[t]; ok {
		return false
	}
	e := &lruEntry{tile: t, used: true}
	c.entries[t] = e
	c.pushFront(e)
	return true
}

// SetSize records the byte size of a resident tile's content and reports
// whether the tile was resident. A false return means the tile was evicted
// (or removed) while its content was in flight; the caller should drop the
// payload.
func (c *LRUCache) SetSize(t *Tile, size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[t]
	if !ok {
		return false
	}
	c.curBytes += size - e.size
	e.size = size
	return true
}

// Remove evicts a tile without invoking the unload callback. Used by
// loaders to back out a failed request. No-op for tiles not in the cache.
func (c *LRUCache) Remove(t *Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[t]; ok {
		c.drop(e)
	}
}

// MarkUsed refreshes the tile's residency for the current frame and moves it
// to the front of the recency list. Unknown tiles are ignored.
func (c *LRUCache) MarkUsed(t *Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[t]
	if !ok {
		return
	}
	e.used = true
	if e != c.head {
		c.unlink(e)
		c.pushFront(e)
	}
}

// IsFull reports whether the cache is at capacity in items or bytes. While
// full, the traversal suppresses new content requests.
func (c *LRUCache) IsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxItems {
		return true
	}
	return c.maxBytes > 0 && c.curBytes >= c.maxBytes
}

// overMinLocked reports whether UnloadUnused still has trimming to do.
func (c *LRUCache) overMinLocked() bool {
	if len(c.entries) > c.minItems {
		return true
	}
	return c.maxBytes > 0 && c.curBytes > c.maxBytes
}

// UnloadUnused evicts least-recently-used tiles that were not marked used
// this frame until the cache is back at MinItems (and at or under MaxBytes),
// invoking the unload callback for each, then clears all used marks for the
// next frame. Hosts call it once per frame after Traverser.Update.
func (c *LRUCache) UnloadUnused() {
	c.mu.Lock()
	var evicted []*Tile
	for e := c.tail; e != nil && c.overMinLocked(); {
		prev := e.prev
		if !e.used {
			evicted = append(evicted, e.tile)
			c.drop(e)
		}
		e = prev
	}
	for e := c.head; e != nil; e = e.next {
		e.used = false
	}
	c.mu.Unlock()

	// Callbacks run unlocked: they typically clear content and reset the
	// tile's load state, and must be free to log or touch other locks.
	for _, t := range evicted {
		c.evictions.Add(1)
		if c.unload != nil {
			c.unload(t)
		}
	}
}

// Len returns the number of resident tiles.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Bytes returns the tracked content size of all resident tiles.
func (c *LRUCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Evictions returns the total number of tiles evicted by UnloadUnused
// (atomic, lock-free).
func (c *LRUCache) Evictions() uint64 { return c.evictions.Load() }

// --- intrusive list plumbing ---

func (c *LRUCache) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *LRUCache) unlink(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *LRUCache) drop(e *lruEntry) {
	c.unlink(e)
	delete(c.entries, e.tile)
	c.curBytes -= e.size
}
