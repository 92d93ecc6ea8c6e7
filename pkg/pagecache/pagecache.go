// Package pagecache implements the fixed-capacity LRU used to amortize
// mmap/munmap churn. It is a direct Go rendering of
// original_source/cache.h's intrusive doubly-linked list + hash map:
// Put inserts at MRU and evicts the LRU entry once capacity is exceeded,
// Get promotes on hit, and Sync walks MRU-to-LRU without evicting.
package pagecache

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"
)

// Item is anything the cache can hold: a mmap'd Page or a Chunk bitmap
// header.
type Item interface {
	// ID returns the cache key: a page id for node/data pages, a chunk id
	// for chunk-bitmap headers.
	ID() uint64
	// Sync flushes the item if dirty. unmap additionally releases the
	// underlying mapping; the item must not be used afterward.
	Sync(unmap bool) error
}

// Cache is a fixed-capacity, most-recently-used-first LRU keyed by uint64
// id. It is not safe for concurrent use; callers serialize access (the
// store as a whole is single-threaded).
type Cache[T Item] struct {
	mu    sync.Mutex
	limit int
	items map[uint64]*list.Element
	order *list.List // front = MRU, back = LRU
}

// New creates a cache that holds at most limit items.
func New[T Item](limit int) *Cache[T] {
	if limit <= 0 {
		limit = 1
	}
	return &Cache[T]{
		limit: limit,
		items: make(map[uint64]*list.Element, limit),
		order: list.New(),
	}
}

// Put inserts item at MRU. If this pushes the cache over capacity, the LRU
// entry is evicted (synced with unmap=true, then dropped). Put panics if an
// item with the same id is already cached -- callers must never double-add,
// mirroring original_source/cache.h's bassert(false, "can't cache same item
// more then once").
func (c *Cache[T]) Put(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := item.ID()
	if _, ok := c.items[id]; ok {
		panic("pagecache: item already cached: " + itoa(id))
	}

	c.items[id] = c.order.PushFront(item)

	if c.order.Len() > c.limit {
		back := c.order.Back()
		evicted := back.Value.(T)
		c.order.Remove(back)
		delete(c.items, evicted.ID())
		if err := evicted.Sync(true); err != nil {
			return errors.Wrap(err, "failed to evict lru cache entry")
		}
	}
	return nil
}

// Get returns the cached item for id, promoting it to MRU, or the zero
// value and false if it is not cached.
func (c *Cache[T]) Get(id uint64) (item T, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[id]
	if !found {
		return item, false
	}

	c.order.MoveToFront(el)
	return el.Value.(T), true
}

// Evict forces eviction of id if present, syncing (with unmap) first.
func (c *Cache[T]) Evict(id uint64) error {
	c.mu.Lock()
	el, found := c.items[id]
	if !found {
		c.mu.Unlock()
		return nil
	}
	delete(c.items, id)
	c.order.Remove(el)
	c.mu.Unlock()

	item := el.Value.(T)
	return errors.Wrap(item.Sync(true), "failed to sync evicted entry")
}

// Sync walks MRU to LRU, syncing every entry without unmapping. Items
// decide internally whether they are actually dirty.
func (c *Cache[T]) Sync() error {
	c.mu.Lock()
	items := make([]T, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		items = append(items, el.Value.(T))
	}
	c.mu.Unlock()

	for _, item := range items {
		if err := item.Sync(false); err != nil {
			return errors.Wrap(err, "failed to sync cache entry")
		}
	}
	return nil
}

// Clear evicts every entry, syncing each with unmap=true.
func (c *Cache[T]) Clear() error {
	for {
		c.mu.Lock()
		front := c.order.Front()
		if front == nil {
			c.mu.Unlock()
			return nil
		}
		item := front.Value.(T)
		c.order.Remove(front)
		delete(c.items, item.ID())
		c.mu.Unlock()

		if err := item.Sync(true); err != nil {
			return errors.Wrap(err, "failed to sync entry during clear")
		}
	}
}

// Len reports the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func itoa(id uint64) string {
	if id == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}
