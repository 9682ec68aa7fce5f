// Package blockcache implements the bounded block cache spec.md §4.G
// describes: up to kconfig.CacheSize entries of kconfig.BlockSize bytes
// each, evicting the first unreferenced entry under an LRU-ish policy
// when full, and syncing dirty entries back to the device on eviction,
// on release of their last handle, or on sync_all.
//
// The teacher's fs/blk.go runs an unbounded, refcounted, page-backed,
// journaling-aware cache (Bdev_block_t/BlkList_t) behind an object-cache
// machinery (objcache.go) this core doesn't carry — that generality
// belongs to a real multi-gigabyte filesystem, not a teaching core with
// a Non-goal on journaling. What survives is the shape: one mutex
// guarding the list/index, one mutex per entry guarding its payload,
// and a held-count used to decide what can be evicted.
package blockcache

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sync/singleflight"

	"rvkernel/internal/blockdev"
	"rvkernel/internal/kconfig"
	"rvkernel/internal/kernlog"
)

var log = kernlog.For("blockcache")

// entry is one cached block: a fixed-size payload, its dirty bit, and
// a hold count tracking outstanding Handles (spec.md's "shared-handle
// count").
type entry struct {
	mu    sync.Mutex
	id    int
	data  [kconfig.BlockSize]byte
	dirty bool
	held  int
}

// Handle is a caller's reference to one cached block. Release must be
// called exactly once per Get to drop the hold count, matching the
// teacher's Done()-releases-a-reference shape.
type Handle struct {
	c *Cache
	e *entry
}

// Cache is the bounded block cache: a single global mutex orders the
// LRU-ish list (insertion order doubles as recency here, same as the
// teacher's list.List-backed BlkList_t), each entry has its own mutex
// so payload reads/modifies don't contend on the global lock.
type Cache struct {
	mu    sync.Mutex
	dev   blockdev.Device
	order []*entry // front = oldest
	byID  map[int]*entry
	group singleflight.Group
}

// New returns an empty cache reading/writing through dev.
func New(dev blockdev.Device) *Cache {
	return &Cache{dev: dev, byID: make(map[int]*entry)}
}

// Get returns a shared Handle to block id, reading it from dev on a
// miss. Concurrent misses for the same id are collapsed into a single
// disk read via singleflight, matching spec.md's "return a shared
// handle" without a double-read race.
func (c *Cache) Get(id int) *Handle {
	c.mu.Lock()
	if e, ok := c.byID[id]; ok {
		e.held++
		c.touch(e)
		c.mu.Unlock()
		return &Handle{c: c, e: e}
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do(fmt.Sprintf("%d", id), func() (interface{}, error) {
		return c.fetch(id), nil
	})
	e := v.(*entry)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byID[id]; ok && existing != e {
		// Another Get (outside this singleflight call, e.g. racing the
		// eviction below) already installed id — share that one instead.
		existing.held++
		c.touch(existing)
		return &Handle{c: c, e: existing}
	}
	e.held++
	return &Handle{c: c, e: e}
}

// fetch evicts room if the cache is full, reads id from the device
// into a fresh entry, and installs it. Called at most once per id at a
// time (via the singleflight group in Get).
func (c *Cache) fetch(id int) *entry {
	c.mu.Lock()
	if e, ok := c.byID[id]; ok {
		c.mu.Unlock()
		return e
	}
	if len(c.order) >= kconfig.CacheSize {
		c.evictOneLocked()
	}
	c.mu.Unlock()

	e := &entry{id: id}
	c.dev.ReadBlock(id, &e.data)

	c.mu.Lock()
	c.byID[id] = e
	c.order = append(c.order, e)
	c.mu.Unlock()
	return e
}

// evictOneLocked removes the first entry with a zero hold count,
// flushing it first if dirty. c.mu must be held. Panics if every entry
// is held, per spec.md's "if no evictable entry exists, panic".
func (c *Cache) evictOneLocked() {
	for i, e := range c.order {
		e.mu.Lock()
		if e.held > 0 {
			e.mu.Unlock()
			continue
		}
		if e.dirty {
			c.writeBack(e)
		}
		e.mu.Unlock()
		c.order = append(c.order[:i], c.order[i+1:]...)
		delete(c.byID, e.id)
		log.WithField("block", e.id).Debug("evicted")
		return
	}
	panic("blockcache: no evictable entry (every cached block is held)")
}

// touch moves e to the back of the recency list. c.mu must be held.
func (c *Cache) touch(e *entry) {
	for i, o := range c.order {
		if o == e {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, e)
}

// writeBack flushes e to the device and clears its dirty bit. e.mu
// must be held by the caller.
func (c *Cache) writeBack(e *entry) {
	c.dev.WriteBlock(e.id, &e.data)
	e.dirty = false
}

// SyncAll flushes every dirty entry to the device.
func (c *Cache) SyncAll() {
	c.mu.Lock()
	entries := append([]*entry(nil), c.order...)
	c.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.dirty {
			c.writeBack(e)
		}
		e.mu.Unlock()
	}
}

// Release drops h's hold on its block, making it evictable again once
// no other Handle references it. Syncs the block first if it is dirty
// and this was the last reference, matching "dropping an entry syncs
// it if dirty".
func (h *Handle) Release() {
	h.e.mu.Lock()
	h.e.held--
	last := h.e.held == 0
	dirty := h.e.dirty
	if last && dirty {
		h.c.writeBack(h.e)
	}
	h.e.mu.Unlock()
}

// Read runs fn against a read-only view of the cached block, cast to
// *T the same way sv39.PageTable casts a raw page to *[512]PTE.
func Read[T, V any](h *Handle, fn func(*T) V) V {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	t := (*T)(unsafe.Pointer(&h.e.data[0]))
	return fn(t)
}

// Modify runs fn against a mutable view of the cached block and marks
// it dirty.
func Modify[T, V any](h *Handle, fn func(*T) V) V {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	t := (*T)(unsafe.Pointer(&h.e.data[0]))
	v := fn(t)
	h.e.dirty = true
	return v
}
