// Package blobcache caches recently read/written blob files in memory.
// Entries are never authoritative: losing the cache only costs a disk read.
package blobcache

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"collabsync/internal/logging"
)

// Cache is a bounded LRU of blob file contents keyed by path. Eviction is
// driven by a total byte budget, but the most recent MinFiles entries are
// kept regardless of size.
type Cache struct {
	mu       sync.Mutex
	minFiles int
	maxBytes uint64
	curBytes uint64
	order    *list.List // front = most recently used, values are *entry
	entries  map[string]*list.Element
}

type entry struct {
	path string
	data []byte
}

// New creates a cache keeping at least minFiles entries within a maxBytes
// total budget.
func New(minFiles int, maxBytes uint64) *Cache {
	if minFiles < 0 {
		minFiles = 0
	}
	return &Cache{
		minFiles: minFiles,
		maxBytes: maxBytes,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// SaveAndCache writes data to disk, then inserts it into the cache.
func (c *Cache) SaveAndCache(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(path, data)
	logging.BlobCacheDebug("Cached blob on write: %s (%d bytes, cache=%d bytes)", path, len(data), c.curBytes)
	return nil
}

// FindOrCache serves data from the cache if present; otherwise it reads the
// file from disk and caches it.
func (c *Cache) FindOrCache(path string) ([]byte, error) {
	c.mu.Lock()
	if el, ok := c.entries[path]; ok {
		c.order.MoveToFront(el)
		data := el.Value.(*entry).data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(path, data)
	logging.BlobCacheDebug("Cached blob on read: %s (%d bytes)", path, len(data))
	return data, nil
}

// Forget drops a path from the cache, if present. Used when the backing
// file is deleted or rewritten outside the cache.
func (c *Cache) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[path]; ok {
		c.removeLocked(el)
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// SizeBytes returns the total bytes currently cached.
func (c *Cache) SizeBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

func (c *Cache) insertLocked(path string, data []byte) {
	if el, ok := c.entries[path]; ok {
		old := el.Value.(*entry)
		c.curBytes -= uint64(len(old.data))
		old.data = data
		c.curBytes += uint64(len(data))
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&entry{path: path, data: data})
		c.entries[path] = el
		c.curBytes += uint64(len(data))
	}
	c.trimLocked()
}

func (c *Cache) trimLocked() {
	for c.curBytes > c.maxBytes && c.order.Len() > c.minFiles {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		c.removeLocked(oldest)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.curBytes -= uint64(len(e.data))
	c.order.Remove(el)
	delete(c.entries, e.path)
	logging.BlobCacheDebug("Evicted blob: %s (%d bytes)", e.path, len(e.data))
}
