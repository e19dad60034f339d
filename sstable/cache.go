package sstable

import (
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// entry wraps an open Reader with a reference count so an LRU eviction (or
// a compaction's removal of the underlying file) never closes a reader
// that an in-flight read still holds, per the "deferred unlink until no
// ongoing read references it" resource policy.
type entry struct {
	mu          sync.Mutex
	reader      *Reader
	refs        int
	pendingDrop bool // file removed from the version; drop once refs hit 0
}

func (e *entry) acquire() {
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
}

func (e *entry) release() {
	e.mu.Lock()
	e.refs--
	shouldClose := e.refs == 0 && e.pendingDrop
	e.mu.Unlock()
	if shouldClose {
		_ = e.reader.Close()
	}
}

// Cache is a bounded, reference-counted LRU of open SSTable readers, one
// per live file number. It is the "File handles for live SSTables ...
// cached with an LRU of bounded size" resource from the concurrency and
// resource model.
type Cache struct {
	mu    sync.Mutex
	dir   string
	c     *lru.Cache[uint64, *entry]
	stats *Stats
}

// NewCache returns a table cache rooted at dir with capacity size.
func NewCache(dir string, size int) (*Cache, error) {
	if size <= 0 {
		size = 500
	}
	cache := &Cache{dir: dir, stats: &Stats{}}
	c, err := lru.NewWithEvict[uint64, *entry](size, func(_ uint64, e *entry) {
		e.mu.Lock()
		shouldClose := e.refs == 0
		if !shouldClose {
			e.pendingDrop = true
		}
		e.mu.Unlock()
		if shouldClose {
			_ = e.reader.Close()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "sstable: new table cache")
	}
	cache.c = c
	return cache, nil
}

// Get returns the Reader for meta.FileNumber, opening it if not cached,
// along with a release function the caller must call exactly once when
// done reading.
func (c *Cache) Get(meta Meta) (*Reader, func(), error) {
	c.mu.Lock()
	e, ok := c.c.Get(meta.FileNumber)
	if !ok {
		r, err := Open(Path(c.dir, meta.FileNumber), meta, c.stats)
		if err != nil {
			c.mu.Unlock()
			return nil, nil, err
		}
		e = &entry{reader: r}
		c.c.Add(meta.FileNumber, e)
	}
	e.acquire()
	c.mu.Unlock()
	return e.reader, e.release, nil
}

// Evict removes fileNumber from the cache — closing its reader immediately
// if unreferenced, or marking it pendingDrop so the last release() closes
// it — then unlinks the file. On Unix an unlink of a still-mmap'd file
// only detaches the name; the inode and any live mapping stay valid until
// the last handle closes, so the remove is safe to issue unconditionally.
func (c *Cache) Evict(fileNumber uint64) {
	c.mu.Lock()
	c.c.Remove(fileNumber) // triggers the eviction callback above
	c.mu.Unlock()
	_ = os.Remove(Path(c.dir, fileNumber))
}

// Stats returns a point-in-time snapshot of this cache's bloom
// filter effectiveness counters.
func (c *Cache) Stats() Stats {
	return c.stats.Snapshot()
}

// Close closes every cached reader.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.c.Keys() {
		if e, ok := c.c.Peek(k); ok {
			_ = e.reader.Close()
		}
	}
	c.c.Purge()
	return nil
}
