// Package bio is the buffer cache spec.md §4.7 describes: a fixed pool
// of disk-block-sized buffers kept in LRU order behind one cache
// spinlock, with a per-buffer sleeplock serializing access to the data
// itself.
//
// Grounded on fs/blk.go's Bdev_block_t/BlkList_t/Disk_i trio, adapted
// from biscuit's page-allocator-backed block (a block's data lived in a
// physically addressed page managed by a separate Blockmem_i) to a
// plain fixed-size byte array per slot — this kernel's buffer cache has
// no virtual memory pressure to relieve, so there is nothing to gain
// from indirecting through the page allocator the way the teacher does
// for its demand-paged target.
package bio

import (
	"container/list"
	"fmt"

	"sv39kernel/internal/fs"
	"sv39kernel/internal/kstats"
	"sv39kernel/internal/limits"
	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
)

// Disk is the block device bio reads through and writes to. internal/virtio
// satisfies it; grounded on fs/blk.go's Disk_i.
type Disk interface {
	// Rw performs a synchronous read (into b.Data) or write (from
	// b.Data) of one block, blocking until the device completes it.
	Rw(b *Buf_t, write bool)
}

// Buf_t is one cached disk block.
type Buf_t struct {
	Dev     int
	Blockno uint32
	Data    [fs.BSIZE]byte
	Valid   bool // has data been read from disk
	Disk    bool // 1 iff the block is in flight to the device

	sleep *sleeplock.Lock_t
	ref   int
	elem  *list.Element // this buf's node in the LRU list, owned by the cache
}

// Sleeplock exposes the per-buffer sleeplock; bwrite's caller and the
// virtio driver (which clears Disk from an interrupt context without
// taking the sleeplock, matching spec.md §4.9) both need it.
func (b *Buf_t) Sleeplock() *sleeplock.Lock_t { return b.sleep }

// Cache_t is the whole buffer pool.
type Cache_t struct {
	lock spinlock.Lock_t
	disk Disk
	l    *list.List // MRU at front, LRU at back
	bufs map[*list.Element]*Buf_t
}

// New builds an empty cache of limits.Syslimit.NBUF slots backed by
// disk.
func New(disk Disk) *Cache_t {
	return &Cache_t{lock: *spinlock.New("bcache"), disk: disk, l: list.New(), bufs: make(map[*list.Element]*Buf_t)}
}

func (c *Cache_t) find(dev int, blockno uint32) *Buf_t {
	for e := c.l.Front(); e != nil; e = e.Next() {
		b := c.bufs[e]
		if b.Dev == dev && b.Blockno == blockno {
			return b
		}
	}
	return nil
}

// Bread returns a locked buffer containing block (dev, blockno)'s
// contents, reading from disk only if it wasn't already cached
// (spec.md §4.7). Fatal if the pool has no reusable slot — the system
// is sized so that never happens under correct use.
func (c *Cache_t) Bread(dev int, blockno uint32) *Buf_t {
	c.lock.Acquire()
	if b := c.find(dev, blockno); b != nil {
		b.ref++
		c.lock.Release()
		kstats.KernStats.BufCacheHits.Inc()
		b.sleep.Acquire()
		return b
	}
	kstats.KernStats.BufCacheMiss.Inc()

	// scan from LRU (back) for first refcount==0 slot to recycle
	if c.l.Len() < limits.Syslimit.NBUF {
		b := &Buf_t{sleep: sleeplock.New(fmt.Sprintf("buf%d", c.l.Len()))}
		b.elem = c.l.PushFront(b)
		c.bufs[b.elem] = b
		b.Dev, b.Blockno, b.Valid, b.ref = dev, blockno, false, 1
		c.lock.Release()
		b.sleep.Acquire()
		if !b.Valid {
			c.disk.Rw(b, false)
			b.Valid = true
		}
		return b
	}
	for e := c.l.Back(); e != nil; e = e.Prev() {
		b := c.bufs[e]
		if b.ref == 0 {
			b.Dev, b.Blockno, b.Valid, b.ref = dev, blockno, false, 1
			c.l.MoveToFront(e)
			c.lock.Release()
			b.sleep.Acquire()
			if !b.Valid {
				c.disk.Rw(b, false)
				b.Valid = true
			}
			return b
		}
	}
	panic("bio: no free buffer slot")
}

// Brelse releases b; if its refcount drops to zero it becomes the MRU
// slot (spec.md's Testable Property 4).
func (c *Cache_t) Brelse(b *Buf_t) {
	b.sleep.Release()
	c.lock.Acquire()
	b.ref--
	if b.ref == 0 {
		c.l.MoveToFront(b.elem)
	}
	c.lock.Release()
}

// Bwrite synchronously writes b to disk. The caller must already hold
// b's sleeplock (spec.md §7: "bwrite without holding the sleeplock" is
// an invariant-violation panic).
func (c *Cache_t) Bwrite(b *Buf_t) {
	b.sleep.ErrIfNotHeld("bwrite")
	c.disk.Rw(b, true)
}

// Bpin/Bunpin adjust refcount without touching the sleeplock, used by
// the log to keep a buffer cached between log_write and commit.
func (c *Cache_t) Bpin(b *Buf_t) {
	c.lock.Acquire()
	b.ref++
	c.lock.Release()
}

func (c *Cache_t) Bunpin(b *Buf_t) {
	c.lock.Acquire()
	b.ref--
	c.lock.Release()
}
