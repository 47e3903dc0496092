// Package fslog is the write-ahead log spec.md §4.8 describes: a fixed
// header block naming up to N dirty destination blocks, followed by N
// log data slots, committed as a group once every syscall currently
// "inside" the log has left.
//
// Grounded on fs/super.go's Superblock_t field accessors (Loglen,
// Iorphanblock, ...) for the on-disk-layout-as-typed-struct idiom, and
// on original_source/kernel/log.c for begin_op/end_op/commit/recover's
// exact sequencing — the teacher repo's own log logic is folded into
// its transaction-scoped inode operations rather than kept as a
// standalone module, so log.c is the closer model for this package's
// shape.
package fslog

import (
	"sv39kernel/internal/bio"
	"sv39kernel/internal/fs"
	"sv39kernel/internal/kstats"
	"sv39kernel/internal/limits"
	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
)

// header_t is the in-memory and on-disk log header: a count plus the
// destination block number each log slot holds data for.
type header_t struct {
	n      int
	blocks [256]uint32 // sized generously; only the first n entries are meaningful
}

func (h *header_t) encode(n int) []byte {
	b := make([]byte, fs.BSIZE)
	put32(b[0:4], uint32(h.n))
	for i := 0; i < h.n; i++ {
		put32(b[4+4*i:8+4*i], h.blocks[i])
	}
	return b
}

func (h *header_t) decode(b []byte) {
	h.n = int(get32(b[0:4]))
	for i := 0; i < h.n; i++ {
		h.blocks[i] = get32(b[4+4*i : 8+4*i])
	}
}

func put32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func get32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Log_t is the write-ahead log for one disk. Fields below are guarded
// by lock exactly as spec.md §5's table lists ("Log header +
// outstanding + committing | spinlock | global").
type Log_t struct {
	lock        spinlock.Lock_t
	start       uint32 // first block of the log region
	size        int    // number of blocks in the log region, header included
	dev         int
	outstanding int
	committing  bool
	hdr         header_t

	cache *bio.Cache_t
}

// logChan is the wait channel begin_op/end_op rendezvous on.
const logChan sleeplock.ChanTag = 1

// Init recovers the log (if needed) and returns a ready Log_t, mirroring
// original_source/kernel/log.c's initlog.
func Init(dev int, sb *fs.Superblock_t, cache *bio.Cache_t) *Log_t {
	l := &Log_t{
		lock:  *spinlock.New("log"),
		start: sb.Logstart,
		size:  int(sb.Nlog),
		dev:   dev,
		cache: cache,
	}
	l.recover()
	return l
}

func (l *Log_t) readHeader() {
	b := l.cache.Bread(l.dev, l.start)
	l.hdr.decode(b.Data[:])
	l.cache.Brelse(b)
}

func (l *Log_t) writeHeader() {
	b := l.cache.Bread(l.dev, l.start)
	copy(b.Data[:], l.hdr.encode(l.hdr.n))
	l.cache.Bwrite(b)
	l.cache.Brelse(b)
}

// recover replays a committed-but-not-yet-installed transaction found
// at boot (spec.md §4.8 "Recovery on boot").
func (l *Log_t) recover() {
	l.readHeader()
	if l.hdr.n > 0 {
		l.installTxn(true)
	}
	l.hdr.n = 0
	l.writeHeader()
}

func (l *Log_t) installTxn(recovering bool) {
	for i := 0; i < l.hdr.n; i++ {
		logBlk := l.cache.Bread(l.dev, l.start+1+uint32(i))
		dstBlk := l.cache.Bread(l.dev, l.hdr.blocks[i])
		dstBlk.Data = logBlk.Data
		l.cache.Bwrite(dstBlk)
		if !recovering {
			l.cache.Bunpin(dstBlk)
		}
		l.cache.Brelse(logBlk)
		l.cache.Brelse(dstBlk)
	}
}

// BeginOp reserves space for one syscall's transaction, blocking while a
// commit is in progress or while admitting it could overflow the log
// (spec.md §4.8).
func (l *Log_t) BeginOp(w sleeplock.Waiter) {
	l.lock.Acquire()
	for {
		full := (l.outstanding+1)*limits.Syslimit.MAXOPBLOCKS > l.size-1-l.hdr.n
		if l.committing || full {
			w.Sleep(logChan, &l.lock)
			continue
		}
		l.outstanding++
		break
	}
	l.lock.Release()
}

// EndOp decrements outstanding; the last one out performs the commit
// (spec.md §4.8's group-commit design).
func (l *Log_t) EndOp(w sleeplock.Waiter) {
	l.lock.Acquire()
	l.outstanding--
	if l.committing {
		panic("fslog: commit already running at end_op")
	}
	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		w.Wakeup(logChan)
	}
	l.lock.Release()

	if doCommit {
		l.commit()
		l.lock.Acquire()
		l.committing = false
		l.lock.Release()
		w.Wakeup(logChan)
		kstats.KernStats.LogCommits.Inc()
	}
}

// LogWrite records b's block number in the header, absorbing duplicate
// writes to the same block within one transaction (spec.md §4.8).
func (l *Log_t) LogWrite(b *bio.Buf_t) {
	l.lock.Acquire()
	defer l.lock.Release()
	if l.outstanding <= 0 {
		panic("fslog: log_write outside a transaction")
	}
	for i := 0; i < l.hdr.n; i++ {
		if l.hdr.blocks[i] == b.Blockno {
			kstats.KernStats.LogAbsorbed.Inc()
			return
		}
	}
	if l.hdr.n >= l.size-1 {
		panic("fslog: log overflow")
	}
	l.hdr.blocks[l.hdr.n] = b.Blockno
	l.hdr.n++
	l.cache.Bpin(b)
}

// commit performs the four-step sequence spec.md §4.8 specifies: copy
// bodies into the log, write the header (the commit point), install
// into destinations, then truncate the log.
func (l *Log_t) commit() {
	if l.hdr.n == 0 {
		return
	}
	for i := 0; i < l.hdr.n; i++ {
		logBlk := l.cache.Bread(l.dev, l.start+1+uint32(i))
		dstBlk := l.cache.Bread(l.dev, l.hdr.blocks[i])
		logBlk.Data = dstBlk.Data
		l.cache.Bwrite(logBlk)
		l.cache.Brelse(logBlk)
		l.cache.Brelse(dstBlk)
	}
	l.writeHeader() // commit point
	l.installTxn(false)
	l.hdr.n = 0
	l.writeHeader() // truncate
}
