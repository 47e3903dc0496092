// Package limits holds the compile-time-tunable resource ceilings every
// other kernel subsystem is sized against: process table slots, open
// files per process, buffer cache slots, log capacity, and virtio ring
// depth. Kernels size things with constants and atomically-checked
// counters, not config files; this package is the adaptation of that
// pattern (Syslimit_t / Sysatomic_t) to this kernel's own ceilings.
package limits

import "sync/atomic"

// Sysatomic_t is a counter that can be taken and given back atomically;
// Taken fails (without blocking) once the ceiling is reached.
type Sysatomic_t int64

func (s *Sysatomic_t) Given(n uint) {
	if atomic.AddInt64((*int64)(s), int64(n)) < 0 {
		panic("limit overflow")
	}
}

// Taken attempts to reserve n units, returning false without blocking
// if doing so would drive the counter negative.
func (s *Sysatomic_t) Taken(n uint) bool {
	if atomic.AddInt64((*int64)(s), -int64(n)) >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), int64(n))
	return false
}

func (s *Sysatomic_t) Take() bool { return s.Taken(1) }
func (s *Sysatomic_t) Give()      { s.Given(1) }

// Syslimit_t collects every fixed-size ceiling the kernel is built
// against.
type Syslimit_t struct {
	// NPROC is the size of the global process table (spec.md §4.5).
	NPROC int
	// NOFILE is the number of file-descriptor slots per process.
	NOFILE int
	// NBUF is the number of slots in the buffer cache (spec.md §4.7).
	NBUF int
	// LOGSIZE is N, the number of data slots the write-ahead log's
	// header can name (spec.md §4.8 and §3 "Log record in memory").
	LOGSIZE int
	// MAXOPBLOCKS bounds the destination blocks a single syscall's
	// transaction may touch; begin_op reserves MAXOPBLOCKS per
	// outstanding transaction.
	MAXOPBLOCKS int
	// NDESC is the size of the virtio descriptor table; must be a
	// power of two (spec.md §3 "Virtio ring state").
	NDESC int
	// BSIZE is the on-disk/cache block size in bytes (spec.md §6).
	BSIZE int
	// Slots is a free-running counter of currently-allocated process
	// slots, checked by allocproc before a linear scan even starts.
	Slots Sysatomic_t
}

// Syslimit is the kernel-wide instance every subsystem is sized
// against.
var Syslimit = MkSysLimit()

// MkSysLimit returns the default ceilings. Values match the scale an
// emulated/hosted Sv39 target with a handful of harts and a small disk
// image is exercised at.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		NPROC:       64,
		NOFILE:      16,
		NBUF:        64,
		LOGSIZE:     30,
		MAXOPBLOCKS: 10,
		NDESC:       8,
		BSIZE:       1024,
	}
}
