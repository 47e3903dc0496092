// Package sleeplock implements the blocking lock spec.md §4.3
// describes: a held-flag and owning process id guarded by an internal
// spinlock, with the wait performed through a caller-supplied
// sleep/wakeup rendezvous so a holder can block across I/O without
// pinning a hart. proc.Proc's sleep/wakeup can't be imported here
// (proc imports bio, which would import sleeplock, so importing proc
// back would cycle), so the rendezvous is injected as a Waiter.
package sleeplock

import (
	"unsafe"

	"sv39kernel/internal/spinlock"
)

// ChanTag is a wait-channel tag (spec.md §3 "Wait channel": "any
// address-valued tag ... equality is by tag value"). Per spec.md §9's
// design note, this kernel uses an integer tag rather than a bare
// pointer so non-pointer resources (e.g. the global tick count) can
// serve as channels too; a sleeplock uses its own address as a tag
// that is guaranteed both stable and unique.
type ChanTag = uintptr

// Waiter is the subset of proc's scheduler sleep/wakeup this package
// needs. proc.Proc_t satisfies it directly.
type Waiter interface {
	// Sleep blocks the calling process on chan, atomically releasing
	// lk across the block, per spec.md §4.5.
	Sleep(chanTag ChanTag, lk *spinlock.Lock_t)
	// Wakeup wakes every process sleeping on chan.
	Wakeup(chanTag ChanTag)
	// Pid returns the calling process's pid, used as sleeplock owner.
	Pid() int
}

// Current is how a Lock_t finds the calling kernel thread to sleep on
// and to record as owner. It is set once, by proc.Init, to a closure
// returning the per-CPU current process (internal/cpu's Mycpu().Proc) —
// the same "per-CPU pointer, not per-goroutine TLS" model cpu.Cpu_t
// already uses, and the reason Lock_t itself stores no Waiter: the
// current process is a property of the hart the caller happens to be
// running on at acquire time, not something fixed when the lock was
// built.
var Current func() Waiter

// Lock_t is a sleeplock: at most one holder, identified by pid because
// holding survives a context switch (spec.md §4.3).
type Lock_t struct {
	mu    spinlock.Lock_t
	held  bool
	owner int
	name  string
}

// New builds a free sleeplock.
func New(name string) *Lock_t {
	return &Lock_t{owner: -1, name: name}
}

// chanTag returns the address of l's held flag as the wait-channel
// identity: stable for the lifetime of the lock, unique per lock
// instance.
func (l *Lock_t) chanTag() ChanTag {
	return ChanTag(uintptr(unsafe.Pointer(&l.held)))
}

// Acquire blocks until the lock is free, then takes it.
func (l *Lock_t) Acquire() {
	w := Current()
	l.mu.Acquire()
	for l.held {
		w.Sleep(l.chanTag(), &l.mu)
	}
	l.held = true
	l.owner = w.Pid()
	l.mu.Release()
}

// Release frees the lock and wakes every waiter.
func (l *Lock_t) Release() {
	w := Current()
	l.mu.Acquire()
	l.held = false
	l.owner = -1
	l.mu.Release()
	w.Wakeup(l.chanTag())
}

// Holding reports whether the calling process holds l.
func (l *Lock_t) Holding() bool {
	w := Current()
	l.mu.Acquire()
	r := l.held && l.owner == w.Pid()
	l.mu.Release()
	return r
}

// ErrIfNotHeld panics if the calling process doesn't hold l; bio/fslog
// use this to enforce spec.md §4.7's "Data mutation requires holding
// the per-buffer sleeplock" and §7's "bwrite without holding the
// sleeplock" fatal condition.
func (l *Lock_t) ErrIfNotHeld(op string) {
	if !l.Holding() {
		panic("sleeplock: " + op + " without holding " + l.name)
	}
}
