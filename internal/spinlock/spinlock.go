// Package spinlock implements the interrupt-disabling, CPU-owned
// spinlock spec.md §4.2 describes, plus the push/pop interrupt-nesting
// discipline every other subsystem's critical sections rely on.
//
// Grounded on accnt/accnt.go's pattern of a small struct guarded by an
// embedded lock with Lock/Unlock bracketing every field access,
// generalized from a plain sync.Mutex to the CPU-ownership and
// nested-disable semantics original_source/kernel/spinlock.c specifies:
// acquire pushes the interrupt-disable depth before spinning, release
// pops it after clearing ownership.
package spinlock

import (
	"sync/atomic"

	"sv39kernel/internal/cpu"
	"sv39kernel/internal/riscv"
)

// Lock_t is a test-and-set spinlock that records its owning hart.
// Re-acquisition by the owner, over-popping nesting depth, or
// releasing with interrupts enabled are all invariant violations and
// panic rather than deadlock silently (spec.md §7).
type Lock_t struct {
	locked uint32
	cpu    int32 // hart id of owner, valid only while locked == 1
	name   string
}

// New names the lock for diagnostics; spinlocks are typically
// package-level globals initialized once at boot.
func New(name string) *Lock_t {
	return &Lock_t{cpu: -1, name: name}
}

// Holding reports whether the calling hart holds l. Used by Lockassert
// style checks throughout bio/fslog/proc.
func (l *Lock_t) Holding() bool {
	return atomic.LoadUint32(&l.locked) == 1 && int(atomic.LoadInt32(&l.cpu)) == riscv.Hartid()
}

// PushOff increments the calling hart's interrupt-disable nesting
// depth, disabling interrupts and recording the prior enabled state the
// first time depth leaves zero. Safe to call without holding any lock;
// every Acquire starts with one.
func PushOff() {
	enabled := riscv.InterruptsEnabled()
	riscv.DisableInterrupts()
	c := cpu.Mycpu()
	if c.NOff == 0 {
		c.Intena = enabled
	}
	c.NOff++
}

// PopOff reverses one PushOff. Restores the hart's interrupt-enabled
// state when depth returns to zero. Popping past zero, or popping while
// interrupts are enabled (which PushOff should never leave true), is an
// invariant violation.
func PopOff() {
	c := cpu.Mycpu()
	if riscv.InterruptsEnabled() {
		panic("spinlock: PopOff with interrupts enabled")
	}
	if c.NOff < 1 {
		panic("spinlock: PopOff without matching PushOff")
	}
	c.NOff--
	if c.NOff == 0 && c.Intena {
		riscv.EnableInterrupts()
	}
}

// Acquire pushes the interrupt-disable depth, then spins with acquire
// ordering until the lock is free, then records ownership. Re-entrant
// acquisition by the owning hart is fatal (spec.md §4.2).
func (l *Lock_t) Acquire() {
	PushOff()
	if l.Holding() {
		panic("spinlock: " + l.name + " recursive acquire")
	}
	for !atomic.CompareAndSwapUint32(&l.locked, 0, 1) {
		// busy-wait; a real target would issue a pause/wfi hint here
	}
	atomic.StoreInt32(&l.cpu, int32(riscv.Hartid()))
}

// Release clears ownership (release ordering) before popping the
// interrupt-disable depth, the mirror image of Acquire. Releasing a
// lock the calling hart does not hold is fatal.
func (l *Lock_t) Release() {
	if !l.Holding() {
		panic("spinlock: " + l.name + " release without holding")
	}
	atomic.StoreInt32(&l.cpu, -1)
	atomic.StoreUint32(&l.locked, 0)
	PopOff()
}
