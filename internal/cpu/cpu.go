// Package cpu holds the per-hart record spec.md §3 describes: which
// process (if any) is running, the scheduler's saved context, the
// interrupt-disable nesting depth, and the interrupt-enabled flag
// captured when that depth left zero.
//
// Grounded on tinfo/tinfo.go's Tnote_t/Current/SetCurrent pattern: one
// slot of hart-local state, looked up through a stable per-hart index
// rather than a goroutine-local pointer, because accessors must run
// with interrupts disabled to avoid being migrated mid-read exactly as
// tinfo.Current documents ("protects killed ... and is a leaf lock").
package cpu

import "sv39kernel/internal/riscv"

// Context_t is the callee-saved register set preserved across a
// context switch (spec.md §4.5 "Context switch"). On real Sv39
// hardware this is ra + s0..s11 + sp; represented here as an opaque
// snapshot token produced by the scheduler's switch routine, kept as a
// named type so call sites read the way the spec describes them
// instead of as bare pointers.
type Context_t struct {
	RA, SP                                     uintptr
	S0, S1, S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uintptr
}

// RunningProc is implemented by proc.Proc_t. cpu cannot import proc
// (proc imports cpu for Mycpu), so the scheduler loop is told about the
// concrete process type only through this minimal interface — it just
// needs an identity the rest of cpu.go can store and hand back.
type RunningProc interface{}

// Cpu_t is one hart's scheduling state.
type Cpu_t struct {
	// Proc is the process currently RUNNING on this hart, or nil.
	Proc RunningProc
	// Scheduler is the context the per-hart scheduler loop resumes
	// into after a context switch returns.
	Scheduler Context_t
	// NOff is the interrupt-disable nesting depth (push_off/pop_off).
	NOff int
	// Intena is whether interrupts were enabled when NOff first went
	// from 0 to 1; restored when NOff returns to 0.
	Intena bool
}

var table [riscv.MAXHART]Cpu_t

// Mycpu returns the calling hart's record. Callers must already have
// interrupts disabled (spinlock.Acquire/PushOff do this before calling
// in), since the hart id backing this lookup is only stable while
// interrupts are off.
func Mycpu() *Cpu_t {
	return &table[riscv.Hartid()]
}
