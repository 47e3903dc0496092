// Package trapframe defines the per-process trapframe page spec.md §3
// and §4.6 describe: the saved user register file the trampoline
// assembly (out of scope here — spec.md §1 treats it as an external
// collaborator) spills to and restores from on every user<->kernel
// crossing.
//
// Grounded field-for-field on original_source/kernel/proc.h's `struct
// trapframe`: kernel_satp/kernel_sp/kernel_trap/kernel_hartid are the
// four fields usertrapret fills in for the *next* trap before
// returning to user mode; epc plus the general-purpose registers are
// what uservec saves on entry and userret restores on exit. Proc_t and
// the trap package both need this layout, so it lives in its own leaf
// package rather than in either.
package trapframe

// Trapframe_t mirrors struct trapframe's offsets and field order.
type Trapframe_t struct {
	KernelSatp  uint64
	KernelSp    uint64
	KernelTrap  uint64
	Epc         uint64
	KernelHartid uint64

	Ra, Sp, Gp, Tp                     uint64
	T0, T1, T2                         uint64
	S0, S1                             uint64
	A0, A1, A2, A3, A4, A5, A6, A7      uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6                     uint64
}

// Args returns the six syscall argument registers a7 selects among,
// the fixed a0..a5 positions spec.md §4.11 specifies.
func (tf *Trapframe_t) Args() [6]uint64 {
	return [6]uint64{tf.A0, tf.A1, tf.A2, tf.A3, tf.A4, tf.A5}
}

// SetRet stores a syscall's 64-bit return value into a0, spec.md
// §4.11's "return in a0" convention. A negative Err_t is stored as its
// two's-complement uint64, matching a C `int` return cast the same
// way.
func (tf *Trapframe_t) SetRet(v int64) {
	tf.A0 = uint64(v)
}
