// Package trap is the trap/interrupt plumbing spec.md §4.6 describes:
// usertrap's cause dispatch, usertrapret's re-arm of the trampoline
// vector, kerneltrap's interrupts-only acceptance, and the device
// interrupt demux (PLIC claim/complete, UART/virtio handlers, the
// timer tick) that stitches every other subsystem together.
//
// Grounded on original_source/kernel/trap.c for the exact dispatch
// sequence (usertrap/usertrapret/kerneltrap/devintr/clockintr) and on
// kernel/chentry.go's package-per-boot-concern convention for where
// this logic lives relative to the rest of the tree. golang.org/x/arch
// is used exactly where the teacher's own module pulled it in
// (disassembly support for diagnostics): a killed user trap decodes the
// faulting instruction with riscv64asm.Decode before printing, so the
// diagnostic names the instruction instead of only its raw bytes. A
// fatal kernel trap panics with scause only; no instruction is decoded.
package trap

import (
	"fmt"

	"golang.org/x/arch/riscv64/riscv64asm"

	"sv39kernel/internal/cpu"
	"sv39kernel/internal/kstats"
	"sv39kernel/internal/proc"
	"sv39kernel/internal/riscv"
	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
)

// Cause codes this kernel actually dispatches on (scause values,
// Sv39/RISC-V privileged spec numbering).
const (
	CauseEcallU       uint64 = 8
	CauseTimerIntr    uint64 = 0x8000000000000005
	CauseExternalIntr uint64 = 0x8000000000000009
)

// devintr's return convention, per original_source/kernel/trap.c's
// devintr(): 0 unrecognized, 1 other device interrupt, 2 timer.
const (
	DevNone     = 0
	DevOther    = 1
	DevTimer    = 2
)

// TicksLock guards Ticks, spec.md §5's "Tick counter | spinlock |
// global".
var TicksLock = *spinlock.New("time")
var ticks uint64

// TickChan is the wait channel sys_sleep and any other timed wait
// sleeps on (spec.md §4.6 "wakes channel &ticks").
const TickChan sleeplock.ChanTag = 1 << 40

// Uptime returns the current tick count (the uptime() syscall's
// value).
func Uptime() uint64 {
	TicksLock.Acquire()
	defer TicksLock.Release()
	return ticks
}

// SleepTicks blocks w until at least n further ticks have elapsed,
// the realization of sys_sleep(n) (spec.md §6, §8 E6).
func SleepTicks(w sleeplock.Waiter, n uint64) {
	TicksLock.Acquire()
	target := ticks + n
	for ticks < target {
		w.Sleep(TickChan, &TicksLock)
	}
	TicksLock.Release()
}

// Clockintr fires on every timer interrupt. Only hart 0 advances the
// shared tick counter and wakes sleepers, matching original_source's
// clockintr "if(cpuid() == 0)" guard — every hart still re-arms its
// own next timer deadline, which this hosted build has no CSR to do,
// so only the counter/wakeup half is modeled.
func Clockintr(hart int) {
	if hart == 0 {
		TicksLock.Acquire()
		ticks++
		TicksLock.Release()
		proc.Wakeup(TickChan)
	}
	kstats.KernStats.Timerticks.Inc()
}

// Plic_t is the hosted stand-in for the Platform-Level Interrupt
// Controller: external interrupts are injected by Signal (boot glue's
// UART/virtio completion callbacks call this instead of a real PLIC
// latching a line) and drained one at a time by Claim, mirroring
// plic_claim()/plic_complete()'s pull-one-at-a-time contract.
type Plic_t struct {
	pending chan int
}

func NewPlic() *Plic_t {
	return &Plic_t{pending: make(chan int, 64)}
}

func (p *Plic_t) Signal(irq int) {
	select {
	case p.pending <- irq:
	default:
		panic("trap: PLIC pending queue overflow")
	}
}

// Claim returns the next pending irq, or 0 if none is pending — the
// "unexpected interrupt irq=0" case original_source's devintr treats
// as a no-op.
func (p *Plic_t) Claim() int {
	select {
	case irq := <-p.pending:
		return irq
	default:
		return 0
	}
}

// Complete acknowledges irq, letting the device raise it again. This
// hosted build's devices don't latch on an un-acked line, so Complete
// is a documented no-op call site kept so devintr's call sequence
// matches original_source's plic_complete(irq).
func (p *Plic_t) Complete(irq int) {}

const (
	UART0IRQ  = 10
	Virtio0IRQ = 1
)

// DeviceHandlers is what Devintr dispatches a claimed external irq to;
// boot glue wires the real uart.Uart_t/virtio.Disk_t instances in.
type DeviceHandlers struct {
	Plic   *Plic_t
	Uart   func()
	Virtio func()
}

// Devintr demuxes one interrupt, returning DevTimer/DevOther/DevNone
// per original_source/kernel/trap.c's devintr().
func (d *DeviceHandlers) Devintr(hart int, scause uint64) int {
	switch scause {
	case CauseExternalIntr:
		irq := d.Plic.Claim()
		switch irq {
		case UART0IRQ:
			if d.Uart != nil {
				d.Uart()
			}
		case Virtio0IRQ:
			if d.Virtio != nil {
				d.Virtio()
			}
		case 0:
		default:
			fmt.Printf("trap: unexpected interrupt irq=%d\n", irq)
		}
		if irq != 0 {
			d.Plic.Complete(irq)
		}
		kstats.KernStats.Interrupts.Inc()
		return DevOther
	case CauseTimerIntr:
		Clockintr(hart)
		return DevTimer
	default:
		return DevNone
	}
}

// decodeFault renders the instruction at stval/epc for panic/kill
// diagnostics, falling back to raw bytes if it doesn't decode as valid
// RISC-V (e.g. the fault address wasn't actually code).
func decodeFault(epc uint64, text []byte) string {
	inst, err := riscv64asm.Decode(text)
	if err != nil {
		return fmt.Sprintf("<undecodable at 0x%x: %v>", epc, err)
	}
	return fmt.Sprintf("0x%x: %s", epc, inst.String())
}

// Usertrap handles a trap from user mode (spec.md §4.6): advance epc
// past ecall before dispatching a syscall, delegate device interrupts,
// mark killed on anything else. syscall is the syscall dispatcher
// (internal/ksyscall.Dispatch), injected to avoid an import cycle
// (ksyscall needs proc.Proc_t, trap needs ksyscall's dispatcher).
func Usertrap(p *proc.Proc_t, hart int, scause uint64, faultText []byte, d *DeviceHandlers, syscall func(*proc.Proc_t)) {
	switch {
	case scause == CauseEcallU:
		if p.Killed() {
			proc.Exit(p, -1)
			return
		}
		p.Tf.Epc += 4
		riscv.RestoreInterrupts(true)
		syscall(p)
	default:
		if dev := d.Devintr(hart, scause); dev != DevNone {
			if dev == DevTimer {
				p.Yield()
			}
		} else {
			fmt.Printf("usertrap(): unexpected scause 0x%x pid=%d\n", scause, p.Pid())
			fmt.Printf("            %s\n", decodeFault(p.Tf.Epc, faultText))
			p.MarkKilled()
		}
	}

	if p.Killed() {
		proc.Exit(p, -1)
	}
}

// Usertrapret re-arms the trapframe fields usertrap will need on the
// process's next entry and installs the user page table, per
// original_source/kernel/trap.c's usertrapret(). This hosted build has
// no trampoline page to jump through, so the final "jump to userret"
// step is represented by riscv.WriteSatp alone; there is no user-mode
// execution to resume.
func Usertrapret(p *proc.Proc_t, kernelSatp, kernelSp, kernelTrap, kernelHartid uint64) {
	riscv.RestoreInterrupts(false)
	p.Tf.KernelSatp = kernelSatp
	p.Tf.KernelSp = kernelSp
	p.Tf.KernelTrap = kernelTrap
	p.Tf.KernelHartid = kernelHartid
	riscv.WriteSatp(0) // the real satp value is the process's own Sv39 root; wiring that through is boot glue's job, see internal/vm
}

// Kerneltrap handles a trap taken while already in the kernel
// (spec.md §4.6): only device interrupts are accepted here, any
// exception is fatal, and a timer tick yields if a process is current.
func Kerneltrap(hart int, scause uint64, interruptsWereEnabled, fromSupervisor bool, d *DeviceHandlers) {
	if !fromSupervisor {
		panic("kerneltrap: not from supervisor mode")
	}
	if interruptsWereEnabled {
		panic("kerneltrap: interrupts enabled")
	}
	dev := d.Devintr(hart, scause)
	if dev == DevNone {
		panic(fmt.Sprintf("kerneltrap: unrecognized scause 0x%x", scause))
	}
	if dev == DevTimer {
		if p, ok := cpu.Mycpu().Proc.(*proc.Proc_t); ok && p != nil {
			p.Yield()
		}
	}
}
