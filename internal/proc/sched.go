// sched.go is the scheduler half of spec.md §4.5: context switch,
// sleep/wakeup rendezvous, and yield.
//
// This is a hosted build (spec.md's "faithful ... reimplementation ...
// built to compile and be tested", not to run on real Sv39 silicon):
// there is no register file to save/restore across a real swtch(), so
// each Proc_t is backed by its own goroutine and "the CPU" is modeled
// as a fixed pool of hart tokens (harts, sized in Init) a process must
// hold to be RUNNING. Acquiring a token is the dispatch spec.md's
// scheduler loop performs; releasing one and blocking is what sleep/
// yield/exit do instead of a literal context switch. Go's own
// goroutine scheduler supplies the actual concurrency and preemption
// between tokens, the same relationship biscuit's own kernel-in-a-
// goroutine design has to the host Go runtime (tinfo.Tnote_t's
// Current()/SetCurrent() already assumes "the calling goroutine is the
// thread", which this package extends to "the calling goroutine is the
// process").
package proc

import (
	"runtime"

	"sv39kernel/internal/cpu"
	"sv39kernel/internal/kprof"
	"sv39kernel/internal/kstats"
	"sv39kernel/internal/riscv"
	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
)

// acquireHart/releaseHart take and give back one of the NHarts dispatch
// tokens and pair it with riscv.SetHart/ClearHart so cpu.Mycpu() never
// aliases two concurrently-dispatched processes onto the same Cpu_t
// slot (see riscv.Hartid's doc comment).
func (p *Proc_t) acquireHart() {
	idx := <-harts
	p.hartIdx = idx
	riscv.SetHart(idx)
}

func (p *Proc_t) releaseHart() {
	riscv.ClearHart()
	harts <- p.hartIdx
}

// run is the goroutine body every RUNNABLE Proc_t gets in Spawn/Fork:
// acquire a hart, dispatch (RUNNABLE -> RUNNING, this hart's current
// process becomes p), run the entry point to completion, and fall back
// to an implicit exit(0) if it returns without calling Exit.
func (p *Proc_t) run() {
	p.acquireHart()
	p.lock.Acquire()
	if p.state != RUNNABLE {
		panic("proc: run of non-RUNNABLE process")
	}
	p.state = RUNNING
	cpu.Mycpu().Proc = p
	p.lock.Release()
	kstats.KernStats.CtxSwitches.Inc()

	start := kprof.Now()
	if p.entry != nil {
		p.entry(p)
	}
	p.Acct.Utadd(kprof.Now() - start)

	if p.State() != ZOMBIE {
		Exit(p, 0)
	}
}

// Yield gives up the hart voluntarily — called from the timer-tick
// path (internal/trap) and anywhere else cooperative rescheduling is
// wanted (spec.md §4.5 "yield").
func (p *Proc_t) Yield() {
	p.lock.Acquire()
	if p.state != RUNNING {
		panic("proc: yield of non-RUNNING process")
	}
	p.state = RUNNABLE
	cpu.Mycpu().Proc = nil
	p.lock.Release()

	p.releaseHart()
	runtime.Gosched()
	p.acquireHart()

	p.lock.Acquire()
	p.state = RUNNING
	cpu.Mycpu().Proc = p
	p.lock.Release()
	kstats.KernStats.CtxSwitches.Inc()
}

// Sleep blocks p on chanTag, atomically releasing lk across the block
// (spec.md §4.5): lk is released only once p's own lock is held, and
// the SLEEPING state and channel tag are written under that lock, so a
// Wakeup racing in from another hart can never be lost (it also needs
// p's lock to observe the state/chan pair it's matching against).
func (p *Proc_t) Sleep(chanTag sleeplock.ChanTag, lk *spinlock.Lock_t) {
	p.lock.Acquire()
	lk.Release()
	p.chanTag = chanTag
	p.state = SLEEPING
	cpu.Mycpu().Proc = nil
	select {
	case <-p.wakeCh:
	default:
	}
	p.lock.Release()

	p.releaseHart()
	kstats.KernStats.SleepWaits.Inc()
	<-p.wakeCh
	p.acquireHart()

	p.lock.Acquire()
	p.chanTag = 0
	p.state = RUNNING
	cpu.Mycpu().Proc = p
	p.lock.Release()

	lk.Acquire()
}

// Wakeup wakes every process sleeping on chanTag (spec.md §4.5). It is
// both the package-level entry point (used by the tick handler, the
// console, the UART, and the log, none of which are necessarily the
// running process at call time) and the method that satisfies
// sleeplock.Waiter.
func Wakeup(chanTag sleeplock.ChanTag) {
	for _, q := range Table {
		q.lock.Acquire()
		if q.state == SLEEPING && q.chanTag == chanTag {
			q.state = RUNNABLE
			select {
			case q.wakeCh <- struct{}{}:
			default:
			}
		}
		q.lock.Release()
	}
}

func (p *Proc_t) Wakeup(chanTag sleeplock.ChanTag) { Wakeup(chanTag) }

// exitPark releases p's hart token and lets its goroutine return,
// ending it for good — a ZOMBIE process never runs again until its
// slot is reused by a later allocproc, long after this goroutine is
// gone.
func (p *Proc_t) exitPark() {
	cpu.Mycpu().Proc = nil
	p.releaseHart()
}

// Scheduler is the per-hart loop spec.md §4.5 describes: in this
// hosted build dispatch itself happens via the hart-token semaphore
// every Proc_t acquires in run/Yield/Sleep, so this loop's job is
// narrower than the real thing — it is where an idle hart would issue
// wfi while nothing is RUNNABLE. Never returns; boot glue starts one
// per simulated hart.
//
// This loop's own p.lock.Acquire/Release calls (below) touch
// cpu.Mycpu() the same as a dispatched process's do, so it needs its
// own hart identity distinct from the NHarts dispatch tokens —
// registered once, permanently, at NHarts+hart (see riscv.SetHart).
func Scheduler(hart int) {
	riscv.SetHart(NHarts + hart)
	for {
		anyRunnable := false
		for _, p := range Table {
			p.lock.Acquire()
			if p.state == RUNNABLE {
				anyRunnable = true
			}
			p.lock.Release()
		}
		if !anyRunnable {
			runtime.Gosched()
		}
	}
}
