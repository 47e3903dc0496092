// Package proc is the process table and scheduler core spec.md §4.5
// describes: one fixed-size global array of process slots, a
// per-process spinlock guarding {state, chan, killed, xstate, pid},
// and the global wait_lock serializing every parent/child relationship
// (spec.md §5: "must be taken before a process lock when both are
// needed").
//
// Grounded on tinfo/tinfo.go's Tnote_t (State/Killed/Alive bookkeeping
// behind one mutex, Current()/SetCurrent() per-thread lookup) and
// accnt/accnt.go's Accnt_t for the per-process user/system time this
// package feeds into internal/kprof. Neither teacher file has a real
// process *table* or a scheduler loop — biscuit leans on the Go
// runtime's own goroutine scheduler for that — so allocproc/fork/
// exit/wait/kill and the state machine below are built directly from
// spec.md §4.5 and original_source/kernel/proc.c, in tinfo's "small
// struct behind one lock, looked up through a stable per-thread
// identity" idiom.
package proc

import (
	"fmt"
	"unsafe"

	"sv39kernel/internal/cpu"
	"sv39kernel/internal/defs"
	"sv39kernel/internal/fd"
	"sv39kernel/internal/fslog"
	"sv39kernel/internal/kprof"
	"sv39kernel/internal/kstats"
	"sv39kernel/internal/limits"
	"sv39kernel/internal/mem"
	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
	"sv39kernel/internal/trapframe"
	"sv39kernel/internal/vm"
)

// State is a Proc_t's position in spec.md §4.5's state machine.
type State int

const (
	UNUSED State = iota
	USED
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

func (s State) String() string {
	switch s {
	case UNUSED:
		return "UNUSED"
	case USED:
		return "USED"
	case SLEEPING:
		return "SLEEPING"
	case RUNNABLE:
		return "RUNNABLE"
	case RUNNING:
		return "RUNNING"
	case ZOMBIE:
		return "ZOMBIE"
	default:
		return "?"
	}
}

// noParent marks a process with no parent (init, or a freshly freed
// slot) — spec.md §9's "sentinel for none".
const noParent = -1

// Entry_f is the body a process's goroutine runs once dispatched.
// Go cannot duplicate an in-flight call stack the way fork() duplicates
// a kernel stack, so Fork takes the child's entry point explicitly
// instead of re-entering the parent's stack at the point of the fork()
// call; see DESIGN.md for why this is the faithful adaptation here.
type Entry_f func(*Proc_t)

// Proc_t is one process table slot.
type Proc_t struct {
	slot int // stable index into Table; this proc's identity

	lock   spinlock.Lock_t
	state  State
	chanTag sleeplock.ChanTag
	killed bool
	xstate int
	pid    int
	name   string

	parent int // wait_lock-protected slot index, or noParent

	// Private to the process; no lock needed (spec.md §5).
	As    vm.AddrSpace_t
	Sz    uint64
	Fds   *fd.Table_t
	Cwd   *fd.Cwd_t
	Tf    *trapframe.Trapframe_t
	Kstack uint64
	ctx   cpu.Context_t
	Acct  kprof.Accnt_t

	entry   Entry_f
	wakeCh  chan struct{}
	hartIdx int // current hart token index, valid only while dispatched
}

func (p *Proc_t) Pid() int    { return p.pid }
func (p *Proc_t) Name() string { return p.name }

func (p *Proc_t) Killed() bool {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.killed
}

// MarkKilled flags p as killed without waking it, for trap paths that
// have already observed p running on the calling hart (spec.md §4.6
// "mark killed" on an unrecognized user-mode trap).
func (p *Proc_t) MarkKilled() {
	p.lock.Acquire()
	p.killed = true
	p.lock.Release()
}

func (p *Proc_t) State() State {
	p.lock.Acquire()
	defer p.lock.Release()
	return p.state
}

// selfChan is the channel tag wait() sleeps on while waiting for one of
// its children to become a zombie, per spec.md §4.5 ("sleep on the
// parent process's own address as channel"). Slot-keyed rather than
// pid-keyed so a reused pid never collides with a stale waiter.
func (p *Proc_t) selfChan() sleeplock.ChanTag {
	return sleeplock.ChanTag(1_000_000 + p.slot)
}

// Table is the global fixed-size process table.
var Table []*Proc_t

// WaitLock is the single serialization point for parent/child
// relationships (spec.md §4.5, §5): must be acquired before any
// process lock when both are needed.
var WaitLock spinlock.Lock_t

var pidLock spinlock.Lock_t
var nextPid = 1

// Allocator is the subset of mem.Allocator_t the process table needs
// to build trapframes and page tables; Init wires it to the kernel's
// physical page allocator.
type Allocator = vm.Allocator

var pageAlloc Allocator

// Log, when non-nil, is the write-ahead log Exit wraps the cwd-close
// in a transaction with (spec.md §4.5 "put cwd inode (inside a log
// transaction)"). Boot glue sets this once fslog is up.
var Log *fslog.Log_t

// InitProc is process slot 0's occupant once userinit runs; exiting
// processes reparent orphaned children to it (spec.md §4.5).
var InitProc *Proc_t

// harts is the pool of dispatch-hart tokens, indexed 0..NHarts-1.
// NHarts is also where the per-hart Scheduler loops' own slots begin
// (NHarts..2*NHarts-1, assigned once per loop in Scheduler) so a
// dispatched process and every scheduler loop always occupy disjoint
// cpu.Cpu_t slots, even though they are independent goroutines with no
// other synchronization between them (see riscv.SetHart's doc comment).
var harts chan int
var NHarts int

// Init builds the fixed-size process table and the hart-token pool
// this hosted build schedules goroutines against (see sched.go).
// Called once, from the boot CPU, before any other proc.* call
// (spec.md §9 "Global mutable state").
func Init(mm Allocator, nharts int) {
	limits.Syslimit.Slots = limits.Sysatomic_t(limits.Syslimit.NPROC)
	Table = make([]*Proc_t, limits.Syslimit.NPROC)
	for i := range Table {
		Table[i] = &Proc_t{
			slot:   i,
			lock:   *spinlock.New(fmt.Sprintf("proc%d", i)),
			parent: noParent,
			wakeCh: make(chan struct{}, 1),
		}
	}
	pageAlloc = mm
	NHarts = nharts
	harts = make(chan int, nharts)
	for i := 0; i < nharts; i++ {
		harts <- i
	}
	sleeplock.Current = func() sleeplock.Waiter {
		rp := cpu.Mycpu().Proc
		if rp == nil {
			panic("proc: sleeplock.Current called with no running process")
		}
		return rp.(*Proc_t)
	}
}

// allocproc scans for an UNUSED slot, transitions it to USED, assigns
// a fresh pid, and seeds a trapframe and empty user page table. Returns
// with the slot's lock held, exactly as spec.md §4.5 specifies, so the
// caller can finish initialization atomically with respect to wakeup/
// kill/wait scans.
func allocproc(name string) (*Proc_t, defs.Err_t) {
	if !limits.Syslimit.Slots.Take() {
		return nil, -defs.EAGAIN
	}
	for _, p := range Table {
		p.lock.Acquire()
		if p.state != UNUSED {
			p.lock.Release()
			continue
		}
		pidLock.Acquire()
		pid := nextPid
		nextPid++
		pidLock.Release()

		tfPage := pageAlloc.Alloc()
		if tfPage == nil {
			p.state = UNUSED
			p.lock.Release()
			limits.Syslimit.Slots.Give()
			return nil, -defs.ENOMEM
		}
		ptPage := pageAlloc.Alloc()
		if ptPage == nil {
			pageAlloc.Free(tfPage)
			p.state = UNUSED
			p.lock.Release()
			limits.Syslimit.Slots.Give()
			return nil, -defs.ENOMEM
		}
		pt := vm.PtFromPage(ptPage)
		for i := range pt {
			pt[i] = 0
		}

		p.pid = pid
		p.name = name
		p.killed = false
		p.xstate = 0
		p.chanTag = 0
		p.parent = noParent
		p.Sz = 0
		p.As = vm.AddrSpace_t{Pt: pt, Mem: pageAlloc}
		p.Tf = (*trapframe.Trapframe_t)(vm.PagePtr(tfPage))
		*p.Tf = trapframe.Trapframe_t{}
		p.Fds = fd.NewTable()
		p.Cwd = nil
		p.Acct = kprof.Accnt_t{}
		p.entry = nil
		p.state = USED
		select {
		case <-p.wakeCh:
		default:
		}
		return p, 0
	}
	limits.Syslimit.Slots.Give()
	return nil, -defs.EAGAIN
}

// freeslot tears down a reaped zombie's resources and returns the slot
// to UNUSED (spec.md §4.5 "ZOMBIE -> parent's wait -> UNUSED").
// Caller holds p.lock.
func freeslot(p *Proc_t) {
	if p.Tf != nil {
		pageAlloc.Free(vm.PageFromPtr(unsafe.Pointer(p.Tf)))
	}
	vm.Uvmfree(p.As.Pt, p.As.Mem, p.Sz)
	p.Tf = nil
	p.As = vm.AddrSpace_t{}
	p.Sz = 0
	p.pid = 0
	p.name = ""
	p.killed = false
	p.xstate = 0
	p.chanTag = 0
	p.parent = noParent
	p.entry = nil
	p.Fds = nil
	p.Cwd = nil
	p.state = UNUSED
	limits.Syslimit.Slots.Give()
	kstats.KernStats.ProcsReaped.Inc()
}

// Spawn creates the very first process (spec.md's userinit): no
// parent, entry runs immediately once dispatched.
func Spawn(name string, entry Entry_f) (*Proc_t, defs.Err_t) {
	p, err := allocproc(name)
	if err != 0 {
		return nil, err
	}
	p.entry = entry
	p.state = RUNNABLE
	p.lock.Release()
	go p.run()
	return p, 0
}

// Fork duplicates parent's address space and open files into a fresh
// child slot, per spec.md §4.5: "allocproc -> uvmcopy -> duplicate
// trapframe (child's a0=0) -> duplicate open-file refs + cwd inode ref
// -> set parent under wait_lock -> transition RUNNABLE". childEntry is
// the function the child's goroutine runs — see Entry_f's doc comment
// for why the caller supplies it explicitly in this hosted model.
func Fork(parent *Proc_t, childEntry Entry_f) (defs.Pid_t, defs.Err_t) {
	child, err := allocproc(parent.name + "-child")
	if err != 0 {
		return 0, err
	}
	if e := vm.Uvmcopy(parent.As.Pt, child.As.Pt, pageAlloc, parent.Sz); e != 0 {
		child.state = UNUSED
		child.lock.Release()
		limits.Syslimit.Slots.Give()
		return 0, e
	}
	child.Sz = parent.Sz
	*child.Tf = *parent.Tf
	child.Tf.A0 = 0 // child's fork() return value

	nfds, e := parent.Fds.Copy()
	if e != 0 {
		vm.Uvmfree(child.As.Pt, child.As.Mem, child.Sz)
		child.state = UNUSED
		child.lock.Release()
		limits.Syslimit.Slots.Give()
		return 0, e
	}
	child.Fds = nfds
	child.Cwd = parent.Cwd
	child.entry = childEntry
	childPid := child.pid
	child.lock.Release()

	WaitLock.Acquire()
	child.lock.Acquire()
	child.parent = parent.slot
	child.state = RUNNABLE
	child.lock.Release()
	WaitLock.Release()

	go child.run()
	kstats.KernStats.ProcsForked.Inc()
	return defs.Pid_t(childPid), 0
}

// reparent hands every child of p to InitProc, waking init in case one
// is already a zombie (spec.md §4.5's exit reparenting). Caller holds
// WaitLock.
func reparent(p *Proc_t) {
	for _, c := range Table {
		c.lock.Acquire()
		if c.parent == p.slot {
			c.parent = InitProc.slot
			if c.state == ZOMBIE {
				c.lock.Release()
				Wakeup(InitProc.selfChan())
				continue
			}
		}
		c.lock.Release()
	}
}

// Exit closes every open fd, drops the cwd reference inside a log
// transaction if one is wired, reparents children, records xstate, and
// parks the calling process as a ZOMBIE (spec.md §4.5). It returns only
// so the calling goroutine can unwind; the process never runs again.
func Exit(p *Proc_t, status int) {
	if p == InitProc {
		panic("proc: init exiting")
	}
	p.Fds.CloseAll()

	if p.Cwd != nil {
		if Log != nil {
			Log.BeginOp(p)
			fd.ClosePanic(p.Cwd.Fd)
			Log.EndOp(p)
		} else {
			fd.ClosePanic(p.Cwd.Fd)
		}
		p.Cwd = nil
	}

	WaitLock.Acquire()
	reparent(p)
	Wakeup(Table[p.parent0()].selfChan())

	p.lock.Acquire()
	p.xstate = status
	p.state = ZOMBIE
	p.lock.Release()

	WaitLock.Release()

	// exitPark releases this process's hart token and returns; the
	// goroutine unwinds back through whatever entry point called Exit
	// and terminates for good. A ZOMBIE process never runs again.
	p.exitPark()
}

// parent0 reads p.parent without the process lock: safe here because
// Exit already holds WaitLock, the lock that protects reassignment of
// p.parent, across this whole call.
func (p *Proc_t) parent0() int { return p.parent }

// Wait blocks p until one of its children becomes a zombie, reaps it,
// and returns its pid and exit status (spec.md §4.5). Returns -ECHILD
// immediately if p has no children or has been killed.
func Wait(p *Proc_t) (defs.Pid_t, int, defs.Err_t) {
	WaitLock.Acquire()
	for {
		haveChildren := false
		for _, c := range Table {
			c.lock.Acquire()
			if c.state == UNUSED || c.parent != p.slot {
				c.lock.Release()
				continue
			}
			haveChildren = true
			if c.state == ZOMBIE {
				pid := c.pid
				xstate := c.xstate
				freeslot(c)
				c.lock.Release()
				WaitLock.Release()
				return defs.Pid_t(pid), xstate, 0
			}
			c.lock.Release()
		}
		if !haveChildren || p.Killed() {
			WaitLock.Release()
			return 0, 0, -defs.ECHILD
		}
		p.Sleep(p.selfChan(), &WaitLock)
	}
}

// Kill flags pid as killed and, if it's sleeping, wakes it so the sleep
// returns (spec.md §4.5). Kill never itself terminates the target —
// termination happens the next time it would return to user space.
func Kill(pid int) defs.Err_t {
	for _, p := range Table {
		p.lock.Acquire()
		if p.pid == pid && p.state != UNUSED {
			p.killed = true
			if p.state == SLEEPING {
				p.state = RUNNABLE
				select {
				case p.wakeCh <- struct{}{}:
				default:
				}
			}
			p.lock.Release()
			return 0
		}
		p.lock.Release()
	}
	return -defs.ESRCH
}

var idleLock spinlock.Lock_t
const idleChan sleeplock.ChanTag = 0x4944_4c45 // "IDLE" as a stable, arbitrary tag

// ParkUntilKilled blocks p on a shared idle channel until kill() flags
// it, then exits with status -1 — the entry point a forked/spawned
// process runs when there is no user-mode text for it to execute
// (spec.md §1 treats the ELF exec loader as an out-of-scope external
// collaborator, so this kernel has nothing else to hand a process's
// goroutine). kill() still wakes a SLEEPING process unconditionally
// (see Kill above), so this is a faithful "observe killed() at a
// well-defined point" per spec.md §5.
func (p *Proc_t) ParkUntilKilled() {
	idleLock.Acquire()
	for !p.killed {
		p.Sleep(idleChan, &idleLock)
	}
	idleLock.Release()
	Exit(p, -1)
}

// Growproc grows or shrinks p's user memory by n bytes (n may be
// negative), spec.md §6's sbrk(n), returning the size before the
// change. Private to the calling process; no lock needed (spec.md §5).
func (p *Proc_t) Growproc(n int) (int, defs.Err_t) {
	old := p.Sz
	newsz := old
	var err defs.Err_t
	switch {
	case n > 0:
		newsz, err = uvmalloc(p.As.Pt, old, old+uint64(n))
	case n < 0:
		newsz = uvmdealloc(p.As.Pt, old, old+uint64(n))
	}
	if err != 0 {
		return 0, err
	}
	p.Sz = newsz
	return int(old), 0
}

// uvmalloc/uvmdealloc grow/shrink a page table's mapped range from
// oldsz to newsz, mirroring original_source/kernel/vm.c's helpers of
// the same name: page-at-a-time allocation with unwind-on-failure for
// growth, a single Uvmunmap call for shrink.
func uvmalloc(pt *vm.Pagetable_t, oldsz, newsz uint64) (uint64, defs.Err_t) {
	if newsz <= oldsz {
		return oldsz, 0
	}
	oldszUp := roundUpPage(oldsz)
	for a := oldszUp; a < newsz; a += uint64(mem.PGSIZE) {
		pg := pageAlloc.Alloc()
		if pg == nil {
			uvmdealloc(pt, a, oldsz)
			return 0, -defs.ENOMEM
		}
		if err := vm.Mappages(pt, pageAlloc, a, mem.PGSIZE, pageToPA(pg), vm.PTE_R|vm.PTE_W|vm.PTE_U); err != 0 {
			pageAlloc.Free(pg)
			uvmdealloc(pt, a, oldsz)
			return 0, err
		}
	}
	return newsz, 0
}

func uvmdealloc(pt *vm.Pagetable_t, oldsz, newsz uint64) uint64 {
	if newsz >= oldsz {
		return oldsz
	}
	oldszUp := roundUpPage(oldsz)
	newszUp := roundUpPage(newsz)
	if newszUp < oldszUp {
		n := int((oldszUp - newszUp) / uint64(mem.PGSIZE))
		vm.Uvmunmap(pt, pageAlloc, newszUp, n, true)
	}
	return newsz
}

func roundUpPage(a uint64) uint64 {
	return (a + uint64(mem.PGSIZE) - 1) &^ (uint64(mem.PGSIZE) - 1)
}

func pageToPA(pg *mem.Page_t) uint64 {
	return uint64(uintptr(vm.PagePtr(pg)))
}

// Dump prints every non-UNUSED slot's pid/name/state, restoring xv6's
// Ctrl-P procdump (spec.md §12), followed by the kernel-wide counter
// snapshot if kstats.Enabled.
func Dump() {
	for _, p := range Table {
		p.lock.Acquire()
		if p.state != UNUSED {
			fmt.Printf("%d %s %s\n", p.pid, p.state, p.name)
		}
		p.lock.Release()
	}
	fmt.Print(kstats.Snapshot(kstats.KernStats))
}
