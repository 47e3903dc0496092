package proc

import (
	"os"
	"testing"
	"time"

	"sv39kernel/internal/defs"
	"sv39kernel/internal/mem"
)

// TestMain spawns the one parentless process every other test forks
// children from. Spawn is meant to be called exactly once, for the
// kernel's own userinit (spec.md's "no parent" process) — every other
// process must come from Fork, which always gives its child a real
// parent slot, so Exit's wakeup of the parent's wait channel has a
// valid table entry to address.
func TestMain(m *testing.M) {
	Init(mem.New(64), 4)
	ready := make(chan struct{})
	p, err := Spawn("init", func(p *Proc_t) {
		close(ready)
		p.ParkUntilKilled() // never killed during tests; parks for good
	})
	if err != 0 {
		panic("failed to spawn the init process for testing")
	}
	InitProc = p
	<-ready
	waitForStateStandalone(p, SLEEPING)
	os.Exit(m.Run())
}

func waitForStateStandalone(p *Proc_t, want State) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && p.State() != want {
		time.Sleep(time.Millisecond)
	}
}

// waitForState polls until p reaches want or the deadline passes; these
// tests run real goroutines against the hart-token scheduler, so a tight
// poll loop (rather than a fixed sleep) is the only race-free way to
// observe an asynchronous state transition.
func waitForState(t *testing.T, p *Proc_t, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == want {
			// A ZOMBIE process still briefly holds its hart token
			// while its goroutine unwinds back out of run(); give
			// that a moment to finish before the caller's next
			// proc.* call (itself running on the test goroutine's
			// default, unassigned hart identity) touches any lock.
			time.Sleep(5 * time.Millisecond)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("process %d never reached %s, stuck in %s", p.Pid(), want, p.State())
}

func forkChild(t *testing.T, entry Entry_f) (defs.Pid_t, *Proc_t) {
	t.Helper()
	var child *Proc_t
	pid, err := Fork(InitProc, entry)
	if err != 0 {
		t.Fatalf("Fork failed: %d", err)
	}
	for _, c := range Table {
		if c.pid == int(pid) {
			child = c
			break
		}
	}
	if child == nil {
		t.Fatalf("could not find forked child pid %d in the table", pid)
	}
	return pid, child
}

func TestForkRunsEntryAndImplicitlyExits(t *testing.T) {
	ran := make(chan struct{})
	_, child := forkChild(t, func(p *Proc_t) {
		close(ran)
	})
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("forked entry never ran")
	}
	waitForState(t, child, ZOMBIE)
}

func TestExitRecordsStatus(t *testing.T) {
	childPid, child := forkChild(t, func(p *Proc_t) {
		Exit(p, 42)
	})
	waitForState(t, child, ZOMBIE)

	pid, status, err := Wait(InitProc)
	if err != 0 {
		t.Fatalf("Wait failed: %d", err)
	}
	if pid != childPid {
		t.Fatalf("Wait reaped pid %d, want %d", pid, childPid)
	}
	if status != 42 {
		t.Fatalf("reaped status = %d, want 42", status)
	}
}

func TestKillWakesParkedProcess(t *testing.T) {
	_, child := forkChild(t, func(p *Proc_t) {
		p.ParkUntilKilled()
	})
	waitForState(t, child, SLEEPING)
	if e := Kill(child.Pid()); e != 0 {
		t.Fatalf("Kill failed: %d", e)
	}
	waitForState(t, child, ZOMBIE)
	if _, _, err := Wait(InitProc); err != 0 {
		t.Fatalf("Wait failed to reap killed child: %d", err)
	}
}

func TestKillOfUnknownPidReturnsESRCH(t *testing.T) {
	if err := Kill(-1); err != -defs.ESRCH {
		t.Fatalf("Kill of an unknown pid = %d, want -ESRCH", err)
	}
}

func TestForkGrandchildInheritsAndParentReaps(t *testing.T) {
	done := make(chan struct {
		pid    defs.Pid_t
		status int
	}, 1)

	_, mid := forkChild(t, func(p *Proc_t) {
		grandchildPid, ferr := Fork(p, func(c *Proc_t) {
			Exit(c, 7)
		})
		if ferr != 0 {
			t.Errorf("nested Fork failed: %d", ferr)
			return
		}
		pid, status, werr := Wait(p)
		if werr != 0 {
			t.Errorf("Wait failed: %d", werr)
			return
		}
		if pid != grandchildPid {
			t.Errorf("Wait returned pid %d, want forked grandchild pid %d", pid, grandchildPid)
		}
		done <- struct {
			pid    defs.Pid_t
			status int
		}{pid, status}
		Exit(p, 0)
	})

	select {
	case r := <-done:
		if r.status != 7 {
			t.Fatalf("reaped grandchild status = %d, want 7", r.status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("middle process never finished waiting on its child")
	}
	waitForState(t, mid, ZOMBIE)
	if _, _, err := Wait(InitProc); err != 0 {
		t.Fatalf("Wait failed to reap the middle process: %d", err)
	}
}

func TestWaitWithNoChildrenReturnsECHILD(t *testing.T) {
	done := make(chan defs.Err_t, 1)
	_, child := forkChild(t, func(p *Proc_t) {
		_, _, werr := Wait(p)
		done <- werr
		Exit(p, 0)
	})
	select {
	case werr := <-done:
		if werr == 0 {
			t.Fatal("Wait with no children did not return an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait never returned for a childless process")
	}
	waitForState(t, child, ZOMBIE)
	if _, _, err := Wait(InitProc); err != 0 {
		t.Fatalf("Wait failed to reap child: %d", err)
	}
}

func TestGrowprocExpandsThenShrinks(t *testing.T) {
	done := make(chan [2]int, 1)
	_, child := forkChild(t, func(p *Proc_t) {
		oldsz, gerr := p.Growproc(mem.PGSIZE)
		if gerr != 0 {
			t.Errorf("Growproc(grow) failed: %d", gerr)
		}
		grown := int(p.Sz)
		_, gerr = p.Growproc(-mem.PGSIZE)
		if gerr != 0 {
			t.Errorf("Growproc(shrink) failed: %d", gerr)
		}
		done <- [2]int{oldsz, grown}
		Exit(p, 0)
	})
	select {
	case r := <-done:
		if r[0] != 0 {
			t.Fatalf("Growproc returned old size %d, want 0", r[0])
		}
		if r[1] != mem.PGSIZE {
			t.Fatalf("size after growing by one page = %d, want %d", r[1], mem.PGSIZE)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("grower never finished")
	}
	waitForState(t, child, ZOMBIE)
	if _, _, err := Wait(InitProc); err != 0 {
		t.Fatalf("Wait failed to reap child: %d", err)
	}
}
