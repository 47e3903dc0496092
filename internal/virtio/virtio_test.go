package virtio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sv39kernel/internal/bio"
	"sv39kernel/internal/fs"
	"sv39kernel/internal/mem"
	"sv39kernel/internal/proc"
	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
)

// TestMain spawns the one parentless process every test below forks
// children from, the same setup proc's own tests use: Rw now calls
// sleeplock.Current() internally, which panics unless the calling
// goroutine is backed by a real dispatched process, so exercising Rw
// from the bare test goroutine is no longer possible.
func TestMain(m *testing.M) {
	proc.Init(mem.New(64), 4)
	ready := make(chan struct{})
	p, err := proc.Spawn("init", func(p *proc.Proc_t) {
		close(ready)
		p.ParkUntilKilled() // never killed during tests; parks for good
	})
	if err != 0 {
		panic("failed to spawn the init process for testing")
	}
	proc.InitProc = p
	<-ready
	waitForStateStandalone(p, proc.SLEEPING)
	os.Exit(m.Run())
}

func waitForStateStandalone(p *proc.Proc_t, want proc.State) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && p.State() != want {
		time.Sleep(time.Millisecond)
	}
}

// newTestDisk creates a correctly sized backing file and opens it
// through Open, the same two-step a real boot sequence performs before
// handing the disk to bio.New. It also starts a background goroutine
// standing in for the PLIC: nothing in a unit test ever calls d.Intr()
// on its own, so this polls it the way cmd/kernel's devintr loop does,
// stopping when the test ends.
func newTestDisk(t *testing.T, nblocks int) *Disk_t {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating backing file failed: %v", err)
	}
	if err := f.Truncate(int64(nblocks) * int64(fs.BSIZE)); err != nil {
		t.Fatalf("truncating backing file failed: %v", err)
	}
	f.Close()

	d, err := Open(path, nblocks)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				d.Intr()
			}
		}
	}()
	t.Cleanup(func() {
		close(done)
		d.Close()
	})
	return d
}

// runInProcess runs fn on a freshly forked child of proc.InitProc and
// waits for it to finish and be reaped, so Rw — which resolves
// sleeplock.Current() to the calling process — always runs with a real
// dispatched process backing it, exactly as it would booted for real.
func runInProcess(t *testing.T, fn func()) {
	t.Helper()
	doneCh := make(chan struct{})
	_, err := proc.Fork(proc.InitProc, func(p *proc.Proc_t) {
		fn()
		close(doneCh)
	})
	if err != 0 {
		t.Fatalf("Fork failed: %d", err)
	}
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forked process to run fn")
	}
	if _, _, werr := proc.Wait(proc.InitProc); werr != 0 {
		t.Fatalf("Wait failed to reap the forked process: %d", werr)
	}
}

func TestRwWriteThenReadRoundTrips(t *testing.T) {
	d := newTestDisk(t, 4)
	var b1, b2 bio.Buf_t
	runInProcess(t, func() {
		b1.Blockno = 2
		b1.Data[0] = 0x9
		b1.Data[1] = 0xA
		d.Rw(&b1, true)

		b2.Blockno = 2
		d.Rw(&b2, false)
	})

	if b2.Data[0] != 0x9 || b2.Data[1] != 0xA {
		t.Fatalf("read back %x %x, want 09 0a", b2.Data[0], b2.Data[1])
	}
}

func TestRwClearsInFlightFlagAfterCompletion(t *testing.T) {
	d := newTestDisk(t, 2)
	var b bio.Buf_t
	b.Blockno = 0
	runInProcess(t, func() { d.Rw(&b, true) })
	if b.Disk {
		t.Fatal("Buf_t.Disk still true after Rw completed")
	}
}

func TestWaitReturnsImmediatelyWhenNotInFlight(t *testing.T) {
	d := newTestDisk(t, 2)
	var b bio.Buf_t
	b.Disk = false

	w := &panicWaiter{}
	d.Wait(w, &b)
}

// panicWaiter fails the test if Sleep is ever called, used to assert
// Wait returns without blocking when the buffer isn't in flight.
type panicWaiter struct{}

func (w *panicWaiter) Sleep(chanTag sleeplock.ChanTag, lk *spinlock.Lock_t) {
	panic("unexpected Sleep: buffer was not in flight")
}
func (w *panicWaiter) Wakeup(chanTag sleeplock.ChanTag) {}
func (w *panicWaiter) Pid() int                         { return 1 }

func TestIntrWakesAProcessParkedInWait(t *testing.T) {
	d := newTestDisk(t, 2)
	var b bio.Buf_t
	b.Blockno = 1
	runInProcess(t, func() { d.Rw(&b, false) })
	if b.Disk {
		t.Fatal("Intr never cleared Disk for the completed request")
	}
}

func TestNotifyIsInvokedWhenARequestIsQueued(t *testing.T) {
	d := newTestDisk(t, 2)
	notified := make(chan struct{}, 1)
	d.Notify = func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	}
	var b bio.Buf_t
	b.Blockno = 0
	runInProcess(t, func() { d.Rw(&b, true) })
	select {
	case <-notified:
	default:
		t.Fatal("Notify was never invoked when a request was queued")
	}
}

func TestAllocFreeDescsRoundTrip(t *testing.T) {
	d := newTestDisk(t, 2)
	d.lock.Acquire()
	descs := d.allocDescs()
	d.lock.Release()

	seen := map[int]bool{}
	for _, i := range descs {
		if seen[i] {
			t.Fatalf("allocDescs returned a duplicate index %d", i)
		}
		seen[i] = true
	}

	d.lock.Acquire()
	d.freeDescs(descs)
	d.lock.Release()
}

func TestFreeDescsDoubleFreePanics(t *testing.T) {
	d := newTestDisk(t, 2)
	d.lock.Acquire()
	descs := d.allocDescs()
	d.freeDescs(descs)
	d.lock.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("freeing an already-free descriptor set did not panic")
		}
	}()
	d.lock.Acquire()
	defer d.lock.Release()
	d.freeDescs(descs)
}
