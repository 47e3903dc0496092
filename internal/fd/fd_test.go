package fd

import (
	"testing"

	"sv39kernel/internal/defs"
	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
	"sv39kernel/internal/stat"
	"sv39kernel/internal/ustr"
)

// fakeWaiter backs sleeplock.Current for every test in this package.
// None of them leave a pipe contended, so Sleep should never run.
type fakeWaiter struct{}

func (w *fakeWaiter) Sleep(chanTag sleeplock.ChanTag, lk *spinlock.Lock_t) {
	panic("unexpected Sleep: fd tests never contend a pipe")
}
func (w *fakeWaiter) Wakeup(chanTag sleeplock.ChanTag) {}
func (w *fakeWaiter) Pid() int                         { return 1 }

func TestMain(m *testing.M) {
	sleeplock.Current = func() sleeplock.Waiter { return &fakeWaiter{} }
	m.Run()
}

// fakeFops is a minimal Fops_i double that counts Close/Reopen calls.
type fakeFops struct {
	closes  int
	reopens int
}

func (f *fakeFops) Read(dst []byte) (int, defs.Err_t)  { return 0, 0 }
func (f *fakeFops) Write(src []byte) (int, defs.Err_t) { return len(src), 0 }
func (f *fakeFops) Close() defs.Err_t                  { f.closes++; return 0 }
func (f *fakeFops) Fstat(st *stat.Stat_t) defs.Err_t   { return 0 }
func (f *fakeFops) Reopen() defs.Err_t                 { f.reopens++; return 0 }

func TestAllocUsesLowestFreeSlot(t *testing.T) {
	tbl := NewTable()
	fd0 := &Fd_t{Fops: &fakeFops{}}
	fd1 := &Fd_t{Fops: &fakeFops{}}

	n0, err := tbl.Alloc(fd0)
	if err != 0 || n0 != 0 {
		t.Fatalf("first Alloc = (%d, %d), want (0, 0)", n0, err)
	}
	n1, err := tbl.Alloc(fd1)
	if err != 0 || n1 != 1 {
		t.Fatalf("second Alloc = (%d, %d), want (1, 0)", n1, err)
	}
	tbl.Close(n0)
	n2, err := tbl.Alloc(&Fd_t{Fops: &fakeFops{}})
	if err != 0 || n2 != 0 {
		t.Fatalf("Alloc after closing slot 0 = (%d, %d), want (0, 0)", n2, err)
	}
}

func TestGetOfUnopenedSlotReturnsEBADF(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Get(0); err != -defs.EBADF {
		t.Fatalf("Get of an unopened slot = %d, want -EBADF", err)
	}
	if _, err := tbl.Get(-1); err != -defs.EBADF {
		t.Fatalf("Get(-1) = %d, want -EBADF", err)
	}
}

func TestCloseClearsSlotAndInvokesFops(t *testing.T) {
	tbl := NewTable()
	underlying := &fakeFops{}
	n, _ := tbl.Alloc(&Fd_t{Fops: underlying})
	if err := tbl.Close(n); err != 0 {
		t.Fatalf("Close failed: %d", err)
	}
	if underlying.closes != 1 {
		t.Fatalf("Fops.Close called %d times, want 1", underlying.closes)
	}
	if _, err := tbl.Get(n); err != -defs.EBADF {
		t.Fatal("Get still finds an fd after Close")
	}
}

func TestCopyfdReopensUnderlying(t *testing.T) {
	underlying := &fakeFops{}
	f := &Fd_t{Fops: underlying, Perms: FD_READ}
	nf, err := Copyfd(f)
	if err != 0 {
		t.Fatalf("Copyfd failed: %d", err)
	}
	if underlying.reopens != 1 {
		t.Fatalf("Reopen called %d times, want 1", underlying.reopens)
	}
	if nf.Perms != FD_READ {
		t.Fatalf("Copyfd dropped Perms: got %d, want %d", nf.Perms, FD_READ)
	}
	if nf == f {
		t.Fatal("Copyfd returned the same *Fd_t instead of a duplicate")
	}
}

func TestTableCopyDuplicatesEveryOpenFd(t *testing.T) {
	tbl := NewTable()
	a, b := &fakeFops{}, &fakeFops{}
	tbl.Alloc(&Fd_t{Fops: a})
	tbl.Alloc(&Fd_t{Fops: b})

	ntbl, err := tbl.Copy()
	if err != 0 {
		t.Fatalf("Copy failed: %d", err)
	}
	if a.reopens != 1 || b.reopens != 1 {
		t.Fatalf("reopens = (%d, %d), want (1, 1)", a.reopens, b.reopens)
	}
	if _, err := ntbl.Get(0); err != 0 {
		t.Fatal("copied table missing fd 0")
	}
	if _, err := ntbl.Get(1); err != 0 {
		t.Fatal("copied table missing fd 1")
	}
}

func TestCloseAllClosesEveryOpenFd(t *testing.T) {
	tbl := NewTable()
	a, b := &fakeFops{}, &fakeFops{}
	tbl.Alloc(&Fd_t{Fops: a})
	tbl.Alloc(&Fd_t{Fops: b})
	tbl.CloseAll()
	if a.closes != 1 || b.closes != 1 {
		t.Fatalf("closes = (%d, %d), want (1, 1)", a.closes, b.closes)
	}
	if _, err := tbl.Get(0); err != -defs.EBADF {
		t.Fatal("fd 0 still open after CloseAll")
	}
}

func TestFullpathPrefixesRelativeLeavesAbsolute(t *testing.T) {
	cwd := &Cwd_t{Path: ustr.Ustr("/home/user")}
	rel := cwd.Fullpath(ustr.Ustr("file.txt"))
	if string(rel) != "/home/user/file.txt" {
		t.Fatalf("Fullpath(relative) = %q, want %q", rel, "/home/user/file.txt")
	}
	abs := cwd.Fullpath(ustr.Ustr("/etc/passwd"))
	if string(abs) != "/etc/passwd" {
		t.Fatalf("Fullpath(absolute) = %q, want unchanged", abs)
	}
}

func TestCanonicalpathRemovesDotAndDotDot(t *testing.T) {
	cwd := &Cwd_t{Path: ustr.Ustr("/a/b")}
	got := cwd.Canonicalpath(ustr.Ustr("../c/./d"))
	if string(got) != "/a/c/d" {
		t.Fatalf("Canonicalpath = %q, want /a/c/d", got)
	}
}

func TestCanonicalpathDotDotAtRootStaysAtRoot(t *testing.T) {
	cwd := &Cwd_t{Path: ustr.Ustr("")}
	got := cwd.Canonicalpath(ustr.Ustr("../../x"))
	if string(got) != "/x" {
		t.Fatalf("Canonicalpath = %q, want /x", got)
	}
}

func TestPipeWriteThenReadRoundTrip(t *testing.T) {
	p := NewPipe()
	w, r := p.WriteEnd(), p.ReadEnd()

	n, err := w.Write([]byte("hello"))
	if err != 0 || n != 5 {
		t.Fatalf("Write = (%d, %d), want (5, 0)", n, err)
	}
	dst := make([]byte, 5)
	n, err = r.Read(dst)
	if err != 0 || n != 5 {
		t.Fatalf("Read = (%d, %d), want (5, 0)", n, err)
	}
	if string(dst) != "hello" {
		t.Fatalf("Read got %q, want %q", dst, "hello")
	}
}

func TestPipeReadFromClosedWriteEndDrainsThenEOF(t *testing.T) {
	p := NewPipe()
	w, r := p.WriteEnd(), p.ReadEnd()
	w.Write([]byte("x"))
	w.Close()

	dst := make([]byte, 1)
	n, err := r.Read(dst)
	if err != 0 || n != 1 {
		t.Fatalf("Read of buffered byte after writer closed = (%d, %d), want (1, 0)", n, err)
	}
	n, err = r.Read(dst)
	if err != 0 || n != 0 {
		t.Fatalf("Read of an empty, writer-closed pipe = (%d, %d), want (0, 0) EOF", n, err)
	}
}

func TestPipeWriteToClosedReadEndReturnsEPIPE(t *testing.T) {
	p := NewPipe()
	w, r := p.WriteEnd(), p.ReadEnd()
	r.Close()
	if _, err := w.Write([]byte("x")); err != -defs.EPIPE {
		t.Fatalf("Write to a reader-less pipe = %d, want -EPIPE", err)
	}
}

func TestPipeReopenDefersCloseUntilLastRef(t *testing.T) {
	p := NewPipe()
	w, r := p.WriteEnd(), p.ReadEnd()
	w.Reopen() // e.g. dup(writefd)
	w.Close()  // original closes; the dup keeps the write end open

	if _, err := w.Write([]byte("x")); err != 0 {
		t.Fatalf("Write through the surviving dup failed: %d", err)
	}
	dst := make([]byte, 1)
	if n, err := r.Read(dst); err != 0 || n != 1 {
		t.Fatalf("Read after the dup's write = (%d, %d), want (1, 0)", n, err)
	}
}
