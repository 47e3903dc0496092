// Package fd is the open-file-descriptor layer spec.md §1 calls out as
// an external collaborator with a narrow contract: this package owns
// the fd table, fd permissions, and the pipe and console file objects
// that plug into it, but not the directory/inode/path layer above the
// block cache (explicitly out of scope) — regular-file Fops_i
// implementations are expected to come from that (unbuilt) layer.
//
// Grounded on fd/fd.go's Fd_t/Cwd_t split between "an fd's operations
// and permission bits" and "the process's notion of current directory".
package fd

import (
	"sv39kernel/internal/console"
	"sv39kernel/internal/defs"
	"sv39kernel/internal/limits"
	"sv39kernel/internal/sleeplock"
	"sv39kernel/internal/spinlock"
	"sv39kernel/internal/stat"
	"sv39kernel/internal/uart"
	"sv39kernel/internal/ustr"
)

// Fd permission bits (spec.md §6 O_RDONLY/O_WRONLY/O_RDWR map to these
// at open time).
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fops_i is what an open file must support: the narrow contract any
// concrete file-like object (pipe, console, or — from the out-of-scope
// inode layer — a regular file) satisfies.
type Fops_i interface {
	Read(dst []byte) (int, defs.Err_t)
	Write(src []byte) (int, defs.Err_t)
	Close() defs.Err_t
	Fstat(st *stat.Stat_t) defs.Err_t
	Reopen() defs.Err_t
}

// Fd_t is one open file description.
type Fd_t struct {
	Fops  Fops_i
	Perms int
}

// Copyfd duplicates fd via its Reopen hook (bumping whatever refcount
// backs it), the same shape as dup(2) and fork's fd-table copy need.
func Copyfd(f *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *f
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// ClosePanic closes f, panicking if the underlying Fops reports
// failure — used where Close is expected to always succeed (e.g.
// unwinding a partially opened fd table).
func ClosePanic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("fd: close expected to succeed")
	}
}

// Table_t is a process's open-file-descriptor array: private to the
// process per spec.md §5 ("open-file array ... private to the process
// ... and need no lock"), so no synchronization lives here — callers
// own the exclusion (typically: only the owning process touches its
// own table, fork copies it before the child is runnable).
type Table_t struct {
	fds []*Fd_t
}

func NewTable() *Table_t {
	return &Table_t{fds: make([]*Fd_t, limits.Syslimit.NOFILE)}
}

// Alloc installs f at the lowest free slot, POSIX's "lowest available
// descriptor" rule, returning -EMFILE if the table is full.
func (t *Table_t) Alloc(f *Fd_t) (int, defs.Err_t) {
	for i, s := range t.fds {
		if s == nil {
			t.fds[i] = f
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

func (t *Table_t) Get(fdnum int) (*Fd_t, defs.Err_t) {
	if fdnum < 0 || fdnum >= len(t.fds) || t.fds[fdnum] == nil {
		return nil, -defs.EBADF
	}
	return t.fds[fdnum], 0
}

func (t *Table_t) Close(fdnum int) defs.Err_t {
	f, err := t.Get(fdnum)
	if err != 0 {
		return err
	}
	t.fds[fdnum] = nil
	return f.Fops.Close()
}

// Copy duplicates every open fd into a fresh table, for fork.
func (t *Table_t) Copy() (*Table_t, defs.Err_t) {
	nt := NewTable()
	for i, f := range t.fds {
		if f == nil {
			continue
		}
		nf, err := Copyfd(f)
		if err != 0 {
			for j := 0; j < i; j++ {
				if nt.fds[j] != nil {
					ClosePanic(nt.fds[j])
				}
			}
			return nil, err
		}
		nt.fds[i] = nf
	}
	return nt, 0
}

// CloseAll closes every still-open fd, for exit.
func (t *Table_t) CloseAll() {
	for i, f := range t.fds {
		if f != nil {
			f.Fops.Close()
			t.fds[i] = nil
		}
	}
}

// Cwd_t tracks a process's current working directory. The inode
// pointed to by Fd is opaque to this package (its Fops_i comes from the
// out-of-scope path layer); Path is kept purely so Fullpath/Canonicalpath
// can do lexical joining without needing to understand inodes.
type Cwd_t struct {
	Fd   *Fd_t
	Path ustr.Ustr
}

func MkRootCwd(f *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: f, Path: ustr.MkUstrRoot()}
}

// Fullpath prefixes a relative path with cwd, leaving absolute paths
// untouched.
func (c *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(ustr.Ustr{}, c.Path...)
	full = append(full, '/')
	return append(full, p...)
}

// Canonicalpath lexically removes "." and ".." components from
// Fullpath(p); it does not resolve symlinks or consult the filesystem
// at all — that belongs to the out-of-scope path layer.
func (c *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return canonicalize(c.Fullpath(p))
}

func canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := splitNonEmpty(p)
	out := make([]ustr.Ustr, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.Isdot():
		case part.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	r := ustr.Ustr("/")
	for i, part := range out {
		if i > 0 {
			r = append(r, '/')
		}
		r = append(r, part...)
	}
	return r
}

func splitNonEmpty(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// pipeReadChan/pipeWriteChan are the wait channels pipe readers and
// writers sleep on.
const pipeReadChan sleeplock.ChanTag = 4
const pipeWriteChan sleeplock.ChanTag = 5

const pipeBufSize = 512

// Pipe_t is an in-kernel pipe: a small fixed ring shared by a read end
// and a write end. readRefs/writeRefs count how many still-open fds
// (the original plus any dup/fork copies) reference each end, so a
// close only flips readOpen/writeOpen once the *last* referencing fd
// closes — otherwise dup(pipe-fd) followed by close(original) would
// wrongly look like the whole pipe closed out from under the
// duplicate, breaking the "write to a reader-less pipe, read from an
// empty writer-less pipe returns EOF" contract for every surviving fd.
type Pipe_t struct {
	lock          spinlock.Lock_t
	buf           [pipeBufSize]byte
	nread, nwrite int
	readOpen      bool
	writeOpen     bool
	readRefs      int
	writeRefs     int
}

func NewPipe() *Pipe_t {
	return &Pipe_t{lock: *spinlock.New("pipe"), readOpen: true, writeOpen: true, readRefs: 1, writeRefs: 1}
}

// PipeEnd wraps a Pipe_t as one of its two Fops_i ends.
type PipeEnd struct {
	p      *Pipe_t
	isRead bool
}

func (p *Pipe_t) ReadEnd() *PipeEnd  { return &PipeEnd{p: p, isRead: true} }
func (p *Pipe_t) WriteEnd() *PipeEnd { return &PipeEnd{p: p, isRead: false} }

// Read/Write/Close/Fstat/Reopen below give PipeEnd the Fops_i shape;
// the calling process to sleep/wake as is found through
// sleeplock.Current, the same per-CPU lookup every other blocking
// primitive in this kernel uses, rather than threading a Waiter through
// every call site.

func (e *PipeEnd) Read(dst []byte) (int, defs.Err_t) {
	if !e.isRead {
		panic("fd: read on write end")
	}
	w := sleeplock.Current()
	p := e.p
	p.lock.Acquire()
	defer p.lock.Release()
	for p.nread == p.nwrite && p.writeOpen {
		w.Sleep(pipeReadChan, &p.lock)
	}
	n := 0
	for n < len(dst) && p.nread < p.nwrite {
		dst[n] = p.buf[p.nread%pipeBufSize]
		p.nread++
		n++
	}
	w.Wakeup(pipeWriteChan)
	return n, 0
}

func (e *PipeEnd) Write(src []byte) (int, defs.Err_t) {
	if e.isRead {
		panic("fd: write on read end")
	}
	w := sleeplock.Current()
	p := e.p
	p.lock.Acquire()
	defer p.lock.Release()
	n := 0
	for n < len(src) {
		for p.nwrite-p.nread == pipeBufSize && p.readOpen {
			w.Sleep(pipeWriteChan, &p.lock)
		}
		if !p.readOpen {
			return n, -defs.EPIPE
		}
		p.buf[p.nwrite%pipeBufSize] = src[n]
		p.nwrite++
		n++
	}
	w.Wakeup(pipeReadChan)
	return n, 0
}

func (e *PipeEnd) Close() defs.Err_t {
	w := sleeplock.Current()
	p := e.p
	p.lock.Acquire()
	if e.isRead {
		p.readRefs--
		if p.readRefs == 0 {
			p.readOpen = false
		}
	} else {
		p.writeRefs--
		if p.writeRefs == 0 {
			p.writeOpen = false
		}
	}
	p.lock.Release()
	w.Wakeup(pipeReadChan)
	w.Wakeup(pipeWriteChan)
	return 0
}

// Fstat reports a zeroed stat for a pipe; pipes have no on-disk
// identity for the out-of-scope inode layer to describe.
func (e *PipeEnd) Fstat(st *stat.Stat_t) defs.Err_t { return 0 }

// Reopen bumps this end's refcount: dup/fork share the same *PipeEnd
// value rather than cloning pipe state, so Close must not flip
// readOpen/writeOpen until every such reference is gone.
func (e *PipeEnd) Reopen() defs.Err_t {
	p := e.p
	p.lock.Acquire()
	if e.isRead {
		p.readRefs++
	} else {
		p.writeRefs++
	}
	p.lock.Release()
	return 0
}

// ConsoleFile adapts console.Console_t + uart.Uart_t to Fops_i, the fd
// 0/1/2 every init process inherits (E1's echo scenario reads/writes
// through exactly this).
type ConsoleFile struct {
	Cons *console.Console_t
	Uart *uart.Uart_t
}

func (c *ConsoleFile) Read(dst []byte) (int, defs.Err_t) {
	w := sleeplock.Current()
	n := c.Cons.Read(w, dst)
	return n, 0
}

func (c *ConsoleFile) Write(src []byte) (int, defs.Err_t) {
	w := sleeplock.Current()
	for _, b := range src {
		c.Uart.PutcAsync(w, b)
	}
	return len(src), 0
}

func (c *ConsoleFile) Close() defs.Err_t             { return 0 }
func (c *ConsoleFile) Fstat(st *stat.Stat_t) defs.Err_t { return 0 }
func (c *ConsoleFile) Reopen() defs.Err_t            { return 0 }
