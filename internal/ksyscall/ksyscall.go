// Package ksyscall is the syscall surface spec.md §4.11 and §6
// describe: a table of handlers keyed by the number trap dispatch
// found in a7, each reading its arguments from fixed a0..a5 trapframe
// positions and returning its 64-bit result in a0.
//
// Grounded on fd/fd.go for the fd-table operations (dup/close/pipe/
// read/write/fstat) and on stat/stat.go and ustr/ustr.go for the
// shapes fstat and path-taking calls marshal through. The directory/
// inode/path layer and the ELF exec loader are out of scope (spec.md
// §1 "Out of scope ... treated as external collaborators with narrow
// contracts"), so open/chdir/mknod/unlink/link/mkdir/exec are wired
// into the dispatch table — the number exists, a7 routes to it, the
// return convention is honored — but each returns -ENOSYS until that
// layer exists, exactly as original_source/kernel/sysfile.c's
// path-taking syscalls would if namei() were never linked in.
package ksyscall

import (
	"fmt"

	"sv39kernel/internal/defs"
	"sv39kernel/internal/fd"
	"sv39kernel/internal/proc"
	"sv39kernel/internal/stat"
	"sv39kernel/internal/trap"
)

// Syscall numbers, xv6-riscv's numbering (original_source/kernel/syscall.c).
const (
	SysFork   = 1
	SysExit   = 2
	SysWait   = 3
	SysPipe   = 4
	SysRead   = 5
	SysKill   = 6
	SysExec   = 7
	SysFstat  = 8
	SysChdir  = 9
	SysDup    = 10
	SysGetpid = 11
	SysSbrk   = 12
	SysSleep  = 13
	SysUptime = 14
	SysOpen   = 15
	SysWrite  = 16
	SysMknod  = 17
	SysUnlink = 18
	SysLink   = 19
	SysMkdir  = 20
	SysClose  = 21
)

// argint/argaddr/argfd read the nth argument register, the Go
// equivalent of sysproc.c's argint/argaddr helpers: a7 has already
// selected the handler, a0..a5 are read positionally per spec.md
// §4.11.
func argint(p *proc.Proc_t, n int) int64 {
	return int64(p.Tf.Args()[n])
}

func argaddr(p *proc.Proc_t, n int) uint64 {
	return p.Tf.Args()[n]
}

func argfd(p *proc.Proc_t, n int) (int, *fd.Fd_t, defs.Err_t) {
	fdnum := int(argint(p, n))
	f, err := p.Fds.Get(fdnum)
	if err != 0 {
		return 0, nil, err
	}
	return fdnum, f, 0
}

// argstr copies a NUL-terminated path argument out of user memory, the
// Go equivalent of sysfile.c's argstr(n, buf, MAXPATH).
func argstr(p *proc.Proc_t, n int, maxlen int) (string, defs.Err_t) {
	buf := make([]byte, maxlen)
	got, err := p.As.Copyinstr(buf, argaddr(p, n))
	if err != 0 {
		return "", err
	}
	if got == 0 || buf[got-1] != 0 {
		return "", -defs.ENAMETOOLONG
	}
	return string(buf[:got-1]), 0
}

// Dispatch is trap.Usertrap's syscall callback: look up a7, run the
// handler, store its result in a0. Unknown numbers print and return -1,
// per spec.md §4.11.
func Dispatch(p *proc.Proc_t) {
	num := p.Tf.A7
	fn, ok := table[num]
	if !ok {
		fmt.Printf("%d %s: unknown sys call %d\n", p.Pid(), p.Name(), num)
		p.Tf.SetRet(-1)
		return
	}
	ret := fn(p)
	p.Tf.SetRet(ret)
}

var table = map[uint64]func(*proc.Proc_t) int64{
	SysFork:   sysFork,
	SysExit:   sysExit,
	SysWait:   sysWait,
	SysPipe:   sysPipe,
	SysRead:   sysRead,
	SysKill:   sysKill,
	SysExec:   sysNosys,
	SysFstat:  sysFstat,
	SysChdir:  sysNosys,
	SysDup:    sysDup,
	SysGetpid: sysGetpid,
	SysSbrk:   sysSbrk,
	SysSleep:  sysSleep,
	SysUptime: sysUptime,
	SysOpen:   sysNosys,
	SysWrite:  sysWrite,
	SysMknod:  sysNosys,
	SysUnlink: sysNosys,
	SysLink:   sysNosys,
	SysMkdir:  sysNosys,
	SysClose:  sysClose,
}

func sysNosys(p *proc.Proc_t) int64 { return int64(-defs.ENOSYS) }

// sysFork has no arguments to fetch: the child's entry point is
// supplied by the caller of proc.Fork in this hosted model (see
// Entry_f's doc comment in internal/proc), not discovered from the
// parent's saved registers the way a real fork() resumes mid-stack.
// Fork is called with (*proc.Proc_t).ParkUntilKilled as childEntry, so
// the child runs nothing until it is killed.
func sysFork(p *proc.Proc_t) int64 {
	childPid, err := proc.Fork(p, (*proc.Proc_t).ParkUntilKilled)
	if err != 0 {
		return int64(err)
	}
	return int64(childPid)
}

func sysExit(p *proc.Proc_t) int64 {
	status := int(argint(p, 0))
	proc.Exit(p, status)
	return 0 // Exit has made p a ZOMBIE; this a0 value is never seen by user code
}

func sysWait(p *proc.Proc_t) int64 {
	addr := argaddr(p, 0)
	pid, xstate, err := proc.Wait(p)
	if err != 0 {
		return int64(err)
	}
	if addr != 0 {
		var buf [4]byte
		buf[0] = byte(xstate)
		buf[1] = byte(xstate >> 8)
		buf[2] = byte(xstate >> 16)
		buf[3] = byte(xstate >> 24)
		if e := p.As.Copyout(addr, buf[:]); e != 0 {
			return int64(e)
		}
	}
	return int64(pid)
}

func sysGetpid(p *proc.Proc_t) int64 { return int64(p.Pid()) }

func sysSbrk(p *proc.Proc_t) int64 {
	n := int(argint(p, 0))
	old, err := p.Growproc(n)
	if err != 0 {
		return int64(err)
	}
	return int64(old)
}

func sysSleep(p *proc.Proc_t) int64 {
	n := argint(p, 0)
	if n < 0 {
		n = 0
	}
	trap.SleepTicks(p, uint64(n))
	if p.Killed() {
		return -1
	}
	return 0
}

func sysUptime(p *proc.Proc_t) int64 { return int64(trap.Uptime()) }

func sysKill(p *proc.Proc_t) int64 {
	pid := int(argint(p, 0))
	return int64(proc.Kill(pid))
}

func sysPipe(p *proc.Proc_t) int64 {
	fdArrVa := argaddr(p, 0)
	pipe := fd.NewPipe()
	rfd := &fd.Fd_t{Fops: pipe.ReadEnd(), Perms: fd.FD_READ}
	wfd := &fd.Fd_t{Fops: pipe.WriteEnd(), Perms: fd.FD_WRITE}
	rnum, err := p.Fds.Alloc(rfd)
	if err != 0 {
		return int64(err)
	}
	wnum, err := p.Fds.Alloc(wfd)
	if err != 0 {
		p.Fds.Close(rnum)
		return int64(err)
	}
	var buf [8]byte
	putu32(buf[0:4], uint32(rnum))
	putu32(buf[4:8], uint32(wnum))
	if e := p.As.Copyout(fdArrVa, buf[:]); e != 0 {
		p.Fds.Close(rnum)
		p.Fds.Close(wnum)
		return int64(e)
	}
	return 0
}

func putu32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func sysRead(p *proc.Proc_t) int64 {
	_, f, err := argfd(p, 0)
	if err != 0 {
		return int64(err)
	}
	addr := argaddr(p, 1)
	n := int(argint(p, 2))
	if n < 0 {
		return int64(-defs.EINVAL)
	}
	buf := make([]byte, n)
	got, err := f.Fops.Read(buf)
	if err != 0 {
		return int64(err)
	}
	if e := p.As.Copyout(addr, buf[:got]); e != 0 {
		return int64(e)
	}
	return int64(got)
}

func sysWrite(p *proc.Proc_t) int64 {
	_, f, err := argfd(p, 0)
	if err != 0 {
		return int64(err)
	}
	addr := argaddr(p, 1)
	n := int(argint(p, 2))
	if n < 0 {
		return int64(-defs.EINVAL)
	}
	buf := make([]byte, n)
	if e := p.As.Copyin(buf, addr); e != 0 {
		return int64(e)
	}
	put, err := f.Fops.Write(buf)
	if err != 0 {
		return int64(err)
	}
	return int64(put)
}

func sysDup(p *proc.Proc_t) int64 {
	_, f, err := argfd(p, 0)
	if err != 0 {
		return int64(err)
	}
	nf, err := fd.Copyfd(f)
	if err != 0 {
		return int64(err)
	}
	nfdnum, err := p.Fds.Alloc(nf)
	if err != 0 {
		fd.ClosePanic(nf)
		return int64(err)
	}
	return int64(nfdnum)
}

func sysClose(p *proc.Proc_t) int64 {
	fdnum := int(argint(p, 0))
	return int64(p.Fds.Close(fdnum))
}

func sysFstat(p *proc.Proc_t) int64 {
	_, f, err := argfd(p, 0)
	if err != 0 {
		return int64(err)
	}
	addr := argaddr(p, 1)
	var st stat.Stat_t
	if e := f.Fops.Fstat(&st); e != 0 {
		return int64(e)
	}
	if e := p.As.Copyout(addr, st.Bytes()); e != 0 {
		return int64(e)
	}
	return 0
}
