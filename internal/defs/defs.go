// Package defs holds the identifiers shared by every kernel subsystem:
// the kernel-wide error code type, process/thread id types, and the
// open()/lseek() flag constants the syscall surface and file descriptor
// layer both need.
package defs

// Err_t is a negative errno-style result. Zero means success; a
// negative value identifies the failure. No Go error values cross a
// syscall boundary — every syscall-reachable function returns one of
// these instead, mirroring xv6's int return convention.
type Err_t int

// Errno values. Names and numbers follow POSIX so user-space ABI
// matches common C libraries built against this kernel.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	E2BIG        Err_t = 7
	EBADF        Err_t = 9
	ECHILD       Err_t = 10
	ENOMEM       Err_t = 12
	EFAULT       Err_t = 14
	EAGAIN       Err_t = 11
	EBUSY        Err_t = 16
	EEXIST       Err_t = 17
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENFILE       Err_t = 23
	EMFILE       Err_t = 24
	ENOSPC       Err_t = 28
	ENAMETOOLONG Err_t = 36
	ENOSYS       Err_t = 38
	ENOHEAP      Err_t = 39 // kernel heap/page exhaustion, biscuit-specific
	EPIPE        Err_t = 32
)

// Pid_t identifies a process; Tid_t identifies a kernel-visible thread
// of execution. This kernel runs one thread per process (spec.md §1
// Non-goals: no threading within a process), so Tid_t and Pid_t share
// their value space but are kept distinct types for documentation.
type Pid_t int
type Tid_t int

// open() flags, read by ksyscall and honored (to the extent the
// out-of-scope inode layer allows) by the fd layer.
const (
	O_RDONLY int = 0x0
	O_WRONLY int = 0x1
	O_RDWR   int = 0x2
	O_CREAT  int = 0x40
	O_TRUNC  int = 0x200
	O_APPEND int = 0x400
)

// lseek() whence values.
const (
	SEEK_SET int = 0
	SEEK_CUR int = 1
	SEEK_END int = 2
)
