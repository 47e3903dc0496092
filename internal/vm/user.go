package vm

import (
	"sv39kernel/internal/defs"
	"sv39kernel/internal/mem"
)

// AddrSpace_t is a process's user address space: its page-table root
// and the allocator backing it. proc.Proc_t embeds one; the syscall
// argument-fetch glue (internal/ksyscall) only ever sees this type, not
// a bare Pagetable_t, matching vm/as.go's Vm_t boundary.
type AddrSpace_t struct {
	Pt  *Pagetable_t
	Mem Allocator
}

// Copyout copies len(src) bytes from kernel memory into the user
// address space at dstva. Requires every destination page to be a
// valid, user-accessible, writable leaf (spec.md §4.4); fails with
// -EFAULT otherwise. Crosses page boundaries by splitting the copy at
// each page.
func (as *AddrSpace_t) Copyout(dstva uint64, src []byte) defs.Err_t {
	for len(src) > 0 {
		va0 := pageRoundDown(dstva)
		pte := Walk(as.Pt, as.Mem, va0, false)
		if pte == nil || !pte.Leaf() {
			return -defs.EFAULT
		}
		f := uint64(*pte)
		if f&PTE_V == 0 || f&PTE_U == 0 || f&PTE_W == 0 {
			return -defs.EFAULT
		}
		pa := pte.PA()
		off := dstva - va0
		pg := pageFromPA(pa)
		n := uint64(mem.PGSIZE) - off
		if n > uint64(len(src)) {
			n = uint64(len(src))
		}
		copy(pg[off:off+n], src[:n])
		src = src[n:]
		dstva += n
	}
	return 0
}

// Copyin copies len(dst) bytes from the user address space at srcva
// into dst. Requires a valid, user-accessible leaf for every source
// page (spec.md §4.4, implicit via Walkaddr).
func (as *AddrSpace_t) Copyin(dst []byte, srcva uint64) defs.Err_t {
	for len(dst) > 0 {
		va0 := pageRoundDown(srcva)
		pa, ok := Walkaddr(as.Pt, as.Mem, va0)
		if !ok {
			return -defs.EFAULT
		}
		off := srcva - va0
		pg := pageFromPA(pa)
		n := uint64(mem.PGSIZE) - off
		if n > uint64(len(dst)) {
			n = uint64(len(dst))
		}
		copy(dst[:n], pg[off:off+n])
		dst = dst[n:]
		srcva += n
	}
	return 0
}

// Copyinstr copies a NUL-terminated string from user memory at srcva
// into dst, stopping at (and including) the first NUL. Fails with
// -ENAMETOOLONG if len(dst) bytes are consumed without finding one
// (spec.md §4.4).
func (as *AddrSpace_t) Copyinstr(dst []byte, srcva uint64) (int, defs.Err_t) {
	got := 0
	for got < len(dst) {
		va0 := pageRoundDown(srcva)
		pa, ok := Walkaddr(as.Pt, as.Mem, va0)
		if !ok {
			return 0, -defs.EFAULT
		}
		off := srcva - va0
		pg := pageFromPA(pa)
		n := uint64(mem.PGSIZE) - off
		if n > uint64(len(dst)-got) {
			n = uint64(len(dst) - got)
		}
		chunk := pg[off : off+n]
		for _, b := range chunk {
			dst[got] = b
			got++
			if b == 0 {
				return got, 0
			}
		}
		srcva += n
	}
	return 0, -defs.ENAMETOOLONG
}
