package vm

import (
	"unsafe"

	"sv39kernel/internal/mem"
)

// This kernel is hosted rather than bare-metal (spec.md's "faithful
// systems-language reimplementation" target, built to compile and be
// tested rather than to run on real silicon). There is therefore no
// separate physical address space to carve a direct map into: a
// physical address here is simply the address of the mem.Page_t the
// allocator handed out, the same identity biscuit's own Dmap gives a
// direct-mapped physical page. pageToPA/pageFromPA are the one pair of
// unsafe casts the rest of this package is built on; every other
// function deals in *mem.Page_t or *Pagetable_t, never raw pointers.

func pageToPA(pg *mem.Page_t) uint64 {
	return uint64(uintptr(unsafe.Pointer(pg)))
}

func pageFromPA(pa uint64) *mem.Page_t {
	return (*mem.Page_t)(unsafe.Pointer(uintptr(pa)))
}

func ptOf(pg *mem.Page_t) *Pagetable_t {
	return (*Pagetable_t)(unsafe.Pointer(pg))
}

// PtFromPage and PagePtr/PageFromPtr are the exported slivers of the
// same identity proc.allocproc needs to overlay a Pagetable_t or a
// trapframe.Trapframe_t onto a freshly allocated physical page without
// vm importing internal/trapframe back.

func PtFromPage(pg *mem.Page_t) *Pagetable_t { return ptOf(pg) }

func PagePtr(pg *mem.Page_t) unsafe.Pointer { return unsafe.Pointer(pg) }

func PageFromPtr(p unsafe.Pointer) *mem.Page_t { return (*mem.Page_t)(p) }
