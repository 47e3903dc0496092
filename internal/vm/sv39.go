// Package vm implements the Sv39 page-table manager spec.md §4.4
// describes: the three-level 512-entry walk, mappages/uvmunmap,
// uvmcopy for fork, and copyin/copyout/copyinstr for user-memory
// transfers. It builds no kernel direct map: a physical address here is
// the address of the page itself (see pa.go).
//
// Grounded on vm/as.go and vm/userbuf.go's Vm_t/Userbuf_t split between
// "find the backing page" and "move bytes across the boundary",
// generalized from biscuit's 4-level x86-64 paging with demand paging
// and copy-on-write to the plain 3-level Sv39 walk spec.md actually
// asks for (no page-fault handler, no lazily-populated regions — every
// mapping this kernel makes is eager, per spec.md §1 Non-goals).
package vm

import (
	"unsafe"

	"sv39kernel/internal/defs"
	"sv39kernel/internal/mem"
)

// PTE bit layout (RISC-V privileged spec, Sv39): V | R | W | X | U | G | A | D,
// then a 10-bit reserved field, then the 44-bit PPN.
const (
	PTE_V uint64 = 1 << 0 // valid
	PTE_R uint64 = 1 << 1 // readable
	PTE_W uint64 = 1 << 2 // writable
	PTE_X uint64 = 1 << 3 // executable
	PTE_U uint64 = 1 << 4 // user-accessible
	PTE_G uint64 = 1 << 5 // global
	PTE_A uint64 = 1 << 6 // accessed
	PTE_D uint64 = 1 << 7 // dirty
)

const pteFlagsShift = 10

// Pte_t is a single Sv39 page-table entry.
type Pte_t uint64

func (p Pte_t) Valid() bool { return uint64(p)&PTE_V != 0 }

// Leaf reports whether p is a leaf entry: valid with at least one of
// R/W/X set (spec.md §3 "a PTE with V=1 and R|W|X=0 is an interior
// node; V=1 with any of R/W/X is a leaf").
func (p Pte_t) Leaf() bool {
	return p.Valid() && uint64(p)&(PTE_R|PTE_W|PTE_X) != 0
}

func (p Pte_t) PA() uint64 { return (uint64(p) >> pteFlagsShift) << mem.PGSHIFT }

func mkpte(pa uint64, flags uint64) Pte_t {
	return Pte_t(((pa >> mem.PGSHIFT) << pteFlagsShift) | flags | PTE_V)
}

// Pagetable_t is one level of the Sv39 tree: 512 eight-byte entries,
// i.e. exactly one physical page.
type Pagetable_t [512]Pte_t

// maxVA is the highest byte address this kernel will map; Sv39 itself
// supports more but user/kernel layouts here stay well under it
// (spec.md §4.4 "Fails if the address is ≥ the maximum virtual
// address").
const maxVA = uint64(1) << 38

const (
	pxMask  = 0x1ff
	pxShift = 9
)

// pageRoundDown/pageRoundUp align an address to the page boundary below
// or at/above it.
func pageRoundDown(a uint64) uint64 { return a &^ (uint64(mem.PGSIZE) - 1) }
func pageRoundUp(a uint64) uint64 {
	return pageRoundDown(a+uint64(mem.PGSIZE)-1)
}

// px extracts the level-`level` index (0 = leaf level) from a virtual
// address.
func px(level int, va uint64) uint64 {
	return (va >> (mem.PGSHIFT + pxShift*uint(level))) & pxMask
}

// Allocator is the subset of mem.Allocator_t the page-table walker
// needs: a page to instantiate the next level, and a way to free one
// when unwinding a partially built table.
type Allocator interface {
	Alloc() *mem.Page_t
	Free(*mem.Page_t)
}

// Walk descends two interior Sv39 levels to find the PTE for va in the
// leaf level, allocating interior tables on demand when alloc is true.
// Returns nil if va is out of range, or if an allocation failed
// mid-walk — per spec.md §4.4 "partial allocations are retained but
// reachable only through the page table that will be freed on error",
// Walk never unwinds a partial allocation itself.
func Walk(pt *Pagetable_t, a Allocator, va uint64, alloc bool) *Pte_t {
	if va >= maxVA {
		return nil
	}
	for level := 2; level > 0; level-- {
		pte := &pt[px(level, va)]
		if pte.Valid() {
			pt = ptOf(pageFromPA(pte.PA()))
			continue
		}
		if !alloc {
			return nil
		}
		pg := a.Alloc()
		if pg == nil {
			return nil
		}
		zero(pg)
		child := ptOf(pg)
		*pte = mkpte(pageToPA(pg), PTE_V)
		pt = child
	}
	return &pt[px(0, va)]
}

func zero(pg *mem.Page_t) {
	for i := range pg {
		pg[i] = 0
	}
}

// Mappages installs leaf PTEs mapping the page-aligned range
// [va, va+size) to the (also page-aligned) physical range starting at
// pa, with the given permission bits. Remapping an already-valid leaf
// is fatal (spec.md §4.4): the caller is expected to have unmapped
// first.
func Mappages(pt *Pagetable_t, a Allocator, va uint64, size int, pa uint64, perm uint64) defs.Err_t {
	if size <= 0 {
		panic("vm: mappages with non-positive size")
	}
	if va%uint64(mem.PGSIZE) != 0 || uint64(size)%uint64(mem.PGSIZE) != 0 {
		panic("vm: mappages with unaligned va/size")
	}
	first := pageRoundDown(va)
	last := pageRoundDown(va + uint64(size) - 1)
	for a_, p := first, pa; ; a_, p = a_+uint64(mem.PGSIZE), p+uint64(mem.PGSIZE) {
		pte := Walk(pt, a, a_, true)
		if pte == nil {
			return -defs.ENOMEM
		}
		if pte.Valid() {
			panic("vm: mappages remap of valid leaf")
		}
		*pte = mkpte(p, perm)
		if a_ == last {
			break
		}
	}
	return 0
}

// Uvmunmap removes the leaf PTEs covering [va, va+n*PGSIZE). Every page
// in range must already have a valid leaf; an interior or missing entry
// there is fatal (spec.md §4.4). When free is true the backing physical
// page is returned to mm.
func Uvmunmap(pt *Pagetable_t, mm Allocator, va uint64, n int, free bool) {
	if va%uint64(mem.PGSIZE) != 0 {
		panic("vm: uvmunmap unaligned va")
	}
	for i := 0; i < n; i++ {
		a_ := va + uint64(i)*uint64(mem.PGSIZE)
		pte := Walk(pt, mm, a_, false)
		if pte == nil || !pte.Valid() || !pte.Leaf() {
			panic("vm: uvmunmap of missing/interior entry")
		}
		if free {
			mm.Free(pageFromPA(pte.PA()))
		}
		*pte = 0
	}
}

// Uvmclear clears the U bit of va's leaf PTE without unmapping it,
// making the page inaccessible to user code while it stays present —
// used for exec's stack guard page (spec.md §4.4).
func Uvmclear(pt *Pagetable_t, mm Allocator, va uint64) {
	pte := Walk(pt, mm, va, false)
	if pte == nil || !pte.Leaf() {
		panic("vm: uvmclear of missing leaf")
	}
	*pte = Pte_t(uint64(*pte) &^ PTE_U)
}

// Uvmcopy duplicates every mapped user page in [0, sz) of parent into
// child, allocating fresh physical pages and copying contents (this
// kernel has no copy-on-write, per spec.md §1 Non-goals — fork always
// does a full eager copy). On any allocation failure everything already
// mapped into child is unmapped and freed and an error is returned
// (spec.md §4.4).
func Uvmcopy(parent, child *Pagetable_t, mm Allocator, sz uint64) defs.Err_t {
	var i uint64
	for i = 0; i < sz; i += uint64(mem.PGSIZE) {
		pte := Walk(parent, mm, i, false)
		if pte == nil || !pte.Valid() {
			panic("vm: uvmcopy of unmapped page")
		}
		perm := uint64(*pte) & (PTE_R | PTE_W | PTE_X | PTE_U)
		srcPg := pageFromPA(pte.PA())
		dstPg := mm.Alloc()
		if dstPg == nil {
			if i > 0 {
				Uvmunmap(child, mm, 0, int(i/uint64(mem.PGSIZE)), true)
			}
			return -defs.ENOMEM
		}
		*dstPg = *srcPg
		if err := Mappages(child, mm, i, mem.PGSIZE, pageToPA(dstPg), perm); err != 0 {
			mm.Free(dstPg)
			if i > 0 {
				Uvmunmap(child, mm, 0, int(i/uint64(mem.PGSIZE)), true)
			}
			return err
		}
	}
	return 0
}

// Uvmfree tears down the entire subgraph rooted at pt, freeing every
// interior table, the root page pt itself, and, for pages still mapped
// below sz, the backing data pages too (spec.md §3 "uvmfree frees the
// entire subgraph").
func Uvmfree(pt *Pagetable_t, mm Allocator, sz uint64) {
	if sz > 0 {
		Uvmunmap(pt, mm, 0, int(pageRoundUp(sz)/uint64(mem.PGSIZE)), true)
	}
	freewalk(pt, mm, 2)
	mm.Free(PageFromPtr(unsafe.Pointer(pt)))
}

func freewalk(pt *Pagetable_t, mm Allocator, level int) {
	for i := range pt {
		pte := &pt[i]
		if !pte.Valid() {
			continue
		}
		if pte.Leaf() {
			// leaves below sz were already unmapped by the caller;
			// any leaf still here belongs to a region Uvmfree's
			// caller didn't account for, which is itself a bug, but
			// freewalk isn't the place to diagnose it — it just
			// reclaims the table page and moves on.
			continue
		}
		if level > 0 {
			freewalk(ptOf(pageFromPA(pte.PA())), mm, level-1)
		}
		mm.Free(pageFromPA(pte.PA()))
		*pte = 0
	}
}

// Walkaddr returns the physical address mapped for va, or 0 with ok
// false if there is no valid, user-accessible leaf there — the realization
// of Testable Property 9 ("walkaddr(pt, va) returns a physical address
// iff the leaf PTE for va has V=1 and U=1").
func Walkaddr(pt *Pagetable_t, mm Allocator, va uint64) (pa uint64, ok bool) {
	pte := Walk(pt, mm, va, false)
	if pte == nil || !pte.Leaf() || uint64(*pte)&PTE_U == 0 {
		return 0, false
	}
	return pte.PA(), true
}
