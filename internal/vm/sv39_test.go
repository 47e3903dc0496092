package vm

import (
	"testing"

	"sv39kernel/internal/defs"
	"sv39kernel/internal/mem"
)

func newTestTable(t *testing.T, npages int) (*Pagetable_t, *mem.Allocator_t) {
	t.Helper()
	a := mem.New(npages)
	pg := a.Alloc()
	pt := PtFromPage(pg)
	for i := range pt {
		pt[i] = 0
	}
	return pt, a
}

func TestWalkAllocatesIntermediateLevels(t *testing.T) {
	pt, a := newTestTable(t, 8)
	pte := Walk(pt, a, 0, true)
	if pte == nil {
		t.Fatal("Walk(alloc=true) returned nil")
	}
	if pte.Valid() {
		t.Fatal("a freshly walked leaf slot should not be valid yet")
	}
}

func TestWalkWithoutAllocReturnsNilForUnmapped(t *testing.T) {
	pt, a := newTestTable(t, 8)
	if pte := Walk(pt, a, 0, false); pte != nil {
		t.Fatal("Walk(alloc=false) on an empty table should return nil")
	}
}

func TestWalkOutOfRangeReturnsNil(t *testing.T) {
	pt, a := newTestTable(t, 8)
	if pte := Walk(pt, a, maxVA, true); pte != nil {
		t.Fatal("Walk at/above maxVA should return nil")
	}
}

func TestMappagesThenWalkaddr(t *testing.T) {
	pt, a := newTestTable(t, 8)
	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	if err := Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_W|PTE_U); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	got, ok := Walkaddr(pt, a, 0)
	if !ok {
		t.Fatal("Walkaddr reported not-ok for a mapped user page")
	}
	if got != pa {
		t.Fatalf("Walkaddr = %#x, want %#x", got, pa)
	}
}

func TestWalkaddrFailsWithoutUserBit(t *testing.T) {
	pt, a := newTestTable(t, 8)
	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	if err := Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_W); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	if _, ok := Walkaddr(pt, a, 0); ok {
		t.Fatal("Walkaddr succeeded on a non-user leaf")
	}
}

func TestMappagesRemapOfValidLeafPanics(t *testing.T) {
	pt, a := newTestTable(t, 8)
	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	if err := Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_U); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("remapping a valid leaf did not panic")
		}
	}()
	Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_U)
}

func TestUvmunmapFreesPage(t *testing.T) {
	pt, a := newTestTable(t, 8)
	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	if err := Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_W|PTE_U); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	// counted after Mappages: the interior tables it allocated stay in
	// place, and only the data page comes back.
	before := a.Nfree()
	Uvmunmap(pt, a, 0, 1, true)
	if got := a.Nfree(); got != before+1 {
		t.Fatalf("Nfree() after Uvmunmap(free=true) = %d, want %d", got, before+1)
	}
	if pte := Walk(pt, a, 0, false); pte != nil && pte.Valid() {
		t.Fatal("leaf PTE still valid after Uvmunmap")
	}
}

func TestUvmunmapOfMissingEntryPanics(t *testing.T) {
	pt, a := newTestTable(t, 8)
	defer func() {
		if recover() == nil {
			t.Fatal("Uvmunmap of an unmapped page did not panic")
		}
	}()
	Uvmunmap(pt, a, 0, 1, false)
}

func TestUvmclearDropsUserBit(t *testing.T) {
	pt, a := newTestTable(t, 8)
	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	if err := Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_W|PTE_U); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	Uvmclear(pt, a, 0)
	if _, ok := Walkaddr(pt, a, 0); ok {
		t.Fatal("Walkaddr still succeeds after Uvmclear dropped PTE_U")
	}
	pte := Walk(pt, a, 0, false)
	if !pte.Leaf() {
		t.Fatal("Uvmclear unmapped the page instead of just dropping U")
	}
}

func TestUvmcopyDuplicatesMapping(t *testing.T) {
	parentPt, a := newTestTable(t, 16)
	childPg := a.Alloc()
	childPt := PtFromPage(childPg)
	for i := range childPt {
		childPt[i] = 0
	}

	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	srcPage := pageFromPA(pa)
	srcPage[0] = 0x42
	if err := Mappages(parentPt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_W|PTE_U); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}

	if err := Uvmcopy(parentPt, childPt, a, uint64(mem.PGSIZE)); err != 0 {
		t.Fatalf("Uvmcopy failed: %d", err)
	}

	childPA, ok := Walkaddr(childPt, a, 0)
	if !ok {
		t.Fatal("child has no mapping after Uvmcopy")
	}
	if childPA == pa {
		t.Fatal("Uvmcopy aliased the parent's physical page instead of copying")
	}
	if pageFromPA(childPA)[0] != 0x42 {
		t.Fatal("Uvmcopy did not copy the parent page's contents")
	}
}

func TestUvmcopyOfUnmappedPanics(t *testing.T) {
	parentPt, a := newTestTable(t, 8)
	childPg := a.Alloc()
	childPt := PtFromPage(childPg)
	for i := range childPt {
		childPt[i] = 0
	}
	defer func() {
		if recover() == nil {
			t.Fatal("Uvmcopy of an unmapped parent range did not panic")
		}
	}()
	Uvmcopy(parentPt, childPt, a, uint64(mem.PGSIZE))
}

func TestUvmfreeReclaimsEverything(t *testing.T) {
	pt, a := newTestTable(t, 16)
	before := a.Nfree()
	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	if err := Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_W|PTE_U); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	Uvmfree(pt, a, uint64(mem.PGSIZE))
	if got := a.Nfree(); got != before+1 {
		t.Fatalf("Nfree() after Uvmfree = %d, want %d (data page, interior tables and the root reclaimed)", got, before+1)
	}
}

func TestCopyoutCopyinRoundTrip(t *testing.T) {
	pt, a := newTestTable(t, 8)
	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	if err := Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_W|PTE_U); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	as := &AddrSpace_t{Pt: pt, Mem: a}

	src := []byte("hello, sv39")
	if err := as.Copyout(0, src); err != 0 {
		t.Fatalf("Copyout failed: %d", err)
	}
	dst := make([]byte, len(src))
	if err := as.Copyin(dst, 0); err != 0 {
		t.Fatalf("Copyin failed: %d", err)
	}
	if string(dst) != string(src) {
		t.Fatalf("Copyin got %q, want %q", dst, src)
	}
}

func TestCopyoutToUnmappedFaults(t *testing.T) {
	pt, a := newTestTable(t, 8)
	as := &AddrSpace_t{Pt: pt, Mem: a}
	if err := as.Copyout(0, []byte("x")); err != -defs.EFAULT {
		t.Fatalf("Copyout to unmapped va = %d, want -EFAULT", err)
	}
}

func TestCopyinstrStopsAtNUL(t *testing.T) {
	pt, a := newTestTable(t, 8)
	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	if err := Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_W|PTE_U); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	as := &AddrSpace_t{Pt: pt, Mem: a}
	as.Copyout(0, []byte("hi\x00garbage"))

	dst := make([]byte, 64)
	n, err := as.Copyinstr(dst, 0)
	if err != 0 {
		t.Fatalf("Copyinstr failed: %d", err)
	}
	if n != 3 || string(dst[:n]) != "hi\x00" {
		t.Fatalf("Copyinstr got %q (n=%d), want \"hi\\x00\" (n=3)", dst[:n], n)
	}
}

func TestCopyinstrTooLong(t *testing.T) {
	pt, a := newTestTable(t, 8)
	dataPg := a.Alloc()
	pa := pageToPA(dataPg)
	if err := Mappages(pt, a, 0, mem.PGSIZE, pa, PTE_R|PTE_W|PTE_U); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	as := &AddrSpace_t{Pt: pt, Mem: a}
	full := make([]byte, mem.PGSIZE)
	for i := range full {
		full[i] = 'x'
	}
	as.Copyout(0, full)

	dst := make([]byte, 8)
	if _, err := as.Copyinstr(dst, 0); err != -defs.ENAMETOOLONG {
		t.Fatalf("Copyinstr of a non-terminated run = %d, want -ENAMETOOLONG", err)
	}
}
