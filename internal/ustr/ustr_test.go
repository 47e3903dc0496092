package ustr

import "testing"

func TestIsdotIsdotdot(t *testing.T) {
	if !Ustr(".").Isdot() {
		t.Fatal(`"." should be Isdot`)
	}
	if Ustr("..").Isdot() {
		t.Fatal(`".." should not be Isdot`)
	}
	if !Ustr("..").Isdotdot() {
		t.Fatal(`".." should be Isdotdot`)
	}
	if Ustr("a").Isdotdot() {
		t.Fatal(`"a" should not be Isdotdot`)
	}
}

func TestEq(t *testing.T) {
	if !Ustr("abc").Eq(Ustr("abc")) {
		t.Fatal("equal strings compared unequal")
	}
	if Ustr("abc").Eq(Ustr("abd")) {
		t.Fatal("differing strings compared equal")
	}
	if Ustr("ab").Eq(Ustr("abc")) {
		t.Fatal("different-length strings compared equal")
	}
}

func TestMkUstrSliceTruncatesAtNUL(t *testing.T) {
	buf := []byte("hello\x00garbage")
	got := MkUstrSlice(buf)
	if string(got) != "hello" {
		t.Fatalf("MkUstrSlice = %q, want %q", got, "hello")
	}
}

func TestMkUstrSliceNoNULReturnsWholeSlice(t *testing.T) {
	buf := []byte("nolimit")
	got := MkUstrSlice(buf)
	if string(got) != "nolimit" {
		t.Fatalf("MkUstrSlice = %q, want %q", got, "nolimit")
	}
}

func TestExtendJoinsWithSlash(t *testing.T) {
	got := Ustr("a/b").Extend(Ustr("c"))
	if string(got) != "a/b/c" {
		t.Fatalf("Extend = %q, want %q", got, "a/b/c")
	}
}

func TestExtendDoesNotMutateReceiver(t *testing.T) {
	base := Ustr("a")
	_ = base.Extend(Ustr("b"))
	if string(base) != "a" {
		t.Fatalf("Extend mutated its receiver: got %q, want %q", base, "a")
	}
}

func TestIsAbsolute(t *testing.T) {
	if !Ustr("/etc").IsAbsolute() {
		t.Fatal(`"/etc" should be absolute`)
	}
	if Ustr("etc").IsAbsolute() {
		t.Fatal(`"etc" should not be absolute`)
	}
	if Ustr("").IsAbsolute() {
		t.Fatal(`"" should not be absolute`)
	}
}

func TestIndexByte(t *testing.T) {
	if got := Ustr("a/b/c").IndexByte('/'); got != 1 {
		t.Fatalf("IndexByte = %d, want 1", got)
	}
	if got := Ustr("abc").IndexByte('/'); got != -1 {
		t.Fatalf("IndexByte of a missing byte = %d, want -1", got)
	}
}
