package riscv

import "testing"

func TestSetHartThenHartidRoundTrips(t *testing.T) {
	defer ClearHart()
	SetHart(7)
	if got := Hartid(); got != 7 {
		t.Fatalf("Hartid() = %d, want 7", got)
	}
}

func TestHartidDefaultsToZeroUnassigned(t *testing.T) {
	ClearHart()
	if got := Hartid(); got != 0 {
		t.Fatalf("Hartid() with no assignment = %d, want 0", got)
	}
}

func TestClearHartForgetsAssignment(t *testing.T) {
	SetHart(3)
	ClearHart()
	if got := Hartid(); got != 0 {
		t.Fatalf("Hartid() after ClearHart = %d, want 0", got)
	}
}

func TestInterruptEnableDisableRestore(t *testing.T) {
	defer ClearHart()
	SetHart(0)
	EnableInterrupts()
	if !InterruptsEnabled() {
		t.Fatal("InterruptsEnabled() false after EnableInterrupts")
	}
	wasEnabled := DisableInterrupts()
	if !wasEnabled {
		t.Fatal("DisableInterrupts() reported false, want true (was enabled)")
	}
	if InterruptsEnabled() {
		t.Fatal("InterruptsEnabled() true after DisableInterrupts")
	}
	RestoreInterrupts(true)
	if !InterruptsEnabled() {
		t.Fatal("InterruptsEnabled() false after RestoreInterrupts(true)")
	}
	RestoreInterrupts(false)
	if InterruptsEnabled() {
		t.Fatal("InterruptsEnabled() true after RestoreInterrupts(false)")
	}
}

func TestWriteReadSatpRoundTrips(t *testing.T) {
	defer ClearHart()
	SetHart(1)
	WriteSatp(0xdeadbeef)
	if got := ReadSatp(); got != 0xdeadbeef {
		t.Fatalf("ReadSatp() = %#x, want 0xdeadbeef", got)
	}
}

func TestFenceDoesNotPanic(t *testing.T) {
	Fence()
}
