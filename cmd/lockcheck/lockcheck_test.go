package main

import "testing"

func TestContainsFoldFindsSubstring(t *testing.T) {
	if !containsFold("sv39kernel/internal/proc.Proc_t", "Proc_t") {
		t.Fatal("containsFold missed a present substring")
	}
}

func TestContainsFoldMissesAbsentSubstring(t *testing.T) {
	if containsFold("sv39kernel/internal/bio.Cache_t", "Proc_t") {
		t.Fatal("containsFold matched a substring that isn't present")
	}
}

func TestContainsFoldEmptyNeedleAlwaysMatches(t *testing.T) {
	if !containsFold("anything", "") {
		t.Fatal("containsFold with an empty needle should always match")
	}
}

func TestClassStringNames(t *testing.T) {
	cases := map[class]string{
		classWaitLock:  "wait_lock",
		classProcLock:  "process lock",
		classCacheLock: "cache spinlock",
		classBufSleep:  "buffer sleeplock",
		classOther:     "other",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Fatalf("class(%d).String() = %q, want %q", c, got, want)
		}
	}
}

func TestAllowedNestedInReflectsTheOrderingTable(t *testing.T) {
	if !allowedNestedIn[classWaitLock][classProcLock] {
		t.Fatal("process lock should be allowed nested inside wait_lock")
	}
	if allowedNestedIn[classWaitLock][classCacheLock] {
		t.Fatal("cache spinlock should not be allowed nested inside wait_lock")
	}
	if !allowedNestedIn[classCacheLock][classBufSleep] {
		t.Fatal("buffer sleeplock should be allowed nested inside cache spinlock")
	}
	if allowedNestedIn[classProcLock][classWaitLock] {
		t.Fatal("wait_lock nested inside process lock should not be allowed (reversed order)")
	}
}
