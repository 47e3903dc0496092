// Package caller formats a Go call stack for panic diagnostics — the
// kernel has no debugger to attach, so a panic's stack dump is the only
// post-mortem information available.
//
// Adapted from caller/caller.go, trimmed to the plain stack-dump helper;
// the distinct-caller-path tracker that file also carried has no use
// here and isn't wired to anything, so it's left out rather than
// transplanted unused.
package caller

import (
	"fmt"
	"runtime"
)

// Dump renders the call stack from frame start onward (frame 0 is Dump
// itself, 1 its caller) as a single multi-line string, frame
// "<-"-chained the way the
// teacher's Callerdump concatenates them for single fmt.Printf output.
func Dump(start int) string {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}

// Print writes Dump's output to the console.
func Print(start int) {
	fmt.Printf("%s", Dump(start+1))
}
