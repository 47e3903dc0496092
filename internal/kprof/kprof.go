// Package kprof is per-process CPU accounting plus a pprof export of it.
//
// Grounded on accnt/accnt.go's Accnt_t (user/system nanosecond counters
// behind one mutex, Utadd/Systadd/Fetch), generalized with
// github.com/google/pprof/profile so accumulated samples can be dumped
// as a standard pprof.Profile for offline analysis instead of only the
// raw rusage byte encoding accnt.Fetch produces — the natural extension
// the teacher's own Fetch/To_rusage pair invites.
package kprof

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
)

// Accnt_t accumulates one process's user/system time, exactly as
// accnt.Accnt_t does.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

func (a *Accnt_t) Utadd(delta int64)   { atomic.AddInt64(&a.Userns, delta) }
func (a *Accnt_t) Systadd(delta int64) { atomic.AddInt64(&a.Sysns, delta) }

func Now() int64 { return time.Now().UnixNano() }

// IoTime/SleepTime remove time spent blocked from the system-time
// counter, matching accnt.Io_time/Sleep_time's "don't charge waiting
// time to CPU accounting" intent.
func (a *Accnt_t) IoTime(since int64)    { a.Systadd(-(Now() - since)) }
func (a *Accnt_t) SleepTime(since int64) { a.Systadd(-(Now() - since)) }

func (a *Accnt_t) Finish(inttime int64) { a.Systadd(Now() - inttime) }

func (a *Accnt_t) Add(n *Accnt_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
}

func (a *Accnt_t) Snapshot() (userns, sysns int64) {
	return atomic.LoadInt64(&a.Userns), atomic.LoadInt64(&a.Sysns)
}

// Sample is one process's identity plus its accumulated accounting,
// the unit BuildProfile consumes.
type Sample struct {
	Pid  int
	Name string
	Acct *Accnt_t
}

// BuildProfile renders samples as a pprof.Profile with two sample
// types (user-ns, sys-ns) and one location per process name — enough
// structure for `go tool pprof` to produce a flat, per-process CPU
// breakdown without pretending to have real call-stack samples.
func BuildProfile(samples []Sample) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		TimeNanos: Now(),
	}
	funcs := make(map[string]*profile.Function)
	locs := make(map[string]*profile.Location)
	nextID := uint64(1)

	for _, s := range samples {
		fn, ok := funcs[s.Name]
		if !ok {
			fn = &profile.Function{ID: nextID, Name: s.Name}
			nextID++
			funcs[s.Name] = fn
			p.Function = append(p.Function, fn)
		}
		loc, ok := locs[s.Name]
		if !ok {
			loc = &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn}}}
			nextID++
			locs[s.Name] = loc
			p.Location = append(p.Location, loc)
		}
		userns, sysns := s.Acct.Snapshot()
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{userns, sysns},
			Label:    map[string][]string{"pid": {strconv.Itoa(s.Pid)}},
		})
	}
	return p
}
