// Package stat encodes the fstat(2) reply the syscall surface (§4.11)
// copies out to user space.
//
// Adapted from stat/stat.go's opaque-field-plus-Bytes() pattern.
package stat

import "unsafe"

// Stat_t mirrors one file's metadata. Fields are private; callers use
// the accessors so the encoded byte layout (what Bytes returns) stays
// decoupled from Go's own struct layout rules.
type Stat_t struct {
	_dev   uint64
	_ino   uint64
	_mode  uint64
	_size  uint64
	_rdev  uint64
	_nlink uint64
}

func (st *Stat_t) Wdev(v uint64)   { st._dev = v }
func (st *Stat_t) Wino(v uint64)   { st._ino = v }
func (st *Stat_t) Wmode(v uint64)  { st._mode = v }
func (st *Stat_t) Wsize(v uint64)  { st._size = v }
func (st *Stat_t) Wrdev(v uint64)  { st._rdev = v }
func (st *Stat_t) Wnlink(v uint64) { st._nlink = v }

func (st *Stat_t) Mode() uint64  { return st._mode }
func (st *Stat_t) Size() uint64  { return st._size }
func (st *Stat_t) Rdev() uint64  { return st._rdev }
func (st *Stat_t) Rino() uint64  { return st._ino }
func (st *Stat_t) Nlink() uint64 { return st._nlink }

// Bytes exposes the raw in-memory layout for copyout; this is the only
// place Stat_t's representation is observable from outside the package.
func (st *Stat_t) Bytes() []byte {
	const sz = unsafe.Sizeof(*st)
	sl := (*[sz]byte)(unsafe.Pointer(&st._dev))
	return sl[:]
}
