// Package fs describes the on-disk layout spec.md §6 defines: the
// superblock, inode, and directory-entry formats. The directory/inode
// path-lookup layer built on top of these is explicitly out of scope
// (spec.md §1); this package stops at "here is where things live on
// disk", which is exactly what internal/bio and internal/fslog need to
// size blocks and find the log region, and what cmd/mkfs needs to build
// an image.
//
// Grounded on fs/super.go's Superblock_t, a thin typed view over a raw
// block with field-index accessors (fieldr/fieldw), adapted from
// biscuit's 32-bit x86 field layout to the fixed binary layout spec.md
// §6 spells out explicitly, magic number included.
package fs

import "encoding/binary"

// BSIZE is the on-disk/cache block size, matching limits.Syslimit.BSIZE
// and fs/blk.go's BSIZE constant (4096 in the teacher's x86 target,
// 1024 here per spec.md §6).
const BSIZE = 1024

// FSMAGIC identifies a formatted disk image (spec.md §6).
const FSMAGIC uint32 = 0x10203040

// Superblock_t mirrors the fixed on-disk header at block 1.
type Superblock_t struct {
	Magic      uint32
	Size       uint32 // total blocks on disk
	Nblocks    uint32 // data blocks
	Ninodes    uint32 // inodes
	Nlog       uint32 // log blocks
	Logstart   uint32 // block number of first log block
	Inodestart uint32 // block number of first inode block
	Bmapstart  uint32 // block number of first free-bitmap block
}

const superblockEncodedLen = 8 * 4

// Encode renders sb into a BSIZE-aligned block.
func (sb *Superblock_t) Encode() []byte {
	b := make([]byte, BSIZE)
	binary.LittleEndian.PutUint32(b[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(b[4:8], sb.Size)
	binary.LittleEndian.PutUint32(b[8:12], sb.Nblocks)
	binary.LittleEndian.PutUint32(b[12:16], sb.Ninodes)
	binary.LittleEndian.PutUint32(b[16:20], sb.Nlog)
	binary.LittleEndian.PutUint32(b[20:24], sb.Logstart)
	binary.LittleEndian.PutUint32(b[24:28], sb.Inodestart)
	binary.LittleEndian.PutUint32(b[28:32], sb.Bmapstart)
	return b
}

// DecodeSuperblock parses a block read from disk. Returns a nil pointer
// if the magic number doesn't match — a corrupt or unformatted disk is
// a boot-time fatal condition, not something callers retry.
func DecodeSuperblock(b []byte) *Superblock_t {
	if len(b) < superblockEncodedLen {
		return nil
	}
	sb := &Superblock_t{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Size:       binary.LittleEndian.Uint32(b[4:8]),
		Nblocks:    binary.LittleEndian.Uint32(b[8:12]),
		Ninodes:    binary.LittleEndian.Uint32(b[12:16]),
		Nlog:       binary.LittleEndian.Uint32(b[16:20]),
		Logstart:   binary.LittleEndian.Uint32(b[20:24]),
		Inodestart: binary.LittleEndian.Uint32(b[24:28]),
		Bmapstart:  binary.LittleEndian.Uint32(b[28:32]),
	}
	if sb.Magic != FSMAGIC {
		return nil
	}
	return sb
}

// Inode types (spec.md §6 "short type/major/minor/nlink").
const (
	T_UNUSED = 0
	T_DIR    = 1
	T_FILE   = 2
	T_DEVICE = 3
)

const NDIRECT = 12

// Dinode_t is the on-disk inode: 12 direct block pointers plus one
// singly-indirect pointer, as spec.md §6 specifies.
type Dinode_t struct {
	Type  int16
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
	Addrs [NDIRECT + 1]uint32
}

const dinodeEncodedLen = 2*4 + 4 + (NDIRECT+1)*4

func (d *Dinode_t) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(d.Type))
	binary.LittleEndian.PutUint16(b[2:4], uint16(d.Major))
	binary.LittleEndian.PutUint16(b[4:6], uint16(d.Minor))
	binary.LittleEndian.PutUint16(b[6:8], uint16(d.Nlink))
	binary.LittleEndian.PutUint32(b[8:12], d.Size)
	for i, a := range d.Addrs {
		off := 12 + i*4
		binary.LittleEndian.PutUint32(b[off:off+4], a)
	}
}

func DecodeDinode(b []byte) *Dinode_t {
	d := &Dinode_t{
		Type:  int16(binary.LittleEndian.Uint16(b[0:2])),
		Major: int16(binary.LittleEndian.Uint16(b[2:4])),
		Minor: int16(binary.LittleEndian.Uint16(b[4:6])),
		Nlink: int16(binary.LittleEndian.Uint16(b[6:8])),
		Size:  binary.LittleEndian.Uint32(b[8:12]),
	}
	for i := range d.Addrs {
		off := 12 + i*4
		d.Addrs[i] = binary.LittleEndian.Uint32(b[off : off+4])
	}
	return d
}

// IPB is inodes-per-block; DINODESZ the on-disk size of one dinode.
const DINODESZ = dinodeEncodedLen
const IPB = BSIZE / DINODESZ

// DirentNameLen is the fixed name length of a directory entry
// (spec.md §6 "char name[14]").
const DirentNameLen = 14

// Dirent_t is one directory entry: an inode number plus a fixed-size
// name field.
type Dirent_t struct {
	Inum uint16
	Name [DirentNameLen]byte
}

const DirentEncodedLen = 2 + DirentNameLen

func (de *Dirent_t) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], de.Inum)
	copy(b[2:2+DirentNameLen], de.Name[:])
}

func DecodeDirent(b []byte) *Dirent_t {
	de := &Dirent_t{Inum: binary.LittleEndian.Uint16(b[0:2])}
	copy(de.Name[:], b[2:2+DirentNameLen])
	return de
}
