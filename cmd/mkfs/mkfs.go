// Command mkfs builds a formatted disk image this kernel's virtio
// driver can mount: a zeroed boot block, the superblock spec.md §6
// defines, an empty write-ahead log region (a single header block with
// n=0 is already a valid "nothing to recover" log, per internal/fslog's
// recover()), an inode region with the root directory preallocated, a
// free-block bitmap, and the data region.
//
// Grounded on mkfs/mkfs.go's CLI shape (positional image + skeleton-dir
// arguments, filepath.WalkDir copying a host directory tree in) and on
// internal/fs's layout structs for the binary format itself — this
// tool is the one place in the tree that writes that format without
// going through internal/bio's cache, the same relationship
// mkfs/mkfs.go has to ufs.Ufs_t.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sv39kernel/internal/fs"
)

const (
	rootIno = 1

	defaultSize    = 65536 // total blocks in the image
	defaultNlog    = 30    // log blocks, header included
	defaultNinodes = 200
)

// image is the whole disk held in memory as BSIZE blocks, the same
// "build it as an array of sectors, write once at the end" approach
// mkfs/mkfs.go's wsect/rsect pair takes over a file handle.
type image struct {
	blocks [][]byte

	logstart   uint32
	inodestart uint32
	bmapstart  uint32
	ninodes    uint32
	nextInode  uint32
	nextData   uint32 // next free data block, bump-allocated
	ndata      uint32
}

func newImage(totalBlocks, nlog, ninodes uint32) *image {
	ninodeblks := (ninodes + uint32(fs.IPB) - 1) / uint32(fs.IPB)
	nbitmap := (totalBlocks/(fs.BSIZE*8))+1

	nmeta := 2 + nlog + ninodeblks + nbitmap
	if nmeta >= totalBlocks {
		panic("mkfs: image too small for its own metadata")
	}

	im := &image{
		blocks:     make([][]byte, totalBlocks),
		logstart:   2,
		inodestart: 2 + nlog,
		bmapstart:  2 + nlog + ninodeblks,
		ninodes:    ninodes,
		nextInode:  1,
		nextData:   nmeta,
		ndata:      totalBlocks - nmeta,
	}
	for i := range im.blocks {
		im.blocks[i] = make([]byte, fs.BSIZE)
	}

	sb := &fs.Superblock_t{
		Magic:      fs.FSMAGIC,
		Size:       totalBlocks,
		Nblocks:    im.ndata,
		Ninodes:    ninodes,
		Nlog:       nlog,
		Logstart:   im.logstart,
		Inodestart: im.inodestart,
		Bmapstart:  im.bmapstart,
	}
	copy(im.blocks[1], sb.Encode())

	// An empty log header (n=0) is already a well-formed "nothing
	// committed" log; every other log block stays zeroed.
	hdr := make([]byte, fs.BSIZE)
	binary.LittleEndian.PutUint32(hdr[0:4], 0)
	copy(im.blocks[im.logstart], hdr)

	for i := uint32(0); i < nmeta; i++ {
		im.markUsed(i)
	}

	im.ialloc(fs.T_DIR) // inode 1, the root directory
	im.addDirent(rootIno, ".", rootIno)
	im.addDirent(rootIno, "..", rootIno)

	return im
}

func (im *image) markUsed(blockno uint32) {
	blk := im.bmapstart + blockno/(fs.BSIZE*8)
	byteOff := (blockno % (fs.BSIZE * 8)) / 8
	bit := byte(1) << (blockno % 8)
	im.blocks[blk][byteOff] |= bit
}

func (im *image) balloc() uint32 {
	if im.nextData >= im.bmapstart+1+im.ndata {
		panic("mkfs: out of data blocks")
	}
	b := im.nextData
	im.nextData++
	im.markUsed(b)
	return b
}

func (im *image) ialloc(typ int16) uint32 {
	if im.nextInode >= im.ninodes {
		panic("mkfs: out of inodes")
	}
	inum := im.nextInode
	im.nextInode++
	d := &fs.Dinode_t{Type: typ, Nlink: 1}
	im.writeDinode(inum, d)
	return inum
}

func (im *image) readDinode(inum uint32) *fs.Dinode_t {
	blk := im.inodestart + inum/uint32(fs.IPB)
	off := (inum % uint32(fs.IPB)) * uint32(fs.DINODESZ)
	return fs.DecodeDinode(im.blocks[blk][off : off+uint32(fs.DINODESZ)])
}

func (im *image) writeDinode(inum uint32, d *fs.Dinode_t) {
	blk := im.inodestart + inum/uint32(fs.IPB)
	off := (inum % uint32(fs.IPB)) * uint32(fs.DINODESZ)
	d.Encode(im.blocks[blk][off : off+uint32(fs.DINODESZ)])
}

// append writes data to the end of inum's file, growing it one block
// at a time and, once NDIRECT direct pointers are exhausted, through
// the single indirect block — original_source's xv6 mkfs takes the
// same direct-then-indirect growth path iappend does at runtime.
func (im *image) append(inum uint32, data []byte) {
	d := im.readDinode(inum)
	off := 0
	for off < len(data) {
		fbn := d.Size / fs.BSIZE
		var blk uint32
		if fbn < fs.NDIRECT {
			if d.Addrs[fbn] == 0 {
				d.Addrs[fbn] = im.balloc()
			}
			blk = d.Addrs[fbn]
		} else {
			indirectIdx := fbn - fs.NDIRECT
			if d.Addrs[fs.NDIRECT] == 0 {
				d.Addrs[fs.NDIRECT] = im.balloc()
			}
			indBlk := d.Addrs[fs.NDIRECT]
			indirect := im.blocks[indBlk]
			entryOff := indirectIdx * 4
			if binary.LittleEndian.Uint32(indirect[entryOff:entryOff+4]) == 0 {
				binary.LittleEndian.PutUint32(indirect[entryOff:entryOff+4], im.balloc())
			}
			blk = binary.LittleEndian.Uint32(indirect[entryOff : entryOff+4])
		}

		n := fs.BSIZE - int(d.Size%fs.BSIZE)
		if n > len(data)-off {
			n = len(data) - off
		}
		copy(im.blocks[blk][d.Size%fs.BSIZE:], data[off:off+n])
		d.Size += uint32(n)
		off += n
	}
	im.writeDinode(inum, d)
}

// addDirent appends one directory entry to dirInum, the Go rendering
// of xv6 mkfs.c's handling of "." and ".." and every skeleton file it
// copies in.
func (im *image) addDirent(dirInum uint32, name string, inum uint32) {
	de := &fs.Dirent_t{Inum: uint16(inum)}
	copy(de.Name[:], name)
	b := make([]byte, fs.DirentEncodedLen)
	de.Encode(b)
	im.append(dirInum, b)
}

func (im *image) write(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	for _, b := range im.blocks {
		if _, err := out.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// copydata streams a host file's bytes into dst, the Go rendering of
// mkfs/mkfs.go's copydata.
func copydata(im *image, src string, dstInum uint32) {
	f, err := os.Open(src)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	buf := make([]byte, fs.BSIZE)
	for {
		n, readErr := f.Read(buf)
		if readErr != nil && readErr != io.EOF {
			panic(readErr)
		}
		if n > 0 {
			im.append(dstInum, buf[:n])
		}
		if readErr == io.EOF {
			break
		}
	}
}

// addfiles walks a host directory tree and replicates it into the
// image, the Go rendering of mkfs/mkfs.go's addfiles — one dirInode
// per host directory, appended into its parent as we go.
func addfiles(im *image, skeldir string) {
	dirInode := map[string]uint32{".": rootIno}

	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skeldir), string(filepath.Separator))
		if rel == "" {
			return nil
		}
		parent := filepath.Dir(rel)
		if parent == "." {
			parent = "."
		}
		parentInum, ok := dirInode[parent]
		if !ok {
			return fmt.Errorf("mkfs: %s: parent directory %q not seen yet", rel, parent)
		}
		name := filepath.Base(rel)

		if d.IsDir() {
			inum := im.ialloc(fs.T_DIR)
			im.addDirent(inum, ".", inum)
			im.addDirent(inum, "..", parentInum)
			im.addDirent(parentInum, name, inum)
			dirInode[rel] = inum
			return nil
		}

		inum := im.ialloc(fs.T_FILE)
		im.addDirent(parentInum, name, inum)
		copydata(im, path, inum)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: error walking %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

func main() {
	out := flag.String("o", "fs.img", "output disk image path")
	size := flag.Uint("size", defaultSize, "total blocks in the image")
	nlog := flag.Uint("nlog", defaultNlog, "log region size in blocks")
	ninodes := flag.Uint("ninodes", defaultNinodes, "number of inodes")
	flag.Parse()

	im := newImage(uint32(*size), uint32(*nlog), uint32(*ninodes))

	if skel := flag.Arg(0); skel != "" {
		addfiles(im, skel)
	}

	if err := im.write(*out); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: writing %s: %v\n", *out, err)
		os.Exit(1)
	}
}
