package fs

import "testing"

func TestSuperblockEncodeDecodeRoundTrips(t *testing.T) {
	sb := &Superblock_t{
		Magic:      FSMAGIC,
		Size:       1000,
		Nblocks:    900,
		Ninodes:    200,
		Nlog:       30,
		Logstart:   2,
		Inodestart: 32,
		Bmapstart:  57,
	}
	got := DecodeSuperblock(sb.Encode())
	if got == nil {
		t.Fatal("DecodeSuperblock returned nil for a validly encoded block")
	}
	if *got != *sb {
		t.Fatalf("round trip mismatch: got %+v, want %+v", *got, *sb)
	}
}

func TestSuperblockEncodeIsBlockSized(t *testing.T) {
	sb := &Superblock_t{Magic: FSMAGIC}
	if len(sb.Encode()) != BSIZE {
		t.Fatalf("Encode() length = %d, want %d", len(sb.Encode()), BSIZE)
	}
}

func TestDecodeSuperblockRejectsBadMagic(t *testing.T) {
	sb := &Superblock_t{Magic: 0xdeadbeef}
	if got := DecodeSuperblock(sb.Encode()); got != nil {
		t.Fatalf("DecodeSuperblock accepted a bad magic number: %+v", got)
	}
}

func TestDecodeSuperblockRejectsShortBuffer(t *testing.T) {
	if got := DecodeSuperblock(make([]byte, 4)); got != nil {
		t.Fatalf("DecodeSuperblock accepted a too-short buffer: %+v", got)
	}
}

func TestDinodeEncodeDecodeRoundTrips(t *testing.T) {
	d := &Dinode_t{Type: T_FILE, Major: 1, Minor: 2, Nlink: 3, Size: 4096}
	for i := range d.Addrs {
		d.Addrs[i] = uint32(i + 1)
	}
	buf := make([]byte, DINODESZ)
	d.Encode(buf)
	got := DecodeDinode(buf)
	if *got != *d {
		t.Fatalf("round trip mismatch: got %+v, want %+v", *got, *d)
	}
}

func TestIPBDividesEvenly(t *testing.T) {
	if BSIZE%DINODESZ != 0 || IPB == 0 {
		t.Fatalf("DINODESZ=%d does not divide BSIZE=%d evenly (IPB=%d)", DINODESZ, BSIZE, IPB)
	}
}

func TestDirentEncodeDecodeRoundTrips(t *testing.T) {
	de := &Dirent_t{Inum: 7}
	copy(de.Name[:], "hello")
	buf := make([]byte, DirentEncodedLen)
	de.Encode(buf)
	got := DecodeDirent(buf)
	if got.Inum != de.Inum || got.Name != de.Name {
		t.Fatalf("round trip mismatch: got %+v, want %+v", *got, *de)
	}
}

func TestDirentNameTruncatesAtFixedWidth(t *testing.T) {
	de := &Dirent_t{Inum: 1}
	copy(de.Name[:], "this-name-is-far-too-long-to-fit")
	buf := make([]byte, DirentEncodedLen)
	de.Encode(buf)
	got := DecodeDirent(buf)
	if len(got.Name) != DirentNameLen {
		t.Fatalf("decoded name length = %d, want %d", len(got.Name), DirentNameLen)
	}
}
