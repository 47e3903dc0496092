package stat

import "testing"

func TestAccessorsRoundTrip(t *testing.T) {
	var st Stat_t
	st.Wdev(1)
	st.Wino(2)
	st.Wmode(3)
	st.Wsize(4)
	st.Wrdev(5)
	st.Wnlink(6)

	if st.Mode() != 3 {
		t.Fatalf("Mode() = %d, want 3", st.Mode())
	}
	if st.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", st.Size())
	}
	if st.Rdev() != 5 {
		t.Fatalf("Rdev() = %d, want 5", st.Rdev())
	}
	if st.Rino() != 2 {
		t.Fatalf("Rino() = %d, want 2", st.Rino())
	}
	if st.Nlink() != 6 {
		t.Fatalf("Nlink() = %d, want 6", st.Nlink())
	}
}

func TestBytesLengthMatchesSixUint64Fields(t *testing.T) {
	var st Stat_t
	b := st.Bytes()
	if len(b) != 6*8 {
		t.Fatalf("Bytes() length = %d, want %d", len(b), 6*8)
	}
}

func TestBytesReflectsWrittenFields(t *testing.T) {
	var st Stat_t
	st.Wmode(0x1234)
	b := st.Bytes()
	// _dev, _ino, _mode are the first three uint64 fields in declaration
	// order; _mode therefore starts at byte offset 16, little-endian.
	var mode uint64
	for i := 0; i < 8; i++ {
		mode |= uint64(b[16+i]) << (8 * uint(i))
	}
	if mode != 0x1234 {
		t.Fatalf("Bytes() did not reflect Wmode: got %#x, want %#x", mode, 0x1234)
	}
}
