package trapframe

import "testing"

func TestArgsReturnsA0ThroughA5(t *testing.T) {
	tf := &Trapframe_t{A0: 1, A1: 2, A2: 3, A3: 4, A4: 5, A5: 6, A6: 99}
	got := tf.Args()
	want := [6]uint64{1, 2, 3, 4, 5, 6}
	if got != want {
		t.Fatalf("Args() = %v, want %v", got, want)
	}
}

func TestSetRetStoresPositiveValueDirectly(t *testing.T) {
	tf := &Trapframe_t{}
	tf.SetRet(42)
	if tf.A0 != 42 {
		t.Fatalf("A0 = %d, want 42", tf.A0)
	}
}

func TestSetRetStoresNegativeErrAsTwosComplement(t *testing.T) {
	tf := &Trapframe_t{}
	tf.SetRet(-1)
	if tf.A0 != 0xFFFFFFFFFFFFFFFF {
		t.Fatalf("A0 = %#x, want all-ones two's-complement -1", tf.A0)
	}
}
