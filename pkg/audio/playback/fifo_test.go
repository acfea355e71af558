package playback

import (
	"bytes"
	"testing"
)

func TestFIFO_ReadWrite(t *testing.T) {
	f := newFIFO(8)

	if dropped := f.write([]byte{1, 2, 3}); dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
	out := make([]byte, 2)
	if n := f.read(out); n != 2 || !bytes.Equal(out, []byte{1, 2}) {
		t.Fatalf("read = %d %v", n, out)
	}
	if f.buffered() != 1 {
		t.Errorf("buffered = %d, want 1", f.buffered())
	}

	out = make([]byte, 4)
	if n := f.read(out); n != 1 || out[0] != 3 {
		t.Errorf("read = %d %v, want 1 [3 ...]", n, out)
	}
	if n := f.read(out); n != 0 {
		t.Errorf("read from empty fifo = %d", n)
	}
}

func TestFIFO_OverflowDropsOldest(t *testing.T) {
	f := newFIFO(4)

	f.write([]byte{1, 2, 3})
	if dropped := f.write([]byte{4, 5, 6}); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}

	out := make([]byte, 4)
	if n := f.read(out); n != 4 || !bytes.Equal(out, []byte{3, 4, 5, 6}) {
		t.Errorf("read = %d %v, want [3 4 5 6]", n, out)
	}
}

func TestFIFO_WriteLargerThanCapacity(t *testing.T) {
	f := newFIFO(3)
	f.write([]byte{1, 2, 3, 4, 5})

	out := make([]byte, 3)
	if n := f.read(out); n != 3 || !bytes.Equal(out, []byte{3, 4, 5}) {
		t.Errorf("read = %d %v, want [3 4 5]", n, out)
	}
	if f.dropped != 2 {
		t.Errorf("dropped = %d, want 2", f.dropped)
	}
}

func TestFIFO_WrapAround(t *testing.T) {
	f := newFIFO(4)
	out := make([]byte, 3)

	for round := 0; round < 5; round++ {
		in := []byte{byte(round), byte(round + 10), byte(round + 20)}
		f.write(in)
		if n := f.read(out); n != 3 || !bytes.Equal(out, in) {
			t.Fatalf("round %d: read = %d %v, want %v", round, n, out, in)
		}
	}

	f.write([]byte{9})
	f.reset()
	if f.buffered() != 0 {
		t.Error("reset should empty the fifo")
	}
}
