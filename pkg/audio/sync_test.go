package audio

import "testing"

func chunkAt(ts uint64) *Chunk {
	return &Chunk{Timestamp: ts}
}

func TestSynchronizer_ReleasesChunksPerFrame(t *testing.T) {
	const frame = 33_000
	s := NewSynchronizer(frame, 4)

	if got := s.Frame(); len(got) != 0 {
		t.Fatalf("frame before any audio released %d chunks", len(got))
	}

	c0, c1, c2 := chunkAt(1_000_000), chunkAt(1_000_000+frame), chunkAt(1_000_000+2*frame)
	s.Push(c0)
	s.Push(c1)

	if got := s.Frame(); len(got) != 1 || got[0] != c0 {
		t.Fatalf("first frame = %v, want [c0]", got)
	}
	s.Push(c2)
	if got := s.Frame(); len(got) != 1 || got[0] != c1 {
		t.Fatalf("second frame = %v, want [c1]", got)
	}
	if got := s.Frame(); len(got) != 1 || got[0] != c2 {
		t.Fatalf("third frame = %v, want [c2]", got)
	}
	if got := s.Frame(); len(got) != 0 {
		t.Fatalf("fourth frame released %d chunks, want none", len(got))
	}
	if s.Clock() != 1_000_000+4*frame {
		t.Errorf("Clock() = %d, want %d", s.Clock(), 1_000_000+4*frame)
	}
}

func TestSynchronizer_LateChunksReleasedImmediately(t *testing.T) {
	s := NewSynchronizer(10_000, 4)
	s.Push(chunkAt(0))
	s.Frame()
	s.Frame()

	// Audio arrives behind the video clock: it goes out with the next frame.
	s.Push(chunkAt(5_000))
	s.Push(chunkAt(15_000))
	if got := s.Frame(); len(got) != 2 {
		t.Errorf("late chunks released = %d, want 2", len(got))
	}
}

func TestSynchronizer_DropsOldestWhenBacklogged(t *testing.T) {
	s := NewSynchronizer(10_000, 3)
	var chunks []*Chunk
	for i := 0; i < 5; i++ {
		c := chunkAt(uint64(i) * 10_000)
		chunks = append(chunks, c)
		s.Push(c)
	}

	if s.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", s.Pending())
	}
	if s.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", s.Dropped())
	}
	if s.Clock() != chunks[2].Timestamp {
		t.Errorf("clock = %d, want resync to %d", s.Clock(), chunks[2].Timestamp)
	}
	if got := s.Frame(); len(got) != 1 || got[0] != chunks[2] {
		t.Errorf("frame after resync = %v, want chunk 2", got)
	}
}

func TestSynchronizer_MaxPendingBoundedBySlack(t *testing.T) {
	s := NewSynchronizer(1, SlackChunks+5)
	if s.maxPending != DefaultMaxPending {
		t.Errorf("maxPending = %d, want %d", s.maxPending, DefaultMaxPending)
	}
}

func TestSynchronizer_Reset(t *testing.T) {
	s := NewSynchronizer(10, 4)
	s.Push(chunkAt(100))
	s.Reset()
	if s.Pending() != 0 || s.Clock() != 0 {
		t.Errorf("after reset pending=%d clock=%d", s.Pending(), s.Clock())
	}
	if got := s.Frame(); len(got) != 0 {
		t.Errorf("frame after reset released %d chunks", len(got))
	}
}
