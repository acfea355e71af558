package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"
)

var mono16k48 = Format{SampleRate: 48000, Channels: 1, SampleBytes: 2}

type collected struct {
	data []byte
	ts   uint64
}

// streamOf builds a deterministic payload stream of n bytes.
func streamOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func packetTimestamp(i int) uint64 {
	return 1_000_000 + uint64(i)*4167
}

// expectedStart returns the timestamp a chunk starting at sample s must carry.
func expectedStart(f Format, packetSamples, s int) uint64 {
	p := s / packetSamples
	off := s % packetSamples
	return packetTimestamp(p) + uint64(off)*1_000_000/uint64(f.SampleRate)
}

func drain(a *Assembler, out []collected) []collected {
	for {
		c, ok := a.TryRead()
		if !ok {
			return out
		}
		out = append(out, collected{data: append([]byte(nil), c.Bytes()...), ts: c.Timestamp})
	}
}

func TestAssembler_ChunkBoundaries(t *testing.T) {
	tests := []struct {
		name          string
		chunkSamples  int
		packetSamples int
		packets       int
	}{
		{"packet smaller than chunk", 480, 200, 12},
		{"packet spans several chunks", 100, 250, 8},
		{"packet equals chunk", 160, 160, 5},
		{"chunk multiple of packet", 400, 100, 16},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := mono16k48
			chunkBytes := tc.chunkSamples * f.FrameBytes()
			payloadBytes := tc.packetSamples * f.FrameBytes()

			a, err := NewAssembler(f, chunkBytes, 4, time.Millisecond)
			if err != nil {
				t.Fatal(err)
			}

			stream := streamOf(tc.packets * payloadBytes)
			var got []collected
			for i := 0; i < tc.packets; i++ {
				payload := stream[i*payloadBytes : (i+1)*payloadBytes]
				if err := a.Write(context.Background(), packetTimestamp(i), payload); err != nil {
					t.Fatalf("packet %d: %v", i, err)
				}
				got = drain(a, got)
			}

			wantChunks := len(stream) / chunkBytes
			if len(got) != wantChunks {
				t.Fatalf("got %d chunks, want %d", len(got), wantChunks)
			}

			var joined []byte
			for i, c := range got {
				joined = append(joined, c.data...)
				if want := expectedStart(f, tc.packetSamples, i*tc.chunkSamples); c.ts != want {
					t.Errorf("chunk %d timestamp = %d, want %d", i, c.ts, want)
				}
				if i > 0 && c.ts <= got[i-1].ts {
					t.Errorf("chunk %d timestamp %d not after %d", i, c.ts, got[i-1].ts)
				}
			}
			if !bytes.Equal(joined, stream[:len(joined)]) {
				t.Error("concatenated chunks differ from the input stream")
			}
			if a.Assembled() != uint64(wantChunks) {
				t.Errorf("Assembled() = %d, want %d", a.Assembled(), wantChunks)
			}
		})
	}
}

func TestAssembler_MidPacketTimestamp(t *testing.T) {
	// 480-sample chunks, 200-sample packets at 48 kHz: the chunk that starts
	// at sample 480 begins 80 samples into the packet at index 2.
	a, err := NewAssembler(mono16k48, 480*2, 4, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	var got []collected
	payload := make([]byte, 200*2)
	for i := 0; i < 5; i++ {
		if err := a.Write(context.Background(), packetTimestamp(i), payload); err != nil {
			t.Fatal(err)
		}
		got = drain(a, got)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got[0].ts != packetTimestamp(0) {
		t.Errorf("first chunk timestamp = %d, want %d", got[0].ts, packetTimestamp(0))
	}
	want := packetTimestamp(2) + 80*1_000_000/48000
	if got[1].ts != want {
		t.Errorf("mid-packet chunk timestamp = %d, want %d", got[1].ts, want)
	}
	if want-packetTimestamp(2) != 1666 {
		t.Errorf("80 samples at 48kHz should be 1666µs, got %d", want-packetTimestamp(2))
	}
}

func TestAssembler_WritePacketHeader(t *testing.T) {
	a, err := NewAssembler(mono16k48, 8, 2, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	packet := make([]byte, PacketHeaderBytes+8)
	binary.LittleEndian.PutUint64(packet, 123456789)
	copy(packet[PacketHeaderBytes:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	if err := a.WritePacket(context.Background(), packet); err != nil {
		t.Fatal(err)
	}
	c, ok := a.TryRead()
	if !ok {
		t.Fatal("expected a chunk")
	}
	if c.Timestamp != 123456789 {
		t.Errorf("timestamp = %d, want 123456789", c.Timestamp)
	}
	if !bytes.Equal(c.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("payload = %v", c.Bytes())
	}

	if err := a.WritePacket(context.Background(), []byte{1, 2}); !errors.Is(err, ErrShortPacket) {
		t.Errorf("short packet err = %v, want ErrShortPacket", err)
	}
}

func TestAssembler_QueueFullRetriesUntilCancelled(t *testing.T) {
	a, err := NewAssembler(mono16k48, 4, 1, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	// First chunk fits in the queue, the second has nowhere to go.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = a.Write(ctx, 0, make([]byte, 8))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Write err = %v, want deadline exceeded", err)
	}
	if a.Retries() == 0 {
		t.Error("expected queue-full retries")
	}
	if a.Assembled() != 1 {
		t.Errorf("Assembled() = %d, want 1", a.Assembled())
	}
}

func TestAssembler_QueueFullRecoversWhenDrained(t *testing.T) {
	a, err := NewAssembler(mono16k48, 4, 1, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- a.Write(context.Background(), 0, make([]byte, 12))
	}()

	var got int
	deadline := time.After(2 * time.Second)
	for got < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d chunks arrived", got)
		default:
		}
		if _, ok := a.TryRead(); ok {
			got++
			continue
		}
		time.Sleep(time.Millisecond)
	}
	if err := <-done; err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestAssembler_ResetDropsPartialChunk(t *testing.T) {
	a, err := NewAssembler(mono16k48, 8, 2, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := a.Write(ctx, 10, []byte{9, 9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	a.Reset()
	if err := a.Write(ctx, 500, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}

	c, ok := a.TryRead()
	if !ok {
		t.Fatal("expected a chunk")
	}
	if c.Timestamp != 500 || !bytes.Equal(c.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("chunk after reset = ts %d data %v", c.Timestamp, c.Bytes())
	}
}

func TestAssembler_ConcurrentConsumer(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 2, SampleBytes: 2}
	const chunkBytes = 4 * 320
	const payloadBytes = 4 * 96
	const packets = 2000

	a, err := NewAssembler(f, chunkBytes, 4, 100*time.Microsecond)
	if err != nil {
		t.Fatal(err)
	}
	stream := streamOf(packets * payloadBytes)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < packets; i++ {
			if err := a.Write(context.Background(), uint64(i)*6000, stream[i*payloadBytes:(i+1)*payloadBytes]); err != nil {
				t.Errorf("packet %d: %v", i, err)
				return
			}
		}
	}()

	want := len(stream) / chunkBytes
	var joined []byte
	for n := 0; n < want; {
		c, ok := a.TryRead()
		if !ok {
			runtime.Gosched()
			continue
		}
		joined = append(joined, c.Bytes()...)
		n++
	}
	wg.Wait()

	if !bytes.Equal(joined, stream[:len(joined)]) {
		t.Error("chunks corrupted under concurrent consumption")
	}
}

func TestNewAssembler_Validation(t *testing.T) {
	if _, err := NewAssembler(Format{}, 10, 1, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero format err = %v", err)
	}
	if _, err := NewAssembler(mono16k48, 0, 1, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero chunk err = %v", err)
	}
	a, err := NewAssembler(mono16k48, 10, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Queue capacity rounds to 8, plus the slack slots.
	if a.Slots() != 8+SlackChunks {
		t.Errorf("Slots() = %d, want %d", a.Slots(), 8+SlackChunks)
	}
}
