package audio

import (
	"bytes"
	"testing"
	"time"
)

func TestChunkerCarvesFixedChunks(t *testing.T) {
	// 100ms at 16kHz mono 16-bit is 3200 bytes per chunk.
	c := NewChunker(16000, 100)

	// Write 2.5 chunks worth of data in uneven pieces.
	data := make([]byte, 8000)
	for i := range data {
		data[i] = byte(i)
	}

	chunks := c.Write(data[:1000])
	if len(chunks) != 0 {
		t.Fatalf("short write produced %d chunks", len(chunks))
	}
	chunks = append(chunks, c.Write(data[1000:])...)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Seq != uint64(i) {
			t.Errorf("chunk %d: seq %d", i, ch.Seq)
		}
		if len(ch.Data) != 3200 {
			t.Errorf("chunk %d: %d bytes", i, len(ch.Data))
		}
		if ch.Duration != 100*time.Millisecond {
			t.Errorf("chunk %d: duration %v", i, ch.Duration)
		}
	}
	if !bytes.Equal(chunks[0].Data, data[:3200]) {
		t.Error("first chunk payload mismatch")
	}
	if !bytes.Equal(chunks[1].Data, data[3200:6400]) {
		t.Error("second chunk payload mismatch")
	}
	if c.Pending() != 1600 {
		t.Errorf("pending: got %d, want 1600", c.Pending())
	}
}

func TestChunkerFlushPartial(t *testing.T) {
	c := NewChunker(16000, 100)
	c.Write(make([]byte, 3201)) // one full chunk plus one stray byte

	chunk, ok := c.Flush()
	if ok {
		t.Fatalf("flush of a single odd byte returned a chunk of %d bytes", len(chunk.Data))
	}
	if c.Pending() != 0 {
		t.Errorf("pending after flush: %d", c.Pending())
	}

	c.Write(make([]byte, 101))
	chunk, ok = c.Flush()
	if !ok {
		t.Fatal("flush returned no chunk")
	}
	// Odd trailing byte is dropped to keep sample alignment.
	if len(chunk.Data) != 100 {
		t.Errorf("flushed %d bytes, want 100", len(chunk.Data))
	}
	if chunk.Seq != 1 {
		t.Errorf("flushed seq %d, want 1", chunk.Seq)
	}
}

func TestChunkerMinimumChunkSize(t *testing.T) {
	// Degenerate configuration still produces sample-aligned chunks.
	c := NewChunker(8000, 0)
	chunks := c.Write([]byte{1, 2, 3, 4})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for _, ch := range chunks {
		if len(ch.Data) != 2 {
			t.Errorf("chunk of %d bytes", len(ch.Data))
		}
	}
}
