package audio

import (
	"time"
)

// Chunk is one time-sliced span of captured audio. Seq is monotonic within
// a capture session.
type Chunk struct {
	Seq      uint64
	Data     []byte
	Captured time.Time
	Duration time.Duration
}

// Chunker slices a raw PCM byte stream into fixed-duration chunks.
// Not safe for concurrent use; each capture owns its own chunker.
type Chunker struct {
	sampleRate int
	chunkBytes int
	buf        []byte
	seq        uint64
}

// NewChunker creates a chunker producing chunks of chunkMs milliseconds of
// mono 16-bit PCM at the given sample rate.
func NewChunker(sampleRate, chunkMs int) *Chunker {
	chunkBytes := sampleRate * 2 * chunkMs / 1000
	if chunkBytes < 2 {
		chunkBytes = 2
	}
	// Keep sample alignment
	if chunkBytes%2 != 0 {
		chunkBytes++
	}
	return &Chunker{
		sampleRate: sampleRate,
		chunkBytes: chunkBytes,
	}
}

// Write appends raw PCM bytes and returns any complete chunks carved from
// the accumulated stream.
func (c *Chunker) Write(p []byte) []Chunk {
	c.buf = append(c.buf, p...)

	var chunks []Chunk
	for len(c.buf) >= c.chunkBytes {
		data := make([]byte, c.chunkBytes)
		copy(data, c.buf[:c.chunkBytes])
		c.buf = c.buf[c.chunkBytes:]

		chunks = append(chunks, Chunk{
			Seq:      c.seq,
			Data:     data,
			Captured: time.Now().UTC(),
			Duration: PCMDuration(data, c.sampleRate),
		})
		c.seq++
	}
	return chunks
}

// Flush returns the remaining partial chunk, if any, and resets the buffer.
func (c *Chunker) Flush() (Chunk, bool) {
	if len(c.buf) < 2 {
		c.buf = nil
		return Chunk{}, false
	}

	data := make([]byte, len(c.buf)-len(c.buf)%2)
	copy(data, c.buf)
	c.buf = nil

	chunk := Chunk{
		Seq:      c.seq,
		Data:     data,
		Captured: time.Now().UTC(),
		Duration: PCMDuration(data, c.sampleRate),
	}
	c.seq++
	return chunk, true
}

// Pending returns the number of buffered bytes not yet emitted.
func (c *Chunker) Pending() int {
	return len(c.buf)
}
