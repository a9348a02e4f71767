package audio

import (
	"context"
	"sync"
	"time"
)

// MockSource is an in-memory Source used by engine tests and local
// development without a device. Scripted PCM is fed through Feed.
type MockSource struct {
	// PermissionErr, when set, is returned by Acquire.
	PermissionErr error
	// StartErr, when set, is returned by Start.
	StartErr error

	mu      sync.Mutex
	capture *MockCapture
	starts  int
}

// NewMockSource creates a mock microphone source that grants permission.
func NewMockSource() *MockSource {
	return &MockSource{}
}

func (s *MockSource) Acquire(ctx context.Context) error {
	return s.PermissionErr
}

func (s *MockSource) Start(ctx context.Context, cfg Config) (Capture, error) {
	if s.StartErr != nil {
		return nil, s.StartErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.capture = &MockCapture{
		cfg:     cfg,
		chunks:  make(chan Chunk, 64),
		levels:  make(chan LevelSample, 64),
		errs:    make(chan error, 1),
		chunker: NewChunker(cfg.SampleRate, cfg.ChunkMs),
	}
	return s.capture, nil
}

// Capture returns the most recent capture started on this source.
func (s *MockSource) Capture() *MockCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture
}

// Starts reports how many captures were started.
func (s *MockSource) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// MockCapture is the Capture produced by MockSource.
type MockCapture struct {
	cfg     Config
	chunks  chan Chunk
	levels  chan LevelSample
	errs    chan error
	chunker *Chunker

	mu       sync.Mutex
	stopped  bool
	released bool
	recorded []byte
}

func (c *MockCapture) Chunks() <-chan Chunk       { return c.chunks }
func (c *MockCapture) Levels() <-chan LevelSample { return c.levels }
func (c *MockCapture) Errs() <-chan error         { return c.errs }

// Feed pushes raw PCM into the capture as if read from the device.
func (c *MockCapture) Feed(pcm []byte) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.recorded = append(c.recorded, pcm...)
	chunks := c.chunker.Write(pcm)
	c.mu.Unlock()

	for _, chunk := range chunks {
		c.chunks <- chunk
	}
}

// FeedLevel pushes one amplitude sample.
func (c *MockCapture) FeedLevel(level float64) {
	c.FeedLevelAt(level, time.Now().UTC())
}

// FeedLevelAt pushes one amplitude sample with an explicit timestamp, so
// tests can script silence durations without sleeping.
func (c *MockCapture) FeedLevelAt(level float64, ts time.Time) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}
	c.levels <- LevelSample{Level: level, Timestamp: ts}
}

// FeedError injects a device failure.
func (c *MockCapture) FeedError(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func (c *MockCapture) Stop() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, ErrCaptureStopped
	}
	c.stopped = true
	c.released = true
	close(c.chunks)
	close(c.levels)
	pcm := c.recorded
	c.recorded = nil
	return pcm, nil
}

func (c *MockCapture) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true
	c.released = true
	close(c.chunks)
	close(c.levels)
	c.recorded = nil
	return nil
}

// Released reports whether the simulated device has been released.
func (c *MockCapture) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}
