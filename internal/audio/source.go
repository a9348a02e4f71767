package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/leafline/voicecapture/pkg/logger"
)

var (
	// ErrPermissionDenied means the user refused microphone access. Terminal
	// for the session; never retried automatically.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable means the capture device could not be opened,
	// e.g. the microphone is held by another process.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrCaptureStopped is returned by Stop/Cancel calls after the first one.
	ErrCaptureStopped = errors.New("capture already stopped")
)

// Config describes how the microphone should be captured.
type Config struct {
	SampleRate      int
	Channels        int
	ChunkMs         int
	LevelIntervalMs int
}

// PermissionFunc asks the platform permission collaborator for microphone
// access. It returns false when the user denies the request.
type PermissionFunc func(ctx context.Context) (bool, error)

// Capture is a live microphone session. Exactly one capture may exist per
// source at a time; the device is released on every exit path.
type Capture interface {
	// Chunks yields fixed-duration audio chunks as they are produced.
	Chunks() <-chan Chunk
	// Levels yields normalized amplitude samples at the configured cadence.
	Levels() <-chan LevelSample
	// Errs yields device failures occurring mid-capture.
	Errs() <-chan error
	// Stop ends the capture and returns the full recorded PCM blob.
	Stop() ([]byte, error)
	// Cancel ends the capture and discards everything. Safe to call after
	// Stop and vice versa; later calls are no-ops.
	Cancel() error
}

// Source acquires the microphone and starts capture sessions.
type Source interface {
	// Acquire requests microphone permission. ErrPermissionDenied is final.
	Acquire(ctx context.Context) error
	// Start opens the device and begins capturing.
	Start(ctx context.Context, cfg Config) (Capture, error)
}

// FFmpegSource captures the default input device through an ffmpeg child
// process emitting raw s16le PCM on stdout.
type FFmpegSource struct {
	ffmpegPath string
	device     string
	permission PermissionFunc
	logger     *logger.Logger

	mu     sync.Mutex
	active bool
}

// NewFFmpegSource creates a microphone source. permission may be nil, in
// which case access is assumed granted (headless/dev environments).
func NewFFmpegSource(ffmpegPath, device string, permission PermissionFunc, log *logger.Logger) *FFmpegSource {
	return &FFmpegSource{
		ffmpegPath: ffmpegPath,
		device:     device,
		permission: permission,
		logger:     log.Named("audio-source"),
	}
}

// Acquire requests microphone permission from the platform collaborator.
func (s *FFmpegSource) Acquire(ctx context.Context) error {
	if s.permission == nil {
		return nil
	}
	granted, err := s.permission(ctx)
	if err != nil {
		return fmt.Errorf("permission request failed: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}
	return nil
}

// Start spawns ffmpeg and begins reading PCM from the device.
func (s *FFmpegSource) Start(ctx context.Context, cfg Config) (Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil, fmt.Errorf("%w: capture already in progress", ErrDeviceUnavailable)
	}

	capCtx, capCancel := context.WithCancel(ctx)

	args := s.captureArgs(cfg)
	s.logger.Debug("Starting ffmpeg capture",
		logger.String("path", s.ffmpegPath),
		logger.Int("sample_rate", cfg.SampleRate),
		logger.Int("chunk_ms", cfg.ChunkMs))

	cmd := exec.CommandContext(capCtx, s.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		capCancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		capCancel()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	capture := &ffmpegCapture{
		source:     s,
		cmd:        cmd,
		stdout:     stdout,
		cancel:     capCancel,
		chunks:     make(chan Chunk, 32),
		levels:     make(chan LevelSample, 16),
		errs:       make(chan error, 1),
		chunker:    NewChunker(cfg.SampleRate, cfg.ChunkMs),
		levelBytes: levelWindowBytes(cfg),
		logger:     s.logger,
	}

	s.active = true
	go capture.readLoop()

	return capture, nil
}

func levelWindowBytes(cfg Config) int {
	n := cfg.SampleRate * 2 * cfg.LevelIntervalMs / 1000
	if n < 2 {
		n = 2
	}
	if n%2 != 0 {
		n++
	}
	return n
}

// captureArgs builds the ffmpeg argument list for the platform's default
// audio input framework.
func (s *FFmpegSource) captureArgs(cfg Config) []string {
	device := s.device
	var inputArgs []string
	switch runtime.GOOS {
	case "darwin":
		if device == "" {
			device = ":default"
		}
		inputArgs = []string{"-f", "avfoundation", "-i", device}
	case "windows":
		if device == "" {
			device = "audio=default"
		}
		inputArgs = []string{"-f", "dshow", "-i", device}
	default:
		if device == "" {
			device = "default"
		}
		inputArgs = []string{"-f", "pulse", "-i", device}
	}

	args := []string{
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
	}
	args = append(args, inputArgs...)
	args = append(args,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprintf("%d", cfg.Channels),
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-flush_packets", "1",
		"pipe:1",
	)
	return args
}

func (s *FFmpegSource) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

type ffmpegCapture struct {
	source *FFmpegSource
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
	logger *logger.Logger

	chunks chan Chunk
	levels chan LevelSample
	errs   chan error

	chunker    *Chunker
	levelBytes int
	levelBuf   []byte

	mu       sync.Mutex
	stopped  bool
	recorded []byte
}

func (c *ffmpegCapture) Chunks() <-chan Chunk       { return c.chunks }
func (c *ffmpegCapture) Levels() <-chan LevelSample { return c.levels }
func (c *ffmpegCapture) Errs() <-chan error         { return c.errs }

func (c *ffmpegCapture) readLoop() {
	defer close(c.chunks)
	defer close(c.levels)

	buffer := make([]byte, 4096)
	for {
		n, err := c.stdout.Read(buffer)
		if n > 0 {
			c.consume(buffer[:n])
		}
		if err != nil {
			c.mu.Lock()
			stopped := c.stopped
			c.mu.Unlock()
			if !stopped && err != io.EOF {
				c.logger.Error("Error reading from capture device", logger.Error(err))
				select {
				case c.errs <- fmt.Errorf("%w: %v", ErrDeviceUnavailable, err):
				default:
				}
			}
			return
		}
	}
}

func (c *ffmpegCapture) consume(p []byte) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.recorded = append(c.recorded, p...)
	chunks := c.chunker.Write(p)
	c.levelBuf = append(c.levelBuf, p...)
	var levels []LevelSample
	for len(c.levelBuf) >= c.levelBytes {
		window := c.levelBuf[:c.levelBytes]
		levels = append(levels, LevelSample{Level: RMSLevel(window), Timestamp: time.Now().UTC()})
		c.levelBuf = c.levelBuf[c.levelBytes:]
	}
	c.mu.Unlock()

	for _, chunk := range chunks {
		select {
		case c.chunks <- chunk:
		default:
			// Consumer is behind; dropping is preferable to stalling the device
			c.logger.Warn("Dropping audio chunk, consumer too slow", logger.Uint64("seq", chunk.Seq))
		}
	}
	for _, lv := range levels {
		select {
		case c.levels <- lv:
		default:
		}
	}
}

// Stop ends the capture and returns the recorded PCM.
func (c *ffmpegCapture) Stop() ([]byte, error) {
	pcm, err := c.teardown()
	if err != nil {
		return nil, err
	}
	return pcm, nil
}

// Cancel ends the capture, discarding the recording.
func (c *ffmpegCapture) Cancel() error {
	_, err := c.teardown()
	if errors.Is(err, ErrCaptureStopped) {
		return nil
	}
	return err
}

func (c *ffmpegCapture) teardown() ([]byte, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrCaptureStopped
	}
	c.stopped = true
	pcm := c.recorded
	c.recorded = nil
	c.mu.Unlock()

	c.cancel()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	c.source.release()

	return pcm, nil
}
