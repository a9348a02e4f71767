package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leafline/voicecapture/internal/audio"
	"github.com/leafline/voicecapture/internal/transport"
	"github.com/leafline/voicecapture/pkg/logger"
)

const waitTimeout = 2 * time.Second

// eventRecorder captures engine notifications for assertions.
type eventRecorder struct {
	mu        sync.Mutex
	partials  []string
	finalText string
	reason    Reason

	stateCh    chan State
	partialCh  chan string
	finalCh    chan string
	noSpeechCh chan string
	errCh      chan Reason
	levelCh    chan float64
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		stateCh:    make(chan State, 64),
		partialCh:  make(chan string, 64),
		finalCh:    make(chan string, 8),
		noSpeechCh: make(chan string, 8),
		errCh:      make(chan Reason, 8),
		levelCh:    make(chan float64, 64),
	}
}

func (r *eventRecorder) OnStateChange(sessionID string, state State) {
	r.stateCh <- state
}

func (r *eventRecorder) OnAudioLevel(sessionID string, level float64) {
	select {
	case r.levelCh <- level:
	default:
	}
}

func (r *eventRecorder) OnPartialTranscript(sessionID string, text string) {
	r.mu.Lock()
	r.partials = append(r.partials, text)
	r.mu.Unlock()
	r.partialCh <- text
}

func (r *eventRecorder) OnFinalTranscript(sessionID string, text string) {
	r.mu.Lock()
	r.finalText = text
	r.mu.Unlock()
	r.finalCh <- text
}

func (r *eventRecorder) OnNoSpeech(sessionID string) {
	r.noSpeechCh <- sessionID
}

func (r *eventRecorder) OnError(sessionID string, reason Reason, err error) {
	r.mu.Lock()
	r.reason = reason
	r.mu.Unlock()
	r.errCh <- reason
}

func (r *eventRecorder) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case got := <-r.stateCh:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func (r *eventRecorder) waitError(t *testing.T, want Reason) {
	t.Helper()
	select {
	case got := <-r.errCh:
		if got != want {
			t.Fatalf("error reason: got %s, want %s", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for error %s", want)
	}
}

// mockBatch is a scripted BatchTranscriber.
type mockBatch struct {
	mu      sync.Mutex
	calls   int
	lastWAV []byte
	result  transport.Result
	err     error
	block   chan struct{} // when set, Transcribe waits for it to close
}

func (b *mockBatch) Transcribe(ctx context.Context, wav []byte) (transport.Result, error) {
	b.mu.Lock()
	b.calls++
	b.lastWAV = wav
	block := b.block
	result, err := b.result, b.err
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return transport.Result{}, ctx.Err()
		}
	}
	return result, err
}

func (b *mockBatch) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *mockBatch) wav() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastWAV
}

// mockStream is a scripted Streamer.
type mockStream struct {
	mu        sync.Mutex
	sent      [][]byte
	finalized bool
	closed    bool
	segs      chan transport.Segment
}

func newMockStream() *mockStream {
	return &mockStream{segs: make(chan transport.Segment, 16)}
}

func (m *mockStream) SendAudio(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return transport.ErrTransportClosed
	}
	m.sent = append(m.sent, append([]byte(nil), pcm...))
	return nil
}

func (m *mockStream) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return transport.ErrTransportClosed
	}
	m.finalized = true
	return nil
}

func (m *mockStream) Segments() <-chan transport.Segment { return m.segs }

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.segs)
	}
	return nil
}

func (m *mockStream) sentFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockStream) isFinalized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalized
}

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.MinAudioBytes = 4
	cfg.AutoStop = false
	return cfg
}

func startEngine(t *testing.T, cfg Config, source audio.Source, batch BatchTranscriber, dialer StreamDialer) (*Engine, *eventRecorder) {
	t.Helper()
	rec := newEventRecorder()
	e := NewEngine(cfg, source, batch, dialer, nil, rec, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)
	return e, rec
}

// speech returns loud-enough PCM of the given byte length.
func speech(n int) []byte {
	pcm := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		pcm[i] = 0x00
		pcm[i+1] = 0x20 // amplitude 8192
	}
	return pcm
}

func poll(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPermissionDeniedFailsWithoutNetwork(t *testing.T) {
	source := audio.NewMockSource()
	source.PermissionErr = audio.ErrPermissionDenied
	batch := &mockBatch{}
	e, rec := startEngine(t, testEngineConfig(), source, batch, nil)

	err := e.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start: got %v, want ErrPermissionDenied", err)
	}
	rec.waitError(t, ReasonPermissionDenied)
	rec.waitState(t, StateError)

	if e.LastReason() != ReasonPermissionDenied {
		t.Errorf("LastReason: got %s", e.LastReason())
	}
	if source.Starts() != 0 {
		t.Error("capture started despite denied permission")
	}
	if batch.callCount() != 0 {
		t.Error("network call made despite denied permission")
	}
}

func TestStartWhileRecording(t *testing.T) {
	source := audio.NewMockSource()
	e, rec := startEngine(t, testEngineConfig(), source, &mockBatch{}, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)

	if err := e.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start: got %v, want ErrAlreadyRecording", err)
	}
	if source.Starts() != 1 {
		t.Errorf("starts: got %d, want 1", source.Starts())
	}
}

func TestBatchNoSpeechOutcome(t *testing.T) {
	source := audio.NewMockSource()
	batch := &mockBatch{result: transport.Result{NoSpeech: true}}
	e, rec := startEngine(t, testEngineConfig(), source, batch, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	source.Capture().Feed(speech(4000))

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// No speech is an outcome, not an error: the engine reports it and
	// returns to idle without an error or transcript event.
	select {
	case <-rec.noSpeechCh:
	case <-time.After(waitTimeout):
		t.Fatal("no-speech event not delivered")
	}
	rec.waitState(t, StateIdle)

	select {
	case reason := <-rec.errCh:
		t.Errorf("error event fired for a silent recording: %s", reason)
	default:
	}
	select {
	case text := <-rec.finalCh:
		t.Errorf("final transcript fired for a silent recording: %q", text)
	default:
	}
	if e.LastReason() != ReasonNoSpeechDetected {
		t.Errorf("LastReason: got %s", e.LastReason())
	}
	if !source.Capture().Released() {
		t.Error("microphone not released")
	}
}

func TestBatchTranscriptionCompletes(t *testing.T) {
	source := audio.NewMockSource()
	batch := &mockBatch{result: transport.Result{Text: "one gram of gelato", Confidence: 0.95}}
	e, rec := startEngine(t, testEngineConfig(), source, batch, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	source.Capture().Feed(speech(6400))

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec.waitState(t, StateCompleted)

	if got := e.Transcript().FinalText(); got != "one gram of gelato" {
		t.Errorf("transcript: got %q", got)
	}
	if err := audio.ValidateWAV(batch.wav()); err != nil {
		t.Errorf("submitted audio is not valid WAV: %v", err)
	}
	pcm, _, err := audio.DecodeWAV(batch.wav())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(pcm, speech(6400)) {
		t.Error("submitted PCM differs from captured PCM")
	}
	if !source.Capture().Released() {
		t.Error("microphone not released")
	}
}

func TestStreamingPartialsThenFinal(t *testing.T) {
	source := audio.NewMockSource()
	stream := newMockStream()
	dialer := StreamDialerFunc(func(ctx context.Context, sessionID string) (Streamer, error) {
		return stream, nil
	})
	cfg := testEngineConfig()
	cfg.Mode = ModeStreaming
	e, rec := startEngine(t, cfg, source, &mockBatch{}, dialer)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)

	source.Capture().Feed(speech(3200))
	poll(t, "audio forwarded to stream", func() bool { return stream.sentFrames() > 0 })

	stream.segs <- transport.Segment{Kind: transport.KindPartial, Text: "two", Seq: 1}
	select {
	case got := <-rec.partialCh:
		if got != "two" {
			t.Errorf("partial: got %q", got)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no partial transcript event")
	}

	stream.segs <- transport.Segment{Kind: transport.KindPartial, Text: "two eighths", Seq: 2}
	<-rec.partialCh

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec.waitState(t, StateTranscribing)
	poll(t, "stream finalized", stream.isFinalized)

	stream.segs <- transport.Segment{Kind: transport.KindFinal, Text: "two eighths of wedding cake", Confidence: 0.9, Seq: 3}
	rec.waitState(t, StateCompleted)

	if got := e.Transcript().FinalText(); got != "two eighths of wedding cake" {
		t.Errorf("transcript: got %q", got)
	}
	if e.Transcript().Partial() != "" {
		t.Error("partial not cleared by final")
	}
}

func TestMaxDurationAutoStops(t *testing.T) {
	source := audio.NewMockSource()
	batch := &mockBatch{result: transport.Result{Text: "delivery to elm street"}}
	cfg := testEngineConfig()
	cfg.MaxDuration = 80 * time.Millisecond
	e, rec := startEngine(t, cfg, source, batch, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	source.Capture().Feed(speech(3200))

	// No Stop call: the duration cap fires on its own.
	rec.waitState(t, StateCompleted)
	if got := e.Transcript().FinalText(); got != "delivery to elm street" {
		t.Errorf("transcript: got %q", got)
	}
	if !source.Capture().Released() {
		t.Error("microphone not released after auto-stop")
	}
}

func TestAutoFlushSendsUtteranceAndKeepsRecording(t *testing.T) {
	source := audio.NewMockSource()
	batch := &mockBatch{result: transport.Result{Text: "make it two"}}
	cfg := testEngineConfig()
	cfg.AutoStop = true
	e, rec := startEngine(t, cfg, source, batch, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)

	capture := source.Capture()
	capture.Feed(speech(3200))
	time.Sleep(50 * time.Millisecond) // let the chunk reach the accumulator

	base := time.Now()
	capture.FeedLevelAt(0.5, base) // speech resets the silence clock
	<-rec.levelCh
	capture.FeedLevelAt(0.001, base.Add(2100*time.Millisecond)) // arms
	<-rec.levelCh
	capture.FeedLevelAt(0.001, base.Add(2700*time.Millisecond)) // confirms

	// The utterance is transcribed while the session keeps running.
	select {
	case got := <-rec.finalCh:
		if got != "make it two" {
			t.Errorf("utterance transcript: got %q", got)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no final transcript for the flushed utterance")
	}
	rec.waitState(t, StateRecording)
	if source.Capture().Released() {
		t.Error("microphone released by an utterance flush")
	}

	// The submitted audio is the trimmed utterance from the accumulator.
	pcm, _, err := audio.DecodeWAV(batch.wav())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(pcm, speech(3200)) {
		t.Errorf("submitted %d bytes, want the 3200-byte utterance", len(pcm))
	}

	// A second utterance flows into the same session and an explicit stop
	// transcribes only the audio captured since the flush.
	capture.Feed(speech(3200))
	time.Sleep(50 * time.Millisecond)

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec.waitState(t, StateCompleted)

	if got := e.Transcript().FinalText(); got != "make it two make it two" {
		t.Errorf("transcript: got %q", got)
	}
	pcm, _, err = audio.DecodeWAV(batch.wav())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(pcm, speech(3200)) {
		t.Errorf("stop submitted %d bytes, want only the tail utterance", len(pcm))
	}
	if !source.Capture().Released() {
		t.Error("microphone not released after stop")
	}
}

func TestStopWaitsForInFlightUtterance(t *testing.T) {
	source := audio.NewMockSource()
	block := make(chan struct{})
	batch := &mockBatch{result: transport.Result{Text: "one pre-roll"}, block: block}
	cfg := testEngineConfig()
	cfg.AutoStop = true
	e, rec := startEngine(t, cfg, source, batch, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)

	capture := source.Capture()
	capture.Feed(speech(3200))
	time.Sleep(50 * time.Millisecond)

	base := time.Now()
	capture.FeedLevelAt(0.5, base)
	<-rec.levelCh
	capture.FeedLevelAt(0.001, base.Add(2100*time.Millisecond))
	<-rec.levelCh
	capture.FeedLevelAt(0.001, base.Add(2700*time.Millisecond))
	rec.waitState(t, StateTranscribing)

	// Stop with nothing captured since the flush: the session must wait
	// for the in-flight utterance instead of failing on empty audio.
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(block)
	rec.waitState(t, StateCompleted)

	if got := e.Transcript().FinalText(); got != "one pre-roll" {
		t.Errorf("transcript: got %q", got)
	}
	if batch.callCount() != 1 {
		t.Errorf("batch calls: got %d, want 1", batch.callCount())
	}
}

func TestEmptyAudioRejectedBeforeNetwork(t *testing.T) {
	source := audio.NewMockSource()
	batch := &mockBatch{}
	cfg := testEngineConfig()
	cfg.MinAudioBytes = 100000
	e, rec := startEngine(t, cfg, source, batch, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	source.Capture().Feed(speech(3200))

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec.waitError(t, ReasonEmptyAudio)
	rec.waitState(t, StateError)

	if batch.callCount() != 0 {
		t.Error("network call made for an empty recording")
	}
}

func TestCancelDiscardsSession(t *testing.T) {
	source := audio.NewMockSource()
	batch := &mockBatch{}
	e, rec := startEngine(t, testEngineConfig(), source, batch, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	source.Capture().Feed(speech(6400))

	if err := e.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec.waitState(t, StateIdle)

	if batch.callCount() != 0 {
		t.Error("cancelled session still hit the network")
	}
	if !source.Capture().Released() {
		t.Error("microphone not released on cancel")
	}

	// Cancel with nothing active is a no-op.
	if err := e.Cancel(context.Background()); err != nil {
		t.Fatalf("idle Cancel: %v", err)
	}
}

func TestStopWithoutRecording(t *testing.T) {
	e, _ := startEngine(t, testEngineConfig(), audio.NewMockSource(), &mockBatch{}, nil)
	if err := e.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop: got %v, want ErrNotRecording", err)
	}
}

func TestDoubleStopWhileFinalizingIsNoOp(t *testing.T) {
	source := audio.NewMockSource()
	block := make(chan struct{})
	batch := &mockBatch{result: transport.Result{Text: "one gram of gelato"}, block: block}
	e, rec := startEngine(t, testEngineConfig(), source, batch, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	source.Capture().Feed(speech(6400))

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	rec.waitState(t, StateTranscribing)

	// A second stop while the transcription is in flight is absorbed.
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: got %v, want nil", err)
	}

	close(block)
	rec.waitState(t, StateCompleted)

	if got := e.Transcript().FinalText(); got != "one gram of gelato" {
		t.Errorf("transcript: got %q", got)
	}
	if batch.callCount() != 1 {
		t.Errorf("batch calls: got %d, want 1", batch.callCount())
	}
}

func TestDeviceFailureMidRecording(t *testing.T) {
	source := audio.NewMockSource()
	e, rec := startEngine(t, testEngineConfig(), source, &mockBatch{}, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)

	source.Capture().FeedError(audio.ErrDeviceUnavailable)
	rec.waitError(t, ReasonDeviceUnavailable)
	rec.waitState(t, StateError)

	if !source.Capture().Released() {
		t.Error("microphone not released after device failure")
	}
}

func TestStreamLossFallsBackToBatch(t *testing.T) {
	source := audio.NewMockSource()
	stream := newMockStream()
	dialer := StreamDialerFunc(func(ctx context.Context, sessionID string) (Streamer, error) {
		return stream, nil
	})
	batch := &mockBatch{result: transport.Result{Text: "half ounce of runtz"}}
	cfg := testEngineConfig()
	cfg.Mode = ModeStreaming
	e, rec := startEngine(t, cfg, source, batch, dialer)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	source.Capture().Feed(speech(3200))
	poll(t, "audio forwarded to stream", func() bool { return stream.sentFrames() > 0 })

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	poll(t, "stream finalized", stream.isFinalized)

	// The stream dies before delivering the final segment; the engine
	// retranscribes the locally held recording over batch.
	stream.Close()
	rec.waitState(t, StateCompleted)

	if batch.callCount() != 1 {
		t.Errorf("batch calls: got %d, want 1", batch.callCount())
	}
	if got := e.Transcript().FinalText(); got != "half ounce of runtz" {
		t.Errorf("transcript: got %q", got)
	}
}

func TestStreamLossMidSessionRedials(t *testing.T) {
	source := audio.NewMockSource()
	first := newMockStream()
	second := newMockStream()
	var mu sync.Mutex
	dials := 0
	dialer := StreamDialerFunc(func(ctx context.Context, sessionID string) (Streamer, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})
	batch := &mockBatch{}
	cfg := testEngineConfig()
	cfg.Mode = ModeStreaming
	e, rec := startEngine(t, cfg, source, batch, dialer)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	capture := source.Capture()
	capture.Feed(speech(3200))
	poll(t, "audio forwarded to stream", func() bool { return first.sentFrames() > 0 })

	// Drop the channel mid-recording: the engine must reconnect rather
	// than staying degraded for the rest of the session.
	first.Close()
	poll(t, "reconnect dial", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials == 2
	})
	poll(t, "audio flowing on new channel", func() bool {
		capture.Feed(speech(320))
		return second.sentFrames() > 0
	})

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	poll(t, "stream finalized", second.isFinalized)
	second.segs <- transport.Segment{Kind: transport.KindFinal, Text: "quarter of wedding cake", Confidence: 0.9, Seq: 1}
	rec.waitState(t, StateCompleted)

	if got := e.Transcript().FinalText(); got != "quarter of wedding cake" {
		t.Errorf("transcript: got %q", got)
	}
	if batch.callCount() != 0 {
		t.Errorf("batch calls: got %d, want 0", batch.callCount())
	}
}

func TestStreamLossMidSessionRedialFailureDegradesToBatch(t *testing.T) {
	source := audio.NewMockSource()
	stream := newMockStream()
	var mu sync.Mutex
	dials := 0
	dialer := StreamDialerFunc(func(ctx context.Context, sessionID string) (Streamer, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return stream, nil
		}
		return nil, errors.New("backend unreachable")
	})
	batch := &mockBatch{result: transport.Result{Text: "half ounce of runtz"}}
	cfg := testEngineConfig()
	cfg.Mode = ModeStreaming
	e, rec := startEngine(t, cfg, source, batch, dialer)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	capture := source.Capture()
	capture.Feed(speech(3200))
	poll(t, "audio forwarded to stream", func() bool { return stream.sentFrames() > 0 })

	stream.Close()
	poll(t, "reconnect dial", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials == 2
	})
	capture.Feed(speech(3200))

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec.waitState(t, StateCompleted)

	if batch.callCount() != 1 {
		t.Errorf("batch calls: got %d, want 1", batch.callCount())
	}
	if got := e.Transcript().FinalText(); got != "half ounce of runtz" {
		t.Errorf("transcript: got %q", got)
	}
}

func TestStaleResultDiscardedAfterCancel(t *testing.T) {
	source := audio.NewMockSource()
	block := make(chan struct{})
	batch := &mockBatch{result: transport.Result{Text: "stale"}, block: block}
	e, rec := startEngine(t, testEngineConfig(), source, batch, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitState(t, StateRecording)
	source.Capture().Feed(speech(6400))

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec.waitState(t, StateTranscribing)

	// Abandon the session while its request is in flight, then let the
	// request complete: the tagged result must be dropped.
	if err := e.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec.waitState(t, StateIdle)
	close(block)

	time.Sleep(50 * time.Millisecond)
	if got := e.State(); got != StateIdle {
		t.Errorf("state after stale result: got %s, want idle", got)
	}
	select {
	case text := <-rec.finalCh:
		t.Errorf("stale final transcript surfaced: %q", text)
	default:
	}
}
