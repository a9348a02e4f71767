// Package session implements the recording state machine that ties
// capture, voice activity detection, and the transcription transports
// together. All state transitions happen on a single run loop goroutine;
// completion events are tagged with the session ID so results from an
// abandoned session are discarded instead of corrupting the next one.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leafline/voicecapture/internal/audio"
	"github.com/leafline/voicecapture/internal/connection"
	"github.com/leafline/voicecapture/internal/segment"
	"github.com/leafline/voicecapture/internal/transport"
	"github.com/leafline/voicecapture/internal/vad"
	"github.com/leafline/voicecapture/pkg/logger"
)

// State is a phase of the recording lifecycle.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StateRecording            State = "recording"
	StateProcessing           State = "processing"
	StateTranscribing         State = "transcribing"
	StateCompleted            State = "completed"
	StateError                State = "error"
)

// Mode selects the transcription transport.
type Mode string

const (
	ModeBatch     Mode = "batch"
	ModeStreaming Mode = "streaming"
)

// Events receives session notifications. Calls are made from the engine's
// run loop, so implementations must return quickly. Every call carries the
// session ID; consumers should drop events for a session they no longer
// display.
type Events interface {
	OnStateChange(sessionID string, state State)
	OnAudioLevel(sessionID string, level float64)
	OnPartialTranscript(sessionID string, text string)
	OnFinalTranscript(sessionID string, text string)
	// OnNoSpeech reports a recording the backend classified as silence.
	// This is an outcome, not an error; the session returns to idle.
	OnNoSpeech(sessionID string)
	OnError(sessionID string, reason Reason, err error)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) OnStateChange(string, State)        {}
func (NopEvents) OnAudioLevel(string, float64)       {}
func (NopEvents) OnPartialTranscript(string, string) {}
func (NopEvents) OnFinalTranscript(string, string)   {}
func (NopEvents) OnNoSpeech(string)                  {}
func (NopEvents) OnError(string, Reason, error)      {}

// BatchTranscriber submits a complete WAV recording for transcription.
type BatchTranscriber interface {
	Transcribe(ctx context.Context, wav []byte) (transport.Result, error)
}

// Streamer is one live streaming transcription connection.
type Streamer interface {
	SendAudio(pcm []byte) error
	Finalize() error
	Segments() <-chan transport.Segment
	Close() error
}

// StreamDialer opens streaming connections.
type StreamDialer interface {
	Dial(ctx context.Context, sessionID string) (Streamer, error)
}

// StreamDialerFunc adapts a function to the StreamDialer interface.
type StreamDialerFunc func(ctx context.Context, sessionID string) (Streamer, error)

func (f StreamDialerFunc) Dial(ctx context.Context, sessionID string) (Streamer, error) {
	return f(ctx, sessionID)
}

// Config contains the engine's tuning parameters.
type Config struct {
	Mode            Mode
	SampleRate      int
	Channels        int
	ChunkMs         int
	LevelIntervalMs int

	EnergyThreshold float64

	MaxDuration      time.Duration // recording hard stop
	AutoStop         bool          // send the buffered utterance on sustained silence; recording continues
	SilenceThreshold time.Duration
	SilenceConfirm   time.Duration
	MinAudioBytes    int

	// FinalizeTimeout bounds the wait for the final streaming segment
	// after the recording stops.
	FinalizeTimeout time.Duration
}

// DefaultConfig returns engine settings suitable for 16kHz mono speech.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeBatch,
		SampleRate:       16000,
		Channels:         1,
		ChunkMs:          100,
		LevelIntervalMs:  100,
		EnergyThreshold:  0.015,
		MaxDuration:      30 * time.Second,
		AutoStop:         true,
		SilenceThreshold: 2 * time.Second,
		SilenceConfirm:   500 * time.Millisecond,
		MinAudioBytes:    3200,
		FinalizeTimeout:  10 * time.Second,
	}
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdCancel
)

type command struct {
	kind  cmdKind
	reply chan error
}

type transcribeOutcome struct {
	sessionID string
	seq       uint64
	autoFlush bool
	result    transport.Result
	err       error
}

type redialResult struct {
	sessionID string
	stream    Streamer
	err       error
}

// activeSession holds everything owned by one recording.
type activeSession struct {
	id         string
	mode       Mode // effective mode, may degrade from streaming to batch
	capture    audio.Capture
	stream     Streamer
	detector   *vad.Detector
	acc        *segment.Accumulator
	transcript *Transcript
	startedAt  time.Time
	pcm        []byte // full recording, kept after capture stops
	maxTimer   *time.Timer
	finalTimer *time.Timer
	finalizing bool

	utterSeq     uint64 // sequence for batch-mode utterance finals
	pendingFlush int    // auto-flush transcriptions still in flight
	redialing    bool   // streaming reconnect attempt in flight
}

// Engine drives recording sessions. Construct with NewEngine, then run
// the loop with Run; Start, Stop, and Cancel are safe from any goroutine.
type Engine struct {
	cfg     Config
	source  audio.Source
	batch   BatchTranscriber
	dialer  StreamDialer
	monitor *connection.Monitor
	events  Events
	logger  *logger.Logger

	cmds           chan command
	transcribeDone chan transcribeOutcome
	redialDone     chan redialResult

	status statusLog
}

// NewEngine creates a session engine. batch is required; dialer may be nil
// when streaming mode is never used; events may be nil.
func NewEngine(cfg Config, source audio.Source, batch BatchTranscriber, dialer StreamDialer,
	monitor *connection.Monitor, events Events, log *logger.Logger) *Engine {
	if events == nil {
		events = NopEvents{}
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 10 * time.Second
	}
	if monitor == nil {
		monitor = connection.NewMonitor(connection.DefaultConfig())
	}
	e := &Engine{
		cfg:            cfg,
		source:         source,
		batch:          batch,
		dialer:         dialer,
		monitor:        monitor,
		events:         events,
		logger:         log.Named("session"),
		cmds:           make(chan command),
		transcribeDone: make(chan transcribeOutcome, 1),
		redialDone:     make(chan redialResult, 1),
	}
	e.status.state = StateIdle
	return e
}

// Start begins a new recording session. Returns ErrAlreadyRecording while
// one is active, or the acquisition error when the microphone cannot be
// opened.
func (e *Engine) Start(ctx context.Context) error { return e.send(ctx, cmdStart) }

// Stop ends the active recording and submits it for transcription.
func (e *Engine) Stop(ctx context.Context) error { return e.send(ctx, cmdStop) }

// Cancel abandons the active recording, discarding its audio. Calling it
// with no session active is a no-op.
func (e *Engine) Cancel(ctx context.Context) error { return e.send(ctx, cmdCancel) }

func (e *Engine) send(ctx context.Context, kind cmdKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle phase.
func (e *Engine) State() State { return e.status.State() }

// SessionID returns the ID of the current or most recent session.
func (e *Engine) SessionID() string { return e.status.SessionID() }

// Transcript returns the transcript of the current or most recent session,
// nil before the first recording.
func (e *Engine) Transcript() *Transcript { return e.status.Transcript() }

// LastReason returns the reason code of the most recent error state.
func (e *Engine) LastReason() Reason { return e.status.Reason() }

// Quality reports current transport link health.
func (e *Engine) Quality() connection.Tier { return e.monitor.Quality() }

// Run processes commands and session events until ctx is cancelled. It
// owns all session state; nothing else mutates it.
func (e *Engine) Run(ctx context.Context) {
	var cur *activeSession

	for {
		// Channels are nil while no session owns them, which parks
		// their select cases.
		var chunks <-chan audio.Chunk
		var levels <-chan audio.LevelSample
		var captureErrs <-chan error
		var segs <-chan transport.Segment
		var maxC, finalC <-chan time.Time
		if cur != nil {
			if cur.capture != nil {
				chunks = cur.capture.Chunks()
				levels = cur.capture.Levels()
				captureErrs = cur.capture.Errs()
			}
			if cur.stream != nil {
				segs = cur.stream.Segments()
			}
			if cur.maxTimer != nil {
				maxC = cur.maxTimer.C
			}
			if cur.finalTimer != nil {
				finalC = cur.finalTimer.C
			}
		}

		select {
		case <-ctx.Done():
			if cur != nil {
				e.release(cur)
			}
			return

		case cmd := <-e.cmds:
			cur = e.handleCommand(ctx, cur, cmd)

		case chunk, ok := <-chunks:
			if !ok {
				cur.capture = nil
				continue
			}
			cur.pcm = append(cur.pcm, chunk.Data...)
			if cur.mode == ModeStreaming && cur.stream != nil {
				if err := cur.stream.SendAudio(chunk.Data); err != nil && !errors.Is(err, transport.ErrTransportClosed) {
					e.logger.Warn("Dropping audio frame", logger.String("session_id", cur.id), logger.Error(err))
				}
			}
			if e.cfg.AutoStop {
				cur.acc.Push(chunk.Data)
			}

		case sample, ok := <-levels:
			if !ok {
				continue
			}
			e.events.OnAudioLevel(cur.id, sample.Level)
			act := cur.detector.Observe(sample)
			if e.cfg.AutoStop && !cur.finalizing {
				if payload, flush := cur.acc.Observe(act, sample.Timestamp); flush {
					e.logger.Info("Sustained silence, sending utterance",
						logger.String("session_id", cur.id),
						logger.Int("utterance_bytes", len(payload)))
					cur = e.autoFlush(ctx, cur, payload)
				}
			}

		case err, ok := <-captureErrs:
			if !ok {
				continue
			}
			e.logger.Error("Capture failed", logger.String("session_id", cur.id), logger.Error(err))
			reason := ReasonCaptureFailed
			if errors.Is(err, audio.ErrDeviceUnavailable) {
				reason = ReasonDeviceUnavailable
			}
			cur = e.terminate(cur, reason, err)

		case <-maxC:
			cur.maxTimer = nil
			e.logger.Info("Maximum duration reached, auto-stopping",
				logger.String("session_id", cur.id),
				logger.Duration("elapsed", time.Since(cur.startedAt)))
			cur = e.finish(ctx, cur)

		case seg, ok := <-segs:
			if !ok {
				cur = e.streamLost(ctx, cur)
				continue
			}
			cur = e.handleSegment(ctx, cur, seg)

		case <-finalC:
			cur.finalTimer = nil
			e.logger.Warn("Timed out waiting for final segment",
				logger.String("session_id", cur.id))
			cur = e.streamLost(ctx, cur)

		case outcome := <-e.transcribeDone:
			if cur == nil || outcome.sessionID != cur.id {
				e.logger.Debug("Discarding stale transcription result",
					logger.String("session_id", outcome.sessionID))
				continue
			}
			cur = e.handleBatchOutcome(cur, outcome)

		case res := <-e.redialDone:
			cur = e.handleRedial(cur, res)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cur *activeSession, cmd command) *activeSession {
	switch cmd.kind {
	case cmdStart:
		if cur != nil {
			cmd.reply <- ErrAlreadyRecording
			return cur
		}
		next, err := e.begin(ctx)
		cmd.reply <- err
		return next

	case cmdStop:
		if cur == nil {
			cmd.reply <- ErrNotRecording
			return cur
		}
		// Stop while already finalizing is a no-op, not an error.
		if cur.finalizing {
			cmd.reply <- nil
			return cur
		}
		cmd.reply <- nil
		return e.finish(ctx, cur)

	case cmdCancel:
		if cur != nil {
			e.release(cur)
			e.setState(cur.id, StateIdle)
			e.logger.Info("Session cancelled", logger.String("session_id", cur.id))
		}
		cmd.reply <- nil
		return nil

	default:
		cmd.reply <- fmt.Errorf("unknown command %d", cmd.kind)
		return cur
	}
}

// begin acquires the microphone and starts a session.
func (e *Engine) begin(ctx context.Context) (*activeSession, error) {
	id := uuid.New().String()
	e.setState(id, StateRequestingPermission)

	if err := e.source.Acquire(ctx); err != nil {
		reason := reasonFor(err)
		if reason == ReasonTranscriptionFailed {
			reason = ReasonDeviceUnavailable
		}
		e.failState(id, reason, err)
		return nil, err
	}

	capture, err := e.source.Start(ctx, audio.Config{
		SampleRate:      e.cfg.SampleRate,
		Channels:        e.cfg.Channels,
		ChunkMs:         e.cfg.ChunkMs,
		LevelIntervalMs: e.cfg.LevelIntervalMs,
	})
	if err != nil {
		e.failState(id, ReasonDeviceUnavailable, err)
		return nil, err
	}

	cur := &activeSession{
		id:         id,
		mode:       e.cfg.Mode,
		capture:    capture,
		detector:   vad.NewDetector(e.cfg.EnergyThreshold),
		acc:        segment.NewAccumulator(e.cfg.SilenceThreshold, e.cfg.SilenceConfirm),
		transcript: NewTranscript(),
		startedAt:  time.Now(),
		maxTimer:   time.NewTimer(e.cfg.MaxDuration),
	}
	e.status.setTranscript(cur.transcript)

	if cur.mode == ModeStreaming {
		if e.dialer == nil {
			cur.mode = ModeBatch
		} else if stream, err := e.dialer.Dial(ctx, id); err != nil {
			// The full recording is still accumulated locally, so a
			// streaming outage degrades to batch instead of failing
			// the session.
			e.logger.Warn("Streaming unavailable, falling back to batch",
				logger.String("session_id", id), logger.Error(err))
			cur.mode = ModeBatch
		} else {
			cur.stream = stream
		}
	}

	e.setState(id, StateRecording)
	e.logger.Info("Recording started",
		logger.String("session_id", id),
		logger.String("mode", string(cur.mode)))
	return cur, nil
}

// autoFlush closes the current utterance while the session keeps
// recording. Batch mode transcribes the silence-trimmed payload; streaming
// mode commits the server-side buffer. The state returns to Recording when
// the utterance result arrives.
func (e *Engine) autoFlush(ctx context.Context, cur *activeSession, payload []byte) *activeSession {
	if cur.mode == ModeStreaming {
		if cur.stream == nil {
			return cur
		}
		if err := cur.stream.Finalize(); err != nil {
			return e.streamLost(ctx, cur)
		}
		e.setState(cur.id, StateTranscribing)
		return cur
	}

	if len(payload) < e.cfg.MinAudioBytes {
		return cur
	}
	e.setState(cur.id, StateTranscribing)
	return e.submitBatch(ctx, cur, payload, true)
}

// finish stops capture and hands the remaining recording to the
// transcription transport. Only Stop, Cancel, the duration limit, or a
// failure ends a session; utterance flushes do not come through here.
func (e *Engine) finish(ctx context.Context, cur *activeSession) *activeSession {
	cur.finalizing = true
	stopTimer(&cur.maxTimer)
	e.setState(cur.id, StateProcessing)

	if cur.capture != nil {
		pcm, err := cur.capture.Stop()
		cur.capture = nil
		if err != nil {
			return e.terminate(cur, ReasonCaptureFailed, err)
		}
		cur.pcm = pcm
	}

	// When earlier utterances were already sent, only the audio since
	// the last flush is left to transcribe.
	if cur.mode == ModeBatch && e.cfg.AutoStop &&
		(len(cur.transcript.Finals()) > 0 || cur.pendingFlush > 0) {
		cur.pcm = cur.acc.Drain()
	}

	if len(cur.pcm) < e.cfg.MinAudioBytes {
		if cur.pendingFlush > 0 {
			// Completion follows the in-flight utterance result.
			e.setState(cur.id, StateTranscribing)
			return cur
		}
		if len(cur.transcript.Finals()) > 0 {
			return e.complete(cur)
		}
		return e.terminate(cur, ReasonEmptyAudio, ErrEmptyAudio)
	}

	e.setState(cur.id, StateTranscribing)
	switch cur.mode {
	case ModeStreaming:
		if err := cur.stream.Finalize(); err != nil {
			return e.fallbackToBatch(ctx, cur)
		}
		cur.finalTimer = time.NewTimer(e.cfg.FinalizeTimeout)
		return cur
	default:
		return e.submitBatch(ctx, cur, cur.pcm, false)
	}
}

func (e *Engine) submitBatch(ctx context.Context, cur *activeSession, pcm []byte, auto bool) *activeSession {
	wav, err := audio.EncodeWAV(pcm, e.cfg.SampleRate)
	if err != nil {
		if auto {
			e.logger.Warn("Dropping utterance, encode failed",
				logger.String("session_id", cur.id), logger.Error(err))
			e.setState(cur.id, StateRecording)
			return cur
		}
		return e.terminate(cur, ReasonTranscriptionFailed, err)
	}
	cur.utterSeq++
	if auto {
		cur.pendingFlush++
	}
	go func(id string, seq uint64) {
		result, err := e.batch.Transcribe(ctx, wav)
		select {
		case e.transcribeDone <- transcribeOutcome{sessionID: id, seq: seq, autoFlush: auto, result: result, err: err}:
		case <-ctx.Done():
		}
	}(cur.id, cur.utterSeq)
	return cur
}

func (e *Engine) handleBatchOutcome(cur *activeSession, outcome transcribeOutcome) *activeSession {
	if outcome.autoFlush {
		return e.handleUtteranceOutcome(cur, outcome)
	}
	if outcome.err != nil {
		return e.terminate(cur, ReasonTranscriptionFailed,
			fmt.Errorf("transcription failed: %w", outcome.err))
	}
	if outcome.result.NoSpeech {
		if len(cur.transcript.Finals()) > 0 {
			// The tail past the last flush was silent; the session
			// still produced text.
			return e.complete(cur)
		}
		return e.noSpeech(cur)
	}
	cur.transcript.Apply(transport.Segment{
		Kind:       transport.KindFinal,
		Text:       outcome.result.Text,
		Confidence: outcome.result.Confidence,
		SessionID:  cur.id,
		Seq:        outcome.seq,
		Received:   time.Now().UTC(),
	})
	e.events.OnFinalTranscript(cur.id, outcome.result.Text)
	return e.complete(cur)
}

// handleUtteranceOutcome folds in the result of a mid-session utterance.
// A failed or silent utterance does not fail the session.
func (e *Engine) handleUtteranceOutcome(cur *activeSession, outcome transcribeOutcome) *activeSession {
	cur.pendingFlush--

	switch {
	case outcome.err != nil:
		e.logger.Warn("Utterance transcription failed",
			logger.String("session_id", cur.id), logger.Error(outcome.err))
	case outcome.result.NoSpeech:
		e.logger.Debug("Utterance had no speech",
			logger.String("session_id", cur.id))
	default:
		cur.transcript.Apply(transport.Segment{
			Kind:       transport.KindFinal,
			Text:       outcome.result.Text,
			Confidence: outcome.result.Confidence,
			SessionID:  cur.id,
			Seq:        outcome.seq,
			Received:   time.Now().UTC(),
		})
		e.events.OnFinalTranscript(cur.id, outcome.result.Text)
	}

	if cur.finalizing {
		if cur.pendingFlush > 0 {
			return cur
		}
		if len(cur.transcript.Finals()) > 0 {
			return e.complete(cur)
		}
		if outcome.err != nil {
			return e.terminate(cur, ReasonTranscriptionFailed,
				fmt.Errorf("transcription failed: %w", outcome.err))
		}
		return e.noSpeech(cur)
	}
	e.setState(cur.id, StateRecording)
	return cur
}

func (e *Engine) handleSegment(ctx context.Context, cur *activeSession, seg transport.Segment) *activeSession {
	if !cur.transcript.Apply(seg) {
		return cur
	}
	switch seg.Kind {
	case transport.KindPartial:
		e.events.OnPartialTranscript(cur.id, cur.transcript.Text())
		return cur
	case transport.KindFinal:
		e.events.OnFinalTranscript(cur.id, seg.Text)
		if cur.finalizing {
			return e.complete(cur)
		}
		e.setState(cur.id, StateRecording)
		return cur
	default:
		return cur
	}
}

// streamLost handles a streaming channel ending. Mid-recording the
// session switches to batch and a reconnect attempt starts; during
// finalize the locally held recording goes out over batch instead. The
// recording survives locally in both cases, so the session never fails
// on a transport drop alone.
func (e *Engine) streamLost(ctx context.Context, cur *activeSession) *activeSession {
	if cur.stream != nil {
		cur.stream.Close()
		cur.stream = nil
	}
	if cur.finalizing {
		return e.fallbackToBatch(ctx, cur)
	}
	// Capture keeps accumulating locally while the reconnect runs, so
	// the session degrades to batch instead of stalling.
	cur.mode = ModeBatch
	e.setState(cur.id, StateRecording)
	if e.dialer != nil && !cur.redialing {
		cur.redialing = true
		e.logger.Warn("Streaming channel lost, reconnecting",
			logger.String("session_id", cur.id))
		go func(id string) {
			stream, err := e.dialer.Dial(ctx, id)
			select {
			case e.redialDone <- redialResult{sessionID: id, stream: stream, err: err}:
			case <-ctx.Done():
				if stream != nil {
					stream.Close()
				}
			}
		}(cur.id)
		return cur
	}
	e.logger.Warn("Streaming channel lost, continuing in batch mode",
		logger.String("session_id", cur.id))
	return cur
}

// handleRedial reconciles a finished reconnect attempt. The session may
// have moved on, so anything but a live match discards the connection.
func (e *Engine) handleRedial(cur *activeSession, res redialResult) *activeSession {
	if cur == nil || cur.id != res.sessionID || cur.finalizing {
		if res.stream != nil {
			res.stream.Close()
		}
		return cur
	}
	cur.redialing = false
	if res.err != nil {
		e.logger.Warn("Streaming reconnect failed, continuing in batch mode",
			logger.String("session_id", cur.id), logger.Error(res.err))
		return cur
	}
	e.logger.Info("Streaming channel restored",
		logger.String("session_id", cur.id))
	cur.stream = res.stream
	cur.mode = ModeStreaming
	return cur
}

func (e *Engine) fallbackToBatch(ctx context.Context, cur *activeSession) *activeSession {
	stopTimer(&cur.finalTimer)
	if cur.stream != nil {
		cur.stream.Close()
		cur.stream = nil
	}
	if e.batch == nil {
		return e.terminate(cur, ReasonReconnectExhausted,
			errors.New("streaming channel lost before final segment"))
	}
	e.logger.Warn("Finalizing over batch transport",
		logger.String("session_id", cur.id))
	cur.mode = ModeBatch
	return e.submitBatch(ctx, cur, cur.pcm, false)
}

// noSpeech ends a session whose recording contained no speech at all. Not
// an error: no OnError fires and the engine returns to idle.
func (e *Engine) noSpeech(cur *activeSession) *activeSession {
	e.release(cur)
	e.status.set(cur.id, StateIdle, ReasonNoSpeechDetected)
	e.events.OnNoSpeech(cur.id)
	e.events.OnStateChange(cur.id, StateIdle)
	e.logger.Info("No speech detected", logger.String("session_id", cur.id))
	return nil
}

// complete ends the session. Final transcript events were already emitted
// as each utterance committed.
func (e *Engine) complete(cur *activeSession) *activeSession {
	e.release(cur)
	e.setState(cur.id, StateCompleted)
	e.logger.Info("Session completed",
		logger.String("session_id", cur.id),
		logger.Duration("elapsed", time.Since(cur.startedAt)))
	return nil
}

func (e *Engine) terminate(cur *activeSession, reason Reason, err error) *activeSession {
	e.release(cur)
	e.failState(cur.id, reason, err)
	return nil
}

// release frees the session's capture, stream, and timers. Safe to call
// on a partially torn down session.
func (e *Engine) release(cur *activeSession) {
	stopTimer(&cur.maxTimer)
	stopTimer(&cur.finalTimer)
	if cur.capture != nil {
		cur.capture.Cancel()
		cur.capture = nil
	}
	if cur.stream != nil {
		cur.stream.Close()
		cur.stream = nil
	}
}

func (e *Engine) setState(sessionID string, state State) {
	e.status.set(sessionID, state, ReasonNone)
	e.events.OnStateChange(sessionID, state)
}

func (e *Engine) failState(sessionID string, reason Reason, err error) {
	e.status.set(sessionID, StateError, reason)
	e.events.OnError(sessionID, reason, err)
	e.events.OnStateChange(sessionID, StateError)
	e.logger.Error("Session failed",
		logger.String("session_id", sessionID),
		logger.String("reason", string(reason)),
		logger.Error(err))
}

// stopTimer stops and drains a loop-owned timer.
func stopTimer(t **time.Timer) {
	if *t == nil {
		return
	}
	if !(*t).Stop() {
		select {
		case <-(*t).C:
		default:
		}
	}
	*t = nil
}
