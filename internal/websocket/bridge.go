package websocket

import (
	"time"

	"github.com/leafline/voicecapture/internal/connection"
	"github.com/leafline/voicecapture/internal/session"
	"github.com/leafline/voicecapture/internal/storage/sqlite"
	"github.com/leafline/voicecapture/pkg/logger"
)

// EventBridge relays engine events to dashboard clients and records the
// outcome of every session. It is the Events sink wired into the engine,
// so all methods must stay cheap. It also answers clients that ask for a
// connection-quality snapshot, so it registers itself as the hub's
// message handler.
type EventBridge struct {
	hub        *Server
	utterances *sqlite.UtteranceStorage
	monitor    *connection.Monitor
	mode       string
	language   string
	logger     *logger.Logger
	started    map[string]time.Time
}

// NewEventBridge creates a bridge. utterances may be nil to disable
// persistence; monitor may be nil to disable quality reporting.
func NewEventBridge(hub *Server, utterances *sqlite.UtteranceStorage, monitor *connection.Monitor,
	mode, language string, log *logger.Logger) *EventBridge {
	b := &EventBridge{
		hub:        hub,
		utterances: utterances,
		monitor:    monitor,
		mode:       mode,
		language:   language,
		logger:     log.Named("events"),
		started:    make(map[string]time.Time),
	}
	hub.SetMessageHandler(b)
	return b
}

// HandleMessage serves requests sent by dashboard clients. Only quality
// snapshot requests are recognized; anything else is ignored.
func (b *EventBridge) HandleMessage(client *Client, messageType string, data map[string]any) error {
	if messageType != MessageTypeQuality || b.monitor == nil {
		return nil
	}
	client.SendMessage(b.qualityMessage())
	return nil
}

func (b *EventBridge) qualityMessage() *Message {
	metrics := b.monitor.Snapshot()
	return &Message{
		Type: MessageTypeQuality,
		Data: map[string]any{
			"quality":              string(metrics.Quality),
			"latency_ms":           metrics.Latency.Milliseconds(),
			"consecutive_failures": metrics.Failures,
			"disconnected":         metrics.Disconnected,
		},
	}
}

func (b *EventBridge) OnStateChange(sessionID string, state session.State) {
	switch state {
	case session.StateRecording:
		// The state returns to Recording after every utterance flush,
		// so only the first transition starts the clock.
		if _, ok := b.started[sessionID]; !ok {
			b.started[sessionID] = time.Now()
		}
	case session.StateCompleted, session.StateError, session.StateIdle:
		delete(b.started, sessionID)
	}
	b.hub.Broadcast(&Message{
		Type: MessageTypeStateChange,
		Data: map[string]any{
			"session_id": sessionID,
			"state":      string(state),
		},
	})
	// Lifecycle edges are when the dashboard cares about link health.
	if b.monitor != nil {
		b.hub.Broadcast(b.qualityMessage())
	}
}

func (b *EventBridge) OnAudioLevel(sessionID string, level float64) {
	b.hub.Broadcast(&Message{
		Type: MessageTypeAudioLevel,
		Data: map[string]any{
			"session_id": sessionID,
			"level":      level,
		},
	})
}

func (b *EventBridge) OnPartialTranscript(sessionID string, text string) {
	b.hub.Broadcast(&Message{
		Type: MessageTypePartialTranscript,
		Data: map[string]any{
			"session_id": sessionID,
			"text":       text,
		},
	})
}

func (b *EventBridge) OnFinalTranscript(sessionID string, text string) {
	b.hub.Broadcast(&Message{
		Type: MessageTypeFinalTranscript,
		Data: map[string]any{
			"session_id": sessionID,
			"text":       text,
		},
	})
	b.store(sessionID, text, "completed")
}

func (b *EventBridge) OnNoSpeech(sessionID string) {
	b.hub.Broadcast(&Message{
		Type: MessageTypeNoSpeech,
		Data: map[string]any{
			"session_id": sessionID,
		},
	})
	b.store(sessionID, "", string(session.ReasonNoSpeechDetected))
}

func (b *EventBridge) OnError(sessionID string, reason session.Reason, err error) {
	b.hub.Broadcast(&Message{
		Type: MessageTypeSessionError,
		Data: map[string]any{
			"session_id": sessionID,
			"reason":     string(reason),
			"error":      err.Error(),
		},
	})
	b.store(sessionID, "", string(reason))
}

func (b *EventBridge) store(sessionID, text, outcome string) {
	if b.utterances == nil {
		return
	}

	// Each stored utterance covers the span since the previous one.
	var durationMs int64
	if started, ok := b.started[sessionID]; ok {
		durationMs = time.Since(started).Milliseconds()
		b.started[sessionID] = time.Now()
	}

	_, err := b.utterances.StoreUtterance(&sqlite.UtteranceRecord{
		SessionID:  sessionID,
		CreatedAt:  time.Now().UTC(),
		Content:    text,
		Mode:       b.mode,
		Language:   b.language,
		DurationMs: durationMs,
		Outcome:    outcome,
	})
	if err != nil {
		b.logger.Error("Failed to record utterance",
			String("session_id", sessionID),
			Error(err))
	}
}
