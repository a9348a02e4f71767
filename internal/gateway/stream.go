package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/leafline/voicecapture/pkg/logger"
)

const (
	defaultSampleRate = 16000
	// partialBytes is how much new audio accumulates between partial
	// recognitions, 500ms at 16kHz mono.
	partialBytes = 16000
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamEvent is the JSON envelope sent to streaming clients.
type streamEvent struct {
	Type       string  `json:"type"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Seq        uint64  `json:"seq,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// HandleStream serves one streaming transcription connection: binary
// frames of raw PCM in, partial and final segment events out. Pings from
// the client are answered automatically by the read loop, which is what
// the client's latency probe relies on.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "Missing session_id", http.StatusBadRequest)
		return
	}
	sampleRate := defaultSampleRate
	if s := r.URL.Query().Get("sample_rate"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			sampleRate = parsed
		}
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade stream connection", logger.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("Streaming session connected",
		logger.String("session_id", sessionID),
		logger.Int("sample_rate", sampleRate))

	var buf []byte
	var seq uint64
	var lastPartialLen int

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("Streaming session disconnected",
				logger.String("session_id", sessionID),
				logger.Error(err))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			buf = append(buf, data...)
			if len(buf)-lastPartialLen < partialBytes {
				continue
			}
			lastPartialLen = len(buf)
			recognition, err := h.recognizer.Recognize(r.Context(), buf, sampleRate)
			if err != nil {
				h.writeStreamEvent(conn, streamEvent{Type: "error", Message: err.Error()})
				continue
			}
			if !recognition.HasSpeech {
				continue
			}
			seq++
			h.writeStreamEvent(conn, streamEvent{
				Type:       "partial",
				Text:       recognition.Text,
				Confidence: recognition.Confidence,
				Seq:        seq,
			})

		case websocket.TextMessage:
			var msg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "input.commit" {
				continue
			}
			recognition, err := h.recognizer.Recognize(r.Context(), buf, sampleRate)
			if err != nil {
				h.writeStreamEvent(conn, streamEvent{Type: "error", Message: err.Error()})
				continue
			}
			seq++
			h.writeStreamEvent(conn, streamEvent{
				Type:       "final",
				Text:       recognition.Text,
				Confidence: recognition.Confidence,
				Seq:        seq,
			})
			// Committed audio is done; a client reusing the
			// connection starts a fresh utterance.
			buf = nil
			lastPartialLen = 0
		}
	}
}

func (h *Handler) writeStreamEvent(conn *websocket.Conn, event streamEvent) {
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Debug("Failed to write stream event", logger.Error(err))
	}
}
