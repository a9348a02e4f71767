package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leafline/voicecapture/internal/audio"
	"github.com/leafline/voicecapture/internal/session"
	"github.com/leafline/voicecapture/internal/storage/sqlite"
	"github.com/leafline/voicecapture/internal/websocket"
	"github.com/leafline/voicecapture/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	engine     *session.Engine
	recognizer Recognizer
	utterances *sqlite.UtteranceStorage
	wsServer   *websocket.Server
	logger     *logger.Logger
}

// NewHandler creates a new API handler. engine and utterances may be nil
// when the process runs as a pure transcription backend.
func NewHandler(engine *session.Engine, recognizer Recognizer, utterances *sqlite.UtteranceStorage,
	wsServer *websocket.Server, log *logger.Logger) *Handler {
	return &Handler{
		engine:     engine,
		recognizer: recognizer,
		utterances: utterances,
		wsServer:   wsServer,
		logger:     log.Named("api-handler"),
	}
}

type transcribeRequest struct {
	Audio    string  `json:"audio"`
	Format   string  `json:"format"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Mode     string  `json:"mode,omitempty"`
}

type transcriptionBody struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type vadVerdict struct {
	HasSpeech  bool         `json:"has_speech"`
	Confidence float64      `json:"confidence,omitempty"`
	Segments   [][2]float64 `json:"segments,omitempty"`
}

type transcribeResult struct {
	Transcription    transcriptionBody `json:"transcription"`
	VADResult        *vadVerdict       `json:"vad_result,omitempty"`
	Language         string            `json:"language,omitempty"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
}

type transcribeResponse struct {
	Result transcribeResult `json:"result"`
}

// Transcribe handles one batch transcription request.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Format != "" && req.Format != "wav" {
		http.Error(w, "Unsupported audio format", http.StatusBadRequest)
		return
	}

	wav, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		http.Error(w, "Invalid audio encoding", http.StatusBadRequest)
		return
	}
	pcm, sampleRate, err := audio.DecodeWAV(wav)
	if err != nil {
		h.logger.Warn("Rejected malformed audio", logger.Error(err))
		http.Error(w, "Malformed WAV payload", http.StatusBadRequest)
		return
	}

	start := time.Now()
	recognition, err := h.recognizer.Recognize(r.Context(), pcm, sampleRate)
	if err != nil {
		h.logger.Error("Recognition failed", logger.Error(err))
		http.Error(w, "Recognition failed", http.StatusInternalServerError)
		return
	}

	resp := transcribeResponse{Result: transcribeResult{
		Transcription: transcriptionBody{
			Text:       recognition.Text,
			Confidence: recognition.Confidence,
		},
		VADResult:        &vadVerdict{HasSpeech: recognition.HasSpeech},
		Language:         req.Language,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}}
	WriteJSON(w, http.StatusOK, resp)
}

// StartSession begins a recording session on the local engine.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		http.Error(w, "Session engine not available", http.StatusServiceUnavailable)
		return
	}
	if err := h.engine.Start(r.Context()); err != nil {
		if err == session.ErrAlreadyRecording {
			http.Error(w, "Recording already in progress", http.StatusConflict)
			return
		}
		h.logger.Error("Failed to start session", logger.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"session_id": h.engine.SessionID(),
		"state":      string(h.engine.State()),
	})
}

// StopSession ends the active recording and submits it for transcription.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		http.Error(w, "Session engine not available", http.StatusServiceUnavailable)
		return
	}
	if err := h.engine.Stop(r.Context()); err != nil {
		if err == session.ErrNotRecording {
			http.Error(w, "No recording in progress", http.StatusConflict)
			return
		}
		h.logger.Error("Failed to stop session", logger.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"session_id": h.engine.SessionID(),
		"state":      string(h.engine.State()),
	})
}

// CancelSession abandons the active recording.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		http.Error(w, "Session engine not available", http.StatusServiceUnavailable)
		return
	}
	if err := h.engine.Cancel(r.Context()); err != nil {
		h.logger.Error("Failed to cancel session", logger.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"state": string(h.engine.State())})
}

// SessionStatus returns the engine's current state and transcript.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		http.Error(w, "Session engine not available", http.StatusServiceUnavailable)
		return
	}
	response := map[string]any{
		"timestamp":  time.Now(),
		"session_id": h.engine.SessionID(),
		"state":      string(h.engine.State()),
		"quality":    string(h.engine.Quality()),
	}
	if reason := h.engine.LastReason(); reason != session.ReasonNone {
		response["reason"] = string(reason)
	}
	if transcript := h.engine.Transcript(); transcript != nil {
		response["text"] = transcript.Text()
		response["partial"] = transcript.Partial()
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetUtterances returns stored utterances with pagination.
func (h *Handler) GetUtterances(w http.ResponseWriter, r *http.Request) {
	if h.utterances == nil {
		http.Error(w, "Storage not available", http.StatusServiceUnavailable)
		return
	}
	limit, offset := parsePaginationParams(r)

	records, err := h.utterances.GetUtterances(limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve utterances", logger.Error(err))
		http.Error(w, "Failed to retrieve utterances", http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"timestamp":  time.Now(),
		"count":      len(records),
		"utterances": records,
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetUtterancesBySession returns the stored utterances of one session.
func (h *Handler) GetUtterancesBySession(w http.ResponseWriter, r *http.Request) {
	if h.utterances == nil {
		http.Error(w, "Storage not available", http.StatusServiceUnavailable)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}
	limit, offset := parsePaginationParams(r)

	records, err := h.utterances.GetUtterancesBySession(sessionID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to retrieve utterances by session", logger.Error(err))
		http.Error(w, "Failed to retrieve utterances", http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"timestamp":  time.Now(),
		"session_id": sessionID,
		"count":      len(records),
		"utterances": records,
	}
	WriteJSON(w, http.StatusOK, response)
}

// HandleWebSocket handles dashboard event feed connections.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
	}
	if h.wsServer != nil {
		response["ws_clients"] = h.wsServer.ClientCount()
	}
	WriteJSON(w, http.StatusOK, response)
}

// parsePaginationParams parses limit and offset query parameters
func parsePaginationParams(r *http.Request) (int, int) {
	limit := 100
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
