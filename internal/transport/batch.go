package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leafline/voicecapture/internal/audio"
	"github.com/leafline/voicecapture/pkg/logger"
)

// Config contains the settings shared by the batch and streaming clients.
type Config struct {
	BaseURL  string
	APIKey   string
	Language string
	Timeout  time.Duration
}

// BatchClient submits a complete recording for transcription in a single
// HTTP request.
type BatchClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *logger.Logger
}

// NewBatchClient creates a batch transcription client.
func NewBatchClient(cfg Config, log *logger.Logger) *BatchClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &BatchClient{
		cfg:    cfg,
		logger: log.Named("batch"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type transcribeRequest struct {
	Audio    string  `json:"audio"`
	Format   string  `json:"format"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration"`
	Mode     string  `json:"mode,omitempty"`
}

type vadVerdict struct {
	HasSpeech  bool         `json:"has_speech"`
	Confidence float64      `json:"confidence,omitempty"`
	Segments   [][2]float64 `json:"segments,omitempty"`
}

type transcribeResult struct {
	// Transcription is either an object {text, confidence} or a bare
	// string, depending on the backend revision.
	Transcription    json.RawMessage `json:"transcription"`
	VADResult        *vadVerdict     `json:"vad_result,omitempty"`
	Language         string          `json:"language,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms,omitempty"`
}

type transcribeResponse struct {
	Result transcribeResult `json:"result"`
}

type transcriptionBody struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func decodeTranscription(raw json.RawMessage) (transcriptionBody, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return transcriptionBody{}, nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return transcriptionBody{}, err
		}
		return transcriptionBody{Text: text}, nil
	}
	var body transcriptionBody
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return transcriptionBody{}, err
	}
	return body, nil
}

// Transcribe sends WAV-encoded audio to the backend and returns the
// transcript. A response with no detected speech and empty text yields
// Result.NoSpeech rather than an error.
func (c *BatchClient) Transcribe(ctx context.Context, wav []byte) (Result, error) {
	var duration float64
	if pcm, sampleRate, err := audio.DecodeWAV(wav); err == nil {
		duration = audio.PCMDuration(pcm, sampleRate).Seconds()
	}
	reqBody := transcribeRequest{
		Audio:    base64.StdEncoding.EncodeToString(wav),
		Format:   "wav",
		Language: c.cfg.Language,
		Duration: duration,
		Mode:     "auto_vad",
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	apiURL := c.cfg.BaseURL + "/api/voice/transcribe"
	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.APIKey))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, string(bodyBytes))
	}

	var envelope transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	transcription, err := decodeTranscription(envelope.Result.Transcription)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse transcription: %w", err)
	}

	hasSpeech := true
	if vad := envelope.Result.VADResult; vad != nil {
		hasSpeech = vad.HasSpeech
	}
	c.logger.Debug("Batch transcription completed",
		logger.Int("audio_bytes", len(wav)),
		logger.Bool("has_speech", hasSpeech),
		logger.Duration("round_trip", time.Since(start)))

	if !hasSpeech && transcription.Text == "" {
		return Result{NoSpeech: true}, nil
	}
	return Result{
		Text:           transcription.Text,
		Confidence:     transcription.Confidence,
		ProcessingTime: time.Duration(envelope.Result.ProcessingTimeMs) * time.Millisecond,
	}, nil
}
