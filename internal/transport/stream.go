package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leafline/voicecapture/internal/connection"
	"github.com/leafline/voicecapture/pkg/logger"
)

const (
	handshakeTimeout = 45 * time.Second
	writeTimeout     = 10 * time.Second
	pingInterval     = 5 * time.Second
)

// toWebSocketBase converts an http(s) base URL to the corresponding ws(s) URL.
func toWebSocketBase(httpBase string) string {
	b := strings.TrimRight(httpBase, "/")
	if strings.HasPrefix(b, "https://") {
		return "wss://" + strings.TrimPrefix(b, "https://")
	} else if strings.HasPrefix(b, "http://") {
		return "ws://" + strings.TrimPrefix(b, "http://")
	}
	return b
}

// StreamClient opens streaming transcription connections to the backend.
// Reconnect pacing and exhaustion come from the shared connection monitor.
type StreamClient struct {
	cfg     Config
	monitor *connection.Monitor
	logger  *logger.Logger
}

// NewStreamClient creates a streaming transcription client.
func NewStreamClient(cfg Config, monitor *connection.Monitor, log *logger.Logger) *StreamClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &StreamClient{
		cfg:     cfg,
		monitor: monitor,
		logger:  log.Named("stream"),
	}
}

// Dial connects the streaming channel for one session, retrying with the
// monitor's backoff schedule until it succeeds, the context is cancelled,
// or the retry budget is exhausted.
func (c *StreamClient) Dial(ctx context.Context, sessionID string) (*StreamConn, error) {
	wsURL := fmt.Sprintf("%s/api/voice/ws/stream?session_id=%s&language=%s",
		toWebSocketBase(c.cfg.BaseURL), url.QueryEscape(sessionID), url.QueryEscape(c.cfg.Language))

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	headers := http.Header{}
	if c.cfg.APIKey != "" {
		headers.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.APIKey))
	}

	for attempt := 1; ; attempt++ {
		conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
		if err == nil {
			c.logger.Debug("Streaming channel connected",
				logger.String("session_id", sessionID),
				logger.String("status", resp.Status),
				logger.Int("attempt", attempt))
			c.monitor.RecordSuccess()
			sc := newStreamConn(conn, sessionID, c.monitor, c.logger)
			go sc.readLoop()
			go sc.pingLoop()
			return sc, nil
		}

		c.monitor.RecordFailure()
		c.monitor.SetDisconnected(true)
		if c.monitor.Exhausted() {
			return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempt, err)
		}

		delay := c.monitor.NextReconnectDelay()
		c.logger.Warn("Streaming connect failed, retrying",
			logger.String("session_id", sessionID),
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", delay),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// StreamConn is one live streaming transcription connection. Audio goes
// out as binary frames, transcript segments come back on Segments().
type StreamConn struct {
	conn      *websocket.Conn
	sessionID string
	monitor   *connection.Monitor
	logger    *logger.Logger

	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	segments  chan Segment
}

func newStreamConn(conn *websocket.Conn, sessionID string, monitor *connection.Monitor, log *logger.Logger) *StreamConn {
	sc := &StreamConn{
		conn:      conn,
		sessionID: sessionID,
		monitor:   monitor,
		logger:    log,
		closeChan: make(chan struct{}),
		segments:  make(chan Segment, 32),
	}
	conn.SetPongHandler(func(appData string) error {
		if sentNanos, err := strconv.ParseInt(appData, 10, 64); err == nil {
			sc.monitor.RecordRoundTrip(time.Since(time.Unix(0, sentNanos)))
		}
		return nil
	})
	return sc
}

// Segments returns the channel of transcript segments. It is closed when
// the connection ends.
func (sc *StreamConn) Segments() <-chan Segment {
	return sc.segments
}

// SendAudio sends one chunk of raw PCM audio as a binary frame.
func (sc *StreamConn) SendAudio(pcm []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return ErrTransportClosed
	}
	sc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sc.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		sc.monitor.RecordFailure()
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return nil
}

// Finalize tells the backend that no more audio will arrive and any
// pending partial should be committed as a final segment.
func (sc *StreamConn) Finalize() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return ErrTransportClosed
	}
	sc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := []byte(`{"type":"input.commit"}`)
	if err := sc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		sc.monitor.RecordFailure()
		return fmt.Errorf("failed to send commit: %w", err)
	}
	return nil
}

// streamEvent is the JSON envelope the backend sends on the stream.
type streamEvent struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Seq        uint64  `json:"seq"`
	Message    string  `json:"message,omitempty"`
}

// readLoop drains inbound events until the connection ends, then closes
// the segments channel.
func (sc *StreamConn) readLoop() {
	defer close(sc.segments)

	for {
		_, message, err := sc.conn.ReadMessage()
		if err != nil {
			sc.mu.Lock()
			wasClosed := sc.closed
			sc.mu.Unlock()
			if !wasClosed {
				sc.monitor.RecordFailure()
				sc.monitor.SetDisconnected(true)
				sc.logger.Warn("Streaming channel read failed",
					logger.String("session_id", sc.sessionID),
					logger.Error(err))
			}
			return
		}

		var event streamEvent
		if err := json.Unmarshal(message, &event); err != nil {
			sc.logger.Warn("Ignoring malformed stream event", logger.Error(err))
			continue
		}

		var kind Kind
		switch event.Type {
		case "partial":
			kind = KindPartial
		case "final":
			kind = KindFinal
		case "error":
			sc.logger.Warn("Backend stream error",
				logger.String("session_id", sc.sessionID),
				logger.String("message", event.Message))
			sc.monitor.RecordFailure()
			continue
		default:
			continue
		}

		seg := Segment{
			Kind:       kind,
			Text:       event.Text,
			Confidence: event.Confidence,
			SessionID:  sc.sessionID,
			Seq:        event.Seq,
			Received:   time.Now().UTC(),
		}
		select {
		case sc.segments <- seg:
		case <-sc.closeChan:
			return
		}
	}
}

// pingLoop measures round-trip latency until the connection closes.
func (sc *StreamConn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.closeChan:
			return
		case <-ticker.C:
			payload := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
			sc.mu.Lock()
			if sc.closed {
				sc.mu.Unlock()
				return
			}
			err := sc.conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(writeTimeout))
			sc.mu.Unlock()
			if err != nil {
				sc.monitor.RecordFailure()
			}
		}
	}
}

// Close shuts the connection down. Safe to call more than once.
func (sc *StreamConn) Close() error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil
	}
	sc.closed = true
	close(sc.closeChan)
	sc.mu.Unlock()

	// Best effort close handshake before tearing down the TCP side.
	sc.conn.SetWriteDeadline(time.Now().Add(time.Second))
	sc.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return sc.conn.Close()
}
