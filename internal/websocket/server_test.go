package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/leafline/voicecapture/internal/connection"
	"github.com/leafline/voicecapture/internal/session"
	"github.com/leafline/voicecapture/pkg/logger"
)

const waitTimeout = 2 * time.Second

func dialTestClient(t *testing.T, hub *Server) *gorilla.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Registration runs on the hub loop; wait for it before broadcasting.
	deadline := time.Now().Add(waitTimeout)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestBroadcastReachesClient(t *testing.T) {
	hub := NewServer(logger.NewNop())
	go hub.Run()
	conn := dialTestClient(t, hub)

	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount: got %d, want 1", got)
	}

	hub.Broadcast(&Message{
		Type: MessageTypeAudioLevel,
		Data: map[string]any{"session_id": "s1", "level": 0.4},
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeAudioLevel {
		t.Errorf("type: got %q", msg.Type)
	}
	if msg.Data["session_id"] != "s1" {
		t.Errorf("session_id: got %v", msg.Data["session_id"])
	}
}

func TestQualityRequestAnswered(t *testing.T) {
	hub := NewServer(logger.NewNop())
	go hub.Run()

	monitor := connection.NewMonitor(connection.DefaultConfig())
	monitor.RecordRoundTrip(120 * time.Millisecond)
	NewEventBridge(hub, nil, monitor, "streaming", "en", logger.NewNop())

	conn := dialTestClient(t, hub)
	request, _ := json.Marshal(map[string]any{"type": MessageTypeQuality})
	if err := conn.WriteMessage(gorilla.TextMessage, request); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeQuality {
		t.Errorf("type: got %q", msg.Type)
	}
	if msg.Data["quality"] != string(connection.TierExcellent) {
		t.Errorf("quality: got %v", msg.Data["quality"])
	}
	if msg.Data["disconnected"] != false {
		t.Errorf("disconnected: got %v", msg.Data["disconnected"])
	}
}

func TestStateChangeBroadcastsQuality(t *testing.T) {
	hub := NewServer(logger.NewNop())
	go hub.Run()

	monitor := connection.NewMonitor(connection.DefaultConfig())
	bridge := NewEventBridge(hub, nil, monitor, "batch", "en", logger.NewNop())

	conn := dialTestClient(t, hub)
	bridge.OnStateChange("s1", session.StateRecording)

	first := readMessage(t, conn)
	if first.Type != MessageTypeStateChange {
		t.Errorf("first message type: got %q", first.Type)
	}
	second := readMessage(t, conn)
	if second.Type != MessageTypeQuality {
		t.Errorf("second message type: got %q", second.Type)
	}
}
