package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/parleychat/parley"
	"github.com/parleychat/parley/internal/relay"
)

// TestDefaultRateLimitConfig tests the default rate limit configuration
func TestDefaultRateLimitConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRateLimitConfig()

	if config == nil {
		t.Fatal("DefaultRateLimitConfig() returned nil")
	}

	if !config.Enabled {
		t.Error("Expected rate limiting to be enabled by default")
	}

	if config.MessagesPerSecond != 100 {
		t.Errorf("MessagesPerSecond = %v, want 100", config.MessagesPerSecond)
	}

	if config.Burst != 200 {
		t.Errorf("Burst = %v, want 200", config.Burst)
	}
}

// TestNoRateLimit tests the no rate limit configuration
func TestNoRateLimit(t *testing.T) {
	t.Parallel()

	config := NoRateLimit()

	if config == nil {
		t.Fatal("NoRateLimit() returned nil")
	}

	if config.Enabled {
		t.Error("Expected rate limiting to be disabled")
	}
}

// newLoopback wires a server around a fresh relay core and returns a
// dialed client connection against it.
func newLoopback(t *testing.T, rateCfg *RateLimitConfig) *websocket.Conn {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(&ServerConfig{
		Addr:            "unused",
		Core:            relay.New(logger),
		Logger:          logger,
		RateLimitConfig: rateCfg,
		CheckOrigin:     func(r *http.Request) bool { return true },
	})

	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) map[string]any {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("reply does not parse: %v", err)
	}
	return msg
}

// TestRelayOverWebSocket drives a login/join/say exchange over a real
// websocket connection, end to end through transport, fault boundary,
// dispatcher and presence store.
func TestRelayOverWebSocket(t *testing.T) {
	t.Parallel()

	conn := newLoopback(t, NoRateLimit())

	reply := roundTrip(t, conn, `{"id":"1","type":"login-req","payload":{"nick":"alice"}}`)
	if reply["type"] != parley.KindLoginRes {
		t.Fatalf("reply type = %v, want %v", reply["type"], parley.KindLoginRes)
	}
	payload := reply["payload"].(map[string]any)
	if payload["result"] != "ok" {
		t.Fatalf("login result = %v, want ok", payload["result"])
	}

	reply = roundTrip(t, conn, `{"id":"2","type":"join-room-req","payload":{"room":"lobby"}}`)
	payload = reply["payload"].(map[string]any)
	if payload["result"] != "ok" {
		t.Fatalf("join result = %v, want ok", payload["result"])
	}

	reply = roundTrip(t, conn, `{"id":"3","type":"say-req","payload":{"room":"lobby","msg":"hi"}}`)
	if reply["id"] != "3" || reply["type"] != parley.KindSayRes {
		t.Errorf("say reply = %v %v, want say-res for id 3", reply["type"], reply["id"])
	}
}

// TestRateLimitCloses verifies the transport's policy close when a
// client exceeds its token bucket.
func TestRateLimitCloses(t *testing.T) {
	t.Parallel()

	conn := newLoopback(t, &RateLimitConfig{
		MessagesPerSecond: rate.Limit(1),
		Burst:             1,
		Enabled:           true,
	})

	// First frame consumes the only token.
	roundTrip(t, conn, `{"id":"1","type":"ping-req"}`)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"2","type":"ping-req"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected close after rate limit violation")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("close error = %v, want policy violation", err)
	}
}

// TestCloseScrubsPresence verifies the transport delivers the close
// event to the core: a connection that drops while in a room is
// removed from the other member's point of view.
func TestCloseScrubsPresence(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core := relay.New(logger)
	s := New(&ServerConfig{
		Addr:            "unused",
		Core:            core,
		Logger:          logger,
		RateLimitConfig: NoRateLimit(),
		CheckOrigin:     func(r *http.Request) bool { return true },
	})
	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	roundTrip(t, conn, `{"id":"1","type":"login-req","payload":{"nick":"alice"}}`)
	roundTrip(t, conn, `{"id":"2","type":"join-room-req","payload":{"room":"lobby"}}`)

	conn.Close()

	// The read loop notices the drop and unwinds through HandleClose.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := core.Store().Snapshot()
		if _, ok := snap.IDOfNick("alice"); !ok {
			if len(snap.MemberIDs("lobby")) != 0 {
				t.Fatal("lobby still has members after sole member dropped")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("presence state not scrubbed after connection drop")
}
