package websocket

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// newConnPair upgrades a loopback connection and returns both ends.
func newConnPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	serverCh := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverCh <- conn
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-serverCh:
		return serverConn, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the pair never arrived")
		return nil, nil
	}
}

// TestClientSend verifies frames pushed through the Channel surface
// come out of the peer's socket, and that a closed client fails sends
// safely instead of blocking.
func TestClientSend(t *testing.T) {
	t.Parallel()

	serverConn, peer := newConnPair(t)
	client := NewClient(serverConn, "test-addr", NoRateLimit())

	if client.ID() == "" {
		t.Error("client has no connection id")
	}
	if client.RemoteAddr() != "test-addr" {
		t.Errorf("RemoteAddr() = %q, want test-addr", client.RemoteAddr())
	}
	if !client.IsAlive() {
		t.Fatal("fresh client reports not alive")
	}

	ctx := context.Background()
	if err := client.Send(ctx, []byte(`{"type":"whisper-feed","payload":{"from":"a","msg":"b"}}`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Errorf("frame kind = %d, want text", kind)
	}
	if !strings.Contains(string(data), "whisper-feed") {
		t.Errorf("peer received %q", data)
	}

	if err := client.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsAlive() {
		t.Error("closed client reports alive")
	}
	if err := client.Send(ctx, []byte("late")); err == nil {
		t.Error("Send() after close expected error, got nil")
	}
	// Double close is a no-op.
	if err := client.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	select {
	case <-client.Context().Done():
	case <-time.After(time.Second):
		t.Error("client context not cancelled by close")
	}
}

// TestClientRateLimit exercises the token bucket wiring.
func TestClientRateLimit(t *testing.T) {
	t.Parallel()

	serverConn, _ := newConnPair(t)
	client := NewClient(serverConn, "test-addr", &RateLimitConfig{
		MessagesPerSecond: rate.Limit(1),
		Burst:             2,
		Enabled:           true,
	})
	t.Cleanup(func() { client.Close(context.Background()) })

	ctx := context.Background()
	if !client.CheckRateLimit(ctx) || !client.CheckRateLimit(ctx) {
		t.Fatal("burst capacity not honored")
	}
	if client.CheckRateLimit(ctx) {
		t.Error("third immediate message allowed past burst of 2")
	}

	unlimited := NewClient(mustPair(t), "test-addr", NoRateLimit())
	t.Cleanup(func() { unlimited.Close(context.Background()) })
	for i := 0; i < 100; i++ {
		if !unlimited.CheckRateLimit(ctx) {
			t.Fatal("disabled rate limit rejected a message")
		}
	}
}

func mustPair(t *testing.T) *websocket.Conn {
	t.Helper()
	serverConn, _ := newConnPair(t)
	return serverConn
}

// TestClientSendStalledPeer verifies a stalled peer can never hang a
// sender or a closer: once the write pump is stuck and the send buffer
// is full, Send fails immediately instead of parking, and a concurrent
// Close completes without waiting behind it.
func TestClientSendStalledPeer(t *testing.T) {
	t.Parallel()

	// The peer end of the pair never reads, so the write pump stalls
	// once the socket buffers fill.
	serverConn, _ := newConnPair(t)
	client := NewClient(serverConn, "test-addr", NoRateLimit())

	ctx := context.Background()
	frame := bytes.Repeat([]byte("x"), 32*1024)

	var sendErr error
	for i := 0; i < 10000; i++ {
		if err := client.Send(ctx, frame); err != nil {
			sendErr = err
			break
		}
	}
	if sendErr == nil {
		t.Fatal("every send succeeded against a peer that never reads")
	}
	if !strings.Contains(sendErr.Error(), "send buffer") {
		t.Errorf("Send() error = %v, want send buffer full", sendErr)
	}

	// Further sends keep failing fast rather than blocking.
	start := time.Now()
	if err := client.Send(ctx, frame); err == nil {
		t.Error("Send() into a full buffer succeeded")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send() took %v against a full buffer, want immediate failure", elapsed)
	}

	done := make(chan error, 1)
	go func() { done <- client.Close(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked behind a send to a stalled peer")
	}

	if err := client.Send(ctx, frame); err == nil {
		t.Error("Send() after close succeeded")
	}
}
