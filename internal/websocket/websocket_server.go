// Package websocket is the transport collaborator of the relay: it
// accepts connections, exposes per-connection send/close primitives,
// and invokes the core on connect, message, and close events.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/parleychat/parley"
)

// CheckOriginFn is a function that validates the origin of a WebSocket
// connection request. It receives the HTTP request and returns true if
// the origin is allowed, false otherwise. Use this to implement CORS
// policies for your WebSocket server.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is an optional callback invoked after the WebSocket
// handshake completes and the connection is registered with the core,
// but before the message reading loop starts. Useful for connection
// tracking and logging.
//
// Note: this function is called synchronously during connection setup.
// Avoid long-running operations that could block new connections.
type OnConnectFn = func(client parley.Channel)

// OnClientDisconnectFn is an optional callback invoked when a connected
// client disconnects, after the core has torn down its presence state.
// The boolean is true when the disconnect was voluntary (peer-initiated
// or graceful close) and false for unexpected drops.
type OnClientDisconnectFn = func(client parley.Channel, voluntary bool)

// ServerConfig configures the transport. Core is required; it receives
// every connection event. The rest is optional with sane defaults.
type ServerConfig struct {
	Addr               string
	Core               parley.Core
	Logger             *slog.Logger
	RateLimitConfig    *RateLimitConfig
	CheckOrigin        CheckOriginFn
	OnConnect          OnConnectFn
	OnClientDisconnect OnClientDisconnectFn
}

// RateLimitConfig defines rate limiting configuration for clients
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a client can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Server accepts WebSocket connections and feeds their events to the
// relay core.
type Server struct {
	addr    string
	server  *http.Server
	clients sync.Map // map[string]*Client

	core   parley.Core
	logger *slog.Logger

	// Rate limiting configuration
	rateLimitConfig *RateLimitConfig

	mu           sync.RWMutex
	running      bool
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnClientDisconnectFn
}

// New creates a new WebSocket server wired to the given core.
//
// The server uses the Gorilla WebSocket library with read/write buffer
// sizes of 1024 bytes. Rate limiting is applied per client using a
// token bucket. Received frames are handed to the core synchronously,
// one at a time per connection; the core's per-connection ordering
// guarantee depends on that.
func New(cfg *ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:            cfg.Addr,
		core:            cfg.Core,
		logger:          logger.With(slog.String("component", "websocket_server")),
		rateLimitConfig: cfg.RateLimitConfig,
		onConnect:       cfg.OnConnect,
		onDisconnect:    cfg.OnClientDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Start starts the WebSocket server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(parley.ErrServerAlreadyRunning)
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout
	select {
	case err := <-errChan:
		// Reset running state without calling Stop to avoid deadlock
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		// Context cancelled, stop the server
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		// Server started successfully, no immediate errors
		return nil
	}
}

// Stop stops the WebSocket server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	// Close all client connections
	s.clients.Range(func(key, value interface{}) bool {
		if client, ok := value.(*Client); ok {
			client.Close(ctx)
		}
		return true
	})

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetClient returns a client by ID
func (s *Server) GetClient(id string) (*Client, bool) {
	if client, ok := s.clients.Load(id); ok {
		return client.(*Client), true
	}
	return nil, false
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "Failed to upgrade connection", http.StatusBadRequest)
		return
	}

	client := NewClient(conn, r.RemoteAddr, s.rateLimitConfig)
	s.clients.Store(client.ID(), client)

	// Start reading messages from client
	go s.handleClient(client)
}

// handleClient runs the read loop for a connected client. Frames are
// delivered to the core in arrival order from this single goroutine;
// the core's dispatch must not be re-entered concurrently for one
// connection.
func (s *Server) handleClient(client *Client) {
	defer func() {
		voluntary := client.Context().Err() == context.Canceled

		s.core.HandleClose(client.ID())
		if s.onDisconnect != nil {
			s.onDisconnect(client, voluntary)
		}
		s.clients.Delete(client.ID())
		client.Close(context.Background())
	}()

	// Set read deadline to prevent indefinite blocking
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	// Set pong handler to reset read deadline on pong
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Register with the core before the first frame can arrive so the
	// connection id exists in presence state ahead of any login.
	s.core.HandleConnect(client)
	if s.onConnect != nil {
		s.onConnect(client)
	}

	for {
		select {
		case <-client.Context().Done():
			return
		default:
			_, data, err := client.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Warn("unexpected websocket close",
						slog.String("conn_id", client.ID()),
						slog.Any("error", err))
				}
				return
			}

			// Reset read deadline after successful read
			client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			// Check rate limit before processing message
			if !client.CheckRateLimit(context.Background()) {
				// Rate limit exceeded, send error and close connection
				s.logger.Warn("rate limit exceeded",
					slog.String("conn_id", client.ID()),
					slog.String("remote_addr", client.RemoteAddr()))
				client.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, "Rate limit exceeded")
				return
			}

			s.core.HandleMessage(client.Context(), client, data)
		}
	}
}
