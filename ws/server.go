// Package ws is the public facade over the websocket transport and the
// relay core: one call wires a running chat relay from a config value.
package ws

import (
	"net/http"

	"github.com/parleychat/parley/internal/relay"
	"github.com/parleychat/parley/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn
type ServerConfig = *websocket.ServerConfig

// Server is the transport with its relay core attached.
type Server = websocket.Server

// New creates a chat relay server from the given configuration. When
// cfg.Core is nil a fresh relay core with empty presence state is
// wired in, which is what a standalone server wants.
//
// Example:
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins()))
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(cfg ServerConfig) *Server {
	if cfg.Core == nil {
		cfg.Core = relay.New(cfg.Logger)
	}
	return websocket.New(cfg)
}

// NewConfig assembles a ServerConfig for the common standalone case.
func NewConfig(addr string, rateLimitConfig *RateLimitConfig, checkOrigin CheckOriginFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:            addr,
		RateLimitConfig: rateLimitConfig,
		CheckOrigin:     checkOrigin,
	}
}

// AllOrigins returns a checkOrigin function that allows all origins.
// Development only.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// AllowedOrigins returns a checkOrigin function that admits only the
// listed origins. An empty list behaves like AllOrigins.
func AllowedOrigins(origins []string) CheckOriginFn {
	if len(origins) == 0 {
		return AllOrigins()
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := allowed[r.Header.Get("Origin")]
		return ok
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
