package parley

import "context"

// Channel is the outbound send handle for one live transport connection.
//
// A Channel is minted by the transport when a connection is accepted and
// is owned by that connection's session until close. The presence state
// stores Channels keyed by connection id; handlers resolve a recipient's
// Channel and push encoded frames through it.
//
// Send is best-effort from the relay's point of view: a failed send is
// logged and never retried, and must fail safely (not block or panic)
// when the connection is already closing.
type Channel interface {
	// ID returns the opaque unique token identifying this connection.
	// Ids are minted at accept time and never reused.
	ID() string

	// RemoteAddr returns the client's remote network address,
	// typically "IP:port".
	RemoteAddr() string

	// Context returns the connection's lifecycle context. It is
	// cancelled when the connection closes, from either side.
	Context() context.Context

	// Send queues an encoded frame for delivery to the peer. It
	// returns an error if the connection is closed, the context is
	// cancelled, or a stalled peer has left the outbound buffer
	// full; it never blocks.
	Send(ctx context.Context, data []byte) error

	// Close closes the connection gracefully.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a specific close code
	// and optional reason.
	CloseWithCode(ctx context.Context, code int, reason string) error

	// IsAlive reports whether the connection is still open.
	IsAlive() bool
}

// Core is the connection-facing surface of the relay. The transport
// invokes it on the three connection events; it owns everything behind
// them (presence state, dispatch, fault recovery).
//
// The transport must deliver exactly one HandleClose per connection and
// must serialize HandleMessage calls per connection; the relay's
// per-connection ordering guarantee depends on it.
type Core interface {
	// HandleConnect registers a freshly accepted connection. The id
	// exists in presence state from this point, with no nickname
	// bound yet.
	HandleConnect(ch Channel)

	// HandleMessage processes one raw frame received on ch. Decode,
	// validation and handler faults are recovered internally; the
	// call never panics.
	HandleMessage(ctx context.Context, ch Channel, raw []byte)

	// HandleClose tears down all presence state for the connection
	// id and notifies rooms it was in. Safe to call for ids that
	// were never bound.
	HandleClose(id string)
}
