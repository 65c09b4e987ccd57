// Package relay is the core of the chat relay: it maps incoming
// protocol messages to handlers, reads and transitions the presence
// store, and fans replies and feeds back out through the transport's
// send handles.
package relay

import (
	"context"
	"log/slog"

	"github.com/parleychat/parley"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/protocol"
)

// Relay owns the presence store and implements parley.Core. One Relay
// serves every connection of the process; all per-connection state
// lives in the store, keyed by connection id.
type Relay struct {
	store  *presence.Store
	logger *slog.Logger
}

// New creates a relay with an empty presence state.
func New(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:  presence.NewStore(),
		logger: logger.With(slog.String("component", "relay")),
	}
}

// compile-time check to ensure Relay implements parley.Core.
var _ parley.Core = (*Relay)(nil)

// Store exposes the presence store, mainly for tests and diagnostics.
func (r *Relay) Store() *presence.Store {
	return r.store
}

// send validates, encodes and pushes one message to a single channel.
// Egress validation is defensive: a failure here is a programming
// error caught before it reaches the wire.
func (r *Relay) send(ctx context.Context, ch parley.Channel, msg *protocol.Message) error {
	if err := protocol.Validate(msg); err != nil {
		r.logger.Error("refusing to send invalid egress message",
			slog.String("kind", msg.Type),
			slog.Any("error", err))
		return err
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return ch.Send(ctx, data)
}

// broadcast delivers feed to every member of room except exceptID.
// Delivery is best-effort per recipient: a failed send is logged and
// skipped, never retried, and never aborts the remaining sends.
func (r *Relay) broadcast(ctx context.Context, snap *presence.Snapshot, room, exceptID string, feed *protocol.Message) {
	if err := protocol.Validate(feed); err != nil {
		r.logger.Error("refusing to broadcast invalid feed",
			slog.String("kind", feed.Type),
			slog.Any("error", err))
		return
	}
	data, err := protocol.Encode(feed)
	if err != nil {
		r.logger.Error("failed to encode feed", slog.Any("error", err))
		return
	}

	for _, id := range snap.MemberIDs(room) {
		if id == exceptID {
			continue
		}
		ch, ok := snap.Channel(id)
		if !ok {
			continue
		}
		if err := ch.Send(ctx, data); err != nil {
			r.logger.Warn("feed delivery failed",
				slog.String("conn_id", id),
				slog.String("room", room),
				slog.String("kind", feed.Type),
				slog.Any("error", err))
		}
	}
}
