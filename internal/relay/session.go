package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/parleychat/parley"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/protocol"
)

// HandleConnect registers a freshly accepted connection. The id gets
// its channels entry here, before any login, and keeps it until close.
func (r *Relay) HandleConnect(ch parley.Channel) {
	r.store.Register(ch.ID(), ch)
	r.logger.Debug("connection registered",
		slog.String("conn_id", ch.ID()),
		slog.String("remote_addr", ch.RemoteAddr()))
}

// HandleMessage processes one raw frame: decode, validate, dispatch,
// deliver the reply. Decode failures, validation failures, and handler
// panics all land in recoverFault, which guarantees the request is
// never left silently unanswered: either a generic failure reply goes
// out under the recovered correlation id, or the connection is closed.
func (r *Relay) HandleMessage(ctx context.Context, ch parley.Channel, raw []byte) {
	reply, err := r.process(ctx, ch, raw)
	if err != nil {
		r.recoverFault(ctx, ch, raw, err)
		return
	}
	if err := r.send(ctx, ch, reply); err != nil {
		// Replies are never retried; a dead channel will surface its
		// own close event.
		r.logger.Warn("reply delivery failed",
			slog.String("conn_id", ch.ID()),
			slog.String("kind", reply.Type),
			slog.Any("error", err))
	}
}

// process runs the fallible part of the receive path. A panic anywhere
// below (a handler bug, a corrupt payload slipping past validation)
// comes back as an ordinary error so that the shared presence state is
// never taken down by one bad message.
func (r *Relay) process(ctx context.Context, ch parley.Channel, raw []byte) (reply *protocol.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("internal fault: %v", rec)
		}
	}()

	msg, err := protocol.Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := protocol.Validate(msg); err != nil {
		return nil, err
	}
	return r.dispatch(ctx, ch, msg)
}

// recoverFault is the second tier of the fault boundary. It re-reads
// the raw bytes solely to recover a correlation id; gjson tolerates
// frames the strict decoder rejected. With an id in hand the client
// gets a generic failure reply carrying a diagnostic; without one, or
// when even that reply cannot be sent, the connection is closed
// unconditionally.
func (r *Relay) recoverFault(ctx context.Context, ch parley.Channel, raw []byte, cause error) {
	r.logger.Warn("request failed",
		slog.String("conn_id", ch.ID()),
		slog.Any("error", cause))

	id := gjson.GetBytes(raw, "id")
	if !id.Exists() || id.String() == "" {
		r.closeConnection(ctx, ch, "unrecoverable request")
		return
	}

	fault := protocol.Fault(id.String(), cause.Error())
	if err := r.send(ctx, ch, fault); err != nil {
		r.closeConnection(ctx, ch, "failure reply undeliverable")
	}
}

func (r *Relay) closeConnection(ctx context.Context, ch parley.Channel, why string) {
	r.logger.Info("closing connection",
		slog.String("conn_id", ch.ID()),
		slog.String("why", why))
	if err := ch.Close(ctx); err != nil {
		r.logger.Debug("close failed",
			slog.String("conn_id", ch.ID()),
			slog.Any("error", err))
	}
}

// HandleClose tears down all presence state for a connection. The
// transport delivers exactly one close event per connection; the
// unbind transition is idempotent besides, so a stray duplicate is
// harmless. Rooms the connection was in get a presence-left feed for
// its nickname, exactly as if it had sent leave-room for each.
func (r *Relay) HandleClose(id string) {
	var nick string
	var bound bool
	var rooms []string
	snap := r.store.Update(func(s *presence.Snapshot) *presence.Snapshot {
		nick, bound = s.Nick(id)
		rooms = s.RoomsOf(id)
		return s.Unbind(id)
	})

	if bound {
		ctx := context.Background()
		for _, room := range rooms {
			r.broadcast(ctx, snap, room, id, protocol.PresenceFeed(nick, parley.StatusLeft, room))
		}
	}
	r.logger.Debug("connection unbound",
		slog.String("conn_id", id),
		slog.String("nick", nick),
		slog.Int("rooms_left", len(rooms)))
}
