package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parleychat/parley"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/protocol"
)

// dispatch routes one validated request to its handler. The switch is
// exhaustive over the request kinds; anything else was already rejected
// by validation, so the default branch only guards against a handler
// and validator drifting apart.
//
// Every handler emits exactly one direct reply (the return value) and,
// on success, zero or more feeds to other connections as a side effect.
// Domain failures come back as ko replies, never as errors; a non-nil
// error here means an internal fault and is handed to the fault
// boundary.
func (r *Relay) dispatch(ctx context.Context, ch parley.Channel, msg *protocol.Message) (*protocol.Message, error) {
	switch msg.Type {
	case parley.KindPingReq:
		return protocol.Ok(msg)
	case parley.KindLoginReq:
		return r.handleLogin(ch, msg)
	case parley.KindListRoomsReq:
		return r.handleListRooms(msg)
	case parley.KindJoinRoomReq:
		return r.handleJoinRoom(ctx, ch, msg)
	case parley.KindLeaveRoomReq:
		return r.handleLeaveRoom(ctx, ch, msg)
	case parley.KindSayReq:
		return r.handleSay(ctx, ch, msg)
	case parley.KindWhisperReq:
		return r.handleWhisper(ctx, ch, msg)
	default:
		return nil, fmt.Errorf("%w: %s: %s", protocol.ErrValidation, parley.ErrUnknownMessageKind, msg.Type)
	}
}

// handleLogin claims the requested nickname for this connection. The
// availability check and the forward/reverse map writes happen inside
// one atomic update, so two racing logins with the same nickname can
// never both succeed.
func (r *Relay) handleLogin(ch parley.Channel, msg *protocol.Message) (*protocol.Message, error) {
	var p protocol.LoginPayload
	mustUnmarshal(msg.Payload, &p)

	id := ch.ID()
	var reason string
	r.store.Update(func(s *presence.Snapshot) *presence.Snapshot {
		reason = ""
		if _, bound := s.Nick(id); bound {
			reason = parley.ReasonAlreadyLoggedIn
			return s
		}
		if owner, claimed := s.IDOfNick(p.Nick); claimed && owner != id {
			reason = parley.ReasonNickInUse
			return s
		}
		return s.Bind(id, p.Nick, ch)
	})

	if reason != "" {
		return protocol.Ko(msg, reason)
	}
	r.logger.Debug("nickname bound",
		"conn_id", id,
		"nick", p.Nick)
	return protocol.Ok(msg)
}

func (r *Relay) handleListRooms(msg *protocol.Message) (*protocol.Message, error) {
	var p protocol.ListRoomsPayload
	mustUnmarshal(msg.Payload, &p)

	rooms := r.store.Snapshot().Rooms(p.Filter)
	return protocol.Reply(msg, protocol.ListRoomsResult{
		Result: protocol.Result{Result: protocol.ResultOk},
		Rooms:  rooms,
	})
}

// handleJoinRoom adds the caller to the room and announces the join to
// everyone already there. The reply lists all member nicknames,
// including the caller's own. Join is idempotent; rejoining yields the
// same reply and a redundant but harmless feed.
func (r *Relay) handleJoinRoom(ctx context.Context, ch parley.Channel, msg *protocol.Message) (*protocol.Message, error) {
	var p protocol.RoomPayload
	mustUnmarshal(msg.Payload, &p)

	id := ch.ID()
	var reason string
	snap := r.store.Update(func(s *presence.Snapshot) *presence.Snapshot {
		reason = ""
		if _, bound := s.Nick(id); !bound {
			reason = parley.ReasonNotLoggedIn
			return s
		}
		return s.Join(id, p.Room)
	})

	if reason != "" {
		return protocol.Ko(msg, reason)
	}

	nick, _ := snap.Nick(id)
	r.broadcast(ctx, snap, p.Room, id, protocol.PresenceFeed(nick, parley.StatusJoined, p.Room))
	r.logger.Debug("joined room", "conn_id", id, "nick", nick, "room", p.Room)

	return protocol.Reply(msg, protocol.JoinRoomResult{
		Result:  protocol.Result{Result: protocol.ResultOk},
		Room:    p.Room,
		Members: snap.MemberNicks(p.Room),
	})
}

// handleLeaveRoom always acks the requester; leaving a room the caller
// is not in is a no-op. If the caller really was a member, the
// remaining members get a presence-left feed.
func (r *Relay) handleLeaveRoom(ctx context.Context, ch parley.Channel, msg *protocol.Message) (*protocol.Message, error) {
	var p protocol.RoomPayload
	mustUnmarshal(msg.Payload, &p)

	id := ch.ID()
	var nick string
	var wasMember bool
	snap := r.store.Update(func(s *presence.Snapshot) *presence.Snapshot {
		nick, _ = s.Nick(id)
		wasMember = s.Member(id, p.Room)
		return s.Leave(id, p.Room)
	})

	if wasMember && nick != "" {
		r.broadcast(ctx, snap, p.Room, id, protocol.PresenceFeed(nick, parley.StatusLeft, p.Room))
		r.logger.Debug("left room", "conn_id", id, "nick", nick, "room", p.Room)
	}
	return protocol.Ok(msg)
}

// handleSay relays one chat line to every other member of the room.
func (r *Relay) handleSay(ctx context.Context, ch parley.Channel, msg *protocol.Message) (*protocol.Message, error) {
	var p protocol.SayPayload
	mustUnmarshal(msg.Payload, &p)

	id := ch.ID()
	snap := r.store.Snapshot()
	nick, bound := snap.Nick(id)
	if !bound {
		return protocol.Ko(msg, parley.ReasonNotLoggedIn)
	}
	if !snap.Member(id, p.Room) {
		return protocol.Ko(msg, fmt.Sprintf("not a member of %s", p.Room))
	}

	r.broadcast(ctx, snap, p.Room, id, protocol.RoomChatFeed(nick, p.Room, p.Msg))
	return protocol.Ok(msg)
}

// handleWhisper delivers a private line to the single connection that
// currently owns the target nickname.
func (r *Relay) handleWhisper(ctx context.Context, ch parley.Channel, msg *protocol.Message) (*protocol.Message, error) {
	var p protocol.WhisperPayload
	mustUnmarshal(msg.Payload, &p)

	id := ch.ID()
	snap := r.store.Snapshot()
	nick, bound := snap.Nick(id)
	if !bound {
		return protocol.Ko(msg, parley.ReasonNotLoggedIn)
	}
	target, ok := snap.ChannelOfNick(p.To)
	if !ok {
		return protocol.Ko(msg, fmt.Sprintf("can't whisper to %s", p.To))
	}

	if err := r.send(ctx, target, protocol.WhisperFeed(nick, p.Msg)); err != nil {
		r.logger.Warn("whisper delivery failed",
			"from", nick,
			"to", p.To,
			"error", err)
	}
	return protocol.Ok(msg)
}

// mustUnmarshal reads a payload that already passed schema validation.
// A failure at this point is a bug; the panic is recovered by the fault
// boundary like any other internal fault.
func mustUnmarshal(data json.RawMessage, dst any) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		panic(fmt.Sprintf("validated payload failed to unmarshal: %v", err))
	}
}
