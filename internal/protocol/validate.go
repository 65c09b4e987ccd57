package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/parleychat/parley"
)

// Validate checks a message against the protocol schema and returns nil
// on pass or an ErrValidation-wrapped reason on fail.
//
// It is used on ingress for untrusted frames and defensively on egress,
// where a failure means a programming error was caught before it
// reached the wire. The kind switch is exhaustive over the closed set
// of message kinds; anything else is a validation failure by
// construction.
func Validate(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: empty message", ErrValidation)
	}
	if msg.Type == "" {
		return fmt.Errorf("%w: missing type", ErrValidation)
	}

	switch msg.Type {
	case parley.KindPingReq:
		return requireID(msg)

	case parley.KindLoginReq:
		var p LoginPayload
		if err := requestPayload(msg, &p); err != nil {
			return err
		}
		if p.Nick == "" {
			return missingField(msg.Type, "nick")
		}
		return nil

	case parley.KindListRoomsReq:
		var p ListRoomsPayload
		return requestPayload(msg, &p)

	case parley.KindJoinRoomReq, parley.KindLeaveRoomReq:
		var p RoomPayload
		if err := requestPayload(msg, &p); err != nil {
			return err
		}
		if p.Room == "" {
			return missingField(msg.Type, "room")
		}
		return nil

	case parley.KindSayReq:
		var p SayPayload
		if err := requestPayload(msg, &p); err != nil {
			return err
		}
		if p.Room == "" {
			return missingField(msg.Type, "room")
		}
		if p.Msg == "" {
			return missingField(msg.Type, "msg")
		}
		return nil

	case parley.KindWhisperReq:
		var p WhisperPayload
		if err := requestPayload(msg, &p); err != nil {
			return err
		}
		if p.To == "" {
			return missingField(msg.Type, "to")
		}
		if p.Msg == "" {
			return missingField(msg.Type, "msg")
		}
		return nil

	case parley.KindPingRes, parley.KindLoginRes, parley.KindListRoomsRes,
		parley.KindJoinRoomRes, parley.KindLeaveRoomRes, parley.KindSayRes,
		parley.KindWhisperRes, parley.KindErrorRes:
		if err := requireID(msg); err != nil {
			return err
		}
		var r Result
		if err := payloadInto(msg, &r); err != nil {
			return err
		}
		if r.Result != ResultOk && r.Result != ResultKo {
			return fmt.Errorf("%w: %s result must be ok or ko", ErrValidation, msg.Type)
		}
		return nil

	case parley.KindPresenceFeed:
		var p PresenceFeedPayload
		if err := feedPayload(msg, &p); err != nil {
			return err
		}
		if p.Who == "" {
			return missingField(msg.Type, "who")
		}
		if p.Status != parley.StatusJoined && p.Status != parley.StatusLeft {
			return fmt.Errorf("%w: %s status must be joined or left", ErrValidation, msg.Type)
		}
		if p.Room == "" {
			return missingField(msg.Type, "room")
		}
		return nil

	case parley.KindRoomChatFeed:
		var p RoomChatFeedPayload
		if err := feedPayload(msg, &p); err != nil {
			return err
		}
		if p.Who == "" {
			return missingField(msg.Type, "who")
		}
		if p.Room == "" {
			return missingField(msg.Type, "room")
		}
		if p.Msg == "" {
			return missingField(msg.Type, "msg")
		}
		return nil

	case parley.KindWhisperFeed:
		var p WhisperFeedPayload
		if err := feedPayload(msg, &p); err != nil {
			return err
		}
		if p.From == "" {
			return missingField(msg.Type, "from")
		}
		if p.Msg == "" {
			return missingField(msg.Type, "msg")
		}
		return nil

	default:
		return fmt.Errorf("%w: %s: %s", ErrValidation, parley.ErrUnknownMessageKind, msg.Type)
	}
}

func requireID(msg *Message) error {
	if msg.ID == "" {
		return fmt.Errorf("%w: %s requires a correlation id", ErrValidation, msg.Type)
	}
	return nil
}

// requestPayload enforces the request invariants (correlation id
// present) and unmarshals the payload into dst.
func requestPayload(msg *Message, dst any) error {
	if err := requireID(msg); err != nil {
		return err
	}
	return payloadInto(msg, dst)
}

// feedPayload enforces the feed invariants (no correlation id, feeds
// are not replies) and unmarshals the payload into dst.
func feedPayload(msg *Message, dst any) error {
	if msg.ID != "" {
		return fmt.Errorf("%w: %s must not carry a correlation id", ErrValidation, msg.Type)
	}
	return payloadInto(msg, dst)
}

func payloadInto(msg *Message, dst any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrValidation, msg.Type, err)
	}
	return nil
}

func missingField(kind, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrValidation, kind, field)
}
