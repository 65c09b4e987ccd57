package protocol

import (
	"encoding/json"

	"github.com/parleychat/parley"
)

// Feed builders. Pure: they take already-resolved names and text and
// produce a wire-ready Message with no correlation id. The payload
// structs marshal unconditionally, so the error path of json.Marshal
// is unreachable here.

// PresenceFeed announces that who joined or left room. Status must be
// parley.StatusJoined or parley.StatusLeft.
func PresenceFeed(who, status, room string) *Message {
	payload, _ := json.Marshal(PresenceFeedPayload{Who: who, Status: status, Room: room})
	return &Message{Type: parley.KindPresenceFeed, Payload: payload}
}

// RoomChatFeed carries one chat line from who to every member of room.
func RoomChatFeed(who, room, msg string) *Message {
	payload, _ := json.Marshal(RoomChatFeedPayload{Who: who, Room: room, Msg: msg})
	return &Message{Type: parley.KindRoomChatFeed, Payload: payload}
}

// WhisperFeed carries a private line from one nickname to a single
// target connection.
func WhisperFeed(from, msg string) *Message {
	payload, _ := json.Marshal(WhisperFeedPayload{From: from, Msg: msg})
	return &Message{Type: parley.KindWhisperFeed, Payload: payload}
}
