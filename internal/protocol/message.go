// Package protocol defines the JSON wire envelope exchanged with chat
// clients, the schema validator used on ingress and egress, and the
// builders for reply and feed messages.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/parleychat/parley"
)

// maxFrameSize caps a single decoded frame. Large enough for any valid
// envelope, small enough to keep a hostile peer from ballooning memory.
const maxFrameSize = 64 * 1024

// ErrDecode marks frames that are not well-formed JSON envelopes. No
// field of such a frame, including the correlation id, is trustworthy.
var ErrDecode = errors.New("malformed frame")

// ErrValidation marks well-formed envelopes that violate the protocol
// schema (unknown kind, missing or malformed payload field).
var ErrValidation = errors.New("invalid message")

// Message is the internal representation of one wire envelope.
//
// ID is the opaque correlation token echoed verbatim in the matching
// reply; it is empty on feed messages. Type identifies the message
// kind. Payload holds the kind-specific fields, still encoded; use the
// typed payload structs to read them.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request payloads, one per request kind that carries fields.

type LoginPayload struct {
	Nick string `json:"nick"`
}

type ListRoomsPayload struct {
	Filter string `json:"filter,omitempty"`
}

type RoomPayload struct {
	Room string `json:"room"`
}

type SayPayload struct {
	Room string `json:"room"`
	Msg  string `json:"msg"`
}

type WhisperPayload struct {
	To  string `json:"to"`
	Msg string `json:"msg"`
}

// Result is the ok/ko envelope every reply payload wraps. Reason is set
// only on ko and is advisory text, never machine-parsed.
type Result struct {
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

const (
	ResultOk = "ok"
	ResultKo = "ko"
)

// Reply payloads carrying kind-specific fields on success.

type ListRoomsResult struct {
	Result
	Rooms []string `json:"rooms"`
}

type JoinRoomResult struct {
	Result
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

// Feed payloads.

type PresenceFeedPayload struct {
	Who    string `json:"who"`
	Status string `json:"status"`
	Room   string `json:"room"`
}

type RoomChatFeedPayload struct {
	Who  string `json:"who"`
	Room string `json:"room"`
	Msg  string `json:"msg"`
}

type WhisperFeedPayload struct {
	From string `json:"from"`
	Msg  string `json:"msg"`
}

// Decode parses raw bytes into a Message. Failures wrap ErrDecode.
func Decode(raw []byte) (*Message, error) {
	if len(raw) > maxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d exceeds maximum %d bytes", ErrDecode, len(raw), maxFrameSize)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &msg, nil
}

// Encode serializes a Message for the wire.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", parley.ErrFailedToEncode, err)
	}
	return data, nil
}

// ResponseType derives a reply's kind from the request's kind by the
// <verb>-req -> <verb>-res convention. The second return is false when
// the kind is not a request kind.
func ResponseType(reqType string) (string, bool) {
	verb, ok := strings.CutSuffix(reqType, "-req")
	if !ok {
		return "", false
	}
	return verb + "-res", true
}

// Reply builds a direct reply to the given request, echoing its
// correlation id. The payload must marshal cleanly; payload types in
// this package always do.
func Reply(req *Message, payload any) (*Message, error) {
	resType, ok := ResponseType(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a request kind", ErrValidation, req.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", parley.ErrFailedToEncode, err)
	}

	return &Message{ID: req.ID, Type: resType, Payload: data}, nil
}

// Ok builds a bare success reply to the given request.
func Ok(req *Message) (*Message, error) {
	return Reply(req, Result{Result: ResultOk})
}

// Ko builds a failure reply to the given request, carrying a short
// human-readable reason.
func Ko(req *Message, reason string) (*Message, error) {
	return Reply(req, Result{Result: ResultKo, Reason: reason})
}

// Fault builds the generic failure reply used by the fault boundary
// when a request could not be dispatched but its correlation id was
// recovered from the raw bytes.
func Fault(id, reason string) *Message {
	payload, _ := json.Marshal(Result{Result: ResultKo, Reason: reason})
	return &Message{ID: id, Type: parley.KindErrorRes, Payload: payload}
}
