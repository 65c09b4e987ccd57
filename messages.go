package parley

// Message kinds carried in the wire envelope's type field.
//
// Requests come from clients and always carry a correlation id; the
// matching response kind is derived by swapping the -req suffix for
// -res. Feeds are push-only notifications and carry no id.
const (
	// Request kinds
	KindPingReq      = "ping-req"
	KindLoginReq     = "login-req"
	KindListRoomsReq = "list-rooms-req"
	KindJoinRoomReq  = "join-room-req"
	KindLeaveRoomReq = "leave-room-req"
	KindSayReq       = "say-req"
	KindWhisperReq   = "whisper-req"

	// Response kinds, one per request kind
	KindPingRes      = "ping-res"
	KindLoginRes     = "login-res"
	KindListRoomsRes = "list-rooms-res"
	KindJoinRoomRes  = "join-room-res"
	KindLeaveRoomRes = "leave-room-res"
	KindSayRes       = "say-res"
	KindWhisperRes   = "whisper-res"

	// KindErrorRes is the generic failure reply sent by the fault
	// boundary when a request could not be dispatched but its
	// correlation id was recoverable.
	KindErrorRes = "error-res"

	// Feed kinds
	KindPresenceFeed = "presence-feed"
	KindRoomChatFeed = "room-chat-feed"
	KindWhisperFeed  = "whisper-feed"
)

// Presence feed status values.
const (
	StatusJoined = "joined"
	StatusLeft   = "left"
)

// Domain failure reasons surfaced in ko replies. Advisory strings only,
// never machine-parsed.
const (
	ReasonAlreadyLoggedIn = "already logged in"
	ReasonNickInUse       = "nickname already in use"
	ReasonNotLoggedIn     = "not logged in"
)

// Standard error messages
const (
	// Protocol errors
	ErrUnknownMessageKind = "unknown message kind"

	// Connection errors
	ErrConnectionClosed     = "client connection is closed"
	ErrContextCancelled     = "client context cancelled"
	ErrSendBufferFull       = "client send buffer is full"
	ErrFailedToEncode       = "failed to encode message"
	ErrServerAlreadyRunning = "server already running"
)
