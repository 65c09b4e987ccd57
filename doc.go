// Package parley implements a real-time chat relay over WebSocket.
//
// Clients open a persistent bidirectional connection, log in with a
// nickname, join named rooms, and exchange room chat lines and private
// whispers. The core of the package is the presence state machine and
// the message dispatcher: it tracks which connection is which user,
// which users are in which rooms, validates and routes typed messages,
// and fans out notifications to affected connections.
//
// # Architecture
//
// The repository is split into a small public surface (this package and
// ws) and internal packages:
//
//   - internal/protocol: the JSON wire envelope, schema validation,
//     and the feed builders.
//   - internal/presence: the shared presence state as an immutable
//     snapshot behind an atomic compare-and-swap cell.
//   - internal/relay: per-kind request handlers, session lifecycle,
//     and the fault boundary that turns malformed input into a
//     diagnostic reply or a connection close.
//   - internal/websocket: the gorilla/websocket transport with
//     per-client rate limiting, read/write deadlines, and keepalive.
//
// # Wire Protocol
//
// Every frame is a JSON envelope:
//
//	{"id": "c1-42", "type": "say-req", "payload": {"room": "lobby", "msg": "hi"}}
//
// Requests carry an opaque correlation id that is echoed verbatim in
// the matching response; the response kind is derived by replacing the
// -req suffix with -res. Feeds (presence-feed, room-chat-feed,
// whisper-feed) are push-only and carry no id.
//
// Every response payload is an ok/ko envelope: {"result":"ok", ...} on
// success, {"result":"ko","reason":"..."} on a domain failure. Domain
// failures (nickname taken, room unknown, not logged in) never close
// the connection.
//
// # Quick Start
//
//	import (
//	    "github.com/parleychat/parley/ws"
//	)
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins()))
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Concurrency Model
//
// One goroutine per connection drives the receive path; the only data
// shared across connections is the presence snapshot, updated by an
// optimistic read-compute-compare-and-swap cycle. Transitions are pure
// functions on the snapshot, so no lock is held across a state
// computation and readers always see a consistent snapshot.
//
// Per connection, requests are handled strictly in arrival order. No
// ordering is guaranteed across connections, nor between a broadcast
// feed and a racing direct reply to a different client.
//
// # Important
//
//   - Feed delivery is best-effort per recipient: one failed send
//     never prevents other recipients from receiving the feed.
//   - Configure CheckOriginFn in production (never use ws.AllOrigins()
//     in production).
package parley
