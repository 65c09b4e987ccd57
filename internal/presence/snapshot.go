// Package presence holds the single source of truth for the chat
// relay: which connections exist, which nickname each one owns, and
// which connections are in which rooms.
//
// The state is modeled as an immutable Snapshot; every transition is a
// pure function returning a new Snapshot, and the live value is swapped
// in atomically by Store. Concurrent readers always see either the pre-
// or post-transition snapshot, never a mix.
package presence

import (
	"maps"
	"sort"
	"strings"

	"github.com/parleychat/parley"
)

// Snapshot is one immutable value of the presence state.
//
// Invariants:
//   - every id in nickOf has an entry in channels
//   - nickOf and idOfNick are mutual inverses
//   - an id appears in a room's member set only while it has a nickOf
//     entry
//
// A transition that would not change the state returns the receiver
// unchanged, which Store uses to skip the compare-and-swap.
type Snapshot struct {
	rooms    map[string]map[string]struct{}
	channels map[string]parley.Channel
	nickOf   map[string]string
	idOfNick map[string]string
}

// New returns the empty presence state.
func New() *Snapshot {
	return &Snapshot{
		rooms:    map[string]map[string]struct{}{},
		channels: map[string]parley.Channel{},
		nickOf:   map[string]string{},
		idOfNick: map[string]string{},
	}
}

// Register adds the channel entry for a freshly accepted connection,
// before any login. No-op if the id is already registered.
func (s *Snapshot) Register(id string, ch parley.Channel) *Snapshot {
	if _, ok := s.channels[id]; ok {
		return s
	}
	next := s.clone()
	next.channels[id] = ch
	return next
}

// Bind claims nick for id and records its channel. The claim fails,
// returning the snapshot unchanged, when the id already has a nickname
// (first bind wins per id) or when the nickname is owned by a different
// id. Applied through Store.Update this is a single atomic
// check-and-set per nickname, so two racing logins with the same
// nickname can never both succeed.
func (s *Snapshot) Bind(id, nick string, ch parley.Channel) *Snapshot {
	if _, bound := s.nickOf[id]; bound {
		return s
	}
	if owner, claimed := s.idOfNick[nick]; claimed && owner != id {
		return s
	}
	next := s.clone()
	next.channels[id] = ch
	next.nickOf[id] = nick
	next.idOfNick[nick] = id
	return next
}

// Unbind removes id from every room, from channels, from nickOf, and
// removes the reverse idOfNick entry keyed by its former nickname.
// No-op if the id was never registered.
func (s *Snapshot) Unbind(id string) *Snapshot {
	_, registered := s.channels[id]
	nick, bound := s.nickOf[id]
	if !registered && !bound {
		return s
	}

	next := s.clone()
	delete(next.channels, id)
	delete(next.nickOf, id)
	if bound {
		delete(next.idOfNick, nick)
	}
	for room, members := range next.rooms {
		if _, in := members[id]; !in {
			continue
		}
		trimmed := maps.Clone(members)
		delete(trimmed, id)
		if len(trimmed) == 0 {
			delete(next.rooms, room)
		} else {
			next.rooms[room] = trimmed
		}
	}
	return next
}

// Join adds id to room, creating the room if absent. Idempotent; no-op
// if the id has no nickname bound.
func (s *Snapshot) Join(id, room string) *Snapshot {
	if _, bound := s.nickOf[id]; !bound {
		return s
	}
	if _, in := s.rooms[room][id]; in {
		return s
	}
	next := s.clone()
	members := maps.Clone(next.rooms[room])
	if members == nil {
		members = map[string]struct{}{}
	}
	members[id] = struct{}{}
	next.rooms[room] = members
	return next
}

// Leave removes id from room. No-op if the id has no nickname, the
// room does not exist, or the id is not a member. An emptied room is
// dropped.
func (s *Snapshot) Leave(id, room string) *Snapshot {
	if _, bound := s.nickOf[id]; !bound {
		return s
	}
	members, exists := s.rooms[room]
	if !exists {
		return s
	}
	if _, in := members[id]; !in {
		return s
	}
	next := s.clone()
	trimmed := maps.Clone(members)
	delete(trimmed, id)
	if len(trimmed) == 0 {
		delete(next.rooms, room)
	} else {
		next.rooms[room] = trimmed
	}
	return next
}

// Nick returns the nickname bound to id; ok is false before login.
func (s *Snapshot) Nick(id string) (string, bool) {
	nick, ok := s.nickOf[id]
	return nick, ok
}

// Channel returns the outbound send handle for id.
func (s *Snapshot) Channel(id string) (parley.Channel, bool) {
	ch, ok := s.channels[id]
	return ch, ok
}

// IDOfNick returns the connection id that currently owns nick.
func (s *Snapshot) IDOfNick(nick string) (string, bool) {
	id, ok := s.idOfNick[nick]
	return id, ok
}

// ChannelOfNick resolves a nickname straight to its send handle.
func (s *Snapshot) ChannelOfNick(nick string) (parley.Channel, bool) {
	id, ok := s.idOfNick[nick]
	if !ok {
		return nil, false
	}
	return s.Channel(id)
}

// Member reports whether id is in room.
func (s *Snapshot) Member(id, room string) bool {
	_, in := s.rooms[room][id]
	return in
}

// MemberIDs returns the connection ids currently in room, sorted for
// deterministic fanout and replies. Empty for unknown rooms.
func (s *Snapshot) MemberIDs(room string) []string {
	members := s.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MemberNicks returns the nicknames of everyone in room, sorted.
func (s *Snapshot) MemberNicks(room string) []string {
	members := s.rooms[room]
	nicks := make([]string, 0, len(members))
	for id := range members {
		if nick, ok := s.nickOf[id]; ok {
			nicks = append(nicks, nick)
		}
	}
	sort.Strings(nicks)
	return nicks
}

// Rooms returns the room names containing filter as a substring,
// sorted. An empty filter matches all rooms.
func (s *Snapshot) Rooms(filter string) []string {
	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		if filter == "" || strings.Contains(name, filter) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RoomsOf returns the rooms id is currently in, sorted.
func (s *Snapshot) RoomsOf(id string) []string {
	var names []string
	for name, members := range s.rooms {
		if _, in := members[id]; in {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// clone copies the top-level maps. Room member sets are shared until a
// transition touches them.
func (s *Snapshot) clone() *Snapshot {
	return &Snapshot{
		rooms:    maps.Clone(s.rooms),
		channels: maps.Clone(s.channels),
		nickOf:   maps.Clone(s.nickOf),
		idOfNick: maps.Clone(s.idOfNick),
	}
}
