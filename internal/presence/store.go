package presence

import (
	"sync/atomic"

	"github.com/parleychat/parley"
)

// Store is the live, process-wide presence state: a single atomically
// swappable reference to the current Snapshot.
//
// Mutation follows an optimistic read-compute-compare-and-swap cycle.
// No lock is held across the compute step; a lost race retries
// transparently. That keeps transitions composable and deadlock-free.
// Two concurrent transitions on unrelated data may retry against each
// other, which is acceptable since transitions are cheap pure
// computations.
type Store struct {
	cur atomic.Pointer[Snapshot]
}

// NewStore returns a store holding the empty presence state.
func NewStore() *Store {
	s := &Store{}
	s.cur.Store(New())
	return s
}

// Snapshot returns the current state. The returned value is immutable
// and safe to read without coordination.
func (s *Store) Snapshot() *Snapshot {
	return s.cur.Load()
}

// Update applies fn to the current snapshot and swaps in the result,
// retrying on a lost race. fn must be pure: it may run more than once
// and must not have side effects beyond values captured for the caller
// (which are overwritten on each attempt, so only the final attempt's
// values survive). Returning the input snapshot unchanged skips the
// swap.
//
// Returns the snapshot that ended up current: fn's result, or the
// unchanged input on a no-op.
func (s *Store) Update(fn func(*Snapshot) *Snapshot) *Snapshot {
	for {
		old := s.cur.Load()
		next := fn(old)
		if next == old {
			return old
		}
		if s.cur.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Atomic wrappers for the single-transition cases.

// Register applies Snapshot.Register to the live state.
func (s *Store) Register(id string, ch parley.Channel) *Snapshot {
	return s.Update(func(cur *Snapshot) *Snapshot {
		return cur.Register(id, ch)
	})
}

// Bind applies Snapshot.Bind to the live state. The boolean reports
// whether the claim succeeded.
func (s *Store) Bind(id, nick string, ch parley.Channel) (*Snapshot, bool) {
	var bound bool
	next := s.Update(func(cur *Snapshot) *Snapshot {
		next := cur.Bind(id, nick, ch)
		bound = next != cur
		return next
	})
	return next, bound
}

// Unbind applies Snapshot.Unbind to the live state.
func (s *Store) Unbind(id string) *Snapshot {
	return s.Update(func(cur *Snapshot) *Snapshot {
		return cur.Unbind(id)
	})
}

// Join applies Snapshot.Join to the live state.
func (s *Store) Join(id, room string) *Snapshot {
	return s.Update(func(cur *Snapshot) *Snapshot {
		return cur.Join(id, room)
	})
}

// Leave applies Snapshot.Leave to the live state.
func (s *Store) Leave(id, room string) *Snapshot {
	return s.Update(func(cur *Snapshot) *Snapshot {
		return cur.Leave(id, room)
	})
}
