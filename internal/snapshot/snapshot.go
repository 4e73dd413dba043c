// Package snapshot implements spec §4.5's reader/writer isolation: a
// refcounted, immutable view over every relation's consolidated contents
// at a given logical time, published by storing it into an atomic pointer
// under a publish mutex after each write commits. Grounded on the teacher's FSM apply-then-
// publish cadence (pkg/manager/manager.go), generalized from "publish the
// latest reconciled cluster state" to "publish the latest consolidated
// relation set".
package snapshot

import (
	"sync"
	"sync/atomic"

	"github.com/inputlayer/inputlayer/pkg/value"
)

// Snapshot is an immutable, point-in-time view of every relation's
// contents. Never mutate a Snapshot's Relations map or its tuple slices
// after construction; build a new Snapshot instead.
type Snapshot struct {
	Time      uint64
	Relations map[string][]value.Tuple

	refs *int64
}

// New constructs a Snapshot with a fresh refcount of zero (un-held).
func New(t uint64, relations map[string][]value.Tuple) *Snapshot {
	var refs int64
	return &Snapshot{Time: t, Relations: relations, refs: &refs}
}

// Get returns the tuples for relation, or nil if it has none.
func (s *Snapshot) Get(relation string) []value.Tuple {
	return s.Relations[relation]
}

func (s *Snapshot) retain() { atomic.AddInt64(s.refs, 1) }

// release drops a hold; callers that track reclaim hooks can check the
// returned count to know when a snapshot becomes collectible.
func (s *Snapshot) release() int64 { return atomic.AddInt64(s.refs, -1) }

// Manager owns the currently published Snapshot and hands out refcounted
// handles so readers never observe a torn multi-relation write, per spec
// §4.5's three invariants: never-mutated, monotone progress, atomicity.
type Manager struct {
	mu      sync.Mutex // serializes Publish against itself; readers never block on it
	current atomic.Pointer[Snapshot]
}

// NewManager starts empty: a time-0 snapshot with no relations.
func NewManager() *Manager {
	m := &Manager{}
	m.current.Store(New(0, map[string][]value.Tuple{}))
	return m
}

// Publish installs next as the current snapshot, rejecting any attempt to
// publish a snapshot whose time does not strictly advance (spec's
// monotone-progress invariant).
func (m *Manager) Publish(next *Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.current.Load()
	if cur != nil && next.Time <= cur.Time {
		return false
	}
	m.current.Store(next)
	return true
}

// Acquire returns the currently published snapshot with a hold on it; the
// caller must call Release when done reading.
func (m *Manager) Acquire() *Snapshot {
	s := m.current.Load()
	s.retain()
	return s
}

// Release drops the caller's hold on s.
func (m *Manager) Release(s *Snapshot) {
	s.release()
}
