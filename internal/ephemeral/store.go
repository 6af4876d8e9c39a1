// Package ephemeral implements the short-lived, per-peer, namespaced state
// (presence/cursors) layered on top of document sync (spec.md §4.4). Each
// Store aggregates one (docId, namespace) pair's keyed values: entries a
// peer Sets locally, merged with entries gossiped in from remote peers'
// EphemeralPayload snapshots.
package ephemeral

import "sync"

// Source tags where a Store change event originated.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
	SourceInitial
)

// ChangeEvent is delivered to subscribers on every Set/Delete, local or
// remote. Present is false for a delete/tombstone, in which case Value is
// nil.
type ChangeEvent struct {
	Key     string
	Value   []byte
	Present bool
	Source  Source
}

// Listener receives ChangeEvents for a Store.
type Listener func(ChangeEvent)

type entry struct {
	value []byte
	// owner is "" for a locally Set entry, or the contributing peer's id
	// for an entry learned from a remote EphemeralPayload.
	owner string
}

// Store is the per-(docId, namespace) ephemeral state.
type Store struct {
	mu        sync.Mutex
	entries   map[string]entry
	listeners map[int]Listener
	nextSub   int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		entries:   make(map[string]entry),
		listeners: make(map[int]Listener),
	}
}

// Set records a locally-owned value for key and notifies subscribers.
func (s *Store) Set(key string, value []byte) {
	s.mu.Lock()
	s.entries[key] = entry{value: value, owner: ""}
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	notify(listeners, ChangeEvent{Key: key, Value: value, Present: true, Source: SourceLocal})
}

// Delete removes a locally-owned value for key and notifies subscribers
// with a tombstone event. Deleting a key the caller doesn't own locally is
// a no-op on the entry map but still fires an event, matching ephemeral
// semantics where any party may locally decide a key is gone for them.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok && e.owner == "" {
		delete(s.entries, key)
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	notify(listeners, ChangeEvent{Key: key, Present: false, Source: SourceLocal})
}

// Get returns the current value for key, if any.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e.value, ok
}

// GetAll returns a snapshot of every key currently held, local or remote.
func (s *Store) GetAll() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.entries))
	for k, e := range s.entries {
		out[k] = e.value
	}
	return out
}

// Subscribe registers listener and returns a function that unsubscribes
// it. The listener is invoked once per change, outside the store's lock,
// on the goroutine that made the change; changes made from several
// goroutines can invoke it concurrently.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = listener
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, ev ChangeEvent) {
	for _, l := range listeners {
		l(ev)
	}
}

// ApplyRemoteSnapshot decodes a remote peer's full ephemeral snapshot and
// merges every key into the store as remote-owned, firing one ChangeEvent
// per key. Keys the remote peer no longer reports are left untouched here;
// RemovePeer handles the peer-leaves case explicitly.
func (s *Store) ApplyRemoteSnapshot(peerID string, data []byte) error {
	decoded, err := DecodeSnapshot(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	events := make([]ChangeEvent, 0, len(decoded))
	for k, v := range decoded {
		s.entries[k] = entry{value: v, owner: peerID}
		events = append(events, ChangeEvent{Key: k, Value: v, Present: true, Source: SourceRemote})
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	for _, ev := range events {
		notify(listeners, ev)
	}
	return nil
}

// RemovePeer tombstones every entry owned by peerID, e.g. on
// channel-removed for that peer's last channel.
func (s *Store) RemovePeer(peerID string) {
	s.mu.Lock()
	var removed []string
	for k, e := range s.entries {
		if e.owner == peerID {
			delete(s.entries, k)
			removed = append(removed, k)
		}
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	for _, k := range removed {
		notify(listeners, ChangeEvent{Key: k, Present: false, Source: SourceRemote})
	}
}

// LocalSnapshot encodes every locally-owned (not remote-gossiped) entry,
// the payload broadcast to other peers as this store's contribution.
func (s *Store) LocalSnapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	local := make(map[string][]byte)
	for k, e := range s.entries {
		if e.owner == "" {
			local[k] = e.value
		}
	}
	return EncodeSnapshot(local)
}
