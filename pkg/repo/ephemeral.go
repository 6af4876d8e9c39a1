package repo

import (
	"encoding/json"

	"github.com/driftsync/core/internal/ephemeral"
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/runtime"
)

// EphemeralStore is the per-document, per-namespace ephemeral handle
// AddEphemeral/GetEphemeral hand out: a thin wrapper over the runtime's
// ephemeral.Store that also reports local Set/Delete calls back to the
// runtime so they gossip to subscribed peers (spec.md §4.4, §4.5
// "addEphemeral(name, store) / getEphemeral(name)").
type EphemeralStore struct {
	store     *ephemeral.Store
	rt        *runtime.Runtime
	docID     model.DocID
	namespace string
}

func newEphemeralStore(rt *runtime.Runtime, docID model.DocID, namespace string) *EphemeralStore {
	return &EphemeralStore{
		store:     rt.EphemeralStore(docID, namespace),
		rt:        rt,
		docID:     docID,
		namespace: namespace,
	}
}

// Set records a locally-owned value for key and gossips it to subscribed
// peers.
func (e *EphemeralStore) Set(key string, value []byte) {
	e.store.Set(key, value)
	e.rt.EphemeralLocalChange(e.docID, e.namespace, key, value, true)
}

// Delete removes a locally-owned value for key and gossips this store's
// current local snapshot. Peers merge snapshots without dropping keys a
// snapshot omits, so a peer that already holds key keeps it until this
// peer's entries are removed there with its last channel.
func (e *EphemeralStore) Delete(key string) {
	e.store.Delete(key)
	e.rt.EphemeralLocalChange(e.docID, e.namespace, key, nil, false)
}

// Get returns the current value for key, local or remote-gossiped.
func (e *EphemeralStore) Get(key string) ([]byte, bool) { return e.store.Get(key) }

// GetAll returns a snapshot of every key currently held.
func (e *EphemeralStore) GetAll() map[string][]byte { return e.store.GetAll() }

// Subscribe registers listener for every Set/Delete on this store, local
// or remote.
func (e *EphemeralStore) Subscribe(listener ephemeral.Listener) func() {
	return e.store.Subscribe(listener)
}

// AddEphemeral registers and returns the named ephemeral store for this
// document, creating it on first use (spec.md §4.5 "addEphemeral(name,
// store)").
func (h *Handle) AddEphemeral(name string) *EphemeralStore {
	es := newEphemeralStore(h.repo.rt, h.docID, name)
	h.repo.registerEphemeral(h.docID, name, es)
	return es
}

// GetEphemeral returns the named ephemeral store previously registered
// with AddEphemeral, if any (spec.md §4.5 "getEphemeral(name)").
func (h *Handle) GetEphemeral(name string) (*EphemeralStore, bool) {
	return h.repo.lookupEphemeral(h.docID, name)
}

// TypedEphemeralStore is a JSON-encoded typed view over an EphemeralStore.
// Go methods can't be generic, so GetTypedEphemeral is a free function
// rather than a Handle method (spec.md §4.5 "getTypedEphemeral(name)").
type TypedEphemeralStore[T any] struct {
	inner *EphemeralStore
}

// GetTypedEphemeral returns a typed view over name's ephemeral store, if
// it was previously registered with AddEphemeral.
func GetTypedEphemeral[T any](h *Handle, name string) (*TypedEphemeralStore[T], bool) {
	es, ok := h.GetEphemeral(name)
	if !ok {
		return nil, false
	}
	return &TypedEphemeralStore[T]{inner: es}, true
}

// Set JSON-encodes value and stores it under key.
func (t *TypedEphemeralStore[T]) Set(key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	t.inner.Set(key, data)
	return nil
}

// Delete removes key.
func (t *TypedEphemeralStore[T]) Delete(key string) { t.inner.Delete(key) }

// Get JSON-decodes the value for key, if present.
func (t *TypedEphemeralStore[T]) Get(key string) (T, bool, error) {
	var zero T
	raw, ok := t.inner.Get(key)
	if !ok {
		return zero, false, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// GetAll JSON-decodes every key currently held.
func (t *TypedEphemeralStore[T]) GetAll() (map[string]T, error) {
	out := make(map[string]T)
	for k, raw := range t.inner.GetAll() {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
