package ephemeral

import (
	"sync"

	"github.com/driftsync/core/internal/model"
)

type key struct {
	docID     model.DocID
	namespace string
}

// Registry lazily creates and hands out one Store per (docId, namespace)
// pair, the unit the synchronizer and runtime address ephemeral state by.
type Registry struct {
	mu     sync.Mutex
	stores map[key]*Store
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[key]*Store)}
}

// GetOrCreate returns the Store for (docID, namespace), creating it on
// first use.
func (r *Registry) GetOrCreate(docID model.DocID, namespace string) *Store {
	k := key{docID: docID, namespace: namespace}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[k]
	if !ok {
		s = New()
		r.stores[k] = s
	}
	return s
}

// Lookup returns the Store for (docID, namespace) if one has been created.
func (r *Registry) Lookup(docID model.DocID, namespace string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[key{docID: docID, namespace: namespace}]
	return s, ok
}

// RemovePeer tombstones peerID's entries across every store in the
// registry, used when a peer's last channel is removed.
func (r *Registry) RemovePeer(peerID string) {
	r.mu.Lock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.Unlock()
	for _, s := range stores {
		s.RemovePeer(peerID)
	}
}
