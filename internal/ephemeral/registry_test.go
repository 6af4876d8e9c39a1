package ephemeral

import (
	"testing"

	"github.com/driftsync/core/internal/model"
)

func TestGetOrCreateReturnsSameStore(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("doc-1", "presence")
	b := r.GetOrCreate("doc-1", "presence")
	if a != b {
		t.Error("expected the same store for the same (docID, namespace)")
	}
	c := r.GetOrCreate("doc-1", "chat")
	if a == c {
		t.Error("expected a different store for a different namespace")
	}
}

func TestLookupMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("doc-1", "presence"); ok {
		t.Error("expected lookup to miss before GetOrCreate")
	}
}

func TestRegistryRemovePeerAffectsAllStores(t *testing.T) {
	r := NewRegistry()
	s1 := r.GetOrCreate(model.DocID("doc-1"), "presence")
	s2 := r.GetOrCreate(model.DocID("doc-2"), "presence")
	s1.ApplyRemoteSnapshot("peer-1", EncodeSnapshot(map[string][]byte{"a": []byte("1")}))
	s2.ApplyRemoteSnapshot("peer-1", EncodeSnapshot(map[string][]byte{"b": []byte("2")}))

	r.RemovePeer("peer-1")

	if _, ok := s1.Get("a"); ok {
		t.Error("expected store 1 to drop peer-1's key")
	}
	if _, ok := s2.Get("b"); ok {
		t.Error("expected store 2 to drop peer-1's key")
	}
}
