package repo

import (
	"errors"
	"reflect"

	"github.com/driftsync/core/internal/model"
)

// MutableDoc is implemented by a CRDT library's per-document handle,
// giving Handle.Change a way to run a mutator against the live document
// (spec.md §4.5 "doc — typed view ... with change(mutator); backed by the
// shared CRDT instance").
type MutableDoc interface {
	Change(mutator func())
}

// DocStore resolves a docID to its live MutableDoc. Embedders whose
// CRDTProvider doesn't expose per-document mutation (test fakes, plain
// import/export-only adapters) can leave this nil; Change then returns
// ErrNoMutableDoc instead of panicking, since an absent DocStore is a
// configuration choice, not a programmer error.
type DocStore interface {
	Doc(docID model.DocID) (MutableDoc, bool)
}

// PathResolver is implemented by a CRDT library's per-document handle that
// can extract the value living at a path or selector, letting the
// path-scoped subscribe overloads compare old and new values instead of
// firing on every change (spec.md §4.5's two-stage filtering).
type PathResolver interface {
	Resolve(path string) (any, bool)
}

// ErrNoMutableDoc is returned by Change when the Repo was built without a
// DocStore, or the DocStore has no entry for this Handle's document.
var ErrNoMutableDoc = errors.New("repo: no mutable document bound to this handle")

// Handle is the per-document façade spec.md §4.5 describes: a typed view
// over one document, backed by the shared CRDT instance and the runtime
// underneath it.
type Handle struct {
	repo  *Repo
	docID model.DocID
}

// DocID returns the document this handle is bound to.
func (h *Handle) DocID() model.DocID { return h.docID }

// Change runs mutator against the live CRDT document and reports the
// mutation to the runtime so it propagates to peers and local observers
// (spec.md §4.5 "doc ... with change(mutator)").
func (h *Handle) Change(mutator func()) error {
	if h.repo.docs == nil {
		return ErrNoMutableDoc
	}
	doc, ok := h.repo.docs.Doc(h.docID)
	if !ok {
		return ErrNoMutableDoc
	}
	doc.Change(mutator)
	h.repo.rt.ChangeDoc(h.docID)
	return nil
}

// Subscribe registers listener to run on every change to this document,
// local or remote (spec.md §4.5 "subscribe(listener) — all changes").
// Remote changes are reported only when the CRDTProvider implements
// runtime.DocSubscriber (see runtime.OnDocChange).
func (h *Handle) Subscribe(listener func()) func() {
	return h.repo.rt.OnDocChange(h.docID, listener)
}

// SubscribeSelector scopes listener to changes at path, implementing the
// two-stage filtering spec.md §4.5 describes: when the bound document
// supports PathResolver, the path's value is resolved before and after
// each change and the listener only fires if it differs by deep equality,
// suppressing the false positives a coarse change notification would
// otherwise produce for an unrelated mutation. Without a PathResolver this
// degrades gracefully to firing on every change, passing the last known
// value as old.
func (h *Handle) SubscribeSelector(path string, listener func(old, new any)) func() {
	last, haveLast := h.resolvePath(path)
	return h.repo.rt.OnDocChange(h.docID, func() {
		current, present := h.resolvePath(path)
		if !present {
			current = nil
		}
		if haveLast && reflect.DeepEqual(last, current) {
			return
		}
		old := last
		last, haveLast = current, present
		listener(old, current)
	})
}

// SubscribeJSONPath is the untyped escape hatch: listener receives the
// full set of matches for jsonpath whenever they change, using the same
// two-stage filtering as SubscribeSelector.
func (h *Handle) SubscribeJSONPath(jsonpath string, listener func(matches []any)) func() {
	return h.SubscribeSelector(jsonpath, func(_, newValue any) {
		switch v := newValue.(type) {
		case nil:
			listener(nil)
		case []any:
			listener(v)
		default:
			listener([]any{v})
		}
	})
}

func (h *Handle) resolvePath(path string) (any, bool) {
	if h.repo.docs == nil {
		return nil, false
	}
	doc, ok := h.repo.docs.Doc(h.docID)
	if !ok {
		return nil, false
	}
	resolver, ok := doc.(PathResolver)
	if !ok {
		return nil, false
	}
	return resolver.Resolve(path)
}

// ReadyStates returns this document's current ready-state snapshot.
func (h *Handle) ReadyStates() model.ReadyState {
	return h.repo.rt.ReadyState(h.docID)
}

// OnReadyStateChange registers cb to run whenever this handle's document's
// ready-state changes.
func (h *Handle) OnReadyStateChange(cb func(model.ReadyState)) func() {
	return h.repo.rt.OnReadyStateChange(func(state model.ReadyState) {
		if state.DocID == h.docID {
			cb(state)
		}
	})
}
