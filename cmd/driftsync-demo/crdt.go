package main

import (
	"encoding/json"
	"sync"

	"github.com/driftsync/core/internal/clock"
	"github.com/driftsync/core/internal/model"
)

// textDoc is one document's state: a per-peer append-only fragment plus the
// version vector counting how many fragments that peer has contributed.
// Merging two textDocs is a union over peer fragments, elementwise-max over
// their version vectors — any CRDT's convergence property in miniature,
// without needing a real op-based or state-based library to demonstrate the
// wiring a CRDTProvider sits behind (spec.md §1 keeps the CRDT library
// itself out of scope; this is the smallest thing that satisfies the
// interface and actually converges).
type textDoc struct {
	Fragments map[string]string `json:"fragments"`
	Version   clock.Vector      `json:"version"`
}

func newTextDoc() *textDoc {
	return &textDoc{Fragments: make(map[string]string), Version: clock.New()}
}

// Value renders the document deterministically by concatenating every
// peer's fragment in peer-id order.
func (d *textDoc) Value() string {
	var out string
	for _, id := range sortedKeys(d.Fragments) {
		out += d.Fragments[id]
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func (d *textDoc) merge(other *textDoc) {
	for peer, fragment := range other.Fragments {
		d.Fragments[peer] = fragment
	}
	for peer, count := range other.Version {
		if count > d.Version[peer] {
			d.Version[peer] = count
		}
	}
}

// demoCRDT is a process-local, in-memory CRDTProvider backing the demo's
// two peers. It is not thread-safe across processes — only across the
// goroutines within one demo binary — which is sufficient here since each
// peer owns its own instance. It also implements runtime.DocSubscriber: a
// real CRDT library's native change feed fires for a transaction caused by
// either a local edit or an applied remote update, so Import notifies
// subscribers exactly like Append does.
type demoCRDT struct {
	self model.PeerIdentity

	mu   sync.Mutex
	docs map[model.DocID]*textDoc

	subsMu sync.Mutex
	subs   map[model.DocID]map[int]func()
	nextID int
}

func newDemoCRDT(self model.PeerIdentity) *demoCRDT {
	return &demoCRDT{
		self: self,
		docs: make(map[model.DocID]*textDoc),
		subs: make(map[model.DocID]map[int]func()),
	}
}

// SubscribeDoc implements runtime.DocSubscriber.
func (c *demoCRDT) SubscribeDoc(docID model.DocID, onChange func()) func() {
	c.subsMu.Lock()
	byID, ok := c.subs[docID]
	if !ok {
		byID = make(map[int]func())
		c.subs[docID] = byID
	}
	id := c.nextID
	c.nextID++
	byID[id] = onChange
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs[docID], id)
	}
}

// notify fires docID's registered subscribers on their own goroutine.
// Import runs synchronously inside the runtime's locked dispatch of
// sync-response/update messages (syncmachine.Update holds the runtime's
// mutex while calling into the CRDTProvider); calling the subscriber
// callback from a separate goroutine, rather than inline, avoids
// re-entering that same mutex from the goroutine that already holds it.
func (c *demoCRDT) notify(docID model.DocID) {
	c.subsMu.Lock()
	callbacks := make([]func(), 0, len(c.subs[docID]))
	for _, cb := range c.subs[docID] {
		callbacks = append(callbacks, cb)
	}
	c.subsMu.Unlock()
	for _, cb := range callbacks {
		go cb()
	}
}

func (c *demoCRDT) Ensure(docID model.DocID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[docID]; ok {
		return false
	}
	c.docs[docID] = newTextDoc()
	return true
}

func (c *demoCRDT) Exists(docID model.DocID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.docs[docID]
	return ok
}

func (c *demoCRDT) Delete(docID model.DocID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, docID)
}

func (c *demoCRDT) Version(docID model.DocID) clock.Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[docID]
	if !ok {
		return clock.New()
	}
	return clock.Clone(doc.Version)
}

func (c *demoCRDT) Export(docID model.DocID) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[docID]
	if !ok {
		return nil
	}
	data, _ := json.Marshal(doc)
	return data
}

// Delta ignores from and returns the full document: a demo-scale CRDT with
// two fragments has nothing worth computing a partial delta over.
func (c *demoCRDT) Delta(docID model.DocID, from clock.Vector) []byte {
	return c.Export(docID)
}

func (c *demoCRDT) Import(docID model.DocID, bytes []byte) (clock.Vector, error) {
	var incoming textDoc
	if len(bytes) > 0 {
		if err := json.Unmarshal(bytes, &incoming); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	doc, ok := c.docs[docID]
	if !ok {
		doc = newTextDoc()
		c.docs[docID] = doc
	}
	doc.merge(&incoming)
	version := clock.Clone(doc.Version)
	c.mu.Unlock()

	c.notify(docID)
	return version, nil
}

// Append adds text as self's own fragment, the local-authorship operation
// the demo drives through Runtime.ChangeDoc.
func (c *demoCRDT) Append(docID model.DocID, text string) {
	c.mu.Lock()
	doc, ok := c.docs[docID]
	if !ok {
		doc = newTextDoc()
		c.docs[docID] = doc
	}
	doc.Fragments[c.self.PeerID] += text
	doc.Version[c.self.PeerID]++
	c.mu.Unlock()

	c.notify(docID)
}

// Value returns docID's current converged text, for printing.
func (c *demoCRDT) Value(docID model.DocID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[docID]
	if !ok {
		return ""
	}
	return doc.Value()
}
