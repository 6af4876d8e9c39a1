package syncmachine

import (
	"encoding/json"
	"sort"

	"github.com/driftsync/core/internal/clock"
	"github.com/driftsync/core/internal/model"
)

// op is one causally-ordered append from a single peer; a minimal
// op-based CRDT good enough to exercise the reducer's export/import/delta
// contract in tests without pulling in a real CRDT library.
type op struct {
	PeerID string `json:"peerId"`
	Seq    uint64 `json:"seq"`
	Text   string `json:"text"`
}

type fakeDoc struct {
	ops []op
}

func (d *fakeDoc) version() clock.Vector {
	v := clock.New()
	for _, o := range d.ops {
		if o.Seq > v[o.PeerID] {
			v[o.PeerID] = o.Seq
		}
	}
	return v
}

func (d *fakeDoc) value() string {
	sorted := append([]op(nil), d.ops...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PeerID != sorted[j].PeerID {
			return sorted[i].PeerID < sorted[j].PeerID
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	out := ""
	for _, o := range sorted {
		out += o.Text
	}
	return out
}

func (d *fakeDoc) merge(incoming []op) {
	have := make(map[string]struct{}, len(d.ops))
	for _, o := range d.ops {
		have[o.PeerID+"/"+itoa(o.Seq)] = struct{}{}
	}
	for _, o := range incoming {
		key := o.PeerID + "/" + itoa(o.Seq)
		if _, ok := have[key]; ok {
			continue
		}
		d.ops = append(d.ops, o)
		have[key] = struct{}{}
	}
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// fakeCRDT is a test double for CRDTProvider: each append call on a peer's
// local handle adds one op; sync exchanges full op lists or deltas by seq.
type fakeCRDT struct {
	docs map[model.DocID]*fakeDoc
	self string
	seq  uint64
}

func newFakeCRDT(self string) *fakeCRDT {
	return &fakeCRDT{docs: make(map[model.DocID]*fakeDoc), self: self}
}

func (f *fakeCRDT) Ensure(docID model.DocID) bool {
	if _, ok := f.docs[docID]; ok {
		return false
	}
	f.docs[docID] = &fakeDoc{}
	return true
}

func (f *fakeCRDT) Exists(docID model.DocID) bool {
	_, ok := f.docs[docID]
	return ok
}

func (f *fakeCRDT) Delete(docID model.DocID) { delete(f.docs, docID) }

func (f *fakeCRDT) Version(docID model.DocID) clock.Vector {
	d, ok := f.docs[docID]
	if !ok {
		return clock.New()
	}
	return d.version()
}

func (f *fakeCRDT) Export(docID model.DocID) []byte {
	d := f.docs[docID]
	data, _ := json.Marshal(d.ops)
	return data
}

func (f *fakeCRDT) Delta(docID model.DocID, from clock.Vector) []byte {
	d := f.docs[docID]
	var out []op
	for _, o := range d.ops {
		if o.Seq > from[o.PeerID] {
			out = append(out, o)
		}
	}
	data, _ := json.Marshal(out)
	return data
}

func (f *fakeCRDT) Import(docID model.DocID, bytes []byte) (clock.Vector, error) {
	d, ok := f.docs[docID]
	if !ok {
		d = &fakeDoc{}
		f.docs[docID] = d
	}
	var incoming []op
	if len(bytes) > 0 {
		if err := json.Unmarshal(bytes, &incoming); err != nil {
			return nil, err
		}
	}
	d.merge(incoming)
	return d.version(), nil
}

// Append is the test-only local-mutation entry point: it appends text as a
// new op from f.self, mimicking what a
// real CRDT library's typed change() API would do before the runtime
// dispatches DocChange back into the reducer.
func (f *fakeCRDT) Append(docID model.DocID, text string) {
	f.seq++
	d := f.docs[docID]
	d.ops = append(d.ops, op{PeerID: f.self, Seq: f.seq, Text: text})
}

func (f *fakeCRDT) Value(docID model.DocID) string {
	d, ok := f.docs[docID]
	if !ok {
		return ""
	}
	return d.value()
}
