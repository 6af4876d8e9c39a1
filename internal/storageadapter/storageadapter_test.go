package storageadapter

import (
	"context"
	"testing"
	"time"

	"github.com/driftsync/core/internal/clock"
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/rules"
	"github.com/driftsync/core/internal/runtime"
	"github.com/driftsync/core/internal/wire"
)

func TestPutGetRoundTrip(t *testing.T) {
	b, err := New(t.TempDir(), model.PeerIdentity{PeerID: "storage:1"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, _, ok, err := b.Get("d1"); err != nil || ok {
		t.Fatalf("Get before Put = ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	v := clock.Vector{"a": 3}
	if err := b.Put("d1", v, []byte("snapshot-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	gotV, gotBytes, ok, err := b.Get("d1")
	if err != nil || !ok {
		t.Fatalf("Get after Put = ok=%v err=%v", ok, err)
	}
	if string(gotBytes) != "snapshot-bytes" || gotV["a"] != 3 {
		t.Fatalf("Get = %v %q, want {a:3} \"snapshot-bytes\"", gotV, gotBytes)
	}
}

func TestRespondOneUnavailable(t *testing.T) {
	b, err := New(t.TempDir(), model.PeerIdentity{PeerID: "storage:1"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp := b.respondOne(wire.SyncDocRequest{DocID: "missing", RequesterDocVersion: clock.New()})
	if resp.Transmission.Kind != model.TransmissionUnavailable {
		t.Fatalf("Transmission.Kind = %v, want Unavailable", resp.Transmission.Kind)
	}
}

func TestRespondOneSnapshotAndUpToDate(t *testing.T) {
	b, err := New(t.TempDir(), model.PeerIdentity{PeerID: "storage:1"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Put("d1", clock.Vector{"a": 5}, []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	snap := b.respondOne(wire.SyncDocRequest{DocID: "d1", RequesterDocVersion: clock.New()})
	if snap.Transmission.Kind != model.TransmissionSnapshot || string(snap.Transmission.Bytes) != "payload" {
		t.Fatalf("Transmission = %+v, want Snapshot carrying \"payload\"", snap.Transmission)
	}

	upToDate := b.respondOne(wire.SyncDocRequest{DocID: "d1", RequesterDocVersion: clock.Vector{"a": 10}})
	if upToDate.Transmission.Kind != model.TransmissionUpToDate {
		t.Fatalf("Transmission.Kind = %v, want UpToDate", upToDate.Transmission.Kind)
	}
}

// fakeCRDT is a trivial CRDTProvider sufficient to exercise Attach's
// establish handshake over a real Runtime; it never holds real document
// content since this test only cares about channel lifecycle.
type fakeCRDT struct{}

func (fakeCRDT) Ensure(model.DocID) bool                         { return true }
func (fakeCRDT) Exists(model.DocID) bool                         { return false }
func (fakeCRDT) Delete(model.DocID)                               {}
func (fakeCRDT) Version(model.DocID) clock.Vector                 { return clock.New() }
func (fakeCRDT) Export(model.DocID) []byte                        { return nil }
func (fakeCRDT) Delta(model.DocID, clock.Vector) []byte           { return nil }
func (fakeCRDT) Import(model.DocID, []byte) (clock.Vector, error) { return clock.New(), nil }

func TestAttachEstablishesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := runtime.New(model.PeerIdentity{PeerID: "runtime-1"}, rules.Defaulted(rules.Set{}), fakeCRDT{}, nil, nil)
	rt.Start(ctx)
	defer rt.Stop()

	b, err := New(t.TempDir(), model.PeerIdentity{PeerID: "storage:1"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.Attach(rt); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.Channel().Lifecycle() == model.ChannelEstablished {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel never reached Established, stuck at %v", b.Channel().Lifecycle())
}
