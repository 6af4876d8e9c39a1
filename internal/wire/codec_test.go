package wire

import (
	"testing"

	"github.com/driftsync/core/internal/clock"
	"github.com/driftsync/core/internal/model"
)

func roundTrip(t *testing.T, env Envelope) Envelope {
	t.Helper()
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded
}

func TestRoundTripEstablishRequest(t *testing.T) {
	env := &EstablishRequest{Identity: model.PeerIdentity{PeerID: "p1", Kind: model.PeerKindUser}}
	got, ok := roundTrip(t, env).(*EstablishRequest)
	if !ok {
		t.Fatalf("wrong type: %T", got)
	}
	if got.Identity != env.Identity {
		t.Errorf("identity mismatch: got %+v want %+v", got.Identity, env.Identity)
	}
}

func TestRoundTripSyncRequest(t *testing.T) {
	env := &SyncRequest{
		Docs: []SyncDocRequest{
			{DocID: "d1", RequesterDocVersion: clock.Vector{"a": 3}},
		},
		Bidirectional: true,
	}
	got, ok := roundTrip(t, env).(*SyncRequest)
	if !ok {
		t.Fatalf("wrong type: %T", got)
	}
	if !got.Bidirectional || len(got.Docs) != 1 || got.Docs[0].DocID != "d1" {
		t.Errorf("unexpected decode: %+v", got)
	}
	if clock.Compare(got.Docs[0].RequesterDocVersion, env.Docs[0].RequesterDocVersion) != clock.Equal {
		t.Errorf("version mismatch: %v vs %v", got.Docs[0].RequesterDocVersion, env.Docs[0].RequesterDocVersion)
	}
}

func TestRoundTripSyncResponseVariants(t *testing.T) {
	cases := []model.Transmission{
		{Kind: model.TransmissionUpToDate, Version: clock.Vector{"a": 1}},
		{Kind: model.TransmissionSnapshot, Version: clock.Vector{"a": 1}, Bytes: []byte{1, 2, 3, 0, 255}},
		{Kind: model.TransmissionUpdate, Version: clock.Vector{"a": 2}, Bytes: []byte("delta")},
		{Kind: model.TransmissionUnavailable},
	}
	for _, tr := range cases {
		env := &SyncResponse{DocID: "d1", Transmission: tr}
		got, ok := roundTrip(t, env).(*SyncResponse)
		if !ok {
			t.Fatalf("wrong type: %T", got)
		}
		if got.Transmission.Kind != tr.Kind {
			t.Errorf("kind mismatch: got %v want %v", got.Transmission.Kind, tr.Kind)
		}
		if string(got.Transmission.Bytes) != string(tr.Bytes) {
			t.Errorf("bytes mismatch: got %v want %v", got.Transmission.Bytes, tr.Bytes)
		}
	}
}

func TestRoundTripBatch(t *testing.T) {
	env := &Batch{Messages: []Envelope{
		&DirectoryRequest{},
		&NewDoc{DocIDs: []model.DocID{"d1", "d2"}},
		&DeleteResponse{DocID: "d1", Status: DeleteStatusDeleted},
	}}
	got, ok := roundTrip(t, env).(*Batch)
	if !ok {
		t.Fatalf("wrong type: %T", got)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got.Messages))
	}
	if _, ok := got.Messages[0].(*DirectoryRequest); !ok {
		t.Errorf("expected DirectoryRequest at index 0, got %T", got.Messages[0])
	}
	newDoc, ok := got.Messages[1].(*NewDoc)
	if !ok || len(newDoc.DocIDs) != 2 {
		t.Errorf("unexpected NewDoc decode: %+v", got.Messages[1])
	}
	del, ok := got.Messages[2].(*DeleteResponse)
	if !ok || del.Status != DeleteStatusDeleted {
		t.Errorf("unexpected DeleteResponse decode: %+v", got.Messages[2])
	}
}

func TestNestedBatchRejected(t *testing.T) {
	outer := &Batch{Messages: []Envelope{&Batch{Messages: []Envelope{&DirectoryRequest{}}}}}
	data, err := Encode(outer)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(data); err == nil {
		t.Error("expected nested batch to be rejected at decode time")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"channel/bogus","payload":{}}`)); err == nil {
		t.Error("expected error for unknown message type")
	}
}
