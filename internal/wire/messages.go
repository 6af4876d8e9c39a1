// Package wire defines the protocol envelopes exchanged between peers and
// their JSON framing (spec.md §4.2, §6). Every message has a `channel/`
// prefixed type discriminator; decode(encode(m)) == m modulo structural
// equality of version vectors and byte equality of binary payloads.
package wire

import (
	"encoding/json"

	"github.com/driftsync/core/internal/clock"
	"github.com/driftsync/core/internal/model"
)

// Kind is the `type` discriminator carried by every envelope.
type Kind string

const (
	KindEstablishRequest  Kind = "channel/establish-request"
	KindEstablishResponse Kind = "channel/establish-response"
	KindSyncRequest       Kind = "channel/sync-request"
	KindSyncResponse      Kind = "channel/sync-response"
	KindUpdate            Kind = "channel/update"
	KindDirectoryRequest  Kind = "channel/directory-request"
	KindDirectoryResponse Kind = "channel/directory-response"
	KindNewDoc            Kind = "channel/new-doc"
	KindDeleteRequest     Kind = "channel/delete-request"
	KindDeleteResponse    Kind = "channel/delete-response"
	KindEphemeral         Kind = "channel/ephemeral"
	KindBatch             Kind = "channel/batch"
)

// Envelope is implemented by every protocol message.
type Envelope interface {
	Kind() Kind
}

// EphemeralPayload is the gossip unit ephemeral stores exchange, also
// embeddable inside sync-request/sync-response to piggy-back a snapshot of
// the sender's own ephemeral state for a document.
type EphemeralPayload struct {
	PeerID    string `json:"peerId"`
	Data      []byte `json:"data"`
	Namespace string `json:"namespace"`
}

// DeleteStatus is the outcome reported by a delete-response.
type DeleteStatus string

const (
	DeleteStatusDeleted DeleteStatus = "deleted"
	DeleteStatusIgnored DeleteStatus = "ignored"
)

// EstablishRequest opens the handshake, asserting the sender's identity.
type EstablishRequest struct {
	Identity model.PeerIdentity `json:"identity"`
}

func (EstablishRequest) Kind() Kind { return KindEstablishRequest }

// EstablishResponse completes the handshake, asserting the responder's
// identity.
type EstablishResponse struct {
	Identity model.PeerIdentity `json:"identity"`
}

func (EstablishResponse) Kind() Kind { return KindEstablishResponse }

// SyncDocRequest is one document entry inside a SyncRequest's Docs list.
type SyncDocRequest struct {
	DocID               model.DocID       `json:"docId"`
	RequesterDocVersion clock.Vector      `json:"requesterDocVersion"`
	Ephemeral           *EphemeralPayload `json:"ephemeral,omitempty"`
}

// SyncRequest asks the receiver to bring the sender up to date on one or
// more documents. Bidirectional requests additionally ask the receiver to
// reciprocate with its own non-bidirectional sync-request.
type SyncRequest struct {
	Docs          []SyncDocRequest `json:"docs"`
	Bidirectional bool             `json:"bidirectional"`
}

func (SyncRequest) Kind() Kind { return KindSyncRequest }

// SyncResponse answers a SyncRequest for a single document, optionally
// carrying ephemeral state gossip for the same document.
type SyncResponse struct {
	DocID        model.DocID        `json:"docId"`
	Transmission model.Transmission `json:"transmission"`
	Ephemeral    []EphemeralPayload `json:"ephemeral,omitempty"`
}

func (SyncResponse) Kind() Kind { return KindSyncResponse }

// Update is an unsolicited transmission pushed to a subscribed peer after a
// local document change.
type Update struct {
	DocID        model.DocID        `json:"docId"`
	Transmission model.Transmission `json:"transmission"`
}

func (Update) Kind() Kind { return KindUpdate }

// DirectoryRequest asks a peer which documents it holds. A nil/empty DocIDs
// asks for everything the responder is willing to reveal.
type DirectoryRequest struct {
	DocIDs []model.DocID `json:"docIds,omitempty"`
}

func (DirectoryRequest) Kind() Kind { return KindDirectoryRequest }

// DirectoryResponse lists the documents visible to the requester.
type DirectoryResponse struct {
	DocIDs []model.DocID `json:"docIds"`
}

func (DirectoryResponse) Kind() Kind { return KindDirectoryResponse }

// NewDoc announces newly created documents to channels that pass
// visibility.
type NewDoc struct {
	DocIDs []model.DocID `json:"docIds"`
}

func (NewDoc) Kind() Kind { return KindNewDoc }

// DeleteRequest asks the receiver to delete doc, subject to the Deletion
// rule.
type DeleteRequest struct {
	DocID model.DocID `json:"docId"`
}

func (DeleteRequest) Kind() Kind { return KindDeleteRequest }

// DeleteResponse reports whether a DeleteRequest was honored.
type DeleteResponse struct {
	DocID  model.DocID  `json:"docId"`
	Status DeleteStatus `json:"status"`
}

func (DeleteResponse) Kind() Kind { return KindDeleteResponse }

// Ephemeral carries ephemeral-store gossip with a hop budget: hubs relay
// exactly one hop further and then stop, preventing broadcast storms.
type Ephemeral struct {
	DocID         model.DocID        `json:"docId"`
	HopsRemaining int                `json:"hopsRemaining"`
	Stores        []EphemeralPayload `json:"stores"`
}

func (Ephemeral) Kind() Kind { return KindEphemeral }

// Batch carries an ordered list of non-batch messages, processed
// atomically by the synchronizer (spec.md §5).
type Batch struct {
	Messages []Envelope `json:"messages"`
}

func (Batch) Kind() Kind { return KindBatch }

// MarshalJSON re-encodes each message as its own full wire frame so a
// decoder can recover its concrete type, since a bare json.Marshal of an
// []Envelope would lose the type discriminator each element needs.
func (b Batch) MarshalJSON() ([]byte, error) {
	type wire struct {
		Messages []json.RawMessage `json:"messages"`
	}
	w := wire{Messages: make([]json.RawMessage, 0, len(b.Messages))}
	for _, m := range b.Messages {
		framed, err := Encode(m)
		if err != nil {
			return nil, err
		}
		w.Messages = append(w.Messages, framed)
	}
	return json.Marshal(w)
}
