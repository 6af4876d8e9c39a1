// Package syncmachine is the pure reducer at the center of the core:
// update(message, model) -> (model', Command) (spec.md §4.3). It is
// grounded in shape on the teacher's internal/network connection manager
// (a long-lived object mutated in place by discrete inbound events) but
// the control flow itself — handshake, delta reconnection, storage-first
// admission, discovery, deletion — is new: it has no teacher analogue and
// is built directly from spec.md's algorithm descriptions.
package syncmachine

import (
	"time"

	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/wire"
)

// Message is any input the reducer accepts. Lifecycle messages originate
// from the adapter/runtime layer or the local CRDT/ephemeral subscriptions;
// protocol messages arrive wrapped from a specific channel.
type Message interface{ message() }

type marker struct{}

func (marker) message() {}

// ChannelAdded registers a freshly created channel (state: generated).
type ChannelAdded struct {
	marker
	ChannelID model.ChannelID
	AdapterID string
	Kind      model.ChannelKind
}

// EstablishChannel signals that channelID's transport is ready to begin
// the handshake (state: generated -> connected), and should send the first
// establish-request.
type EstablishChannel struct {
	marker
	ChannelID model.ChannelID
}

// ChannelRemoved signals a channel is gone. Peer state survives; pending
// network requests on that channel are cancelled (spec.md §5
// "Cancellation").
type ChannelRemoved struct {
	marker
	ChannelID model.ChannelID
}

// DocEnsure requests that docID exist locally, e.g. because the embedder
// asked for it directly.
type DocEnsure struct {
	marker
	DocID model.DocID
}

// DocChange is fed back after a local CRDT mutation (via the runtime's
// subscription to the CRDT library), driving propagation to peers.
type DocChange struct {
	marker
	DocID model.DocID
}

// DocDelete requests that docID be deleted locally and its deletion
// broadcast to subscribed peers.
type DocDelete struct {
	marker
	DocID model.DocID
}

// EphemeralLocalChange is fed back after a local ephemeral Set/Delete,
// driving gossip to established, subscribed channels.
type EphemeralLocalChange struct {
	marker
	DocID     model.DocID
	Namespace string
	Key       string
	Value     []byte
	Present   bool
}

// Heartbeat triggers a full-state ephemeral rebroadcast to every
// established, subscribed channel with no further relay.
type Heartbeat struct{ marker }

// ChannelReceive wraps a decoded protocol Envelope with the channel it
// arrived on.
type ChannelReceive struct {
	marker
	ChannelID model.ChannelID
	Envelope  wire.Envelope
}

// now is overridable in tests; production code always uses time.Now. The
// reducer never calls time.Now for decisions, only to stamp QueuedAt.
var now = time.Now
