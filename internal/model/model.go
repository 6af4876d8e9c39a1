// Package model holds the shared data-model types of the synchronization
// core: peer identities, channel lifecycle states, awareness, and the sync
// transmission variants. Everything here is a plain value type so the
// synchronizer can treat its model as a snapshot-able struct (see
// internal/syncmachine) rather than a graph of pointers — channels and
// documents are referenced by id, never by pointer, per the arena-and-index
// design spec.md calls for.
package model

import (
	"time"

	"github.com/driftsync/core/internal/clock"
)

// DocID identifies a document across the whole mesh.
type DocID string

// ChannelID identifies a channel within this process. It is assigned by the
// adapter that creates the channel.
type ChannelID uint64

// PeerKind classifies a peer identity.
type PeerKind string

const (
	PeerKindUser    PeerKind = "user"
	PeerKindBot     PeerKind = "bot"
	PeerKindService PeerKind = "service"
)

// PeerIdentity is the handshake payload a peer asserts about itself. PeerID
// is assigned by the embedder and is stable across reconnection.
type PeerIdentity struct {
	PeerID string   `json:"peerId"`
	Name   string   `json:"name,omitempty"`
	Kind   PeerKind `json:"type"`
}

// ChannelKind classifies the transport a channel rides on.
type ChannelKind string

const (
	ChannelKindNetwork ChannelKind = "network"
	ChannelKindStorage ChannelKind = "storage"
	ChannelKindOther   ChannelKind = "other"
)

// ChannelLifecycle is the three-state progression every channel moves
// through, monotonically: Generated -> Connected -> Established.
type ChannelLifecycle int

const (
	ChannelGenerated ChannelLifecycle = iota
	ChannelConnected
	ChannelEstablished
)

func (s ChannelLifecycle) String() string {
	switch s {
	case ChannelGenerated:
		return "generated"
	case ChannelConnected:
		return "connected"
	case ChannelEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// ChannelInfo is the synchronizer's view of one channel: enough to route
// messages and report ready-state without touching the adapter directly.
type ChannelInfo struct {
	ChannelID ChannelID
	AdapterID string
	Kind      ChannelKind
	Lifecycle ChannelLifecycle
	// PeerID is known only once Lifecycle == ChannelEstablished.
	PeerID string
}

// AwarenessState tags the four variants of what a synchronizer believes a
// remote peer holds for a document.
type AwarenessState int

const (
	AwarenessUnknown AwarenessState = iota
	AwarenessAbsent
	AwarenessPending
	AwarenessSynced
)

// Awareness is the cached belief a synchronizer holds about whether a peer
// has a document, and at what version. Version is nil for the "has the
// document but no version was ever reported" case spec.md's Open Questions
// section calls out; non-nil whenever a concrete version was asserted.
type Awareness struct {
	State   AwarenessState
	Version clock.Vector
}

// Dominates reports whether candidate should replace current as the cached
// awareness for a peer: Synced{v} may only be replaced by Synced{v'} when
// v' strictly dominates v, matching spec.md §3 invariant 4's
// "monotone-ish" rule. Any other state transition is always allowed.
func (current Awareness) Dominates(candidate Awareness) bool {
	if current.State != AwarenessSynced || candidate.State != AwarenessSynced {
		return true
	}
	if current.Version == nil {
		return true
	}
	if candidate.Version == nil {
		return false
	}
	return clock.Compare(candidate.Version, current.Version) == clock.After
}

// TransmissionKind tags the four SyncTransmission variants.
type TransmissionKind int

const (
	TransmissionUpToDate TransmissionKind = iota
	TransmissionSnapshot
	TransmissionUpdate
	TransmissionUnavailable
)

func (k TransmissionKind) String() string {
	switch k {
	case TransmissionUpToDate:
		return "up-to-date"
	case TransmissionSnapshot:
		return "snapshot"
	case TransmissionUpdate:
		return "update"
	case TransmissionUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Transmission carries the payload of a sync-response/update message.
type Transmission struct {
	Kind    TransmissionKind
	Version clock.Vector
	// Bytes holds the CRDT export for Snapshot and the CRDT delta for
	// Update. Unused for UpToDate and Unavailable.
	Bytes []byte
}

// ReadyStatus summarizes a channel's contribution to a document's
// readiness for observers.
type ReadyStatus string

const (
	ReadyAware  ReadyStatus = "aware"
	ReadySynced ReadyStatus = "synced"
	ReadyAbsent ReadyStatus = "absent"
)

// ChannelReadyState is one channel's status row inside a ReadyState.
type ChannelReadyState struct {
	ChannelID ChannelID
	Kind      ChannelKind
	Status    ReadyStatus
}

// ReadyState is the external-facing snapshot emitted to Handle observers
// whenever a document's sync status with some peer changes.
type ReadyState struct {
	DocID    DocID
	Identity PeerIdentity
	Channels []ChannelReadyState
	Status   ReadyStatus
}

// NetworkRequest is a queued network sync-request waiting on storage-first
// admission to resolve (spec.md §4.3 "Sync", step 2).
type NetworkRequest struct {
	ChannelID        ChannelID
	RequesterVersion clock.Vector
	Bidirectional    bool
	QueuedAt         time.Time
}

// DocEntry is the synchronizer's per-document bookkeeping.
type DocEntry struct {
	DocID                 DocID
	Exists                bool
	PendingStorageChannels map[ChannelID]struct{}
	PendingNetworkRequests []NetworkRequest
}

// HasPendingStorage reports whether this document is still waiting on any
// storage channel, i.e. is storage-first-admission suspended.
func (d *DocEntry) HasPendingStorage() bool {
	return d != nil && len(d.PendingStorageChannels) > 0
}

// PeerState is per-peer bookkeeping that survives channel removal, enabling
// delta reconnection.
type PeerState struct {
	Identity          PeerIdentity
	DocumentAwareness map[DocID]Awareness
	Subscriptions     map[DocID]struct{}
	LastSeen          time.Time
	Channels          map[ChannelID]struct{}
}

// NewPeerState returns an empty, initialized PeerState for identity.
func NewPeerState(identity PeerIdentity) *PeerState {
	return &PeerState{
		Identity:          identity,
		DocumentAwareness: make(map[DocID]Awareness),
		Subscriptions:     make(map[DocID]struct{}),
		Channels:          make(map[ChannelID]struct{}),
	}
}

// IsSubscribed reports whether docID is in this peer's subscription set.
func (p *PeerState) IsSubscribed(docID DocID) bool {
	if p == nil {
		return false
	}
	_, ok := p.Subscriptions[docID]
	return ok
}
