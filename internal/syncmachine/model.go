package syncmachine

import (
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/obslog"
	"github.com/driftsync/core/internal/obsmetrics"
	"github.com/driftsync/core/internal/rules"
)

// channelState is the reducer's own view of a channel — deliberately
// separate from internal/channel's Channel, which the runtime owns. The
// arena-and-index design (spec.md §9) keeps the reducer's model free of
// pointers into transport objects: channels are referenced by id only.
type channelState struct {
	info        model.ChannelInfo
	peerID      string
	subscribed  map[model.DocID]struct{}
}

// Model is the synchronizer's complete state. It is a plain mutable
// struct (spec.md §9 design note (a)): the reducer mutates it in place and
// returns the Command(s) that follow, rather than threading an immutable
// copy through every call.
type Model struct {
	Self  model.PeerIdentity
	Rules rules.Set
	CRDT  CRDTProvider

	// Metrics is nil-safe and optional: the runtime assigns it after
	// constructing a Model so the reducer itself — not just the runtime
	// wrapping Dispatch — reports permission denials and sync-response
	// mix, matching the corpus's own promauto-everywhere instrumentation
	// style rather than leaving the reducer a metrics blind spot.
	Metrics *obsmetrics.Metrics

	docs     map[model.DocID]*model.DocEntry
	channels map[model.ChannelID]*channelState
	peers    map[string]*model.PeerState

	logger *obslog.Logger
}

// New returns a Model ready to accept messages. rules are defaulted per
// rules.Defaulted if any predicate is nil.
func New(self model.PeerIdentity, ruleSet rules.Set, crdt CRDTProvider, logger *obslog.Logger) *Model {
	if logger == nil {
		logger = obslog.Nop()
	}
	return &Model{
		Self:     self,
		Rules:    rules.Defaulted(ruleSet),
		CRDT:     crdt,
		docs:     make(map[model.DocID]*model.DocEntry),
		channels: make(map[model.ChannelID]*channelState),
		peers:    make(map[string]*model.PeerState),
		logger:   logger,
	}
}

func (m *Model) countPermissionDenial(rule string) {
	if m.Metrics != nil {
		m.Metrics.PermissionDenials.WithLabelValues(rule).Inc()
	}
}

func (m *Model) countSyncResponse(kind model.TransmissionKind) {
	if m.Metrics != nil {
		m.Metrics.SyncResponsesByKind.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Model) docEntry(docID model.DocID) *model.DocEntry {
	d, ok := m.docs[docID]
	if !ok {
		d = &model.DocEntry{
			DocID:                  docID,
			PendingStorageChannels: make(map[model.ChannelID]struct{}),
		}
		m.docs[docID] = d
	}
	return d
}

func (m *Model) peerState(identity model.PeerIdentity) *model.PeerState {
	p, ok := m.peers[identity.PeerID]
	if !ok {
		p = model.NewPeerState(identity)
		m.peers[identity.PeerID] = p
	}
	return p
}

// knownPeer reports whether we have ever held state for peerID before now
// (survives channel removal), the "known vs new peer" test the handshake
// uses to decide full sync vs delta reconnection.
func (m *Model) knownPeer(peerID string) (*model.PeerState, bool) {
	p, ok := m.peers[peerID]
	return p, ok
}

// ReadyState computes the current external-facing ready state for docID
// against every established channel.
func (m *Model) ReadyState(docID model.DocID) model.ReadyState {
	entry := m.docs[docID]
	rows := make([]model.ChannelReadyState, 0, len(m.channels))
	overall := model.ReadyAbsent
	for id, cs := range m.channels {
		if cs.info.Lifecycle != model.ChannelEstablished {
			continue
		}
		status := model.ReadyAware
		if p, ok := m.peers[cs.peerID]; ok {
			if aw, ok := p.DocumentAwareness[docID]; ok {
				switch aw.State {
				case model.AwarenessSynced:
					status = model.ReadySynced
				case model.AwarenessAbsent:
					status = model.ReadyAbsent
				case model.AwarenessPending:
					status = model.ReadyAware
				}
			}
		}
		rows = append(rows, model.ChannelReadyState{ChannelID: id, Kind: cs.info.Kind, Status: status})
		if status == model.ReadySynced {
			overall = model.ReadySynced
		} else if status == model.ReadyAware && overall != model.ReadySynced {
			overall = model.ReadyAware
		}
	}
	_ = entry
	return model.ReadyState{DocID: docID, Channels: rows, Status: overall}
}
