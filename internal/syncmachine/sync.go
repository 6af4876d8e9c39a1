package syncmachine

import (
	"github.com/driftsync/core/internal/clock"
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/rules"
	"github.com/driftsync/core/internal/wire"
)

// onSyncRequest implements spec.md §4.3 "Sync" steps 1-5.
func (m *Model) onSyncRequest(channelID model.ChannelID, cs *channelState, req *wire.SyncRequest) Command {
	var cmds []Command
	for _, docReq := range req.Docs {
		if c := m.handleOneSyncDoc(channelID, cs, docReq, req.Bidirectional); c != nil {
			cmds = append(cmds, c)
		}
	}
	return batch(cmds...)
}

func (m *Model) handleOneSyncDoc(channelID model.ChannelID, cs *channelState, docReq wire.SyncDocRequest, bidirectional bool) Command {
	docID := docReq.DocID
	peerID := cs.peerID

	// Step 1: mark peer awareness pending and subscribe unconditionally.
	p := m.peerState(m.peerContext(peerID).Identity)
	p.DocumentAwareness[docID] = model.Awareness{State: model.AwarenessPending}
	p.Subscriptions[docID] = struct{}{}
	cs.subscribed[docID] = struct{}{}

	entry := m.docEntry(docID)

	// Step 2: admission of a document we don't hold.
	if !m.CRDT.Exists(docID) {
		storageChannels := m.storageChannelIDs()
		if cs.info.Kind == model.ChannelKindNetwork && len(storageChannels) > 0 {
			entry.Exists = false
			for _, sc := range storageChannels {
				entry.PendingStorageChannels[sc] = struct{}{}
			}
			entry.PendingNetworkRequests = append(entry.PendingNetworkRequests, model.NetworkRequest{
				ChannelID:        channelID,
				RequesterVersion: docReq.RequesterDocVersion,
				Bidirectional:    bidirectional,
				QueuedAt:         now(),
			})
			var cmds []Command
			for sc := range entry.PendingStorageChannels {
				cmds = append(cmds, SendMessage{
					ChannelID: sc,
					Envelope: &wire.SyncRequest{
						Docs:          []wire.SyncDocRequest{{DocID: docID, RequesterDocVersion: clock.New()}},
						Bidirectional: false,
					},
				})
			}
			return batch(cmds...)
		}
		if !m.Rules.Creation(rules.DocContext{DocID: docID, Exists: false}, m.peerContext(peerID)) {
			m.logger.Sugar().Warnw("creation denied", "doc_id", string(docID), "peer_id", peerID)
			m.countPermissionDenial("creation")
			return nil
		}
		m.CRDT.Ensure(docID)
		entry.Exists = true
	}

	// Step 3: still suspended on storage, and this arrived via network:
	// enqueue and return without replying yet.
	if entry.HasPendingStorage() && cs.info.Kind == model.ChannelKindNetwork {
		entry.PendingNetworkRequests = append(entry.PendingNetworkRequests, model.NetworkRequest{
			ChannelID:        channelID,
			RequesterVersion: docReq.RequesterDocVersion,
			Bidirectional:    bidirectional,
			QueuedAt:         now(),
		})
		return nil
	}

	return m.respondToSync(docID, channelID, cs, docReq.RequesterDocVersion, docReq.Ephemeral, bidirectional)
}

// respondToSync is step 4-5: apply any embedded ephemeral payload, relay
// it one hop, and reply with the appropriate transmission variant.
func (m *Model) respondToSync(docID model.DocID, channelID model.ChannelID, cs *channelState, requesterVersion clock.Vector, ephemeral *wire.EphemeralPayload, bidirectional bool) Command {
	var cmds []Command
	if ephemeral != nil {
		cmds = append(cmds, ApplyEphemeral{DocID: docID, Namespace: ephemeral.Namespace, PeerID: ephemeral.PeerID, Data: ephemeral.Data})
		if targets := m.otherSubscribedChannels(docID, channelID); len(targets) > 0 {
			cmds = append(cmds, BroadcastEphemeral{
				DocID:            docID,
				Stores:           []wire.EphemeralPayload{*ephemeral},
				HopsRemaining:    0,
				TargetChannelIDs: targets,
			})
		}
	}

	myVersion := m.CRDT.Version(docID)
	var transmission model.Transmission
	switch {
	case clock.AtLeast(requesterVersion, myVersion):
		transmission = model.Transmission{Kind: model.TransmissionUpToDate, Version: myVersion}
	case clock.IsEmpty(requesterVersion):
		transmission = model.Transmission{Kind: model.TransmissionSnapshot, Version: myVersion, Bytes: m.CRDT.Export(docID)}
	default:
		transmission = model.Transmission{Kind: model.TransmissionUpdate, Version: myVersion, Bytes: m.CRDT.Delta(docID, requesterVersion)}
	}
	m.countSyncResponse(transmission.Kind)
	cmds = append(cmds, SendMessage{ChannelID: channelID, Envelope: &wire.SyncResponse{DocID: docID, Transmission: transmission}})
	// The reply carries everything the requester lacked of myVersion, so the
	// requester is recorded as synced at myVersion.
	p := m.peerState(m.peerContext(cs.peerID).Identity)
	p.DocumentAwareness[docID] = model.Awareness{State: model.AwarenessSynced, Version: myVersion}

	if bidirectional {
		cmds = append(cmds, SendMessage{
			ChannelID: channelID,
			Envelope: &wire.SyncRequest{
				Docs:          []wire.SyncDocRequest{{DocID: docID, RequesterDocVersion: myVersion}},
				Bidirectional: false,
			},
		})
	}
	return batch(cmds...)
}

// onSyncResponse implements the sync-response handler.
func (m *Model) onSyncResponse(channelID model.ChannelID, cs *channelState, resp *wire.SyncResponse) Command {
	docID := resp.DocID
	peerID := cs.peerID
	p := m.peerState(m.peerContext(peerID).Identity)

	var cmds []Command
	for _, e := range resp.Ephemeral {
		cmds = append(cmds, ApplyEphemeral{DocID: docID, Namespace: e.Namespace, PeerID: e.PeerID, Data: e.Data})
	}

	switch resp.Transmission.Kind {
	case model.TransmissionUnavailable:
		p.DocumentAwareness[docID] = model.Awareness{State: model.AwarenessAbsent}
		entry := m.docs[docID]
		if !entry.HasPendingStorage() {
			cmds = append(cmds, EmitReadyStateChanged{State: m.ReadyState(docID)})
		}
		return batch(cmds...)

	case model.TransmissionUpToDate:
		current := p.DocumentAwareness[docID]
		candidate := model.Awareness{State: model.AwarenessSynced, Version: resp.Transmission.Version}
		if current.Dominates(candidate) {
			p.DocumentAwareness[docID] = candidate
		}
		cmds = append(cmds, EmitReadyStateChanged{State: m.ReadyState(docID)})
		return batch(cmds...)

	case model.TransmissionSnapshot, model.TransmissionUpdate:
		if !m.Rules.Mutability(m.docContext(docID), m.peerContext(peerID)) {
			m.logger.Sugar().Warnw("mutability denied, dropping transmission", "doc_id", string(docID), "peer_id", peerID)
			m.countPermissionDenial("mutability")
			return batch(cmds...)
		}
		newVersion, err := m.CRDT.Import(docID, resp.Transmission.Bytes)
		if err != nil {
			m.logger.Sugar().Warnw("failed to import transmission", "doc_id", string(docID), "error", err)
			return batch(cmds...)
		}
		entry := m.docEntry(docID)
		wasNew := !entry.Exists
		entry.Exists = true
		current := p.DocumentAwareness[docID]
		candidate := model.Awareness{State: model.AwarenessSynced, Version: newVersion}
		if current.Dominates(candidate) {
			p.DocumentAwareness[docID] = candidate
		}
		if wasNew {
			cmds = append(cmds, SubscribeDoc{DocID: docID})
		}
		cmds = append(cmds, EmitReadyStateChanged{State: m.ReadyState(docID)})

		if cs.info.Kind == model.ChannelKindStorage && entry.HasPendingStorage() {
			delete(entry.PendingStorageChannels, channelID)
			if !entry.HasPendingStorage() {
				cmds = append(cmds, m.flushPendingNetworkRequests(docID, entry)...)
			}
		}
		return batch(cmds...)
	}
	return batch(cmds...)
}

// flushPendingNetworkRequests processes every queued network sync-request
// for docID in FIFO order, exactly once, now that storage admission has
// resolved (spec.md §8 "Storage-first admission").
func (m *Model) flushPendingNetworkRequests(docID model.DocID, entry *model.DocEntry) []Command {
	queued := entry.PendingNetworkRequests
	entry.PendingNetworkRequests = nil
	cmds := make([]Command, 0, len(queued))
	for _, req := range queued {
		cs, ok := m.channels[req.ChannelID]
		if !ok {
			continue
		}
		cmds = append(cmds, m.respondToSync(docID, req.ChannelID, cs, req.RequesterVersion, nil, req.Bidirectional))
	}
	return cmds
}

// onUpdate handles an unsolicited push after a remote doc-change, reusing
// the sync-response mutability/apply/awareness/ready-state logic.
func (m *Model) onUpdate(channelID model.ChannelID, cs *channelState, upd *wire.Update) Command {
	return m.onSyncResponse(channelID, cs, &wire.SyncResponse{DocID: upd.DocID, Transmission: upd.Transmission})
}

func (m *Model) storageChannelIDs() []model.ChannelID {
	var out []model.ChannelID
	for id, cs := range m.channels {
		if cs.info.Kind == model.ChannelKindStorage && cs.info.Lifecycle == model.ChannelEstablished {
			out = append(out, id)
		}
	}
	return out
}

func (m *Model) otherSubscribedChannels(docID model.DocID, exclude model.ChannelID) []model.ChannelID {
	var out []model.ChannelID
	for id, cs := range m.channels {
		if id == exclude || cs.info.Lifecycle != model.ChannelEstablished {
			continue
		}
		if _, ok := cs.subscribed[docID]; ok {
			out = append(out, id)
		}
	}
	return out
}
