package syncmachine

import (
	"github.com/driftsync/core/internal/clock"
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/rules"
	"github.com/driftsync/core/internal/wire"
)

func (m *Model) onDirectoryRequest(channelID model.ChannelID, cs *channelState, req *wire.DirectoryRequest) Command {
	peerCtx := m.peerContext(cs.peerID)
	visible := rules.SubscriptionBypass(m.Rules.Visibility)

	var ids []model.DocID
	if len(req.DocIDs) == 0 {
		for docID, entry := range m.docs {
			if entry.Exists && visible(rules.DocContext{DocID: docID, Exists: true}, peerCtx) {
				ids = append(ids, docID)
			}
		}
	} else {
		for _, docID := range req.DocIDs {
			entry, ok := m.docs[docID]
			if ok && entry.Exists && visible(rules.DocContext{DocID: docID, Exists: true}, peerCtx) {
				ids = append(ids, docID)
			}
		}
	}
	return SendMessage{ChannelID: channelID, Envelope: &wire.DirectoryResponse{DocIDs: ids}}
}

// onDirectoryResponse records nothing structurally (the spec leaves the
// client's use of a directory listing to the embedder, e.g. deciding which
// ids to sync-request next); it exists so the reducer at least
// acknowledges the message kind rather than rejecting it as unknown.
func (m *Model) onDirectoryResponse(channelID model.ChannelID, cs *channelState, resp *wire.DirectoryResponse) Command {
	return nil
}

// onNewDoc pulls every announced document we don't already hold, letting a
// peer's unsolicited new-doc announcement (sent from onDocChange toward
// peers with unknown awareness) turn into an actual sync-request instead of
// requiring the embedder to poll the directory.
func (m *Model) onNewDoc(channelID model.ChannelID, cs *channelState, msg *wire.NewDoc) Command {
	var docs []wire.SyncDocRequest
	for _, docID := range msg.DocIDs {
		if entry, ok := m.docs[docID]; ok && entry.Exists {
			continue
		}
		docs = append(docs, wire.SyncDocRequest{DocID: docID, RequesterDocVersion: clock.New()})
	}
	if len(docs) == 0 {
		return nil
	}
	return SendMessage{
		ChannelID: channelID,
		Envelope:  &wire.SyncRequest{Docs: docs, Bidirectional: false},
	}
}

// onDocEnsure creates docID locally if it doesn't exist yet, the embedder
// requesting it directly (spec.md §3 invariant 2).
func (m *Model) onDocEnsure(msg DocEnsure) Command {
	entry := m.docEntry(msg.DocID)
	if entry.Exists {
		return nil
	}
	created := m.CRDT.Ensure(msg.DocID)
	entry.Exists = true
	if created {
		return SubscribeDoc{DocID: msg.DocID}
	}
	return nil
}

// onDocChange implements spec.md §4.3 "Local change propagation": for
// every established channel passing visibility (or already subscribed),
// push a delta/snapshot to subscribers, announce to the unaware, and stay
// silent toward known-absent peers.
func (m *Model) onDocChange(msg DocChange) Command {
	docID := msg.DocID
	entry, ok := m.docs[docID]
	if !ok || !entry.Exists {
		return nil
	}
	myVersion := m.CRDT.Version(docID)
	visible := rules.SubscriptionBypass(m.Rules.Visibility)

	var cmds []Command
	for channelID, cs := range m.channels {
		if cs.info.Lifecycle != model.ChannelEstablished {
			continue
		}
		peerCtx := m.peerContext(cs.peerID)
		_, subscribed := cs.subscribed[docID]
		if !subscribed && !visible(rules.DocContext{DocID: docID, Exists: true}, peerCtx) {
			continue
		}

		p := m.peerState(peerCtx.Identity)
		aw := p.DocumentAwareness[docID]

		if subscribed {
			var transmission model.Transmission
			if aw.State != model.AwarenessSynced || aw.Version == nil {
				transmission = model.Transmission{Kind: model.TransmissionSnapshot, Version: myVersion, Bytes: m.CRDT.Export(docID)}
			} else {
				transmission = model.Transmission{Kind: model.TransmissionUpdate, Version: myVersion, Bytes: m.CRDT.Delta(docID, aw.Version)}
			}
			cmds = append(cmds, SendMessage{ChannelID: channelID, Envelope: &wire.SyncResponse{DocID: docID, Transmission: transmission}})
			continue
		}

		switch aw.State {
		case model.AwarenessAbsent:
			// known-absent: send nothing.
		default:
			cmds = append(cmds, SendMessage{ChannelID: channelID, Envelope: &wire.NewDoc{DocIDs: []model.DocID{docID}}})
		}
	}
	return batch(cmds...)
}
