package syncmachine

import (
	"github.com/driftsync/core/internal/clock"
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/rules"
	"github.com/driftsync/core/internal/wire"
)

// onChannelReceive routes a decoded protocol envelope to its handler.
// Invariant 1: only establish-request/response may arrive on a
// non-established channel.
func (m *Model) onChannelReceive(msg ChannelReceive) Command {
	cs, ok := m.channels[msg.ChannelID]
	if !ok {
		m.logger.Sugar().Warnw("message on unknown channel", "channel_id", uint64(msg.ChannelID))
		return nil
	}

	switch env := msg.Envelope.(type) {
	case *wire.EstablishRequest:
		return m.onEstablishRequest(msg.ChannelID, cs, env)
	case *wire.EstablishResponse:
		return m.onEstablishResponse(msg.ChannelID, cs, env)
	case *wire.Batch:
		cmds := make([]Command, 0, len(env.Messages))
		for _, inner := range env.Messages {
			cmds = append(cmds, m.onChannelReceive(ChannelReceive{ChannelID: msg.ChannelID, Envelope: inner}))
		}
		return batch(cmds...)
	}

	if m.establishedChannelOrNil(msg.ChannelID, string(msg.Envelope.Kind())) == nil {
		return nil
	}

	switch env := msg.Envelope.(type) {
	case *wire.SyncRequest:
		return m.onSyncRequest(msg.ChannelID, cs, env)
	case *wire.SyncResponse:
		return m.onSyncResponse(msg.ChannelID, cs, env)
	case *wire.Update:
		return m.onUpdate(msg.ChannelID, cs, env)
	case *wire.DirectoryRequest:
		return m.onDirectoryRequest(msg.ChannelID, cs, env)
	case *wire.DirectoryResponse:
		return m.onDirectoryResponse(msg.ChannelID, cs, env)
	case *wire.NewDoc:
		return m.onNewDoc(msg.ChannelID, cs, env)
	case *wire.DeleteRequest:
		return m.onDeleteRequest(msg.ChannelID, cs, env)
	case *wire.DeleteResponse:
		return m.onDeleteResponse(msg.ChannelID, cs, env)
	case *wire.Ephemeral:
		return m.onEphemeralReceive(msg.ChannelID, cs, env)
	default:
		m.logger.Sugar().Warnw("unknown protocol message kind", "kind", msg.Envelope.Kind())
		return nil
	}
}

func (m *Model) establish(cs *channelState, channelID model.ChannelID, identity model.PeerIdentity) *model.PeerState {
	if cs.info.Lifecycle < model.ChannelEstablished {
		cs.info.Lifecycle = model.ChannelEstablished
	}
	cs.peerID = identity.PeerID
	p := m.peerState(identity)
	p.Channels[channelID] = struct{}{}
	p.LastSeen = now()
	return p
}

// onEstablishRequest is the server side of the handshake: reply with our
// own identity, then immediately offer every locally-held document the
// requester is allowed to see in one bidirectional sync-request, so the
// requester both answers it and pulls back with its own request.
func (m *Model) onEstablishRequest(channelID model.ChannelID, cs *channelState, req *wire.EstablishRequest) Command {
	m.establish(cs, channelID, req.Identity)

	peerCtx := m.peerContext(req.Identity.PeerID)
	var docs []wire.SyncDocRequest
	for docID, entry := range m.docs {
		if !entry.Exists {
			continue
		}
		if !m.Rules.Visibility(rules.DocContext{DocID: docID, Exists: true}, peerCtx) {
			continue
		}
		docs = append(docs, wire.SyncDocRequest{DocID: docID, RequesterDocVersion: m.CRDT.Version(docID)})
	}

	cmds := []Command{
		SendEstablishmentMessage{ChannelID: channelID, Envelope: &wire.EstablishResponse{Identity: m.Self}},
	}
	if len(docs) > 0 {
		// Bidirectional, symmetrically with the client-side sync-request
		// below: whichever side dials in, a brand-new peer on the other
		// end still needs its own reciprocal pull to actually receive
		// content it has zero version for (see respondToSync's
		// empty-requesterVersion snapshot branch).
		cmds = append(cmds, SendMessage{
			ChannelID: channelID,
			Envelope:  &wire.SyncRequest{Docs: docs, Bidirectional: true},
		})
	}
	return batch(cmds...)
}

// onEstablishResponse is the client side: mark established, then either
// request a full sync (new peer) or a delta-reconnection sync (known
// peer), in both cases asking the responder to reciprocate.
func (m *Model) onEstablishResponse(channelID model.ChannelID, cs *channelState, resp *wire.EstablishResponse) Command {
	existingPeer, known := m.knownPeer(resp.Identity.PeerID)
	m.establish(cs, channelID, resp.Identity)
	peerCtx := m.peerContext(resp.Identity.PeerID)

	var docs []wire.SyncDocRequest
	for docID, entry := range m.docs {
		if !entry.Exists {
			continue
		}
		if !m.Rules.Visibility(rules.DocContext{DocID: docID, Exists: true}, peerCtx) {
			continue
		}
		localVersion := m.CRDT.Version(docID)
		if known {
			aw, hasAwareness := existingPeer.DocumentAwareness[docID]
			isNewSinceContact := !hasAwareness
			dominatesCached := hasAwareness && aw.State == model.AwarenessSynced &&
				clock.Dominates(localVersion, aw.Version)
			if !isNewSinceContact && !dominatesCached {
				continue
			}
		}
		docs = append(docs, wire.SyncDocRequest{DocID: docID, RequesterDocVersion: localVersion})
	}

	if len(docs) == 0 {
		return nil
	}
	return SendMessage{
		ChannelID: channelID,
		Envelope:  &wire.SyncRequest{Docs: docs, Bidirectional: true},
	}
}
