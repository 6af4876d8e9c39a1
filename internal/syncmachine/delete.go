package syncmachine

import (
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/wire"
)

// onDocDelete purges local state for docID and broadcasts delete-request
// to every established, subscribed peer.
func (m *Model) onDocDelete(msg DocDelete) Command {
	docID := msg.DocID
	entry, ok := m.docs[docID]
	if !ok || !entry.Exists {
		return nil
	}
	m.CRDT.Delete(docID)
	delete(m.docs, docID)

	var cmds []Command
	for channelID, cs := range m.channels {
		if cs.info.Lifecycle != model.ChannelEstablished {
			continue
		}
		if _, subscribed := cs.subscribed[docID]; !subscribed {
			continue
		}
		cmds = append(cmds, SendMessage{ChannelID: channelID, Envelope: &wire.DeleteRequest{DocID: docID}})
	}
	return batch(cmds...)
}

// onDeleteRequest honors deletion only when the deletion rule permits it
// (default-deny, spec.md §4.3 "Deletion").
func (m *Model) onDeleteRequest(channelID model.ChannelID, cs *channelState, req *wire.DeleteRequest) Command {
	docID := req.DocID
	peerCtx := m.peerContext(cs.peerID)
	if !m.Rules.Deletion(m.docContext(docID), peerCtx) {
		m.countPermissionDenial("deletion")
		return SendMessage{ChannelID: channelID, Envelope: &wire.DeleteResponse{DocID: docID, Status: wire.DeleteStatusIgnored}}
	}
	if entry, ok := m.docs[docID]; ok && entry.Exists {
		m.CRDT.Delete(docID)
		delete(m.docs, docID)
	}
	return SendMessage{ChannelID: channelID, Envelope: &wire.DeleteResponse{DocID: docID, Status: wire.DeleteStatusDeleted}}
}

func (m *Model) onDeleteResponse(channelID model.ChannelID, cs *channelState, resp *wire.DeleteResponse) Command {
	return nil
}
