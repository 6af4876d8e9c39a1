package syncmachine

import (
	"fmt"

	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/rules"
	"github.com/driftsync/core/internal/wire"
)

// Update is the reducer: it is the only way Model changes. It mutates m in
// place and returns the Command (possibly a Batch, possibly nil) the
// runtime must execute.
func Update(msg Message, m *Model) Command {
	switch msg := msg.(type) {
	case ChannelAdded:
		return m.onChannelAdded(msg)
	case EstablishChannel:
		return m.onEstablishChannel(msg)
	case ChannelRemoved:
		return m.onChannelRemoved(msg)
	case DocEnsure:
		return m.onDocEnsure(msg)
	case DocChange:
		return m.onDocChange(msg)
	case DocDelete:
		return m.onDocDelete(msg)
	case EphemeralLocalChange:
		return m.onEphemeralLocalChange(msg)
	case Heartbeat:
		return m.onHeartbeat()
	case ChannelReceive:
		return m.onChannelReceive(msg)
	default:
		m.logger.Sugar().Warnw("syncmachine: unknown message type", "type", fmt.Sprintf("%T", msg))
		return nil
	}
}

func (m *Model) onChannelAdded(msg ChannelAdded) Command {
	m.channels[msg.ChannelID] = &channelState{
		info: model.ChannelInfo{
			ChannelID: msg.ChannelID,
			AdapterID: msg.AdapterID,
			Kind:      msg.Kind,
			Lifecycle: model.ChannelGenerated,
		},
		subscribed: make(map[model.DocID]struct{}),
	}
	return nil
}

func (m *Model) onEstablishChannel(msg EstablishChannel) Command {
	cs, ok := m.channels[msg.ChannelID]
	if !ok {
		m.logger.Sugar().Warnw("establish-channel for unknown channel", "channel_id", uint64(msg.ChannelID))
		return nil
	}
	if cs.info.Lifecycle < model.ChannelConnected {
		cs.info.Lifecycle = model.ChannelConnected
	}
	return SendEstablishmentMessage{
		ChannelID: msg.ChannelID,
		Envelope:  &wire.EstablishRequest{Identity: m.Self},
	}
}

func (m *Model) onChannelRemoved(msg ChannelRemoved) Command {
	cs, ok := m.channels[msg.ChannelID]
	if !ok {
		return nil
	}
	delete(m.channels, msg.ChannelID)

	// Cancel, don't flush, any network requests this channel contributed:
	// the requester will time out or retry on its own (spec.md §5
	// "Cancellation").
	for _, entry := range m.docs {
		if len(entry.PendingNetworkRequests) == 0 {
			continue
		}
		filtered := entry.PendingNetworkRequests[:0]
		for _, req := range entry.PendingNetworkRequests {
			if req.ChannelID != msg.ChannelID {
				filtered = append(filtered, req)
			}
		}
		entry.PendingNetworkRequests = filtered
		delete(entry.PendingStorageChannels, msg.ChannelID)
	}

	if cs.peerID != "" {
		if p, ok := m.peers[cs.peerID]; ok {
			delete(p.Channels, msg.ChannelID)
			if len(p.Channels) == 0 {
				return RemoveEphemeralPeer{PeerID: cs.peerID}
			}
		}
	}
	return nil
}

func (m *Model) peerContext(peerID string) rules.PeerContext {
	p, ok := m.peers[peerID]
	if !ok {
		return rules.PeerContext{Identity: model.PeerIdentity{PeerID: peerID}}
	}
	return rules.PeerContext{Identity: p.Identity, Subscriptions: p.Subscriptions}
}

func (m *Model) docContext(docID model.DocID) rules.DocContext {
	entry, exists := m.docs[docID]
	return rules.DocContext{DocID: docID, Exists: exists && entry.Exists}
}

// establishedChannelOrNil returns the channelState only if it exists and is
// established, logging+dropping otherwise (spec.md invariant 1).
func (m *Model) establishedChannelOrNil(channelID model.ChannelID, context string) *channelState {
	cs, ok := m.channels[channelID]
	if !ok || cs.info.Lifecycle != model.ChannelEstablished {
		m.logger.Sugar().Warnw("dropping message: channel not established", "channel_id", uint64(channelID), "context", context)
		return nil
	}
	return cs
}
