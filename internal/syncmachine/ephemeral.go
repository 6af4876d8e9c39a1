package syncmachine

import (
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/wire"
)

// onEphemeralReceive applies an incoming ephemeral gossip frame and relays
// it exactly one further hop to other established, subscribed channels,
// per the carried hop budget.
func (m *Model) onEphemeralReceive(channelID model.ChannelID, cs *channelState, msg *wire.Ephemeral) Command {
	var cmds []Command
	for _, store := range msg.Stores {
		cmds = append(cmds, ApplyEphemeral{DocID: msg.DocID, Namespace: store.Namespace, PeerID: store.PeerID, Data: store.Data})
	}
	if msg.HopsRemaining > 0 {
		if targets := m.otherSubscribedChannels(msg.DocID, channelID); len(targets) > 0 {
			cmds = append(cmds, BroadcastEphemeral{
				DocID:            msg.DocID,
				Stores:           msg.Stores,
				HopsRemaining:    msg.HopsRemaining - 1,
				TargetChannelIDs: targets,
			})
		}
	}
	return batch(cmds...)
}

// onEphemeralLocalChange gossips a local ephemeral Set/Delete to every
// established, subscribed channel for docID, one hop. Stores is left nil:
// the runtime owns the actual (docId, namespace) registry and fills in the
// current local snapshot bytes before sending, since the reducer's model
// never holds ephemeral payload bytes itself.
func (m *Model) onEphemeralLocalChange(msg EphemeralLocalChange) Command {
	changeEvent := EmitEphemeralChange{DocID: msg.DocID, Namespace: msg.Namespace, Key: msg.Key, Value: msg.Value, Present: msg.Present}
	targets := m.otherSubscribedChannels(msg.DocID, 0)
	if len(targets) == 0 {
		return changeEvent
	}
	return batch(
		changeEvent,
		BroadcastEphemeral{DocID: msg.DocID, Namespace: msg.Namespace, Stores: nil, HopsRemaining: 1, TargetChannelIDs: targets},
	)
}

// onHeartbeat triggers a full-state ephemeral rebroadcast to every
// established, subscribed channel per document, with no further relay
// (spec.md §4.3 "Heartbeat"). The runtime supplies the actual per-document
// snapshots since the ephemeral registry lives there, not in the reducer's
// model; this emits one BroadcastEphemeral per locally-held document
// naming its established+subscribed targets, with an empty Stores list the
// runtime fills in from its registry before sending.
func (m *Model) onHeartbeat() Command {
	var cmds []Command
	for docID, entry := range m.docs {
		if !entry.Exists {
			continue
		}
		targets := m.otherSubscribedChannels(docID, 0)
		if len(targets) == 0 {
			continue
		}
		cmds = append(cmds, BroadcastEphemeral{DocID: docID, Stores: nil, HopsRemaining: 0, TargetChannelIDs: targets})
	}
	return batch(cmds...)
}
