package syncmachine

import (
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/wire"
)

// Command is a side-effecting instruction the reducer emits for the
// runtime to execute (spec.md §4.3 "Output commands"). The reducer itself
// never performs I/O; every Command is a plain value the runtime
// interprets.
type Command interface{ command() }

type cmdMarker struct{}

func (cmdMarker) command() {}

// SendEstablishmentMessage asks the runtime to send env (always an
// EstablishRequest or EstablishResponse) on channelID, bypassing the usual
// established-channel requirement since the handshake is what establishes
// the channel.
type SendEstablishmentMessage struct {
	cmdMarker
	ChannelID model.ChannelID
	Envelope  wire.Envelope
}

// SendMessage asks the runtime to send env on an already-established
// channelID.
type SendMessage struct {
	cmdMarker
	ChannelID model.ChannelID
	Envelope  wire.Envelope
}

// StopChannel asks the runtime/adapter to close channelID locally.
type StopChannel struct {
	cmdMarker
	ChannelID model.ChannelID
}

// SubscribeDoc asks the runtime to begin forwarding the local CRDT's
// native change feed for docID back into the reducer as DocChange
// messages. Emitted when a local EnsureDoc creates a document and when a
// sync-response is imported into a document not yet marked as existing; a
// document created while admitting a peer's sync-request gets none.
type SubscribeDoc struct {
	cmdMarker
	DocID model.DocID
}

// ApplyEphemeral asks the runtime to merge a remote ephemeral snapshot
// into the (docID, namespace) ephemeral store.
type ApplyEphemeral struct {
	cmdMarker
	DocID     model.DocID
	Namespace string
	PeerID    string
	Data      []byte
}

// BroadcastEphemeral asks the runtime to forward an Ephemeral wire frame
// to every channel in TargetChannelIDs. When Stores is nil the runtime
// substitutes the current local snapshot for (DocID, Namespace) — or, if
// Namespace is also empty, every namespace's local snapshot for DocID —
// from its own ephemeral registry, since the reducer's model never holds
// ephemeral payload bytes itself.
type BroadcastEphemeral struct {
	cmdMarker
	DocID            model.DocID
	Namespace        string
	Stores           []wire.EphemeralPayload
	HopsRemaining    int
	TargetChannelIDs []model.ChannelID
}

// RemoveEphemeralPeer asks the runtime to tombstone every ephemeral entry
// owned by peerID in every document's ephemeral stores, all namespaces.
type RemoveEphemeralPeer struct {
	cmdMarker
	PeerID string
}

// EmitReadyStateChanged asks the runtime to notify Handle observers.
type EmitReadyStateChanged struct {
	cmdMarker
	State model.ReadyState
}

// EmitEphemeralChange asks the runtime to notify ephemeral subscribers
// outside the synchronizer (e.g. a Handle's getTypedEphemeral listeners).
type EmitEphemeralChange struct {
	cmdMarker
	DocID     model.DocID
	Namespace string
	Key       string
	Value     []byte
	Present   bool
}

// Dispatch asks the runtime to feed msg back into Update on the same
// loop, used for self-driven follow-up work such as reciprocating a
// bidirectional sync-request or flushing queued network requests.
type Dispatch struct {
	cmdMarker
	Message Message
}

// Batch composes an ordered list of commands that must execute in order,
// though independent channels may still interleave with other batches
// (spec.md §5 "Ordering guarantees").
type Batch struct {
	cmdMarker
	Commands []Command
}

// batch drops nil commands and collapses a single-command batch down to
// that command, keeping callers' composition code simple without
// burdening the runtime with empty or singleton batches.
func batch(cmds ...Command) Command {
	var nonNil []Command
	for _, c := range cmds {
		if c != nil {
			nonNil = append(nonNil, c)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return Batch{Commands: nonNil}
	}
}
