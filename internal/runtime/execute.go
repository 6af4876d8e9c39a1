package runtime

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/obstrace"
	"github.com/driftsync/core/internal/syncmachine"
	"github.com/driftsync/core/internal/wire"
)

// process is the one place Update is called: it dispatches msg against the
// Model under the runtime's lock, then executes whatever Command comes
// back outside the lock so listener callbacks can safely call back into
// the runtime (spec.md §5 "the reducer is a pure function and its commands
// are scheduled back onto the same loop").
func (r *Runtime) process(msg syncmachine.Message) {
	ctx, span := obstrace.StartSpan(context.Background(), "syncmachine.dispatch",
		attribute.String("message_type", fmt.Sprintf("%T", msg)))
	defer span.End()

	start := time.Now()
	r.mu.Lock()
	cmd := syncmachine.Update(msg, r.model)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.ReducerDispatch.Observe(time.Since(start).Seconds())
	}

	if err := r.execute(ctx, cmd); err != nil {
		span.RecordError(err)
		r.logger.Sugar().Warnw("runtime: command execution reported errors", "error", err)
	}

	// A DocChange message is the runtime's own signal that docID's CRDT
	// state just mutated; local OnDocChange listeners fire immediately
	// rather than waiting on a CRDT library's native subscription feed,
	// which SubscribeDoc treats as a separate, additive notification path
	// for remote-merge bridging.
	if change, ok := msg.(syncmachine.DocChange); ok {
		r.notifyDocChange(change.DocID)
	}
}

// execute interprets one Command tree. Errors from sibling commands inside
// a Batch are isolated and aggregated with multierr rather than aborting
// the batch (spec.md §7 "a failing send does not cancel sibling commands
// in the same batch"), matching the zap ecosystem's own
// never-drop-an-error convention that multierr exists for.
func (r *Runtime) execute(ctx context.Context, cmd syncmachine.Command) error {
	if cmd == nil {
		return nil
	}

	start := time.Now()
	_, span := obstrace.StartSpan(ctx, "runtime.execute",
		attribute.String("command_type", fmt.Sprintf("%T", cmd)))
	defer span.End()

	var err error
	switch c := cmd.(type) {
	case syncmachine.Batch:
		for _, sub := range c.Commands {
			err = multierr.Append(err, r.execute(ctx, sub))
		}
	case syncmachine.SendEstablishmentMessage:
		err = r.send(c.ChannelID, c.Envelope)
	case syncmachine.SendMessage:
		err = r.send(c.ChannelID, c.Envelope)
	case syncmachine.StopChannel:
		r.stopChannel(c.ChannelID)
	case syncmachine.SubscribeDoc:
		err = r.subscribeDoc(c.DocID)
	case syncmachine.ApplyEphemeral:
		err = r.applyEphemeral(c)
	case syncmachine.BroadcastEphemeral:
		r.broadcastEphemeral(c)
	case syncmachine.RemoveEphemeralPeer:
		r.registry.RemovePeer(c.PeerID)
	case syncmachine.EmitReadyStateChanged:
		r.emitReadyState(c.State)
	case syncmachine.EmitEphemeralChange:
		r.emitEphemeralChange(c)
	case syncmachine.Dispatch:
		r.process(c.Message)
	default:
		err = fmt.Errorf("runtime: unknown command type %T", cmd)
	}

	if err != nil {
		span.RecordError(err)
	}
	if r.metrics != nil {
		r.metrics.CommandExecLatency.Observe(time.Since(start).Seconds())
	}
	return err
}

func (r *Runtime) send(channelID model.ChannelID, env wire.Envelope) error {
	r.mu.Lock()
	c, ok := r.channels[channelID]
	r.mu.Unlock()
	if !ok {
		r.logger.Sugar().Warnw("runtime: send on unknown channel", "channel_id", uint64(channelID), "kind", env.Kind())
		return nil
	}
	err := c.Send(env)
	if r.metrics != nil {
		r.metrics.MessagesSent.WithLabelValues(string(env.Kind())).Inc()
	}
	if err != nil {
		r.logger.Sugar().Warnw("runtime: channel send failed", "channel_id", uint64(channelID), "error", err)
		return fmt.Errorf("runtime: send on channel %d: %w", channelID, err)
	}
	return nil
}

func (r *Runtime) stopChannel(channelID model.ChannelID) {
	r.mu.Lock()
	c, ok := r.channels[channelID]
	r.mu.Unlock()
	if ok {
		c.Stop()
	}
}

func (r *Runtime) applyEphemeral(c syncmachine.ApplyEphemeral) error {
	store := r.registry.GetOrCreate(c.DocID, c.Namespace)
	if err := store.ApplyRemoteSnapshot(c.PeerID, c.Data); err != nil {
		r.logger.Sugar().Warnw("runtime: malformed ephemeral snapshot", "doc_id", string(c.DocID), "namespace", c.Namespace, "peer_id", c.PeerID, "error", err)
		return fmt.Errorf("runtime: apply ephemeral snapshot for %s/%s: %w", c.DocID, c.Namespace, err)
	}
	r.trackNamespace(c.DocID, c.Namespace)
	return nil
}

func (r *Runtime) broadcastEphemeral(c syncmachine.BroadcastEphemeral) {
	stores := c.Stores
	if stores == nil {
		stores = r.localSnapshots(c.DocID, c.Namespace)
	}
	if len(stores) == 0 {
		return
	}
	env := &wire.Ephemeral{DocID: c.DocID, HopsRemaining: c.HopsRemaining, Stores: stores}
	var sendErr error
	for _, chID := range c.TargetChannelIDs {
		sendErr = multierr.Append(sendErr, r.send(chID, env))
	}
	if sendErr != nil {
		r.logger.Sugar().Warnw("runtime: ephemeral broadcast had send errors", "doc_id", string(c.DocID), "error", sendErr)
	}
}

// localSnapshots recomputes BroadcastEphemeral's Stores when the reducer
// left it nil: a single namespace's own snapshot, or — when Namespace is
// also empty, as onHeartbeat emits — every namespace known for docID.
func (r *Runtime) localSnapshots(docID model.DocID, namespace string) []wire.EphemeralPayload {
	var namespaces []string
	if namespace != "" {
		namespaces = []string{namespace}
	} else {
		r.mu.Lock()
		for ns := range r.namespaces[docID] {
			namespaces = append(namespaces, ns)
		}
		r.mu.Unlock()
	}

	out := make([]wire.EphemeralPayload, 0, len(namespaces))
	for _, ns := range namespaces {
		store, ok := r.registry.Lookup(docID, ns)
		if !ok {
			continue
		}
		out = append(out, wire.EphemeralPayload{PeerID: r.self.PeerID, Data: store.LocalSnapshot(), Namespace: ns})
	}
	return out
}
