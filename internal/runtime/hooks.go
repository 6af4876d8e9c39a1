package runtime

import (
	"github.com/driftsync/core/internal/channel"
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/syncmachine"
	"github.com/driftsync/core/internal/wire"
)

// AttachAdapter wires adapter's lifecycle/receive hooks into the runtime:
// newly added channels become channel-added, removed channels become
// channel-removed, and inbound bytes are decoded and delivered as
// channel-receive — all funneled through the serialized mailbox, safe to
// call from whatever goroutine the adapter's transport uses (spec.md §4.1,
// §5 "every delivered message crosses into the core via a serialized
// mailbox").
func (r *Runtime) AttachAdapter(adapter *channel.Adapter, interceptors ...channel.SendInterceptor) error {
	return adapter.Init(channel.Hooks{
		OnChannelAdded:   r.onChannelAdded,
		OnChannelRemoved: r.onChannelRemoved,
		OnReceive:        r.onReceive,
	}, interceptors...)
}

func (r *Runtime) onChannelAdded(c *channel.Channel) {
	r.mu.Lock()
	r.channels[c.ID()] = c
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.ActiveChannels.Inc()
	}
	r.Post(syncmachine.ChannelAdded{ChannelID: c.ID(), AdapterID: c.AdapterID(), Kind: c.Kind()})
}

func (r *Runtime) onChannelRemoved(id model.ChannelID) {
	r.mu.Lock()
	delete(r.channels, id)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.ActiveChannels.Dec()
		r.metrics.ChannelRemovals.Inc()
	}
	r.Post(syncmachine.ChannelRemoved{ChannelID: id})
}

func (r *Runtime) onReceive(id model.ChannelID, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		r.logger.Sugar().Warnw("runtime: dropping malformed envelope", "channel_id", uint64(id), "error", err)
		return
	}
	if r.metrics != nil {
		r.metrics.MessagesReceived.WithLabelValues(string(env.Kind())).Inc()
	}
	// A handshake envelope establishes the local mirror of this channel's
	// lifecycle the moment its identity is known, ahead of the reducer's
	// own (separate) establish() bookkeeping.
	if peerID, ok := identityFromEnvelope(env); ok {
		r.mu.Lock()
		if c, exists := r.channels[id]; exists {
			c.MarkEstablished(peerID)
		}
		r.mu.Unlock()
	}
	r.Post(syncmachine.ChannelReceive{ChannelID: id, Envelope: env})
}

func identityFromEnvelope(env wire.Envelope) (string, bool) {
	switch e := env.(type) {
	case *wire.EstablishRequest:
		return e.Identity.PeerID, true
	case *wire.EstablishResponse:
		return e.Identity.PeerID, true
	default:
		return "", false
	}
}
