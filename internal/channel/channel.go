// Package channel implements the Adapter/Channel abstraction spec.md §4.1
// describes: the uniform interface through which storage and network
// transports deliver and accept messages, with strict lifecycle
// guarantees. It is grounded on the teacher's internal/network
// NetworkManager — a custom connection manager with its own lifecycle,
// handler registration, and send/broadcast plumbing — generalized here
// into typed lifecycle states and per-channel hook capture instead of one
// flat peer-connection map.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/obslog"
	"github.com/driftsync/core/internal/wire"
)

// ErrStateMismatch is returned when an operation is attempted from an
// adapter lifecycle state that forbids it (spec.md §4.1 "Error
// conditions").
var ErrStateMismatch = errors.New("channel: adapter state mismatch")

// AdapterState is the four-stage lifecycle an Adapter progresses through.
type AdapterState int

const (
	AdapterCreated AdapterState = iota
	AdapterInitialized
	AdapterStarted
	AdapterStopped
)

// TransportSend is the function an adapter supplies per channel to hand
// encoded bytes off to its transport. It must be non-blocking or integrate
// with the runtime's own I/O loop.
type TransportSend func(data []byte) error

// Hooks are the adapter-level callbacks the runtime registers so it learns
// about channel lifecycle and inbound messages. Channels capture the Hooks
// in effect at the moment they are created (see Channel.hooks) — hot
// replacement of hooks via Adapter.Init never retroactively changes the
// hooks an already-created channel calls back into, preserving closure
// semantics across re-initialization (spec.md §4.1, §9 "Hot-reload hook
// capture").
type Hooks struct {
	OnChannelAdded   func(*Channel)
	OnChannelRemoved func(model.ChannelID)
	OnReceive        func(model.ChannelID, []byte)
}

func (h Hooks) fireChannelAdded(c *Channel) {
	if h.OnChannelAdded != nil {
		h.OnChannelAdded(c)
	}
}

func (h Hooks) fireChannelRemoved(id model.ChannelID) {
	if h.OnChannelRemoved != nil {
		h.OnChannelRemoved(id)
	}
}

func (h Hooks) fireReceive(id model.ChannelID, data []byte) {
	if h.OnReceive != nil {
		h.OnReceive(id, data)
	}
}

// SendInterceptor observes or transforms an outbound envelope before it is
// encoded and handed to the transport. Calling next continues the chain;
// not calling it drops the message.
type SendInterceptor func(env wire.Envelope, next func(wire.Envelope) error) error

// Adapter owns zero or more Channels and progresses through
// created -> initialized -> started -> stopped.
type Adapter struct {
	id string

	mu           sync.Mutex
	state        AdapterState
	hooks        Hooks
	interceptors []SendInterceptor
	channels     map[model.ChannelID]*Channel
	nextID       uint64
	logger       *obslog.Logger
}

// NewAdapter constructs an Adapter in the Created state. id identifies the
// adapter across the runtime (e.g. "websocket", "leveldb-storage").
func NewAdapter(id string, logger *obslog.Logger) *Adapter {
	if logger == nil {
		logger = obslog.Nop()
	}
	// Seed the channel-id counter from a random UUID instead of 0 so
	// channel ids don't collide across adapter instances sharing a
	// process (e.g. in tests that construct many adapters).
	seed := uuid.New()
	start := uint64(seed[0])<<56 | uint64(seed[1])<<48 | uint64(seed[2])<<40 | uint64(seed[3])<<32 |
		uint64(seed[4])<<24 | uint64(seed[5])<<16 | uint64(seed[6])<<8 | uint64(seed[7])
	return &Adapter{
		id:       id,
		channels: make(map[model.ChannelID]*Channel),
		nextID:   start,
		logger:   logger,
	}
}

// ID returns the adapter's id.
func (a *Adapter) ID() string { return a.id }

// State reports the adapter's current lifecycle state.
func (a *Adapter) State() AdapterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Init (re-)initializes the adapter with hooks and an optional
// send-interceptor chain. Calling Init while Started auto-stops first,
// matching spec.md's HMR-resilient re-initialization requirement: hot
// module replacement calls Init again on the same adapter instance, and
// that must not leave stale channels routing into the old hook set.
func (a *Adapter) Init(hooks Hooks, interceptors ...SendInterceptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == AdapterStarted {
		a.stopLocked()
	}
	a.hooks = hooks
	a.interceptors = interceptors
	a.state = AdapterInitialized
	return nil
}

// Start transitions an Initialized or Stopped adapter to Started, the only
// state from which channels may be added or removed.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AdapterInitialized && a.state != AdapterStopped {
		return fmt.Errorf("%w: adapter %q cannot start from state %d", ErrStateMismatch, a.id, a.state)
	}
	a.state = AdapterStarted
	return nil
}

// Stop idempotently stops the adapter and every channel it owns. It does
// not itself notify the runtime of channel removal — callers that want
// that should remove channels individually first.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Adapter) stopLocked() {
	if a.state == AdapterStopped {
		return
	}
	for _, c := range a.channels {
		c.markRemoved()
	}
	a.state = AdapterStopped
}

// AddChannel allocates a new Channel of kind, wired to transportSend for
// outbound delivery. It fails with ErrStateMismatch unless the adapter is
// Started.
func (a *Adapter) AddChannel(kind model.ChannelKind, transportSend TransportSend) (*Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AdapterStarted {
		return nil, fmt.Errorf("%w: adapter %q cannot add a channel from state %d", ErrStateMismatch, a.id, a.state)
	}

	a.nextID++
	id := model.ChannelID(a.nextID)
	c := &Channel{
		id:            id,
		adapterID:     a.id,
		kind:          kind,
		lifecycle:     model.ChannelGenerated,
		transportSend: transportSend,
		hooks:         a.hooks,
		interceptors:  a.interceptors,
		logger:        a.logger,
	}
	a.channels[id] = c
	a.hooks.fireChannelAdded(c)
	return c, nil
}

// RemoveChannel stops and forgets channelID. Removing an unknown channel
// is not an error (spec.md §4.1). Removing any channel requires the
// adapter to be Started.
func (a *Adapter) RemoveChannel(channelID model.ChannelID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AdapterStarted {
		return fmt.Errorf("%w: adapter %q cannot remove a channel from state %d", ErrStateMismatch, a.id, a.state)
	}
	c, ok := a.channels[channelID]
	if !ok {
		return nil
	}
	delete(a.channels, channelID)
	c.markRemoved()
	a.hooks.fireChannelRemoved(channelID)
	return nil
}

// Channel looks up a channel this adapter currently owns.
func (a *Adapter) Channel(channelID model.ChannelID) (*Channel, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.channels[channelID]
	return c, ok
}

// Channels returns a snapshot of the channels currently owned.
func (a *Adapter) Channels() []*Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Channel, 0, len(a.channels))
	for _, c := range a.channels {
		out = append(out, c)
	}
	return out
}

// Channel is a lifecycle-typed bidirectional message pipe between the core
// and a transport.
type Channel struct {
	id        model.ChannelID
	adapterID string
	kind      model.ChannelKind

	mu        sync.Mutex
	lifecycle model.ChannelLifecycle
	peerID    string
	removed   bool

	transportSend TransportSend
	// hooks/interceptors are captured at creation time; see Hooks doc.
	hooks        Hooks
	interceptors []SendInterceptor
	logger       *obslog.Logger

	sentCount atomic.Int64
}

func (c *Channel) ID() model.ChannelID        { return c.id }
func (c *Channel) AdapterID() string          { return c.adapterID }
func (c *Channel) Kind() model.ChannelKind    { return c.kind }
func (c *Channel) SentCount() int64           { return c.sentCount.Load() }

// Lifecycle reports the channel's current state.
func (c *Channel) Lifecycle() model.ChannelLifecycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle
}

// PeerID returns the established peer's id, or "" if not yet established.
func (c *Channel) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// MarkConnected advances Generated -> Connected. It is a no-op once the
// channel has already reached at least Connected, preserving the
// monotonic never-goes-back-in-time guarantee spec.md §8 requires.
func (c *Channel) MarkConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifecycle < model.ChannelConnected {
		c.lifecycle = model.ChannelConnected
	}
}

// MarkEstablished advances to Established and records the peer identity
// that completed the handshake.
func (c *Channel) MarkEstablished(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifecycle < model.ChannelEstablished {
		c.lifecycle = model.ChannelEstablished
	}
	c.peerID = peerID
}

// Info returns a model.ChannelInfo snapshot for the synchronizer.
func (c *Channel) Info() model.ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.ChannelInfo{
		ChannelID: c.id,
		AdapterID: c.adapterID,
		Kind:      c.kind,
		Lifecycle: c.lifecycle,
		PeerID:    c.peerID,
	}
}

func (c *Channel) markRemoved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = true
}

func (c *Channel) isRemoved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

// Send runs the captured send-interceptor chain and then hands the
// encoded envelope to the transport. Sending to a removed channel is a
// warning, not an error (spec.md §4.1 "Error conditions").
func (c *Channel) Send(env wire.Envelope) error {
	if c.isRemoved() {
		c.logger.Sugar().Warnw("send on removed channel", "channel_id", uint64(c.id), "kind", env.Kind())
		return nil
	}

	terminal := func(e wire.Envelope) error {
		data, err := wire.Encode(e)
		if err != nil {
			return fmt.Errorf("channel: encode %s: %w", e.Kind(), err)
		}
		c.sentCount.Add(1)
		return c.transportSend(data)
	}

	if len(c.interceptors) == 0 {
		return terminal(env)
	}

	// Fold the interceptor chain right-to-left so the first interceptor
	// in the slice runs first and "next" for the last interceptor is the
	// terminal transport send.
	next := terminal
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		prevNext := next
		next = func(e wire.Envelope) error {
			return interceptor(e, prevNext)
		}
	}
	return next(env)
}

// Stop idempotently closes the channel locally. It does not notify the
// adapter's hooks — the adapter decides whether local close implies
// removal.
func (c *Channel) Stop() {
	c.markRemoved()
}

// Receive is invoked by the transport when bytes arrive on this channel.
// It funnels into the hooks captured at creation time.
func (c *Channel) Receive(data []byte) {
	c.hooks.fireReceive(c.id, data)
}
