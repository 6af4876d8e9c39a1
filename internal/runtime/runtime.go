// Package runtime executes the Commands syncmachine.Update emits: sending
// envelopes through real channel.Channels, applying ephemeral gossip
// against a live ephemeral.Registry, bridging a CRDT library's native
// change feed back into doc-change messages, and notifying external
// observers of ready-state and ephemeral changes (spec.md §2 "Runtime",
// §4.3 "Output commands", §5). It is grounded in spirit on the teacher's
// internal/network NetworkManager — a long-lived object mutated by
// discrete events behind a single mutex — but the command-execution
// control flow itself has no teacher analogue; it is built directly from
// the spec's output-command and concurrency sections.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/driftsync/core/internal/channel"
	"github.com/driftsync/core/internal/ephemeral"
	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/obslog"
	"github.com/driftsync/core/internal/obsmetrics"
	"github.com/driftsync/core/internal/rules"
	"github.com/driftsync/core/internal/syncmachine"
)

// DocSubscriber is implemented by a CRDT provider that can notify the
// runtime of native document mutations, local or remote-merged, letting
// SubscribeDoc bridge the library's own change feed into doc-change
// messages (spec.md §2: "Local document mutations observed via the CRDT
// subscription feed doc-change messages back into the state machine").
// CRDTProvider implementations that don't implement DocSubscriber still
// work; local changes then only propagate once the embedder calls
// ChangeDoc itself after mutating through the shared instance.
type DocSubscriber interface {
	SubscribeDoc(docID model.DocID, onChange func()) (unsubscribe func())
}

// ReadyStateListener is notified whenever any document's ready-state
// changes.
type ReadyStateListener func(model.ReadyState)

// EphemeralListener is notified on every local ephemeral key change
// (EphemeralLocalChange); snapshots applied from remote peers reach only
// the ephemeral store's own Subscribe listeners, not this one.
type EphemeralListener func(docID model.DocID, namespace, key string, value []byte, present bool)

// DocChangeListener is notified whenever a document's underlying CRDT
// state mutates, local or remote-imported.
type DocChangeListener func()

// Runtime is the command executor and single serialization point for one
// synchronizer Model (spec.md §5: "single-threaded cooperative at the
// synchronizer core ... every delivered message crosses into the core via
// a serialized mailbox").
type Runtime struct {
	mu    sync.Mutex
	model *syncmachine.Model
	crdt  syncmachine.CRDTProvider
	self  model.PeerIdentity

	channels   map[model.ChannelID]*channel.Channel
	namespaces map[model.DocID]map[string]struct{}
	crdtSubs   map[model.DocID]func()

	registry *ephemeral.Registry
	metrics  *obsmetrics.Metrics
	logger   *obslog.Logger

	readyListeners     []ReadyStateListener
	ephemeralListeners []EphemeralListener
	docListeners       map[model.DocID]map[int]DocChangeListener
	nextDocListenerID  int

	mailbox chan syncmachine.Message
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Runtime around a fresh synchronizer Model for self.
// metrics may be nil (no instrumentation, matching obsmetrics.New's
// documented once-per-process contract); logger nil defaults to a no-op
// logger.
func New(self model.PeerIdentity, ruleSet rules.Set, crdt syncmachine.CRDTProvider, logger *obslog.Logger, metrics *obsmetrics.Metrics) *Runtime {
	if logger == nil {
		logger = obslog.Nop()
	}
	m := syncmachine.New(self, ruleSet, crdt, logger)
	m.Metrics = metrics
	return &Runtime{
		model:        m,
		crdt:         crdt,
		self:         self,
		channels:     make(map[model.ChannelID]*channel.Channel),
		namespaces:   make(map[model.DocID]map[string]struct{}),
		crdtSubs:     make(map[model.DocID]func()),
		registry:     ephemeral.NewRegistry(),
		metrics:      metrics,
		logger:       logger,
		docListeners: make(map[model.DocID]map[int]DocChangeListener),
		mailbox:      make(chan syncmachine.Message, 4096),
	}
}

// Start spins up the serialized processing loop in the background. It
// returns immediately; the loop runs until ctx is cancelled or Stop is
// called.
func (r *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-r.mailbox:
				r.process(msg)
			}
		}
	}()
}

// Stop cancels the processing loop and any running heartbeat, and waits
// for both to exit.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Post enqueues msg for processing on the serialized loop. Safe to call
// from any goroutine, including adapter transport goroutines and CRDT
// native-subscription callbacks.
func (r *Runtime) Post(msg syncmachine.Message) {
	r.mailbox <- msg
}

// StartHeartbeat drives a periodic Heartbeat message at interval until ctx
// is cancelled (spec.md §4.3 "Heartbeat").
func (r *Runtime) StartHeartbeat(ctx context.Context, interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Post(syncmachine.Heartbeat{})
			}
		}
	}()
}

// Identity returns this runtime's own peer identity.
func (r *Runtime) Identity() model.PeerIdentity { return r.self }

// ReadyState returns docID's current ready-state snapshot.
func (r *Runtime) ReadyState(docID model.DocID) model.ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.ReadyState(docID)
}

// OnReadyStateChange registers a listener notified on every ready-state
// change, returning an unsubscribe function.
func (r *Runtime) OnReadyStateChange(l ReadyStateListener) func() {
	r.mu.Lock()
	r.readyListeners = append(r.readyListeners, l)
	idx := len(r.readyListeners) - 1
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.readyListeners) {
			r.readyListeners[idx] = nil
		}
	}
}

// OnEphemeralChange registers a listener notified on every local ephemeral
// key change (remote snapshots do not reach it), returning an unsubscribe
// function.
func (r *Runtime) OnEphemeralChange(l EphemeralListener) func() {
	r.mu.Lock()
	r.ephemeralListeners = append(r.ephemeralListeners, l)
	idx := len(r.ephemeralListeners) - 1
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.ephemeralListeners) {
			r.ephemeralListeners[idx] = nil
		}
	}
}

// OnDocChange registers a listener notified whenever docID's CRDT state
// mutates: on every DocChange message the runtime itself dispatches
// (ChangeDoc calls, including Handle.Change's), and additionally on every
// native change event a DocSubscriber-capable CRDTProvider reports for
// docID. Returns an unsubscribe function.
func (r *Runtime) OnDocChange(docID model.DocID, l DocChangeListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.docListeners[docID]
	if !ok {
		byID = make(map[int]DocChangeListener)
		r.docListeners[docID] = byID
	}
	id := r.nextDocListenerID
	r.nextDocListenerID++
	byID[id] = l
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.docListeners[docID], id)
	}
}

// EnsureDoc requests that docID exist locally.
func (r *Runtime) EnsureDoc(docID model.DocID) { r.Post(syncmachine.DocEnsure{DocID: docID}) }

// ChangeDoc reports that docID's CRDT state mutated locally, driving
// propagation to peers. Callers that supply a DocSubscriber-capable
// CRDTProvider don't normally need to call this directly: SubscribeDoc
// execution wires the library's own change feed to do it for them.
func (r *Runtime) ChangeDoc(docID model.DocID) { r.Post(syncmachine.DocChange{DocID: docID}) }

// DeleteDoc requests that docID be deleted locally and the deletion
// broadcast to subscribed peers.
func (r *Runtime) DeleteDoc(docID model.DocID) { r.Post(syncmachine.DocDelete{DocID: docID}) }

// EphemeralLocalChange reports a local ephemeral Set/Delete, driving
// gossip to subscribed peers.
func (r *Runtime) EphemeralLocalChange(docID model.DocID, namespace, key string, value []byte, present bool) {
	r.Post(syncmachine.EphemeralLocalChange{DocID: docID, Namespace: namespace, Key: key, Value: value, Present: present})
}

// EphemeralStore returns the (docID, namespace) ephemeral store, creating
// it on first use, and marks the namespace known for docID so a
// zero-namespace Heartbeat rebroadcast picks it up.
func (r *Runtime) EphemeralStore(docID model.DocID, namespace string) *ephemeral.Store {
	store := r.registry.GetOrCreate(docID, namespace)
	r.trackNamespace(docID, namespace)
	return store
}

// AttachAndStart wires adapter into the runtime and starts it, the usual
// sequence for a freshly constructed channel.Adapter (spec.md §4.1's
// created -> initialized -> started progression).
func (r *Runtime) AttachAndStart(adapter *channel.Adapter, interceptors ...channel.SendInterceptor) error {
	if err := r.AttachAdapter(adapter, interceptors...); err != nil {
		return err
	}
	return adapter.Start()
}

// Establish marks channelID connected and kicks off the handshake by
// dispatching establish-channel.
func (r *Runtime) Establish(channelID model.ChannelID) {
	r.mu.Lock()
	c, ok := r.channels[channelID]
	r.mu.Unlock()
	if ok {
		c.MarkConnected()
	}
	r.Post(syncmachine.EstablishChannel{ChannelID: channelID})
}

func (r *Runtime) trackNamespace(docID model.DocID, namespace string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.namespaces[docID]
	if !ok {
		set = make(map[string]struct{})
		r.namespaces[docID] = set
	}
	set[namespace] = struct{}{}
}

func (r *Runtime) emitReadyState(state model.ReadyState) {
	r.mu.Lock()
	listeners := append([]ReadyStateListener(nil), r.readyListeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		if l != nil {
			l(state)
		}
	}
}

func (r *Runtime) emitEphemeralChange(c syncmachine.EmitEphemeralChange) {
	r.mu.Lock()
	listeners := append([]EphemeralListener(nil), r.ephemeralListeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		if l != nil {
			l(c.DocID, c.Namespace, c.Key, c.Value, c.Present)
		}
	}
	if r.metrics != nil {
		if c.Present {
			r.metrics.EphemeralSetOps.Inc()
		} else {
			r.metrics.EphemeralDeleteOps.Inc()
		}
	}
}

func (r *Runtime) notifyDocChange(docID model.DocID) {
	r.mu.Lock()
	var listeners []DocChangeListener
	for _, l := range r.docListeners[docID] {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}

func (r *Runtime) subscribeDoc(docID model.DocID) error {
	sub, ok := r.crdt.(DocSubscriber)
	if !ok {
		return nil
	}
	r.mu.Lock()
	if _, exists := r.crdtSubs[docID]; exists {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	unsubscribe := sub.SubscribeDoc(docID, func() {
		r.Post(syncmachine.DocChange{DocID: docID})
		r.notifyDocChange(docID)
	})

	r.mu.Lock()
	r.crdtSubs[docID] = unsubscribe
	r.mu.Unlock()
	return nil
}
