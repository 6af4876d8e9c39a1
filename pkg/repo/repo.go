// Package repo implements the embedder-facing Handle façade spec.md §4.5
// describes: a per-document view backed by the shared CRDT instance and
// the runtime underneath it. It is adapted from the teacher's top-level
// pkg/knirvbase package — a thin public wrapper that validates
// construction options, constructs typed views on demand, and panics on
// genuine programmer errors (nil Repo, empty collection name) rather than
// returning an error for those — generalized from knirvbase's
// collection-per-name model to driftsync's document-per-id model.
package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/driftsync/core/internal/model"
	"github.com/driftsync/core/internal/obslog"
	"github.com/driftsync/core/internal/obsmetrics"
	"github.com/driftsync/core/internal/rules"
	"github.com/driftsync/core/internal/runtime"
	"github.com/driftsync/core/internal/syncmachine"
)

// Options configures a Repo, mirroring knirvbase.Options's plain-struct,
// zero-value-defaults shape rather than a functional-options API.
type Options struct {
	Self    model.PeerIdentity
	Rules   rules.Set
	CRDT    syncmachine.CRDTProvider
	Docs    DocStore
	Logger  *obslog.Logger
	Metrics *obsmetrics.Metrics
}

// Repo is the embedder-facing entry point: it owns the runtime and hands
// out per-document Handles.
type Repo struct {
	rt   *runtime.Runtime
	docs DocStore

	mu         sync.Mutex
	ephemerals map[model.DocID]map[string]*EphemeralStore
}

// New validates opts, constructs a Repo, and starts its runtime loop under
// ctx.
func New(ctx context.Context, opts Options) (*Repo, error) {
	if opts.CRDT == nil {
		return nil, fmt.Errorf("repo: CRDT provider cannot be nil")
	}
	if opts.Self.PeerID == "" {
		return nil, fmt.Errorf("repo: Self.PeerID cannot be empty")
	}
	if ctx == nil {
		return nil, fmt.Errorf("repo: context cannot be nil")
	}
	rt := runtime.New(opts.Self, opts.Rules, opts.CRDT, opts.Logger, opts.Metrics)
	rt.Start(ctx)
	return &Repo{
		rt:         rt,
		docs:       opts.Docs,
		ephemerals: make(map[model.DocID]map[string]*EphemeralStore),
	}, nil
}

// Runtime exposes the underlying runtime for advanced usage — wiring
// adapters, starting a heartbeat — mirroring the teacher's own
// DB.Raw()/RawCollection() escape hatches for internals a thin public
// wrapper would otherwise hide entirely.
func (r *Repo) Runtime() *runtime.Runtime {
	if r == nil {
		panic("repo: nil Repo")
	}
	return r.rt
}

// Doc returns the Handle for docID, ensuring the document exists locally.
func (r *Repo) Doc(docID model.DocID) *Handle {
	if r == nil {
		panic("repo: nil Repo")
	}
	if docID == "" {
		panic("repo: docID cannot be empty")
	}
	r.rt.EnsureDoc(docID)
	return &Handle{repo: r, docID: docID}
}

// Shutdown stops the runtime loop and any running heartbeat.
func (r *Repo) Shutdown() {
	r.rt.Stop()
}

func (r *Repo) registerEphemeral(docID model.DocID, name string, es *EphemeralStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.ephemerals[docID]
	if !ok {
		byName = make(map[string]*EphemeralStore)
		r.ephemerals[docID] = byName
	}
	byName[name] = es
}

func (r *Repo) lookupEphemeral(docID model.DocID, name string) (*EphemeralStore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.ephemerals[docID]
	if !ok {
		return nil, false
	}
	es, ok := byName[name]
	return es, ok
}
