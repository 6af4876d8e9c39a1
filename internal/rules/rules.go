// Package rules holds the four synchronous permission predicates woven into
// the synchronizer state machine. They are pure functions of their inputs —
// spec.md §3 invariant 5 requires they never be re-evaluated against
// mutated state, so callers must snapshot whatever context they pass in
// before the reducer call that consumes it.
package rules

import "github.com/driftsync/core/internal/model"

// DocContext is the document-side input to a predicate.
type DocContext struct {
	DocID model.DocID
	// Exists is false when the predicate is being asked about a document
	// that has not yet been admitted locally (relevant to Creation).
	Exists bool
}

// PeerContext is the peer-side input to a predicate.
type PeerContext struct {
	Identity      model.PeerIdentity
	Subscriptions map[model.DocID]struct{}
}

// VisibilityFunc decides whether peer may learn about or receive doc at all
// (directory listings, new-doc announcements, sync responses).
type VisibilityFunc func(doc DocContext, peer PeerContext) bool

// MutabilityFunc decides whether a snapshot/update from peer may be applied
// to the local CRDT for doc.
type MutabilityFunc func(doc DocContext, peer PeerContext) bool

// CreationFunc decides whether peer may cause doc to be created locally by
// requesting or announcing it.
type CreationFunc func(doc DocContext, peer PeerContext) bool

// DeletionFunc decides whether peer may delete doc locally via
// delete-request. Default-deny: embedders must opt in explicitly.
type DeletionFunc func(doc DocContext, peer PeerContext) bool

// Set bundles the four predicates the synchronizer consults. A nil field
// falls back to the corresponding Allow/Deny default via Defaulted.
type Set struct {
	Visibility VisibilityFunc
	Mutability MutabilityFunc
	Creation   CreationFunc
	Deletion   DeletionFunc
}

// AllowAll is a VisibilityFunc/MutabilityFunc/CreationFunc that always
// permits — the permissive default for visibility, mutability, and
// creation.
func AllowAll(DocContext, PeerContext) bool { return true }

// DenyAll always denies — the conservative default for deletion.
func DenyAll(DocContext, PeerContext) bool { return false }

// Defaulted returns a Set with every nil predicate replaced by its spec.md
// default: visibility/mutability/creation permissive, deletion
// default-deny.
func Defaulted(s Set) Set {
	if s.Visibility == nil {
		s.Visibility = AllowAll
	}
	if s.Mutability == nil {
		s.Mutability = AllowAll
	}
	if s.Creation == nil {
		s.Creation = AllowAll
	}
	if s.Deletion == nil {
		s.Deletion = DenyAll
	}
	return s
}

// SubscriptionBypass wraps a VisibilityFunc so that a peer already
// subscribed to doc always passes, regardless of what the underlying
// predicate says — "subscription means prior reveal" (spec.md §4.3
// "Discovery", and the Open Question confirming the bypass applies
// uniformly).
func SubscriptionBypass(inner VisibilityFunc) VisibilityFunc {
	return func(doc DocContext, peer PeerContext) bool {
		if _, subscribed := peer.Subscriptions[doc.DocID]; subscribed {
			return true
		}
		return inner(doc, peer)
	}
}
