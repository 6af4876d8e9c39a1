package syncmachine

import (
	"github.com/driftsync/core/internal/clock"
	"github.com/driftsync/core/internal/model"
)

// CRDTProvider is the small interface through which the synchronizer talks
// to the CRDT library, which is otherwise entirely out of scope (spec.md
// §1 "deliberately out of scope ... the CRDT library itself"). The
// synchronizer calls it synchronously: document state is in-memory and
// mutating it is not I/O, so doing so inside the reducer keeps the
// reducer's observable behavior a pure function of (message, model) without
// a round-trip through the runtime (spec.md §9 design note (a)).
type CRDTProvider interface {
	// Ensure creates an empty document for docID if one does not already
	// exist and reports whether it did so.
	Ensure(docID model.DocID) (created bool)
	Exists(docID model.DocID) bool
	Delete(docID model.DocID)

	// Version returns the current version vector of docID.
	Version(docID model.DocID) clock.Vector
	// Export returns a full snapshot of docID.
	Export(docID model.DocID) []byte
	// Delta returns the update bytes needed to bring a replica at from up
	// to docID's current version.
	Delta(docID model.DocID, from clock.Vector) []byte
	// Import applies snapshot or delta bytes to docID, merging with
	// whatever is already there, and returns the version after merging.
	Import(docID model.DocID, bytes []byte) (clock.Vector, error)
}
