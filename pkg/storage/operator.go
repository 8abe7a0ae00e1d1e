package storage

import (
	"context"
	"errors"

	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

var (
	// ErrNotFound is returned by Get and Update when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.New("store is closed")
)

// NoID stands in for a missing document id on the wire.
const NoID = "NONE"

// Document is a stored document and its id.
type Document struct {
	ID   string
	Data value.Map
}

// WithID returns a copy of the document's fields with "_id" set.
func (d Document) WithID() value.Map {
	out := d.Data.Clone()
	if out == nil {
		out = value.Map{}
	}
	id := d.ID
	if id == "" {
		id = NoID
	}
	out["_id"] = value.String(id)
	return out
}

// ChangeKind is the kind of a result-set change.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "ADDED"
	case Modified:
		return "MODIFIED"
	case Removed:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Change is one document entering, changing inside, or leaving a watched
// result set.
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// ChangeIterator streams the changes of a watched query. The first batch
// holds an Added change for every document matching when the watch was
// opened; later batches hold diffs in the order the store reports them.
type ChangeIterator interface {
	// Next blocks until the next non-empty batch, ctx is done, or the watch
	// fails. After Stop it returns ErrClosed.
	Next(ctx context.Context) ([]Change, error)
	// Stop releases the underlying subscription. Safe to call more than once.
	// Callers cancel the ctx of a pending Next before calling Stop.
	Stop()
}

// Store abstracts the blocking document database driver (Mongo, Firestore,
// badger, in-memory). Every call blocks until the driver answers.
type Store interface {
	// Create adds a document under a generated id and returns the id.
	Create(ctx context.Context, collection string, doc value.Map) (string, error)

	// NewID reserves a fresh document id without writing anything.
	NewID(ctx context.Context, collection string) (string, error)

	// Set writes doc at id, replacing any existing document.
	Set(ctx context.Context, collection, id string, doc value.Map) error

	// Get reads one document. Missing documents yield ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Update replaces the document at id, which must already exist.
	Update(ctx context.Context, collection, id string, doc value.Map) error

	// Delete removes the document at id. Deleting a missing document succeeds.
	Delete(ctx context.Context, collection, id string) error

	// Find runs a compiled query.
	Find(ctx context.Context, plan *query.Plan) ([]Document, error)

	// Watch opens a change listener for a compiled query.
	Watch(ctx context.Context, plan *query.Plan) (ChangeIterator, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying connection.
	Close(ctx context.Context) error
}
