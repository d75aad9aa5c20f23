// Package remote defines the narrow interface the sync core requires from
// the remote document database, plus an in-memory implementation used by
// tests and local development.
//
// The remote store is a generic key-collection document database: documents
// are addressed by string IDs within named collections and written via
// whole-document upsert. The wire protocol behind a Store implementation is
// deliberately out of scope here.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// Collection names used by the sync core.
const (
	CollectionPlayers     = "players"
	CollectionMatches     = "matches"
	CollectionGameRecords = "gameRecords"
)

// ErrNotFound is returned by Collection.Get for a missing document.
var ErrNotFound = errors.New("remote: document not found")

// Doc is one remote document: its ID and its JSON body.
type Doc struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Snapshot is a full-collection snapshot delivered on every change while a
// subscription is open.
type Snapshot struct {
	Collection string `json:"collection"`
	Docs       []Doc  `json:"docs"`
}

// Store is the remote document database.
type Store interface {
	// Collection returns a handle to a named collection. The handle is cheap
	// and safe to use from multiple goroutines.
	Collection(name string) Collection
}

// Collection is the operation surface the core issues against one named
// collection. All writes are idempotent whole-document upserts; there is no
// field-level merge (last write wins).
type Collection interface {
	// Get fetches one document. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, id string) (json.RawMessage, error)

	// Upsert writes a whole document, creating or replacing it.
	Upsert(ctx context.Context, id string, doc json.RawMessage) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, id string) error

	// Query returns every document whose given top-level field equals value.
	Query(ctx context.Context, field, value string) ([]Doc, error)

	// List returns the entire collection.
	List(ctx context.Context) ([]Doc, error)

	// Subscribe opens a stream of full-collection snapshots, delivered on
	// every change until the returned stop function is called or ctx ends.
	// An initial snapshot is delivered promptly after subscribing.
	Subscribe(ctx context.Context) (<-chan Snapshot, func(), error)

	// BatchUpsert writes many documents together.
	BatchUpsert(ctx context.Context, docs []Doc) error

	// BatchDelete removes many documents together.
	BatchDelete(ctx context.Context, ids []string) error
}
