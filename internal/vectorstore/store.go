// Package vectorstore provides vector database abstractions for storyd.
//
// Stores operate on precomputed vectors: embedding happens upstream, so a
// single store instance can hold collections produced by different embedding
// models side by side. Two backends are provided: chromem (embedded, pure Go)
// and qdrant (remote, gRPC).
package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrCollectionNotFound indicates the collection doesn't exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDocumentNotFound indicates no document exists with the given ID.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEmptyDocuments indicates no documents were provided.
	ErrEmptyDocuments = errors.New("no documents provided")

	// ErrMissingVector indicates a document was provided without a vector.
	ErrMissingVector = errors.New("document has no vector")

	// ErrMissingID indicates a document was provided without an ID.
	ErrMissingID = errors.New("document has no id")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptySelector indicates a delete was requested without IDs or filter.
	ErrEmptySelector = errors.New("no ids or filter provided")

	// ErrUnknownVectorSize indicates the store cannot determine the vector
	// size of a collection, which is required for metadata scans.
	ErrUnknownVectorSize = errors.New("unknown vector size for collection")
)

// Document is a stored vector with its source text and metadata.
//
// Metadata values are string, int, int64, float64 or bool. Backends that
// only store strings convert on the way in and hand back strings on the
// way out; numeric filters coerce either representation.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// Match is a search result with its cosine similarity to the query.
type Match struct {
	Document
	Score float32
}

// Store is the interface vector database backends implement.
//
// Collections are created lazily by callers via EnsureCollection; read
// operations on a missing collection return ErrCollectionNotFound rather
// than creating it.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	// vectorSize fixes the dimensionality of all vectors in the collection.
	EnsureCollection(ctx context.Context, name string, vectorSize int, metadata map[string]string) error

	// DeleteCollection removes the collection and all its documents.
	// Deleting a missing collection is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// ListCollections returns all collection names, sorted.
	ListCollections(ctx context.Context) ([]string, error)

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, name string) (int, error)

	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, name string, docs []Document) error

	// Get retrieves a single document by ID.
	Get(ctx context.Context, name string, id string) (*Document, error)

	// Query returns the k documents most similar to the given vector,
	// restricted to those matching the filter. Results are ordered by
	// descending similarity.
	Query(ctx context.Context, name string, vector []float32, k int, filter *Filter) ([]Match, error)

	// Scan returns documents matching the filter without ranking.
	// limit <= 0 returns all matches.
	Scan(ctx context.Context, name string, filter *Filter, limit int) ([]Document, error)

	// Delete removes documents by ID or by filter. At least one of ids
	// or filter must be given.
	Delete(ctx context.Context, name string, filter *Filter, ids ...string) error

	// Close releases backend resources.
	Close() error
}
