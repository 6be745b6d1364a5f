// Package vectorstore provides interfaces and implementations for vector similarity search.
package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrCollectionNotFound is returned when the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrUnavailable is returned when the vector database cannot be reached
	// or does not answer within the caller's deadline.
	ErrUnavailable = errors.New("vector store unavailable")
)

// Point is a passage with its embedding, ready to be written to a collection.
type Point struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// ScoredPoint is a raw search hit. Payload holds every stored field,
// including the passage text, with scalar values decoded to Go types.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// VectorStore defines the interface for vector storage operations
type VectorStore interface {
	// Search returns up to limit points ordered by descending similarity.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error)

	// CollectionExists checks if a collection exists
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// CreateCollection creates a cosine-distance collection of the given dimension.
	CreateCollection(ctx context.Context, collection string, dimension int) error

	// Upsert inserts or updates points in a collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
