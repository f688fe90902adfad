package retrieval

import (
	"context"
	"time"
)

// VectorStore is the persistence boundary for paragraph embeddings. Records
// live in named collections: MainCollection holds every paragraph and each
// division has its own collection named by CollectionName.
type VectorStore interface {
	// Insert adds records atomically; each record names its collection.
	Insert(ctx context.Context, records []Record) error

	// Search returns the topK records of a collection closest to vector,
	// ordered by distance ascending. An unknown collection yields no results.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]ScoredRecord, error)

	// GetByIDs returns records of a collection matching the given ids.
	GetByIDs(ctx context.Context, collection string, ids []string) ([]Record, error)

	// List returns every record of a collection matching filter, ordered by
	// book and paragraph index.
	List(ctx context.Context, collection string, filter Filter) ([]Record, error)

	// DeleteBook removes every record of a book from all collections. It
	// either removes all of them or none and reports the number removed.
	DeleteBook(ctx context.Context, bookID string) (int, error)

	// Count returns the number of records in a collection matching filter.
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	// Collections returns every collection with its record count.
	Collections(ctx context.Context) (map[string]int, error)
}

// Filter restricts a collection to a set of books. An empty filter matches
// everything.
type Filter struct {
	BookIDs []string
}

// Record is one stored paragraph.
type Record struct {
	ID             string
	Collection     string
	BookID         string
	BookName       string
	Document       string
	Embedding      []float32
	Divisions      Divisions
	Confidence     float64
	SourcePage     int
	PageEstimated  bool
	ParagraphIndex int
	CreatedAt      time.Time
}

// ScoredRecord is a Record with its cosine distance to the query vector
// (0 is identical, 2 is opposite).
type ScoredRecord struct {
	Record
	Distance float32
}
