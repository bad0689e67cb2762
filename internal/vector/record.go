package vector

import (
	"context"
	"time"
)

// Record is one vectorized chunk, keyed by the chunk's deterministic id so
// repeated upserts of the same source are last-write-wins.
type Record struct {
	ID       string
	Vector   []float32
	Metadata RecordMetadata
}

type RecordMetadata struct {
	Content    string
	SourceID   string
	SourceName string
	ChunkIndex int
	StartChar  int
	EndChar    int
	Tokens     int
	Origin     string
	OwnerID    string
	CreatedAt  time.Time
}

// ScoredRecord is a query match, ordered by the index's own similarity
// ranking.
type ScoredRecord struct {
	ID       string
	Score    float32
	Metadata RecordMetadata
}

// IndexClient manages a named vector collection.
type IndexClient interface {
	// EnsureIndex creates the index if absent and returns the sanitized
	// name actually used. Safe to call before every ingestion.
	EnsureIndex(ctx context.Context, name string, dimension int) (string, error)

	// Upsert writes records in batches, failing fast on the first batch
	// error. Batches committed before a failure stay committed.
	Upsert(ctx context.Context, indexName string, records []Record) error

	// Query returns the topK nearest records with metadata.
	Query(ctx context.Context, indexName string, vec []float32, topK int) ([]ScoredRecord, error)
}
