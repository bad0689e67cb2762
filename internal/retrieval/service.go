package retrieval

import (
	"context"
	"fmt"
	"time"

	"documind/backend/internal/middleware"
	"documind/backend/internal/vector"
)

const DefaultTopK = 5

type SearchResult struct {
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
	SourceID   string  `json:"sourceId,omitempty"`
	SourceName string  `json:"sourceName,omitempty"`
	ChunkIndex int     `json:"chunkIndex"`
	Origin     string  `json:"origin,omitempty"`
	OwnerID    string  `json:"ownerId,omitempty"`
}

type SearchOptions struct {
	TopK *int
}

// Embedder embeds the query text with the same model the ingestion side
// uses, so query and chunk vectors live in one space.
type Embedder interface {
	EmbedWithRetry(ctx context.Context, text string) ([]float32, error)
}

type Service struct {
	embedder  Embedder
	index     vector.IndexClient
	indexName string
	logger    *QueryLogger
}

func NewService(e Embedder, idx vector.IndexClient, indexName string, l *QueryLogger) *Service {
	return &Service{embedder: e, index: idx, indexName: indexName, logger: l}
}

// Search embeds the query and returns the topK nearest chunks.
func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	start := time.Now()

	topK := DefaultTopK
	if opts != nil && opts.TopK != nil && *opts.TopK > 0 {
		topK = *opts.TopK
	}

	vec, err := s.embedder.EmbedWithRetry(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := s.index.Query(ctx, s.indexName, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			Content:    m.Metadata.Content,
			Score:      m.Score,
			SourceID:   m.Metadata.SourceID,
			SourceName: m.Metadata.SourceName,
			ChunkIndex: m.Metadata.ChunkIndex,
			Origin:     m.Metadata.Origin,
			OwnerID:    m.Metadata.OwnerID,
		})
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:         query,
			TopK:          topK,
			NumResults:    len(results),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
	}
	return results, nil
}
