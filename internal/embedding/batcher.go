package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"documind/backend/internal/text"
	"documind/backend/internal/vector"
)

var (
	// ErrEmbedding is returned when the embedding capability stays
	// unreachable after all retries.
	ErrEmbedding = errors.New("embedding unavailable")

	// ErrVectorMismatch is returned when the capability responds with a
	// different number of vectors than texts sent. Pairing positionally
	// past this point would silently mis-label vectors.
	ErrVectorMismatch = errors.New("embedding count does not match batch size")
)

// Client is the external embedding capability. Returned vectors must be
// positionally aligned with the input texts.
type Client interface {
	Embed(ctx context.Context, content string) ([]float32, error)
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
}

type Options struct {
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
	// BatchPause is the fixed pacing delay between batch requests,
	// respecting external rate limits.
	BatchPause time.Duration
	// ExpectedDimension is advisory; deviation is warned, not fatal.
	ExpectedDimension int
}

func DefaultOptions() Options {
	return Options{
		BatchSize:         100,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		BatchPause:        100 * time.Millisecond,
		ExpectedDimension: 1536,
	}
}

// Batcher converts chunks into vector records. Pure orchestration over the
// Client boundary; it owns nothing persisted.
type Batcher struct {
	client Client
	opts   Options
}

func NewBatcher(client Client, opts Options) *Batcher {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.BatchPause <= 0 {
		opts.BatchPause = def.BatchPause
	}
	if opts.ExpectedDimension <= 0 {
		opts.ExpectedDimension = def.ExpectedDimension
	}
	return &Batcher{client: client, opts: opts}
}

// ChunksToRecords embeds every chunk and pairs vectors back by position,
// after verifying the alignment invariant per batch. Records whose vector
// came back empty are dropped rather than upserted with a null vector.
func (b *Batcher) ChunksToRecords(ctx context.Context, chunks []text.Chunk, origin, ownerID string) ([]vector.Record, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(chunks))

	for start := 0; start < len(chunks); start += b.opts.BatchSize {
		end := start + b.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		contents := make([]string, len(batch))
		for i, c := range batch {
			contents[i] = c.Content
		}

		got, err := b.client.EmbedBatch(ctx, contents)
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d: %v", ErrEmbedding, start/b.opts.BatchSize+1, err)
		}
		if len(got) != len(batch) {
			return nil, fmt.Errorf("%w: sent %d, got %d", ErrVectorMismatch, len(batch), len(got))
		}
		vectors = append(vectors, got...)

		if end < len(chunks) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.opts.BatchPause):
			}
		}
	}

	now := time.Now().UTC()
	records := make([]vector.Record, 0, len(chunks))
	for i, c := range chunks {
		vec := vectors[i]
		if len(vec) == 0 {
			slog.WarnContext(ctx, "dropping chunk with empty embedding", "chunk_id", c.ID)
			continue
		}
		if err := b.ValidateVector(ctx, vec); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		records = append(records, vector.Record{
			ID:     c.ID,
			Vector: vec,
			Metadata: vector.RecordMetadata{
				Content:    c.Content,
				SourceID:   c.Metadata.SourceID,
				SourceName: c.Metadata.SourceName,
				ChunkIndex: c.Metadata.ChunkIndex,
				StartChar:  c.Metadata.StartChar,
				EndChar:    c.Metadata.EndChar,
				Tokens:     c.Metadata.EstimatedTokens,
				Origin:     origin,
				OwnerID:    ownerID,
				CreatedAt:  now,
			},
		})
	}

	slog.InfoContext(ctx, "chunks embedded", "chunks", len(chunks), "records", len(records))
	return records, nil
}

// EmbedWithRetry embeds a single text with linear backoff, used for ad-hoc
// requests outside the batch path (query embedding).
func (b *Batcher) EmbedWithRetry(ctx context.Context, content string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= b.opts.MaxRetries; attempt++ {
		vec, err := b.client.Embed(ctx, content)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		slog.WarnContext(ctx, "embedding attempt failed", "attempt", attempt, "error", err)

		if attempt < b.opts.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.opts.RetryDelay * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrEmbedding, lastErr)
}

// ValidateVector rejects non-finite values; a dimension deviating from the
// expected constant is only warned.
func (b *Batcher) ValidateVector(ctx context.Context, vec []float32) error {
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite value at position %d", i)
		}
	}
	if len(vec) != b.opts.ExpectedDimension {
		slog.WarnContext(ctx, "unexpected embedding dimension", "got", len(vec), "expected", b.opts.ExpectedDimension)
	}
	return nil
}
