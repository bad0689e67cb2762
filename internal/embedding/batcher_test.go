package embedding_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"documind/backend/internal/embedding"
	"documind/backend/internal/text"
)

type MockClient struct{ mock.Mock }

func (m *MockClient) Embed(ctx context.Context, content string) ([]float32, error) {
	args := m.Called(ctx, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockClient) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	args := m.Called(ctx, contents)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func fastOptions() embedding.Options {
	return embedding.Options{
		BatchSize:         100,
		MaxRetries:        3,
		RetryDelay:        time.Millisecond,
		BatchPause:        time.Millisecond,
		ExpectedDimension: 3,
	}
}

func makeChunks(n int) []text.Chunk {
	chunks := make([]text.Chunk, n)
	for i := range chunks {
		chunks[i] = text.Chunk{
			ID:      fmt.Sprintf("src-chunk-%d", i),
			Content: fmt.Sprintf("content %d", i),
			Metadata: text.ChunkMetadata{
				SourceID:   "src",
				SourceName: "doc.txt",
				ChunkIndex: i,
			},
		}
	}
	return chunks
}

func TestChunksToRecords(t *testing.T) {
	client := new(MockClient)
	b := embedding.NewBatcher(client, fastOptions())

	chunks := makeChunks(3)
	client.On("EmbedBatch", mock.Anything, []string{"content 0", "content 1", "content 2"}).
		Return([][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}, {0.7, 0.8, 0.9}}, nil)

	records, err := b.ChunksToRecords(context.Background(), chunks, "local", "alice")
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i, r := range records {
		assert.Equal(t, chunks[i].ID, r.ID)
		assert.Equal(t, chunks[i].Content, r.Metadata.Content)
		assert.Equal(t, i, r.Metadata.ChunkIndex)
		assert.Equal(t, "local", r.Metadata.Origin)
		assert.Equal(t, "alice", r.Metadata.OwnerID)
	}
	client.AssertExpectations(t)
}

func TestChunksToRecords_Empty(t *testing.T) {
	client := new(MockClient)
	b := embedding.NewBatcher(client, fastOptions())

	records, err := b.ChunksToRecords(context.Background(), nil, "local", "")
	require.NoError(t, err)
	assert.Empty(t, records)
	client.AssertNotCalled(t, "EmbedBatch")
}

func TestChunksToRecords_Batching(t *testing.T) {
	opts := fastOptions()
	opts.BatchSize = 2
	client := new(MockClient)
	b := embedding.NewBatcher(client, opts)

	chunks := makeChunks(3)
	client.On("EmbedBatch", mock.Anything, []string{"content 0", "content 1"}).
		Return([][]float32{{1, 1, 1}, {2, 2, 2}}, nil).Once()
	client.On("EmbedBatch", mock.Anything, []string{"content 2"}).
		Return([][]float32{{3, 3, 3}}, nil).Once()

	records, err := b.ChunksToRecords(context.Background(), chunks, "drive", "bob")
	require.NoError(t, err)
	assert.Len(t, records, 3)
	client.AssertExpectations(t)
}

func TestChunksToRecords_AlignmentViolation(t *testing.T) {
	client := new(MockClient)
	b := embedding.NewBatcher(client, fastOptions())

	client.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 2, 3}}, nil)

	_, err := b.ChunksToRecords(context.Background(), makeChunks(2), "local", "")
	assert.ErrorIs(t, err, embedding.ErrVectorMismatch)
}

func TestChunksToRecords_DropsEmptyVectors(t *testing.T) {
	client := new(MockClient)
	b := embedding.NewBatcher(client, fastOptions())

	client.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 2, 3}, {}, {4, 5, 6}}, nil)

	records, err := b.ChunksToRecords(context.Background(), makeChunks(3), "local", "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "src-chunk-0", records[0].ID)
	assert.Equal(t, "src-chunk-2", records[1].ID)
}

func TestChunksToRecords_NonFiniteVector(t *testing.T) {
	client := new(MockClient)
	b := embedding.NewBatcher(client, fastOptions())

	client.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, float32(math.NaN()), 3}}, nil)

	_, err := b.ChunksToRecords(context.Background(), makeChunks(1), "local", "")
	assert.Error(t, err)
}

func TestEmbedWithRetry(t *testing.T) {
	client := new(MockClient)
	b := embedding.NewBatcher(client, fastOptions())

	client.On("Embed", mock.Anything, "query").
		Return(nil, errors.New("rate limited")).Twice()
	client.On("Embed", mock.Anything, "query").
		Return([]float32{1, 2, 3}, nil).Once()

	vec, err := b.EmbedWithRetry(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	client.AssertExpectations(t)
}

func TestEmbedWithRetry_Exhausted(t *testing.T) {
	client := new(MockClient)
	b := embedding.NewBatcher(client, fastOptions())

	client.On("Embed", mock.Anything, mock.Anything).
		Return(nil, errors.New("down")).Times(3)

	_, err := b.EmbedWithRetry(context.Background(), "query")
	assert.ErrorIs(t, err, embedding.ErrEmbedding)
	client.AssertExpectations(t)
}
