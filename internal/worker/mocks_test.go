package worker_test

import (
	"context"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/mock"

	"documind/backend/features/document"
	"documind/backend/internal/text"
	"documind/backend/internal/vector"
)

func newMessage(body string) *nsq.Message {
	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")
	m := nsq.NewMessage(id, []byte(body))
	m.Attempts = 1
	return m
}

type MockJobTracker struct{ mock.Mock }

func (m *MockJobTracker) JobKnown(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *MockJobTracker) MarkActive(ctx context.Context, id string, attempts int) error {
	args := m.Called(ctx, id, attempts)
	return args.Error(0)
}
func (m *MockJobTracker) MarkCompleted(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockJobTracker) MarkFailed(ctx context.Context, id, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

type MockDocRepo struct{ mock.Mock }

func (m *MockDocRepo) Save(ctx context.Context, doc *document.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}
func (m *MockDocRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}
func (m *MockDocRepo) List(ctx context.Context) ([]document.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.Document), args.Error(1)
}
func (m *MockDocRepo) FindProcessable(ctx context.Context) ([]document.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.Document), args.Error(1)
}
func (m *MockDocRepo) Claim(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *MockDocRepo) SetStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}
func (m *MockDocRepo) MarkCompleted(ctx context.Context, id string, chunks int, at time.Time) error {
	args := m.Called(ctx, id, chunks, at)
	return args.Error(0)
}
func (m *MockDocRepo) ResetForRetry(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type MockExtractor struct{ mock.Mock }

func (m *MockExtractor) ExtractRemote(ctx context.Context, sourceURL, mimeType string) (string, error) {
	args := m.Called(ctx, sourceURL, mimeType)
	return args.String(0), args.Error(1)
}

type MockVectorizer struct{ mock.Mock }

func (m *MockVectorizer) ChunksToRecords(ctx context.Context, chunks []text.Chunk, origin, ownerID string) ([]vector.Record, error) {
	args := m.Called(ctx, chunks, origin, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.Record), args.Error(1)
}

type MockIndexClient struct{ mock.Mock }

func (m *MockIndexClient) EnsureIndex(ctx context.Context, name string, dimension int) (string, error) {
	args := m.Called(ctx, name, dimension)
	return args.String(0), args.Error(1)
}
func (m *MockIndexClient) Upsert(ctx context.Context, indexName string, records []vector.Record) error {
	args := m.Called(ctx, indexName, records)
	return args.Error(0)
}
func (m *MockIndexClient) Query(ctx context.Context, indexName string, vec []float32, topK int) ([]vector.ScoredRecord, error) {
	args := m.Called(ctx, indexName, vec, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.ScoredRecord), args.Error(1)
}
