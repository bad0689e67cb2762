package worker_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"documind/backend/features/document"
	"documind/backend/internal/extract"
	"documind/backend/internal/text"
	"documind/backend/internal/vector"
	"documind/backend/internal/worker"
)

func newWorker(jobs *MockJobTracker, docs *MockDocRepo, ex *MockExtractor, v *MockVectorizer, idx *MockIndexClient) *worker.IngestionWorker {
	return worker.NewIngestionWorker(jobs, docs, ex, v, idx, worker.Options{
		IndexName:      "documind",
		IndexDimension: 3,
	})
}

func TestHandleMessage_EmptyBodyAcked(t *testing.T) {
	jobs := new(MockJobTracker)
	w := newWorker(jobs, new(MockDocRepo), new(MockExtractor), new(MockVectorizer), new(MockIndexClient))

	require.NoError(t, w.HandleMessage(newMessage("")))
	jobs.AssertNotCalled(t, "JobKnown", mock.Anything, mock.Anything)
}

func TestHandleMessage_MalformedBodyAcked(t *testing.T) {
	jobs := new(MockJobTracker)
	w := newWorker(jobs, new(MockDocRepo), new(MockExtractor), new(MockVectorizer), new(MockIndexClient))

	// Returning nil acks the message so a poison pill is never redelivered.
	require.NoError(t, w.HandleMessage(newMessage(`{"jobId":"j1","kind":"bogus"}`)))
	jobs.AssertNotCalled(t, "JobKnown", mock.Anything, mock.Anything)
}

func TestHandleMessage_RemovedJobAcked(t *testing.T) {
	jobs := new(MockJobTracker)
	jobs.On("JobKnown", mock.Anything, "j1").Return(false, nil)
	v := new(MockVectorizer)
	w := newWorker(jobs, new(MockDocRepo), new(MockExtractor), v, new(MockIndexClient))

	require.NoError(t, w.HandleMessage(newMessage(`{"jobId":"j1","kind":"inline","data":{"ownerId":"a","fileName":"f","content":"x","origin":"drive"}}`)))
	v.AssertNotCalled(t, "ChunksToRecords", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleMessage_InlineJob(t *testing.T) {
	jobs := new(MockJobTracker)
	v := new(MockVectorizer)
	idx := new(MockIndexClient)
	w := newWorker(jobs, new(MockDocRepo), new(MockExtractor), v, idx)

	jobs.On("JobKnown", mock.Anything, "j1").Return(true, nil)
	jobs.On("MarkActive", mock.Anything, "j1", 1).Return(nil)
	v.On("ChunksToRecords", mock.Anything, mock.MatchedBy(func(chunks []text.Chunk) bool {
		return len(chunks) == 1 && chunks[0].Metadata.SourceID == "src-9" && chunks[0].Content == "hello world"
	}), "drive", "alice").Return([]vector.Record{{ID: "src-9-chunk-0", Vector: []float32{1, 0, 0}}}, nil)
	idx.On("EnsureIndex", mock.Anything, "documind", 3).Return("documind", nil)
	idx.On("Upsert", mock.Anything, "documind", mock.Anything).Return(nil)
	jobs.On("MarkCompleted", mock.Anything, "j1").Return(nil)

	body := `{"jobId":"j1","kind":"inline","data":{"ownerId":"alice","fileName":"notes.txt","content":"hello world","origin":"drive","stableSourceId":"src-9"}}`
	require.NoError(t, w.HandleMessage(newMessage(body)))

	jobs.AssertExpectations(t)
	v.AssertExpectations(t)
	idx.AssertExpectations(t)
}

func TestHandleMessage_SingleDocument(t *testing.T) {
	jobs := new(MockJobTracker)
	docs := new(MockDocRepo)
	ex := new(MockExtractor)
	v := new(MockVectorizer)
	idx := new(MockIndexClient)
	w := newWorker(jobs, docs, ex, v, idx)

	jobs.On("JobKnown", mock.Anything, "j1").Return(true, nil)
	jobs.On("MarkActive", mock.Anything, "j1", 1).Return(nil)
	docs.On("Get", mock.Anything, "doc-1").Return(&document.Document{
		ID: "doc-1", Name: "report.pdf", SourceURL: "https://files/report.pdf", MimeType: "application/pdf", OwnerID: "alice",
	}, nil)
	docs.On("Claim", mock.Anything, "doc-1").Return(true, nil)
	ex.On("ExtractRemote", mock.Anything, "https://files/report.pdf", "application/pdf").Return("extracted body", nil)
	v.On("ChunksToRecords", mock.Anything, mock.Anything, "local", "alice").
		Return([]vector.Record{{ID: "doc-1-chunk-0", Vector: []float32{1, 0, 0}}}, nil)
	idx.On("EnsureIndex", mock.Anything, "documind", 3).Return("documind", nil)
	idx.On("Upsert", mock.Anything, "documind", mock.Anything).Return(nil)
	docs.On("MarkCompleted", mock.Anything, "doc-1", 1, mock.Anything).Return(nil)
	jobs.On("MarkCompleted", mock.Anything, "j1").Return(nil)

	body := `{"jobId":"j1","kind":"file","fileRef":{"documentId":"doc-1"}}`
	require.NoError(t, w.HandleMessage(newMessage(body)))
	docs.AssertExpectations(t)
}

func TestHandleMessage_ClaimLostSkips(t *testing.T) {
	jobs := new(MockJobTracker)
	docs := new(MockDocRepo)
	ex := new(MockExtractor)
	w := newWorker(jobs, docs, ex, new(MockVectorizer), new(MockIndexClient))

	jobs.On("JobKnown", mock.Anything, "j1").Return(true, nil)
	jobs.On("MarkActive", mock.Anything, "j1", 1).Return(nil)
	docs.On("Get", mock.Anything, "doc-1").Return(&document.Document{ID: "doc-1"}, nil)
	docs.On("Claim", mock.Anything, "doc-1").Return(false, nil)
	jobs.On("MarkCompleted", mock.Anything, "j1").Return(nil)

	body := `{"jobId":"j1","kind":"file","fileRef":{"documentId":"doc-1"}}`
	require.NoError(t, w.HandleMessage(newMessage(body)))
	ex.AssertNotCalled(t, "ExtractRemote", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleMessage_EmptyContentFailsDocumentWithoutRetry(t *testing.T) {
	jobs := new(MockJobTracker)
	docs := new(MockDocRepo)
	ex := new(MockExtractor)
	w := newWorker(jobs, docs, ex, new(MockVectorizer), new(MockIndexClient))

	jobs.On("JobKnown", mock.Anything, "j1").Return(true, nil)
	jobs.On("MarkActive", mock.Anything, "j1", 1).Return(nil)
	docs.On("Get", mock.Anything, "doc-1").Return(&document.Document{ID: "doc-1", SourceURL: "u"}, nil)
	docs.On("Claim", mock.Anything, "doc-1").Return(true, nil)
	ex.On("ExtractRemote", mock.Anything, mock.Anything, mock.Anything).Return("", extract.ErrEmptyContent)
	docs.On("SetStatus", mock.Anything, "doc-1", document.StatusFailed).Return(nil)
	jobs.On("MarkCompleted", mock.Anything, "j1").Return(nil)

	body := `{"jobId":"j1","kind":"file","fileRef":{"documentId":"doc-1"}}`
	require.NoError(t, w.HandleMessage(newMessage(body)))
	docs.AssertExpectations(t)
}

func TestHandleMessage_TransientExtractErrorRequeues(t *testing.T) {
	jobs := new(MockJobTracker)
	docs := new(MockDocRepo)
	ex := new(MockExtractor)
	w := newWorker(jobs, docs, ex, new(MockVectorizer), new(MockIndexClient))

	jobs.On("JobKnown", mock.Anything, "j1").Return(true, nil)
	jobs.On("MarkActive", mock.Anything, "j1", 1).Return(nil)
	docs.On("Get", mock.Anything, "doc-1").Return(&document.Document{ID: "doc-1", SourceURL: "u"}, nil)
	docs.On("Claim", mock.Anything, "doc-1").Return(true, nil)
	ex.On("ExtractRemote", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("connection reset"))
	docs.On("SetStatus", mock.Anything, "doc-1", document.StatusFailed).Return(nil)

	body := `{"jobId":"j1","kind":"file","fileRef":{"documentId":"doc-1"}}`
	err := w.HandleMessage(newMessage(body))
	require.Error(t, err)
	jobs.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
}

func TestHandleMessage_BatchContinuesPastFailures(t *testing.T) {
	jobs := new(MockJobTracker)
	docs := new(MockDocRepo)
	ex := new(MockExtractor)
	v := new(MockVectorizer)
	idx := new(MockIndexClient)
	w := newWorker(jobs, docs, ex, v, idx)

	jobs.On("JobKnown", mock.Anything, "rebuild-170").Return(true, nil)
	jobs.On("MarkActive", mock.Anything, "rebuild-170", 1).Return(nil)
	docs.On("FindProcessable", mock.Anything).Return([]document.Document{
		{ID: "doc-1", SourceURL: "u1", OwnerID: "alice"},
		{ID: "doc-2", SourceURL: "u2", OwnerID: "alice"},
	}, nil)
	docs.On("Claim", mock.Anything, "doc-1").Return(true, nil)
	docs.On("Claim", mock.Anything, "doc-2").Return(true, nil)
	ex.On("ExtractRemote", mock.Anything, "u1", mock.Anything).Return("", errors.New("boom"))
	ex.On("ExtractRemote", mock.Anything, "u2", mock.Anything).Return("good content", nil)
	docs.On("SetStatus", mock.Anything, "doc-1", document.StatusFailed).Return(nil)
	v.On("ChunksToRecords", mock.Anything, mock.Anything, "local", "alice").
		Return([]vector.Record{{ID: "doc-2-chunk-0", Vector: []float32{0, 1, 0}}}, nil)
	idx.On("EnsureIndex", mock.Anything, "documind", 3).Return("documind", nil)
	idx.On("Upsert", mock.Anything, "documind", mock.Anything).Return(nil)
	docs.On("MarkCompleted", mock.Anything, "doc-2", 1, mock.Anything).Return(nil)
	jobs.On("MarkCompleted", mock.Anything, "rebuild-170").Return(nil)

	body := `{"jobId":"rebuild-170","kind":"file"}`
	require.NoError(t, w.HandleMessage(newMessage(body)))
	docs.AssertExpectations(t)
	jobs.AssertExpectations(t)
}

func TestLogFailedMessage(t *testing.T) {
	jobs := new(MockJobTracker)
	jobs.On("MarkFailed", mock.Anything, "j1", "max attempts exhausted").Return(nil)
	w := newWorker(jobs, new(MockDocRepo), new(MockExtractor), new(MockVectorizer), new(MockIndexClient))

	m := newMessage(`{"jobId":"j1","kind":"file","fileRef":{"documentId":"doc-1"}}`)
	m.Attempts = 3
	w.LogFailedMessage(m)
	jobs.AssertExpectations(t)
}

func TestHandleMessage_UpsertFailureRequeues(t *testing.T) {
	jobs := new(MockJobTracker)
	v := new(MockVectorizer)
	idx := new(MockIndexClient)
	w := newWorker(jobs, new(MockDocRepo), new(MockExtractor), v, idx)

	jobs.On("JobKnown", mock.Anything, "j1").Return(true, nil)
	jobs.On("MarkActive", mock.Anything, "j1", 1).Return(nil)
	v.On("ChunksToRecords", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]vector.Record{{ID: "r0", Vector: []float32{1}}}, nil)
	idx.On("EnsureIndex", mock.Anything, "documind", 3).Return("documind", nil)
	idx.On("Upsert", mock.Anything, "documind", mock.Anything).Return(errors.New("weaviate unavailable"))

	body := `{"jobId":"j1","kind":"inline","data":{"ownerId":"a","fileName":"f.txt","content":"x","origin":"drive"}}`
	assert.Error(t, w.HandleMessage(newMessage(body)))
	jobs.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
}
