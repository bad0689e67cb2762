package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"documind/backend/internal/queue"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var ErrNotRetryable = errors.New("document is not in a failed state")

// Document is the externally visible record of a registered file. The
// ingestion worker exclusively drives processing_status transitions after
// the initial pending state.
type Document struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	SourceURL        string     `json:"source_url"`
	MimeType         string     `json:"mime_type"`
	OwnerID          string     `json:"owner_id"`
	ProcessingStatus string     `json:"processing_status"`
	ChunksCount      int        `json:"chunks_count"`
	VectorizedAt     *time.Time `json:"vectorized_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Repository interface {
	Save(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]Document, error)

	// FindProcessable returns documents in pending or failed state.
	FindProcessable(ctx context.Context) ([]Document, error)

	// Claim conditionally moves a pending|failed document to processing.
	// Returns false when another worker won the document.
	Claim(ctx context.Context, id string) (bool, error)

	SetStatus(ctx context.Context, id, status string) error
	MarkCompleted(ctx context.Context, id string, chunks int, at time.Time) error

	// ResetForRetry moves a failed document back to pending.
	ResetForRetry(ctx context.Context, id string) (bool, error)
}

// Enqueuer is the slice of the ingestion queue this feature publishes to.
type Enqueuer interface {
	Enqueue(ctx context.Context, logicalID string, payload queue.Payload) (string, error)
}

type Service struct {
	repo Repository
	q    Enqueuer
}

func NewService(repo Repository, q Enqueuer) *Service {
	return &Service{repo: repo, q: q}
}

// Register stores a new document as pending and enqueues its ingestion job.
func (s *Service) Register(ctx context.Context, doc *Document) (string, error) {
	doc.ProcessingStatus = StatusPending
	if err := s.repo.Save(ctx, doc); err != nil {
		return "", err
	}

	jobID, err := s.q.Enqueue(ctx, "doc-"+doc.ID, queue.Payload{
		Kind: queue.KindFileReference,
		FileRef: &queue.FileReference{
			DocumentID: doc.ID,
			SourceURL:  doc.SourceURL,
			MimeType:   doc.MimeType,
		},
	})
	if err != nil {
		return "", fmt.Errorf("enqueueing document %s: %w", doc.ID, err)
	}

	slog.InfoContext(ctx, "document registered", "document_id", doc.ID, "job_id", jobID)
	return jobID, nil
}

// Retry resets a failed document to pending and enqueues a fresh job.
func (s *Service) Retry(ctx context.Context, id string) (string, error) {
	reset, err := s.repo.ResetForRetry(ctx, id)
	if err != nil {
		return "", err
	}
	if !reset {
		return "", ErrNotRetryable
	}

	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}

	return s.q.Enqueue(ctx, "doc-"+id, queue.Payload{
		Kind: queue.KindFileReference,
		FileRef: &queue.FileReference{
			DocumentID: id,
			SourceURL:  doc.SourceURL,
			MimeType:   doc.MimeType,
		},
	})
}

// ProcessAll enqueues a batch job covering every processable document.
func (s *Service) ProcessAll(ctx context.Context) (string, error) {
	return s.q.Enqueue(ctx, "rebuild", queue.Payload{
		Kind:    queue.KindFileReference,
		FileRef: &queue.FileReference{},
	})
}

// IngestInline enqueues pre-extracted content (Drive sync path).
func (s *Service) IngestInline(ctx context.Context, content queue.InlineContent) (string, error) {
	if content.Origin == "" {
		content.Origin = queue.OriginDrive
	}
	logicalID := fmt.Sprintf("%s-%s", content.OwnerID, content.FileName)
	return s.q.Enqueue(ctx, logicalID, queue.Payload{
		Kind:   queue.KindInlineContent,
		Inline: &content,
	})
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}
