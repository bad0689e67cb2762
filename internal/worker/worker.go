package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"documind/backend/features/document"
	"documind/backend/internal/extract"
	"documind/backend/internal/middleware"
	"documind/backend/internal/queue"
	"documind/backend/internal/text"
	"documind/backend/internal/vector"
)

// JobTracker is the consumer-side bookkeeping slice of the ingestion queue.
type JobTracker interface {
	JobKnown(ctx context.Context, id string) (bool, error)
	MarkActive(ctx context.Context, id string, attempts int) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// Vectorizer turns chunks into index-ready records.
type Vectorizer interface {
	ChunksToRecords(ctx context.Context, chunks []text.Chunk, origin, ownerID string) ([]vector.Record, error)
}

// ContentExtractor pulls text out of a remote document.
type ContentExtractor interface {
	ExtractRemote(ctx context.Context, sourceURL, mimeType string) (string, error)
}

type Options struct {
	IndexName      string
	IndexDimension int
	Chunking       text.Options
}

// IngestionWorker consumes ingest.task deliveries and drives each document
// through extract, chunk, embed, and upsert. It satisfies both nsq.Handler
// and nsq.FailedMessageLogger.
type IngestionWorker struct {
	jobs       JobTracker
	docs       document.Repository
	extractor  ContentExtractor
	vectorizer Vectorizer
	index      vector.IndexClient
	opts       Options
}

func NewIngestionWorker(jobs JobTracker, docs document.Repository, ex ContentExtractor, v Vectorizer, idx vector.IndexClient, opts Options) *IngestionWorker {
	if opts.Chunking.MaxChunkSize == 0 {
		opts.Chunking = text.DefaultOptions()
	}
	return &IngestionWorker{
		jobs:       jobs,
		docs:       docs,
		extractor:  ex,
		vectorizer: v,
		index:      idx,
		opts:       opts,
	}
}

func (w *IngestionWorker) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	ctx := middleware.WithCorrelationID(context.Background(), uuid.New().String())

	env, payload, err := queue.DecodeEnvelope(m.Body)
	if err != nil {
		slog.ErrorContext(ctx, "dropping malformed job", "error", err)
		return nil // poison pill, never retry
	}

	known, err := w.jobs.JobKnown(ctx, env.JobID)
	if err != nil {
		return err
	}
	if !known {
		// Row deleted through the admin API; ack without processing.
		slog.InfoContext(ctx, "skipping removed job", "job_id", env.JobID)
		return nil
	}

	if err := w.jobs.MarkActive(ctx, env.JobID, int(m.Attempts)); err != nil {
		slog.WarnContext(ctx, "failed to mark job active", "job_id", env.JobID, "error", err)
	}

	slog.InfoContext(ctx, "processing job", "job_id", env.JobID, "kind", payload.Kind, "attempt", m.Attempts)

	switch payload.Kind {
	case queue.KindInlineContent:
		err = w.processInline(ctx, payload.Inline)
	case queue.KindFileReference:
		err = w.processFileRef(ctx, payload.FileRef)
	default:
		slog.ErrorContext(ctx, "dropping job with unknown kind", "job_id", env.JobID, "kind", payload.Kind)
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "job failed, requeueing", "job_id", env.JobID, "error", err)
		return err
	}

	if err := w.jobs.MarkCompleted(ctx, env.JobID); err != nil {
		slog.WarnContext(ctx, "failed to mark job completed", "job_id", env.JobID, "error", err)
	}
	return nil
}

// LogFailedMessage records a delivery that exhausted its attempts.
func (w *IngestionWorker) LogFailedMessage(m *nsq.Message) {
	ctx := context.Background()
	env, _, err := queue.DecodeEnvelope(m.Body)
	if err != nil || env.JobID == "" {
		slog.Error("message exhausted attempts with unreadable body", "error", err)
		return
	}
	if err := w.jobs.MarkFailed(ctx, env.JobID, "max attempts exhausted"); err != nil {
		slog.ErrorContext(ctx, "failed to mark exhausted job failed", "job_id", env.JobID, "error", err)
	}
	slog.ErrorContext(ctx, "job exhausted all attempts", "job_id", env.JobID, "attempts", m.Attempts)
}

// processInline vectorizes content the producer already extracted.
func (w *IngestionWorker) processInline(ctx context.Context, in *queue.InlineContent) error {
	sourceID := in.StableSourceID
	if sourceID == "" {
		sourceID = syntheticSourceID(in)
	}

	_, err := w.vectorize(ctx, sourceID, in.FileName, in.Content, in.Origin, in.OwnerID)
	return err
}

// processFileRef handles a single registered document, or every processable
// document when the reference is empty.
func (w *IngestionWorker) processFileRef(ctx context.Context, ref *queue.FileReference) error {
	if ref.DocumentID != "" {
		doc, err := w.docs.Get(ctx, ref.DocumentID)
		if err != nil {
			return fmt.Errorf("loading document %s: %w", ref.DocumentID, err)
		}
		return w.processDocument(ctx, doc)
	}

	docs, err := w.docs.FindProcessable(ctx)
	if err != nil {
		return fmt.Errorf("listing processable documents: %w", err)
	}
	if len(docs) == 0 {
		slog.InfoContext(ctx, "no processable documents")
		return nil
	}

	// One bad document must not sink the batch.
	var failed int
	for i := range docs {
		if err := w.processDocument(ctx, &docs[i]); err != nil {
			failed++
			slog.ErrorContext(ctx, "document failed during batch", "document_id", docs[i].ID, "error", err)
		}
	}
	slog.InfoContext(ctx, "batch finished", "total", len(docs), "failed", failed)
	return nil
}

func (w *IngestionWorker) processDocument(ctx context.Context, doc *document.Document) error {
	claimed, err := w.docs.Claim(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("claiming document %s: %w", doc.ID, err)
	}
	if !claimed {
		slog.InfoContext(ctx, "document claimed elsewhere, skipping", "document_id", doc.ID)
		return nil
	}

	content, err := w.extractor.ExtractRemote(ctx, doc.SourceURL, doc.MimeType)
	if err != nil {
		w.failDocument(ctx, doc.ID)
		if errors.Is(err, extract.ErrEmptyContent) || errors.Is(err, extract.ErrUnsupportedType) {
			// Retrying cannot fix the file itself.
			slog.WarnContext(ctx, "document has no usable content", "document_id", doc.ID, "error", err)
			return nil
		}
		return fmt.Errorf("extracting document %s: %w", doc.ID, err)
	}

	chunks, err := w.vectorize(ctx, doc.ID, doc.Name, content, queue.OriginLocal, doc.OwnerID)
	if err != nil {
		w.failDocument(ctx, doc.ID)
		return fmt.Errorf("vectorizing document %s: %w", doc.ID, err)
	}

	if err := w.docs.MarkCompleted(ctx, doc.ID, chunks, time.Now().UTC()); err != nil {
		return fmt.Errorf("completing document %s: %w", doc.ID, err)
	}
	slog.InfoContext(ctx, "document vectorized", "document_id", doc.ID, "chunks", chunks)
	return nil
}

// vectorize runs the chunk -> embed -> upsert pipeline and returns the
// number of chunks indexed.
func (w *IngestionWorker) vectorize(ctx context.Context, sourceID, sourceName, content, origin, ownerID string) (int, error) {
	chunks := text.ChunkText(content, sourceID, sourceName, w.opts.Chunking)
	if len(chunks) == 0 {
		return 0, nil
	}

	records, err := w.vectorizer.ChunksToRecords(ctx, chunks, origin, ownerID)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", sourceID, err)
	}

	indexName, err := w.index.EnsureIndex(ctx, w.opts.IndexName, w.opts.IndexDimension)
	if err != nil {
		return 0, fmt.Errorf("ensuring index: %w", err)
	}
	if err := w.index.Upsert(ctx, indexName, records); err != nil {
		return 0, fmt.Errorf("upserting %s: %w", sourceID, err)
	}
	return len(records), nil
}

func (w *IngestionWorker) failDocument(ctx context.Context, id string) {
	if err := w.docs.SetStatus(ctx, id, document.StatusFailed); err != nil {
		slog.WarnContext(ctx, "failed to mark document failed", "document_id", id, "error", err)
	}
}

// syntheticSourceID builds a stable-enough id for inline content that carries
// no pinned source id. The timestamp keeps distinct uploads of the same file
// name apart.
func syntheticSourceID(in *queue.InlineContent) string {
	base := in.ExternalFileID
	if base == "" {
		base = in.FileName
	}
	return fmt.Sprintf("%s-%s-%s-%d", in.Origin, in.OwnerID, base, time.Now().UnixMilli())
}
