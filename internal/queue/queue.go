package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"documind/backend/features/job"
)

// Publisher is the broker's publish surface; *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

type Options struct {
	Topic string
	// MaxAttempts and Backoff describe the delivery policy configured on
	// the consumer; recorded here so Enqueue and the worker agree on them.
	MaxAttempts   int
	Backoff       time.Duration
	Priority      int
	KeepCompleted int
	KeepFailed    int
}

func DefaultOptions() Options {
	return Options{
		Topic:         "ingest.task",
		MaxAttempts:   3,
		Backoff:       5 * time.Second,
		Priority:      1,
		KeepCompleted: 100,
		KeepFailed:    50,
	}
}

// Queue is the durable at-least-once ingestion job queue: NSQ carries the
// messages, Postgres rows carry observability state and retention.
type Queue struct {
	pub  Publisher
	jobs job.Repository
	opts Options
}

func New(pub Publisher, jobs job.Repository, opts Options) *Queue {
	def := DefaultOptions()
	if opts.Topic == "" {
		opts.Topic = def.Topic
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = def.Backoff
	}
	if opts.Priority <= 0 {
		opts.Priority = def.Priority
	}
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = def.KeepCompleted
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = def.KeepFailed
	}
	return &Queue{pub: pub, jobs: jobs, opts: opts}
}

func (q *Queue) Options() Options {
	return q.opts
}

// JobID builds the queue identity for one enqueue attempt. The timestamp
// suffix keeps a manual retry distinct from the original enqueue.
func JobID(logicalID string) string {
	return fmt.Sprintf("%s-%d", logicalID, time.Now().UnixMilli())
}

// Enqueue publishes a job and records its bookkeeping row. Returns the
// assigned job id.
func (q *Queue) Enqueue(ctx context.Context, logicalID string, payload Payload) (string, error) {
	id := JobID(logicalID)
	env := NewEnvelope(id, payload)

	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshaling job %s: %w", id, err)
	}

	record := &job.Job{
		ID:        id,
		LogicalID: logicalID,
		Status:    job.StatusWaiting,
		Priority:  q.opts.Priority,
		Payload:   body,
	}
	if err := q.jobs.Save(ctx, record); err != nil {
		return "", fmt.Errorf("recording job %s: %w", id, err)
	}

	if err := q.pub.Publish(q.opts.Topic, body); err != nil {
		if markErr := q.jobs.MarkFailed(ctx, id, err.Error()); markErr != nil {
			slog.ErrorContext(ctx, "failed to mark unpublished job failed", "job_id", id, "error", markErr)
		}
		return "", fmt.Errorf("publishing job %s: %w", id, err)
	}

	slog.InfoContext(ctx, "job enqueued", "job_id", id, "topic", q.opts.Topic, "kind", payload.Kind)
	return id, nil
}

// Status reports waiting/active/completed/failed counts. Operational
// visibility only, never control flow.
func (q *Queue) Status(ctx context.Context) (job.Counts, error) {
	return q.jobs.Counts(ctx)
}

func (q *Queue) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return q.jobs.Get(ctx, id)
}

// RemoveJob deletes the bookkeeping row. NSQ cannot drop an in-flight
// message, so the worker acks without processing any delivery whose row is
// gone.
func (q *Queue) RemoveJob(ctx context.Context, id string) error {
	return q.jobs.Delete(ctx, id)
}

// Consumer-side bookkeeping, called by the worker around each delivery.

func (q *Queue) JobKnown(ctx context.Context, id string) (bool, error) {
	return q.jobs.Exists(ctx, id)
}

func (q *Queue) MarkActive(ctx context.Context, id string, attempts int) error {
	return q.jobs.MarkActive(ctx, id, attempts)
}

func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	if err := q.jobs.MarkCompleted(ctx, id); err != nil {
		return err
	}
	if err := q.jobs.Trim(ctx, job.StatusCompleted, q.opts.KeepCompleted); err != nil {
		slog.WarnContext(ctx, "failed to trim completed jobs", "error", err)
	}
	return nil
}

func (q *Queue) MarkFailed(ctx context.Context, id, errMsg string) error {
	if err := q.jobs.MarkFailed(ctx, id, errMsg); err != nil {
		return err
	}
	if err := q.jobs.Trim(ctx, job.StatusFailed, q.opts.KeepFailed); err != nil {
		slog.WarnContext(ctx, "failed to trim failed jobs", "error", err)
	}
	return nil
}
