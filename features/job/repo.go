package job

import (
	"context"
	"database/sql"
	"encoding/json"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	MarkActive(ctx context.Context, id string, attempts int) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	Get(ctx context.Context, id string) (*Job, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	Counts(ctx context.Context) (Counts, error)
	Trim(ctx context.Context, status string, keep int) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	query := `INSERT INTO ingestion_jobs (id, logical_id, status, priority, payload) VALUES ($1, $2, $3, $4, $5) RETURNING enqueued_at, updated_at`
	return r.db.QueryRowContext(ctx, query, job.ID, job.LogicalID, job.Status, job.Priority, []byte(job.Payload)).
		Scan(&job.EnqueuedAt, &job.UpdatedAt)
}

func (r *PostgresRepo) MarkActive(ctx context.Context, id string, attempts int) error {
	query := `UPDATE ingestion_jobs SET status = 'active', attempts = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, attempts, id)
	return err
}

func (r *PostgresRepo) MarkCompleted(ctx context.Context, id string) error {
	query := `UPDATE ingestion_jobs SET status = 'completed', updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	query := `UPDATE ingestion_jobs SET status = 'failed', error = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, errMsg, id)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	var payload []byte
	query := `SELECT id, logical_id, status, priority, payload, error, attempts, enqueued_at, updated_at FROM ingestion_jobs WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&j.ID, &j.LogicalID, &j.Status, &j.Priority, &payload, &j.Error, &j.Attempts, &j.EnqueuedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	return j, nil
}

func (r *PostgresRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM ingestion_jobs WHERE id = $1)`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&exists)
	return exists, err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM ingestion_jobs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	query := `SELECT
		COUNT(*) FILTER (WHERE status = 'waiting'),
		COUNT(*) FILTER (WHERE status = 'active'),
		COUNT(*) FILTER (WHERE status = 'completed'),
		COUNT(*) FILTER (WHERE status = 'failed')
	FROM ingestion_jobs`
	err := r.db.QueryRowContext(ctx, query).Scan(&c.Waiting, &c.Active, &c.Completed, &c.Failed)
	return c, err
}

// Trim deletes all but the newest keep rows in the given status, matching
// the queue's completed/failed retention policy.
func (r *PostgresRepo) Trim(ctx context.Context, status string, keep int) error {
	query := `DELETE FROM ingestion_jobs WHERE status = $1 AND id NOT IN (
		SELECT id FROM ingestion_jobs WHERE status = $1 ORDER BY updated_at DESC LIMIT $2
	)`
	_, err := r.db.ExecContext(ctx, query, status, keep)
	return err
}
