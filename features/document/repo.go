package document

import (
	"context"
	"database/sql"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const docColumns = `id, name, source_url, mime_type, owner_id, processing_status, chunks_count, vectorized_at, created_at, updated_at`

func (r *PostgresRepo) Save(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents (name, source_url, mime_type, owner_id, processing_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		doc.Name, doc.SourceURL, doc.MimeType, doc.OwnerID, doc.ProcessingStatus,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	doc := &Document{}
	query := `SELECT ` + docColumns + ` FROM documents WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Name, &doc.SourceURL, &doc.MimeType, &doc.OwnerID,
		&doc.ProcessingStatus, &doc.ChunksCount, &doc.VectorizedAt,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents ORDER BY created_at DESC`
	return r.queryDocs(ctx, query)
}

func (r *PostgresRepo) FindProcessable(ctx context.Context) ([]Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents
		WHERE processing_status IN ('pending', 'failed')
		ORDER BY created_at ASC`
	return r.queryDocs(ctx, query)
}

func (r *PostgresRepo) queryDocs(ctx context.Context, query string, args ...interface{}) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(
			&d.ID, &d.Name, &d.SourceURL, &d.MimeType, &d.OwnerID,
			&d.ProcessingStatus, &d.ChunksCount, &d.VectorizedAt,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Claim is the worker's admission check: the conditional update means only
// one concurrent worker can move a document into processing.
func (r *PostgresRepo) Claim(ctx context.Context, id string) (bool, error) {
	query := `UPDATE documents SET processing_status = 'processing', updated_at = NOW()
		WHERE id = $1 AND processing_status IN ('pending', 'failed')`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) SetStatus(ctx context.Context, id, status string) error {
	query := `UPDATE documents SET processing_status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) MarkCompleted(ctx context.Context, id string, chunks int, at time.Time) error {
	query := `UPDATE documents SET processing_status = 'completed', chunks_count = $1, vectorized_at = $2, updated_at = NOW()
		WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, chunks, at, id)
	return err
}

func (r *PostgresRepo) ResetForRetry(ctx context.Context, id string) (bool, error) {
	query := `UPDATE documents SET processing_status = 'pending', updated_at = NOW()
		WHERE id = $1 AND processing_status = 'failed'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
