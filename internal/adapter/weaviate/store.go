package weaviate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"documind/backend/internal/vector"
)

const upsertBatchSize = 100

// upsertPause spaces sequential batch writes to keep backpressure on the
// index predictable.
const upsertPause = 100 * time.Millisecond

// IndexClient implements vector.IndexClient on Weaviate. A named index maps
// to a Weaviate class; record ids map to deterministic UUIDv5 object ids so
// upserting the same id twice is last-write-wins.
type IndexClient struct {
	client    *weaviate.Client
	dimension int
}

func NewIndexClient(client *weaviate.Client, dimension int) *IndexClient {
	return &IndexClient{client: client, dimension: dimension}
}

var indexNameRe = regexp.MustCompile(`[^a-z0-9-]`)

// SanitizeIndexName lowercases the name and replaces anything outside
// [a-z0-9-] with a dash.
func SanitizeIndexName(name string) string {
	return indexNameRe.ReplaceAllString(strings.ToLower(name), "-")
}

// ClassName converts a sanitized index name into the Weaviate class it is
// stored under ("doc-mind" -> "DocMind").
func ClassName(indexName string) string {
	parts := strings.Split(SanitizeIndexName(indexName), "-")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// ObjectID derives the Weaviate object id for a record id. UUIDv5 keeps the
// mapping deterministic across runs.
func ObjectID(recordID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String())
}

func (c *IndexClient) EnsureIndex(ctx context.Context, name string, dimension int) (string, error) {
	safe := SanitizeIndexName(name)
	className := ClassName(safe)

	exists, err := c.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("checking index %s: %w", safe, err)
	}
	if exists {
		return safe, nil
	}

	class := &models.Class{
		Class:       className,
		Description: "A vectorized chunk of an ingested document",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: "recordId", DataType: []string{"string"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "sourceId", DataType: []string{"string"}},
			{Name: "sourceName", DataType: []string{"text"}},
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "startChar", DataType: []string{"int"}},
			{Name: "endChar", DataType: []string{"int"}},
			{Name: "tokens", DataType: []string{"int"}},
			{Name: "origin", DataType: []string{"string"}},
			{Name: "ownerId", DataType: []string{"string"}},
			{Name: "createdAt", DataType: []string{"date"}},
		},
	}

	if err := c.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return "", fmt.Errorf("creating index %s: %w", safe, err)
	}
	slog.InfoContext(ctx, "vector index created", "index", safe, "dimension", dimension)
	return safe, nil
}

func (c *IndexClient) Upsert(ctx context.Context, indexName string, records []vector.Record) error {
	if len(records) == 0 {
		slog.WarnContext(ctx, "no records provided for upserting")
		return nil
	}

	records = c.rejectDimensionMismatch(ctx, records)
	className := ClassName(indexName)

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		objects := make([]*models.Object, len(batch))
		for i, rec := range batch {
			objects[i] = &models.Object{
				Class:      className,
				ID:         ObjectID(rec.ID),
				Vector:     models.C11yVector(rec.Vector),
				Properties: recordProperties(rec),
			}
		}

		resp, err := c.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return fmt.Errorf("upsert batch %d: %w", start/upsertBatchSize+1, err)
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("upsert batch %d: %s", start/upsertBatchSize+1, r.Result.Errors.Error[0].Message)
			}
		}

		if end < len(records) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(upsertPause):
			}
		}
	}

	slog.InfoContext(ctx, "records upserted", "index", indexName, "count", len(records))
	return nil
}

// rejectDimensionMismatch drops records whose vector length differs from the
// index dimension before they reach the wire.
func (c *IndexClient) rejectDimensionMismatch(ctx context.Context, records []vector.Record) []vector.Record {
	kept := make([]vector.Record, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != c.dimension {
			slog.WarnContext(ctx, "rejecting record with wrong dimension",
				"record_id", rec.ID, "got", len(rec.Vector), "expected", c.dimension)
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

func recordProperties(rec vector.Record) map[string]interface{} {
	return map[string]interface{}{
		"recordId":   rec.ID,
		"content":    rec.Metadata.Content,
		"sourceId":   rec.Metadata.SourceID,
		"sourceName": rec.Metadata.SourceName,
		"chunkIndex": rec.Metadata.ChunkIndex,
		"startChar":  rec.Metadata.StartChar,
		"endChar":    rec.Metadata.EndChar,
		"tokens":     rec.Metadata.Tokens,
		"origin":     rec.Metadata.Origin,
		"ownerId":    rec.Metadata.OwnerID,
		"createdAt":  rec.Metadata.CreatedAt.Format(time.RFC3339),
	}
}

func (c *IndexClient) Query(ctx context.Context, indexName string, vec []float32, topK int) ([]vector.ScoredRecord, error) {
	if topK <= 0 {
		topK = 5
	}
	className := ClassName(indexName)

	nearVector := c.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "recordId"},
		{Name: "content"},
		{Name: "sourceId"},
		{Name: "sourceName"},
		{Name: "chunkIndex"},
		{Name: "startChar"},
		{Name: "endChar"},
		{Name: "tokens"},
		{Name: "origin"},
		{Name: "ownerId"},
		{Name: "createdAt"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := c.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var matches []vector.ScoredRecord
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return matches, nil
	}
	rows, ok := data[className].([]interface{})
	if !ok {
		return matches, nil
	}

	// The index already returns matches in descending similarity order; no
	// local re-sorting.
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		matches = append(matches, decodeMatch(props))
	}
	return matches, nil
}

func decodeMatch(props map[string]interface{}) vector.ScoredRecord {
	var rec vector.ScoredRecord

	if v, ok := props["recordId"].(string); ok {
		rec.ID = v
	}
	if v, ok := props["content"].(string); ok {
		rec.Metadata.Content = v
	}
	if v, ok := props["sourceId"].(string); ok {
		rec.Metadata.SourceID = v
	}
	if v, ok := props["sourceName"].(string); ok {
		rec.Metadata.SourceName = v
	}
	if v, ok := props["chunkIndex"].(float64); ok {
		rec.Metadata.ChunkIndex = int(v)
	}
	if v, ok := props["startChar"].(float64); ok {
		rec.Metadata.StartChar = int(v)
	}
	if v, ok := props["endChar"].(float64); ok {
		rec.Metadata.EndChar = int(v)
	}
	if v, ok := props["tokens"].(float64); ok {
		rec.Metadata.Tokens = int(v)
	}
	if v, ok := props["origin"].(string); ok {
		rec.Metadata.Origin = v
	}
	if v, ok := props["ownerId"].(string); ok {
		rec.Metadata.OwnerID = v
	}
	if v, ok := props["createdAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			rec.Metadata.CreatedAt = t
		}
	}

	if additional, ok := props["_additional"].(map[string]interface{}); ok {
		if dist, ok := additional["distance"].(float64); ok {
			rec.Score = float32(1 - dist)
		}
	}
	return rec
}
