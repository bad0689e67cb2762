package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Embedder implements the embedding capability on Gemini. Both the single
// and batch paths return vectors positionally aligned with their inputs.
type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey, model string) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &Embedder{client: client, model: model}, nil
}

func (e *Embedder) Embed(ctx context.Context, content string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(content))
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(content))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil {
		return nil, fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", len(contents))
	em := e.client.EmbeddingModel(e.model)

	batch := em.NewBatch()
	for _, c := range contents {
		batch.AddContent(genai.Text(c))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb != nil {
			vectors[i] = emb.Values
		}
	}
	return vectors, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
