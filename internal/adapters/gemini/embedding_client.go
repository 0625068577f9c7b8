package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// EmbeddingClient implements the core.EmbeddingProvider interface using
// Gemini embedding models
type EmbeddingClient struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	modelName string
	logger    *zap.Logger
}

// NewEmbeddingClient creates a new Gemini embedding client
func NewEmbeddingClient(client *genai.Client, modelName string, logger *zap.Logger) *EmbeddingClient {
	return &EmbeddingClient{
		client:    client,
		model:     client.EmbeddingModel(modelName),
		modelName: modelName,
		logger:    logger,
	}
}

// Embed returns the embedding vector for a single text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) (core.Vector, error) {
	resp, err := c.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.Embedding == nil {
		return nil, &core.MalformedResponseError{Reason: "empty embedding from Gemini"}
	}
	return core.Vector(resp.Embedding.Values), nil
}

// EmbedBatch embeds several texts in one request. The result always has
// the same length as texts; entries the service did not return stay nil.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([]core.Vector, error) {
	vectors := make([]core.Vector, len(texts))
	if len(texts) == 0 {
		return vectors, nil
	}

	batch := c.model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	resp, err := c.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &core.MalformedResponseError{
			Reason: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)),
		}
	}

	for i, emb := range resp.Embeddings {
		if emb != nil {
			vectors[i] = core.Vector(emb.Values)
		}
	}
	return vectors, nil
}
