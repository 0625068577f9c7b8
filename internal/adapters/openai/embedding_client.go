package openai

import (
	"context"

	"github.com/mikey/txn-classifier/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// EmbeddingClient implements the core.EmbeddingProvider interface using the
// OpenAI embeddings API.
type EmbeddingClient struct {
	client    *openai.Client
	modelName string
	logger    *zap.Logger
}

// NewEmbeddingClient creates a new OpenAI embedding client
func NewEmbeddingClient(client *openai.Client, modelName string, logger *zap.Logger) *EmbeddingClient {
	return &EmbeddingClient{
		client:    client,
		modelName: modelName,
		logger:    logger,
	}
}

// Embed embeds a single text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) (core.Vector, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order. The returned slice always has the same
// length as the input; entries the API did not answer for stay nil.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([]core.Vector, error) {
	out := make([]core.Vector, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.modelName),
	})
	if err != nil {
		return out, classifyError(err)
	}

	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			c.logger.Warn("Embedding response index out of range",
				zap.Int("index", d.Index),
				zap.Int("batch", len(texts)))
			continue
		}
		out[d.Index] = core.Vector(d.Embedding)
	}
	return out, nil
}
