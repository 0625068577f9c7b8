package factory

import (
	"fmt"

	"github.com/mikey/txn-classifier/internal/adapters/gemini"
	"github.com/mikey/txn-classifier/internal/adapters/openai"
	"github.com/mikey/txn-classifier/internal/config"
	"github.com/mikey/txn-classifier/internal/core"
	"github.com/mikey/txn-classifier/internal/utils"
	"go.uber.org/zap"
)

// EmbeddingFactory creates embedding providers
type EmbeddingFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewEmbeddingFactory creates a new embedding factory
func NewEmbeddingFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *EmbeddingFactory {
	return &EmbeddingFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateEmbeddingProvider creates an embedding provider based on the configuration
func (f *EmbeddingFactory) CreateEmbeddingProvider() (core.EmbeddingProvider, error) {
	embeddingConfig := f.cfg.GetEmbedding()

	switch embeddingConfig.Provider {
	case "gemini":
		factory := gemini.NewFactory(f.cfg, f.logger, f.textProcessor)
		return factory.CreateEmbeddingProvider()
	case "openai":
		factory := openai.NewFactory(f.cfg, f.logger, f.textProcessor)
		return factory.CreateEmbeddingProvider()
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", embeddingConfig.Provider)
	}
}
