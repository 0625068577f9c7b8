package di

import (
	"go.uber.org/dig"

	"github.com/mikey/txn-classifier/internal/config"
	"github.com/mikey/txn-classifier/internal/core"
	"github.com/mikey/txn-classifier/internal/factory"
	"github.com/mikey/txn-classifier/internal/logging"
	"github.com/mikey/txn-classifier/internal/ports"
	"github.com/mikey/txn-classifier/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewTextProcessorFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewEmbeddingFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewRemoteFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewPipelineFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewFeedFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return nil, err
	}

	// Register completion client
	if err := container.Provide(func(f *factory.LLMFactory) (core.CompletionClient, error) {
		return f.CreateCompletionClient()
	}); err != nil {
		return nil, err
	}

	// Register embedding provider
	if err := container.Provide(func(f *factory.EmbeddingFactory) (core.EmbeddingProvider, error) {
		return f.CreateEmbeddingProvider()
	}); err != nil {
		return nil, err
	}

	// Register pattern store
	if err := container.Provide(func(f *factory.StoreFactory) (core.PatternStore, error) {
		return f.CreatePatternStore()
	}); err != nil {
		return nil, err
	}

	// Register remote rule pool
	if err := container.Provide(func(f *factory.RemoteFactory) (core.RemoteRulePool, error) {
		return f.CreateRulePool()
	}); err != nil {
		return nil, err
	}

	// Register pipeline
	if err := container.Provide(func(
		f *factory.PipelineFactory,
		embedder core.EmbeddingProvider,
		completion core.CompletionClient,
		patternStore core.PatternStore,
		rulePool core.RemoteRulePool,
	) (*core.Pipeline, error) {
		return f.CreatePipeline(embedder, completion, patternStore, rulePool)
	}); err != nil {
		return nil, err
	}

	// Register message feed
	if err := container.Provide(func(f *factory.FeedFactory) (ports.MessageFeed, error) {
		return f.CreateMessageFeed()
	}); err != nil {
		return nil, err
	}

	return container, nil
}
