package di

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/txn-classifier/internal/adapters/feed"
	"github.com/mikey/txn-classifier/internal/adapters/store"
	"github.com/mikey/txn-classifier/internal/config"
	"github.com/mikey/txn-classifier/internal/core"
	"github.com/mikey/txn-classifier/internal/factory"
	"github.com/mikey/txn-classifier/internal/logging"
	"github.com/mikey/txn-classifier/internal/utils"
)

// CLIFlags contains all command line flags for the CLI application
type CLIFlags struct {
	// Provider flags
	Provider          string
	EmbeddingProvider string
	MaxTokens         int
	Temperature       float64
	TopP              float64

	// Bedrock flags
	BedrockRegion  string
	BedrockModelID string

	// Gemini flags
	GeminiAPIKey    string
	GeminiModelName string

	// OpenAI flags
	OpenAIAPIKey    string
	OpenAIModelName string

	// Input flags
	InputFile  string
	BatchSize  int
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags := &CLIFlags{}

	// Provider flags
	flag.StringVar(&flags.Provider, "provider", "openai", "Generative provider (bedrock, gemini, openai)")
	flag.StringVar(&flags.EmbeddingProvider, "embedding-provider", "openai", "Embedding provider (gemini, openai)")
	flag.IntVar(&flags.MaxTokens, "max-tokens", 1000, "Maximum tokens for generative responses")
	flag.Float64Var(&flags.Temperature, "temperature", 0.1, "Temperature for generation")
	flag.Float64Var(&flags.TopP, "top-p", 0.9, "Top-p for generation")

	// Bedrock flags
	flag.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	flag.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	flag.StringVar(&flags.GeminiAPIKey, "gemini-api-key", "", "API key for Google Gemini")
	flag.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	flag.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI")
	flag.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4o-mini", "OpenAI model name")

	// Input flags
	flag.StringVar(&flags.InputFile, "file", "", "Input messages file, one JSON object per line (use stdin if not specified)")
	flag.IntVar(&flags.BatchSize, "batch-size", 100, "Messages per pipeline batch")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	flag.Parse()
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.New()
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}

		// Create config from command line flags
		return createConfigFromFlags(flags), nil
	}); err != nil {
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
	if err := container.Provide(factory.NewPipelineFactory); err != nil {
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

	// Register pipeline with an in-memory store and no remote pool
	if err := container.Provide(func(
		f *factory.PipelineFactory,
		embedder core.EmbeddingProvider,
		completion core.CompletionClient,
		logger *zap.Logger,
	) (*core.Pipeline, error) {
		patternStore := store.NewMemoryStore(logger, 30*24*time.Hour, time.Hour)
		return f.CreatePipeline(embedder, completion, patternStore, nil)
	}); err != nil {
		return nil, err
	}

	// Register the CLI feed over the selected input
	if err := container.Provide(func(
		flags *CLIFlags,
		pipeline *core.Pipeline,
		logger *zap.Logger,
	) (*feed.CliFeed, error) {
		var in io.Reader = os.Stdin
		if flags.InputFile != "" {
			file, err := os.Open(flags.InputFile)
			if err != nil {
				return nil, fmt.Errorf("failed to open input file: %w", err)
			}
			in = file
		}
		return feed.NewCliFeed(pipeline, logger, in, os.Stdout, flags.BatchSize)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	// Set some cli specific settings
	v.Set("feed.type", "cli")
	v.Set("feed.batch_size", flags.BatchSize)
	v.Set("store.type", "memory")

	// Set providers
	v.Set("llm.provider", flags.Provider)
	v.Set("embedding.provider", flags.EmbeddingProvider)

	// Set provider-specific configuration
	switch flags.Provider {
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
		v.Set("bedrock.max_tokens", flags.MaxTokens)
		v.Set("bedrock.temperature", flags.Temperature)
		v.Set("bedrock.top_p", flags.TopP)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
		v.Set("gemini.max_tokens", flags.MaxTokens)
		v.Set("gemini.temperature", flags.Temperature)
		v.Set("gemini.top_p", flags.TopP)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
		v.Set("openai.max_tokens", flags.MaxTokens)
		v.Set("openai.temperature", flags.Temperature)
		v.Set("openai.top_p", flags.TopP)
	}

	// Embedding keys ride on the same provider configuration
	switch flags.EmbeddingProvider {
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
	}

	return config.NewFromViper(v)
}
