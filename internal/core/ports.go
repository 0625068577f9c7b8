package core

import (
	"context"
	"time"
)

// EmbeddingProvider turns templates into vectors.
type EmbeddingProvider interface {
	// Embed embeds a single text. A nil vector with nil error means the
	// provider could not embed this text.
	Embed(ctx context.Context, text string) (Vector, error)

	// EmbedBatch embeds texts in order. The returned slice always has the
	// same length as the input; individual entries may be nil. Per-item
	// failures never surface as errors.
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
}

// CompletionClient is the low-level generative interface implemented by the
// provider adapters. The extraction and synthesis prompts are built above it.
type CompletionClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// PatternStore persists learned patterns. It is a local single-writer cache;
// the persistence engine behind it is an external collaborator.
type PatternStore interface {
	Insert(ctx context.Context, pattern *LearnedPattern) error
	PaymentPatterns(ctx context.Context) ([]*LearnedPattern, error)
	NonPaymentPatterns(ctx context.Context) ([]*LearnedPattern, error)
	IncrementMatchCount(ctx context.Context, id string) error

	// DeleteStale evicts patterns not matched since olderThan that were
	// only ever matched once. It returns the number of evicted patterns.
	DeleteStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// RemoteRulePool provides read-only, externally synced extraction rules
// keyed by normalized sender address. Implementations cache with a short TTL
// and tolerate staleness.
type RemoteRulePool interface {
	LoadRules(ctx context.Context) (map[string][]RemoteRule, error)
}
