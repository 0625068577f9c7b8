package factory

import (
	"fmt"

	"github.com/mikey/txn-classifier/internal/config"
	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// PipelineFactory assembles the classification pipeline from configuration
type PipelineFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewPipelineFactory creates a new pipeline factory
func NewPipelineFactory(cfg *config.Config, logger *zap.Logger) *PipelineFactory {
	return &PipelineFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreatePipelineConfig builds the policy constants from configuration
func (f *PipelineFactory) CreatePipelineConfig() core.PipelineConfig {
	pc := core.DefaultPipelineConfig()
	pc.MinAmount = f.cfg.GetInt64("pipeline.min_amount")
	pc.Thresholds = core.Thresholds{
		NonPayment: f.cfg.GetFloat64("pipeline.sim_nonpayment"),
		Replay:     f.cfg.GetFloat64("pipeline.sim_replay"),
		Confirm:    f.cfg.GetFloat64("pipeline.sim_confirm"),
		Ambiguous:  f.cfg.GetFloat64("pipeline.sim_ambiguous"),
	}
	pc.ClusterSimilarity = f.cfg.GetFloat64("pipeline.cluster_sim")
	pc.ClusterMergeSimilarity = f.cfg.GetFloat64("pipeline.cluster_merge_sim")
	pc.SmallClusterMax = f.cfg.GetInt("pipeline.small_cluster_max")
	pc.GroupMinRatio = f.cfg.GetFloat64("pipeline.group_min_ratio")
	pc.SingleMinRatio = f.cfg.GetFloat64("pipeline.single_min_ratio")
	pc.MaxSamples = f.cfg.GetInt("pipeline.max_samples")
	return pc
}

// CreateRateLimitedCaller builds the retry/chunking discipline from configuration
func (f *PipelineFactory) CreateRateLimitedCaller() (*core.RateLimitedCaller, error) {
	policy := core.DefaultRetryPolicy()
	policy.MaxAttempts = f.cfg.GetInt("ratelimit.max_attempts")

	var err error
	if policy.BaseDelay, err = f.cfg.GetDuration("ratelimit.base_delay"); err != nil {
		return nil, fmt.Errorf("invalid base delay: %w", err)
	}
	if policy.MaxDelay, err = f.cfg.GetDuration("ratelimit.max_delay"); err != nil {
		return nil, fmt.Errorf("invalid max delay: %w", err)
	}

	return core.NewRateLimitedCaller(
		policy,
		f.cfg.GetInt("ratelimit.batch_chunk"),
		f.cfg.GetInt("ratelimit.concurrency"),
		f.logger,
	), nil
}

// CreateCooldownTracker builds the per-template synthesis cooldown from configuration
func (f *PipelineFactory) CreateCooldownTracker() (*core.CooldownTracker, error) {
	window, err := f.cfg.GetDuration("ratelimit.cooldown")
	if err != nil {
		return nil, fmt.Errorf("invalid cooldown window: %w", err)
	}
	return core.NewCooldownTracker(f.cfg.GetInt("ratelimit.cooldown_failures"), window), nil
}

// CreatePipeline wires the pipeline with its collaborators
func (f *PipelineFactory) CreatePipeline(
	embedder core.EmbeddingProvider,
	completion core.CompletionClient,
	patternStore core.PatternStore,
	rulePool core.RemoteRulePool,
) (*core.Pipeline, error) {
	caller, err := f.CreateRateLimitedCaller()
	if err != nil {
		return nil, err
	}
	cooldown, err := f.CreateCooldownTracker()
	if err != nil {
		return nil, err
	}

	return core.NewPipeline(f.CreatePipelineConfig(), core.PipelineDeps{
		Embedder:   embedder,
		Completion: completion,
		Store:      patternStore,
		Remote:     rulePool,
		Caller:     caller,
		Cooldown:   cooldown,
		Logger:     f.logger,
	}), nil
}
