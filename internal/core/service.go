package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PipelineConfig carries the policy constants of the pipeline. All of them
// are configuration, not structure; the defaults are the tuned production
// values.
type PipelineConfig struct {
	MinAmount              int64
	Thresholds             Thresholds
	ClusterSimilarity      float64
	ClusterMergeSimilarity float64
	SmallClusterMax        int
	GroupMinRatio          float64
	SingleMinRatio         float64
	MaxSamples             int
}

// DefaultPipelineConfig returns the production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MinAmount:              DefaultMinAmount,
		Thresholds:             DefaultThresholds(),
		ClusterSimilarity:      0.95,
		ClusterMergeSimilarity: 0.70,
		SmallClusterMax:        5,
		GroupMinRatio:          0.8,
		SingleMinRatio:         1.0,
		MaxSamples:             3,
	}
}

// PipelineDeps are the external collaborators of the pipeline.
type PipelineDeps struct {
	Embedder   EmbeddingProvider
	Completion CompletionClient
	Store      PatternStore
	Remote     RemoteRulePool // may be nil
	Caller     *RateLimitedCaller
	Cooldown   *CooldownTracker
	Logger     *zap.Logger
}

// Pipeline composes the three tiers, the clusterer and the rate-limit
// discipline into the single Process entry point. Everything outside
// Process (inbox reading, persistence engine, presentation) is an external
// collaborator.
type Pipeline struct {
	cfg       PipelineConfig
	rules     *RuleClassifier
	templater *TemplateEngine
	engine    *RegexEngine
	matcher   *PatternMatcher
	synth     *RegexSynthesizer
	extractor *GenerativeExtractor
	clusterer *Clusterer
	deps      PipelineDeps
	logger    *zap.Logger
}

// NewPipeline wires the pipeline from config and collaborators.
func NewPipeline(cfg PipelineConfig, deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	engine := NewRegexEngine(cfg.MinAmount, logger)
	return &Pipeline{
		cfg:       cfg,
		rules:     NewRuleClassifier(cfg.MinAmount, logger),
		templater: NewTemplateEngine(),
		engine:    engine,
		matcher:   NewPatternMatcher(engine, cfg.Thresholds, logger),
		synth:     NewRegexSynthesizer(deps.Completion, deps.Caller, engine, cfg.MaxSamples, logger),
		extractor: NewGenerativeExtractor(deps.Completion, deps.Caller, engine, logger),
		clusterer: NewClusterer(cfg.ClusterSimilarity, cfg.ClusterMergeSimilarity, cfg.SmallClusterMax, logger),
		deps:      deps,
		logger:    logger,
	}
}

// item tracks one message through the stages.
type item struct {
	msg      Message
	template string
	vec      Vector
	decision *ClassificationDecision
	t1fields *ExtractionResult
	match    Tier2Match
	dropped  bool
}

// Process classifies messages in order. Stages run strictly in sequence,
// each short-circuiting on empty input: pre-filter, batch embedding,
// Tier-2 matching (local then remote pools), clustering plus Tier-3.
// A failure on one item never aborts the batch: that item degrades to
// "not a payment / no result".
func (p *Pipeline) Process(ctx context.Context, msgs []Message) []ClassificationDecision {
	items := make([]*item, len(msgs))
	for i, m := range msgs {
		items[i] = &item{msg: m}
	}

	p.prefilterAndTier1(items)
	p.embed(ctx, items)

	payment, nonPayment := p.loadPools(ctx)
	payment = p.persistTier1(ctx, items, payment)

	unresolved := p.tier2(ctx, items, payment, nonPayment)
	unresolved = p.remoteRules(ctx, unresolved)
	p.tier3(ctx, unresolved)

	decisions := make([]ClassificationDecision, len(items))
	for i, it := range items {
		if it.decision == nil {
			// Degraded path: whatever happened to this item, the
			// default verdict stays "not a payment, no result".
			it.decision = &ClassificationDecision{
				MessageID: it.msg.ID,
				IsPayment: false,
				Tier:      3,
			}
		}
		decisions[i] = *it.decision
	}
	return decisions
}

// prefilterAndTier1 drops obvious non-payment messages before any paid call
// and lets Tier 1 classify what it can. Tier-1 successes are authoritative
// regardless of what the later tiers would have said.
func (p *Pipeline) prefilterAndTier1(items []*item) {
	dropped, resolved := 0, 0
	for _, it := range items {
		if p.rules.ShouldDrop(it.msg.RawText) {
			it.dropped = true
			it.decision = &ClassificationDecision{
				MessageID:  it.msg.ID,
				IsPayment:  false,
				Tier:       1,
				Confidence: 0.95,
			}
			dropped++
			continue
		}
		if d, fields, ok := p.rules.Classify(it.msg); ok {
			it.decision = d
			it.t1fields = fields
			resolved++
		}
	}
	if dropped > 0 || resolved > 0 {
		p.logger.Info("Pre-filter and Tier 1 complete",
			zap.Int("dropped", dropped),
			zap.Int("tier1_resolved", resolved),
			zap.Int("total", len(items)))
	}
}

// embed computes templates and batch-embeds every message that survived the
// pre-filter. Tier-1 successes are embedded too: their pattern needs a
// vector before it can serve Tier 2. Dropped messages never reach embedding.
func (p *Pipeline) embed(ctx context.Context, items []*item) {
	var texts []string
	var idx []int
	for i, it := range items {
		if it.dropped {
			continue
		}
		it.template = p.templater.Templatize(it.msg.RawText)
		texts = append(texts, it.template)
		idx = append(idx, i)
	}
	if len(texts) == 0 {
		return
	}
	vecs := p.deps.Caller.EmbedBatch(ctx, p.deps.Embedder, texts)
	for j, i := range idx {
		items[i].vec = vecs[j]
	}
}

func (p *Pipeline) loadPools(ctx context.Context) (payment, nonPayment []*LearnedPattern) {
	var err error
	if payment, err = p.deps.Store.PaymentPatterns(ctx); err != nil {
		p.logger.Error("Failed to load payment patterns", zap.Error(err))
	}
	if nonPayment, err = p.deps.Store.NonPaymentPatterns(ctx); err != nil {
		p.logger.Error("Failed to load non-payment patterns", zap.Error(err))
	}
	return payment, nonPayment
}

// persistTier1 stores a learned pattern for each Tier-1 success whose family
// is not already in the payment pool, so Tier 2 can resolve the next message
// of the family without rules even running.
func (p *Pipeline) persistTier1(ctx context.Context, items []*item, payment []*LearnedPattern) []*LearnedPattern {
	for _, it := range items {
		if it.t1fields == nil || len(it.vec) == 0 {
			continue
		}
		if idx, _ := BestMatch(it.vec, vectorsOf(payment), p.cfg.Thresholds.Replay); idx >= 0 {
			continue
		}
		pattern := NewLearnedPattern(it.template, it.msg.Sender, it.vec, true, it.t1fields, RegexTriple{}, SourceRule, 0.99)
		if err := p.deps.Store.Insert(ctx, pattern); err != nil {
			p.logger.Error("Failed to persist Tier-1 pattern", zap.Error(err))
			continue
		}
		payment = append(payment, pattern)
	}
	return payment
}

// tier2 matches every still-open item against the pools and returns the
// items that continue to clustering (confirmed, ambiguous, unresolved).
func (p *Pipeline) tier2(ctx context.Context, items []*item, payment, nonPayment []*LearnedPattern) []*item {
	var remaining []*item
	for _, it := range items {
		if it.decision != nil {
			continue
		}
		match := p.matcher.Match(it.msg, it.vec, payment, nonPayment)
		it.match = match

		switch match.Outcome {
		case OutcomeNonPayment:
			it.decision = &ClassificationDecision{
				MessageID:  it.msg.ID,
				IsPayment:  false,
				Tier:       2,
				Confidence: match.Similarity,
			}
			p.bumpMatchCount(ctx, match.Pattern)
		case OutcomeReplayed:
			it.decision = &ClassificationDecision{
				MessageID:  it.msg.ID,
				IsPayment:  true,
				Tier:       2,
				Confidence: match.Similarity,
				Result:     match.Result,
			}
			p.bumpMatchCount(ctx, match.Pattern)
		case OutcomeConfirmed:
			// Payment is settled; extraction continues in Tier 3 with
			// the matched pattern as fallback.
			p.bumpMatchCount(ctx, match.Pattern)
			remaining = append(remaining, it)
		case OutcomeAmbiguous, OutcomeUnresolved:
			remaining = append(remaining, it)
		}
	}
	return remaining
}

func (p *Pipeline) bumpMatchCount(ctx context.Context, pattern *LearnedPattern) {
	pattern.touch(time.Now())
	if err := p.deps.Store.IncrementMatchCount(ctx, pattern.ID); err != nil {
		p.logger.Error("Failed to increment match count",
			zap.String("pattern_id", pattern.ID),
			zap.Error(err))
	}
}

// remoteRules tries the read-only remote pool, keyed by normalized sender.
// A rule that fires is promoted into the local pattern store.
func (p *Pipeline) remoteRules(ctx context.Context, items []*item) []*item {
	if p.deps.Remote == nil || len(items) == 0 {
		return items
	}
	rules, err := p.deps.Remote.LoadRules(ctx)
	if err != nil {
		p.logger.Warn("Remote rule pool unavailable", zap.Error(err))
		return items
	}

	var remaining []*item
	for _, it := range items {
		if p.applyRemoteRules(ctx, it, rules[NormalizeSender(it.msg.Sender)]) {
			continue
		}
		remaining = append(remaining, it)
	}
	return remaining
}

func (p *Pipeline) applyRemoteRules(ctx context.Context, it *item, rules []RemoteRule) bool {
	ts := resolveDateTime(it.msg.RawText, it.msg.Timestamp())
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if CosineSimilarity(it.vec, rule.Vector) < rule.MinSimilarity {
			continue
		}
		result, ok := p.engine.ParseWithRegex(it.msg.RawText, rule.Regex, nil, ts)
		if !ok {
			continue
		}
		it.decision = &ClassificationDecision{
			MessageID:  it.msg.ID,
			IsPayment:  true,
			Tier:       2,
			Confidence: rule.MinSimilarity,
			Result:     result,
		}
		pattern := NewLearnedPattern(it.template, it.msg.Sender, it.vec, true, result, rule.Regex, SourceRemoteRule, 0.9)
		if err := p.deps.Store.Insert(ctx, pattern); err != nil {
			p.logger.Error("Failed to promote remote rule", zap.Error(err))
		}
		p.logger.Debug("Remote rule promoted",
			zap.String("rule_id", rule.RuleID),
			zap.String("message_id", it.msg.ID))
		return true
	}
	return false
}

// tier3 clusters the remainder and amortizes one synthesis or extraction
// call per cluster. Quota exhaustion stops further generative work for this
// run; the affected items keep their degraded default.
func (p *Pipeline) tier3(ctx context.Context, items []*item) {
	if len(items) == 0 {
		return
	}
	msgs := make([]Message, len(items))
	vecs := make([]Vector, len(items))
	for i, it := range items {
		msgs[i] = it.msg
		vecs[i] = it.vec
	}

	clusters := p.clusterer.Cluster(ctx, msgs, vecs)
	p.logger.Info("Clustering complete",
		zap.Int("unresolved", len(items)),
		zap.Int("clusters", len(clusters)))

	quota := false
	for _, cluster := range clusters {
		if ctx.Err() != nil {
			return
		}
		if quota {
			p.tier2Fallback(cluster, items)
			continue
		}
		if err := p.processCluster(ctx, cluster, items); err != nil {
			if errors.Is(err, ErrQuotaExhausted) {
				quota = true
				p.logger.Warn("Quota exhausted, degrading remaining clusters")
				p.tier2Fallback(cluster, items)
				continue
			}
			p.logger.Error("Cluster processing failed", zap.Error(err))
			p.tier2Fallback(cluster, items)
		}
	}
}

// processCluster resolves one cluster: synthesize (or fall back to a
// template-derived triple) and apply it to every member's own body, or run
// a per-cluster generative extraction when no usable regex exists.
func (p *Pipeline) processCluster(ctx context.Context, cluster Cluster, items []*item) error {
	seed := items[cluster.Seed]
	template := seed.template

	samples := make([]string, 0, p.cfg.MaxSamples)
	for _, m := range cluster.Members {
		if len(samples) == p.cfg.MaxSamples {
			break
		}
		samples = append(samples, items[m].msg.RawText)
	}
	minRatio := p.cfg.GroupMinRatio
	if len(samples) == 1 {
		minRatio = p.cfg.SingleMinRatio
	}

	triple, source, confidence, err := p.resolveTriple(ctx, template, samples, minRatio)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !triple.IsEmpty() {
		p.applyTriple(cluster, items, triple, confidence)
		p.persistCluster(ctx, seed, triple, source, confidence, true)
		return nil
	}
	return p.extractCluster(ctx, cluster, items)
}

// resolveTriple runs the synthesis protocol unless the family is cooling
// down, then tries the template-derived fallback. An empty triple with a
// nil error means no usable regex for this family; quota exhaustion is an
// error so the caller never spends another call on this cluster.
func (p *Pipeline) resolveTriple(ctx context.Context, template string, samples []string, minRatio float64) (RegexTriple, PatternSource, float64, error) {
	if !p.deps.Cooldown.InCooldown(template) {
		triple, ok, err := p.synth.Synthesize(ctx, samples, minRatio)
		if err == nil && ok {
			p.deps.Cooldown.Success(template)
			return triple, SourceLLMRegex, 0.9, nil
		}
		if err != nil && errors.Is(err, ErrQuotaExhausted) {
			return RegexTriple{}, "", 0, err
		}
		p.deps.Cooldown.Failure(template)
	}

	if triple, ok := TemplateFallbackTriple(template); ok {
		if p.synth.SuccessRatio(triple, samples) >= minRatio {
			return triple, SourceTemplateRegex, 0.6, nil
		}
	}
	return RegexTriple{}, "", 0, nil
}

// applyTriple parses every member's own body with the cluster triple so the
// amount and date are always the member's. A member that fails parsing is
// never forced onto a possibly wrong default: it keeps no result, unless
// Tier 2 had already confirmed it, in which case it falls back to replaying
// its matched pattern.
func (p *Pipeline) applyTriple(cluster Cluster, items []*item, triple RegexTriple, confidence float64) {
	seedFields := p.memberResult(items[cluster.Seed], triple)
	for _, m := range cluster.Members {
		it := items[m]
		ts := resolveDateTime(it.msg.RawText, it.msg.Timestamp())
		result, ok := p.engine.ParseWithRegex(it.msg.RawText, triple, seedFields, ts)
		if ok {
			it.decision = &ClassificationDecision{
				MessageID:  it.msg.ID,
				IsPayment:  true,
				Tier:       3,
				Confidence: confidence,
				Result:     result,
			}
			continue
		}
		p.memberFallback(it)
	}
}

func (p *Pipeline) memberResult(it *item, triple RegexTriple) *ExtractionResult {
	ts := resolveDateTime(it.msg.RawText, it.msg.Timestamp())
	result, _ := p.engine.ParseWithRegex(it.msg.RawText, triple, nil, ts)
	return result
}

// extractCluster is the no-regex path: one plain generative extraction for
// the seed, cluster-level store/card/category reused for every member with
// the member's own amount and date.
func (p *Pipeline) extractCluster(ctx context.Context, cluster Cluster, items []*item) error {
	seed := items[cluster.Seed]
	decision, err := p.extractor.Extract(ctx, seed.msg)
	if err != nil {
		var malformed *MalformedResponseError
		if errors.As(err, &malformed) {
			p.tier2Fallback(cluster, items)
			return nil
		}
		return err
	}

	if !decision.IsPayment {
		for _, m := range cluster.Members {
			it := items[m]
			if it.match.Outcome == OutcomeConfirmed {
				// Tier 2 settled payment for this member at the confirm
				// boundary. The cluster verdict cannot unsettle it; the
				// member falls back to replaying its matched pattern.
				p.memberFallback(it)
				continue
			}
			it.decision = &ClassificationDecision{
				MessageID:  it.msg.ID,
				IsPayment:  false,
				Tier:       3,
				Confidence: 0.8,
			}
		}
		if seed.match.Outcome != OutcomeConfirmed {
			p.persistCluster(ctx, seed, RegexTriple{}, SourceLLM, 0.8, false)
		}
		return nil
	}
	if decision.Result == nil {
		p.tier2Fallback(cluster, items)
		return nil
	}

	for _, m := range cluster.Members {
		it := items[m]
		amount := decision.Result.Amount
		ts := resolveDateTime(it.msg.RawText, it.msg.Timestamp())
		if m != cluster.Seed {
			var ok bool
			amount, ok = currentBodyAmount(it.msg.RawText, p.cfg.MinAmount)
			if !ok {
				p.memberFallback(it)
				continue
			}
		}
		it.decision = &ClassificationDecision{
			MessageID:  it.msg.ID,
			IsPayment:  true,
			Tier:       3,
			Confidence: 0.8,
			Result: &ExtractionResult{
				Amount:   amount,
				Store:    decision.Result.Store,
				Card:     decision.Result.Card,
				Category: decision.Result.Category,
				DateTime: ts,
			},
		}
	}
	p.persistCluster(ctx, seed, RegexTriple{}, SourceLLM, 0.8, true)
	return nil
}

// persistCluster stores exactly one learned pattern per cluster (the seed's
// template, vector and regex) so Tier 2 catches future members of this
// family without re-clustering.
func (p *Pipeline) persistCluster(ctx context.Context, seed *item, triple RegexTriple, source PatternSource, confidence float64, isPayment bool) {
	if len(seed.vec) == 0 {
		return
	}
	var fields *ExtractionResult
	if seed.decision != nil {
		fields = seed.decision.Result
	}
	pattern := NewLearnedPattern(seed.template, seed.msg.Sender, seed.vec, isPayment, fields, triple, source, confidence)
	if err := p.deps.Store.Insert(ctx, pattern); err != nil {
		p.logger.Error("Failed to persist cluster pattern", zap.Error(err))
	}
}

// tier2Fallback resolves every member of a degraded cluster that Tier 2 had
// already confirmed by replaying its matched pattern. Other members keep
// the default no-result verdict.
func (p *Pipeline) tier2Fallback(cluster Cluster, items []*item) {
	for _, m := range cluster.Members {
		p.memberFallback(items[m])
	}
}

func (p *Pipeline) memberFallback(it *item) {
	if it.decision != nil {
		return
	}
	if it.match.Outcome != OutcomeConfirmed || it.match.Pattern == nil {
		return
	}
	if result, ok := p.matcher.Replay(it.msg, it.match.Pattern); ok {
		it.decision = &ClassificationDecision{
			MessageID:  it.msg.ID,
			IsPayment:  true,
			Tier:       2,
			Confidence: it.match.Similarity,
			Result:     result,
		}
		return
	}
	// Payment was confirmed even though extraction failed everywhere.
	it.decision = &ClassificationDecision{
		MessageID:  it.msg.ID,
		IsPayment:  true,
		Tier:       2,
		Confidence: it.match.Similarity,
	}
}
