package core

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/width"
)

// Thresholds are the Tier-2 similarity boundaries. All comparisons are
// inclusive: a similarity exactly at a boundary satisfies that tier. They
// are policy constants surfaced through configuration, not structural
// invariants.
type Thresholds struct {
	NonPayment float64 // classify non-payment outright
	Replay     float64 // replay the matched pattern's regex triple
	Confirm    float64 // payment confirmed, extraction deferred to Tier 3
	Ambiguous  float64 // queue for grouped Tier-3 without confirming
}

// DefaultThresholds returns the tuned production boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{NonPayment: 0.97, Replay: 0.95, Confirm: 0.92, Ambiguous: 0.80}
}

// MatchOutcome is the Tier-2 decision for one message.
type MatchOutcome int

const (
	// OutcomeUnresolved means no pool candidate reached the ambiguous
	// boundary; the message goes to clustering.
	OutcomeUnresolved MatchOutcome = iota
	// OutcomeNonPayment means a non-payment pattern matched decisively.
	OutcomeNonPayment
	// OutcomeReplayed means a payment pattern's triple parsed the current
	// body successfully.
	OutcomeReplayed
	// OutcomeConfirmed means payment is confirmed but extraction is
	// deferred to Tier 3, with the matched pattern kept as fallback.
	OutcomeConfirmed
	// OutcomeAmbiguous means the message joins grouped Tier-3 extraction
	// without confirming payment and without touching cache statistics.
	OutcomeAmbiguous
)

// Tier2Match carries the outcome plus whatever the match produced.
type Tier2Match struct {
	Outcome    MatchOutcome
	Pattern    *LearnedPattern
	Similarity float64
	Result     *ExtractionResult
}

// PatternMatcher is Tier 2: it looks a message's vector up against the
// non-payment and payment pools and applies the threshold ladder.
type PatternMatcher struct {
	engine     *RegexEngine
	rules      *RuleClassifier
	thresholds Thresholds
	logger     *zap.Logger
}

// NewPatternMatcher creates a Tier-2 matcher.
func NewPatternMatcher(engine *RegexEngine, thresholds Thresholds, logger *zap.Logger) *PatternMatcher {
	return &PatternMatcher{
		engine:     engine,
		rules:      NewRuleClassifier(engine.minAmount, logger),
		thresholds: thresholds,
		logger:     logger,
	}
}

// Match applies the Tier-2 ladder for one message. matchCount bookkeeping is
// the caller's job (the store is a port); ambiguous outcomes must not
// increment it so low-confidence noise cannot distort cache statistics.
func (m *PatternMatcher) Match(msg Message, vec Vector, payment, nonPayment []*LearnedPattern) Tier2Match {
	if len(vec) == 0 {
		return Tier2Match{Outcome: OutcomeUnresolved}
	}

	if idx, sim := BestMatch(vec, vectorsOf(nonPayment), m.thresholds.NonPayment); idx >= 0 {
		return Tier2Match{Outcome: OutcomeNonPayment, Pattern: nonPayment[idx], Similarity: sim}
	}

	idx, sim := BestMatch(vec, vectorsOf(payment), m.thresholds.Ambiguous)
	if idx < 0 {
		return Tier2Match{Outcome: OutcomeUnresolved}
	}
	pattern := payment[idx]

	switch {
	case sim >= m.thresholds.Replay:
		if result, ok := m.Replay(msg, pattern); ok {
			return Tier2Match{Outcome: OutcomeReplayed, Pattern: pattern, Similarity: sim, Result: result}
		}
		// The family matched but its triple no longer parses this body;
		// payment stands, extraction moves on to Tier 3.
		return Tier2Match{Outcome: OutcomeConfirmed, Pattern: pattern, Similarity: sim}
	case sim >= m.thresholds.Confirm:
		return Tier2Match{Outcome: OutcomeConfirmed, Pattern: pattern, Similarity: sim}
	default:
		return Tier2Match{Outcome: OutcomeAmbiguous, Pattern: pattern, Similarity: sim}
	}
}

// Replay applies a learned pattern against the current message body. The
// triple runs first; when the pattern carries no usable triple, the amount
// and the merchant are re-read from the current body, and the cached fields
// fill in whatever the body does not resolve. A family variant naming a
// different merchant must never inherit the cached one.
func (m *PatternMatcher) Replay(msg Message, pattern *LearnedPattern) (*ExtractionResult, bool) {
	ts := resolveDateTime(msg.RawText, msg.Timestamp())

	if !pattern.Regex.IsEmpty() {
		if result, ok := m.engine.ParseWithRegex(msg.RawText, pattern.Regex, pattern.Fields, ts); ok {
			return result, true
		}
	}

	if pattern.Fields == nil || !m.engine.IsValidStore(pattern.Fields.Store) {
		return nil, false
	}
	amount, ok := currentBodyAmount(msg.RawText, m.engine.minAmount)
	if !ok {
		return nil, false
	}
	store, category := pattern.Fields.Store, pattern.Fields.Category
	if s, ok := m.currentBodyStore(msg.RawText); ok {
		store, category = s, Categorize(s)
	}
	return &ExtractionResult{
		Amount:   amount,
		Store:    store,
		Card:     pattern.Fields.Card,
		Category: category,
		DateTime: ts,
	}, true
}

// currentBodyStore resolves the merchant from the current body with the
// Tier-1 heuristics. A generic resolution reports false so the caller keeps
// the cached merchant.
func (m *PatternMatcher) currentBodyStore(body string) (string, bool) {
	body = width.Narrow.String(body)
	amount, start := m.rules.findAmount(body)
	if amount == 0 {
		return "", false
	}
	store := m.rules.findStore(body, start)
	if store == GenericStoreName {
		return "", false
	}
	return store, true
}

// currentBodyAmount reads the first qualifying currency amount from body.
// Replay never reuses a cached amount: the charge belongs to this message.
func currentBodyAmount(body string, minAmount int64) (int64, bool) {
	c := RuleClassifier{minAmount: minAmount}
	amount, _ := c.findAmount(body)
	return amount, amount > 0
}

func vectorsOf(patterns []*LearnedPattern) []Vector {
	out := make([]Vector, len(patterns))
	for i, p := range patterns {
		out[i] = p.Vector
	}
	return out
}

// touch marks a pattern as freshly matched. Used by the orchestrator before
// persisting bookkeeping.
func (p *LearnedPattern) touch(now time.Time) {
	p.MatchCount++
	p.LastMatchedAt = now
}
