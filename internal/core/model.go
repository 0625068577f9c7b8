package core

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a raw transaction notification as it arrives from a
// device inbox or feed. It is pipeline-local and never persisted.
type Message struct {
	ID          string
	RawText     string
	Sender      string
	TimestampMs int64
}

// Timestamp returns the message timestamp as time.Time.
func (m Message) Timestamp() time.Time {
	return time.UnixMilli(m.TimestampMs)
}

// Vector is a fixed-dimension embedding. Vectors from different embedding
// providers are never mixed.
type Vector []float32

// RegexTriple holds the extraction patterns for one message family. Each
// pattern uses capture group 1 as the value; an empty string means no regex
// is available for that field.
type RegexTriple struct {
	AmountPattern string `json:"amount_regex"`
	StorePattern  string `json:"store_regex"`
	CardPattern   string `json:"card_regex"`
}

// IsEmpty reports whether no pattern is set at all.
func (t RegexTriple) IsEmpty() bool {
	return t.AmountPattern == "" && t.StorePattern == "" && t.CardPattern == ""
}

// PatternSource identifies how a learned pattern was produced.
type PatternSource string

const (
	SourceRule          PatternSource = "rule"
	SourceLLM           PatternSource = "llm"
	SourceLLMRegex      PatternSource = "llm_regex"
	SourceTemplateRegex PatternSource = "template_regex"
	SourceRemoteRule    PatternSource = "remote_rule"
)

// ExtractionResult holds the structured fields pulled out of a payment
// notification. Amount is always strictly positive; an extractor that cannot
// guarantee that returns no result instead of a placeholder.
type ExtractionResult struct {
	Amount   int64
	Store    string
	Card     string
	Category string
	DateTime time.Time
}

// ClassificationDecision is the pipeline's verdict for one message.
type ClassificationDecision struct {
	MessageID  string
	IsPayment  bool
	Tier       int
	Confidence float64
	Result     *ExtractionResult
}

// LearnedPattern is a persisted template+vector+regex record reused by
// Tier 2. It is created on any Tier-1/Tier-3 success, its match count is
// incremented on Tier-2 hits, and it is evicted when stale.
type LearnedPattern struct {
	ID            string
	Template      string
	Sender        string
	Vector        Vector
	IsPayment     bool
	Fields        *ExtractionResult
	Regex         RegexTriple
	Source        PatternSource
	Confidence    float64
	MatchCount    int
	CreatedAt     time.Time
	LastMatchedAt time.Time
}

// NewLearnedPattern creates a pattern with a fresh ID and timestamps.
func NewLearnedPattern(template, sender string, vec Vector, isPayment bool, fields *ExtractionResult, triple RegexTriple, source PatternSource, confidence float64) *LearnedPattern {
	now := time.Now()
	return &LearnedPattern{
		ID:            uuid.NewString(),
		Template:      template,
		Sender:        sender,
		Vector:        vec,
		IsPayment:     isPayment,
		Fields:        fields,
		Regex:         triple,
		Source:        source,
		Confidence:    confidence,
		MatchCount:    1,
		CreatedAt:     now,
		LastMatchedAt: now,
	}
}

// RemoteRule is a read-only, externally synced extraction rule. A remote rule
// that fires successfully is promoted into the local pattern store.
type RemoteRule struct {
	RuleID        string      `json:"rule_id"`
	Sender        string      `json:"sender"`
	Vector        Vector      `json:"vector"`
	Regex         RegexTriple `json:"regex"`
	MinSimilarity float64     `json:"min_similarity"`
	Enabled       bool        `json:"enabled"`
}
