package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const extractorSystemPrompt = "You are a transaction notification parser. Respond only with JSON."

const extractPromptFormat = `Analyze the following bank/card notification message and extract its fields.
Respond with a JSON object containing:
- is_payment: boolean (true if the message notifies a completed payment or withdrawal)
- amount: integer (charged amount in the smallest currency unit, 0 if none)
- store: string (merchant name, empty if none)
- card: string (card or issuer name, empty if none)
- category: string (spending category, empty if unsure)
- date_time: string (YYYY-MM-DD HH:MM if present in the message, else empty)

Message:
%s

Respond only with the JSON object and nothing else.`

const extractBatchPromptFormat = `Analyze each of the following bank/card notification messages and extract their fields.
Respond with a JSON array with exactly one object per message, each containing:
- no: integer (1-based message number)
- is_payment: boolean
- amount: integer (charged amount, 0 if none)
- store: string
- card: string
- category: string
- date_time: string (YYYY-MM-DD HH:MM if present, else empty)

Messages:
%s

Respond only with the JSON array and nothing else.`

// extractionResponse is the wire shape of one generative extraction.
type extractionResponse struct {
	No        int    `json:"no"`
	IsPayment bool   `json:"is_payment"`
	Amount    int64  `json:"amount"`
	Store     string `json:"store"`
	Card      string `json:"card"`
	Category  string `json:"category"`
	DateTime  string `json:"date_time"`
}

// GenerativeDecision is a Tier-3 per-message verdict.
type GenerativeDecision struct {
	IsPayment bool
	Result    *ExtractionResult
}

// GenerativeExtractor is the Tier-3 plain extractor: it asks the provider
// for structured fields directly, without synthesizing a reusable regex.
type GenerativeExtractor struct {
	client CompletionClient
	caller *RateLimitedCaller
	engine *RegexEngine
	logger *zap.Logger
}

// NewGenerativeExtractor creates a Tier-3 extractor.
func NewGenerativeExtractor(client CompletionClient, caller *RateLimitedCaller, engine *RegexEngine, logger *zap.Logger) *GenerativeExtractor {
	return &GenerativeExtractor{client: client, caller: caller, engine: engine, logger: logger}
}

// Extract classifies and extracts a single message. A nil decision with nil
// error means the provider answered but produced nothing usable.
func (g *GenerativeExtractor) Extract(ctx context.Context, msg Message) (*GenerativeDecision, error) {
	prompt := fmt.Sprintf(extractPromptFormat, msg.RawText)
	raw, err := g.caller.Complete(ctx, g.client, extractorSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	obj, ok := FirstJSONObject(raw)
	if !ok {
		g.logger.Warn("Extraction response carries no JSON object",
			zap.String("message_id", msg.ID))
		return nil, &MalformedResponseError{Reason: "no balanced object", Raw: raw}
	}
	var resp extractionResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return nil, &MalformedResponseError{Reason: err.Error(), Raw: raw}
	}
	return g.toDecision(resp, msg), nil
}

// ExtractBatch extracts messages in order; the returned slice always has the
// same length as msgs, with nil entries for per-message failures. A batch of
// one behaves identically to Extract.
func (g *GenerativeExtractor) ExtractBatch(ctx context.Context, msgs []Message) ([]*GenerativeDecision, error) {
	out := make([]*GenerativeDecision, len(msgs))
	if len(msgs) == 0 {
		return out, nil
	}
	if len(msgs) == 1 {
		d, err := g.Extract(ctx, msgs[0])
		if err != nil {
			return out, err
		}
		out[0] = d
		return out, nil
	}

	var sb strings.Builder
	for i, m := range msgs {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.ReplaceAll(m.RawText, "\n", " / "))
	}
	prompt := fmt.Sprintf(extractBatchPromptFormat, sb.String())

	raw, err := g.caller.Complete(ctx, g.client, extractorSystemPrompt, prompt)
	if err != nil {
		return out, err
	}
	arr, ok := FirstJSONArray(raw)
	if !ok {
		return out, &MalformedResponseError{Reason: "no balanced array", Raw: raw}
	}
	var resps []extractionResponse
	if err := json.Unmarshal([]byte(arr), &resps); err != nil {
		return out, &MalformedResponseError{Reason: err.Error(), Raw: raw}
	}
	for _, resp := range resps {
		if resp.No < 1 || resp.No > len(msgs) {
			continue
		}
		out[resp.No-1] = g.toDecision(resp, msgs[resp.No-1])
	}
	return out, nil
}

// toDecision validates a wire response into a decision. An amount that is
// not strictly positive means no extraction result at all, never a zero
// placeholder.
func (g *GenerativeExtractor) toDecision(resp extractionResponse, msg Message) *GenerativeDecision {
	if !resp.IsPayment {
		return &GenerativeDecision{IsPayment: false}
	}
	if resp.Amount <= 0 {
		return &GenerativeDecision{IsPayment: true}
	}
	store := strings.TrimSpace(resp.Store)
	if !g.engine.IsValidStore(store) {
		return &GenerativeDecision{IsPayment: true}
	}
	category := strings.TrimSpace(resp.Category)
	if category == "" {
		category = Categorize(store)
	}
	return &GenerativeDecision{
		IsPayment: true,
		Result: &ExtractionResult{
			Amount:   resp.Amount,
			Store:    store,
			Card:     strings.TrimSpace(resp.Card),
			Category: category,
			DateTime: parseWireDateTime(resp.DateTime, msg.Timestamp()),
		},
	}
}

func parseWireDateTime(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, fallback.Location()); err == nil {
			return t
		}
	}
	return fallback
}
