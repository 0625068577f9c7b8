package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const synthesizerSystemPrompt = "You are a regex synthesis engine for transaction notifications. Respond only with JSON."

const synthesizePromptFormat = `The following messages are variants of one bank/card notification format.
Write Go-compatible regular expressions that extract fields from any message of this format.
Each regex must put the extracted value in capture group 1.
Respond with a JSON object containing:
- is_payment: boolean (true if this format notifies completed payments)
- amount_regex: string (captures the charged amount, digits and commas)
- store_regex: string (captures the merchant name)
- card_regex: string (captures the card or issuer name, empty string if none is present)

Messages:
%s

Respond only with the JSON object and nothing else.`

const repairPromptFormat = `Your previous answer was rejected.

Previous answer:
%s

Rejection reason: %s

The same messages again:
%s

Correct the regular expressions and respond with the same JSON object shape, and nothing else.`

// synthesisResponse is the wire shape of a synthesized triple.
type synthesisResponse struct {
	IsPayment   bool   `json:"is_payment"`
	AmountRegex string `json:"amount_regex"`
	StoreRegex  string `json:"store_regex"`
	CardRegex   string `json:"card_regex"`
}

var (
	compactDigitsRe = regexp.MustCompile(`\d{5,}`)
	compactAmountRe = regexp.MustCompile(`\d[\d,]{3,}\s*원`)
	compactDateRe   = regexp.MustCompile(`\d{2,4}[./-]\d{1,2}(?:[./-]\d{1,2})?`)
	compactTimeRe   = regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?`)
	compactMaskRe   = regexp.MustCompile(`\d+\*+[\d*]*`)
)

// RegexSynthesizer runs the Tier-3 synthesis protocol: prompt the provider
// with up to maxSamples messages of one family, validate the returned triple
// against every sample, allow exactly one repair round, then accept or
// abandon. At most two provider calls per family keeps the synthesis cost
// bounded.
type RegexSynthesizer struct {
	client     CompletionClient
	caller     *RateLimitedCaller
	engine     *RegexEngine
	maxSamples int
	logger     *zap.Logger
}

// NewRegexSynthesizer creates a synthesizer.
func NewRegexSynthesizer(client CompletionClient, caller *RateLimitedCaller, engine *RegexEngine, maxSamples int, logger *zap.Logger) *RegexSynthesizer {
	if maxSamples <= 0 {
		maxSamples = 3
	}
	return &RegexSynthesizer{
		client:     client,
		caller:     caller,
		engine:     engine,
		maxSamples: maxSamples,
		logger:     logger,
	}
}

// Synthesize produces a validated RegexTriple for the family represented by
// samples, accepting only when at least minRatio of the samples parse
// correctly (0.8 for group learning, 1.0 for single-message requests).
// A zero-value triple with false means the family has no usable regex.
func (s *RegexSynthesizer) Synthesize(ctx context.Context, samples []string, minRatio float64) (RegexTriple, bool, error) {
	if len(samples) == 0 {
		return RegexTriple{}, false, nil
	}
	if len(samples) > s.maxSamples {
		samples = samples[:s.maxSamples]
	}

	raw, err := s.request(ctx, fmt.Sprintf(synthesizePromptFormat, formatSamples(samples, false)), samples)
	if err != nil {
		return RegexTriple{}, false, err
	}

	triple, reason := s.validate(raw, samples, minRatio)
	if reason == "" {
		return triple, true, nil
	}
	s.logger.Debug("Synthesized triple rejected, attempting repair",
		zap.String("reason", reason))

	// Exactly one repair round: previous response, stated failure reason,
	// same samples.
	repairPrompt := fmt.Sprintf(repairPromptFormat, raw, reason, formatSamples(samples, false))
	raw, err = s.request(ctx, repairPrompt, samples)
	if err != nil {
		return RegexTriple{}, false, err
	}
	triple, reason = s.validate(raw, samples, minRatio)
	if reason == "" {
		return triple, true, nil
	}
	s.logger.Info("Regex synthesis abandoned after repair round",
		zap.String("reason", reason),
		zap.Int("samples", len(samples)))
	return RegexTriple{}, false, nil
}

// request performs one synthesis call, retrying once with a compacted prompt
// when the provider signals the prompt was too large or the output was
// truncated. Two attempts, then abandon.
func (s *RegexSynthesizer) request(ctx context.Context, prompt string, samples []string) (string, error) {
	raw, err := s.caller.Complete(ctx, s.client, synthesizerSystemPrompt, prompt)
	if err == nil {
		return raw, nil
	}
	if !errors.Is(err, ErrPromptTooLarge) {
		return "", err
	}
	compact := fmt.Sprintf(synthesizePromptFormat, formatSamples(samples, true))
	return s.caller.Complete(ctx, s.client, synthesizerSystemPrompt, compact)
}

// validate parses and checks a raw response, returning the triple and an
// empty reason on acceptance, or the rejection reason.
func (s *RegexSynthesizer) validate(raw string, samples []string, minRatio float64) (RegexTriple, string) {
	obj, ok := FirstJSONObject(raw)
	if !ok {
		return RegexTriple{}, "response carries no JSON object"
	}
	var resp synthesisResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return RegexTriple{}, fmt.Sprintf("response is not valid JSON: %v", err)
	}
	if !resp.IsPayment {
		return RegexTriple{}, "format was not flagged as a payment notification"
	}
	if strings.TrimSpace(resp.AmountRegex) == "" || strings.TrimSpace(resp.StoreRegex) == "" {
		return RegexTriple{}, "amount_regex and store_regex are both required"
	}

	triple := RegexTriple{
		AmountPattern: resp.AmountRegex,
		StorePattern:  resp.StoreRegex,
		CardPattern:   resp.CardRegex,
	}
	for _, p := range []string{triple.AmountPattern, triple.StorePattern, triple.CardPattern} {
		if p != "" && !s.engine.CanCompile(p) {
			return RegexTriple{}, fmt.Sprintf("regex %q does not compile", p)
		}
	}

	ratio := s.SuccessRatio(triple, samples)
	if ratio < minRatio {
		return RegexTriple{}, fmt.Sprintf("only %.2f of samples parsed correctly (need %.2f)", ratio, minRatio)
	}
	return triple, ""
}

// SuccessRatio runs the triple against every sample. A sample succeeds iff
// its amount capture parses to an integer at or above the minimum AND its
// store capture passes the validity filter.
func (s *RegexSynthesizer) SuccessRatio(triple RegexTriple, samples []string) float64 {
	if len(samples) == 0 {
		return 0
	}
	successes := 0
	for _, sample := range samples {
		if _, ok := s.engine.ExtractAmount(triple.AmountPattern, sample); !ok {
			continue
		}
		store, ok := s.engine.ExtractGroup1(triple.StorePattern, sample)
		if !ok || !s.engine.IsValidStore(store) {
			continue
		}
		successes++
	}
	return float64(successes) / float64(len(samples))
}

// formatSamples renders samples for the prompt. The compact form collapses
// long digit runs, dates, times, card masks and amount-units into short tags
// to cut token cost while preserving the message structure.
func formatSamples(samples []string, compact bool) string {
	var sb strings.Builder
	for i, sample := range samples {
		if compact {
			sample = compactSample(sample)
		}
		fmt.Fprintf(&sb, "%d) %s\n", i+1, sample)
	}
	return sb.String()
}

func compactSample(s string) string {
	s = compactAmountRe.ReplaceAllString(s, "A원")
	s = compactMaskRe.ReplaceAllString(s, "C*")
	s = compactDateRe.ReplaceAllString(s, "D")
	s = compactTimeRe.ReplaceAllString(s, "T")
	s = compactDigitsRe.ReplaceAllString(s, "N")
	return s
}
