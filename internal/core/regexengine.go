package core

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// DefaultMinAmount is the smallest capture accepted as a payment amount.
// It guards against a syntactically valid regex that happens to capture a
// date or time fragment as the amount.
const DefaultMinAmount = 100

// storeBannedKeywords are transaction-structure words that a merchant name
// can never be.
var storeBannedKeywords = []string{
	"승인", "거절", "취소", "출금", "입금", "결제", "잔액", "누적",
	"일시불", "할부", "체크카드", "신용카드", "금액", "사용", "발신",
}

// cardBannedKeywords are sender-disclaimer words that show up when a card
// regex drifts into the footer of the message.
var cardBannedKeywords = []string{
	"무료", "수신", "거부", "광고", "문의", "고객센터", "안내", "홈페이지",
}

var (
	dateTimeShapeRe = regexp.MustCompile(`^[\d./:\-\s]+$`)
	nonDigitRe      = regexp.MustCompile(`[^\d]`)
)

// RegexEngine compiles and caches machine-produced patterns and applies them
// with field-validity filters. Invalid syntax yields "no match" rather than
// an error; a pattern that failed to compile once is remembered as bad so it
// is not re-attempted. The cache is process-wide and shared across
// concurrent pipeline runs.
type RegexEngine struct {
	mu        sync.RWMutex
	cache     map[string]*regexp.Regexp
	bad       map[string]struct{}
	minAmount int64
	logger    *zap.Logger
}

// NewRegexEngine creates an engine with the given minimum amount threshold.
func NewRegexEngine(minAmount int64, logger *zap.Logger) *RegexEngine {
	if minAmount <= 0 {
		minAmount = DefaultMinAmount
	}
	return &RegexEngine{
		cache:     make(map[string]*regexp.Regexp),
		bad:       make(map[string]struct{}),
		minAmount: minAmount,
		logger:    logger,
	}
}

// Compile returns the compiled pattern, or nil if the pattern is empty or
// has invalid syntax.
func (e *RegexEngine) Compile(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}

	e.mu.RLock()
	re, ok := e.cache[pattern]
	if !ok {
		_, ok = e.bad[pattern]
	}
	e.mu.RUnlock()
	if ok {
		return re
	}

	compiled, err := regexp.Compile(pattern)
	e.mu.Lock()
	if err != nil {
		e.bad[pattern] = struct{}{}
	} else {
		e.cache[pattern] = compiled
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Debug("Rejecting uncompilable pattern",
			zap.String("pattern", pattern),
			zap.Error(err))
		return nil
	}
	return compiled
}

// CanCompile reports whether the pattern compiles.
func (e *RegexEngine) CanCompile(pattern string) bool {
	return e.Compile(pattern) != nil
}

// ExtractGroup1 applies the pattern and returns the trimmed first capture
// group, or false when the pattern is invalid, does not match, or the
// capture is blank.
func (e *RegexEngine) ExtractGroup1(pattern, text string) (string, bool) {
	re := e.Compile(pattern)
	if re == nil {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	v := strings.TrimSpace(m[1])
	if v == "" {
		return "", false
	}
	return v, true
}

// ExtractAmount applies the amount pattern, strips non-digits from the
// capture and returns the value only when it parses to an integer at or
// above the minimum threshold.
func (e *RegexEngine) ExtractAmount(pattern, text string) (int64, bool) {
	raw, ok := e.ExtractGroup1(pattern, text)
	if !ok {
		return 0, false
	}
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if digits == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < e.minAmount {
		return 0, false
	}
	return n, true
}

// IsValidStore applies the merchant-name validity filter.
func (e *RegexEngine) IsValidStore(s string) bool {
	return isValidField(s, 2, 30, storeBannedKeywords)
}

// IsValidCard applies the card-name validity filter.
func (e *RegexEngine) IsValidCard(s string) bool {
	return isValidField(s, 2, 20, cardBannedKeywords)
}

func isValidField(s string, minLen, maxLen int, banned []string) bool {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) < minLen || len(runes) > maxLen {
		return false
	}
	if strings.ContainsAny(s, "{}") {
		return false
	}
	if dateTimeShapeRe.MatchString(s) {
		return false
	}
	hasLetter := false
	for _, r := range runes {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		// Pure digits or punctuation.
		return false
	}
	for _, kw := range banned {
		if strings.Contains(s, kw) {
			return false
		}
	}
	return true
}

// ParseWithRegex applies a regex triple against body. It returns no result
// when the amount is missing or below threshold, or when the captured store
// is invalid. Amount and store always come from the current body; a cached
// value from another message is never substituted for either. Card and
// category may fall back to the cached fields.
func (e *RegexEngine) ParseWithRegex(body string, triple RegexTriple, cached *ExtractionResult, ts time.Time) (*ExtractionResult, bool) {
	amount, ok := e.ExtractAmount(triple.AmountPattern, body)
	if !ok {
		return nil, false
	}

	store, ok := e.ExtractGroup1(triple.StorePattern, body)
	if !ok || !e.IsValidStore(store) {
		return nil, false
	}

	card := ""
	if c, ok := e.ExtractGroup1(triple.CardPattern, body); ok && e.IsValidCard(c) {
		card = c
	}
	category := ""
	if cached != nil {
		if card == "" {
			card = cached.Card
		}
		category = cached.Category
	}
	if category == "" {
		category = Categorize(store)
	}

	return &ExtractionResult{
		Amount:   amount,
		Store:    store,
		Card:     card,
		Category: category,
		DateTime: ts,
	}, true
}
