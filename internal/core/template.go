package core

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Placeholder tokens substituted into templates. None of them contain digits,
// which is what makes Templatize idempotent: a second pass finds nothing left
// to mask.
const (
	TokenAmount  = "{AMT}"
	TokenNumber  = "{NUM}"
	TokenDate    = "{DATE}"
	TokenTime    = "{TIME}"
	TokenBalance = "{BAL}"
	TokenCard    = "{CARD}"
	TokenStore   = "{STORE}"
)

var (
	amountRe      = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?\s*(?:원|KRW|₩)`)
	bareNumberRe  = regexp.MustCompile(`(?m)^[ \t]*\d[\d,]*[ \t]*$`)
	dateRe        = regexp.MustCompile(`\d{2,4}[./-]\d{1,2}[./-]\d{1,2}|\d{1,2}[./-]\d{1,2}|\d{1,2}월\s?\d{1,2}일`)
	timeRe        = regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?`)
	balanceRe     = regexp.MustCompile(`잔액\s*\d[\d,]*`)
	cardMaskRe    = regexp.MustCompile(`\d[\d-]*\*[\d*-]*|\*+\d[\d*-]*`)
	residualNumRe = regexp.MustCompile(`\d[\d,]*`)
)

// structuralKeywords mark lines that are transaction structure rather than
// a merchant name. A candidate store line must not contain any of them.
var structuralKeywords = []string{
	"승인", "거절", "취소", "출금", "입금", "결제", "사용", "일시불",
	"할부", "누적", "잔액", "체크카드", "신용카드", "해외승인", "Web발신",
}

// TemplateEngine canonicalizes raw notification text by masking the variable
// substrings (amount, date, time, balance, card mask, merchant line) with
// fixed tokens. Messages of one family that differ only in those fields
// collapse into a single template, which is what Tier 2 embeds and matches.
type TemplateEngine struct {
	storeMinLen int
	storeMaxLen int
}

// NewTemplateEngine creates a template engine with the default merchant-line
// length bounds.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{storeMinLen: 2, storeMaxLen: 20}
}

// Templatize masks the variable parts of raw and returns the template.
// The result is used only as an embedding key and never shown to users.
// Templatize is idempotent: Templatize(Templatize(x)) == Templatize(x).
func (e *TemplateEngine) Templatize(raw string) string {
	// Carrier SMS frequently mixes full-width and half-width digits.
	s := width.Narrow.String(raw)

	// Order matters: the most specific shapes go first so the generic
	// digit-run pass cannot eat an amount or a card mask.
	s = amountRe.ReplaceAllString(s, TokenAmount)
	s = bareNumberRe.ReplaceAllString(s, TokenNumber)
	s = dateRe.ReplaceAllString(s, TokenDate)
	s = timeRe.ReplaceAllString(s, TokenTime)
	s = balanceRe.ReplaceAllString(s, "잔액"+TokenBalance)
	s = cardMaskRe.ReplaceAllString(s, TokenCard)
	s = residualNumRe.ReplaceAllString(s, TokenNumber)

	lines := strings.Split(s, "\n")
	if len(lines) >= 4 && !strings.Contains(s, TokenStore) {
		// Structured multi-line format: mask the first line that looks
		// like a merchant name so the whole family shares one template.
		for i, line := range lines {
			if e.looksLikeStoreLine(line) {
				lines[i] = TokenStore
				break
			}
		}
		s = strings.Join(lines, "\n")
	}

	return s
}

// looksLikeStoreLine applies the merchant-name heuristic: short, no
// placeholder token, not a structural keyword, starting with a letter,
// parenthesis or asterisk.
func (e *TemplateEngine) looksLikeStoreLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	runes := []rune(trimmed)
	if len(runes) < e.storeMinLen || len(runes) > e.storeMaxLen {
		return false
	}
	if strings.ContainsAny(trimmed, "{}") {
		return false
	}
	for _, kw := range structuralKeywords {
		if strings.Contains(trimmed, kw) {
			return false
		}
	}
	first := runes[0]
	if !unicode.IsLetter(first) && first != '(' && first != '*' {
		return false
	}
	return true
}
