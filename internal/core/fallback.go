package core

import "strings"

// Template-derived fallback patterns, used when synthesis is unavailable or
// the family is in cooldown. They are built from the placeholder context in
// the template rather than from a generative call, carry the
// template_regex source tag and a lower confidence than synthesized ones.

const (
	fallbackAmountCurrency = `(\d[\d,]*)\s*원`
	fallbackAmountBareLine = `(?m)^[ \t]*(\d[\d,]*)[ \t]*$`
	fallbackStoreOwnLine   = `(?m)^([^\n{}0-9][^\n{}]{0,28})\n(?:승인|결제|출금|사용|일시불|할부)`
	fallbackStoreInline    = `\d{1,2}:\d{2}(?::\d{2})?\s+(\S[^\n]{0,28}?)\s+\d[\d,]*\s*원`
)

// TemplateFallbackTriple derives a heuristic RegexTriple from a template's
// placeholder layout. It requires both an amount placeholder and a store
// placeholder in the template; without them there is nothing to anchor on
// and the function reports false.
func TemplateFallbackTriple(template string) (RegexTriple, bool) {
	hasCurrencyAmount := strings.Contains(template, TokenAmount)
	hasBareAmount := strings.Contains(template, TokenNumber)
	hasStore := strings.Contains(template, TokenStore)
	if !hasStore || (!hasCurrencyAmount && !hasBareAmount) {
		return RegexTriple{}, false
	}

	triple := RegexTriple{}

	// Amount: a currency-suffixed number beats an isolated digit line.
	if hasCurrencyAmount {
		triple.AmountPattern = fallbackAmountCurrency
	} else {
		triple.AmountPattern = fallbackAmountBareLine
	}

	// Store: the placeholder on its own line means the multi-line layout
	// (merchant line followed by a transaction-type word); inline means the
	// merchant sits between the time token and the amount.
	if storeOnOwnLine(template) {
		triple.StorePattern = fallbackStoreOwnLine
	} else {
		triple.StorePattern = fallbackStoreInline
	}

	return triple, true
}

func storeOnOwnLine(template string) bool {
	for _, line := range strings.Split(template, "\n") {
		if strings.TrimSpace(line) == TokenStore {
			return true
		}
	}
	return false
}
