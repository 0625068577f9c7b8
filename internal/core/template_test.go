package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplatizeMasksVariableFields(t *testing.T) {
	e := NewTemplateEngine()

	tests := []struct {
		name     string
		raw      string
		contains []string
		excludes []string
	}{
		{
			name:     "currency amount",
			raw:      "스타벅스 11,940원 승인",
			contains: []string{TokenAmount},
			excludes: []string{"11,940"},
		},
		{
			name:     "date and time",
			raw:      "02/05 14:30 승인",
			contains: []string{TokenDate, TokenTime},
			excludes: []string{"02/05", "14:30"},
		},
		{
			name:     "balance keeps its label",
			raw:      "잔액 1,200,000",
			contains: []string{"잔액" + TokenBalance},
			excludes: []string{"1,200,000"},
		},
		{
			name:     "masked card number",
			raw:      "5461*890 체크카드",
			contains: []string{TokenCard},
			excludes: []string{"5461"},
		},
		{
			name:     "full-width digits fold to half-width",
			raw:      "１２，０００원 결제",
			contains: []string{TokenAmount},
			excludes: []string{"１２"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Templatize(tt.raw)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			for _, not := range tt.excludes {
				assert.NotContains(t, got, not)
			}
		})
	}
}

func TestTemplatizeIsIdempotent(t *testing.T) {
	e := NewTemplateEngine()
	raws := []string{
		"[KB]02/05 14:30 스타벅스 11,940원 승인",
		"신한카드승인\n홍*동님\n5,500원 일시불\n02/05 14:30\n스타벅스\n누적1,234,567원",
		"입금 50,000원 잔액 1,200,000",
		"no digits at all",
	}
	for _, raw := range raws {
		once := e.Templatize(raw)
		twice := e.Templatize(once)
		assert.Equal(t, once, twice, "raw: %s", raw)
	}
}

func TestTemplatizeMasksStoreLineInMultiLineFormat(t *testing.T) {
	e := NewTemplateEngine()
	raw := "신한카드승인\n5,500원 일시불\n02/05 14:30\n스타벅스 강남점\n누적1,234,567원"

	got := e.Templatize(raw)
	require.Contains(t, got, TokenStore)
	assert.NotContains(t, got, "스타벅스")
}

func TestTemplatizeSkipsStoreMaskInShortFormat(t *testing.T) {
	e := NewTemplateEngine()
	// Fewer than four lines: the single-line format keeps the merchant;
	// the regex fields alone canonicalize the family.
	got := e.Templatize("[KB]02/05 14:30 스타벅스 11,940원 승인")
	assert.NotContains(t, got, TokenStore)
	assert.Contains(t, got, "스타벅스")
}

func TestTemplatizeCollapsesFamilyVariants(t *testing.T) {
	e := NewTemplateEngine()
	a := e.Templatize("[KB]02/05 14:30 스타벅스 11,940원 승인")
	b := e.Templatize("[KB]03/17 09:12 스타벅스 4,500원 승인")
	assert.Equal(t, a, b)
}

func TestLooksLikeStoreLine(t *testing.T) {
	e := NewTemplateEngine()

	tests := []struct {
		line string
		want bool
	}{
		{"스타벅스 강남점", true},
		{"(주)쿠팡", true},
		{"승인", false},
		{"잔액", false},
		{"{AMT}", false},
		{"가", false},
		{strings.Repeat("가", 21), false},
		{"1234", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.looksLikeStoreLine(tt.line), "line: %q", tt.line)
	}
}
