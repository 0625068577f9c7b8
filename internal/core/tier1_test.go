package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testMessage(id, text, sender string) Message {
	return Message{
		ID:          id,
		RawText:     text,
		Sender:      sender,
		TimestampMs: time.Date(2026, 2, 5, 14, 30, 0, 0, time.Local).UnixMilli(),
	}
}

func TestRuleClassifierShouldDrop(t *testing.T) {
	c := NewRuleClassifier(100, zap.NewNop())

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"verification code", "[국외발신] 인증번호 1234", true},
		{"advertisement", "(광고) 5,000원 할인 쿠폰 도착", true},
		{"no currency amount", "새로운 공지가 있습니다", true},
		{"payment notification", "[KB]02/05 14:30 스타벅스 11,940원 승인", false},
		{"full-width amount", "스타벅스 １１，９４０원 승인", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ShouldDrop(tt.body))
		})
	}
}

func TestRuleClassifierIsPayment(t *testing.T) {
	c := NewRuleClassifier(100, zap.NewNop())

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"institution plus action plus amount", "[KB]02/05 14:30 스타벅스 11,940원 승인", true},
		{"excluded keyword wins", "[KB]카드 광고 11,940원 승인", false},
		{"no institution keyword", "02/05 14:30 스타벅스 11,940원 승인", false},
		{"no action keyword", "[KB]체크 포인트 적립 1,000원", false},
		{"no amount", "[KB]카드 승인 문자", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsPayment(tt.body))
		})
	}
}

func TestRuleClassifierParseSingleLineFormat(t *testing.T) {
	c := NewRuleClassifier(100, zap.NewNop())
	ts := time.Date(2026, 2, 5, 14, 30, 0, 0, time.Local)

	result, ok := c.Parse("[KB]02/05 14:30 스타벅스 11,940원 승인", ts)
	require.True(t, ok)
	assert.Equal(t, int64(11940), result.Amount)
	assert.Equal(t, "스타벅스", result.Store)
	assert.Equal(t, "KB", result.Card)
	assert.Equal(t, "카페", result.Category)
	assert.Equal(t, 2026, result.DateTime.Year())
	assert.Equal(t, time.February, result.DateTime.Month())
	assert.Equal(t, 5, result.DateTime.Day())
	assert.Equal(t, 14, result.DateTime.Hour())
}

func TestRuleClassifierParseSkipsBalanceAmount(t *testing.T) {
	c := NewRuleClassifier(100, zap.NewNop())

	result, ok := c.Parse("[신한]02/05 14:30 이디야커피 4,500원 승인 잔액 1,200,000원", time.Now())
	require.True(t, ok)
	assert.Equal(t, int64(4500), result.Amount)
}

func TestRuleClassifierParseBelowMinimum(t *testing.T) {
	c := NewRuleClassifier(100, zap.NewNop())

	_, ok := c.Parse("[KB]02/05 14:30 테스트 50원 승인", time.Now())
	assert.False(t, ok)
}

func TestRuleClassifierClassifyDefersOnGenericStore(t *testing.T) {
	c := NewRuleClassifier(100, zap.NewNop())

	// Institution, action and amount all present, but nothing resolves as
	// a merchant name: the rule tier must hand the message on.
	msg := testMessage("m1", "[KB]승인 11,940원", "15881688")
	_, _, ok := c.Classify(msg)
	assert.False(t, ok)
}

func TestRuleClassifierClassifySuccess(t *testing.T) {
	c := NewRuleClassifier(100, zap.NewNop())

	msg := testMessage("m1", "[KB]02/05 14:30 스타벅스 11,940원 승인", "15881688")
	decision, fields, ok := c.Classify(msg)
	require.True(t, ok)
	require.NotNil(t, decision)
	assert.Equal(t, "m1", decision.MessageID)
	assert.True(t, decision.IsPayment)
	assert.Equal(t, 1, decision.Tier)
	require.NotNil(t, fields)
	assert.Equal(t, int64(11940), fields.Amount)
}

func TestFindCard(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"issuer bracket tag", "[신한카드]02/05 승인", "신한카드"},
		{"masked card number", "5461*890 승인 3,000원", "5461*"},
		{"institution with suffix", "02/05 삼성카드 승인 3,000원", "삼성카드"},
		{"nothing resolvable", "02/05 승인 3,000원", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, findCard(tt.body))
		})
	}
}

func TestResolveDateTime(t *testing.T) {
	ts := time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local)

	t.Run("from message body", func(t *testing.T) {
		got := resolveDateTime("02/05 14:30 승인", ts)
		assert.Equal(t, time.Date(2026, 2, 5, 14, 30, 0, 0, time.Local), got)
	})

	t.Run("falls back to message timestamp", func(t *testing.T) {
		assert.Equal(t, ts, resolveDateTime("승인 내역", ts))
	})

	t.Run("rejects impossible date", func(t *testing.T) {
		assert.Equal(t, ts, resolveDateTime("13/45 25:99 승인", ts))
	})
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		store string
		want  string
	}{
		{"스타벅스 강남점", "카페"},
		{"맥도날드", "외식"},
		{"GS25 역삼점", "마트/편의점"},
		{"카카오택시", "교통"},
		{"서울대병원", "의료"},
		{"쿠팡", "쇼핑"},
		{"알수없는가게", "기타"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.store), "store: %s", tt.store)
	}
}
