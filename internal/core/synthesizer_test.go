package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSynthesizer(t *testing.T, client *fakeCompletion) *RegexSynthesizer {
	t.Helper()
	caller := NewRateLimitedCaller(fastPolicy(), 10, 2, zap.NewNop())
	engine := NewRegexEngine(100, zap.NewNop())
	return NewRegexSynthesizer(client, caller, engine, 3, zap.NewNop())
}

var synthSamples = []string{
	"[KB]11,940원 스타벅스 승인",
	"[KB]5,500원 이디야커피 승인",
	"[KB]23,000원 올리브영 승인",
}

const goodTripleJSON = `{"is_payment": true, "amount_regex": "([\\d,]+)원", "store_regex": "원 (\\S+) 승인", "card_regex": "\\[(KB)\\]"}`

func TestSynthesizeAcceptsFirstAnswer(t *testing.T) {
	client := &fakeCompletion{responses: []string{goodTripleJSON}}
	s := newTestSynthesizer(t, client)

	triple, ok, err := s.Synthesize(context.Background(), synthSamples, 1.0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `([\d,]+)원`, triple.AmountPattern)
	assert.Equal(t, `원 (\S+) 승인`, triple.StorePattern)
	assert.Equal(t, `\[(KB)\]`, triple.CardPattern)
	assert.Equal(t, 1, client.calls)
}

func TestSynthesizeRepairsUncompilableAnswer(t *testing.T) {
	client := &fakeCompletion{responses: []string{
		`{"is_payment": true, "amount_regex": "([\\d,]+원", "store_regex": "원 (\\S+) 승인", "card_regex": ""}`,
		goodTripleJSON,
	}}
	s := newTestSynthesizer(t, client)

	triple, ok, err := s.Synthesize(context.Background(), synthSamples, 1.0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `([\d,]+)원`, triple.AmountPattern)
	require.Equal(t, 2, client.calls)
	assert.Contains(t, client.prompts[1], "rejected")
	assert.Contains(t, client.prompts[1], "does not compile")
}

func TestSynthesizeRepairsLowSuccessRatio(t *testing.T) {
	// Store pattern only matches the first sample, 1/3 under a 0.8 floor.
	client := &fakeCompletion{responses: []string{
		`{"is_payment": true, "amount_regex": "([\\d,]+)원", "store_regex": "(스타벅스)", "card_regex": ""}`,
		goodTripleJSON,
	}}
	s := newTestSynthesizer(t, client)

	_, ok, err := s.Synthesize(context.Background(), synthSamples, 0.8)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Equal(t, 2, client.calls)
	assert.Contains(t, client.prompts[1], "samples parsed correctly")
}

func TestSynthesizeTwoOfThreeRatioAgainstBothFloors(t *testing.T) {
	// The third sample carries no amount, so the good triple parses
	// exactly two of three samples.
	samples := []string{
		"[KB]11,940원 스타벅스 승인",
		"[KB]5,500원 이디야커피 승인",
		"[KB]승인 문자 안내",
	}
	s := newTestSynthesizer(t, &fakeCompletion{})
	ratio := s.SuccessRatio(RegexTriple{
		AmountPattern: `([\d,]+)원`,
		StorePattern:  `원 (\S+) 승인`,
	}, samples)
	assert.InDelta(t, 2.0/3.0, ratio, 1e-9)

	// Under the group floor the answer is rejected in both rounds.
	client := &fakeCompletion{responses: []string{goodTripleJSON, goodTripleJSON}}
	s = newTestSynthesizer(t, client)
	_, ok, err := s.Synthesize(context.Background(), samples, 0.8)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, client.calls)

	// A 0.6 floor accepts the same answer on the first call.
	client = &fakeCompletion{responses: []string{goodTripleJSON}}
	s = newTestSynthesizer(t, client)
	triple, ok, err := s.Synthesize(context.Background(), samples, 0.6)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `원 (\S+) 승인`, triple.StorePattern)
	assert.Equal(t, 1, client.calls)
}

func TestSynthesizeAbandonsAfterFailedRepair(t *testing.T) {
	nonPayment := `{"is_payment": false, "amount_regex": "([\\d,]+)원", "store_regex": "원 (\\S+) 승인", "card_regex": ""}`
	client := &fakeCompletion{responses: []string{nonPayment, nonPayment}}
	s := newTestSynthesizer(t, client)

	triple, ok, err := s.Synthesize(context.Background(), synthSamples, 1.0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, triple)
	assert.Equal(t, 2, client.calls, "exactly one repair round")
}

func TestSynthesizeRequiresAmountAndStore(t *testing.T) {
	missing := `{"is_payment": true, "amount_regex": "", "store_regex": "원 (\\S+) 승인", "card_regex": ""}`
	client := &fakeCompletion{responses: []string{missing, missing}}
	s := newTestSynthesizer(t, client)

	_, ok, err := s.Synthesize(context.Background(), synthSamples, 1.0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, client.prompts[1], "both required")
}

func TestSynthesizeGroupRatioToleratesOneBadSample(t *testing.T) {
	// The last sample is a rejection line the store pattern cannot match,
	// leaving 4 of 5 samples parsed: exactly the 0.8 floor.
	samples := []string{
		"[KB]11,940원 스타벅스 승인",
		"[KB]5,500원 이디야커피 승인",
		"[KB]23,000원 올리브영 승인",
		"[KB]7,700원 투썸플레이스 승인",
		"[KB]3,300원 메가커피 거절됨",
	}
	client := &fakeCompletion{responses: []string{goodTripleJSON}}
	caller := NewRateLimitedCaller(fastPolicy(), 10, 2, zap.NewNop())
	engine := NewRegexEngine(100, zap.NewNop())
	s := NewRegexSynthesizer(client, caller, engine, 5, zap.NewNop())

	ratio := s.SuccessRatio(RegexTriple{
		AmountPattern: `([\d,]+)원`,
		StorePattern:  `원 (\S+) 승인`,
	}, samples)
	assert.InDelta(t, 0.8, ratio, 1e-9)

	_, ok, err := s.Synthesize(context.Background(), samples, 0.8)
	require.NoError(t, err)
	assert.True(t, ok, "0.8 floor is inclusive")
}

func TestSynthesizeRetriesWithCompactPromptWhenTooLarge(t *testing.T) {
	client := &fakeCompletion{
		errs:      []error{ErrPromptTooLarge, nil},
		responses: []string{"", goodTripleJSON},
	}
	s := newTestSynthesizer(t, client)

	long := strings.Repeat("가맹점 ", 50) + "11,940원 12/05 14:30 1234****5678 승인"
	samples := []string{long, long, long}
	_, ok, err := s.Synthesize(context.Background(), samples, 0.0)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Equal(t, 2, client.calls)
	assert.Contains(t, client.prompts[0], "11,940원")
	assert.NotContains(t, client.prompts[1], "11,940원", "compact form collapses amounts")
	assert.Contains(t, client.prompts[1], "A원")
	assert.Contains(t, client.prompts[1], "C*")
}

func TestSynthesizeCapsSamplesAtBudget(t *testing.T) {
	client := &fakeCompletion{responses: []string{goodTripleJSON}}
	s := newTestSynthesizer(t, client)

	samples := append(append([]string{}, synthSamples...),
		"[KB]1,000원 추가가게1 승인",
		"[KB]2,000원 추가가게2 승인")
	_, ok, err := s.Synthesize(context.Background(), samples, 1.0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, client.prompts[0], "추가가게1")
}

func TestSynthesizeEmptySamples(t *testing.T) {
	client := &fakeCompletion{}
	s := newTestSynthesizer(t, client)

	_, ok, err := s.Synthesize(context.Background(), nil, 1.0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, client.calls)
}

func TestSynthesizePropagatesQuotaError(t *testing.T) {
	client := &fakeCompletion{errs: []error{ErrQuotaExhausted}}
	s := newTestSynthesizer(t, client)

	_, ok, err := s.Synthesize(context.Background(), synthSamples, 1.0)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.False(t, ok)
}
