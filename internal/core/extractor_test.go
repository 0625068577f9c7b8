package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestExtractor(t *testing.T, client *fakeCompletion) *GenerativeExtractor {
	t.Helper()
	caller := NewRateLimitedCaller(fastPolicy(), 10, 2, zap.NewNop())
	engine := NewRegexEngine(100, zap.NewNop())
	return NewGenerativeExtractor(client, caller, engine, zap.NewNop())
}

func TestExtractParsesFencedResponse(t *testing.T) {
	client := &fakeCompletion{responses: []string{
		"```json\n{\"is_payment\": true, \"amount\": 11940, \"store\": \"스타벅스\", \"card\": \"KB\", \"category\": \"\", \"date_time\": \"2026-02-05 14:30\"}\n```",
	}}
	g := newTestExtractor(t, client)

	d, err := g.Extract(context.Background(), testMessage("m1", "[KB]11,940원 스타벅스", "15881688"))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, d.IsPayment)
	require.NotNil(t, d.Result)
	assert.Equal(t, int64(11940), d.Result.Amount)
	assert.Equal(t, "스타벅스", d.Result.Store)
	assert.Equal(t, "KB", d.Result.Card)
	assert.Equal(t, "카페", d.Result.Category, "blank category falls back to the store lexicon")
	assert.Equal(t, time.Date(2026, 2, 5, 14, 30, 0, 0, time.Local), d.Result.DateTime)
}

func TestExtractNonPayment(t *testing.T) {
	client := &fakeCompletion{responses: []string{
		`{"is_payment": false, "amount": 0, "store": "", "card": "", "category": "", "date_time": ""}`,
	}}
	g := newTestExtractor(t, client)

	d, err := g.Extract(context.Background(), testMessage("m1", "인증번호 1234", "15881688"))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, d.IsPayment)
	assert.Nil(t, d.Result)
}

func TestExtractPaymentWithoutUsableFields(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{"zero amount", `{"is_payment": true, "amount": 0, "store": "스타벅스"}`},
		{"negative amount", `{"is_payment": true, "amount": -500, "store": "스타벅스"}`},
		{"digits-only store", `{"is_payment": true, "amount": 11940, "store": "1234"}`},
		{"placeholder store", `{"is_payment": true, "amount": 11940, "store": "{STORE}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeCompletion{responses: []string{tt.resp}}
			g := newTestExtractor(t, client)

			d, err := g.Extract(context.Background(), testMessage("m1", "x", "s"))
			require.NoError(t, err)
			require.NotNil(t, d)
			assert.True(t, d.IsPayment)
			assert.Nil(t, d.Result, "payment verdict without extractable fields")
		})
	}
}

func TestExtractMalformedResponse(t *testing.T) {
	client := &fakeCompletion{responses: []string{"I cannot parse this message."}}
	g := newTestExtractor(t, client)

	d, err := g.Extract(context.Background(), testMessage("m1", "x", "s"))
	assert.Nil(t, d)
	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "I cannot parse this message.", malformed.Raw)
}

func TestExtractMissingDateTimeFallsBackToReceipt(t *testing.T) {
	client := &fakeCompletion{responses: []string{
		`{"is_payment": true, "amount": 5000, "store": "이디야커피", "date_time": ""}`,
	}}
	g := newTestExtractor(t, client)

	msg := testMessage("m1", "이디야커피 5,000원", "15881688")
	d, err := g.Extract(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, d.Result)
	assert.Equal(t, msg.Timestamp(), d.Result.DateTime)
}

func TestExtractBatchMapsByNumber(t *testing.T) {
	client := &fakeCompletion{responses: []string{`[
		{"no": 1, "is_payment": true, "amount": 11940, "store": "스타벅스", "card": "KB"},
		{"no": 3, "is_payment": false},
		{"no": 7, "is_payment": true, "amount": 1, "store": "유령가게"}
	]`}}
	g := newTestExtractor(t, client)

	msgs := []Message{
		testMessage("m1", "a", "s"),
		testMessage("m2", "b", "s"),
		testMessage("m3", "c", "s"),
	}
	out, err := g.ExtractBatch(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.NotNil(t, out[0])
	assert.True(t, out[0].IsPayment)
	require.NotNil(t, out[0].Result)
	assert.Equal(t, int64(11940), out[0].Result.Amount)

	assert.Nil(t, out[1], "entry the provider skipped stays nil")

	require.NotNil(t, out[2])
	assert.False(t, out[2].IsPayment)
}

func TestExtractBatchOfOneDelegatesToSingle(t *testing.T) {
	client := &fakeCompletion{responses: []string{
		`{"is_payment": true, "amount": 11940, "store": "스타벅스"}`,
	}}
	g := newTestExtractor(t, client)

	out, err := g.ExtractBatch(context.Background(), []Message{testMessage("m1", "x", "s")})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0])
	assert.Contains(t, client.prompts[0], "the following bank/card notification message",
		"single-message prompt, not the batch prompt")
}

func TestExtractBatchFlattensMultiLineMessages(t *testing.T) {
	client := &fakeCompletion{responses: []string{`[{"no": 1, "is_payment": false}, {"no": 2, "is_payment": false}]`}}
	g := newTestExtractor(t, client)

	msgs := []Message{
		testMessage("m1", "신한카드승인\n5,500원", "s"),
		testMessage("m2", "x", "s"),
	}
	_, err := g.ExtractBatch(context.Background(), msgs)
	require.NoError(t, err)
	assert.Contains(t, client.prompts[0], "신한카드승인 / 5,500원")
}

func TestExtractBatchMalformedArray(t *testing.T) {
	client := &fakeCompletion{responses: []string{`{"is_payment": true}`}}
	g := newTestExtractor(t, client)

	msgs := []Message{testMessage("m1", "a", "s"), testMessage("m2", "b", "s")}
	out, err := g.ExtractBatch(context.Background(), msgs)
	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	require.Len(t, out, 2)
	assert.Nil(t, out[0])
	assert.Nil(t, out[1])
}

func TestExtractBatchEmpty(t *testing.T) {
	client := &fakeCompletion{}
	g := newTestExtractor(t, client)

	out, err := g.ExtractBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, client.calls)
}
