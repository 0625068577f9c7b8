package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPipeline(embedder *fakeEmbedder, completion *fakeCompletion, store *fakeStore, remote RemoteRulePool) *Pipeline {
	return NewPipeline(DefaultPipelineConfig(), PipelineDeps{
		Embedder:   embedder,
		Completion: completion,
		Store:      store,
		Remote:     remote,
		Caller:     NewRateLimitedCaller(fastPolicy(), 10, 2, zap.NewNop()),
		Cooldown:   NewCooldownTracker(2, time.Minute),
		Logger:     zap.NewNop(),
	})
}

func templateOf(raw string) string {
	return NewTemplateEngine().Templatize(raw)
}

func TestProcessDropsNeverReachEmbedding(t *testing.T) {
	tier1Body := "[KB]02/05 14:30 스타벅스 11,940원 승인"
	embedder := &fakeEmbedder{vectors: map[string]Vector{
		templateOf(tier1Body): {1, 0},
	}}
	completion := &fakeCompletion{}
	store := newFakeStore()
	p := newTestPipeline(embedder, completion, store, nil)

	decisions := p.Process(context.Background(), []Message{
		testMessage("m1", "(광고) 5,000원 할인 쿠폰 도착", "15881688"),
		testMessage("m2", tier1Body, "15881688"),
	})
	require.Len(t, decisions, 2)

	assert.False(t, decisions[0].IsPayment)
	assert.Equal(t, 1, decisions[0].Tier)

	assert.True(t, decisions[1].IsPayment)
	assert.Equal(t, 1, decisions[1].Tier)
	require.NotNil(t, decisions[1].Result)
	assert.Equal(t, int64(11940), decisions[1].Result.Amount)
	assert.Equal(t, "스타벅스", decisions[1].Result.Store)

	require.Len(t, embedder.batches, 1)
	assert.Equal(t, []string{templateOf(tier1Body)}, embedder.batches[0],
		"dropped message must not be embedded")
	assert.Zero(t, completion.calls)
}

func TestProcessPersistsTier1PatternOnce(t *testing.T) {
	body := "[KB]02/05 14:30 스타벅스 11,940원 승인"
	embedder := &fakeEmbedder{vectors: map[string]Vector{
		templateOf(body): {1, 0},
	}}
	store := newFakeStore()
	p := newTestPipeline(embedder, &fakeCompletion{}, store, nil)

	decisions := p.Process(context.Background(), []Message{
		testMessage("m1", body, "15881688"),
		testMessage("m2", body, "15881688"),
	})
	require.Len(t, decisions, 2)
	assert.True(t, decisions[0].IsPayment)
	assert.True(t, decisions[1].IsPayment)

	require.Len(t, store.inserted, 1, "one pattern per family, not per message")
	pattern := store.inserted[0]
	assert.Equal(t, SourceRule, pattern.Source)
	assert.True(t, pattern.IsPayment)
	assert.Equal(t, templateOf(body), pattern.Template)
}

func TestProcessReplaysLearnedPattern(t *testing.T) {
	body := "이디야커피 5,000원"
	seeded := NewLearnedPattern(templateOf(body), "15881688", Vector{1, 0}, true,
		&ExtractionResult{Amount: 4500, Store: "이디야커피", Card: "KB국민카드", Category: "카페"},
		RegexTriple{}, SourceLLM, 0.8)
	store := newFakeStore()
	require.NoError(t, store.Insert(context.Background(), seeded))
	store.inserted = nil

	embedder := &fakeEmbedder{vectors: map[string]Vector{
		templateOf(body): {1, 0},
	}}
	completion := &fakeCompletion{}
	p := newTestPipeline(embedder, completion, store, nil)

	decisions := p.Process(context.Background(), []Message{testMessage("m1", body, "15881688")})
	require.Len(t, decisions, 1)

	d := decisions[0]
	assert.True(t, d.IsPayment)
	assert.Equal(t, 2, d.Tier)
	require.NotNil(t, d.Result)
	assert.Equal(t, int64(5000), d.Result.Amount, "amount always comes from the current body")
	assert.Equal(t, "이디야커피", d.Result.Store)
	assert.Equal(t, "KB국민카드", d.Result.Card)

	assert.Equal(t, []string{seeded.ID}, store.increments)
	assert.Zero(t, completion.calls, "a replayed message costs no generative call")
}

func TestProcessReplayReadsStoreFromCurrentBody(t *testing.T) {
	learned := "[KB]02/05 14:30 스타벅스 11,940원 승인"
	variant := "[KB]02/05 14:31 이디야 5,000원"
	embedder := &fakeEmbedder{vectors: map[string]Vector{
		templateOf(learned): {1, 0},
		templateOf(variant): {1, 0},
	}}
	completion := &fakeCompletion{}
	store := newFakeStore()
	p := newTestPipeline(embedder, completion, store, nil)

	// The first message teaches the family through Tier 1; the variant has
	// no action keyword, so only the Tier-2 replay can resolve it.
	decisions := p.Process(context.Background(), []Message{
		testMessage("m1", learned, "15881688"),
		testMessage("m2", variant, "15881688"),
	})
	require.Len(t, decisions, 2)

	d := decisions[1]
	assert.True(t, d.IsPayment)
	assert.Equal(t, 2, d.Tier)
	require.NotNil(t, d.Result)
	assert.Equal(t, int64(5000), d.Result.Amount)
	assert.Equal(t, "이디야", d.Result.Store, "the merchant comes from the current body, not the cache")
	assert.Equal(t, "카페", d.Result.Category)
	assert.Zero(t, completion.calls)
}

func TestProcessClassifiesNonPaymentFromPool(t *testing.T) {
	body := "가나다은행 안내 5,000원 관련 문의"
	seeded := NewLearnedPattern(templateOf(body), "15881688", Vector{1, 0}, false,
		nil, RegexTriple{}, SourceLLM, 0.8)
	store := newFakeStore()
	require.NoError(t, store.Insert(context.Background(), seeded))

	embedder := &fakeEmbedder{vectors: map[string]Vector{
		templateOf(body): {1, 0},
	}}
	completion := &fakeCompletion{}
	p := newTestPipeline(embedder, completion, store, nil)

	decisions := p.Process(context.Background(), []Message{testMessage("m1", body, "15881688")})
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].IsPayment)
	assert.Equal(t, 2, decisions[0].Tier)
	assert.Equal(t, []string{seeded.ID}, store.increments)
	assert.Zero(t, completion.calls)
}

func TestProcessPromotesRemoteRule(t *testing.T) {
	body := "스토어마트 결제 11,940원"
	vec := Vector{0, 1}
	embedder := &fakeEmbedder{vectors: map[string]Vector{
		templateOf(body): vec,
	}}
	completion := &fakeCompletion{}
	store := newFakeStore()
	remote := &fakeRulePool{rules: map[string][]RemoteRule{
		"15990000": {{
			RuleID:        "r1",
			Sender:        "1599-0000",
			Vector:        vec,
			Regex:         RegexTriple{AmountPattern: `([\d,]+)원`, StorePattern: `^(\S+)`},
			MinSimilarity: 0.9,
			Enabled:       true,
		}},
	}}
	p := newTestPipeline(embedder, completion, store, remote)

	decisions := p.Process(context.Background(), []Message{testMessage("m1", body, "1599-0000")})
	require.Len(t, decisions, 1)

	d := decisions[0]
	assert.True(t, d.IsPayment)
	assert.Equal(t, 2, d.Tier)
	require.NotNil(t, d.Result)
	assert.Equal(t, int64(11940), d.Result.Amount)
	assert.Equal(t, "스토어마트", d.Result.Store)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, SourceRemoteRule, store.inserted[0].Source)
	assert.Zero(t, completion.calls, "a fired remote rule pre-empts Tier 3")
}

func TestProcessSynthesizesRegexForCluster(t *testing.T) {
	bodies := []string{"커피왕 11,940원 결제완료", "커피왕 5,500원 결제완료"}
	template := templateOf(bodies[0])
	require.Equal(t, template, templateOf(bodies[1]), "family variants share one template")

	embedder := &fakeEmbedder{vectors: map[string]Vector{template: {1, 0}}}
	completion := &fakeCompletion{responses: []string{
		`{"is_payment": true, "amount_regex": "([\\d,]+)원", "store_regex": "^(커피왕)", "card_regex": ""}`,
	}}
	store := newFakeStore()
	p := newTestPipeline(embedder, completion, store, nil)

	decisions := p.Process(context.Background(), []Message{
		testMessage("m1", bodies[0], "15881688"),
		testMessage("m2", bodies[1], "15881688"),
	})
	require.Len(t, decisions, 2)

	for i, want := range []int64{11940, 5500} {
		d := decisions[i]
		assert.True(t, d.IsPayment)
		assert.Equal(t, 3, d.Tier)
		require.NotNil(t, d.Result)
		assert.Equal(t, want, d.Result.Amount, "each member parses its own body")
		assert.Equal(t, "커피왕", d.Result.Store)
	}

	assert.Equal(t, 1, completion.calls, "one synthesis call amortized across the cluster")
	require.Len(t, store.inserted, 1)
	assert.Equal(t, SourceLLMRegex, store.inserted[0].Source)
	assert.Equal(t, `([\d,]+)원`, store.inserted[0].Regex.AmountPattern)
}

func TestProcessFallsBackToGenerativeExtraction(t *testing.T) {
	// Both synthesis rounds reject the format, the template carries no
	// store placeholder, so the cluster degrades to a plain extraction.
	body := "가나다라 5,000원 안내"
	rejected := `{"is_payment": false, "amount_regex": "([\\d,]+)원", "store_regex": "^(\\S+)", "card_regex": ""}`
	embedder := &fakeEmbedder{vectors: map[string]Vector{templateOf(body): {1, 0}}}
	completion := &fakeCompletion{responses: []string{
		rejected,
		rejected,
		`{"is_payment": false, "amount": 0, "store": "", "card": "", "category": "", "date_time": ""}`,
	}}
	store := newFakeStore()
	p := newTestPipeline(embedder, completion, store, nil)

	decisions := p.Process(context.Background(), []Message{testMessage("m1", body, "15881688")})
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].IsPayment)
	assert.Equal(t, 3, decisions[0].Tier)

	assert.Equal(t, 3, completion.calls, "synthesis, one repair, one extraction")
	require.Len(t, store.inserted, 1)
	assert.Equal(t, SourceLLM, store.inserted[0].Source)
	assert.False(t, store.inserted[0].IsPayment)
}

func TestProcessConfirmedMatchSurvivesNonPaymentExtraction(t *testing.T) {
	body := "이디야커피 5,500원 안내"
	seeded := NewLearnedPattern("seed template", "15881688", Vector{1, 0}, true,
		&ExtractionResult{Amount: 4500, Store: "이디야커피", Card: "신한카드", Category: "카페"},
		RegexTriple{}, SourceLLM, 0.8)
	store := newFakeStore()
	require.NoError(t, store.Insert(context.Background(), seeded))
	store.inserted = nil

	// Cosine against the seeded vector lands in the confirm band, below
	// the replay boundary.
	embedder := &fakeEmbedder{vectors: map[string]Vector{
		templateOf(body): {0.93, 0.3675},
	}}
	rejected := `{"is_payment": false, "amount_regex": "([\\d,]+)원", "store_regex": "^(\\S+)", "card_regex": ""}`
	completion := &fakeCompletion{responses: []string{
		rejected,
		rejected,
		`{"is_payment": false, "amount": 0, "store": "", "card": "", "category": "", "date_time": ""}`,
	}}
	p := newTestPipeline(embedder, completion, store, nil)

	decisions := p.Process(context.Background(), []Message{testMessage("m1", body, "15881688")})
	require.Len(t, decisions, 1)

	d := decisions[0]
	assert.True(t, d.IsPayment, "a Tier-2 confirmed payment stands against the cluster verdict")
	assert.Equal(t, 2, d.Tier)
	assert.InDelta(t, 0.93, d.Confidence, 0.001)
	require.NotNil(t, d.Result)
	assert.Equal(t, int64(5500), d.Result.Amount)
	assert.Equal(t, "이디야커피", d.Result.Store)

	assert.Equal(t, 3, completion.calls, "synthesis, one repair, one extraction")
	assert.Empty(t, store.inserted,
		"no non-payment pattern may be learned for a confirmed family")
}

func TestProcessQuotaExhaustionDegradesRemainingClusters(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string]Vector{
		templateOf("가나다라 5,000원 안내"): {1, 0},
		templateOf("마바사 7,000원 안내"):  {0, 1},
	}}
	completion := &fakeCompletion{errs: []error{ErrQuotaExhausted}}
	store := newFakeStore()
	p := newTestPipeline(embedder, completion, store, nil)

	decisions := p.Process(context.Background(), []Message{
		testMessage("m1", "가나다라 5,000원 안내", "1111"),
		testMessage("m2", "마바사 7,000원 안내", "2222"),
	})
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.False(t, d.IsPayment)
		assert.Equal(t, 3, d.Tier)
		assert.Nil(t, d.Result)
	}
	assert.Equal(t, 1, completion.calls,
		"no further generative call once quota is known to be gone")
	assert.Empty(t, store.inserted)
}

func TestProcessAmbiguousMatchNeverTouchesCacheStats(t *testing.T) {
	body := "구구스시 15,000원 결제"
	seeded := NewLearnedPattern("other template", "15881688", Vector{0.85, 0.5268}, true,
		&ExtractionResult{Amount: 1, Store: "다른가게"}, RegexTriple{}, SourceLLM, 0.8)
	store := newFakeStore()
	require.NoError(t, store.Insert(context.Background(), seeded))
	store.inserted = nil

	embedder := &fakeEmbedder{vectors: map[string]Vector{templateOf(body): {1, 0}}}
	completion := &fakeCompletion{responses: []string{
		`{"is_payment": true, "amount_regex": "([\\d,]+)원", "store_regex": "^(구구스시)", "card_regex": ""}`,
	}}
	p := newTestPipeline(embedder, completion, store, nil)

	decisions := p.Process(context.Background(), []Message{testMessage("m1", body, "15881688")})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].IsPayment)
	assert.Equal(t, 3, decisions[0].Tier)

	assert.Empty(t, store.increments, "ambiguous similarity must not distort match counts")
}

func TestProcessEmptyBatch(t *testing.T) {
	p := newTestPipeline(&fakeEmbedder{}, &fakeCompletion{}, newFakeStore(), nil)
	decisions := p.Process(context.Background(), nil)
	assert.Empty(t, decisions)
}
