package core

import (
	"context"
	"sync"
	"time"
)

// fakeEmbedder returns deterministic vectors and records call counts. The
// vector for a text is taken from the vectors map; texts without an entry
// embed to nil.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string]Vector
	err     error
	calls   int
	batches [][]string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Vector, len(texts))
	for i, text := range texts {
		out[i] = f.vectors[text]
	}
	return out, nil
}

// fakeCompletion replays a scripted sequence of responses and errors.
type fakeCompletion struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (f *fakeCompletion) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", &MalformedResponseError{Reason: "fake ran out of responses"}
}

// fakeStore is an in-memory PatternStore that records every mutation.
type fakeStore struct {
	mu         sync.Mutex
	patterns   map[string]*LearnedPattern
	inserted   []*LearnedPattern
	increments []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{patterns: make(map[string]*LearnedPattern)}
}

func (f *fakeStore) Insert(ctx context.Context, pattern *LearnedPattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns[pattern.ID] = pattern
	f.inserted = append(f.inserted, pattern)
	return nil
}

func (f *fakeStore) PaymentPatterns(ctx context.Context) ([]*LearnedPattern, error) {
	return f.filter(true), nil
}

func (f *fakeStore) NonPaymentPatterns(ctx context.Context) ([]*LearnedPattern, error) {
	return f.filter(false), nil
}

func (f *fakeStore) filter(isPayment bool) []*LearnedPattern {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*LearnedPattern
	for _, p := range f.patterns {
		if p.IsPayment == isPayment {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeStore) IncrementMatchCount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments = append(f.increments, id)
	return nil
}

func (f *fakeStore) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

// fakeRulePool serves a fixed rule map.
type fakeRulePool struct {
	rules map[string][]RemoteRule
	err   error
}

func (f *fakeRulePool) LoadRules(ctx context.Context) (map[string][]RemoteRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}
