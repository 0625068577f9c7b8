package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// RetryPolicy bounds retries of transient provider failures. Delays grow as
// base×2^attempt up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the production backoff settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// RateLimitedCaller wraps every external embedding/generative call with the
// retry, chunking and concurrency discipline. Transient rate limits are
// retried under exponential backoff; quota exhaustion fails immediately and
// is never retried.
type RateLimitedCaller struct {
	policy      RetryPolicy
	chunkSize   int
	concurrency int64
	logger      *zap.Logger
}

// NewRateLimitedCaller creates a caller. chunkSize bounds batch sizes sent
// to providers; concurrency bounds in-flight chunks.
func NewRateLimitedCaller(policy RetryPolicy, chunkSize int, concurrency int, logger *zap.Logger) *RateLimitedCaller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if chunkSize <= 0 {
		chunkSize = 100
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return &RateLimitedCaller{
		policy:      policy,
		chunkSize:   chunkSize,
		concurrency: int64(concurrency),
		logger:      logger,
	}
}

// Do runs fn, retrying transient failures under the backoff policy. Quota
// exhaustion and non-transient errors return immediately.
func (c *RateLimitedCaller) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.policy.BaseDelay << uint(attempt-1)
			if c.policy.MaxDelay > 0 && delay > c.policy.MaxDelay {
				delay = c.policy.MaxDelay
			}
			c.logger.Debug("Backing off before retry",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrQuotaExhausted) {
			c.logger.Warn("Provider quota exhausted, not retrying")
			return err
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// EmbedBatch embeds texts through provider in chunks of at most chunkSize,
// running chunks under bounded concurrency and writing results back by
// original index. The returned slice always has the same length as texts; a
// chunk whose retries are exhausted degrades to nil entries, never an error
// for the whole batch.
func (c *RateLimitedCaller) EmbedBatch(ctx context.Context, provider EmbeddingProvider, texts []string) []Vector {
	results := make([]Vector, len(texts))
	if len(texts) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(c.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	var quotaOnce sync.Once
	var quotaHit bool

	for start := 0; start < len(texts); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil //nolint:nilerr // canceled mid-batch, entries stay nil
			}
			defer sem.Release(1)

			var vecs []Vector
			err := c.Do(gctx, func(ctx context.Context) error {
				var embedErr error
				vecs, embedErr = provider.EmbedBatch(ctx, texts[start:end])
				return embedErr
			})
			if err != nil {
				if errors.Is(err, ErrQuotaExhausted) {
					quotaOnce.Do(func() { quotaHit = true })
				}
				c.logger.Error("Embedding chunk failed, degrading to nil vectors",
					zap.Int("start", start),
					zap.Int("end", end),
					zap.Error(err))
				return nil
			}
			for i, v := range vecs {
				if start+i < end {
					results[start+i] = v
				}
			}
			return nil
		})
	}

	_ = g.Wait()
	if quotaHit {
		c.logger.Warn("Embedding quota exhausted during batch",
			zap.Int("batch_size", len(texts)))
	}
	return results
}

// Complete runs a single generative call under the retry policy.
func (c *RateLimitedCaller) Complete(ctx context.Context, client CompletionClient, system, prompt string) (string, error) {
	var out string
	err := c.Do(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = client.Complete(ctx, system, prompt)
		return callErr
	})
	return out, err
}

// CooldownTracker suppresses regex-synthesis attempts for a message family
// after repeated consecutive failures. It is process-wide and shared across
// concurrent pipeline runs.
type CooldownTracker struct {
	mu        sync.Mutex
	entries   map[string]*cooldownEntry
	threshold int
	window    time.Duration
}

type cooldownEntry struct {
	failures int
	until    time.Time
}

// NewCooldownTracker creates a tracker that opens a cooldown window after
// threshold consecutive failures.
func NewCooldownTracker(threshold int, window time.Duration) *CooldownTracker {
	if threshold <= 0 {
		threshold = 2
	}
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &CooldownTracker{
		entries:   make(map[string]*cooldownEntry),
		threshold: threshold,
		window:    window,
	}
}

// Failure records a synthesis failure for key and opens the cooldown window
// once the consecutive-failure threshold is reached.
func (t *CooldownTracker) Failure(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[key]
	if e == nil {
		e = &cooldownEntry{}
		t.entries[key] = e
	}
	e.failures++
	if e.failures >= t.threshold {
		e.until = time.Now().Add(t.window)
	}
}

// Success clears the failure streak for key.
func (t *CooldownTracker) Success(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// InCooldown reports whether synthesis for key is currently suppressed.
func (t *CooldownTracker) InCooldown(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[key]
	if e == nil {
		return false
	}
	if e.until.IsZero() {
		return false
	}
	if time.Now().After(e.until) {
		delete(t.entries, key)
		return false
	}
	return true
}
