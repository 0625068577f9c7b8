package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a pattern is not found
var ErrNotFound = errors.New("pattern not found")

// MemoryStore is an in-memory implementation of the PatternStore interface
type MemoryStore struct {
	patterns    map[string]*core.LearnedPattern
	mu          sync.RWMutex
	logger      *zap.Logger
	ttl         time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMemoryStore creates a new in-memory pattern store
func NewMemoryStore(logger *zap.Logger, ttl, cleanupFreq time.Duration) *MemoryStore {
	store := &MemoryStore{
		patterns:    make(map[string]*core.LearnedPattern),
		logger:      logger,
		ttl:         ttl,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	go store.startCleanupTask()

	return store
}

// Insert stores a learned pattern
func (s *MemoryStore) Insert(ctx context.Context, pattern *core.LearnedPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns[pattern.ID] = pattern
	return nil
}

// PaymentPatterns returns all payment patterns
func (s *MemoryStore) PaymentPatterns(ctx context.Context) ([]*core.LearnedPattern, error) {
	return s.filter(true), nil
}

// NonPaymentPatterns returns all non-payment patterns
func (s *MemoryStore) NonPaymentPatterns(ctx context.Context) ([]*core.LearnedPattern, error) {
	return s.filter(false), nil
}

func (s *MemoryStore) filter(isPayment bool) []*core.LearnedPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	patterns := make([]*core.LearnedPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if p.IsPayment == isPayment {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// IncrementMatchCount records a Tier-2 hit against a pattern
func (s *MemoryStore) IncrementMatchCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern, ok := s.patterns[id]
	if !ok {
		return ErrNotFound
	}

	pattern.MatchCount++
	pattern.LastMatchedAt = time.Now()
	return nil
}

// DeleteStale removes single-match patterns not matched since olderThan
func (s *MemoryStore) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted int64
	for id, p := range s.patterns {
		if p.MatchCount <= 1 && p.LastMatchedAt.Before(olderThan) {
			delete(s.patterns, id)
			evicted++
		}
	}
	return evicted, nil
}

// startCleanupTask starts a background task to evict stale patterns
func (s *MemoryStore) startCleanupTask() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			evicted, err := s.DeleteStale(context.Background(), time.Now().Add(-s.ttl))
			if err != nil {
				s.logger.Error("Failed to evict stale patterns", zap.Error(err))
			} else if evicted > 0 {
				s.logger.Debug("Evicted stale patterns", zap.Int64("evicted_count", evicted))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task
func (s *MemoryStore) Stop() {
	close(s.stopCh)
}
