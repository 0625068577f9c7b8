package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// HTTPRulePool fetches externally synced extraction rules over HTTP. Rules
// are cached for a short TTL so a batch never hammers the rule service, and
// a fetch failure falls back to the last good snapshot.
type HTTPRulePool struct {
	endpoint string
	client   *http.Client
	ttl      time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	rules     map[string][]core.RemoteRule
	fetchedAt time.Time
}

// NewHTTPRulePool creates a new HTTP-backed rule pool
func NewHTTPRulePool(endpoint string, timeout, ttl time.Duration, logger *zap.Logger) *HTTPRulePool {
	return &HTTPRulePool{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		ttl:      ttl,
		logger:   logger,
	}
}

// LoadRules returns the enabled rules grouped by normalized sender.
func (p *HTTPRulePool) LoadRules(ctx context.Context) (map[string][]core.RemoteRule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rules != nil && time.Since(p.fetchedAt) < p.ttl {
		return p.rules, nil
	}

	rules, err := p.fetch(ctx)
	if err != nil {
		if p.rules != nil {
			p.logger.Warn("Rule fetch failed, serving stale snapshot",
				zap.Error(err),
				zap.Time("fetched_at", p.fetchedAt))
			return p.rules, nil
		}
		return nil, err
	}

	p.rules = rules
	p.fetchedAt = time.Now()
	return p.rules, nil
}

func (p *HTTPRulePool) fetch(ctx context.Context) (map[string][]core.RemoteRule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rule service returned status %d", resp.StatusCode)
	}

	var list []core.RemoteRule
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode rule list: %w", err)
	}

	rules := make(map[string][]core.RemoteRule)
	for _, rule := range list {
		if !rule.Enabled {
			continue
		}
		sender := core.NormalizeSender(rule.Sender)
		rules[sender] = append(rules[sender], rule)
	}

	p.logger.Debug("Loaded remote rules",
		zap.Int("rule_count", len(list)),
		zap.Int("sender_count", len(rules)))
	return rules, nil
}

// NoopRulePool is used when no rule endpoint is configured.
type NoopRulePool struct{}

// LoadRules always returns an empty rule set.
func (NoopRulePool) LoadRules(ctx context.Context) (map[string][]core.RemoteRule, error) {
	return map[string][]core.RemoteRule{}, nil
}
