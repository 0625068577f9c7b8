package factory

import (
	"fmt"

	"github.com/mikey/txn-classifier/internal/adapters/remote"
	"github.com/mikey/txn-classifier/internal/config"
	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// RemoteFactory creates remote rule pools based on configuration
type RemoteFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRemoteFactory creates a new remote rule pool factory
func NewRemoteFactory(cfg *config.Config, logger *zap.Logger) *RemoteFactory {
	return &RemoteFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateRulePool creates a rule pool based on the configuration. When the
// remote pool is disabled a no-op pool is returned so the pipeline never
// has to care.
func (f *RemoteFactory) CreateRulePool() (core.RemoteRulePool, error) {
	if !f.cfg.GetBool("remote.enabled") {
		return remote.NoopRulePool{}, nil
	}

	endpoint := f.cfg.GetString("remote.url")
	if endpoint == "" {
		return nil, fmt.Errorf("remote rule pool enabled but remote.url is empty")
	}

	timeout, err := f.cfg.GetDuration("remote.timeout")
	if err != nil {
		return nil, fmt.Errorf("invalid remote timeout: %w", err)
	}
	ttl, err := f.cfg.GetDuration("remote.ttl")
	if err != nil {
		return nil, fmt.Errorf("invalid remote TTL: %w", err)
	}

	return remote.NewHTTPRulePool(endpoint, timeout, ttl, f.logger), nil
}
