package factory

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mikey/txn-classifier/internal/adapters/store"
	"github.com/mikey/txn-classifier/internal/config"
	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// StoreFactory creates pattern stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreatePatternStore creates a pattern store based on the configuration
func (f *StoreFactory) CreatePatternStore() (core.PatternStore, error) {
	storeType := f.cfg.GetString("store.type")
	cleanupFreq, err := f.cfg.GetDuration("store.cleanup_frequency")
	if err != nil {
		return nil, fmt.Errorf("invalid store cleanup frequency: %w", err)
	}
	ttl := f.GetStaleTTL()

	switch storeType {
	case "memory":
		return store.NewMemoryStore(f.logger, ttl, cleanupFreq), nil
	case "sqlite":
		sqlitePath := f.cfg.GetString("store.sqlite_path")
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLiteStore(sqlitePath, f.logger, ttl, cleanupFreq)
	case "mysql":
		mysqlDSN := f.cfg.GetString("store.mysql_dsn")
		return store.NewMySQLStore(mysqlDSN, f.logger, ttl, cleanupFreq)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}

// GetStaleTTL returns how long a single-match pattern is kept before eviction
func (f *StoreFactory) GetStaleTTL() time.Duration {
	days := f.cfg.GetInt("store.stale_days")
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}
