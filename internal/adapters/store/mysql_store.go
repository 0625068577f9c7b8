package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the PatternStore interface
type MySQLStore struct {
	db          *sql.DB
	logger      *zap.Logger
	ttl         time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMySQLStore creates a new MySQL pattern store
func NewMySQLStore(dsn string, logger *zap.Logger, ttl, cleanupFreq time.Duration) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS learned_patterns (
			id VARCHAR(36) PRIMARY KEY,
			template TEXT NOT NULL,
			sender VARCHAR(255),
			vector MEDIUMTEXT,
			is_payment BOOLEAN,
			fields TEXT,
			amount_regex TEXT,
			store_regex TEXT,
			card_regex TEXT,
			source VARCHAR(32),
			confidence DOUBLE,
			match_count INT,
			created_at TIMESTAMP,
			last_matched_at TIMESTAMP,
			INDEX idx_last_matched_at (last_matched_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	store := &MySQLStore{
		db:          db,
		logger:      logger,
		ttl:         ttl,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	go store.startCleanupTask()

	return store, nil
}

// Insert stores a learned pattern
func (s *MySQLStore) Insert(ctx context.Context, pattern *core.LearnedPattern) error {
	vectorJSON, fieldsJSON, err := encodePattern(pattern)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		REPLACE INTO learned_patterns
			(id, template, sender, vector, is_payment, fields,
			 amount_regex, store_regex, card_regex,
			 source, confidence, match_count, created_at, last_matched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pattern.ID, pattern.Template, pattern.Sender, vectorJSON, pattern.IsPayment, fieldsJSON,
		pattern.Regex.AmountPattern, pattern.Regex.StorePattern, pattern.Regex.CardPattern,
		string(pattern.Source), pattern.Confidence, pattern.MatchCount,
		pattern.CreatedAt.Format("2006-01-02 15:04:05"), pattern.LastMatchedAt.Format("2006-01-02 15:04:05"))
	if err != nil {
		return fmt.Errorf("failed to insert pattern: %w", err)
	}

	return nil
}

// PaymentPatterns returns all payment patterns
func (s *MySQLStore) PaymentPatterns(ctx context.Context) ([]*core.LearnedPattern, error) {
	return s.query(ctx, true)
}

// NonPaymentPatterns returns all non-payment patterns
func (s *MySQLStore) NonPaymentPatterns(ctx context.Context) ([]*core.LearnedPattern, error) {
	return s.query(ctx, false)
}

func (s *MySQLStore) query(ctx context.Context, isPayment bool) ([]*core.LearnedPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template, sender, vector, is_payment, fields,
		       amount_regex, store_regex, card_regex,
		       source, confidence, match_count,
		       DATE_FORMAT(created_at, '%Y-%m-%dT%H:%i:%sZ'),
		       DATE_FORMAT(last_matched_at, '%Y-%m-%dT%H:%i:%sZ')
		FROM learned_patterns
		WHERE is_payment = ?
	`, isPayment)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*core.LearnedPattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			s.logger.Warn("Skipping unreadable pattern row", zap.Error(err))
			continue
		}
		patterns = append(patterns, pattern)
	}
	return patterns, rows.Err()
}

// IncrementMatchCount records a Tier-2 hit against a pattern
func (s *MySQLStore) IncrementMatchCount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE learned_patterns
		SET match_count = match_count + 1, last_matched_at = NOW()
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment match count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStale removes single-match patterns not matched since olderThan
func (s *MySQLStore) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM learned_patterns
		WHERE match_count <= 1 AND last_matched_at < ?
	`, olderThan.Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("failed to evict stale patterns: %w", err)
	}

	evicted, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during eviction", zap.Error(err))
		return 0, nil
	}
	return evicted, nil
}

// startCleanupTask starts a background task to evict stale patterns
func (s *MySQLStore) startCleanupTask() {
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

// Stop stops the background cleanup task and closes the database connection
func (s *MySQLStore) Stop() {
	close(s.stopCh)
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close MySQL database", zap.Error(err))
	}
}
