package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the PatternStore interface
type SQLiteStore struct {
	db          *sql.DB
	logger      *zap.Logger
	ttl         time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewSQLiteStore creates a new SQLite pattern store
func NewSQLiteStore(dbPath string, logger *zap.Logger, ttl, cleanupFreq time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS learned_patterns (
			id TEXT PRIMARY KEY,
			template TEXT NOT NULL,
			sender TEXT,
			vector TEXT,
			is_payment BOOLEAN,
			fields TEXT,
			amount_regex TEXT,
			store_regex TEXT,
			card_regex TEXT,
			source TEXT,
			confidence REAL,
			match_count INTEGER,
			created_at TIMESTAMP,
			last_matched_at TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	// Create index on last_matched_at for faster stale eviction
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_last_matched_at ON learned_patterns(last_matched_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	store := &SQLiteStore{
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
func (s *SQLiteStore) Insert(ctx context.Context, pattern *core.LearnedPattern) error {
	vectorJSON, fieldsJSON, err := encodePattern(pattern)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO learned_patterns
			(id, template, sender, vector, is_payment, fields,
			 amount_regex, store_regex, card_regex,
			 source, confidence, match_count, created_at, last_matched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pattern.ID, pattern.Template, pattern.Sender, vectorJSON, pattern.IsPayment, fieldsJSON,
		pattern.Regex.AmountPattern, pattern.Regex.StorePattern, pattern.Regex.CardPattern,
		string(pattern.Source), pattern.Confidence, pattern.MatchCount,
		pattern.CreatedAt.Format(time.RFC3339), pattern.LastMatchedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert pattern: %w", err)
	}

	return nil
}

// PaymentPatterns returns all payment patterns
func (s *SQLiteStore) PaymentPatterns(ctx context.Context) ([]*core.LearnedPattern, error) {
	return s.query(ctx, true)
}

// NonPaymentPatterns returns all non-payment patterns
func (s *SQLiteStore) NonPaymentPatterns(ctx context.Context) ([]*core.LearnedPattern, error) {
	return s.query(ctx, false)
}

func (s *SQLiteStore) query(ctx context.Context, isPayment bool) ([]*core.LearnedPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template, sender, vector, is_payment, fields,
		       amount_regex, store_regex, card_regex,
		       source, confidence, match_count, created_at, last_matched_at
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
func (s *SQLiteStore) IncrementMatchCount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE learned_patterns
		SET match_count = match_count + 1, last_matched_at = ?
		WHERE id = ?
	`, time.Now().Format(time.RFC3339), id)
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
func (s *SQLiteStore) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM learned_patterns
		WHERE match_count <= 1 AND last_matched_at < ?
	`, olderThan.Format(time.RFC3339))
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
func (s *SQLiteStore) startCleanupTask() {
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
func (s *SQLiteStore) Stop() {
	close(s.stopCh)
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close SQLite database", zap.Error(err))
	}
}

func encodePattern(pattern *core.LearnedPattern) (vectorJSON, fieldsJSON string, err error) {
	vec, err := json.Marshal(pattern.Vector)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal vector: %w", err)
	}
	fields := []byte("null")
	if pattern.Fields != nil {
		fields, err = json.Marshal(pattern.Fields)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal fields: %w", err)
		}
	}
	return string(vec), string(fields), nil
}

func scanPattern(rows *sql.Rows) (*core.LearnedPattern, error) {
	var (
		p                    core.LearnedPattern
		vectorJSON           string
		fieldsJSON           string
		source               string
		createdAt, matchedAt string
	)

	err := rows.Scan(&p.ID, &p.Template, &p.Sender, &vectorJSON, &p.IsPayment, &fieldsJSON,
		&p.Regex.AmountPattern, &p.Regex.StorePattern, &p.Regex.CardPattern,
		&source, &p.Confidence, &p.MatchCount, &createdAt, &matchedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(vectorJSON), &p.Vector); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vector: %w", err)
	}
	if fieldsJSON != "" && fieldsJSON != "null" {
		p.Fields = &core.ExtractionResult{}
		if err := json.Unmarshal([]byte(fieldsJSON), p.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}

	p.Source = core.PatternSource(source)
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if p.LastMatchedAt, err = time.Parse(time.RFC3339, matchedAt); err != nil {
		return nil, fmt.Errorf("failed to parse last_matched_at: %w", err)
	}

	return &p, nil
}
