package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/streamrank/pkg/trend"
)

type configRow struct {
	Weights    string    `db:"weights"`
	Thresholds string    `db:"thresholds"`
	UpdatedBy  string    `db:"updated_by"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// GetTrendingConfig returns the active config, or nil if none was saved.
func (s *SQLiteStore) GetTrendingConfig(ctx context.Context) (*trend.Config, error) {
	return getConfig(ctx, s.db)
}

func getConfig(ctx context.Context, q sqlx.QueryerContext) (*trend.Config, error) {
	var row configRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT weights, thresholds, updated_by, updated_at FROM trending_config WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trending config: %w", err)
	}

	cfg := &trend.Config{UpdatedBy: row.UpdatedBy, UpdatedAt: row.UpdatedAt}
	if err := json.Unmarshal([]byte(row.Weights), &cfg.Weights); err != nil {
		return nil, fmt.Errorf("decode weights: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Thresholds), &cfg.Thresholds); err != nil {
		return nil, fmt.Errorf("decode thresholds: %w", err)
	}
	return cfg, nil
}

// SaveWeights replaces the active weights and records the previous value in
// the history log, in one transaction.
func (s *SQLiteStore) SaveWeights(ctx context.Context, w trend.Weights, reason, updatedBy string) (*trend.Config, error) {
	return s.saveConfig(ctx, trend.HistoryWeights, reason, updatedBy, func(cfg *trend.Config) (prev, cur any) {
		prev = cfg.Weights
		cfg.Weights = w
		return prev, cfg.Weights
	})
}

// SaveThresholds replaces the active thresholds and records the previous
// value in the history log.
func (s *SQLiteStore) SaveThresholds(ctx context.Context, th trend.Thresholds, reason, updatedBy string) (*trend.Config, error) {
	return s.saveConfig(ctx, trend.HistoryThresholds, reason, updatedBy, func(cfg *trend.Config) (prev, cur any) {
		prev = cfg.Thresholds
		cfg.Thresholds = th
		return prev, cfg.Thresholds
	})
}

func (s *SQLiteStore) saveConfig(ctx context.Context, kind trend.HistoryKind, reason, updatedBy string, apply func(*trend.Config) (prev, cur any)) (*trend.Config, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin config update: %w", err)
	}
	defer tx.Rollback()

	cfg, err := getConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		def := trend.DefaultConfig()
		cfg = &def
	}

	prev, cur := apply(cfg)
	cfg.UpdatedBy = updatedBy
	cfg.UpdatedAt = time.Now().UTC()

	weights, _ := json.Marshal(cfg.Weights)
	thresholds, _ := json.Marshal(cfg.Thresholds)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trending_config (id, weights, thresholds, updated_by, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			weights = excluded.weights,
			thresholds = excluded.thresholds,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`, string(weights), string(thresholds), cfg.UpdatedBy, cfg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save trending config: %w", err)
	}

	prevJSON, _ := json.Marshal(prev)
	curJSON, _ := json.Marshal(cur)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trending_config_history (kind, previous, current, reason, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, kind, string(prevJSON), string(curJSON), reason, cfg.UpdatedBy, cfg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("append config history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit config update: %w", err)
	}
	return cfg, nil
}

// History returns config changes, newest first.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]trend.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []trend.HistoryEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM trending_config_history ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list config history: %w", err)
	}
	return entries, nil
}
