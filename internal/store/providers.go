package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/streamrank/pkg/provider"
)

// providerRow is the flat column layout of stream_providers.
type providerRow struct {
	Name                 string     `db:"name"`
	DisplayName          string     `db:"display_name"`
	Enabled              bool       `db:"enabled"`
	Status               string     `db:"status"`
	Priority             int        `db:"priority"`
	UptimePercent        float64    `db:"uptime_percent"`
	ErrorRatePercent     float64    `db:"error_rate_percent"`
	ConsecutiveFailures  int        `db:"consecutive_failures"`
	AverageLatencyMs     float64    `db:"average_latency_ms"`
	LastHealthCheck      *time.Time `db:"last_health_check"`
	ActiveStreams        int        `db:"active_streams"`
	MaxConcurrentStreams int        `db:"max_concurrent_streams"`
	UsedMinutes          int64      `db:"used_minutes"`
	MonthlyMinuteLimit   int64      `db:"monthly_minute_limit"`
	Features             string     `db:"features"`
	ServerURL            string     `db:"server_url"`
	HealthURL            string     `db:"health_url"`
	StatusFeedURL        string     `db:"status_feed_url"`
	AppID                string     `db:"app_id"`
	AppSecret            string     `db:"app_secret"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

func (r *providerRow) toProvider() (provider.Provider, error) {
	p := provider.Provider{
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Enabled:     r.Enabled,
		Status:      provider.Status(r.Status),
		Priority:    r.Priority,
		Health: provider.Health{
			UptimePercent:       r.UptimePercent,
			ErrorRatePercent:    r.ErrorRatePercent,
			ConsecutiveFailures: r.ConsecutiveFailures,
			AverageLatencyMs:    r.AverageLatencyMs,
			LastCheck:           r.LastHealthCheck,
		},
		Capacity: provider.Capacity{
			ActiveStreams:        r.ActiveStreams,
			MaxConcurrentStreams: r.MaxConcurrentStreams,
			UsedMinutes:          r.UsedMinutes,
			MonthlyMinuteLimit:   r.MonthlyMinuteLimit,
		},
		ServerURL:     r.ServerURL,
		HealthURL:     r.HealthURL,
		StatusFeedURL: r.StatusFeedURL,
		AppID:         r.AppID,
		AppSecret:     r.AppSecret,
	}
	if err := json.Unmarshal([]byte(r.Features), &p.Features); err != nil {
		return p, fmt.Errorf("provider %s features: %w", r.Name, err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]provider.Provider, error) {
	var rows []providerRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM stream_providers ORDER BY priority, name"); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	providers := make([]provider.Provider, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toProvider()
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func (s *SQLiteStore) GetProvider(ctx context.Context, name string) (*provider.Provider, error) {
	var row providerRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM stream_providers WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("provider %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %s: %w", name, err)
	}
	p, err := row.toProvider()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProvider writes a provider's admin-managed fields. Health and usage
// counters of an existing row are kept. Status follows the new value only
// when either side is maintenance; otherwise it stays health-managed.
func (s *SQLiteStore) UpsertProvider(ctx context.Context, p *provider.Provider) error {
	return s.insertProvider(ctx, p, `
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			enabled = excluded.enabled,
			status = CASE
				WHEN excluded.status = 'maintenance' OR stream_providers.status = 'maintenance' THEN excluded.status
				ELSE stream_providers.status
			END,
			priority = excluded.priority,
			max_concurrent_streams = excluded.max_concurrent_streams,
			monthly_minute_limit = excluded.monthly_minute_limit,
			features = excluded.features,
			server_url = excluded.server_url,
			health_url = excluded.health_url,
			status_feed_url = excluded.status_feed_url,
			app_id = excluded.app_id,
			app_secret = excluded.app_secret,
			updated_at = excluded.updated_at`)
}

// SeedProviders inserts providers that do not exist yet and leaves existing
// rows untouched.
func (s *SQLiteStore) SeedProviders(ctx context.Context, providers []provider.Provider) (int, error) {
	seeded := 0
	for i := range providers {
		var exists bool
		err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM stream_providers WHERE name = ?)", providers[i].Name)
		if err != nil {
			return seeded, fmt.Errorf("check provider %s: %w", providers[i].Name, err)
		}
		if exists {
			continue
		}
		if err := s.insertProvider(ctx, &providers[i], "ON CONFLICT(name) DO NOTHING"); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

func (s *SQLiteStore) insertProvider(ctx context.Context, p *provider.Provider, onConflict string) error {
	if p.Status == "" {
		p.Status = provider.StatusActive
	}
	if !p.Status.Valid() {
		return fmt.Errorf("provider %s: invalid status %q", p.Name, p.Status)
	}
	if p.Health.UptimePercent == 0 && p.Health.LastCheck == nil {
		p.Health.UptimePercent = 100
	}
	features, _ := json.Marshal(nonNil(p.Features))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_providers (name, display_name, enabled, status, priority,
			uptime_percent, error_rate_percent, consecutive_failures, average_latency_ms,
			active_streams, max_concurrent_streams, used_minutes, monthly_minute_limit,
			features, server_url, health_url, status_feed_url, app_id, app_secret, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`+onConflict,
		p.Name, p.DisplayName, p.Enabled, string(p.Status), p.Priority,
		p.Health.UptimePercent, p.Health.ErrorRatePercent, p.Health.ConsecutiveFailures, p.Health.AverageLatencyMs,
		p.Capacity.ActiveStreams, p.Capacity.MaxConcurrentStreams, p.Capacity.UsedMinutes, p.Capacity.MonthlyMinuteLimit,
		string(features), p.ServerURL, p.HealthURL, p.StatusFeedURL, p.AppID, p.AppSecret, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert provider %s: %w", p.Name, err)
	}
	return nil
}

// UpdateProviderHealth reads the named provider, lets apply fold a check
// result into it and writes back its health and status. The read and write
// share one transaction so concurrent checks never overwrite each other.
func (s *SQLiteStore) UpdateProviderHealth(ctx context.Context, name string, apply func(*provider.Provider) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin health update %s: %w", name, err)
	}
	defer tx.Rollback()

	var row providerRow
	err = tx.GetContext(ctx, &row, "SELECT * FROM stream_providers WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("provider %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get provider %s: %w", name, err)
	}
	p, err := row.toProvider()
	if err != nil {
		return err
	}
	if err := apply(&p); err != nil {
		return err
	}

	h := p.Health
	_, err = tx.ExecContext(ctx, `
		UPDATE stream_providers SET
			uptime_percent = ?, error_rate_percent = ?, consecutive_failures = ?,
			average_latency_ms = ?, last_health_check = ?, status = ?, updated_at = ?
		WHERE name = ?
	`, h.UptimePercent, h.ErrorRatePercent, h.ConsecutiveFailures,
		h.AverageLatencyMs, h.LastCheck, string(p.Status), time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("update health %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit health %s: %w", name, err)
	}
	return nil
}

// ReserveCapacity takes one stream slot on the named provider. It reports
// false when the provider is at its concurrent stream or monthly minute
// limit. The check and increment are a single statement.
func (s *SQLiteStore) ReserveCapacity(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stream_providers SET active_streams = active_streams + 1, updated_at = ?
		WHERE name = ?
			AND active_streams < max_concurrent_streams
			AND used_minutes < monthly_minute_limit
	`, time.Now().UTC(), name)
	if err != nil {
		return false, fmt.Errorf("reserve capacity %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve capacity %s: %w", name, err)
	}
	return n == 1, nil
}

// ReleaseCapacity frees one stream slot and adds the stream's minutes to the
// monthly usage.
func (s *SQLiteStore) ReleaseCapacity(ctx context.Context, name string, minutes int64) error {
	return releaseCapacity(ctx, s.db, name, minutes)
}

func releaseCapacity(ctx context.Context, db sqlx.ExecerContext, name string, minutes int64) error {
	if minutes < 0 {
		minutes = 0
	}
	res, err := db.ExecContext(ctx, `
		UPDATE stream_providers SET
			active_streams = MAX(active_streams - 1, 0),
			used_minutes = used_minutes + ?,
			updated_at = ?
		WHERE name = ?
	`, minutes, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("release capacity %s: %w", name, err)
	}
	return requireRow(res, "provider "+name)
}

// ResetMonthlyUsage zeroes used minutes. An empty name resets every provider.
func (s *SQLiteStore) ResetMonthlyUsage(ctx context.Context, name string) (int64, error) {
	query := "UPDATE stream_providers SET used_minutes = 0, updated_at = ?"
	args := []any{time.Now().UTC()}
	if name != "" {
		query += " WHERE name = ?"
		args = append(args, name)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset usage: %w", err)
	}
	n, _ := res.RowsAffected()
	if name != "" && n == 0 {
		return 0, fmt.Errorf("provider %s: %w", name, ErrNotFound)
	}
	return n, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
