package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/streamrank/pkg/trend"
)

// UpsertContent inserts or refreshes a content record's engagement counters.
// Persisted trending fields are left as they are.
func (s *SQLiteStore) UpsertContent(ctx context.Context, c *trend.Content) error {
	if c.Status == "" {
		c.Status = trend.StatusPublished
	}
	if c.Visibility == "" {
		c.Visibility = trend.VisibilityPublic
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content (id, creator_id, creator_verified, sound_id, status, visibility,
			total_watch_seconds, views, likes, shares, comments, average_completion_percent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			creator_verified = excluded.creator_verified,
			sound_id = excluded.sound_id,
			status = excluded.status,
			visibility = excluded.visibility,
			total_watch_seconds = excluded.total_watch_seconds,
			views = excluded.views,
			likes = excluded.likes,
			shares = excluded.shares,
			comments = excluded.comments,
			average_completion_percent = excluded.average_completion_percent
	`, c.ID, c.CreatorID, c.CreatorVerified, c.SoundID, c.Status, c.Visibility,
		c.TotalWatchSeconds, c.Views, c.Likes, c.Shares, c.Comments,
		c.AverageCompletionPercent, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert content %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetContent(ctx context.Context, id string) (*trend.Content, error) {
	var c trend.Content
	err := s.db.GetContext(ctx, &c, "SELECT * FROM content WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get content %s: %w", id, trend.ErrContentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", id, err)
	}
	if err := decodeComponents(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCandidates returns published public content created since q.Since with
// at least q.MinViews views, most viewed first.
func (s *SQLiteStore) ListCandidates(ctx context.Context, q trend.CandidateQuery) ([]trend.Content, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 5000
	}

	var items []trend.Content
	err := s.db.SelectContext(ctx, &items, `
		SELECT * FROM content
		WHERE status = ? AND visibility = ? AND created_at >= ? AND views >= ?
		ORDER BY views DESC, id
		LIMIT ?
	`, trend.StatusPublished, trend.VisibilityPublic, q.Since.UTC(), q.MinViews, limit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) UpdateTrending(ctx context.Context, id string, r trend.Result, at time.Time) error {
	components, err := json.Marshal(r.Components)
	if err != nil {
		return fmt.Errorf("encode components %s: %w", id, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE content SET trending_score = ?, trending_components = ?, trending_last_calculated = ?
		WHERE id = ?
	`, trend.RoundScore(r.Score), string(components), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update trending %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update trending %s: %w", id, trend.ErrContentNotFound)
	}
	return nil
}

// TopTrending returns scored content ordered by trending score.
func (s *SQLiteStore) TopTrending(ctx context.Context, limit int) ([]trend.Content, error) {
	if limit <= 0 {
		limit = 50
	}

	var items []trend.Content
	err := s.db.SelectContext(ctx, &items, `
		SELECT * FROM content
		WHERE trending_last_calculated IS NOT NULL AND status = ? AND visibility = ?
		ORDER BY trending_score DESC, id
		LIMIT ?
	`, trend.StatusPublished, trend.VisibilityPublic, limit)
	if err != nil {
		return nil, fmt.Errorf("list trending: %w", err)
	}

	for i := range items {
		if err := decodeComponents(&items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// ListSoundUsage aggregates usage of each sound across content created since.
func (s *SQLiteStore) ListSoundUsage(ctx context.Context, since time.Time) ([]trend.SoundUsage, error) {
	var usages []trend.SoundUsage
	err := s.db.SelectContext(ctx, &usages, `
		SELECT sound_id,
			COUNT(*) AS usage_count,
			COALESCE(SUM(views), 0) AS total_views,
			COALESCE(SUM(likes), 0) AS total_likes,
			COALESCE(AVG(trending_score), 0) AS average_score
		FROM content
		WHERE sound_id != '' AND status = ? AND created_at >= ?
		GROUP BY sound_id
		ORDER BY sound_id
	`, trend.StatusPublished, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list sound usage: %w", err)
	}
	return usages, nil
}

func (s *SQLiteStore) UpdateSoundTrending(ctx context.Context, u trend.SoundUsage, score float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sounds (id, usage_count_7d, views_7d, likes_7d, trending_score, trending_last_calculated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			usage_count_7d = excluded.usage_count_7d,
			views_7d = excluded.views_7d,
			likes_7d = excluded.likes_7d,
			trending_score = excluded.trending_score,
			trending_last_calculated = excluded.trending_last_calculated
	`, u.SoundID, u.UsageCount, u.TotalViews, u.TotalLikes, score, at.UTC())
	if err != nil {
		return fmt.Errorf("update sound %s: %w", u.SoundID, err)
	}
	return nil
}

func decodeComponents(c *trend.Content) error {
	if c.ComponentsJSON == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(c.ComponentsJSON), &c.Components); err != nil {
		return fmt.Errorf("content %s components: %w", c.ID, err)
	}
	return nil
}
