package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/streamrank/pkg/livestream"
)

func (s *SQLiteStore) CreateStream(ctx context.Context, st *livestream.Stream) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO livestreams (id, host_id, title, provider, stream_key, rtmp_url, hls_url,
			playback_url, degraded, status, started_at, ended_at, duration_minutes)
		VALUES (:id, :host_id, :title, :provider, :stream_key, :rtmp_url, :hls_url,
			:playback_url, :degraded, :status, :started_at, :ended_at, :duration_minutes)
	`, st)
	if err != nil {
		return fmt.Errorf("insert stream %s: %w", st.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetStream(ctx context.Context, id string) (*livestream.Stream, error) {
	var st livestream.Stream
	err := s.db.GetContext(ctx, &st, "SELECT * FROM livestreams WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get stream %s: %w", id, livestream.ErrStreamNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", id, err)
	}
	return &st, nil
}

// EndStream marks a live stream ended and releases its slot and minutes on
// the provider in the same transaction. It reports false if the stream was
// not live.
func (s *SQLiteStore) EndStream(ctx context.Context, st *livestream.Stream, endedAt time.Time, minutes int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin end stream %s: %w", st.ID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE livestreams SET status = ?, ended_at = ?, duration_minutes = ?
		WHERE id = ? AND status = ?
	`, livestream.StatusEnded, endedAt.UTC(), minutes, st.ID, livestream.StatusLive)
	if err != nil {
		return false, fmt.Errorf("end stream %s: %w", st.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end stream %s: %w", st.ID, err)
	}
	if n == 0 {
		return false, nil
	}

	if err := releaseCapacity(ctx, tx, st.Provider, minutes); err != nil {
		return false, fmt.Errorf("end stream %s: %w", st.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit end stream %s: %w", st.ID, err)
	}
	return true, nil
}
