package stats

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	compactionCheckInterval = 6 * time.Hour
	rawEventRetentionDays   = 30
)

// maybeCompact folds raw events older than the retention window into
// play_stats_daily, at most once per check interval.
func (s *Service) maybeCompact(reference time.Time) {
	if s.db == nil {
		return
	}

	now := reference.UTC()

	s.mu.Lock()
	if s.compactionRunning || (!s.lastCompactionAt.IsZero() && now.Sub(s.lastCompactionAt) < compactionCheckInterval) {
		s.mu.Unlock()
		return
	}
	s.compactionRunning = true
	s.lastCompactionAt = now
	s.mu.Unlock()

	if err := s.compactOldEvents(context.Background(), now); err != nil {
		s.logger.Warn("compact play events", zap.Error(err))
	}

	s.mu.Lock()
	s.compactionRunning = false
	s.mu.Unlock()
}

func (s *Service) compactOldEvents(ctx context.Context, reference time.Time) error {
	cutoff := startOfUTCDay(reference).AddDate(0, 0, -rawEventRetentionDays).Format(time.RFC3339)
	updatedAt := reference.UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	// Accumulate instead of overwrite: a day can be compacted in pieces
	// when events are stored late.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO play_stats_daily(
			day, track_id, played_ms, start_count, heartbeat_count,
			complete_count, skip_count, partial_count, updated_at
		)
		SELECT
			substr(ts, 1, 10) AS day,
			track_id,
			COALESCE(SUM(CASE WHEN event_type = ? THEN COALESCE(position_ms, 0) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
			?
		FROM play_events
		WHERE ts < ?
		GROUP BY day, track_id
		ON CONFLICT(day, track_id) DO UPDATE SET
			played_ms = played_ms + excluded.played_ms,
			start_count = start_count + excluded.start_count,
			heartbeat_count = heartbeat_count + excluded.heartbeat_count,
			complete_count = complete_count + excluded.complete_count,
			skip_count = skip_count + excluded.skip_count,
			partial_count = partial_count + excluded.partial_count,
			updated_at = excluded.updated_at
	`,
		EventHeartbeat,
		EventStart,
		EventHeartbeat,
		EventComplete,
		EventSkip,
		EventPartial,
		updatedAt,
		cutoff,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM play_events WHERE ts < ?`, cutoff); err != nil {
		return err
	}

	return tx.Commit()
}

func startOfUTCDay(value time.Time) time.Time {
	utc := value.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
