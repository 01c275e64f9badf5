package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	sectionHistory = "history"
	sectionCurrent = "current"
	sectionQueue   = "queue"
)

type storedEntry struct {
	section  string
	position int
	queueID  string
	trackID  int64
}

// persistSnapshot replaces the stored timeline with state. Playback is
// never restored as running, so isPlaying is not stored.
func (s *Service) persistSnapshot(state State) {
	if s.db == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Warn("begin queue snapshot", zap.Error(err))
		return
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue_entries"); err != nil {
		s.logger.Warn("clear queue snapshot", zap.Error(err))
		return
	}

	rows := make([]storedEntry, 0, len(state.History)+len(state.Queue)+1)
	for position, entry := range state.History {
		rows = append(rows, storedEntry{sectionHistory, position, entry.QueueID, entry.Track.ID})
	}
	if state.Current != nil {
		rows = append(rows, storedEntry{sectionCurrent, 0, state.Current.QueueID, state.Current.Track.ID})
	}
	for position, entry := range state.Queue {
		rows = append(rows, storedEntry{sectionQueue, position, entry.QueueID, entry.Track.ID})
	}

	for _, row := range rows {
		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO queue_entries(section, position, queue_id, track_id) VALUES (?, ?, ?, ?)",
			row.section,
			row.position,
			row.queueID,
			row.trackID,
		); err != nil {
			s.logger.Warn("store queue entry", zap.String("queueId", row.queueID), zap.Error(err))
			return
		}
	}

	updatedAt := state.UpdatedAt
	if updatedAt == "" {
		updatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO playback_state(id, repeat_mode, shuffle, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repeat_mode = excluded.repeat_mode,
			shuffle = excluded.shuffle,
			updated_at = excluded.updated_at
	`, state.RepeatMode, boolToInt(state.Shuffle), updatedAt); err != nil {
		s.logger.Warn("store playback state", zap.Error(err))
		return
	}

	if err := tx.Commit(); err != nil {
		s.logger.Warn("commit queue snapshot", zap.Error(err))
	}
}

// loadSnapshot restores the last stored timeline. Entries whose track is
// gone from the library are skipped; playback always restores paused.
func (s *Service) loadSnapshot() {
	if s.db == nil || s.tracks == nil {
		return
	}

	ctx := context.Background()

	var repeatMode string
	var shuffle int
	err := s.db.QueryRowContext(ctx, "SELECT repeat_mode, shuffle FROM playback_state WHERE id = 1").Scan(&repeatMode, &shuffle)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		s.logger.Warn("read playback state", zap.Error(err))
	default:
		if normalized, modeErr := NormalizeRepeatMode(repeatMode); modeErr == nil {
			s.repeatMode = normalized
		}
		s.shuffle = shuffle == 1
	}

	stored, err := s.readStoredEntries(ctx)
	if err != nil {
		s.logger.Warn("read queue snapshot", zap.Error(err))
		return
	}
	if len(stored) == 0 {
		return
	}

	ids := make([]int64, 0, len(stored))
	for _, row := range stored {
		ids = append(ids, row.trackID)
	}

	tracks, err := s.tracks.GetMany(ctx, ids)
	if err != nil {
		s.logger.Warn("resolve queue snapshot tracks", zap.Error(err))
		return
	}

	for _, row := range stored {
		track, ok := tracks[row.trackID]
		if !ok {
			s.logger.Debug("skip queue entry for unknown track", zap.Int64("trackId", row.trackID))
			continue
		}

		entry := Entry{QueueID: row.queueID, Track: track}
		switch row.section {
		case sectionHistory:
			s.history = append(s.history, entry)
		case sectionCurrent:
			s.current = &entry
		case sectionQueue:
			s.upcoming = append(s.upcoming, entry)
		}
	}

	s.playing = false
	s.touchLocked()
}

func (s *Service) readStoredEntries(ctx context.Context) ([]storedEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT section, position, queue_id, track_id
		FROM queue_entries
		ORDER BY CASE section WHEN 'history' THEN 0 WHEN 'current' THEN 1 ELSE 2 END, position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored := make([]storedEntry, 0)
	for rows.Next() {
		var row storedEntry
		if err := rows.Scan(&row.section, &row.position, &row.queueID, &row.trackID); err != nil {
			return nil, err
		}
		stored = append(stored, row)
	}

	return stored, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}

	return 0
}
