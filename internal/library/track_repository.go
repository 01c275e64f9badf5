package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deck/internal/equalizer"
)

const defaultListLimit = 50

const maxListLimit = 500

type PageInfo struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type TracksPage struct {
	Items []Track  `json:"items"`
	Page  PageInfo `json:"page"`
}

type TrackRepository struct {
	db *sql.DB
}

func NewTrackRepository(database *sql.DB) *TrackRepository {
	return &TrackRepository{db: database}
}

const trackColumns = `
	t.id,
	COALESCE(NULLIF(TRIM(t.title), ''), 'Unknown Title'),
	COALESCE(NULLIF(TRIM(t.artist), ''), 'Unknown Artist'),
	COALESCE(NULLIF(TRIM(t.album), ''), 'Unknown Album'),
	COALESCE(NULLIF(TRIM(t.album_artist), ''), COALESCE(NULLIF(TRIM(t.artist), ''), 'Unknown Artist')),
	COALESCE(t.duration_ms, 0),
	f.path,
	f.file_exists,
	t.volume,
	t.start_time_ms,
	t.end_time_offset_ms,
	t.fade_duration_ms,
	t.end_fade_duration_ms,
	t.eq_json
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (Track, error) {
	var track Track
	var exists int
	var eqJSON string
	if err := row.Scan(
		&track.ID,
		&track.Title,
		&track.Artist,
		&track.Album,
		&track.AlbumArtist,
		&track.DurationMS,
		&track.Path,
		&exists,
		&track.Playback.Volume,
		&track.Playback.StartTimeMS,
		&track.Playback.EndTimeOffsetMS,
		&track.Playback.FadeDurationMS,
		&track.Playback.EndFadeDurationMS,
		&eqJSON,
	); err != nil {
		return Track{}, err
	}

	track.Removed = exists == 0
	track.Playback.EQ = decodeGains(eqJSON)
	return track, nil
}

func (r *TrackRepository) Get(ctx context.Context, id int64) (Track, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+trackColumns+`
		FROM tracks t
		JOIN files f ON f.id = t.file_id
		WHERE t.id = ?
	`, id)

	track, err := scanTrack(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Track{}, ErrTrackNotFound
		}
		return Track{}, fmt.Errorf("get track %d: %w", id, err)
	}

	return track, nil
}

// GetMany returns the tracks that exist among ids, keyed by id.
func (r *TrackRepository) GetMany(ctx context.Context, ids []int64) (map[int64]Track, error) {
	unique := uniqueIDs(ids)
	tracks := make(map[int64]Track, len(unique))
	if len(unique) == 0 {
		return tracks, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unique)), ",")
	args := make([]any, 0, len(unique))
	for _, id := range unique {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+trackColumns+`
		FROM tracks t
		JOIN files f ON f.id = t.file_id
		WHERE t.id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		track, scanErr := scanTrack(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan track row: %w", scanErr)
		}
		tracks[track.ID] = track
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate track rows: %w", err)
	}

	return tracks, nil
}

func (r *TrackRepository) List(ctx context.Context, search string, includeRemoved bool, limit int, offset int) (TracksPage, error) {
	limit, offset = normalizePagination(limit, offset)

	whereClauses := []string{"1 = 1"}
	args := make([]any, 0, 3)
	if !includeRemoved {
		whereClauses = append(whereClauses, "f.file_exists = 1")
	}
	if pattern := makeSearchPattern(search); pattern != "" {
		whereClauses = append(whereClauses, "(LOWER(t.title) LIKE ? OR LOWER(t.artist) LIKE ? OR LOWER(t.album) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	whereSQL := strings.Join(whereClauses, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM tracks t
		JOIN files f ON f.id = t.file_id
		WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return TracksPage{}, fmt.Errorf("count tracks: %w", err)
	}

	listArgs := append(append(make([]any, 0, len(args)+2), args...), limit, offset)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+trackColumns+`
		FROM tracks t
		JOIN files f ON f.id = t.file_id
		WHERE `+whereSQL+`
		ORDER BY LOWER(t.artist), LOWER(t.album), COALESCE(t.disc_no, 1), COALESCE(t.track_no, 0), LOWER(t.title)
		LIMIT ?
		OFFSET ?
	`, listArgs...)
	if err != nil {
		return TracksPage{}, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	items := make([]Track, 0)
	for rows.Next() {
		track, scanErr := scanTrack(rows)
		if scanErr != nil {
			return TracksPage{}, fmt.Errorf("scan track row: %w", scanErr)
		}
		items = append(items, track)
	}

	if err := rows.Err(); err != nil {
		return TracksPage{}, fmt.Errorf("iterate track rows: %w", err)
	}

	return TracksPage{
		Items: items,
		Page: PageInfo{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	}, nil
}

// UpdatePlayback applies patch to the stored playback params of a track
// and returns the updated track.
func (r *TrackRepository) UpdatePlayback(ctx context.Context, id int64, patch PlaybackPatch) (Track, error) {
	track, err := r.Get(ctx, id)
	if err != nil {
		return Track{}, err
	}

	params, err := track.Playback.Apply(patch)
	if err != nil {
		return Track{}, err
	}

	eqJSON, err := json.Marshal(params.EQ)
	if err != nil {
		return Track{}, fmt.Errorf("encode eq: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		UPDATE tracks SET
			volume = ?,
			start_time_ms = ?,
			end_time_offset_ms = ?,
			fade_duration_ms = ?,
			end_fade_duration_ms = ?,
			eq_json = ?
		WHERE id = ?
	`,
		params.Volume,
		params.StartTimeMS,
		params.EndTimeOffsetMS,
		params.FadeDurationMS,
		params.EndFadeDurationMS,
		string(eqJSON),
		id,
	); err != nil {
		return Track{}, fmt.Errorf("update playback params %d: %w", id, err)
	}

	track.Playback = params
	return track, nil
}

// TrackIDsForPath returns the tracks backed by the file at path.
func (r *TrackRepository) TrackIDsForPath(ctx context.Context, path string) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id
		FROM tracks t
		JOIN files f ON f.id = t.file_id
		WHERE f.path = ?
	`, path)
	if err != nil {
		return nil, fmt.Errorf("lookup tracks for %q: %w", path, err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 1)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan track id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func decodeGains(raw string) equalizer.Gains {
	var values []int
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return equalizer.DefaultTrackGains()
	}
	return equalizer.Parse(values, equalizer.DefaultTrackGains())
}

func normalizePagination(limit int, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

func makeSearchPattern(search string) string {
	trimmed := strings.TrimSpace(search)
	if trimmed == "" {
		return ""
	}

	return "%" + strings.ToLower(trimmed) + "%"
}

func uniqueIDs(ids []int64) []int64 {
	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	return unique
}
