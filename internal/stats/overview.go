package stats

import (
	"context"
	"fmt"
)

const (
	defaultTopLimit = 5
	maxTopLimit     = 25
)

type Overview struct {
	TotalPlayedMS int          `json:"totalPlayedMs"`
	TracksPlayed  int          `json:"tracksPlayed"`
	StartCount    int          `json:"startCount"`
	CompleteCount int          `json:"completeCount"`
	SkipCount     int          `json:"skipCount"`
	PartialCount  int          `json:"partialCount"`
	TopTracks     []TrackStat  `json:"topTracks"`
	TopArtists    []ArtistStat `json:"topArtists"`
}

type TrackStat struct {
	TrackID       int64  `json:"trackId"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Album         string `json:"album"`
	PlayedMS      int    `json:"playedMs"`
	StartCount    int    `json:"startCount"`
	CompleteCount int    `json:"completeCount"`
	SkipCount     int    `json:"skipCount"`
	PartialCount  int    `json:"partialCount"`
}

type ArtistStat struct {
	Name       string `json:"name"`
	PlayedMS   int    `json:"playedMs"`
	TrackCount int    `json:"trackCount"`
}

// metricsSource merges raw events with compacted daily rows. It takes the
// five event type arguments returned by metricsArgs.
const metricsSource = `
	SELECT
		track_id,
		CASE WHEN event_type = ? THEN COALESCE(position_ms, 0) ELSE 0 END AS played_ms,
		CASE WHEN event_type = ? THEN 1 ELSE 0 END AS start_count,
		CASE WHEN event_type = ? THEN 1 ELSE 0 END AS complete_count,
		CASE WHEN event_type = ? THEN 1 ELSE 0 END AS skip_count,
		CASE WHEN event_type = ? THEN 1 ELSE 0 END AS partial_count
	FROM play_events
	UNION ALL
	SELECT track_id, played_ms, start_count, complete_count, skip_count, partial_count
	FROM play_stats_daily
`

const trackMetrics = `
	WITH track_metrics AS (
		SELECT
			track_id,
			COALESCE(SUM(played_ms), 0) AS played_ms,
			COALESCE(SUM(start_count), 0) AS start_count,
			COALESCE(SUM(complete_count), 0) AS complete_count,
			COALESCE(SUM(skip_count), 0) AS skip_count,
			COALESCE(SUM(partial_count), 0) AS partial_count
		FROM (` + metricsSource + `) AS metrics
		GROUP BY track_id
	)
`

func metricsArgs(extra ...any) []any {
	args := []any{EventHeartbeat, EventStart, EventComplete, EventSkip, EventPartial}
	return append(args, extra...)
}

func (s *Service) GetOverview(limit int) (Overview, error) {
	return s.Overview(context.Background(), limit)
}

// Overview totals listening history and ranks the most played tracks and
// artists still present in the library.
func (s *Service) Overview(ctx context.Context, limit int) (Overview, error) {
	if s.db == nil {
		return Overview{TopTracks: []TrackStat{}, TopArtists: []ArtistStat{}}, nil
	}

	s.maybeCompact(s.now())

	normalizedLimit := normalizeTopLimit(limit)

	overview := Overview{}
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(played_ms), 0),
			COUNT(DISTINCT CASE WHEN played_ms > 0 THEN track_id END),
			COALESCE(SUM(start_count), 0),
			COALESCE(SUM(complete_count), 0),
			COALESCE(SUM(skip_count), 0),
			COALESCE(SUM(partial_count), 0)
		FROM (`+metricsSource+`) AS metrics
	`, metricsArgs()...).Scan(
		&overview.TotalPlayedMS,
		&overview.TracksPlayed,
		&overview.StartCount,
		&overview.CompleteCount,
		&overview.SkipCount,
		&overview.PartialCount,
	); err != nil {
		return Overview{}, fmt.Errorf("read stats totals: %w", err)
	}

	tracks, err := s.readTopTracks(ctx, normalizedLimit)
	if err != nil {
		return Overview{}, err
	}
	overview.TopTracks = tracks

	artists, err := s.readTopArtists(ctx, normalizedLimit)
	if err != nil {
		return Overview{}, err
	}
	overview.TopArtists = artists

	return overview, nil
}

func (s *Service) readTopTracks(ctx context.Context, limit int) ([]TrackStat, error) {
	rows, err := s.db.QueryContext(ctx, trackMetrics+`
		SELECT
			t.id,
			COALESCE(NULLIF(TRIM(t.title), ''), 'Unknown Title') AS track_title,
			COALESCE(NULLIF(TRIM(t.artist), ''), 'Unknown Artist'),
			COALESCE(NULLIF(TRIM(t.album), ''), 'Unknown Album'),
			tm.played_ms,
			tm.start_count,
			tm.complete_count,
			tm.skip_count,
			tm.partial_count
		FROM track_metrics tm
		JOIN tracks t ON t.id = tm.track_id
		JOIN files f ON f.id = t.file_id
		WHERE
			f.file_exists = 1
			AND (
				tm.played_ms > 0
				OR tm.start_count > 0
				OR tm.complete_count > 0
				OR tm.skip_count > 0
				OR tm.partial_count > 0
			)
		ORDER BY tm.played_ms DESC, tm.complete_count DESC, tm.start_count DESC, tm.skip_count ASC, LOWER(track_title)
		LIMIT ?
	`, metricsArgs(limit)...)
	if err != nil {
		return nil, fmt.Errorf("read top tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]TrackStat, 0, limit)
	for rows.Next() {
		var item TrackStat
		if scanErr := rows.Scan(
			&item.TrackID,
			&item.Title,
			&item.Artist,
			&item.Album,
			&item.PlayedMS,
			&item.StartCount,
			&item.CompleteCount,
			&item.SkipCount,
			&item.PartialCount,
		); scanErr != nil {
			return nil, scanErr
		}
		tracks = append(tracks, item)
	}

	return tracks, rows.Err()
}

func (s *Service) readTopArtists(ctx context.Context, limit int) ([]ArtistStat, error) {
	rows, err := s.db.QueryContext(ctx, trackMetrics+`
		SELECT
			COALESCE(NULLIF(TRIM(t.artist), ''), 'Unknown Artist') AS artist_name,
			COALESCE(SUM(tm.played_ms), 0) AS played_ms,
			COUNT(DISTINCT t.id) AS track_count
		FROM track_metrics tm
		JOIN tracks t ON t.id = tm.track_id
		JOIN files f ON f.id = t.file_id
		WHERE f.file_exists = 1
		GROUP BY artist_name
		HAVING COALESCE(SUM(tm.played_ms), 0) > 0
		ORDER BY played_ms DESC, LOWER(artist_name)
		LIMIT ?
	`, metricsArgs(limit)...)
	if err != nil {
		return nil, fmt.Errorf("read top artists: %w", err)
	}
	defer rows.Close()

	artists := make([]ArtistStat, 0, limit)
	for rows.Next() {
		var item ArtistStat
		if scanErr := rows.Scan(&item.Name, &item.PlayedMS, &item.TrackCount); scanErr != nil {
			return nil, scanErr
		}
		artists = append(artists, item)
	}

	return artists, rows.Err()
}

func normalizeTopLimit(value int) int {
	if value <= 0 {
		return defaultTopLimit
	}
	return min(value, maxTopLimit)
}
