package scanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deck/internal/library"

	"go.uber.org/zap"
)

const EventProgress = "scanner:progress"

var ErrScanRunning = errors.New("scan already in progress")

var supportedExtensions = map[string]struct{}{
	".aac":  {},
	".aif":  {},
	".aiff": {},
	".alac": {},
	".flac": {},
	".m4a":  {},
	".mp3":  {},
	".oga":  {},
	".ogg":  {},
	".opus": {},
	".wav":  {},
	".wma":  {},
}

type Progress struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
	Status  string `json:"status"`
	At      string `json:"at"`
}

type Status struct {
	Running       bool   `json:"running"`
	LastRunAt     string `json:"lastRunAt"`
	LastError     string `json:"lastError,omitempty"`
	LastFilesSeen int    `json:"lastFilesSeen"`
	LastIndexed   int    `json:"lastIndexed"`
	LastSkipped   int    `json:"lastSkipped"`
	LastRemoved   int    `json:"lastRemoved"`
}

type Emitter func(eventName string, payload any)

// RemovedHandler receives the ids of tracks whose files disappeared.
type RemovedHandler func(ctx context.Context, trackIDs []int64)

type Service struct {
	mu            sync.Mutex
	running       bool
	lastRun       time.Time
	lastError     string
	lastFilesSeen int
	lastIndexed   int
	lastSkipped   int
	lastRemoved   int
	emit          Emitter
	onRemoved     RemovedHandler
	db            *sql.DB
	roots         *library.WatchedRootRepository
	logger        *zap.Logger
}

type scanTotals struct {
	filesSeen int
	indexed   int
	skipped   int
	removed   []int64
}

func NewService(database *sql.DB, roots *library.WatchedRootRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: database, roots: roots, logger: logger.Named("scanner")}
}

func (s *Service) SetEmitter(emitter Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emitter
}

func (s *Service) SetRemovedHandler(handler RemovedHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoved = handler
}

// TriggerFullScan starts a scan in the background.
func (s *Service) TriggerFullScan() error {
	if err := s.begin(); err != nil {
		return err
	}

	go func() {
		_ = s.run(context.Background())
	}()
	return nil
}

// Scan runs a full scan and waits for it to finish.
func (s *Service) Scan(ctx context.Context) (Status, error) {
	if err := s.begin(); err != nil {
		return s.GetStatus(), err
	}

	err := s.run(ctx)
	return s.GetStatus(), err
}

func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:       s.running,
		LastError:     s.lastError,
		LastFilesSeen: s.lastFilesSeen,
		LastIndexed:   s.lastIndexed,
		LastSkipped:   s.lastSkipped,
		LastRemoved:   s.lastRemoved,
	}
	if !s.lastRun.IsZero() {
		status.LastRunAt = s.lastRun.UTC().Format(time.RFC3339)
	}

	return status
}

func (s *Service) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrScanRunning
	}
	s.running = true
	s.lastError = ""
	return nil
}

func (s *Service) run(ctx context.Context) error {
	totals, err := s.performScan(ctx)

	s.mu.Lock()
	s.running = false
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		s.lastRun = time.Now().UTC()
		s.lastFilesSeen = totals.filesSeen
		s.lastIndexed = totals.indexed
		s.lastSkipped = totals.skipped
		s.lastRemoved = len(totals.removed)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scan failed", zap.Error(err))
		s.emitProgress("failed", err.Error(), 100, "failed")
		return err
	}

	s.logger.Info("scan complete",
		zap.Int("filesSeen", totals.filesSeen),
		zap.Int("indexed", totals.indexed),
		zap.Int("skipped", totals.skipped),
		zap.Int("removed", len(totals.removed)),
	)
	s.notifyRemoved(ctx, totals.removed)
	s.emitProgress("done", fmt.Sprintf(
		"Scan complete: %d files seen, %d indexed, %d skipped, %d removed",
		totals.filesSeen,
		totals.indexed,
		totals.skipped,
		len(totals.removed),
	), 100, "completed")
	return nil
}

func (s *Service) performScan(ctx context.Context) (scanTotals, error) {
	s.emitProgress("start", "Starting full scan", 5, "running")

	enabledRoots, err := s.roots.ListEnabled(ctx)
	if err != nil {
		return scanTotals{}, err
	}

	if len(enabledRoots) == 0 {
		return scanTotals{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return scanTotals{}, fmt.Errorf("begin scan tx: %w", err)
	}

	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	present, err := presentTrackIDs(ctx, tx, enabledRoots)
	if err != nil {
		return scanTotals{}, err
	}

	if err := markRootsAsMissing(ctx, tx, enabledRoots); err != nil {
		return scanTotals{}, err
	}

	totals := scanTotals{}
	for i, root := range enabledRoots {
		s.emitProgress("scan", fmt.Sprintf("Scanning %s", root.Path), 10+((i*80)/len(enabledRoots)), "running")

		rootTotals, scanErr := scanRoot(ctx, tx, root, s.logger)
		totals.filesSeen += rootTotals.filesSeen
		totals.indexed += rootTotals.indexed
		totals.skipped += rootTotals.skipped
		if scanErr != nil {
			return scanTotals{}, scanErr
		}
	}

	missing, err := missingTrackIDs(ctx, tx, enabledRoots)
	if err != nil {
		return scanTotals{}, err
	}
	for _, id := range missing {
		if _, ok := present[id]; ok {
			totals.removed = append(totals.removed, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return scanTotals{}, fmt.Errorf("commit scan tx: %w", err)
	}
	tx = nil

	return totals, nil
}

// MarkRemoved flags the file at path, or every file below it when path is
// a directory, as missing. Tracks are kept so play history survives.
func (s *Service) MarkRemoved(ctx context.Context, path string) ([]int64, error) {
	cleanPath := filepath.Clean(path)
	prefix := cleanPath + string(filepath.Separator)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin remove tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const match = `(f.path = ? OR substr(CAST(f.path AS BLOB), 1, ?) = CAST(? AS BLOB))`
	ids, err := queryTrackIDs(ctx, tx, `
		SELECT t.id FROM tracks t JOIN files f ON f.id = t.file_id
		WHERE f.file_exists = 1 AND `+match, cleanPath, len(prefix), prefix)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE files SET file_exists = 0
		WHERE id IN (SELECT f.id FROM files f WHERE `+match+`)`,
		cleanPath, len(prefix), prefix,
	); err != nil {
		return nil, fmt.Errorf("mark %s removed: %w", cleanPath, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit remove tx: %w", err)
	}

	if len(ids) > 0 {
		s.logger.Info("tracks removed", zap.String("path", cleanPath), zap.Int64s("trackIds", ids))
		s.notifyRemoved(ctx, ids)
	}
	return ids, nil
}

func (s *Service) notifyRemoved(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	handler := s.onRemoved
	s.mu.Unlock()

	if handler != nil {
		handler(ctx, ids)
	}
}

func presentTrackIDs(ctx context.Context, tx *sql.Tx, roots []library.WatchedRoot) (map[int64]struct{}, error) {
	present := make(map[int64]struct{})
	for _, root := range roots {
		ids, err := queryTrackIDs(ctx, tx, `
			SELECT t.id FROM tracks t JOIN files f ON f.id = t.file_id
			WHERE f.root_id = ? AND f.file_exists = 1`, root.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			present[id] = struct{}{}
		}
	}
	return present, nil
}

func missingTrackIDs(ctx context.Context, tx *sql.Tx, roots []library.WatchedRoot) ([]int64, error) {
	missing := make([]int64, 0)
	for _, root := range roots {
		ids, err := queryTrackIDs(ctx, tx, `
			SELECT t.id FROM tracks t JOIN files f ON f.id = t.file_id
			WHERE f.root_id = ? AND f.file_exists = 0
			ORDER BY t.id`, root.ID)
		if err != nil {
			return nil, err
		}
		missing = append(missing, ids...)
	}
	return missing, nil
}

func queryTrackIDs(ctx context.Context, tx *sql.Tx, statement string, args ...any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query track ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan track id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func markRootsAsMissing(ctx context.Context, tx *sql.Tx, roots []library.WatchedRoot) error {
	for _, root := range roots {
		if _, err := tx.ExecContext(
			ctx,
			"UPDATE files SET file_exists = 0 WHERE root_id = ?",
			root.ID,
		); err != nil {
			return fmt.Errorf("mark files missing for root %d: %w", root.ID, err)
		}
	}

	return nil
}

func scanRoot(ctx context.Context, tx *sql.Tx, root library.WatchedRoot, logger *zap.Logger) (scanTotals, error) {
	rootTotals := scanTotals{}
	scannedAt := time.Now().UTC().Format(time.RFC3339)

	err := filepath.WalkDir(root.Path, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Debug("walk error", zap.String("path", path), zap.Error(walkErr))
			rootTotals.skipped++
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if entry.IsDir() || !isSupported(path) {
			return nil
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			rootTotals.skipped++
			return nil
		}

		rootTotals.filesSeen++
		indexed, upsertErr := upsertFileAndTrack(ctx, tx, root.ID, root.Path, path, info, scannedAt)
		if upsertErr != nil {
			return upsertErr
		}
		if indexed {
			rootTotals.indexed++
		}

		return nil
	})
	if err != nil {
		return scanTotals{}, fmt.Errorf("walk root %s: %w", root.Path, err)
	}

	return rootTotals, nil
}

func isSupported(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func upsertFileAndTrack(
	ctx context.Context,
	tx *sql.Tx,
	rootID int64,
	rootPath string,
	path string,
	info fs.FileInfo,
	scannedAt string,
) (bool, error) {
	cleanPath := filepath.Clean(path)

	var (
		fileID       int64
		currentSize  int64
		currentMTime int64
	)

	err := tx.QueryRowContext(
		ctx,
		"SELECT id, size, mtime_ns FROM files WHERE path = ?",
		cleanPath,
	).Scan(&fileID, &currentSize, &currentMTime)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("get file row %s: %w", cleanPath, err)
	}

	newMTime := info.ModTime().UnixNano()
	newSize := info.Size()

	metadataNeedsUpdate := false
	if errors.Is(err, sql.ErrNoRows) {
		result, insertErr := tx.ExecContext(
			ctx,
			`INSERT INTO files(path, root_id, size, mtime_ns, file_exists, last_seen_at)
			 VALUES (?, ?, ?, ?, 1, ?)`,
			cleanPath,
			rootID,
			newSize,
			newMTime,
			scannedAt,
		)
		if insertErr != nil {
			return false, fmt.Errorf("insert file %s: %w", cleanPath, insertErr)
		}

		fileID, err = result.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("read file id %s: %w", cleanPath, err)
		}
		metadataNeedsUpdate = true
	} else {
		if _, updateErr := tx.ExecContext(
			ctx,
			`UPDATE files
			 SET root_id = ?, size = ?, mtime_ns = ?, file_exists = 1, last_seen_at = ?
			 WHERE id = ?`,
			rootID,
			newSize,
			newMTime,
			scannedAt,
			fileID,
		); updateErr != nil {
			return false, fmt.Errorf("update file %s: %w", cleanPath, updateErr)
		}

		metadataNeedsUpdate = currentSize != newSize || currentMTime != newMTime
	}

	if !metadataNeedsUpdate {
		var storedTags sql.NullString
		tagErr := tx.QueryRowContext(ctx, "SELECT tags_json FROM tracks WHERE file_id = ?", fileID).Scan(&storedTags)
		switch {
		case errors.Is(tagErr, sql.ErrNoRows):
			metadataNeedsUpdate = true
		case tagErr != nil:
			return false, fmt.Errorf("check track metadata for file %s: %w", cleanPath, tagErr)
		default:
			metadataNeedsUpdate = !strings.Contains(storedTags.String, metadataVersionMarker)
		}
	}

	if !metadataNeedsUpdate {
		return false, nil
	}

	metadata := deriveMetadata(rootPath, cleanPath)
	tagsJSON, err := metadata.tagsJSON()
	if err != nil {
		return false, fmt.Errorf("marshal tags for %s: %w", cleanPath, err)
	}

	// Playback params are left alone so edits survive a rescan.
	if _, upsertErr := tx.ExecContext(
		ctx,
		`INSERT INTO tracks(
			file_id, title, artist, album_artist, album, disc_no, track_no,
			year, genre, duration_ms, codec, sample_rate, bitrate, tags_json
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album_artist = excluded.album_artist,
			album = excluded.album,
			disc_no = excluded.disc_no,
			track_no = excluded.track_no,
			year = excluded.year,
			genre = excluded.genre,
			duration_ms = excluded.duration_ms,
			codec = excluded.codec,
			sample_rate = excluded.sample_rate,
			bitrate = excluded.bitrate,
			tags_json = excluded.tags_json`,
		fileID,
		metadata.title,
		metadata.artist,
		metadata.albumArtist,
		metadata.album,
		nullableInt(metadata.discNo),
		nullableInt(metadata.trackNo),
		nullableInt(metadata.year),
		nullableString(metadata.genre),
		nullableInt(metadata.durationMS),
		nullableString(metadata.codec),
		nullableInt(metadata.sampleRate),
		nullableInt(metadata.bitrate),
		tagsJSON,
	); upsertErr != nil {
		return false, fmt.Errorf("upsert track %s: %w", cleanPath, upsertErr)
	}

	return true, nil
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}

	return *value
}

func nullableString(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	return trimmed
}

func (s *Service) emitProgress(phase string, message string, percent int, status string) {
	s.mu.Lock()
	emitter := s.emit
	s.mu.Unlock()

	if emitter != nil {
		emitter(EventProgress, Progress{
			Phase:   phase,
			Message: message,
			Percent: percent,
			Status:  status,
			At:      time.Now().UTC().Format(time.RFC3339),
		})
	}
}
