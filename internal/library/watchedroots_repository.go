package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrWatchedRootNotFound = errors.New("watched root not found")

var ErrWatchedRootExists = errors.New("watched root already exists")

var ErrWatchedRootPath = errors.New("watched root path is required")

type WatchedRoot struct {
	ID        int64  `json:"id"`
	Path      string `json:"path"`
	Enabled   bool   `json:"enabled"`
	CreatedAt string `json:"createdAt"`
}

type WatchedRootRepository struct {
	db *sql.DB
}

func NewWatchedRootRepository(database *sql.DB) *WatchedRootRepository {
	return &WatchedRootRepository{db: database}
}

func (r *WatchedRootRepository) List(ctx context.Context) ([]WatchedRoot, error) {
	return r.query(ctx, "SELECT id, path, enabled, created_at FROM watched_roots ORDER BY path COLLATE NOCASE")
}

func (r *WatchedRootRepository) ListEnabled(ctx context.Context) ([]WatchedRoot, error) {
	return r.query(ctx, "SELECT id, path, enabled, created_at FROM watched_roots WHERE enabled = 1 ORDER BY path COLLATE NOCASE")
}

func (r *WatchedRootRepository) query(ctx context.Context, statement string, args ...any) ([]WatchedRoot, error) {
	rows, err := r.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("list watched roots: %w", err)
	}
	defer rows.Close()

	roots := make([]WatchedRoot, 0)
	for rows.Next() {
		root, err := scanWatchedRoot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watched root row: %w", err)
		}
		roots = append(roots, root)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watched root rows: %w", err)
	}

	return roots, nil
}

// Add registers an absolute, cleaned form of path.
func (r *WatchedRootRepository) Add(ctx context.Context, path string) (WatchedRoot, error) {
	normalized, err := NormalizeRootPath(path)
	if err != nil {
		return WatchedRoot{}, err
	}

	var existing int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM watched_roots WHERE path = ?", normalized).Scan(&existing); err != nil {
		return WatchedRoot{}, fmt.Errorf("check watched root: %w", err)
	}
	if existing > 0 {
		return WatchedRoot{}, fmt.Errorf("%w: %s", ErrWatchedRootExists, normalized)
	}

	result, err := r.db.ExecContext(ctx, "INSERT INTO watched_roots(path, enabled) VALUES (?, 1)", normalized)
	if err != nil {
		return WatchedRoot{}, fmt.Errorf("insert watched root: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return WatchedRoot{}, fmt.Errorf("read watched root id: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *WatchedRootRepository) GetByID(ctx context.Context, id int64) (WatchedRoot, error) {
	root, err := scanWatchedRoot(r.db.QueryRowContext(
		ctx,
		"SELECT id, path, enabled, created_at FROM watched_roots WHERE id = ?",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WatchedRoot{}, ErrWatchedRootNotFound
		}
		return WatchedRoot{}, fmt.Errorf("get watched root %d: %w", id, err)
	}

	return root, nil
}

func (r *WatchedRootRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}

	return r.execAffectingRoot(ctx, id, "UPDATE watched_roots SET enabled = ? WHERE id = ?", enabledInt, id)
}

func (r *WatchedRootRepository) Delete(ctx context.Context, id int64) error {
	return r.execAffectingRoot(ctx, id, "DELETE FROM watched_roots WHERE id = ?", id)
}

func (r *WatchedRootRepository) execAffectingRoot(ctx context.Context, id int64, statement string, args ...any) error {
	result, err := r.db.ExecContext(ctx, statement, args...)
	if err != nil {
		return fmt.Errorf("update watched root %d: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected watched root count: %w", err)
	}
	if rowsAffected == 0 {
		return ErrWatchedRootNotFound
	}

	return nil
}

func NormalizeRootPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrWatchedRootPath
	}

	absolute, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve watched root %q: %w", trimmed, err)
	}

	return filepath.Clean(absolute), nil
}

func scanWatchedRoot(row rowScanner) (WatchedRoot, error) {
	var root WatchedRoot
	var enabledInt int
	if err := row.Scan(&root.ID, &root.Path, &enabledInt, &root.CreatedAt); err != nil {
		return WatchedRoot{}, err
	}

	root.Enabled = enabledInt == 1
	return root, nil
}
