package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Applied by the driver on every pooled connection.
var connectionPragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// Bootstrap opens the library database and brings its schema up to date.
func Bootstrap(dbPath string) (*sql.DB, error) {
	database, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := RunMigrations(database); err != nil {
		database.Close()
		return nil, err
	}

	return database, nil
}

func Open(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	database, err := sql.Open("sqlite", dataSourceName(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := database.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		database.Close()
		return nil, fmt.Errorf("enable sqlite wal: %w", err)
	}

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return database, nil
}

func dataSourceName(dbPath string) string {
	query := url.Values{}
	for _, pragma := range connectionPragmas {
		query.Add("_pragma", pragma)
	}

	return "file:" + filepath.ToSlash(dbPath) + "?" + query.Encode()
}
