package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const AppSlug = "deck"

type Paths struct {
	BaseDir    string
	DBPath     string
	ConfigPath string
	LogDir     string
}

// ResolvePaths places deck's files under the user config dir. baseDir
// overrides that location when non-empty.
func ResolvePaths(appSlug string, baseDir string) (Paths, error) {
	if baseDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return Paths{}, fmt.Errorf("resolve user config dir: %w", err)
		}
		baseDir = filepath.Join(configDir, appSlug)
	}

	logDir := filepath.Join(baseDir, "logs")

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create log dir: %w", err)
	}

	return Paths{
		BaseDir:    baseDir,
		DBPath:     filepath.Join(baseDir, "library.db"),
		ConfigPath: filepath.Join(baseDir, AppSlug+".yaml"),
		LogDir:     logDir,
	}, nil
}
