package main

import (
	"database/sql"
	"fmt"
	"os"

	"deck/internal/config"
	"deck/internal/db"
	"deck/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFlag  string
	dataDirFlag string
)

var rootCmd = &cobra.Command{
	Use:           "deck",
	Short:         "deck is a personal music player with a local control API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to deck.yaml (default: <data dir>/deck.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "directory holding the library database and logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime is what every command needs: resolved paths, configuration, a
// logger and the migrated library database.
type runtime struct {
	paths  config.Paths
	cfg    config.Config
	logger *zap.Logger
	db     *sql.DB
}

func openRuntime() (*runtime, error) {
	paths, err := config.ResolvePaths(config.AppSlug, dataDirFlag)
	if err != nil {
		return nil, err
	}

	configPath := configFlag
	if configPath == "" {
		configPath = paths.ConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if dataDirFlag == "" && cfg.DataDir != "" && cfg.DataDir != paths.BaseDir {
		paths, err = config.ResolvePaths(config.AppSlug, cfg.DataDir)
		if err != nil {
			return nil, err
		}
	}

	logger, err := logging.New(cfg.Log, paths.LogDir, os.Stdout)
	if err != nil {
		return nil, err
	}

	database, err := db.Bootstrap(paths.DBPath)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open library database: %w", err)
	}

	logger.Debug("runtime ready", zap.String("db", paths.DBPath), zap.String("config", configPath))
	return &runtime{paths: paths, cfg: cfg, logger: logger, db: database}, nil
}

func (r *runtime) Close() {
	if err := r.db.Close(); err != nil {
		r.logger.Warn("close library database", zap.Error(err))
	}
	_ = r.logger.Sync()
}
