package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"deck/internal/audio"
	"deck/internal/config"
	"deck/internal/events"
	"deck/internal/library"
	"deck/internal/player"
	"deck/internal/queue"
	"deck/internal/scanner"
	"deck/internal/settings"
	"deck/internal/stats"
	"deck/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 20 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the player and its local control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, rt)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, rt *runtime) error {
	cfg := rt.cfg
	logger := rt.logger

	tracks := library.NewTrackRepository(rt.db)
	roots := library.NewWatchedRootRepository(rt.db)
	if err := addConfiguredRoots(ctx, roots, cfg.Library.Roots, logger); err != nil {
		return err
	}

	queueDomain := queue.NewService(rt.db, tracks, logger)
	statsDomain := stats.NewService(rt.db, logger)
	prefs, err := settings.NewService(ctx, rt.db, logger)
	if err != nil {
		return err
	}

	// stats writes happen on their own goroutine, never on the channel loop
	statsCtx, stopStats := context.WithCancel(ctx)
	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		statsDomain.Run(statsCtx)
	}()
	defer func() {
		stopStats()
		<-statsDone
	}()

	engine, err := newEngine(cfg.Audio, queueDomain, storage.NewLocal(tracks, statsDomain, logger), prefs.Get(), rt)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("close player engine", zap.Error(err))
		}
	}()
	engine.Main().AddListener(statsDomain.Observe)

	hub := events.NewHub(logger)
	go hub.Run(ctx)

	scanDomain := scanner.NewService(rt.db, roots, logger)
	scanDomain.SetRemovedHandler(func(ctx context.Context, ids []int64) {
		for _, id := range ids {
			track, err := tracks.Get(ctx, id)
			if err != nil {
				logger.Warn("reload removed track", zap.Int64("trackId", id), zap.Error(err))
				continue
			}
			engine.UpdateTrack(track)
		}
	})

	engine.SetEmitter(hub.Emit)
	queueDomain.SetEmitter(hub.Emit)
	scanDomain.SetEmitter(hub.Emit)

	settingsService := NewSettingsService(roots, prefs, engine, logger)
	settingsService.SetRootsChanged(func(context.Context) {
		if err := scanDomain.TriggerFullScan(); err != nil && !errors.Is(err, scanner.ErrScanRunning) {
			logger.Warn("rescan after root change", zap.Error(err))
		}
	})

	if cfg.Library.Watch {
		watcher, err := scanner.NewWatcher(scanDomain, roots, cfg.Library.RefreshDebounce, logger)
		if err != nil {
			logger.Warn("library watcher disabled", zap.Error(err))
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("library watcher disabled", zap.Error(err))
			_ = watcher.Close()
		} else {
			defer watcher.Close()
			settingsService.SetRootsChanged(func(ctx context.Context) {
				if err := watcher.Sync(ctx); err != nil {
					logger.Warn("sync library watcher", zap.Error(err))
				}
				if err := scanDomain.TriggerFullScan(); err != nil && !errors.Is(err, scanner.ErrScanRunning) {
					logger.Warn("rescan after root change", zap.Error(err))
				}
			})
		}
	}

	if cfg.Library.ScanOnStart {
		if err := scanDomain.TriggerFullScan(); err != nil {
			logger.Warn("initial scan", zap.Error(err))
		}
	}

	go pollDevices(ctx, engine, cfg.Playback.DevicePollInterval, logger)

	router := newRouter(services{
		player:    NewPlayerService(engine, tracks),
		queue:     NewQueueService(queueDomain, tracks),
		library:   NewLibraryService(tracks, engine),
		settings:  settingsService,
		stats:     NewStatsService(statsDomain),
		scanner:   NewScannerService(scanDomain),
		bootstrap: NewBootstrapService(queueDomain, engine, scanDomain, prefs, logger),
		hub:       hub,
		logger:    logger.Named("http"),
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("deck listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func newEngine(audioCfg config.AudioConfig, queueDomain *queue.Service, store player.Storage, prefs settings.Settings, rt *runtime) (*player.Engine, error) {
	outputCfg := audio.Config{SampleRate: audioCfg.SampleRate, Buffer: audioCfg.Buffer}

	mainOutput, err := audio.New(outputCfg, rt.logger.Named("main"))
	if err != nil {
		return nil, fmt.Errorf("open main output: %w", err)
	}
	previewOutput, err := audio.New(outputCfg, rt.logger.Named("preview"))
	if err != nil {
		_ = mainOutput.Close()
		return nil, fmt.Errorf("open preview output: %w", err)
	}

	engine, err := player.NewEngine(player.EngineConfig{
		Queue:               queueDomain,
		Storage:             store,
		MainOutput:          mainOutput,
		PreviewOutput:       previewOutput,
		Logger:              rt.logger,
		TickInterval:        rt.cfg.Playback.FadeTick,
		PublishInterval:     rt.cfg.Playback.PublishInterval,
		DiagnosticsInterval: rt.cfg.Playback.DiagnosticsInterval,
		Volume:              prefs.Volume,
		GlobalEQ:            prefs.GlobalEQ,
		Devices:             prefs.Devices,
	})
	if err != nil {
		_ = mainOutput.Close()
		_ = previewOutput.Close()
		return nil, err
	}
	return engine, nil
}

// addConfiguredRoots registers library roots named in the config file so a
// fresh install can scan without going through the API first.
func addConfiguredRoots(ctx context.Context, roots *library.WatchedRootRepository, paths []string, logger *zap.Logger) error {
	for _, path := range paths {
		root, err := roots.Add(ctx, path)
		if errors.Is(err, library.ErrWatchedRootExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("add library root %q: %w", path, err)
		}
		logger.Info("added library root", zap.String("path", root.Path))
	}
	return nil
}

func pollDevices(ctx context.Context, engine *player.Engine, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.ReconcileDevices(); err != nil {
				logger.Debug("reconcile output devices", zap.Error(err))
			}
		}
	}
}
