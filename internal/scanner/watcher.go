package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deck/internal/library"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultRefreshDebounce = 2 * time.Second

// Watcher keeps the library in step with the enabled roots. Deleted or
// renamed files are marked removed at once; anything else schedules a
// debounced full scan.
type Watcher struct {
	service *Service
	roots   *library.WatchedRootRepository
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshDelay time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func NewWatcher(service *Service, roots *library.WatchedRootRepository, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultRefreshDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		service:      service,
		roots:        roots,
		watcher:      watcher,
		logger:       logger.Named("watcher"),
		refreshDelay: debounce,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start watches every enabled root and begins handling events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Sync(ctx); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.run()
	return nil
}

// Sync adds watches for enabled roots that are not watched yet.
func (w *Watcher) Sync(ctx context.Context) error {
	roots, err := w.roots.ListEnabled(ctx)
	if err != nil {
		return err
	}

	watched := make(map[string]struct{})
	for _, path := range w.watcher.WatchList() {
		watched[path] = struct{}{}
	}

	for _, root := range roots {
		if _, ok := watched[root.Path]; ok {
			continue
		}
		w.addWatchRecursive(root.Path)
	}
	return nil
}

func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.cancel()

		w.refreshMu.Lock()
		if w.refreshTimer != nil {
			w.refreshTimer.Stop()
			w.refreshTimer = nil
		}
		w.refreshMu.Unlock()

		w.closeErr = w.watcher.Close()
		w.wg.Wait()
	})
	return w.closeErr
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if _, err := w.service.MarkRemoved(w.ctx, event.Name); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("mark removed", zap.String("path", event.Name), zap.Error(err))
		}
		// A rename also shows up as a create under the new name.
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addWatchRecursive(event.Name)
			w.scheduleRefresh()
			return
		}
	}

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		if isSupported(event.Name) {
			w.scheduleRefresh()
		}
	}
}

func (w *Watcher) scheduleRefresh() {
	if w.ctx.Err() != nil {
		return
	}

	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	if w.refreshTimer != nil {
		w.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(w.refreshDelay, func() {
		_, err := w.service.Scan(w.ctx)
		if errors.Is(err, ErrScanRunning) {
			w.scheduleRefresh()
		} else if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("refresh scan", zap.Error(err))
		}

		w.refreshMu.Lock()
		if w.refreshTimer == timer {
			w.refreshTimer = nil
		}
		w.refreshMu.Unlock()
	})

	w.refreshTimer = timer
}

func (w *Watcher) addWatchRecursive(path string) {
	_ = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("walk error", zap.String("path", p), zap.Error(err))
			return nil
		}

		if d.IsDir() {
			if err := w.watcher.Add(p); err != nil {
				w.logger.Warn("watch directory", zap.String("path", p), zap.Error(err))
			}
		}
		return nil
	})
}
