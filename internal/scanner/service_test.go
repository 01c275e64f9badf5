package scanner

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"deck/internal/db"
	"deck/internal/library"

	"go.uber.org/zap"
)

type scanHarness struct {
	db      *sql.DB
	roots   *library.WatchedRootRepository
	tracks  *library.TrackRepository
	service *Service
	root    string

	mu      sync.Mutex
	removed []int64
}

func newScanHarness(t *testing.T) *scanHarness {
	t.Helper()

	database, err := db.Bootstrap(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("bootstrap db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	h := &scanHarness{
		db:     database,
		roots:  library.NewWatchedRootRepository(database),
		tracks: library.NewTrackRepository(database),
		root:   t.TempDir(),
	}
	h.service = NewService(database, h.roots, zap.NewNop())
	h.service.SetRemovedHandler(func(_ context.Context, ids []int64) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.removed = append(h.removed, ids...)
	})

	if _, err := h.roots.Add(context.Background(), h.root); err != nil {
		t.Fatalf("add root: %v", err)
	}
	return h
}

func (h *scanHarness) write(t *testing.T, relative string) string {
	t.Helper()

	path := filepath.Join(h.root, filepath.FromSlash(relative))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func (h *scanHarness) removedIDs() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.removed...)
}

func (h *scanHarness) trackFor(t *testing.T, path string) library.Track {
	t.Helper()

	ids, err := h.tracks.TrackIDsForPath(context.Background(), path)
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected one track for %s, got %v (%v)", path, ids, err)
	}
	track, err := h.tracks.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("get track: %v", err)
	}
	return track
}

func TestScanIndexesSupportedFiles(t *testing.T) {
	t.Parallel()

	h := newScanHarness(t)
	song := h.write(t, "Artist/Album/01 - First Song.flac")
	h.write(t, "Artist/Album/cover.jpg")

	var progress []Progress
	h.service.SetEmitter(func(eventName string, payload any) {
		if eventName == EventProgress {
			progress = append(progress, payload.(Progress))
		}
	})

	status, err := h.service.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if status.Running || status.LastFilesSeen != 1 || status.LastIndexed != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(progress) == 0 || progress[len(progress)-1].Status != "completed" {
		t.Fatalf("expected completed progress event, got %+v", progress)
	}

	track := h.trackFor(t, song)
	if track.Title != "First Song" || track.Artist != "Artist" || track.Album != "Album" || track.Removed {
		t.Fatalf("unexpected track %+v", track)
	}

	status, err = h.service.Scan(context.Background())
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if status.LastIndexed != 0 {
		t.Fatalf("expected unchanged file to be skipped, got %+v", status)
	}
}

func TestScanKeepsMissingTracksAsRemoved(t *testing.T) {
	t.Parallel()

	h := newScanHarness(t)
	kept := h.write(t, "Artist/Album/01 Kept.mp3")
	gone := h.write(t, "Artist/Album/02 Gone.mp3")

	if _, err := h.service.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	goneTrack := h.trackFor(t, gone)

	volume := 0.4
	if _, err := h.tracks.UpdatePlayback(context.Background(), goneTrack.ID, library.PlaybackPatch{Volume: &volume}); err != nil {
		t.Fatalf("update playback: %v", err)
	}

	if err := os.Remove(gone); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	status, err := h.service.Scan(context.Background())
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if status.LastRemoved != 1 {
		t.Fatalf("expected one removed track, got %+v", status)
	}

	removed := h.removedIDs()
	if len(removed) != 1 || removed[0] != goneTrack.ID {
		t.Fatalf("expected removal of %d reported, got %v", goneTrack.ID, removed)
	}

	track := h.trackFor(t, gone)
	if !track.Removed || track.Playback.Volume != 0.4 {
		t.Fatalf("expected removed track with its playback params, got %+v", track)
	}
	if h.trackFor(t, kept).Removed {
		t.Fatalf("expected kept track to stay playable")
	}

	if _, err := h.service.Scan(context.Background()); err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if got := len(h.removedIDs()); got != 1 {
		t.Fatalf("expected an already removed track not to be reported again, got %d", got)
	}
}

func TestMarkRemovedCoversDirectories(t *testing.T) {
	t.Parallel()

	h := newScanHarness(t)
	first := h.write(t, "Artist/Album/01 One.ogg")
	second := h.write(t, "Artist/Album/02 Two.ogg")
	other := h.write(t, "Artist/Album Deluxe/01 One.ogg")

	if _, err := h.service.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	ids, err := h.service.MarkRemoved(context.Background(), filepath.Join(h.root, "Artist", "Album"))
	if err != nil {
		t.Fatalf("mark removed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected two tracks removed, got %v", ids)
	}
	if !h.trackFor(t, first).Removed || !h.trackFor(t, second).Removed {
		t.Fatalf("expected both album tracks removed")
	}
	if h.trackFor(t, other).Removed {
		t.Fatalf("expected sibling directory with shared prefix to be untouched")
	}

	ids, err = h.service.MarkRemoved(context.Background(), first)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no ids for an already removed file, got %v (%v)", ids, err)
	}
}

func TestScanRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	h := newScanHarness(t)
	if err := h.service.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := h.service.Scan(context.Background()); !errors.Is(err, ErrScanRunning) {
		t.Fatalf("expected ErrScanRunning, got %v", err)
	}
	if err := h.service.TriggerFullScan(); !errors.Is(err, ErrScanRunning) {
		t.Fatalf("expected ErrScanRunning, got %v", err)
	}
}

func TestWatcherMarksDeletedFilesRemoved(t *testing.T) {
	t.Parallel()

	h := newScanHarness(t)
	path := h.write(t, "Artist/Album/01 Song.wav")
	if _, err := h.service.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	trackID := h.trackFor(t, path).ID

	watcher, err := NewWatcher(h.service, h.roots, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { watcher.Close() })
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if removed := h.removedIDs(); len(removed) == 1 && removed[0] == trackID {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected watcher to report track %d removed, got %v", trackID, h.removedIDs())
}
