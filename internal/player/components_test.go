package player

import (
	"context"
	"errors"
	"testing"
	"time"

	"deck/internal/equalizer"
	"deck/internal/library"
	"deck/internal/queue"
)

func TestPositionMonitorTrimReachedFiresOnce(t *testing.T) {
	t.Parallel()

	var monitor PositionMonitor
	monitor.Reset(10 * time.Second)

	if sample := monitor.Sample(80*time.Second, 100*time.Second); sample.TrimReached || sample.Remaining != 20*time.Second {
		t.Fatalf("unexpected sample before trim: %+v", sample)
	}
	if sample := monitor.Sample(90*time.Second, 100*time.Second); !sample.TrimReached {
		t.Fatalf("expected trim at 90/100 with 10s offset")
	}
	if sample := monitor.Sample(95*time.Second, 100*time.Second); sample.TrimReached {
		t.Fatalf("expected trim signal to latch until reset")
	}

	monitor.Reset(10 * time.Second)
	if sample := monitor.Sample(91*time.Second, 100*time.Second); !sample.TrimReached {
		t.Fatalf("expected reset to re-arm the trim signal")
	}
}

func TestPositionMonitorWithoutOffsetNeverTrims(t *testing.T) {
	t.Parallel()

	var monitor PositionMonitor
	monitor.Reset(0)
	if sample := monitor.Sample(100*time.Second, 100*time.Second); sample.TrimReached || sample.Remaining != 0 {
		t.Fatalf("unexpected sample at end: %+v", sample)
	}
	if sample := monitor.Sample(-time.Second, 0); sample.Current != 0 {
		t.Fatalf("expected negative positions clamped, got %v", sample.Current)
	}
}

func completeLoad(t *testing.T, loader *Loader, results chan LoadResult) (bool, error) {
	t.Helper()
	select {
	case result := <-results:
		return loader.Complete(result)
	case <-time.After(2 * time.Second):
		t.Fatalf("load result never delivered")
		return false, nil
	}
}

func TestLoaderOpensAtTrimIn(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	storage.paths[1] = "/music/one.flac"
	output := newFakeOutput()
	loader := NewLoader(storage, output, nil)

	track := testTrack(1, "/music/one.flac")
	track.Playback.StartTimeMS = 2500

	results := make(chan LoadResult, 1)
	loader.Load(track, func(result LoadResult) { results <- result })
	if loader.State() != LoadOpening {
		t.Fatalf("expected opening, got %s", loader.State())
	}

	fresh, err := completeLoad(t, loader, results)
	if !fresh || err != nil {
		t.Fatalf("expected fresh successful load, got fresh=%v err=%v", fresh, err)
	}

	path, start, playing, _, _ := output.snapshot()
	if path != "/music/one.flac" || start != 2500*time.Millisecond || playing {
		t.Fatalf("expected paused open at trim-in, got %q %v playing=%v", path, start, playing)
	}

	loader.Release()
	loader.Release()
	resources := storage.allResources()
	if len(resources) != 1 || resources[0].released() != 1 {
		t.Fatalf("expected one idempotent release")
	}
	if loader.State() != LoadIdle {
		t.Fatalf("expected idle after release, got %s", loader.State())
	}
}

func TestLoaderRemovedTrackSkipsStorage(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	loader := NewLoader(storage, newFakeOutput(), nil)

	track := testTrack(4, "/music/gone.mp3")
	track.Removed = true

	results := make(chan LoadResult, 1)
	loader.Load(track, func(result LoadResult) { results <- result })
	_, err := completeLoad(t, loader, results)
	if !errors.Is(err, ErrResourceMissing) {
		t.Fatalf("expected ErrResourceMissing, got %v", err)
	}
	if storage.lookupCount() != 0 {
		t.Fatalf("expected no storage lookup for removed track")
	}
	if loader.State() != LoadFailed {
		t.Fatalf("expected failed state, got %s", loader.State())
	}
}

func TestLoaderWrapsStorageErrors(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	storage.errs[2] = errors.New("disk on fire")
	loader := NewLoader(storage, newFakeOutput(), nil)

	results := make(chan LoadResult, 1)
	loader.Load(testTrack(2, "/music/two.mp3"), func(result LoadResult) { results <- result })
	_, err := completeLoad(t, loader, results)
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("expected ErrLoadFailed, got %v", err)
	}
}

func TestLoaderDiscardsStaleResults(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	storage.paths[1] = "/music/one.flac"
	storage.paths[2] = "/music/two.flac"
	output := newFakeOutput()
	loader := NewLoader(storage, output, nil)

	results := make(chan LoadResult, 2)
	deliver := func(result LoadResult) { results <- result }

	first := loader.Load(testTrack(1, "/music/one.flac"), deliver)
	stale := <-results
	second := loader.Load(testTrack(2, "/music/two.flac"), deliver)
	if first == second {
		t.Fatalf("expected a new token per load")
	}

	if fresh, err := loader.Complete(stale); fresh || err != nil {
		t.Fatalf("expected stale result to be ignored, got fresh=%v err=%v", fresh, err)
	}
	if stale.Resource == nil || stale.Resource.(*fakeResource).released() != 1 {
		t.Fatalf("expected stale resource to be released")
	}

	if fresh, err := completeLoad(t, loader, results); !fresh || err != nil {
		t.Fatalf("expected second load to complete, got fresh=%v err=%v", fresh, err)
	}
	if path, _, _, _, _ := output.snapshot(); path != "/music/two.flac" {
		t.Fatalf("expected second track opened, got %q", path)
	}
}

func TestEQProcessorAttachAndUpdate(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	eq := NewEQProcessor(nil)

	if err := eq.SetBandGain(2, 6); err != nil {
		t.Fatalf("set gain while detached: %v", err)
	}
	if err := eq.Attach(output); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := eq.Attach(output); err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if output.chain.size() != equalizer.BandCount {
		t.Fatalf("expected %d bands, got %d", equalizer.BandCount, output.chain.size())
	}
	if gain, _ := output.chain.gain(bandLabel(2)); gain != 6 {
		t.Fatalf("expected pending gain applied on attach, got %v", gain)
	}
	if output.chain.freqs[bandLabel(4)] != 12000 {
		t.Fatalf("expected band E at 12kHz")
	}

	if err := eq.Apply(equalizer.Effective(equalizer.DefaultTrackGains(), equalizer.DefaultGlobalGains())); err != nil {
		t.Fatalf("apply: %v", err)
	}
	gain, _ := output.chain.gain(bandLabel(0))
	if !almostEqual(gain, -0.24) {
		t.Fatalf("expected default path to map to -0.24dB, got %v", gain)
	}

	if err := eq.SetBandGain(5, 0); !errors.Is(err, equalizer.ErrInvalidBand) {
		t.Fatalf("expected ErrInvalidBand, got %v", err)
	}

	eq.Detach()
	eq.Detach()
	if output.chain.size() != 0 || eq.Attached() {
		t.Fatalf("expected detach to remove every band")
	}
}

func TestEQProcessorUnavailable(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	output.filterErr = errors.New("no filters")
	eq := NewEQProcessor(nil)

	if err := eq.Attach(output); !errors.Is(err, ErrEqUnavailable) {
		t.Fatalf("expected ErrEqUnavailable, got %v", err)
	}

	output.filterErr = nil
	output.chain.err = errors.New("filter rejected")
	if err := eq.Attach(output); !errors.Is(err, ErrEqUnavailable) {
		t.Fatalf("expected ErrEqUnavailable for rejected band, got %v", err)
	}
	if output.chain.size() != 0 {
		t.Fatalf("expected partial chain rolled back")
	}
}

func TestDeviceRouterKeepsPreviousSinkOnFailure(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	router := NewDeviceRouter(nil)
	router.Bind(ChannelMain, output)

	if err := router.SetSink(context.Background(), ChannelMain, "usb"); err != nil {
		t.Fatalf("set sink: %v", err)
	}

	output.deviceErr = ErrSinkNotFound
	if err := router.SetSink(context.Background(), ChannelMain, "hdmi"); !errors.Is(err, ErrSinkNotFound) {
		t.Fatalf("expected ErrSinkNotFound, got %v", err)
	}
	if router.Applied(ChannelMain) != "usb" || router.Preferred(ChannelMain) != "usb" {
		t.Fatalf("expected previous sink kept, got applied=%q preferred=%q", router.Applied(ChannelMain), router.Preferred(ChannelMain))
	}

	if err := router.SetSink(context.Background(), "karaoke", "usb"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestDeviceRouterReconcileFallsBackAndRestores(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	router := NewDeviceRouter(nil)
	router.Bind(ChannelPreview, output)
	if err := router.SetSink(context.Background(), ChannelPreview, "headphones"); err != nil {
		t.Fatalf("set sink: %v", err)
	}

	router.Reconcile([]Device{{ID: "speakers"}})
	if _, _, _, _, device := output.snapshot(); device != "" {
		t.Fatalf("expected fallback to default device, got %q", device)
	}
	if router.Applied(ChannelPreview) != "" || router.Preferred(ChannelPreview) != "headphones" {
		t.Fatalf("expected preference to survive unplug")
	}

	router.Reconcile([]Device{{ID: "speakers"}, {ID: "headphones"}})
	if _, _, _, _, device := output.snapshot(); device != "headphones" {
		t.Fatalf("expected preferred device restored, got %q", device)
	}
}

func TestDeviceRouterApplyUsesPreference(t *testing.T) {
	t.Parallel()

	output := newFakeOutput()
	router := NewDeviceRouter(nil)
	router.Bind(ChannelMain, output)
	router.SetPreferred(ChannelMain, "dac")

	router.Apply(ChannelMain)
	if router.Applied(ChannelMain) != "dac" {
		t.Fatalf("expected preferred device applied, got %q", router.Applied(ChannelMain))
	}
}

func TestPreviewTimelineIsSingleSlot(t *testing.T) {
	t.Parallel()

	timeline := NewPreviewTimeline()
	notified := 0
	timeline.Subscribe(func() { notified++ })

	if err := timeline.SetPlaying(true); !errors.Is(err, queue.ErrNoCurrentTrack) {
		t.Fatalf("expected ErrNoCurrentTrack, got %v", err)
	}

	first := timeline.Start(testTrack(1, "/a.mp3"))
	second := timeline.Start(testTrack(2, "/b.mp3"))
	if first.QueueID == second.QueueID {
		t.Fatalf("expected fresh instance ids")
	}

	current, ok := timeline.Current()
	if !ok || current.Track.ID != 2 || !timeline.IsPlaying() {
		t.Fatalf("expected second track previewing, got %+v", current)
	}
	if timeline.PlayPrevious() || timeline.QueueLength() != 0 {
		t.Fatalf("expected no history or queue in preview")
	}

	timeline.Drop(first.QueueID)
	if _, ok := timeline.Current(); !ok {
		t.Fatalf("expected stale drop to be ignored")
	}

	updated := testTrack(2, "/b.mp3")
	updated.Playback.Volume = 0.2
	timeline.RefreshTrack(updated)
	if current, _ := timeline.Current(); current.Track.Playback.Volume != 0.2 {
		t.Fatalf("expected refreshed track in slot")
	}

	timeline.PlayNext()
	if _, ok := timeline.Current(); ok || timeline.IsPlaying() {
		t.Fatalf("expected preview cleared after it ends")
	}
	if notified != 4 {
		t.Fatalf("expected 4 notifications, got %d", notified)
	}
}

func TestQueueTimelineDropSkipsHistory(t *testing.T) {
	t.Parallel()

	service := queue.NewService(nil, nil, nil)
	service.AddToQueue(library.Track{ID: 1})
	service.AddToQueue(library.Track{ID: 2})

	timeline := QueueTimeline(service)
	current, _ := timeline.Current()
	timeline.Drop(current.QueueID)

	state := service.GetState()
	if state.Current == nil || state.Current.Track.ID != 2 {
		t.Fatalf("expected next track current after drop, got %+v", state.Current)
	}
	if len(state.History) != 0 {
		t.Fatalf("expected dropped entry to stay out of history")
	}
}
