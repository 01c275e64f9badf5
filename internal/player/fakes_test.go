package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deck/internal/equalizer"
	"deck/internal/library"
	"deck/internal/queue"
)

type fakeChain struct {
	mu    sync.Mutex
	bands map[string]float64
	freqs map[string]float64
	err   error
}

func newFakeChain() *fakeChain {
	return &fakeChain{bands: map[string]float64{}, freqs: map[string]float64{}}
}

func (c *fakeChain) AddBand(label string, frequencyHz float64, gainDB float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.bands[label] = gainDB
	c.freqs[label] = frequencyHz
	return nil
}

func (c *fakeChain) SetBandGain(label string, gainDB float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bands[label]; !ok {
		return errors.New("unknown band")
	}
	c.bands[label] = gainDB
	return nil
}

func (c *fakeChain) RemoveBand(label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bands, label)
	delete(c.freqs, label)
	return nil
}

func (c *fakeChain) gain(label string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gain, ok := c.bands[label]
	return gain, ok
}

func (c *fakeChain) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bands)
}

type fakeOutput struct {
	mu sync.Mutex

	path     string
	start    time.Duration
	opens    int
	stops    int
	playing  bool
	position time.Duration
	duration time.Duration
	volume   float64
	volumes  []float64
	device   string
	devices  []Device
	closed   bool

	openErr   error
	playErr   error
	deviceErr error
	filterErr error

	chain   *fakeChain
	onEnded func()
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{duration: 100 * time.Second, chain: newFakeChain()}
}

func (o *fakeOutput) Open(path string, start time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return o.openErr
	}
	o.path = path
	o.start = start
	o.position = start
	o.playing = false
	o.opens++
	return nil
}

func (o *fakeOutput) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.playErr != nil {
		return o.playErr
	}
	o.playing = true
	return nil
}

func (o *fakeOutput) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = false
	return nil
}

func (o *fakeOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = false
	o.path = ""
	o.position = 0
	o.stops++
	return nil
}

func (o *fakeOutput) Seek(position time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.position = position
	return nil
}

func (o *fakeOutput) SetVolume(volume float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = volume
	o.volumes = append(o.volumes, volume)
	return nil
}

func (o *fakeOutput) Position() (time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position, nil
}

func (o *fakeOutput) Duration() (time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duration, nil
}

func (o *fakeOutput) SetOnEnded(callback func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEnded = callback
}

func (o *fakeOutput) Filters() (FilterChain, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.filterErr != nil {
		return nil, o.filterErr
	}
	return o.chain, nil
}

func (o *fakeOutput) SetDevice(deviceID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deviceErr != nil {
		return o.deviceErr
	}
	o.device = deviceID
	return nil
}

func (o *fakeOutput) Devices() ([]Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Device(nil), o.devices...), nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeOutput) setPosition(position time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.position = position
}

func (o *fakeOutput) setPlayErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playErr = err
}

func (o *fakeOutput) finish() {
	o.mu.Lock()
	callback := o.onEnded
	o.playing = false
	o.mu.Unlock()
	if callback != nil {
		callback()
	}
}

func (o *fakeOutput) snapshot() (string, time.Duration, bool, float64, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.path, o.start, o.playing, o.volume, o.device
}

type fakeResource struct {
	mu       sync.Mutex
	path     string
	releases int
}

func (r *fakeResource) Path() string {
	return r.path
}

func (r *fakeResource) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases++
}

func (r *fakeResource) released() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releases
}

type fakeStorage struct {
	mu        sync.Mutex
	paths     map[int64]string
	errs      map[int64]error
	block     map[int64]chan struct{}
	lookups   []int64
	recorded  []int64
	resources []*fakeResource
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		paths: map[int64]string{},
		errs:  map[int64]error{},
		block: map[int64]chan struct{}{},
	}
}

func (s *fakeStorage) GetPlayableResource(ctx context.Context, trackID int64) (Resource, error) {
	s.mu.Lock()
	s.lookups = append(s.lookups, trackID)
	gate := s.block[trackID]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[trackID]; err != nil {
		return nil, err
	}
	path, ok := s.paths[trackID]
	if !ok {
		return nil, ErrResourceMissing
	}
	resource := &fakeResource{path: path}
	s.resources = append(s.resources, resource)
	return resource, nil
}

func (s *fakeStorage) RecordPlayEvent(_ context.Context, trackID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, trackID)
	return nil
}

func (s *fakeStorage) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lookups)
}

func (s *fakeStorage) recordedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.recorded...)
}

func (s *fakeStorage) allResources() []*fakeResource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeResource(nil), s.resources...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(step)
}

type recordedEvent struct {
	name    string
	payload any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) emit(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, payload: payload})
}

func (r *eventRecorder) notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	notices := make([]Notice, 0)
	for _, event := range r.events {
		if notice, ok := event.payload.(Notice); ok && event.name == EventNotice {
			notices = append(notices, notice)
		}
	}
	return notices
}

func testTrack(id int64, path string) library.Track {
	return library.Track{
		ID:         id,
		Title:      path,
		Path:       path,
		DurationMS: 100_000,
		Playback:   library.DefaultPlaybackParams(),
	}
}

type channelHarness struct {
	channel *Channel
	queue   *queue.Service
	output  *fakeOutput
	storage *fakeStorage
	clock   *fakeClock
	events  *eventRecorder
}

// newChannelHarness builds a main channel over a fresh queue. prepare runs
// before the channel starts, so queue contents it sets up are seen by the
// first reconcile.
func newChannelHarness(t *testing.T, prepare func(h *channelHarness), tracks ...library.Track) *channelHarness {
	t.Helper()

	h := &channelHarness{
		queue:   queue.NewService(nil, nil, nil),
		output:  newFakeOutput(),
		storage: newFakeStorage(),
		clock:   newFakeClock(),
		events:  &eventRecorder{},
	}
	for _, track := range tracks {
		h.storage.paths[track.ID] = track.Path
	}
	if prepare != nil {
		prepare(h)
	}

	h.channel = NewChannel(ChannelConfig{
		Name:                ChannelMain,
		Timeline:            QueueTimeline(h.queue),
		Output:              h.output,
		Storage:             h.storage,
		Router:              NewDeviceRouter(nil),
		Clock:               h.clock,
		Emitter:             h.events.emit,
		RecordPlays:         true,
		TickInterval:        time.Hour,
		DiagnosticsInterval: time.Hour,
		Volume:              0.8,
		GlobalEQ:            equalizer.DefaultGlobalGains(),
	})
	t.Cleanup(func() {
		_ = h.channel.Close()
	})
	return h
}

// tick runs one position tick on the channel goroutine.
func (h *channelHarness) tick(t *testing.T) State {
	t.Helper()
	state, err := h.channel.call(func() error {
		h.channel.handleTick()
		return nil
	})
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return state
}

func (h *channelHarness) waitStatus(t *testing.T, status string) State {
	t.Helper()
	return waitForState(t, h.channel, func(state State) bool {
		return state.Status == status
	})
}

func waitForState(t *testing.T, channel *Channel, match func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		// a no-op call drains pending mailbox work before reading
		state, _ := channel.call(func() error { return nil })
		if match(state) {
			return state
		}
		time.Sleep(2 * time.Millisecond)
	}
	state := channel.State()
	t.Fatalf("state never matched, last %+v", state)
	return state
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}
