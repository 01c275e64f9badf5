package player

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"deck/internal/equalizer"
	"deck/internal/fade"
	"deck/internal/library"
	"deck/internal/queue"

	"go.uber.org/zap"
)

const (
	defaultTickInterval        = 20 * time.Millisecond
	defaultPublishInterval     = 250 * time.Millisecond
	defaultDiagnosticsInterval = 10 * time.Second
	restartThreshold           = 3 * time.Second
	recordTimeout              = 5 * time.Second
	mailboxSize                = 64
)

type ChannelConfig struct {
	Name       string
	StateEvent string
	Timeline   Timeline
	Output     Output
	Storage    Storage
	Router     *DeviceRouter
	Clock      Clock
	Logger     *zap.Logger
	Emitter    Emitter
	// RecordPlays sends a play event to storage on the first start of each
	// loaded instance.
	RecordPlays bool

	TickInterval        time.Duration
	PublishInterval     time.Duration
	DiagnosticsInterval time.Duration

	Volume   float64
	GlobalEQ equalizer.Gains
}

// Channel is one playback lane. A single goroutine owns all of its state;
// public methods hand closures to that goroutine and wait for them.
type Channel struct {
	name        string
	stateEvent  string
	timeline    Timeline
	output      Output
	storage     Storage
	router      *DeviceRouter
	clock       Clock
	logger      *zap.Logger
	recordPlays bool

	tickInterval        time.Duration
	publishInterval     time.Duration
	diagnosticsInterval time.Duration

	loader  *Loader
	eq      *EQProcessor
	fades   FadeController
	monitor PositionMonitor

	mailbox     chan func()
	reconcileCh chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	readyToken  atomic.Uint64

	// loop-owned
	status        string
	loaded        *queue.Entry
	globalVolume  float64
	globalEQ      equalizer.Gains
	outputVolume  float64
	eqAvailable   bool
	eqWarned      bool
	ticker        *time.Ticker
	tickC         <-chan time.Time
	failures      int
	failureBound  int
	skipping      bool
	startRecorded bool
	lastPublish   time.Time
	position      time.Duration
	duration      time.Duration

	mu        sync.Mutex
	snapshot  State
	emit      Emitter
	listeners []func(State)
}

func NewChannel(cfg ChannelConfig) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("channel", cfg.Name))

	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}

	c := &Channel{
		name:                cfg.Name,
		stateEvent:          cfg.StateEvent,
		timeline:            cfg.Timeline,
		output:              cfg.Output,
		storage:             cfg.Storage,
		router:              cfg.Router,
		clock:               clock,
		logger:              logger,
		recordPlays:         cfg.RecordPlays,
		tickInterval:        orDefault(cfg.TickInterval, defaultTickInterval),
		publishInterval:     orDefault(cfg.PublishInterval, defaultPublishInterval),
		diagnosticsInterval: orDefault(cfg.DiagnosticsInterval, defaultDiagnosticsInterval),
		loader:              NewLoader(cfg.Storage, cfg.Output, logger),
		eq:                  NewEQProcessor(logger),
		mailbox:             make(chan func(), mailboxSize),
		reconcileCh:         make(chan struct{}, 1),
		done:                make(chan struct{}),
		status:              StatusIdle,
		globalVolume:        fade.Clamp(cfg.Volume),
		globalEQ:            cfg.GlobalEQ,
		emit:                cfg.Emitter,
	}
	if c.stateEvent == "" {
		c.stateEvent = EventStateChanged
	}
	if c.router != nil {
		c.router.Bind(c.name, c.output)
	}

	c.output.SetOnEnded(c.onOutputEnded)
	c.timeline.Subscribe(c.requestReconcile)
	c.snapshot = c.buildState()

	c.wg.Add(1)
	go c.run()
	c.requestReconcile()

	return c
}

func orDefault(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) SetEmitter(emitter Emitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit = emitter
}

// AddListener registers a callback for every published state. Listeners run
// on the channel goroutine and must not call back into the channel.
func (c *Channel) AddListener(listener func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// State returns the last published state without waiting on the channel.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *Channel) Play() (State, error) {
	return c.call(func() error {
		entry, ok := c.timeline.Current()
		if !ok || c.loader.State() == LoadOpening {
			return nil
		}
		if err := c.timeline.SetPlaying(true); err != nil {
			return err
		}
		if c.loader.State() == LoadFailed {
			// a failed load is never left idle under an explicit play
			c.beginLoad(entry)
		}
		return nil
	})
}

func (c *Channel) Pause() (State, error) {
	return c.call(func() error {
		if _, ok := c.timeline.Current(); !ok || c.loader.State() == LoadOpening {
			return nil
		}
		return c.timeline.SetPlaying(false)
	})
}

func (c *Channel) TogglePlayback() (State, error) {
	if c.timeline.IsPlaying() {
		return c.Pause()
	}
	return c.Play()
}

func (c *Channel) Next() (State, error) {
	return c.call(func() error {
		c.timeline.PlayNext()
		return nil
	})
}

// Previous restarts the loaded track when it has played past a few seconds,
// otherwise steps back in the timeline.
func (c *Channel) Previous() (State, error) {
	return c.call(func() error {
		if c.loader.State() == LoadReady && c.position-c.trackStart() > restartThreshold {
			return c.seekLocked(c.trackStart())
		}
		if c.timeline.PlayPrevious() {
			return nil
		}
		if c.loader.State() == LoadReady {
			return c.seekLocked(c.trackStart())
		}
		return nil
	})
}

func (c *Channel) Seek(position time.Duration) (State, error) {
	return c.call(func() error {
		return c.seekLocked(position)
	})
}

// SetVolume changes the global volume; the output follows immediately unless
// a fade envelope owns it, in which case the envelope rescales.
func (c *Channel) SetVolume(volume float64) (State, error) {
	return c.call(func() error {
		c.globalVolume = fade.Clamp(volume)
		c.refreshBaseVolume()
		return nil
	})
}

func (c *Channel) SetGlobalEQ(gains equalizer.Gains) (State, error) {
	return c.call(func() error {
		c.globalEQ = gains.Clamped()
		c.applyEQ()
		return nil
	})
}

// SetDevice routes this channel's output through the device router.
func (c *Channel) SetDevice(ctx context.Context, deviceID string) (State, error) {
	if c.router == nil {
		return c.State(), ErrSinkNotSupported
	}
	if err := c.router.SetSink(ctx, c.name, deviceID); err != nil {
		return c.State(), err
	}
	return c.call(func() error { return nil })
}

// UpdateTrack applies new playback params to the loaded instance when it
// plays that track.
func (c *Channel) UpdateTrack(track library.Track) (State, error) {
	return c.call(func() error {
		if c.loaded == nil || c.loaded.Track.ID != track.ID {
			return nil
		}

		c.loaded.Track = track
		c.fades.Update(fadeParams(c.loaded))
		c.monitor.SetEndOffset(c.loaded.Track.Playback.EndTimeOffset())
		c.refreshBaseVolume()
		c.applyEQ()
		return nil
	})
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	return nil
}

func (c *Channel) call(fn func() error) (State, error) {
	result := make(chan error, 1)
	posted := c.post(func() {
		err := fn()
		c.publish()
		result <- err
	})
	if !posted {
		return c.State(), ErrChannelClosed
	}

	select {
	case err := <-result:
		return c.State(), err
	case <-c.done:
		return c.State(), ErrChannelClosed
	}
}

func (c *Channel) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.mailbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Channel) requestReconcile() {
	select {
	case c.reconcileCh <- struct{}{}:
	default:
	}
}

func (c *Channel) onOutputEnded() {
	token := c.readyToken.Load()
	// the output may call back while holding its own locks
	go c.post(func() {
		c.handleEnded(token)
	})
}

func (c *Channel) run() {
	defer c.wg.Done()

	diagnostics := time.NewTicker(c.diagnosticsInterval)
	defer diagnostics.Stop()

	for {
		select {
		case <-c.done:
			c.shutdown()
			return
		case fn := <-c.mailbox:
			fn()
		case <-c.reconcileCh:
			c.reconcile()
		case <-c.tickC:
			c.handleTick()
		case <-diagnostics.C:
			c.logDiagnostics()
		}
	}
}

func (c *Channel) shutdown() {
	c.stopTicker()
	c.loader.Release()
	c.eq.Detach()
}

// reconcile brings the channel in line with its timeline.
func (c *Channel) reconcile() {
	entry, ok := c.timeline.Current()
	if !ok {
		if c.loaded != nil || c.status != StatusIdle {
			c.unload()
		}
		c.publish()
		return
	}

	if c.loaded == nil || c.loaded.QueueID != entry.QueueID {
		c.beginLoad(entry)
		return
	}

	if c.loader.State() == LoadReady {
		playing := c.timeline.IsPlaying()
		switch {
		case playing && c.status != StatusPlaying:
			c.startPlayback()
		case !playing && c.status == StatusPlaying:
			c.pausePlayback()
		}
	}

	c.publish()
}

func (c *Channel) beginLoad(entry queue.Entry) {
	// a load that is not the follow-up of a dropped failure starts a new run
	if !c.skipping {
		c.resetFailures()
	}
	c.skipping = false

	c.stopTicker()
	loaded := entry
	c.loaded = &loaded
	c.status = StatusLoading
	c.startRecorded = false
	c.position = entry.Track.Playback.StartTime()
	c.duration = entry.Track.Duration()
	c.monitor.Reset(entry.Track.Playback.EndTimeOffset())
	c.readyToken.Store(0)

	c.loader.Load(entry.Track, c.deliverLoad)
	c.publish()
}

func (c *Channel) deliverLoad(result LoadResult) {
	if !c.post(func() { c.onLoaded(result) }) && result.Resource != nil {
		result.Resource.Release()
	}
}

func (c *Channel) onLoaded(result LoadResult) {
	fresh, err := c.loader.Complete(result)
	if !fresh {
		return
	}

	if err != nil {
		c.onLoadFailed(err)
		c.publish()
		return
	}

	c.resetFailures()
	c.onReady()
	c.publish()
}

func (c *Channel) onReady() {
	c.readyToken.Store(c.loader.Token())

	if err := c.eq.Attach(c.output); err != nil {
		c.eqAvailable = false
		if !c.eqWarned {
			c.eqWarned = true
			c.logger.Warn("equalizer disabled for channel", zap.Error(err))
		}
	} else {
		c.eqAvailable = true
	}
	c.applyEQ()

	if c.router != nil {
		c.router.Apply(c.name)
	}

	c.writeVolume(c.fades.Prime(fadeParams(c.loaded), c.baseVolume()))

	if duration, err := c.output.Duration(); err == nil && duration > 0 {
		c.duration = duration
	}

	c.status = StatusPaused
	if c.timeline.IsPlaying() {
		c.startPlayback()
	}
}

// onLoadFailed drops an unplayable instance and lets the timeline advance.
// The bound of a run is the queue length at its first failure, so a run that
// outlasts it has consumed the whole queue: playback stops with one notice.
// A lone failure is always skipped silently.
func (c *Channel) onLoadFailed(err error) {
	entry := *c.loaded
	c.status = StatusIdle
	c.position = 0

	if c.failures == 0 {
		c.failureBound = c.timeline.QueueLength()
	}
	c.failures++

	if c.failures > 1 && c.failures > c.failureBound {
		skipped := c.failures
		c.resetFailures()
		_ = c.timeline.SetPlaying(false)
		c.logger.Warn("giving up after repeated load failures", zap.Int("skipped", skipped), zap.Error(err))
		c.notice(NoticeLoadGuard, fmt.Sprintf("Playback stopped: %d tracks in a row could not be loaded.", skipped))
		c.timeline.Drop(entry.QueueID)
		return
	}

	c.skipping = true
	c.timeline.Drop(entry.QueueID)
}

func (c *Channel) resetFailures() {
	c.failures = 0
	c.failureBound = 0
	c.skipping = false
}

func (c *Channel) startPlayback() {
	if err := c.output.Play(); err != nil {
		err = fmt.Errorf("%w: %v", ErrPlaybackStartFailed, err)
		c.logger.Warn("playback start failed", zap.Error(err))
		c.status = StatusPaused
		_ = c.timeline.SetPlaying(false)
		c.notice(NoticeStartFailed, "Playback could not start. Press play to try again.")
		return
	}

	c.fades.Resume(c.clock.Now())
	c.status = StatusPlaying
	c.startTicker()

	if c.recordPlays && !c.startRecorded && c.storage != nil {
		c.startRecorded = true
		trackID := c.loaded.Track.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
			defer cancel()
			if err := c.storage.RecordPlayEvent(ctx, trackID); err != nil {
				c.logger.Warn("record play event", zap.Int64("trackId", trackID), zap.Error(err))
			}
		}()
	}
}

func (c *Channel) pausePlayback() {
	if err := c.output.Pause(); err != nil {
		c.logger.Warn("pause output", zap.Error(err))
	}
	c.fades.Pause(c.clock.Now())
	c.stopTicker()
	c.readPosition()
	c.status = StatusPaused
}

func (c *Channel) unload() {
	c.stopTicker()
	c.loader.Release()
	c.loaded = nil
	c.status = StatusIdle
	c.position = 0
	c.duration = 0
	c.fades = FadeController{}
	c.monitor.Reset(0)
	c.readyToken.Store(0)
	c.resetFailures()
}

func (c *Channel) handleTick() {
	if c.status != StatusPlaying || c.loaded == nil {
		return
	}

	now := c.clock.Now()
	c.readPosition()
	sample := c.monitor.Sample(c.position, c.duration)

	if volume, changed := c.fades.Tick(now, sample.Current, sample.Duration); changed {
		c.writeVolume(volume)
	}

	if sample.TrimReached {
		c.logger.Debug("trim-out reached", zap.Int64("trackId", c.loaded.Track.ID))
		c.finishTrack()
		return
	}

	if now.Sub(c.lastPublish) >= c.publishInterval {
		c.publish()
	}
}

func (c *Channel) handleEnded(token uint64) {
	if token == 0 || token != c.loader.Token() || c.status != StatusPlaying {
		return
	}
	c.finishTrack()
}

func (c *Channel) finishTrack() {
	c.stopTicker()
	c.status = StatusEnded
	c.publish()
	c.timeline.PlayNext()
}

func (c *Channel) seekLocked(position time.Duration) error {
	if c.loaded == nil || c.loader.State() != LoadReady {
		return ErrNothingLoaded
	}

	if position < 0 {
		position = 0
	}
	if c.duration > 0 && position > c.duration {
		position = c.duration
	}

	if err := c.output.Seek(position); err != nil {
		return fmt.Errorf("seek to %s: %w", position, err)
	}

	c.position = position
	if volume, changed := c.fades.Seeked(position, c.duration); changed {
		c.writeVolume(volume)
	}
	return nil
}

func (c *Channel) readPosition() {
	if position, err := c.output.Position(); err == nil {
		c.position = position
	} else {
		c.logger.Debug("read position", zap.Error(err))
	}
	if duration, err := c.output.Duration(); err == nil && duration > 0 {
		c.duration = duration
	}
}

func (c *Channel) trackStart() time.Duration {
	if c.loaded == nil {
		return 0
	}
	return c.loaded.Track.Playback.StartTime()
}

func (c *Channel) baseVolume() float64 {
	if c.loaded == nil {
		return c.globalVolume
	}
	return fade.NormalizedVolume(c.globalVolume, c.loaded.Track.Playback.Volume)
}

func (c *Channel) refreshBaseVolume() {
	if c.loaded == nil || c.loader.State() != LoadReady {
		return
	}
	if volume, write := c.fades.SetBase(c.baseVolume()); write {
		c.writeVolume(volume)
	}
}

func (c *Channel) writeVolume(volume float64) {
	if err := c.output.SetVolume(volume); err != nil {
		c.logger.Debug("set output volume", zap.Float64("volume", volume), zap.Error(err))
		return
	}
	c.outputVolume = volume
}

func (c *Channel) applyEQ() {
	trackGains := equalizer.DefaultTrackGains()
	if c.loaded != nil {
		trackGains = c.loaded.Track.Playback.EQ
	}

	if err := c.eq.Apply(equalizer.Effective(trackGains, c.globalEQ)); err != nil {
		c.logger.Debug("apply eq gains", zap.Error(err))
	}
}

func (c *Channel) startTicker() {
	if c.ticker != nil {
		return
	}
	c.ticker = time.NewTicker(c.tickInterval)
	c.tickC = c.ticker.C
}

func (c *Channel) stopTicker() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.ticker = nil
	c.tickC = nil
}

func (c *Channel) logDiagnostics() {
	if c.status != StatusPlaying || c.loaded == nil {
		return
	}

	c.logger.Debug("playback position",
		zap.Int64("trackId", c.loaded.Track.ID),
		zap.Duration("position", c.position),
		zap.Duration("duration", c.duration),
		zap.Float64("volume", c.outputVolume),
	)
}

func (c *Channel) buildState() State {
	state := State{
		Channel:      c.name,
		Status:       c.status,
		IsPlaying:    c.timeline.IsPlaying(),
		Volume:       c.globalVolume,
		OutputVolume: c.outputVolume,
		EQAvailable:  c.eqAvailable,
		UpdatedAt:    c.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	if c.router != nil {
		state.DeviceID = c.router.Applied(c.name)
	}

	if c.loaded != nil {
		current := *c.loaded
		state.Current = &current
		state.PositionMS = durationMS(c.position)
		state.DurationMS = durationMS(c.duration)
		if remaining := c.duration - c.position; remaining > 0 {
			state.RemainingMS = durationMS(remaining)
		}
	}

	return state
}

func (c *Channel) publish() {
	state := c.buildState()
	c.lastPublish = c.clock.Now()

	c.mu.Lock()
	c.snapshot = state
	emitter := c.emit
	listeners := append([]func(State){}, c.listeners...)
	c.mu.Unlock()

	if emitter != nil {
		emitter(c.stateEvent, state)
	}
	for _, listener := range listeners {
		listener(state)
	}
}

func (c *Channel) notice(kind string, message string) {
	c.mu.Lock()
	emitter := c.emit
	c.mu.Unlock()

	if emitter == nil {
		return
	}
	emitter(EventNotice, Notice{
		Channel: c.name,
		Kind:    kind,
		Message: message,
		At:      c.clock.Now().UTC().Format(time.RFC3339),
	})
}

func fadeParams(entry *queue.Entry) FadeParams {
	params := entry.Track.Playback
	return FadeParams{
		StartTime:       params.StartTime(),
		FadeDuration:    params.FadeDuration(),
		EndTimeOffset:   params.EndTimeOffset(),
		EndFadeDuration: params.EndFadeDuration(),
	}
}
