package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deck/internal/equalizer"
	"deck/internal/library"
	"deck/internal/queue"

	"go.uber.org/zap"
)

type EngineConfig struct {
	Queue         *queue.Service
	Storage       Storage
	MainOutput    Output
	PreviewOutput Output
	Logger        *zap.Logger
	Clock         Clock

	TickInterval        time.Duration
	PublishInterval     time.Duration
	DiagnosticsInterval time.Duration

	Volume   float64
	GlobalEQ equalizer.Gains
	// Devices holds the preferred device id per channel name.
	Devices map[string]string
}

// Engine wires the main and preview channels to one device router.
type Engine struct {
	logger  *zap.Logger
	queue   *queue.Service
	router  *DeviceRouter
	main    *Channel
	preview *Channel
	slot    *PreviewTimeline
	outputs []Output
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Queue == nil {
		return nil, errors.New("player engine requires a queue")
	}
	if cfg.MainOutput == nil || cfg.PreviewOutput == nil {
		return nil, errors.New("player engine requires main and preview outputs")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("player")

	router := NewDeviceRouter(logger)
	for channel, deviceID := range cfg.Devices {
		router.SetPreferred(channel, deviceID)
	}

	slot := NewPreviewTimeline()
	base := ChannelConfig{
		Storage:             cfg.Storage,
		Router:              router,
		Clock:               cfg.Clock,
		Logger:              logger,
		TickInterval:        cfg.TickInterval,
		PublishInterval:     cfg.PublishInterval,
		DiagnosticsInterval: cfg.DiagnosticsInterval,
		Volume:              cfg.Volume,
		GlobalEQ:            cfg.GlobalEQ,
	}

	mainConfig := base
	mainConfig.Name = ChannelMain
	mainConfig.StateEvent = EventStateChanged
	mainConfig.Timeline = QueueTimeline(cfg.Queue)
	mainConfig.Output = cfg.MainOutput
	mainConfig.RecordPlays = true

	previewConfig := base
	previewConfig.Name = ChannelPreview
	previewConfig.StateEvent = EventPreviewState
	previewConfig.Timeline = slot
	previewConfig.Output = cfg.PreviewOutput

	return &Engine{
		logger:  logger,
		queue:   cfg.Queue,
		router:  router,
		main:    NewChannel(mainConfig),
		preview: NewChannel(previewConfig),
		slot:    slot,
		outputs: []Output{cfg.MainOutput, cfg.PreviewOutput},
	}, nil
}

func (e *Engine) Main() *Channel {
	return e.main
}

func (e *Engine) Preview() *Channel {
	return e.preview
}

func (e *Engine) Router() *DeviceRouter {
	return e.router
}

func (e *Engine) Channel(name string) (*Channel, error) {
	switch name {
	case ChannelMain, "":
		return e.main, nil
	case ChannelPreview:
		return e.preview, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
}

func (e *Engine) SetEmitter(emitter Emitter) {
	e.main.SetEmitter(emitter)
	e.preview.SetEmitter(emitter)
}

// StartPreview plays track on the preview channel, replacing any preview in
// progress. The main queue is left alone.
func (e *Engine) StartPreview(track library.Track) State {
	e.slot.Start(track)
	return e.preview.State()
}

func (e *Engine) StopPreview() State {
	e.slot.Stop()
	return e.preview.State()
}

func (e *Engine) SetVolume(volume float64) (State, error) {
	if _, err := e.preview.SetVolume(volume); err != nil {
		return e.main.State(), err
	}
	return e.main.SetVolume(volume)
}

func (e *Engine) SetGlobalEQ(gains equalizer.Gains) (State, error) {
	if _, err := e.preview.SetGlobalEQ(gains); err != nil {
		return e.main.State(), err
	}
	return e.main.SetGlobalEQ(gains)
}

func (e *Engine) SetSink(ctx context.Context, channel string, deviceID string) (State, error) {
	target, err := e.Channel(channel)
	if err != nil {
		return State{}, err
	}
	return target.SetDevice(ctx, deviceID)
}

// UpdateTrack pushes edited playback params everywhere the track lives: the
// queue, the preview slot and both loaded instances.
func (e *Engine) UpdateTrack(track library.Track) {
	e.queue.RefreshTrack(track)
	e.slot.RefreshTrack(track)

	for _, channel := range []*Channel{e.main, e.preview} {
		if _, err := channel.UpdateTrack(track); err != nil {
			e.logger.Debug("update loaded track", zap.String("channel", channel.Name()), zap.Error(err))
		}
	}
}

// Devices lists sinks from the first output that can enumerate them.
func (e *Engine) Devices() ([]Device, error) {
	for _, output := range e.outputs {
		if lister, ok := output.(DeviceLister); ok {
			return lister.Devices()
		}
	}
	return []Device{{ID: "", Description: "System default"}}, nil
}

// ReconcileDevices refreshes the device list and lets the router fall back
// or restore preferred devices.
func (e *Engine) ReconcileDevices() error {
	devices, err := e.Devices()
	if err != nil {
		return err
	}
	e.router.Reconcile(devices)
	return nil
}

func (e *Engine) Close() error {
	var errs []error
	for _, channel := range []*Channel{e.main, e.preview} {
		if err := channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, output := range e.outputs {
		if err := output.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
