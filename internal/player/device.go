package player

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	ChannelMain    = "main"
	ChannelPreview = "preview"
)

// DeviceRouter maps logical channels to output devices. It remembers both
// the device a user asked for and the device actually in use, so hot-plug
// changes can fall back and later restore without user action.
type DeviceRouter struct {
	mu        sync.Mutex
	logger    *zap.Logger
	outputs   map[string]Output
	applied   map[string]string
	preferred map[string]string
}

func NewDeviceRouter(logger *zap.Logger) *DeviceRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceRouter{
		logger:    logger.Named("devices"),
		outputs:   map[string]Output{},
		applied:   map[string]string{},
		preferred: map[string]string{},
	}
}

func (r *DeviceRouter) Bind(channel string, output Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[channel] = output
}

// SetPreferred records a device choice without applying it, as when
// restoring saved settings before any output is running.
func (r *DeviceRouter) SetPreferred(channel string, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferred[channel] = deviceID
}

// SetSink routes channel to deviceID. On failure the channel keeps its
// previous device and the error is returned for the caller to report.
func (r *DeviceRouter) SetSink(ctx context.Context, channel string, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	output, ok := r.outputs[channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	if err := output.SetDevice(deviceID); err != nil {
		r.logSinkFailure(channel, deviceID, err)
		return err
	}

	r.applied[channel] = deviceID
	r.preferred[channel] = deviceID
	r.logger.Info("output device applied", zap.String("channel", channel), zap.String("device", deviceID))
	return nil
}

// Apply re-applies the preferred device for channel if it is not the one in
// use. Failures fall back silently.
func (r *DeviceRouter) Apply(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	preferred := r.preferred[channel]
	if preferred == r.applied[channel] {
		return
	}

	output, ok := r.outputs[channel]
	if !ok {
		return
	}

	if err := output.SetDevice(preferred); err != nil {
		r.logSinkFailure(channel, preferred, err)
		return
	}
	r.applied[channel] = preferred
}

func (r *DeviceRouter) Applied(channel string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied[channel]
}

func (r *DeviceRouter) Preferred(channel string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preferred[channel]
}

// Reconcile reacts to a fresh device list: channels whose device vanished
// fall back to the default, and channels whose preferred device returned
// are moved back onto it.
func (r *DeviceRouter) Reconcile(available []Device) {
	present := make(map[string]bool, len(available))
	for _, device := range available {
		present[device.ID] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for channel, output := range r.outputs {
		applied := r.applied[channel]
		preferred := r.preferred[channel]

		if applied != "" && !present[applied] {
			if err := output.SetDevice(""); err != nil {
				r.logSinkFailure(channel, "", err)
				continue
			}
			r.applied[channel] = ""
			r.logger.Info("output device gone, using default", zap.String("channel", channel), zap.String("device", applied))
			applied = ""
		}

		if preferred != "" && preferred != applied && present[preferred] {
			if err := output.SetDevice(preferred); err != nil {
				r.logSinkFailure(channel, preferred, err)
				continue
			}
			r.applied[channel] = preferred
			r.logger.Info("preferred output device restored", zap.String("channel", channel), zap.String("device", preferred))
		}
	}
}

func (r *DeviceRouter) logSinkFailure(channel string, deviceID string, err error) {
	fields := []zap.Field{zap.String("channel", channel), zap.String("device", deviceID), zap.Error(err)}
	if errors.Is(err, ErrSinkNotFound) || errors.Is(err, ErrSinkNotSupported) {
		r.logger.Debug("output device unchanged", fields...)
		return
	}
	r.logger.Warn("output device unchanged", fields...)
}
