//go:build libmpv

package audio

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"deck/internal/player"

	mpv "github.com/gen2brain/go-mpv"
	"go.uber.org/zap"
)

const (
	mpvPauseProperty    = "pause"
	mpvVolumeProperty   = "volume"
	mpvPositionProperty = "time-pos"
	mpvDurationProperty = "duration"
	mpvStartProperty    = "start"
	mpvDeviceProperty   = "audio-device"
	mpvDeviceList       = "audio-device-list"
	mpvAutoDevice       = "auto"

	openTimeout = 10 * time.Second
)

var ErrOpenTimeout = errors.New("timed out opening file")

type Output struct {
	mu        sync.Mutex
	client    *mpv.Mpv
	logger    *zap.Logger
	onEnded   func()
	loaded    chan error
	opened    bool
	closeOnce sync.Once
	closed    chan struct{}
	eventWG   sync.WaitGroup
}

func New(cfg Config, logger *zap.Logger) (*Output, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	client := mpv.New()
	if client == nil {
		return nil, errors.New("create libmpv instance")
	}

	setOptionString(client, "terminal", "no")
	setOptionString(client, "video", "no")
	setOptionString(client, "audio-display", "no")
	setOptionString(client, "keep-open", "no")
	setOptionString(client, "idle", "yes")
	setOptionString(client, "audio-samplerate", strconv.Itoa(cfg.SampleRate))
	setOptionString(client, "audio-buffer", strconv.FormatFloat(cfg.Buffer.Seconds(), 'f', 3, 64))

	if err := client.Initialize(); err != nil {
		client.TerminateDestroy()
		return nil, fmt.Errorf("initialize libmpv: %w", err)
	}

	output := &Output{
		client: client,
		logger: logger.Named("mpv"),
		closed: make(chan struct{}),
	}

	_ = client.RequestEvent(mpv.EventEnd, true)
	_ = client.RequestEvent(mpv.EventFileLoaded, true)
	_ = client.SetPropertyString(mpvPauseProperty, "yes")

	output.eventWG.Add(1)
	go output.eventLoop()

	return output, nil
}

// Open loads path paused with the playhead at start and waits until mpv
// reports the file loaded or failed.
func (o *Output) Open(path string, start time.Duration) error {
	loaded := make(chan error, 1)

	o.mu.Lock()
	if err := o.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("set pause before load: %w", err)
	}
	if err := o.client.SetPropertyString(mpvStartProperty, formatSeconds(start)); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("set start position: %w", err)
	}
	o.loaded = loaded
	if err := o.client.Command([]string{"loadfile", path, "replace"}); err != nil {
		o.loaded = nil
		o.mu.Unlock()
		return fmt.Errorf("load file %q: %w", path, err)
	}
	o.mu.Unlock()

	select {
	case err := <-loaded:
		if err != nil {
			return fmt.Errorf("load file %q: %w", path, err)
		}
	case <-time.After(openTimeout):
		o.clearLoaded(loaded)
		return fmt.Errorf("%w: %s", ErrOpenTimeout, path)
	case <-o.closed:
		return errors.New("output closed")
	}

	o.mu.Lock()
	o.opened = true
	o.mu.Unlock()
	return nil
}

func (o *Output) clearLoaded(loaded chan error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loaded == loaded {
		o.loaded = nil
	}
}

func (o *Output) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.client.SetPropertyString(mpvPauseProperty, "no"); err != nil {
		return fmt.Errorf("resume playback: %w", err)
	}
	return nil
}

func (o *Output) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.client.SetPropertyString(mpvPauseProperty, "yes"); err != nil {
		return fmt.Errorf("pause playback: %w", err)
	}
	return nil
}

func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opened = false
	if err := o.client.Command([]string{"stop"}); err != nil {
		return fmt.Errorf("stop playback: %w", err)
	}
	return nil
}

func (o *Output) Seek(position time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.client.SetProperty(mpvPositionProperty, mpv.FormatDouble, position.Seconds()); err != nil {
		return fmt.Errorf("seek playback: %w", err)
	}
	return nil
}

// SetVolume maps the 0..1 gain onto mpv's 0..100 volume scale.
func (o *Output) SetVolume(volume float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.client.SetProperty(mpvVolumeProperty, mpv.FormatDouble, volume*100); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	return nil
}

func (o *Output) Position() (time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	value, _, err := o.readSecondsLocked(mpvPositionProperty)
	return value, err
}

func (o *Output) Duration() (time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	value, _, err := o.readSecondsLocked(mpvDurationProperty)
	return value, err
}

func (o *Output) SetOnEnded(callback func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEnded = callback
}

func (o *Output) Filters() (player.FilterChain, error) {
	return mpvFilters{output: o}, nil
}

func (o *Output) SetDevice(deviceID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	target := deviceID
	if target == "" {
		target = mpvAutoDevice
	} else {
		devices, err := o.devicesLocked()
		if err != nil {
			return err
		}
		if !containsDevice(devices, target) {
			return fmt.Errorf("%w: %s", player.ErrSinkNotFound, deviceID)
		}
	}

	if err := o.client.SetPropertyString(mpvDeviceProperty, target); err != nil {
		return fmt.Errorf("set audio device %q: %w", target, err)
	}
	return nil
}

func (o *Output) Devices() ([]player.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.devicesLocked()
}

func (o *Output) devicesLocked() ([]player.Device, error) {
	return parseDeviceList(o.client.GetPropertyString(mpvDeviceList))
}

type mpvDevice struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// parseDeviceList reads mpv's audio-device-list. The "auto" entry is
// reported as the system default with an empty id.
func parseDeviceList(raw string) ([]player.Device, error) {
	if raw == "" {
		return []player.Device{}, nil
	}

	var listed []mpvDevice
	if err := json.Unmarshal([]byte(raw), &listed); err != nil {
		return nil, fmt.Errorf("parse audio device list: %w", err)
	}

	devices := make([]player.Device, 0, len(listed))
	for _, device := range listed {
		id := device.Name
		if id == mpvAutoDevice {
			id = ""
		}
		devices = append(devices, player.Device{ID: id, Description: device.Description})
	}
	return devices, nil
}

func containsDevice(devices []player.Device, id string) bool {
	for _, device := range devices {
		if device.ID == id {
			return true
		}
	}
	return false
}

func (o *Output) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		client := o.client
		o.mu.Unlock()

		if client != nil {
			client.Wakeup()
			client.TerminateDestroy()
		}

		o.eventWG.Wait()
		close(o.closed)
	})

	<-o.closed
	return nil
}

func (o *Output) eventLoop() {
	defer o.eventWG.Done()

	for {
		event := o.client.WaitEvent(0.5)
		if event == nil {
			continue
		}

		switch event.EventID {
		case mpv.EventShutdown:
			return
		case mpv.EventFileLoaded:
			o.resolveLoad(nil)
		case mpv.EventEnd:
			end := event.EndFile()
			switch end.Reason {
			case mpv.EndFileError:
				o.resolveLoad(errors.New("mpv could not play the file"))
			case mpv.EndFileEOF:
				o.mu.Lock()
				onEnded := o.onEnded
				opened := o.opened
				o.mu.Unlock()
				if onEnded != nil && opened {
					onEnded()
				}
			}
		}
	}
}

func (o *Output) resolveLoad(err error) {
	o.mu.Lock()
	loaded := o.loaded
	o.loaded = nil
	o.mu.Unlock()

	if loaded != nil {
		loaded <- err
	}
}

func (o *Output) readSecondsLocked(property string) (time.Duration, bool, error) {
	value, err := o.client.GetProperty(property, mpv.FormatDouble)
	if err != nil {
		if errors.Is(err, mpv.ErrPropertyUnavailable) || errors.Is(err, mpv.ErrPropertyNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read %s: %w", property, err)
	}

	seconds, ok := asFloat64(value)
	if !ok || math.IsNaN(seconds) || seconds < 0 {
		return 0, false, nil
	}

	return time.Duration(math.Round(seconds * float64(time.Second))), true, nil
}

func asFloat64(value any) (float64, bool) {
	switch cast := value.(type) {
	case float64:
		return cast, true
	case float32:
		return float64(cast), true
	case int:
		return float64(cast), true
	case int64:
		return float64(cast), true
	default:
		return 0, false
	}
}

func formatSeconds(value time.Duration) string {
	if value <= 0 {
		return "0"
	}
	return strconv.FormatFloat(value.Seconds(), 'f', 3, 64)
}

func setOptionString(client *mpv.Mpv, name string, value string) {
	_ = client.SetOptionString(name, value)
}

// mpvFilters drives one lavfi equalizer per band in mpv's audio filter
// chain. Labels persist across loadfile, so bands survive track changes.
type mpvFilters struct {
	output *Output
}

func (f mpvFilters) AddBand(label string, frequencyHz float64, gainDB float64) error {
	spec := fmt.Sprintf("@%s:lavfi=[equalizer=f=%g:t=o:w=1:g=%.2f]", label, frequencyHz, gainDB)
	return f.command("af", "add", spec)
}

func (f mpvFilters) SetBandGain(label string, gainDB float64) error {
	return f.command("af-command", label, "g", strconv.FormatFloat(gainDB, 'f', 2, 64))
}

func (f mpvFilters) RemoveBand(label string) error {
	return f.command("af", "remove", "@"+label)
}

func (f mpvFilters) command(args ...string) error {
	o := f.output
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.client.Command(args); err != nil {
		return fmt.Errorf("%w: %v: %v", player.ErrEqUnavailable, args, err)
	}
	return nil
}
