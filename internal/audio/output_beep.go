//go:build !libmpv

package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"deck/internal/audio/dsp"
	"deck/internal/player"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
	"go.uber.org/zap"
)

const resampleQuality = 4

var ErrUnsupportedFormat = errors.New("unsupported audio format")

var errNotOpen = errors.New("no file open")

// One speaker and one mixer serve every output in the process.
var (
	speakerOnce sync.Once
	speakerErr  error
	speakerRate beep.SampleRate
	mixer       *beep.Mixer
)

func initSpeaker(cfg Config) error {
	speakerOnce.Do(func() {
		speakerRate = beep.SampleRate(cfg.SampleRate)
		if err := speaker.Init(speakerRate, speakerRate.N(cfg.Buffer)); err != nil {
			speakerErr = fmt.Errorf("initialize speaker: %w", err)
			return
		}
		mixer = &beep.Mixer{}
		speaker.Play(mixer)
	})
	return speakerErr
}

type bandSpec struct {
	label     string
	frequency float64
	gain      float64
}

// source is one decoded file ready to be mixed.
type source struct {
	stream beep.StreamSeekCloser
	format beep.Format
	chain  *dsp.Chain
	volume *effects.Volume
	ctrl   *beep.Ctrl
}

type Output struct {
	mu     sync.Mutex
	logger *zap.Logger
	rate   beep.SampleRate

	current *source
	bands   []bandSpec
	level   float64

	generation atomic.Uint64
	onEnded    atomic.Pointer[func()]
}

func New(cfg Config, logger *zap.Logger) (*Output, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := initSpeaker(cfg); err != nil {
		return nil, err
	}

	return &Output{
		logger: logger.Named("beep"),
		rate:   speakerRate,
		level:  1,
	}, nil
}

func (o *Output) Open(path string, start time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopLocked()

	src, err := openSource(path, o.rate, start)
	if err != nil {
		return err
	}
	for _, band := range o.bands {
		if err := src.chain.Add(band.label, band.frequency, band.gain); err != nil {
			o.logger.Debug("restore eq band", zap.String("band", band.label), zap.Error(err))
		}
	}
	applyLevel(src.volume, o.level)

	generation := o.generation.Add(1)
	sequence := beep.Seq(src.ctrl, beep.Callback(func() {
		o.ended(generation)
	}))

	speaker.Lock()
	mixer.Add(sequence)
	speaker.Unlock()

	o.current = src
	return nil
}

// openSource decodes path and builds its streamer graph: decoder, resampler,
// band filters, volume, pause control. The result starts paused.
func openSource(path string, rate beep.SampleRate, start time.Duration) (*source, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	stream, format, err := decode(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if start > 0 {
		if err := stream.Seek(clampSample(format.SampleRate.N(start), stream.Len())); err != nil {
			_ = stream.Close()
			return nil, fmt.Errorf("seek %s to %s: %w", path, start, err)
		}
	}

	var decoded beep.Streamer = stream
	if format.SampleRate != rate {
		decoded = beep.Resample(resampleQuality, format.SampleRate, rate, stream)
	}

	chain := dsp.NewChain(decoded, rate)
	volume := &effects.Volume{Streamer: chain, Base: 2}
	return &source{
		stream: stream,
		format: format,
		chain:  chain,
		volume: volume,
		ctrl:   &beep.Ctrl{Streamer: volume, Paused: true},
	}, nil
}

type decodeFunc func(file *os.File) (beep.StreamSeekCloser, beep.Format, error)

func decoderFor(path string) (decodeFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return func(file *os.File) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(file) }, nil
	case ".wav":
		return func(file *os.File) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(file) }, nil
	case ".flac":
		return func(file *os.File) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(file) }, nil
	case ".ogg", ".oga":
		return func(file *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(file) }, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func clampSample(sample int, length int) int {
	if sample < 0 {
		return 0
	}
	if length > 0 && sample >= length {
		return length - 1
	}
	return sample
}

func (o *Output) ended(generation uint64) {
	if o.generation.Load() != generation {
		return
	}
	if callback := o.onEnded.Load(); callback != nil {
		// runs on the speaker goroutine with the speaker lock held
		go (*callback)()
	}
}

func (o *Output) Play() error {
	return o.withSource(func(src *source) error {
		src.ctrl.Paused = false
		return nil
	})
}

func (o *Output) Pause() error {
	return o.withSource(func(src *source) error {
		src.ctrl.Paused = true
		return nil
	})
}

func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	return nil
}

func (o *Output) stopLocked() {
	if o.current == nil {
		return
	}

	// invalidate the callback before the sequence drains
	o.generation.Add(1)

	speaker.Lock()
	o.current.ctrl.Streamer = nil
	err := o.current.stream.Close()
	speaker.Unlock()

	if err != nil {
		o.logger.Debug("close stream", zap.Error(err))
	}
	o.current = nil
}

func (o *Output) Seek(position time.Duration) error {
	return o.withSource(func(src *source) error {
		target := clampSample(src.format.SampleRate.N(position), src.stream.Len())
		if err := src.stream.Seek(target); err != nil {
			return fmt.Errorf("seek to %s: %w", position, err)
		}
		src.chain.Reset()
		return nil
	})
}

func (o *Output) SetVolume(volume float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.level = volume
	if o.current == nil {
		return nil
	}

	speaker.Lock()
	applyLevel(o.current.volume, volume)
	speaker.Unlock()
	return nil
}

// applyLevel maps a linear 0..1 gain onto the base-2 volume effect.
func applyLevel(volume *effects.Volume, level float64) {
	if level <= 0 || math.IsNaN(level) {
		volume.Silent = true
		volume.Volume = 0
		return
	}
	if level > 1 {
		level = 1
	}
	volume.Silent = false
	volume.Volume = math.Log2(level)
}

func (o *Output) Position() (time.Duration, error) {
	var position time.Duration
	err := o.withSource(func(src *source) error {
		position = src.format.SampleRate.D(src.stream.Position())
		return nil
	})
	return position, err
}

func (o *Output) Duration() (time.Duration, error) {
	var duration time.Duration
	err := o.withSource(func(src *source) error {
		duration = src.format.SampleRate.D(src.stream.Len())
		return nil
	})
	return duration, err
}

func (o *Output) SetOnEnded(callback func()) {
	if callback == nil {
		o.onEnded.Store(nil)
		return
	}
	o.onEnded.Store(&callback)
}

func (o *Output) Filters() (player.FilterChain, error) {
	return beepFilters{output: o}, nil
}

// SetDevice only accepts the system default; beep has no sink selection.
func (o *Output) SetDevice(deviceID string) error {
	if deviceID == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", player.ErrSinkNotSupported, deviceID)
}

func (o *Output) Close() error {
	return o.Stop()
}

func (o *Output) withSource(fn func(src *source) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return errNotOpen
	}

	speaker.Lock()
	defer speaker.Unlock()
	return fn(o.current)
}

// beepFilters keeps the band list on the output so every newly opened file
// gets the same chain.
type beepFilters struct {
	output *Output
}

func (f beepFilters) AddBand(label string, frequencyHz float64, gainDB float64) error {
	o := f.output
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, band := range o.bands {
		if band.label == label {
			return fmt.Errorf("%w: %s", dsp.ErrDuplicateBand, label)
		}
	}
	if frequencyHz <= 0 || frequencyHz >= float64(o.rate)/2 {
		return fmt.Errorf("%w: %vHz", dsp.ErrInvalidBand, frequencyHz)
	}

	o.bands = append(o.bands, bandSpec{label: label, frequency: frequencyHz, gain: gainDB})
	if o.current == nil {
		return nil
	}

	speaker.Lock()
	defer speaker.Unlock()
	return o.current.chain.Add(label, frequencyHz, gainDB)
}

func (f beepFilters) SetBandGain(label string, gainDB float64) error {
	o := f.output
	o.mu.Lock()
	defer o.mu.Unlock()

	index := o.bandIndexLocked(label)
	if index < 0 {
		return fmt.Errorf("%w: %s", dsp.ErrUnknownBand, label)
	}
	o.bands[index].gain = gainDB
	if o.current == nil {
		return nil
	}

	speaker.Lock()
	defer speaker.Unlock()
	return o.current.chain.SetGain(label, gainDB)
}

func (f beepFilters) RemoveBand(label string) error {
	o := f.output
	o.mu.Lock()
	defer o.mu.Unlock()

	index := o.bandIndexLocked(label)
	if index < 0 {
		return fmt.Errorf("%w: %s", dsp.ErrUnknownBand, label)
	}
	o.bands = append(o.bands[:index], o.bands[index+1:]...)
	if o.current == nil {
		return nil
	}

	speaker.Lock()
	defer speaker.Unlock()
	return o.current.chain.Remove(label)
}

func (o *Output) bandIndexLocked(label string) int {
	for i, band := range o.bands {
		if band.label == label {
			return i
		}
	}
	return -1
}
