//go:build !libmpv

package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deck/internal/audio/dsp"
	"deck/internal/player"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/wav"
	"go.uber.org/zap"
)

func writeSilentWAV(t *testing.T, rate beep.SampleRate, length time.Duration) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer file.Close()

	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(file, beep.Silence(rate.N(length)), format); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return path
}

func TestOpenSourceSeeksAndResamples(t *testing.T) {
	t.Parallel()

	path := writeSilentWAV(t, 22050, time.Second)
	src, err := openSource(path, 44100, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	defer src.stream.Close()

	if got := src.format.SampleRate.D(src.stream.Len()); got != time.Second {
		t.Fatalf("expected 1s duration, got %s", got)
	}
	if got := src.format.SampleRate.D(src.stream.Position()); got != 500*time.Millisecond {
		t.Fatalf("expected playhead primed at 500ms, got %s", got)
	}
	if !src.ctrl.Paused {
		t.Fatalf("expected source to open paused")
	}
	if src.chain.Len() != 0 {
		t.Fatalf("expected a fresh chain without bands")
	}
}

func TestOpenSourceRejectsUnknownFormats(t *testing.T) {
	t.Parallel()

	if _, err := openSource("/music/cover.jpg", 44100, 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := openSource(filepath.Join(t.TempDir(), "missing.mp3"), 44100, 0); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestApplyLevelMapsLinearGain(t *testing.T) {
	t.Parallel()

	volume := &effects.Volume{Base: 2}
	applyLevel(volume, 0.5)
	if volume.Silent || volume.Volume != -1 {
		t.Fatalf("expected half gain as -1 on base 2, got %+v", volume)
	}

	applyLevel(volume, 0)
	if !volume.Silent {
		t.Fatalf("expected zero gain to silence output")
	}

	applyLevel(volume, 1)
	if volume.Silent || volume.Volume != 0 {
		t.Fatalf("expected unity gain, got %+v", volume)
	}
}

func TestFiltersKeepBandsWithoutOpenFile(t *testing.T) {
	t.Parallel()

	output := &Output{logger: zap.NewNop(), rate: 44100, level: 1}
	filters, err := output.Filters()
	if err != nil {
		t.Fatalf("filters: %v", err)
	}

	if err := filters.AddBand("deckeq0", 60, 3); err != nil {
		t.Fatalf("add band: %v", err)
	}
	if err := filters.AddBand("deckeq0", 60, 3); !errors.Is(err, dsp.ErrDuplicateBand) {
		t.Fatalf("expected ErrDuplicateBand, got %v", err)
	}
	if err := filters.SetBandGain("deckeq0", -6); err != nil {
		t.Fatalf("set gain: %v", err)
	}
	if output.bands[0].gain != -6 {
		t.Fatalf("expected gain remembered for next file, got %v", output.bands[0].gain)
	}
	if err := filters.RemoveBand("deckeq0"); err != nil {
		t.Fatalf("remove band: %v", err)
	}
	if err := filters.SetBandGain("deckeq0", 0); !errors.Is(err, dsp.ErrUnknownBand) {
		t.Fatalf("expected ErrUnknownBand, got %v", err)
	}
}

func TestOutputWithoutFileReportsNotOpen(t *testing.T) {
	t.Parallel()

	output := &Output{logger: zap.NewNop(), rate: 44100, level: 1}
	if _, err := output.Position(); !errors.Is(err, errNotOpen) {
		t.Fatalf("expected errNotOpen, got %v", err)
	}
	if err := output.Stop(); err != nil {
		t.Fatalf("stop without file: %v", err)
	}
	if err := output.SetVolume(0.3); err != nil || output.level != 0.3 {
		t.Fatalf("expected volume remembered, got level=%v err=%v", output.level, err)
	}
}

func TestSetDeviceOnlyAcceptsDefault(t *testing.T) {
	t.Parallel()

	output := &Output{logger: zap.NewNop()}
	if err := output.SetDevice(""); err != nil {
		t.Fatalf("default device: %v", err)
	}
	if err := output.SetDevice("usb-dac"); !errors.Is(err, player.ErrSinkNotSupported) {
		t.Fatalf("expected ErrSinkNotSupported, got %v", err)
	}
}

func TestEndedIgnoresStaleGenerations(t *testing.T) {
	t.Parallel()

	output := &Output{logger: zap.NewNop()}
	fired := make(chan struct{}, 2)
	output.SetOnEnded(func() { fired <- struct{}{} })
	output.generation.Store(3)

	output.ended(2)
	output.ended(3)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("expected ended callback for the live generation")
	}
	select {
	case <-fired:
		t.Fatalf("expected stale generation to be ignored")
	case <-time.After(20 * time.Millisecond):
	}
}
