package dsp

import (
	"errors"
	"math"
	"testing"

	"github.com/faiface/beep"
)

const testRate = beep.SampleRate(44100)

func sine(frequency float64, count int) [][2]float64 {
	samples := make([][2]float64, count)
	for i := range samples {
		value := 0.1 * math.Sin(2*math.Pi*frequency*float64(i)/float64(testRate))
		samples[i] = [2]float64{value, value}
	}
	return samples
}

func peak(samples [][2]float64) float64 {
	highest := 0.0
	for _, sample := range samples {
		highest = math.Max(highest, math.Abs(sample[0]))
	}
	return highest
}

func TestPeakingFlatGainIsIdentity(t *testing.T) {
	t.Parallel()

	filter, err := NewPeaking(testRate, 1000, DefaultQ, 0)
	if err != nil {
		t.Fatalf("new peaking: %v", err)
	}

	input := sine(440, 2048)
	output := append([][2]float64(nil), input...)
	filter.Process(output)

	for i := range input {
		if math.Abs(input[i][0]-output[i][0]) > 1e-9 {
			t.Fatalf("sample %d changed: %v -> %v", i, input[i][0], output[i][0])
		}
	}
}

func TestPeakingBoostsCenterFrequency(t *testing.T) {
	t.Parallel()

	filter, err := NewPeaking(testRate, 1000, DefaultQ, 12)
	if err != nil {
		t.Fatalf("new peaking: %v", err)
	}

	samples := sine(1000, 44100)
	before := peak(samples[22050:])
	filter.Process(samples)
	after := peak(samples[22050:])

	if ratio := after / before; ratio < 3 || ratio > 4.5 {
		t.Fatalf("expected about +12dB (x3.98) at center, got x%.2f", ratio)
	}
}

func TestPeakingLeavesDistantFrequencyAlone(t *testing.T) {
	t.Parallel()

	filter, err := NewPeaking(testRate, 60, DefaultQ, 12)
	if err != nil {
		t.Fatalf("new peaking: %v", err)
	}

	samples := sine(8000, 44100)
	before := peak(samples[22050:])
	filter.Process(samples)
	after := peak(samples[22050:])

	if ratio := after / before; ratio > 1.05 {
		t.Fatalf("expected 8kHz to pass a 60Hz band untouched, got x%.2f", ratio)
	}
}

func TestPeakingRejectsBadFrequency(t *testing.T) {
	t.Parallel()

	if _, err := NewPeaking(testRate, 30000, DefaultQ, 0); !errors.Is(err, ErrInvalidBand) {
		t.Fatalf("expected ErrInvalidBand above nyquist, got %v", err)
	}
}

type constantStreamer struct {
	value float64
}

func (s constantStreamer) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{s.value, s.value}
	}
	return len(samples), true
}

func (s constantStreamer) Err() error {
	return nil
}

func TestChainManagesLabelledBands(t *testing.T) {
	t.Parallel()

	chain := NewChain(constantStreamer{value: 0.5}, testRate)
	if err := chain.Add("deckeq0", 60, 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := chain.Add("deckeq1", 250, 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := chain.Add("deckeq0", 60, 0); !errors.Is(err, ErrDuplicateBand) {
		t.Fatalf("expected ErrDuplicateBand, got %v", err)
	}

	samples := make([][2]float64, 512)
	n, ok := chain.Stream(samples)
	if n != 512 || !ok {
		t.Fatalf("unexpected stream result n=%d ok=%v", n, ok)
	}
	if math.Abs(samples[511][0]-0.5) > 1e-9 {
		t.Fatalf("expected flat chain to pass DC, got %v", samples[511][0])
	}

	if err := chain.SetGain("deckeq1", 6); err != nil {
		t.Fatalf("set gain: %v", err)
	}
	if err := chain.SetGain("deckeq9", 6); !errors.Is(err, ErrUnknownBand) {
		t.Fatalf("expected ErrUnknownBand, got %v", err)
	}
	if err := chain.Remove("deckeq0"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if chain.Len() != 1 {
		t.Fatalf("expected one band left, got %d", chain.Len())
	}
}
