// Package equalizer models the five-band gain vectors shared by the global
// settings and every track, and maps combined values to filter decibels.
package equalizer

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const BandCount = 5

const (
	MinValue = 0
	MaxValue = 100

	// TrackDefault is the value a fresh track carries on every band.
	TrackDefault = 70
	// GlobalDefault combined with TrackDefault lands next to the flat
	// midpoint, so an untouched install plays without coloration.
	GlobalDefault = 70

	MaxDecibels = 12.0
)

const (
	ModeFive  = "five"
	ModeThree = "three"
)

var ErrInvalidBand = errors.New("invalid equalizer band")

var ErrInvalidMode = errors.New("invalid equalizer mode")

type Band struct {
	Label       string  `json:"label"`
	FrequencyHz float64 `json:"frequencyHz"`
}

var Bands = [BandCount]Band{
	{Label: "A", FrequencyHz: 60},
	{Label: "B", FrequencyHz: 250},
	{Label: "C", FrequencyHz: 1000},
	{Label: "D", FrequencyHz: 4000},
	{Label: "E", FrequencyHz: 12000},
}

type Gains [BandCount]int

func DefaultTrackGains() Gains {
	return uniform(TrackDefault)
}

func DefaultGlobalGains() Gains {
	return uniform(GlobalDefault)
}

func uniform(value int) Gains {
	var gains Gains
	for i := range gains {
		gains[i] = value
	}
	return gains
}

func ClampValue(value int) int {
	if value < MinValue {
		return MinValue
	}
	if value > MaxValue {
		return MaxValue
	}
	return value
}

// Combine merges a track band value with the matching global band value.
func Combine(song int, global int) int {
	return int(math.Round(float64(ClampValue(song)) * float64(ClampValue(global)) / 100))
}

func Effective(track Gains, global Gains) Gains {
	var combined Gains
	for i := range combined {
		combined[i] = Combine(track[i], global[i])
	}
	return combined
}

// ToDecibels maps a 0..100 band value onto -12dB..+12dB with 50 as flat.
func ToDecibels(value int) float64 {
	return (float64(ClampValue(value)-50) / 50) * MaxDecibels
}

func (g Gains) Clamped() Gains {
	for i := range g {
		g[i] = ClampValue(g[i])
	}
	return g
}

// Decibels returns the per-band filter gains for g.
func (g Gains) Decibels() [BandCount]float64 {
	var out [BandCount]float64
	for i, value := range g {
		out[i] = ToDecibels(value)
	}
	return out
}

// WithMidpoints derives B and D from their neighbours, as the three-band
// editor shows them.
func (g Gains) WithMidpoints() Gains {
	g[1] = midpoint(g[0], g[2])
	g[3] = midpoint(g[2], g[4])
	return g
}

func midpoint(left int, right int) int {
	return int(math.Round(float64(left+right) / 2))
}

func NormalizeMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeFive, "5":
		return ModeFive, nil
	case ModeThree, "3":
		return ModeThree, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// Editable reports whether band index can be set directly under mode.
func Editable(mode string, index int) bool {
	if index < 0 || index >= BandCount {
		return false
	}
	if mode == ModeThree {
		return index%2 == 0
	}
	return true
}

func BandIndex(label string) (int, error) {
	normalized := strings.ToUpper(strings.TrimSpace(label))
	for i, band := range Bands {
		if band.Label == normalized {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrInvalidBand, label)
}

// Parse accepts the stored form of a gain vector. Missing or malformed
// input falls back to fallback.
func Parse(values []int, fallback Gains) Gains {
	if len(values) != BandCount {
		return fallback
	}

	var gains Gains
	for i, value := range values {
		gains[i] = ClampValue(value)
	}
	return gains
}

func (g Gains) Slice() []int {
	return append([]int(nil), g[:]...)
}
