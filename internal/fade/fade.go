// Package fade holds the pure volume math used for track fade-in and
// fade-out envelopes. Every function clamps its result to [0, 1].
package fade

import "time"

func Clamp(value float64) float64 {
	switch {
	case value != value: // NaN
		return 0
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}

// NormalizedVolume combines the global volume with a track's own volume.
func NormalizedVolume(globalVolume float64, trackVolume float64) float64 {
	return Clamp(Clamp(globalVolume) * Clamp(trackVolume))
}

// Progress reports how far a fade-in started at start has advanced at now.
// A non-positive duration means no fade and reports 1.
func Progress(start time.Time, duration time.Duration, now time.Time) float64 {
	if duration <= 0 {
		return 1
	}

	return Clamp(float64(now.Sub(start)) / float64(duration))
}

// EndProgress is the mirror of Progress for fade-outs: 1 at fadeStart
// falling to 0 once duration has elapsed. A non-positive duration reports 0.
func EndProgress(fadeStart time.Time, duration time.Duration, now time.Time) float64 {
	if duration <= 0 {
		return 0
	}

	return Clamp(1 - float64(now.Sub(fadeStart))/float64(duration))
}

func TargetVolume(progress float64, base float64) float64 {
	return Clamp(Clamp(progress) * Clamp(base))
}
