package player

import (
	"time"

	"deck/internal/fade"
)

// FadeController drives the start and end volume envelopes of one loaded
// track from wall-clock time. When both envelopes are live in the same tick
// the end envelope is written last and wins.
type FadeController struct {
	base float64

	startAt       time.Duration
	startDuration time.Duration
	startBegan    bool
	startDone     bool
	startOrigin   time.Time

	endOffset   time.Duration
	endDuration time.Duration
	endActive   bool
	endDone     bool
	endOrigin   time.Time
	endSpan     time.Duration

	paused   bool
	pausedAt time.Time
	volume   float64
}

type FadeParams struct {
	StartTime       time.Duration
	FadeDuration    time.Duration
	EndTimeOffset   time.Duration
	EndFadeDuration time.Duration
}

// Prime arms both envelopes for a freshly loaded track and returns the
// volume the output must carry before any audio is heard.
func (f *FadeController) Prime(params FadeParams, base float64) float64 {
	*f = FadeController{
		base:          fade.Clamp(base),
		startAt:       params.StartTime,
		startDuration: params.FadeDuration,
		endOffset:     params.EndTimeOffset,
		endDuration:   params.EndFadeDuration,
	}

	if f.startDuration > 0 {
		f.volume = 0
	} else {
		f.startDone = true
		f.volume = f.base
	}
	return f.volume
}

// Update swaps envelope params on a live track. A start fade that already
// ran stays finished.
func (f *FadeController) Update(params FadeParams) {
	f.startAt = params.StartTime
	f.startDuration = params.FadeDuration
	if f.startDuration <= 0 && !f.startDone {
		f.startDone = true
	}
	f.endOffset = params.EndTimeOffset
	f.endDuration = params.EndFadeDuration
}

func (f *FadeController) Volume() float64 {
	return f.volume
}

// SetBase rescales the steady volume. It reports the volume to write when no
// envelope is in control of the output.
func (f *FadeController) SetBase(base float64) (float64, bool) {
	f.base = fade.Clamp(base)
	if f.envelopeRunning() || f.endDone || !f.startDone {
		return f.volume, false
	}

	f.volume = f.base
	return f.volume, true
}

func (f *FadeController) envelopeRunning() bool {
	return (f.startBegan && !f.startDone) || f.endActive
}

func (f *FadeController) Pause(now time.Time) {
	if f.paused {
		return
	}
	f.paused = true
	f.pausedAt = now
}

// Resume shifts running envelopes by the paused span so they continue where
// they froze.
func (f *FadeController) Resume(now time.Time) {
	if !f.paused {
		return
	}

	shift := now.Sub(f.pausedAt)
	if shift > 0 {
		if f.startBegan && !f.startDone {
			f.startOrigin = f.startOrigin.Add(shift)
		}
		if f.endActive {
			f.endOrigin = f.endOrigin.Add(shift)
		}
	}
	f.paused = false
}

// Seeked re-arms the end envelope when the playhead jumps back before its
// window, restoring the steady volume.
func (f *FadeController) Seeked(position time.Duration, duration time.Duration) (float64, bool) {
	windowStart, _, ok := f.endWindow(duration)
	if !ok || position >= windowStart || (!f.endActive && !f.endDone) {
		return f.volume, false
	}

	f.endActive = false
	f.endDone = false
	if !f.startDone {
		return f.volume, false
	}
	f.volume = f.base
	return f.volume, true
}

// Tick advances the envelopes and reports a new output volume when it
// changed.
func (f *FadeController) Tick(now time.Time, position time.Duration, duration time.Duration) (float64, bool) {
	if f.paused {
		return f.volume, false
	}

	next := f.volume

	if !f.startDone {
		if !f.startBegan && position >= f.startAt {
			f.startBegan = true
			f.startOrigin = now
		}
		if f.startBegan {
			progress := fade.Progress(f.startOrigin, f.startDuration, now)
			next = fade.TargetVolume(progress, f.base)
			if progress >= 1 {
				f.startDone = true
			}
		}
	}

	if !f.endDone {
		if windowStart, windowEnd, ok := f.endWindow(duration); ok {
			if !f.endActive && position >= windowStart {
				f.endActive = true
				f.endSpan = windowEnd - windowStart
				// a late first sample still lands on the right point of the ramp
				f.endOrigin = now.Add(-(position - windowStart))
			}
			if f.endActive {
				progress := fade.EndProgress(f.endOrigin, f.endSpan, now)
				next = fade.TargetVolume(progress, f.base)
				if progress <= 0 || position >= windowEnd {
					next = 0
					f.endActive = false
					f.endDone = true
				}
			}
		}
	}

	if next == f.volume {
		return f.volume, false
	}
	f.volume = next
	return f.volume, true
}

// endWindow returns the playhead span of the end envelope. The start is
// clamped so the window never opens before the trim-in point.
func (f *FadeController) endWindow(duration time.Duration) (time.Duration, time.Duration, bool) {
	if f.endDuration <= 0 || duration <= 0 {
		return 0, 0, false
	}

	end := duration - f.endOffset
	start := end - f.endDuration
	if start < f.startAt {
		start = f.startAt
	}
	if end <= start {
		return 0, 0, false
	}
	return start, end, true
}
