package library

import (
	"errors"
	"fmt"
	"math"
	"time"

	"deck/internal/equalizer"
)

const DefaultTrackVolume = 0.75

var ErrTrackNotFound = errors.New("track not found")

var ErrInvalidPlaybackParams = errors.New("invalid playback params")

// Track is the engine's view of a library entry. Removed tracks stay in the
// library so history survives, but can no longer be played.
type Track struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Artist      string         `json:"artist"`
	Album       string         `json:"album"`
	AlbumArtist string         `json:"albumArtist"`
	DurationMS  int            `json:"durationMs"`
	Path        string         `json:"path"`
	Removed     bool           `json:"removed"`
	Playback    PlaybackParams `json:"playback"`
}

type PlaybackParams struct {
	Volume            float64         `json:"volume"`
	StartTimeMS       int             `json:"startTimeMs"`
	EndTimeOffsetMS   int             `json:"endTimeOffsetMs"`
	FadeDurationMS    int             `json:"fadeDurationMs"`
	EndFadeDurationMS int             `json:"endFadeDurationMs"`
	EQ                equalizer.Gains `json:"eq"`
}

// PlaybackPatch carries a partial update; nil fields keep their value.
type PlaybackPatch struct {
	Volume            *float64 `json:"volume,omitempty"`
	StartTimeMS       *int     `json:"startTimeMs,omitempty"`
	EndTimeOffsetMS   *int     `json:"endTimeOffsetMs,omitempty"`
	FadeDurationMS    *int     `json:"fadeDurationMs,omitempty"`
	EndFadeDurationMS *int     `json:"endFadeDurationMs,omitempty"`
	EQ                []int    `json:"eq,omitempty"`
}

func DefaultPlaybackParams() PlaybackParams {
	return PlaybackParams{
		Volume: DefaultTrackVolume,
		EQ:     equalizer.DefaultTrackGains(),
	}
}

func (t Track) Duration() time.Duration {
	return milliseconds(t.DurationMS)
}

func (p PlaybackParams) StartTime() time.Duration {
	return milliseconds(p.StartTimeMS)
}

func (p PlaybackParams) EndTimeOffset() time.Duration {
	return milliseconds(p.EndTimeOffsetMS)
}

func (p PlaybackParams) FadeDuration() time.Duration {
	return milliseconds(p.FadeDurationMS)
}

func (p PlaybackParams) EndFadeDuration() time.Duration {
	return milliseconds(p.EndFadeDurationMS)
}

func (p PlaybackParams) Validate() error {
	if math.IsNaN(p.Volume) || p.Volume < 0 || p.Volume > 1 {
		return fmt.Errorf("%w: volume %v outside 0..1", ErrInvalidPlaybackParams, p.Volume)
	}

	for name, value := range map[string]int{
		"startTimeMs":       p.StartTimeMS,
		"endTimeOffsetMs":   p.EndTimeOffsetMS,
		"fadeDurationMs":    p.FadeDurationMS,
		"endFadeDurationMs": p.EndFadeDurationMS,
	} {
		if value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidPlaybackParams, name)
		}
	}

	for i, value := range p.EQ {
		if value < equalizer.MinValue || value > equalizer.MaxValue {
			return fmt.Errorf("%w: eq band %s = %d", ErrInvalidPlaybackParams, equalizer.Bands[i].Label, value)
		}
	}

	return nil
}

func (p PlaybackParams) Apply(patch PlaybackPatch) (PlaybackParams, error) {
	if patch.Volume != nil {
		p.Volume = *patch.Volume
	}
	if patch.StartTimeMS != nil {
		p.StartTimeMS = *patch.StartTimeMS
	}
	if patch.EndTimeOffsetMS != nil {
		p.EndTimeOffsetMS = *patch.EndTimeOffsetMS
	}
	if patch.FadeDurationMS != nil {
		p.FadeDurationMS = *patch.FadeDurationMS
	}
	if patch.EndFadeDurationMS != nil {
		p.EndFadeDurationMS = *patch.EndFadeDurationMS
	}
	if patch.EQ != nil {
		if len(patch.EQ) != equalizer.BandCount {
			return p, fmt.Errorf("%w: eq needs %d bands, got %d", ErrInvalidPlaybackParams, equalizer.BandCount, len(patch.EQ))
		}
		copy(p.EQ[:], patch.EQ)
	}

	return p, p.Validate()
}

func milliseconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}
