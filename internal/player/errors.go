package player

import "errors"

var (
	// ErrResourceMissing marks a track whose audio cannot be reached. It is an
	// expected condition and the channel skips past it.
	ErrResourceMissing = errors.New("resource missing")
	ErrLoadFailed      = errors.New("load failed")

	ErrEqUnavailable    = errors.New("equalizer unavailable")
	ErrSinkNotSupported = errors.New("output device selection not supported")
	ErrSinkNotFound     = errors.New("output device not found")

	ErrPlaybackStartFailed = errors.New("playback start failed")
	ErrNothingLoaded       = errors.New("no track loaded")
	ErrUnknownChannel      = errors.New("unknown channel")
	ErrChannelClosed       = errors.New("channel closed")
)
