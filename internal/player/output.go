package player

import "time"

// Output is one audio output lane. Implementations must be safe for use from
// the owning channel goroutine plus their own event goroutine; the ended
// callback may fire on any goroutine.
type Output interface {
	// Open loads path paused with the playhead already at start.
	Open(path string, start time.Duration) error
	Play() error
	Pause() error
	// Stop halts output and unloads the current file. It never fires the
	// ended callback.
	Stop() error
	Seek(position time.Duration) error
	// SetVolume takes a linear gain in 0..1.
	SetVolume(volume float64) error
	Position() (time.Duration, error)
	Duration() (time.Duration, error)
	SetOnEnded(callback func())
	// Filters returns the output's band filter chain or ErrEqUnavailable.
	Filters() (FilterChain, error)
	// SetDevice routes the output to deviceID; "" selects the system default.
	SetDevice(deviceID string) error
	Close() error
}

// FilterChain is a series of peaking band filters sitting between the
// decoder and the output volume stage.
type FilterChain interface {
	AddBand(label string, frequencyHz float64, gainDB float64) error
	SetBandGain(label string, gainDB float64) error
	RemoveBand(label string) error
}

type Device struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// DeviceLister is implemented by outputs that can enumerate sinks.
type DeviceLister interface {
	Devices() ([]Device, error)
}
