// Package audio provides the concrete outputs behind player.Output. The
// default build plays through beep; building with -tags libmpv swaps in a
// libmpv backed output.
package audio

import (
	"time"

	"deck/internal/player"
)

const (
	DefaultSampleRate = 44100
	DefaultBuffer     = 100 * time.Millisecond
)

type Config struct {
	SampleRate int
	Buffer     time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	return c
}

var _ player.Output = (*Output)(nil)
