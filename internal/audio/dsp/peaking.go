// Package dsp holds the band filters the beep output puts between a decoder
// and its volume stage.
package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/faiface/beep"
)

// DefaultQ gives roughly one octave of bandwidth per band.
const DefaultQ = 1.0

var (
	ErrDuplicateBand = errors.New("band already in chain")
	ErrUnknownBand   = errors.New("unknown band")
	ErrInvalidBand   = errors.New("invalid band frequency")
)

type coefficients struct {
	b0, b1, b2 float64
	a1, a2     float64
}

type history struct {
	x1, x2 float64
	y1, y2 float64
}

// Peaking is a second-order peaking filter (RBJ cookbook) applied to both
// stereo channels.
type Peaking struct {
	frequency  float64
	q          float64
	gain       float64
	sampleRate beep.SampleRate
	coeff      coefficients
	state      [2]history
}

func NewPeaking(sampleRate beep.SampleRate, frequencyHz float64, q float64, gainDB float64) (*Peaking, error) {
	if frequencyHz <= 0 || frequencyHz >= float64(sampleRate)/2 {
		return nil, fmt.Errorf("%w: %vHz at %dHz", ErrInvalidBand, frequencyHz, sampleRate)
	}
	if q <= 0 {
		q = DefaultQ
	}

	p := &Peaking{frequency: frequencyHz, q: q, sampleRate: sampleRate}
	p.SetGain(gainDB)
	return p, nil
}

func (p *Peaking) Gain() float64 {
	return p.gain
}

func (p *Peaking) Frequency() float64 {
	return p.frequency
}

// SetGain recomputes the coefficients. Filter history is kept so a live
// change does not click.
func (p *Peaking) SetGain(gainDB float64) {
	p.gain = gainDB

	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * p.frequency / float64(p.sampleRate)
	alpha := math.Sin(w0) / (2 * p.q)
	cosW0 := math.Cos(w0)

	a0 := 1 + alpha/a
	p.coeff = coefficients{
		b0: (1 + alpha*a) / a0,
		b1: (-2 * cosW0) / a0,
		b2: (1 - alpha*a) / a0,
		a1: (-2 * cosW0) / a0,
		a2: (1 - alpha/a) / a0,
	}
}

// Process filters samples in place.
func (p *Peaking) Process(samples [][2]float64) {
	c := p.coeff
	for i := range samples {
		for ch := 0; ch < 2; ch++ {
			h := &p.state[ch]
			x := samples[i][ch]
			y := c.b0*x + c.b1*h.x1 + c.b2*h.x2 - c.a1*h.y1 - c.a2*h.y2
			h.x2, h.x1 = h.x1, x
			h.y2, h.y1 = h.y1, y
			samples[i][ch] = y
		}
	}
}

func (p *Peaking) Reset() {
	p.state = [2]history{}
}

type band struct {
	label  string
	filter *Peaking
}

// Chain runs a source streamer through labelled peaking filters in series.
// It is not safe for concurrent use; the beep output mutates it under
// speaker.Lock.
type Chain struct {
	source     beep.Streamer
	sampleRate beep.SampleRate
	bands      []band
}

func NewChain(source beep.Streamer, sampleRate beep.SampleRate) *Chain {
	return &Chain{source: source, sampleRate: sampleRate}
}

func (c *Chain) Stream(samples [][2]float64) (int, bool) {
	n, ok := c.source.Stream(samples)
	for _, b := range c.bands {
		b.filter.Process(samples[:n])
	}
	return n, ok
}

func (c *Chain) Err() error {
	return c.source.Err()
}

func (c *Chain) Add(label string, frequencyHz float64, gainDB float64) error {
	if c.index(label) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateBand, label)
	}

	filter, err := NewPeaking(c.sampleRate, frequencyHz, DefaultQ, gainDB)
	if err != nil {
		return err
	}
	c.bands = append(c.bands, band{label: label, filter: filter})
	return nil
}

func (c *Chain) SetGain(label string, gainDB float64) error {
	index := c.index(label)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownBand, label)
	}
	c.bands[index].filter.SetGain(gainDB)
	return nil
}

func (c *Chain) Remove(label string) error {
	index := c.index(label)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownBand, label)
	}
	c.bands = append(c.bands[:index], c.bands[index+1:]...)
	return nil
}

// Reset clears filter history, as after a seek.
func (c *Chain) Reset() {
	for _, b := range c.bands {
		b.filter.Reset()
	}
}

func (c *Chain) Len() int {
	return len(c.bands)
}

func (c *Chain) index(label string) int {
	for i, b := range c.bands {
		if b.label == label {
			return i
		}
	}
	return -1
}
