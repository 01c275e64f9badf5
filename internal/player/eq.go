package player

import (
	"errors"
	"fmt"

	"deck/internal/equalizer"

	"go.uber.org/zap"
)

// EQProcessor owns one band filter per equalizer band on a single output.
type EQProcessor struct {
	logger   *zap.Logger
	output   Output
	chain    FilterChain
	attached bool
	gains    [equalizer.BandCount]float64
}

func NewEQProcessor(logger *zap.Logger) *EQProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EQProcessor{logger: logger}
}

func bandLabel(index int) string {
	return fmt.Sprintf("deckeq%d", index)
}

// Attach builds the band chain on output. Attaching the same output twice is
// a no-op; a different output replaces the previous chain.
func (p *EQProcessor) Attach(output Output) error {
	if p.attached && p.output == output {
		return nil
	}
	p.Detach()

	chain, err := output.Filters()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEqUnavailable, err)
	}

	for i, band := range equalizer.Bands {
		if err := chain.AddBand(bandLabel(i), band.FrequencyHz, p.gains[i]); err != nil {
			for j := 0; j < i; j++ {
				_ = chain.RemoveBand(bandLabel(j))
			}
			return fmt.Errorf("%w: add band %s: %v", ErrEqUnavailable, band.Label, err)
		}
	}

	p.output = output
	p.chain = chain
	p.attached = true
	return nil
}

func (p *EQProcessor) Attached() bool {
	return p.attached
}

// SetBandGain updates one live filter. Gains set while detached are kept
// and applied on the next Attach.
func (p *EQProcessor) SetBandGain(index int, gainDB float64) error {
	if index < 0 || index >= equalizer.BandCount {
		return fmt.Errorf("%w: %d", equalizer.ErrInvalidBand, index)
	}

	p.gains[index] = gainDB
	if !p.attached {
		return nil
	}

	return p.chain.SetBandGain(bandLabel(index), gainDB)
}

// Apply sets every band from a combined 0..100 gain vector.
func (p *EQProcessor) Apply(gains equalizer.Gains) error {
	var errs []error
	for i, decibels := range gains.Decibels() {
		if err := p.SetBandGain(i, decibels); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *EQProcessor) Gains() [equalizer.BandCount]float64 {
	return p.gains
}

func (p *EQProcessor) Detach() {
	if !p.attached {
		return
	}

	for i := range equalizer.Bands {
		if err := p.chain.RemoveBand(bandLabel(i)); err != nil {
			p.logger.Debug("remove eq band", zap.Int("band", i), zap.Error(err))
		}
	}

	p.output = nil
	p.chain = nil
	p.attached = false
}
