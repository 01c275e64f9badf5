package player

import "time"

type PositionSample struct {
	Current     time.Duration
	Duration    time.Duration
	Remaining   time.Duration
	TrimReached bool
}

// PositionMonitor turns media clock readings into display values and the
// one-shot trim-out signal.
type PositionMonitor struct {
	endOffset time.Duration
	fired     bool
	last      PositionSample
}

func (m *PositionMonitor) Reset(endOffset time.Duration) {
	m.endOffset = endOffset
	m.fired = false
	m.last = PositionSample{}
}

// SetEndOffset changes the trim-out point of the running track without
// re-arming a signal that already fired.
func (m *PositionMonitor) SetEndOffset(endOffset time.Duration) {
	m.endOffset = endOffset
}

func (m *PositionMonitor) Sample(position time.Duration, duration time.Duration) PositionSample {
	if position < 0 {
		position = 0
	}

	sample := PositionSample{Current: position, Duration: duration}
	if duration > 0 {
		sample.Remaining = duration - position
		if sample.Remaining < 0 {
			sample.Remaining = 0
		}
	}

	if !m.fired && m.endOffset > 0 && duration > 0 && sample.Remaining <= m.endOffset {
		m.fired = true
		sample.TrimReached = true
	}

	m.last = sample
	return sample
}

func (m *PositionMonitor) Last() PositionSample {
	return m.last
}
