package stats

const (
	playedThresholdMS = 30000
	skipThresholdMS   = 45000

	shortTrackBoundaryMS  = 5 * 60 * 1000
	mediumTrackBoundaryMS = 20 * 60 * 1000

	shortTrackCompletePercent  = 90
	mediumTrackCompletePercent = 85
	longTrackCompletePercent   = 80

	antiSeekCapMS   = 180000
	antiSeekPercent = 25

	completeTailPercent = 3
	completeTailMinMS   = 8000
	completeTailMaxMS   = 90000
)

// classifyTrackEnd labels a finished instance complete, skip or partial.
// Longer tracks need a smaller share of their length to count as complete,
// and a track that was never heard at all gets no label.
func classifyTrackEnd(playedMS int, positionMS int, durationMS int) string {
	playedMS = max(playedMS, 0)
	positionMS = max(positionMS, 0)

	if playedMS == 0 {
		if positionMS == 0 {
			return ""
		}
		playedMS = positionMS
	}

	if playedMS < playedThresholdMS {
		return EventSkip
	}

	if durationMS <= 0 {
		if playedMS < skipThresholdMS {
			return EventSkip
		}
		return EventPartial
	}

	remaining := max(durationMS-playedMS, 0)
	completeByPercent := playedMS*100 >= durationMS*completePercent(durationMS)
	completeByTail := remaining <= tailAllowanceMS(durationMS)

	if playedMS >= minimumListenMS(durationMS) && (completeByPercent || completeByTail) {
		return EventComplete
	}

	if playedMS < min(skipThresholdMS, percentOf(durationMS, 20)) {
		return EventSkip
	}

	return EventPartial
}

// minimumListenMS stops a seek to the last seconds from counting as a
// complete listen.
func minimumListenMS(durationMS int) int {
	return min(antiSeekCapMS, percentOf(durationMS, antiSeekPercent))
}

func completePercent(durationMS int) int {
	switch {
	case durationMS <= shortTrackBoundaryMS:
		return shortTrackCompletePercent
	case durationMS <= mediumTrackBoundaryMS:
		return mediumTrackCompletePercent
	default:
		return longTrackCompletePercent
	}
}

func tailAllowanceMS(durationMS int) int {
	return min(max(percentOf(durationMS, completeTailPercent), completeTailMinMS), completeTailMaxMS)
}

func percentOf(value int, percent int) int {
	if value <= 0 || percent <= 0 {
		return 0
	}

	return (value * percent) / 100
}
