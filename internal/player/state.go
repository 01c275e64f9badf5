package player

import (
	"time"

	"deck/internal/queue"
)

const (
	EventStateChanged = "player:state"
	EventPreviewState = "preview:state"
	EventNotice       = "player:notice"
)

const (
	StatusIdle    = "idle"
	StatusLoading = "loading"
	StatusPlaying = "playing"
	StatusPaused  = "paused"
	StatusEnded   = "ended"
)

const (
	NoticeLoadGuard   = "load-guard"
	NoticeStartFailed = "start-failed"
)

type Emitter func(eventName string, payload any)

type State struct {
	Channel      string       `json:"channel"`
	Status       string       `json:"status"`
	Current      *queue.Entry `json:"current,omitempty"`
	IsPlaying    bool         `json:"isPlaying"`
	PositionMS   int          `json:"positionMs"`
	DurationMS   int          `json:"durationMs"`
	RemainingMS  int          `json:"remainingMs"`
	Volume       float64      `json:"volume"`
	OutputVolume float64      `json:"outputVolume"`
	DeviceID     string       `json:"deviceId"`
	EQAvailable  bool         `json:"eqAvailable"`
	UpdatedAt    string       `json:"updatedAt"`
}

// Notice is a user-facing message about a condition the channel could not
// recover from on its own.
type Notice struct {
	Channel string `json:"channel"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	At      string `json:"at"`
}

func durationMS(value time.Duration) int {
	if value <= 0 {
		return 0
	}
	return int(value / time.Millisecond)
}
