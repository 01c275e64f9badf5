package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deck/internal/player"

	"go.uber.org/zap"
)

const (
	EventStart     = "start"
	EventHeartbeat = "heartbeat"
	EventComplete  = "complete"
	EventSkip      = "skip"
	EventPartial   = "partial"
)

const heartbeatInterval = 30 * time.Second

const maxDeltaMS = 30000

// pendingStateLimit bounds the states waiting for Run; the oldest go first.
const pendingStateLimit = 1024

var ErrInvalidTrackID = errors.New("invalid track id")

// Service turns the main channel's published state into play history.
// Listening time is accumulated from state timestamps and flushed as
// heartbeat events; every finished instance is classified once.
type Service struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	session session

	pendingMu sync.Mutex
	pending   []player.State
	wake      chan struct{}

	lastCompactionAt  time.Time
	compactionRunning bool
}

// session is the queue instance currently being listened to.
type session struct {
	queueID   string
	trackID   int64
	duration  int
	position  int
	playing   bool
	playedMS  int
	pendingMS int
	observed  time.Time
}

func (s session) active() bool {
	return s.queueID != ""
}

type playEvent struct {
	trackID   int64
	eventType string
	position  int
	at        time.Time
}

func NewService(database *sql.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		db:     database,
		logger: logger.Named("stats"),
		now:    func() time.Time { return time.Now().UTC() },
		wake:   make(chan struct{}, 1),
	}
}

// Observe queues a published player state for Run. It never blocks, so it
// can be registered as a channel listener.
func (s *Service) Observe(state player.State) {
	s.pendingMu.Lock()
	dropped := len(s.pending) >= pendingStateLimit
	if dropped {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, state)
	s.pendingMu.Unlock()

	if dropped {
		s.logger.Debug("stats backlog full, dropped oldest player state")
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run records observed states and compacts old events until ctx is done.
// States still queued at shutdown are recorded before it returns.
func (s *Service) Run(ctx context.Context) {
	s.maybeCompact(s.now())

	ticker := time.NewTicker(compactionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-s.wake:
			s.drain()
		case <-ticker.C:
			s.maybeCompact(s.now())
		}
	}
}

func (s *Service) drain() {
	s.pendingMu.Lock()
	states := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for _, state := range states {
		s.HandlePlayerState(state)
	}
}

// RecordStart stores a start event for trackID.
func (s *Service) RecordStart(ctx context.Context, trackID int64) error {
	if trackID <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTrackID, trackID)
	}
	if s.db == nil {
		return nil
	}

	_, err := s.db.ExecContext(
		ctx,
		"INSERT INTO play_events(track_id, event_type, position_ms, ts) VALUES (?, ?, 0, ?)",
		trackID,
		EventStart,
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record start for track %d: %w", trackID, err)
	}
	return nil
}

// HandlePlayerState folds one state into the listening session and stores
// the events it produces. Run calls it; it does database work inline.
func (s *Service) HandlePlayerState(state player.State) {
	if s.db == nil {
		return
	}

	observedAt := parseStateTime(state.UpdatedAt, s.now)
	status := normalizeStatus(state.Status)
	queueID, trackID, durationMS := currentInstance(state)
	positionMS := max(state.PositionMS, 0)

	s.mu.Lock()
	events := s.observeLocked(status, queueID, trackID, durationMS, positionMS, observedAt)
	s.mu.Unlock()

	s.persistEvents(events)
}

func (s *Service) observeLocked(status string, queueID string, trackID int64, durationMS int, positionMS int, observedAt time.Time) []playEvent {
	events := make([]playEvent, 0, 4)
	current := &s.session

	if current.active() {
		if current.playing {
			delta := elapsedMS(current.observed, observedAt)
			current.playedMS += delta
			current.pendingMS += delta

			step := int(heartbeatInterval / time.Millisecond)
			for current.pendingMS >= step {
				current.pendingMS -= step
				events = append(events, playEvent{current.trackID, EventHeartbeat, step, observedAt})
			}
		}

		if queueID == current.queueID && status != player.StatusEnded {
			current.position = positionMS
			if durationMS > 0 {
				current.duration = durationMS
			}
		}

		interrupted := current.playing && (status != player.StatusPlaying || queueID != current.queueID)
		if interrupted && current.pendingMS > 0 {
			events = append(events, playEvent{current.trackID, EventHeartbeat, current.pendingMS, observedAt})
			current.pendingMS = 0
		}

		if shouldFinalize(current.queueID, queueID, status) {
			if status == player.StatusEnded && queueID == current.queueID && positionMS > current.position {
				current.position = positionMS
			}
			if kind := classifyTrackEnd(current.playedMS, current.position, current.duration); kind != "" {
				events = append(events, playEvent{current.trackID, kind, current.position, observedAt})
			}
			*current = session{}
		}
	}

	if status == player.StatusPlaying && queueID != "" {
		if current.queueID != queueID {
			*current = session{queueID: queueID, trackID: trackID}
		}
		current.duration = durationMS
		current.position = positionMS
		current.playing = true
	} else if current.active() {
		current.playing = false
	}

	current.observed = observedAt
	return events
}

func (s *Service) persistEvents(events []playEvent) {
	if len(events) == 0 || s.db == nil {
		return
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Warn("begin play events", zap.Error(err))
		return
	}

	defer func() {
		_ = tx.Rollback()
	}()

	for _, event := range events {
		if event.trackID <= 0 {
			continue
		}

		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO play_events(track_id, event_type, position_ms, ts) VALUES (?, ?, ?, ?)",
			event.trackID,
			event.eventType,
			event.position,
			event.at.UTC().Format(time.RFC3339),
		); err != nil {
			s.logger.Warn("store play event", zap.Int64("trackId", event.trackID), zap.String("event", event.eventType), zap.Error(err))
			return
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Warn("commit play events", zap.Error(err))
	}
}

// shouldFinalize reports whether the active instance is over: another
// instance took its place, it ended, or the channel went idle.
func shouldFinalize(activeQueueID string, queueID string, status string) bool {
	if activeQueueID == "" {
		return false
	}

	switch {
	case queueID != "" && queueID != activeQueueID:
		return true
	case status == player.StatusEnded:
		return true
	case status == player.StatusIdle && queueID == "":
		return true
	default:
		return false
	}
}

func elapsedMS(start time.Time, end time.Time) int {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return 0
	}

	return min(int(end.Sub(start)/time.Millisecond), maxDeltaMS)
}

func parseStateTime(value string, now func() time.Time) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
			return parsed.UTC()
		}
	}

	return now().UTC()
}

func currentInstance(state player.State) (string, int64, int) {
	if state.Current == nil {
		return "", 0, 0
	}

	durationMS := state.DurationMS
	if durationMS <= 0 {
		durationMS = state.Current.Track.DurationMS
	}

	return state.Current.QueueID, state.Current.Track.ID, durationMS
}

func normalizeStatus(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case player.StatusPlaying:
		return player.StatusPlaying
	case player.StatusPaused, player.StatusLoading:
		return player.StatusPaused
	case player.StatusEnded:
		return player.StatusEnded
	default:
		return player.StatusIdle
	}
}
