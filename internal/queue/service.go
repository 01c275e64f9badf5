package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"deck/internal/library"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const EventStateChanged = "queue:state"

const (
	RepeatModeNone = "none"
	RepeatModeOne  = "one"
	RepeatModeAll  = "all"
)

var (
	ErrInvalidQueuePosition = errors.New("invalid queue position")
	ErrUnknownQueueID       = errors.New("unknown queue id")
	ErrNoCurrentTrack       = errors.New("no current track")
	ErrInvalidRepeatMode    = errors.New("invalid repeat mode")
	// ErrRemovedLastPlaying accompanies a removal that took the playing
	// instance with nothing queued behind it. The removal and the stop are
	// still applied.
	ErrRemovedLastPlaying = errors.New("removed the playing track with nothing queued")
)

type Emitter func(eventName string, payload any)

type ChangeListener func(state State)

// TrackSource resolves persisted track ids back into tracks on startup.
type TrackSource interface {
	GetMany(ctx context.Context, ids []int64) (map[int64]library.Track, error)
}

// Entry is one appearance of a track in the timeline. The same track can
// appear several times, each with its own QueueID.
type Entry struct {
	QueueID string        `json:"queueId"`
	Track   library.Track `json:"track"`
}

type State struct {
	Current    *Entry  `json:"current,omitempty"`
	Queue      []Entry `json:"queue"`
	History    []Entry `json:"history"`
	IsPlaying  bool    `json:"isPlaying"`
	Shuffle    bool    `json:"shuffle"`
	RepeatMode string  `json:"repeatMode"`
	UpdatedAt  string  `json:"updatedAt"`
}

// Timeline flattens the state into history, current, queue order.
func (s State) Timeline() []Entry {
	timeline := make([]Entry, 0, len(s.History)+len(s.Queue)+1)
	timeline = append(timeline, s.History...)
	if s.Current != nil {
		timeline = append(timeline, *s.Current)
	}
	return append(timeline, s.Queue...)
}

type Service struct {
	mu         sync.Mutex
	persistMu  sync.Mutex
	db         *sql.DB
	tracks     TrackSource
	logger     *zap.Logger
	current    *Entry
	upcoming   []Entry
	history    []Entry
	playing    bool
	repeatMode string
	shuffle    bool
	updatedAt  time.Time
	emit       Emitter
	onChange   []ChangeListener
	rng        *rand.Rand
	newID      func() string
}

func NewService(database *sql.DB, tracks TrackSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &Service{
		db:         database,
		tracks:     tracks,
		logger:     logger.Named("queue"),
		repeatMode: RepeatModeNone,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		newID:      uuid.NewString,
	}

	service.loadSnapshot()
	return service
}

func (s *Service) SetEmitter(emitter Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emitter
}

// AddListener registers a callback run after every mutation, outside the
// service lock.
func (s *Service) AddListener(listener ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, listener)
}

// SetRand replaces the shuffle source.
func (s *Service) SetRand(rng *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rng
}

func (s *Service) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Service) Current() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Entry{}, false
	}
	return *s.current, true
}

func (s *Service) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Service) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upcoming)
}

// AddToQueue appends track as a new instance. With nothing current, the new
// instance becomes current instead.
func (s *Service) AddToQueue(track library.Track) (Entry, State) {
	s.mu.Lock()
	entry := s.newEntryLocked(track)
	if s.current == nil {
		s.current = &entry
	} else {
		s.upcoming = append(s.upcoming, entry)
	}
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return entry, state
}

// SetCurrentTrack makes a fresh instance of track current. The replaced
// current instance moves to history.
func (s *Service) SetCurrentTrack(track library.Track) (Entry, State) {
	s.mu.Lock()
	entry := s.newEntryLocked(track)
	if s.current != nil {
		s.history = append(s.history, *s.current)
	}
	s.current = &entry
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return entry, state
}

func (s *Service) RemoveFromQueue(queueID string) (State, error) {
	return s.removeEntry(queueID, sectionQueue)
}

func (s *Service) RemoveFromHistory(queueID string) (State, error) {
	return s.removeEntry(queueID, sectionHistory)
}

func (s *Service) removeEntry(queueID string, section string) (State, error) {
	var result error

	s.mu.Lock()
	switch {
	case s.current != nil && s.current.QueueID == queueID:
		if s.replaceCurrentLocked() {
			result = fmt.Errorf("%w: %s", ErrRemovedLastPlaying, queueID)
		}
	default:
		list := &s.upcoming
		if section == sectionHistory {
			list = &s.history
		}

		index := indexOfEntry(*list, queueID)
		if index < 0 {
			state := s.snapshotLocked()
			s.mu.Unlock()
			return state, fmt.Errorf("%w: %s", ErrUnknownQueueID, queueID)
		}
		*list = removeAt(*list, index)
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, result
}

// replaceCurrentLocked promotes the queue head after the current instance
// is removed, or stops playback when the queue is empty. It reports whether
// playback was stopped.
func (s *Service) replaceCurrentLocked() bool {
	if len(s.upcoming) == 0 {
		stopped := s.playing
		s.current = nil
		s.playing = false
		return stopped
	}

	next := s.upcoming[0]
	s.upcoming = removeAt(s.upcoming, 0)
	s.current = &next
	return false
}

func (s *Service) MoveInQueue(from int, to int) (State, error) {
	s.mu.Lock()
	if from < 0 || from >= len(s.upcoming) || to < 0 || to >= len(s.upcoming) {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, fmt.Errorf("%w: move %d to %d in queue of %d", ErrInvalidQueuePosition, from, to, len(s.upcoming))
	}

	entry := s.upcoming[from]
	s.upcoming = insertAt(removeAt(s.upcoming, from), to, entry)
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, nil
}

// Reorder moves the entry at index from to index to within the flattened
// timeline [history..., current, queue...]. Entries that end up before the
// current instance belong to history, those after it to the queue.
func (s *Service) Reorder(from int, to int) (State, error) {
	s.mu.Lock()
	if err := s.reorderLocked(from, to); err != nil {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, err
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, nil
}

// MoveEntry is Reorder addressed by queue id.
func (s *Service) MoveEntry(queueID string, to int) (State, error) {
	s.mu.Lock()
	from := indexOfEntry(s.timelineLocked(), queueID)
	if from < 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, fmt.Errorf("%w: %s", ErrUnknownQueueID, queueID)
	}

	if err := s.reorderLocked(from, to); err != nil {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, err
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, nil
}

func (s *Service) reorderLocked(from int, to int) error {
	timeline := s.timelineLocked()
	if from < 0 || from >= len(timeline) || to < 0 || to >= len(timeline) {
		return fmt.Errorf("%w: move %d to %d in timeline of %d", ErrInvalidQueuePosition, from, to, len(timeline))
	}
	if from == to {
		return nil
	}

	if s.current != nil {
		moved := timeline[from]
		reordered := insertAt(removeAt(timeline, from), to, moved)
		split := indexOfEntry(reordered, s.current.QueueID)
		s.history = append([]Entry(nil), reordered[:split]...)
		s.upcoming = append([]Entry(nil), reordered[split+1:]...)
		return nil
	}

	// Without a current instance the boundary sits between history and
	// queue. An entry dropped exactly on it keeps its original side.
	boundary := len(s.history)
	fromHistory := from < boundary
	moved := timeline[from]
	rest := removeAt(timeline, from)
	if fromHistory {
		boundary--
	}

	toHistory := to < boundary || (to == boundary && fromHistory)
	reordered := insertAt(rest, to, moved)
	if toHistory {
		boundary++
	}

	s.history = append([]Entry(nil), reordered[:boundary]...)
	s.upcoming = append([]Entry(nil), reordered[boundary:]...)
	return nil
}

// PlayNextTrack advances the timeline according to the repeat and shuffle
// policy. Repeating creates a fresh instance; the old one goes to history.
func (s *Service) PlayNextTrack() State {
	s.mu.Lock()
	s.advanceLocked()
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state
}

func (s *Service) advanceLocked() {
	switch {
	case s.repeatMode == RepeatModeOne && s.current != nil:
		s.replayCurrentLocked()
	case len(s.upcoming) > 0:
		index := 0
		if s.shuffle {
			index = s.rng.Intn(len(s.upcoming))
		}

		next := s.upcoming[index]
		s.upcoming = removeAt(s.upcoming, index)
		if s.current != nil {
			s.history = append(s.history, *s.current)
		}
		s.current = &next
	case s.repeatMode == RepeatModeAll && s.current != nil:
		s.replayCurrentLocked()
	default:
		if s.current != nil {
			s.history = append(s.history, *s.current)
		}
		s.current = nil
		s.playing = false
	}
}

func (s *Service) replayCurrentLocked() {
	replay := s.newEntryLocked(s.current.Track)
	s.history = append(s.history, *s.current)
	s.current = &replay
}

// PlayPreviousTrack moves the newest history instance back to current,
// pushing the current instance onto the queue head. It reports false when
// history is empty.
func (s *Service) PlayPreviousTrack() (State, bool) {
	s.mu.Lock()
	if len(s.history) == 0 {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, false
	}

	previous := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	if s.current != nil {
		s.upcoming = insertAt(s.upcoming, 0, *s.current)
	}
	s.current = &previous
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, true
}

// DropCurrent discards the current instance without recording it in
// history, then advances. It is a no-op when queueID is no longer current.
func (s *Service) DropCurrent(queueID string) (State, bool) {
	s.mu.Lock()
	if s.current == nil || s.current.QueueID != queueID {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, false
	}

	s.current = nil
	s.advanceLocked()
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, true
}

func (s *Service) SetPlaying(playing bool) (State, error) {
	s.mu.Lock()
	if playing && s.current == nil {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, ErrNoCurrentTrack
	}
	if s.playing == playing {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, nil
	}

	s.playing = playing
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, nil
}

func (s *Service) SetShuffle(enabled bool) State {
	s.mu.Lock()
	s.shuffle = enabled
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state
}

func (s *Service) SetRepeatMode(mode string) (State, error) {
	normalized, err := NormalizeRepeatMode(mode)
	if err != nil {
		return s.GetState(), err
	}

	s.mu.Lock()
	s.repeatMode = normalized
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state, nil
}

// RefreshTrack replaces the stored copy of track in every instance that
// references it, so later loads see new playback params or removal.
func (s *Service) RefreshTrack(track library.Track) State {
	s.mu.Lock()
	changed := false
	if s.current != nil && s.current.Track.ID == track.ID {
		s.current.Track = track
		changed = true
	}
	for _, entries := range [][]Entry{s.upcoming, s.history} {
		for i := range entries {
			if entries[i].Track.ID == track.ID {
				entries[i].Track = track
				changed = true
			}
		}
	}

	if !changed {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state
	}

	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state
}

func (s *Service) Clear() State {
	s.mu.Lock()
	s.current = nil
	s.upcoming = nil
	s.history = nil
	s.playing = false
	s.touchLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.afterMutation(state)
	return state
}

func (s *Service) afterMutation(state State) {
	s.persistSnapshot(state)
	s.emitState(state)
	s.notifyChange(state)
}

func (s *Service) emitState(state State) {
	s.mu.Lock()
	emitter := s.emit
	s.mu.Unlock()

	if emitter != nil {
		emitter(EventStateChanged, state)
	}
}

func (s *Service) notifyChange(state State) {
	s.mu.Lock()
	listeners := append([]ChangeListener(nil), s.onChange...)
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(state)
	}
}

func (s *Service) snapshotLocked() State {
	state := State{
		Queue:      append([]Entry{}, s.upcoming...),
		History:    append([]Entry{}, s.history...),
		IsPlaying:  s.playing,
		Shuffle:    s.shuffle,
		RepeatMode: s.repeatMode,
		UpdatedAt:  s.updatedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.current != nil {
		current := *s.current
		state.Current = &current
	}

	return state
}

func (s *Service) timelineLocked() []Entry {
	timeline := make([]Entry, 0, len(s.history)+len(s.upcoming)+1)
	timeline = append(timeline, s.history...)
	if s.current != nil {
		timeline = append(timeline, *s.current)
	}
	return append(timeline, s.upcoming...)
}

func (s *Service) newEntryLocked(track library.Track) Entry {
	return Entry{QueueID: s.newID(), Track: track}
}

func (s *Service) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

func NormalizeRepeatMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", RepeatModeNone, "off":
		return RepeatModeNone, nil
	case RepeatModeOne:
		return RepeatModeOne, nil
	case RepeatModeAll:
		return RepeatModeAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRepeatMode, mode)
	}
}

func indexOfEntry(entries []Entry, queueID string) int {
	for i, entry := range entries {
		if entry.QueueID == queueID {
			return i
		}
	}
	return -1
}

func removeAt(entries []Entry, index int) []Entry {
	out := make([]Entry, 0, len(entries)-1)
	out = append(out, entries[:index]...)
	return append(out, entries[index+1:]...)
}

func insertAt(entries []Entry, index int, entry Entry) []Entry {
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries[:index]...)
	out = append(out, entry)
	return append(out, entries[index:]...)
}
