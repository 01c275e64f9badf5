package player

import (
	"sync"

	"deck/internal/library"
	"deck/internal/queue"

	"github.com/google/uuid"
)

// Timeline is what a channel plays from: the shared queue for the main
// channel, a single private slot for preview.
type Timeline interface {
	Current() (queue.Entry, bool)
	IsPlaying() bool
	SetPlaying(playing bool) error
	PlayNext()
	PlayPrevious() bool
	// Drop discards queueID, if still current, without recording it as
	// played, then advances.
	Drop(queueID string)
	QueueLength() int
	Subscribe(listener func())
}

type queueTimeline struct {
	queue *queue.Service
}

// QueueTimeline adapts the queue store for the main channel.
func QueueTimeline(service *queue.Service) Timeline {
	return queueTimeline{queue: service}
}

func (t queueTimeline) Current() (queue.Entry, bool) {
	return t.queue.Current()
}

func (t queueTimeline) IsPlaying() bool {
	return t.queue.IsPlaying()
}

func (t queueTimeline) SetPlaying(playing bool) error {
	_, err := t.queue.SetPlaying(playing)
	return err
}

func (t queueTimeline) PlayNext() {
	t.queue.PlayNextTrack()
}

func (t queueTimeline) PlayPrevious() bool {
	_, moved := t.queue.PlayPreviousTrack()
	return moved
}

func (t queueTimeline) Drop(queueID string) {
	t.queue.DropCurrent(queueID)
}

func (t queueTimeline) QueueLength() int {
	return t.queue.QueueLength()
}

func (t queueTimeline) Subscribe(listener func()) {
	t.queue.AddListener(func(queue.State) {
		listener()
	})
}

// PreviewTimeline holds at most one track and never touches queue or
// history.
type PreviewTimeline struct {
	mu        sync.Mutex
	entry     *queue.Entry
	playing   bool
	listeners []func()
}

func NewPreviewTimeline() *PreviewTimeline {
	return &PreviewTimeline{}
}

// Start replaces the preview slot with track and asks for playback.
func (p *PreviewTimeline) Start(track library.Track) queue.Entry {
	p.mu.Lock()
	entry := queue.Entry{QueueID: uuid.NewString(), Track: track}
	p.entry = &entry
	p.playing = true
	p.mu.Unlock()

	p.notify()
	return entry
}

func (p *PreviewTimeline) Stop() {
	p.clear()
}

func (p *PreviewTimeline) Current() (queue.Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entry == nil {
		return queue.Entry{}, false
	}
	return *p.entry, true
}

func (p *PreviewTimeline) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *PreviewTimeline) SetPlaying(playing bool) error {
	p.mu.Lock()
	if playing && p.entry == nil {
		p.mu.Unlock()
		return queue.ErrNoCurrentTrack
	}
	changed := p.playing != playing
	p.playing = playing
	p.mu.Unlock()

	if changed {
		p.notify()
	}
	return nil
}

// PlayNext ends the preview; there is nothing after it.
func (p *PreviewTimeline) PlayNext() {
	p.clear()
}

func (p *PreviewTimeline) PlayPrevious() bool {
	return false
}

func (p *PreviewTimeline) Drop(queueID string) {
	p.mu.Lock()
	if p.entry == nil || p.entry.QueueID != queueID {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.clear()
}

func (p *PreviewTimeline) QueueLength() int {
	return 0
}

// RefreshTrack updates the previewed copy of track.
func (p *PreviewTimeline) RefreshTrack(track library.Track) {
	p.mu.Lock()
	if p.entry == nil || p.entry.Track.ID != track.ID {
		p.mu.Unlock()
		return
	}
	p.entry.Track = track
	p.mu.Unlock()

	p.notify()
}

func (p *PreviewTimeline) Subscribe(listener func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, listener)
}

func (p *PreviewTimeline) clear() {
	p.mu.Lock()
	if p.entry == nil && !p.playing {
		p.mu.Unlock()
		return
	}
	p.entry = nil
	p.playing = false
	p.mu.Unlock()

	p.notify()
}

func (p *PreviewTimeline) notify() {
	p.mu.Lock()
	listeners := append([]func(){}, p.listeners...)
	p.mu.Unlock()

	for _, listener := range listeners {
		listener()
	}
}
