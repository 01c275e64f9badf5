package main

import (
	"context"
	"fmt"
	"net/http"

	"deck/internal/library"
	"deck/internal/queue"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type QueueService struct {
	queue  *queue.Service
	tracks trackLookup
}

func NewQueueService(queueService *queue.Service, tracks trackLookup) *QueueService {
	return &QueueService{queue: queueService, tracks: tracks}
}

func (s *QueueService) GetState() queue.State {
	return s.queue.GetState()
}

func (s *QueueService) AddToQueue(ctx context.Context, trackID int64) (queue.State, error) {
	track, err := s.playable(ctx, trackID)
	if err != nil {
		return queue.State{}, err
	}
	_, state := s.queue.AddToQueue(track)
	return state, nil
}

// PlayNow makes a fresh instance of the track current and, when play is set,
// asks the main channel to start it.
func (s *QueueService) PlayNow(ctx context.Context, trackID int64, play bool) (queue.State, error) {
	track, err := s.playable(ctx, trackID)
	if err != nil {
		return queue.State{}, err
	}
	_, state := s.queue.SetCurrentTrack(track)
	if play {
		return s.queue.SetPlaying(true)
	}
	return state, nil
}

func (s *QueueService) RemoveFromQueue(queueID string) (queue.State, error) {
	return s.queue.RemoveFromQueue(queueID)
}

func (s *QueueService) RemoveFromHistory(queueID string) (queue.State, error) {
	return s.queue.RemoveFromHistory(queueID)
}

func (s *QueueService) MoveInQueue(from int, to int) (queue.State, error) {
	return s.queue.MoveInQueue(from, to)
}

func (s *QueueService) Reorder(from int, to int) (queue.State, error) {
	return s.queue.Reorder(from, to)
}

func (s *QueueService) MoveEntry(queueID string, to int) (queue.State, error) {
	return s.queue.MoveEntry(queueID, to)
}

func (s *QueueService) Clear() queue.State {
	return s.queue.Clear()
}

func (s *QueueService) SetRepeatMode(mode string) (queue.State, error) {
	return s.queue.SetRepeatMode(mode)
}

func (s *QueueService) SetShuffle(enabled bool) queue.State {
	return s.queue.SetShuffle(enabled)
}

func (s *QueueService) playable(ctx context.Context, trackID int64) (library.Track, error) {
	track, err := s.tracks.Get(ctx, trackID)
	if err != nil {
		return library.Track{}, err
	}
	if track.Removed {
		return library.Track{}, fmt.Errorf("%w: %d", errTrackRemoved, trackID)
	}
	return track, nil
}

type moveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s *QueueService) routes(r *mux.Router, logger *zap.Logger) {
	r.HandleFunc("/queue", wrap(logger, func(*http.Request) (any, error) {
		return s.GetState(), nil
	})).Methods(http.MethodGet)

	r.HandleFunc("/queue", wrap(logger, func(*http.Request) (any, error) {
		return s.Clear(), nil
	})).Methods(http.MethodDelete)

	r.HandleFunc("/queue/entries", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			TrackID int64 `json:"trackId"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.AddToQueue(req.Context(), body.TrackID)
	})).Methods(http.MethodPost)

	r.HandleFunc("/queue/current", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			TrackID int64 `json:"trackId"`
			Play    bool  `json:"play"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.PlayNow(req.Context(), body.TrackID, body.Play)
	})).Methods(http.MethodPut)

	r.HandleFunc("/queue/entries/{queueId}", wrap(logger, func(req *http.Request) (any, error) {
		return s.RemoveFromQueue(mux.Vars(req)["queueId"])
	})).Methods(http.MethodDelete)

	r.HandleFunc("/queue/entries/{queueId}/move", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			To int `json:"to"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.MoveEntry(mux.Vars(req)["queueId"], body.To)
	})).Methods(http.MethodPost)

	r.HandleFunc("/queue/move", wrap(logger, func(req *http.Request) (any, error) {
		var body moveRequest
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.MoveInQueue(body.From, body.To)
	})).Methods(http.MethodPost)

	r.HandleFunc("/timeline/reorder", wrap(logger, func(req *http.Request) (any, error) {
		var body moveRequest
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.Reorder(body.From, body.To)
	})).Methods(http.MethodPost)

	r.HandleFunc("/history/{queueId}", wrap(logger, func(req *http.Request) (any, error) {
		return s.RemoveFromHistory(mux.Vars(req)["queueId"])
	})).Methods(http.MethodDelete)

	r.HandleFunc("/queue/shuffle", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.SetShuffle(body.Enabled), nil
	})).Methods(http.MethodPut)

	r.HandleFunc("/queue/repeat", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.SetRepeatMode(body.Mode)
	})).Methods(http.MethodPut)
}
