package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"deck/internal/library"
	"deck/internal/player"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type trackLookup interface {
	Get(ctx context.Context, id int64) (library.Track, error)
}

type PlayerService struct {
	engine *player.Engine
	tracks trackLookup
}

func NewPlayerService(engine *player.Engine, tracks trackLookup) *PlayerService {
	return &PlayerService{engine: engine, tracks: tracks}
}

func (s *PlayerService) GetState(channel string) (player.State, error) {
	target, err := s.engine.Channel(channel)
	if err != nil {
		return player.State{}, err
	}
	return target.State(), nil
}

func (s *PlayerService) Play(channel string) (player.State, error) {
	return s.with(channel, (*player.Channel).Play)
}

func (s *PlayerService) Pause(channel string) (player.State, error) {
	return s.with(channel, (*player.Channel).Pause)
}

func (s *PlayerService) TogglePlayback(channel string) (player.State, error) {
	return s.with(channel, (*player.Channel).TogglePlayback)
}

func (s *PlayerService) Next(channel string) (player.State, error) {
	return s.with(channel, (*player.Channel).Next)
}

func (s *PlayerService) Previous(channel string) (player.State, error) {
	return s.with(channel, (*player.Channel).Previous)
}

func (s *PlayerService) Seek(channel string, positionMS int) (player.State, error) {
	if positionMS < 0 {
		return player.State{}, fmt.Errorf("%w: negative position", errBadRequest)
	}
	return s.with(channel, func(c *player.Channel) (player.State, error) {
		return c.Seek(time.Duration(positionMS) * time.Millisecond)
	})
}

// StartPreview auditions a library track on the preview channel.
func (s *PlayerService) StartPreview(ctx context.Context, trackID int64) (player.State, error) {
	track, err := s.tracks.Get(ctx, trackID)
	if err != nil {
		return player.State{}, err
	}
	if track.Removed {
		return player.State{}, fmt.Errorf("%w: %d", errTrackRemoved, trackID)
	}
	return s.engine.StartPreview(track), nil
}

func (s *PlayerService) StopPreview() player.State {
	return s.engine.StopPreview()
}

func (s *PlayerService) Devices() ([]player.Device, error) {
	return s.engine.Devices()
}

func (s *PlayerService) with(channel string, action func(*player.Channel) (player.State, error)) (player.State, error) {
	target, err := s.engine.Channel(channel)
	if err != nil {
		return player.State{}, err
	}
	return action(target)
}

func (s *PlayerService) routes(r *mux.Router, logger *zap.Logger) {
	transport := map[string]func(string) (player.State, error){
		"play":     s.Play,
		"pause":    s.Pause,
		"toggle":   s.TogglePlayback,
		"next":     s.Next,
		"previous": s.Previous,
	}
	for name, action := range transport {
		r.HandleFunc("/player/{channel}/"+name, wrap(logger, func(req *http.Request) (any, error) {
			return action(mux.Vars(req)["channel"])
		})).Methods(http.MethodPost)
	}

	r.HandleFunc("/player/{channel}", wrap(logger, func(req *http.Request) (any, error) {
		return s.GetState(mux.Vars(req)["channel"])
	})).Methods(http.MethodGet)

	r.HandleFunc("/player/{channel}/seek", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			PositionMS int `json:"positionMs"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.Seek(mux.Vars(req)["channel"], body.PositionMS)
	})).Methods(http.MethodPost)

	r.HandleFunc("/preview", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			TrackID int64 `json:"trackId"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.StartPreview(req.Context(), body.TrackID)
	})).Methods(http.MethodPost)

	r.HandleFunc("/preview", wrap(logger, func(*http.Request) (any, error) {
		return s.StopPreview(), nil
	})).Methods(http.MethodDelete)

	r.HandleFunc("/devices", wrap(logger, func(*http.Request) (any, error) {
		return s.Devices()
	})).Methods(http.MethodGet)
}
