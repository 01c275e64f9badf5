package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"deck/internal/library"
	"deck/internal/player"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const defaultTracksLimit = 300

type LibraryService struct {
	tracks *library.TrackRepository
	engine *player.Engine
}

func NewLibraryService(tracks *library.TrackRepository, engine *player.Engine) *LibraryService {
	return &LibraryService{tracks: tracks, engine: engine}
}

func (s *LibraryService) ListTracks(ctx context.Context, search string, includeRemoved bool, limit int, offset int) (library.TracksPage, error) {
	return s.tracks.List(ctx, search, includeRemoved, limit, offset)
}

func (s *LibraryService) GetTrack(ctx context.Context, id int64) (library.Track, error) {
	return s.tracks.Get(ctx, id)
}

// UpdatePlayback stores new playback params and pushes them to every place
// the track is live, including a loaded instance mid-play.
func (s *LibraryService) UpdatePlayback(ctx context.Context, id int64, patch library.PlaybackPatch) (library.Track, error) {
	track, err := s.tracks.UpdatePlayback(ctx, id, patch)
	if err != nil {
		return library.Track{}, err
	}
	if s.engine != nil {
		s.engine.UpdateTrack(track)
	}
	return track, nil
}

func (s *LibraryService) routes(r *mux.Router, logger *zap.Logger) {
	r.HandleFunc("/tracks", wrap(logger, func(req *http.Request) (any, error) {
		limit, err := queryInt(req, "limit", defaultTracksLimit)
		if err != nil {
			return nil, err
		}
		offset, err := queryInt(req, "offset", 0)
		if err != nil {
			return nil, err
		}
		includeRemoved := false
		if raw := req.URL.Query().Get("removed"); raw != "" {
			includeRemoved, err = strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid removed %q", errBadRequest, raw)
			}
		}
		return s.ListTracks(req.Context(), req.URL.Query().Get("q"), includeRemoved, limit, offset)
	})).Methods(http.MethodGet)

	r.HandleFunc("/tracks/{id}", wrap(logger, func(req *http.Request) (any, error) {
		id, err := pathID(req, "id")
		if err != nil {
			return nil, err
		}
		return s.GetTrack(req.Context(), id)
	})).Methods(http.MethodGet)

	r.HandleFunc("/tracks/{id}/playback", wrap(logger, func(req *http.Request) (any, error) {
		id, err := pathID(req, "id")
		if err != nil {
			return nil, err
		}
		var patch library.PlaybackPatch
		if err := decodeBody(req, &patch); err != nil {
			return nil, err
		}
		return s.UpdatePlayback(req.Context(), id, patch)
	})).Methods(http.MethodPatch)
}
