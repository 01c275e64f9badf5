package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"deck/internal/equalizer"
	"deck/internal/events"
	"deck/internal/library"
	"deck/internal/player"
	"deck/internal/queue"
	"deck/internal/scanner"
	"deck/internal/settings"
	"deck/internal/stats"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

var (
	errBadRequest   = errors.New("bad request")
	errTrackRemoved = errors.New("track was removed from the library")
)

type services struct {
	player    *PlayerService
	queue     *QueueService
	library   *LibraryService
	settings  *SettingsService
	stats     *StatsService
	scanner   *ScannerService
	bootstrap *BootstrapService
	hub       *events.Hub
	logger    *zap.Logger
}

func newRouter(s services) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	s.player.routes(api, s.logger)
	s.queue.routes(api, s.logger)
	s.library.routes(api, s.logger)
	s.settings.routes(api, s.logger)
	s.stats.routes(api, s.logger)
	s.scanner.routes(api, s.logger)
	s.bootstrap.routes(api, s.logger)

	if s.hub != nil {
		router.Handle("/ws", s.hub)
	}
	return router
}

// handlerFunc is a route body that returns its payload or an error; wrap
// turns it into an http.HandlerFunc with the shared JSON and error mapping.
type handlerFunc func(r *http.Request) (any, error)

func wrap(logger *zap.Logger, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := fn(r)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
			} else {
				logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		if payload == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, queue.ErrInvalidQueuePosition),
		errors.Is(err, queue.ErrInvalidRepeatMode),
		errors.Is(err, library.ErrInvalidPlaybackParams),
		errors.Is(err, library.ErrWatchedRootPath),
		errors.Is(err, settings.ErrInvalidVolume),
		errors.Is(err, settings.ErrBandLocked),
		errors.Is(err, settings.ErrInvalidChannel),
		errors.Is(err, equalizer.ErrInvalidBand),
		errors.Is(err, equalizer.ErrInvalidMode),
		errors.Is(err, player.ErrUnknownChannel),
		errors.Is(err, stats.ErrInvalidTrackID):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrTrackNotFound),
		errors.Is(err, library.ErrWatchedRootNotFound),
		errors.Is(err, queue.ErrUnknownQueueID),
		errors.Is(err, player.ErrSinkNotFound):
		return http.StatusNotFound
	case errors.Is(err, errTrackRemoved),
		errors.Is(err, queue.ErrNoCurrentTrack),
		errors.Is(err, queue.ErrRemovedLastPlaying),
		errors.Is(err, library.ErrWatchedRootExists),
		errors.Is(err, scanner.ErrScanRunning),
		errors.Is(err, player.ErrNothingLoaded),
		errors.Is(err, player.ErrSinkNotSupported):
		return http.StatusConflict
	case errors.Is(err, player.ErrChannelClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	return value, nil
}
