package main

import (
	"context"
	"fmt"
	"net/http"

	"deck/internal/equalizer"
	"deck/internal/library"
	"deck/internal/player"
	"deck/internal/settings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// rootsChanged is told about watched root edits so the directory watcher
// can follow them.
type rootsChanged func(ctx context.Context)

type SettingsService struct {
	roots    *library.WatchedRootRepository
	settings *settings.Service
	engine   *player.Engine
	onRoots  rootsChanged
	logger   *zap.Logger
}

func NewSettingsService(
	roots *library.WatchedRootRepository,
	settingsService *settings.Service,
	engine *player.Engine,
	logger *zap.Logger,
) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{roots: roots, settings: settingsService, engine: engine, logger: logger}
}

func (s *SettingsService) SetRootsChanged(callback rootsChanged) {
	s.onRoots = callback
}

func (s *SettingsService) ListWatchedRoots(ctx context.Context) ([]library.WatchedRoot, error) {
	return s.roots.List(ctx)
}

func (s *SettingsService) AddWatchedRoot(ctx context.Context, path string) (library.WatchedRoot, error) {
	cleaned, err := library.NormalizeRootPath(path)
	if err != nil {
		return library.WatchedRoot{}, err
	}

	root, err := s.roots.Add(ctx, cleaned)
	if err != nil {
		return library.WatchedRoot{}, err
	}
	s.rootsChanged(ctx)
	return root, nil
}

func (s *SettingsService) RemoveWatchedRoot(ctx context.Context, id int64) error {
	if err := s.roots.Delete(ctx, id); err != nil {
		return fmt.Errorf("watched root %d: %w", id, err)
	}
	s.rootsChanged(ctx)
	return nil
}

func (s *SettingsService) SetWatchedRootEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := s.roots.SetEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("watched root %d: %w", id, err)
	}
	s.rootsChanged(ctx)
	return nil
}

func (s *SettingsService) rootsChanged(ctx context.Context) {
	if s.onRoots != nil {
		s.onRoots(ctx)
	}
}

func (s *SettingsService) GetSettings() settings.Settings {
	return s.settings.Get()
}

// SetVolume persists the global volume and applies it to both channels.
func (s *SettingsService) SetVolume(ctx context.Context, volume float64) (settings.Settings, error) {
	next, err := s.settings.SetVolume(ctx, volume)
	if err != nil {
		return settings.Settings{}, err
	}
	if _, err := s.engine.SetVolume(next.Volume); err != nil {
		return next, err
	}
	return next, nil
}

func (s *SettingsService) SetGlobalEQ(ctx context.Context, values []int) (settings.Settings, error) {
	if len(values) != equalizer.BandCount {
		return settings.Settings{}, fmt.Errorf("%w: expected %d bands, got %d", errBadRequest, equalizer.BandCount, len(values))
	}
	gains := equalizer.Parse(values, s.settings.Get().GlobalEQ)
	return s.applyEQ(s.settings.SetGlobalEQ(ctx, gains))
}

func (s *SettingsService) SetGlobalEQBand(ctx context.Context, label string, value int) (settings.Settings, error) {
	return s.applyEQ(s.settings.SetGlobalEQBand(ctx, label, value))
}

func (s *SettingsService) SetEQMode(ctx context.Context, mode string) (settings.Settings, error) {
	return s.applyEQ(s.settings.SetEQMode(ctx, mode))
}

func (s *SettingsService) applyEQ(next settings.Settings, err error) (settings.Settings, error) {
	if err != nil {
		return settings.Settings{}, err
	}
	if _, err := s.engine.SetGlobalEQ(next.GlobalEQ); err != nil {
		return next, err
	}
	return next, nil
}

// SetDevice routes a channel to deviceID and remembers the choice only once
// the output accepted it.
func (s *SettingsService) SetDevice(ctx context.Context, channel string, deviceID string) (settings.Settings, error) {
	if _, err := s.engine.SetSink(ctx, channel, deviceID); err != nil {
		return settings.Settings{}, err
	}
	return s.settings.SetDevice(ctx, channel, deviceID)
}

func (s *SettingsService) routes(r *mux.Router, logger *zap.Logger) {
	r.HandleFunc("/roots", wrap(logger, func(req *http.Request) (any, error) {
		return s.ListWatchedRoots(req.Context())
	})).Methods(http.MethodGet)

	r.HandleFunc("/roots", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			Path string `json:"path"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.AddWatchedRoot(req.Context(), body.Path)
	})).Methods(http.MethodPost)

	r.HandleFunc("/roots/{id}", wrap(logger, func(req *http.Request) (any, error) {
		id, err := pathID(req, "id")
		if err != nil {
			return nil, err
		}
		return nil, s.RemoveWatchedRoot(req.Context(), id)
	})).Methods(http.MethodDelete)

	r.HandleFunc("/roots/{id}/enabled", wrap(logger, func(req *http.Request) (any, error) {
		id, err := pathID(req, "id")
		if err != nil {
			return nil, err
		}
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return nil, s.SetWatchedRootEnabled(req.Context(), id, body.Enabled)
	})).Methods(http.MethodPut)

	r.HandleFunc("/settings", wrap(logger, func(*http.Request) (any, error) {
		return s.GetSettings(), nil
	})).Methods(http.MethodGet)

	r.HandleFunc("/settings/volume", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			Volume float64 `json:"volume"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.SetVolume(req.Context(), body.Volume)
	})).Methods(http.MethodPut)

	r.HandleFunc("/settings/eq", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			Gains []int `json:"gains"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.SetGlobalEQ(req.Context(), body.Gains)
	})).Methods(http.MethodPut)

	r.HandleFunc("/settings/eq/bands/{band}", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			Value int `json:"value"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.SetGlobalEQBand(req.Context(), mux.Vars(req)["band"], body.Value)
	})).Methods(http.MethodPut)

	r.HandleFunc("/settings/eq/mode", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.SetEQMode(req.Context(), body.Mode)
	})).Methods(http.MethodPut)

	r.HandleFunc("/settings/devices/{channel}", wrap(logger, func(req *http.Request) (any, error) {
		var body struct {
			DeviceID string `json:"deviceId"`
		}
		if err := decodeBody(req, &body); err != nil {
			return nil, err
		}
		return s.SetDevice(req.Context(), mux.Vars(req)["channel"], body.DeviceID)
	})).Methods(http.MethodPut)
}
