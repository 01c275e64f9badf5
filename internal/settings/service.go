// Package settings persists the user's engine-wide preferences.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"deck/internal/equalizer"

	"go.uber.org/zap"
)

const DefaultVolume = 0.8

const (
	keyVolume       = "volume"
	keyGlobalEQ     = "global_eq"
	keyEQMode       = "eq_mode"
	keyDevicePrefix = "device."
)

var (
	ErrInvalidVolume  = errors.New("volume must be between 0 and 1")
	ErrBandLocked     = errors.New("band is derived in three-band mode")
	ErrInvalidChannel = errors.New("channel name is required")
)

type Settings struct {
	Volume   float64           `json:"volume"`
	GlobalEQ equalizer.Gains   `json:"globalEq"`
	EQMode   string            `json:"eqMode"`
	Devices  map[string]string `json:"devices"`
}

func Defaults() Settings {
	return Settings{
		Volume:   DefaultVolume,
		GlobalEQ: equalizer.DefaultGlobalGains(),
		EQMode:   equalizer.ModeFive,
		Devices:  map[string]string{},
	}
}

func (s Settings) clone() Settings {
	devices := make(map[string]string, len(s.Devices))
	for channel, id := range s.Devices {
		devices[channel] = id
	}
	s.Devices = devices
	return s
}

// Service keeps an in-memory copy of the settings rows. Every setter writes
// through before updating the copy.
type Service struct {
	mu      sync.Mutex
	db      *sql.DB
	logger  *zap.Logger
	current Settings
}

func NewService(ctx context.Context, database *sql.DB, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &Service{db: database, logger: logger.Named("settings"), current: Defaults()}
	if err := service.load(ctx); err != nil {
		return nil, err
	}
	return service, nil
}

func (s *Service) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

func (s *Service) SetVolume(ctx context.Context, volume float64) (Settings, error) {
	if math.IsNaN(volume) || volume < 0 || volume > 1 {
		return s.Get(), fmt.Errorf("%w: %v", ErrInvalidVolume, volume)
	}

	return s.update(ctx, func(next *Settings) []string {
		next.Volume = volume
		return []string{keyVolume}
	})
}

// SetGlobalEQ replaces every global band. In three-band mode the values
// given for B and D are replaced by midpoints.
func (s *Service) SetGlobalEQ(ctx context.Context, gains equalizer.Gains) (Settings, error) {
	return s.update(ctx, func(next *Settings) []string {
		next.GlobalEQ = gains.Clamped()
		if next.EQMode == equalizer.ModeThree {
			next.GlobalEQ = next.GlobalEQ.WithMidpoints()
		}
		return []string{keyGlobalEQ}
	})
}

func (s *Service) SetGlobalEQBand(ctx context.Context, label string, value int) (Settings, error) {
	index, err := equalizer.BandIndex(label)
	if err != nil {
		return s.Get(), err
	}

	var locked bool
	settings, err := s.update(ctx, func(next *Settings) []string {
		if !equalizer.Editable(next.EQMode, index) {
			locked = true
			return nil
		}

		next.GlobalEQ[index] = equalizer.ClampValue(value)
		if next.EQMode == equalizer.ModeThree {
			next.GlobalEQ = next.GlobalEQ.WithMidpoints()
		}
		return []string{keyGlobalEQ}
	})
	if err == nil && locked {
		return settings, fmt.Errorf("%w: %s", ErrBandLocked, equalizer.Bands[index].Label)
	}
	return settings, err
}

// SetEQMode switches between five and three editable bands. Entering
// three-band mode rederives B and D.
func (s *Service) SetEQMode(ctx context.Context, mode string) (Settings, error) {
	normalized, err := equalizer.NormalizeMode(mode)
	if err != nil {
		return s.Get(), err
	}

	return s.update(ctx, func(next *Settings) []string {
		next.EQMode = normalized
		if normalized == equalizer.ModeThree {
			next.GlobalEQ = next.GlobalEQ.WithMidpoints()
			return []string{keyEQMode, keyGlobalEQ}
		}
		return []string{keyEQMode}
	})
}

// SetDevice stores the preferred output device for channel. An empty id
// means the system default.
func (s *Service) SetDevice(ctx context.Context, channel string, deviceID string) (Settings, error) {
	if channel == "" {
		return s.Get(), ErrInvalidChannel
	}

	return s.update(ctx, func(next *Settings) []string {
		if deviceID == "" {
			delete(next.Devices, channel)
		} else {
			next.Devices[channel] = deviceID
		}
		return []string{keyDevicePrefix + channel}
	})
}

func (s *Service) update(ctx context.Context, mutate func(next *Settings) []string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.clone()
	keys := mutate(&next)
	if len(keys) == 0 {
		return s.current.clone(), nil
	}

	if err := s.store(ctx, next, keys); err != nil {
		return s.current.clone(), err
	}

	s.current = next
	return next.clone(), nil
}

func (s *Service) store(ctx context.Context, next Settings, keys []string) error {
	if s.db == nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	updatedAt := time.Now().UTC().Format(time.RFC3339)
	for _, key := range keys {
		value, err := valueFor(next, key)
		if err != nil {
			return err
		}

		if value == nil {
			if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
				return fmt.Errorf("delete setting %s: %w", key, err)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings(key, value_json, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value_json = excluded.value_json,
				updated_at = excluded.updated_at
		`, key, string(value), updatedAt); err != nil {
			return fmt.Errorf("store setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

func valueFor(settings Settings, key string) ([]byte, error) {
	var value any
	switch key {
	case keyVolume:
		value = settings.Volume
	case keyGlobalEQ:
		value = settings.GlobalEQ.Slice()
	case keyEQMode:
		value = settings.EQMode
	default:
		channel := key[len(keyDevicePrefix):]
		id, ok := settings.Devices[channel]
		if !ok {
			return nil, nil
		}
		value = id
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode setting %s: %w", key, err)
	}
	return encoded, nil
}

// load reads stored rows over the defaults. Rows that fail to decode are
// logged and ignored.
func (s *Service) load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value_json FROM settings")
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	defer rows.Close()

	loaded := Defaults()
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return fmt.Errorf("scan setting: %w", err)
		}
		if err := decodeInto(&loaded, key, raw); err != nil {
			s.logger.Warn("ignore stored setting", zap.String("key", key), zap.Error(err))
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate settings: %w", err)
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return nil
}

func decodeInto(settings *Settings, key string, raw string) error {
	switch {
	case key == keyVolume:
		var volume float64
		if err := json.Unmarshal([]byte(raw), &volume); err != nil {
			return err
		}
		if math.IsNaN(volume) || volume < 0 || volume > 1 {
			return fmt.Errorf("%w: %v", ErrInvalidVolume, volume)
		}
		settings.Volume = volume
	case key == keyGlobalEQ:
		var values []int
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return err
		}
		if len(values) != equalizer.BandCount {
			return fmt.Errorf("%w: expected %d bands, got %d", equalizer.ErrInvalidBand, equalizer.BandCount, len(values))
		}
		settings.GlobalEQ = equalizer.Parse(values, settings.GlobalEQ)
	case key == keyEQMode:
		var mode string
		if err := json.Unmarshal([]byte(raw), &mode); err != nil {
			return err
		}
		normalized, err := equalizer.NormalizeMode(mode)
		if err != nil {
			return err
		}
		settings.EQMode = normalized
	case len(key) > len(keyDevicePrefix) && key[:len(keyDevicePrefix)] == keyDevicePrefix:
		var id string
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			return err
		}
		settings.Devices[key[len(keyDevicePrefix):]] = id
	default:
		return fmt.Errorf("unknown setting key %q", key)
	}
	return nil
}
