// Package config resolves deck's runtime configuration: built-in defaults,
// then the YAML file, then a .env file, then DECK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DECK_"

const (
	defaultListenAddr = "127.0.0.1:7700"
	defaultLogLevel   = "info"
)

var ErrListenAddr = errors.New("listen address must bind to localhost")

type Config struct {
	ListenAddr string         `yaml:"listen"`
	DataDir    string         `yaml:"dataDir"`
	Log        LogConfig      `yaml:"log"`
	Library    LibraryConfig  `yaml:"library"`
	Playback   PlaybackConfig `yaml:"playback"`
	Audio      AudioConfig    `yaml:"audio"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

type LibraryConfig struct {
	Roots           []string      `yaml:"roots"`
	ScanOnStart     bool          `yaml:"scanOnStart"`
	Watch           bool          `yaml:"watch"`
	RefreshDebounce time.Duration `yaml:"refreshDebounce"`
}

type PlaybackConfig struct {
	FadeTick            time.Duration `yaml:"fadeTick"`
	PublishInterval     time.Duration `yaml:"publishInterval"`
	DiagnosticsInterval time.Duration `yaml:"diagnosticsInterval"`
	DevicePollInterval  time.Duration `yaml:"devicePollInterval"`
}

type AudioConfig struct {
	SampleRate int           `yaml:"sampleRate"`
	Buffer     time.Duration `yaml:"buffer"`
}

func Default() Config {
	return Config{
		ListenAddr: defaultListenAddr,
		Log: LogConfig{
			Level:      defaultLogLevel,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Library: LibraryConfig{
			ScanOnStart:     true,
			Watch:           true,
			RefreshDebounce: 2 * time.Second,
		},
		Playback: PlaybackConfig{
			FadeTick:            20 * time.Millisecond,
			PublishInterval:     250 * time.Millisecond,
			DiagnosticsInterval: 10 * time.Second,
			DevicePollInterval:  5 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			Buffer:     100 * time.Millisecond,
		},
	}
}

// Load builds the configuration. A missing file at path is not an error;
// an empty path skips the file entirely. A .env file in the working
// directory is read if present and never overrides the real environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := ValidateListenAddr(c.ListenAddr); err != nil {
		return err
	}
	if c.Playback.FadeTick <= 0 {
		return fmt.Errorf("playback.fadeTick must be positive, got %s", c.Playback.FadeTick)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sampleRate must be positive, got %d", c.Audio.SampleRate)
	}
	return nil
}

// ValidateListenAddr keeps the control surface off the network.
func ValidateListenAddr(addr string) error {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:") {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrListenAddr, addr)
}

func applyEnv(cfg *Config) error {
	var errs []error

	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.File, "LOG_FILE")
	errs = append(errs,
		setInt(&cfg.Log.MaxSizeMB, "LOG_MAX_SIZE_MB"),
		setBool(&cfg.Library.ScanOnStart, "SCAN_ON_START"),
		setBool(&cfg.Library.Watch, "WATCH"),
		setDuration(&cfg.Library.RefreshDebounce, "REFRESH_DEBOUNCE"),
		setDuration(&cfg.Playback.FadeTick, "FADE_TICK"),
		setDuration(&cfg.Playback.DiagnosticsInterval, "DIAGNOSTICS_INTERVAL"),
		setDuration(&cfg.Playback.DevicePollInterval, "DEVICE_POLL_INTERVAL"),
		setInt(&cfg.Audio.SampleRate, "SAMPLE_RATE"),
	)

	if value, ok := lookup("LIBRARY_ROOTS"); ok {
		cfg.Library.Roots = filepath.SplitList(value)
	}

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func setString(target *string, key string) {
	if value, ok := lookup(key); ok {
		*target = value
	}
}

func setInt(target *int, key string) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*target = parsed
	return nil
}

func setBool(target *bool, key string) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*target = parsed
	return nil
}

// setDuration accepts Go durations ("1.5s") or bare milliseconds.
func setDuration(target *time.Duration, key string) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	if ms, err := strconv.Atoi(value); err == nil {
		*target = time.Duration(ms) * time.Millisecond
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*target = parsed
	return nil
}
