package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigForTest(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "deck.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.Playback.FadeTick != 20*time.Millisecond {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.Library.ScanOnStart || !cfg.Library.Watch {
		t.Fatalf("expected scan and watch enabled by default")
	}
}

func TestLoadLayersFileThenEnvironment(t *testing.T) {
	path := writeConfigForTest(t, `
listen: "localhost:9000"
log:
  level: debug
library:
  roots: ["/music"]
  refreshDebounce: 750ms
playback:
  fadeTick: 40ms
audio:
  sampleRate: 48000
`)

	t.Setenv("DECK_LOG_LEVEL", "warn")
	t.Setenv("DECK_FADE_TICK", "10")
	t.Setenv("DECK_WATCH", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "localhost:9000" || cfg.Audio.SampleRate != 48000 {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if len(cfg.Library.Roots) != 1 || cfg.Library.Roots[0] != "/music" || cfg.Library.RefreshDebounce != 750*time.Millisecond {
		t.Fatalf("unexpected library config %+v", cfg.Library)
	}
	if cfg.Log.Level != "warn" || cfg.Playback.FadeTick != 10*time.Millisecond || cfg.Library.Watch {
		t.Fatalf("expected environment overrides, got log=%q tick=%s watch=%v", cfg.Log.Level, cfg.Playback.FadeTick, cfg.Library.Watch)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	if _, err := Load(writeConfigForTest(t, `listen: "0.0.0.0:7700"`)); !errors.Is(err, ErrListenAddr) {
		t.Fatalf("expected ErrListenAddr, got %v", err)
	}

	if _, err := Load(writeConfigForTest(t, "listen: [")); err == nil {
		t.Fatalf("expected parse error")
	}

	t.Setenv("DECK_SAMPLE_RATE", "lots")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected invalid environment value to fail")
	}
}

func TestResolvePathsUsesOverride(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "state")
	paths, err := ResolvePaths(AppSlug, base)
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}
	if paths.DBPath != filepath.Join(base, "library.db") || paths.ConfigPath != filepath.Join(base, "deck.yaml") {
		t.Fatalf("unexpected paths %+v", paths)
	}
	if info, err := os.Stat(paths.LogDir); err != nil || !info.IsDir() {
		t.Fatalf("expected log dir created: %v", err)
	}
}
