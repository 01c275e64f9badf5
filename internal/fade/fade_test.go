package fade

import (
	"math"
	"testing"
	"time"
)

func TestNormalizedVolumeClamps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		global, track, want float64
	}{
		{0.8, 0.75, 0.6},
		{1.5, 0.5, 0.5},
		{-1, 0.5, 0},
		{1, 2, 1},
		{math.NaN(), 1, 0},
	}

	for _, tc := range cases {
		got := NormalizedVolume(tc.global, tc.track)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("NormalizedVolume(%v, %v) = %v, want %v", tc.global, tc.track, got, tc.want)
		}
	}
}

func TestProgressRamp(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	duration := 2 * time.Second

	if got := Progress(start, duration, start); got != 0 {
		t.Fatalf("expected 0 at start, got %v", got)
	}
	if got := Progress(start, duration, start.Add(time.Second)); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected 0.5 halfway, got %v", got)
	}
	if got := Progress(start, duration, start.Add(5*time.Second)); got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
	if got := Progress(start, duration, start.Add(-time.Second)); got != 0 {
		t.Fatalf("expected clamp to 0 before start, got %v", got)
	}
	if got := Progress(start, 0, start); got != 1 {
		t.Fatalf("expected zero duration to report 1, got %v", got)
	}
}

func TestEndProgressRamp(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	duration := 4 * time.Second

	if got := EndProgress(start, duration, start); got != 1 {
		t.Fatalf("expected 1 at fade start, got %v", got)
	}
	if got := EndProgress(start, duration, start.Add(time.Second)); math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("expected 0.75, got %v", got)
	}
	if got := EndProgress(start, duration, start.Add(10*time.Second)); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
	if got := EndProgress(start, -time.Second, start); got != 0 {
		t.Fatalf("expected negative duration to report 0, got %v", got)
	}
}

func TestTargetVolume(t *testing.T) {
	t.Parallel()

	if got := TargetVolume(0.5, 0.6); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("expected 0.3, got %v", got)
	}
	if got := TargetVolume(2, 0.6); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("expected progress clamp, got %v", got)
	}
	if got := TargetVolume(1, 3); got != 1 {
		t.Fatalf("expected base clamp, got %v", got)
	}
}
