package equalizer

import (
	"errors"
	"math"
	"testing"
)

func TestCombineDefaultsAreNearlyFlat(t *testing.T) {
	t.Parallel()

	effective := Effective(DefaultTrackGains(), DefaultGlobalGains())
	for i, value := range effective {
		if value != 49 {
			t.Fatalf("band %d: expected 49, got %d", i, value)
		}
		if db := ToDecibels(value); math.Abs(db) > 0.5 {
			t.Fatalf("band %d: expected default path within 0.5dB of flat, got %v", i, db)
		}
	}
}

func TestCombineNeutralTrackUnderFullGlobalIsFlat(t *testing.T) {
	t.Parallel()

	var neutral Gains
	for i := range neutral {
		neutral[i] = 50
	}
	for i, value := range Effective(neutral, uniform(MaxValue)) {
		if ToDecibels(value) != 0 {
			t.Fatalf("band %d: expected 0dB, got %v", i, ToDecibels(value))
		}
	}
}

func TestCombineClampsAndRounds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		song, global, want int
	}{
		{70, 70, 49},
		{150, 50, 50},
		{-10, 80, 0},
		{33, 50, 17},
		{100, 100, 100},
	}

	for _, tc := range cases {
		if got := Combine(tc.song, tc.global); got != tc.want {
			t.Fatalf("Combine(%d, %d) = %d, want %d", tc.song, tc.global, got, tc.want)
		}
	}
}

func TestToDecibelsRange(t *testing.T) {
	t.Parallel()

	if got := ToDecibels(0); got != -12 {
		t.Fatalf("expected -12dB at 0, got %v", got)
	}
	if got := ToDecibels(50); got != 0 {
		t.Fatalf("expected flat at 50, got %v", got)
	}
	if got := ToDecibels(100); got != 12 {
		t.Fatalf("expected +12dB at 100, got %v", got)
	}
	if got := ToDecibels(70); math.Abs(got-4.8) > 1e-9 {
		t.Fatalf("expected 4.8dB at 70, got %v", got)
	}
	if got := ToDecibels(400); got != 12 {
		t.Fatalf("expected clamp above range, got %v", got)
	}
}

func TestWithMidpoints(t *testing.T) {
	t.Parallel()

	gains := Gains{20, 0, 81, 0, 100}.WithMidpoints()
	if gains[1] != 51 {
		t.Fatalf("expected B=51, got %d", gains[1])
	}
	if gains[3] != 91 {
		t.Fatalf("expected D=91, got %d", gains[3])
	}
	if gains[0] != 20 || gains[2] != 81 || gains[4] != 100 {
		t.Fatalf("expected A, C and E untouched, got %v", gains)
	}
}

func TestEditableByMode(t *testing.T) {
	t.Parallel()

	for i := 0; i < BandCount; i++ {
		if !Editable(ModeFive, i) {
			t.Fatalf("band %d should be editable in five-band mode", i)
		}
	}
	if Editable(ModeThree, 1) || Editable(ModeThree, 3) {
		t.Fatalf("B and D must be locked in three-band mode")
	}
	if !Editable(ModeThree, 0) || !Editable(ModeThree, 2) || !Editable(ModeThree, 4) {
		t.Fatalf("A, C and E must stay editable in three-band mode")
	}
	if Editable(ModeFive, BandCount) {
		t.Fatalf("out of range band must not be editable")
	}
}

func TestNormalizeModeAndBandIndex(t *testing.T) {
	t.Parallel()

	if mode, err := NormalizeMode(" Three "); err != nil || mode != ModeThree {
		t.Fatalf("expected three mode, got %q (%v)", mode, err)
	}
	if _, err := NormalizeMode("seven"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
	if index, err := BandIndex("d"); err != nil || index != 3 {
		t.Fatalf("expected band D at 3, got %d (%v)", index, err)
	}
	if _, err := BandIndex("Z"); !errors.Is(err, ErrInvalidBand) {
		t.Fatalf("expected ErrInvalidBand, got %v", err)
	}
}

func TestParseFallsBack(t *testing.T) {
	t.Parallel()

	fallback := DefaultTrackGains()
	if got := Parse([]int{1, 2}, fallback); got != fallback {
		t.Fatalf("expected fallback for short input, got %v", got)
	}
	if got := Parse([]int{1, 2, 3, 4, 200}, fallback); got != (Gains{1, 2, 3, 4, 100}) {
		t.Fatalf("expected clamped parse, got %v", got)
	}
}
