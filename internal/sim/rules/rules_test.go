package rules

import (
	"testing"
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/phases"
)

func TestIsValidReading(t *testing.T) {
	if !IsValidReading(1, 0) || !IsValidReading(15, 1_000_000) {
		t.Fatalf("bounds must be inclusive")
	}
	if IsValidReading(0, 10) || IsValidReading(16, 10) || IsValidReading(5, -1) || IsValidReading(5, 1_000_001) {
		t.Fatalf("out of range reading accepted")
	}
}

func TestMonotonicityClamp(t *testing.T) {
	if got := MonotonicityClamp(90, 100, false, false); got != 100 {
		t.Fatalf("clamp=%d want 100", got)
	}
	if got := MonotonicityClamp(90, 100, true, false); got != 90 {
		t.Fatalf("death exception: got %d", got)
	}
	if got := MonotonicityClamp(90, 100, false, true); got != 90 {
		t.Fatalf("spending exception: got %d", got)
	}
	if got := MonotonicityClamp(120, 100, false, false); got != 120 {
		t.Fatalf("growth: got %d", got)
	}
}

func TestIsDeathConfirmed_TripleLock(t *testing.T) {
	now := time.Unix(1000, 0)
	black := now.Add(-2 * time.Second)
	if !IsDeathConfirmed(9, 8, 0, black, now) {
		t.Fatalf("expected death")
	}
	if IsDeathConfirmed(9, 7, 0, black, now) {
		t.Fatalf("two-level drop is not a death")
	}
	if IsDeathConfirmed(9, 8, 50, black, now) {
		t.Fatalf("runes >= 50 is not a death")
	}
	if IsDeathConfirmed(9, 8, 0, now.Add(-6*time.Second), now) {
		t.Fatalf("stale black screen is not a death")
	}
	if IsDeathConfirmed(9, 8, 0, time.Time{}, now) {
		t.Fatalf("black screen is required")
	}
}

func TestFuzzyDayFromText(t *testing.T) {
	cases := []struct {
		text  string
		phase int
		day   int
		ok    bool
	}{
		{"JOUR II", phases.Boss1, 2, true},
		{"jour", phases.Boss2, 3, true},
		{"JOUB II", phases.Boss1, 2, true},
		{"JOUR I", phases.Waiting, 0, false},
		{"JOUR II", phases.Day1Storm, 0, false},
		{"SOMETHING ELSE ENTIRELY", phases.Boss1, 0, false},
		{"XQZW", phases.Boss1, 0, false},
	}
	for _, c := range cases {
		day, ok := FuzzyDayFromText(c.text, c.phase)
		if day != c.day || ok != c.ok {
			t.Fatalf("FuzzyDayFromText(%q,%d)=(%d,%v) want (%d,%v)", c.text, c.phase, day, ok, c.day, c.ok)
		}
	}
}

func TestTransitionPenalty(t *testing.T) {
	if got := TransitionPenalty(1, phases.Waiting, 0, 0); got != 0 {
		t.Fatalf("clean day1: %d", got)
	}
	if got := TransitionPenalty(1, phases.Day2Shrink, 300, 0); got != -135 {
		t.Fatalf("day1 mid day2 with runes: %d", got)
	}
	if got := TransitionPenalty(2, phases.Day1Storm2, 0, 300*time.Second); got != -100 {
		t.Fatalf("early day2: %d", got)
	}
	if got := TransitionPenalty(2, phases.Day1Shrink2, 0, 800*time.Second); got != -30 {
		t.Fatalf("late day2: %d", got)
	}
	if got := TransitionPenalty(2, phases.Boss1, 0, 800*time.Second); got != 0 {
		t.Fatalf("day2 at boss1: %d", got)
	}
	if got := TransitionPenalty(3, phases.Day1Storm, 0, 0); got != -40 {
		t.Fatalf("day3 in day1: %d", got)
	}
	if got := TransitionPenalty(3, phases.Day2Storm2, 0, 0); got != -100 {
		t.Fatalf("day3 in day2: %d", got)
	}
}

func TestTransitionAllowed(t *testing.T) {
	now := time.Unix(5000, 0)
	base := TransitionInput{TargetDay: 1, Phase: phases.Day2Shrink, Level: 1, Runes: 0, Now: now}

	if TransitionAllowed(base) {
		t.Fatalf("day1 without black screen must be denied")
	}
	in := base
	in.LastBlackEnd = now.Add(-10 * time.Second)
	if !TransitionAllowed(in) {
		t.Fatalf("day1 after black screen must be allowed")
	}
	in.Runes = 300
	if TransitionAllowed(in) {
		t.Fatalf("day1 with runes>200 must be denied")
	}
	in.Manual = true
	if !TransitionAllowed(in) {
		t.Fatalf("manual day1 must bypass")
	}
	st := base
	st.Startup = true
	st.Phase = phases.Waiting
	if !TransitionAllowed(st) {
		t.Fatalf("startup day1 must not need a black screen")
	}

	d2 := TransitionInput{TargetDay: 2, Phase: phases.Day1Shrink2}
	if TransitionAllowed(d2) {
		t.Fatalf("day2 outside boss1 denied")
	}
	d2.Phase = phases.Boss1
	if !TransitionAllowed(d2) {
		t.Fatalf("day2 at boss1 allowed")
	}
	d3 := TransitionInput{TargetDay: 3, Phase: phases.Boss1}
	if TransitionAllowed(d3) {
		t.Fatalf("day3 outside boss2 denied")
	}
	d3.Manual = true
	if !TransitionAllowed(d3) {
		t.Fatalf("manual day3 allowed")
	}
}

func TestDayOCREnabled(t *testing.T) {
	for i := phases.Waiting; i < phases.Count(); i++ {
		want := i == phases.Waiting || i == phases.Boss1
		if got := DayOCREnabled(i, false); got != want {
			t.Fatalf("phase %d: got %v want %v", i, got, want)
		}
		if !DayOCREnabled(i, true) {
			t.Fatalf("victory opens the gate")
		}
	}
}
