// Package rules holds the stateless invariants of a run: reading ranges,
// the wealth clamp, the death triple-lock and Day transition gating.
package rules

import (
	"strings"
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/phases"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/runes"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/textmatch"
)

const (
	DeathMaxRunes      = 50
	DeathBlackWindow   = 5 * time.Second
	Day1BlackWindow    = 15 * time.Second
	Day1MaxLevel       = 5
	Day1MaxRunes       = 200
	EarlyDay2Elapsed   = 720 * time.Second
	fuzzyDayMaxLen     = 20
	fuzzyDaySimilarity = 70
	penaltyRunesOnDay1 = 20
)

var fuzzyDayRefs = []string{"JOUR", "DAY", "JOUR I", "JOUR II", "JOUR III"}

func IsValidReading(level, r int) bool {
	return level >= runes.MinLevel && level <= runes.MaxLevel && r >= 0 && r <= runes.MaxRunes
}

// MonotonicityClamp never lets the wealth curve go down unless a death or a
// spending explains the drop.
func MonotonicityClamp(current, last int, isDeath, isSpending bool) int {
	if isDeath || isSpending {
		return current
	}
	return max(current, last)
}

func blackEndedWithin(lastBlackEnd, now time.Time, window time.Duration) bool {
	if lastBlackEnd.IsZero() || now.Before(lastBlackEnd) {
		return false
	}
	return now.Sub(lastBlackEnd) <= window
}

// IsDeathConfirmed is the triple-lock: one level lost, an emptied rune
// counter and a black screen that ended at most 5s ago.
func IsDeathConfirmed(oldLevel, newLevel, newRunes int, lastBlackEnd, now time.Time) bool {
	if oldLevel-newLevel != 1 {
		return false
	}
	if newRunes >= DeathMaxRunes {
		return false
	}
	return blackEndedWithin(lastBlackEnd, now, DeathBlackWindow)
}

// FuzzyDayFromText promotes a loosely read banner to the day that the
// current phase expects next. Day 1 never goes through this path.
func FuzzyDayFromText(text string, phase int) (day int, ok bool) {
	t := strings.ToUpper(strings.TrimSpace(text))
	if t == "" || len([]rune(t)) > fuzzyDayMaxLen {
		return 0, false
	}
	if !looksLikeDay(t) {
		return 0, false
	}
	switch phase {
	case phases.Boss1:
		return 2, true
	case phases.Boss2:
		return 3, true
	}
	return 0, false
}

func looksLikeDay(t string) bool {
	if strings.Contains(t, "JOUR") || strings.Contains(t, "DAY") {
		return true
	}
	for _, ref := range fuzzyDayRefs {
		if textmatch.Ratio(t, ref) >= fuzzyDaySimilarity {
			return true
		}
	}
	return false
}

// TransitionPenalty is a signed score adjustment applied to a banner hit
// before consensus. The cases are additive.
func TransitionPenalty(targetDay, phase, currentRunes int, elapsed time.Duration) int {
	p := 0
	switch targetDay {
	case 1:
		if currentRunes > penaltyRunesOnDay1 {
			p -= 100
		}
		if phase >= phases.FinalBoss {
			p -= 120
		}
		if phases.IsDay2(phase) {
			p -= 35
		}
	case 2:
		if phase >= 0 && phase < phases.Boss1 {
			if elapsed < EarlyDay2Elapsed {
				p -= 100
			} else {
				p -= 30
			}
		}
		if phase >= phases.Day3Prep {
			p -= 35
		}
	case 3:
		if phase < phases.Day2Storm {
			p -= 40
		} else if phase < phases.Boss2 {
			p -= 100
		}
	}
	return p
}

type TransitionInput struct {
	TargetDay    int
	Phase        int
	Level        int
	Runes        int
	Elapsed      time.Duration
	LastBlackEnd time.Time
	Now          time.Time
	Manual       bool
	Startup      bool
}

func TransitionAllowed(in TransitionInput) bool {
	switch in.TargetDay {
	case 1:
		if in.Manual {
			return true
		}
		if !in.Startup && !blackEndedWithin(in.LastBlackEnd, in.Now, Day1BlackWindow) {
			return false
		}
		return in.Level <= Day1MaxLevel && in.Runes <= Day1MaxRunes
	case 2:
		return in.Manual || in.Phase == phases.Boss1
	case 3:
		return in.Manual || in.Phase == phases.Boss2
	}
	return false
}

// DayOCREnabled tells the banner loop whether full OCR is worth running.
func DayOCREnabled(phase int, victoryDetected bool) bool {
	return phase == phases.Waiting || phase == phases.Boss1 || victoryDetected
}
