package phases

import "time"

type Phase struct {
	Index    int
	Name     string
	Duration time.Duration // 0: stopwatch, ended externally
}

const (
	Waiting = -1

	Day1Storm   = 0
	Day1Shrink  = 1
	Day1Storm2  = 2
	Day1Shrink2 = 3
	Boss1       = 4
	Day2Storm   = 5
	Day2Shrink  = 6
	Day2Storm2  = 7
	Day2Shrink2 = 8
	Boss2       = 9
	Day3Prep    = 10
	FinalBoss   = 11
)

var table = [...]Phase{
	{Day1Storm, "Day 1 - Storm", 270 * time.Second},
	{Day1Shrink, "Day 1 - Shrink", 180 * time.Second},
	{Day1Storm2, "Day 1 - Storm 2", 210 * time.Second},
	{Day1Shrink2, "Day 1 - Shrink 2", 180 * time.Second},
	{Boss1, "Day 1 - Boss", 0},
	{Day2Storm, "Day 2 - Storm", 270 * time.Second},
	{Day2Shrink, "Day 2 - Shrink", 180 * time.Second},
	{Day2Storm2, "Day 2 - Storm 2", 210 * time.Second},
	{Day2Shrink2, "Day 2 - Shrink 2", 180 * time.Second},
	{Boss2, "Day 2 - Boss", 0},
	{Day3Prep, "Day 3 - Preparation", 0},
	{FinalBoss, "Day 3 - Final Boss", 0},
}

func Count() int { return len(table) }

func Get(index int) (Phase, bool) {
	if index < 0 || index >= len(table) {
		return Phase{}, false
	}
	return table[index], true
}

func Name(index int) string {
	if p, ok := Get(index); ok {
		return p.Name
	}
	return "Waiting..."
}

func IsStorm(index int) bool {
	switch index {
	case Day1Storm, Day1Storm2, Day2Storm, Day2Storm2:
		return true
	}
	return false
}

func IsShrink(index int) bool {
	switch index {
	case Day1Shrink, Day1Shrink2, Day2Shrink, Day2Shrink2:
		return true
	}
	return false
}

func IsBoss(index int) bool {
	return index == Boss1 || index == Boss2 || index == FinalBoss
}

// IsDay2 reports whether index is one of the Day 2 phases, boss included.
func IsDay2(index int) bool { return index >= Day2Storm && index <= Boss2 }

// ShrinkLabel names the marker emitted when leaving a shrink phase.
func ShrinkLabel(index int) string {
	switch index {
	case Day1Shrink:
		return "End Shrink 1.1"
	case Day1Shrink2:
		return "End Shrink 1.2"
	case Day2Shrink:
		return "End Shrink 2.1"
	case Day2Shrink2:
		return "End Shrink 2.2"
	}
	return ""
}

// NextBoss returns the first boss phase after index.
func NextBoss(index int) int {
	switch {
	case index < Boss1:
		return Boss1
	case index < Boss2:
		return Boss2
	default:
		return FinalBoss
	}
}

// FinalDay is the trigger target for the final boss fight.
const FinalDay = 4

// StartIndex maps a day number to the phase it starts at.
func StartIndex(day int) (int, bool) {
	switch day {
	case 1:
		return Day1Storm, true
	case 2:
		return Day2Storm, true
	case 3:
		return Day3Prep, true
	case FinalDay:
		return FinalBoss, true
	}
	return 0, false
}
