package runes

const (
	MinLevel = 1
	MaxLevel = 15

	MaxRunes = 1_000_000
)

// levelCosts[L] is the rune cost of going from level L-1 to level L.
var levelCosts = [MaxLevel + 1]int{
	0, 0,
	3698,  // 2
	7922,  // 3
	12348, // 4
	16978, // 5
	21818, // 6
	26869, // 7
	32137, // 8
	37624, // 9
	43335, // 10
	49271, // 11
	55439, // 12
	61840, // 13
	68479, // 14
	75358, // 15
}

var cumulative = func() [MaxLevel + 1]int {
	var out [MaxLevel + 1]int
	for l := 2; l <= MaxLevel; l++ {
		out[l] = out[l-1] + levelCosts[l]
	}
	return out
}()

// CostToReach returns the cost of the single step (L-1 -> L).
// ok is false for levels outside 2..15.
func CostToReach(level int) (cost int, ok bool) {
	if level < 2 || level > MaxLevel {
		return 0, false
	}
	return levelCosts[level], true
}

// CumulativeCost returns the total runes spent to reach level from level 1.
// Levels below 1 cost nothing; levels above 15 are clamped.
func CumulativeCost(level int) int {
	if level <= MinLevel {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return cumulative[level]
}

// JumpCost is the cost of going from level from to level to (0 when to <= from).
func JumpCost(from, to int) int {
	if to <= from {
		return 0
	}
	return CumulativeCost(to) - CumulativeCost(from)
}

// PotentialLevel is the highest level reachable by spending runes on
// consecutive level-ups starting at level. Never exceeds 15.
func PotentialLevel(level, runes int) int {
	if level < MinLevel {
		level = MinLevel
	}
	if level >= MaxLevel {
		return MaxLevel
	}
	left := runes
	for level < MaxLevel {
		c := levelCosts[level+1]
		if left < c {
			break
		}
		left -= c
		level++
	}
	return level
}

// MissingToNext is the number of runes still needed for the next level-up.
// Returns 0 at max level or when already affordable.
func MissingToNext(level, runes int) int {
	c, ok := CostToReach(level + 1)
	if !ok {
		return 0
	}
	if runes >= c {
		return 0
	}
	return c - runes
}
