// Package economy holds the farming model: income rate smoothing, the ideal
// wealth curve and the grade derived from it.
package economy

import (
	"math"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/phases"
)

const (
	RPSWindow = 40

	// MinUsefulRPS is the rate below which a time-to-level estimate is noise.
	MinUsefulRPS = 5.0

	gradeGrace   = 30 // seconds
	boss1Drop    = 50000
	referenceEnd = 437578
)

// RPS is a fixed ring of per-second gain samples.
type RPS struct {
	buf [RPSWindow]int
	n   int
	i   int
	sum int
}

func (r *RPS) Push(v int) {
	if r.n == RPSWindow {
		r.sum -= r.buf[r.i]
	} else {
		r.n++
	}
	r.buf[r.i] = v
	r.sum += v
	r.i = (r.i + 1) % RPSWindow
}

// Mean is the smoothed income rate. An empty ring yields 0.
func (r *RPS) Mean() float64 {
	if r.n == 0 {
		return 0
	}
	return float64(r.sum) / float64(r.n)
}

func (r *RPS) Len() int { return r.n }

func (r *RPS) Reset() { *r = RPS{} }

// CurveParams shape the ideal wealth curve. The nightreign config section
// overrides the defaults.
type CurveParams struct {
	SnowballD1  float64 `yaml:"snowball_d1" json:"snowball_d1"`
	SnowballD2  float64 `yaml:"snowball_d2" json:"snowball_d2"`
	FarmingGoal int     `yaml:"farming_goal" json:"farming_goal"`
	DayDuration int     `yaml:"day_duration" json:"day_duration"`
	TotalTime   int     `yaml:"total_time" json:"total_time"`
	TargetLevel int     `yaml:"target_level" json:"target_level"`
}

const defaultGoalD1 = 180881

func DefaultCurve() CurveParams {
	return CurveParams{
		SnowballD1:  1.35,
		SnowballD2:  1.15,
		FarmingGoal: referenceEnd,
		DayDuration: 840,
		TotalTime:   1680,
		TargetLevel: 15,
	}
}

// Normalize fills zero fields with defaults.
func (p CurveParams) Normalize() CurveParams {
	d := DefaultCurve()
	if p.SnowballD1 <= 0 {
		p.SnowballD1 = d.SnowballD1
	}
	if p.SnowballD2 <= 0 {
		p.SnowballD2 = d.SnowballD2
	}
	if p.FarmingGoal <= 0 {
		p.FarmingGoal = d.FarmingGoal
	}
	if p.DayDuration <= 0 {
		p.DayDuration = d.DayDuration
	}
	if p.TotalTime <= p.DayDuration {
		p.TotalTime = 2 * p.DayDuration
	}
	if p.TargetLevel <= 0 {
		p.TargetLevel = d.TargetLevel
	}
	return p
}

func (p CurveParams) goalD1() float64 {
	return defaultGoalD1 * float64(p.FarmingGoal) / referenceEnd
}

// Ideal is the expected total wealth after t seconds of active farming.
func (p CurveParams) Ideal(t float64) float64 {
	p = p.Normalize()
	day := float64(p.DayDuration)
	total := float64(p.TotalTime)
	goal := float64(p.FarmingGoal)
	if t <= 0 {
		return 0
	}
	if t <= day {
		return p.goalD1() * math.Pow(t/total, p.SnowballD1)
	}
	if t > total {
		return goal + boss1Drop
	}
	start := p.goalD1()*math.Pow(day/total, p.SnowballD1) + boss1Drop
	frac := (t - day) / (total - day)
	return start + (goal-start)*math.Pow(frac, p.SnowballD2)
}

// Grade letters, best first.
const (
	GradeS = "S"
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
	GradeE = "E"
	GradeF = "F"
)

type Rating struct {
	Grade    string
	Delta    int
	DeltaPct float64
	Ideal    int
}

// Rate grades a total wealth against the ideal curve at t seconds.
func (p CurveParams) Rate(total int, t int) Rating {
	ideal := p.Ideal(float64(t))
	r := Rating{Ideal: int(math.Round(ideal)), Delta: total - int(math.Round(ideal))}
	if ideal > 0 {
		r.DeltaPct = float64(total-int(math.Round(ideal))) / ideal * 100
	}
	if t < gradeGrace || ideal <= 0 {
		r.Grade = GradeA
		return r
	}
	r.Grade = Grade(r.DeltaPct)
	return r
}

// Grade maps a percent delta to a letter.
func Grade(pct float64) string {
	switch {
	case pct >= 10:
		return GradeS
	case pct >= 0:
		return GradeA
	case pct >= -10:
		return GradeB
	case pct >= -20:
		return GradeC
	case pct >= -30:
		return GradeD
	case pct >= -40:
		return GradeE
	}
	return GradeF
}

const (
	NoEstimate = "—"
	OverAnHour = ">1h"
	MaxLevel   = "MAX"
)

// TimeToLevel estimates how long the missing runes take at rps.
func TimeToLevel(missing int, rps float64) string {
	if rps < MinUsefulRPS {
		return NoEstimate
	}
	if missing <= 0 {
		return phases.Clock(0)
	}
	secs := float64(missing) / rps
	if secs > 3600 {
		return OverAnHour
	}
	return phases.Clock(time.Duration(math.Ceil(secs)) * time.Second)
}

var printer = message.NewPrinter(language.English)

// FormatRunes renders a rune count with digit grouping: 12000 -> "12,000".
func FormatRunes(n int) string {
	return printer.Sprintf("%d", n)
}
