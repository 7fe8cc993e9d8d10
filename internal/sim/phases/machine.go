package phases

import (
	"fmt"
	"time"
)

var stormCues = []int{120, 60, 30, 5}

type Transition struct {
	From        int       `json:"from"`
	To          int       `json:"to"`
	At          time.Time `json:"at"`
	Auto        bool      `json:"auto,omitempty"`
	ShrinkLabel string    `json:"shrink_label,omitempty"`
	Announce    string    `json:"announce,omitempty"`
}

// Machine tracks the phase sequence of one run. It is not safe for
// concurrent use; the session orchestrator owns it.
type Machine struct {
	index     int
	startedAt time.Time

	day1At  time.Time
	boss3At time.Time

	victory   bool
	victoryAt time.Time

	lastRemaining int
}

func NewMachine() *Machine {
	return &Machine{index: Waiting}
}

func (m *Machine) Index() int             { return m.index }
func (m *Machine) StartedAt() time.Time   { return m.startedAt }
func (m *Machine) Day1At() time.Time      { return m.day1At }
func (m *Machine) Boss3At() time.Time     { return m.boss3At }
func (m *Machine) Victory() bool          { return m.victory }
func (m *Machine) Current() (Phase, bool) { return Get(m.index) }

// Trigger starts the given day. The caller has already checked the
// transition rules.
func (m *Machine) Trigger(day int, now time.Time) (Transition, bool) {
	idx, ok := StartIndex(day)
	if !ok {
		return Transition{}, false
	}
	return m.Jump(idx, now), true
}

// Jump moves to index directly (manual overrides, boss skips, triggers).
func (m *Machine) Jump(index int, now time.Time) Transition {
	tr := Transition{From: m.index, To: index, At: now}
	m.enter(index, now)
	tr.Announce = m.entryAnnouncement()
	return tr
}

func (m *Machine) enter(index int, at time.Time) {
	m.index = index
	m.startedAt = at
	switch index {
	case Day1Storm:
		m.day1At = at
		m.boss3At = time.Time{}
		m.victory = false
		m.victoryAt = time.Time{}
	case Day3Prep:
		m.boss3At = at
	}
	m.lastRemaining = 0
	if p, ok := Get(index); ok {
		m.lastRemaining = int(p.Duration / time.Second)
	}
}

func (m *Machine) entryAnnouncement() string {
	if !IsStorm(m.index) || m.index == Day1Storm {
		return ""
	}
	p, _ := Get(m.index)
	return "Zone closes in " + spokenDuration(int(p.Duration/time.Second))
}

// Advance auto-advances timed phases whose duration has elapsed. Each new
// phase starts exactly where the previous one ended.
func (m *Machine) Advance(now time.Time) []Transition {
	var out []Transition
	for !m.victory {
		p, ok := Get(m.index)
		if !ok || p.Duration <= 0 {
			break
		}
		end := m.startedAt.Add(p.Duration)
		if now.Before(end) {
			break
		}
		from := m.index
		m.enter(from+1, end)
		out = append(out, Transition{
			From:        from,
			To:          m.index,
			At:          end,
			Auto:        true,
			ShrinkLabel: ShrinkLabel(from),
			Announce:    m.entryAnnouncement(),
		})
	}
	return out
}

// Cues returns the countdown announcements crossed since the last call.
func (m *Machine) Cues(now time.Time) []string {
	if !IsStorm(m.index) || m.victory {
		return nil
	}
	rem := m.RemainingSeconds(now)
	var out []string
	for _, c := range stormCues {
		if m.lastRemaining > c && rem <= c {
			out = append(out, spokenDuration(c))
		}
	}
	if rem < m.lastRemaining {
		m.lastRemaining = rem
	}
	return out
}

func (m *Machine) Elapsed(now time.Time) time.Duration {
	if m.index == Waiting || m.startedAt.IsZero() {
		return 0
	}
	if m.victory {
		now = m.victoryAt
	}
	if now.Before(m.startedAt) {
		return 0
	}
	return now.Sub(m.startedAt)
}

// RunElapsed is the time since the Day 1 banner, frozen at victory.
func (m *Machine) RunElapsed(now time.Time) time.Duration {
	if m.day1At.IsZero() {
		return 0
	}
	if m.victory {
		now = m.victoryAt
	}
	if now.Before(m.day1At) {
		return 0
	}
	return now.Sub(m.day1At)
}

// RemainingSeconds is the whole seconds left in a timed phase, rounded up.
func (m *Machine) RemainingSeconds(now time.Time) int {
	p, ok := Get(m.index)
	if !ok || p.Duration <= 0 {
		return 0
	}
	left := p.Duration - m.Elapsed(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

type VictoryTimes struct {
	Total time.Duration
	Boss3 time.Duration
}

// MarkVictory freezes the timer.
func (m *Machine) MarkVictory(now time.Time) VictoryTimes {
	if !m.victory {
		m.victory = true
		m.victoryAt = now
	}
	vt := VictoryTimes{Total: m.RunElapsed(now)}
	if !m.boss3At.IsZero() && !m.victoryAt.Before(m.boss3At) {
		vt.Boss3 = m.victoryAt.Sub(m.boss3At)
	}
	return vt
}

func (m *Machine) Reset() {
	*m = Machine{index: Waiting}
}

// TimerText renders the HUD timer: countdown for timed phases, stopwatch
// otherwise, total run time once the run is won.
func (m *Machine) TimerText(now time.Time) string {
	switch {
	case m.index == Waiting:
		return "--:--"
	case m.victory:
		return Clock(m.RunElapsed(now))
	}
	if p, ok := Get(m.index); ok && p.Duration > 0 {
		return Clock(time.Duration(m.RemainingSeconds(now)) * time.Second)
	}
	return Clock(m.Elapsed(now))
}

func Clock(d time.Duration) string {
	s := int(d / time.Second)
	if s < 0 {
		s = 0
	}
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, (s/60)%60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func spokenDuration(sec int) string {
	m, s := sec/60, sec%60
	unit := func(n int, word string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", word)
		}
		return fmt.Sprintf("%d %ss", n, word)
	}
	switch {
	case m > 0 && s > 0:
		return unit(m, "minute") + " " + unit(s, "second")
	case m > 0:
		return unit(m, "minute")
	default:
		return unit(s, "second")
	}
}
