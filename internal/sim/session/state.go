package session

import (
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/economy"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/runes"
)

// pendingSpending is a rune drop still inside its grace period.
type pendingSpending struct {
	at           time.Time
	oldRunes     int
	newRunes     int
	dropIndex    int
	wealthBefore int
}

func (p *pendingSpending) spent() int { return p.oldRunes - p.newRunes }

// deathCandidate is a one-level drop seen right after a black screen, waiting
// for the rune counter to empty.
type deathCandidate struct {
	at          time.Time
	oldLevel    int
	newLevel    int
	runesBefore int
	dropIndex   int
}

type levelUpSync struct {
	until    time.Time
	cost     int
	runesRef int
}

// spendInfo remembers what applying a merchant ticket did to the history so
// it can be undone.
type spendInfo struct {
	wealthBefore int
	decFrom      int
	saved        []int
	amount       int
	applied      bool
}

// GameSession is the state of one run. Only the orchestrator mutates it.
type GameSession struct {
	ID        string
	StartWall time.Time
	MaxPhase  int
	Result    string

	CurrentLevel          int
	CurrentRunes          int
	LastRawRunes          int
	LastValidTotalWealth  int
	DisplayLevel          int
	DisplayRunes          int
	StatsFrozen           bool
	WaitingForDay1        bool
	DeathCount            int
	RecoveryCount         int
	SpentAtMerchants      int
	PermanentLoss         int
	LostRunesPending      int
	AccumulatedHistory    []int
	RawHistory            []int
	GraphEvents           []protocol.GraphEvent
	DayMarkers            []protocol.DayMarker
	RPS                   economy.RPS
	PendingRPSGain        int
	RunesUncertain        bool
	RunesUncertainSince   time.Time
	InMenu                bool
	Victory               bool
	VictoryTotal          time.Duration
	VictoryBoss3          time.Duration
	LastStatChange        time.Time
	LastBlackEnd          time.Time
	LastDeathAt           time.Time
	LastRuneConfidence    float64
	LastReadingConfidence float64

	blackActive bool
	blackStart  time.Time
	iconVisible bool
	menuSince   time.Time

	levelCandidate int
	levelStreak    int
	levelDoubt     bool

	runeCandidate int
	runeStreak    int
	runeDoubt     bool

	pending       *pendingSpending
	death         *deathCandidate
	sync          *levelUpSync
	ignoreDrop    time.Time // set: next rune drop before this instant is expected
	ignoreGain    time.Time
	spends        map[string]*spendInfo
	lastBanner    string
	banners       []bannerHit
	cooldownUntil time.Time
	lastDenyWarn  time.Time
}

func newGameSession() *GameSession {
	return &GameSession{
		MaxPhase:     -1,
		CurrentLevel: runes.MinLevel,
		DisplayLevel: runes.MinLevel,
		StatsFrozen:  true,
		iconVisible:  true,
		spends:       map[string]*spendInfo{},
	}
}

// currentCalc is the naive total wealth from the committed readings.
func (s *GameSession) currentCalc() int {
	return runes.CumulativeCost(s.CurrentLevel) + s.CurrentRunes + s.LostRunesPending
}

func (s *GameSession) historyLen() int { return len(s.AccumulatedHistory) }

func (s *GameSession) addGraphEvent(kind, details string) {
	s.GraphEvents = append(s.GraphEvents, protocol.GraphEvent{T: s.historyLen(), Kind: kind, Details: details})
}

func (s *GameSession) addGraphEventAt(t int, kind, details string) {
	s.GraphEvents = append(s.GraphEvents, protocol.GraphEvent{T: t, Kind: kind, Details: details})
}

// raiseHistory lifts every entry in [from, len) to at least v.
func (s *GameSession) raiseHistory(from, v int) {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(s.AccumulatedHistory); i++ {
		if s.AccumulatedHistory[i] < v {
			s.AccumulatedHistory[i] = v
		}
	}
}

// lowerHistory subtracts amount from entries in [from, to), floored at 0.
func (s *GameSession) lowerHistory(from, to, amount int) {
	for i := max(from, 0); i < to && i < len(s.AccumulatedHistory); i++ {
		s.AccumulatedHistory[i] = max(0, s.AccumulatedHistory[i]-amount)
	}
}

func (s *GameSession) markUncertain(now time.Time) {
	if !s.RunesUncertain {
		s.RunesUncertainSince = now
	}
	s.RunesUncertain = true
}
