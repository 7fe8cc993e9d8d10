package session

import (
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/ledger"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/rules"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/runes"
)

const (
	minConfidence       = 50
	uncertainConfidence = 70
	highConfidence      = 85

	levelBurstAgree = 4
	sustainFrames   = 10
	maxLevelRise    = 3
	maxLevelDrop    = 1
	syncWindow      = 30 * time.Second

	levelUpSyncHold = 12 * time.Second
	levelUpSpendPct = 80
	ignoreGrace     = 5 * time.Second
	deathWindow     = 5 * time.Second
)

func levelConsensus(conf float64) int {
	switch {
	case conf >= highConfidence:
		return 2
	case conf >= uncertainConfidence:
		return 3
	}
	return 5
}

func countEqual(burst []int, v int) int {
	n := 0
	for _, b := range burst {
		if b == v {
			n++
		}
	}
	return n
}

func (o *Orchestrator) handleLevel(r protocol.LevelRead) {
	s := o.sess
	now := r.At
	if r.Confidence < minConfidence {
		s.LastReadingConfidence = r.Confidence
		return
	}
	s.LastReadingConfidence = r.Confidence
	if r.Level < runes.MinLevel || r.Level > runes.MaxLevel {
		return
	}
	if s.StatsFrozen {
		o.frozenLevel(r)
		return
	}

	if r.Level == s.levelCandidate {
		s.levelStreak++
	} else {
		s.levelCandidate = r.Level
		s.levelStreak = 1
		s.levelDoubt = false
	}
	if r.Level == s.CurrentLevel {
		return
	}
	if s.levelStreak < levelConsensus(r.Confidence) {
		return
	}

	old := s.CurrentLevel
	diff := r.Level - old
	sustained := s.levelStreak >= sustainFrames
	syncing := o.inSyncWindow(now)

	if syncing {
		o.setLevel(r.Level, now)
		return
	}
	if diff > maxLevelRise || -diff > maxLevelDrop {
		if !sustained {
			o.doubtLevel(now, r.Level, "jump")
			return
		}
		o.forceCorrectLevel(old, r.Level, now)
		return
	}
	burstOK := countEqual(r.Burst, r.Level) >= levelBurstAgree
	if !burstOK && !sustained {
		return
	}
	if diff < 0 {
		o.levelDropped(old, r.Level, now, sustained && !burstOK)
		return
	}
	o.levelUp(old, r.Level, now)
}

// frozenLevel handles readings while stat writes are gated.
func (o *Orchestrator) frozenLevel(r protocol.LevelRead) {
	s := o.sess
	if o.inSession() {
		return
	}
	switch {
	case r.Level == runes.MinLevel && !s.WaitingForDay1:
		s.WaitingForDay1 = true
		o.log.Info("waiting for day 1 banner")
	case r.Level > runes.MinLevel && r.Confidence >= highConfidence && !s.WaitingForDay1:
		// The overlay attached mid-run: accept readings from now on.
		s.StatsFrozen = false
		o.log.Info("stats unfrozen by mid-run reading", "level", r.Level)
	}
}

// inSyncWindow is true outside a run and during the first seconds of one,
// when any reading is taken as the starting value.
func (o *Orchestrator) inSyncWindow(now time.Time) bool {
	if !o.inSession() {
		return true
	}
	d1 := o.machine.Day1At()
	return !d1.IsZero() && now.Sub(d1) < syncWindow
}

func (o *Orchestrator) doubtLevel(now time.Time, level int, why string) {
	s := o.sess
	if s.levelDoubt {
		return
	}
	s.levelDoubt = true
	o.runEvent(now, EventOCRDoubt, protocol.ErrRuleViolation, map[string]any{
		"stat": "level", "value": level, "current": s.CurrentLevel, "why": why,
	})
}

func (o *Orchestrator) setLevel(level int, now time.Time) {
	s := o.sess
	s.CurrentLevel = level
	s.DisplayLevel = level
	s.LastStatChange = now
	s.markUncertain(now)
	s.levelDoubt = false
}

func (o *Orchestrator) forceCorrectLevel(old, level int, now time.Time) {
	o.log.Warn("level force-corrected", "from", old, "to", level, "code", protocol.ErrRuleViolation)
	o.runEvent(now, EventOCRDoubt, protocol.ErrRuleViolation, map[string]any{
		"stat": "level", "from": old, "to": level, "why": "force_correct",
	})
	o.setLevel(level, now)
}

// levelDropped handles a one-level drop. With a recent black screen it is a
// death candidate until the rune counter empties.
func (o *Orchestrator) levelDropped(old, level int, now time.Time, forced bool) {
	s := o.sess
	blackRecent := !s.LastBlackEnd.IsZero() && !now.Before(s.LastBlackEnd) && now.Sub(s.LastBlackEnd) <= rules.DeathBlackWindow
	if !blackRecent {
		if !forced && s.levelStreak < sustainFrames {
			o.doubtLevel(now, level, "drop_without_black_screen")
			return
		}
		o.forceCorrectLevel(old, level, now)
		return
	}
	before := s.CurrentRunes
	if p := s.pending; p != nil && now.Sub(p.at) <= deathWindow {
		before = p.oldRunes
	}
	o.setLevel(level, now)
	s.death = &deathCandidate{at: now, oldLevel: old, newLevel: level, runesBefore: before, dropIndex: s.historyLen()}
	if rules.IsDeathConfirmed(old, level, s.CurrentRunes, s.LastBlackEnd, now) {
		o.confirmDeath(now)
	}
}

func (o *Orchestrator) expireDeathCandidate(now time.Time) {
	s := o.sess
	if s.death != nil && now.Sub(s.death.at) > deathWindow {
		o.runEvent(now, EventOCRDoubt, protocol.ErrRuleViolation, map[string]any{
			"stat": "level", "from": s.death.oldLevel, "to": s.death.newLevel, "why": "death_not_confirmed",
		})
		s.death = nil
	}
}

// confirmDeath books the loss of the rune pool plus the lost level's cost.
func (o *Orchestrator) confirmDeath(now time.Time) {
	s := o.sess
	c := s.death
	s.death = nil
	if c == nil {
		return
	}
	if s.LostRunesPending > 0 {
		o.convertPendingLoss(now, "second_death")
	}
	before := c.runesBefore
	dropIndex := c.dropIndex
	if p := s.pending; p != nil && now.Sub(p.at) <= deathWindow {
		before = max(before, p.oldRunes)
		dropIndex = min(dropIndex, p.dropIndex)
		s.raiseHistory(p.dropIndex, p.wealthBefore)
		s.pending = nil
	}
	o.undoRecentSpending(now, deathWindow, ledger.ResolutionDeath)
	levelCost, _ := runes.CostToReach(c.oldLevel)
	s.LostRunesPending = before + levelCost
	s.DeathCount++
	s.LastDeathAt = now
	s.ignoreDrop = time.Time{}
	s.addGraphEvent(protocol.GraphDeath, "")
	o.ledger.Record(ledger.KindDeath, before, s.CurrentRunes, now)
	o.runEvent(now, EventDeath, "", map[string]any{
		"from_level":         c.oldLevel,
		"to_level":           c.newLevel,
		"runes_before":       before,
		"lost_runes_pending": s.LostRunesPending,
		"death_count":        s.DeathCount,
		"drop_index":         dropIndex,
	})
	o.log.Info("death confirmed", "lost", s.LostRunesPending, "deaths", s.DeathCount)
}

// levelUp books a level gain. The jump cost leaves the last valid wealth so
// the curve does not spike while the rune counter catches up.
func (o *Orchestrator) levelUp(old, level int, now time.Time) {
	s := o.sess
	cost := runes.JumpCost(old, level)
	runesRef := s.CurrentRunes
	consumed := false
	if p := s.pending; p != nil && ledger.Matches(p.spent(), cost) {
		runesRef = p.oldRunes
		s.raiseHistory(p.dropIndex, p.wealthBefore)
		s.pending = nil
		consumed = true
	}
	if !consumed {
		for _, t := range o.ledger.Pending() {
			if ledger.Matches(t.Spent(), cost) {
				runesRef = t.OldRunes
				consumed = true
				break
			}
		}
	}
	o.ledger.NoteLevelUp(cost)
	o.setLevel(level, now)
	s.LastValidTotalWealth = max(0, s.LastValidTotalWealth-cost)
	if runesRef-s.CurrentRunes < cost*levelUpSpendPct/100 {
		s.sync = &levelUpSync{until: now.Add(levelUpSyncHold), cost: cost, runesRef: runesRef}
	} else {
		s.sync = nil
	}
	if !consumed {
		s.ignoreDrop = now.Add(ignoreGrace)
	}
	s.ignoreGain = now.Add(ignoreGrace)
	o.ledger.Record(ledger.KindLevelUp, runesRef, s.CurrentRunes, now)
	o.runEvent(now, EventLevelUp, "", map[string]any{"from": old, "to": level, "cost": cost, "runes_ref": runesRef})
}
