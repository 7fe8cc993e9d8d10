package session

import (
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/economy"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/phases"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/rules"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/runes"
)

const (
	maxCatchUp     = 10 * time.Second
	runStartGrace  = 15 * time.Second
	graphFlushEach = 5
)

// ledgerCatchUp runs one ledger tick per whole second elapsed since the
// last one. Gaps longer than maxCatchUp are skipped with a single tick.
func (o *Orchestrator) ledgerCatchUp(now time.Time) {
	if !o.inSession() || o.nextSecond.IsZero() {
		return
	}
	if now.Sub(o.nextSecond) > maxCatchUp {
		o.log.Warn("ledger tick resynced", "gap", now.Sub(o.nextSecond))
		o.nextSecond = now
	}
	for !now.Before(o.nextSecond) {
		o.ledgerTick(o.nextSecond)
		o.nextSecond = o.nextSecond.Add(time.Second)
	}
}

func (o *Orchestrator) ledgerTick(at time.Time) {
	s := o.sess
	s.RPS.Push(s.PendingRPSGain)
	s.PendingRPSGain = 0

	levelCost := runes.CumulativeCost(s.CurrentLevel)
	calc := s.currentCalc()
	lifetime := calc + s.SpentAtMerchants + s.PermanentLoss
	if y := s.sync; y != nil {
		switch {
		case at.After(y.until):
			s.sync = nil
		case y.runesRef-s.CurrentRunes < y.cost*levelUpSpendPct/100:
			calc -= y.cost
		default:
			s.sync = nil
		}
	}
	isDeath := !s.LastDeathAt.IsZero() && at.Sub(s.LastDeathAt) <= deathWindow
	isSpending := s.pending != nil || len(o.ledger.Pending()) > 0
	acc := rules.MonotonicityClamp(calc, s.LastValidTotalWealth, isDeath, isSpending)
	s.LastValidTotalWealth = acc

	if o.runElapsed(at) < runStartGrace {
		acc = 1
	}
	n := len(s.AccumulatedHistory)
	if o.machine.Index() >= phases.FinalBoss && n > 0 {
		acc = s.AccumulatedHistory[n-1]
	}
	s.AccumulatedHistory = append(s.AccumulatedHistory, acc)
	s.RawHistory = append(s.RawHistory, calc)

	if o.graphLog == nil {
		return
	}
	entry := GraphEntry{
		T:         n,
		Effective: acc,
		Lifetime:  lifetime,
		Displayed: s.DisplayRunes,
		Components: GraphComponents{
			Cost:      levelCost,
			Merch:     s.SpentAtMerchants,
			Curr:      s.CurrentRunes,
			Pend:      s.LostRunesPending,
			Perm:      s.PermanentLoss,
			Uncertain: s.RunesUncertain,
			Trust:     s.LastRuneConfidence,
		},
	}
	if err := o.graphLog.WriteGraph(entry); err != nil {
		o.log.Warn("graph log write failed", "code", protocol.ErrPersist, "err", err)
	}
	o.lastFlush++
	if o.lastFlush >= graphFlushEach {
		o.lastFlush = 0
		if err := o.graphLog.Flush(); err != nil {
			o.log.Warn("graph log flush failed", "code", protocol.ErrPersist, "err", err)
		}
	}
}

func confidenceDot(conf float64) string {
	switch {
	case conf >= uncertainConfidence:
		return protocol.DotGreen
	case conf >= minConfidence:
		return protocol.DotAmber
	}
	return protocol.DotRed
}

// Snapshot status values.
const (
	StatusWaiting = "waiting"
	StatusRunning = "running"
	StatusVictory = "victory"
	StatusInMenu  = "in_menu"
)

// Snapshot builds the HUD view. Slices are copies.
func (o *Orchestrator) Snapshot(now time.Time) protocol.Snapshot {
	s := o.sess
	idx := o.machine.Index()

	total := 0
	if n := len(s.AccumulatedHistory); n > 0 {
		total = s.AccumulatedHistory[n-1]
	}
	missing := runes.MissingToNext(s.CurrentLevel, s.CurrentRunes)
	missingText := economy.FormatRunes(missing)
	ttl := economy.TimeToLevel(missing, s.RPS.Mean())
	if s.CurrentLevel >= runes.MaxLevel {
		missingText = economy.MaxLevel
		ttl = economy.MaxLevel
	}
	rating := o.cfg.Curve.Rate(total, len(s.AccumulatedHistory))

	status := StatusRunning
	switch {
	case idx == phases.Waiting:
		status = StatusWaiting
	case s.Victory:
		status = StatusVictory
	case s.InMenu:
		status = StatusInMenu
	}

	snap := protocol.Snapshot{
		At:                 now,
		SessionID:          s.ID,
		Status:             status,
		Phase:              idx,
		PhaseName:          phases.Name(idx),
		TimerText:          o.machine.TimerText(now),
		Level:              s.DisplayLevel,
		PotentialLevel:     runes.PotentialLevel(s.CurrentLevel, s.CurrentRunes),
		Runes:              s.DisplayRunes,
		RunesText:          economy.FormatRunes(s.DisplayRunes),
		MissingToNext:      missing,
		MissingText:        missingText,
		TimeToLevel:        ttl,
		TotalWealth:        total,
		LifetimeWealth:     s.currentCalc() + s.SpentAtMerchants + s.PermanentLoss,
		SpentAtMerchants:   s.SpentAtMerchants,
		PermanentLoss:      s.PermanentLoss,
		LostRunesPending:   s.LostRunesPending,
		DeathCount:         s.DeathCount,
		RecoveryCount:      s.RecoveryCount,
		Grade:              rating.Grade,
		DeltaToPlan:        rating.Delta,
		DeltaPct:           rating.DeltaPct,
		SmoothedRPS:        s.RPS.Mean(),
		AccumulatedHistory: append([]int(nil), s.AccumulatedHistory...),
		RawHistory:         append([]int(nil), s.RawHistory...),
		GraphEvents:        append([]protocol.GraphEvent(nil), s.GraphEvents...),
		DayMarkers:         append([]protocol.DayMarker(nil), s.DayMarkers...),
		RunesUncertain:     s.RunesUncertain,
		ConfidenceDot:      confidenceDot(s.LastReadingConfidence),
		InMenu:             s.InMenu,
		StatsFrozen:        s.StatsFrozen,
		Victory:            s.Victory,
	}
	if s.Victory {
		snap.TotalTime = s.VictoryTotal.Seconds()
		snap.Boss3Time = s.VictoryBoss3.Seconds()
	}
	return snap
}
