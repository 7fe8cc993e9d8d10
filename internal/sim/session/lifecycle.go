package session

import (
	"fmt"
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/patterns"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/phases"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/rules"
)

const (
	menuConfirmHold = 3 * time.Second
	uncertainHold   = 3 * time.Second
)

// triggerDay moves the run to the start of day. Day 1 starts a new session.
func (o *Orchestrator) triggerDay(day int, now time.Time, reason string) bool {
	from := o.machine.Index()
	if day == 1 {
		o.startSession(now)
	}
	tr, ok := o.machine.Trigger(day, now)
	if !ok {
		return false
	}
	s := o.sess
	label := fmt.Sprintf("DAY %d", day)
	if day == phases.FinalDay {
		label = "FINAL BOSS"
	}
	s.DayMarkers = append(s.DayMarkers, protocol.DayMarker{T: s.historyLen(), Label: label})
	if day == 2 || day == 3 {
		o.convertPendingLoss(now, fmt.Sprintf("day_%d", day))
	}
	o.runEvent(now, EventTrigger, "", map[string]any{"day": day, "from": from, "reason": reason})
	o.log.Info("day triggered", "day", day, "from", from, "reason", reason)
	o.onTransition(tr, reason)
	return true
}

// onTransition records a phase move produced by the state machine.
func (o *Orchestrator) onTransition(tr phases.Transition, reason string) {
	s := o.sess
	if tr.ShrinkLabel != "" {
		s.addGraphEvent(protocol.GraphShrink, tr.ShrinkLabel)
	}
	if tr.To > s.MaxPhase {
		s.MaxPhase = tr.To
	}
	o.runEvent(tr.At, EventPhaseChange, "", map[string]any{
		"from":   tr.From,
		"to":     tr.To,
		"name":   phases.Name(tr.To),
		"reason": reason,
	})
	if o.bus != nil {
		o.bus.Publish(protocol.PhaseChange{At: tr.At, From: tr.From, To: tr.To, Name: phases.Name(tr.To), Reason: reason})
	}
	o.announce(tr.At, tr.Announce)
}

func (o *Orchestrator) startSession(now time.Time) {
	if o.sess.ID != "" && o.sess.Result == ResultRunning {
		result := ResultAbandoned
		if o.sess.MaxPhase >= phases.Boss1 {
			result = ResultDefeat
		}
		o.endSession(now, result)
	}
	o.sess = newGameSession()
	o.ledger.Reset()
	o.machine.Reset()

	s := o.sess
	s.ID = o.cfg.NewSessionID()
	s.StartWall = now
	s.Result = ResultRunning
	s.StatsFrozen = false
	s.WaitingForDay1 = false
	o.nextSecond = now.Add(time.Second)
	o.lastFlush = 0

	o.sessionCount++
	if o.onCount != nil {
		o.onCount(o.sessionCount)
	}
	if o.runLog != nil {
		if err := o.runLog.BeginRun(s.ID, now); err != nil {
			o.log.Warn("run log open failed", "code", protocol.ErrPersist, "err", err)
		}
	}
	if o.store != nil {
		o.store.StartSession(s.ID, now)
	}
	o.log.Info("session started", "session_id", s.ID, "count", o.sessionCount)
}

func (o *Orchestrator) endSession(now time.Time, result string) {
	s := o.sess
	if s.ID == "" {
		return
	}
	// A detected victory can only be confirmed, never overwritten.
	switch {
	case s.Result == ResultVictory && result != ResultVictoryConfirmed:
		return
	case s.Result != ResultRunning && s.Result != ResultVictory:
		return
	}
	prev := s.Result
	s.Result = result
	dur := o.runElapsed(now)
	o.runEvent(now, EventSessionEnd, "", map[string]any{"result": result, "duration_s": dur.Seconds()})
	if o.store != nil {
		o.store.EndSession(s.ID, now, result, dur)
	}
	if prev == ResultVictory {
		// Already archived when the victory was read.
		return
	}
	o.closeRunFiles()
	if o.archiver != nil {
		o.archiver.ArchiveRun(o.summary(now))
	}
	o.log.Info("session ended", "session_id", s.ID, "result", result, "duration", dur)
}

func (o *Orchestrator) closeRunFiles() {
	if o.graphLog != nil {
		if err := o.graphLog.Flush(); err != nil {
			o.log.Warn("graph log flush failed", "code", protocol.ErrPersist, "err", err)
		}
	}
	if o.runLog != nil {
		if err := o.runLog.EndRun(); err != nil {
			o.log.Warn("run log close failed", "code", protocol.ErrPersist, "err", err)
		}
	}
}

func (o *Orchestrator) summary(now time.Time) RunSummary {
	s := o.sess
	total := 0
	if n := len(s.AccumulatedHistory); n > 0 {
		total = s.AccumulatedHistory[n-1]
	}
	return RunSummary{
		SessionID:     s.ID,
		Start:         s.StartWall,
		End:           now,
		Result:        s.Result,
		Duration:      o.runElapsed(now),
		MaxPhase:      s.MaxPhase,
		DeathCount:    s.DeathCount,
		RecoveryCount: s.RecoveryCount,
		FinalLevel:    s.CurrentLevel,
		TotalWealth:   total,
	}
}

// Reset ends the current run and goes back to waiting for a Day 1 banner.
func (o *Orchestrator) reset(now time.Time) {
	from := o.machine.Index()
	o.endSession(now, ResultReset)
	o.sess = newGameSession()
	o.ledger.Reset()
	o.machine.Reset()
	o.nextSecond = time.Time{}
	o.log.Info("session reset")
	if o.bus != nil {
		o.bus.Publish(protocol.PhaseChange{At: now, From: from, To: phases.Waiting, Name: phases.Name(phases.Waiting), Reason: "reset"})
	}
}

// convertPendingLoss turns unrecovered runes into permanent loss.
func (o *Orchestrator) convertPendingLoss(now time.Time, reason string) {
	s := o.sess
	if s.LostRunesPending <= 0 {
		return
	}
	lost := s.LostRunesPending
	s.PermanentLoss += lost
	s.LostRunesPending = 0
	o.runEvent(now, EventPermanentLoss, "", map[string]any{"amount": lost, "reason": reason, "total": s.PermanentLoss})
}

func (o *Orchestrator) handleVictory(v protocol.VictoryRead) {
	s := o.sess
	if o.machine.Index() != phases.FinalBoss || s.Victory {
		return
	}
	res := o.matcher.EvaluateVictory(v.Text)
	if res.Tag != patterns.TagVictory || res.Score < patterns.MinVictoryScore {
		return
	}
	now := v.At
	vt := o.machine.MarkVictory(now)
	s.Victory = true
	s.VictoryTotal = vt.Total
	s.VictoryBoss3 = vt.Boss3
	s.Result = ResultVictory
	o.runEvent(now, EventVictory, "", map[string]any{
		"text":         v.Text,
		"score":        res.Score,
		"total_s":      vt.Total.Seconds(),
		"boss3_s":      vt.Boss3.Seconds(),
		"final_level":  s.CurrentLevel,
		"total_wealth": s.LastValidTotalWealth,
	})
	if o.store != nil {
		o.store.EndSession(s.ID, now, ResultVictory, vt.Total)
	}
	o.announce(now, "Victory in "+phases.Clock(vt.Total))
	o.log.Info("victory", "total", vt.Total, "boss3", vt.Boss3)
	o.closeRunFiles()
	if o.archiver != nil {
		o.archiver.ArchiveRun(o.summary(now))
	}
}

func (o *Orchestrator) handleMenu(m protocol.MenuPresent) {
	s := o.sess
	if !m.Confirmed {
		s.menuSince = time.Time{}
		s.InMenu = false
		return
	}
	if s.menuSince.IsZero() {
		s.menuSince = m.At
	}
	o.checkMenuConfirmation(m.At)
}

func (o *Orchestrator) checkMenuConfirmation(now time.Time) {
	s := o.sess
	if s.menuSince.IsZero() || s.InMenu || now.Sub(s.menuSince) < menuConfirmHold {
		return
	}
	s.InMenu = true
	o.ledger.NoteHUDHidden()
	o.log.Debug("in menu")
	if s.Result == ResultVictory {
		o.endSession(now, ResultVictoryConfirmed)
	}
}

func (o *Orchestrator) handleIcon(v protocol.RuneIconVisible) {
	s := o.sess
	s.iconVisible = v.Present
	if !v.Present {
		o.ledger.NoteHUDHidden()
	}
}

func (o *Orchestrator) handleBlack(b protocol.BlackScreen) {
	s := o.sess
	if b.Active {
		s.blackActive = true
		s.blackStart = b.At
		o.ledger.NoteHUDHidden()
		return
	}
	s.blackActive = false
	s.LastBlackEnd = b.At
}

// HandleCommand runs a hotkey action.
func (o *Orchestrator) HandleCommand(action string, now time.Time) {
	if !protocol.IsKnownAction(action) {
		o.log.Warn("unknown hotkey action", "action", action)
		return
	}
	o.log.Info("hotkey", "action", action)
	switch action {
	case protocol.ActionFullReset:
		o.reset(now)
	case protocol.ActionForceDay1:
		o.forceDay(1, now)
	case protocol.ActionForceDay2:
		o.forceDay(2, now)
	case protocol.ActionForceDay3:
		o.forceDay(3, now)
	case protocol.ActionSkipToBoss:
		o.skipToBoss(now)
	case protocol.ActionOpenTuner:
		if o.bus != nil {
			o.bus.Publish(protocol.TunerRequested{At: now})
		}
	case protocol.ActionQuit:
		o.endSession(now, ResultAbandoned)
		o.stopped = true
	case protocol.ActionHibernate:
		o.setPaused(true)
	case protocol.ActionResume:
		o.setPaused(false)
	case protocol.ActionLearnBanner:
		o.learnLastBanner()
	case protocol.ActionPunishBanner:
		o.punishLastBanner()
	}
}

func (o *Orchestrator) forceDay(day int, now time.Time) {
	in := rules.TransitionInput{
		TargetDay:    day,
		Phase:        o.machine.Index(),
		Level:        o.sess.CurrentLevel,
		Runes:        o.sess.CurrentRunes,
		Elapsed:      o.runElapsed(now),
		LastBlackEnd: o.sess.LastBlackEnd,
		Now:          now,
		Manual:       true,
	}
	if !rules.TransitionAllowed(in) {
		return
	}
	o.triggerDay(day, now, "manual")
	o.sess.cooldownUntil = now.Add(bannerCooldown)
}

func (o *Orchestrator) skipToBoss(now time.Time) {
	idx := o.machine.Index()
	if idx == phases.Waiting || idx >= phases.FinalBoss {
		return
	}
	next := phases.NextBoss(idx)
	if next == phases.FinalBoss {
		o.triggerDay(phases.FinalDay, now, "skip")
		return
	}
	o.onTransition(o.machine.Jump(next, now), "skip")
}

func (o *Orchestrator) setPaused(p bool) {
	for _, x := range o.pausers {
		x.SetPaused(p)
	}
	o.log.Info("capture paused", "paused", p)
}

// currentDayTag is the banner tag of the day the run is in.
func (o *Orchestrator) currentDayTag() string {
	switch idx := o.machine.Index(); {
	case idx < 0:
		return ""
	case idx < phases.Day2Storm:
		return patterns.TagDay1
	case idx < phases.Day3Prep:
		return patterns.TagDay2
	default:
		return patterns.TagDay3
	}
}

func (o *Orchestrator) learnLastBanner() {
	tag := o.currentDayTag()
	if o.sess.lastBanner == "" || tag == "" {
		return
	}
	if err := o.matcher.Learn(o.sess.lastBanner, tag); err != nil {
		o.log.Warn("pattern learn failed", "code", protocol.ErrPersist, "err", err)
	}
}

func (o *Orchestrator) punishLastBanner() {
	if o.sess.lastBanner == "" {
		return
	}
	if err := o.matcher.Punish(o.sess.lastBanner); err != nil {
		o.log.Warn("pattern punish failed", "code", protocol.ErrPersist, "err", err)
	}
}
