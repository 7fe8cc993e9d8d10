package session

import (
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/ledger"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/rules"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/runes"
)

const (
	runeBurstAgree      = 3
	runeStreakFallback  = 5
	hallucinationFrames = 15
	hallucinationFrom   = 100
	hallucinationTo     = 10
	digitShiftMinLen    = 5
	digitShiftMinDelta  = 10000
	digitShiftFrames    = 10

	spendingGrace     = 10 * time.Second
	ghostRecoverPct   = 98
	ghostFlattenSpan  = 60
	merchantSpan      = 300
	recentSpendWindow = 5 * time.Minute
)

func (o *Orchestrator) handleRunes(r protocol.RunesRead) {
	s := o.sess
	now := r.At
	if s.StatsFrozen {
		return
	}
	if r.Confidence < minConfidence {
		s.LastReadingConfidence = r.Confidence
		return
	}
	s.LastReadingConfidence = r.Confidence
	s.LastRuneConfidence = r.Confidence
	if r.Confidence < uncertainConfidence {
		s.markUncertain(now)
	}
	if !rules.IsValidReading(runes.MinLevel, r.Runes) {
		return
	}
	if s.InMenu {
		return
	}

	v := r.Runes
	if v == s.runeCandidate {
		s.runeStreak++
	} else {
		s.runeCandidate = v
		s.runeStreak = 1
		s.runeDoubt = false
	}
	s.LastRawRunes = v
	if v == s.CurrentRunes {
		return
	}

	deathCtx := s.death != nil || (!s.LastBlackEnd.IsZero() && now.Sub(s.LastBlackEnd) <= rules.DeathBlackWindow)
	switch {
	case s.CurrentRunes > hallucinationFrom && v < hallucinationTo && !deathCtx:
		if s.runeStreak < hallucinationFrames {
			o.doubtRunes(now, v, protocol.ErrHallucination)
			return
		}
	case digitShift(s.CurrentRunes, v) && !deathCtx:
		if s.runeStreak < digitShiftFrames {
			o.doubtRunes(now, v, protocol.ErrDigitShift)
			return
		}
	case countEqual(r.Burst, v) < runeBurstAgree && s.runeStreak < runeStreakFallback:
		return
	}
	o.commitRunes(v, now)
}

func (o *Orchestrator) doubtRunes(now time.Time, v int, code string) {
	s := o.sess
	if s.runeDoubt {
		return
	}
	s.runeDoubt = true
	o.runEvent(now, EventOCRDoubt, code, map[string]any{"stat": "runes", "value": v, "current": s.CurrentRunes})
}

// digitShift reports a same-length reading that differs in exactly one digit
// by a large amount, the signature of a misread digit.
func digitShift(old, cur int) bool {
	d := cur - old
	if d < 0 {
		d = -d
	}
	if d < digitShiftMinDelta {
		return false
	}
	a, b := itoa(old), itoa(cur)
	if len(a) != len(b) || len(a) < digitShiftMinLen {
		return false
	}
	diff := 0
	for i := range a {
		if a[i] != b[i] {
			diff++
		}
	}
	return diff == 1
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (o *Orchestrator) commitRunes(v int, now time.Time) {
	s := o.sess
	old := s.CurrentRunes
	delta := v - old
	s.CurrentRunes = v
	s.DisplayRunes = v
	s.LastStatChange = now
	s.runeDoubt = false

	if s.death != nil && v < rules.DeathMaxRunes &&
		rules.IsDeathConfirmed(s.death.oldLevel, s.death.newLevel, v, s.LastBlackEnd, now) {
		o.confirmDeath(now)
		return
	}
	if !o.inSession() {
		return
	}
	if delta > 0 {
		o.runesGained(old, v, delta, now)
		return
	}
	o.runesDropped(old, v, now)
}

func (o *Orchestrator) runesGained(old, v, gain int, now time.Time) {
	s := o.sess
	if p := s.pending; p != nil && v*100 >= p.oldRunes*ghostRecoverPct {
		o.ghostCancel(now)
		return
	}
	if o.ledger.NoteGain(gain, now) {
		return
	}
	if o.undoMatchingSpending(gain, now) {
		return
	}
	if s.LostRunesPending > 0 && v == s.LostRunesPending {
		o.recover(old, v, now)
		return
	}
	if now.Before(s.ignoreGain) {
		s.ignoreGain = time.Time{}
		return
	}
	s.PendingRPSGain += gain
}

func (o *Orchestrator) recover(old, v int, now time.Time) {
	s := o.sess
	amount := s.LostRunesPending
	s.RecoveryCount++
	s.LostRunesPending = 0
	s.addGraphEvent(protocol.GraphRecovery, "")
	o.ledger.Record(ledger.KindRecovery, old, v, now)
	o.runEvent(now, EventRecovery, "", map[string]any{"amount": amount, "recovery_count": s.RecoveryCount})
	o.log.Info("runes recovered", "amount", amount)
}

func (o *Orchestrator) runesDropped(old, v int, now time.Time) {
	s := o.sess
	if now.Before(s.ignoreDrop) {
		s.ignoreDrop = time.Time{}
		return
	}
	if p := s.pending; p != nil {
		p.newRunes = v
		return
	}
	s.pending = &pendingSpending{
		at:           now,
		oldRunes:     old,
		newRunes:     v,
		dropIndex:    s.historyLen(),
		wealthBefore: s.LastValidTotalWealth,
	}
	s.markUncertain(now)
	o.runEvent(now, EventSpending, "", map[string]any{"state": "pending", "old": old, "new": v, "spent": old - v})
}

// checkPendingSpending runs the 10s grace: a rune counter that comes back is a
// ghost, a drop that stays becomes a ledger ticket.
func (o *Orchestrator) checkPendingSpending(now time.Time) {
	s := o.sess
	p := s.pending
	if p == nil {
		return
	}
	if s.CurrentRunes*100 >= p.oldRunes*ghostRecoverPct {
		o.ghostCancel(now)
		return
	}
	if now.Sub(p.at) < spendingGrace {
		return
	}
	s.pending = nil
	if p.spent() <= 0 {
		return
	}
	t := o.ledger.OpenSpending(p.oldRunes, p.newRunes, p.dropIndex, now)
	if !s.iconVisible || s.InMenu {
		o.ledger.NoteHUDHidden()
	}
	s.spends[t.ID] = &spendInfo{wealthBefore: p.wealthBefore}
	o.runEvent(now, EventSpending, "", map[string]any{"state": "ticket", "ticket": t.ID, "spent": t.Spent()})
}

func (o *Orchestrator) ghostCancel(now time.Time) {
	s := o.sess
	p := s.pending
	s.pending = nil
	s.raiseHistory(s.historyLen()-ghostFlattenSpan, p.wealthBefore)
	s.LastValidTotalWealth = max(s.LastValidTotalWealth, p.wealthBefore)
	o.runEvent(now, EventSpendingReverted, protocol.ErrGhost, map[string]any{"old": p.oldRunes, "new": p.newRunes})
}

// resolveTickets applies or reverts every ticket the ledger decided.
func (o *Orchestrator) resolveTickets(now time.Time) {
	for _, t := range o.ledger.Resolve(now) {
		switch t.Resolution {
		case ledger.ResolutionMerchant:
			o.applyMerchant(t, now)
			o.ledger.Apply(t.ID, now)
		case ledger.ResolutionLevelUp:
			o.revertDip(t)
			o.ledger.Apply(t.ID, now)
		case ledger.ResolutionGhost, ledger.ResolutionError:
			o.revertDip(t)
			o.ledger.Revert(t.ID, now)
			code := protocol.ErrGhost
			if t.Resolution == ledger.ResolutionError {
				code = protocol.ErrUnexplainedSpend
			}
			o.runEvent(now, EventSpendingReverted, code, map[string]any{
				"ticket": t.ID, "resolution": string(t.Resolution), "spent": t.Spent(),
			})
		}
	}
}

// applyMerchant books a purchase. Up to merchantSpan history entries before
// the drop are lowered by the spent amount.
func (o *Orchestrator) applyMerchant(t ledger.Ticket, now time.Time) {
	s := o.sess
	amount := t.Spent()
	s.SpentAtMerchants += amount
	to := min(t.DropIndex, s.historyLen())
	from := max(0, to-merchantSpan)
	s.addGraphEventAt(t.DropIndex, protocol.GraphSpending, "")
	info := s.spends[t.ID]
	if info == nil {
		info = &spendInfo{}
		s.spends[t.ID] = info
	}
	info.decFrom, info.amount, info.applied = from, amount, true
	info.saved = append([]int(nil), s.AccumulatedHistory[from:to]...)
	s.lowerHistory(from, to, amount)
	o.runEvent(now, EventSpending, "", map[string]any{"state": "applied", "ticket": t.ID, "spent": amount, "total": s.SpentAtMerchants})
}

func (o *Orchestrator) revertDip(t ledger.Ticket) {
	s := o.sess
	info := s.spends[t.ID]
	if info == nil {
		return
	}
	s.raiseHistory(t.DropIndex, info.wealthBefore)
	s.LastValidTotalWealth = max(s.LastValidTotalWealth, info.wealthBefore)
	delete(s.spends, t.ID)
}

// undoMatchingSpending cancels an applied merchant spending offset by gain.
func (o *Orchestrator) undoMatchingSpending(gain int, now time.Time) bool {
	for _, t := range o.ledger.RecentSpending(now, recentSpendWindow) {
		if ledger.Matches(t.Spent(), gain) {
			o.undoSpending(t, now, ledger.ResolutionGhost)
			return true
		}
	}
	return false
}

func (o *Orchestrator) undoRecentSpending(now time.Time, window time.Duration, res ledger.Resolution) {
	for _, t := range o.ledger.RecentSpending(now, window) {
		o.undoSpending(t, now, res)
	}
	for _, t := range o.ledger.Pending() {
		if now.Sub(t.OpenedAt) <= window {
			o.revertDip(t)
			o.ledger.Cancel(t.ID, res, now)
		}
	}
}

func (o *Orchestrator) undoSpending(t ledger.Ticket, now time.Time, res ledger.Resolution) {
	s := o.sess
	if info := s.spends[t.ID]; info != nil && info.applied {
		s.SpentAtMerchants = max(0, s.SpentAtMerchants-info.amount)
		for i, v := range info.saved {
			if j := info.decFrom + i; j < len(s.AccumulatedHistory) {
				s.AccumulatedHistory[j] = max(s.AccumulatedHistory[j], v)
			}
		}
		s.raiseHistory(t.DropIndex, info.wealthBefore)
		s.LastValidTotalWealth = max(s.LastValidTotalWealth, info.wealthBefore)
		delete(s.spends, t.ID)
	}
	o.ledger.Cancel(t.ID, res, now)
	o.runEvent(now, EventSpendingReverted, protocol.ErrGhost, map[string]any{
		"ticket": t.ID, "resolution": string(res), "spent": t.Spent(),
	})
}
