package session

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/ledger"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/phases"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/runes"
)

func TestS1_HappyResetToDay1(t *testing.T) {
	h := newHarness(t)
	h.bannerFor("JOUR I", 1000, 10, time.Second)

	if len(h.phases) != 1 || h.phases[0].To != phases.Day1Storm {
		t.Fatalf("phase changes=%+v want exactly one to 0", h.phases)
	}
	if h.o.SessionCount() != 1 {
		t.Fatalf("session count=%d want 1", h.o.SessionCount())
	}
	if h.o.Machine().Day1At().IsZero() {
		t.Fatalf("day1 detection time not set")
	}
	s := h.o.Session()
	if len(s.AccumulatedHistory) != 0 || len(s.RawHistory) != 0 {
		t.Fatalf("histories must start empty")
	}
	snap := h.o.Snapshot(h.now)
	if snap.PhaseName != "Day 1 - Storm" || snap.StatsFrozen {
		t.Fatalf("snapshot phase=%q frozen=%v", snap.PhaseName, snap.StatsFrozen)
	}
	if len(h.store.started) != 1 || len(h.runLog.begun) != 1 {
		t.Fatalf("session not persisted: store=%v runlog=%v", h.store.started, h.runLog.begun)
	}
}

func TestS2_BlockedDay1ResetMidRun(t *testing.T) {
	h := newHarness(t)
	h.startRun(9, 300)
	h.o.Machine().Jump(phases.Day2Shrink, h.now)
	before := len(h.phases)
	id := h.o.Session().ID

	h.bannerFor("JOUR I", 900, 10, time.Second)

	if len(h.phases) != before || h.o.Machine().Index() != phases.Day2Shrink {
		t.Fatalf("day 1 must be rejected mid-run: phase=%d", h.o.Machine().Index())
	}
	if h.o.Session().ID != id {
		t.Fatalf("session must not be replaced")
	}
	doubts := h.runLog.ofType(EventOCRDoubt)
	if len(doubts) == 0 || doubts[len(doubts)-1].Code != protocol.ErrTransitionDenied {
		t.Fatalf("expected a transition-denied warning, got %+v", doubts)
	}
}

func TestS3_ValidatedDeath(t *testing.T) {
	h := newHarness(t)
	h.startRun(9, 12000)

	h.die()

	s := h.o.Session()
	if s.DeathCount != 1 {
		t.Fatalf("death count=%d want 1", s.DeathCount)
	}
	cost9, _ := runes.CostToReach(9)
	if s.LostRunesPending != 12000+cost9 {
		t.Fatalf("lost pending=%d want %d", s.LostRunesPending, 12000+cost9)
	}
	deaths := 0
	for _, ev := range s.GraphEvents {
		if ev.Kind == protocol.GraphDeath {
			deaths++
		}
	}
	if deaths != 1 {
		t.Fatalf("death graph events=%d", deaths)
	}
	at := len(s.AccumulatedHistory)
	h.advance(10 * time.Second)
	for i := at; i < len(s.AccumulatedHistory); i++ {
		if s.AccumulatedHistory[i] < s.AccumulatedHistory[at-1] {
			t.Fatalf("curve fell after death at %d", i)
		}
	}

	lost := s.LostRunesPending
	h.runes(lost, 95, five(lost)...)
	if s.RecoveryCount != 1 || s.LostRunesPending != 0 {
		t.Fatalf("recovery=%d pending=%d", s.RecoveryCount, s.LostRunesPending)
	}
	h.advance(2 * time.Second)
	h.assertMonotone()
}

func TestS3_DeathCancelsRecentSpending(t *testing.T) {
	h := newHarness(t)
	h.startRun(9, 12000)
	h.feed(protocol.BlackScreen{At: h.now, Active: true})
	h.advance(time.Second)
	h.feed(protocol.BlackScreen{At: h.now, Active: false, Duration: time.Second})
	h.advance(time.Second)

	// Runes empty first: a pending spending that the death explains.
	h.runes(0, 95, five(0)...)
	if h.o.Session().pending == nil {
		t.Fatalf("drop must be pending")
	}
	h.advance(time.Second)
	h.level(8, 95)
	h.level(8, 95, five(8)...)

	s := h.o.Session()
	cost9, _ := runes.CostToReach(9)
	if s.DeathCount != 1 || s.LostRunesPending != 12000+cost9 || s.pending != nil {
		t.Fatalf("deaths=%d pending=%d spending=%v", s.DeathCount, s.LostRunesPending, s.pending)
	}
	h.advance(12 * time.Second)
	if s.SpentAtMerchants != 0 {
		t.Fatalf("death must not become a merchant spending: %d", s.SpentAtMerchants)
	}
	h.assertMonotone()
}

func TestS4_GhostSpending(t *testing.T) {
	h := newHarness(t)
	h.startRun(5, 8000)
	preDrop := h.o.Session().LastValidTotalWealth

	h.runes(1200, 95, five(1200)...)
	h.advance(2 * time.Second)
	h.runes(8000, 95, five(8000)...)
	h.advance(15 * time.Second)

	s := h.o.Session()
	if s.pending != nil || len(h.o.Ledger().Pending()) != 0 {
		t.Fatalf("pending spending must be cancelled")
	}
	if s.SpentAtMerchants != 0 {
		t.Fatalf("spent=%d want 0", s.SpentAtMerchants)
	}
	for _, tk := range h.o.Ledger().All() {
		if tk.Kind == ledger.KindSpending && tk.Resolution == ledger.ResolutionMerchant {
			t.Fatalf("merchant ticket applied: %+v", tk)
		}
	}
	hist := s.AccumulatedHistory
	for i := max(0, len(hist)-60); i < len(hist); i++ {
		if hist[i] < preDrop {
			t.Fatalf("history[%d]=%d below pre-drop %d", i, hist[i], preDrop)
		}
	}
	h.assertMonotone()
}

func TestS5_RealMerchantPurchase(t *testing.T) {
	h := newHarness(t)
	h.startRun(5, 8000)
	s := h.o.Session()
	before := append([]int(nil), s.AccumulatedHistory...)
	drop := len(before)

	h.runes(6500, 95, five(6500)...)
	h.advance(10 * time.Second)
	pend := h.o.Ledger().Pending()
	if len(pend) != 1 || pend[0].Spent() != 1500 {
		t.Fatalf("ticket not opened at 10s: %+v", pend)
	}
	h.advance(2 * time.Second)

	if s.SpentAtMerchants != 1500 {
		t.Fatalf("spent=%d want 1500", s.SpentAtMerchants)
	}
	var merchant []ledger.Ticket
	for _, tk := range h.o.Ledger().All() {
		if tk.Resolution == ledger.ResolutionMerchant {
			merchant = append(merchant, tk)
		}
	}
	if len(merchant) != 1 || merchant[0].State != ledger.StateApplied {
		t.Fatalf("merchant tickets=%+v", merchant)
	}
	if d := merchant[0].ResolvedAt.Sub(merchant[0].OpenedAt); d < 500*time.Millisecond || d > 2*time.Second {
		t.Fatalf("resolved after %v", d)
	}
	want := protocol.GraphEvent{T: drop, Kind: protocol.GraphSpending}
	found := false
	for _, ev := range s.GraphEvents {
		if cmp.Equal(ev, want) {
			found = true
		}
	}
	if !found {
		t.Fatalf("spending graph event missing: %+v", s.GraphEvents)
	}
	for i := max(0, drop-300); i < drop; i++ {
		if got, exp := s.AccumulatedHistory[i], max(0, before[i]-1500); got != exp {
			t.Fatalf("history[%d]=%d want %d", i, got, exp)
		}
	}
	h.assertMonotone()
}

func TestS5_MerchantLateInRunLowersLast300(t *testing.T) {
	h := newHarness(t)
	h.startRun(5, 8000)
	h.advance(400 * time.Second)
	s := h.o.Session()
	before := append([]int(nil), s.AccumulatedHistory...)
	drop := len(before)
	if drop <= merchantSpan {
		t.Fatalf("history len=%d, need more than %d", drop, merchantSpan)
	}

	h.runes(6500, 95, five(6500)...)
	h.advance(13 * time.Second)
	if s.SpentAtMerchants != 1500 {
		t.Fatalf("spent=%d want 1500", s.SpentAtMerchants)
	}
	for i := 0; i < drop; i++ {
		exp := before[i]
		if i >= drop-merchantSpan {
			exp = max(0, before[i]-1500)
		}
		if got := s.AccumulatedHistory[i]; got != exp {
			t.Fatalf("history[%d]=%d want %d", i, got, exp)
		}
	}
}

func TestS6_ShrinkMarkersOnAutoAdvance(t *testing.T) {
	h := newHarness(t)
	h.bannerFor("JOUR I", 1000, 10, time.Second)
	start := h.o.Machine().StartedAt()

	var seen []int
	for _, d := range []time.Duration{270, 180, 210, 180} {
		start = start.Add(d * time.Second)
		h.advance(start.Sub(h.now) + 100*time.Millisecond)
		seen = append(seen, h.o.Machine().Index())
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, seen); diff != "" {
		t.Fatalf("phases (-want +got):\n%s", diff)
	}
	var labels []string
	for _, ev := range h.o.Session().GraphEvents {
		if ev.Kind == protocol.GraphShrink {
			labels = append(labels, ev.Details)
		}
	}
	if diff := cmp.Diff([]string{"End Shrink 1.1", "End Shrink 1.2"}, labels); diff != "" {
		t.Fatalf("shrink labels (-want +got):\n%s", diff)
	}
}
