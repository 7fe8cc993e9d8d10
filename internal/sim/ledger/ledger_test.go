package ledger

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

func TestRecord_ResolvesImmediately(t *testing.T) {
	l := New()
	got := l.Record(KindDeath, 12000, 0, t0)
	want := Ticket{
		ID: "T000001", OpenedAt: t0, OldRunes: 12000, NewRunes: 0, Amount: -12000,
		Kind: KindDeath, State: StateApplied, Resolution: ResolutionDeath, ResolvedAt: t0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ticket mismatch (-want +got):\n%s", diff)
	}
	if len(l.Pending()) != 0 {
		t.Fatalf("recorded ticket must not be pending")
	}
}

func TestResolve_Priority(t *testing.T) {
	cases := []struct {
		name     string
		old, new int
		prep     func(l *Ledger)
		age      time.Duration
		want     Resolution
		state    State
	}{
		{"level up with matching cost", 8000, 4302, func(l *Ledger) { l.NoteLevelUp(3698) }, 0, ResolutionLevelUp, StateValidated},
		{"level up without cost match waits", 8000, 7000, func(l *Ledger) { l.NoteLevelUp(3698) }, 100 * time.Millisecond, ResolutionNone, StatePending},
		{"ghost beats merchant", 8000, 6500, func(l *Ledger) { l.NoteGain(1500, t0.Add(time.Second)) }, time.Second, ResolutionGhost, StateRejected},
		{"merchant after half a second", 8000, 6500, nil, 600 * time.Millisecond, ResolutionMerchant, StateValidated},
		{"merchant too early", 8000, 6500, nil, 400 * time.Millisecond, ResolutionNone, StatePending},
		{"hud hidden delays merchant", 8000, 6500, func(l *Ledger) { l.NoteHUDHidden() }, time.Second, ResolutionNone, StatePending},
		{"hud hidden merchant at timeout", 8000, 6500, func(l *Ledger) { l.NoteHUDHidden() }, 2 * time.Second, ResolutionMerchant, StateValidated},
		{"odd amount is an error", 8000, 6543, nil, 2 * time.Second, ResolutionError, StateRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := New()
			tk := l.OpenSpending(tc.old, tc.new, 0, t0)
			if tc.prep != nil {
				tc.prep(l)
			}
			l.Resolve(t0.Add(tc.age))
			got, ok := l.Get(tk.ID)
			if !ok {
				t.Fatalf("ticket missing")
			}
			if got.Resolution != tc.want || got.State != tc.state {
				t.Fatalf("got %s/%s want %s/%s", got.Resolution, got.State, tc.want, tc.state)
			}
		})
	}
}

func TestLifecycle_ReachesTerminalWithinTimeout(t *testing.T) {
	l := New()
	for i, amount := range []int{1500, 1234, 100, 7} {
		l.OpenSpending(10000, 10000-amount, i, t0)
	}
	for _, tk := range l.Resolve(t0.Add(ResolveTimeout + 100*time.Millisecond)) {
		switch tk.State {
		case StateValidated:
			l.Apply(tk.ID, t0.Add(ResolveTimeout))
		case StateRejected:
			l.Revert(tk.ID, t0.Add(ResolveTimeout))
		}
	}
	for _, tk := range l.All() {
		if tk.State != StateApplied && tk.State != StateReverted {
			t.Fatalf("ticket %s stuck in %s", tk.ID, tk.State)
		}
	}
}

func TestApplyRevert_WrongStateIgnored(t *testing.T) {
	l := New()
	tk := l.OpenSpending(8000, 6500, 0, t0)
	if l.Apply(tk.ID, t0) {
		t.Fatalf("pending ticket must not apply")
	}
	l.Resolve(t0.Add(time.Second))
	if l.Revert(tk.ID, t0) {
		t.Fatalf("validated ticket must not revert")
	}
	if !l.Apply(tk.ID, t0.Add(time.Second)) {
		t.Fatalf("apply failed")
	}
	if got := l.RecentSpending(t0.Add(time.Minute), 5*time.Minute); len(got) != 1 || got[0].Spent() != 1500 {
		t.Fatalf("recent spending=%+v", got)
	}
	if !l.Cancel(tk.ID, ResolutionGhost, t0.Add(2*time.Second)) {
		t.Fatalf("cancel failed")
	}
	if got := l.RecentSpending(t0.Add(time.Minute), 5*time.Minute); len(got) != 0 {
		t.Fatalf("cancelled spending still listed")
	}
}

func TestNoteGain_OutsideWindow(t *testing.T) {
	l := New()
	l.OpenSpending(8000, 6500, 0, t0)
	if l.NoteGain(1500, t0.Add(6*time.Second)) {
		t.Fatalf("gain after the ghost window must not match")
	}
	if !l.NoteGain(1450, t0.Add(time.Second)) {
		t.Fatalf("gain within tolerance must match")
	}
}

func TestGC(t *testing.T) {
	l := New()
	l.Record(KindGain, 0, 100, t0)
	l.OpenSpending(8000, 6500, 0, t0)
	if n := l.GC(t0.Add(10 * time.Minute)); n != 1 {
		t.Fatalf("dropped=%d want 1", n)
	}
	if len(l.All()) != 1 || len(l.Pending()) != 1 {
		t.Fatalf("pending ticket must survive GC")
	}
}

func TestEvidenceNames(t *testing.T) {
	ev := EvidenceMultipleOf100 | EvidenceHUDHidden
	if diff := cmp.Diff([]string{"multiple_of_100", "hud_hidden"}, ev.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	if !Matches(1500, 1650) || Matches(1500, 1701) || !Matches(50000, 50400) {
		t.Fatalf("tolerance mismatch")
	}
}
