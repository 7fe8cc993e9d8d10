// Package ledger tracks rune transactions as tickets that move from PENDING to
// a resolution once enough evidence has been gathered.
package ledger

import (
	"fmt"
	"sort"
	"time"
)

type Kind string

const (
	KindGain     Kind = "GAIN"
	KindSpending Kind = "SPENDING"
	KindLevelUp  Kind = "LEVEL_UP"
	KindDeath    Kind = "DEATH"
	KindRecovery Kind = "RECOVERY"
)

type State string

const (
	StatePending   State = "PENDING"
	StateValidated State = "VALIDATED"
	StateRejected  State = "REJECTED"
	StateApplied   State = "APPLIED"
	StateReverted  State = "REVERTED"
)

type Resolution string

const (
	ResolutionNone     Resolution = ""
	ResolutionGain     Resolution = "GAIN"
	ResolutionMerchant Resolution = "MERCHANT"
	ResolutionLevelUp  Resolution = "LEVEL_UP"
	ResolutionDeath    Resolution = "DEATH"
	ResolutionRecovery Resolution = "RECOVERY"
	ResolutionGhost    Resolution = "GHOST"
	ResolutionError    Resolution = "ERROR"
)

// Evidence is a bit set of facts observed while a ticket is pending.
type Evidence uint8

const (
	EvidenceLevelUpDetected Evidence = 1 << iota
	EvidenceLevelCostMatch
	EvidenceMultipleOf100
	EvidenceGhostRecovery
	EvidenceHUDHidden
)

var evidenceNames = []struct {
	bit  Evidence
	name string
}{
	{EvidenceLevelUpDetected, "level_up_detected"},
	{EvidenceLevelCostMatch, "level_cost_match"},
	{EvidenceMultipleOf100, "multiple_of_100"},
	{EvidenceGhostRecovery, "ghost_recovery"},
	{EvidenceHUDHidden, "hud_hidden"},
}

func (e Evidence) Has(bit Evidence) bool { return e&bit != 0 }

// Names lists the set bits in declaration order.
func (e Evidence) Names() []string {
	out := make([]string, 0, len(evidenceNames))
	for _, n := range evidenceNames {
		if e.Has(n.bit) {
			out = append(out, n.name)
		}
	}
	return out
}

const (
	MerchantMinAge = 500 * time.Millisecond
	ResolveTimeout = 2 * time.Second
	GhostWindow    = 5 * time.Second
	RetentionAge   = 5 * time.Minute

	minTolerance = 200
)

// Tolerance is the slack allowed when two rune amounts are compared:
// max(200, 1% of amount).
func Tolerance(amount int) int {
	if amount < 0 {
		amount = -amount
	}
	return max(minTolerance, amount/100)
}

// Matches reports whether b is within Tolerance(a) of a.
func Matches(a, b int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= Tolerance(a)
}

type Ticket struct {
	ID         string
	OpenedAt   time.Time
	OldRunes   int
	NewRunes   int
	Amount     int // signed: new - old
	Kind       Kind
	State      State
	Evidence   Evidence
	Resolution Resolution
	ResolvedAt time.Time
	// DropIndex is the accumulated-history index at which the runes dropped.
	DropIndex int
}

// Spent is the positive amount a spending ticket removed.
func (t Ticket) Spent() int {
	if t.Amount >= 0 {
		return 0
	}
	return -t.Amount
}

func (t Ticket) Age(now time.Time) time.Duration { return now.Sub(t.OpenedAt) }

// Ledger is not safe for concurrent use; the session orchestrator owns it.
type Ledger struct {
	tickets []*Ticket
	nextNum uint64
}

func New() *Ledger { return &Ledger{} }

func (l *Ledger) newID() string {
	l.nextNum++
	return fmt.Sprintf("T%06d", l.nextNum)
}

// Record stores a transaction the orchestrator already classified. It is
// applied on the spot with a resolution equal to its kind.
func (l *Ledger) Record(kind Kind, oldRunes, newRunes int, now time.Time) Ticket {
	t := &Ticket{
		ID:         l.newID(),
		OpenedAt:   now,
		OldRunes:   oldRunes,
		NewRunes:   newRunes,
		Amount:     newRunes - oldRunes,
		Kind:       kind,
		State:      StateApplied,
		Resolution: Resolution(kind),
		ResolvedAt: now,
	}
	l.tickets = append(l.tickets, t)
	return *t
}

// OpenSpending opens a PENDING spending ticket.
func (l *Ledger) OpenSpending(oldRunes, newRunes, dropIndex int, now time.Time) Ticket {
	t := &Ticket{
		ID:        l.newID(),
		OpenedAt:  now,
		OldRunes:  oldRunes,
		NewRunes:  newRunes,
		Amount:    newRunes - oldRunes,
		Kind:      KindSpending,
		State:     StatePending,
		DropIndex: dropIndex,
	}
	if sp := t.Spent(); sp > 0 && sp%100 == 0 {
		t.Evidence |= EvidenceMultipleOf100
	}
	l.tickets = append(l.tickets, t)
	return *t
}

// NoteLevelUp marks every pending spending ticket with level_up_detected,
// and level_cost_match when the spent amount matches cost.
func (l *Ledger) NoteLevelUp(cost int) {
	for _, t := range l.tickets {
		if t.State != StatePending {
			continue
		}
		t.Evidence |= EvidenceLevelUpDetected
		if Matches(t.Spent(), cost) {
			t.Evidence |= EvidenceLevelCostMatch
		}
	}
}

// NoteGain marks pending tickets whose spent amount is offset by gain within
// GhostWindow of being opened.
func (l *Ledger) NoteGain(gain int, now time.Time) bool {
	hit := false
	for _, t := range l.tickets {
		if t.State != StatePending || t.Age(now) > GhostWindow {
			continue
		}
		if Matches(t.Spent(), gain) {
			t.Evidence |= EvidenceGhostRecovery
			hit = true
		}
	}
	return hit
}

// NoteHUDHidden flags every pending ticket.
func (l *Ledger) NoteHUDHidden() {
	for _, t := range l.tickets {
		if t.State == StatePending {
			t.Evidence |= EvidenceHUDHidden
		}
	}
}

// Resolve decides every pending ticket that has enough evidence and returns
// the tickets it moved to VALIDATED or REJECTED, oldest first.
func (l *Ledger) Resolve(now time.Time) []Ticket {
	var out []Ticket
	for _, t := range l.tickets {
		if t.State != StatePending {
			continue
		}
		res := decide(*t, now)
		if res == ResolutionNone {
			continue
		}
		t.Resolution = res
		t.ResolvedAt = now
		switch res {
		case ResolutionGhost, ResolutionError:
			t.State = StateRejected
		default:
			t.State = StateValidated
		}
		out = append(out, *t)
	}
	return out
}

func decide(t Ticket, now time.Time) Resolution {
	ev := t.Evidence
	age := t.Age(now)
	switch {
	case ev.Has(EvidenceLevelUpDetected) && ev.Has(EvidenceLevelCostMatch):
		return ResolutionLevelUp
	case ev.Has(EvidenceGhostRecovery):
		return ResolutionGhost
	case age >= MerchantMinAge && ev.Has(EvidenceMultipleOf100) && !ev.Has(EvidenceHUDHidden):
		return ResolutionMerchant
	case age >= ResolveTimeout:
		if ev.Has(EvidenceMultipleOf100) {
			return ResolutionMerchant
		}
		return ResolutionError
	}
	return ResolutionNone
}

// Apply finalizes a VALIDATED ticket.
func (l *Ledger) Apply(id string, now time.Time) bool {
	return l.finish(id, StateValidated, StateApplied, now)
}

// Revert finalizes a REJECTED ticket.
func (l *Ledger) Revert(id string, now time.Time) bool {
	return l.finish(id, StateRejected, StateReverted, now)
}

func (l *Ledger) finish(id string, from, to State, now time.Time) bool {
	t := l.find(id)
	if t == nil || t.State != from {
		return false
	}
	t.State = to
	t.ResolvedAt = now
	return true
}

// Cancel reverts a ticket regardless of its current state, recording res.
// Used when a death or a matching gain undoes a recent spending.
func (l *Ledger) Cancel(id string, res Resolution, now time.Time) bool {
	t := l.find(id)
	if t == nil || t.State == StateReverted {
		return false
	}
	t.State = StateReverted
	t.Resolution = res
	t.ResolvedAt = now
	return true
}

func (l *Ledger) find(id string) *Ticket {
	for _, t := range l.tickets {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (l *Ledger) Get(id string) (Ticket, bool) {
	t := l.find(id)
	if t == nil {
		return Ticket{}, false
	}
	return *t, true
}

// RecentSpending returns applied merchant spendings opened within d of now,
// newest first.
func (l *Ledger) RecentSpending(now time.Time, d time.Duration) []Ticket {
	var out []Ticket
	for _, t := range l.tickets {
		if t.Kind != KindSpending || t.State != StateApplied || t.Resolution != ResolutionMerchant {
			continue
		}
		if now.Sub(t.OpenedAt) <= d {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out
}

// Pending returns the tickets still waiting for evidence.
func (l *Ledger) Pending() []Ticket {
	var out []Ticket
	for _, t := range l.tickets {
		if t.State == StatePending {
			out = append(out, *t)
		}
	}
	return out
}

// All returns a copy of every retained ticket, oldest first.
func (l *Ledger) All() []Ticket {
	out := make([]Ticket, 0, len(l.tickets))
	for _, t := range l.tickets {
		out = append(out, *t)
	}
	return out
}

// GC drops APPLIED and REVERTED tickets resolved more than RetentionAge ago.
func (l *Ledger) GC(now time.Time) int {
	kept := l.tickets[:0]
	dropped := 0
	for _, t := range l.tickets {
		done := t.State == StateApplied || t.State == StateReverted
		if done && now.Sub(t.ResolvedAt) > RetentionAge {
			dropped++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(l.tickets); i++ {
		l.tickets[i] = nil
	}
	l.tickets = kept
	return dropped
}

func (l *Ledger) Reset() {
	l.tickets = nil
}
