package session

import (
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
)

// Optional collaborators (may be nil). Implementations live in
// internal/persistence/* and internal/audio. Calls happen on the orchestrator
// goroutine, so implementations buffer or hand off to their own goroutine.

type RunLogger interface {
	BeginRun(sessionID string, start time.Time) error
	WriteRunEvent(e RunEvent) error
	EndRun() error
}

type GraphLogger interface {
	WriteGraph(e GraphEntry) error
	Flush() error
}

type ObservationJournal interface {
	WriteObservation(o protocol.Observation) error
	WriteStep(at time.Time) error
}

type SessionStore interface {
	StartSession(id string, start time.Time)
	EndSession(id string, end time.Time, result string, duration time.Duration)
	AppendEvent(id string, at time.Time, typ string, payload any)
}

type Archiver interface {
	ArchiveRun(sum RunSummary)
}

type Announcer interface {
	Announce(text string)
}

// Pauser is implemented by the capture loops.
type Pauser interface {
	SetPaused(paused bool)
}

// Run event types.
const (
	EventTrigger          = "trigger"
	EventPhaseChange      = "phase_change"
	EventDeath            = "death"
	EventRecovery         = "recovery"
	EventSpending         = "spending"
	EventSpendingReverted = "spending_reverted"
	EventLevelUp          = "level_up"
	EventPermanentLoss    = "permanent_loss"
	EventOCRDoubt         = "ocr_doubt"
	EventVictory          = "victory"
	EventSessionEnd       = "session_end"
)

// Session results.
const (
	ResultRunning          = "RUNNING"
	ResultVictory          = "VICTORY"
	ResultVictoryConfirmed = "VICTORY_CONFIRMED"
	ResultDefeat           = "DEFEAT"
	ResultAbandoned        = "ABANDONED"
	ResultReset            = "RESET"
)

type RunEvent struct {
	TS        time.Time      `json:"ts"`
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Phase     int            `json:"phase"`
	RunTime   float64        `json:"run_time_s"`
	Code      string         `json:"code,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type GraphComponents struct {
	Cost      int     `json:"cost"`
	Merch     int     `json:"merch"`
	Curr      int     `json:"curr"`
	Pend      int     `json:"pend"`
	Perm      int     `json:"perm"`
	Uncertain bool    `json:"uncertain"`
	Trust     float64 `json:"trust"`
}

// GraphEntry is one per-second record of the wealth graph.
type GraphEntry struct {
	T          int             `json:"t"`
	Effective  int             `json:"effective"`
	Lifetime   int             `json:"lifetime"`
	Displayed  int             `json:"displayed"`
	Components GraphComponents `json:"components"`
}

// RunSummary describes a finished session.
type RunSummary struct {
	SessionID     string        `json:"session_id"`
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	Result        string        `json:"result"`
	Duration      time.Duration `json:"duration"`
	MaxPhase      int           `json:"max_phase"`
	DeathCount    int           `json:"death_count"`
	RecoveryCount int           `json:"recovery_count"`
	FinalLevel    int           `json:"final_level"`
	TotalWealth   int           `json:"total_wealth"`
}
