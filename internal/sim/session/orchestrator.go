// Package session turns the stream of screen observations into one
// consistent run: phases, levels, runes, wealth history and HUD snapshots.
package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/bus"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/economy"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/ledger"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/patterns"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/phases"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/rules"
)

type Config struct {
	Curve    economy.CurveParams
	Patterns *patterns.Matcher

	// TickInterval drives auto-advance and the 1 Hz ledger tick. Default 200ms.
	TickInterval time.Duration
	// SessionCount seeds the monotone run counter.
	SessionCount int

	Now          func() time.Time
	NewSessionID func() string
	Logger       *slog.Logger
}

// Orchestrator is a single-writer reducer. All session state is accessed
// only from the goroutine running Run (or from the caller of StepOnce /
// HandleObservation in tests and replays).
type Orchestrator struct {
	cfg     Config
	matcher *patterns.Matcher
	log     *slog.Logger

	sess    *GameSession
	machine *phases.Machine
	ledger  *ledger.Ledger

	sessionCount int
	nextSecond   time.Time
	lastFlush    int
	stopped      bool

	inbox chan protocol.Observation
	stop  chan struct{}
	done  atomic.Bool

	bus       *bus.Bus
	runLog    RunLogger
	graphLog  GraphLogger
	journal   ObservationJournal
	store     SessionStore
	archiver  Archiver
	announcer Announcer
	pausers   []Pauser
	onCount   func(int)

	baseline Baseline
}

func New(cfg Config) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Patterns == nil {
		cfg.Patterns = patterns.New()
	}
	cfg.Curve = cfg.Curve.Normalize()
	o := &Orchestrator{
		cfg:          cfg,
		matcher:      cfg.Patterns,
		log:          cfg.Logger,
		sess:         newGameSession(),
		machine:      phases.NewMachine(),
		ledger:       ledger.New(),
		sessionCount: cfg.SessionCount,
		inbox:        make(chan protocol.Observation, 1024),
		stop:         make(chan struct{}),
	}
	o.publishBaseline(time.Time{})
	return o
}

func (o *Orchestrator) SetBus(b *bus.Bus)                  { o.bus = b }
func (o *Orchestrator) SetRunLogger(l RunLogger)           { o.runLog = l }
func (o *Orchestrator) SetGraphLogger(l GraphLogger)       { o.graphLog = l }
func (o *Orchestrator) SetJournal(j ObservationJournal)    { o.journal = j }
func (o *Orchestrator) SetSessionStore(s SessionStore)     { o.store = s }
func (o *Orchestrator) SetArchiver(a Archiver)             { o.archiver = a }
func (o *Orchestrator) SetAnnouncer(a Announcer)           { o.announcer = a }
func (o *Orchestrator) AddPauser(p Pauser)                 { o.pausers = append(o.pausers, p) }
func (o *Orchestrator) OnSessionCount(fn func(count int))  { o.onCount = fn }
func (o *Orchestrator) Baseline() *Baseline                { return &o.baseline }
func (o *Orchestrator) SessionCount() int                  { return o.sessionCount }
func (o *Orchestrator) Inbox() chan<- protocol.Observation { return o.inbox }
func (o *Orchestrator) Session() *GameSession              { return o.sess }
func (o *Orchestrator) Machine() *phases.Machine           { return o.machine }
func (o *Orchestrator) Ledger() *ledger.Ledger             { return o.ledger }
func (o *Orchestrator) Patterns() *patterns.Matcher        { return o.matcher }
func (o *Orchestrator) Curve() economy.CurveParams         { return o.cfg.Curve }
func (o *Orchestrator) Done() bool                         { return o.done.Load() }
func (o *Orchestrator) Logger() *slog.Logger               { return o.log }

func (o *Orchestrator) dayOCREnabled() bool {
	return rules.DayOCREnabled(o.machine.Index(), o.sess.Victory)
}

func (o *Orchestrator) runElapsed(now time.Time) time.Duration { return o.machine.RunElapsed(now) }

func (o *Orchestrator) inSession() bool { return o.machine.Index() != phases.Waiting }

// Submit enqueues an observation without blocking. It reports false when the
// inbox is full and the observation was dropped.
func (o *Orchestrator) Submit(obs protocol.Observation) bool {
	select {
	case o.inbox <- obs:
		return true
	default:
		return false
	}
}

// SubscribeObservations routes every observation topic of b into the inbox.
func (o *Orchestrator) SubscribeObservations(b *bus.Bus) {
	topics := []string{
		protocol.TopicLevelRead,
		protocol.TopicRunesRead,
		protocol.TopicBannerRead,
		protocol.TopicMenuPresent,
		protocol.TopicRuneIconVisible,
		protocol.TopicBlackScreen,
		protocol.TopicVictoryRead,
		protocol.TopicHotkey,
	}
	for _, t := range topics {
		b.SubscribeTopic(t, func(ev bus.Event) {
			if obs, ok := ev.(protocol.Observation); ok && !o.Submit(obs) {
				o.log.Warn("orchestrator inbox full, observation dropped", "topic", obs.Topic())
			}
		})
	}
}

func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	defer o.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.stop:
			return nil
		case obs := <-o.inbox:
			o.HandleObservation(obs)
		case <-ticker.C:
			o.StepOnce(o.cfg.Now())
		}
		if o.stopped {
			return nil
		}
	}
}

func (o *Orchestrator) Stop() {
	if o.done.CompareAndSwap(false, true) {
		close(o.stop)
	}
}

func (o *Orchestrator) shutdown() {
	now := o.cfg.Now()
	if o.sess.ID != "" && o.sess.Result == ResultRunning {
		o.endSession(now, ResultAbandoned)
	}
	if o.graphLog != nil {
		if err := o.graphLog.Flush(); err != nil {
			o.log.Warn("graph log flush failed", "err", err)
		}
	}
	o.done.Store(true)
}

// HandleObservation dispatches one observation. The observation's own
// timestamp is used as the current time.
func (o *Orchestrator) HandleObservation(obs protocol.Observation) {
	if obs == nil {
		return
	}
	if o.journal != nil {
		if err := o.journal.WriteObservation(obs); err != nil {
			o.log.Warn("journal write failed", "err", err)
		}
	}
	now := obs.ObservedAt()
	switch v := obs.(type) {
	case protocol.LevelRead:
		o.handleLevel(v)
	case protocol.RunesRead:
		o.handleRunes(v)
	case protocol.BannerRead:
		o.handleBanner(v)
	case protocol.VictoryRead:
		o.handleVictory(v)
	case protocol.MenuPresent:
		o.handleMenu(v)
	case protocol.RuneIconVisible:
		o.handleIcon(v)
	case protocol.BlackScreen:
		o.handleBlack(v)
	case protocol.Hotkey:
		o.HandleCommand(v.Action, now)
	}
	o.resolveTickets(now)
	o.publishBaseline(now)
}

// StepOnce runs one coarse tick: phase auto-advance, countdown cues,
// pending-spending grace, ticket resolution and the 1 Hz ledger tick.
func (o *Orchestrator) StepOnce(now time.Time) protocol.Snapshot {
	if o.journal != nil {
		if err := o.journal.WriteStep(now); err != nil {
			o.log.Warn("journal write failed", "err", err)
		}
	}
	o.step(now)
	snap := o.Snapshot(now)
	if o.bus != nil {
		o.bus.Publish(snap)
	}
	return snap
}

func (o *Orchestrator) step(now time.Time) {
	for _, tr := range o.machine.Advance(now) {
		o.onTransition(tr, "auto")
	}
	for _, cue := range o.machine.Cues(now) {
		o.announce(now, cue)
	}
	o.checkPendingSpending(now)
	o.expireDeathCandidate(now)
	o.resolveTickets(now)
	o.checkMenuConfirmation(now)
	if o.sess.RunesUncertain && o.sess.pending == nil && now.Sub(o.sess.RunesUncertainSince) > uncertainHold {
		o.sess.RunesUncertain = false
	}
	o.ledgerCatchUp(now)
	o.ledger.GC(now)
	o.publishBaseline(now)
}

func (o *Orchestrator) announce(now time.Time, text string) {
	if text == "" {
		return
	}
	if o.announcer != nil {
		o.announcer.Announce(text)
	}
	if o.bus != nil {
		o.bus.Publish(protocol.Announcement{At: now, Text: text})
	}
}

func (o *Orchestrator) runEvent(now time.Time, typ, code string, data map[string]any) {
	if o.sess.ID == "" {
		return
	}
	e := RunEvent{
		TS:        now,
		SessionID: o.sess.ID,
		Type:      typ,
		Phase:     o.machine.Index(),
		RunTime:   o.runElapsed(now).Seconds(),
		Code:      code,
		Data:      data,
	}
	if o.runLog != nil {
		if err := o.runLog.WriteRunEvent(e); err != nil {
			o.log.Warn("run log write failed", "code", protocol.ErrPersist, "err", err)
		}
	}
	if o.store != nil {
		o.store.AppendEvent(o.sess.ID, now, typ, data)
	}
}

// Baseline exposes committed values to the capture loops without locking.
type Baseline struct {
	level      atomic.Int64
	runes      atomic.Int64
	phase      atomic.Int64
	dayOCR     atomic.Bool
	waiting    atomic.Bool
	victoryOn  atomic.Bool
	sessionID  atomic.Pointer[string]
	runStartNs atomic.Int64
}

func (b *Baseline) Level() int               { return int(b.level.Load()) }
func (b *Baseline) Runes() int               { return int(b.runes.Load()) }
func (b *Baseline) Phase() int               { return int(b.phase.Load()) }
func (b *Baseline) DayOCREnabled() bool      { return b.dayOCR.Load() }
func (b *Baseline) WaitingForDay1() bool     { return b.waiting.Load() }
func (b *Baseline) VictoryPollEnabled() bool { return b.victoryOn.Load() }

// RunContext reports the attributes attached to every log line.
func (b *Baseline) RunContext() (sessionID string, phase int, runTime time.Duration) {
	if p := b.sessionID.Load(); p != nil {
		sessionID = *p
	}
	phase = b.Phase()
	if ns := b.runStartNs.Load(); ns > 0 {
		runTime = time.Since(time.Unix(0, ns))
	}
	return sessionID, phase, runTime
}

func (o *Orchestrator) publishBaseline(now time.Time) {
	b := &o.baseline
	b.level.Store(int64(o.sess.CurrentLevel))
	b.runes.Store(int64(o.sess.CurrentRunes))
	b.phase.Store(int64(o.machine.Index()))
	b.dayOCR.Store(o.dayOCREnabled())
	b.waiting.Store(o.sess.WaitingForDay1 || o.machine.Index() == phases.Waiting)
	b.victoryOn.Store(o.machine.Index() == phases.FinalBoss && !o.sess.Victory)
	id := o.sess.ID
	b.sessionID.Store(&id)
	if d1 := o.machine.Day1At(); !d1.IsZero() {
		b.runStartNs.Store(d1.UnixNano())
	} else {
		b.runStartNs.Store(0)
	}
}
