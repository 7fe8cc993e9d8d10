package session

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/bus"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
)

var t0 = time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

type memRunLog struct {
	begun  []string
	events []RunEvent
	ended  int
}

func (m *memRunLog) BeginRun(id string, _ time.Time) error {
	m.begun = append(m.begun, id)
	return nil
}

func (m *memRunLog) WriteRunEvent(e RunEvent) error {
	m.events = append(m.events, e)
	return nil
}

func (m *memRunLog) EndRun() error {
	m.ended++
	return nil
}

func (m *memRunLog) ofType(typ string) []RunEvent {
	var out []RunEvent
	for _, e := range m.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type memGraph struct {
	entries []GraphEntry
	flushes int
}

func (m *memGraph) WriteGraph(e GraphEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memGraph) Flush() error {
	m.flushes++
	return nil
}

type memStore struct {
	started []string
	ended   []string
	events  int
}

func (m *memStore) StartSession(id string, _ time.Time) { m.started = append(m.started, id) }

func (m *memStore) EndSession(_ string, _ time.Time, result string, _ time.Duration) {
	m.ended = append(m.ended, result)
}

func (m *memStore) AppendEvent(string, time.Time, string, any) { m.events++ }

func (m *memStore) results() []string { return m.ended }

type memAnnouncer struct{ texts []string }

func (m *memAnnouncer) Announce(text string) { m.texts = append(m.texts, text) }

type harness struct {
	t      *testing.T
	o      *Orchestrator
	now    time.Time
	runLog *memRunLog
	graph  *memGraph
	store  *memStore
	voice  *memAnnouncer
	phases []protocol.PhaseChange
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, now: t0, runLog: &memRunLog{}, graph: &memGraph{}, store: &memStore{}, voice: &memAnnouncer{}}
	n := 0
	nextID := func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
	h.o = New(Config{
		Now:          func() time.Time { return h.now },
		NewSessionID: nextID,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	b := bus.New()
	bus.Subscribe(b, func(pc protocol.PhaseChange) { h.phases = append(h.phases, pc) })
	h.o.SetBus(b)
	h.o.SetRunLogger(h.runLog)
	h.o.SetGraphLogger(h.graph)
	h.o.SetSessionStore(h.store)
	h.o.SetAnnouncer(h.voice)
	return h
}

func (h *harness) feed(obs protocol.Observation) { h.o.HandleObservation(obs) }

// advance steps the orchestrator every 200ms until d has elapsed.
func (h *harness) advance(d time.Duration) {
	end := h.now.Add(d)
	for h.now.Before(end) {
		h.now = h.now.Add(200 * time.Millisecond)
		if h.now.After(end) {
			h.now = end
		}
		h.o.StepOnce(h.now)
	}
}

func (h *harness) banner(text string, width, offset int) protocol.BannerRead {
	return protocol.BannerRead{At: h.now, Text: text, WidthPx: width, CenterOffsetPx: offset, HasGeometry: true, Confidence: 90}
}

// bannerFor feeds the same banner every 100ms for d, without stepping.
func (h *harness) bannerFor(text string, width, offset int, d time.Duration) {
	end := h.now.Add(d)
	for !h.now.After(end) {
		h.feed(h.banner(text, width, offset))
		h.now = h.now.Add(100 * time.Millisecond)
	}
}

func (h *harness) level(l int, conf float64, burst ...int) {
	h.feed(protocol.LevelRead{At: h.now, Level: l, Confidence: conf, Burst: burst})
}

func (h *harness) runes(v int, conf float64, burst ...int) {
	h.feed(protocol.RunesRead{At: h.now, Runes: v, Confidence: conf, Burst: burst})
}

func five(v int) []int { return []int{v, v, v, v, v} }

// startRun triggers Day 1 and sets level and runes inside the sync window,
// then lets the run settle past it.
func (h *harness) startRun(level, r int) {
	h.t.Helper()
	h.bannerFor("JOUR I", 1000, 10, time.Second)
	if h.o.Machine().Index() != 0 {
		h.t.Fatalf("run did not start: phase=%d", h.o.Machine().Index())
	}
	h.level(level, 95)
	h.level(level, 95)
	h.runes(r, 95, five(r)...)
	h.advance(31 * time.Second)
	s := h.o.Session()
	if s.CurrentLevel != level || s.CurrentRunes != r {
		h.t.Fatalf("pre-state level=%d runes=%d", s.CurrentLevel, s.CurrentRunes)
	}
}

// die plays a validated death: black screen, one level lost, runes emptied.
func (h *harness) die() {
	h.t.Helper()
	lvl := h.o.Session().CurrentLevel
	h.feed(protocol.BlackScreen{At: h.now, Active: true})
	h.advance(time.Second)
	h.feed(protocol.BlackScreen{At: h.now, Active: false, Duration: time.Second})
	h.advance(2 * time.Second)
	for i := 0; i < 3; i++ {
		h.level(lvl-1, 95)
	}
	h.level(lvl-1, 95, five(lvl-1)...)
	h.advance(400 * time.Millisecond)
	h.runes(0, 95, 0, 0, 0, 4, 0)
}

// assertMonotone checks that the green curve only drops next to a death or
// spending annotation.
func (h *harness) assertMonotone() {
	h.t.Helper()
	s := h.o.Session()
	for i := 1; i < len(s.AccumulatedHistory); i++ {
		if s.AccumulatedHistory[i] >= s.AccumulatedHistory[i-1] {
			continue
		}
		explained := false
		for _, ev := range s.GraphEvents {
			if (ev.Kind == protocol.GraphDeath || ev.Kind == protocol.GraphSpending) && ev.T <= i && ev.T >= i-5 {
				explained = true
			}
		}
		if !explained {
			h.t.Fatalf("history dropped at %d: %d -> %d", i, s.AccumulatedHistory[i-1], s.AccumulatedHistory[i])
		}
	}
}
