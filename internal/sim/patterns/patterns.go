// Package patterns scores banner OCR text against a learned map of known
// readings (and misreadings) of the Day and victory banners.
package patterns

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/textmatch"
)

// Target tags.
const (
	TagDay1    = "DAY 1"
	TagDay2    = "DAY 2"
	TagDay3    = "DAY 3"
	TagVictory = "VICTORY"
)

const (
	MinScore        = 55
	MinVictoryScore = 60

	seedWeight    = 100
	learnedWeight = 5
	conflictStep  = 5
	punishStep    = 10

	anchorSimilarity = 75

	bonusExact        = 50
	bonusLength       = 15
	bonusCharCount    = 10
	bonusCentered     = 30
	penaltyOffCenter  = -60
	bonusSpacing      = 20
	penaltySpacing    = -50
	penaltyNoise      = -40
	penaltyNarrow     = -30
	centeredMaxPx     = 40
	offCenterMinPx    = 80
	wideSpacingMinPx  = 350
	tightSpacingMaxPx = 250
	narrowBannerPx    = 150
)

var ErrEmptyText = errors.New("patterns: empty text")

var noiseMarkers = []string{"TI", "IT", "JOURT"}

type Entry struct {
	Target string `json:"target"`
	Weight int    `json:"weight"`
}

type Stats struct {
	Learned  int `json:"learned"`
	Punished int `json:"punished"`
	Deleted  int `json:"deleted"`
}

type fileV1 struct {
	Patterns map[string]Entry `json:"patterns"`
	Stats    Stats            `json:"stats"`
}

type state struct {
	patterns map[string]Entry
	keys     []string // sorted, for deterministic tie-breaks
	stats    Stats
}

// Hints carries the optional geometry of a banner read.
type Hints struct {
	WidthPx        int
	CenterOffsetPx int
	HasGeometry    bool
	Words          []protocol.WordBox
}

type Result struct {
	Tag     string
	Score   int
	Pattern string
}

// Matcher is safe for concurrent use. Evaluate reads an immutable snapshot;
// Learn and Punish replace it atomically and persist the new map.
type Matcher struct {
	path string

	mu  sync.Mutex
	cur atomic.Pointer[state]
}

func DefaultPatterns() map[string]Entry {
	out := map[string]Entry{}
	add := func(tag string, texts ...string) {
		for _, t := range texts {
			out[textmatch.Normalize(t)] = Entry{Target: tag, Weight: seedWeight}
		}
	}
	add(TagDay1, "JOUR I", "JOURI", "JOUR 1", "JOUR L", "JOUR |", "DAY I")
	add(TagDay2, "JOUR II", "JOURII", "JOUR 11", "JOUR IL", "JOUR LI", "DAY II")
	add(TagDay3, "JOUR III", "JOURIII", "JOUR HI", "JOUR IIL", "JOUR 111", "JOUR LLL", "DAY III")
	add(TagVictory, "RESULTAT", "RESULTATS", "VICTOIRE", "VICTORY", "NUIT VAINCUE", "NIGHTLORD VAINCU")
	return out
}

// New builds an in-memory matcher seeded with the defaults.
func New() *Matcher {
	m := &Matcher{}
	m.cur.Store(newState(DefaultPatterns(), Stats{}))
	return m
}

// Load reads the pattern file at path, seeding defaults when it does not
// exist yet. Later edits are persisted back to path.
func Load(path string) (*Matcher, error) {
	m := &Matcher{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		m.cur.Store(newState(DefaultPatterns(), Stats{}))
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	var f fileV1
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("patterns %s: %w", path, err)
	}
	clean := make(map[string]Entry, len(f.Patterns))
	for k, e := range f.Patterns {
		k = textmatch.Normalize(k)
		if k == "" || e.Weight < 0 || e.Target == "" {
			continue
		}
		clean[k] = e
	}
	if len(clean) == 0 {
		clean = DefaultPatterns()
	}
	m.cur.Store(newState(clean, f.Stats))
	return m, nil
}

func newState(p map[string]Entry, st Stats) *state {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &state{patterns: p, keys: keys, stats: st}
}

// Snapshot returns a copy of the current map.
func (m *Matcher) Snapshot() map[string]Entry {
	s := m.cur.Load()
	out := make(map[string]Entry, len(s.patterns))
	for k, v := range s.patterns {
		out[k] = v
	}
	return out
}

func (m *Matcher) Stats() Stats { return m.cur.Load().stats }

// Detached returns an in-memory copy whose edits are not persisted.
func (m *Matcher) Detached() *Matcher {
	s := m.cur.Load()
	d := &Matcher{}
	d.cur.Store(newState(copyMap(s.patterns), s.stats))
	return d
}

// HasAnchor reports whether the text contains something read as "JOUR".
func HasAnchor(text string) bool {
	return hasAnchor(textmatch.Normalize(text))
}

func hasAnchor(norm string) bool {
	for _, w := range strings.Fields(norm) {
		if textmatch.Ratio(w, "JOUR") >= anchorSimilarity {
			return true
		}
	}
	c := textmatch.Compact(norm)
	return strings.Contains(c, "JOUR") || strings.Contains(c, "JOU")
}

// Evaluate scores a banner reading against every Day pattern and returns
// the best tag, or an empty tag when nothing reaches MinScore.
func (m *Matcher) Evaluate(text string, h Hints) Result {
	in := textmatch.Normalize(text)
	if in == "" || !hasAnchor(in) {
		return Result{}
	}
	s := m.cur.Load()
	spacing, hasSpacing := numeralSpacing(h.Words)

	best := Result{Score: -1 << 30}
	for _, k := range s.keys {
		e := s.patterns[k]
		if e.Target == TagVictory {
			continue
		}
		score := textmatch.Ratio(in, k) * e.Weight / 100
		if in == k {
			score += bonusExact
		}
		if abs(len(in)-len(k)) <= 1 {
			score += bonusLength
		}
		if charCountFits(e.Target, textmatch.CountChars(in)) {
			score += bonusCharCount
		}
		if h.HasGeometry {
			switch off := abs(h.CenterOffsetPx); {
			case off < centeredMaxPx:
				score += bonusCentered
			case off > offCenterMinPx:
				score += penaltyOffCenter
			}
			if h.WidthPx > 0 && h.WidthPx < narrowBannerPx {
				score += penaltyNarrow
			}
		}
		if hasSpacing {
			score += spacingAdjust(e.Target, spacing)
		}
		if containsNoise(in) {
			score += penaltyNoise
		}
		if score > best.Score {
			best = Result{Tag: e.Target, Score: score, Pattern: k}
		}
	}
	if best.Score < MinScore {
		return Result{Score: max(best.Score, 0)}
	}
	return best
}

// EvaluateVictory scores the victory region text. No anchor is required.
func (m *Matcher) EvaluateVictory(text string) Result {
	in := textmatch.Normalize(text)
	if in == "" {
		return Result{}
	}
	s := m.cur.Load()
	best := Result{}
	for _, k := range s.keys {
		e := s.patterns[k]
		if e.Target != TagVictory {
			continue
		}
		score := textmatch.Ratio(in, k) * e.Weight / 100
		if in == k || strings.Contains(in, k) {
			score += bonusExact
		}
		if abs(len(in)-len(k)) <= 1 {
			score += bonusLength
		}
		if score > best.Score {
			best = Result{Tag: TagVictory, Score: score, Pattern: k}
		}
	}
	if best.Score < MinVictoryScore {
		return Result{Score: best.Score}
	}
	return best
}

func charCountFits(tag string, n int) bool {
	switch tag {
	case TagDay1:
		return n == 5 || n == 6
	case TagDay2:
		return n == 6 || n == 7
	case TagDay3:
		return n == 7 || n == 8
	}
	return false
}

// numeralSpacing is the horizontal distance between the JOUR word and the
// roman numeral that follows it.
func numeralSpacing(words []protocol.WordBox) (int, bool) {
	jour, num := -1, -1
	for i, w := range words {
		t := textmatch.Normalize(w.Text)
		if jour < 0 && textmatch.Ratio(t, "JOUR") >= anchorSimilarity {
			jour = i
			continue
		}
		if jour >= 0 && isNumeral(t) {
			num = i
			break
		}
	}
	if jour < 0 || num < 0 {
		return 0, false
	}
	return abs(words[num].X - words[jour].X), true
}

func isNumeral(t string) bool {
	if t == "" {
		return false
	}
	for _, r := range t {
		switch r {
		case 'I', 'L', '1', '|', 'H':
		default:
			return false
		}
	}
	return true
}

func spacingAdjust(tag string, dx int) int {
	switch {
	case dx > wideSpacingMinPx:
		if tag == TagDay3 {
			return bonusSpacing
		}
		return penaltySpacing
	case dx < tightSpacingMaxPx:
		if tag == TagDay3 {
			return penaltySpacing
		}
		return bonusSpacing
	}
	return 0
}

func containsNoise(in string) bool {
	for _, n := range noiseMarkers {
		if strings.Contains(in, n) {
			return true
		}
	}
	return false
}

// Learn reinforces text as a reading of target.
func (m *Matcher) Learn(text, target string) error {
	key := textmatch.Normalize(text)
	if key == "" {
		return ErrEmptyText
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.cur.Load()
	next := copyMap(s.patterns)
	st := s.stats
	st.Learned++
	e, ok := next[key]
	switch {
	case !ok:
		next[key] = Entry{Target: target, Weight: learnedWeight}
	case e.Target == target:
		e.Weight++
		next[key] = e
	default:
		e.Weight -= conflictStep
		if e.Weight < 0 {
			e = Entry{Target: target, Weight: learnedWeight}
		}
		next[key] = e
	}
	return m.commitLocked(newState(next, st))
}

// Punish weakens every known pattern that appears inside text and deletes
// entries whose weight drops below zero.
func (m *Matcher) Punish(text string) error {
	in := textmatch.Normalize(text)
	if in == "" {
		return ErrEmptyText
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.cur.Load()
	next := copyMap(s.patterns)
	st := s.stats
	st.Punished++
	for k, e := range s.patterns {
		if !strings.Contains(in, k) {
			continue
		}
		e.Weight -= punishStep
		if e.Weight < 0 {
			delete(next, k)
			st.Deleted++
			continue
		}
		next[k] = e
	}
	return m.commitLocked(newState(next, st))
}

func (m *Matcher) commitLocked(s *state) error {
	m.cur.Store(s)
	if m.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(fileV1{Patterns: s.patterns, Stats: s.stats}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(m.path, b)
}

func copyMap(in map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
