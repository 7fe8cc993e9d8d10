package patterns

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
)

func centered() Hints {
	return Hints{WidthPx: 1000, CenterOffsetPx: 10, HasGeometry: true}
}

func TestEvaluate_ExactDayBanners(t *testing.T) {
	m := New()
	cases := map[string]string{
		"JOUR I":   TagDay1,
		"JOUR II":  TagDay2,
		"JOUR III": TagDay3,
		"jour  ii": TagDay2,
	}
	for text, want := range cases {
		r := m.Evaluate(text, centered())
		if r.Tag != want {
			t.Fatalf("Evaluate(%q)=%+v want tag %s", text, r, want)
		}
		if r.Score < MinScore {
			t.Fatalf("score %d below threshold", r.Score)
		}
	}
}

func TestEvaluate_RequiresAnchor(t *testing.T) {
	m := New()
	if r := m.Evaluate("III", centered()); r.Tag != "" || r.Score != 0 {
		t.Fatalf("no anchor must return empty: %+v", r)
	}
	if r := m.Evaluate("", centered()); r.Tag != "" {
		t.Fatalf("empty text: %+v", r)
	}
	if !HasAnchor("JOUB II") || !HasAnchor("XJOUX") || HasAnchor("DAWN") {
		t.Fatalf("anchor detection mismatch")
	}
}

func TestEvaluate_OffCenterPenalty(t *testing.T) {
	m := New()
	good := m.Evaluate("JOUR I", centered())
	bad := m.Evaluate("JOUR I", Hints{WidthPx: 1000, CenterOffsetPx: 200, HasGeometry: true})
	if good.Score-bad.Score != 90 {
		t.Fatalf("center swing=%d want 90 (good=%d bad=%d)", good.Score-bad.Score, good.Score, bad.Score)
	}
}

func TestEvaluate_NoisePenalty(t *testing.T) {
	m := New()
	clean := m.Evaluate("JOUR I", Hints{})
	noisy := m.Evaluate("JOURT I", Hints{})
	if noisy.Score >= clean.Score {
		t.Fatalf("noise must lower the score: clean=%d noisy=%d", clean.Score, noisy.Score)
	}
}

func TestEvaluate_NumeralSpacingFavorsDay3(t *testing.T) {
	m := New()
	words := []protocol.WordBox{{Text: "JOUR", X: 100}, {Text: "II", X: 500}}
	r := m.Evaluate("JOUR II", Hints{Words: words})
	tight := m.Evaluate("JOUR II", Hints{Words: []protocol.WordBox{{Text: "JOUR", X: 100}, {Text: "II", X: 250}}})
	if r.Score >= tight.Score {
		t.Fatalf("wide spacing must penalize DAY 2: wide=%+v tight=%+v", r, tight)
	}
}

func TestEvaluateVictory(t *testing.T) {
	m := New()
	if r := m.EvaluateVictory("Résultat"); r.Tag != TagVictory || r.Score < MinVictoryScore {
		t.Fatalf("victory not recognized: %+v", r)
	}
	if r := m.EvaluateVictory("JOUR I"); r.Tag != "" {
		t.Fatalf("day banner recognized as victory: %+v", r)
	}
}

func TestLearnThenPunish_DecreasesWeight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Learn("JOUR IJ", TagDay1); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	learned := m.Snapshot()["JOUR IJ"].Weight
	if learned != learnedWeight {
		t.Fatalf("new entry weight=%d", learned)
	}
	if err := m.Learn("JOUR IJ", TagDay1); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if w := m.Snapshot()["JOUR IJ"].Weight; w != learnedWeight+1 {
		t.Fatalf("reinforced weight=%d", w)
	}
	if err := m.Punish("JOUR IJ"); err != nil {
		t.Fatalf("Punish: %v", err)
	}
	if _, ok := m.Snapshot()["JOUR IJ"]; ok {
		t.Fatalf("entry below zero must be deleted")
	}
	// JOUR I is a substring too and got weakened, not deleted.
	if w := m.Snapshot()["JOUR I"].Weight; w != seedWeight-punishStep {
		t.Fatalf("seed weight=%d", w)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f fileV1
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for k, e := range f.Patterns {
		if e.Weight < 0 {
			t.Fatalf("negative weight persisted for %q", k)
		}
	}
	if f.Stats.Learned != 2 || f.Stats.Punished != 1 {
		t.Fatalf("stats=%+v", f.Stats)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Snapshot()) != len(m.Snapshot()) {
		t.Fatalf("reload size mismatch")
	}
}

func TestLearn_ConflictReseeds(t *testing.T) {
	m := New()
	if err := m.Learn("JOUR X", TagDay1); err != nil {
		t.Fatal(err)
	}
	// 5 -> 0 on first conflict, reseeded on the next.
	if err := m.Learn("JOUR X", TagDay2); err != nil {
		t.Fatal(err)
	}
	if e := m.Snapshot()["JOUR X"]; e.Target != TagDay1 || e.Weight != 0 {
		t.Fatalf("after conflict: %+v", e)
	}
	if err := m.Learn("JOUR X", TagDay2); err != nil {
		t.Fatal(err)
	}
	if e := m.Snapshot()["JOUR X"]; e.Target != TagDay2 || e.Weight != learnedWeight {
		t.Fatalf("after reseed: %+v", e)
	}
	if err := m.Learn("  ", TagDay2); err != ErrEmptyText {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestDetached_DoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	d := m.Detached()
	if err := d.Learn("JOUR IJ", TagDay1); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("detached learn wrote %s (err=%v)", path, err)
	}
	if _, ok := m.Snapshot()["JOUR IJ"]; ok {
		t.Fatalf("detached edit leaked into the original")
	}
}

func TestSavedFile_MatchesSchema(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", "patterns.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	path := filepath.Join(t.TempDir(), "patterns.json")
	m, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Learn("JOUR IJ", TagDay1); err != nil {
		t.Fatal(err)
	}
	if err := m.Punish("JOUR IJ"); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(v); err != nil {
		t.Fatalf("patterns file: %v", err)
	}
}
