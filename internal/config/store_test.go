package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOpen_MissingFileUsesDefaults(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if diff := cmp.Diff(Defaults(), s.Settings()); diff != "" {
		t.Fatalf("settings (-want +got):\n%s", diff)
	}
}

func TestSet_PersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var seen []any
	if err := s.Observe("audio_volume", func(v any) { seen = append(seen, v) }); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := s.Set("audio_volume", 150); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("level_region", map[string]int{"top": 10, "left": 20, "width": 60, "height": 30}); err != nil {
		t.Fatalf("set rect: %v", err)
	}
	if diff := cmp.Diff([]any{100}, seen); diff != "" {
		t.Fatalf("observer calls (-want +got):\n%s", diff)
	}

	back, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := back.Settings()
	if got.AudioVolume != 100 {
		t.Fatalf("volume=%d want clamped 100", got.AudioVolume)
	}
	if want := (Rect{Top: 10, Left: 20, Width: 60, Height: 30}); got.LevelRegion != want {
		t.Fatalf("level region=%+v", got.LevelRegion)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestUnknownKey(t *testing.T) {
	s, _ := Open("")
	if _, err := s.Get("nope"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("get err=%v", err)
	}
	if err := s.Set("nope", 1); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("set err=%v", err)
	}
	if err := s.Observe("nope", func(any) {}); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("observe err=%v", err)
	}
}

func TestSet_TypeMismatchKeepsState(t *testing.T) {
	s, _ := Open("")
	if err := s.Set("debug_mode", "not-a-bool"); err == nil {
		t.Fatalf("expected conversion error")
	}
	if v, _ := s.Get("debug_mode"); v != false {
		t.Fatalf("debug_mode=%v", v)
	}
}

func TestNightreignOverridesAreNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "nightreign:\n  snowball_d1: 1.5\n  farming_goal: 0\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c := s.Settings().Nightreign
	if c.SnowballD1 != 1.5 || c.FarmingGoal != 437578 || c.TotalTime != 1680 {
		t.Fatalf("curve=%+v", c)
	}
}

func TestIncrementSessionCount(t *testing.T) {
	s, _ := Open("")
	for i := 0; i < 3; i++ {
		if err := s.IncrementSessionCount(); err != nil {
			t.Fatalf("inc: %v", err)
		}
	}
	if got := s.Settings().SessionCount; got != 3 {
		t.Fatalf("session_count=%d", got)
	}
}

func TestKeysCoverDocument(t *testing.T) {
	keys := strings.Join(Keys(), ",")
	for _, k := range []string{"monitor_region", "ocr_params", "nightreign", "session_count", "audio_voice_id"} {
		if !strings.Contains(keys, k) {
			t.Fatalf("missing key %s in %s", k, keys)
		}
	}
}

func TestParseEnvDefaults(t *testing.T) {
	t.Setenv("NR_DATA_DIR", "/tmp/nr")
	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if e.ConfigPath != filepath.Join("/tmp/nr", "config.yaml") || e.OverlayAddr != "127.0.0.1:8765" {
		t.Fatalf("env=%+v", e)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg struct {
		Port int `env:"NR_TEST_PORT"`
	}
	t.Setenv("NR_TEST_PORT", "not-an-int")
	err := ParseEnv(&cfg)
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("err=%v", err)
	}
}
