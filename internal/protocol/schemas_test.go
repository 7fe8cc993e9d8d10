package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// asJSON round-trips v through encoding/json so the validator sees the wire form.
func asJSON(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSchemas_SnapshotMessage(t *testing.T) {
	s := compileSchema(t, "snapshot.schema.json")
	msg := protocol.SnapshotMsg{
		Type:            protocol.TypeSnapshot,
		ProtocolVersion: protocol.Version,
		Snapshot: protocol.Snapshot{
			At:                 time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC),
			SessionID:          "s1",
			Status:             "RUNNING",
			Phase:              1,
			PhaseName:          "Day 1 - Storm",
			TimerText:          "03:12",
			Level:              4,
			PotentialLevel:     5,
			Runes:              12000,
			RunesText:          "12,000",
			MissingToNext:      800,
			Grade:              "B",
			ConfidenceDot:      protocol.DotGreen,
			AccumulatedHistory: []int{0, 100, 250},
			GraphEvents:        []protocol.GraphEvent{{T: 2, Kind: protocol.GraphDeath, Details: "-3000"}},
			DayMarkers:         []protocol.DayMarker{{T: 0, Label: "DAY 1"}},
		},
	}
	if err := s.Validate(asJSON(t, msg)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	bad := asJSON(t, msg).(map[string]any)
	bad["snapshot"].(map[string]any)["confidence_dot"] = "blue"
	if err := s.Validate(bad); err == nil {
		t.Fatalf("unknown confidence dot must fail")
	}
}

func TestSchemas_HotkeyAndPhase(t *testing.T) {
	hotkey := compileSchema(t, "hotkey.schema.json")
	for _, a := range []string{protocol.ActionFullReset, protocol.ActionForceDay2, protocol.ActionPunishBanner} {
		if !protocol.IsKnownAction(a) {
			t.Fatalf("%s not known", a)
		}
		msg := protocol.HotkeyMsg{Type: protocol.TypeHotkey, ProtocolVersion: protocol.Version, Action: a}
		if err := hotkey.Validate(asJSON(t, msg)); err != nil {
			t.Fatalf("hotkey %s: %v", a, err)
		}
	}
	if err := hotkey.Validate(asJSON(t, protocol.HotkeyMsg{Type: protocol.TypeHotkey, Action: "dance"})); err == nil {
		t.Fatalf("unknown action must fail")
	}

	phase := compileSchema(t, "phase.schema.json")
	msg := protocol.PhaseMsg{
		Type:            protocol.TypePhase,
		ProtocolVersion: protocol.Version,
		Phase:           protocol.PhaseChange{From: 0, To: 1, Name: "Day 1 - Storm", Reason: "banner"},
	}
	if err := phase.Validate(asJSON(t, msg)); err != nil {
		t.Fatalf("phase: %v", err)
	}
}
