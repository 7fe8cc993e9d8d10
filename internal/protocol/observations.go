package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Observation topics. They double as bus topics and journal type tags.
const (
	TopicLevelRead       = "LEVEL_READ"
	TopicRunesRead       = "RUNES_READ"
	TopicBannerRead      = "BANNER_READ"
	TopicMenuPresent     = "MENU_PRESENT"
	TopicRuneIconVisible = "RUNE_ICON_VISIBLE"
	TopicBlackScreen     = "BLACK_SCREEN"
	TopicVictoryRead     = "VICTORY_READ"
	TopicPhaseChange     = "PHASE_CHANGE"
	TopicSnapshot        = "SNAPSHOT"
	TopicAnnouncement    = "ANNOUNCEMENT"
	TopicTunerRequested  = "TUNER_REQUESTED"
	TopicHotkey          = "HOTKEY"

	// RecordStep marks an orchestrator step in the observation journal.
	RecordStep = "STEP"
)

// Observation is one typed reading produced by the capture loops.
type Observation interface {
	Topic() string
	ObservedAt() time.Time
	isObservation()
}

type LevelRead struct {
	At         time.Time `json:"at"`
	Level      int       `json:"level"`
	Confidence float64   `json:"confidence"`
	// Burst holds back-to-back re-reads taken when the value differed from
	// the committed level.
	Burst []int `json:"burst,omitempty"`
}

type RunesRead struct {
	At         time.Time `json:"at"`
	Runes      int       `json:"runes"`
	Confidence float64   `json:"confidence"`
	Burst      []int     `json:"burst,omitempty"`
}

type WordBox struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
}

type BannerRead struct {
	At             time.Time `json:"at"`
	Text           string    `json:"text"`
	WidthPx        int       `json:"width_px"`
	CenterOffsetPx int       `json:"center_offset_px"`
	HasGeometry    bool      `json:"has_geometry"`
	Words          []WordBox `json:"words,omitempty"`
	MeanBrightness float64   `json:"mean_brightness"`
	Confidence     float64   `json:"confidence"`
}

type MenuPresent struct {
	At        time.Time `json:"at"`
	Confirmed bool      `json:"confirmed"`
}

type RuneIconVisible struct {
	At      time.Time `json:"at"`
	Present bool      `json:"present"`
}

// BlackScreen marks a transition. When Active is false, At is the end time
// and Duration the length of the black period.
type BlackScreen struct {
	At       time.Time     `json:"at"`
	Active   bool          `json:"active"`
	Duration time.Duration `json:"duration"`
}

type VictoryRead struct {
	At         time.Time `json:"at"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
}

func (o LevelRead) Topic() string       { return TopicLevelRead }
func (o RunesRead) Topic() string       { return TopicRunesRead }
func (o BannerRead) Topic() string      { return TopicBannerRead }
func (o MenuPresent) Topic() string     { return TopicMenuPresent }
func (o RuneIconVisible) Topic() string { return TopicRuneIconVisible }
func (o BlackScreen) Topic() string     { return TopicBlackScreen }
func (o VictoryRead) Topic() string     { return TopicVictoryRead }

func (o LevelRead) ObservedAt() time.Time       { return o.At }
func (o RunesRead) ObservedAt() time.Time       { return o.At }
func (o BannerRead) ObservedAt() time.Time      { return o.At }
func (o MenuPresent) ObservedAt() time.Time     { return o.At }
func (o RuneIconVisible) ObservedAt() time.Time { return o.At }
func (o BlackScreen) ObservedAt() time.Time     { return o.At }
func (o VictoryRead) ObservedAt() time.Time     { return o.At }

// Hotkey is a user command delivered through the same queue as readings.
type Hotkey struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
}

func (o Hotkey) Topic() string         { return TopicHotkey }
func (o Hotkey) ObservedAt() time.Time { return o.At }
func (Hotkey) isObservation()          {}

func (LevelRead) isObservation()       {}
func (RunesRead) isObservation()       {}
func (BannerRead) isObservation()      {}
func (MenuPresent) isObservation()     {}
func (RuneIconVisible) isObservation() {}
func (BlackScreen) isObservation()     {}
func (VictoryRead) isObservation()     {}

// PhaseChange is published by the orchestrator after every phase move.
type PhaseChange struct {
	At     time.Time `json:"at"`
	From   int       `json:"from"`
	To     int       `json:"to"`
	Name   string    `json:"name"`
	Reason string    `json:"reason"`
}

func (PhaseChange) Topic() string { return TopicPhaseChange }

type Announcement struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

func (Announcement) Topic() string { return TopicAnnouncement }

type TunerRequested struct {
	At time.Time `json:"at"`
}

func (TunerRequested) Topic() string { return TopicTunerRequested }

// ObservationRecord is the journal line for one consumed observation.
type ObservationRecord struct {
	Type string          `json:"type"`
	Obs  json.RawMessage `json:"obs"`
}

func EncodeObservation(o Observation) (ObservationRecord, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return ObservationRecord{}, err
	}
	return ObservationRecord{Type: o.Topic(), Obs: b}, nil
}

func DecodeObservation(r ObservationRecord) (Observation, error) {
	var (
		o   Observation
		err error
	)
	switch r.Type {
	case TopicLevelRead:
		var v LevelRead
		err = json.Unmarshal(r.Obs, &v)
		o = v
	case TopicRunesRead:
		var v RunesRead
		err = json.Unmarshal(r.Obs, &v)
		o = v
	case TopicBannerRead:
		var v BannerRead
		err = json.Unmarshal(r.Obs, &v)
		o = v
	case TopicMenuPresent:
		var v MenuPresent
		err = json.Unmarshal(r.Obs, &v)
		o = v
	case TopicRuneIconVisible:
		var v RuneIconVisible
		err = json.Unmarshal(r.Obs, &v)
		o = v
	case TopicBlackScreen:
		var v BlackScreen
		err = json.Unmarshal(r.Obs, &v)
		o = v
	case TopicVictoryRead:
		var v VictoryRead
		err = json.Unmarshal(r.Obs, &v)
		o = v
	case TopicHotkey:
		var v Hotkey
		err = json.Unmarshal(r.Obs, &v)
		o = v
	default:
		return nil, fmt.Errorf("unknown observation type %q", r.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.Type, err)
	}
	return o, nil
}

type StepRecord struct {
	At time.Time `json:"at"`
}

func EncodeStep(at time.Time) ObservationRecord {
	b, _ := json.Marshal(StepRecord{At: at})
	return ObservationRecord{Type: RecordStep, Obs: b}
}

func DecodeStep(r ObservationRecord) (time.Time, error) {
	if r.Type != RecordStep {
		return time.Time{}, fmt.Errorf("not a step record: %q", r.Type)
	}
	var v StepRecord
	if err := json.Unmarshal(r.Obs, &v); err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", r.Type, err)
	}
	return v.At, nil
}
