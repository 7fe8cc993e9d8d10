package protocol

import "encoding/json"

const Version = "1.0"

// Message types on the overlay feed.
const (
	TypeSnapshot = "SNAPSHOT"
	TypeHotkey   = "HOTKEY"
	TypePhase    = "PHASE"
	TypeSpeech   = "SPEECH"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// SNAPSHOT (core -> overlay)
type SnapshotMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Snapshot        Snapshot `json:"snapshot"`
}

// HOTKEY (overlay/hotkey binder -> core)
type HotkeyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Action          string `json:"action"`
}

// Hotkey actions.
const (
	ActionFullReset    = "full_reset"
	ActionForceDay1    = "force_day_1"
	ActionForceDay2    = "force_day_2"
	ActionForceDay3    = "force_day_3"
	ActionSkipToBoss   = "skip_to_next_boss"
	ActionOpenTuner    = "open_tuner"
	ActionQuit         = "quit"
	ActionHibernate    = "hibernate"
	ActionResume       = "resume"
	ActionLearnBanner  = "learn_banner"
	ActionPunishBanner = "punish_banner"
)

var knownActions = map[string]struct{}{
	ActionFullReset:    {},
	ActionForceDay1:    {},
	ActionForceDay2:    {},
	ActionForceDay3:    {},
	ActionSkipToBoss:   {},
	ActionOpenTuner:    {},
	ActionQuit:         {},
	ActionHibernate:    {},
	ActionResume:       {},
	ActionLearnBanner:  {},
	ActionPunishBanner: {},
}

func IsKnownAction(a string) bool {
	_, ok := knownActions[a]
	return ok
}

// PHASE (core -> overlay)
type PhaseMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Phase           PhaseChange `json:"phase"`
}

// SPEECH (core -> overlay), mirrors what the announcer says.
type SpeechMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Text            string `json:"text"`
}
