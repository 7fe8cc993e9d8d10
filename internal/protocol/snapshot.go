package protocol

import "time"

// Graph annotation kinds.
const (
	GraphDeath    = "DEATH"
	GraphRecovery = "RECOVERY"
	GraphSpending = "SPENDING"
	GraphShrink   = "SHRINK"
)

type GraphEvent struct {
	T       int    `json:"t"`
	Kind    string `json:"kind"`
	Details string `json:"details,omitempty"`
}

type DayMarker struct {
	T     int    `json:"t"`
	Label string `json:"label"`
}

// Confidence dot colors.
const (
	DotGreen = "green"
	DotAmber = "amber"
	DotRed   = "red"
)

// Snapshot is everything the HUD needs for one frame.
type Snapshot struct {
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id,omitempty"`
	Status    string    `json:"status"`

	Phase     int    `json:"phase"`
	PhaseName string `json:"phase_name"`
	TimerText string `json:"timer_text"`

	Level          int    `json:"level"`
	PotentialLevel int    `json:"potential_level"`
	Runes          int    `json:"runes"`
	RunesText      string `json:"runes_text"`
	MissingToNext  int    `json:"missing_to_next"`
	MissingText    string `json:"missing_text"`
	TimeToLevel    string `json:"time_to_level"`

	TotalWealth      int `json:"total_wealth"`
	LifetimeWealth   int `json:"lifetime_wealth"`
	SpentAtMerchants int `json:"spent_at_merchants"`
	PermanentLoss    int `json:"permanent_loss"`
	LostRunesPending int `json:"lost_runes_pending"`

	DeathCount    int `json:"death_count"`
	RecoveryCount int `json:"recovery_count"`

	Grade       string  `json:"grade"`
	DeltaToPlan int     `json:"delta_to_plan"`
	DeltaPct    float64 `json:"delta_pct"`
	SmoothedRPS float64 `json:"smoothed_rps"`

	AccumulatedHistory []int        `json:"accumulated_history"`
	RawHistory         []int        `json:"raw_history"`
	GraphEvents        []GraphEvent `json:"graph_events"`
	DayMarkers         []DayMarker  `json:"day_markers"`

	RunesUncertain bool   `json:"runes_uncertain"`
	ConfidenceDot  string `json:"confidence_dot"`
	InMenu         bool   `json:"in_menu"`
	StatsFrozen    bool   `json:"stats_frozen"`

	Victory   bool    `json:"victory"`
	TotalTime float64 `json:"total_time_s,omitempty"`
	Boss3Time float64 `json:"boss3_time_s,omitempty"`
}

func (Snapshot) Topic() string { return TopicSnapshot }
