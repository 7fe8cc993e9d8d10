package config

import (
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/economy"
)

// Rect is a screen rectangle in global pixel coordinates.
type Rect struct {
	Top    int `yaml:"top" json:"top"`
	Left   int `yaml:"left" json:"left"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

type Point struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

// OCRParam is the user-tuned preprocessing of one region family.
type OCRParam struct {
	Scale   float64 `yaml:"scale"`
	Gamma   float64 `yaml:"gamma"`
	Thresh  int     `yaml:"thresh"`
	Dilate  int     `yaml:"dilate"`
	PSM     int     `yaml:"psm"`
	Mode    string  `yaml:"mode"`
	Padding int     `yaml:"padding"`
}

// OCR parameter families.
const (
	OCRRunes = "Runes"
	OCRLevel = "Level"
	OCRDay   = "Day"
)

// Settings is the persisted document. Every yaml key is addressable through
// Store.Get and Store.Set.
type Settings struct {
	MonitorRegion   Rect `yaml:"monitor_region"`
	LevelRegion     Rect `yaml:"level_region"`
	RunesRegion     Rect `yaml:"runes_region"`
	RunesIconRegion Rect `yaml:"runes_icon_region"`
	MenuRegion      Rect `yaml:"menu_region"`
	VictoryRegion   Rect `yaml:"victory_region"`

	DebugMode       bool `yaml:"debug_mode"`
	SaveRawSamples  bool `yaml:"save_raw_samples"`
	SaveDebugImages bool `yaml:"save_debug_images"`
	AutoHibernate   bool `yaml:"auto_hibernate"`

	AudioEnabled  bool   `yaml:"audio_enabled"`
	AudioVolume   int    `yaml:"audio_volume"`
	AudioRate     int    `yaml:"audio_rate"`
	AudioDeviceID string `yaml:"audio_device_id"`
	AudioVoiceID  string `yaml:"audio_voice_id"`

	OCRParams  map[string]OCRParam `yaml:"ocr_params"`
	Nightreign economy.CurveParams `yaml:"nightreign"`

	SessionCount int    `yaml:"session_count"`
	LogLevel     string `yaml:"log_level"`

	DebugOverlayPositions      map[string]Point `yaml:"debug_overlay_positions"`
	TransactionHistoryPosition Point            `yaml:"transaction_history_position"`
}

func Defaults() Settings {
	return Settings{
		AudioEnabled: true,
		AudioVolume:  80,
		AudioRate:    180,
		OCRParams: map[string]OCRParam{
			OCRRunes: {Scale: 3, Gamma: 1.0, Thresh: 0, Dilate: 0, PSM: 7, Mode: "otsu", Padding: 10},
			OCRLevel: {Scale: 4, Gamma: 0.8, Thresh: 0, Dilate: 1, PSM: 8, Mode: "otsu", Padding: 10},
			OCRDay:   {Scale: 1, Gamma: 1.2, Thresh: 200, Dilate: 0, PSM: 7, Mode: "fixed", Padding: 20},
		},
		Nightreign: economy.DefaultCurve(),
		LogLevel:   "info",
	}
}

// normalize clamps values a hand-edited file may get wrong.
func (s *Settings) normalize() {
	s.AudioVolume = min(max(s.AudioVolume, 0), 100)
	if s.AudioRate <= 0 {
		s.AudioRate = Defaults().AudioRate
	}
	if s.OCRParams == nil {
		s.OCRParams = Defaults().OCRParams
	}
	s.Nightreign = s.Nightreign.Normalize()
	s.SessionCount = max(s.SessionCount, 0)
}
