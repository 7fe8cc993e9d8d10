package vision

import (
	"strings"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
)

type ThresholdMode string

const (
	ThresholdNone         ThresholdMode = "none"
	ThresholdFixed        ThresholdMode = "fixed"
	ThresholdOtsu         ThresholdMode = "otsu"
	ThresholdAdaptive     ThresholdMode = "adaptive"
	ThresholdInvertedOtsu ThresholdMode = "inverted_otsu"
)

// Profile is the preprocessing and OCR setup of one region.
type Profile struct {
	Name      string
	Scale     float64
	Gamma     float64
	Mode      ThresholdMode
	Threshold uint8 // fixed mode only
	Dilation  int   // 3x3 passes
	Padding   int
	PSM       int
	AllowList string
}

const (
	digitsAllowList = "0123456789"
	bannerAllowList = "JOURDAYIVXLH1| "
)

func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"level":   {Name: "level", Scale: 4, Gamma: 0.8, Mode: ThresholdOtsu, Dilation: 1, Padding: 10, PSM: 8, AllowList: digitsAllowList},
		"runes":   {Name: "runes", Scale: 3, Gamma: 1, Mode: ThresholdOtsu, Padding: 10, PSM: 7, AllowList: digitsAllowList},
		"banner":  {Name: "banner", Scale: 1, Gamma: 1.2, Mode: ThresholdFixed, Threshold: 200, Padding: 20, PSM: 7, AllowList: bannerAllowList},
		"victory": {Name: "victory", Scale: 1, Gamma: 1, Mode: ThresholdOtsu, Padding: 20, PSM: 7},
	}
}

// ProfileFrom overlays user-tuned parameters on a base profile. Zero values
// keep the base.
func ProfileFrom(base Profile, p config.OCRParam) Profile {
	if p.Scale > 0 {
		base.Scale = p.Scale
	}
	if p.Gamma > 0 {
		base.Gamma = p.Gamma
	}
	if p.Thresh > 0 {
		base.Threshold = uint8(min(p.Thresh, 255))
	}
	if p.Dilate > 0 {
		base.Dilation = p.Dilate
	}
	if p.PSM > 0 {
		base.PSM = p.PSM
	}
	if p.Padding > 0 {
		base.Padding = p.Padding
	}
	switch m := ThresholdMode(strings.ToLower(p.Mode)); m {
	case ThresholdNone, ThresholdFixed, ThresholdOtsu, ThresholdAdaptive, ThresholdInvertedOtsu:
		base.Mode = m
	}
	return base
}

// Variants returns the profile plus alternates tried in parallel on the
// same frame.
func (p Profile) Variants() []Profile {
	out := []Profile{p}
	switch p.Mode {
	case ThresholdOtsu:
		alt := p
		alt.Mode = ThresholdAdaptive
		out = append(out, alt)
	case ThresholdFixed:
		alt := p
		alt.Mode = ThresholdOtsu
		out = append(out, alt)
	}
	return out
}
