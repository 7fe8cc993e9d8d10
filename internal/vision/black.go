package vision

import (
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
)

const DefaultBlackThreshold = 3

// BlackDetector turns per-frame mean brightness into black-screen
// start and end transitions.
type BlackDetector struct {
	Threshold float64

	active bool
	start  time.Time
}

// Observe returns a transition when the frame flips the black state.
func (d *BlackDetector) Observe(at time.Time, mean float64) (protocol.BlackScreen, bool) {
	th := d.Threshold
	if th <= 0 {
		th = DefaultBlackThreshold
	}
	black := mean < th
	switch {
	case black && !d.active:
		d.active = true
		d.start = at
		return protocol.BlackScreen{At: at, Active: true}, true
	case !black && d.active:
		d.active = false
		return protocol.BlackScreen{At: at, Active: false, Duration: at.Sub(d.start)}, true
	}
	return protocol.BlackScreen{}, false
}

func (d *BlackDetector) Active() bool { return d.active }
