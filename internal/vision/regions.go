package vision

import (
	"sync"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
)

type Regions struct {
	Banner    config.Rect
	Level     config.Rect
	Runes     config.Rect
	RunesIcon config.Rect
	Menu      config.Rect
	Victory   config.Rect
}

func RegionsFrom(s config.Settings) Regions {
	return Regions{
		Banner:    s.MonitorRegion,
		Level:     s.LevelRegion,
		Runes:     s.RunesRegion,
		RunesIcon: s.RunesIconRegion,
		Menu:      s.MenuRegion,
		Victory:   s.VictoryRegion,
	}
}

// regionSet is read by a loop every iteration and replaced by config
// observers.
type regionSet struct {
	mu sync.RWMutex
	r  Regions
}

func (s *regionSet) get() Regions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.r
}

func (s *regionSet) set(r Regions) {
	s.mu.Lock()
	s.r = r
	s.mu.Unlock()
}
