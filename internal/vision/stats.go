package vision

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
)

const (
	statsInterval   = 200 * time.Millisecond
	burstSize       = 5
	menuSpacing     = 20 * time.Millisecond
	menuAgree       = 4
	iconMatchScore  = 0.7
	menuMatchScore  = 0.7
	maxRuneReadable = 99_999_999
)

type StatsConfig struct {
	Capturer     Capturer
	Engines      EngineFactory
	Matcher      TemplateMatcher
	IconTemplate image.Image // nil disables icon detection
	MenuTemplate image.Image // nil disables menu detection
	LevelProfile Profile
	RunesProfile Profile
	Regions      Regions
	Baseline     Baseline
	Publisher    Publisher
	Clock        Clock
	Logger       *slog.Logger
	Interval     time.Duration
	DebugDir     string
}

// StatsLoop reads level and runes from the HUD, and the rune icon and menu
// templates that gate them.
type StatsLoop struct {
	cfg     StatsConfig
	log     *slog.Logger
	level   *reader
	runes   *reader
	regions regionSet
	paused  atomic.Bool

	warnIcon sync.Once
	warnMenu sync.Once
}

func NewStatsLoop(cfg StatsConfig) (*StatsLoop, error) {
	if cfg.Capturer == nil || cfg.Publisher == nil || cfg.Baseline == nil {
		return nil, errors.New("vision: stats loop needs capturer, publisher and baseline")
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = statsInterval
	}
	defaults := DefaultProfiles()
	if cfg.LevelProfile.Name == "" {
		cfg.LevelProfile = defaults["level"]
	}
	if cfg.RunesProfile.Name == "" {
		cfg.RunesProfile = defaults["runes"]
	}
	l := &StatsLoop{cfg: cfg, log: cfg.Logger}
	var err error
	if l.level, err = newReader(cfg.Capturer, cfg.Engines, cfg.LevelProfile, cfg.Logger); err != nil {
		return nil, err
	}
	if l.runes, err = newReader(cfg.Capturer, cfg.Engines, cfg.RunesProfile, cfg.Logger); err != nil {
		l.level.Close()
		return nil, err
	}
	l.level.debugDir = cfg.DebugDir
	l.runes.debugDir = cfg.DebugDir
	l.regions.set(cfg.Regions)
	return l, nil
}

func (l *StatsLoop) SetPaused(p bool)     { l.paused.Store(p) }
func (l *StatsLoop) SetRegions(r Regions) { l.regions.set(r) }

func (l *StatsLoop) Close() error {
	return errors.Join(l.level.Close(), l.runes.Close())
}

func (l *StatsLoop) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if l.paused.Load() {
			l.cfg.Clock.Sleep(ctx, pausedPoll)
			continue
		}
		start := l.cfg.Clock.Now()
		l.Step(ctx)
		l.cfg.Clock.Sleep(ctx, l.cfg.Interval-l.cfg.Clock.Now().Sub(start))
	}
	return nil
}

// Step runs one iteration.
func (l *StatsLoop) Step(ctx context.Context) {
	regions := l.regions.get()
	icon := l.iconPresent(ctx, regions.RunesIcon)
	if icon {
		l.cfg.Publisher.Publish(protocol.MenuPresent{At: l.cfg.Clock.Now(), Confirmed: false})
	} else {
		l.checkMenu(ctx, regions.Menu)
	}
	if icon || l.cfg.Baseline.WaitingForDay1() {
		l.readLevel(ctx, regions.Level)
	}
	if icon {
		l.readRunes(ctx, regions.Runes)
	}
}

// iconPresent publishes the rune icon state. With no template the icon is
// assumed visible.
func (l *StatsLoop) iconPresent(ctx context.Context, r config.Rect) bool {
	if l.cfg.IconTemplate == nil || l.cfg.Matcher == nil {
		l.warnIcon.Do(func() { l.log.Warn("rune icon template missing, icon detection disabled") })
		return true
	}
	f, err := grab(ctx, l.cfg.Capturer, r)
	if err != nil {
		l.log.Debug("icon capture", "err", err)
		return false
	}
	present := l.cfg.Matcher.Match(f.img, l.cfg.IconTemplate) >= iconMatchScore
	l.cfg.Publisher.Publish(protocol.RuneIconVisible{At: l.cfg.Clock.Now(), Present: present})
	return present
}

// checkMenu confirms a single positive match with a short burst.
func (l *StatsLoop) checkMenu(ctx context.Context, r config.Rect) {
	if l.cfg.MenuTemplate == nil || l.cfg.Matcher == nil {
		l.warnMenu.Do(func() { l.log.Warn("menu template missing, menu detection disabled") })
		return
	}
	if !l.menuMatch(ctx, r) {
		l.cfg.Publisher.Publish(protocol.MenuPresent{At: l.cfg.Clock.Now(), Confirmed: false})
		return
	}
	hits := 0
	for i := 0; i < burstSize && ctx.Err() == nil; i++ {
		l.cfg.Clock.Sleep(ctx, menuSpacing)
		if l.menuMatch(ctx, r) {
			hits++
		}
	}
	l.cfg.Publisher.Publish(protocol.MenuPresent{At: l.cfg.Clock.Now(), Confirmed: hits >= menuAgree})
}

func (l *StatsLoop) menuMatch(ctx context.Context, r config.Rect) bool {
	f, err := grab(ctx, l.cfg.Capturer, r)
	if err != nil {
		return false
	}
	return l.cfg.Matcher.Match(f.img, l.cfg.MenuTemplate) >= menuMatchScore
}

// readNumber captures and OCRs a numeric region once.
func (l *StatsLoop) readNumber(ctx context.Context, rd *reader, r config.Rect) (int, float64, bool) {
	f, err := grab(ctx, l.cfg.Capturer, r)
	if err != nil {
		l.log.Debug("capture", "region", rd.name, "err", err)
		return 0, 0, false
	}
	if f.blank() {
		return 0, 0, false
	}
	res, _, err := rd.recognize(ctx, f)
	if err != nil {
		l.log.Warn("ocr", "region", rd.name, "err", err)
		return 0, 0, false
	}
	v, ok := ParseDigits(res.Text)
	if !ok {
		return 0, 0, false
	}
	return v, res.Confidence, true
}

// burst re-reads a region back to back. Failed reads count as -1 so they
// never agree with a value.
func (l *StatsLoop) burst(ctx context.Context, rd *reader, r config.Rect) []int {
	out := make([]int, burstSize)
	for i := range out {
		v, _, ok := l.readNumber(ctx, rd, r)
		if !ok {
			v = -1
		}
		out[i] = v
	}
	return out
}

func (l *StatsLoop) readLevel(ctx context.Context, r config.Rect) {
	v, conf, ok := l.readNumber(ctx, l.level, r)
	if !ok {
		return
	}
	lr := protocol.LevelRead{At: l.cfg.Clock.Now(), Level: v, Confidence: conf}
	if v != l.cfg.Baseline.Level() {
		lr.Burst = l.burst(ctx, l.level, r)
	}
	l.cfg.Publisher.Publish(lr)
}

func (l *StatsLoop) readRunes(ctx context.Context, r config.Rect) {
	v, conf, ok := l.readNumber(ctx, l.runes, r)
	if !ok || v > maxRuneReadable {
		return
	}
	rr := protocol.RunesRead{At: l.cfg.Clock.Now(), Runes: v, Confidence: conf}
	if v != l.cfg.Baseline.Runes() {
		rr.Burst = l.burst(ctx, l.runes, r)
	}
	l.cfg.Publisher.Publish(rr)
}
