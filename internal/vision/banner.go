package vision

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/patterns"
)

const (
	bannerColdInterval = 200 * time.Millisecond
	bannerHotInterval  = time.Second / 15
	hotWindow          = 10 * time.Second
	victoryPoll        = 500 * time.Millisecond
	pausedPoll         = 250 * time.Millisecond
)

type BannerConfig struct {
	Capturer       Capturer
	Engines        EngineFactory
	Profile        Profile
	VictoryProfile Profile
	Regions        Regions
	Baseline       Baseline
	Publisher      Publisher
	Clock          Clock
	Logger         *slog.Logger
	DebugDir       string
}

// BannerLoop watches the banner region for Day banners and black screens,
// and the victory region while the final boss is up.
type BannerLoop struct {
	cfg     BannerConfig
	log     *slog.Logger
	banner  *reader
	victory *reader
	regions regionSet

	black       BlackDetector
	hotUntil    time.Time
	lastVictory time.Time
	paused      atomic.Bool
}

func NewBannerLoop(cfg BannerConfig) (*BannerLoop, error) {
	if cfg.Capturer == nil || cfg.Publisher == nil || cfg.Baseline == nil {
		return nil, errors.New("vision: banner loop needs capturer, publisher and baseline")
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Profile.Name == "" {
		cfg.Profile = DefaultProfiles()["banner"]
	}
	if cfg.VictoryProfile.Name == "" {
		cfg.VictoryProfile = DefaultProfiles()["victory"]
	}
	l := &BannerLoop{cfg: cfg, log: cfg.Logger}
	var err error
	if l.banner, err = newReader(cfg.Capturer, cfg.Engines, cfg.Profile, cfg.Logger); err != nil {
		return nil, err
	}
	if l.victory, err = newReader(cfg.Capturer, cfg.Engines, cfg.VictoryProfile, cfg.Logger); err != nil {
		l.banner.Close()
		return nil, err
	}
	l.banner.debugDir = cfg.DebugDir
	l.regions.set(cfg.Regions)
	return l, nil
}

func (l *BannerLoop) SetPaused(p bool)     { l.paused.Store(p) }
func (l *BannerLoop) SetRegions(r Regions) { l.regions.set(r) }

// Hot reports whether the fast cadence is active at now.
func (l *BannerLoop) Hot(now time.Time) bool { return now.Before(l.hotUntil) }

func (l *BannerLoop) Close() error {
	return errors.Join(l.banner.Close(), l.victory.Close())
}

// Run loops until ctx is cancelled.
func (l *BannerLoop) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if l.paused.Load() {
			l.cfg.Clock.Sleep(ctx, pausedPoll)
			continue
		}
		start := l.cfg.Clock.Now()
		l.Step(ctx)
		l.cfg.Clock.Sleep(ctx, l.delay(start))
	}
	return nil
}

func (l *BannerLoop) delay(start time.Time) time.Duration {
	now := l.cfg.Clock.Now()
	took := now.Sub(start)
	interval := bannerColdInterval
	if l.Hot(now) {
		if took > bannerColdInterval {
			// OCR cannot keep up with the fast cadence.
			l.hotUntil = time.Time{}
		} else {
			interval = bannerHotInterval
		}
	}
	return interval - took
}

// Step runs one iteration.
func (l *BannerLoop) Step(ctx context.Context) {
	regions := l.regions.get()
	l.stepBanner(ctx, regions)
	l.stepVictory(ctx, regions)
}

func (l *BannerLoop) stepBanner(ctx context.Context, regions Regions) {
	f, err := grab(ctx, l.cfg.Capturer, regions.Banner)
	if err != nil {
		l.log.Debug("banner capture", "err", err)
		return
	}
	now := l.cfg.Clock.Now()
	if ev, ok := l.black.Observe(now, f.mean); ok {
		l.cfg.Publisher.Publish(ev)
	}
	if f.blackOnly() || f.blank() || !l.cfg.Baseline.DayOCREnabled() {
		return
	}
	res, prof, err := l.banner.recognize(ctx, f)
	if err != nil {
		l.log.Warn("banner ocr", "err", err)
		return
	}
	if res.Text == "" {
		return
	}
	if patterns.HasAnchor(res.Text) {
		l.hotUntil = now.Add(hotWindow)
	}
	br := protocol.BannerRead{
		At:             now,
		Text:           res.Text,
		MeanBrightness: f.mean,
		Confidence:     res.Confidence,
	}
	if len(res.Words) > 0 {
		br.Words = toRegion(res.Words, prof)
		br.WidthPx, br.CenterOffsetPx = bannerGeometry(br.Words, f.gray.Bounds().Dx())
		br.HasGeometry = true
	}
	l.cfg.Publisher.Publish(br)
}

func (l *BannerLoop) stepVictory(ctx context.Context, regions Regions) {
	if !l.cfg.Baseline.VictoryPollEnabled() || regions.Victory.Empty() {
		return
	}
	now := l.cfg.Clock.Now()
	if !l.lastVictory.IsZero() && now.Sub(l.lastVictory) < victoryPoll {
		return
	}
	l.lastVictory = now
	f, err := grab(ctx, l.cfg.Capturer, regions.Victory)
	if err != nil {
		l.log.Debug("victory capture", "err", err)
		return
	}
	if f.blank() {
		return
	}
	res, _, err := l.victory.recognize(ctx, f)
	if err != nil {
		l.log.Warn("victory ocr", "err", err)
		return
	}
	if res.Text == "" {
		return
	}
	l.cfg.Publisher.Publish(protocol.VictoryRead{At: now, Text: res.Text, Confidence: res.Confidence})
}

// toRegion maps word boxes from preprocessed image coordinates back to
// region pixels.
func toRegion(words []protocol.WordBox, p Profile) []protocol.WordBox {
	scale := p.Scale
	if scale <= 0 {
		scale = 1
	}
	conv := func(v int) int { return int(float64(v-p.Padding)/scale + 0.5) }
	out := make([]protocol.WordBox, len(words))
	for i, w := range words {
		out[i] = w
		out[i].X = conv(w.X)
		out[i].Y = conv(w.Y)
		out[i].W = int(float64(w.W)/scale + 0.5)
		out[i].H = int(float64(w.H)/scale + 0.5)
	}
	return out
}

// bannerGeometry returns the text width and its horizontal offset from the
// region center.
func bannerGeometry(words []protocol.WordBox, regionWidth int) (width, offset int) {
	x0, x1 := words[0].X, words[0].X+words[0].W
	for _, w := range words[1:] {
		x0 = min(x0, w.X)
		x1 = max(x1, w.X+w.W)
	}
	return x1 - x0, (x0+x1)/2 - regionWidth/2
}
