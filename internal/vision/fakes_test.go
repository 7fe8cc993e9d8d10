package vision

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/bus"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
)

var (
	bannerRect  = config.Rect{Top: 0, Left: 0, Width: 600, Height: 80}
	levelRect   = config.Rect{Top: 900, Left: 100, Width: 40, Height: 30}
	runesRect   = config.Rect{Top: 900, Left: 200, Width: 120, Height: 30}
	iconRect    = config.Rect{Top: 900, Left: 330, Width: 30, Height: 30}
	menuRect    = config.Rect{Top: 400, Left: 400, Width: 200, Height: 60}
	victoryRect = config.Rect{Top: 300, Left: 300, Width: 400, Height: 60}

	testRegions = Regions{
		Banner:    bannerRect,
		Level:     levelRect,
		Runes:     runesRect,
		RunesIcon: iconRect,
		Menu:      menuRect,
		Victory:   victoryRect,
	}
)

func uniform(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

type fakeCapturer struct {
	mu     sync.Mutex
	frames map[config.Rect]image.Image
	err    error
	calls  int
}

func (c *fakeCapturer) Capture(_ context.Context, r config.Rect) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	img, ok := c.frames[r]
	if !ok {
		return uniform(r.Width, r.Height, 200), nil
	}
	return img, nil
}

func (c *fakeCapturer) set(r config.Rect, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames == nil {
		c.frames = map[config.Rect]image.Image{}
	}
	c.frames[r] = img
}

// fakeOCR answers per profile; the engine ignores pixels.
type fakeOCR struct {
	calls  atomic.Int32
	answer func(p Profile) (OCRResult, error)
}

type fakeEngine struct {
	p   Profile
	ocr *fakeOCR
}

func (e *fakeEngine) Recognize(context.Context, *image.Gray) (OCRResult, error) {
	e.ocr.calls.Add(1)
	return e.ocr.answer(e.p)
}

func (e *fakeEngine) Close() error { return nil }

func (o *fakeOCR) factory() EngineFactory {
	return func(p Profile) (Engine, error) { return &fakeEngine{p: p, ocr: o}, nil }
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type recorder struct {
	events []bus.Event
}

func (r *recorder) Publish(e bus.Event) { r.events = append(r.events, e) }

func eventsOf[T bus.Event](r *recorder) []T {
	var out []T
	for _, e := range r.events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type fakeBaseline struct {
	level, runes int
	dayOCR       bool
	waiting      bool
	victory      bool
}

func (b *fakeBaseline) Level() int               { return b.level }
func (b *fakeBaseline) Runes() int               { return b.runes }
func (b *fakeBaseline) DayOCREnabled() bool      { return b.dayOCR }
func (b *fakeBaseline) WaitingForDay1() bool     { return b.waiting }
func (b *fakeBaseline) VictoryPollEnabled() bool { return b.victory }

// scriptMatcher scores by template; each template pops from its own script
// and repeats the last value.
type scriptMatcher struct {
	scripts map[image.Image][]float64
}

func (m *scriptMatcher) Match(_, tpl image.Image) float64 {
	s := m.scripts[tpl]
	if len(s) == 0 {
		return 0
	}
	v := s[0]
	if len(s) > 1 {
		m.scripts[tpl] = s[1:]
	}
	return v
}

var (
	iconTpl = image.NewUniform(color.Gray{Y: 1})
	menuTpl = image.NewUniform(color.Gray{Y: 2})
)

var errBoom = errors.New("boom")
