// Package vision turns periodic screen captures into typed observations.
// Capture, OCR and template matching are external collaborators behind the
// Capturer, Engine and TemplateMatcher interfaces.
package vision

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/bus"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
)

var (
	ErrCaptureFailed = errors.New("vision: capture failed")
	ErrEngineInit    = errors.New("vision: ocr engine init failed")
)

// Capturer grabs a rectangle of the screen in global pixel coordinates.
type Capturer interface {
	Capture(ctx context.Context, r config.Rect) (image.Image, error)
}

type OCRResult struct {
	Text       string
	Confidence float64 // mean word confidence, 0..100
	Words      []protocol.WordBox
}

// Engine recognizes text in a preprocessed image. An Engine is owned by a
// single loop and is never shared across goroutines.
type Engine interface {
	Recognize(ctx context.Context, img *image.Gray) (OCRResult, error)
	Close() error
}

// EngineFactory builds an engine configured for a profile's page
// segmentation mode and allow-list.
type EngineFactory func(p Profile) (Engine, error)

// TemplateMatcher returns a similarity in [0,1] between an image and a
// template.
type TemplateMatcher interface {
	Match(img, tpl image.Image) float64
}

// Publisher is satisfied by *bus.Bus.
type Publisher interface {
	Publish(e bus.Event)
}

// Clock is swapped in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func RealClock() Clock { return realClock{} }

// Baseline is the committed state the loops consult. *session.Baseline
// satisfies it.
type Baseline interface {
	Level() int
	Runes() int
	DayOCREnabled() bool
	WaitingForDay1() bool
	VictoryPollEnabled() bool
}
