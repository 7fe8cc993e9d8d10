package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
)

const (
	skipMaxBrightness   = 70
	blackMeanBrightness = 15
)

type frame struct {
	img  image.Image
	gray *image.Gray
	mean float64
	max  uint8
}

// blank reports whether the frame holds nothing worth reading.
func (f frame) blank() bool { return f.max < skipMaxBrightness }

// blackOnly reports a frame that only feeds the black-screen detector.
func (f frame) blackOnly() bool { return f.mean <= blackMeanBrightness }

// reader owns one engine per preprocessing variant of a region profile.
type reader struct {
	name     string
	cap      Capturer
	variants []Profile
	engines  []Engine
	log      *slog.Logger
	debugDir string
	seq      atomic.Int64
}

func newReader(c Capturer, factory EngineFactory, p Profile, log *slog.Logger) (*reader, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: %s: no engine factory", ErrEngineInit, p.Name)
	}
	r := &reader{name: p.Name, cap: c, variants: p.Variants(), log: log}
	for _, v := range r.variants {
		e, err := factory(v)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrEngineInit, p.Name, err)
		}
		r.engines = append(r.engines, e)
	}
	return r, nil
}

func (r *reader) Close() error {
	var errs []error
	for _, e := range r.engines {
		errs = append(errs, e.Close())
	}
	r.engines = nil
	return errors.Join(errs...)
}

func grab(ctx context.Context, c Capturer, rect config.Rect) (frame, error) {
	if rect.Empty() {
		return frame{}, fmt.Errorf("%w: empty region", ErrCaptureFailed)
	}
	img, err := c.Capture(ctx, rect)
	if err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if img == nil || img.Bounds().Empty() {
		return frame{}, fmt.Errorf("%w: empty frame", ErrCaptureFailed)
	}
	g := Gray(img)
	mean, mx := Brightness(g)
	return frame{img: img, gray: g, mean: mean, max: mx}, nil
}

// recognize runs every variant on the frame in parallel and keeps the most
// confident non-empty result.
func (r *reader) recognize(ctx context.Context, f frame) (OCRResult, Profile, error) {
	results := make([]OCRResult, len(r.variants))
	errs := make([]error, len(r.variants))
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.variants {
		g.Go(func() error {
			pre := Preprocess(f.img, r.variants[i])
			res, err := r.engines[i].Recognize(gctx, pre)
			if err != nil {
				errs[i] = err
				return nil
			}
			res.Text = strings.TrimSpace(res.Text)
			results[i] = res
			r.saveDebug(pre, i)
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	for i, res := range results {
		if res.Text == "" {
			continue
		}
		if best < 0 || res.Confidence > results[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		if err := errors.Join(errs...); err != nil {
			return OCRResult{}, Profile{}, fmt.Errorf("ocr %s: %w", r.name, err)
		}
		return OCRResult{}, Profile{}, nil
	}
	return results[best], r.variants[best], nil
}

func (r *reader) saveDebug(img *image.Gray, variant int) {
	if r.debugDir == "" {
		return
	}
	n := r.seq.Add(1)
	path := filepath.Join(r.debugDir, fmt.Sprintf("%s_%06d_v%d.png", r.name, n, variant))
	if err := os.MkdirAll(r.debugDir, 0o755); err != nil {
		return
	}
	fh, err := os.Create(path)
	if err != nil {
		r.log.Debug("debug image", "err", err)
		return
	}
	defer fh.Close()
	_ = png.Encode(fh, img)
}

// ParseDigits reads an integer from OCR text, folding common glyph
// confusions. Anything else that is not a digit is dropped.
func ParseDigits(text string) (int, bool) {
	n, digits := 0, 0
	for _, c := range text {
		switch c {
		case 'O', 'o', 'D', 'Q':
			c = '0'
		case 'I', 'l', '|', 'i':
			c = '1'
		case 'S', 's':
			c = '5'
		case 'B':
			c = '8'
		case 'Z', 'z':
			c = '2'
		}
		if c < '0' || c > '9' {
			continue
		}
		if digits >= 9 {
			return 0, false
		}
		n = n*10 + int(c-'0')
		digits++
	}
	return n, digits > 0
}
