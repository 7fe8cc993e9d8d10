package vision

import (
	"image"
	"math"
)

// NCCMatcher scores a template by the best zero-mean normalized
// cross-correlation over every offset, on grayscale. A template larger than
// the image is scaled down to fit first.
type NCCMatcher struct {
	// Step is the offset stride in pixels. Default 1.
	Step int
}

func (m NCCMatcher) Match(img, tpl image.Image) float64 {
	if img == nil || tpl == nil {
		return 0
	}
	g, t := Gray(img), Gray(tpl)
	gb, tb := g.Bounds(), t.Bounds()
	if tb.Dx() > gb.Dx() || tb.Dy() > gb.Dy() {
		f := math.Min(float64(gb.Dx())/float64(tb.Dx()), float64(gb.Dy())/float64(tb.Dy()))
		t = scale(t, f)
		tb = t.Bounds()
	}
	tw, th := tb.Dx(), tb.Dy()
	if tw == 0 || th == 0 {
		return 0
	}
	n := float64(tw * th)
	var tsum, tsq float64
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			v := float64(t.Pix[y*t.Stride+x])
			tsum += v
			tsq += v * v
		}
	}
	tmean := tsum / n
	tvar := tsq - tsum*tmean
	step := max(1, m.Step)

	best := 0.0
	for oy := 0; oy+th <= gb.Dy(); oy += step {
		for ox := 0; ox+tw <= gb.Dx(); ox += step {
			var isum, isq, cross float64
			for y := 0; y < th; y++ {
				row := g.Pix[(oy+y)*g.Stride+ox:]
				trow := t.Pix[y*t.Stride:]
				for x := 0; x < tw; x++ {
					iv, tv := float64(row[x]), float64(trow[x])
					isum += iv
					isq += iv * iv
					cross += iv * tv
				}
			}
			ivar := isq - isum*isum/n
			if ivar <= 0 || tvar <= 0 {
				// Flat patches only match a flat template of the same level.
				if ivar <= 0 && tvar <= 0 && math.Abs(isum/n-tmean) < 1 {
					best = max(best, 1)
				}
				continue
			}
			score := (cross - isum*tmean) / math.Sqrt(ivar*tvar)
			best = max(best, score)
		}
	}
	return math.Min(best, 1)
}
