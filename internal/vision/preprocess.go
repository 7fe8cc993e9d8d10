package vision

import (
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/draw"
)

// Gray converts any image to an 8-bit grayscale copy with origin (0,0).
func Gray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Brightness returns the mean and max luma of g.
func Brightness(g *image.Gray) (mean float64, maxv uint8) {
	b := g.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0, 0
	}
	var sum int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, v := range row {
			sum += int(v)
			if v > maxv {
				maxv = v
			}
		}
	}
	return float64(sum) / float64(n), maxv
}

var gammaLUTs sync.Map // float64 -> *[256]uint8

func gammaLUT(gamma float64) *[256]uint8 {
	if v, ok := gammaLUTs.Load(gamma); ok {
		return v.(*[256]uint8)
	}
	var lut [256]uint8
	inv := 1 / gamma
	for i := range lut {
		lut[i] = uint8(math.Round(255 * math.Pow(float64(i)/255, inv)))
	}
	v, _ := gammaLUTs.LoadOrStore(gamma, &lut)
	return v.(*[256]uint8)
}

// Preprocess runs scale, grayscale, gamma, threshold, dilation and padding.
// The result has dark text on a white background.
func Preprocess(img image.Image, p Profile) *image.Gray {
	g := Gray(img)
	if p.Scale > 0 && p.Scale != 1 {
		g = scale(g, p.Scale)
	} else {
		g = clone(g)
	}
	if p.Gamma > 0 && p.Gamma != 1 {
		lut := gammaLUT(p.Gamma)
		for i, v := range g.Pix {
			g.Pix[i] = lut[v]
		}
	}
	switch p.Mode {
	case ThresholdFixed:
		binarize(g, p.Threshold, true)
	case ThresholdOtsu:
		binarize(g, otsu(g), true)
	case ThresholdInvertedOtsu:
		binarize(g, otsu(g), false)
	case ThresholdAdaptive:
		g = adaptive(g, 15, 10)
	}
	for i := 0; i < p.Dilation; i++ {
		g = dilateDark(g)
	}
	if p.Padding > 0 {
		g = pad(g, p.Padding)
	}
	return g
}

func clone(g *image.Gray) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], g.Pix[y*g.Stride:y*g.Stride+b.Dx()])
	}
	return out
}

func scale(g *image.Gray, f float64) *image.Gray {
	b := g.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*f)))
	h := max(1, int(math.Round(float64(b.Dy())*f)))
	out := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), g, b, draw.Src, nil)
	return out
}

// binarize maps pixels to black/white. With brightText the game's light
// glyphs become black.
func binarize(g *image.Gray, t uint8, brightText bool) {
	for i, v := range g.Pix {
		on := v > t
		if on == brightText {
			g.Pix[i] = 0
		} else {
			g.Pix[i] = 255
		}
	}
}

func otsu(g *image.Gray) uint8 {
	var hist [256]int
	for _, v := range g.Pix {
		hist[v]++
	}
	total := len(g.Pix)
	if total == 0 {
		return 127
	}
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}
	var (
		sumB, best float64
		wB         int
		t          uint8
	)
	for i, c := range hist {
		wB += c
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * c)
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			t = uint8(i)
		}
	}
	return t
}

// adaptive thresholds each pixel against the mean of its block, using an
// integral image.
func adaptive(g *image.Gray, block int, c int) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	integ := make([]int, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		row := 0
		for x := 0; x < w; x++ {
			row += int(g.Pix[y*g.Stride+x])
			integ[(y+1)*(w+1)+x+1] = integ[y*(w+1)+x+1] + row
		}
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	r := block / 2
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-r), min(h, y+r+1)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-r), min(w, x+r+1)
			s := integ[y1*(w+1)+x1] - integ[y0*(w+1)+x1] - integ[y1*(w+1)+x0] + integ[y0*(w+1)+x0]
			mean := s / ((x1 - x0) * (y1 - y0))
			if int(g.Pix[y*g.Stride+x]) > mean+c {
				out.Pix[y*out.Stride+x] = 0
			} else {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// dilateDark grows black pixels by one in a 3x3 neighbourhood.
func dilateDark(g *image.Gray) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255)
			for dy := -1; dy <= 1 && v != 0; dy++ {
				for dx := -1; dx <= 1; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || yy < 0 || xx >= w || yy >= h {
						continue
					}
					if p := g.Pix[yy*g.Stride+xx]; p < v {
						v = p
					}
				}
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

func pad(g *image.Gray, n int) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx()+2*n, b.Dy()+2*n))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.Gray{Y: 255}}, image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(n, n, n+b.Dx(), n+b.Dy()), g, b.Min, draw.Src)
	return out
}
