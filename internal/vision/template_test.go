package vision

import (
	"image"
	"testing"
)

func checker(w, h, cell int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				g.Pix[y*g.Stride+x] = 230
			} else {
				g.Pix[y*g.Stride+x] = 20
			}
		}
	}
	return g
}

func TestNCCMatcherFindsEmbeddedTemplate(t *testing.T) {
	tpl := checker(8, 8, 2)
	img := uniform(40, 20, 90)
	for y := 0; y < 8; y++ {
		copy(img.Pix[(6+y)*img.Stride+17:], tpl.Pix[y*tpl.Stride:y*tpl.Stride+8])
	}
	if got := (NCCMatcher{}).Match(img, tpl); got < 0.99 {
		t.Fatalf("score = %v, want ~1", got)
	}
	if got := (NCCMatcher{}).Match(uniform(40, 20, 90), tpl); got > 0.1 {
		t.Fatalf("flat image score = %v", got)
	}
}

func TestNCCMatcherNilImages(t *testing.T) {
	if got := (NCCMatcher{}).Match(nil, checker(4, 4, 1)); got != 0 {
		t.Fatalf("score = %v", got)
	}
}
