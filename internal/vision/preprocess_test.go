package vision

import (
	"image"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
)

func TestPreprocessScalesAndPads(t *testing.T) {
	src := uniform(10, 4, 120)
	out := Preprocess(src, Profile{Scale: 2, Gamma: 1, Padding: 3})
	if got, want := out.Bounds(), image.Rect(0, 0, 26, 14); got != want {
		t.Fatalf("bounds = %v, want %v", got, want)
	}
	if v := out.GrayAt(0, 0).Y; v != 255 {
		t.Fatalf("padding = %d, want 255", v)
	}
	if v := out.GrayAt(10, 7).Y; v != 120 {
		t.Fatalf("body = %d, want 120", v)
	}
	if src.Pix[0] != 120 {
		t.Fatalf("source mutated")
	}
}

func TestPreprocessOtsuMakesBrightTextBlack(t *testing.T) {
	src := uniform(20, 2, 20)
	for x := 10; x < 20; x++ {
		src.Pix[x] = 220
		src.Pix[src.Stride+x] = 220
	}
	out := Preprocess(src, Profile{Scale: 1, Mode: ThresholdOtsu})
	if v := out.GrayAt(15, 0).Y; v != 0 {
		t.Fatalf("bright glyph = %d, want 0", v)
	}
	if v := out.GrayAt(2, 0).Y; v != 255 {
		t.Fatalf("background = %d, want 255", v)
	}

	inv := Preprocess(src, Profile{Scale: 1, Mode: ThresholdInvertedOtsu})
	if v := inv.GrayAt(15, 0).Y; v != 255 {
		t.Fatalf("inverted glyph = %d, want 255", v)
	}
}

func TestPreprocessDilationGrowsDarkPixels(t *testing.T) {
	src := uniform(5, 5, 255)
	src.Pix[2*src.Stride+2] = 0
	out := Preprocess(src, Profile{Scale: 1, Dilation: 1})
	dark := 0
	for _, v := range out.Pix {
		if v == 0 {
			dark++
		}
	}
	if dark != 9 {
		t.Fatalf("dark pixels = %d, want 9", dark)
	}
}

func TestGammaLUTIsCached(t *testing.T) {
	a, b := gammaLUT(0.8), gammaLUT(0.8)
	if a != b {
		t.Fatalf("lut not cached")
	}
	if a[0] != 0 || a[255] != 255 {
		t.Fatalf("lut ends = %d,%d", a[0], a[255])
	}
}

func TestBrightness(t *testing.T) {
	g := uniform(4, 1, 10)
	g.Pix[3] = 90
	mean, mx := Brightness(g)
	if mean != 30 || mx != 90 {
		t.Fatalf("brightness = %v,%d", mean, mx)
	}
}

func TestProfileFromOverridesNonZero(t *testing.T) {
	base := DefaultProfiles()["runes"]
	got := ProfileFrom(base, config.OCRParam{Scale: 5, Mode: "Adaptive", Thresh: 300})
	want := base
	want.Scale = 5
	want.Mode = ThresholdAdaptive
	want.Threshold = 255
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("profile mismatch (-want +got):\n%s", diff)
	}
	if got := ProfileFrom(base, config.OCRParam{Mode: "sepia"}).Mode; got != base.Mode {
		t.Fatalf("unknown mode applied: %q", got)
	}
}

func TestParseDigits(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"12", 12, true},
		{" l2 ", 12, true},
		{"1O5", 105, true},
		{"12,345", 12345, true},
		{"", 0, false},
		{"---", 0, false},
		{"1234567890", 0, false},
	}
	for _, tc := range tests {
		got, ok := ParseDigits(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseDigits(%q) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestBlackDetectorTransitions(t *testing.T) {
	clk := newFakeClock()
	var d BlackDetector
	if _, ok := d.Observe(clk.Now(), 40); ok {
		t.Fatalf("bright frame produced a transition")
	}
	clk.advance(time.Second)
	start := clk.Now()
	ev, ok := d.Observe(start, 1)
	if !ok || !ev.Active {
		t.Fatalf("start = %+v,%v", ev, ok)
	}
	clk.advance(time.Second)
	if _, ok := d.Observe(clk.Now(), 2); ok {
		t.Fatalf("still black produced a transition")
	}
	clk.advance(500 * time.Millisecond)
	ev, ok = d.Observe(clk.Now(), 3)
	if !ok || ev.Active || ev.Duration != 1500*time.Millisecond {
		t.Fatalf("end = %+v,%v", ev, ok)
	}
}
